package disputes

import (
	"context"

	"bitbucket.org/nimbusgrid/hosting_backend/models"
)

// Store is the internal-storage surface the Manager needs. The gorm-backed
// implementation below is the production one; tests substitute an
// in-memory fake.
type Store interface {
	DisputeProcessed(ctx context.Context, disputeId string) (bool, error)
	ReceiptByReference(ctx context.Context, charge string) (*models.PaymentReceipt, error)
	AccountById(ctx context.Context, id int) (*models.Account, error)
	PrimaryUser(ctx context.Context, accountId int) (*models.User, error)
	Servers(ctx context.Context, userId int) ([]models.Server, error)
	// QuarantineServer sets validation_reason=4 iff it is currently 0.
	// Returns false when the row was already flagged (or raced).
	QuarantineServer(ctx context.Context, serverId int) (bool, error)
	RecordActivity(ctx context.Context, input models.NewActivity) error
	LogRiskyIPAddresses(ctx context.Context, account *models.Account) error
	LogRiskyCards(ctx context.Context, account *models.Account) error
	RecordDisputeCase(ctx context.Context, disputeCase *models.DisputeCase) error
}

type gormStore struct{}

// NewGormStore returns the MySQL-backed Store used in production.
func NewGormStore() Store {
	return gormStore{}
}

func (gormStore) DisputeProcessed(ctx context.Context, disputeId string) (bool, error) {
	return models.DisputeCaseExists(ctx, disputeId)
}

func (gormStore) ReceiptByReference(ctx context.Context, charge string) (*models.PaymentReceipt, error) {
	return models.FindPaymentReceiptByReference(ctx, charge)
}

func (gormStore) AccountById(ctx context.Context, id int) (*models.Account, error) {
	return models.GetAccountById(ctx, id)
}

func (gormStore) PrimaryUser(ctx context.Context, accountId int) (*models.User, error) {
	return models.PrimaryUserForAccount(ctx, accountId)
}

func (gormStore) Servers(ctx context.Context, userId int) ([]models.Server, error) {
	return models.ServersForUser(ctx, userId)
}

func (gormStore) QuarantineServer(ctx context.Context, serverId int) (bool, error) {
	return models.QuarantineServerForDispute(ctx, serverId)
}

func (gormStore) RecordActivity(ctx context.Context, input models.NewActivity) error {
	_, err := models.CreateActivity(ctx, input)
	return err
}

func (gormStore) LogRiskyIPAddresses(ctx context.Context, account *models.Account) error {
	return account.LogRiskyIPAddresses(ctx)
}

func (gormStore) LogRiskyCards(ctx context.Context, account *models.Account) error {
	return account.LogRiskyCards(ctx)
}

func (gormStore) RecordDisputeCase(ctx context.Context, disputeCase *models.DisputeCase) error {
	return models.CreateDisputeCase(ctx, disputeCase)
}
