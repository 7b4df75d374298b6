package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/nimbusgrid/hosting_backend/config"
	mysqlDriver "github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

// DisputeCase is the internally owned ledger of disputes this system has
// fully processed, keyed by the gateway's dispute id. The gateway metadata
// marker alone is not trusted for skip logic: a round-trip write to a third
// party is not a safe source of truth for our own idempotency.
type DisputeCase struct {
	ID               int       `gorm:"primary_key" json:"id"`
	DisputeId        string    `gorm:"size:64;uniqueIndex;not null" json:"dispute_id"`
	ChargeReference  string    `gorm:"size:64;index;not null" json:"charge_reference"`
	PaymentReceiptId int       `gorm:"index;not null" json:"payment_receipt_id"`
	AccountId        int       `gorm:"index;not null" json:"account_id"`
	Amount           int64     `json:"amount"`
	Currency         string    `gorm:"size:3" json:"currency"`
	Reason           string    `gorm:"size:64" json:"reason"`
	Status           string    `gorm:"size:32" json:"status"`
	SyncRunId        uint      `gorm:"index" json:"sync_run_id"`
	CreatedAt        time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func isDuplicateKeyErr(err error) bool {
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}

// CreateDisputeCase records a processed dispute. A duplicate dispute id is
// not an error: a concurrent or earlier run already recorded it.
func CreateDisputeCase(ctx context.Context, disputeCase *DisputeCase) error {
	db := config.GetDB()
	err := db.WithContext(ctx).Create(disputeCase).Error
	if err != nil && isDuplicateKeyErr(err) {
		return nil
	}
	return err
}

func DisputeCaseExists(ctx context.Context, disputeId string) (bool, error) {
	db := config.GetDB()
	var disputeCase DisputeCase
	err := db.WithContext(ctx).Where("dispute_id = ?", disputeId).Take(&disputeCase).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
