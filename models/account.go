package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/nimbusgrid/hosting_backend/config"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Account struct {
	ID                int       `gorm:"primary_key" json:"id"`
	GatewayCustomerId string    `gorm:"size:64;index" json:"gateway_customer_id"`
	CompanyName       string    `gorm:"size:255" json:"company_name"`
	Suspended         bool      `gorm:"default:false" json:"suspended"`
	CreatedAt         time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// GetAccountById returns nil, nil when the account does not exist.
// Callers in the reconciliation path treat absence as a normal outcome.
func GetAccountById(ctx context.Context, id int) (*Account, error) {
	db := config.GetDB()
	var account Account
	err := db.WithContext(ctx).Where("id = ?", id).Take(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &account, nil
}

// LogRiskyIPAddresses copies every IP address historically seen on the
// account into the risky IP registry. Safe to call repeatedly: the registry
// has a unique index per IP and duplicate inserts are dropped.
func (account *Account) LogRiskyIPAddresses(ctx context.Context) error {
	db := config.GetDB()

	var ips []string
	if err := db.WithContext(ctx).Model(&AccountIPAddress{}).
		Where("account_id = ?", account.ID).
		Distinct("ip_address").
		Pluck("ip_address", &ips).Error; err != nil {
		return err
	}
	if len(ips) == 0 {
		return nil
	}

	rows := make([]RiskyIPAddress, 0, len(ips))
	for _, ip := range ips {
		rows = append(rows, RiskyIPAddress{IPAddress: ip, SourceAccountId: account.ID})
	}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&rows).Error
}

// LogRiskyCards copies the fingerprints of every billing card on the
// account into the risky card registry. Idempotent like LogRiskyIPAddresses.
func (account *Account) LogRiskyCards(ctx context.Context) error {
	db := config.GetDB()

	var cards []BillingCard
	if err := db.WithContext(ctx).
		Where("account_id = ?", account.ID).
		Find(&cards).Error; err != nil {
		return err
	}
	if len(cards) == 0 {
		return nil
	}

	rows := make([]RiskyCard, 0, len(cards))
	for _, card := range cards {
		rows = append(rows, RiskyCard{
			Fingerprint:     card.Fingerprint,
			Brand:           card.Brand,
			Last4:           card.Last4,
			SourceAccountId: account.ID,
		})
	}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&rows).Error
}
