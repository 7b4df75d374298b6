package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/nimbusgrid/hosting_backend/config"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// PaymentReceipt is the durable record of a completed charge. Immutable
// once created; disputes are correlated back to accounts through it.
type PaymentReceipt struct {
	ID            int             `gorm:"primary_key" json:"id"`
	AccountId     int             `gorm:"index;not null" json:"account_id"`
	Reference     string          `gorm:"size:64;uniqueIndex;not null" json:"reference"`
	ReceiptNumber string          `gorm:"size:32;uniqueIndex;not null" json:"receipt_number"`
	Amount        decimal.Decimal `gorm:"type:decimal(20,6);not null" json:"amount"`
	Currency      string          `gorm:"size:3;not null" json:"currency"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

// FindPaymentReceiptByReference looks a receipt up by its gateway charge
// reference. Returns nil, nil when no receipt matches: disputes on charges
// outside this system are expected and not an error.
func FindPaymentReceiptByReference(ctx context.Context, reference string) (*PaymentReceipt, error) {
	db := config.GetDB()
	var receipt PaymentReceipt
	err := db.WithContext(ctx).Where("reference = ?", reference).Take(&receipt).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &receipt, nil
}
