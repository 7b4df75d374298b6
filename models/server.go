package models

import (
	"context"
	"time"

	"bitbucket.org/nimbusgrid/hosting_backend/config"
)

type Server struct {
	ID               int       `gorm:"primary_key" json:"id"`
	UserId           int       `gorm:"index;not null" json:"user_id"`
	Identifier       string    `gorm:"size:64;uniqueIndex" json:"identifier"`
	Name             string    `gorm:"size:255" json:"name"`
	State            string    `gorm:"size:32" json:"state"`
	ValidationReason int       `gorm:"not null;default:0" json:"validation_reason"`
	CreatedAt        time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func ServersForUser(ctx context.Context, userId int) ([]Server, error) {
	db := config.GetDB()
	var servers []Server
	err := db.WithContext(ctx).
		Where("user_id = ?", userId).
		Order("id").
		Find(&servers).Error
	return servers, err
}

// QuarantineServerForDispute durably marks a server as held for dispute
// review. The WHERE validation_reason = 0 clause keeps the write idempotent
// against this workflow re-running; it is NOT race-free against unrelated
// workflows mutating validation_reason concurrently (accepted: disputes and
// billing shutdowns are rare, uncorrelated events).
func QuarantineServerForDispute(ctx context.Context, serverId int) (bool, error) {
	db := config.GetDB()
	res := db.WithContext(ctx).Model(&Server{}).
		Where("id = ? AND validation_reason = ?", serverId, ValidationReasonNone).
		Update("validation_reason", ValidationReasonChargeback)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
