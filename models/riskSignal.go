package models

import "time"

// AccountIPAddress logs every IP an account has been seen from (logins,
// API calls). Source data for risk-signal propagation.
type AccountIPAddress struct {
	ID        int       `gorm:"primary_key" json:"id"`
	AccountId int       `gorm:"index;not null" json:"account_id"`
	IPAddress string    `gorm:"size:45;not null;index" json:"ip_address"`
	SeenAt    time.Time `gorm:"autoCreateTime" json:"seen_at"`
}

// BillingCard stores the gateway card references attached to an account.
// Only the fingerprint and display fields are kept; PANs never touch this
// system.
type BillingCard struct {
	ID          int       `gorm:"primary_key" json:"id"`
	AccountId   int       `gorm:"index;not null" json:"account_id"`
	GatewayId   string    `gorm:"size:64;not null" json:"gateway_id"`
	Fingerprint string    `gorm:"size:64;not null;index" json:"fingerprint"`
	Brand       string    `gorm:"size:20" json:"brand"`
	Last4       string    `gorm:"size:4" json:"last4"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// RiskyIPAddress is the append-only registry of IPs flagged for future
// fraud screening. Unique per IP so re-logging is harmless.
type RiskyIPAddress struct {
	ID              int       `gorm:"primary_key" json:"id"`
	IPAddress       string    `gorm:"size:45;not null;uniqueIndex" json:"ip_address"`
	SourceAccountId int       `gorm:"index" json:"source_account_id"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// RiskyCard is the append-only registry of card fingerprints flagged for
// future fraud screening. Unique per fingerprint so re-logging is harmless.
type RiskyCard struct {
	ID              int       `gorm:"primary_key" json:"id"`
	Fingerprint     string    `gorm:"size:64;not null;uniqueIndex" json:"fingerprint"`
	Brand           string    `gorm:"size:20" json:"brand"`
	Last4           string    `gorm:"size:4" json:"last4"`
	SourceAccountId int       `gorm:"index" json:"source_account_id"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
}
