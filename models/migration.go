package models

import (
	"bitbucket.org/nimbusgrid/hosting_backend/config"
	"bitbucket.org/nimbusgrid/hosting_backend/utils"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Account{}, &User{}, &Server{},
		&PaymentReceipt{}, &BillingCard{}, &AccountIPAddress{},
		&Activity{},
		&RiskyIPAddress{}, &RiskyCard{},
		&DisputeCase{}, &DisputeSyncRun{}, &DisputeSyncError{},
	)
	utils.ErrorPanic(err)
}
