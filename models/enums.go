package models

// Server validation reasons. Zero means the server is clear; a nonzero
// value records why the server was placed under validation. A server with
// a nonzero reason is never re-flagged by automated workflows.
const (
	ValidationReasonNone        = 0
	ValidationReasonSignupCheck = 1
	ValidationReasonAbuseReport = 2
	ValidationReasonBillingHold = 3
	ValidationReasonChargeback  = 4
)

type ActivityAction string

const (
	ActivityActionChargeback ActivityAction = "chargeback"
	ActivityActionShutdown   ActivityAction = "shutdown"
	ActivityActionValidation ActivityAction = "validation"
)

type UserRole string

const (
	UserRoleAdmin    UserRole = "A"
	UserRoleCustomer UserRole = "C"
)

const (
	SyncRunStatusQueued  = "queued"
	SyncRunStatusRunning = "running"
	SyncRunStatusSuccess = "success"
	SyncRunStatusPartial = "partial"
	SyncRunStatusFailed  = "failed"
	SyncRunStatusSkipped = "skipped"
)

const (
	SyncTriggeredManual = "manual"
	SyncTriggeredSystem = "system"
)
