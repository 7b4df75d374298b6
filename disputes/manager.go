package disputes

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"bitbucket.org/nimbusgrid/hosting_backend/config"
	"bitbucket.org/nimbusgrid/hosting_backend/models"
	"github.com/sirupsen/logrus"
)

const moduleName = "disputes"

// Manager reconciles payment-gateway disputes against internal records and
// enforces the chargeback policy on the offending account's servers. All
// collaborators are injected; the Manager holds no ambient credentials.
type Manager struct {
	gateway  Gateway
	store    Store
	servers  ServerControl
	notifier Notifier
	logger   *logrus.Logger
	location *time.Location

	// Now is swapped in tests to pin the cutoff window.
	Now func() time.Time
}

func NewManager(gateway Gateway, store Store, servers ServerControl, notifier Notifier, logger *logrus.Logger) *Manager {
	loc := time.UTC
	if tz := os.Getenv("DISPUTE_CUTOFF_TZ"); tz != "" {
		if parsed, err := time.LoadLocation(tz); err == nil {
			loc = parsed
		} else {
			config.LogError(logger, moduleName, "NewManager", tz, nil, err)
		}
	}
	return &Manager{
		gateway:  gateway,
		store:    store,
		servers:  servers,
		notifier: notifier,
		logger:   logger,
		location: loc,
		Now:      time.Now,
	}
}

// CutoffSince returns the start of the previous calendar day in loc, as an
// epoch second. Disputes created strictly after this moment are in scope, so
// consecutive daily runs overlap by up to a day and rely on the skip guards
// rather than exact windowing.
func CutoffSince(now time.Time, loc *time.Location) int64 {
	d := now.In(loc).AddDate(0, 0, -1)
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, loc).Unix()
}

// Reconcile runs one reconciliation pass. Per-dispute failures are collected
// and never abort the batch; a non-nil error is returned only when the
// initial dispute listing itself fails.
func (m *Manager) Reconcile(ctx context.Context, runId uint) (ReconcileStats, []*ReconcileError, error) {
	stats := ReconcileStats{CutoffUnix: CutoffSince(m.Now(), m.location)}
	var reconcileErrors []*ReconcileError

	disputeList, err := m.gateway.ListDisputes(ctx, stats.CutoffUnix)
	if err != nil {
		config.LogError(m.logger, moduleName, "Reconcile", strconv.FormatInt(stats.CutoffUnix, 10), nil, err)
		return stats, reconcileErrors, &ReconcileError{Kind: ErrorKindGateway, Err: err}
	}
	stats.Seen = len(disputeList)

	m.logger.WithFields(logrus.Fields{
		"cutoff":   stats.CutoffUnix,
		"disputes": stats.Seen,
		"run_id":   runId,
	}).Info("dispute reconciliation started")

	for _, dispute := range disputeList {
		processed, disputeErrors := m.processDispute(ctx, dispute, runId)
		reconcileErrors = append(reconcileErrors, disputeErrors...)
		if processed {
			stats.Processed++
		} else if len(disputeErrors) == 0 {
			stats.Skipped++
		}
	}

	m.logger.WithFields(logrus.Fields{
		"seen":      stats.Seen,
		"processed": stats.Processed,
		"skipped":   stats.Skipped,
		"errors":    len(reconcileErrors),
		"run_id":    runId,
	}).Info("dispute reconciliation finished")

	return stats, reconcileErrors, nil
}

// processDispute handles a single dispute end to end. It returns true only
// when the full pipeline completed and the reconciliation marker was written
// back to the gateway.
func (m *Manager) processDispute(ctx context.Context, dispute DisputeRecord, runId uint) (bool, []*ReconcileError) {
	log := m.logger.WithFields(logrus.Fields{
		"dispute": dispute.ID,
		"charge":  dispute.Charge,
	})

	if dispute.Metadata[MetadataKeyReceiptId] != "" {
		log.Debug("dispute already reconciled, skipping")
		return false, nil
	}

	alreadyProcessed, err := m.store.DisputeProcessed(ctx, dispute.ID)
	if err != nil {
		return false, m.collect(dispute, ErrorKindEnforcement, fmt.Errorf("dispute ledger lookup: %w", err))
	}
	if alreadyProcessed {
		log.Info("dispute in local ledger but gateway metadata missing, skipping enforcement")
		return false, nil
	}

	receipt, err := m.store.ReceiptByReference(ctx, dispute.Charge)
	if err != nil {
		return false, m.collect(dispute, ErrorKindEnforcement, fmt.Errorf("receipt lookup: %w", err))
	}
	if receipt == nil {
		log.Info("no payment receipt for disputed charge, skipping")
		return false, nil
	}

	account, err := m.store.AccountById(ctx, receipt.AccountId)
	if err != nil {
		return false, m.collect(dispute, ErrorKindEnforcement, fmt.Errorf("account lookup: %w", err))
	}
	if account == nil {
		log.WithField("account", receipt.AccountId).Warn("receipt references missing account, skipping")
		return false, nil
	}

	user, err := m.store.PrimaryUser(ctx, account.ID)
	if err != nil {
		return false, m.collect(dispute, ErrorKindEnforcement, fmt.Errorf("primary user lookup: %w", err))
	}
	if user == nil {
		return false, m.collect(dispute, ErrorKindEnforcement, fmt.Errorf("account %d has no users", account.ID))
	}

	enforcementErrors := m.enforce(ctx, dispute, receipt, user)
	if len(enforcementErrors) > 0 {
		return false, enforcementErrors
	}

	m.logRiskSignals(ctx, account, dispute)

	if writebackErrors := m.writeback(ctx, dispute, receipt, account, runId); len(writebackErrors) > 0 {
		return false, writebackErrors
	}

	log.WithFields(logrus.Fields{
		"account": account.ID,
		"receipt": receipt.ID,
	}).Info("dispute reconciled")
	return true, nil
}

// enforce applies the chargeback policy: audit the dispute against the user,
// quarantine every clear server, and notify. Any returned error leaves the
// gateway metadata unwritten so the dispute is retried on the next run; the
// per-server validation_reason guard makes that retry safe.
func (m *Manager) enforce(ctx context.Context, dispute DisputeRecord, receipt *models.PaymentReceipt, user *models.User) []*ReconcileError {
	var enforcementErrors []*ReconcileError

	err := m.store.RecordActivity(ctx, models.NewActivity{
		UserId: user.ID,
		Action: models.ActivityActionChargeback,
		Params: map[string]interface{}{
			"dispute":            dispute.ID,
			"charge":             dispute.Charge,
			"amount":             dispute.Amount,
			"currency":           dispute.Currency,
			"reason":             dispute.Reason,
			"status":             dispute.Status,
			"payment_receipt_id": receipt.ID,
		},
	})
	if err != nil {
		return m.collect(dispute, ErrorKindEnforcement, fmt.Errorf("chargeback activity: %w", err))
	}

	servers, err := m.store.Servers(ctx, user.ID)
	if err != nil {
		return m.collect(dispute, ErrorKindEnforcement, fmt.Errorf("server lookup: %w", err))
	}

	var quarantined []models.Server
	for _, server := range servers {
		if server.ValidationReason != models.ValidationReasonNone {
			continue
		}
		if serverErrors := m.quarantine(ctx, dispute, user, server); len(serverErrors) > 0 {
			enforcementErrors = append(enforcementErrors, serverErrors...)
			continue
		}
		quarantined = append(quarantined, server)
	}

	if len(quarantined) > 0 {
		if err := m.notifier.NotifyServerValidation(ctx, user, quarantined); err != nil {
			enforcementErrors = append(enforcementErrors,
				m.collect(dispute, ErrorKindEnforcement, fmt.Errorf("user notification: %w", err))...)
		}
		if err := m.notifier.NotifySupportValidation(ctx, user, quarantined); err != nil {
			// Support-channel delivery is best effort and never blocks
			// reconciliation.
			config.LogError(m.logger, moduleName, "enforce", dispute.ID, user.ID, err)
		}
	}

	return enforcementErrors
}

// quarantine shuts one server down and flags it for validation review.
// Ordering matters: the shutdown lands before the flag so that a crash
// between the two leaves the server off and the dispute retried, never the
// other way around.
func (m *Manager) quarantine(ctx context.Context, dispute DisputeRecord, user *models.User, server models.Server) []*ReconcileError {
	if err := m.servers.Shutdown(ctx, user.ID, server.ID); err != nil {
		return m.collect(dispute, ErrorKindEnforcement,
			fmt.Errorf("shutdown server %d: %w", server.ID, err))
	}

	serverId := server.ID
	err := m.store.RecordActivity(ctx, models.NewActivity{
		UserId:   user.ID,
		ServerId: &serverId,
		Action:   models.ActivityActionShutdown,
		Params:   map[string]interface{}{"dispute": dispute.ID, "server": server.Identifier},
	})
	if err != nil {
		return m.collect(dispute, ErrorKindEnforcement,
			fmt.Errorf("shutdown activity for server %d: %w", server.ID, err))
	}

	flagged, err := m.store.QuarantineServer(ctx, server.ID)
	if err != nil {
		// Known gap: the server is already off but its validation_reason is
		// still zero, so the next run will shut it down again. Harmless for
		// a stopped server; the retry closes the gap.
		return m.collect(dispute, ErrorKindEnforcement,
			fmt.Errorf("flag server %d: %w", server.ID, err))
	}
	if !flagged {
		m.logger.WithFields(logrus.Fields{
			"dispute": dispute.ID,
			"server":  server.ID,
		}).Warn("server flagged by concurrent workflow, skipping validation activity")
		return nil
	}

	err = m.store.RecordActivity(ctx, models.NewActivity{
		UserId:   user.ID,
		ServerId: &serverId,
		Action:   models.ActivityActionValidation,
		Params: map[string]interface{}{
			"dispute": dispute.ID,
			"reason":  models.ValidationReasonChargeback,
		},
	})
	if err != nil {
		return m.collect(dispute, ErrorKindEnforcement,
			fmt.Errorf("validation activity for server %d: %w", server.ID, err))
	}
	return nil
}

// logRiskSignals copies the account's known IPs and card fingerprints into
// the risk tables. Failures are logged and swallowed: risk intelligence
// never blocks reconciliation.
func (m *Manager) logRiskSignals(ctx context.Context, account *models.Account, dispute DisputeRecord) {
	if err := m.store.LogRiskyIPAddresses(ctx, account); err != nil {
		config.LogError(m.logger, moduleName, "logRiskSignals", dispute.ID, account.ID, err)
	}
	if err := m.store.LogRiskyCards(ctx, account); err != nil {
		config.LogError(m.logger, moduleName, "logRiskSignals", dispute.ID, account.ID, err)
	}
}

// writeback is the last step: patch the reconciliation marker onto the
// gateway dispute and record it in the local ledger. Running last means any
// earlier failure leaves the dispute unmarked and retried.
func (m *Manager) writeback(ctx context.Context, dispute DisputeRecord, receipt *models.PaymentReceipt, account *models.Account, runId uint) []*ReconcileError {
	fresh, err := m.gateway.GetDispute(ctx, dispute.ID)
	if err != nil {
		return m.collect(dispute, ErrorKindWriteback, fmt.Errorf("refresh dispute: %w", err))
	}
	if fresh.Metadata[MetadataKeyReceiptId] != "" {
		m.logger.WithField("dispute", dispute.ID).Warn("dispute reconciled concurrently, skipping writeback")
		return nil
	}

	_, err = m.gateway.UpdateDisputeMetadata(ctx, dispute.ID, map[string]string{
		MetadataKeyReceiptId:  strconv.Itoa(receipt.ID),
		MetadataKeyReceiptRef: receipt.ReceiptNumber,
		MetadataKeyAccount:    strconv.Itoa(account.ID),
	})
	if err != nil {
		return m.collect(dispute, ErrorKindWriteback, fmt.Errorf("update metadata: %w", err))
	}

	err = m.store.RecordDisputeCase(ctx, &models.DisputeCase{
		DisputeId:        dispute.ID,
		ChargeReference:  dispute.Charge,
		PaymentReceiptId: receipt.ID,
		AccountId:        account.ID,
		Amount:           dispute.Amount,
		Currency:         dispute.Currency,
		Reason:           dispute.Reason,
		Status:           dispute.Status,
		SyncRunId:        runId,
	})
	if err != nil {
		return m.collect(dispute, ErrorKindWriteback, fmt.Errorf("record dispute case: %w", err))
	}
	return nil
}

func (m *Manager) collect(dispute DisputeRecord, kind ErrorKind, err error) []*ReconcileError {
	reconcileErr := &ReconcileError{
		Kind:      kind,
		DisputeId: dispute.ID,
		Charge:    dispute.Charge,
		Err:       err,
	}
	config.LogError(m.logger, moduleName, "processDispute", dispute.ID, dispute.Charge, err)
	return []*ReconcileError{reconcileErr}
}
