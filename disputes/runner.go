package disputes

import (
	"context"
	"errors"
	"os"
	"time"

	"bitbucket.org/nimbusgrid/hosting_backend/config"
	"bitbucket.org/nimbusgrid/hosting_backend/models"
	"github.com/bsm/redislock"
	"github.com/sirupsen/logrus"
)

const (
	runLockKey = "dispute-manager:run"
	runLockTTL = 10 * time.Minute
)

// ProcessRun executes one queued sync run end to end: it takes the
// distributed single-flight lock, builds the production collaborators, runs
// the reconciliation and persists the outcome on the run record. Safe to
// call twice for the same run id; a run that already left the queued state
// is left alone.
func ProcessRun(ctx context.Context, runId uint) error {
	logger := config.GetLogger()

	run, err := models.GetDisputeSyncRun(ctx, runId)
	if err != nil {
		config.LogError(logger, moduleName, "ProcessRun", "load run", runId, err)
		return err
	}
	if run.Status != models.SyncRunStatusQueued {
		logger.WithFields(logrus.Fields{
			"run_id": runId,
			"status": run.Status,
		}).Info("sync run not queued, ignoring")
		return nil
	}

	locker := config.GetRedisLock()
	if locker != nil {
		lock, err := locker.Obtain(ctx, runLockKey, runLockTTL, nil)
		if errors.Is(err, redislock.ErrNotObtained) {
			logger.WithField("run_id", runId).Warn("another sync run holds the lock, skipping")
			return models.UpdateDisputeSyncRun(ctx, runId, map[string]interface{}{
				"status":      models.SyncRunStatusSkipped,
				"finished_at": time.Now(),
			})
		}
		if err != nil {
			config.LogError(logger, moduleName, "ProcessRun", "obtain lock", runId, err)
			return err
		}
		defer lock.Release(context.Background())

		// Runs can outlive the lock TTL on large dispute backlogs; keep
		// extending it until the run finishes.
		refreshCtx, stopRefresh := context.WithCancel(ctx)
		defer stopRefresh()
		go keepLockAlive(refreshCtx, lock, runLockTTL, runLockTTL/2, logger, runId)
	}

	startedAt := time.Now()
	err = models.UpdateDisputeSyncRun(ctx, runId, map[string]interface{}{
		"status":     models.SyncRunStatusRunning,
		"started_at": startedAt,
	})
	if err != nil {
		config.LogError(logger, moduleName, "ProcessRun", "mark running", runId, err)
		return err
	}

	manager, err := buildManager(logger)
	if err != nil {
		config.LogError(logger, moduleName, "ProcessRun", "build manager", runId, err)
		return finishRun(ctx, runId, models.SyncRunStatusFailed, ReconcileStats{}, 1, startedAt)
	}

	stats, reconcileErrors, fatal := manager.Reconcile(ctx, runId)

	if fatal != nil {
		var fatalErr *ReconcileError
		if !errors.As(fatal, &fatalErr) {
			fatalErr = &ReconcileError{Kind: ErrorKindGateway, Err: fatal}
		}
		reconcileErrors = append(reconcileErrors, fatalErr)
	}
	for _, reconcileErr := range reconcileErrors {
		syncErr := models.DisputeSyncError{
			SyncRunId:       runId,
			DisputeId:       reconcileErr.DisputeId,
			ChargeReference: reconcileErr.Charge,
			ErrorKind:       string(reconcileErr.Kind),
			Message:         reconcileErr.Error(),
		}
		if err := models.CreateDisputeSyncError(ctx, &syncErr); err != nil {
			config.LogError(logger, moduleName, "ProcessRun", "record error row", runId, err)
		}
	}

	status := models.SyncRunStatusSuccess
	switch {
	case fatal != nil:
		status = models.SyncRunStatusFailed
	case len(reconcileErrors) > 0:
		status = models.SyncRunStatusPartial
	}

	return finishRun(ctx, runId, status, stats, len(reconcileErrors), startedAt)
}

func finishRun(ctx context.Context, runId uint, status string, stats ReconcileStats, errorCount int, startedAt time.Time) error {
	finishedAt := time.Now()
	return models.UpdateDisputeSyncRun(ctx, runId, map[string]interface{}{
		"status":             status,
		"cutoff_unix":        stats.CutoffUnix,
		"disputes_seen":      stats.Seen,
		"disputes_processed": stats.Processed,
		"disputes_skipped":   stats.Skipped,
		"error_count":        errorCount,
		"finished_at":        finishedAt,
		"duration_ms":        finishedAt.Sub(startedAt).Milliseconds(),
	})
}

type refreshableLock interface {
	Refresh(ctx context.Context, ttl time.Duration, opt *redislock.Options) error
}

// keepLockAlive extends the run lock every interval until ctx is done.
// Refresh failures are logged and retried on the next tick; the run itself
// is never interrupted.
func keepLockAlive(ctx context.Context, lock refreshableLock, ttl, interval time.Duration, logger *logrus.Logger, runId uint) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := lock.Refresh(ctx, ttl, nil); err != nil {
				config.LogError(logger, moduleName, "keepLockAlive", "refresh lock", runId, err)
			}
		}
	}
}

func buildManager(logger *logrus.Logger) (*Manager, error) {
	gateway, err := NewStripeClient(os.Getenv("STRIPE_SECRET_KEY"))
	if err != nil {
		return nil, err
	}
	control, err := NewAgentControl()
	if err != nil {
		return nil, err
	}
	notifier, err := NewWebhookNotifier()
	if err != nil {
		return nil, err
	}
	return NewManager(gateway, NewGormStore(), control, notifier, logger), nil
}
