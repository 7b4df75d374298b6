package disputes

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strconv"
	"time"

	"bitbucket.org/nimbusgrid/hosting_backend/config"
	"bitbucket.org/nimbusgrid/hosting_backend/models"
	"bitbucket.org/nimbusgrid/hosting_backend/utils"
	"github.com/gin-gonic/gin"
)

// TriggerSyncHandler creates a queued run and dispatches it. Dispatch is
// asynchronous via Pub/Sub; set DISPUTE_SYNC_INLINE=true to run in-process
// instead (local development, environments without Pub/Sub).
func TriggerSyncHandler(c *gin.Context) {
	triggerSync(c, models.SyncTriggeredManual)
}

// ScheduledSyncHandler is the Cloud Scheduler entry point for the daily run.
func ScheduledSyncHandler(c *gin.Context) {
	triggerSync(c, models.SyncTriggeredSystem)
}

func triggerSync(c *gin.Context, triggeredBy string) {
	logger := config.GetLogger()
	ctx := c.Request.Context()

	run := models.DisputeSyncRun{
		Status:      models.SyncRunStatusQueued,
		TriggeredBy: triggeredBy,
	}
	if err := models.CreateDisputeSyncRun(ctx, &run); err != nil {
		config.LogError(logger, moduleName, "triggerSync", triggeredBy, nil, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create sync run"})
		return
	}

	if os.Getenv("DISPUTE_SYNC_INLINE") == "true" {
		runCtx := context.WithoutCancel(ctx)
		go func() {
			if err := ProcessRun(runCtx, run.ID); err != nil {
				config.LogError(logger, moduleName, "triggerSync", "inline run", run.ID, err)
			}
		}()
	} else {
		if err := PublishRun(ctx, run.ID); err != nil {
			config.LogError(logger, moduleName, "triggerSync", "publish", run.ID, err)
			_ = models.UpdateDisputeSyncRun(ctx, run.ID, map[string]interface{}{
				"status":      models.SyncRunStatusFailed,
				"finished_at": time.Now(),
			})
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not dispatch sync run"})
			return
		}
	}

	c.JSON(http.StatusAccepted, gin.H{"run_id": run.ID, "status": models.SyncRunStatusQueued})
}

func SyncHistoryHandler(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	runs, err := models.ListDisputeSyncRuns(c.Request.Context(), limit)
	if err != nil {
		config.LogError(config.GetLogger(), moduleName, "SyncHistoryHandler", "list runs", nil, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not list sync runs"})
		return
	}

	resp := make([]SyncRunResponse, 0, len(runs))
	for _, run := range runs {
		resp = append(resp, toRunResponse(&run))
	}
	c.JSON(http.StatusOK, resp)
}

func SyncRunDetailHandler(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run id"})
		return
	}

	ctx := c.Request.Context()
	run, err := models.GetDisputeSyncRun(ctx, uint(id))
	if err != nil {
		if errors.Is(err, utils.ErrorRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "sync run not found"})
			return
		}
		config.LogError(config.GetLogger(), moduleName, "SyncRunDetailHandler", c.Param("id"), nil, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load sync run"})
		return
	}

	syncErrors, err := models.ListDisputeSyncErrors(ctx, run.ID)
	if err != nil {
		config.LogError(config.GetLogger(), moduleName, "SyncRunDetailHandler", "list errors", run.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load run errors"})
		return
	}

	detail := SyncRunDetailResponse{SyncRunResponse: toRunResponse(run)}
	for _, syncErr := range syncErrors {
		detail.Errors = append(detail.Errors, SyncErrorResponse{
			ID:              syncErr.ID,
			DisputeId:       syncErr.DisputeId,
			ChargeReference: syncErr.ChargeReference,
			ErrorKind:       syncErr.ErrorKind,
			Message:         syncErr.Message,
		})
	}
	c.JSON(http.StatusOK, detail)
}

func toRunResponse(run *models.DisputeSyncRun) SyncRunResponse {
	return SyncRunResponse{
		ID:                run.ID,
		Status:            run.Status,
		TriggeredBy:       run.TriggeredBy,
		CutoffUnix:        run.CutoffUnix,
		DisputesSeen:      run.DisputesSeen,
		DisputesProcessed: run.DisputesProcessed,
		DisputesSkipped:   run.DisputesSkipped,
		ErrorCount:        run.ErrorCount,
		StartedAt:         formatTime(run.StartedAt),
		FinishedAt:        formatTime(run.FinishedAt),
		DurationMs:        run.DurationMs,
	}
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}
