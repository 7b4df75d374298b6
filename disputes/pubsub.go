package disputes

import (
	"context"
	"net/http"
	"os"

	"bitbucket.org/nimbusgrid/hosting_backend/config"
	"bitbucket.org/nimbusgrid/hosting_backend/utils"
	"cloud.google.com/go/pubsub"
	"github.com/gin-gonic/gin"
)

func syncTopicName() string {
	if v := os.Getenv("DISPUTE_SYNC_TOPIC"); v != "" {
		return v
	}
	return "dispute-sync"
}

// PublishRun enqueues a queued sync run for asynchronous execution via
// Pub/Sub. The push subscription delivers it back to /pubsub/dispute-sync.
func PublishRun(ctx context.Context, runId uint) error {
	client, err := config.GetPubSubClient(ctx)
	if err != nil {
		return err
	}

	var topic *pubsub.Topic
	if os.Getenv("PUBSUB_CREATE_TOPIC") == "true" {
		topic, err = config.CreateTopicIfNotExists(client, syncTopicName())
		if err != nil {
			return err
		}
	} else {
		topic = client.Topic(syncTopicName())
	}

	data, err := utils.MarshalToJSON(SyncPubSubPayload{RunId: runId})
	if err != nil {
		return err
	}

	result := topic.Publish(ctx, &pubsub.Message{Data: []byte(data)})
	_, err = result.Get(ctx)
	return err
}

// PubSubPushHandler receives the push delivery for a sync run. It always
// acknowledges: run outcomes live on the run record, and redelivering a
// message for a failed run would only re-trip the single-flight lock.
func PubSubPushHandler(c *gin.Context) {
	logger := config.GetLogger()

	var envelope PubSubPushEnvelope
	if err := c.ShouldBindJSON(&envelope); err != nil {
		config.LogError(logger, moduleName, "PubSubPushHandler", "decode envelope", nil, err)
		c.Status(http.StatusNoContent)
		return
	}

	var payload SyncPubSubPayload
	if err := utils.UnmarshalFromJSON(envelope.Message.Data, &payload); err != nil {
		config.LogError(logger, moduleName, "PubSubPushHandler", envelope.Message.ID, nil, err)
		c.Status(http.StatusNoContent)
		return
	}

	if err := ProcessRun(c.Request.Context(), payload.RunId); err != nil {
		config.LogError(logger, moduleName, "PubSubPushHandler", envelope.Message.ID, payload.RunId, err)
	}
	c.Status(http.StatusNoContent)
}
