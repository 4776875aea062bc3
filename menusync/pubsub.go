package menusync

import (
	"context"
	"encoding/json"
	"io"

	"github.com/boilerfuel/menu_backend/config"
	"github.com/gin-gonic/gin"
)

func PublishSyncRun(ctx context.Context, runId uint, correlationId string) error {
	topicName := config.EnvString("MENU_SYNC_TOPIC", "menu-sync")
	payload := SyncPubSubPayload{
		RunId:         runId,
		CorrelationId: correlationId,
	}
	_, err := config.PublishJSON(ctx, topicName, config.EnvBool("MENU_SYNC_CREATE_TOPIC", false), payload)
	return err
}

// dispatchRun hands a queued run to the worker: through Pub/Sub when configured, otherwise
// (or when publishing fails) in a background goroutine of this process.
var dispatchRun = func(ctx context.Context, runId uint, correlationId string) {
	logger := config.GetLogger().WithField("run_id", runId)
	if config.PubSubConfigured() {
		err := PublishSyncRun(ctx, runId, correlationId)
		if err == nil {
			return
		}
		config.LogError(logger, "menusync", "dispatchRun", "publish sync run; running in-process", runId, err)
	}
	go func() {
		if err := ProcessSyncRun(context.Background(), SyncPubSubPayload{RunId: runId, CorrelationId: correlationId}); err != nil {
			config.LogError(logger, "menusync", "dispatchRun", "process sync run", runId, err)
		}
	}()
}

// PubSubPushHandler always acknowledges with 204; failures are recorded on the run itself.
func PubSubPushHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !config.MenuPubSubPushEnabled() {
			c.Status(204)
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.Status(204)
			return
		}

		var envelope PubSubPushEnvelope
		if err := json.Unmarshal(body, &envelope); err != nil {
			c.Status(204)
			return
		}

		var payload SyncPubSubPayload
		if err := json.Unmarshal(envelope.Message.Data, &payload); err != nil {
			c.Status(204)
			return
		}
		if payload.RunId == 0 {
			c.Status(204)
			return
		}

		if err := ProcessSyncRun(c.Request.Context(), payload); err != nil {
			config.LogError(config.GetLogger(), "menusync", "PubSubPushHandler", "process sync run", payload, err)
		}
		c.Status(204)
	}
}
