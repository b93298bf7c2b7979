package tallyimport

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"strconv"
	"strings"

	"cloud.google.com/go/pubsub"
	"github.com/gin-gonic/gin"
	"github.com/himanshudhami/invoicex/config"
)

type PubSubPushEnvelope struct {
	Message struct {
		Data []byte `json:"data"`
		ID   string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

func importTopicName() string {
	name := strings.TrimSpace(os.Getenv("TALLY_IMPORT_TOPIC"))
	if name == "" {
		name = "tally-import"
	}
	return name
}

func progressTopicName() string {
	name := strings.TrimSpace(os.Getenv("TALLY_IMPORT_PROGRESS_TOPIC"))
	if name == "" {
		name = "tally-import-progress"
	}
	return name
}

// PubSubProgressSink streams progress snapshots to a topic for UI consumers.
// Publishes are fire and forget: progress is advisory and a lost snapshot is
// superseded by the next one, so the result is never awaited.
type PubSubProgressSink struct {
	topic string
}

func (s *PubSubProgressSink) Publish(ctx context.Context, snapshot ProgressSnapshot) error {
	client, err := config.GetClient(ctx)
	if err != nil {
		return err
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	client.Topic(s.topic).Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{"batch_id": strconv.Itoa(snapshot.BatchId)},
	})
	return nil
}

// PublishImportRun queues one batch run. When Pub/Sub is not configured
// (local development, tests) the run executes inline instead.
func PublishImportRun(ctx context.Context, payload ImportRunPayload) error {
	if !config.PubSubConfigured() || config.InlineImportRuns() {
		go func() {
			_ = ProcessImportRun(context.Background(), payload)
		}()
		return nil
	}

	client, err := config.GetClient(ctx)
	if err != nil {
		return err
	}

	topicName := importTopicName()
	topic := client.Topic(topicName)
	if envBoolDefault("TALLY_IMPORT_CREATE_TOPIC", false) {
		topic, err = config.CreateTopicIfNotExists(client, topicName)
		if err != nil {
			return err
		}
	}

	data, _ := json.Marshal(payload)
	res := topic.Publish(ctx, &pubsub.Message{Data: data})
	_, err = res.Get(ctx)
	return err
}

// PubSubPushHandler receives the push delivery for queued runs. Always 204:
// run failures are recorded on the batch, and redelivery of a finished run
// is a no-op.
func PubSubPushHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !envBoolDefault("ENABLE_TALLY_IMPORT_PUSH_ENDPOINT", true) {
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

		var payload ImportRunPayload
		if err := json.Unmarshal(envelope.Message.Data, &payload); err != nil {
			c.Status(204)
			return
		}
		if payload.BatchId == 0 || payload.BusinessId == "" {
			c.Status(204)
			return
		}
		if payload.CorrelationId == "" {
			payload.CorrelationId = envelope.Message.ID
		}

		_ = ProcessImportRun(c.Request.Context(), payload)
		c.Status(204)
	}
}

func envBoolDefault(key string, def bool) bool {
	val := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch val {
	case "true", "1", "yes", "y", "on":
		return true
	case "false", "0", "no", "n", "off":
		return false
	default:
		return def
	}
}
