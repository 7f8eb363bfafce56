package sinks

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-cpi-mirror/internal/report"
)

// PubSubSink publishes each summary as a JSON message so downstream jobs can
// react to new data landing in the bucket.
type PubSubSink struct {
	client *pubsub.Client
	topic  *pubsub.Topic
	logger *zap.Logger
	// ownsClient is set when the sink created the client and must close it.
	ownsClient bool
}

var _ report.Sink = (*PubSubSink)(nil)

// NewPubSubSink connects with Application Default Credentials and checks the topic exists.
func NewPubSubSink(ctx context.Context, projectID, topicID string, logger *zap.Logger) (*PubSubSink, error) {
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create pubsub client: %w", err)
	}
	sink, err := NewPubSubSinkWithClient(ctx, client, topicID, logger)
	if err != nil {
		if closeErr := client.Close(); closeErr != nil && logger != nil {
			logger.Warn("failed to close pubsub client after topic check", zap.Error(closeErr))
		}
		return nil, err
	}
	sink.ownsClient = true
	return sink, nil
}

// NewPubSubSinkWithClient uses an existing client, primarily for tests.
func NewPubSubSinkWithClient(ctx context.Context, client *pubsub.Client, topicID string, logger *zap.Logger) (*PubSubSink, error) {
	if client == nil {
		return nil, fmt.Errorf("pubsub client is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	topic := client.Topic(topicID)
	ok, err := topic.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("check pubsub topic '%s': %w", topicID, err)
	}
	if !ok {
		return nil, fmt.Errorf("pubsub topic '%s' does not exist", topicID)
	}
	return &PubSubSink{client: client, topic: topic, logger: logger}, nil
}

// Consume publishes the summary and waits for the server to acknowledge it.
func (s *PubSubSink) Consume(ctx context.Context, summary report.Summary) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	msg := &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"run_id":  summary.RunID,
			"status":  string(summary.Status),
			"dry_run": fmt.Sprintf("%t", summary.DryRun),
		},
	}
	otel.GetTextMapPropagator().Inject(ctx, &pubsubCarrier{attrs: msg.Attributes})

	id, err := s.topic.Publish(ctx, msg).Get(ctx)
	if err != nil {
		return fmt.Errorf("publish summary: %w", err)
	}
	s.logger.Debug("published run summary", zap.String("run_id", summary.RunID), zap.String("message_id", id))
	return nil
}

// Close flushes pending publishes and releases the client if the sink owns it.
func (s *PubSubSink) Close(context.Context) error {
	s.topic.Stop()
	if s.ownsClient {
		if err := s.client.Close(); err != nil {
			return fmt.Errorf("close pubsub client: %w", err)
		}
	}
	return nil
}

// pubsubCarrier implements propagation.TextMapCarrier for Pub/Sub attributes.
type pubsubCarrier struct {
	attrs map[string]string
}

func (c *pubsubCarrier) Get(key string) string {
	return c.attrs[key]
}

func (c *pubsubCarrier) Set(key, value string) {
	c.attrs[key] = value
}

func (c *pubsubCarrier) Keys() []string {
	keys := make([]string, 0, len(c.attrs))
	for k := range c.attrs {
		keys = append(keys, k)
	}
	return keys
}
