// Package kafkarelay repurposes the teacher's Kafka producer/consumer
// pair (originally built to move vote events between service instances)
// into a cross-replica relay for the Publisher Port. A Publish call is
// written to a single Kafka topic, keyed by the logical topic string so
// Kafka's per-key ordering keeps each logical topic (votes/{id},
// chat/{id}, ...) ordered across the cluster. Every replica also runs a
// Consumer that re-publishes received envelopes into its own local hub,
// so replicas that are not the scheduler leader still deliver frames to
// their own subscribers (§9 "Multi-replica operation" — this extends
// best-effort delivery only, it does not give cross-replica consistency).
//
// Each envelope is tagged with the replica id that produced it. A replica
// already delivers its own frames locally (publish.Multi calls the local
// hub and the relay side by side), so its own Consumer drops envelopes
// carrying its own replica id instead of republishing them a second time.
// Each replica also reads the relay topic under its own consumer group so
// every replica sees every relayed envelope rather than Kafka load-
// balancing partitions across a group shared by all replicas.
package kafkarelay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Config mirrors the teacher's KafkaConfig.
type Config struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
	GroupID string   `mapstructure:"group_id"`
}

// envelope is the wire shape written to Kafka: the logical publish topic,
// its already-encoded JSON payload, and the replica id that produced it.
type envelope struct {
	Origin  string          `json:"origin"`
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload"`
}

// Relay is the Publish side: it implements publish.Publisher.
type Relay struct {
	writer    *kafka.Writer
	replicaID string
}

// NewRelay builds a Kafka-backed writer, partitioned by logical topic.
// replicaID tags every envelope this replica writes, so this replica's
// own Consumer can recognize and drop them.
func NewRelay(cfg Config, replicaID string) *Relay {
	return &Relay{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(cfg.Brokers...),
			Topic:    cfg.Topic,
			Balancer: &kafka.Hash{},
		},
		replicaID: replicaID,
	}
}

// Publish implements publish.Publisher by writing an envelope keyed on
// the logical topic.
func (r *Relay) Publish(ctx context.Context, topic string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("kafkarelay: encode payload: %w", err)
	}
	env, err := json.Marshal(envelope{Origin: r.replicaID, Topic: topic, Payload: data})
	if err != nil {
		return fmt.Errorf("kafkarelay: encode envelope: %w", err)
	}
	msg := kafka.Message{Key: []byte(topic), Value: env, Time: time.Now()}
	if err := r.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafkarelay: publish: %w", err)
	}
	return nil
}

// Close releases the underlying writer.
func (r *Relay) Close() error {
	return r.writer.Close()
}

// republisher is the subset of hub.Hub the Consumer needs; kept as an
// interface so tests can stub it.
type republisher interface {
	Publish(ctx context.Context, topic string, payload interface{}) error
}

// Consumer reads relayed envelopes and republishes them into a local
// republisher (normally a hub.Hub), so this replica's own subscribers see
// events originated on other replicas.
type Consumer struct {
	reader    *kafka.Reader
	replicaID string
	log       *zap.Logger
}

// NewConsumer builds a reader over the relay topic under a consumer group
// unique to this replica (cfg.GroupID plus replicaID). Kafka consumer
// groups load-balance partitions across their members rather than
// broadcasting to each one, so a group shared by every replica would let
// only one replica see a given relayed message; a distinct group per
// replica makes each replica an independent full reader of the topic.
func NewConsumer(cfg Config, replicaID string, log *zap.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  fmt.Sprintf("%s-%s", cfg.GroupID, replicaID),
		MinBytes: 1e3,
		MaxBytes: 10e6,
	})
	return &Consumer{reader: reader, replicaID: replicaID, log: log}
}

// Run reads until ctx is canceled, republishing each envelope locally.
// Envelopes originated by this replica are dropped: publish.Multi already
// delivered them to the local hub directly, so republishing here would
// double-deliver on the node that produced the frame.
func (c *Consumer) Run(ctx context.Context, local republisher) {
	for {
		m, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.Warn("kafkarelay: read failed, retrying", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}

		var env envelope
		if err := json.Unmarshal(m.Value, &env); err != nil {
			c.log.Warn("kafkarelay: dropping undecodable envelope", zap.Error(err))
			continue
		}
		if env.Origin == c.replicaID {
			continue
		}
		var payload json.RawMessage = env.Payload
		if err := local.Publish(ctx, env.Topic, payload); err != nil {
			c.log.Warn("kafkarelay: local republish failed", zap.String("topic", env.Topic), zap.Error(err))
		}
	}
}

// Close releases the underlying reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}
