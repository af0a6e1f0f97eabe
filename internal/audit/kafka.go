package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// KafkaMirror publishes audit envelopes to a Kafka topic as a protobuf
// struct, for downstream consumers (dashboards, data-warehouse sinks) that
// should never read memory/audit.jsonl directly.
type KafkaMirror struct {
	writer *kafka.Writer
}

// NewKafkaMirror creates a mirror writing to topic on the given brokers.
func NewKafkaMirror(brokers []string, topic string) *KafkaMirror {
	return &KafkaMirror{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireOne,
			Async:        false,
			WriteTimeout: 5 * time.Second,
		},
	}
}

// Publish encodes env as a protobuf struct and writes it to Kafka, keyed by
// the envelope's idempotency key so compaction keeps one record per logical
// event.
func (m *KafkaMirror) Publish(ctx context.Context, env Envelope) error {
	payloadValue, err := structpb.NewValue(toPlainValue(env.Payload))
	if err != nil {
		return err
	}
	rec, err := structpb.NewStruct(map[string]any{
		"schema_version":  env.SchemaVersion,
		"type":            env.Type,
		"trace_id":        env.TraceID,
		"timestamp":       env.Timestamp.Format(time.RFC3339Nano),
		"idempotency_key": env.IdempotencyKey,
	})
	if err != nil {
		return err
	}
	rec.Fields["payload"] = payloadValue

	body, err := proto.Marshal(rec)
	if err != nil {
		return err
	}
	return m.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(env.IdempotencyKey),
		Value: body,
	})
}

// Close releases the underlying Kafka writer's connections.
func (m *KafkaMirror) Close() error {
	return m.writer.Close()
}

// toPlainValue converts arbitrary Go payload structs to a
// structpb-compatible shape by round-tripping through JSON, since payloads
// here are small (a tool result or initiative snapshot) and not a hot path.
func toPlainValue(v any) any {
	b, err := json.Marshal(v)
	if err != nil {
		return map[string]any{}
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return map[string]any{}
	}
	return out
}
