// Package audit implements the append-only event log (spec §3's
// memory/audit.jsonl and tasks/planner_log.jsonl) and an optional Kafka
// mirror of the same records for downstream consumers.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/datacontracts/shepherd/internal/store"
)

// Event types, closed per the components that emit them.
const (
	TypeContractSaved    = "contract_saved"
	TypeStatusChanged     = "status_changed"
	TypeApprovalRequested = "approval_requested"
	TypeApprovalRecorded  = "approval_recorded"
	TypeReminderSent      = "reminder_sent"
	TypeDigestPosted      = "digest_posted"
	TypeCoverageScan      = "coverage_scan"
	TypeCycleComplete     = "cycle_complete"
	TypeActionDispatched  = "action_dispatched"
)

// Envelope is one audit record. Adapted from a cross-instance knowledge
// envelope shape: a schema-versioned wrapper with a trace id and an
// idempotency key, repointed at single-instance contract lifecycle events
// instead of swarm proposals/votes/facts.
type Envelope struct {
	SchemaVersion  string    `json:"schema_version"`
	Type           string    `json:"type"`
	TraceID        string    `json:"trace_id"`
	Timestamp      time.Time `json:"timestamp"`
	IdempotencyKey string    `json:"idempotency_key"`
	Payload        any       `json:"payload"`
}

const CurrentSchemaVersion = "v1"

// ValidateBase checks the envelope's required fields.
func (e Envelope) ValidateBase() error {
	if strings.TrimSpace(e.SchemaVersion) == "" {
		return fmt.Errorf("schema_version is required")
	}
	if strings.TrimSpace(e.Type) == "" {
		return fmt.Errorf("type is required")
	}
	if strings.TrimSpace(e.TraceID) == "" {
		return fmt.Errorf("trace_id is required")
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("timestamp is required")
	}
	return nil
}

// Mirror optionally forwards audit envelopes to an external sink (Kafka).
type Mirror interface {
	Publish(ctx context.Context, env Envelope) error
}

// Log appends audit records to a JSONL file via the Store and, if
// configured, mirrors them to an external sink.
type Log struct {
	store  *store.Store
	path   string
	mirror Mirror
}

// NewLog creates a Log writing to path (relative to the store root), e.g.
// "memory/audit.jsonl" or "tasks/planner_log.jsonl".
func NewLog(s *store.Store, path string, mirror Mirror) *Log {
	return &Log{store: s, path: path, mirror: mirror}
}

// Record appends one envelope to the JSONL log and, best-effort, to the
// mirror. Mirror failures are logged and never block the local write.
func (l *Log) Record(ctx context.Context, traceID, eventType string, payload any) error {
	env := Envelope{
		SchemaVersion:  CurrentSchemaVersion,
		Type:           eventType,
		TraceID:        traceID,
		Timestamp:      time.Now().UTC(),
		IdempotencyKey: traceID + ":" + eventType,
		Payload:        payload,
	}
	if err := env.ValidateBase(); err != nil {
		return err
	}

	if err := l.store.AppendJSONL(l.path, env); err != nil {
		return fmt.Errorf("append audit log: %w", err)
	}

	if l.mirror != nil {
		if err := l.mirror.Publish(ctx, env); err != nil {
			slog.Warn("audit: mirror publish failed", "type", eventType, "error", err)
		}
	}
	return nil
}
