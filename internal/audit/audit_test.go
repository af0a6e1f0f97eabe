package audit

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/datacontracts/shepherd/internal/store"
)

type fakeMirror struct {
	published []Envelope
	fail      bool
}

func (m *fakeMirror) Publish(ctx context.Context, env Envelope) error {
	if m.fail {
		return context.DeadlineExceeded
	}
	m.published = append(m.published, env)
	return nil
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(t.TempDir(), store.DefaultConfig())
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	return s
}

func TestRecordAppendsJSONLAndMirrors(t *testing.T) {
	s := newTestStore(t)
	mirror := &fakeMirror{}
	log := NewLog(s, "memory/audit.jsonl", mirror)

	if err := log.Record(context.Background(), "trace-1", TypeContractSaved, map[string]string{"id": "win_ni"}); err != nil {
		t.Fatalf("Record: %v", err)
	}

	raw, err := s.Read("memory/audit.jsonl")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(lines))
	}
	var env Envelope
	if err := json.Unmarshal([]byte(lines[0]), &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if env.Type != TypeContractSaved || env.TraceID != "trace-1" {
		t.Fatalf("unexpected envelope: %+v", env)
	}

	if len(mirror.published) != 1 {
		t.Fatalf("expected mirror to receive 1 envelope, got %d", len(mirror.published))
	}
}

func TestRecordSucceedsEvenIfMirrorFails(t *testing.T) {
	s := newTestStore(t)
	mirror := &fakeMirror{fail: true}
	log := NewLog(s, "memory/audit.jsonl", mirror)

	if err := log.Record(context.Background(), "trace-2", TypeStatusChanged, nil); err != nil {
		t.Fatalf("expected local append to succeed despite mirror failure, got %v", err)
	}
}
