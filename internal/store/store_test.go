package store

import (
	"path/filepath"
	"strings"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir(), DefaultConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestWriteReadRoundtrip(t *testing.T) {
	s := newTestStore(t)
	if err := s.Write("contracts/x.md", []byte("hello")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := s.Read("contracts/x.md")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != "hello" {
		t.Fatalf("got %q", got)
	}
}

func TestBatchCommitAllOrNothing(t *testing.T) {
	s := newTestStore(t)
	b := s.NewBatch()
	b.Stage("a.json", []byte(`{"a":1}`))
	b.Stage("b.json", []byte(`{"b":2}`))
	if err := b.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if !s.Exists("a.json") || !s.Exists("b.json") {
		t.Fatalf("expected both files to exist after commit")
	}
}

// TestSaveVersionedMonotonic covers §8 invariant 3: version monotonicity.
func TestSaveVersionedMonotonic(t *testing.T) {
	s := newTestStore(t)
	dir := "contracts/versions/x"
	hist := filepath.Join(dir, "history.jsonl")

	ts1, err := s.SaveVersioned("x", "contracts/x.md", dir, hist, []byte("A"))
	if err != nil {
		t.Fatalf("save A: %v", err)
	}
	ts2, err := s.SaveVersioned("x", "contracts/x.md", dir, hist, []byte("B"))
	if err != nil {
		t.Fatalf("save B: %v", err)
	}
	if ts2 <= ts1 {
		t.Fatalf("expected ts2 > ts1, got %s <= %s", ts2, ts1)
	}

	cur, err := s.Read("contracts/x.md")
	if err != nil || string(cur) != "B" {
		t.Fatalf("expected current=B, got %q err=%v", cur, err)
	}
	prev, err := s.Read(filepath.Join(dir, ts2+"_prev.md"))
	if err != nil || string(prev) != "A" {
		t.Fatalf("expected prev snapshot=A, got %q err=%v", prev, err)
	}

	histData, err := s.Read(hist)
	if err != nil {
		t.Fatalf("read history: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(histData)), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 history lines (1 current + 1 previous + 1 current), got %d", len(lines))
	}
}

func TestReadJSONMalformedTreatedAsAbsent(t *testing.T) {
	s := newTestStore(t)
	if err := s.Write("bad.json", []byte("{not json")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	var v map[string]any
	err := s.ReadJSON("bad.json", &v)
	if err == nil {
		t.Fatalf("expected error for malformed JSON")
	}
}
