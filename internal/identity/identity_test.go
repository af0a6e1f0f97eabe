package identity

import (
	"strings"
	"testing"
	"time"

	"github.com/datacontracts/shepherd/internal/store"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	s, err := store.New(t.TempDir(), store.DefaultConfig())
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	return New(s)
}

func TestOnboardCreatesProfileAndIndexRecord(t *testing.T) {
	svc := newTestService(t)
	now := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)

	if err := svc.Onboard("Alice", now); err != nil {
		t.Fatalf("Onboard: %v", err)
	}

	idx, err := svc.LoadIndex()
	if err != nil {
		t.Fatalf("LoadIndex: %v", err)
	}
	rec, ok := idx["alice"]
	if !ok {
		t.Fatalf("expected record for alice")
	}
	if !rec.Active || !rec.Onboarded {
		t.Fatalf("expected active+onboarded record, got %+v", rec)
	}

	body, err := svc.store.Read("participants/alice.md")
	if err != nil {
		t.Fatalf("expected profile file, got error: %v", err)
	}
	if !strings.Contains(string(body), "Participant: alice") {
		t.Fatalf("profile missing username: %s", body)
	}
}

func TestDeactivateMarksInactiveWithoutDeletingProfile(t *testing.T) {
	svc := newTestService(t)
	now := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	if err := svc.Onboard("bob", now); err != nil {
		t.Fatalf("Onboard: %v", err)
	}
	if err := svc.Deactivate("bob", now.Add(24*time.Hour)); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}
	idx, _ := svc.LoadIndex()
	if idx["bob"].Active {
		t.Fatalf("expected bob inactive")
	}
	if idx["bob"].LeftAt == "" {
		t.Fatalf("expected left_at to be set")
	}
}

func TestTouchLastActiveOnboardsUnknownUser(t *testing.T) {
	svc := newTestService(t)
	now := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	if err := svc.TouchLastActive("carol", now); err != nil {
		t.Fatalf("TouchLastActive: %v", err)
	}
	idx, _ := svc.LoadIndex()
	rec, ok := idx["carol"]
	if !ok || rec.LastActiveAt == "" {
		t.Fatalf("expected carol onboarded with last_active_at set, got %+v", rec)
	}
}

func TestStaleAfter(t *testing.T) {
	now := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	r := Record{LastActiveAt: now.Add(-48 * time.Hour).Format(time.RFC3339)}
	if !r.StaleAfter(now, 24*time.Hour) {
		t.Fatalf("expected stale")
	}
	if r.StaleAfter(now, 72*time.Hour) {
		t.Fatalf("expected not stale")
	}
}
