package suggest

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/datacontracts/shepherd/internal/chat"
	"github.com/datacontracts/shepherd/internal/contract"
	"github.com/datacontracts/shepherd/internal/metricstree"
	"github.com/datacontracts/shepherd/internal/store"
)

type recordingChat struct{ posts []string }

func (f *recordingChat) Events() <-chan chat.Event { return nil }
func (f *recordingChat) SendToChannel(ctx context.Context, channelID, threadRoot, text string) (string, error) {
	f.posts = append(f.posts, text)
	return "p1", nil
}
func (f *recordingChat) SendDM(ctx context.Context, username, text string) error { return nil }
func (f *recordingChat) GetThread(ctx context.Context, channelID, postID string) ([]chat.ThreadMessage, error) {
	return nil, nil
}
func (f *recordingChat) GetUserInfo(ctx context.Context, username string) (chat.UserInfo, error) {
	return chat.UserInfo{Username: username}, nil
}
func (f *recordingChat) ResolveUsername(ctx context.Context, mention string) (string, bool) {
	return "", false
}
func (f *recordingChat) BotUserID() string { return "bot" }

const sampleTree = "## Дерево\n```\n" + "Metrics\n├── Win Percentage 📄\n└── Extra Time Win Percentage 📄\n" + "```\n"

func newTestEngine(t *testing.T) (*Engine, *store.Store, *recordingChat) {
	t.Helper()
	s, err := store.New(t.TempDir(), store.DefaultConfig())
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	fc := &recordingChat{}
	return New(s, fc, "C1"), s, fc
}

func TestCoverageScanSuggestsUncoveredMetrics(t *testing.T) {
	e, _, fc := newTestEngine(t)
	tree := metricstree.Parse(sampleTree)

	idx := contract.Index{}
	if err := e.CoverageScan(context.Background(), tree, idx, time.Now()); err != nil {
		t.Fatalf("CoverageScan: %v", err)
	}
	if len(fc.posts) != 1 {
		t.Fatalf("expected 1 suggestion message, got %d", len(fc.posts))
	}
	if !strings.Contains(fc.posts[0], "Win Percentage") {
		t.Fatalf("expected suggested metric in message, got %q", fc.posts[0])
	}
}

func TestRunCoverageScanLoadsTreeAndIndexFromStore(t *testing.T) {
	e, s, fc := newTestEngine(t)
	if err := s.Write(treePath, []byte(sampleTree)); err != nil {
		t.Fatalf("seed tree: %v", err)
	}

	if err := e.RunCoverageScan(context.Background(), time.Now()); err != nil {
		t.Fatalf("RunCoverageScan: %v", err)
	}
	if len(fc.posts) != 1 {
		t.Fatalf("expected 1 suggestion message, got %d", len(fc.posts))
	}
}

func TestRunCoverageScanNoopsWithoutTree(t *testing.T) {
	e, _, fc := newTestEngine(t)
	if err := e.RunCoverageScan(context.Background(), time.Now()); err != nil {
		t.Fatalf("RunCoverageScan: %v", err)
	}
	if len(fc.posts) != 0 {
		t.Fatalf("expected no post when no tree exists, got %v", fc.posts)
	}
}

func TestCoverageScanSkipsAlreadyActiveMetric(t *testing.T) {
	e, _, fc := newTestEngine(t)
	tree := metricstree.Parse(sampleTree)

	idx := contract.Index{
		"win_percentage": &contract.IndexRecord{ID: "win_percentage", Status: contract.StatusAgreed},
	}
	if err := e.CoverageScan(context.Background(), tree, idx, time.Now()); err != nil {
		t.Fatalf("CoverageScan: %v", err)
	}
	if len(fc.posts) != 1 {
		t.Fatalf("expected exactly 1 message (the other metric), got %d: %v", len(fc.posts), fc.posts)
	}
	if strings.Contains(fc.posts[0], "- Win Percentage\n") || strings.Contains(fc.posts[0], "- Win Percentage (") {
		t.Fatalf("did not expect the already-agreed metric to be suggested: %q", fc.posts[0])
	}
}

func TestDailyCapEnforced(t *testing.T) {
	e, _, fc := newTestEngine(t)
	e.MaxPerDay = 1
	tree := metricstree.Parse(sampleTree)
	idx := contract.Index{}

	now := time.Now()
	if err := e.CoverageScan(context.Background(), tree, idx, now); err != nil {
		t.Fatalf("first scan: %v", err)
	}
	if err := e.CoverageScan(context.Background(), tree, idx, now.Add(time.Hour)); err != nil {
		t.Fatalf("second scan: %v", err)
	}
	if len(fc.posts) != 1 {
		t.Fatalf("expected daily cap to suppress the second scan, got %d posts", len(fc.posts))
	}
}

func TestCooldownSuppressesRepeatSuggestion(t *testing.T) {
	e, s, fc := newTestEngine(t)
	e.MaxPerDay = 10
	if err := s.WriteJSON(suggestionsPath, []Record{
		{Metric: "Win Percentage", SuggestedAt: time.Now().Add(-24 * time.Hour).UTC().Format(time.RFC3339)},
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	tree := metricstree.Parse(sampleTree)
	idx := contract.Index{}
	if err := e.CoverageScan(context.Background(), tree, idx, time.Now()); err != nil {
		t.Fatalf("CoverageScan: %v", err)
	}
	if len(fc.posts) != 1 || strings.Contains(fc.posts[0], "- Win Percentage\n") || strings.Contains(fc.posts[0], "- Win Percentage (") {
		t.Fatalf("expected Win Percentage suppressed by cooldown, got %v", fc.posts)
	}
}

func TestStakeholderResolutionFromCircles(t *testing.T) {
	e, s, fc := newTestEngine(t)
	if err := s.WriteJSON(circlesPath, map[string]string{"win": "dd_lead"}); err != nil {
		t.Fatalf("seed circles: %v", err)
	}
	tree := metricstree.Parse(sampleTree)
	if err := e.CoverageScan(context.Background(), tree, contract.Index{}, time.Now()); err != nil {
		t.Fatalf("CoverageScan: %v", err)
	}
	if !strings.Contains(fc.posts[0], "@dd_lead") {
		t.Fatalf("expected resolved stakeholder mention, got %q", fc.posts[0])
	}
}
