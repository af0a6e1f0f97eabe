package planner

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/datacontracts/shepherd/internal/audit"
	"github.com/datacontracts/shepherd/internal/chat"
	"github.com/datacontracts/shepherd/internal/contract"
	"github.com/datacontracts/shepherd/internal/dispatch"
	"github.com/datacontracts/shepherd/internal/identity"
	"github.com/datacontracts/shepherd/internal/llm"
	"github.com/datacontracts/shepherd/internal/store"
)

type fakeChat struct{ posts, dms []string }

func (f *fakeChat) Events() <-chan chat.Event { return nil }
func (f *fakeChat) SendToChannel(ctx context.Context, channelID, threadRoot, text string) (string, error) {
	f.posts = append(f.posts, text)
	return "new-thread-id", nil
}
func (f *fakeChat) SendDM(ctx context.Context, username, text string) error {
	f.dms = append(f.dms, username+":"+text)
	return nil
}
func (f *fakeChat) GetThread(ctx context.Context, channelID, postID string) ([]chat.ThreadMessage, error) {
	return nil, nil
}
func (f *fakeChat) GetUserInfo(ctx context.Context, username string) (chat.UserInfo, error) {
	return chat.UserInfo{Username: username}, nil
}
func (f *fakeChat) ResolveUsername(ctx context.Context, mention string) (string, bool) { return "", false }
func (f *fakeChat) BotUserID() string                                                  { return "bot" }

type stubLLM struct {
	content string
	err     error
}

func (s *stubLLM) DefaultModel() string { return "heavy-model" }
func (s *stubLLM) Chat(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &llm.ChatResponse{Content: s.content}, nil
}

const sampleTree = "## Дерево\n```\n" + "Metrics\n├── Win Percentage 📄\n└── Extra Time Win Percentage 📄\n" + "```\n"

func newTestPlanner(t *testing.T, llmResp string) (*Planner, *store.Store, *fakeChat) {
	t.Helper()
	s, err := store.New(t.TempDir(), store.DefaultConfig())
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	if err := s.Write(treePath, []byte(sampleTree)); err != nil {
		t.Fatalf("seed tree: %v", err)
	}
	fc := &fakeChat{}
	auditLog := audit.NewLog(s, "tasks/planner_log.jsonl", nil)
	d := dispatch.New(fc, auditLog, "C1")
	idSvc := identity.New(s)
	p := New(s, idSvc, d, &stubLLM{content: llmResp}, auditLog)
	p.EscalationUser = "alexey"
	return p, s, fc
}

func TestGatherAndScoreFindsUncoveredMetric(t *testing.T) {
	p, _, _ := newTestPlanner(t, "{}")
	state, _ := p.loadState()
	cands, _, err := p.gatherAndScore(state, time.Now())
	if err != nil {
		t.Fatalf("gatherAndScore: %v", err)
	}
	found := false
	for _, c := range cands {
		if c.Kind == KindNewContract && strings.Contains(c.Name, "Win Percentage") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected an uncovered new_contract candidate, got %+v", cands)
	}
}

func TestScoreFormulaClampsToUnitRange(t *testing.T) {
	p, _, _ := newTestPlanner(t, "{}")
	s := p.score(scoreInput{depth: 0, queuePriority: 1, maxQueuePriority: 1, blockerAgeDays: 100, stakeholderAvail: 1, hasConflict: true, inProgress: true})
	if s < 0 || s > 1.001 {
		t.Fatalf("expected score in [0,1], got %f", s)
	}
	deepCandidate := p.score(scoreInput{depth: 12})
	if deepCandidate != 0 {
		t.Fatalf("expected a far-too-deep candidate to score 0 on every term, got %f", deepCandidate)
	}
}

func TestPlanRunDispatchesStartThreadAction(t *testing.T) {
	resp := `{"analysis": "push it", "actions": [{"type": "start_thread", "contract_id": "win_percentage", "message": "let's define this"}]}`
	p, s, fc := newTestPlanner(t, resp)

	if err := p.Run(context.Background(), time.Now()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(fc.posts) != 1 {
		t.Fatalf("expected 1 channel post, got %d", len(fc.posts))
	}

	var state contract.PlannerState
	if err := s.ReadJSON(statePath, &state); err != nil {
		t.Fatalf("read state: %v", err)
	}
	if len(state.Initiatives) != 1 {
		t.Fatalf("expected 1 initiative, got %d", len(state.Initiatives))
	}
	in := state.Initiatives[0]
	if in.ThreadID != "new-thread-id" || in.ActionsToday != 1 {
		t.Fatalf("unexpected initiative state: %+v", in)
	}
	if state.DailyStats[time.Now().UTC().Format("2006-01-02")].ThreadsStarted != 1 {
		t.Fatalf("expected threads_started bumped, got %+v", state.DailyStats)
	}
}

func TestDailyMessageCapBlocksFurtherDispatch(t *testing.T) {
	resp := `{"actions": [{"type": "start_thread", "contract_id": "win_percentage", "message": "hi"}]}`
	p, _, fc := newTestPlanner(t, resp)
	p.Cfg.MaxMessagesPerDay = 0

	if err := p.Run(context.Background(), time.Now()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(fc.posts) != 0 {
		t.Fatalf("expected the daily message cap to block dispatch, got %d posts", len(fc.posts))
	}
}

func TestAskQuestionSetsWaitingResponseAndFollowupWindow(t *testing.T) {
	resp := `{"actions": [{"type": "ask_question", "contract_id": "win_percentage", "message": "why is this blocked?"}]}`
	p, s, _ := newTestPlanner(t, resp)

	now := time.Now()
	if err := p.Run(context.Background(), now); err != nil {
		t.Fatalf("Run: %v", err)
	}

	var state contract.PlannerState
	if err := s.ReadJSON(statePath, &state); err != nil {
		t.Fatalf("read state: %v", err)
	}
	in := state.Initiatives[0]
	if in.Status != contract.InitiativeWaitingResponse {
		t.Fatalf("expected waiting_response, got %q", in.Status)
	}
	if in.NextActionAfter == "" {
		t.Fatal("expected next_action_after to be set")
	}
}

func TestFollowupWaitRejectsActionBeforeWindow(t *testing.T) {
	p, s, fc := newTestPlanner(t, "{}")
	now := time.Now()
	state := &contract.PlannerState{
		Initiatives: []*contract.Initiative{{
			ID: "init1", ContractID: "win_percentage", Status: contract.InitiativeWaitingResponse,
			CreatedAt: now.Format(time.RFC3339), UpdatedAt: now.Format(time.RFC3339),
			NextActionAfter: now.Add(1 * time.Hour).Format(time.RFC3339),
		}},
		DailyStats: map[string]contract.DailyStats{},
		Cooldowns:  map[string]string{},
	}
	if err := s.WriteJSON(statePath, state); err != nil {
		t.Fatalf("seed state: %v", err)
	}

	p.checkAndExecute(context.Background(), state, plannedAction{Type: "follow_up", ContractID: "win_percentage", Message: "nudge"}, now)
	if len(fc.posts) != 0 {
		t.Fatalf("expected the follow-up wait to reject dispatch, got %d posts", len(fc.posts))
	}
}

func TestNotifyThreadActivityClearsWaitingResponse(t *testing.T) {
	p, s, _ := newTestPlanner(t, "{}")
	now := time.Now()
	state := &contract.PlannerState{
		Initiatives: []*contract.Initiative{{
			ID: "init1", ContractID: "win_percentage", Status: contract.InitiativeWaitingResponse,
			ThreadID: "t1", WaitingFor: []string{"dd_lead"},
			CreatedAt: now.Format(time.RFC3339), UpdatedAt: now.Format(time.RFC3339),
		}},
		DailyStats: map[string]contract.DailyStats{},
		Cooldowns:  map[string]string{},
	}
	if err := s.WriteJSON(statePath, state); err != nil {
		t.Fatalf("seed state: %v", err)
	}

	if err := p.NotifyThreadActivity(context.Background(), "t1", "dd_lead", now); err != nil {
		t.Fatalf("NotifyThreadActivity: %v", err)
	}

	var reloaded contract.PlannerState
	if err := s.ReadJSON(statePath, &reloaded); err != nil {
		t.Fatalf("read state: %v", err)
	}
	in := reloaded.Initiatives[0]
	if in.Status != contract.InitiativeActive {
		t.Fatalf("expected active, got %q", in.Status)
	}
	if len(in.WaitingFor) != 0 {
		t.Fatalf("expected dd_lead removed from waiting_for, got %v", in.WaitingFor)
	}
}

func TestEscalateFallsBackToConfiguredEscalationUser(t *testing.T) {
	p, s, fc := newTestPlanner(t, "{}")
	now := time.Now()
	state := &contract.PlannerState{DailyStats: map[string]contract.DailyStats{}, Cooldowns: map[string]string{}}
	if err := s.WriteJSON(statePath, state); err != nil {
		t.Fatalf("seed state: %v", err)
	}

	p.checkAndExecute(context.Background(), state, plannedAction{Type: "escalate", ContractID: "win_percentage", Message: "stalled"}, now)
	if len(fc.dms) != 1 || !strings.Contains(fc.dms[0], "alexey") {
		t.Fatalf("expected a DM to the configured escalation user, got %v", fc.dms)
	}
}
