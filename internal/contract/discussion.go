package contract

import (
	"time"

	"github.com/datacontracts/shepherd/internal/governance"
)

// Position is one stakeholder's recorded stance inside a draft discussion.
type Position struct {
	Username string `json:"username"`
	Stance   string `json:"stance"`
	Note     string `json:"note,omitempty"`
	At       string `json:"at"`
}

// ProposedResolution is one candidate fix for an open disagreement.
type ProposedResolution struct {
	By   string `json:"by"`
	Text string `json:"text"`
	At   string `json:"at"`
}

// Discussion is the drafts/<id>_discussion.json companion document.
type Discussion struct {
	ContractID   string                      `json:"contract_id"`
	Positions    []Position                  `json:"positions,omitempty"`
	Resolutions  []ProposedResolution        `json:"proposed_resolutions,omitempty"`
	ApprovalState *governance.ApprovalState  `json:"approval_state,omitempty"`
}

// AddPosition appends a stakeholder position, per update_discussion.
func (d *Discussion) AddPosition(username, stance, note string, now time.Time) {
	d.Positions = append(d.Positions, Position{
		Username: username, Stance: stance, Note: note, At: now.UTC().Format(time.RFC3339),
	})
}

// AddResolution appends a proposed resolution, per update_discussion.
func (d *Discussion) AddResolution(by, text string, now time.Time) {
	d.Resolutions = append(d.Resolutions, ProposedResolution{By: by, Text: text, At: now.UTC().Format(time.RFC3339)})
}

// Reminder is one entry in tasks/reminders.json.
type Reminder struct {
	ID              string `json:"id"`
	ContractID      string `json:"contract_id"`
	TargetUser      string `json:"target_user"`
	TargetMMUserID  string `json:"target_mm_user_id,omitempty"`
	ThreadID        string `json:"thread_id"`
	QuestionSummary string `json:"question_summary"`
	FirstAsked      string `json:"first_asked"`
	LastReminder    string `json:"last_reminder"`
	NextReminder    string `json:"next_reminder"`
	EscalationStep  int    `json:"escalation_step"`
}

// ActiveThread is one entry in tasks/active_threads.json: contract_id ->
// {root_post_id, updated_at}.
type ActiveThread struct {
	RootPostID string `json:"root_post_id"`
	UpdatedAt  string `json:"updated_at"`
}

// Decision is one line of memory/decisions.jsonl.
type Decision struct {
	ContractID string `json:"contract_id"`
	Username   string `json:"username"`
	Summary    string `json:"summary"`
	At         string `json:"at"`
}

// QueueItem is one entry in tasks/queue.json: an operator-maintained
// priority list the planner's scoring step reads but never writes.
type QueueItem struct {
	ContractID string `json:"contract_id"`
	Priority   int    `json:"priority"`
}

// Initiative is the planner's long-lived handle on its own push to move a
// single contract forward.
type Initiative struct {
	ID                     string   `json:"id"`
	Type                   string   `json:"type"` // new_contract | conflict_resolution | stale_review
	ContractID             string   `json:"contract_id"`
	PriorityScore          float64  `json:"priority_score"`
	Status                 string   `json:"status"` // active|waiting_response|planned|completed|abandoned
	CreatedAt              string   `json:"created_at"`
	UpdatedAt              string   `json:"updated_at"`
	ThreadID               string   `json:"thread_id,omitempty"`
	Stakeholders           []string `json:"stakeholders,omitempty"`
	WaitingFor             []string `json:"waiting_for,omitempty"`
	ActionsTaken           []string `json:"actions_taken,omitempty"`
	NextActionAfter        string   `json:"next_action_after,omitempty"`
	ActionsToday           int      `json:"actions_today"`
	LastExternalActivityAt string   `json:"last_external_activity_at,omitempty"`
}

// Initiative statuses, closed set per spec §5.
const (
	InitiativeActive           = "active"
	InitiativeWaitingResponse  = "waiting_response"
	InitiativePlanned          = "planned"
	InitiativeCompleted        = "completed"
	InitiativeAbandoned        = "abandoned"
)

// Terminal reports whether an initiative no longer accepts new actions.
func (in *Initiative) Terminal() bool {
	return in.Status == InitiativeCompleted || in.Status == InitiativeAbandoned
}

// DailyStats is one day's planner throughput counters.
type DailyStats struct {
	ThreadsStarted int `json:"threads_started"`
	MessagesSent   int `json:"messages_sent"`
}

// PlannerState is tasks/planner_state.json in full.
type PlannerState struct {
	Initiatives []*Initiative         `json:"initiatives"`
	DailyStats  map[string]DailyStats `json:"daily_stats"`
	Cooldowns   map[string]string     `json:"cooldowns"` // "action_type:contract_id" -> expiry (RFC3339)
	LastPlanAt  string                `json:"last_plan_at,omitempty"`
}

// FindInitiative returns the first non-terminal initiative for a contract.
func (s *PlannerState) FindInitiative(contractID string) *Initiative {
	for _, in := range s.Initiatives {
		if in.ContractID == contractID && !in.Terminal() {
			return in
		}
	}
	return nil
}
