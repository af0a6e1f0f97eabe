// Package planner implements the continuous planner (spec §4.5): a daily
// gather→score→plan→execute→persist cycle that decides, with one LLM call
// per cycle, which contracts to push forward and how.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/datacontracts/shepherd/internal/audit"
	"github.com/datacontracts/shepherd/internal/contract"
	"github.com/datacontracts/shepherd/internal/dispatch"
	"github.com/datacontracts/shepherd/internal/identity"
	"github.com/datacontracts/shepherd/internal/llm"
	"github.com/datacontracts/shepherd/internal/metricstree"
	"github.com/datacontracts/shepherd/internal/router"
	"github.com/datacontracts/shepherd/internal/store"
	"github.com/datacontracts/shepherd/internal/validator"
)

const (
	statePath    = "tasks/planner_state.json"
	queuePath    = "tasks/queue.json"
	treePath     = "context/metrics_tree.md"
	indexPath    = "contracts/index.json"
	maxCandidate = 10
)

// Candidate kinds, closed set per spec §4.5.
const (
	KindNewContract        = "new_contract"
	KindConflictResolution = "conflict_resolution"
	KindStaleReview        = "stale_review"
)

// Config holds the PLANNER_* tunables (spec's configuration table).
type Config struct {
	MaxActiveInitiatives          int
	MaxNewThreadsPerDay           int
	MaxMessagesPerDay             int
	MaxActionsPerInitiativePerDay int
	CooldownHours                 int
	WaitBeforeFollowupHours       int
	StaleInitiativeDays           int
	StaleReviewDays               int // how long in_review before it counts as "stale_review" (spec: 7)
	StakeholderActiveWindowDays   int
}

// DefaultConfig returns the spec's documented PLANNER_* defaults.
func DefaultConfig() Config {
	return Config{
		MaxActiveInitiatives:          3,
		MaxNewThreadsPerDay:           2,
		MaxMessagesPerDay:             8,
		MaxActionsPerInitiativePerDay: 2,
		CooldownHours:                 48,
		WaitBeforeFollowupHours:       24,
		StaleInitiativeDays:           14,
		StaleReviewDays:               7,
		StakeholderActiveWindowDays:   14,
	}
}

// Planner runs one cycle of spec §4.5's gather/score/plan/execute/persist
// sequence and answers the Listener's thread-activity hook.
type Planner struct {
	Store      *store.Store
	Identity   *identity.Service
	Dispatcher *dispatch.Dispatcher
	LLM        llm.Provider
	HeavyModel string
	Audit      *audit.Log

	Cfg            Config
	EscalationUser string

	mu sync.Mutex
}

// New builds a Planner with spec-default tuning.
func New(s *store.Store, idSvc *identity.Service, d *dispatch.Dispatcher, provider llm.Provider, auditLog *audit.Log) *Planner {
	return &Planner{
		Store: s, Identity: idSvc, Dispatcher: d, LLM: provider, Audit: auditLog,
		Cfg: DefaultConfig(),
	}
}

type candidate struct {
	Kind         string   `json:"kind"`
	ContractID   string   `json:"contract_id"`
	Name         string   `json:"name"`
	Score        float64  `json:"score"`
	HasConflict  bool     `json:"has_conflicts"`
	InProgress   bool     `json:"in_progress"`
	Stakeholders []string `json:"stakeholders,omitempty"`
}

// Run executes one full planner cycle.
func (p *Planner) Run(ctx context.Context, now time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	state, err := p.loadState()
	if err != nil {
		return fmt.Errorf("planner: load state: %w", err)
	}

	p.housekeep(state, now)

	candidates, conflicts, err := p.gatherAndScore(state, now)
	if err != nil {
		return fmt.Errorf("planner: gather: %w", err)
	}

	actions := p.plan(ctx, candidates, conflicts, state)

	for _, a := range actions {
		p.checkAndExecute(ctx, state, a, now)
	}

	state.LastPlanAt = now.UTC().Format(time.RFC3339)
	if err := p.Store.WriteJSON(statePath, state); err != nil {
		return fmt.Errorf("planner: persist state: %w", err)
	}
	if p.Audit != nil {
		_ = p.Audit.Record(ctx, "planner", audit.TypeCycleComplete, map[string]any{
			"candidates": len(candidates), "actions": len(actions),
		})
	}
	return nil
}

// NotifyThreadActivity is the Listener's thread-activity hook: a reply
// arrived in a thread the planner may be tracking.
func (p *Planner) NotifyThreadActivity(ctx context.Context, threadID, username string, now time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	state, err := p.loadState()
	if err != nil {
		return err
	}
	touched := false
	for _, in := range state.Initiatives {
		if in.ThreadID != threadID {
			continue
		}
		in.WaitingFor = removeString(in.WaitingFor, username)
		if in.Status == contract.InitiativeWaitingResponse {
			in.Status = contract.InitiativeActive
		}
		in.LastExternalActivityAt = now.UTC().Format(time.RFC3339)
		in.UpdatedAt = now.UTC().Format(time.RFC3339)
		touched = true
	}
	if !touched {
		return nil
	}
	return p.Store.WriteJSON(statePath, state)
}

func removeString(ss []string, target string) []string {
	out := ss[:0]
	for _, s := range ss {
		if s != target {
			out = append(out, s)
		}
	}
	return out
}

func (p *Planner) loadState() (*contract.PlannerState, error) {
	var state contract.PlannerState
	if err := p.Store.ReadJSON(statePath, &state); err != nil {
		state = contract.PlannerState{}
	}
	if state.DailyStats == nil {
		state.DailyStats = make(map[string]contract.DailyStats)
	}
	if state.Cooldowns == nil {
		state.Cooldowns = make(map[string]string)
	}
	return &state, nil
}

// housekeep abandons stale initiatives and resets daily action counters,
// per spec §4.5 step 2.
func (p *Planner) housekeep(state *contract.PlannerState, now time.Time) {
	staleAfter := time.Duration(p.staleInitiativeDays()) * 24 * time.Hour
	for _, in := range state.Initiatives {
		in.ActionsToday = 0
		if in.Terminal() {
			continue
		}
		updated, err := time.Parse(time.RFC3339, in.UpdatedAt)
		if err != nil {
			continue
		}
		if now.Sub(updated) > staleAfter {
			in.Status = contract.InitiativeAbandoned
		}
	}
}

// gatherAndScore implements spec §4.5 steps 1 and 3: list contracts, tree,
// queue, reminders and discussions, run conflict detection, compute
// uncovered metrics, then score and rank every candidate.
func (p *Planner) gatherAndScore(state *contract.PlannerState, now time.Time) ([]candidate, []validator.Conflict, error) {
	var idx contract.Index
	_ = p.Store.ReadJSON(indexPath, &idx)
	if idx == nil {
		idx = contract.Index{}
	}

	rawTree, err := p.Store.Read(treePath)
	var tree *metricstree.Tree
	if err == nil {
		tree = metricstree.Parse(string(rawTree))
	}

	var queue []contract.QueueItem
	_ = p.Store.ReadJSON(queuePath, &queue)
	queueByID := make(map[string]int, len(queue))
	maxP := 1
	for _, q := range queue {
		queueByID[q.ContractID] = q.Priority
		if q.Priority > maxP {
			maxP = q.Priority
		}
	}

	var inputs []validator.ContractInput
	docs := make(map[string]*contract.Doc, len(idx))
	for id, rec := range idx {
		data, err := p.Store.Read("contracts/" + id + ".md")
		if err != nil {
			continue
		}
		doc := contract.Parse(string(data))
		docs[id] = doc
		var related []string
		if body, ok := doc.Section(contract.SectionRelated); ok {
			related = contract.Mentions(body)
		}
		inputs = append(inputs, validator.ContractInput{ID: id, Name: rec.Name, Doc: doc, Related: related})
	}
	conflicts := validator.Analyze(inputs)
	conflicted := make(map[string]bool)
	for _, c := range conflicts {
		for _, id := range c.ContractIDs {
			conflicted[id] = true
		}
	}

	idents, _ := p.Identity.LoadIndex()

	var cands []candidate
	if tree != nil {
		for _, n := range tree.UncoveredLeaves() {
			id := router.Slugify(n.Name)
			if _, exists := idx[id]; exists {
				continue
			}
			if state.FindInitiative(id) != nil {
				continue
			}
			c := candidate{Kind: KindNewContract, ContractID: id, Name: n.Name}
			c.Score = p.score(scoreInput{
				depth: n.Depth, queuePriority: queueByID[id], maxQueuePriority: maxP,
			})
			cands = append(cands, c)
		}
	}

	seenConflictIDs := make(map[string]bool)
	for _, c := range conflicts {
		for _, id := range c.ContractIDs {
			if seenConflictIDs[id] {
				continue
			}
			seenConflictIDs[id] = true
			rec, ok := idx[id]
			if !ok || state.FindInitiative(id) != nil {
				continue
			}
			if p.onCooldown(state, "conflict_resolution", id, now) {
				continue
			}
			stakeholders := stakeholdersFor(docs[id])
			cand := candidate{
				Kind: KindConflictResolution, ContractID: id, Name: rec.Name,
				HasConflict: true, Stakeholders: stakeholders,
			}
			cand.Score = p.score(scoreInput{
				depth: treeDepth(tree, rec.Name), queuePriority: queueByID[id], maxQueuePriority: maxP,
				blockerAgeDays: daysSince(rec.StatusUpdatedAt, now), hasConflict: true,
				stakeholderAvail: stakeholderAvail(stakeholders, idents, now, p.stakeholderActiveWindow()),
			})
			cands = append(cands, cand)
		}
	}

	for id, rec := range idx {
		if rec.Status != contract.StatusInReview {
			continue
		}
		ageDays := daysSince(rec.StatusUpdatedAt, now)
		if ageDays < float64(p.staleReviewDays()) {
			continue
		}
		if state.FindInitiative(id) != nil {
			continue
		}
		stakeholders := stakeholdersFor(docs[id])
		cand := candidate{Kind: KindStaleReview, ContractID: id, Name: rec.Name, InProgress: true, Stakeholders: stakeholders, HasConflict: conflicted[id]}
		cand.Score = p.score(scoreInput{
			depth: treeDepth(tree, rec.Name), queuePriority: queueByID[id], maxQueuePriority: maxP,
			blockerAgeDays: ageDays, hasConflict: conflicted[id], inProgress: true,
			stakeholderAvail: stakeholderAvail(stakeholders, idents, now, p.stakeholderActiveWindow()),
		})
		cands = append(cands, cand)
	}

	sort.Slice(cands, func(i, j int) bool { return cands[i].Score > cands[j].Score })
	if len(cands) > maxCandidate {
		cands = cands[:maxCandidate]
	}
	return cands, conflicts, nil
}

type scoreInput struct {
	depth            int
	queuePriority    int
	maxQueuePriority int
	blockerAgeDays   float64
	stakeholderAvail float64
	hasConflict      bool
	inProgress       bool
}

// score implements spec §4.5 step 3's weighted formula.
func (p *Planner) score(in scoreInput) float64 {
	treeDepthTerm := clamp01(1 - float64(in.depth)/6)
	maxP := in.maxQueuePriority
	if maxP < 1 {
		maxP = 1
	}
	denom := maxP - 1
	if denom < 1 {
		denom = 1
	}
	queueTerm := 0.0
	if in.queuePriority > 0 {
		queueTerm = clamp01(1 - float64(in.queuePriority-1)/float64(denom))
	}
	blockerTerm := clamp01(in.blockerAgeDays / 14)

	has := 0.0
	if in.hasConflict {
		has = 1
	}
	inProg := 0.0
	if in.inProgress {
		inProg = 1
	}

	return 0.30*treeDepthTerm + 0.25*queueTerm + 0.15*blockerTerm +
		0.15*in.stakeholderAvail + 0.10*has + 0.05*inProg
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func treeDepth(tree *metricstree.Tree, name string) int {
	if tree == nil {
		return 3
	}
	n := tree.Find(name)
	if n == nil {
		return 3
	}
	return n.Depth
}

func daysSince(ts string, now time.Time) float64 {
	if ts == "" {
		return 999
	}
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return 999
	}
	return now.Sub(t).Hours() / 24
}

func stakeholdersFor(doc *contract.Doc) []string {
	if doc == nil {
		return nil
	}
	body, ok := doc.Section(contract.SectionApproved)
	if !ok {
		return nil
	}
	return contract.Mentions(body)
}

// stakeholderAvail is the fraction of a candidate's stakeholders whose
// last-seen signal is still within the active window.
func stakeholderAvail(stakeholders []string, idx identity.Index, now time.Time, window time.Duration) float64 {
	if len(stakeholders) == 0 {
		return 0.5 // neutral: no known owners to judge availability of
	}
	available := 0
	for _, u := range stakeholders {
		rec, ok := idx[strings.ToLower(u)]
		if ok && !rec.StaleAfter(now, window) {
			available++
		}
	}
	return float64(available) / float64(len(stakeholders))
}

func (p *Planner) onCooldown(state *contract.PlannerState, actionType, contractID string, now time.Time) bool {
	expiry, ok := state.Cooldowns[actionType+":"+contractID]
	if !ok {
		return false
	}
	t, err := time.Parse(time.RFC3339, expiry)
	if err != nil {
		return false
	}
	return now.Before(t)
}

func (p *Planner) staleInitiativeDays() int {
	if p.Cfg.StaleInitiativeDays <= 0 {
		return 14
	}
	return p.Cfg.StaleInitiativeDays
}

func (p *Planner) staleReviewDays() int {
	if p.Cfg.StaleReviewDays <= 0 {
		return 7
	}
	return p.Cfg.StaleReviewDays
}

func (p *Planner) stakeholderActiveWindow() time.Duration {
	days := p.Cfg.StakeholderActiveWindowDays
	if days <= 0 {
		days = 14
	}
	return time.Duration(days) * 24 * time.Hour
}

// plannedAction is one action the LLM proposed, before cap/cooldown checks.
type plannedAction struct {
	Type       string `json:"type"`
	ContractID string `json:"contract_id"`
	Message    string `json:"message"`
	Target     string `json:"target,omitempty"`
}

type planResponse struct {
	Analysis string          `json:"analysis"`
	Actions  []plannedAction `json:"actions"`
}

const planPrompt = `You are planning today's outreach for a set of data contract
initiatives. Given scored candidates, active initiatives and top conflicts as
JSON, decide at most 3 actions. Each action is one of: start_thread,
ask_question, propose_resolution, follow_up, escalate. Respond with a single
JSON object: {"analysis": "...", "actions": [{"type": "...",
"contract_id": "...", "message": "...", "target": "..."}]}. "target" is only
needed for escalate (a username). Keep messages short and concrete.

Input:
%s`

// plan implements spec §4.5 step 4: one LLM call, parsed permissively.
func (p *Planner) plan(ctx context.Context, candidates []candidate, conflicts []validator.Conflict, state *contract.PlannerState) []plannedAction {
	if p.LLM == nil || len(candidates) == 0 {
		return nil
	}

	top := conflicts
	if len(top) > 5 {
		top = top[:5]
	}
	payload, err := json.Marshal(map[string]any{
		"candidates":  candidates,
		"initiatives": activeInitiativeSummaries(state),
		"conflicts":   top,
	})
	if err != nil {
		slog.Warn("planner: could not marshal plan payload", "error", err)
		return nil
	}

	req := &llm.ChatRequest{
		Model:       p.heavyModel(),
		Messages:    []llm.Message{{Role: "user", Content: fmt.Sprintf(planPrompt, string(payload))}},
		MaxTokens:   800,
		Temperature: 0.2,
	}
	resp, err := p.LLM.Chat(ctx, req)
	if err != nil {
		slog.Warn("planner: plan call failed, yielding no actions", "error", err)
		return nil
	}

	var parsed planResponse
	if err := json.Unmarshal([]byte(extractJSONObject(resp.Content)), &parsed); err != nil {
		slog.Warn("planner: could not parse plan response, yielding no actions", "error", err)
		return nil
	}
	if len(parsed.Actions) > 3 {
		parsed.Actions = parsed.Actions[:3]
	}
	return parsed.Actions
}

func (p *Planner) heavyModel() string {
	if p.HeavyModel != "" {
		return p.HeavyModel
	}
	if p.LLM != nil {
		return p.LLM.DefaultModel()
	}
	return ""
}

type initiativeSummary struct {
	ContractID   string `json:"contract_id"`
	Status       string `json:"status"`
	ActionsToday int    `json:"actions_today"`
	Waiting      bool   `json:"waiting_response"`
}

func activeInitiativeSummaries(state *contract.PlannerState) []initiativeSummary {
	var out []initiativeSummary
	for _, in := range state.Initiatives {
		if in.Terminal() {
			continue
		}
		out = append(out, initiativeSummary{
			ContractID: in.ContractID, Status: in.Status,
			ActionsToday: in.ActionsToday, Waiting: in.Status == contract.InitiativeWaitingResponse,
		})
	}
	return out
}

// extractJSONObject mirrors internal/router's permissive JSON extraction:
// first "{" to last "}", fenced blocks stripped.
func extractJSONObject(s string) string {
	s = strings.ReplaceAll(s, "```json", "")
	s = strings.ReplaceAll(s, "```", "")
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end == -1 || end < start {
		return "{}"
	}
	return s[start : end+1]
}

// checkAndExecute implements spec §4.5 step 5's cap/cooldown gate followed
// by dispatch and initiative mutation.
func (p *Planner) checkAndExecute(ctx context.Context, state *contract.PlannerState, a plannedAction, now time.Time) {
	actionType := dispatch.ActionType(a.Type)
	switch actionType {
	case dispatch.ActionStartThread, dispatch.ActionAskQuestion, dispatch.ActionProposeResolution,
		dispatch.ActionFollowUp, dispatch.ActionEscalate:
	default:
		slog.Warn("planner: dropping action with unknown type", "type", a.Type)
		return
	}
	if a.ContractID == "" {
		return
	}
	if actionType == dispatch.ActionEscalate && a.Target == "" {
		a.Target = p.EscalationUser
	}

	today := now.UTC().Format("2006-01-02")
	stats := state.DailyStats[today]
	if stats.MessagesSent >= p.Cfg.MaxMessagesPerDay {
		return
	}
	if actionType == dispatch.ActionStartThread {
		if stats.ThreadsStarted >= p.Cfg.MaxNewThreadsPerDay {
			return
		}
		if countActive(state) >= p.Cfg.MaxActiveInitiatives {
			return
		}
	}

	in := state.FindInitiative(a.ContractID)
	if in != nil {
		if in.ActionsToday >= p.Cfg.MaxActionsPerInitiativePerDay {
			return
		}
		if in.NextActionAfter != "" {
			if t, err := time.Parse(time.RFC3339, in.NextActionAfter); err == nil && now.Before(t) {
				return
			}
		}
	}
	if p.onCooldown(state, a.Type, a.ContractID, now) {
		return
	}

	if in == nil {
		in = &contract.Initiative{
			ID:         a.ContractID + "-" + now.UTC().Format("20060102150405"),
			ContractID: a.ContractID,
			Status:     contract.InitiativeActive,
			CreatedAt:  now.UTC().Format(time.RFC3339),
		}
		state.Initiatives = append(state.Initiatives, in)
	}

	threadID, err := p.Dispatcher.Dispatch(ctx, dispatch.Action{
		Type: actionType, ContractID: a.ContractID,
		ThreadID: in.ThreadID, Recipient: a.Target, Message: a.Message,
	})
	if err != nil {
		slog.Warn("planner: dispatch failed", "contract_id", a.ContractID, "action", a.Type, "error", err)
		return
	}

	in.ActionsTaken = append(in.ActionsTaken, a.Type+": "+a.Message)
	in.UpdatedAt = now.UTC().Format(time.RFC3339)
	in.ActionsToday++
	if actionType == dispatch.ActionStartThread {
		in.ThreadID = threadID
		stats.ThreadsStarted++
	}
	if actionType == dispatch.ActionAskQuestion || actionType == dispatch.ActionFollowUp {
		in.Status = contract.InitiativeWaitingResponse
		in.NextActionAfter = now.Add(time.Duration(p.Cfg.WaitBeforeFollowupHours) * time.Hour).UTC().Format(time.RFC3339)
	}
	if actionType == dispatch.ActionProposeResolution || actionType == dispatch.ActionFollowUp {
		state.Cooldowns[a.Type+":"+a.ContractID] = now.Add(time.Duration(p.Cfg.CooldownHours) * time.Hour).UTC().Format(time.RFC3339)
	}
	stats.MessagesSent++
	state.DailyStats[today] = stats
}

func countActive(state *contract.PlannerState) int {
	n := 0
	for _, in := range state.Initiatives {
		if !in.Terminal() {
			n++
		}
	}
	return n
}
