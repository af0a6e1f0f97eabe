package tools

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/datacontracts/shepherd/internal/audit"
	"github.com/datacontracts/shepherd/internal/contract"
	"github.com/datacontracts/shepherd/internal/glossary"
	"github.com/datacontracts/shepherd/internal/governance"
	"github.com/datacontracts/shepherd/internal/metricstree"
	"github.com/datacontracts/shepherd/internal/validator"
)

func loadGlossary(d *Deps) (glossary.Glossary, error) {
	var g glossary.Glossary
	if err := d.Store.ReadJSON("context/glossary.json", &g); err != nil {
		if os.IsNotExist(err) {
			return glossary.Glossary{}, nil
		}
		return glossary.Glossary{}, err
	}
	return g, nil
}

func loadRelationships(d *Deps) ([]contract.Relationship, error) {
	var rels []contract.Relationship
	if err := d.Store.ReadJSON("contracts/relationships.json", &rels); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return rels, nil
}

func saveDiscussion(d *Deps, id string, disc *contract.Discussion) error {
	return d.Store.WriteJSON(discussionPath(id), disc)
}

// SaveDraftTool implements save_draft.
type SaveDraftTool struct{ d *Deps }

func (t *SaveDraftTool) Name() string        { return "save_draft" }
func (t *SaveDraftTool) Description() string { return "Write a draft contract's text. No validation gates apply." }
func (t *SaveDraftTool) Tier() int           { return TierWrite }
func (t *SaveDraftTool) Parameters() map[string]any {
	return schema([]string{"contract_id", "text"}, map[string]any{
		"contract_id": strProp("the contract slug id"),
		"text":        strProp("the full markdown document"),
	})
}
func (t *SaveDraftTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	id := GetString(params, "contract_id", "")
	text := GetString(params, "text", "")
	if err := t.d.Store.Write(draftPath(id), []byte(text)); err != nil {
		return toJSON(map[string]any{"success": false, "errors": []string{err.Error()}})
	}
	return toJSON(map[string]any{"success": true})
}

// SaveContractTool implements save_contract: the pre-commit gate chain and
// post-commit side effects from spec §4.3 invariants 2-3.
type SaveContractTool struct{ d *Deps }

func (t *SaveContractTool) Name() string        { return "save_contract" }
func (t *SaveContractTool) Description() string { return "Validate, govern, and persist a contract's agreed text. Set force=true to downgrade glossary ambiguity to a warning." }
func (t *SaveContractTool) Tier() int           { return TierWrite }
func (t *SaveContractTool) Parameters() map[string]any {
	return schema([]string{"contract_id", "text"}, map[string]any{
		"contract_id": strProp("the contract slug id"),
		"text":        strProp("the full markdown document"),
		"force":       boolProp("downgrade glossary ambiguity errors to warnings"),
	})
}
func (t *SaveContractTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	id := GetString(params, "contract_id", "")
	text := GetString(params, "text", "")
	force := GetBool(params, "force", false)
	now := time.Now()

	doc := contract.Parse(text)

	// (a) structural validator
	result := validator.Validate(doc)
	var errs []string
	for _, e := range result.Errors {
		errs = append(errs, e.Message)
	}

	// (b) tier-policy check against the merged role map
	idx, err := loadIndex(t.d)
	if err != nil {
		return toJSON(map[string]any{"success": false, "errors": []string{err.Error()}})
	}
	tierName := governance.DefaultTier
	if rec, ok := idx[id]; ok && rec.Tier != "" {
		tierName = rec.Tier
	}
	policy, err := loadPolicy(t.d)
	if err != nil {
		return toJSON(map[string]any{"success": false, "errors": []string{err.Error()}})
	}
	roles, err := loadRoles(t.d)
	if err != nil {
		return toJSON(map[string]any{"success": false, "errors": []string{err.Error()}})
	}
	var approverUsernames []string
	if body, ok := doc.Section(contract.SectionApproved); ok {
		approverUsernames = contract.Mentions(body)
	}
	govCheck := governance.Check(policy[tierName], approverUsernames, roles)
	if !govCheck.OK {
		errs = append(errs, fmt.Sprintf("governance: missing approval from roles: %s", strings.Join(govCheck.MissingRoles, ", ")))
	}

	// (c) glossary ambiguity check
	g, err := loadGlossary(t.d)
	if err != nil {
		return toJSON(map[string]any{"success": false, "errors": []string{err.Error()}})
	}
	issues := g.Check(text)
	var glossaryWarnings []string
	for _, iss := range issues {
		if force {
			glossaryWarnings = append(glossaryWarnings, iss.Message())
		} else {
			errs = append(errs, iss.Message())
		}
	}

	if len(errs) > 0 {
		return toJSON(map[string]any{"success": false, "errors": errs})
	}

	// Commit: versioned snapshot + index update.
	entityKey := "contract:" + id
	ts, err := t.d.Store.SaveVersioned(entityKey, contractPath(id),
		"contracts/versions/"+id, "contracts/versions/"+id+"/history.jsonl", []byte(text))
	if err != nil {
		return toJSON(map[string]any{"success": false, "errors": []string{err.Error()}})
	}

	name := doc.Name
	if name == "" {
		name = id
	}
	rec, existed := idx[id]
	if !existed {
		rec = &contract.IndexRecord{ID: id, Tier: tierName}
		idx[id] = rec
	}
	rec.Name = name
	rec.Status = contract.StatusAgreed
	rec.File = contractPath(id)
	rec.AgreedDate = now.UTC().Format("2006-01-02")
	rec.StatusUpdatedAt = now.UTC().Format(time.RFC3339)
	rec.VersionsDir = "contracts/versions/" + id
	rec.HistoryFile = "contracts/versions/" + id + "/history.jsonl"
	if err := t.d.Store.WriteJSON("contracts/index.json", idx); err != nil {
		return toJSON(map[string]any{"success": false, "errors": []string{err.Error()}})
	}

	// Relationships: deterministic mentions across every section, filtered
	// to known ids and allowed types. No LLM semantic pass is run.
	if err := t.appendMentionRelationships(id, doc, idx); err != nil {
		return toJSON(map[string]any{"success": false, "errors": []string{err.Error()}})
	}

	// Mark the metrics-tree node agreed, best effort, then trigger one
	// rate-limited suggestion attempt for its tree neighbors.
	t.markTreeAgreed(name, idx, now)

	if t.d.Audit != nil {
		_ = t.d.Audit.Record(ctx, "save-"+id+"-"+ts, audit.TypeContractSaved, map[string]any{"contract_id": id, "ts": ts})
	}

	resp := map[string]any{"success": true, "ts": ts}
	if len(glossaryWarnings) > 0 {
		resp["warnings"] = glossaryWarnings
	}
	return toJSON(resp)
}

func (t *SaveContractTool) appendMentionRelationships(id string, doc *contract.Doc, idx contract.Index) error {
	rels, err := loadRelationships(t.d)
	if err != nil {
		return err
	}
	existing := make(map[string]bool, len(rels))
	for _, r := range rels {
		existing[r.Key()] = true
	}
	add := func(to, typ string) {
		if to == id {
			return
		}
		if _, known := idx[to]; !known {
			return
		}
		if !contract.ValidRelType(typ) {
			return
		}
		r := contract.Relationship{From: id, To: to, Type: typ}
		if existing[r.Key()] {
			return
		}
		existing[r.Key()] = true
		rels = append(rels, r)
	}
	for _, section := range doc.Order {
		for _, mention := range contract.Mentions(doc.Sections[section]) {
			if _, known := idx[mention]; known {
				add(mention, contract.RelMentions)
			}
		}
	}
	if t.d.LLM != nil {
		// The provider is not called here: no subset_of/aggregates/inverse/
		// depends_on edges are proposed, by this tool or by the agent loop,
		// so only what can be determined deterministically is appended.
		_ = t.d.LLM
	}
	return t.d.Store.WriteJSON("contracts/relationships.json", rels)
}

func (t *SaveContractTool) markTreeAgreed(name string, idx contract.Index, now time.Time) {
	raw, err := t.d.Store.Read("context/metrics_tree.md")
	if err != nil {
		return
	}
	tree := metricstree.Parse(string(raw))
	if !tree.MarkAgreed(name) {
		return
	}
	_ = t.d.Store.Write("context/metrics_tree.md", []byte(tree.Serialize()))

	if t.d.Suggest != nil {
		if err := t.d.Suggest.AfterAgreement(context.Background(), tree, name, idx, now); err != nil {
			slog.Warn("save_contract: suggestion attempt failed", "contract_id", name, "error", err)
		}
	}
}

// UpdateDiscussionTool implements update_discussion.
type UpdateDiscussionTool struct{ d *Deps }

func (t *UpdateDiscussionTool) Name() string        { return "update_discussion" }
func (t *UpdateDiscussionTool) Description() string { return "Append a stakeholder position or a proposed resolution to a draft's discussion document." }
func (t *UpdateDiscussionTool) Tier() int           { return TierWrite }
func (t *UpdateDiscussionTool) Parameters() map[string]any {
	return schema([]string{"contract_id"}, map[string]any{
		"contract_id": strProp("the contract slug id"),
		"username":    strProp("who is recording this entry"),
		"stance":      strProp("position stance text, for a position entry"),
		"note":        strProp("optional note accompanying a position"),
		"resolution":  strProp("proposed resolution text, for a resolution entry"),
	})
}
func (t *UpdateDiscussionTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	id := GetString(params, "contract_id", "")
	username := GetString(params, "username", "")
	now := time.Now()

	disc, err := loadDiscussion(t.d, id)
	if err != nil {
		return toJSON(map[string]any{"success": false, "errors": []string{err.Error()}})
	}

	if stance := GetString(params, "stance", ""); stance != "" {
		disc.AddPosition(username, stance, GetString(params, "note", ""), now)
	}
	if resolution := GetString(params, "resolution", ""); resolution != "" {
		disc.AddResolution(username, resolution, now)
	}

	if err := saveDiscussion(t.d, id, disc); err != nil {
		return toJSON(map[string]any{"success": false, "errors": []string{err.Error()}})
	}
	return toJSON(map[string]any{"success": true})
}

// AddReminderTool implements add_reminder.
type AddReminderTool struct{ d *Deps }

func (t *AddReminderTool) Name() string        { return "add_reminder" }
func (t *AddReminderTool) Description() string { return "Schedule a follow-up reminder for an unresolved question on a contract." }
func (t *AddReminderTool) Tier() int           { return TierWrite }
func (t *AddReminderTool) Parameters() map[string]any {
	return schema([]string{"contract_id", "target_user", "thread_id", "question_summary"}, map[string]any{
		"contract_id":      strProp("the contract slug id"),
		"target_user":      strProp("who the reminder is directed at"),
		"thread_id":        strProp("the chat thread root id"),
		"question_summary": strProp("a short summary of the open question"),
	})
}
func (t *AddReminderTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	var reminders []contract.Reminder
	if err := t.d.Store.ReadJSON("tasks/reminders.json", &reminders); err != nil && !os.IsNotExist(err) {
		return toJSON(map[string]any{"success": false, "errors": []string{err.Error()}})
	}
	r := contract.Reminder{
		ID:              fmt.Sprintf("rem-%d", time.Now().UnixNano()),
		ContractID:      GetString(params, "contract_id", ""),
		TargetUser:      GetString(params, "target_user", ""),
		ThreadID:        GetString(params, "thread_id", ""),
		QuestionSummary: GetString(params, "question_summary", ""),
		FirstAsked:      now,
		LastReminder:    now,
		NextReminder:    now,
		EscalationStep:  1,
	}
	reminders = append(reminders, r)
	if err := t.d.Store.WriteJSON("tasks/reminders.json", reminders); err != nil {
		return toJSON(map[string]any{"success": false, "errors": []string{err.Error()}})
	}
	return toJSON(map[string]any{"success": true, "reminder_id": r.ID})
}

// UpdateParticipantTool implements update_participant.
type UpdateParticipantTool struct{ d *Deps }

func (t *UpdateParticipantTool) Name() string        { return "update_participant" }
func (t *UpdateParticipantTool) Description() string { return "Update a participant's profile notes." }
func (t *UpdateParticipantTool) Tier() int           { return TierWrite }
func (t *UpdateParticipantTool) Parameters() map[string]any {
	return schema([]string{"username", "notes"}, map[string]any{
		"username": strProp("the participant's username"),
		"notes":    strProp("replacement text for the profile's Notes section"),
	})
}
func (t *UpdateParticipantTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	username := GetString(params, "username", "")
	notes := GetString(params, "notes", "")
	if err := t.d.Identity.UpdateProfile(username, notes); err != nil {
		return toJSON(map[string]any{"success": false, "errors": []string{err.Error()}})
	}
	return toJSON(map[string]any{"success": true})
}

// SaveDecisionTool implements save_decision.
type SaveDecisionTool struct{ d *Deps }

func (t *SaveDecisionTool) Name() string        { return "save_decision" }
func (t *SaveDecisionTool) Description() string { return "Append a record of a decision made about a contract to the append-only decision log." }
func (t *SaveDecisionTool) Tier() int           { return TierWrite }
func (t *SaveDecisionTool) Parameters() map[string]any {
	return schema([]string{"contract_id", "username", "summary"}, map[string]any{
		"contract_id": strProp("the contract slug id"),
		"username":    strProp("who made the decision"),
		"summary":     strProp("what was decided"),
	})
}
func (t *SaveDecisionTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	d := contract.Decision{
		ContractID: GetString(params, "contract_id", ""),
		Username:   GetString(params, "username", ""),
		Summary:    GetString(params, "summary", ""),
		At:         time.Now().UTC().Format(time.RFC3339),
	}
	if err := t.d.Store.AppendJSONL("memory/decisions.jsonl", d); err != nil {
		return toJSON(map[string]any{"success": false, "errors": []string{err.Error()}})
	}
	return toJSON(map[string]any{"success": true})
}

// AssignRoleTool implements assign_role.
type AssignRoleTool struct{ d *Deps }

func (t *AssignRoleTool) Name() string        { return "assign_role" }
func (t *AssignRoleTool) Description() string { return "Assign a role to a user in the runtime role map. Resolves a display name to a canonical username via the chat client." }
func (t *AssignRoleTool) Tier() int           { return TierWrite }
func (t *AssignRoleTool) Parameters() map[string]any {
	return schema([]string{"role", "mention"}, map[string]any{
		"role":    strProp("the role name, e.g. Data Lead, Circle Lead"),
		"mention": strProp("the @mention or display name to resolve"),
	})
}
func (t *AssignRoleTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	role := GetString(params, "role", "")
	mention := strings.TrimPrefix(GetString(params, "mention", ""), "@")

	username, ok := t.d.Chat.ResolveUsername(ctx, mention)
	if !ok {
		return toJSON(map[string]any{"success": false, "errors": []string{fmt.Sprintf("could not resolve %q to a known user", mention)}})
	}
	username = strings.ToLower(username)

	var runtime governance.RoleMap
	if err := t.d.Store.ReadJSON("tasks/roles.json", &runtime); err != nil && !os.IsNotExist(err) {
		return toJSON(map[string]any{"success": false, "errors": []string{err.Error()}})
	}
	if runtime == nil {
		runtime = make(governance.RoleMap)
	}
	for _, u := range runtime[role] {
		if strings.EqualFold(u, username) {
			return toJSON(map[string]any{"success": true, "already_assigned": true})
		}
	}
	runtime[role] = append(runtime[role], username)
	sort.Strings(runtime[role])
	if err := t.d.Store.WriteJSON("tasks/roles.json", runtime); err != nil {
		return toJSON(map[string]any{"success": false, "errors": []string{err.Error()}})
	}
	return toJSON(map[string]any{"success": true, "username": username})
}

// SetContractStatusTool implements set_contract_status.
type SetContractStatusTool struct{ d *Deps }

func (t *SetContractStatusTool) Name() string        { return "set_contract_status" }
func (t *SetContractStatusTool) Description() string { return "Move a contract to a new lifecycle status." }
func (t *SetContractStatusTool) Tier() int           { return TierWrite }
func (t *SetContractStatusTool) Parameters() map[string]any {
	return schema([]string{"contract_id", "status"}, map[string]any{
		"contract_id": strProp("the contract slug id"),
		"status":      strProp("one of draft|in_review|agreed|approved|active|deprecated|archived"),
	})
}

var validStatuses = map[string]bool{
	contract.StatusDraft: true, contract.StatusInReview: true, contract.StatusAgreed: true,
	contract.StatusApproved: true, contract.StatusActive: true, contract.StatusDeprecated: true,
	contract.StatusArchived: true,
}

func (t *SetContractStatusTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	id := GetString(params, "contract_id", "")
	status := GetString(params, "status", "")
	if !validStatuses[status] {
		return toJSON(map[string]any{"success": false, "errors": []string{fmt.Sprintf("unknown status %q", status)}})
	}
	idx, err := loadIndex(t.d)
	if err != nil {
		return toJSON(map[string]any{"success": false, "errors": []string{err.Error()}})
	}
	rec, ok := idx[id]
	if !ok {
		return toJSON(map[string]any{"success": false, "errors": []string{fmt.Sprintf("unknown contract %q", id)}})
	}
	rec.Status = status
	rec.StatusUpdatedAt = time.Now().UTC().Format(time.RFC3339)
	if err := t.d.Store.WriteJSON("contracts/index.json", idx); err != nil {
		return toJSON(map[string]any{"success": false, "errors": []string{err.Error()}})
	}
	if t.d.Audit != nil {
		_ = t.d.Audit.Record(ctx, "status-"+id+"-"+rec.StatusUpdatedAt, audit.TypeStatusChanged, map[string]any{"contract_id": id, "status": status})
	}
	return toJSON(map[string]any{"success": true})
}

// RequestApprovalTool implements request_approval.
type RequestApprovalTool struct{ d *Deps }

func (t *RequestApprovalTool) Name() string        { return "request_approval" }
func (t *RequestApprovalTool) Description() string { return "Open an approval round for a draft under review, seeding approval_state from the tier policy and notifying required role holders." }
func (t *RequestApprovalTool) Tier() int           { return TierWrite }
func (t *RequestApprovalTool) Parameters() map[string]any {
	return schema([]string{"contract_id"}, map[string]any{"contract_id": strProp("the contract slug id")})
}
func (t *RequestApprovalTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	id := GetString(params, "contract_id", "")
	now := time.Now()

	idx, err := loadIndex(t.d)
	if err != nil {
		return toJSON(map[string]any{"success": false, "errors": []string{err.Error()}})
	}
	tierName := governance.DefaultTier
	if rec, ok := idx[id]; ok && rec.Tier != "" {
		tierName = rec.Tier
	}
	policy, err := loadPolicy(t.d)
	if err != nil {
		return toJSON(map[string]any{"success": false, "errors": []string{err.Error()}})
	}
	tier := policy[tierName]

	disc, err := loadDiscussion(t.d, id)
	if err != nil {
		return toJSON(map[string]any{"success": false, "errors": []string{err.Error()}})
	}
	var preserve []governance.Approval
	if disc.ApprovalState != nil {
		preserve = disc.ApprovalState.Approvals
	}
	state := governance.NewApprovalState(tierName, tier, now, preserve)
	disc.ApprovalState = &state
	if err := saveDiscussion(t.d, id, disc); err != nil {
		return toJSON(map[string]any{"success": false, "errors": []string{err.Error()}})
	}

	roles, err := loadRoles(t.d)
	if err != nil {
		return toJSON(map[string]any{"success": false, "errors": []string{err.Error()}})
	}
	var notified []string
	for _, role := range tier.ApprovalRequired {
		for _, username := range roles[role] {
			if err := t.d.Chat.SendDM(ctx, username, fmt.Sprintf("Your approval is requested on %q as %s.", id, role)); err == nil {
				notified = append(notified, username)
			}
		}
	}
	if t.d.Audit != nil {
		_ = t.d.Audit.Record(ctx, "request-approval-"+id+"-"+now.Format(time.RFC3339Nano), audit.TypeApprovalRequested, map[string]any{"contract_id": id, "tier": tierName})
	}
	return toJSON(map[string]any{"success": true, "tier": tierName, "notified": notified})
}

// ApproveContractTool implements approve_contract.
type ApproveContractTool struct{ d *Deps }

func (t *ApproveContractTool) Name() string        { return "approve_contract" }
func (t *ApproveContractTool) Description() string { return "Record an approval vote. Only counts if the caller resolves to one of the roles required for this tier." }
func (t *ApproveContractTool) Tier() int           { return TierWrite }
func (t *ApproveContractTool) Parameters() map[string]any {
	return schema([]string{"contract_id", "username"}, map[string]any{
		"contract_id": strProp("the contract slug id"),
		"username":    strProp("who is casting the vote"),
	})
}
func (t *ApproveContractTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	id := GetString(params, "contract_id", "")
	username := GetString(params, "username", "")
	now := time.Now()

	disc, err := loadDiscussion(t.d, id)
	if err != nil {
		return toJSON(map[string]any{"success": false, "errors": []string{err.Error()}})
	}
	if disc.ApprovalState == nil {
		return toJSON(map[string]any{"success": false, "errors": []string{"no approval round is open for this contract"}})
	}

	roles, err := loadRoles(t.d)
	if err != nil {
		return toJSON(map[string]any{"success": false, "errors": []string{err.Error()}})
	}
	role := governance.ResolveApproverRole(username, disc.ApprovalState.RequiredRoles, roles)
	if role == "" {
		return toJSON(map[string]any{"success": false, "errors": []string{fmt.Sprintf("%q does not hold any role required for this approval", username)}})
	}

	added, already := disc.ApprovalState.Record(username, role, now)
	if err := saveDiscussion(t.d, id, disc); err != nil {
		return toJSON(map[string]any{"success": false, "errors": []string{err.Error()}})
	}
	if added && t.d.Audit != nil {
		_ = t.d.Audit.Record(ctx, "approve-"+id+"-"+username, audit.TypeApprovalRecorded, map[string]any{"contract_id": id, "username": username, "role": role})
	}
	return toJSON(map[string]any{
		"success":          true,
		"already_approved": already,
		"quorum_met":       disc.ApprovalState.QuorumMet(),
	})
}

// Poll is one entry in tasks/polls.json: a lightweight yes/no/abstain vote
// posted to a channel, distinct from the governance approval_state ballot
// (a poll can ask anything, not just "approve this contract").
type Poll struct {
	ID        string         `json:"id"`
	ChannelID string         `json:"channel_id"`
	Question  string         `json:"question"`
	Options   []string       `json:"options"`
	Votes     map[string]string `json:"votes"`
	CreatedAt string         `json:"created_at"`
}

// CreatePollTool implements create_poll.
type CreatePollTool struct{ d *Deps }

func (t *CreatePollTool) Name() string        { return "create_poll" }
func (t *CreatePollTool) Description() string { return "Post a poll to a channel and record it for later tallying." }
func (t *CreatePollTool) Tier() int           { return TierHighRisk }
func (t *CreatePollTool) Parameters() map[string]any {
	return schema([]string{"channel_id", "question", "options"}, map[string]any{
		"channel_id": strProp("the channel to post the poll in"),
		"question":   strProp("the poll question"),
		"options":    map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": "the poll's answer options"},
	})
}
func (t *CreatePollTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	question := GetString(params, "question", "")
	channelID := GetString(params, "channel_id", "")
	var options []string
	if raw, ok := params["options"].([]any); ok {
		for _, o := range raw {
			if s, ok := o.(string); ok {
				options = append(options, s)
			}
		}
	}

	var text strings.Builder
	fmt.Fprintf(&text, "📊 %s\n", question)
	for i, o := range options {
		fmt.Fprintf(&text, "%d. %s\n", i+1, o)
	}
	postID, err := t.d.Chat.SendToChannel(ctx, channelID, "", text.String())
	if err != nil {
		return toJSON(map[string]any{"success": false, "errors": []string{err.Error()}})
	}

	var polls []Poll
	if err := t.d.Store.ReadJSON("tasks/polls.json", &polls); err != nil && !os.IsNotExist(err) {
		return toJSON(map[string]any{"success": false, "errors": []string{err.Error()}})
	}
	p := Poll{ID: postID, ChannelID: channelID, Question: question, Options: options, Votes: map[string]string{}, CreatedAt: time.Now().UTC().Format(time.RFC3339)}
	polls = append(polls, p)
	if err := t.d.Store.WriteJSON("tasks/polls.json", polls); err != nil {
		return toJSON(map[string]any{"success": false, "errors": []string{err.Error()}})
	}
	return toJSON(map[string]any{"success": true, "poll_id": p.ID})
}
