package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/datacontracts/shepherd/internal/contract"
	"github.com/datacontracts/shepherd/internal/governance"
	"github.com/datacontracts/shepherd/internal/validator"
)

func contractPath(id string) string { return "contracts/" + id + ".md" }
func draftPath(id string) string    { return "drafts/" + id + ".md" }
func discussionPath(id string) string {
	return "drafts/" + id + "_discussion.json"
}

func loadIndex(d *Deps) (contract.Index, error) {
	var idx contract.Index
	if err := d.Store.ReadJSON("contracts/index.json", &idx); err != nil {
		if os.IsNotExist(err) {
			return make(contract.Index), nil
		}
		return nil, err
	}
	if idx == nil {
		idx = make(contract.Index)
	}
	return idx, nil
}

func loadRoles(d *Deps) (governance.RoleMap, error) {
	var defaults governance.RoleMap
	if err := d.Store.ReadJSON("context/roles.json", &defaults); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	var runtime governance.RoleMap
	if err := d.Store.ReadJSON("tasks/roles.json", &runtime); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return governance.MergeRoles(defaults, runtime), nil
}

func loadPolicy(d *Deps) (governance.Policy, error) {
	var pol governance.Policy
	if err := d.Store.ReadJSON("context/governance.json", &pol); err != nil {
		if os.IsNotExist(err) {
			return make(governance.Policy), nil
		}
		return nil, err
	}
	return pol, nil
}

func loadDiscussion(d *Deps, id string) (*contract.Discussion, error) {
	var disc contract.Discussion
	if err := d.Store.ReadJSON(discussionPath(id), &disc); err != nil {
		if os.IsNotExist(err) {
			return &contract.Discussion{ContractID: id}, nil
		}
		return nil, err
	}
	return &disc, nil
}

func toJSON(v any) (string, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ReadContractTool implements read_contract.
type ReadContractTool struct{ d *Deps }

func (t *ReadContractTool) Name() string        { return "read_contract" }
func (t *ReadContractTool) Description() string { return "Read the current text of an agreed/active contract by id." }
func (t *ReadContractTool) Parameters() map[string]any {
	return schema([]string{"contract_id"}, map[string]any{"contract_id": strProp("the contract slug id")})
}
func (t *ReadContractTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	id := GetString(params, "contract_id", "")
	data, err := t.d.Store.Read(contractPath(id))
	if err != nil {
		return toJSON(map[string]any{"success": false, "errors": []string{fmt.Sprintf("contract %q not found", id)}})
	}
	return toJSON(map[string]any{"success": true, "text": string(data)})
}

// ReadDraftTool implements read_draft.
type ReadDraftTool struct{ d *Deps }

func (t *ReadDraftTool) Name() string        { return "read_draft" }
func (t *ReadDraftTool) Description() string { return "Read the current text of a draft contract by id." }
func (t *ReadDraftTool) Parameters() map[string]any {
	return schema([]string{"contract_id"}, map[string]any{"contract_id": strProp("the contract slug id")})
}
func (t *ReadDraftTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	id := GetString(params, "contract_id", "")
	data, err := t.d.Store.Read(draftPath(id))
	if err != nil {
		return toJSON(map[string]any{"success": false, "errors": []string{fmt.Sprintf("draft %q not found", id)}})
	}
	return toJSON(map[string]any{"success": true, "text": string(data)})
}

// ReadDiscussionTool implements read_discussion.
type ReadDiscussionTool struct{ d *Deps }

func (t *ReadDiscussionTool) Name() string        { return "read_discussion" }
func (t *ReadDiscussionTool) Description() string { return "Read the discussion document (positions, proposed resolutions, approval state) for a draft." }
func (t *ReadDiscussionTool) Parameters() map[string]any {
	return schema([]string{"contract_id"}, map[string]any{"contract_id": strProp("the contract slug id")})
}
func (t *ReadDiscussionTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	id := GetString(params, "contract_id", "")
	disc, err := loadDiscussion(t.d, id)
	if err != nil {
		return toJSON(map[string]any{"success": false, "errors": []string{err.Error()}})
	}
	return toJSON(map[string]any{"success": true, "discussion": disc})
}

// ReadGovernancePolicyTool implements read_governance_policy.
type ReadGovernancePolicyTool struct{ d *Deps }

func (t *ReadGovernancePolicyTool) Name() string        { return "read_governance_policy" }
func (t *ReadGovernancePolicyTool) Description() string { return "Read the tier -> approval policy map." }
func (t *ReadGovernancePolicyTool) Parameters() map[string]any {
	return schema(nil, map[string]any{})
}
func (t *ReadGovernancePolicyTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	pol, err := loadPolicy(t.d)
	if err != nil {
		return toJSON(map[string]any{"success": false, "errors": []string{err.Error()}})
	}
	return toJSON(map[string]any{"success": true, "policy": pol})
}

// ReadRolesTool implements read_roles.
type ReadRolesTool struct{ d *Deps }

func (t *ReadRolesTool) Name() string        { return "read_roles" }
func (t *ReadRolesTool) Description() string { return "Read the merged (defaults + runtime) role -> usernames map." }
func (t *ReadRolesTool) Parameters() map[string]any {
	return schema(nil, map[string]any{})
}
func (t *ReadRolesTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	roles, err := loadRoles(t.d)
	if err != nil {
		return toJSON(map[string]any{"success": false, "errors": []string{err.Error()}})
	}
	return toJSON(map[string]any{"success": true, "roles": roles})
}

// ValidateContractTool implements validate_contract.
type ValidateContractTool struct{ d *Deps }

func (t *ValidateContractTool) Name() string        { return "validate_contract" }
func (t *ValidateContractTool) Description() string { return "Run the structural validator over a draft or contract's current text without saving." }
func (t *ValidateContractTool) Parameters() map[string]any {
	return schema([]string{"contract_id"}, map[string]any{
		"contract_id": strProp("the contract slug id"),
		"is_draft":    boolProp("true to validate drafts/<id>.md instead of contracts/<id>.md"),
	})
}
func (t *ValidateContractTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	id := GetString(params, "contract_id", "")
	path := contractPath(id)
	if GetBool(params, "is_draft", false) {
		path = draftPath(id)
	}
	data, err := t.d.Store.Read(path)
	if err != nil {
		return toJSON(map[string]any{"success": false, "errors": []string{fmt.Sprintf("%q not found", id)}})
	}
	result := validator.Validate(contract.Parse(string(data)))
	return toJSON(map[string]any{"success": true, "result": result})
}

// CheckApprovalTool implements check_approval.
type CheckApprovalTool struct{ d *Deps }

func (t *CheckApprovalTool) Name() string        { return "check_approval" }
func (t *CheckApprovalTool) Description() string { return "Report the approval state and quorum status for a draft under review." }
func (t *CheckApprovalTool) Parameters() map[string]any {
	return schema([]string{"contract_id"}, map[string]any{"contract_id": strProp("the contract slug id")})
}
func (t *CheckApprovalTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	id := GetString(params, "contract_id", "")
	disc, err := loadDiscussion(t.d, id)
	if err != nil {
		return toJSON(map[string]any{"success": false, "errors": []string{err.Error()}})
	}
	if disc.ApprovalState == nil {
		return toJSON(map[string]any{"success": true, "requested": false})
	}
	return toJSON(map[string]any{
		"success":      true,
		"requested":    true,
		"approval":     disc.ApprovalState,
		"quorum_met":   disc.ApprovalState.QuorumMet(),
	})
}

// DiffContractTool implements diff_contract.
type DiffContractTool struct{ d *Deps }

func (t *DiffContractTool) Name() string        { return "diff_contract" }
func (t *DiffContractTool) Description() string { return "Line-diff two saved versions of a contract (or a version against the current text)." }
func (t *DiffContractTool) Parameters() map[string]any {
	return schema([]string{"contract_id", "from_ts"}, map[string]any{
		"contract_id": strProp("the contract slug id"),
		"from_ts":     strProp("the earlier version timestamp, from history.jsonl"),
		"to_ts":       strProp("the later version timestamp; omit to diff against the current text"),
	})
}
func (t *DiffContractTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	id := GetString(params, "contract_id", "")
	fromTS := GetString(params, "from_ts", "")
	toTS := GetString(params, "to_ts", "")

	fromData, err := t.d.Store.Read(fmt.Sprintf("contracts/versions/%s/%s.md", id, fromTS))
	if err != nil {
		return toJSON(map[string]any{"success": false, "errors": []string{fmt.Sprintf("version %s not found for %s", fromTS, id)}})
	}
	var toData []byte
	if toTS == "" {
		toData, err = t.d.Store.Read(contractPath(id))
	} else {
		toData, err = t.d.Store.Read(fmt.Sprintf("contracts/versions/%s/%s.md", id, toTS))
	}
	if err != nil {
		return toJSON(map[string]any{"success": false, "errors": []string{"target version not found"}})
	}

	return toJSON(map[string]any{"success": true, "diff": lineDiff(string(fromData), string(toData))})
}

// lineDiff is a minimal line-oriented diff: it returns the removed ("- ")
// and added ("+ ") lines, sorted; unchanged lines and line order are not
// kept. No pack example repo imports a diff library for application
// (non-test) code — go-difflib only ever arrives transitively through
// testify assertions — so this stays on the standard library rather than
// pulling in a diff package with no grounding in the corpus's own code.
func lineDiff(from, to string) []string {
	fromLines := strings.Split(from, "\n")
	toLines := strings.Split(to, "\n")
	fromSet := make(map[string]int, len(fromLines))
	for _, l := range fromLines {
		fromSet[l]++
	}
	toSet := make(map[string]int, len(toLines))
	for _, l := range toLines {
		toSet[l]++
	}

	var out []string
	for _, l := range fromLines {
		if toSet[l] > 0 {
			toSet[l]--
			continue
		}
		out = append(out, "- "+l)
	}
	for _, l := range toLines {
		if fromSet[l] > 0 {
			fromSet[l]--
			continue
		}
		out = append(out, "+ "+l)
	}
	sort.Strings(out)
	return out
}

// ListContractsTool implements list_contracts.
type ListContractsTool struct{ d *Deps }

func (t *ListContractsTool) Name() string        { return "list_contracts" }
func (t *ListContractsTool) Description() string { return "List contracts from the index, optionally filtered by status." }
func (t *ListContractsTool) Parameters() map[string]any {
	return schema(nil, map[string]any{"status": strProp("optional status filter, e.g. draft|in_review|agreed|approved|active|deprecated|archived")})
}
func (t *ListContractsTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	idx, err := loadIndex(t.d)
	if err != nil {
		return toJSON(map[string]any{"success": false, "errors": []string{err.Error()}})
	}
	status := GetString(params, "status", "")
	var ids []string
	for id, rec := range idx {
		if status != "" && rec.Status != status {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]*contract.IndexRecord, 0, len(ids))
	for _, id := range ids {
		out = append(out, idx[id])
	}
	return toJSON(map[string]any{"success": true, "contracts": out})
}

// GenerateContractTemplateTool implements generate_contract_template.
type GenerateContractTemplateTool struct{ d *Deps }

func (t *GenerateContractTemplateTool) Name() string { return "generate_contract_template" }
func (t *GenerateContractTemplateTool) Description() string {
	return "Render a blank contract markdown document with every required section, for a new metric."
}
func (t *GenerateContractTemplateTool) Parameters() map[string]any {
	return schema([]string{"name"}, map[string]any{"name": strProp("human-readable metric name for the H1 heading")})
}
func (t *GenerateContractTemplateTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	name := GetString(params, "name", "")
	var b strings.Builder
	fmt.Fprintf(&b, "# Data Contract: %s\n\n", name)
	for _, section := range contract.RequiredSections {
		fmt.Fprintf(&b, "## %s\n\n_TODO_\n\n", section)
	}
	for _, section := range contract.RecommendedSections {
		fmt.Fprintf(&b, "## %s\n\n_TODO_\n\n", section)
	}
	return toJSON(map[string]any{"success": true, "text": b.String()})
}

// ParticipantStatsTool implements participant_stats.
type ParticipantStatsTool struct{ d *Deps }

func (t *ParticipantStatsTool) Name() string        { return "participant_stats" }
func (t *ParticipantStatsTool) Description() string { return "Look up a participant's onboarding state, last-active timestamp, and owned contracts." }
func (t *ParticipantStatsTool) Parameters() map[string]any {
	return schema([]string{"username"}, map[string]any{"username": strProp("the participant's username")})
}
func (t *ParticipantStatsTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	username := strings.ToLower(GetString(params, "username", ""))
	idx, err := t.d.Identity.LoadIndex()
	if err != nil {
		return toJSON(map[string]any{"success": false, "errors": []string{err.Error()}})
	}
	rec, ok := idx[username]
	if !ok {
		return toJSON(map[string]any{"success": false, "errors": []string{fmt.Sprintf("unknown participant %q", username)}})
	}

	contractIdx, err := loadIndex(t.d)
	if err != nil {
		return toJSON(map[string]any{"success": false, "errors": []string{err.Error()}})
	}
	roles, err := loadRoles(t.d)
	if err != nil {
		return toJSON(map[string]any{"success": false, "errors": []string{err.Error()}})
	}
	var owned []string
	for id, cr := range contractIdx {
		data, err := t.d.Store.Read(contractPath(id))
		if err != nil {
			continue
		}
		doc := contract.Parse(string(data))
		if body, ok := doc.Section(contract.SectionDataOwner); ok {
			for _, m := range contract.Mentions(body) {
				if strings.EqualFold(m, username) {
					owned = append(owned, cr.ID)
				}
			}
		}
	}
	sort.Strings(owned)

	return toJSON(map[string]any{
		"success":          true,
		"record":           rec,
		"roles":            roles.RolesFor(username),
		"owned_contracts":  owned,
	})
}
