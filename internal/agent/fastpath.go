package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/datacontracts/shepherd/internal/chat"
	"github.com/datacontracts/shepherd/internal/contract"
	"github.com/datacontracts/shepherd/internal/governance"
	"github.com/datacontracts/shepherd/internal/router"
	"github.com/datacontracts/shepherd/internal/store"
	"github.com/datacontracts/shepherd/internal/tools"
	"github.com/datacontracts/shepherd/internal/validator"
)

type fastPathFunc func(a *Agent, ctx context.Context, ev chat.Event, route router.Route) (string, error)

// fastPaths bypasses the LLM entirely for the subset of intents spec §4.2
// names: each handler only reads (or, for the two lifecycle/role writers,
// writes exactly the state its intent implies).
var fastPaths = map[router.Intent]fastPathFunc{
	router.IntentContractHistory:          fpContractHistory,
	router.IntentContractVersion:          fpContractVersion,
	router.IntentContractDiff:             fpContractDiff,
	router.IntentShowContract:             fpShowContract,
	router.IntentShowDraft:                fpShowDraft,
	router.IntentConflictsAudit:           fpConflictsAudit,
	router.IntentRelationshipsShow:        fpRelationshipsShow,
	router.IntentGovernanceReviewAudit:    fpGovernanceReviewAudit,
	router.IntentGovernancePolicyShow:     fpGovernancePolicyShow,
	router.IntentGovernanceRequirementsFor: fpGovernanceRequirementsFor,
	router.IntentLifecycleGetStatus:       fpLifecycleGetStatus,
	router.IntentLifecycleSetStatus:       fpLifecycleSetStatus,
	router.IntentRolesAssign:              fpRolesAssign,
}

func fpShowContract(a *Agent, ctx context.Context, ev chat.Event, route router.Route) (string, error) {
	data, err := a.Store.Read("contracts/" + route.Entity + ".md")
	if err != nil {
		return fmt.Sprintf("no contract named %q.", route.Entity), nil
	}
	return string(data), nil
}

func fpShowDraft(a *Agent, ctx context.Context, ev chat.Event, route router.Route) (string, error) {
	data, err := a.Store.Read("drafts/" + route.Entity + ".md")
	if err != nil {
		return fmt.Sprintf("no draft named %q.", route.Entity), nil
	}
	return string(data), nil
}

func fpContractHistory(a *Agent, ctx context.Context, ev chat.Event, route router.Route) (string, error) {
	var records []store.VersionRecord
	err := a.Store.ReadJSONL("contracts/versions/"+route.Entity+"/history.jsonl", func(line []byte) error {
		var rec store.VersionRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return err
		}
		records = append(records, rec)
		return nil
	})
	if err != nil || len(records) == 0 {
		return fmt.Sprintf("no version history for %q.", route.Entity), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "history for %s:\n", route.Entity)
	for _, r := range records {
		fmt.Fprintf(&b, "- %s (%s, %d bytes, sha256 %s)\n", r.TS, r.Kind, r.Bytes, r.SHA256[:12])
	}
	return b.String(), nil
}

var versionArgsRe = regexp.MustCompile(`(?i)^\s*(?:version|версия)\s+[a-z0-9_\-]+(?:\s+(\S+))?`)

func fpContractVersion(a *Agent, ctx context.Context, ev chat.Event, route router.Route) (string, error) {
	ts := ""
	if m := versionArgsRe.FindStringSubmatch(ev.Text); m != nil {
		ts = m[1]
	}
	if ts == "" {
		data, err := a.Store.Read("contracts/" + route.Entity + ".md")
		if err != nil {
			return fmt.Sprintf("no contract named %q.", route.Entity), nil
		}
		return string(data), nil
	}
	data, err := a.Store.Read(fmt.Sprintf("contracts/versions/%s/%s.md", route.Entity, ts))
	if err != nil {
		return fmt.Sprintf("no version %s for %q.", ts, route.Entity), nil
	}
	return string(data), nil
}

var diffArgsRe = regexp.MustCompile(`(?i)^\s*diff\s+[a-z0-9_\-]+(?:\s+(\S+)\s+(\S+))?`)

func fpContractDiff(a *Agent, ctx context.Context, ev chat.Event, route router.Route) (string, error) {
	fromTS, toTS := "", ""
	if m := diffArgsRe.FindStringSubmatch(ev.Text); m != nil {
		fromTS, toTS = m[1], m[2]
	}

	if fromTS == "" {
		var records []store.VersionRecord
		_ = a.Store.ReadJSONL("contracts/versions/"+route.Entity+"/history.jsonl", func(line []byte) error {
			var rec store.VersionRecord
			if err := json.Unmarshal(line, &rec); err != nil {
				return err
			}
			records = append(records, rec)
			return nil
		})
		if len(records) < 2 {
			return fmt.Sprintf("not enough version history for %q to diff.", route.Entity), nil
		}
		fromTS = records[len(records)-2].TS
	}

	out, err := (&diffExecutor{a}).diff(route.Entity, fromTS, toTS)
	if err != nil {
		return "", err
	}
	return out, nil
}

// diffExecutor reuses the diff_contract tool's line-diff implementation
// directly rather than round-tripping through the registry's JSON shape.
type diffExecutor struct{ a *Agent }

func (d *diffExecutor) diff(id, fromTS, toTS string) (string, error) {
	fromData, err := d.a.Store.Read(fmt.Sprintf("contracts/versions/%s/%s.md", id, fromTS))
	if err != nil {
		return fmt.Sprintf("version %s not found for %s.", fromTS, id), nil
	}
	var toData []byte
	if toTS == "" {
		toData, err = d.a.Store.Read("contracts/" + id + ".md")
	} else {
		toData, err = d.a.Store.Read(fmt.Sprintf("contracts/versions/%s/%s.md", id, toTS))
	}
	if err != nil {
		return "target version not found.", nil
	}

	lines := lineDiff(string(fromData), string(toData))
	if len(lines) == 0 {
		return "no differences.", nil
	}
	return strings.Join(lines, "\n"), nil
}

// lineDiff mirrors tools.lineDiff (unexported there): a minimal
// multiset-based line diff. Duplicated rather than exported across the
// package boundary to keep the tool executor's surface to what the LLM
// loop actually calls.
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

func fpConflictsAudit(a *Agent, ctx context.Context, ev chat.Event, route router.Route) (string, error) {
	var idx contract.Index
	if err := a.Store.ReadJSON("contracts/index.json", &idx); err != nil || len(idx) == 0 {
		return "no contracts to audit yet.", nil
	}

	var inputs []validator.ContractInput
	for id, rec := range idx {
		data, err := a.Store.Read("contracts/" + id + ".md")
		if err != nil {
			continue
		}
		doc := contract.Parse(string(data))
		var related []string
		if body, ok := doc.Section(contract.SectionRelated); ok {
			related = contract.Mentions(body)
		}
		inputs = append(inputs, validator.ContractInput{ID: id, Name: rec.Name, Doc: doc, Related: related})
	}

	conflicts := validator.Analyze(inputs)
	if len(conflicts) == 0 {
		return "no conflicts found.", nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d conflict(s) found:\n", len(conflicts))
	for _, c := range conflicts {
		fmt.Fprintf(&b, "- [%s] %s: %s\n", c.Type, strings.Join(c.ContractIDs, ", "), c.Detail)
	}
	return b.String(), nil
}

func fpRelationshipsShow(a *Agent, ctx context.Context, ev chat.Event, route router.Route) (string, error) {
	var rels []contract.Relationship
	if err := a.Store.ReadJSON("contracts/relationships.json", &rels); err != nil || len(rels) == 0 {
		return "no relationships recorded.", nil
	}

	var matched []contract.Relationship
	for _, r := range rels {
		if route.Entity == "" || r.From == route.Entity || r.To == route.Entity {
			matched = append(matched, r)
		}
	}
	if len(matched) == 0 {
		return fmt.Sprintf("no relationships recorded for %q.", route.Entity), nil
	}

	var b strings.Builder
	for _, r := range matched {
		fmt.Fprintf(&b, "- %s --%s--> %s", r.From, r.Type, r.To)
		if r.Description != "" {
			fmt.Fprintf(&b, " (%s)", r.Description)
		}
		b.WriteString("\n")
	}
	return b.String(), nil
}

func fpGovernancePolicyShow(a *Agent, ctx context.Context, ev chat.Event, route router.Route) (string, error) {
	var pol governance.Policy
	if err := a.Store.ReadJSON("context/governance.json", &pol); err != nil || len(pol) == 0 {
		return "no governance policy configured.", nil
	}
	var tiers []string
	for t := range pol {
		tiers = append(tiers, t)
	}
	sort.Strings(tiers)

	var b strings.Builder
	for _, t := range tiers {
		tp := pol[t]
		fmt.Fprintf(&b, "%s: requires %s (threshold %.0f%%) — %s\n", t, strings.Join(tp.ApprovalRequired, ", "), tp.ConsensusThreshold*100, tp.Description)
	}
	return b.String(), nil
}

func fpGovernanceRequirementsFor(a *Agent, ctx context.Context, ev chat.Event, route router.Route) (string, error) {
	var idx contract.Index
	_ = a.Store.ReadJSON("contracts/index.json", &idx)
	tier := governance.DefaultTier
	if rec, ok := idx[route.Entity]; ok && rec.Tier != "" {
		tier = rec.Tier
	}

	var pol governance.Policy
	if err := a.Store.ReadJSON("context/governance.json", &pol); err != nil {
		return "no governance policy configured.", nil
	}
	tp, ok := pol[tier]
	if !ok {
		return fmt.Sprintf("no policy entry for tier %q.", tier), nil
	}
	return fmt.Sprintf("%s is %s: requires %s at a %.0f%% consensus threshold.", route.Entity, tier, strings.Join(tp.ApprovalRequired, ", "), tp.ConsensusThreshold*100), nil
}

func fpGovernanceReviewAudit(a *Agent, ctx context.Context, ev chat.Event, route router.Route) (string, error) {
	var idx contract.Index
	if err := a.Store.ReadJSON("contracts/index.json", &idx); err != nil || len(idx) == 0 {
		return "no contracts under review.", nil
	}
	var pol governance.Policy
	_ = a.Store.ReadJSON("context/governance.json", &pol)

	var defaults, runtime governance.RoleMap
	_ = a.Store.ReadJSON("context/roles.json", &defaults)
	_ = a.Store.ReadJSON("tasks/roles.json", &runtime)
	roles := governance.MergeRoles(defaults, runtime)

	var ids []string
	for id, rec := range idx {
		if rec.Status == contract.StatusInReview || rec.Status == contract.StatusAgreed {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if len(ids) == 0 {
		return "no contracts currently in review or agreed.", nil
	}

	var b strings.Builder
	for _, id := range ids {
		rec := idx[id]
		tier := rec.Tier
		if tier == "" {
			tier = governance.DefaultTier
		}
		tp := pol[tier]

		var approvers []string
		var disc contract.Discussion
		if err := a.Store.ReadJSON("drafts/"+id+"_discussion.json", &disc); err == nil && disc.ApprovalState != nil {
			for _, ap := range disc.ApprovalState.Approvals {
				approvers = append(approvers, ap.Username)
			}
		}
		result := governance.Check(tp, approvers, roles)
		status := "satisfied"
		if !result.OK {
			status = "missing " + strings.Join(result.MissingRoles, ", ")
		}
		fmt.Fprintf(&b, "- %s (%s, tier %s): %s\n", id, rec.Status, tier, status)
	}
	return b.String(), nil
}

func fpLifecycleGetStatus(a *Agent, ctx context.Context, ev chat.Event, route router.Route) (string, error) {
	var idx contract.Index
	if err := a.Store.ReadJSON("contracts/index.json", &idx); err != nil {
		return fmt.Sprintf("no contract named %q.", route.Entity), nil
	}
	rec, ok := idx[route.Entity]
	if !ok {
		return fmt.Sprintf("no contract named %q.", route.Entity), nil
	}
	return fmt.Sprintf("%s is %s (as of %s).", route.Entity, rec.Status, rec.StatusUpdatedAt), nil
}

var validStatuses = map[string]bool{
	contract.StatusDraft: true, contract.StatusInReview: true, contract.StatusAgreed: true,
	contract.StatusApproved: true, contract.StatusActive: true, contract.StatusDeprecated: true,
	contract.StatusArchived: true,
}

var lifecycleSetRe = regexp.MustCompile(`(?i)^\s*set\s+status\s+(?:of\s+)?[a-z0-9_\-]+\s+(?:to\s+)?([a-z_]+)`)

func fpLifecycleSetStatus(a *Agent, ctx context.Context, ev chat.Event, route router.Route) (string, error) {
	m := lifecycleSetRe.FindStringSubmatch(ev.Text)
	if m == nil {
		return "couldn't parse the target status from that message.", nil
	}
	newStatus := strings.ToLower(m[1])
	if !validStatuses[newStatus] {
		return fmt.Sprintf("%q is not a valid status.", newStatus), nil
	}

	writable := tools.NewCatalog(a.Deps, true)
	out, err := writable.Execute(ctx, "set_contract_status", map[string]any{
		"contract_id": route.Entity,
		"status":      newStatus,
	})
	if err != nil {
		return "", err
	}
	if strings.Contains(out, `"success": false`) {
		return fmt.Sprintf("could not set %s to %s.", route.Entity, newStatus), nil
	}
	return fmt.Sprintf("%s is now %s.", route.Entity, newStatus), nil
}

var roleLineRe = regexp.MustCompile(`(?i)^\s*(Data Lead|Circle Lead)\s*[—\-–:]\s*@(\S+)`)

func fpRolesAssign(a *Agent, ctx context.Context, ev chat.Event, route router.Route) (string, error) {
	writable := tools.NewCatalog(a.Deps, true)
	var assigned []string
	var failed []string
	for _, line := range strings.Split(ev.Text, "\n") {
		m := roleLineRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		role, mention := m[1], m[2]
		out, err := writable.Execute(ctx, "assign_role", map[string]any{"role": role, "mention": "@" + mention})
		if err != nil || strings.Contains(out, `"success": false`) {
			failed = append(failed, fmt.Sprintf("%s (%s)", mention, role))
			continue
		}
		assigned = append(assigned, fmt.Sprintf("%s -> %s", mention, role))
	}

	if len(assigned) == 0 && len(failed) == 0 {
		return "no role assignment lines recognized.", nil
	}
	var b strings.Builder
	if len(assigned) > 0 {
		fmt.Fprintf(&b, "assigned: %s\n", strings.Join(assigned, ", "))
	}
	if len(failed) > 0 {
		fmt.Fprintf(&b, "could not resolve: %s\n", strings.Join(failed, ", "))
	}
	return b.String(), nil
}
