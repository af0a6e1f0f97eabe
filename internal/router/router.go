// Package router classifies an inbound chat message into one of a closed
// intent set (spec §4.1): deterministic regex fast-paths first, falling back
// to a cheap LLM classifier with permissive JSON extraction.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"unicode"

	"github.com/datacontracts/shepherd/internal/llm"
)

// Intent is one member of the router's closed classification set.
type Intent string

const (
	IntentContractHistory          Intent = "contract_history"
	IntentContractVersion          Intent = "contract_version"
	IntentContractDiff             Intent = "contract_diff"
	IntentShowContract             Intent = "show_contract"
	IntentShowDraft                Intent = "show_draft"
	IntentConflictsAudit           Intent = "conflicts_audit"
	IntentRelationshipsShow        Intent = "relationships_show"
	IntentGovernanceReviewAudit    Intent = "governance_review_audit"
	IntentGovernancePolicyShow     Intent = "governance_policy_show"
	IntentGovernanceRequirementsFor Intent = "governance_requirements_for"
	IntentLifecycleGetStatus       Intent = "lifecycle_get_status"
	IntentLifecycleSetStatus       Intent = "lifecycle_set_status"
	IntentRolesAssign              Intent = "roles_assign"
	IntentContractDiscussion       Intent = "contract_discussion"
	IntentNewContractInit          Intent = "new_contract_init"
	IntentProblemReport            Intent = "problem_report"
	IntentProfileIntro             Intent = "profile_intro"
	IntentGeneralQuestion          Intent = "general_question"
	IntentStatusRequest            Intent = "status_request"
	IntentContractRequest          Intent = "contract_request"
	IntentIrrelevant               Intent = "irrelevant"
)

// Model is the LLM tier a route should be served by.
type Model string

const (
	ModelCheap Model = "cheap"
	ModelHeavy Model = "heavy"
)

// ChannelKind distinguishes a channel post from a direct message.
type ChannelKind string

const (
	ChannelKindChannel ChannelKind = "channel"
	ChannelKindDM      ChannelKind = "dm"
)

// BootstrapFiles is the stable set of context files force-loaded for
// new_contract_init, per spec §4.1.
var BootstrapFiles = []string{
	"context/metrics_tree.md",
	"context/governance.json",
	"context/glossary.json",
	"context/roles.json",
}

// Route is the Router's output: the classified intent plus whatever the
// Agent needs to act on it.
type Route struct {
	Type      Intent
	Entity    string
	LoadFiles []string
	Model     Model
}

// Input is the Router's input.
type Input struct {
	Username         string
	Message          string
	ChannelKind      ChannelKind
	ThreadTranscript string
}

// ResolveMention resolves a raw username or display name mentioned in a
// roles_assign message to a canonical username. Implementations back onto
// the chat service's user lookup.
type ResolveMention func(ctx context.Context, mention string) (username string, ok bool)

// Router classifies inbound messages.
type Router struct {
	Provider llm.Provider
	Model    string // model name used for the cheap classifier call
	Resolve  ResolveMention
}

var (
	reContractHistory = regexp.MustCompile(`(?i)^\s*(history|история)\s+(?:of\s+|для\s+)?([a-z0-9_\-]+)`)
	reContractVersion = regexp.MustCompile(`(?i)^\s*(version|версия)\s+([a-z0-9_\-]+)(?:\s+(\S+))?`)
	reContractDiff    = regexp.MustCompile(`(?i)^\s*diff\s+([a-z0-9_\-]+)(?:\s+(\S+)\s+(\S+))?`)
	reShowContract    = regexp.MustCompile(`(?i)^\s*(show|показать)\s+contract\s+([a-z0-9_\-]+)`)
	reShowDraft       = regexp.MustCompile(`(?i)^\s*(show|показать)\s+draft\s+([a-z0-9_\-]+)`)

	reConflictsAudit    = regexp.MustCompile(`(?i)^\s*conflicts\s*(audit)?\s*$`)
	reRelationshipsShow = regexp.MustCompile(`(?i)^\s*relationships\s+(for\s+)?([a-z0-9_\-]+)`)
	reGovReviewAudit    = regexp.MustCompile(`(?i)^\s*governance\s+review\s*$`)
	reGovPolicyShow     = regexp.MustCompile(`(?i)^\s*governance\s+policy\s*$`)
	reGovRequirementsFor = regexp.MustCompile(`(?i)^\s*(requirements|required roles?)\s+for\s+([a-z0-9_\-]+)`)

	reLifecycleGet = regexp.MustCompile(`(?i)^\s*status\s+(?:of\s+)?([a-z0-9_\-]+)\s*\??\s*$`)
	reLifecycleSet = regexp.MustCompile(`(?i)^\s*set\s+status\s+(?:of\s+)?([a-z0-9_\-]+)\s+(?:to\s+)?([a-z_]+)`)

	reRoleLine = regexp.MustCompile(`(?i)^\s*(Data Lead|Circle Lead)\s*[—\-–:]\s*@(\S+)`)
)

// Classify implements spec §4.1's two-stage routing: deterministic regex
// fast-paths, falling back to a cheap-LLM classifier for the open-text
// intents.
func (r *Router) Classify(ctx context.Context, in Input) (Route, error) {
	head := strings.TrimSpace(in.Message)

	if m := reContractHistory.FindStringSubmatch(head); m != nil {
		return Route{Type: IntentContractHistory, Entity: m[2], Model: ModelHeavy}, nil
	}
	if m := reContractVersion.FindStringSubmatch(head); m != nil {
		return Route{Type: IntentContractVersion, Entity: m[2], Model: ModelHeavy}, nil
	}
	if m := reContractDiff.FindStringSubmatch(head); m != nil {
		return Route{Type: IntentContractDiff, Entity: m[1], Model: ModelHeavy}, nil
	}
	if m := reShowContract.FindStringSubmatch(head); m != nil {
		return Route{Type: IntentShowContract, Entity: m[2], Model: ModelHeavy}, nil
	}
	if m := reShowDraft.FindStringSubmatch(head); m != nil {
		return Route{Type: IntentShowDraft, Entity: m[2], Model: ModelHeavy}, nil
	}
	if reConflictsAudit.MatchString(head) {
		return Route{Type: IntentConflictsAudit, Model: ModelHeavy}, nil
	}
	if m := reRelationshipsShow.FindStringSubmatch(head); m != nil {
		return Route{Type: IntentRelationshipsShow, Entity: m[2], Model: ModelHeavy}, nil
	}
	if reGovReviewAudit.MatchString(head) {
		return Route{Type: IntentGovernanceReviewAudit, Model: ModelHeavy}, nil
	}
	if reGovPolicyShow.MatchString(head) {
		return Route{Type: IntentGovernancePolicyShow, Model: ModelHeavy}, nil
	}
	if m := reGovRequirementsFor.FindStringSubmatch(head); m != nil {
		return Route{Type: IntentGovernanceRequirementsFor, Entity: m[2], Model: ModelHeavy}, nil
	}
	if m := reLifecycleSet.FindStringSubmatch(head); m != nil {
		return Route{Type: IntentLifecycleSetStatus, Entity: m[1], Model: ModelHeavy}, nil
	}
	if m := reLifecycleGet.FindStringSubmatch(head); m != nil {
		return Route{Type: IntentLifecycleGetStatus, Entity: m[1], Model: ModelHeavy}, nil
	}
	if reRoleLine.MatchString(in.Message) {
		return r.classifyRoleAssign(ctx, in)
	}

	return r.classifyWithLLM(ctx, in)
}

// classifyRoleAssign handles roles_assign, resolving each mentioned
// display-name or username via the chat service. If resolution fails the
// router short-circuits with a precise error, per spec §4.1.
func (r *Router) classifyRoleAssign(ctx context.Context, in Input) (Route, error) {
	for _, line := range strings.Split(in.Message, "\n") {
		m := reRoleLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		mention := m[2]
		if r.Resolve != nil {
			if _, ok := r.Resolve(ctx, mention); !ok {
				return Route{}, fmt.Errorf("could not resolve %q to a known user", mention)
			}
		}
	}
	return Route{Type: IntentRolesAssign, Model: ModelHeavy}, nil
}

const classifyPrompt = `Classify the following chat message into exactly one of:
contract_discussion, new_contract_init, problem_report, profile_intro,
general_question, status_request, contract_request, irrelevant.

Respond with a single JSON object: {"intent": "...", "entity": "..."}.
"entity" is the contract or metric name the message is about, or "" if none.

Message:
%s`

// classifyWithLLM covers the open-text intent set via a cheap-model call,
// parsed permissively per spec §4.1 (first "{" to last "}", fenced blocks
// stripped, falling back to general_question on any failure).
func (r *Router) classifyWithLLM(ctx context.Context, in Input) (Route, error) {
	fallback := Route{Type: IntentGeneralQuestion, Model: ModelCheap}
	if r.Provider == nil {
		return fallback, nil
	}

	req := &llm.ChatRequest{
		Model: r.Model,
		Messages: []llm.Message{
			{Role: "user", Content: fmt.Sprintf(classifyPrompt, in.Message)},
		},
		MaxTokens:   200,
		Temperature: 0,
	}
	resp, err := r.Provider.Chat(ctx, req)
	if err != nil {
		slog.Warn("router: cheap classifier call failed, falling back", "error", err)
		return fallback, nil
	}

	var parsed struct {
		Intent string `json:"intent"`
		Entity string `json:"entity"`
	}
	if err := json.Unmarshal([]byte(extractJSONObject(resp.Content)), &parsed); err != nil {
		slog.Warn("router: could not parse classifier response, falling back", "error", err)
		return fallback, nil
	}

	intent := Intent(parsed.Intent)
	switch intent {
	case IntentContractDiscussion, IntentNewContractInit, IntentProblemReport,
		IntentProfileIntro, IntentGeneralQuestion, IntentStatusRequest,
		IntentContractRequest, IntentIrrelevant:
	default:
		return fallback, nil
	}

	route := Route{Type: intent, Entity: parsed.Entity, Model: modelFor(intent)}
	if intent == IntentNewContractInit {
		route.LoadFiles = BootstrapFiles
		route.Entity = Slugify(route.Entity)
	}
	return route, nil
}

// modelFor applies spec §4.1's cheap/heavy policy: contract_request,
// status_request and irrelevant route to the cheap model; everything else
// to the heavy model.
func modelFor(intent Intent) Model {
	switch intent {
	case IntentContractRequest, IntentStatusRequest, IntentIrrelevant:
		return ModelCheap
	default:
		return ModelHeavy
	}
}

// extractJSONObject returns the substring from the first "{" to the last
// "}", with fenced code blocks stripped first. Returns "{}" if no braces are
// found, so callers get a clean unmarshal failure rather than a panic.
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

// Slugify transliterates non-ASCII entity names to lowercase ASCII with "_"
// separators, length-capped, per spec §4.1's new_contract_init handling.
func Slugify(name string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range strings.ToLower(transliterate(name)) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore && b.Len() > 0 {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	slug := strings.Trim(b.String(), "_")
	const maxLen = 64
	if len(slug) > maxLen {
		slug = strings.TrimRight(slug[:maxLen], "_")
	}
	return slug
}

var cyrillicTranslit = map[rune]string{
	'а': "a", 'б': "b", 'в': "v", 'г': "g", 'д': "d", 'е': "e", 'ё': "e",
	'ж': "zh", 'з': "z", 'и': "i", 'й': "y", 'к': "k", 'л': "l", 'м': "m",
	'н': "n", 'о': "o", 'п': "p", 'р': "r", 'с': "s", 'т': "t", 'у': "u",
	'ф': "f", 'х': "h", 'ц': "ts", 'ч': "ch", 'ш': "sh", 'щ': "sch",
	'ъ': "", 'ы': "y", 'ь': "", 'э': "e", 'ю': "yu", 'я': "ya",
}

// transliterate maps Cyrillic letters to ASCII approximations; other
// non-ASCII runes are dropped by the caller's filter.
func transliterate(s string) string {
	var b strings.Builder
	for _, r := range s {
		lower := unicode.ToLower(r)
		if repl, ok := cyrillicTranslit[lower]; ok {
			b.WriteString(repl)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
