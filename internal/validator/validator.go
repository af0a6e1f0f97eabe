// Package validator implements the deterministic, pure checks over contract
// markdown: structural section presence, the Extra-Time linkage invariant,
// and the cross-contract conflict analyzer. None of it calls the LLM or the
// store — every function here takes text in and returns issues out.
package validator

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/datacontracts/shepherd/internal/contract"
)

// Severity distinguishes save-blocking errors from advisory warnings.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one validation finding.
type Issue struct {
	Severity Severity `json:"severity"`
	Code     string   `json:"code"`
	Message  string   `json:"message"`
}

// Result aggregates structural validation output.
type Result struct {
	Errors   []Issue `json:"errors"`
	Warnings []Issue `json:"warnings"`
}

// OK reports whether there are no save-blocking errors.
func (r Result) OK() bool { return len(r.Errors) == 0 }

var arrowRe = regexp.MustCompile(`->|—>|=>|→`)
var extraTimeRe = regexp.MustCompile(`(?i)extra time`)

// Validate runs the structural checks from spec §4.6 against parsed markdown.
func Validate(doc *contract.Doc) Result {
	var res Result

	for _, section := range contract.RequiredSections {
		body, ok := doc.Section(section)
		if !ok {
			res.Errors = append(res.Errors, Issue{
				Severity: SeverityError, Code: "missing_section",
				Message: fmt.Sprintf("missing required section: %s", section),
			})
			continue
		}
		if strings.TrimSpace(body) == "" {
			res.Errors = append(res.Errors, Issue{
				Severity: SeverityError, Code: "empty_section",
				Message: fmt.Sprintf("required section is empty: %s", section),
			})
		}
	}

	for _, section := range contract.RecommendedSections {
		if body, ok := doc.Section(section); !ok || strings.TrimSpace(body) == "" {
			res.Warnings = append(res.Warnings, Issue{
				Severity: SeverityWarning, Code: "missing_recommended_section",
				Message: fmt.Sprintf("missing recommended section: %s", section),
			})
		}
	}

	if body, ok := doc.Section(contract.SectionFormula); ok {
		lower := strings.ToLower(body)
		if !strings.Contains(lower, "human") && !strings.Contains(lower, "человеч") {
			res.Warnings = append(res.Warnings, Issue{
				Severity: SeverityWarning, Code: "missing_human_formula",
				Message: "Формула section has no human-readable restatement",
			})
		}
		if !strings.Contains(lower, "select") && !strings.Contains(lower, "sql") {
			res.Warnings = append(res.Warnings, Issue{
				Severity: SeverityWarning, Code: "missing_pseudo_sql",
				Message: "Формула section has no pseudo-SQL restatement",
			})
		}
	}

	if body, ok := doc.Section(contract.SectionExtraTimeLink); ok {
		if err := validateExtraTimeLink(body); err != nil {
			res.Errors = append(res.Errors, Issue{
				Severity: SeverityError, Code: "invalid_extra_time_link", Message: err.Error(),
			})
		}
	}

	return res
}

// validateExtraTimeLink enforces §8 invariant 9: the section must contain
// both the literal "extra time" (case-insensitive) and an accepted arrow.
func validateExtraTimeLink(body string) error {
	hasLiteral := extraTimeRe.MatchString(body)
	hasArrow := arrowRe.MatchString(body)
	if !hasLiteral || !hasArrow {
		return fmt.Errorf("Связь с Extra Time must contain an arrow (→, ->, —>, =>) and the literal \"extra time\"")
	}
	return nil
}

// ---------------------------------------------------------------------
// Conflict analyzer (spec §4.6)
// ---------------------------------------------------------------------

// ConflictType is a tagged variant naming the kind of cross-contract issue.
type ConflictType string

const (
	ConflictMissingFormula     ConflictType = "missing_formula"
	ConflictMissingDefinition  ConflictType = "missing_definition"
	ConflictMissingDataSource  ConflictType = "missing_data_source"
	ConflictBadExtraTimePath   ConflictType = "malformed_extra_time_path"
	ConflictAmbiguousFormula   ConflictType = "ambiguous_formula"
	ConflictDuplicateFormula   ConflictType = "duplicate_name_different_formula"
	ConflictSelfReference      ConflictType = "self_reference"
	ConflictUnknownRelatedID   ConflictType = "unknown_related_id"
	ConflictCyclicDependency   ConflictType = "cyclic_dependency"
	ConflictOverlappingDefn    ConflictType = "overlapping_definition"
)

// Conflict is one analyzer finding, scoped to one or more contract ids.
type Conflict struct {
	Type        ConflictType `json:"type"`
	ContractIDs []string     `json:"contract_ids"`
	Detail      string       `json:"detail"`
}

// ContractInput is the minimal view the analyzer needs per contract.
type ContractInput struct {
	ID      string
	Name    string
	Doc     *contract.Doc
	Related []string // ids referenced in "Связанные контракты"
}

var weaselWords = []string{"примерно", "около", "приблизительно", "где-то"}

// Analyze runs every cross-contract check over the given set of contracts
// and returns the union of conflicts found.
func Analyze(contracts []ContractInput) []Conflict {
	var conflicts []Conflict
	knownIDs := make(map[string]bool, len(contracts))
	for _, c := range contracts {
		knownIDs[c.ID] = true
	}

	byNormName := make(map[string][]ContractInput)

	for _, c := range contracts {
		if formula, ok := c.Doc.Section(contract.SectionFormula); !ok || strings.TrimSpace(formula) == "" {
			conflicts = append(conflicts, Conflict{Type: ConflictMissingFormula, ContractIDs: []string{c.ID}, Detail: "formula section missing or empty"})
		}
		if def, ok := c.Doc.Section(contract.SectionDefinition); !ok || strings.TrimSpace(def) == "" {
			conflicts = append(conflicts, Conflict{Type: ConflictMissingDefinition, ContractIDs: []string{c.ID}, Detail: "definition section missing or empty"})
		}
		if src, ok := c.Doc.Section(contract.SectionDataSource); !ok || strings.TrimSpace(src) == "" {
			conflicts = append(conflicts, Conflict{Type: ConflictMissingDataSource, ContractIDs: []string{c.ID}, Detail: "data source section missing or empty"})
		}

		if link, ok := c.Doc.Section(contract.SectionExtraTimeLink); ok {
			if !isWellFormedExtraTimePath(link, c.Name) {
				conflicts = append(conflicts, Conflict{Type: ConflictBadExtraTimePath, ContractIDs: []string{c.ID}, Detail: "Extra-Time path must start with the metric name and end with \"Extra Time\""})
			}
		}

		if formula, ok := c.Doc.Section(contract.SectionFormula); ok && containsWeaselWord(formula) {
			conflicts = append(conflicts, Conflict{Type: ConflictAmbiguousFormula, ContractIDs: []string{c.ID}, Detail: "formula contains ambiguous wording"})
		}

		for _, rid := range c.Related {
			if rid == c.ID {
				conflicts = append(conflicts, Conflict{Type: ConflictSelfReference, ContractIDs: []string{c.ID}, Detail: "contract lists itself as related"})
				continue
			}
			if !knownIDs[rid] {
				conflicts = append(conflicts, Conflict{Type: ConflictUnknownRelatedID, ContractIDs: []string{c.ID}, Detail: fmt.Sprintf("related id %q is unknown", rid)})
			}
		}

		norm := normalizeName(c.Name)
		byNormName[norm] = append(byNormName[norm], c)
	}

	for _, group := range byNormName {
		if len(group) < 2 {
			continue
		}
		formulas := make(map[string][]string)
		for _, c := range group {
			f, _ := c.Doc.Section(contract.SectionFormula)
			key := normalizeFormula(f)
			formulas[key] = append(formulas[key], c.ID)
		}
		if len(formulas) > 1 {
			var ids []string
			for _, group := range formulas {
				ids = append(ids, group...)
			}
			sort.Strings(ids)
			conflicts = append(conflicts, Conflict{Type: ConflictDuplicateFormula, ContractIDs: ids, Detail: "same normalized name, different formulas"})
		}
	}

	conflicts = append(conflicts, detectCycles(contracts)...)
	conflicts = append(conflicts, detectOverlappingDefinitions(contracts)...)

	return conflicts
}

func containsWeaselWord(s string) bool {
	lower := strings.ToLower(s)
	for _, w := range weaselWords {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

func normalizeName(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func normalizeFormula(s string) string {
	s = strings.ToLower(s)
	s = strings.Join(strings.Fields(s), " ")
	return s
}

func isWellFormedExtraTimePath(link, metricName string) bool {
	trimmed := strings.TrimSpace(link)
	if metricName != "" && !strings.HasPrefix(strings.ToLower(trimmed), strings.ToLower(metricName)) {
		return false
	}
	return extraTimeRe.MatchString(trimmed) && arrowRe.MatchString(trimmed)
}

// detectCycles runs DFS over the Related graph and reports exactly one
// cyclic_dependency conflict per canonical (rotation-deduplicated) cycle,
// per §8 invariant 8.
func detectCycles(contracts []ContractInput) []Conflict {
	graph := make(map[string][]string, len(contracts))
	for _, c := range contracts {
		graph[c.ID] = c.Related
	}

	seenCycles := make(map[string]bool)
	var conflicts []Conflict

	var path []string
	onPath := make(map[string]bool)
	var visit func(node string)
	visit = func(node string) {
		path = append(path, node)
		onPath[node] = true
		for _, next := range graph[node] {
			if onPath[next] {
				cycle := extractCycle(path, next)
				key := canonicalCycleKey(cycle)
				if !seenCycles[key] {
					seenCycles[key] = true
					conflicts = append(conflicts, Conflict{
						Type: ConflictCyclicDependency, ContractIDs: cycle,
						Detail: "cycle in Related graph: " + strings.Join(cycle, " -> "),
					})
				}
				continue
			}
			if _, ok := graph[next]; ok {
				visit(next)
			}
		}
		path = path[:len(path)-1]
		delete(onPath, node)
	}
	for _, c := range contracts {
		visit(c.ID)
	}
	return conflicts
}

func extractCycle(path []string, repeat string) []string {
	for i, n := range path {
		if n == repeat {
			out := make([]string, len(path)-i)
			copy(out, path[i:])
			return out
		}
	}
	return []string{repeat}
}

// canonicalCycleKey rotates a cycle to start at its lexicographically
// smallest node, so A->B->C->A and B->C->A->B dedup to the same key.
func canonicalCycleKey(cycle []string) string {
	if len(cycle) == 0 {
		return ""
	}
	minIdx := 0
	for i, n := range cycle {
		if n < cycle[minIdx] {
			minIdx = i
		}
	}
	rotated := append(append([]string{}, cycle[minIdx:]...), cycle[:minIdx]...)
	return strings.Join(rotated, "->")
}

// detectOverlappingDefinitions applies the Jaccard/shared-token heuristic
// from spec §4.6 across every contract pair.
func detectOverlappingDefinitions(contracts []ContractInput) []Conflict {
	type tokenSet struct {
		id     string
		tokens map[string]bool
	}
	var sets []tokenSet
	for _, c := range contracts {
		def, _ := c.Doc.Section(contract.SectionDefinition)
		sets = append(sets, tokenSet{id: c.ID, tokens: tokenize(def)})
	}

	var conflicts []Conflict
	for i := 0; i < len(sets); i++ {
		for j := i + 1; j < len(sets); j++ {
			a, b := sets[i], sets[j]
			shared := intersectionSize(a.tokens, b.tokens)
			if len(a.tokens) < 6 || len(b.tokens) < 6 {
				if shared >= 5 {
					conflicts = append(conflicts, Conflict{
						Type: ConflictOverlappingDefn, ContractIDs: []string{a.id, b.id},
						Detail: fmt.Sprintf("%d shared definition tokens", shared),
					})
				}
				continue
			}
			jaccard := float64(shared) / float64(len(union(a.tokens, b.tokens)))
			if jaccard >= 0.45 || shared >= 5 {
				conflicts = append(conflicts, Conflict{
					Type: ConflictOverlappingDefn, ContractIDs: []string{a.id, b.id},
					Detail: fmt.Sprintf("jaccard=%.2f shared=%d", jaccard, shared),
				})
			}
		}
	}
	return conflicts
}

func tokenize(s string) map[string]bool {
	out := make(map[string]bool)
	for _, tok := range strings.Fields(strings.ToLower(s)) {
		tok = strings.Trim(tok, ".,;:!?()\"'«»")
		if len(tok) > 2 {
			out[tok] = true
		}
	}
	return out
}

func intersectionSize(a, b map[string]bool) int {
	n := 0
	for k := range a {
		if b[k] {
			n++
		}
	}
	return n
}

func union(a, b map[string]bool) map[string]bool {
	out := make(map[string]bool, len(a)+len(b))
	for k := range a {
		out[k] = true
	}
	for k := range b {
		out[k] = true
	}
	return out
}
