// Package suggest implements the Suggestion Engine (spec §4.7): turning
// uncovered-but-marked metrics-tree nodes into a rate-limited chat message
// naming the responsible stakeholders.
package suggest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/datacontracts/shepherd/internal/chat"
	"github.com/datacontracts/shepherd/internal/contract"
	"github.com/datacontracts/shepherd/internal/metricstree"
	"github.com/datacontracts/shepherd/internal/router"
	"github.com/datacontracts/shepherd/internal/store"
)

const (
	suggestionsPath = "tasks/suggestions.json"
	circlesPath     = "context/circles.json"
	treePath        = "context/metrics_tree.md"
	indexPath       = "contracts/index.json"
)

// activeStatuses are index entries that count as "already covered" and so
// are never re-suggested.
var activeStatuses = map[string]bool{
	contract.StatusDraft:    true,
	contract.StatusInReview: true,
	contract.StatusAgreed:   true,
	contract.StatusApproved: true,
	contract.StatusActive:   true,
}

// Record is one entry in tasks/suggestions.json: a past suggestion or
// dismissal, keyed by metric name.
type Record struct {
	Metric      string `json:"metric"`
	SuggestedAt string `json:"suggested_at"`
	DismissedAt string `json:"dismissed_at,omitempty"`
}

// Engine proposes and rate-limits suggestions for uncovered metrics.
type Engine struct {
	Store     *store.Store
	Chat      chat.Service
	ChannelID string

	CooldownDays        int // SUGGESTION_COOLDOWN_DAYS (14)
	DismissCooldownDays int // SUGGESTION_DISMISS_COOLDOWN_DAYS (30)
	MaxPerDay           int // SUGGESTION_MAX_PER_DAY (1)
}

// New builds an Engine with spec defaults.
func New(s *store.Store, chatSvc chat.Service, channelID string) *Engine {
	return &Engine{
		Store: s, Chat: chatSvc, ChannelID: channelID,
		CooldownDays: 14, DismissCooldownDays: 30, MaxPerDay: 1,
	}
}

// AfterAgreement runs the "after agreement" mode: siblings, sibling-children
// and cousin-children of the just-agreed node.
func (e *Engine) AfterAgreement(ctx context.Context, tree *metricstree.Tree, agreedName string, idx contract.Index, now time.Time) error {
	node := tree.Find(agreedName)
	if node == nil {
		return nil
	}
	return e.attempt(ctx, metricstree.SuggestionCandidates(node), idx, now)
}

// CoverageScan runs the "coverage scan" mode: every marked-but-unagreed node
// in the tree minus ones already indexed in an active status, capped at 5.
func (e *Engine) CoverageScan(ctx context.Context, tree *metricstree.Tree, idx contract.Index, now time.Time) error {
	var candidates []*metricstree.Node
	for _, n := range tree.UncoveredLeaves() {
		if !e.isIndexedActive(n.Name, idx) {
			candidates = append(candidates, n)
		}
	}
	if len(candidates) > 5 {
		candidates = candidates[:5]
	}
	return e.attempt(ctx, candidates, idx, now)
}

// attempt filters candidates against the index, cooldowns and dismissals,
// then sends at most one suggestion message (the daily cap), listing every
// surviving candidate's resolved stakeholder.
func (e *Engine) attempt(ctx context.Context, candidates []*metricstree.Node, idx contract.Index, now time.Time) error {
	if len(candidates) == 0 {
		return nil
	}

	records, err := e.loadRecords()
	if err != nil {
		return err
	}
	if e.sentToday(records, now) >= e.maxPerDay() {
		return nil
	}

	circles, err := e.loadCircles()
	if err != nil {
		return err
	}

	var survivors []*metricstree.Node
	for _, n := range candidates {
		if e.isIndexedActive(n.Name, idx) {
			continue
		}
		if e.onCooldown(records, n.Name, now) {
			continue
		}
		survivors = append(survivors, n)
	}
	if len(survivors) == 0 {
		return nil
	}

	msg := e.renderMessage(survivors, circles)
	if e.Chat != nil {
		if _, err := e.Chat.SendToChannel(ctx, e.ChannelID, "", msg); err != nil {
			return err
		}
	}

	for _, n := range survivors {
		records = append(records, Record{Metric: n.Name, SuggestedAt: now.UTC().Format(time.RFC3339)})
	}
	return e.Store.WriteJSON(suggestionsPath, records)
}

// RunCoverageScan is the Scheduler's Tuesday-10:00 coverage-scan job (spec
// §4.4): it loads the metrics tree and contracts index itself so it matches
// scheduler.Job's Run signature directly.
func (e *Engine) RunCoverageScan(ctx context.Context, now time.Time) error {
	treeData, err := e.Store.Read(treePath)
	if err != nil {
		return nil
	}
	tree := metricstree.Parse(string(treeData))

	var idx contract.Index
	if err := e.Store.ReadJSON(indexPath, &idx); err != nil {
		idx = contract.Index{}
	}

	return e.CoverageScan(ctx, tree, idx, now)
}

// Dismiss records a stakeholder's dismissal of a suggested metric, starting
// its longer cooldown.
func (e *Engine) Dismiss(metric string, now time.Time) error {
	records, err := e.loadRecords()
	if err != nil {
		return err
	}
	records = append(records, Record{Metric: metric, DismissedAt: now.UTC().Format(time.RFC3339)})
	return e.Store.WriteJSON(suggestionsPath, records)
}

func (e *Engine) isIndexedActive(name string, idx contract.Index) bool {
	id := router.Slugify(name)
	rec, ok := idx[id]
	if !ok {
		return false
	}
	return activeStatuses[rec.Status]
}

func (e *Engine) onCooldown(records []Record, metric string, now time.Time) bool {
	for _, r := range records {
		if r.Metric != metric {
			continue
		}
		if r.DismissedAt != "" {
			if t, err := time.Parse(time.RFC3339, r.DismissedAt); err == nil && now.Sub(t) < time.Duration(e.dismissCooldownDays())*24*time.Hour {
				return true
			}
		}
		if r.SuggestedAt != "" {
			if t, err := time.Parse(time.RFC3339, r.SuggestedAt); err == nil && now.Sub(t) < time.Duration(e.cooldownDays())*24*time.Hour {
				return true
			}
		}
	}
	return false
}

func (e *Engine) sentToday(records []Record, now time.Time) int {
	today := now.UTC().Format("2006-01-02")
	count := 0
	for _, r := range records {
		if r.SuggestedAt == "" {
			continue
		}
		if t, err := time.Parse(time.RFC3339, r.SuggestedAt); err == nil && t.UTC().Format("2006-01-02") == today {
			count++
		}
	}
	return count
}

func (e *Engine) loadRecords() ([]Record, error) {
	var records []Record
	if err := e.Store.ReadJSON(suggestionsPath, &records); err != nil {
		return nil, nil
	}
	return records, nil
}

func (e *Engine) loadCircles() (map[string]string, error) {
	var circles map[string]string
	if err := e.Store.ReadJSON(circlesPath, &circles); err != nil {
		return map[string]string{}, nil
	}
	return circles, nil
}

// resolveStakeholder maps a metric name to a circle lead via the first
// keyword that appears in it, case-insensitively.
func resolveStakeholder(name string, circles map[string]string) string {
	lower := strings.ToLower(name)
	keywords := make([]string, 0, len(circles))
	for k := range circles {
		keywords = append(keywords, k)
	}
	sort.Slice(keywords, func(i, j int) bool { return len(keywords[i]) > len(keywords[j]) })
	for _, kw := range keywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			return circles[kw]
		}
	}
	return ""
}

func (e *Engine) renderMessage(nodes []*metricstree.Node, circles map[string]string) string {
	var b strings.Builder
	b.WriteString("Uncovered metrics that look ready for a data contract:\n")
	for _, n := range nodes {
		lead := resolveStakeholder(n.Name, circles)
		if lead != "" {
			fmt.Fprintf(&b, "- %s (cc @%s)\n", n.Name, lead)
		} else {
			fmt.Fprintf(&b, "- %s\n", n.Name)
		}
	}
	return b.String()
}

func (e *Engine) cooldownDays() int {
	if e.CooldownDays <= 0 {
		return 14
	}
	return e.CooldownDays
}

func (e *Engine) dismissCooldownDays() int {
	if e.DismissCooldownDays <= 0 {
		return 30
	}
	return e.DismissCooldownDays
}

func (e *Engine) maxPerDay() int {
	if e.MaxPerDay <= 0 {
		return 1
	}
	return e.MaxPerDay
}
