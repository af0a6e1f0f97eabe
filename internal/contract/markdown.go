// Package contract defines the markdown shape shared by contracts and
// drafts, and the index/relationship records that reference them.
package contract

import (
	"regexp"
	"strings"
)

// Required and recommended section headings, exact Russian headings per
// spec §6. Order here is cosmetic; presence is what validator.go checks.
const (
	SectionStatus         = "Статус"
	SectionDefinition     = "Определение"
	SectionFormula        = "Формула"
	SectionDataSource     = "Источник данных"
	SectionIncludes       = "Включает"
	SectionExcludes       = "Исключения"
	SectionGranularity    = "Гранулярность"
	SectionDataOwner      = "Ответственный за данные"
	SectionCalcOwner      = "Ответственный за расчёт"
	SectionExtraTimeLink  = "Связь с Extra Time"
	SectionConsumers      = "Потребители"
	SectionDataState      = "Состояние данных"
	SectionApproved       = "Согласовано"
	SectionHistory        = "История изменений"
	SectionKnownIssues    = "Известные проблемы"
	SectionRelated        = "Связанные контракты"
)

// RequiredSections is normative per spec §6.
var RequiredSections = []string{
	SectionStatus, SectionDefinition, SectionFormula, SectionDataSource,
	SectionIncludes, SectionExcludes, SectionGranularity, SectionDataOwner,
	SectionCalcOwner, SectionExtraTimeLink, SectionConsumers, SectionDataState,
	SectionApproved, SectionHistory,
}

// RecommendedSections are warned-on if missing, never save-blocking (spec.md
// §9 takes the later, softer validator revision — see DESIGN.md).
var RecommendedSections = []string{SectionKnownIssues, SectionRelated}

var h1Re = regexp.MustCompile(`(?m)^#\s*Data Contract:\s*(.+)\s*$`)
var h2Re = regexp.MustCompile(`(?m)^##\s*(.+?)\s*$`)
var mentionRe = regexp.MustCompile(`@([A-Za-z0-9_.\-]+)`)

// Doc is a parsed contract/draft markdown document.
type Doc struct {
	Name     string            // H1 "# Data Contract: <Name>" — authoritative human name
	Sections map[string]string // heading -> body text (trimmed)
	Order    []string          // headings in source order
	Raw      string
}

// Parse splits markdown by "##" headings, per spec §4.6.
func Parse(text string) *Doc {
	d := &Doc{Sections: make(map[string]string), Raw: text}
	if m := h1Re.FindStringSubmatch(text); len(m) == 2 {
		d.Name = strings.TrimSpace(m[1])
	}

	idx := h2Re.FindAllStringSubmatchIndex(text, -1)
	for i, loc := range idx {
		heading := text[loc[2]:loc[3]]
		bodyStart := loc[1]
		bodyEnd := len(text)
		if i+1 < len(idx) {
			bodyEnd = idx[i+1][0]
		}
		heading = strings.TrimSpace(heading)
		body := strings.TrimSpace(text[bodyStart:bodyEnd])
		d.Sections[heading] = body
		d.Order = append(d.Order, heading)
	}
	return d
}

// Section returns a section body and whether it was present.
func (d *Doc) Section(name string) (string, bool) {
	s, ok := d.Sections[name]
	return s, ok
}

// Mentions extracts all @username tokens from a section body.
func Mentions(body string) []string {
	matches := mentionRe.FindAllStringSubmatch(body, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, m[1])
	}
	return out
}

// IndexRecord is one entry in contracts/index.json, per spec §3.
type IndexRecord struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Status          string `json:"status"`
	Tier            string `json:"tier"`
	File            string `json:"file"`
	AgreedDate      string `json:"agreed_date,omitempty"`
	StatusUpdatedAt string `json:"status_updated_at"`
	VersionsDir     string `json:"versions_dir"`
	HistoryFile     string `json:"history_file"`
}

// Index is the full contracts/index.json document: one record per id.
type Index map[string]*IndexRecord

// Status values, closed set per spec §3.
const (
	StatusDraft      = "draft"
	StatusInReview   = "in_review"
	StatusAgreed     = "agreed"
	StatusApproved   = "approved"
	StatusActive     = "active"
	StatusDeprecated = "deprecated"
	StatusArchived   = "archived"
)

// Relationship is one directed edge in contracts/relationships.json.
type Relationship struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// Relationship types, closed set per spec §3.
const (
	RelMentions   = "mentions"
	RelSubsetOf   = "subset_of"
	RelAggregates = "aggregates"
	RelInverse    = "inverse"
	RelDependsOn  = "depends_on"
)

// Key returns the relationship dedup key (from, to, type).
func (r Relationship) Key() string {
	return r.From + "\x00" + r.To + "\x00" + r.Type
}

// ValidRelType reports whether t is one of the closed relationship types.
func ValidRelType(t string) bool {
	switch t {
	case RelMentions, RelSubsetOf, RelAggregates, RelInverse, RelDependsOn:
		return true
	}
	return false
}
