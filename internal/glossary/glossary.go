// Package glossary implements ambiguous-term detection over contract text
// against the canonical term/alias/disambiguation-group glossary (spec §3,
// §4.3, §4.6).
package glossary

import (
	"fmt"
	"regexp"
	"strings"
)

// Term is one canonical glossary entry from context/glossary.json.
type Term struct {
	Canonical          string              `json:"canonical"`
	Aliases            []string            `json:"aliases"`
	DisambiguationGroups map[string][]string `json:"disambiguation_groups"` // bucket name -> keywords
}

// Glossary is the full context/glossary.json document.
type Glossary struct {
	Terms []Term `json:"terms"`
}

// Issue names one ambiguous term found in text, with the disambiguation
// options the author must choose between.
type Issue struct {
	Term    string   `json:"term"`
	Options []string `json:"options"`
}

func wordBoundaryRe(word string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(word) + `\b`)
}

// Check returns one Issue per term whose canonical name or alias appears in
// text without any of its disambiguation groups' keywords also appearing.
func (g Glossary) Check(text string) []Issue {
	var issues []Issue
	for _, term := range g.Terms {
		if len(term.DisambiguationGroups) == 0 {
			continue
		}
		names := append([]string{term.Canonical}, term.Aliases...)
		mentioned := false
		for _, n := range names {
			if n == "" {
				continue
			}
			if wordBoundaryRe(n).MatchString(text) {
				mentioned = true
				break
			}
		}
		if !mentioned {
			continue
		}

		resolved := false
		var options []string
		for bucket, keywords := range term.DisambiguationGroups {
			options = append(options, bucket)
			for _, kw := range keywords {
				if kw == "" {
					continue
				}
				if wordBoundaryRe(kw).MatchString(text) {
					resolved = true
					break
				}
			}
			if resolved {
				break
			}
		}
		if !resolved {
			issues = append(issues, Issue{Term: term.Canonical, Options: options})
		}
	}
	return issues
}

// Message renders a human-readable summary for one issue, for surfacing to
// the user per spec §7 ("Governance denial, glossary ambiguity, validator
// failure").
func (i Issue) Message() string {
	return fmt.Sprintf("%q is ambiguous here — specify one of: %s", i.Term, strings.Join(i.Options, ", "))
}
