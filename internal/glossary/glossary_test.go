package glossary

import "testing"

func TestCheckFlagsAmbiguousTermWithoutDisambiguator(t *testing.T) {
	g := Glossary{Terms: []Term{
		{
			Canonical: "Win",
			Aliases:   []string{"Wins"},
			DisambiguationGroups: map[string][]string{
				"match_win":   {"match", "game"},
				"business_win": {"deal", "contract signed"},
			},
		},
	}}

	issues := g.Check("We track the Win metric daily.")
	if len(issues) != 1 {
		t.Fatalf("expected 1 ambiguous issue, got %d", len(issues))
	}
	if issues[0].Term != "Win" {
		t.Fatalf("unexpected term %q", issues[0].Term)
	}
}

func TestCheckResolvedByDisambiguator(t *testing.T) {
	g := Glossary{Terms: []Term{
		{
			Canonical: "Win",
			DisambiguationGroups: map[string][]string{
				"match_win": {"match"},
			},
		},
	}}
	issues := g.Check("We track Win rate per match.")
	if len(issues) != 0 {
		t.Fatalf("expected no issues, got %+v", issues)
	}
}

func TestCheckIgnoresTermWithNoGroups(t *testing.T) {
	g := Glossary{Terms: []Term{{Canonical: "Revenue"}}}
	issues := g.Check("Revenue is tracked.")
	if len(issues) != 0 {
		t.Fatalf("expected no issues for term without disambiguation groups")
	}
}
