package agent

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/datacontracts/shepherd/internal/contract"
	"github.com/datacontracts/shepherd/internal/router"
)

const routeTemplate = `You are the data-contracts bot for this workspace. You help
participants discuss, draft, and agree on data contracts, and you shepherd
them through the governance lifecycle {draft, in_review, agreed, approved,
active, deprecated, archived}.

Current request intent: %s
%s

Use the available tools to read or change state; never assert a contract has
been saved, approved, or changed status unless a tool call reported success.
Keep replies short and concrete. Reply in the language the user wrote in.`

// buildSystemPrompt assembles the route-specific template, the landscape
// block and any route-requested context files into one system message, per
// spec §4.2's tool-loop path.
func (a *Agent) buildSystemPrompt(route router.Route) string {
	entityLine := ""
	if route.Entity != "" {
		entityLine = fmt.Sprintf("Entity under discussion: %s", route.Entity)
	}
	parts := []string{fmt.Sprintf(routeTemplate, route.Type, entityLine)}

	if landscape := a.buildLandscape(); landscape != "" {
		parts = append(parts, landscape)
	}

	for _, f := range route.LoadFiles {
		data, err := a.Store.Read(f)
		if err != nil {
			continue
		}
		parts = append(parts, fmt.Sprintf("## %s\n\n%s", f, string(data)))
	}

	return strings.Join(parts, "\n\n---\n\n")
}

// buildLandscape gives the model situational awareness: the current time and
// a short census of contract statuses, so it doesn't have to rediscover the
// workspace shape with read tools on every turn. Conflicts are not listed.
func (a *Agent) buildLandscape() string {
	var m contract.Index
	if err := a.Store.ReadJSON("contracts/index.json", &m); err != nil || len(m) == 0 {
		return fmt.Sprintf("## Landscape\n\nCurrent time: %s\nNo contracts exist yet.", time.Now().UTC().Format(time.RFC3339))
	}

	counts := make(map[string]int)
	var ids []string
	for id, rec := range m {
		counts[rec.Status]++
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var b strings.Builder
	fmt.Fprintf(&b, "## Landscape\n\nCurrent time: %s\n", time.Now().UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Contracts (%d total): ", len(ids))
	statuses := []string{
		contract.StatusDraft, contract.StatusInReview, contract.StatusAgreed,
		contract.StatusApproved, contract.StatusActive, contract.StatusDeprecated,
		contract.StatusArchived,
	}
	var statusParts []string
	for _, s := range statuses {
		if counts[s] > 0 {
			statusParts = append(statusParts, fmt.Sprintf("%s=%d", s, counts[s]))
		}
	}
	b.WriteString(strings.Join(statusParts, ", "))
	return b.String()
}
