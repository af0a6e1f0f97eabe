// Package identity tracks chat participants: their onboarding state, their
// profile notes under participants/<username>.md, and the last-seen
// timestamp that feeds the planner's stakeholder_avail scoring term.
package identity

import "embed"

//go:embed templates/profile.md.tmpl
var templateFS embed.FS

// profileTemplate returns the embedded starter profile body for a
// newly-onboarded participant.
func profileTemplate() ([]byte, error) {
	return templateFS.ReadFile("templates/profile.md.tmpl")
}
