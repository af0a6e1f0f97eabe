// Package governance implements the tier-based approver policy, the role
// map merge, and approval quorum evaluation — the deterministic checks that
// gate save_contract and the approval tools (spec §4.3, §4.6).
package governance

import (
	"sort"
	"strings"
)

// Tier keys, closed set per spec §3.
const (
	Tier1 = "tier_1"
	Tier2 = "tier_2"
	Tier3 = "tier_3"
)

// TierPolicy is one entry of context/governance.json.
type TierPolicy struct {
	ApprovalRequired  []string `json:"approval_required"`
	ConsensusThreshold float64  `json:"consensus_threshold"`
	Description       string   `json:"description"`
}

// Policy is the full context/governance.json document.
type Policy map[string]TierPolicy

// DefaultTier is used by request_approval when the index carries none.
const DefaultTier = Tier2

// RoleMap is a merged, case-normalized role -> usernames mapping.
type RoleMap map[string][]string

// MergeRoles unions default (context/roles.json) and runtime (tasks/roles.json)
// role maps, de-duplicated case-insensitively. Runtime never mutates defaults
// (callers pass copies in; this function only reads).
func MergeRoles(defaults, runtime RoleMap) RoleMap {
	merged := make(RoleMap)
	add := func(src RoleMap) {
		for role, users := range src {
			seen := make(map[string]bool)
			for _, u := range merged[role] {
				seen[strings.ToLower(u)] = true
			}
			for _, u := range users {
				key := strings.ToLower(u)
				if seen[key] {
					continue
				}
				seen[key] = true
				merged[role] = append(merged[role], u)
			}
		}
	}
	add(defaults)
	add(runtime)
	for role := range merged {
		sort.Strings(merged[role])
	}
	return merged
}

// HasRole reports whether username holds role, case-insensitively.
func (m RoleMap) HasRole(username, role string) bool {
	for _, u := range m[role] {
		if strings.EqualFold(u, username) {
			return true
		}
	}
	return false
}

// RolesFor returns every role username holds in the merged map.
func (m RoleMap) RolesFor(username string) []string {
	var roles []string
	for role, users := range m {
		for _, u := range users {
			if strings.EqualFold(u, username) {
				roles = append(roles, role)
				break
			}
		}
	}
	sort.Strings(roles)
	return roles
}

// CheckResult reports which required roles are satisfied for a governance
// review, per spec §4.6.
type CheckResult struct {
	OK            bool     `json:"ok"`
	MissingRoles  []string `json:"missing_roles,omitempty"`
	SatisfiedFrac float64  `json:"satisfied_fraction"`
}

// Check evaluates whether roles (resolved from approvers, e.g. the
// "## Согласовано" section) satisfy tier's required-role policy, given the
// merged role map.
func Check(tier TierPolicy, approverUsernames []string, roles RoleMap) CheckResult {
	if len(tier.ApprovalRequired) == 0 {
		return CheckResult{OK: true, SatisfiedFrac: 1}
	}

	approverSet := make(map[string]bool, len(approverUsernames))
	for _, a := range approverUsernames {
		approverSet[strings.ToLower(a)] = true
	}

	satisfied := 0
	var missing []string
	for _, role := range tier.ApprovalRequired {
		roleSatisfied := false
		for _, u := range roles[role] {
			if approverSet[strings.ToLower(u)] {
				roleSatisfied = true
				break
			}
		}
		if roleSatisfied {
			satisfied++
		} else {
			missing = append(missing, role)
		}
	}

	frac := float64(satisfied) / float64(len(tier.ApprovalRequired))
	threshold := tier.ConsensusThreshold
	if threshold <= 0 {
		threshold = 1.0
	}

	ok := frac >= threshold
	if threshold >= 1.0 {
		ok = len(missing) == 0
	}

	return CheckResult{OK: ok, MissingRoles: missing, SatisfiedFrac: frac}
}
