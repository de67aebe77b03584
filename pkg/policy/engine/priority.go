package engine

import (
	"sort"

	"mercator-hq/warden/pkg/policy/model"
)

// SortPolicies sorts policies by ascending priority (lower numbers evaluate
// first), breaking ties by ID for deterministic ordering.
func SortPolicies(policies []*model.Policy) {
	sort.SliceStable(policies, func(i, j int) bool {
		return policyLess(policies[i], policies[j])
	})
}

func policyLess(a, b *model.Policy) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	return a.ID < b.ID
}

// SortMatches orders matches the same way as SortPolicies.
func SortMatches(matches []MatchedPolicy) {
	sort.SliceStable(matches, func(i, j int) bool {
		return policyLess(matches[i].Policy, matches[j].Policy)
	})
}
