// Package filter applies per-repository include and exclude rules to fetched items.
package filter

import (
	"strconv"
	"strings"

	"githubtriage/github"
	"githubtriage/models"
)

// ShouldExclude reports whether item matches an exclude rule. Label and assignee comparisons
// ignore case; the legacy singular assignee counts as an assignee. For pull requests the
// include rules are checked here too, since the pulls endpoint ignores them. An empty filter
// excludes nothing.
func ShouldExclude(item github.Item, f models.TypeFilter, kind models.Kind) bool {
	if len(f.ExcludeLabels) > 0 && intersects(item.LabelNames(), f.ExcludeLabels) {
		return true
	}
	if len(f.ExcludeAssignees) > 0 && intersects(item.AssigneeLogins(), f.ExcludeAssignees) {
		return true
	}
	return !matchesUnsupportedIncludes(item, f, kind)
}

// matchesUnsupportedIncludes evaluates include rules the endpoint cannot apply server-side.
// The issues endpoint accepts labels, assignee, milestone and creator as query parameters; the
// pulls endpoint accepts none of them.
func matchesUnsupportedIncludes(item github.Item, f models.TypeFilter, kind models.Kind) bool {
	if kind != models.KindPullRequests {
		return true
	}
	if len(f.Labels) > 0 && !containsAll(item.LabelNames(), f.Labels) {
		return false
	}
	if f.Assignee != "" && !matchesUser(item.AssigneeLogins(), f.Assignee) {
		return false
	}
	if f.Creator != "" && !strings.EqualFold(item.AuthorLogin(), f.Creator) {
		return false
	}
	if f.Milestone != "" && !matchesMilestone(item, f.Milestone) {
		return false
	}
	return true
}

// Apply returns the items that pass f, preserving order, and the number excluded.
func Apply(items []github.Item, f models.TypeFilter, kind models.Kind) ([]github.Item, int) {
	kept := items[:0:0]
	excluded := 0
	for _, it := range items {
		if ShouldExclude(it, f, kind) {
			excluded++
			continue
		}
		kept = append(kept, it)
	}
	return kept, excluded
}

func intersects(values, set []string) bool {
	for _, v := range values {
		for _, s := range set {
			if strings.EqualFold(v, s) {
				return true
			}
		}
	}
	return false
}

func containsAll(values, required []string) bool {
	for _, r := range required {
		if !intersects(values, []string{r}) {
			return false
		}
	}
	return true
}

// matchesUser mirrors the issues endpoint: "*" means any assignee, "none" means unassigned.
func matchesUser(logins []string, want string) bool {
	switch want {
	case "*":
		return len(logins) > 0
	case "none":
		return len(logins) == 0
	}
	return intersects(logins, []string{want})
}

func matchesMilestone(item github.Item, want string) bool {
	switch want {
	case "*":
		return item.Milestone != nil
	case "none":
		return item.Milestone == nil
	}
	if item.Milestone == nil {
		return false
	}
	return strings.EqualFold(item.Milestone.Title, want) || want == strconv.Itoa(item.Milestone.Number)
}
