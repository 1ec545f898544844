package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// TypeFilter holds the include and exclude rules for one kind of item.
// Include rules are sent to GitHub as query parameters where the endpoint supports them;
// exclude rules are always evaluated client-side.
type TypeFilter struct {
	State            string   `json:"state,omitempty" yaml:"state,omitempty"`
	Labels           []string `json:"labels,omitempty" yaml:"labels,omitempty"`
	Assignee         string   `json:"assignee,omitempty" yaml:"assignee,omitempty"`
	Milestone        string   `json:"milestone,omitempty" yaml:"milestone,omitempty"`
	Creator          string   `json:"creator,omitempty" yaml:"creator,omitempty"`
	ExcludeLabels    []string `json:"exclude_labels,omitempty" yaml:"exclude_labels,omitempty"`
	ExcludeAssignees []string `json:"exclude_assignees,omitempty" yaml:"exclude_assignees,omitempty"`
}

// FilterConfig is the per-repository filter configuration, stored as JSON.
type FilterConfig struct {
	Issues       TypeFilter `json:"issues" yaml:"issues"`
	PullRequests TypeFilter `json:"pull_requests" yaml:"pull_requests"`
}

// For returns the filter that applies to kind.
func (f FilterConfig) For(kind Kind) TypeFilter {
	if kind == KindPullRequests {
		return f.PullRequests
	}
	return f.Issues
}

// Value implements driver.Valuer.
func (f FilterConfig) Value() (driver.Value, error) {
	b, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("failed to encode filter config: %w", err)
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (f *FilterConfig) Scan(src any) error {
	*f = FilterConfig{}
	return jsonScan(src, f)
}
