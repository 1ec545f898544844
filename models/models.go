// Package models defines the core data structures used throughout the application.
package models

import (
	"fmt"
	"strings"
	"time"
)

// Kind identifies which GitHub collection a record or sync run belongs to.
type Kind string

const (
	KindIssues       Kind = "issues"
	KindPullRequests Kind = "pull_requests"
)

// Kinds lists every synchronized collection in processing order.
var Kinds = []Kind{KindIssues, KindPullRequests}

// Endpoint returns the REST path segment for the kind.
func (k Kind) Endpoint() string {
	if k == KindPullRequests {
		return "pulls"
	}
	return "issues"
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k == KindIssues || k == KindPullRequests
}

// ParseKind accepts the table name or the endpoint name.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "issues", "issue":
		return KindIssues, nil
	case "pull_requests", "pulls", "pull", "prs":
		return KindPullRequests, nil
	default:
		return "", fmt.Errorf("unknown kind %q", s)
	}
}

// Issue states as reported by GitHub.
const (
	StateOpen   = "open"
	StateClosed = "closed"
	StateAll    = "all"
)

// PriorityUnset marks an item nobody has prioritized yet.
const PriorityUnset = -1

// Repository represents a tracked GitHub repository
type Repository struct {
	Repo          string       `db:"repo" json:"repo"`
	DisplayName   string       `db:"display_name" json:"display_name"`
	Categories    Strings      `db:"categories" json:"categories"`
	Priority      int          `db:"priority" json:"priority"`
	Active        bool         `db:"active" json:"active"`
	Filters       FilterConfig `db:"filter_config" json:"filters"`
	LanguageGroup string       `db:"language_group" json:"language_group"`
	CreatedAt     time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time    `db:"updated_at" json:"updated_at"`
}

// OwnerName splits the repository identifier into owner and name.
func (r Repository) OwnerName() (string, string, error) {
	return SplitRepo(r.Repo)
}

// SplitRepo parses "owner/name".
func SplitRepo(repo string) (string, string, error) {
	parts := strings.SplitN(repo, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" || strings.Contains(parts[1], "/") {
		return "", "", fmt.Errorf("invalid repository %q: expected owner/name", repo)
	}
	return parts[0], parts[1], nil
}

var languageGroups = map[string]string{
	"go":         "go",
	"golang":     "go",
	"python":     "python",
	"javascript": "javascript",
	"typescript": "javascript",
	"js":         "javascript",
	"rust":       "rust",
	"java":       "jvm",
	"kotlin":     "jvm",
	"scala":      "jvm",
	"c":          "native",
	"c++":        "native",
	"cpp":        "native",
}

// LanguageGroup derives the language group from category tags. The first tag that names a
// known language wins; repositories without one fall into "other".
func LanguageGroup(categories []string) string {
	for _, c := range categories {
		if g, ok := languageGroups[strings.ToLower(strings.TrimSpace(c))]; ok {
			return g
		}
	}
	return "other"
}

// Item holds the GitHub-sourced columns shared by issues and pull requests.
// Every field here is a cache of upstream data and is safe to regenerate on each sync.
type Item struct {
	Repo          string     `db:"repo" json:"repo"`
	Number        int        `db:"number" json:"number"`
	Title         string     `db:"title" json:"title"`
	Body          string     `db:"body" json:"body"`
	State         string     `db:"state" json:"state"`
	Author        string     `db:"author" json:"author"`
	HTMLURL       string     `db:"html_url" json:"html_url"`
	Milestone     string     `db:"milestone" json:"milestone"`
	Assignees     Assignees  `db:"assignees" json:"assignees"`
	Labels        Labels     `db:"labels" json:"labels"`
	Mentions      Strings    `db:"mentions" json:"mentions"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
	ClosedAt      *time.Time `db:"closed_at" json:"closed_at,omitempty"`
	LastFetchedAt time.Time  `db:"last_fetched_at" json:"last_fetched_at"`
	ContentHash   string     `db:"content_hash" json:"-"`
}

// UserFields are entered by people through the annotation API and are never written by a sync.
type UserFields struct {
	Triage   bool   `db:"triage" json:"triage"`
	Priority int    `db:"priority" json:"priority"`
	Comments string `db:"comments" json:"comments"`
}

// DefaultUserFields returns the values a row gets on first insert.
func DefaultUserFields() UserFields {
	return UserFields{Triage: false, Priority: PriorityUnset, Comments: ""}
}

// Issue represents a cached GitHub issue
type Issue struct {
	Item
	UserFields
	LinkedPRs Ints `db:"linked_prs" json:"linked_prs"`
}

// PullRequest represents a cached GitHub pull request
type PullRequest struct {
	Item
	UserFields
	Draft    bool       `db:"draft" json:"draft"`
	Merged   bool       `db:"merged" json:"merged"`
	MergedAt *time.Time `db:"merged_at" json:"merged_at,omitempty"`
	BaseRef  string     `db:"base_ref" json:"base_ref"`
	HeadRef  string     `db:"head_ref" json:"head_ref"`
}

// Annotation is a partial update of the user-entered fields. Nil pointers are left untouched.
type Annotation struct {
	Triage   *bool   `json:"triage,omitempty"`
	Priority *int    `json:"priority,omitempty"`
	Comments *string `json:"comments,omitempty"`
}

// Validate checks the priority scale: -1 means unset, 0..4 is severity.
func (a Annotation) Validate() error {
	if a.Triage == nil && a.Priority == nil && a.Comments == nil {
		return fmt.Errorf("annotation has no fields to update")
	}
	if a.Priority != nil && (*a.Priority < PriorityUnset || *a.Priority > 4) {
		return fmt.Errorf("priority %d out of range -1..4", *a.Priority)
	}
	return nil
}

// MergeResult describes what an upsert did to a single row.
type MergeResult struct {
	IsNew     bool
	IsUpdated bool
}

// MergeStats aggregates merge results for one sync attempt.
type MergeStats struct {
	New       int `json:"new"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	Total     int `json:"total"`
}

// Add folds a single result into the stats.
func (s *MergeStats) Add(r MergeResult) {
	s.Total++
	switch {
	case r.IsNew:
		s.New++
	case r.IsUpdated:
		s.Updated++
	default:
		s.Unchanged++
	}
}

// Sync attempt outcomes recorded in sync_metadata and sync_history.
const (
	StatusSuccess     = "success"
	StatusNotModified = "not_modified"
	StatusDeferred    = "deferred"
	StatusError       = "error"
)

// SyncMetadata holds the incremental cursor for one repository and kind.
type SyncMetadata struct {
	Repo          string     `db:"repo" json:"repo"`
	SyncType      Kind       `db:"sync_type" json:"sync_type"`
	Cursor        *time.Time `db:"cursor" json:"cursor,omitempty"`
	LastSuccessAt *time.Time `db:"last_success_at" json:"last_success_at,omitempty"`
	LastAttemptAt *time.Time `db:"last_attempt_at" json:"last_attempt_at,omitempty"`
	Status        string     `db:"status" json:"status"`
	ErrorMessage  string     `db:"error_message" json:"error_message,omitempty"`
	ItemsSynced   int        `db:"items_synced" json:"items_synced"`
}

// SyncHistory is one append-only record of a sync attempt.
type SyncHistory struct {
	ID           int64     `db:"id" json:"id"`
	SessionID    string    `db:"session_id" json:"session_id"`
	Repo         string    `db:"repo" json:"repo"`
	SyncType     Kind      `db:"sync_type" json:"sync_type"`
	NewCount     int       `db:"new_count" json:"new_count"`
	UpdatedCount int       `db:"updated_count" json:"updated_count"`
	TotalCount   int       `db:"total_count" json:"total_count"`
	ClosedCount  int       `db:"closed_count" json:"closed_count"`
	DurationMS   int64     `db:"duration_ms" json:"duration_ms"`
	Status       string    `db:"status" json:"status"`
	ErrorMessage string    `db:"error_message" json:"error_message,omitempty"`
	StartedAt    time.Time `db:"started_at" json:"started_at"`
}

// ItemCount is a per repository, kind and state row count.
type ItemCount struct {
	Repo     string `db:"repo" json:"repo"`
	SyncType Kind   `db:"sync_type" json:"sync_type"`
	State    string `db:"state" json:"state"`
	Count    int    `db:"count" json:"count"`
}

// ItemQuery narrows dashboard listings.
type ItemQuery struct {
	Repo    string
	State   string
	Triaged *bool
	PaginationParams
}

// PaginationParams represents parameters for paginated queries
type PaginationParams struct {
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
}

// NewPaginationParams creates a new PaginationParams with validated values.
// If page or pageSize are less than 1, they will be set to their default values.
func NewPaginationParams(page, pageSize int) PaginationParams {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 100
	}
	return PaginationParams{
		Page:     page,
		PageSize: pageSize,
	}
}

// Offset returns the row offset of the page.
func (p PaginationParams) Offset() int {
	return (p.Page - 1) * p.PageSize
}
