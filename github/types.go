package github

import (
	"encoding/json"
	"strings"
	"time"

	"githubtriage/models"
)

// User is the subset of a GitHub user object the cache keeps.
type User struct {
	Login     string `json:"login"`
	AvatarURL string `json:"avatar_url"`
	HTMLURL   string `json:"html_url"`
}

// Label is a GitHub label.
type Label struct {
	Name        string `json:"name"`
	Color       string `json:"color"`
	Description string `json:"description"`
}

// Milestone is a GitHub milestone.
type Milestone struct {
	Number int    `json:"number"`
	Title  string `json:"title"`
}

// Ref is a branch reference on a pull request.
type Ref struct {
	Ref string `json:"ref"`
}

// Item is an issue or pull request as returned by the list endpoints.
type Item struct {
	Number    int        `json:"number"`
	Title     string     `json:"title"`
	Body      string     `json:"body"`
	State     string     `json:"state"`
	HTMLURL   string     `json:"html_url"`
	User      *User      `json:"user"`
	Assignee  *User      `json:"assignee"`
	Assignees []User     `json:"assignees"`
	Labels    []Label    `json:"labels"`
	Milestone *Milestone `json:"milestone"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	ClosedAt  *time.Time `json:"closed_at"`

	// PullRequest is set on issues-endpoint entries that are really pull requests.
	PullRequest *json.RawMessage `json:"pull_request"`

	Draft    bool       `json:"draft"`
	MergedAt *time.Time `json:"merged_at"`
	Base     *Ref       `json:"base"`
	Head     *Ref       `json:"head"`
}

// IsPullRequest reports whether an issues-endpoint entry carries the pull request marker.
func (it Item) IsPullRequest() bool {
	return it.PullRequest != nil
}

// LabelNames returns the names of the item's labels.
func (it Item) LabelNames() []string {
	names := make([]string, 0, len(it.Labels))
	for _, l := range it.Labels {
		names = append(names, l.Name)
	}
	return names
}

// AssigneeLogins returns every assignee login, including the singular legacy assignee field.
func (it Item) AssigneeLogins() []string {
	logins := make([]string, 0, len(it.Assignees)+1)
	seen := make(map[string]bool, len(it.Assignees)+1)
	add := func(u *User) {
		if u == nil || u.Login == "" || seen[strings.ToLower(u.Login)] {
			return
		}
		seen[strings.ToLower(u.Login)] = true
		logins = append(logins, u.Login)
	}
	add(it.Assignee)
	for i := range it.Assignees {
		add(&it.Assignees[i])
	}
	return logins
}

// AuthorLogin returns the login of the item's author.
func (it Item) AuthorLogin() string {
	if it.User == nil {
		return ""
	}
	return it.User.Login
}

// MilestoneTitle returns the milestone title, or "" when none is set.
func (it Item) MilestoneTitle() string {
	if it.Milestone == nil {
		return ""
	}
	return it.Milestone.Title
}

func (it Item) item(repo string, fetchedAt time.Time) models.Item {
	labels := make(models.Labels, 0, len(it.Labels))
	for _, l := range it.Labels {
		labels = append(labels, models.Label{Name: l.Name, Color: l.Color, Description: l.Description})
	}

	assignees := make(models.Assignees, 0, len(it.Assignees)+1)
	if len(it.Assignees) == 0 && it.Assignee != nil {
		assignees = append(assignees, models.Assignee{Login: it.Assignee.Login, AvatarURL: it.Assignee.AvatarURL, HTMLURL: it.Assignee.HTMLURL})
	}
	for _, u := range it.Assignees {
		assignees = append(assignees, models.Assignee{Login: u.Login, AvatarURL: u.AvatarURL, HTMLURL: u.HTMLURL})
	}

	return models.Item{
		Repo:          repo,
		Number:        it.Number,
		Title:         it.Title,
		Body:          it.Body,
		State:         it.State,
		Author:        it.AuthorLogin(),
		HTMLURL:       it.HTMLURL,
		Milestone:     it.MilestoneTitle(),
		Assignees:     assignees,
		Labels:        labels,
		Mentions:      models.ExtractMentions(it.Body),
		CreatedAt:     it.CreatedAt.UTC(),
		UpdatedAt:     it.UpdatedAt.UTC(),
		ClosedAt:      it.ClosedAt,
		LastFetchedAt: fetchedAt.UTC(),
	}
}

// ToIssue converts the wire representation to a cached issue with default user fields.
func (it Item) ToIssue(repo string, fetchedAt time.Time) *models.Issue {
	return &models.Issue{
		Item:       it.item(repo, fetchedAt),
		UserFields: models.DefaultUserFields(),
		LinkedPRs:  models.Ints{},
	}
}

// ToPullRequest converts the wire representation to a cached pull request with default user
// fields.
func (it Item) ToPullRequest(repo string, fetchedAt time.Time) *models.PullRequest {
	pr := &models.PullRequest{
		Item:       it.item(repo, fetchedAt),
		UserFields: models.DefaultUserFields(),
		Draft:      it.Draft,
		Merged:     it.MergedAt != nil,
		MergedAt:   it.MergedAt,
	}
	if it.Base != nil {
		pr.BaseRef = it.Base.Ref
	}
	if it.Head != nil {
		pr.HeadRef = it.Head.Ref
	}
	return pr
}
