package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Label is a GitHub label as cached on an issue or pull request.
type Label struct {
	Name        string `json:"name" yaml:"name"`
	Color       string `json:"color" yaml:"color"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// Assignee is a GitHub user assigned to an issue or pull request.
type Assignee struct {
	Login     string `json:"login"`
	AvatarURL string `json:"avatar_url,omitempty"`
	HTMLURL   string `json:"html_url,omitempty"`
}

// Labels is stored as a JSON array column.
type Labels []Label

// Assignees is stored as a JSON array column.
type Assignees []Assignee

// Strings is stored as a JSON array column.
type Strings []string

// Ints is stored as a JSON array column.
type Ints []int

// Names returns the label names in order.
func (l Labels) Names() []string {
	names := make([]string, 0, len(l))
	for _, label := range l {
		names = append(names, label.Name)
	}
	return names
}

// Logins returns the assignee logins in order.
func (a Assignees) Logins() []string {
	logins := make([]string, 0, len(a))
	for _, u := range a {
		logins = append(logins, u.Login)
	}
	return logins
}

func (l Labels) Value() (driver.Value, error)    { return jsonValue(l) }
func (l *Labels) Scan(src any) error             { return jsonScan(src, l) }
func (a Assignees) Value() (driver.Value, error) { return jsonValue(a) }
func (a *Assignees) Scan(src any) error          { return jsonScan(src, a) }
func (s Strings) Value() (driver.Value, error)   { return jsonValue(s) }
func (s *Strings) Scan(src any) error            { return jsonScan(src, s) }
func (i Ints) Value() (driver.Value, error)      { return jsonValue(i) }
func (i *Ints) Scan(src any) error               { return jsonScan(src, i) }

// jsonValue encodes nil slices as "[]" so the column never holds NULL.
func jsonValue[T any](v []T) (driver.Value, error) {
	if v == nil {
		return "[]", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func jsonScan(src any, dst any) error {
	var b []byte
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into %T", src, dst)
	}
	if len(b) == 0 {
		return nil
	}
	return json.Unmarshal(b, dst)
}
