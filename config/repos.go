package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"githubtriage/models"
)

// RepositoryEntry is one repository in the repositories file.
type RepositoryEntry struct {
	Repo        string              `yaml:"repo"`
	DisplayName string              `yaml:"display_name"`
	Categories  []string            `yaml:"categories"`
	Priority    int                 `yaml:"priority"`
	Active      *bool               `yaml:"active"`
	Filters     models.FilterConfig `yaml:"filters"`
}

type repositoriesFile struct {
	Repositories []RepositoryEntry `yaml:"repositories"`
}

// LoadRepositories reads and validates the repositories file.
func LoadRepositories(path string) ([]models.Repository, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read repositories file: %w", err)
	}
	return ParseRepositories(data)
}

// ParseRepositories decodes repositories YAML. Entries default to active; the display name
// defaults to the repository identifier.
func ParseRepositories(data []byte) ([]models.Repository, error) {
	var file repositoriesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse repositories file: %w", err)
	}

	seen := make(map[string]bool, len(file.Repositories))
	repos := make([]models.Repository, 0, len(file.Repositories))
	for i, entry := range file.Repositories {
		id := strings.TrimSpace(entry.Repo)
		if _, _, err := models.SplitRepo(id); err != nil {
			return nil, fmt.Errorf("repositories[%d]: %w", i, err)
		}
		if seen[id] {
			return nil, fmt.Errorf("repositories[%d]: duplicate repository %s", i, id)
		}
		seen[id] = true

		active := true
		if entry.Active != nil {
			active = *entry.Active
		}
		name := entry.DisplayName
		if name == "" {
			name = id
		}
		repos = append(repos, models.Repository{
			Repo:          id,
			DisplayName:   name,
			Categories:    models.Strings(entry.Categories),
			Priority:      entry.Priority,
			Active:        active,
			Filters:       entry.Filters,
			LanguageGroup: models.LanguageGroup(entry.Categories),
		})
	}
	return repos, nil
}
