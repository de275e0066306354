package models

import (
	"fmt"
	"strings"
)

// Repository is a GitHub repository the authenticated user can access.
type Repository struct {
	Owner       string `json:"owner"`
	Repo        string `json:"repo"`
	Name        string `json:"name"`
	FullName    string `json:"full_name"`
	Description string `json:"description,omitempty"`
	HTMLURL     string `json:"html_url"`
}

// ParseRepository parses an "owner/name" slug into a Repository with only the
// slug fields populated.
func ParseRepository(slug string) (Repository, error) {
	owner, name, ok := strings.Cut(strings.TrimSpace(slug), "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return Repository{}, fmt.Errorf("invalid repository %q: expected owner/name", slug)
	}
	return Repository{
		Owner:    owner,
		Repo:     name,
		Name:     name,
		FullName: owner + "/" + name,
		HTMLURL:  "https://github.com/" + owner + "/" + name,
	}, nil
}
