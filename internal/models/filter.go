package models

import (
	"fmt"
	"strings"
	"time"
)

// IssueFilter is an optional, AND-combined set of predicates over issues.
// Date bounds are strings so the assistant can pass whatever it read from the
// conversation; they are parsed by Validate and Match.
type IssueFilter struct {
	State         string `json:"state,omitempty"`
	Title         string `json:"title,omitempty"`
	Body          string `json:"body,omitempty"`
	CreatedAfter  string `json:"created_after,omitempty"`
	CreatedBefore string `json:"created_before,omitempty"`
	UpdatedAfter  string `json:"updated_after,omitempty"`
	UpdatedBefore string `json:"updated_before,omitempty"`
	Comments      *int   `json:"comments,omitempty"`
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParseDate parses a filter date bound. Dates without a zone are UTC.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q", s)
}

// IsZero reports whether no predicate is set.
func (f IssueFilter) IsZero() bool {
	return f == IssueFilter{}
}

// RemoteState returns the state sent to the remote API, defaulting to "all".
func (f IssueFilter) RemoteState() string {
	if f.State == "" {
		return "all"
	}
	return f.State
}

// Validate checks the state value and that every date bound parses.
func (f IssueFilter) Validate() error {
	switch f.State {
	case "", "all", string(IssueStateOpen), string(IssueStateClosed):
	default:
		return fmt.Errorf("invalid state %q: expected open, closed or all", f.State)
	}
	bounds := []struct{ name, value string }{
		{"created_after", f.CreatedAfter},
		{"created_before", f.CreatedBefore},
		{"updated_after", f.UpdatedAfter},
		{"updated_before", f.UpdatedBefore},
	}
	for _, b := range bounds {
		if b.value == "" {
			continue
		}
		if _, err := ParseDate(b.value); err != nil {
			return fmt.Errorf("%s: %w", b.name, err)
		}
	}
	if f.Comments != nil && *f.Comments < 0 {
		return fmt.Errorf("comments must not be negative")
	}
	return nil
}

// Match reports whether the issue satisfies every set predicate. Unparseable
// date bounds never match; call Validate first to report them.
func (f IssueFilter) Match(issue Issue) bool {
	if f.State != "" && f.State != "all" && string(issue.State) != f.State {
		return false
	}
	if f.Title != "" && !containsFold(issue.Title, f.Title) {
		return false
	}
	if f.Body != "" && !containsFold(issue.Body, f.Body) {
		return false
	}
	if !inBounds(issue.CreatedAt, f.CreatedAfter, f.CreatedBefore) {
		return false
	}
	if !inBounds(issue.UpdatedAt, f.UpdatedAfter, f.UpdatedBefore) {
		return false
	}
	if f.Comments != nil && issue.Comments != *f.Comments {
		return false
	}
	return true
}

// Apply returns the issues that match, preserving order.
func (f IssueFilter) Apply(issues []Issue) []Issue {
	out := make([]Issue, 0, len(issues))
	for _, issue := range issues {
		if f.Match(issue) {
			out = append(out, issue)
		}
	}
	return out
}

// Active returns one human-readable line per set predicate.
func (f IssueFilter) Active() []string {
	var lines []string
	if f.State != "" {
		lines = append(lines, "State: "+f.State)
	}
	if f.Title != "" {
		lines = append(lines, fmt.Sprintf("Title contains: %q", f.Title))
	}
	if f.Body != "" {
		lines = append(lines, fmt.Sprintf("Body contains: %q", f.Body))
	}
	if f.CreatedAfter != "" {
		lines = append(lines, "Created after: "+f.CreatedAfter)
	}
	if f.CreatedBefore != "" {
		lines = append(lines, "Created before: "+f.CreatedBefore)
	}
	if f.UpdatedAfter != "" {
		lines = append(lines, "Updated after: "+f.UpdatedAfter)
	}
	if f.UpdatedBefore != "" {
		lines = append(lines, "Updated before: "+f.UpdatedBefore)
	}
	if f.Comments != nil {
		lines = append(lines, fmt.Sprintf("Comments: %d", *f.Comments))
	}
	return lines
}

// Key returns a stable identity for the filter, used to detect changes.
func (f IssueFilter) Key() string {
	comments := "-"
	if f.Comments != nil {
		comments = fmt.Sprint(*f.Comments)
	}
	return strings.Join([]string{
		f.State, f.Title, f.Body,
		f.CreatedAfter, f.CreatedBefore, f.UpdatedAfter, f.UpdatedBefore,
		comments,
	}, "\x00")
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

func inBounds(t time.Time, after, before string) bool {
	if after != "" {
		a, err := ParseDate(after)
		if err != nil || !t.After(a) {
			return false
		}
	}
	if before != "" {
		b, err := ParseDate(before)
		if err != nil || !t.Before(b) {
			return false
		}
	}
	return true
}
