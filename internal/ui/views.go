package ui

import (
	"fmt"
	"unicode/utf8"

	"github.com/joescharf/ghcanvas/internal/models"
)

// MaxDescriptionLength is the body length shown before "Show more".
const MaxDescriptionLength = 150

// Truncate shortens body to MaxDescriptionLength runes plus "...".
func Truncate(body string) string {
	if utf8.RuneCountInString(body) <= MaxDescriptionLength {
		return body
	}
	runes := []rune(body)
	return string(runes[:MaxDescriptionLength]) + "..."
}

// IssueListView is the loaded state of one issues list. It is valid for the
// (repository, filters, marker) key it was loaded under.
type IssueListView struct {
	Repo    models.Repository
	Filters models.IssueFilter
	Marker  string
	Issues  []models.Issue
	Err     string
	loaded  bool
}

// ListKey identifies what a list was loaded for. Marker is the latest
// assistant message id, so a finished assistant turn forces a reload.
func ListKey(repo models.Repository, filters models.IssueFilter, marker string) string {
	return fmt.Sprintf("%s/%s|%s|%s", repo.Owner, repo.Repo, filters.Key(), marker)
}

// Key returns the list's ListKey.
func (v *IssueListView) Key() string {
	return ListKey(v.Repo, v.Filters, v.Marker)
}

// NeedsReload reports whether the list must be fetched for the given key.
func (v *IssueListView) NeedsReload(repo models.Repository, filters models.IssueFilter, marker string) bool {
	return v == nil || !v.loaded || v.Key() != ListKey(repo, filters, marker)
}

// Loaded records a fetch result.
func (v *IssueListView) Loaded(issues []models.Issue, err error) {
	v.loaded = true
	v.Issues = issues
	v.Err = ""
	if err != nil {
		v.Issues = nil
		v.Err = err.Error()
	}
}

// Add appends a newly created issue.
func (v *IssueListView) Add(issue models.Issue) {
	v.Issues = append(v.Issues, issue)
}

// MarkClosed flips the local state of issue number to closed. It reports
// whether the issue is in the list.
func (v *IssueListView) MarkClosed(number int) bool {
	for i := range v.Issues {
		if v.Issues[i].Number == number {
			v.Issues[i].State = models.IssueStateClosed
			return true
		}
	}
	return false
}

// Find returns the issue with number, if listed.
func (v *IssueListView) Find(number int) (models.Issue, bool) {
	for _, issue := range v.Issues {
		if issue.Number == number {
			return issue, true
		}
	}
	return models.Issue{}, false
}

// ActiveFilters restates the list's filters for loading and empty states.
func (v *IssueListView) ActiveFilters() []string {
	return v.Filters.Active()
}

// IssueItemView is one rendered issue.
type IssueItemView struct {
	Issue        models.Issue
	Expanded     bool
	CommentsOpen bool
	Comments     []models.Comment
	CommentsErr  string
	// Standalone items close themselves; listed items close through the list.
	Standalone string
	// Return is the page actions redirect back to.
	Return string
}

// Body returns the description as displayed.
func (v IssueItemView) Body() string {
	if v.Expanded {
		return v.Issue.Body
	}
	return Truncate(v.Issue.Body)
}

// HasMore reports whether the body is long enough for a show-more toggle.
func (v IssueItemView) HasMore() bool {
	return utf8.RuneCountInString(v.Issue.Body) > MaxDescriptionLength
}

// CanClose reports whether a close action is offered.
func (v IssueItemView) CanClose() bool {
	return v.Issue.IsOpen()
}

// FormView is a create-issue form. After a successful submit it shows the
// "created!" state until reset.
type FormView struct {
	ID        string
	Title     string
	Body      string
	Submitted bool
	Err       string
}

// Submit runs handler with the form's input. On success the form enters the
// submitted state; on failure it keeps the input and records the error.
func (f *FormView) Submit(title, body string, handler func(title, body string) error) error {
	f.Title, f.Body = title, body
	if err := handler(title, body); err != nil {
		f.Err = err.Error()
		return err
	}
	f.Err = ""
	f.Submitted = true
	return nil
}

// Reset returns the form to a pristine state.
func (f *FormView) Reset() {
	f.Title, f.Body, f.Err = "", "", ""
	f.Submitted = false
}

// Canvas tracks which message the canvas currently shows.
type Canvas struct {
	current string
}

// Observe selects the newest message carrying a component and reports
// whether its identity differs from the previous observation. A nil message
// means the default issues list.
func (c *Canvas) Observe(messages []*models.Message) (*models.Message, bool) {
	var latest *models.Message
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Component != nil {
			latest = messages[i]
			break
		}
	}
	id := ""
	if latest != nil {
		id = latest.ID
	}
	changed := id != c.current
	c.current = id
	return latest, changed
}

// Marker returns the id of the newest assistant message, or "".
func Marker(messages []*models.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == models.RoleAssistant {
			return messages[i].ID
		}
	}
	return ""
}
