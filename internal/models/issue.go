package models

import "time"

// IssueState represents the state of a GitHub issue.
type IssueState string

const (
	IssueStateOpen   IssueState = "open"
	IssueStateClosed IssueState = "closed"
)

// Issue is a GitHub issue re-typed to the shape the views and the assistant use.
// Body is empty when the remote body is null.
type Issue struct {
	Number    int        `json:"number"`
	Title     string     `json:"title"`
	Body      string     `json:"body"`
	State     IssueState `json:"state"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	HTMLURL   string     `json:"html_url"`
	Comments  int        `json:"comments"`
}

// IsOpen reports whether the issue can still be closed.
func (i Issue) IsOpen() bool {
	return i.State == IssueStateOpen
}

// Author identifies the user who wrote a comment.
type Author struct {
	Login     string `json:"login"`
	AvatarURL string `json:"avatar_url"`
}

// Comment is a single comment in an issue discussion.
type Comment struct {
	ID        int64     `json:"id"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
	User      Author    `json:"user"`
}
