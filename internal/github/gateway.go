// Package github translates local issue operations into GitHub REST calls.
package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"

	"github.com/joescharf/ghcanvas/internal/models"
)

// PageSize is the number of items requested per list call. Only the first
// page is ever fetched.
const PageSize = 100

// ErrMissingRepository is returned by operations that need a selected
// repository when none is selected.
var ErrMissingRepository = errors.New("missing repository: select a repository first")

// Credentials supplies the token and selection at call time.
type Credentials interface {
	AccessToken() string
	SelectedRepository() *models.Repository
}

// Gateway wraps the GitHub issue tracker behind typed functions.
type Gateway struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithBaseURL points the gateway at another API root (GitHub Enterprise or a
// test server).
func WithBaseURL(raw string) Option {
	return func(g *Gateway) {
		if raw == "" {
			return
		}
		if !strings.HasSuffix(raw, "/") {
			raw += "/"
		}
		if u, err := url.Parse(raw); err == nil {
			g.baseURL = u
		}
	}
}

// WithHTTPClient sets the base transport used beneath the token source.
func WithHTTPClient(c *http.Client) Option {
	return func(g *Gateway) {
		g.httpClient = c
	}
}

// NewGateway creates a Gateway with the given options.
func NewGateway(opts ...Option) *Gateway {
	g := &Gateway{}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// client builds a fresh API client from the caller's current token so a token
// change takes effect on the next call.
func (g *Gateway) client(ctx context.Context, creds Credentials) *github.Client {
	var tc *http.Client
	if token := creds.AccessToken(); token != "" {
		if g.httpClient != nil {
			ctx = context.WithValue(ctx, oauth2.HTTPClient, g.httpClient)
		}
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		tc = oauth2.NewClient(ctx, ts)
	} else {
		tc = g.httpClient
	}

	c := github.NewClient(tc)
	if g.baseURL != nil {
		u := *g.baseURL
		c.BaseURL = &u
	}
	return c
}

// Repositories lists repositories the authenticated user can access, most
// recently updated first.
func (g *Gateway) Repositories(ctx context.Context, creds Credentials) ([]models.Repository, error) {
	repos, _, err := g.client(ctx, creds).Repositories.List(ctx, "", &github.RepositoryListOptions{
		Sort:        "updated",
		ListOptions: github.ListOptions{PerPage: PageSize},
	})
	if err != nil {
		return nil, fmt.Errorf("list repositories: %w", err)
	}

	out := make([]models.Repository, 0, len(repos))
	for _, r := range repos {
		out = append(out, convertRepository(r))
	}
	return out, nil
}

// Issues lists issues of the selected repository. Only the state is filtered
// remotely; the other predicates apply to the fetched page, so results are
// incomplete when the repository has more than PageSize issues.
func (g *Gateway) Issues(ctx context.Context, creds Credentials, filter models.IssueFilter) ([]models.Issue, error) {
	repo := creds.SelectedRepository()
	if repo == nil {
		return nil, ErrMissingRepository
	}
	if err := filter.Validate(); err != nil {
		return nil, fmt.Errorf("invalid filters: %w", err)
	}

	issues, _, err := g.client(ctx, creds).Issues.ListByRepo(ctx, repo.Owner, repo.Repo, &github.IssueListByRepoOptions{
		State:       filter.RemoteState(),
		ListOptions: github.ListOptions{PerPage: PageSize},
	})
	if err != nil {
		return nil, fmt.Errorf("list issues: %w", err)
	}

	out := make([]models.Issue, 0, len(issues))
	for _, issue := range issues {
		if issue.IsPullRequest() {
			continue
		}
		out = append(out, convertIssue(issue))
	}
	return filter.Apply(out), nil
}

// Issue fetches a single issue.
func (g *Gateway) Issue(ctx context.Context, creds Credentials, repo models.Repository, number int) (*models.Issue, error) {
	issue, _, err := g.client(ctx, creds).Issues.Get(ctx, repo.Owner, repo.Repo, number)
	if err != nil {
		return nil, fmt.Errorf("get issue #%d: %w", number, err)
	}
	out := convertIssue(issue)
	return &out, nil
}

// CreateIssue opens a new issue.
func (g *Gateway) CreateIssue(ctx context.Context, creds Credentials, repo models.Repository, title, body string) (*models.Issue, error) {
	issue, _, err := g.client(ctx, creds).Issues.Create(ctx, repo.Owner, repo.Repo, &github.IssueRequest{
		Title: github.String(title),
		Body:  github.String(body),
	})
	if err != nil {
		return nil, fmt.Errorf("create issue: %w", err)
	}
	out := convertIssue(issue)
	return &out, nil
}

// UpdateIssue replaces the title and body of an issue.
func (g *Gateway) UpdateIssue(ctx context.Context, creds Credentials, repo models.Repository, number int, title, body string) (*models.Issue, error) {
	issue, _, err := g.client(ctx, creds).Issues.Edit(ctx, repo.Owner, repo.Repo, number, &github.IssueRequest{
		Title: github.String(title),
		Body:  github.String(body),
	})
	if err != nil {
		return nil, fmt.Errorf("update issue #%d: %w", number, err)
	}
	out := convertIssue(issue)
	return &out, nil
}

// CloseIssue sets the issue state to closed.
func (g *Gateway) CloseIssue(ctx context.Context, creds Credentials, repo models.Repository, number int) (*models.Issue, error) {
	issue, _, err := g.client(ctx, creds).Issues.Edit(ctx, repo.Owner, repo.Repo, number, &github.IssueRequest{
		State: github.String(string(models.IssueStateClosed)),
	})
	if err != nil {
		return nil, fmt.Errorf("close issue #%d: %w", number, err)
	}
	out := convertIssue(issue)
	return &out, nil
}

// Comments lists the first page of comments on an issue.
func (g *Gateway) Comments(ctx context.Context, creds Credentials, repo models.Repository, number int) ([]models.Comment, error) {
	comments, _, err := g.client(ctx, creds).Issues.ListComments(ctx, repo.Owner, repo.Repo, number, &github.IssueListCommentsOptions{
		ListOptions: github.ListOptions{PerPage: PageSize},
	})
	if err != nil {
		return nil, fmt.Errorf("list comments on #%d: %w", number, err)
	}

	out := make([]models.Comment, 0, len(comments))
	for _, c := range comments {
		out = append(out, convertComment(c))
	}
	return out, nil
}

// CreateComment posts a comment on an issue.
func (g *Gateway) CreateComment(ctx context.Context, creds Credentials, repo models.Repository, number int, body string) (*models.Comment, error) {
	c, _, err := g.client(ctx, creds).Issues.CreateComment(ctx, repo.Owner, repo.Repo, number, &github.IssueComment{
		Body: github.String(body),
	})
	if err != nil {
		return nil, fmt.Errorf("comment on #%d: %w", number, err)
	}
	out := convertComment(c)
	return &out, nil
}

func convertRepository(r *github.Repository) models.Repository {
	return models.Repository{
		Owner:       r.GetOwner().GetLogin(),
		Repo:        r.GetName(),
		Name:        r.GetName(),
		FullName:    r.GetFullName(),
		Description: r.GetDescription(),
		HTMLURL:     r.GetHTMLURL(),
	}
}

func convertIssue(issue *github.Issue) models.Issue {
	return models.Issue{
		Number:    issue.GetNumber(),
		Title:     issue.GetTitle(),
		Body:      issue.GetBody(),
		State:     models.IssueState(issue.GetState()),
		CreatedAt: issue.GetCreatedAt().Time,
		UpdatedAt: issue.GetUpdatedAt().Time,
		HTMLURL:   issue.GetHTMLURL(),
		Comments:  issue.GetComments(),
	}
}

func convertComment(c *github.IssueComment) models.Comment {
	return models.Comment{
		ID:        c.GetID(),
		Body:      c.GetBody(),
		CreatedAt: c.GetCreatedAt().Time,
		User: models.Author{
			Login:     c.GetUser().GetLogin(),
			AvatarURL: c.GetUser().GetAvatarURL(),
		},
	}
}
