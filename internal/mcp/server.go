package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/joescharf/ghcanvas/internal/github"
	"github.com/joescharf/ghcanvas/internal/models"
	"github.com/joescharf/ghcanvas/internal/session"
)

// Gateway is the GitHub surface exposed as tools.
type Gateway interface {
	Repositories(ctx context.Context, creds github.Credentials) ([]models.Repository, error)
	Issues(ctx context.Context, creds github.Credentials, filter models.IssueFilter) ([]models.Issue, error)
	Issue(ctx context.Context, creds github.Credentials, repo models.Repository, number int) (*models.Issue, error)
	CreateIssue(ctx context.Context, creds github.Credentials, repo models.Repository, title, body string) (*models.Issue, error)
	UpdateIssue(ctx context.Context, creds github.Credentials, repo models.Repository, number int, title, body string) (*models.Issue, error)
	CloseIssue(ctx context.Context, creds github.Credentials, repo models.Repository, number int) (*models.Issue, error)
	Comments(ctx context.Context, creds github.Credentials, repo models.Repository, number int) ([]models.Comment, error)
	CreateComment(ctx context.Context, creds github.Credentials, repo models.Repository, number int, body string) (*models.Comment, error)
}

var _ Gateway = (*github.Gateway)(nil)

// Server exposes the gateway as MCP tools acting for one session.
type Server struct {
	gateway Gateway
	version string

	mu   sync.Mutex // guards sess
	sess *session.Session
}

// NewServer creates the MCP server wrapper. The session is reloaded from its
// store before every call and supplies the token and repository selection.
func NewServer(gw Gateway, sess *session.Session, version string) *Server {
	if version == "" {
		version = "dev"
	}
	return &Server{gateway: gw, sess: sess, version: version}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("ghcanvas", s.version, server.WithToolCapabilities(true))

	add := func(tool mcp.Tool, handler server.ToolHandlerFunc) {
		srv.AddTool(tool, s.serialized(handler))
	}
	add(s.listRepositoriesTool())
	add(s.selectRepositoryTool())
	add(s.listIssuesTool())
	add(s.getIssueTool())
	add(s.createIssueTool())
	add(s.updateIssueTool())
	add(s.closeIssueTool())
	add(s.listCommentsTool())
	add(s.createCommentTool())

	return srv
}

// serialized runs handler under the session lock after reloading the session,
// so logins and repository selections made from the terminal apply to the
// next call.
func (s *Server) serialized(handler server.ToolHandlerFunc) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if err := s.sess.Reload(ctx); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to load session: %v", err)), nil
		}
		return handler(ctx, request)
	}
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	srv := s.MCPServer()
	stdioServer := server.NewStdioServer(srv)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// selected returns the session's repository or a tool error result.
func (s *Server) selected() (models.Repository, *mcp.CallToolResult) {
	repo := s.sess.SelectedRepository()
	if repo == nil {
		return models.Repository{}, mcp.NewToolResultError(github.ErrMissingRepository.Error())
	}
	return *repo, nil
}

func requireNumber(request mcp.CallToolRequest) (int, *mcp.CallToolResult) {
	n := request.GetInt("number", 0)
	if n <= 0 {
		return 0, mcp.NewToolResultError("missing required parameter: number")
	}
	return n, nil
}

// ---------------------------------------------------------------------------
// Tool definitions and handlers
// ---------------------------------------------------------------------------

// github_list_repositories
func (s *Server) listRepositoriesTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("github_list_repositories",
		mcp.WithDescription("List repositories the authenticated user can access, most recently updated first (up to 100)."),
	)
	return tool, s.handleListRepositories
}

func (s *Server) handleListRepositories(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	repos, err := s.gateway.Repositories(ctx, s.sess)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list repositories: %v", err)), nil
	}
	return jsonResult(repos)
}

// github_select_repository
func (s *Server) selectRepositoryTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("github_select_repository",
		mcp.WithDescription("Select the repository that issue tools operate on. Pass an empty string to clear the selection."),
		mcp.WithString("repository", mcp.Required(), mcp.Description("Repository as owner/name")),
	)
	return tool, s.handleSelectRepository
}

func (s *Server) handleSelectRepository(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	slug := request.GetString("repository", "")
	if slug == "" {
		if err := s.sess.SetSelectedRepository(ctx, nil); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to clear repository: %v", err)), nil
		}
		return mcp.NewToolResultText("Repository selection cleared"), nil
	}
	repo, err := models.ParseRepository(slug)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.sess.SetSelectedRepository(ctx, &repo); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to select repository: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Selected %s", repo.FullName)), nil
}

// github_list_issues
func (s *Server) listIssuesTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("github_list_issues",
		mcp.WithDescription("List issues of the selected repository. Pull requests are excluded. Only the 100 most recent issues are searched; all filters are AND-combined."),
		mcp.WithString("state", mcp.Enum("open", "closed", "all"), mcp.Description("Issue state (default all)")),
		mcp.WithString("title", mcp.Description("The title of the issue contains this string")),
		mcp.WithString("body", mcp.Description("The body of the issue contains this string")),
		mcp.WithString("created_after", mcp.Description("The issue was created after this date")),
		mcp.WithString("created_before", mcp.Description("The issue was created before this date")),
		mcp.WithString("updated_after", mcp.Description("The issue was updated after this date")),
		mcp.WithString("updated_before", mcp.Description("The issue was updated before this date")),
		mcp.WithNumber("comments", mcp.Description("The issue has this many comments")),
	)
	return tool, s.handleListIssues
}

func (s *Server) handleListIssues(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filter := models.IssueFilter{
		State:         request.GetString("state", ""),
		Title:         request.GetString("title", ""),
		Body:          request.GetString("body", ""),
		CreatedAfter:  request.GetString("created_after", ""),
		CreatedBefore: request.GetString("created_before", ""),
		UpdatedAfter:  request.GetString("updated_after", ""),
		UpdatedBefore: request.GetString("updated_before", ""),
	}
	if _, ok := request.GetArguments()["comments"]; ok {
		n := request.GetInt("comments", 0)
		filter.Comments = &n
	}

	issues, err := s.gateway.Issues(ctx, s.sess, filter)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list issues: %v", err)), nil
	}
	return jsonResult(issues)
}

// github_get_issue
func (s *Server) getIssueTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("github_get_issue",
		mcp.WithDescription("Get a single issue of the selected repository."),
		mcp.WithNumber("number", mcp.Required(), mcp.Description("Issue number")),
	)
	return tool, s.handleGetIssue
}

func (s *Server) handleGetIssue(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	repo, errResult := s.selected()
	if errResult != nil {
		return errResult, nil
	}
	n, errResult := requireNumber(request)
	if errResult != nil {
		return errResult, nil
	}
	issue, err := s.gateway.Issue(ctx, s.sess, repo, n)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to get issue: %v", err)), nil
	}
	return jsonResult(issue)
}

// github_create_issue
func (s *Server) createIssueTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("github_create_issue",
		mcp.WithDescription("Create an issue in the selected repository."),
		mcp.WithString("title", mcp.Required(), mcp.Description("Issue title")),
		mcp.WithString("body", mcp.Description("Issue description")),
	)
	return tool, s.handleCreateIssue
}

func (s *Server) handleCreateIssue(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	repo, errResult := s.selected()
	if errResult != nil {
		return errResult, nil
	}
	title, err := request.RequireString("title")
	if err != nil || title == "" {
		return mcp.NewToolResultError("missing required parameter: title"), nil
	}
	issue, err := s.gateway.CreateIssue(ctx, s.sess, repo, title, request.GetString("body", ""))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to create issue: %v", err)), nil
	}
	return jsonResult(issue)
}

// github_update_issue
func (s *Server) updateIssueTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("github_update_issue",
		mcp.WithDescription("Replace the title and body of an issue. Omitted fields keep their current value."),
		mcp.WithNumber("number", mcp.Required(), mcp.Description("Issue number")),
		mcp.WithString("title", mcp.Description("New title")),
		mcp.WithString("body", mcp.Description("New description")),
	)
	return tool, s.handleUpdateIssue
}

func (s *Server) handleUpdateIssue(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	repo, errResult := s.selected()
	if errResult != nil {
		return errResult, nil
	}
	n, errResult := requireNumber(request)
	if errResult != nil {
		return errResult, nil
	}

	current, err := s.gateway.Issue(ctx, s.sess, repo, n)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to get issue: %v", err)), nil
	}
	title := request.GetString("title", current.Title)
	body := request.GetString("body", current.Body)

	issue, err := s.gateway.UpdateIssue(ctx, s.sess, repo, n, title, body)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to update issue: %v", err)), nil
	}
	return jsonResult(issue)
}

// github_close_issue
func (s *Server) closeIssueTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("github_close_issue",
		mcp.WithDescription("Close an issue of the selected repository."),
		mcp.WithNumber("number", mcp.Required(), mcp.Description("Issue number")),
	)
	return tool, s.handleCloseIssue
}

func (s *Server) handleCloseIssue(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	repo, errResult := s.selected()
	if errResult != nil {
		return errResult, nil
	}
	n, errResult := requireNumber(request)
	if errResult != nil {
		return errResult, nil
	}
	issue, err := s.gateway.CloseIssue(ctx, s.sess, repo, n)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to close issue: %v", err)), nil
	}
	return jsonResult(issue)
}

// github_list_comments
func (s *Server) listCommentsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("github_list_comments",
		mcp.WithDescription("List the comments on an issue (up to 100)."),
		mcp.WithNumber("number", mcp.Required(), mcp.Description("Issue number")),
	)
	return tool, s.handleListComments
}

func (s *Server) handleListComments(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	repo, errResult := s.selected()
	if errResult != nil {
		return errResult, nil
	}
	n, errResult := requireNumber(request)
	if errResult != nil {
		return errResult, nil
	}
	comments, err := s.gateway.Comments(ctx, s.sess, repo, n)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list comments: %v", err)), nil
	}
	if comments == nil {
		comments = []models.Comment{}
	}
	return jsonResult(comments)
}

// github_create_comment
func (s *Server) createCommentTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("github_create_comment",
		mcp.WithDescription("Post a comment on an issue."),
		mcp.WithNumber("number", mcp.Required(), mcp.Description("Issue number")),
		mcp.WithString("body", mcp.Required(), mcp.Description("Comment text")),
	)
	return tool, s.handleCreateComment
}

func (s *Server) handleCreateComment(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	repo, errResult := s.selected()
	if errResult != nil {
		return errResult, nil
	}
	n, errResult := requireNumber(request)
	if errResult != nil {
		return errResult, nil
	}
	body, err := request.RequireString("body")
	if err != nil || body == "" {
		return mcp.NewToolResultError("missing required parameter: body"), nil
	}
	comment, err := s.gateway.CreateComment(ctx, s.sess, repo, n, body)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to create comment: %v", err)), nil
	}
	return jsonResult(comment)
}
