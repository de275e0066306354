// Package assistant connects the conversational model to the issue gateway
// and to the components the canvas can render.
package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joescharf/ghcanvas/internal/github"
	"github.com/joescharf/ghcanvas/internal/llm"
	"github.com/joescharf/ghcanvas/internal/models"
	"github.com/joescharf/ghcanvas/internal/session"
)

// Model runs a tool-using conversation.
type Model interface {
	Converse(ctx context.Context, system string, history []llm.Turn, tools []llm.Tool, handle llm.ToolHandler) (*llm.Reply, error)
}

// Thread persists conversation messages.
type Thread interface {
	AppendMessage(ctx context.Context, msg *models.Message) error
	ListMessages(ctx context.Context, threadID string) ([]*models.Message, error)
	DeleteThread(ctx context.Context, threadID string) error
}

// IssueSource backs the github tool.
type IssueSource interface {
	Issues(ctx context.Context, creds github.Credentials, filter models.IssueFilter) ([]models.Issue, error)
}

var (
	_ Model       = (*llm.Client)(nil)
	_ IssueSource = (*github.Gateway)(nil)
)

// Assistant answers user messages, fetching issues and choosing components.
type Assistant struct {
	model  Model
	thread Thread
	issues IssueSource
	now    func() time.Time
}

// New creates an Assistant.
func New(model Model, thread Thread, issues IssueSource) *Assistant {
	return &Assistant{model: model, thread: thread, issues: issues, now: time.Now}
}

// History returns the session's thread, oldest first.
func (a *Assistant) History(ctx context.Context, threadID string) ([]*models.Message, error) {
	return a.thread.ListMessages(ctx, threadID)
}

// Reset deletes the session's thread.
func (a *Assistant) Reset(ctx context.Context, threadID string) error {
	return a.thread.DeleteThread(ctx, threadID)
}

// Send records the user's text, runs the model and records its reply. The
// reply carries a component when the model chose one.
func (a *Assistant) Send(ctx context.Context, sess *session.Session, text string) (*models.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New("message is empty")
	}

	user := &models.Message{ThreadID: sess.ID, Role: models.RoleUser, Content: text}
	if err := a.thread.AppendMessage(ctx, user); err != nil {
		return nil, fmt.Errorf("save message: %w", err)
	}

	history, err := a.thread.ListMessages(ctx, sess.ID)
	if err != nil {
		return nil, fmt.Errorf("load thread: %w", err)
	}

	system := buildSystemPrompt(sess.SelectedRepository(), a.now())
	reply, err := a.model.Converse(ctx, system, turns(history), tools(), a.handler(sess))
	if err != nil {
		return nil, fmt.Errorf("assistant: %w", err)
	}

	msg := &models.Message{ThreadID: sess.ID, Role: models.RoleAssistant, Content: reply.Text}
	if reply.Final != nil {
		name, _ := ComponentForTool(reply.Final.Name)
		c, err := Decode(name, reply.Final.Input)
		if err == nil {
			msg.Component, err = Encode(c)
		}
		if err != nil {
			slog.Warn("dropping assistant component", "tool", reply.Final.Name, "error", err)
		}
	}
	if msg.Content == "" && msg.Component == nil {
		msg.Content = "I don't have anything to show for that."
	}
	if err := a.thread.AppendMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("save reply: %w", err)
	}
	return msg, nil
}

// handler executes tool calls on behalf of sess.
func (a *Assistant) handler(sess *session.Session) llm.ToolHandler {
	return func(ctx context.Context, call llm.ToolCall) llm.ToolResult {
		if call.Name == ToolGitHub {
			return a.listIssues(ctx, sess, call.Input)
		}

		name, ok := ComponentForTool(call.Name)
		if !ok {
			return llm.ToolResult{Content: fmt.Sprintf("unknown tool %q", call.Name), IsError: true}
		}
		if _, err := Decode(name, call.Input); err != nil {
			return llm.ToolResult{Content: err.Error(), IsError: true}
		}
		return llm.ToolResult{Content: "rendered " + name, Final: true}
	}
}

func (a *Assistant) listIssues(ctx context.Context, sess *session.Session, input json.RawMessage) llm.ToolResult {
	var args struct {
		Filters models.IssueFilter `json:"filters"`
	}
	if len(input) > 0 {
		if err := json.Unmarshal(input, &args); err != nil {
			return llm.ToolResult{Content: "invalid arguments: " + err.Error(), IsError: true}
		}
	}

	issues, err := a.issues.Issues(ctx, sess, args.Filters)
	if err != nil {
		slog.Error("assistant issue lookup failed", "error", err)
		return llm.ToolResult{Content: err.Error(), IsError: true}
	}
	data, err := json.Marshal(issues)
	if err != nil {
		return llm.ToolResult{Content: err.Error(), IsError: true}
	}
	return llm.ToolResult{Content: string(data)}
}

// tools lists the data tool followed by one render tool per component.
func tools() []llm.Tool {
	gh := GitHubTool()
	out := []llm.Tool{{Name: gh.Name, Description: gh.Description, Properties: gh.Properties, Required: gh.Required}}
	for _, c := range Components() {
		out = append(out, llm.Tool{
			Name:        RenderToolName(c.Name),
			Description: "Render " + c.Name + ". " + c.Description,
			Properties:  c.Properties,
			Required:    c.Required,
		})
	}
	return out
}

// turns converts stored messages into model turns. Rendered components are
// noted inline so the model knows what the user is looking at.
func turns(history []*models.Message) []llm.Turn {
	out := make([]llm.Turn, 0, len(history))
	for _, m := range history {
		text := m.Content
		if m.Component != nil {
			note := fmt.Sprintf("[rendered %s %s]", m.Component.Name, string(m.Component.Props))
			text = strings.TrimSpace(text + "\n\n" + note)
		}
		role := llm.RoleUser
		if m.Role == models.RoleAssistant {
			role = llm.RoleAssistant
		}
		out = append(out, llm.Turn{Role: role, Text: text})
	}
	return out
}

// buildSystemPrompt describes the assistant's job for the selected repository.
func buildSystemPrompt(repo *models.Repository, now time.Time) string {
	var sb strings.Builder
	sb.WriteString(`You help the user manage GitHub issues for one repository.

Use the "github" tool to fetch issues. Its optional "filters" narrow the result:
state (open, closed or all), title and body substrings (case-insensitive),
created/updated date bounds (YYYY-MM-DD or RFC 3339) and an exact comment count.
Only the 100 most recent issues are searched.

To show something on the canvas, call exactly one render tool:
`)
	for _, c := range Components() {
		fmt.Fprintf(&sb, "- %s: %s\n", RenderToolName(c.Name), c.Description)
	}
	sb.WriteString(`
Calling a render tool ends your turn, so write any text before it. Keep text replies short.
`)
	fmt.Fprintf(&sb, "\nToday is %s.\n", now.Format("2006-01-02"))
	if repo != nil {
		fmt.Fprintf(&sb, "The selected repository is %s/%s.\n", repo.Owner, repo.Repo)
	} else {
		sb.WriteString("No repository is selected; ask the user to select one before fetching issues.\n")
	}
	return sb.String()
}
