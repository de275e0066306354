package assistant

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/joescharf/ghcanvas/internal/models"
)

// Renderable component names.
const (
	ComponentIssuesList      = "github-issues-list"
	ComponentIssueItem       = "github-issue-item"
	ComponentCreateIssueForm = "github-create-issue-form"
)

// ToolGitHub is the data tool exposed to the model.
const ToolGitHub = "github"

const renderPrefix = "render_"

// ErrUnknownComponent is returned by Decode for names outside the registry.
var ErrUnknownComponent = errors.New("unknown component")

// Component is one of IssuesListProps, IssueItemProps or CreateIssueFormProps.
type Component interface {
	ComponentName() string
	isComponent()
}

// IssuesListProps renders a filtered issues list.
type IssuesListProps struct {
	Filters models.IssueFilter `json:"filters"`
}

// IssueItemProps renders a single issue.
type IssueItemProps struct {
	Issue models.Issue `json:"issue"`
}

// CreateIssueFormProps renders a prefilled creation form.
type CreateIssueFormProps struct {
	InitialTitle string `json:"initialTitle,omitempty"`
	InitialBody  string `json:"initialBody,omitempty"`
}

func (IssuesListProps) ComponentName() string      { return ComponentIssuesList }
func (IssueItemProps) ComponentName() string       { return ComponentIssueItem }
func (CreateIssueFormProps) ComponentName() string { return ComponentCreateIssueForm }

func (IssuesListProps) isComponent()      {}
func (IssueItemProps) isComponent()       {}
func (CreateIssueFormProps) isComponent() {}

// Decode resolves a component name and its JSON props.
func Decode(name string, props json.RawMessage) (Component, error) {
	if len(props) == 0 || string(props) == "null" {
		props = json.RawMessage("{}")
	}
	switch name {
	case ComponentIssuesList:
		var p IssuesListProps
		if err := json.Unmarshal(props, &p); err != nil {
			return nil, fmt.Errorf("decode %s props: %w", name, err)
		}
		if err := p.Filters.Validate(); err != nil {
			return nil, fmt.Errorf("decode %s props: %w", name, err)
		}
		return p, nil
	case ComponentIssueItem:
		var p IssueItemProps
		if err := json.Unmarshal(props, &p); err != nil {
			return nil, fmt.Errorf("decode %s props: %w", name, err)
		}
		if p.Issue.Number <= 0 {
			return nil, fmt.Errorf("decode %s props: issue number is required", name)
		}
		return p, nil
	case ComponentCreateIssueForm:
		var p CreateIssueFormProps
		if err := json.Unmarshal(props, &p); err != nil {
			return nil, fmt.Errorf("decode %s props: %w", name, err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownComponent, name)
	}
}

// Encode converts a component into its stored form.
func Encode(c Component) (*models.RenderedComponent, error) {
	props, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode %s props: %w", c.ComponentName(), err)
	}
	return &models.RenderedComponent{Name: c.ComponentName(), Props: props}, nil
}

// Spec declares a tool or component with its JSON schema.
type Spec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Properties  map[string]any `json:"properties"`
	Required    []string       `json:"required,omitempty"`
}

// Schema returns the full JSON schema object.
func (s Spec) Schema() map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": s.Properties,
	}
	if len(s.Required) > 0 {
		schema["required"] = s.Required
	}
	return schema
}

// FilterSchema is the JSON schema of models.IssueFilter.
func FilterSchema() map[string]any {
	str := func(desc string) map[string]any {
		return map[string]any{"type": "string", "description": desc}
	}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"state": map[string]any{
				"type": "string",
				"enum": []string{"open", "closed", "all"},
			},
			"title":          str("The title of the issue contains this string"),
			"body":           str("The body of the issue contains this string"),
			"created_after":  str("The issue was created after this date"),
			"created_before": str("The issue was created before this date"),
			"updated_after":  str("The issue was updated after this date"),
			"updated_before": str("The issue was updated before this date"),
			"comments": map[string]any{
				"type":        "integer",
				"description": "The issue has this many comments",
			},
		},
	}
}

// IssueSchema is the JSON schema of models.Issue.
func IssueSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"number":     map[string]any{"type": "integer"},
			"title":      map[string]any{"type": "string"},
			"body":       map[string]any{"type": []string{"string", "null"}},
			"state":      map[string]any{"type": "string"},
			"created_at": map[string]any{"type": "string"},
			"updated_at": map[string]any{"type": "string"},
			"html_url":   map[string]any{"type": "string"},
			"comments":   map[string]any{"type": "integer"},
		},
		"required": []string{"number", "title", "body", "state", "created_at", "updated_at", "html_url", "comments"},
	}
}

// GitHubTool declares the issue retrieval tool.
func GitHubTool() Spec {
	return Spec{
		Name:        ToolGitHub,
		Description: "A tool to get issues from a GitHub repository",
		Properties: map[string]any{
			"filters": FilterSchema(),
		},
	}
}

// Components lists the renderable components in display order.
func Components() []Spec {
	return []Spec{
		{
			Name:        ComponentIssuesList,
			Description: "A list of issues from a GitHub repository. Use this when the user wants to view a list of issues.",
			Properties:  map[string]any{"filters": FilterSchema()},
			Required:    []string{"filters"},
		},
		{
			Name:        ComponentIssueItem,
			Description: "Details of a single issue from a GitHub repository. Use this when the user wants to view the details of a single issue.",
			Properties:  map[string]any{"issue": IssueSchema()},
			Required:    []string{"issue"},
		},
		{
			Name:        ComponentCreateIssueForm,
			Description: "A form to create a new issue in a GitHub repository. Use this when the user wants to create a new issue.",
			Properties: map[string]any{
				"initialTitle": map[string]any{"type": "string", "description": "The initial title of the issue to create"},
				"initialBody":  map[string]any{"type": "string", "description": "The initial body of the issue to create"},
			},
		},
	}
}

// RenderToolName is the tool name under which a component is offered.
func RenderToolName(component string) string {
	return renderPrefix + strings.ReplaceAll(component, "-", "_")
}

// ComponentForTool maps a render tool name back to its component.
func ComponentForTool(tool string) (string, bool) {
	if !strings.HasPrefix(tool, renderPrefix) {
		return "", false
	}
	for _, c := range Components() {
		if RenderToolName(c.Name) == tool {
			return c.Name, true
		}
	}
	return "", false
}
