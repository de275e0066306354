package assistant

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/ghcanvas/internal/models"
)

func TestDecode(t *testing.T) {
	zero := 0
	tests := []struct {
		name    string
		comp    string
		props   string
		want    Component
		wantErr bool
	}{
		{
			name:  "issues list with filters",
			comp:  ComponentIssuesList,
			props: `{"filters":{"state":"closed","comments":0}}`,
			want:  IssuesListProps{Filters: models.IssueFilter{State: "closed", Comments: &zero}},
		},
		{
			name:  "issues list without props",
			comp:  ComponentIssuesList,
			props: ``,
			want:  IssuesListProps{},
		},
		{
			name:    "issues list with bad state",
			comp:    ComponentIssuesList,
			props:   `{"filters":{"state":"merged"}}`,
			wantErr: true,
		},
		{
			name:  "issue item",
			comp:  ComponentIssueItem,
			props: `{"issue":{"number":7,"title":"T","body":null,"state":"open","created_at":"2024-01-01T00:00:00Z","updated_at":"2024-01-02T00:00:00Z","html_url":"u","comments":1}}`,
		},
		{
			name:    "issue item without number",
			comp:    ComponentIssueItem,
			props:   `{"issue":{"title":"T"}}`,
			wantErr: true,
		},
		{
			name:  "create form",
			comp:  ComponentCreateIssueForm,
			props: `{"initialTitle":"A"}`,
			want:  CreateIssueFormProps{InitialTitle: "A"},
		},
		{
			name:    "malformed props",
			comp:    ComponentCreateIssueForm,
			props:   `[1,2]`,
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode(tt.comp, json.RawMessage(tt.props))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.comp, got.ComponentName())
			if tt.want != nil {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestDecode_IssueItemFields(t *testing.T) {
	c, err := Decode(ComponentIssueItem, json.RawMessage(`{"issue":{"number":7,"title":"T","body":null,"state":"open","created_at":"2024-01-01T00:00:00Z","updated_at":"2024-01-02T00:00:00Z","html_url":"u","comments":1}}`))
	require.NoError(t, err)
	item := c.(IssueItemProps)
	assert.Equal(t, 7, item.Issue.Number)
	assert.Equal(t, "", item.Issue.Body)
	assert.True(t, item.Issue.IsOpen())
}

func TestDecode_Unknown(t *testing.T) {
	_, err := Decode("github-pr-list", nil)
	assert.True(t, errors.Is(err, ErrUnknownComponent))
}

func TestEncodeRoundTrip(t *testing.T) {
	for _, c := range []Component{
		IssuesListProps{Filters: models.IssueFilter{Title: "bug"}},
		CreateIssueFormProps{InitialTitle: "x", InitialBody: "y"},
	} {
		rc, err := Encode(c)
		require.NoError(t, err)
		back, err := Decode(rc.Name, rc.Props)
		require.NoError(t, err)
		assert.Equal(t, c, back)
	}
}

func TestRenderToolNames(t *testing.T) {
	for _, spec := range Components() {
		name, ok := ComponentForTool(RenderToolName(spec.Name))
		assert.True(t, ok)
		assert.Equal(t, spec.Name, name)
	}
	_, ok := ComponentForTool(ToolGitHub)
	assert.False(t, ok)
	_, ok = ComponentForTool("render_unknown")
	assert.False(t, ok)
}

func TestSpecSchema(t *testing.T) {
	s := Components()[1].Schema()
	assert.Equal(t, "object", s["type"])
	assert.Equal(t, []string{"issue"}, s["required"])

	s = GitHubTool().Schema()
	assert.NotContains(t, s, "required")
	filters := s["properties"].(map[string]any)["filters"].(map[string]any)
	props := filters["properties"].(map[string]any)
	for _, key := range []string{"state", "title", "body", "created_after", "created_before", "updated_after", "updated_before", "comments"} {
		assert.Contains(t, props, key)
	}
}
