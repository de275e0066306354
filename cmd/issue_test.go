package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeGitHub serves the REST endpoints the CLI uses for acme/widgets.
type fakeGitHub struct {
	mu       sync.Mutex
	issues   []map[string]any
	comments []map[string]any
	auth     string
	bodies   []string
}

func newFakeGitHub(t *testing.T) *fakeGitHub {
	t.Helper()
	f := &fakeGitHub{
		issues: []map[string]any{
			{"number": 1, "title": "Crash on start", "body": "stack trace", "state": "open",
				"created_at": "2024-01-10T00:00:00Z", "updated_at": "2024-01-11T00:00:00Z", "comments": 2},
			{"number": 2, "title": "Docs typo", "state": "closed",
				"created_at": "2024-03-01T00:00:00Z", "updated_at": "2024-03-02T00:00:00Z", "comments": 0},
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /user/repos", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		writeTestJSON(w, http.StatusOK, []map[string]any{
			{"name": "widgets", "full_name": "acme/widgets", "description": "All the widgets",
				"owner": map[string]any{"login": "acme"}, "html_url": "https://github.com/acme/widgets"},
		})
	})
	mux.HandleFunc("GET /repos/acme/widgets/issues", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		state := r.URL.Query().Get("state")
		f.mu.Lock()
		defer f.mu.Unlock()
		out := []map[string]any{}
		for _, issue := range f.issues {
			if state == "all" || issue["state"] == state {
				out = append(out, issue)
			}
		}
		writeTestJSON(w, http.StatusOK, out)
	})
	mux.HandleFunc("POST /repos/acme/widgets/issues", func(w http.ResponseWriter, r *http.Request) {
		body := f.record(r)
		var req map[string]any
		_ = json.Unmarshal([]byte(body), &req)
		f.mu.Lock()
		defer f.mu.Unlock()
		issue := map[string]any{"number": len(f.issues) + 1, "title": req["title"], "body": req["body"], "state": "open",
			"html_url": fmt.Sprintf("https://github.com/acme/widgets/issues/%d", len(f.issues)+1)}
		f.issues = append(f.issues, issue)
		writeTestJSON(w, http.StatusCreated, issue)
	})
	mux.HandleFunc("GET /repos/acme/widgets/issues/1", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		f.mu.Lock()
		defer f.mu.Unlock()
		writeTestJSON(w, http.StatusOK, f.issues[0])
	})
	mux.HandleFunc("PATCH /repos/acme/widgets/issues/1", func(w http.ResponseWriter, r *http.Request) {
		body := f.record(r)
		var req map[string]any
		_ = json.Unmarshal([]byte(body), &req)
		f.mu.Lock()
		defer f.mu.Unlock()
		for k, v := range req {
			f.issues[0][k] = v
		}
		writeTestJSON(w, http.StatusOK, f.issues[0])
	})
	mux.HandleFunc("GET /repos/acme/widgets/issues/1/comments", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		f.mu.Lock()
		defer f.mu.Unlock()
		writeTestJSON(w, http.StatusOK, append([]map[string]any{}, f.comments...))
	})
	mux.HandleFunc("POST /repos/acme/widgets/issues/1/comments", func(w http.ResponseWriter, r *http.Request) {
		body := f.record(r)
		var req map[string]any
		_ = json.Unmarshal([]byte(body), &req)
		f.mu.Lock()
		defer f.mu.Unlock()
		c := map[string]any{"id": len(f.comments) + 1, "body": req["body"], "user": map[string]any{"login": "octocat"}}
		f.comments = append(f.comments, c)
		writeTestJSON(w, http.StatusCreated, c)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	viper.Set("github.api_url", srv.URL)
	return f
}

func (f *fakeGitHub) record(r *http.Request) string {
	data, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.auth = r.Header.Get("Authorization")
	f.bodies = append(f.bodies, string(data))
	return string(data)
}

func (f *fakeGitHub) lastBody() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.bodies) == 0 {
		return ""
	}
	return f.bodies[len(f.bodies)-1]
}

func writeTestJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// loggedIn stores a token and selects acme/widgets for the CLI session.
func loggedIn(t *testing.T) {
	t.Helper()
	authToken = "gho_cli"
	t.Cleanup(func() { authToken = "" })
	require.NoError(t, authLoginRun(context.Background()))
	require.NoError(t, repoSelectRun(context.Background(), "acme/widgets"))
}

// resetIssueFlags clears the package-level flag variables after a test.
func resetIssueFlags(t *testing.T) {
	t.Cleanup(func() {
		issueTitle, issueBody, issueShowComments = "", "", false
		issueFilterState, issueFilterTitle, issueFilterBody = "", "", ""
		issueFilterCreatedAfter, issueFilterCreatedBefore = "", ""
		issueFilterUpdatedAfter, issueFilterUpdatedBefore = "", ""
		issueFilterComments = 0
	})
}

func TestIssueFilterFromFlags(t *testing.T) {
	resetIssueFlags(t)
	cmd := &cobra.Command{}
	cmd.Flags().IntVar(&issueFilterComments, "comments", 0, "")
	issueFilterState = "open"
	issueFilterTitle = "crash"

	filter := issueFilterFromFlags(cmd)
	assert.Equal(t, "open", filter.State)
	assert.Equal(t, "crash", filter.Title)
	assert.Nil(t, filter.Comments, "comments applies only when the flag is given")

	require.NoError(t, cmd.Flags().Set("comments", "0"))
	filter = issueFilterFromFlags(cmd)
	require.NotNil(t, filter.Comments)
	assert.Equal(t, 0, *filter.Comments)
}

func TestParseIssueNumber(t *testing.T) {
	n, err := parseIssueNumber("42")
	require.NoError(t, err)
	assert.Equal(t, 42, n)

	for _, bad := range []string{"", "abc", "0", "-3"} {
		_, err := parseIssueNumber(bad)
		assert.Error(t, err, bad)
	}
}

func TestIssueList_RequiresLogin(t *testing.T) {
	testEnv(t)

	err := issueListRun(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not connected")
}

func TestIssueList_RequiresRepository(t *testing.T) {
	testEnv(t)
	authToken = "gho_cli"
	t.Cleanup(func() { authToken = "" })
	require.NoError(t, authLoginRun(context.Background()))

	err := issueListRun(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing repository")
}

func TestRepoSelect_FillsDetails(t *testing.T) {
	_, buf := testEnv(t)
	gh := newFakeGitHub(t)
	loggedIn(t)

	assert.Contains(t, buf.String(), "Selected acme/widgets")
	assert.Equal(t, "Bearer gho_cli", gh.auth)

	sess, err := cliSession(context.Background())
	require.NoError(t, err)
	require.NotNil(t, sess.SelectedRepository())
	assert.Equal(t, "All the widgets", sess.SelectedRepository().Description)
}

func TestRepoList(t *testing.T) {
	_, buf := testEnv(t)
	newFakeGitHub(t)
	loggedIn(t)

	buf.Reset()
	require.NoError(t, repoListRun(context.Background()))
	assert.Contains(t, buf.String(), "acme/widgets")
	assert.Contains(t, buf.String(), "All the widgets")
}

func TestIssueList_Filters(t *testing.T) {
	_, buf := testEnv(t)
	resetIssueFlags(t)
	newFakeGitHub(t)
	loggedIn(t)

	buf.Reset()
	require.NoError(t, issueListRun(nil))
	assert.Contains(t, buf.String(), "Crash on start")
	assert.Contains(t, buf.String(), "Docs typo")

	buf.Reset()
	issueFilterState = "open"
	issueFilterTitle = "crash"
	require.NoError(t, issueListRun(nil))
	assert.Contains(t, buf.String(), "Crash on start")
	assert.NotContains(t, buf.String(), "Docs typo")

	buf.Reset()
	issueFilterTitle = "nothing matches"
	require.NoError(t, issueListRun(nil))
	assert.Contains(t, buf.String(), "No issues found")
	assert.Contains(t, buf.String(), "using filters:")
}

func TestIssueList_InvalidDate(t *testing.T) {
	testEnv(t)
	resetIssueFlags(t)
	newFakeGitHub(t)
	loggedIn(t)

	issueFilterCreatedAfter = "yesterday-ish"
	err := issueListRun(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid date")
}

func TestIssueCreate(t *testing.T) {
	_, buf := testEnv(t)
	resetIssueFlags(t)
	gh := newFakeGitHub(t)
	loggedIn(t)

	issueTitle = "Test"
	issueBody = "Desc"
	require.NoError(t, issueCreateRun(context.Background()))
	assert.Contains(t, buf.String(), "Issue #3 created!")
	assert.JSONEq(t, `{"title":"Test","body":"Desc"}`, gh.lastBody())
}

func TestIssueCreate_RequiresTitle(t *testing.T) {
	testEnv(t)
	resetIssueFlags(t)

	err := issueCreateRun(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--title")
}

func TestIssueEdit_KeepsBody(t *testing.T) {
	testEnv(t)
	resetIssueFlags(t)
	gh := newFakeGitHub(t)
	loggedIn(t)

	require.NoError(t, issueEditCmd.Flags().Set("title", "Crash on launch"))
	t.Cleanup(func() { issueEditCmd.Flags().Lookup("title").Changed = false })

	require.NoError(t, issueEditRun(issueEditCmd, "1"))
	assert.JSONEq(t, `{"title":"Crash on launch","body":"stack trace"}`, gh.lastBody())
}

func TestIssueEdit_NothingToUpdate(t *testing.T) {
	testEnv(t)
	resetIssueFlags(t)

	err := issueEditRun(&cobra.Command{}, "1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nothing to update")
}

func TestIssueClose(t *testing.T) {
	_, buf := testEnv(t)
	gh := newFakeGitHub(t)
	loggedIn(t)

	require.NoError(t, issueCloseRun(context.Background(), "1"))
	assert.Contains(t, buf.String(), "Issue #1 closed")
	assert.JSONEq(t, `{"state":"closed"}`, gh.lastBody())
}

func TestIssueShowAndComments(t *testing.T) {
	_, buf := testEnv(t)
	resetIssueFlags(t)
	newFakeGitHub(t)
	loggedIn(t)

	issueBody = "Looking into it"
	require.NoError(t, issueCommentRun(context.Background(), "1"))
	assert.Contains(t, buf.String(), "Comment added to #1")

	buf.Reset()
	issueShowComments = true
	require.NoError(t, issueShowRun(context.Background(), "1"))
	out := buf.String()
	assert.Contains(t, out, "Crash on start")
	assert.Contains(t, out, "stack trace")
	assert.Contains(t, out, "Comments (1)")
	assert.Contains(t, out, "Looking into it")

	buf.Reset()
	require.NoError(t, issueCommentsRun(context.Background(), "1"))
	assert.Contains(t, buf.String(), "octocat")
}
