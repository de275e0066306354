package ui

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/ghcanvas/internal/github"
	"github.com/joescharf/ghcanvas/internal/models"
	"github.com/joescharf/ghcanvas/internal/session"
	"github.com/joescharf/ghcanvas/internal/store"
)

type fakeGateway struct {
	mu           sync.Mutex
	repos        []models.Repository
	reposErr     error
	issues       []models.Issue
	issueCalls   int
	lastFilter   models.IssueFilter
	closeErr     error
	comments     map[int][]models.Comment
	commentCalls int
	nextNumber   int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		repos: []models.Repository{
			{Owner: "acme", Repo: "widgets", Name: "widgets", FullName: "acme/widgets"},
			{Owner: "acme", Repo: "gears", Name: "gears", FullName: "acme/gears"},
		},
		issues: []models.Issue{
			{Number: 1, Title: "Login bug", Body: "Crash", State: models.IssueStateOpen, CreatedAt: time.Now()},
			{Number: 2, Title: "Docs", Body: strings.Repeat("d", 200), State: models.IssueStateClosed, CreatedAt: time.Now()},
		},
		comments:   map[int][]models.Comment{},
		nextNumber: 10,
	}
}

func (f *fakeGateway) Repositories(context.Context, github.Credentials) ([]models.Repository, error) {
	return f.repos, f.reposErr
}

func (f *fakeGateway) Issues(_ context.Context, creds github.Credentials, filter models.IssueFilter) ([]models.Issue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.issueCalls++
	f.lastFilter = filter
	if creds.SelectedRepository() == nil {
		return nil, github.ErrMissingRepository
	}
	out := make([]models.Issue, len(f.issues))
	copy(out, f.issues)
	return filter.Apply(out), nil
}

func (f *fakeGateway) Issue(_ context.Context, _ github.Credentials, _ models.Repository, n int) (*models.Issue, error) {
	for _, i := range f.issues {
		if i.Number == n {
			return &i, nil
		}
	}
	return nil, errors.New("404 Not Found")
}

func (f *fakeGateway) CreateIssue(_ context.Context, _ github.Credentials, _ models.Repository, title, body string) (*models.Issue, error) {
	f.nextNumber++
	issue := models.Issue{Number: f.nextNumber, Title: title, Body: body, State: models.IssueStateOpen, CreatedAt: time.Now()}
	f.issues = append(f.issues, issue)
	return &issue, nil
}

func (f *fakeGateway) CloseIssue(_ context.Context, _ github.Credentials, _ models.Repository, n int) (*models.Issue, error) {
	if f.closeErr != nil {
		return nil, f.closeErr
	}
	return &models.Issue{Number: n, State: models.IssueStateClosed}, nil
}

func (f *fakeGateway) Comments(_ context.Context, _ github.Credentials, _ models.Repository, n int) ([]models.Comment, error) {
	f.commentCalls++
	return f.comments[n], nil
}

func (f *fakeGateway) CreateComment(_ context.Context, _ github.Credentials, _ models.Repository, n int, body string) (*models.Comment, error) {
	c := models.Comment{ID: int64(len(f.comments[n]) + 1), Body: body, User: models.Author{Login: "me"}}
	f.comments[n] = append(f.comments[n], c)
	return &c, nil
}

var _ Gateway = (*fakeGateway)(nil)

type fakeAssistant struct {
	messages []*models.Message
	reply    *models.Message
	err      error
	sent     []string
}

func (a *fakeAssistant) Send(_ context.Context, _ *session.Session, text string) (*models.Message, error) {
	a.sent = append(a.sent, text)
	if a.err != nil {
		return nil, a.err
	}
	a.messages = append(a.messages, &models.Message{ID: "u" + text, Role: models.RoleUser, Content: text})
	if a.reply != nil {
		a.messages = append(a.messages, a.reply)
	}
	return a.reply, nil
}

func (a *fakeAssistant) History(context.Context, string) ([]*models.Message, error) {
	return a.messages, nil
}

func (a *fakeAssistant) Reset(context.Context, string) error {
	a.messages = nil
	return nil
}

var _ Assistant = (*fakeAssistant)(nil)

type testEnv struct {
	t       *testing.T
	gw      *fakeGateway
	asst    *fakeAssistant
	sess    *session.Session
	srv     *Server
	handler http.Handler
}

func newTestEnv(t *testing.T, authenticated bool, repo *models.Repository) *testEnv {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(context.Background()))

	sess := session.New(s, "sess-1")
	if authenticated {
		require.NoError(t, sess.SetAccessToken(context.Background(), "gho_x"))
	}
	if repo != nil {
		require.NoError(t, sess.SetSelectedRepository(context.Background(), repo))
	}

	env := &testEnv{t: t, gw: newFakeGateway(), asst: &fakeAssistant{}, sess: sess}
	srv, err := NewServer(env.gw, env.asst)
	require.NoError(t, err)
	env.srv = srv
	mux := http.NewServeMux()
	require.NoError(t, srv.Register(mux))
	env.handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mux.ServeHTTP(w, r.WithContext(session.NewContext(r.Context(), sess)))
	})
	return env
}

func (e *testEnv) get(path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func (e *testEnv) post(path string, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

var widgets = &models.Repository{Owner: "acme", Repo: "widgets", Name: "widgets", FullName: "acme/widgets"}

func TestIndex_Unauthenticated(t *testing.T) {
	env := newTestEnv(t, false, nil)
	w := env.get("/")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Connect with GitHub")
	assert.Contains(t, w.Body.String(), "/auth/login")
}

func TestActions_RequireAuth(t *testing.T) {
	env := newTestEnv(t, false, nil)
	w := env.post("/issues", url.Values{"title": {"x"}})
	assert.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, "/", w.Header().Get("Location"))
}

func TestIndex_RepositorySelector(t *testing.T) {
	env := newTestEnv(t, true, nil)
	body := env.get("/").Body.String()
	assert.Contains(t, body, "Connected to GitHub")
	assert.Contains(t, body, `value="acme/widgets"`)
	assert.Contains(t, body, `value="acme/gears"`)
	assert.NotContains(t, body, "Login bug", "no list without a repository")

	env.gw.reposErr = errors.New("401")
	body = env.get("/").Body.String()
	assert.Contains(t, body, "Failed to load repositories")
}

func TestSelectRepository(t *testing.T) {
	env := newTestEnv(t, true, nil)
	w := env.post("/repository", url.Values{"repository": {"acme/gears"}})
	assert.Equal(t, http.StatusSeeOther, w.Code)
	require.NotNil(t, env.sess.SelectedRepository())
	assert.Equal(t, "gears", env.sess.SelectedRepository().Repo)

	env.post("/repository", url.Values{"repository": {""}})
	assert.Nil(t, env.sess.SelectedRepository())

	w = env.post("/repository", url.Values{"repository": {"nonsense"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestIndex_ListsIssues(t *testing.T) {
	env := newTestEnv(t, true, widgets)
	body := env.get("/").Body.String()
	assert.Contains(t, body, "Login bug")
	assert.Contains(t, body, "Docs")
	assert.Contains(t, body, `action="/issues/1/close"`)
	assert.NotContains(t, body, `action="/issues/2/close"`, "closed issues cannot be closed")
	assert.Contains(t, body, "Show more")

	env.get("/")
	assert.Equal(t, 1, env.gw.issueCalls, "unchanged key does not reload")
	env.get("/?reload=1")
	assert.Equal(t, 2, env.gw.issueCalls)
}

func TestIndex_TokenChangeReloads(t *testing.T) {
	env := newTestEnv(t, true, widgets)
	env.gw.comments[1] = []models.Comment{{ID: 1, Body: "Old account comment", User: models.Author{Login: "octocat"}}}
	body := env.get("/?expand=1").Body.String()
	assert.Contains(t, body, "Login bug")
	assert.Contains(t, body, "Old account comment")

	ctx := context.Background()
	require.NoError(t, env.sess.SetAccessToken(ctx, ""))
	assert.Contains(t, env.get("/").Body.String(), "Connect with GitHub")
	require.NoError(t, env.sess.SetAccessToken(ctx, "gho_other_account"))

	env.gw.mu.Lock()
	env.gw.issues = []models.Issue{{Number: 7, Title: "Other account issue", State: models.IssueStateOpen, CreatedAt: time.Now()}}
	env.gw.mu.Unlock()
	env.gw.comments = map[int][]models.Comment{}

	body = env.get("/?expand=1").Body.String()
	assert.Equal(t, 2, env.gw.issueCalls)
	assert.Contains(t, body, "Other account issue")
	assert.NotContains(t, body, "Login bug")
	assert.NotContains(t, body, "Old account comment")
}

func TestIndex_TokenSwapWithoutLogoutReloads(t *testing.T) {
	env := newTestEnv(t, true, widgets)
	env.get("/")
	require.NoError(t, env.sess.SetAccessToken(context.Background(), "gho_rotated"))
	env.get("/")
	assert.Equal(t, 2, env.gw.issueCalls)
}

func TestIndex_LogoutDropsViewState(t *testing.T) {
	env := newTestEnv(t, true, widgets)
	env.get("/")
	assert.Equal(t, 1, env.srv.cache.len())

	require.NoError(t, env.sess.SetAccessToken(context.Background(), ""))
	env.get("/")
	assert.Equal(t, 0, env.srv.cache.len())
}

func TestCache_EvictsLeastRecentlyUsed(t *testing.T) {
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	c := newCache()
	clock := time.Unix(0, 0)
	c.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}

	first := session.New(s, "first")
	c.get(first).mu.Unlock()
	for i := 0; i < maxStates; i++ {
		c.get(session.New(s, fmt.Sprintf("sess-%d", i))).mu.Unlock()
	}

	assert.Equal(t, maxStates, c.len())
	c.mu.Lock()
	_, ok := c.states["first"]
	c.mu.Unlock()
	assert.False(t, ok, "oldest session evicted")
}

func TestCreateIssue_AppendsOne(t *testing.T) {
	env := newTestEnv(t, true, widgets)
	env.get("/?new=1")

	w := env.post("/issues", url.Values{"title": {"Test"}, "body": {"Desc"}})
	assert.Equal(t, http.StatusSeeOther, w.Code)

	body := env.get("/").Body.String()
	assert.Equal(t, 1, env.gw.issueCalls, "creation appends locally")
	assert.Equal(t, 1, strings.Count(body, ">Test</a>"))
	assert.Contains(t, body, `action="/issues/11/close"`, "new issue is open")
	assert.Contains(t, body, "+ Add Issue", "inline form closed after create")
}

func TestCreateIssue_RequiresTitle(t *testing.T) {
	env := newTestEnv(t, true, widgets)
	env.get("/?new=1")
	env.post("/issues", url.Values{"title": {"  "}, "body": {"Desc"}})

	body := env.get("/").Body.String()
	assert.Contains(t, body, "title is required")
	assert.Len(t, env.gw.issues, 2)
}

func TestCloseIssue_FlipsLocalState(t *testing.T) {
	env := newTestEnv(t, true, widgets)
	env.get("/")

	w := env.post("/issues/1/close", url.Values{"return": {"/"}})
	assert.Equal(t, http.StatusSeeOther, w.Code)

	body := env.get("/").Body.String()
	assert.NotContains(t, body, `action="/issues/1/close"`)
	assert.Equal(t, 1, env.gw.issueCalls, "no reload needed")
}

func TestCloseIssue_FailureKeepsState(t *testing.T) {
	env := newTestEnv(t, true, widgets)
	env.get("/")
	env.gw.closeErr = errors.New("403 Forbidden")

	env.post("/issues/1/close", url.Values{"return": {"/"}})
	body := env.get("/").Body.String()
	assert.Contains(t, body, "Failed to close issue")
	assert.Contains(t, body, `action="/issues/1/close"`)

	body = env.get("/").Body.String()
	assert.NotContains(t, body, "Failed to close issue", "error shown once")
}

func TestComments_LazyAndRefetched(t *testing.T) {
	env := newTestEnv(t, true, widgets)
	env.gw.comments[1] = []models.Comment{{ID: 1, Body: "First!", User: models.Author{Login: "octocat"}}}

	body := env.get("/").Body.String()
	assert.NotContains(t, body, "First!")
	assert.Equal(t, 0, env.gw.commentCalls)

	body = env.get("/?expand=1").Body.String()
	assert.Contains(t, body, "First!")
	env.get("/?expand=1")
	assert.Equal(t, 1, env.gw.commentCalls, "loaded once")

	w := env.post("/issues/1/comments", url.Values{"body": {"Thanks"}, "return": {"/"}})
	assert.Equal(t, "/?expand=1", w.Header().Get("Location"))
	assert.Equal(t, 2, env.gw.commentCalls, "re-fetched after posting")

	body = env.get("/?expand=1").Body.String()
	assert.Contains(t, body, "Thanks")
	assert.Contains(t, body, "Comments (2)")
}

func TestIssuePage(t *testing.T) {
	env := newTestEnv(t, true, widgets)
	env.gw.comments[2] = []models.Comment{{ID: 1, Body: "Done", User: models.Author{Login: "octocat"}}}

	body := env.get("/issues/2").Body.String()
	assert.Contains(t, body, strings.Repeat("d", 200), "body shown in full")
	assert.Contains(t, body, "Done")

	body = env.get("/issues/99").Body.String()
	assert.Contains(t, body, "404 Not Found")
}

func TestCanvas_AssistantComponents(t *testing.T) {
	env := newTestEnv(t, true, widgets)
	body := env.get("/").Body.String()
	assert.NotContains(t, body, "slide-in\"")

	env.asst.reply = &models.Message{ID: "a1", Role: models.RoleAssistant, Content: "Here is a form.",
		Component: &models.RenderedComponent{Name: "github-create-issue-form", Props: []byte(`{"initialTitle":"Crash on login"}`)}}
	env.post("/chat", url.Values{"message": {"file a bug"}})
	assert.Equal(t, []string{"file a bug"}, env.asst.sent)

	body = env.get("/").Body.String()
	assert.Contains(t, body, `class="slide-in"`)
	assert.Contains(t, body, `value="Crash on login"`)
	assert.Contains(t, body, "Here is a form.")

	body = env.get("/").Body.String()
	assert.NotContains(t, body, `class="slide-in"`, "same message does not transition again")

	env.post("/issues", url.Values{"form": {"a1"}, "title": {"Crash on login"}, "body": {"Steps"}})
	body = env.get("/").Body.String()
	assert.Contains(t, body, "created!")
	assert.Contains(t, body, "Create Another")

	env.post("/forms/reset", url.Values{"form": {"a1"}})
	body = env.get("/").Body.String()
	assert.Contains(t, body, "Create Issue")
	assert.NotContains(t, body, "created!")
}

func TestCanvas_FilteredListReloadsOnGeneration(t *testing.T) {
	env := newTestEnv(t, true, widgets)
	env.get("/")
	assert.Equal(t, 1, env.gw.issueCalls)

	env.asst.reply = &models.Message{ID: "a1", Role: models.RoleAssistant,
		Component: &models.RenderedComponent{Name: "github-issues-list", Props: []byte(`{"filters":{"state":"open","title":"bug"}}`)}}
	env.post("/chat", url.Values{"message": {"open bugs"}})

	body := env.get("/").Body.String()
	assert.Equal(t, 2, env.gw.issueCalls)
	assert.Equal(t, models.IssueFilter{State: "open", Title: "bug"}, env.gw.lastFilter)
	assert.Contains(t, body, "Login bug")
	assert.NotContains(t, body, ">Docs</a>")

	// A text-only reply still signals a finished generation.
	env.asst.reply = &models.Message{ID: "a2", Role: models.RoleAssistant, Content: "Anything else?"}
	env.post("/chat", url.Values{"message": {"thanks"}})
	env.get("/")
	assert.Equal(t, 3, env.gw.issueCalls)
}

func TestCanvas_EmptyStateRestatesFilters(t *testing.T) {
	env := newTestEnv(t, true, widgets)
	env.asst.reply = &models.Message{ID: "a1", Role: models.RoleAssistant,
		Component: &models.RenderedComponent{Name: "github-issues-list", Props: []byte(`{"filters":{"title":"nothing-matches"}}`)}}
	env.post("/chat", url.Values{"message": {"find it"}})

	body := env.get("/").Body.String()
	assert.Contains(t, body, "No issues found")
	assert.Contains(t, body, "Title contains: &#34;nothing-matches&#34;")
}

func TestCanvas_IssueItemClose(t *testing.T) {
	env := newTestEnv(t, true, widgets)
	env.asst.reply = &models.Message{ID: "a1", Role: models.RoleAssistant,
		Component: &models.RenderedComponent{Name: "github-issue-item", Props: []byte(
			`{"issue":{"number":1,"title":"Login bug","body":"Crash","state":"open","created_at":"2024-01-01T00:00:00Z","updated_at":"2024-01-01T00:00:00Z","html_url":"u","comments":0}}`)}}
	env.post("/chat", url.Values{"message": {"show 1"}})

	body := env.get("/").Body.String()
	assert.Contains(t, body, `action="/issues/1/close"`)

	env.post("/issues/1/close", url.Values{"standalone": {"a1"}, "return": {"/"}})
	body = env.get("/").Body.String()
	assert.NotContains(t, body, `action="/issues/1/close"`)
	assert.Contains(t, body, ">closed</span>")
}

func TestChat_Errors(t *testing.T) {
	env := newTestEnv(t, true, widgets)
	env.asst.err = errors.New("assistant: overloaded")
	env.post("/chat", url.Values{"message": {"hi"}})

	body := env.get("/").Body.String()
	assert.Contains(t, body, "assistant: overloaded")

	env.post("/chat/reset", nil)
	assert.Empty(t, env.asst.messages)
}

func TestStatic(t *testing.T) {
	env := newTestEnv(t, false, nil)
	w := env.get("/static/app.css")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), ".issue")

	w = env.get("/static/missing.js")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
