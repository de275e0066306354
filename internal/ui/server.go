package ui

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/joescharf/ghcanvas/internal/assistant"
	"github.com/joescharf/ghcanvas/internal/github"
	"github.com/joescharf/ghcanvas/internal/models"
	"github.com/joescharf/ghcanvas/internal/session"
)

// Gateway is the subset of github.Gateway the views use.
type Gateway interface {
	Repositories(ctx context.Context, creds github.Credentials) ([]models.Repository, error)
	Issues(ctx context.Context, creds github.Credentials, filter models.IssueFilter) ([]models.Issue, error)
	Issue(ctx context.Context, creds github.Credentials, repo models.Repository, number int) (*models.Issue, error)
	CreateIssue(ctx context.Context, creds github.Credentials, repo models.Repository, title, body string) (*models.Issue, error)
	CloseIssue(ctx context.Context, creds github.Credentials, repo models.Repository, number int) (*models.Issue, error)
	Comments(ctx context.Context, creds github.Credentials, repo models.Repository, number int) ([]models.Comment, error)
	CreateComment(ctx context.Context, creds github.Credentials, repo models.Repository, number int, body string) (*models.Comment, error)
}

// Assistant is the conversation backend of the assistant panel.
type Assistant interface {
	Send(ctx context.Context, sess *session.Session, text string) (*models.Message, error)
	History(ctx context.Context, threadID string) ([]*models.Message, error)
	Reset(ctx context.Context, threadID string) error
}

var (
	_ Gateway   = (*github.Gateway)(nil)
	_ Assistant = (*assistant.Assistant)(nil)
)

// Server renders the HTML interface.
type Server struct {
	gateway   Gateway
	assistant Assistant
	cache     *cache
	tmpl      *template.Template
}

// NewServer creates a Server. assistant may be nil, which disables the chat
// panel.
func NewServer(gw Gateway, asst Assistant) (*Server, error) {
	tmpl, err := parseTemplates()
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	return &Server{gateway: gw, assistant: asst, cache: newCache(), tmpl: tmpl}, nil
}

// Register mounts the UI routes. Handlers expect the session middleware.
func (s *Server) Register(mux *http.ServeMux) error {
	static, err := StaticHandler()
	if err != nil {
		return err
	}
	mux.Handle("GET /static/", http.StripPrefix("/static/", static))

	mux.HandleFunc("GET /{$}", s.index)
	mux.HandleFunc("GET /issues/{number}", s.requireAuth(s.issuePage))
	mux.HandleFunc("POST /repository", s.requireAuth(s.selectRepository))
	mux.HandleFunc("POST /issues", s.requireAuth(s.createIssue))
	mux.HandleFunc("POST /issues/{number}/close", s.requireAuth(s.closeIssue))
	mux.HandleFunc("POST /issues/{number}/comments", s.requireAuth(s.createComment))
	mux.HandleFunc("POST /forms/reset", s.requireAuth(s.resetForm))
	mux.HandleFunc("POST /chat", s.requireAuth(s.chat))
	mux.HandleFunc("POST /chat/reset", s.requireAuth(s.resetChat))
	return nil
}

func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess := session.FromContext(r.Context())
		if sess == nil || !sess.IsAuthenticated() {
			http.Redirect(w, r, "/", http.StatusSeeOther)
			return
		}
		next(w, r)
	}
}

type pageData struct {
	Repos       []models.Repository
	ReposErr    string
	Selected    *models.Repository
	ChatEnabled bool
	Messages    []*models.Message
	ChatErr     string
	Flash       string
	Canvas      *canvasData
}

type canvasData struct {
	Transition bool
	MessageID  string
	List       *listData
	Item       *IssueItemView
	Form       *FormView
}

type listData struct {
	View       *IssueListView
	Items      []IssueItemView
	ShowCreate bool
	Form       *FormView
	Return     string
}

func (s *Server) index(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess := session.FromContext(ctx)
	if sess == nil || !sess.IsAuthenticated() {
		if sess != nil {
			s.cache.drop(sess.ID)
		}
		s.render(w, "login", nil)
		return
	}

	data := pageData{ChatEnabled: s.assistant != nil, Selected: sess.SelectedRepository()}
	repos, err := s.gateway.Repositories(ctx, sess)
	if err != nil {
		slog.Error("failed to load repositories", "error", err)
		data.ReposErr = "Failed to load repositories"
	}
	data.Repos = repos

	if data.Selected == nil {
		s.render(w, "page", data)
		return
	}

	st := s.cache.get(sess)
	defer st.mu.Unlock()

	if s.assistant != nil {
		data.Messages, err = s.assistant.History(ctx, sess.ID)
		if err != nil {
			slog.Error("failed to load thread", "error", err)
			data.ChatErr = "Failed to load conversation"
		}
	}
	if st.chatErr != "" {
		data.ChatErr, st.chatErr = st.chatErr, ""
	}

	q := r.URL.Query()
	if q.Has("new") {
		st.showCreate = q.Get("new") == "1"
	}
	data.Canvas = s.canvas(ctx, sess, st, data.Messages, q)
	data.Flash = st.takeFlash()
	s.render(w, "page", data)
}

// canvas resolves what the canvas shows: the component of the newest message
// that carries one, or the default issues list.
func (s *Server) canvas(ctx context.Context, sess *session.Session, st *viewState, messages []*models.Message, q url.Values) *canvasData {
	msg, transition := st.canvas.Observe(messages)
	cd := &canvasData{Transition: transition}

	var filters models.IssueFilter
	if msg != nil {
		cd.MessageID = msg.ID
		c, err := assistant.Decode(msg.Component.Name, msg.Component.Props)
		if err != nil {
			slog.Warn("cannot render component", "message", msg.ID, "error", err)
		}
		switch c := c.(type) {
		case assistant.IssuesListProps:
			filters = c.Filters
		case assistant.IssueItemProps:
			item, ok := st.standalone[msg.ID]
			if !ok {
				item = &IssueItemView{Issue: c.Issue, Standalone: msg.ID}
				st.standalone[msg.ID] = item
			}
			view := *item
			view.Return = "/"
			view.Expanded = q.Get("more") == strconv.Itoa(view.Issue.Number)
			view.CommentsOpen = q.Get("expand") == strconv.Itoa(view.Issue.Number)
			if view.CommentsOpen {
				s.loadComments(ctx, sess, st, &view)
			}
			cd.Item = &view
			return cd
		case assistant.CreateIssueFormProps:
			cd.Form = st.form(msg.ID, c.InitialTitle, c.InitialBody)
			return cd
		}
	}

	repo := *sess.SelectedRepository()
	marker := Marker(messages)
	if st.list.NeedsReload(repo, filters, marker) || q.Get("reload") == "1" {
		issues, err := s.gateway.Issues(ctx, sess, filters)
		if err != nil {
			slog.Error("error loading issues", "error", err)
		}
		st.list = &IssueListView{Repo: repo, Filters: filters, Marker: marker}
		st.list.Loaded(issues, err)
	}

	ld := &listData{View: st.list, ShowCreate: st.showCreate, Return: "/"}
	if ld.ShowCreate {
		ld.Form = st.form("", "", "")
	}
	for _, issue := range st.list.Issues {
		view := IssueItemView{
			Issue:        issue,
			Return:       "/",
			Expanded:     q.Get("more") == strconv.Itoa(issue.Number),
			CommentsOpen: q.Get("expand") == strconv.Itoa(issue.Number),
		}
		if view.CommentsOpen {
			s.loadComments(ctx, sess, st, &view)
		}
		ld.Items = append(ld.Items, view)
	}
	cd.List = ld
	return cd
}

// loadComments fills view.Comments, fetching only on first expansion.
func (s *Server) loadComments(ctx context.Context, sess *session.Session, st *viewState, view *IssueItemView) {
	n := view.Issue.Number
	if comments, ok := st.comments[n]; ok {
		view.Comments = comments
		return
	}
	comments, err := s.gateway.Comments(ctx, sess, *sess.SelectedRepository(), n)
	if err != nil {
		slog.Error("failed to load comments", "issue", n, "error", err)
		view.CommentsErr = "Failed to load comments"
		return
	}
	st.comments[n] = comments
	view.Comments = comments
}

func (s *Server) issuePage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess := session.FromContext(ctx)
	repo := sess.SelectedRepository()
	if repo == nil {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	n, err := strconv.Atoi(r.PathValue("number"))
	if err != nil || n <= 0 {
		http.NotFound(w, r)
		return
	}

	st := s.cache.get(sess)
	defer st.mu.Unlock()

	data := struct {
		Repo  *models.Repository
		Item  *IssueItemView
		Err   string
		Flash string
	}{Repo: repo}

	issue, err := s.gateway.Issue(ctx, sess, *repo, n)
	if err != nil {
		slog.Error("failed to load issue", "issue", n, "error", err)
		data.Err = err.Error()
	} else {
		item := &IssueItemView{
			Issue:        *issue,
			Expanded:     true,
			CommentsOpen: true,
			Standalone:   "issue",
			Return:       fmt.Sprintf("/issues/%d", n),
		}
		s.loadComments(ctx, sess, st, item)
		data.Item = item
	}
	data.Flash = st.takeFlash()
	s.render(w, "issue", data)
}

func (s *Server) selectRepository(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess := session.FromContext(ctx)

	var repo *models.Repository
	if slug := strings.TrimSpace(r.FormValue("repository")); slug != "" {
		parsed, err := models.ParseRepository(slug)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		repo = &parsed
	}
	if err := sess.SetSelectedRepository(ctx, repo); err != nil {
		slog.Error("failed to save repository selection", "error", err)
	}
	s.cache.drop(sess.ID)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) createIssue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess := session.FromContext(ctx)
	repo := sess.SelectedRepository()
	if repo == nil {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	st := s.cache.get(sess)
	defer st.mu.Unlock()

	formID := r.FormValue("form")
	form := st.form(formID, "", "")
	title := strings.TrimSpace(r.FormValue("title"))
	body := r.FormValue("body")

	err := form.Submit(title, body, func(title, body string) error {
		if title == "" {
			return errors.New("title is required")
		}
		issue, err := s.gateway.CreateIssue(ctx, sess, *repo, title, body)
		if err != nil {
			return err
		}
		if st.list != nil {
			st.list.Add(*issue)
		}
		return nil
	})
	if err != nil {
		slog.Error("error creating issue", "error", err)
	} else if formID == "" {
		// The inline form closes after creating.
		st.showCreate = false
		form.Reset()
	}
	http.Redirect(w, r, returnPath(r), http.StatusSeeOther)
}

func (s *Server) resetForm(w http.ResponseWriter, r *http.Request) {
	sess := session.FromContext(r.Context())
	st := s.cache.get(sess)
	if f, ok := st.forms[r.FormValue("form")]; ok {
		f.Reset()
	}
	st.mu.Unlock()
	http.Redirect(w, r, returnPath(r), http.StatusSeeOther)
}

func (s *Server) closeIssue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess := session.FromContext(ctx)
	repo := sess.SelectedRepository()
	n, err := strconv.Atoi(r.PathValue("number"))
	if repo == nil || err != nil {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	st := s.cache.get(sess)
	defer st.mu.Unlock()

	if _, err := s.gateway.CloseIssue(ctx, sess, *repo, n); err != nil {
		slog.Error("failed to close issue", "issue", n, "error", err)
		st.setFlash("Failed to close issue")
		http.Redirect(w, r, returnPath(r), http.StatusSeeOther)
		return
	}

	if st.list != nil {
		st.list.MarkClosed(n)
	}
	if item, ok := st.standalone[r.FormValue("standalone")]; ok && item.Issue.Number == n {
		item.Issue.State = models.IssueStateClosed
	}
	http.Redirect(w, r, returnPath(r), http.StatusSeeOther)
}

func (s *Server) createComment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess := session.FromContext(ctx)
	repo := sess.SelectedRepository()
	n, err := strconv.Atoi(r.PathValue("number"))
	if repo == nil || err != nil {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	ret := withQuery(returnPath(r), "expand", strconv.Itoa(n))

	body := strings.TrimSpace(r.FormValue("body"))
	if body == "" {
		http.Redirect(w, r, ret, http.StatusSeeOther)
		return
	}

	st := s.cache.get(sess)
	defer st.mu.Unlock()

	if _, err := s.gateway.CreateComment(ctx, sess, *repo, n, body); err != nil {
		slog.Error("failed to create comment", "issue", n, "error", err)
		st.setFlash("Failed to post comment")
		http.Redirect(w, r, ret, http.StatusSeeOther)
		return
	}

	comments, err := s.gateway.Comments(ctx, sess, *repo, n)
	if err != nil {
		slog.Error("failed to load comments", "issue", n, "error", err)
		delete(st.comments, n)
	} else {
		st.comments[n] = comments
		st.setCommentCount(n, len(comments))
	}
	http.Redirect(w, r, ret, http.StatusSeeOther)
}

func (s *Server) chat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess := session.FromContext(ctx)
	st := s.cache.get(sess)
	defer st.mu.Unlock()

	if s.assistant == nil {
		st.chatErr = "The assistant is not configured"
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	text := r.FormValue("message")
	if strings.TrimSpace(text) != "" {
		if _, err := s.assistant.Send(ctx, sess, text); err != nil {
			slog.Error("assistant error", "error", err)
			st.chatErr = err.Error()
		}
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) resetChat(w http.ResponseWriter, r *http.Request) {
	sess := session.FromContext(r.Context())
	if s.assistant != nil {
		if err := s.assistant.Reset(r.Context(), sess.ID); err != nil {
			slog.Error("failed to reset thread", "error", err)
		}
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) render(w http.ResponseWriter, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.tmpl.ExecuteTemplate(w, name, data); err != nil {
		slog.Error("template error", "template", name, "error", err)
	}
}

// returnPath reads the local path to go back to after a form post.
func returnPath(r *http.Request) string {
	if p := r.FormValue("return"); p != "" {
		return session.SafePath(p)
	}
	return "/"
}

func withQuery(path, key, value string) string {
	u, err := url.Parse(path)
	if err != nil {
		return "/"
	}
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String()
}
