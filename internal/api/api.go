package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/joescharf/ghcanvas/internal/assistant"
	"github.com/joescharf/ghcanvas/internal/github"
	"github.com/joescharf/ghcanvas/internal/models"
	"github.com/joescharf/ghcanvas/internal/session"
)

// Gateway is the GitHub surface the API exposes.
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

// Assistant is the conversation backend.
type Assistant interface {
	Send(ctx context.Context, sess *session.Session, text string) (*models.Message, error)
	History(ctx context.Context, threadID string) ([]*models.Message, error)
	Reset(ctx context.Context, threadID string) error
}

var (
	_ Gateway   = (*github.Gateway)(nil)
	_ Assistant = (*assistant.Assistant)(nil)
)

// Server provides the REST API handlers.
type Server struct {
	gateway   Gateway
	assistant Assistant
}

// NewServer creates a new API server.
// The assistant may be nil if no API key is configured.
func NewServer(gw Gateway, asst Assistant) *Server {
	return &Server{gateway: gw, assistant: asst}
}

// Router returns an http.Handler for the API routes. Requests must carry a
// session (see session.Manager.Middleware).
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/session", s.getSession)
	mux.HandleFunc("DELETE /api/v1/session", s.deleteSession)
	mux.HandleFunc("PUT /api/v1/session/token", s.setToken)

	mux.HandleFunc("GET /api/v1/repositories", s.authed(s.listRepositories))
	mux.HandleFunc("GET /api/v1/repository", s.getRepository)
	mux.HandleFunc("PUT /api/v1/repository", s.setRepository)
	mux.HandleFunc("DELETE /api/v1/repository", s.clearRepository)

	mux.HandleFunc("GET /api/v1/issues", s.authed(s.listIssues))
	mux.HandleFunc("POST /api/v1/issues", s.authed(s.createIssue))
	mux.HandleFunc("GET /api/v1/issues/{number}", s.authed(s.getIssue))
	mux.HandleFunc("PUT /api/v1/issues/{number}", s.authed(s.updateIssue))
	mux.HandleFunc("POST /api/v1/issues/{number}/close", s.authed(s.closeIssue))
	mux.HandleFunc("GET /api/v1/issues/{number}/comments", s.authed(s.listComments))
	mux.HandleFunc("POST /api/v1/issues/{number}/comments", s.authed(s.createComment))

	mux.HandleFunc("GET /api/v1/assistant/messages", s.listMessages)
	mux.HandleFunc("POST /api/v1/assistant/messages", s.authed(s.sendMessage))
	mux.HandleFunc("DELETE /api/v1/assistant/messages", s.resetMessages)

	mux.HandleFunc("GET /api/v1/components", s.listComponents)

	return corsMiddleware(requireJSON(mux))
}

// requireJSON rejects POST and PUT requests that are not declared as JSON.
func requireJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost || r.Method == http.MethodPut {
			mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
			if err != nil || mt != "application/json" {
				writeError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeGatewayError maps gateway failures: a missing selection is the
// caller's fault, anything else is an upstream failure.
func writeGatewayError(w http.ResponseWriter, err error) {
	if errors.Is(err, github.ErrMissingRepository) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	slog.Error("github request failed", "error", err)
	writeError(w, http.StatusBadGateway, err.Error())
}

// sessionFrom returns the request's session or writes a 500.
func sessionFrom(w http.ResponseWriter, r *http.Request) *session.Session {
	sess := session.FromContext(r.Context())
	if sess == nil {
		writeError(w, http.StatusInternalServerError, "no session")
	}
	return sess
}

func (s *Server) authed(next func(http.ResponseWriter, *http.Request, *session.Session)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess := sessionFrom(w, r)
		if sess == nil {
			return
		}
		if !sess.IsAuthenticated() {
			writeError(w, http.StatusUnauthorized, "not authenticated")
			return
		}
		next(w, r, sess)
	}
}

// --- Session ---

type sessionResponse struct {
	IsAuthenticated    bool               `json:"isAuthenticated"`
	SelectedRepository *models.Repository `json:"selectedRepository"`
	AssistantEnabled   bool               `json:"assistantEnabled"`
}

func (s *Server) sessionState(sess *session.Session) sessionResponse {
	return sessionResponse{
		IsAuthenticated:    sess.IsAuthenticated(),
		SelectedRepository: sess.SelectedRepository(),
		AssistantEnabled:   s.assistant != nil,
	}
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(w, r)
	if sess == nil {
		return
	}
	writeJSON(w, http.StatusOK, s.sessionState(sess))
}

func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(w, r)
	if sess == nil {
		return
	}
	if err := sess.SetAccessToken(r.Context(), ""); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) setToken(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(w, r)
	if sess == nil {
		return
	}
	var req struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := sess.SetAccessToken(r.Context(), strings.TrimSpace(req.AccessToken)); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.sessionState(sess))
}

// --- Repositories ---

func (s *Server) listRepositories(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	repos, err := s.gateway.Repositories(r.Context(), sess)
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, repos)
}

func (s *Server) getRepository(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(w, r)
	if sess == nil {
		return
	}
	repo := sess.SelectedRepository()
	if repo == nil {
		writeError(w, http.StatusNotFound, "no repository selected")
		return
	}
	writeJSON(w, http.StatusOK, repo)
}

func (s *Server) setRepository(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(w, r)
	if sess == nil {
		return
	}
	var repo models.Repository
	if err := json.NewDecoder(r.Body).Decode(&repo); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if repo.Owner == "" || repo.Repo == "" {
		parsed, err := models.ParseRepository(repo.FullName)
		if err != nil {
			writeError(w, http.StatusBadRequest, "owner and repo (or full_name) are required")
			return
		}
		parsed.Description = repo.Description
		repo = parsed
	}
	if repo.Name == "" {
		repo.Name = repo.Repo
	}
	if repo.FullName == "" {
		repo.FullName = repo.Owner + "/" + repo.Repo
	}
	if err := sess.SetSelectedRepository(r.Context(), &repo); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, repo)
}

func (s *Server) clearRepository(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(w, r)
	if sess == nil {
		return
	}
	if err := sess.SetSelectedRepository(r.Context(), nil); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Issues ---

// parseFilter reads an IssueFilter from query parameters.
func parseFilter(r *http.Request) (models.IssueFilter, error) {
	q := r.URL.Query()
	f := models.IssueFilter{
		State:         q.Get("state"),
		Title:         q.Get("title"),
		Body:          q.Get("body"),
		CreatedAfter:  q.Get("created_after"),
		CreatedBefore: q.Get("created_before"),
		UpdatedAfter:  q.Get("updated_after"),
		UpdatedBefore: q.Get("updated_before"),
	}
	if c := q.Get("comments"); c != "" {
		n, err := strconv.Atoi(c)
		if err != nil {
			return f, errors.New("comments must be an integer")
		}
		f.Comments = &n
	}
	return f, f.Validate()
}

// issueTarget resolves the selected repository and the {number} path value.
func issueTarget(w http.ResponseWriter, r *http.Request, sess *session.Session) (models.Repository, int, bool) {
	repo := sess.SelectedRepository()
	if repo == nil {
		writeGatewayError(w, github.ErrMissingRepository)
		return models.Repository{}, 0, false
	}
	n, err := strconv.Atoi(r.PathValue("number"))
	if err != nil || n <= 0 {
		writeError(w, http.StatusBadRequest, "invalid issue number")
		return models.Repository{}, 0, false
	}
	return *repo, n, true
}

type issueRequest struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

func (s *Server) listIssues(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	filter, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	issues, err := s.gateway.Issues(r.Context(), sess, filter)
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, issues)
}

func (s *Server) createIssue(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	repo := sess.SelectedRepository()
	if repo == nil {
		writeGatewayError(w, github.ErrMissingRepository)
		return
	}
	var req issueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}
	issue, err := s.gateway.CreateIssue(r.Context(), sess, *repo, req.Title, req.Body)
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, issue)
}

func (s *Server) getIssue(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	repo, n, ok := issueTarget(w, r, sess)
	if !ok {
		return
	}
	issue, err := s.gateway.Issue(r.Context(), sess, repo, n)
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, issue)
}

func (s *Server) updateIssue(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	repo, n, ok := issueTarget(w, r, sess)
	if !ok {
		return
	}
	var req issueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}
	issue, err := s.gateway.UpdateIssue(r.Context(), sess, repo, n, req.Title, req.Body)
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, issue)
}

func (s *Server) closeIssue(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	repo, n, ok := issueTarget(w, r, sess)
	if !ok {
		return
	}
	issue, err := s.gateway.CloseIssue(r.Context(), sess, repo, n)
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, issue)
}

func (s *Server) listComments(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	repo, n, ok := issueTarget(w, r, sess)
	if !ok {
		return
	}
	comments, err := s.gateway.Comments(r.Context(), sess, repo, n)
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, comments)
}

func (s *Server) createComment(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	repo, n, ok := issueTarget(w, r, sess)
	if !ok {
		return
	}
	var req struct {
		Body string `json:"body"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(req.Body) == "" {
		writeError(w, http.StatusBadRequest, "body is required")
		return
	}
	comment, err := s.gateway.CreateComment(r.Context(), sess, repo, n, req.Body)
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, comment)
}

// --- Assistant ---

func (s *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(w, r)
	if sess == nil {
		return
	}
	if s.assistant == nil {
		writeJSON(w, http.StatusOK, []*models.Message{})
		return
	}
	msgs, err := s.assistant.History(r.Context(), sess.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if msgs == nil {
		msgs = []*models.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	if s.assistant == nil {
		writeError(w, http.StatusServiceUnavailable, "assistant not configured (set anthropic.api_key)")
		return
	}
	var req struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	reply, err := s.assistant.Send(r.Context(), sess, req.Message)
	if err != nil {
		slog.Error("assistant error", "error", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, reply)
}

func (s *Server) resetMessages(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(w, r)
	if sess == nil {
		return
	}
	if s.assistant != nil {
		if err := s.assistant.Reset(r.Context(), sess.ID); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

type specResponse struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Schema      map[string]any `json:"schema"`
}

func toSpecResponse(sp assistant.Spec) specResponse {
	return specResponse{Name: sp.Name, Description: sp.Description, Schema: sp.Schema()}
}

func (s *Server) listComponents(w http.ResponseWriter, _ *http.Request) {
	var comps []specResponse
	for _, c := range assistant.Components() {
		comps = append(comps, toSpecResponse(c))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tools":      []specResponse{toSpecResponse(assistant.GitHubTool())},
		"components": comps,
	})
}
