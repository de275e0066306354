// Package session holds the per-user state that survives reloads: the GitHub
// access token and the selected repository. A Session is loaded from a store
// at a request boundary and every setter persists synchronously.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/joescharf/ghcanvas/internal/models"
	"github.com/joescharf/ghcanvas/internal/store"
)

// Storage keys of the persisted blobs.
const (
	AuthKey       = "github-auth"
	RepositoryKey = "repository-store"
	RedirectKey   = "auth_redirect"
)

// CLIID is the fixed session id used by command-line invocations.
const CLIID = "cli"

// BlobStore is the subset of store.Store a Session needs.
type BlobStore interface {
	GetBlob(ctx context.Context, sessionID, key string) ([]byte, error)
	PutBlob(ctx context.Context, sessionID, key string, value []byte) error
	DeleteBlob(ctx context.Context, sessionID, key string) error
}

// AuthState is the persisted token state. IsAuthenticated is derived from
// AccessToken and recomputed on every write and on load.
type AuthState struct {
	AccessToken     string `json:"accessToken,omitempty"`
	IsAuthenticated bool   `json:"isAuthenticated"`
}

// RepositoryState is the persisted repository selection.
type RepositoryState struct {
	SelectedRepository *models.Repository `json:"selectedRepository"`
}

// Session is an explicitly owned view of one user's persisted state.
type Session struct {
	ID string

	store BlobStore
	auth  AuthState
	repo  RepositoryState
}

// New returns an empty session that persists to s under id.
func New(s BlobStore, id string) *Session {
	return &Session{ID: id, store: s}
}

// Load rehydrates the session id from s. Missing blobs yield empty state.
func Load(ctx context.Context, s BlobStore, id string) (*Session, error) {
	sess := New(s, id)
	if err := sess.Reload(ctx); err != nil {
		return nil, err
	}
	return sess, nil
}

// Reload replaces the in-memory state with what is persisted, picking up
// writes made by other processes sharing the session id.
func (s *Session) Reload(ctx context.Context) error {
	var auth AuthState
	if err := s.read(ctx, AuthKey, &auth); err != nil {
		return err
	}
	auth.IsAuthenticated = auth.AccessToken != ""
	var repo RepositoryState
	if err := s.read(ctx, RepositoryKey, &repo); err != nil {
		return err
	}
	s.auth, s.repo = auth, repo
	return nil
}

func (s *Session) read(ctx context.Context, key string, v any) error {
	data, err := s.store.GetBlob(ctx, s.ID, key)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load %s: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

func (s *Session) write(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := s.store.PutBlob(ctx, s.ID, key, data); err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}

// AccessToken returns the current token, empty when unauthenticated.
func (s *Session) AccessToken() string { return s.auth.AccessToken }

// IsAuthenticated reports whether a token is present.
func (s *Session) IsAuthenticated() bool { return s.auth.IsAuthenticated }

// Auth returns a copy of the token state.
func (s *Session) Auth() AuthState { return s.auth }

// SetAccessToken replaces the token and persists it. An empty token
// disconnects the session.
func (s *Session) SetAccessToken(ctx context.Context, token string) error {
	s.auth = AuthState{AccessToken: token, IsAuthenticated: token != ""}
	return s.write(ctx, AuthKey, s.auth)
}

// SelectedRepository returns the selection or nil.
func (s *Session) SelectedRepository() *models.Repository {
	if s.repo.SelectedRepository == nil {
		return nil
	}
	r := *s.repo.SelectedRepository
	return &r
}

// SetSelectedRepository replaces the selection and persists it. nil clears it.
func (s *Session) SetSelectedRepository(ctx context.Context, repo *models.Repository) error {
	if repo != nil {
		r := *repo
		repo = &r
	}
	s.repo = RepositoryState{SelectedRepository: repo}
	return s.write(ctx, RepositoryKey, s.repo)
}

// SaveRedirect remembers where to send the user after login. Anything other
// than a local absolute path is replaced by "/".
func (s *Session) SaveRedirect(ctx context.Context, path string) error {
	if err := s.store.PutBlob(ctx, s.ID, RedirectKey, []byte(SafePath(path))); err != nil {
		return fmt.Errorf("save %s: %w", RedirectKey, err)
	}
	return nil
}

// TakeRedirect reads and deletes the saved post-login path, defaulting to "/".
func (s *Session) TakeRedirect(ctx context.Context) (string, error) {
	data, err := s.store.GetBlob(ctx, s.ID, RedirectKey)
	if errors.Is(err, store.ErrNotFound) {
		return "/", nil
	}
	if err != nil {
		return "/", fmt.Errorf("load %s: %w", RedirectKey, err)
	}
	if err := s.store.DeleteBlob(ctx, s.ID, RedirectKey); err != nil {
		return "/", fmt.Errorf("clear %s: %w", RedirectKey, err)
	}
	return SafePath(string(data)), nil
}

// SafePath returns p if it is a local absolute path, otherwise "/".
func SafePath(p string) string {
	if !strings.HasPrefix(p, "/") || strings.HasPrefix(p, "//") || strings.HasPrefix(p, "/\\") {
		return "/"
	}
	return p
}
