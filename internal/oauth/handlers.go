package oauth

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/joescharf/ghcanvas/internal/session"
)

// ProxyPath is where the proxy handler is mounted.
const ProxyPath = "/api/auth/github"

// TokenExchanger performs the confidential exchange behind the proxy.
type TokenExchanger interface {
	Exchange(ctx context.Context, code string) (json.RawMessage, error)
}

var _ TokenExchanger = (*Exchanger)(nil)

// NewProxyHandler returns the POST handler that trades {"code": ...} for the
// provider token payload. The client secret never leaves the server.
func NewProxyHandler(ex TokenExchanger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Code string `json:"code"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			slog.Error("oauth proxy request decode failed", "error", err)
			writeError(w, http.StatusInternalServerError, "Authentication failed")
			return
		}
		if req.Code == "" {
			writeError(w, http.StatusBadRequest, "Code is required")
			return
		}

		data, err := ex.Exchange(r.Context(), req.Code)
		if err != nil {
			slog.Error("oauth token exchange failed", "error", err)
			writeError(w, http.StatusInternalServerError, "Authentication failed")
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	})
}

// Handlers serves the browser side of the flow. Each handler expects the
// session middleware to have run.
type Handlers struct {
	Config    Config
	Exchanger CodeExchanger
}

// Login saves the return path and redirects to the provider.
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	sess := session.FromContext(r.Context())
	if sess == nil {
		http.Error(w, "no session", http.StatusInternalServerError)
		return
	}
	ret := r.URL.Query().Get("return")
	if ret == "" {
		ret = "/"
	}
	if err := sess.SaveRedirect(r.Context(), ret); err != nil {
		slog.Warn("failed to save auth redirect", "error", err)
	}
	http.Redirect(w, r, h.Config.AuthCodeURL(), http.StatusFound)
}

// Callback completes the flow. Every failure path lands on "/" without a
// token.
func (h *Handlers) Callback(w http.ResponseWriter, r *http.Request) {
	sess := session.FromContext(r.Context())
	code := r.URL.Query().Get("code")
	if code == "" || sess == nil {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}

	token, err := h.Exchanger.ExchangeCode(r.Context(), code)
	if err != nil {
		slog.Error("auth error", "error", err)
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}
	if err := sess.SetAccessToken(r.Context(), token); err != nil {
		slog.Error("failed to store access token", "error", err)
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}

	dest, err := sess.TakeRedirect(r.Context())
	if err != nil {
		slog.Warn("failed to read auth redirect", "error", err)
		dest = "/"
	}
	http.Redirect(w, r, dest, http.StatusFound)
}

// Logout clears the token.
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	if sess := session.FromContext(r.Context()); sess != nil {
		if err := sess.SetAccessToken(r.Context(), ""); err != nil {
			slog.Error("failed to clear access token", "error", err)
		}
	}
	http.Redirect(w, r, "/", http.StatusFound)
}

// Register mounts the flow on mux.
func (h *Handlers) Register(mux *http.ServeMux, proxy TokenExchanger) {
	mux.HandleFunc("GET /auth/login", h.Login)
	mux.HandleFunc("GET /auth/callback", h.Callback)
	mux.HandleFunc("POST /auth/logout", h.Logout)
	if proxy != nil {
		mux.Handle("POST "+ProxyPath, NewProxyHandler(proxy))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
