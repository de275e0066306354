package session

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/joescharf/ghcanvas/internal/store"
)

// CookieName is the name of the cookie carrying the signed session id.
const CookieName = "ghcanvas_session"

// DefaultCookieTTL is how long a browser keeps its session id.
const DefaultCookieTTL = 30 * 24 * time.Hour

// Codec signs and verifies session ids as HS256 JWTs.
type Codec struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewCodec creates a Codec with the given signing secret.
func NewCodec(secret string, ttl time.Duration) (*Codec, error) {
	if secret == "" {
		return nil, fmt.Errorf("session secret cannot be empty")
	}
	if ttl <= 0 {
		ttl = DefaultCookieTTL
	}
	return &Codec{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// Encode returns a signed token carrying the session id.
func (c *Codec) Encode(id string) (string, error) {
	now := c.now()
	claims := jwt.RegisteredClaims{
		Subject:   id,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}

// Decode verifies the token and returns the session id it carries.
func (c *Codec) Decode(token string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return c.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("verify session token: %w", err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("session token has no subject")
	}
	return claims.Subject, nil
}

type contextKey struct{}

// NewContext returns a context carrying sess.
func NewContext(ctx context.Context, sess *Session) context.Context {
	return context.WithValue(ctx, contextKey{}, sess)
}

// FromContext returns the session stored by Middleware, or nil.
func FromContext(ctx context.Context) *Session {
	sess, _ := ctx.Value(contextKey{}).(*Session)
	return sess
}

// Manager binds browser cookies to persisted sessions.
type Manager struct {
	store  BlobStore
	codec  *Codec
	secure bool
}

// NewManager creates a Manager. secure marks the cookie Secure (HTTPS only).
func NewManager(s BlobStore, codec *Codec, secure bool) *Manager {
	return &Manager{store: s, codec: codec, secure: secure}
}

// Middleware loads the caller's session into the request context, minting a
// new session when the cookie is missing or fails verification.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := ""
		if c, err := r.Cookie(CookieName); err == nil {
			if decoded, err := m.codec.Decode(c.Value); err == nil {
				id = decoded
			} else {
				slog.Debug("discarding session cookie", "error", err)
			}
		}

		if id == "" {
			id = store.NewID()
			token, err := m.codec.Encode(id)
			if err != nil {
				slog.Error("failed to sign session", "error", err)
				http.Error(w, "session unavailable", http.StatusInternalServerError)
				return
			}
			http.SetCookie(w, &http.Cookie{
				Name:     CookieName,
				Value:    token,
				Path:     "/",
				MaxAge:   int(m.codec.ttl.Seconds()),
				HttpOnly: true,
				Secure:   m.secure,
				SameSite: http.SameSiteLaxMode,
			})
		}

		sess, err := Load(r.Context(), m.store, id)
		if err != nil {
			slog.Error("failed to load session", "session", id, "error", err)
			http.Error(w, "session unavailable", http.StatusInternalServerError)
			return
		}
		next.ServeHTTP(w, r.WithContext(NewContext(r.Context(), sess)))
	})
}
