package store

import (
	"context"
	"errors"

	"github.com/joescharf/ghcanvas/internal/models"
)

// ErrNotFound is returned when a keyed blob does not exist.
var ErrNotFound = errors.New("not found")

// Store defines the persistence interface for ghcanvas. Session state is kept
// as opaque keyed blobs per session; assistant threads as ordered messages.
type Store interface {
	// Session blobs
	GetBlob(ctx context.Context, sessionID, key string) ([]byte, error)
	PutBlob(ctx context.Context, sessionID, key string, value []byte) error
	DeleteBlob(ctx context.Context, sessionID, key string) error
	DeleteSession(ctx context.Context, sessionID string) error

	// Assistant threads
	AppendMessage(ctx context.Context, msg *models.Message) error
	ListMessages(ctx context.Context, threadID string) ([]*models.Message, error)
	DeleteThread(ctx context.Context, threadID string) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
