package session

import (
	"context"
	"time"
)

// Session mirrors a live connection of this instance into a store shared by
// every instance, so presence can be inspected cluster-wide.
type Session struct {
	ConnectionID string    `json:"connection_id"`
	ServerID     string    `json:"server_id"` // instance holding the socket
	UserID       string    `json:"user_id,omitempty"`
	DisplayName  string    `json:"display_name"`
	Color        string    `json:"color"`
	DocumentID   string    `json:"document_id,omitempty"`
	ConnectedAt  time.Time `json:"connected_at"`
}

// Store defines the interface for the presence mirror.
type Store interface {
	// Create stores a new session.
	Create(ctx context.Context, session *Session) error
	// Get retrieves a session by connection id. A missing session is (nil, nil).
	Get(ctx context.Context, connectionID string) (*Session, error)
	// SetDocument records which document the connection has joined.
	SetDocument(ctx context.Context, connectionID, documentID string) error
	// Delete removes a session.
	Delete(ctx context.Context, connectionID string) error
	// RefreshTTL extends the session's lifetime in the store.
	RefreshTTL(ctx context.Context, connectionID string) error
}

// NopStore is used when no shared store is configured.
type NopStore struct{}

func (NopStore) Create(context.Context, *Session) error { return nil }
func (NopStore) Get(context.Context, string) (*Session, error) { return nil, nil }
func (NopStore) SetDocument(context.Context, string, string) error { return nil }
func (NopStore) Delete(context.Context, string) error { return nil }
func (NopStore) RefreshTTL(context.Context, string) error { return nil }
