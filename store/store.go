package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Dhanush010/Syncscribe/config"
)

var (
	// ErrNotFound is returned when a document does not exist.
	ErrNotFound        = errors.New("document not found")
	ErrVersionNotFound = errors.New("version not found")
)

// Document is the persisted form of a collaborative document. Content is the
// serialised editor state: a JSON delta, plain text, or empty.
type Document struct {
	ID        string
	Title     string
	Content   string
	UpdatedAt time.Time
}

// Version is a labelled snapshot of a document's content.
type Version struct {
	ID         string
	DocumentID string
	Content    string
	CreatedBy  string // empty when no identified user was present
	Label      string
	CreatedAt  time.Time
}

// DocumentStore reads documents.
type DocumentStore interface {
	GetDocument(ctx context.Context, id string) (*Document, error)
}

// DocumentPatch is a partial update. Nil fields are left unchanged.
type DocumentPatch struct {
	Title   *string
	Content *string
}

// DocumentWriter manages the document catalogue. Deleting a missing
// document is not an error.
type DocumentWriter interface {
	CreateDocument(ctx context.Context, doc Document) (*Document, error)
	ListDocuments(ctx context.Context) ([]Document, error)
	UpdateDocument(ctx context.Context, id string, patch DocumentPatch) (*Document, error)
	DeleteDocument(ctx context.Context, id string) error
}

// VersionStore persists version snapshots.
type VersionStore interface {
	CreateVersion(ctx context.Context, v Version) (*Version, error)
	GetVersion(ctx context.Context, id string) (*Version, error)
	ListVersions(ctx context.Context, documentID string) ([]Version, error)
}

// Store is a backend providing every collaborator.
type Store interface {
	DocumentStore
	DocumentWriter
	VersionStore
	Close(ctx context.Context) error
}

// Open connects to the backend selected by cfg.Type.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch strings.ToLower(cfg.Type) {
	case "memory":
		return NewMemoryStore(), nil
	case "mongo":
		return NewMongoStore(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
	case "postgres":
		return NewPostgresStore(ctx, cfg.Postgres.URL)
	default:
		return nil, fmt.Errorf("unknown store type: %s", cfg.Type)
	}
}
