package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// MemoryStore keeps documents and versions in process memory. It backs the
// development profile and tests.
type MemoryStore struct {
	mu        sync.RWMutex
	documents map[string]Document
	versions  map[string][]Version
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		documents: make(map[string]Document),
		versions:  make(map[string][]Version),
	}
}

// PutDocument creates or replaces a document.
func (s *MemoryStore) PutDocument(doc Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if doc.UpdatedAt.IsZero() {
		doc.UpdatedAt = time.Now()
	}
	s.documents[doc.ID] = doc
}

func (s *MemoryStore) GetDocument(ctx context.Context, id string) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.documents[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &doc, nil
}

func (s *MemoryStore) CreateDocument(ctx context.Context, doc Document) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if doc.ID == "" {
		doc.ID = ulid.Make().String()
	}
	doc.UpdatedAt = time.Now()
	s.documents[doc.ID] = doc
	return &doc, nil
}

// ListDocuments returns every document, most recently updated first.
func (s *MemoryStore) ListDocuments(ctx context.Context) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Document, 0, len(s.documents))
	for _, doc := range s.documents {
		out = append(out, doc)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) UpdateDocument(ctx context.Context, id string, patch DocumentPatch) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.documents[id]
	if !ok {
		return nil, ErrNotFound
	}
	if patch.Title != nil {
		doc.Title = *patch.Title
	}
	if patch.Content != nil {
		doc.Content = *patch.Content
	}
	doc.UpdatedAt = time.Now()
	s.documents[id] = doc
	return &doc, nil
}

// DeleteDocument drops the document and its versions.
func (s *MemoryStore) DeleteDocument(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.documents, id)
	delete(s.versions, id)
	return nil
}

func (s *MemoryStore) CreateVersion(ctx context.Context, v Version) (*Version, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	v.ID = ulid.Make().String()
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now()
	}
	s.versions[v.DocumentID] = append(s.versions[v.DocumentID], v)
	return &v, nil
}

func (s *MemoryStore) GetVersion(ctx context.Context, id string) (*Version, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, versions := range s.versions {
		for _, v := range versions {
			if v.ID == id {
				return &v, nil
			}
		}
	}
	return nil, ErrVersionNotFound
}

// ListVersions returns the document's versions, newest first.
func (s *MemoryStore) ListVersions(ctx context.Context, documentID string) ([]Version, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := append([]Version(nil), s.versions[documentID]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (s *MemoryStore) Close(ctx context.Context) error {
	return nil
}
