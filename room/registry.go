package room

import (
	"sort"
	"sync"
)

// Conn is a live client connection as seen by the collaboration state.
//
// Send must not block: implementations enqueue the frame for a dedicated
// writer and return an error when the peer can no longer accept frames.
// Rooms call Send while holding their lock so that every member observes
// broadcasts in the same order.
type Conn interface {
	ID() string
	Send(data []byte) error
	Close() error
}

// Session is the per-connection collaboration state.
type Session struct {
	ConnID      string
	DisplayName string
	Color       string
	UserID      string // empty for anonymous connections
	DocumentID  string // empty while not joined
}

// Anonymous reports whether the session has no resolved identity.
func (s Session) Anonymous() bool {
	return s.UserID == ""
}

// ActiveDocument is a document with at least one joined session.
type ActiveDocument struct {
	DocumentID string
	AuthorID   string // a joined user with an identity, if any
}

// Registry maps live connections to their sessions.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Add registers a new session. An existing session for the same connection is replaced.
func (r *Registry) Add(s Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ConnID] = &s
}

// Get returns a copy of the session for connID.
func (r *Registry) Get(connID string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[connID]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// SetDocument records the document the connection is joined to; an empty
// docID clears it. It returns false if the connection is unknown.
func (r *Registry) SetDocument(connID, docID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[connID]
	if !ok {
		return false
	}
	s.DocumentID = docID
	return true
}

// Remove deletes the session and returns it. Only the first call for a
// connection reports ok.
func (r *Registry) Remove(connID string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[connID]
	if !ok {
		return Session{}, false
	}
	delete(r.sessions, connID)
	return *s, true
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// ActiveDocuments lists every joined document once, sorted by id.
func (r *Registry) ActiveDocuments() []ActiveDocument {
	r.mu.RLock()
	byDoc := make(map[string]string)
	for _, s := range r.sessions {
		if s.DocumentID == "" {
			continue
		}
		if author, seen := byDoc[s.DocumentID]; !seen || author == "" {
			byDoc[s.DocumentID] = s.UserID
		}
	}
	r.mu.RUnlock()

	docs := make([]ActiveDocument, 0, len(byDoc))
	for id, author := range byDoc {
		docs = append(docs, ActiveDocument{DocumentID: id, AuthorID: author})
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].DocumentID < docs[j].DocumentID })
	return docs
}
