package websocket

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"

	"github.com/Dhanush010/Syncscribe/metrics"
	"github.com/Dhanush010/Syncscribe/room"
	"github.com/Dhanush010/Syncscribe/session"
)

// ClientManager tracks the websocket clients of a single server instance.
// It coordinates between the in-memory connection map and the shared
// presence mirror.
type ClientManager struct {
	clients      sync.Map
	count        atomic.Int64
	wg           sync.WaitGroup
	sessionStore session.Store
	serverID     string
}

// NewClientManager creates a new client manager.
func NewClientManager(store session.Store, serverID string) *ClientManager {
	if store == nil {
		store = session.NopStore{}
	}
	return &ClientManager{
		sessionStore: store,
		serverID:     serverID,
	}
}

// AddClient stores the live connection and mirrors its session. A mirror
// failure is logged; the connection stays usable.
func (m *ClientManager) AddClient(ctx context.Context, client *ClientSession, s room.Session) {
	m.clients.Store(client.ID(), client)
	m.count.Add(1)
	metrics.ActiveConnections.Inc()
	metrics.TotalConnections.Inc()

	err := m.sessionStore.Create(ctx, &session.Session{
		ConnectionID: client.ID(),
		ServerID:     m.serverID,
		UserID:       s.UserID,
		DisplayName:  s.DisplayName,
		Color:        s.Color,
		ConnectedAt:  time.Now().UTC(),
	})
	if err != nil {
		glog.Warningf("[ws]failed to create session in store for client %s: %v", client.ID(), err)
	}
	glog.V(1).Infof("[ws]client %s connected to server %s", client.ID(), m.serverID)
}

// RemoveClient forgets a client. Only the first call for an id has effect.
func (m *ClientManager) RemoveClient(clientID string) {
	if _, loaded := m.clients.LoadAndDelete(clientID); !loaded {
		return
	}
	m.count.Add(-1)
	metrics.ActiveConnections.Dec()

	// the request context may already be cancelled
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.sessionStore.Delete(ctx, clientID); err != nil {
		glog.Warningf("[ws]failed to delete session from store for client %s: %v", clientID, err)
	}
	glog.V(1).Infof("[ws]client %s disconnected", clientID)
}

// Count is the number of live clients on this instance.
func (m *ClientManager) Count() int {
	return int(m.count.Load())
}

// SetDocument mirrors the document a client has joined, or "" after leaving.
func (m *ClientManager) SetDocument(ctx context.Context, clientID, documentID string) {
	if err := m.sessionStore.SetDocument(ctx, clientID, documentID); err != nil {
		glog.Warningf("[ws]failed to update session document for client %s: %v", clientID, err)
	}
}

// RefreshSessionTTL updates the TTL of the client's session in the store.
func (m *ClientManager) RefreshSessionTTL(ctx context.Context, clientID string) {
	if err := m.sessionStore.RefreshTTL(ctx, clientID); err != nil {
		// transient store errors never disconnect a client
		glog.V(1).Infof("[ws]failed to refresh session TTL for client %s: %v", clientID, err)
	}
}

// IncreaseWaitGroup increases the wait group counter
func (m *ClientManager) IncreaseWaitGroup() {
	m.wg.Add(1)
}

// DecreaseWaitGroup decreases the wait group counter
func (m *ClientManager) DecreaseWaitGroup() {
	m.wg.Done()
}

// WaitForCompletion waits for every connection handler to return
func (m *ClientManager) WaitForCompletion() {
	m.wg.Wait()
}

// CloseAllConnections sends close messages to all clients. Each handler then
// runs its own disconnect path.
func (m *ClientManager) CloseAllConnections(reason string) {
	m.clients.Range(func(key, value interface{}) bool {
		client := value.(*ClientSession)
		glog.V(1).Infof("[ws]closing connection for client %s: %s", client.ID(), reason)
		client.CloseWithReason(websocket.CloseGoingAway, reason)
		return true
	})
}
