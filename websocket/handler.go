package websocket

import (
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/golang/glog"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Dhanush010/Syncscribe/config"
	"github.com/Dhanush010/Syncscribe/relay"
)

// Handler accepts websocket connections and feeds their frames to the
// relay engine.
type Handler struct {
	manager  *ClientManager
	engine   *relay.Engine
	resolver IdentityResolver
	cfg      *config.AppConfig
	upgrader websocket.Upgrader
}

// NewHandler creates a new websocket handler
func NewHandler(manager *ClientManager, engine *relay.Engine, resolver IdentityResolver, cfg *config.AppConfig) *Handler {
	return &Handler{
		manager:  manager,
		engine:   engine,
		resolver: resolver,
		cfg:      cfg,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: time.Duration(cfg.WebSocket.HandshakeTimeout) * time.Second,
			CheckOrigin:      func(r *http.Request) bool { return true },
		},
	}
}

// HandleWebSocket serves one connection until it closes. Frames of a
// connection are handled one at a time, in arrival order.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if limit := h.cfg.WebSocket.MaxConnections; limit > 0 && h.manager.Count() >= limit {
		http.Error(w, "Too many connections", http.StatusServiceUnavailable)
		return
	}

	// A missing or invalid credential yields a guest, never a rejection.
	var identity *relay.Identity
	if h.resolver != nil {
		identity = h.resolver.Resolve(r.Context(), credential(r, h.cfg.Auth.TokenQueryParam))
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		glog.V(1).Infof("[ws]upgrade failed from %s: %v", r.RemoteAddr, err)
		return
	}
	if limit := h.cfg.WebSocket.MessageSizeLimit; limit > 0 {
		conn.SetReadLimit(int64(limit))
	}

	h.manager.IncreaseWaitGroup()
	defer h.manager.DecreaseWaitGroup()

	clientID := uuid.NewString()
	client := NewClientSession(clientID, conn, &h.cfg.WebSocket)
	// keepalive pongs count as activity for the presence mirror too
	conn.SetPongHandler(client.GetPongHandler(func() {
		h.manager.RefreshSessionTTL(client.Context(), clientID)
	}))

	s := h.engine.Connect(client, identity)
	h.manager.AddClient(r.Context(), client, s)
	client.Start()

	defer func() {
		h.engine.Disconnect(client)
		h.manager.RemoveClient(clientID)
		client.Close()
	}()

	// cancelled by any close, so a pending join fetch is abandoned
	ctx := client.Context()
	joined := ""
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) &&
				!errors.Is(err, net.ErrClosed) {
				glog.V(1).Infof("[ws]read error from client %s: %v", clientID, err)
			}
			return
		}
		client.UpdateActivity()

		h.engine.Handle(ctx, client, msg)

		if cur, ok := h.engine.Session(clientID); ok && cur.DocumentID != joined {
			joined = cur.DocumentID
			h.manager.SetDocument(ctx, clientID, joined)
		} else {
			h.manager.RefreshSessionTTL(ctx, clientID)
		}
	}
}
