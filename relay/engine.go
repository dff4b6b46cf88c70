package relay

import (
	"context"
	"errors"
	"time"

	"github.com/golang/glog"

	"github.com/Dhanush010/Syncscribe/broker"
	"github.com/Dhanush010/Syncscribe/metrics"
	"github.com/Dhanush010/Syncscribe/presence"
	"github.com/Dhanush010/Syncscribe/protocol"
	"github.com/Dhanush010/Syncscribe/room"
	"github.com/Dhanush010/Syncscribe/store"
)

const defaultFetchTimeout = 10 * time.Second

// Identity is a resolved user behind a connection.
type Identity struct {
	UserID      string
	DisplayName string
}

// ActivitySink receives a record of every relayed edit, join and leave.
type ActivitySink interface {
	Emit(m broker.Message)
}

type discardActivity struct{}

func (discardActivity) Emit(broker.Message) {}

// Engine processes client messages for every connection. Calls for one
// connection must be made sequentially from that connection's read loop;
// calls for different connections may run concurrently.
type Engine struct {
	sessions     *room.Registry
	rooms        *room.Directory
	documents    store.DocumentStore
	allocator    *presence.Allocator
	activity     ActivitySink
	fetchTimeout time.Duration
}

type Option func(*Engine)

// WithActivity publishes activity records to sink.
func WithActivity(sink ActivitySink) Option {
	return func(e *Engine) {
		if sink != nil {
			e.activity = sink
		}
	}
}

// WithFetchTimeout bounds each Document Store read made for a join.
func WithFetchTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.fetchTimeout = d
		}
	}
}

func NewEngine(sessions *room.Registry, rooms *room.Directory, documents store.DocumentStore, allocator *presence.Allocator, opts ...Option) *Engine {
	e := &Engine{
		sessions:     sessions,
		rooms:        rooms,
		documents:    documents,
		allocator:    allocator,
		activity:     discardActivity{},
		fetchTimeout: defaultFetchTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Connect creates the session for a newly accepted connection and sends it
// ASSIGN_ID. A nil identity yields a guest session.
func (e *Engine) Connect(conn room.Conn, id *Identity) room.Session {
	s := room.Session{
		ConnID: conn.ID(),
		Color:  e.allocator.Color(),
	}
	if id != nil {
		s.UserID = id.UserID
		s.DisplayName = id.DisplayName
	}
	if s.DisplayName == "" {
		s.DisplayName = e.allocator.GuestName()
	}
	e.sessions.Add(s)

	e.send(conn, protocol.NewAssignID(s.DisplayName, s.Color))
	glog.V(1).Infof("[relay]%s connected as %s (user=%q)", conn.ID(), s.DisplayName, s.UserID)
	return s
}

// Handle decodes and dispatches one client frame. Frames that cannot be
// decoded are dropped.
func (e *Engine) Handle(ctx context.Context, conn room.Conn, data []byte) {
	msg, err := protocol.Decode(data)
	if err != nil {
		reason := "malformed"
		if errors.Is(err, protocol.ErrUnknownType) {
			reason = "unknown_type"
		}
		metrics.MessagesDropped.WithLabelValues(reason).Inc()
		glog.V(2).Infof("[relay]%s dropped frame: %v", conn.ID(), err)
		return
	}

	s, ok := e.sessions.Get(conn.ID())
	if !ok {
		return
	}

	switch m := msg.(type) {
	case protocol.JoinDoc:
		metrics.MessagesReceived.WithLabelValues(string(protocol.TypeJoinDoc)).Inc()
		e.join(ctx, conn, s, m.DocID)
	case protocol.LeaveDoc:
		metrics.MessagesReceived.WithLabelValues(string(protocol.TypeLeaveDoc)).Inc()
		e.leave(conn, s, m.DocID)
	case protocol.UpdateDoc:
		metrics.MessagesReceived.WithLabelValues(string(protocol.TypeUpdateDoc)).Inc()
		e.update(conn, s, m)
	case protocol.CursorMove:
		metrics.MessagesReceived.WithLabelValues(string(protocol.TypeCursorMove)).Inc()
		e.cursor(conn, s, m)
	case protocol.HighlightText:
		metrics.MessagesReceived.WithLabelValues(string(protocol.TypeHighlightText)).Inc()
		e.highlight(conn, s, m)
	case protocol.RemoveHighlight:
		metrics.MessagesReceived.WithLabelValues(string(protocol.TypeRemoveHighlight)).Inc()
		e.removeHighlight(conn, s, m.DocID)
	case protocol.CommentEvent:
		metrics.MessagesReceived.WithLabelValues(string(m.Kind)).Inc()
		e.comment(conn, m)
	default:
		glog.Errorf("[relay]%s unhandled message %T", conn.ID(), msg)
	}
}

// Session returns the current session of a connection.
func (e *Engine) Session(connID string) (room.Session, bool) {
	return e.sessions.Get(connID)
}

// Disconnect tears down the connection's session. It is safe to call more
// than once and for connections that never joined a document.
func (e *Engine) Disconnect(conn room.Conn) {
	s, ok := e.sessions.Remove(conn.ID())
	if !ok {
		return
	}
	if s.DocumentID != "" {
		if left, failed := e.rooms.Leave(s.DocumentID, conn.ID()); left {
			e.closeFailed(failed)
			e.activity.Emit(broker.Message{Kind: broker.KindLeave, DocumentID: s.DocumentID, ConnectionID: conn.ID(), UserID: s.UserID})
		}
		metrics.ActiveRooms.Set(float64(e.rooms.Len()))
	}
	glog.V(1).Infof("[relay]%s disconnected", conn.ID())
}

func (e *Engine) join(ctx context.Context, conn room.Conn, s room.Session, docID string) {
	sync, err := e.fetchSync(ctx, docID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			metrics.Joins.WithLabelValues("not_found").Inc()
			e.send(conn, protocol.NewError("Document not found"))
			return
		}
		metrics.Joins.WithLabelValues("error").Inc()
		glog.Warningf("[relay]%s join %s: %v", conn.ID(), docID, err)
		e.send(conn, protocol.NewError("Failed to load document"))
		return
	}

	// switching documents leaves the previous room before entering the new one
	if s.DocumentID != "" && s.DocumentID != docID {
		e.leave(conn, s, s.DocumentID)
	}

	failed := e.rooms.Join(docID, room.Member{
		Conn:        conn,
		DisplayName: s.DisplayName,
		Color:       s.Color,
		UserID:      s.UserID,
	}, sync)
	e.sessions.SetDocument(conn.ID(), docID)
	e.closeFailed(failed)

	metrics.Joins.WithLabelValues("ok").Inc()
	metrics.ActiveRooms.Set(float64(e.rooms.Len()))
	if s.DocumentID != docID {
		e.activity.Emit(broker.Message{Kind: broker.KindJoin, DocumentID: docID, ConnectionID: conn.ID(), UserID: s.UserID})
	}
	glog.V(1).Infof("[relay]%s joined %s", conn.ID(), docID)
}

func (e *Engine) leave(conn room.Conn, s room.Session, docID string) {
	if s.DocumentID != docID {
		return
	}
	left, failed := e.rooms.Leave(docID, conn.ID())
	e.sessions.SetDocument(conn.ID(), "")
	e.closeFailed(failed)
	metrics.ActiveRooms.Set(float64(e.rooms.Len()))
	if left {
		e.activity.Emit(broker.Message{Kind: broker.KindLeave, DocumentID: docID, ConnectionID: conn.ID(), UserID: s.UserID})
	}
}

func (e *Engine) update(conn room.Conn, s room.Session, m protocol.UpdateDoc) {
	data, err := protocol.Encode(protocol.NewDocUpdate(m.DocID, m.Delta, s.DisplayName, s.UserID))
	if err != nil {
		glog.Errorf("[relay]%s encode update: %v", conn.ID(), err)
		return
	}
	e.closeFailed(e.rooms.Broadcast(m.DocID, conn.ID(), data))
	e.activity.Emit(broker.Message{Kind: broker.KindEdit, DocumentID: m.DocID, ConnectionID: conn.ID(), UserID: s.UserID, Data: m.Delta})
}

func (e *Engine) cursor(conn room.Conn, s room.Session, m protocol.CursorMove) {
	docID := m.DocID
	if docID == "" {
		docID = s.DocumentID
	}
	if docID == "" {
		return
	}
	data, err := protocol.Encode(protocol.NewCursorBroadcast(docID, s.DisplayName, s.Color, s.UserID, m.Index, m.Length))
	if err != nil {
		glog.Errorf("[relay]%s encode cursor: %v", conn.ID(), err)
		return
	}
	e.closeFailed(e.rooms.Broadcast(docID, conn.ID(), data))
}

// highlight tracks selections of identified users only.
func (e *Engine) highlight(conn room.Conn, s room.Session, m protocol.HighlightText) {
	if s.Anonymous() {
		return
	}
	data, err := protocol.Encode(protocol.NewHighlightBroadcast(m.DocID, s.UserID, s.DisplayName, s.Color, m.Index, m.Length))
	if err != nil {
		glog.Errorf("[relay]%s encode highlight: %v", conn.ID(), err)
		return
	}
	_, failed := e.rooms.SetHighlight(m.DocID, room.Highlight{
		UserID: s.UserID,
		Index:  m.Index,
		Length: m.Length,
		Color:  s.Color,
	}, conn.ID(), data)
	e.closeFailed(failed)
}

func (e *Engine) removeHighlight(conn room.Conn, s room.Session, docID string) {
	if s.Anonymous() {
		return
	}
	_, failed := e.rooms.RemoveHighlight(docID, s.UserID, conn.ID())
	e.closeFailed(failed)
}

// comment forwards the frame as received; the server keeps no comment state.
func (e *Engine) comment(conn room.Conn, m protocol.CommentEvent) {
	data, err := protocol.Encode(protocol.Relay{Kind: m.Kind, Data: m.Raw})
	if err != nil {
		glog.Errorf("[relay]%s encode %s: %v", conn.ID(), m.Kind, err)
		return
	}
	e.closeFailed(e.rooms.Broadcast(m.DocID, conn.ID(), data))
}

func (e *Engine) send(conn room.Conn, msg protocol.Outbound) {
	data, err := protocol.Encode(msg)
	if err != nil {
		glog.Errorf("[relay]%s encode %s: %v", conn.ID(), msg.MessageType(), err)
		return
	}
	if err := conn.Send(data); err != nil {
		e.closeFailed([]room.Conn{conn})
	}
}

// closeFailed closes peers whose send failed. Their read loops then run the
// ordinary Disconnect path.
func (e *Engine) closeFailed(conns []room.Conn) {
	closed := make(map[string]bool, len(conns))
	for _, c := range conns {
		if closed[c.ID()] {
			continue
		}
		closed[c.ID()] = true
		metrics.SendFailures.Inc()
		glog.Infof("[relay]closing %s after failed send", c.ID())
		go c.Close()
	}
}
