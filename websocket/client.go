package websocket

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/golang/glog"
	"github.com/gorilla/websocket"

	"github.com/Dhanush010/Syncscribe/config"
	"github.com/Dhanush010/Syncscribe/metrics"
)

const (
	websocketRetryDelay = 200 * time.Millisecond
	websocketRetries    = 3
)

var (
	ErrClosed         = errors.New("connection closed")
	ErrSendBufferFull = errors.New("send buffer full")
)

// ClientSession represents a connected websocket client. Outbound frames are
// queued by Send and written by a single writer goroutine, in queue order.
type ClientSession struct {
	id            string
	conn          *websocket.Conn
	ctx           context.Context
	cfg           *config.WebSocketConfig
	send          chan []byte
	lastActivity  atomic.Int64
	pingTicker    *time.Ticker
	activityTimer *time.Timer
	cancel        context.CancelFunc
	closeOnce     sync.Once
	mu            sync.Mutex
}

// NewClientSession creates a new client session
func NewClientSession(id string, conn *websocket.Conn, cfg *config.WebSocketConfig) *ClientSession {
	ctx, cancel := context.WithCancel(context.Background())
	size := cfg.SendBufferSize
	if size <= 0 {
		size = 256
	}
	cs := &ClientSession{
		id:     id,
		conn:   conn,
		cfg:    cfg,
		send:   make(chan []byte, size),
		cancel: cancel,
		ctx:    ctx,
	}
	cs.lastActivity.Store(time.Now().Unix())
	return cs
}

func (s *ClientSession) writeWait() time.Duration {
	if s.cfg.WriteTimeout <= 0 {
		return 10 * time.Second
	}
	return time.Duration(s.cfg.WriteTimeout) * time.Second
}

// ID is the server-assigned connection id.
func (s *ClientSession) ID() string {
	return s.id
}

// Context is cancelled when the session closes.
func (s *ClientSession) Context() context.Context {
	return s.ctx
}

func (s *ClientSession) String() string {
	return s.id
}

// Start launches the writer and the keepalive timers.
func (s *ClientSession) Start() {
	s.StartTimers()
	go s.writeLoop()
}

// Send queues a frame without blocking. It fails once the session is closed
// or when the client has fallen a full buffer behind.
func (s *ClientSession) Send(data []byte) error {
	if s.ctx.Err() != nil {
		return ErrClosed
	}
	select {
	case s.send <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

func (s *ClientSession) writeLoop() {
	for {
		select {
		case data := <-s.send:
			if err := s.write(data); err != nil {
				glog.Warningf("[ws]%s write failed: %v", s.id, err)
				s.CloseWithReason(websocket.CloseInternalServerErr, "Failed to send message")
				return
			}
			metrics.MessagesSent.Inc()
		case <-s.ctx.Done():
			return
		}
	}
}

// write sends one text frame with retry capability
func (s *ClientSession) write(data []byte) error {
	operation := func() error {
		if s.ctx.Err() != nil {
			return backoff.Permanent(ErrClosed)
		}
		s.conn.SetWriteDeadline(time.Now().Add(s.writeWait()))
		return s.conn.WriteMessage(websocket.TextMessage, data)
	}

	backoffStrategy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(websocketRetryDelay), websocketRetries),
		s.ctx,
	)

	return backoff.RetryNotify(operation, backoffStrategy, func(err error, d time.Duration) {
		glog.V(1).Infof("[ws]%s retrying write: %v (next attempt in %s)", s.id, err, d)
	})
}

// UpdateActivity updates the last activity timestamp and resets the timeout timer
// This should only be called for actual client messages, not pong responses
func (s *ClientSession) UpdateActivity() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastActivity.Store(time.Now().Unix())

	if s.activityTimer != nil {
		s.activityTimer.Reset(time.Duration(s.cfg.ActivityTimeout) * time.Second)
	}
}

// LastActivityTime returns the time of last activity
func (s *ClientSession) LastActivityTime() time.Time {
	return time.Unix(s.lastActivity.Load(), 0)
}

func (s *ClientSession) StartTimers() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cfg.ActivityTimeout > 0 {
		s.activityTimer = time.AfterFunc(
			time.Duration(s.cfg.ActivityTimeout)*time.Second,
			s.onActivityTimeout,
		)
	}

	if s.cfg.PingInterval > 0 {
		s.pingTicker = time.NewTicker(
			time.Duration(s.cfg.PingInterval) * time.Second,
		)
		go s.pingLoop(s.pingTicker)
	}
}

func (s *ClientSession) pingLoop(ticker *time.Ticker) {
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.SendPing(); err != nil {
				glog.Warningf("[ws]failed to send ping to %s: %v", s.id, err)
				s.CloseWithReason(websocket.CloseInternalServerErr, "Ping failure")
				return
			}
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *ClientSession) onActivityTimeout() {
	glog.Infof("[ws]connection %s timed out", s.id)
	s.CloseWithReason(websocket.ClosePolicyViolation, "Inactivity timeout")
}

func (s *ClientSession) SendPing() error {
	return s.conn.WriteControl(
		websocket.PingMessage,
		[]byte{},
		time.Now().Add(s.writeWait()),
	)
}

// UpdateLastSeen updates only the timestamp (for pong responses)
// Does NOT reset the activity timer
func (s *ClientSession) UpdateLastSeen() {
	s.lastActivity.Store(time.Now().Unix())
}

// GetPongHandler returns a pong handler function based on configuration.
// onPong, when set, runs after every pong.
func (s *ClientSession) GetPongHandler(onPong func()) func(string) error {
	return func(msg string) error {
		if s.cfg.KeepAlive {
			s.UpdateActivity()
		} else {
			s.UpdateLastSeen()
		}
		if onPong != nil {
			onPong()
		}
		return nil
	}
}

// Close closes the connection with a normal closure.
func (s *ClientSession) Close() error {
	return s.CloseWithReason(websocket.CloseNormalClosure, "")
}

// CloseWithReason stops the session and closes the websocket connection.
// Only the first call has any effect. The blocked reader then fails, which
// runs the handler's disconnect path.
func (s *ClientSession) CloseWithReason(code int, text string) error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		if s.pingTicker != nil {
			s.pingTicker.Stop()
		}
		if s.activityTimer != nil {
			s.activityTimer.Stop()
		}
		s.mu.Unlock()

		s.cancel()

		if werr := s.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(code, text),
			time.Now().Add(s.writeWait()),
		); werr != nil && !errors.Is(werr, websocket.ErrCloseSent) {
			glog.V(1).Infof("[ws]%s error sending close message: %v", s.id, werr)
		}

		err = s.conn.Close()
	})
	return err
}
