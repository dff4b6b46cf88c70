package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/felixge/httpsnoop"
	"github.com/golang/glog"
	"github.com/gorilla/mux"

	"github.com/Dhanush010/Syncscribe/store"
)

// Closer is anything the server shuts down after its connections drain.
type Closer interface {
	Close() error
}

// ConnectionManager is the live connection set drained on shutdown.
type ConnectionManager interface {
	CloseAllConnections(reason string)
	WaitForCompletion()
}

// Server is the HTTP front door: websocket upgrades, the document API and a
// health check.
type Server struct {
	httpServer *http.Server
}

// NewServer routes GET /ws and GET / to wsHandler and serves the document
// API over docs.
func NewServer(addr string, wsHandler http.HandlerFunc, docs store.Store, readTimeout, writeTimeout time.Duration) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:        addr,
			Handler:     NewRouter(wsHandler, docs),
			ReadTimeout: readTimeout,
			// the upgrader clears these deadlines on hijacked connections
			WriteTimeout: writeTimeout,
		},
	}
}

// NewRouter builds the route table with request logging. The document API
// is mounted when docs is non-nil.
func NewRouter(wsHandler http.HandlerFunc, docs store.Store) *mux.Router {
	r := mux.NewRouter()
	r.Use(logRequests)

	r.Methods(http.MethodGet).Path("/healthz").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("ok"))
	})
	if docs != nil {
		registerDocumentAPI(r, docs)
	}
	r.Methods(http.MethodGet).Path("/ws").HandlerFunc(wsHandler)
	r.Methods(http.MethodGet).Path("/").HandlerFunc(wsHandler)
	return r
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m := httpsnoop.CaptureMetrics(next, w, r)
		glog.V(1).Infof("[http]%s %s status=%d duration=%s", r.Method, r.URL.Path, m.Code, m.Duration)
	})
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	glog.Infof("[http]listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections, closes every live websocket, waits
// for their handlers to finish and then closes the given resources in order.
func (s *Server) Shutdown(ctx context.Context, manager ConnectionManager, closers ...Closer) {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		glog.Warningf("[http]shutdown: %v", err)
	}

	manager.CloseAllConnections("Server shutting down")

	drained := make(chan struct{})
	go func() {
		manager.WaitForCompletion()
		close(drained)
	}()
	select {
	case <-drained:
	case <-ctx.Done():
		glog.Warningf("[http]gave up waiting for connections to drain: %v", ctx.Err())
	}

	for _, c := range closers {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil {
			glog.Warningf("[http]close: %v", err)
		}
	}
	glog.Infof("[http]server stopped")
}
