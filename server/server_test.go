package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRouter_Routes(t *testing.T) {
	var hits int
	r := NewRouter(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusTeapot)
	}, nil)

	testCases := []struct {
		method string
		path   string
		code   int
	}{
		{http.MethodGet, "/healthz", http.StatusOK},
		{http.MethodGet, "/ws", http.StatusTeapot},
		{http.MethodGet, "/", http.StatusTeapot},
		{http.MethodPost, "/ws", http.StatusMethodNotAllowed},
		{http.MethodGet, "/nope", http.StatusNotFound},
	}
	for _, tc := range testCases {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(tc.method, tc.path, nil))
			assert.Equal(t, tc.code, rec.Code)
		})
	}
	assert.Equal(t, 2, hits)
}

type fakeManager struct {
	closed bool
	waited bool
}

func (m *fakeManager) CloseAllConnections(string) { m.closed = true }
func (m *fakeManager) WaitForCompletion() { m.waited = true }

type closeFunc func() error

func (f closeFunc) Close() error { return f() }

func TestShutdown_DrainsThenClosesInOrder(t *testing.T) {
	s := NewServer("127.0.0.1:0", func(http.ResponseWriter, *http.Request) {}, nil, time.Second, time.Second)
	m := &fakeManager{}

	var order []string
	s.Shutdown(context.Background(), m,
		closeFunc(func() error { order = append(order, "broker"); return nil }),
		nil,
		closeFunc(func() error { order = append(order, "redis"); return errors.New("already closed") }),
	)

	assert.True(t, m.closed)
	assert.True(t, m.waited)
	assert.Equal(t, []string{"broker", "redis"}, order)
}
