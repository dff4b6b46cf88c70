package snapshot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/golang/glog"

	"github.com/Dhanush010/Syncscribe/broker"
	"github.com/Dhanush010/Syncscribe/metrics"
	"github.com/Dhanush010/Syncscribe/room"
	"github.com/Dhanush010/Syncscribe/store"
)

const (
	DefaultInterval = 5 * time.Minute
	labelLayout     = "2006-01-02 15:04:05"
)

// ActiveSource lists documents that currently have joined sessions.
type ActiveSource interface {
	ActiveDocuments() []room.ActiveDocument
}

// Store is the persistence a sweep needs.
type Store interface {
	store.DocumentStore
	store.VersionStore
}

// Scheduler periodically writes an auto-save version of every document that
// is open in at least one session.
type Scheduler struct {
	source   ActiveSource
	store    Store
	interval time.Duration
	activity interface{ Emit(broker.Message) }
	now      func() time.Time
}

type Option func(*Scheduler)

func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithActivity reports each written version as a snapshot event.
func WithActivity(sink interface{ Emit(broker.Message) }) Option {
	return func(s *Scheduler) {
		s.activity = sink
	}
}

func NewScheduler(source ActiveSource, st Store, opts ...Option) *Scheduler {
	s := &Scheduler{
		source:   source,
		store:    st,
		interval: DefaultInterval,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run sweeps once per interval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	glog.Infof("[snapshot]auto-save every %s", s.interval)
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			created := s.Sweep(ctx)
			glog.V(1).Infof("[snapshot]sweep wrote %d versions", created)
		case <-ctx.Done():
			glog.Infof("[snapshot]stopping auto-save")
			return
		}
	}
}

// Sweep writes one version per active document and returns how many were
// written. A failure for one document is logged and does not stop the others.
func (s *Scheduler) Sweep(ctx context.Context) int {
	created := 0
	for _, active := range s.source.ActiveDocuments() {
		if ctx.Err() != nil {
			return created
		}
		ok, err := s.snapshot(ctx, active)
		if err != nil {
			metrics.SnapshotFailures.Inc()
			glog.Warningf("[snapshot]%s: %v", active.DocumentID, err)
			continue
		}
		if ok {
			created++
		}
	}
	return created
}

func (s *Scheduler) snapshot(ctx context.Context, active room.ActiveDocument) (bool, error) {
	doc, err := s.store.GetDocument(ctx, active.DocumentID)
	if err != nil {
		return false, fmt.Errorf("load document: %w", err)
	}
	if strings.TrimSpace(doc.Content) == "" {
		return false, nil
	}

	v, err := s.store.CreateVersion(ctx, store.Version{
		DocumentID: active.DocumentID,
		Content:    doc.Content,
		CreatedBy:  active.AuthorID,
		Label:      Label(s.now()),
	})
	if err != nil {
		return false, fmt.Errorf("create version: %w", err)
	}

	metrics.SnapshotsCreated.Inc()
	if s.activity != nil {
		s.activity.Emit(broker.Message{Kind: broker.KindSnapshot, DocumentID: active.DocumentID, UserID: active.AuthorID})
	}
	glog.V(1).Infof("[snapshot]%s saved as version %s", active.DocumentID, v.ID)
	return true, nil
}

// Label is the name given to an auto-saved version created at t.
func Label(t time.Time) string {
	return "Auto-save " + t.Format(labelLayout)
}
