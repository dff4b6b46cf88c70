package broker

import (
	"context"
	"time"

	"github.com/golang/glog"

	"github.com/Dhanush010/Syncscribe/metrics"
)

const publishTimeout = 10 * time.Second

// Publisher queues activity messages and publishes them from a single
// goroutine, so messages for a document reach the broker in the order they
// were emitted. Emit never blocks the caller; when the queue is full the
// message is dropped and counted.
type Publisher struct {
	broker   MessageBroker
	channel  string
	serverID string
	queue    chan Message
}

func NewPublisher(b MessageBroker, channel, serverID string, queueSize int) *Publisher {
	return &Publisher{
		broker:   b,
		channel:  channel,
		serverID: serverID,
		queue:    make(chan Message, queueSize),
	}
}

// Emit stamps and enqueues m.
func (p *Publisher) Emit(m Message) {
	m.ServerID = p.serverID
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}
	select {
	case p.queue <- m:
	default:
		metrics.ActivityDropped.Inc()
		glog.V(1).Infof("[broker]activity queue full, dropped %s for %s", m.Kind, m.DocumentID)
	}
}

// Run publishes queued messages until ctx is cancelled.
func (p *Publisher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-p.queue:
			p.publish(ctx, m)
		}
	}
}

func (p *Publisher) publish(ctx context.Context, m Message) {
	ctxTimeout, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := p.broker.Publish(ctxTimeout, p.channel, m); err != nil {
		metrics.BrokerPublishFailures.WithLabelValues(p.broker.Type()).Inc()
		glog.Warningf("[broker]failed to publish %s for %s: %v", m.Kind, m.DocumentID, err)
		return
	}
	metrics.BrokerMessagesPublished.WithLabelValues(p.broker.Type()).Inc()
}
