package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/cenkalti/backoff/v4"
	"github.com/golang/glog"
)

const (
	kafkaMaxRetries     = 3
	kafkaInitialBackoff = 100 * time.Millisecond
	kafkaMaxBackoff     = 5 * time.Second
)

var errBrokerClosed = errors.New("broker is closed")

// KafkaBroker publishes activity to a Kafka topic. Records are keyed by
// document id, so one document's activity stays on one partition in publish
// order. A consumer group is only joined by Subscribe.
type KafkaBroker struct {
	brokers  []string
	groupID  string
	config   *sarama.Config
	producer sarama.SyncProducer

	mu     sync.Mutex
	groups []sarama.ConsumerGroup
	closed bool
}

func NewKafkaBroker(brokers []string, groupID string) (*KafkaBroker, error) {
	config := sarama.NewConfig()
	config.Version = sarama.V3_6_0_0

	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Partitioner = sarama.NewHashPartitioner
	config.Producer.Retry.Max = kafkaMaxRetries
	config.Producer.Return.Successes = true
	config.Producer.Compression = sarama.CompressionSnappy

	// a tail only cares about activity from now on
	config.Consumer.Offsets.Initial = sarama.OffsetNewest

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}
	return &KafkaBroker{
		brokers:  brokers,
		groupID:  groupID,
		config:   config,
		producer: producer,
	}, nil
}

func (b *KafkaBroker) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Publish writes one record, retrying transient failures until ctx ends.
func (b *KafkaBroker) Publish(ctx context.Context, topic string, message Message) error {
	if b.isClosed() {
		return errBrokerClosed
	}
	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	record := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(message.DocumentID),
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte("kind"), Value: []byte(message.Kind)},
			{Key: []byte("server_id"), Value: []byte(message.ServerID)},
		},
		Timestamp: message.Timestamp,
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(
			backoff.NewExponentialBackOff(
				backoff.WithInitialInterval(kafkaInitialBackoff),
				backoff.WithMaxInterval(kafkaMaxBackoff),
			),
			kafkaMaxRetries,
		),
		ctx,
	)
	return backoff.RetryNotify(func() error {
		_, _, err := b.producer.SendMessage(record)
		return err
	}, policy, func(err error, d time.Duration) {
		glog.Warningf("[broker]retrying kafka publish for %s: %v (next attempt in %s)", message.DocumentID, err, d)
	})
}

// Subscribe joins the broker's consumer group on topic and streams decoded
// records until ctx ends. Undecodable records are skipped.
func (b *KafkaBroker) Subscribe(ctx context.Context, topic string) (<-chan Message, error) {
	group, err := sarama.NewConsumerGroup(b.brokers, b.groupID, b.config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka consumer group: %w", err)
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		group.Close()
		return nil, errBrokerClosed
	}
	b.groups = append(b.groups, group)
	b.mu.Unlock()

	out := make(chan Message, 100)
	go func() {
		defer close(out)
		handler := tailHandler{out: out}
		// Consume returns on every rebalance and must be called again
		for ctx.Err() == nil {
			if err := group.Consume(ctx, []string{topic}, handler); err != nil {
				if !errors.Is(err, sarama.ErrClosedConsumerGroup) {
					glog.Errorf("[broker]kafka consume %s: %v", topic, err)
				}
				return
			}
		}
	}()
	return out, nil
}

func (b *KafkaBroker) Type() string { return "kafka" }

func (b *KafkaBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	errs := []error{b.producer.Close()}
	for _, g := range b.groups {
		errs = append(errs, g.Close())
	}
	return errors.Join(errs...)
}

// tailHandler forwards every claimed record to out.
type tailHandler struct {
	out chan<- Message
}

func (tailHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (tailHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h tailHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for record := range claim.Messages() {
		var m Message
		if err := json.Unmarshal(record.Value, &m); err != nil {
			glog.Warningf("[broker]skipping kafka record at %s/%d:%d: %v", record.Topic, record.Partition, record.Offset, err)
			session.MarkMessage(record, "")
			continue
		}
		select {
		case h.out <- m:
			session.MarkMessage(record, "")
		case <-session.Context().Done():
			return nil
		}
	}
	return nil
}
