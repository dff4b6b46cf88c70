package broker

import (
	"fmt"
	"strings"

	"github.com/go-redis/redis/v8"

	"github.com/Dhanush010/Syncscribe/config"
)

// Open creates the broker selected by cfg.Type and returns it with the
// channel or topic activity is published on. Type "none" yields a nil broker.
// redisClient is required for type "redis".
func Open(cfg config.BrokerConfig, redisClient *redis.Client) (MessageBroker, string, error) {
	switch strings.ToLower(cfg.Type) {
	case "", "none":
		return nil, "", nil
	case "redis":
		if redisClient == nil {
			return nil, "", fmt.Errorf("redis broker requires redis to be enabled")
		}
		return NewRedisBroker(redisClient), cfg.Redis.Channel, nil
	case "kafka":
		b, err := NewKafkaBroker(cfg.Kafka.Brokers, cfg.Kafka.GroupID)
		if err != nil {
			return nil, "", fmt.Errorf("failed to create kafka broker: %w", err)
		}
		return b, cfg.Kafka.Topic, nil
	default:
		return nil, "", fmt.Errorf("invalid broker type: %s", cfg.Type)
	}
}
