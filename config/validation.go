package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

func (c *AppConfig) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return errors.New("invalid server port")
	}
	// Validate auth config
	if c.Auth.Enabled {
		if c.Auth.JWTSecret == "" || c.Auth.JWTSecret == "default-secret" {
			return errors.New("auth.jwtSecret must be set to a strong secret when auth is enabled")
		}
		if c.Auth.TokenQueryParam == "" {
			return errors.New("auth.tokenQueryParam must be configured when auth is enabled")
		}
	}

	if c.Redis.Enabled {
		if c.Redis.Address == "" {
			return errors.New("redis address must be specified when redis is enabled")
		}
		if c.Redis.SessionTTL <= c.WebSocket.ActivityTimeout {
			return errors.New("session TTL should be greater than activity timeout")
		}
	}

	// Validate broker configuration
	switch strings.ToLower(c.Broker.Type) {
	case "none", "":
	case "redis":
		if !c.Redis.Enabled {
			return errors.New("redis broker requires redis.enabled")
		}
		if c.Broker.Redis.Channel == "" {
			return errors.New("redis channel must be configured for redis broker")
		}
	case "kafka":
		if len(c.Broker.Kafka.Brokers) == 0 {
			return errors.New("kafka brokers must be specified for kafka broker")
		}
		if c.Broker.Kafka.GroupID == "" {
			return errors.New("kafka groupID must be specified for kafka broker")
		}
		if c.Broker.Kafka.Topic == "" {
			return errors.New("kafka topic must be specified for kafka broker")
		}
	default:
		return fmt.Errorf("invalid broker type: %s. Must be 'none', 'redis' or 'kafka'", c.Broker.Type)
	}

	switch strings.ToLower(c.Store.Type) {
	case "memory":
	case "mongo":
		if c.Store.Mongo.URI == "" || c.Store.Mongo.Database == "" {
			return errors.New("store.mongo.uri and store.mongo.database must be set for mongo store")
		}
	case "postgres":
		if c.Store.Postgres.URL == "" {
			return errors.New("store.postgres.url must be set for postgres store")
		}
	default:
		return fmt.Errorf("invalid store type: %s. Must be 'memory', 'mongo' or 'postgres'", c.Store.Type)
	}

	if c.WebSocket.MaxConnections < 1 {
		return errors.New("max connections must be positive")
	}

	if c.WebSocket.HandshakeTimeout < 1 {
		return errors.New("handshake timeout must be at least 1 second")
	}

	if c.WebSocket.PingInterval >= c.WebSocket.ActivityTimeout {
		return errors.New("ping interval should be less than activity timeout")
	}

	if c.WebSocket.SendBufferSize < 1 {
		return errors.New("send buffer size must be positive")
	}

	if c.Snapshot.Enabled && c.Snapshot.IntervalSeconds < 1 {
		return errors.New("snapshot interval must be at least 1 second")
	}

	return nil
}

func bindEnvVars() {
	// Server
	viper.BindEnv("server.port", "SYNCSCRIBE_PORT")

	// Auth
	viper.BindEnv("auth.enabled", "SYNCSCRIBE_AUTH_ENABLED")
	viper.BindEnv("auth.jwtSecret", "SYNCSCRIBE_AUTH_JWT_SECRET", "JWT_SECRET")
	viper.BindEnv("auth.tokenQueryParam", "SYNCSCRIBE_AUTH_TOKEN_PARAM")
	viper.BindEnv("auth.revocationListKey", "SYNCSCRIBE_AUTH_REVOCATION_KEY")

	// Redis
	viper.BindEnv("redis.enabled", "SYNCSCRIBE_REDIS_ENABLED")
	viper.BindEnv("redis.address", "SYNCSCRIBE_REDIS_ADDRESS")
	viper.BindEnv("redis.password", "SYNCSCRIBE_REDIS_PASSWORD")
	viper.BindEnv("redis.sessionTTL", "SYNCSCRIBE_SESSION_TTL")

	// Broker
	viper.BindEnv("broker.type", "SYNCSCRIBE_BROKER_TYPE")
	viper.BindEnv("broker.redis.channel", "SYNCSCRIBE_REDIS_ACTIVITY_CHANNEL")
	viper.BindEnv("broker.kafka.brokers", "SYNCSCRIBE_KAFKA_BROKERS")
	viper.BindEnv("broker.kafka.groupID", "SYNCSCRIBE_KAFKA_GROUPID")
	viper.BindEnv("broker.kafka.topic", "SYNCSCRIBE_KAFKA_TOPIC")

	// WebSocket
	viper.BindEnv("websocket.maxConnections", "SYNCSCRIBE_MAX_CONNECTIONS")
	viper.BindEnv("websocket.handshakeTimeout", "SYNCSCRIBE_HANDSHAKE_TIMEOUT")
	viper.BindEnv("websocket.pingInterval", "SYNCSCRIBE_PING_INTERVAL")
	viper.BindEnv("websocket.pongTimeout", "SYNCSCRIBE_PONG_TIMEOUT")
	viper.BindEnv("websocket.activityTimeout", "SYNCSCRIBE_ACTIVITY_TIMEOUT")
	viper.BindEnv("websocket.writeTimeout", "SYNCSCRIBE_WRITE_TIMEOUT")

	// Store
	viper.BindEnv("store.type", "SYNCSCRIBE_STORE_TYPE")
	viper.BindEnv("store.mongo.uri", "SYNCSCRIBE_MONGO_URI", "MONGO_URL", "MONGO_URI")
	viper.BindEnv("store.mongo.database", "SYNCSCRIBE_MONGO_DATABASE")
	viper.BindEnv("store.postgres.url", "SYNCSCRIBE_POSTGRES_URL", "DATABASE_URL")

	// Snapshot
	viper.BindEnv("snapshot.enabled", "SYNCSCRIBE_SNAPSHOT_ENABLED")
	viper.BindEnv("snapshot.intervalSeconds", "SYNCSCRIBE_SNAPSHOT_INTERVAL")
}
