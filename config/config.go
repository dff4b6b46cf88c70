package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/spf13/viper"
)

type AppConfig struct {
	Server    ServerConfig
	Auth      AuthConfig
	Redis     RedisConfig
	Broker    BrokerConfig
	WebSocket WebSocketConfig
	Store     StoreConfig
	Snapshot  SnapshotConfig
	Metrics   MetricsConfig
}

type ServerConfig struct {
	Port            int
	ReadTimeout     int // Seconds
	WriteTimeout    int // Seconds
	ShutdownTimeout int // Seconds
}

// AuthConfig controls how connection credentials are resolved. Connections
// with a missing or invalid token are accepted as guests either way.
type AuthConfig struct {
	Enabled           bool
	JWTSecret         string
	TokenQueryParam   string
	RevocationListKey string
}

type RedisConfig struct {
	Enabled     bool
	Address     string
	Password    string
	DB          int
	PoolSize    int
	PoolTimeout int // Seconds
	SessionTTL  int // Seconds
}

type BrokerConfig struct {
	Type  string // none, redis or kafka
	Redis RedisBrokerConfig
	Kafka KafkaConfig
}

type RedisBrokerConfig struct {
	Channel string
}

type KafkaConfig struct {
	Brokers []string
	GroupID string
	Topic   string
}

type WebSocketConfig struct {
	MaxConnections   int
	MessageSizeLimit int
	HandshakeTimeout int
	PingInterval     int // Seconds
	PongTimeout      int // Seconds
	ActivityTimeout  int // Seconds
	WriteTimeout     int // Seconds
	SendBufferSize   int
	KeepAlive        bool
}

type StoreConfig struct {
	Type     string // memory, mongo or postgres
	Mongo    MongoConfig
	Postgres PostgresConfig
}

type MongoConfig struct {
	URI      string
	Database string
}

type PostgresConfig struct {
	URL string
}

type SnapshotConfig struct {
	Enabled         bool
	IntervalSeconds int
}

type MetricsConfig struct {
	Enabled bool
	Port    int
	Path    string
}

var (
	instance *AppConfig
	once     sync.Once
)

func Initialize(env string) error {
	var initErr error
	once.Do(func() {
		viper.SetConfigName(fmt.Sprintf("config.%s", env))
		viper.SetConfigType("yaml")
		viper.AddConfigPath("./configs")
		viper.AddConfigPath(".")

		viper.AutomaticEnv()
		viper.SetEnvPrefix("SYNCSCRIBE")

		setDefaults()
		bindEnvVars()

		if err := viper.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				initErr = fmt.Errorf("config file error: %w", err)
				return
			}
		}

		cfg, err := load()
		if err != nil {
			initErr = err
			return
		}
		instance = cfg
	})
	return initErr
}

func load() (*AppConfig, error) {
	var cfg AppConfig
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config unmarshal error: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func Get() *AppConfig {
	return instance
}
