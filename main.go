package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/docopt/docopt-go"
	"github.com/go-redis/redis/v8"
	"github.com/golang/glog"
	"github.com/google/uuid"

	"github.com/Dhanush010/Syncscribe/broker"
	"github.com/Dhanush010/Syncscribe/config"
	"github.com/Dhanush010/Syncscribe/metrics"
	"github.com/Dhanush010/Syncscribe/presence"
	"github.com/Dhanush010/Syncscribe/relay"
	"github.com/Dhanush010/Syncscribe/room"
	"github.com/Dhanush010/Syncscribe/server"
	"github.com/Dhanush010/Syncscribe/services"
	"github.com/Dhanush010/Syncscribe/session"
	"github.com/Dhanush010/Syncscribe/snapshot"
	"github.com/Dhanush010/Syncscribe/store"
	"github.com/Dhanush010/Syncscribe/websocket"
)

const Version = "0.1.0"

const activityQueueSize = 4096

func main() {
	usage := `Syncscribe collaboration server.

Usage:
    syncscribe [--env=<env>] [--verbosity=<n>]
    syncscribe -h | --help
    syncscribe --version

Options:
    -h --help          Show this screen.
    --version          Show version.
    --env=<env>        Config profile; reads config.<env>.yaml [default: dev].
    --verbosity=<n>    Log verbosity [default: 0].`

	opts, err := docopt.ParseArgs(usage, os.Args[1:], Version)
	if err != nil {
		panic(err)
	}
	env, _ := opts.String("--env")
	if e := os.Getenv("ENVIRONMENT"); e != "" && env == "dev" {
		env = e
	}
	verbosity, _ := opts.String("--verbosity")
	initGlog(verbosity)
	defer glog.Flush()

	if err := run(env); err != nil {
		glog.Errorf("[main]%v", err)
		glog.Flush()
		os.Exit(1)
	}
}

func initGlog(verbosity string) {
	flag.Set("logtostderr", "true")
	flag.Set("stderrthreshold", "INFO")
	if _, err := strconv.Atoi(verbosity); err == nil {
		flag.Set("v", verbosity)
	}
}

func run(env string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := config.Initialize(env); err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}
	cfg := config.Get()

	// Generate a unique ID for this server instance
	serverID := uuid.NewString()
	glog.Infof("[main]starting server instance %s (env=%s)", serverID, env)

	docs, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("failed to open %s store: %w", cfg.Store.Type, err)
	}
	defer docs.Close(context.Background())
	glog.Infof("[main]document store: %s", cfg.Store.Type)

	var redisClient *redis.Client
	var sessionStore session.Store = session.NopStore{}
	if cfg.Redis.Enabled {
		redisClient, err = services.NewRedisClient(cfg.Redis)
		if err != nil {
			return err
		}
		defer services.CloseRedisClient(redisClient)
		sessionStore = session.NewRedisStore(redisClient, time.Duration(cfg.Redis.SessionTTL)*time.Second)
	}

	sessions := room.NewRegistry()
	engineOpts := []relay.Option{}

	messageBroker, channel, err := broker.Open(cfg.Broker, redisClient)
	if err != nil {
		return err
	}
	var activity *broker.Publisher
	if messageBroker != nil {
		glog.Infof("[main]publishing activity to %s %q", messageBroker.Type(), channel)
		activity = broker.NewPublisher(messageBroker, channel, serverID, activityQueueSize)
		go activity.Run(ctx)
		engineOpts = append(engineOpts, relay.WithActivity(activity))
	}

	engine := relay.NewEngine(sessions, room.NewDirectory(), docs, presence.NewAllocator(), engineOpts...)

	if cfg.Snapshot.Enabled {
		snapshotOpts := []snapshot.Option{
			snapshot.WithInterval(time.Duration(cfg.Snapshot.IntervalSeconds) * time.Second),
		}
		if activity != nil {
			snapshotOpts = append(snapshotOpts, snapshot.WithActivity(activity))
		}
		go snapshot.NewScheduler(sessions, docs, snapshotOpts...).Run(ctx)
	}

	if cfg.Metrics.Enabled {
		metrics.StartServer(cfg.Metrics.Port, cfg.Metrics.Path)
	}

	var resolver websocket.IdentityResolver
	if cfg.Auth.Enabled {
		resolver = websocket.NewJWTResolver(&cfg.Auth, redisClient)
		glog.Infof("[main]JWT identity resolution is ENABLED")
	} else {
		glog.Infof("[main]JWT identity resolution is DISABLED, all connections are guests")
	}

	clientManager := websocket.NewClientManager(sessionStore, serverID)
	handler := websocket.NewHandler(clientManager, engine, resolver, cfg)

	srv := server.NewServer(
		":"+strconv.Itoa(cfg.Server.Port),
		handler.HandleWebSocket,
		docs,
		time.Duration(cfg.Server.ReadTimeout)*time.Second,
		time.Duration(cfg.Server.WriteTimeout)*time.Second,
	)
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Start()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigChan:
		glog.Infof("[main]shutdown signal received: %s", sig)
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
	defer shutdownCancel()

	var closers []server.Closer
	if messageBroker != nil {
		closers = append(closers, messageBroker)
	}
	srv.Shutdown(shutdownCtx, clientManager, closers...)
	return nil
}
