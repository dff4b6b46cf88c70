// Command backend tails the activity channel published by syncscribe
// instances and logs one line per event.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/docopt/docopt-go"
	"github.com/go-redis/redis/v8"
	"github.com/golang/glog"

	"github.com/Dhanush010/Syncscribe/broker"
	"github.com/Dhanush010/Syncscribe/config"
	"github.com/Dhanush010/Syncscribe/services"
)

func main() {
	usage := `Syncscribe activity tail.

Usage:
    backend [--env=<env>] [--doc=<doc_id>]
    backend -h | --help

Options:
    -h --help          Show this screen.
    --env=<env>        Config profile [default: dev].
    --doc=<doc_id>     Only print events for this document.`

	opts, err := docopt.ParseArgs(usage, os.Args[1:], "")
	if err != nil {
		panic(err)
	}
	flag.Set("logtostderr", "true")
	defer glog.Flush()

	env, _ := opts.String("--env")
	onlyDoc, _ := opts.String("--doc")

	if err := config.Initialize(env); err != nil {
		glog.Fatalf("[backend]failed to initialize config: %v", err)
	}
	cfg := config.Get()

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = services.NewRedisClient(cfg.Redis)
		if err != nil {
			glog.Fatalf("[backend]%v", err)
		}
		defer services.CloseRedisClient(redisClient)
	}

	messageBroker, channel, err := broker.Open(cfg.Broker, redisClient)
	if err != nil {
		glog.Fatalf("[backend]%v", err)
	}
	if messageBroker == nil {
		glog.Fatalf("[backend]broker.type is none, nothing to tail")
	}
	defer messageBroker.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	messages, err := messageBroker.Subscribe(ctx, channel)
	if err != nil {
		glog.Fatalf("[backend]failed to subscribe to %s: %v", channel, err)
	}
	glog.Infof("[backend]tailing %s %q", messageBroker.Type(), channel)

	counts := map[string]int{}
	for m := range messages {
		if onlyDoc != "" && m.DocumentID != onlyDoc {
			continue
		}
		counts[m.DocumentID]++
		glog.Infof("[backend]%s doc=%s kind=%s user=%q conn=%s server=%s n=%d",
			m.Timestamp.Format("15:04:05.000"), m.DocumentID, m.Kind, m.UserID, m.ConnectionID, m.ServerID, counts[m.DocumentID])
	}
	glog.Infof("[backend]activity channel closed")
}
