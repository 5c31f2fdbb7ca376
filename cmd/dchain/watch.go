package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/Jovells/dchain/pkg/events"
)

// runWatchCmd prints events published on the Redis channel as JSON lines.
func runWatchCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("watch", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	configPath := cmd.String("config", "", "YAML config file (environment overrides it)")
	channel := cmd.String("channel", "", "Pub/sub channel (default: events_redis_channel or "+events.DefaultRedisChannel+")")
	count := cmd.Int("count", 0, "Exit after this many events (0 = until interrupted)")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if cfg.RedisAddr == "" {
		fmt.Fprintln(stderr, "Error: REDIS_ADDR is required to watch events")
		return 1
	}
	if *channel == "" {
		*channel = cfg.EventsRedisChannel
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	rdb := newRedisClient(cfg)
	defer func() { _ = rdb.Close() }()

	enc := json.NewEncoder(stdout)
	seen := 0
	err = events.NewRedisPublisher(rdb, *channel).Subscribe(ctx, func(e events.Event) {
		if err := enc.Encode(e); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
		}
		seen++
		if *count > 0 && seen >= *count {
			cancel()
		}
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
