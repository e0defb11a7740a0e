package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"eegstream/internal/config"
	"eegstream/internal/engine"
	"eegstream/internal/logging"

	_ "eegstream/sink/kafka"
	_ "eegstream/sink/stdout"
	_ "eegstream/source/replay"
	_ "eegstream/source/synth"
)

func main() {
	cfgPath := flag.String("config", "session.yml", "session config file")
	id := flag.String("id", "", "override the session id")
	flag.Parse()

	logging.InitFromEnv()

	sess, err := config.Load(*cfgPath)
	if err != nil {
		logging.L().Error("config", "err", err)
		os.Exit(1)
	}
	if *id != "" {
		sess.ID = strings.ReplaceAll(*id, " ", "_")
	}
	if sess.Log.Level != "" || sess.Log.JSON {
		logging.Configure(logging.Options{Level: sess.Log.Level, JSON: sess.Log.JSON})
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	e, err := engine.Bootstrap(sess)
	if err != nil {
		logging.L().Error("bootstrap", "err", err)
		os.Exit(1)
	}

	if err := e.Run(ctx); err != nil {
		logging.L().Error("session failed", "err", err)
		os.Exit(1)
	}
}
