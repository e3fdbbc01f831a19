package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"tradechains/internal/config"
	"tradechains/internal/logger"
	"tradechains/internal/pipeline"
)

func main() {
	cfgPath := flag.String("config", "", "path to the configuration file")
	serve := flag.Bool("serve", false, "keep running: watch inputs and serve the HTTP API")
	flag.Parse()

	path := *cfgPath
	if path == "" {
		path = os.Getenv("TRADECHAINS_CONFIG")
	}
	if path == "" {
		path = "configs/config.yaml"
	}

	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("loading config failed: %v", err)
	}
	logger.SetLevel(cfg.LogLevel)
	logger.Infof("config loaded from %s", path)

	p, err := pipeline.New(cfg)
	if err != nil {
		log.Fatalf("initializing pipeline failed: %v", err)
	}
	defer p.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *serve {
		err = p.Serve(ctx)
		if errors.Is(err, context.Canceled) {
			err = nil
		}
	} else {
		_, err = p.Run(ctx)
	}
	if err != nil {
		log.Fatalf("run failed: %v", err)
	}
}
