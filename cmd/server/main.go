// Package main is the entry point for the audio2midi API server
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/james-see/audio2midi/pkg/api"
	"github.com/james-see/audio2midi/pkg/converter/engines"
	"github.com/james-see/audio2midi/pkg/logging"
)

func main() {
	cfg := api.DefaultConfig()
	flag.IntVar(&cfg.Port, "port", cfg.Port, "Server port")
	flag.DurationVar(&cfg.Debounce, "debounce", cfg.Debounce, "Delay before re-decoding after a parameter change")
	flag.DurationVar(&cfg.SessionTTL, "session-ttl", cfg.SessionTTL, "Close sessions idle for this long")
	python := flag.String("python", "", "Python interpreter for the model script")
	scripts := flag.String("scripts", "scripts", "Directory holding the model script")
	model := flag.String("model", "", "Model path passed to the script")
	level := flag.String("log-level", "info", "Log level")
	flag.Parse()

	logger := logging.New(os.Stderr, *level)
	opts := []engines.ScriptOption{engines.WithLogger(logger)}
	if *model != "" {
		opts = append(opts, engines.WithModel(*model))
	}
	engine := engines.NewScriptEngine(engines.NewRunner(*python, *scripts), opts...)
	cfg.Engine = engine
	cfg.Logger = logger

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := engine.Check(ctx); err != nil {
		logger.Warn("model dependencies missing; audio uploads will fail", "err", err)
	}

	fmt.Printf("Starting audio2midi API server on port %d...\n", cfg.Port)
	fmt.Printf("Swagger docs available at http://localhost:%d/swagger/index.html\n", cfg.Port)

	if err := api.StartServer(ctx, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
		os.Exit(1)
	}
}
