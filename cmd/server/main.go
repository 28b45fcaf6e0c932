// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package main provides the entry point for the dispatch server.
// The server accepts customer messages over HTTP and WebSocket, detects their
// language, classifies their intent and forwards them to the matching agent.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/traylinx/switchAIDispatch/internal/buildinfo"
	"github.com/traylinx/switchAIDispatch/internal/config"
	"github.com/traylinx/switchAIDispatch/internal/logging"
)

var (
	Version           = "dev"
	Commit            = "none"
	BuildDate         = "unknown"
	DefaultConfigPath = "config.yaml"
)

const shutdownTimeout = 15 * time.Second

// init initializes the shared logger setup.
func init() {
	logging.SetupBaseLogger()
	buildinfo.Version = Version
	buildinfo.Commit = Commit
	buildinfo.BuildDate = BuildDate
}

func main() {
	fmt.Printf("switchAIDispatch Version: %s, Commit: %s, BuiltAt: %s\n", buildinfo.Version, buildinfo.Commit, buildinfo.BuildDate)

	var configPath string
	var envPath string
	flag.StringVar(&configPath, "config", DefaultConfigPath, "Configure File Path")
	flag.StringVar(&envPath, "env", ".env", "Environment file loaded before the configuration")
	flag.Parse()

	if len(flag.Args()) > 0 && flag.Arg(0) == "hooks" {
		handleHooksCommand(configPath, flag.Args()[1:])
		return
	}

	// Load environment variables from .env if present.
	if errLoad := godotenv.Load(envPath); errLoad != nil && !errors.Is(errLoad, os.ErrNotExist) {
		log.WithError(errLoad).Warn("failed to load .env file")
	}

	cfg, err := config.LoadConfigOptional(configPath, configPath == DefaultConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logging.SetDebug(cfg.Debug)
	if err = logging.ConfigureLogOutput(cfg.LoggingToFile, logging.DefaultLogDir, cfg.LogMaxSizeMB); err != nil {
		log.Fatalf("failed to configure log output: %v", err)
	}

	if err = run(cfg); err != nil {
		log.Errorf("server stopped: %v", err)
		logging.Close()
		os.Exit(1)
	}
	logging.Close()
}

func run(cfg *config.Config) error {
	app, err := buildApplication(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sessionsDone := make(chan struct{})
	go func() {
		defer close(sessionsDone)
		app.sessions.Run(ctx)
	}()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- app.server.Start()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err = <-serveErr:
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if errStop := app.server.Stop(shutdownCtx); errStop != nil {
		log.Warn(errStop)
	}
	<-sessionsDone
	app.shutdown()
	return err
}
