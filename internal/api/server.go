// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package api exposes the dispatcher over HTTP and WebSocket using gin.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/traylinx/switchAIDispatch/internal/analytics"
	"github.com/traylinx/switchAIDispatch/internal/interfaces"
)

// maxMessageBytes bounds a single inbound message body or frame.
const maxMessageBytes = 16 << 10

// Dispatcher is the turn surface the API drives.
type Dispatcher interface {
	Submit(ctx context.Context, sessionID, text string) (*interfaces.ResponseEnvelope, error)
}

// Sessions is the lifecycle surface the API drives.
type Sessions interface {
	Start(id string) (string, error)
	End(id string) (analytics.SessionStats, bool)
	Snapshot(id string) (analytics.SessionStats, bool)
	Count() int
}

// Options configure a Server.
type Options struct {
	Host string
	Port int
	// AllowedOrigins restricts WebSocket upgrades. Empty allows any origin.
	AllowedOrigins []string
}

// Server wires the gin engine to a dispatcher and a session manager.
type Server struct {
	engine     *gin.Engine
	httpServer *http.Server
	dispatcher Dispatcher
	sessions   Sessions
	ws         *wsHandler
}

// NewServer builds the engine and registers every route.
func NewServer(opts Options, dispatcher Dispatcher, sessions Sessions) *Server {
	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger(), requestMetrics())

	s := &Server{
		engine:     engine,
		dispatcher: dispatcher,
		sessions:   sessions,
	}
	s.ws = newWSHandler(dispatcher, opts.AllowedOrigins)
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:              net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port)),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.engine.GET("/healthz", s.handleHealth)
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := s.engine.Group("/v1")
	v1.POST("/sessions", s.handleStartSession)
	v1.DELETE("/sessions/:id", s.handleEndSession)
	v1.POST("/sessions/:id/messages", s.handleMessage)
	v1.GET("/sessions/:id/stats", s.handleStats)
	v1.GET("/sessions/:id/ws", s.handleWebSocket)
}

// Handler returns the HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start serves until Stop is called. It returns nil after a graceful stop.
func (s *Server) Start() error {
	log.Infof("dispatch API listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api: serve: %w", err)
	}
	return nil
}

// Stop shuts the server down, waiting for in-flight requests until ctx is done.
func (s *Server) Stop(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("api: shutdown: %w", err)
	}
	return nil
}
