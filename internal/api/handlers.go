// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/traylinx/switchAIDispatch/internal/session"
)

// startSessionRequest is the optional body of POST /v1/sessions.
type startSessionRequest struct {
	SessionID string `json:"session_id"`
}

// messageRequest is the body of POST /v1/sessions/:id/messages.
type messageRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":          "ok",
		"active_sessions": s.sessions.Count(),
	})
}

func (s *Server) handleStartSession(c *gin.Context) {
	var req startSessionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
			return
		}
	}

	id, err := s.sessions.Start(req.SessionID)
	switch {
	case errors.Is(err, session.ErrSessionExists):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	case errors.Is(err, session.ErrInvalidID):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"session_id": id})
}

func (s *Server) handleEndSession(c *gin.Context) {
	stats, ok := s.sessions.End(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) handleStats(c *gin.Context) {
	stats, ok := s.sessions.Snapshot(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) handleMessage(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxMessageBytes)

	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "body must be JSON with a text field"})
		return
	}
	env, err := s.dispatcher.Submit(c.Request.Context(), c.Param("id"), req.Text)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, session.ErrInvalidID) {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, env)
}

func (s *Server) handleWebSocket(c *gin.Context) {
	s.ws.serve(c.Writer, c.Request, c.Param("id"))
}
