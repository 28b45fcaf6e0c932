// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/traylinx/switchAIDispatch/internal/interfaces"
)

const wsWriteTimeout = 10 * time.Second

// Frame types sent to WebSocket clients.
const (
	frameConnected = "connected"
	frameResponse  = "response"
	frameError     = "error"
)

// wsIncoming is a client frame. Plain text frames are accepted as the message text.
type wsIncoming struct {
	Text string `json:"text"`
}

// wsOutgoing is a server frame.
type wsOutgoing struct {
	Type      string                        `json:"type"`
	SessionID string                        `json:"session_id,omitempty"`
	Response  *interfaces.ResponseEnvelope `json:"response,omitempty"`
	Error     string                        `json:"error,omitempty"`
}

type wsHandler struct {
	dispatcher     Dispatcher
	allowedOrigins map[string]bool
	upgrader       websocket.Upgrader
}

func newWSHandler(dispatcher Dispatcher, allowedOrigins []string) *wsHandler {
	h := &wsHandler{
		dispatcher:     dispatcher,
		allowedOrigins: make(map[string]bool, len(allowedOrigins)),
	}
	for _, o := range allowedOrigins {
		h.allowedOrigins[o] = true
	}
	h.upgrader = websocket.Upgrader{CheckOrigin: h.checkOrigin}
	return h
}

func (h *wsHandler) checkOrigin(r *http.Request) bool {
	if len(h.allowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		// non-browser client
		return true
	}
	return h.allowedOrigins[origin]
}

// serve runs one chat connection: every text frame is submitted as a turn and
// answered with exactly one response or error frame.
func (h *wsHandler) serve(w http.ResponseWriter, r *http.Request, sessionID string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnf("websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxMessageBytes)

	logger := log.WithField("session_id", sessionID)
	if err = h.write(conn, wsOutgoing{Type: frameConnected, SessionID: sessionID}); err != nil {
		logger.Warnf("websocket write failed: %v", err)
		return
	}

	for {
		msgType, payload, errRead := conn.ReadMessage()
		if errRead != nil {
			if websocket.IsUnexpectedCloseError(errRead, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warnf("websocket closed unexpectedly: %v", errRead)
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		text := frameText(payload)
		var out wsOutgoing
		if env, errSubmit := h.dispatcher.Submit(context.Background(), sessionID, text); errSubmit != nil {
			out = wsOutgoing{Type: frameError, SessionID: sessionID, Error: errSubmit.Error()}
		} else {
			out = wsOutgoing{Type: frameResponse, SessionID: sessionID, Response: env}
		}
		if err = h.write(conn, out); err != nil {
			logger.Warnf("websocket write failed: %v", err)
			return
		}
	}
}

// frameText extracts the message text from a JSON frame, or returns the frame as is.
func frameText(payload []byte) string {
	trimmed := strings.TrimSpace(string(payload))
	if strings.HasPrefix(trimmed, "{") {
		var in wsIncoming
		if err := json.Unmarshal(payload, &in); err == nil {
			return in.Text
		}
	}
	return string(payload)
}

func (h *wsHandler) write(conn *websocket.Conn, frame wsOutgoing) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}
