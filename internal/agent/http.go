// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package agent

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/goccy/go-json"
	"github.com/tidwall/gjson"
)

// maxAgentResponseBytes bounds how much of a remote agent's reply is read.
const maxAgentResponseBytes = 1 << 20

// HTTPAgent forwards the query as JSON to a remote agent endpoint.
// The reply is either a JSON object with an "answer" field or a plain text body.
type HTTPAgent struct {
	endpoint string
	headers  map[string]string
	client   *http.Client
}

// NewHTTPAgent creates an HTTP agent. client may be nil.
func NewHTTPAgent(endpoint string, headers map[string]string, client *http.Client) (*HTTPAgent, error) {
	endpoint = strings.TrimSpace(endpoint)
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		return nil, fmt.Errorf("agent: invalid endpoint %q", endpoint)
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPAgent{endpoint: endpoint, headers: headers, client: client}, nil
}

// Answer implements Agent.
func (h *HTTPAgent) Answer(ctx context.Context, q Query) (string, error) {
	body, err := json.Marshal(q)
	if err != nil {
		return "", fmt.Errorf("encode query: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range h.headers {
		req.Header.Set(k, v)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAgentResponseBytes))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("agent endpoint returned status %d", resp.StatusCode)
	}

	if gjson.ValidBytes(data) {
		parsed := gjson.ParseBytes(data)
		if parsed.IsObject() {
			return parsed.Get("answer").String(), nil
		}
	}
	return string(data), nil
}
