// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package provider implements a small client for OpenAI-compatible chat completion
// endpoints. Language detection, translation, intent classification and LLM-backed
// agents all go through it.
package provider

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// ErrEmptyCompletion is returned when the provider answers without content.
var ErrEmptyCompletion = errors.New("provider: empty completion")

// StatusError carries a non-2xx upstream response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("provider: upstream status %d: %s", e.Code, summarize(e.Body, 256))
}

// Config configures a Client.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	// OAuth2, when TokenURL is set, replaces the static API key with a
	// client-credentials token source.
	OAuth2 OAuth2Config
	// HTTPClient overrides the transport; used by tests.
	HTTPClient *http.Client
}

// OAuth2Config holds client-credentials settings.
type OAuth2Config struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
}

// Message is one chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Completer is the text-in/text-out surface other packages depend on.
type Completer interface {
	Complete(ctx context.Context, messages []Message) (string, error)
}

// Client calls POST {BaseURL}/chat/completions.
type Client struct {
	cfg  Config
	http *http.Client
}

// NewClient validates cfg and builds the HTTP client.
func NewClient(cfg Config) (*Client, error) {
	cfg.BaseURL = strings.TrimSuffix(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		return nil, errors.New("provider: base url is required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, errors.New("provider: model is required")
	}
	base := cfg.HTTPClient
	if base == nil {
		base = &http.Client{Timeout: 60 * time.Second}
	}
	httpClient := base
	if cfg.OAuth2.TokenURL != "" {
		cc := &clientcredentials.Config{
			ClientID:     cfg.OAuth2.ClientID,
			ClientSecret: cfg.OAuth2.ClientSecret,
			TokenURL:     cfg.OAuth2.TokenURL,
			Scopes:       cfg.OAuth2.Scopes,
		}
		tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
		httpClient = cc.Client(tokenCtx)
	}
	return &Client{cfg: cfg, http: httpClient}, nil
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.cfg.Model }

// Complete sends messages and returns the first choice's content.
func (c *Client) Complete(ctx context.Context, messages []Message) (string, error) {
	payload, err := c.buildPayload(messages)
	if err != nil {
		return "", err
	}

	url := c.cfg.BaseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("provider: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "switchai-dispatch")
	if c.cfg.APIKey != "" && c.cfg.OAuth2.TokenURL == "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("provider: request failed: %w", err)
	}
	defer func() {
		if errClose := resp.Body.Close(); errClose != nil {
			log.Errorf("provider: close response body error: %v", errClose)
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("provider: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Debugf("provider error status: %d, body: %s", resp.StatusCode, summarize(string(body), 512))
		return "", &StatusError{Code: resp.StatusCode, Body: string(body)}
	}

	content := strings.TrimSpace(gjson.GetBytes(body, "choices.0.message.content").String())
	if content == "" {
		return "", ErrEmptyCompletion
	}
	return content, nil
}

func (c *Client) buildPayload(messages []Message) ([]byte, error) {
	payload := []byte(`{"messages":[]}`)
	var err error
	if payload, err = sjson.SetBytes(payload, "model", c.cfg.Model); err != nil {
		return nil, fmt.Errorf("provider: set model: %w", err)
	}
	if payload, err = sjson.SetBytes(payload, "temperature", c.cfg.Temperature); err != nil {
		return nil, fmt.Errorf("provider: set temperature: %w", err)
	}
	for _, m := range messages {
		if payload, err = sjson.SetBytes(payload, "messages.-1", m); err != nil {
			return nil, fmt.Errorf("provider: append message: %w", err)
		}
	}
	return payload, nil
}

// Ask is a convenience for a single system + user exchange.
func Ask(ctx context.Context, c Completer, system, user string) (string, error) {
	msgs := make([]Message, 0, 2)
	if system != "" {
		msgs = append(msgs, Message{Role: "system", Content: system})
	}
	msgs = append(msgs, Message{Role: "user", Content: user})
	return c.Complete(ctx, msgs)
}

// ExtractJSONObject returns the outermost {...} span of s, tolerating code fences
// and prose around a model's JSON answer.
func ExtractJSONObject(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}

func summarize(s string, limit int) string {
	s = strings.TrimSpace(s)
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
