package hooks

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	log "github.com/sirupsen/logrus"
)

// RegisterBuiltInActions registers the default action handlers.
func RegisterBuiltInActions(m *HookManager) {
	m.RegisterAction(ActionLogWarning, handleLogWarning)
	wh := NewWebhookHandler()
	m.RegisterAction(ActionNotifyWebhook, wh.Handle)
}

func handleLogWarning(hook *Hook, ev *EventContext) error {
	msg, _ := hook.Params["message"].(string)
	if msg == "" {
		msg = "Hook triggered"
	}
	log.WithFields(log.Fields{
		"session_id": ev.SessionID,
		"request_id": ev.TurnID,
	}).Warnf("[Hook: %s] %s (Event: %s)", hook.Name, msg, ev.Event)
	return nil
}

// WebhookHandler posts events to HTTP endpoints with signing, retries and a
// per-URL rate limit of ten calls per minute.
type WebhookHandler struct {
	mu           sync.Mutex
	rateLimiters map[string]*rateLimiter
	client       *http.Client
	backoff      []time.Duration
}

type rateLimiter struct {
	count    int
	lastTime time.Time
}

// NewWebhookHandler creates a webhook handler.
func NewWebhookHandler() *WebhookHandler {
	return &WebhookHandler{
		rateLimiters: make(map[string]*rateLimiter),
		client:       &http.Client{Timeout: 5 * time.Second},
		backoff:      []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second},
	}
}

func allowedWebhookURL(url string) bool {
	return strings.HasPrefix(url, "https://") ||
		strings.HasPrefix(url, "http://localhost") ||
		strings.HasPrefix(url, "http://127.0.0.1")
}

// Handle implements ActionHandler.
func (h *WebhookHandler) Handle(hook *Hook, ev *EventContext) error {
	url, _ := hook.Params["url"].(string)
	if url == "" {
		return fmt.Errorf("missing webhook url")
	}
	if !allowedWebhookURL(url) {
		return fmt.Errorf("insecure webhook url (must be https or localhost): %s", url)
	}
	if !h.checkRateLimit(url) {
		return fmt.Errorf("rate limit exceeded for webhook: %s", url)
	}

	body, err := json.Marshal(struct {
		HookID string `json:"hook_id"`
		*EventContext
	}{HookID: hook.ID, EventContext: ev})
	if err != nil {
		return err
	}

	var signature string
	if secret, _ := hook.Params["secret"].(string); secret != "" {
		mac := hmac.New(sha256.New, []byte(secret))
		mac.Write(body)
		signature = "sha256=" + hex.EncodeToString(mac.Sum(nil))
	}

	var lastErr error
	for i := 0; i <= len(h.backoff); i++ {
		if i > 0 {
			time.Sleep(h.backoff[i-1])
		}
		if lastErr = h.post(url, body, signature); lastErr == nil {
			return nil
		}
		log.Warnf("Webhook attempt %d failed: %v", i+1, lastErr)
	}
	return fmt.Errorf("webhook failed after retries: %w", lastErr)
}

func (h *WebhookHandler) post(url string, body []byte, signature string) error {
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "switchAIDispatch-Hooks/1.0")
	if signature != "" {
		req.Header.Set("X-Hook-Signature", signature)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

func (h *WebhookHandler) checkRateLimit(url string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := time.Now()
	limiter, exists := h.rateLimiters[url]
	if !exists {
		limiter = &rateLimiter{lastTime: now}
		h.rateLimiters[url] = limiter
	}
	if now.Sub(limiter.lastTime) > time.Minute {
		limiter.count = 0
		limiter.lastTime = now
	}
	if limiter.count >= 10 {
		return false
	}
	limiter.count++
	return true
}
