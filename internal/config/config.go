// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package config provides configuration management for the dispatch server.
// It handles loading and parsing the YAML configuration file and exposes
// structured access to server, language, classifier, routing, agent and
// session settings.
package config

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables that override file values.
const (
	EnvLLMAPIKey = "SWITCHAI_DISPATCH_LLM_API_KEY"
	EnvPort      = "SWITCHAI_DISPATCH_PORT"
)

// Agent kinds.
const (
	AgentKindStatic = "static"
	AgentKindHTTP   = "http"
	AgentKindLLM    = "llm"
)

// Classifier modes.
const (
	ClassifierReflex    = "reflex"
	ClassifierCognitive = "cognitive"
	ClassifierTiered    = "tiered"
)

// Detector backends.
const (
	DetectorLocal  = "local"
	DetectorRemote = "remote"
)

// Config represents the application's configuration, loaded from a YAML file.
type Config struct {
	// Host is the network host/interface on which the API server will bind.
	// Empty binds all interfaces.
	Host string `yaml:"host" json:"-"`
	// Port is the network port on which the API server will listen.
	Port int `yaml:"port" json:"-"`

	// Debug enables debug-level logging and gin debug mode.
	Debug bool `yaml:"debug" json:"debug"`

	// LoggingToFile controls whether application logs are written to rotating files or stdout.
	LoggingToFile bool `yaml:"logging-to-file" json:"logging-to-file"`

	// LogMaxSizeMB is the size at which the main log file is rotated.
	LogMaxSizeMB int `yaml:"log-max-size-mb" json:"log-max-size-mb"`

	// HooksDir holds hook definitions. Empty disables hooks.
	HooksDir string `yaml:"hooks-dir" json:"hooks-dir"`

	Dispatch   DispatchConfig   `yaml:"dispatch" json:"dispatch"`
	Language   LanguageConfig   `yaml:"language" json:"language"`
	Classifier ClassifierConfig `yaml:"classifier" json:"classifier"`
	Routing    RoutingConfig    `yaml:"routing" json:"routing"`
	Agents     []AgentConfig    `yaml:"agents" json:"agents"`
	Providers  ProvidersConfig  `yaml:"providers" json:"providers"`
	Sessions   SessionsConfig   `yaml:"sessions" json:"sessions"`
}

// DispatchConfig holds the per-turn policy.
type DispatchConfig struct {
	// ConfidenceThreshold below which the classified intent is not trusted.
	ConfidenceThreshold float64 `yaml:"confidence-threshold" json:"confidence-threshold"`
	// MaxFallbackAttempts caps how many fallback agents are tried after the matched one fails.
	MaxFallbackAttempts int `yaml:"max-fallback-attempts" json:"max-fallback-attempts"`
	// FallbackAgents is the ordered fallback chain. Empty means the routing fallback only.
	FallbackAgents []string       `yaml:"fallback-agents" json:"fallback-agents"`
	ApologyMessage string         `yaml:"apology-message" json:"apology-message"`
	Timeouts       TimeoutsConfig `yaml:"timeouts" json:"timeouts"`
}

// TimeoutsConfig holds per-stage deadlines in milliseconds.
type TimeoutsConfig struct {
	LanguageMs  int `yaml:"language-ms" json:"language-ms"`
	TranslateMs int `yaml:"translate-ms" json:"translate-ms"`
	ClassifyMs  int `yaml:"classify-ms" json:"classify-ms"`
	AgentMs     int `yaml:"agent-ms" json:"agent-ms"`
}

// Language returns the detection deadline.
func (t TimeoutsConfig) Language() time.Duration { return ms(t.LanguageMs) }

// Translate returns the translation deadline.
func (t TimeoutsConfig) Translate() time.Duration { return ms(t.TranslateMs) }

// Classify returns the classification deadline.
func (t TimeoutsConfig) Classify() time.Duration { return ms(t.ClassifyMs) }

// Agent returns the per-agent deadline.
func (t TimeoutsConfig) Agent() time.Duration { return ms(t.AgentMs) }

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

// LanguageConfig configures detection and translation.
type LanguageConfig struct {
	Default       string   `yaml:"default" json:"default"`
	Working       string   `yaml:"working" json:"working"`
	Supported     []string `yaml:"supported" json:"supported"`
	MinConfidence float64  `yaml:"min-confidence" json:"min-confidence"`
	// Detector selects the backend: local (lingua) or remote (LLM provider).
	Detector string `yaml:"detector" json:"detector"`
	// TranslationCacheSize bounds the translation LRU. Zero disables caching.
	TranslationCacheSize int `yaml:"translation-cache-size" json:"translation-cache-size"`
}

// ClassifierConfig configures intent classification.
type ClassifierConfig struct {
	// Mode is reflex, cognitive or tiered.
	Mode string `yaml:"mode" json:"mode"`
	// ReflexAccept is the reflex confidence at which tiered mode skips the LLM.
	ReflexAccept float64 `yaml:"reflex-accept" json:"reflex-accept"`
	// LexiconFile overrides the built-in reflex lexicon.
	LexiconFile string `yaml:"lexicon-file" json:"lexicon-file"`
	// CognitiveTimeoutMs bounds the LLM tier in tiered mode. It must stay below
	// dispatch.timeouts.classify-ms so a slow LLM leaves time to keep the reflex result.
	CognitiveTimeoutMs int `yaml:"cognitive-timeout-ms" json:"cognitive-timeout-ms"`
}

// CognitiveTimeout returns the LLM tier deadline used in tiered mode.
func (c ClassifierConfig) CognitiveTimeout() time.Duration { return ms(c.CognitiveTimeoutMs) }

// RoutingConfig holds the intent to agent table.
type RoutingConfig struct {
	Fallback string `yaml:"fallback" json:"fallback"`
	// Table maps intent labels to agent ids.
	Table map[string]string `yaml:"table" json:"table"`
	// RulesFile holds hot-reloaded override rules. Empty disables rules.
	RulesFile string `yaml:"rules-file" json:"rules-file"`
}

// AgentConfig declares one answering agent.
type AgentConfig struct {
	ID   string `yaml:"id" json:"id"`
	Kind string `yaml:"kind" json:"kind"`

	// Answer is the canned reply of a static agent.
	Answer string `yaml:"answer" json:"answer,omitempty"`

	// Endpoint and Headers configure an http agent.
	Endpoint string            `yaml:"endpoint" json:"endpoint,omitempty"`
	Headers  map[string]string `yaml:"headers" json:"headers,omitempty"`

	// SystemPrompt, KnowledgeFile and TopK configure an llm agent.
	SystemPrompt  string `yaml:"system-prompt" json:"system-prompt,omitempty"`
	KnowledgeFile string `yaml:"knowledge-file" json:"knowledge-file,omitempty"`
	TopK          int    `yaml:"top-k" json:"top-k,omitempty"`
}

// ProvidersConfig groups upstream model providers.
type ProvidersConfig struct {
	LLM LLMProvider `yaml:"llm" json:"llm"`
}

// LLMProvider configures the OpenAI-compatible chat endpoint.
type LLMProvider struct {
	BaseURL     string       `yaml:"base-url" json:"base-url"`
	APIKey      string       `yaml:"api-key" json:"-"`
	Model       string       `yaml:"model" json:"model"`
	Temperature float64      `yaml:"temperature" json:"temperature"`
	OAuth2      OAuth2Config `yaml:"oauth2" json:"oauth2"`
}

// Enabled reports whether the provider is usable.
func (p LLMProvider) Enabled() bool {
	return p.BaseURL != "" && p.Model != ""
}

// OAuth2Config holds client-credentials settings.
type OAuth2Config struct {
	TokenURL     string   `yaml:"token-url" json:"token-url"`
	ClientID     string   `yaml:"client-id" json:"client-id"`
	ClientSecret string   `yaml:"client-secret" json:"-"`
	Scopes       []string `yaml:"scopes" json:"scopes"`
}

// SessionsConfig controls session lifetime.
type SessionsConfig struct {
	IdleTimeoutSeconds int `yaml:"idle-timeout-seconds" json:"idle-timeout-seconds"`
}

// IdleTimeout returns the idle timeout as a duration.
func (s SessionsConfig) IdleTimeout() time.Duration {
	return time.Duration(s.IdleTimeoutSeconds) * time.Second
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (cfg *Config) applyDefaults() {
	cfg.Host = ""
	cfg.Port = 8320
	cfg.LogMaxSizeMB = 10
	cfg.Dispatch.ConfidenceThreshold = 0.5
	cfg.Dispatch.MaxFallbackAttempts = 1
	cfg.Dispatch.ApologyMessage = "Sorry, we could not process your request right now. Please try again in a moment."
	cfg.Dispatch.Timeouts = TimeoutsConfig{LanguageMs: 2000, TranslateMs: 4000, ClassifyMs: 5000, AgentMs: 15000}
	cfg.Language.Default = "en"
	cfg.Language.Working = "en"
	cfg.Language.MinConfidence = 0.5
	cfg.Language.Detector = DetectorLocal
	cfg.Language.TranslationCacheSize = 1024
	cfg.Classifier.Mode = ClassifierReflex
	cfg.Classifier.ReflexAccept = 0.85
	cfg.Classifier.CognitiveTimeoutMs = 4000
	cfg.Sessions.IdleTimeoutSeconds = 1800
}

// LoadConfig reads a YAML configuration file from the given path,
// unmarshals it into a Config struct and applies environment overrides.
//
// Parameters:
//   - configFile: The path to the YAML configuration file
//
// Returns:
//   - *Config: The loaded configuration
//   - error: An error if the configuration could not be loaded
func LoadConfig(configFile string) (*Config, error) {
	return LoadConfigOptional(configFile, false)
}

// LoadConfigOptional reads YAML from configFile.
// If optional is true and the file is missing or empty, it returns the defaults.
func LoadConfigOptional(configFile string, optional bool) (*Config, error) {
	data, err := os.ReadFile(configFile)
	if err != nil {
		if optional && (os.IsNotExist(err) || errors.Is(err, syscall.EISDIR)) {
			cfg := Default()
			cfg.applyEnv()
			return cfg, cfg.Validate()
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Set defaults before unmarshal so that absent keys keep defaults.
	cfg := Default()
	if len(strings.TrimSpace(string(data))) > 0 {
		if err = yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnv()
	cfg.SanitizeDispatch()
	cfg.SanitizeLanguage()
	cfg.SanitizeAgents()
	cfg.SanitizeProviders()

	if err = cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Config) applyEnv() {
	if v := strings.TrimSpace(os.Getenv(EnvLLMAPIKey)); v != "" {
		cfg.Providers.LLM.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvPort)); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Port = port
		}
	}
}

// SanitizeDispatch clamps the turn policy into its valid ranges.
func (cfg *Config) SanitizeDispatch() {
	d := &cfg.Dispatch
	if d.MaxFallbackAttempts < 0 {
		d.MaxFallbackAttempts = 0
	}
	d.ApologyMessage = strings.TrimSpace(d.ApologyMessage)
	d.FallbackAgents = normalizeIDs(d.FallbackAgents)
	if cfg.LogMaxSizeMB <= 0 {
		cfg.LogMaxSizeMB = 10
	}
}

// SanitizeLanguage lowercases language codes and drops blanks.
func (cfg *Config) SanitizeLanguage() {
	l := &cfg.Language
	l.Default = strings.ToLower(strings.TrimSpace(l.Default))
	l.Working = strings.ToLower(strings.TrimSpace(l.Working))
	out := make([]string, 0, len(l.Supported))
	for _, code := range l.Supported {
		code = strings.ToLower(strings.TrimSpace(code))
		if code != "" {
			out = append(out, code)
		}
	}
	l.Supported = out
	l.Detector = strings.ToLower(strings.TrimSpace(l.Detector))
	if l.Detector == "" {
		l.Detector = DetectorLocal
	}
	if l.TranslationCacheSize < 0 {
		l.TranslationCacheSize = 0
	}
}

// SanitizeAgents trims agent entries, normalizes headers and drops entries
// without an id.
func (cfg *Config) SanitizeAgents() {
	if len(cfg.Agents) == 0 {
		return
	}
	out := make([]AgentConfig, 0, len(cfg.Agents))
	for i := range cfg.Agents {
		a := cfg.Agents[i]
		a.ID = strings.TrimSpace(a.ID)
		a.Kind = strings.ToLower(strings.TrimSpace(a.Kind))
		a.Endpoint = strings.TrimSpace(a.Endpoint)
		a.Headers = NormalizeHeaders(a.Headers)
		if a.ID == "" {
			continue
		}
		if a.Kind == "" {
			a.Kind = AgentKindStatic
		}
		out = append(out, a)
	}
	cfg.Agents = out
}

// SanitizeProviders trims provider settings.
func (cfg *Config) SanitizeProviders() {
	p := &cfg.Providers.LLM
	p.BaseURL = strings.TrimSuffix(strings.TrimSpace(p.BaseURL), "/")
	p.APIKey = strings.TrimSpace(p.APIKey)
	p.Model = strings.TrimSpace(p.Model)
}

// Validate reports the first setting that cannot be served.
func (cfg *Config) Validate() error {
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return fmt.Errorf("config: port %d out of range", cfg.Port)
	}
	if t := cfg.Dispatch.ConfidenceThreshold; t < 0 || t > 1 {
		return fmt.Errorf("config: dispatch.confidence-threshold %v must be within [0,1]", t)
	}
	switch cfg.Classifier.Mode {
	case ClassifierReflex:
	case ClassifierCognitive, ClassifierTiered:
		if !cfg.Providers.LLM.Enabled() {
			return fmt.Errorf("config: classifier mode %q requires providers.llm", cfg.Classifier.Mode)
		}
		if cfg.Classifier.Mode == ClassifierTiered {
			cognitive, classify := cfg.Classifier.CognitiveTimeoutMs, cfg.Dispatch.Timeouts.ClassifyMs
			if cognitive <= 0 || (classify > 0 && cognitive >= classify) {
				return fmt.Errorf("config: classifier.cognitive-timeout-ms %d must be positive and below dispatch.timeouts.classify-ms %d", cognitive, classify)
			}
		}
	default:
		return fmt.Errorf("config: unknown classifier mode %q", cfg.Classifier.Mode)
	}
	switch cfg.Language.Detector {
	case DetectorLocal:
	case DetectorRemote:
		if !cfg.Providers.LLM.Enabled() {
			return errors.New("config: remote language detector requires providers.llm")
		}
	default:
		return fmt.Errorf("config: unknown language detector %q", cfg.Language.Detector)
	}
	seen := make(map[string]struct{}, len(cfg.Agents))
	for _, a := range cfg.Agents {
		if _, dup := seen[a.ID]; dup {
			return fmt.Errorf("config: duplicate agent id %q", a.ID)
		}
		seen[a.ID] = struct{}{}
		switch a.Kind {
		case AgentKindStatic:
		case AgentKindHTTP:
			if a.Endpoint == "" {
				return fmt.Errorf("config: http agent %q requires an endpoint", a.ID)
			}
		case AgentKindLLM:
			if !cfg.Providers.LLM.Enabled() {
				return fmt.Errorf("config: llm agent %q requires providers.llm", a.ID)
			}
		default:
			return fmt.Errorf("config: agent %q has unknown kind %q", a.ID, a.Kind)
		}
	}
	return nil
}

// NormalizeHeaders trims header keys and values, canonicalizes keys and drops blanks.
func NormalizeHeaders(headers map[string]string) map[string]string {
	if len(headers) == 0 {
		return nil
	}
	clean := make(map[string]string, len(headers))
	for k, v := range headers {
		key := strings.TrimSpace(k)
		val := strings.TrimSpace(v)
		if key == "" || val == "" {
			continue
		}
		clean[http.CanonicalHeaderKey(key)] = val
	}
	if len(clean) == 0 {
		return nil
	}
	return clean
}

func normalizeIDs(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
