// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package routing

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// maxRulesFileSize guards against oversized rule files.
const maxRulesFileSize = 1 << 20

// Rule overrides the agent for direct matches whose condition holds.
type Rule struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	// Condition is an expr-lang expression over RuleEnv, e.g.
	// `Intent == "FlightDisruption" && Language == "es"`.
	Condition string `yaml:"condition" json:"condition"`
	Agent     string `yaml:"agent" json:"agent"`
	Priority  int    `yaml:"priority" json:"priority"`

	program *vm.Program
}

type rulesFile struct {
	Rules []Rule `yaml:"rules"`
}

// RuleEnv is the environment rule conditions are evaluated against.
type RuleEnv struct {
	Intent             string
	Language           string
	LanguageConfidence float64
	Confidence         float64
	SessionID          string
	Hour               int
	DayOfWeek          string
}

// NewRuleEnv fills the time fields from now.
func NewRuleEnv(d Decision, language string, languageConfidence, confidence float64, sessionID string, now time.Time) RuleEnv {
	return RuleEnv{
		Intent:             d.Intent.String(),
		Language:           language,
		LanguageConfidence: languageConfidence,
		Confidence:         confidence,
		SessionID:          sessionID,
		Hour:               now.Hour(),
		DayOfWeek:          now.Weekday().String()[:3],
	}
}

// RuleSet holds override rules loaded from a YAML file, optionally hot reloaded.
type RuleSet struct {
	path  string
	known func(agentID string) bool

	mu    sync.RWMutex
	rules []*Rule

	watcher     *fsnotify.Watcher
	stopWatcher chan struct{}
	stopOnce    sync.Once
}

// NewRuleSet creates a rule set backed by path. known reports whether an agent id is
// registered; rules pointing at unknown agents are dropped on load. A nil known
// accepts every id.
func NewRuleSet(path string, known func(agentID string) bool) *RuleSet {
	if known == nil {
		known = func(string) bool { return true }
	}
	return &RuleSet{
		path:        path,
		known:       known,
		stopWatcher: make(chan struct{}),
	}
}

// Load reads and compiles the rules file. A missing file yields an empty set.
// Invalid rules are skipped with a warning; the previous rules stay active if the
// file itself cannot be parsed.
func (s *RuleSet) Load() error {
	if s.path == "" {
		return nil
	}
	info, err := os.Stat(s.path)
	if os.IsNotExist(err) {
		s.mu.Lock()
		s.rules = nil
		s.mu.Unlock()
		return nil
	}
	if err != nil {
		return fmt.Errorf("routing: stat rules file: %w", err)
	}
	if info.Size() > maxRulesFileSize {
		return fmt.Errorf("routing: rules file %s exceeds %d bytes", s.path, maxRulesFileSize)
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("routing: read rules file: %w", err)
	}
	var file rulesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("routing: parse rules file: %w", err)
	}

	compiled := make([]*Rule, 0, len(file.Rules))
	for i := range file.Rules {
		rule := file.Rules[i]
		if rule.Agent == "" || !s.known(rule.Agent) {
			log.Warnf("routing rule %q skipped: unknown agent %q", rule.Name, rule.Agent)
			continue
		}
		program, err := compileCondition(rule.Condition)
		if err != nil {
			log.Warnf("routing rule %q skipped: %v", rule.Name, err)
			continue
		}
		rule.program = program
		compiled = append(compiled, &rule)
	}
	sort.SliceStable(compiled, func(i, j int) bool {
		return compiled[i].Priority > compiled[j].Priority
	})

	s.mu.Lock()
	s.rules = compiled
	s.mu.Unlock()
	log.Infof("loaded %d routing rules from %s", len(compiled), s.path)
	return nil
}

func compileCondition(condition string) (*vm.Program, error) {
	if condition == "" {
		condition = "true"
	}
	program, err := expr.Compile(condition, expr.Env(RuleEnv{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile condition %q: %w", condition, err)
	}
	return program, nil
}

// Rules returns a copy of the active rules in evaluation order.
func (s *RuleSet) Rules() []Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Rule, len(s.rules))
	for i, r := range s.rules {
		out[i] = *r
	}
	return out
}

// Match returns the first rule whose condition holds for env.
func (s *RuleSet) Match(env RuleEnv) (Rule, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rule := range s.rules {
		out, err := expr.Run(rule.program, env)
		if err != nil {
			log.Warnf("routing rule %q evaluation failed: %v", rule.Name, err)
			continue
		}
		if ok, _ := out.(bool); ok {
			return *rule, true
		}
	}
	return Rule{}, false
}

// Apply overrides the agent of a direct-match decision when a rule matches.
// Fallback decisions are returned unchanged.
func (s *RuleSet) Apply(d Decision, env RuleEnv) Decision {
	if s == nil || d.Reason != ReasonDirectMatch {
		return d
	}
	rule, ok := s.Match(env)
	if !ok {
		return d
	}
	d.AgentID = rule.Agent
	d.Rule = rule.Name
	return d
}

// StartWatcher reloads the rules whenever the file changes. The parent directory
// is watched so that editors replacing the file are noticed.
func (s *RuleSet) StartWatcher() error {
	if s.path == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		_ = watcher.Close()
		return err
	}
	s.watcher = watcher
	target := filepath.Clean(s.path)

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
					log.Infof("routing rules changed (%s), reloading", event.Name)
					time.Sleep(100 * time.Millisecond)
					if err := s.Load(); err != nil {
						log.Errorf("failed to reload routing rules: %v", err)
					}
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Errorf("routing rules watcher error: %v", err)
			case <-s.stopWatcher:
				return
			}
		}
	}()
	return nil
}

// Close stops the watcher if one is running.
func (s *RuleSet) Close() {
	s.stopOnce.Do(func() {
		close(s.stopWatcher)
		if s.watcher != nil {
			_ = s.watcher.Close()
		}
	})
}
