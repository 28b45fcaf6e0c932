package hooks

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// HookManager loads hook definitions from a directory and runs their actions
// when matching events are published on the bus.
type HookManager struct {
	hooksDir       string
	hooks          map[HookEvent][]*Hook
	eventBus       *EventBus
	programs       map[string]*vm.Program
	actionHandlers map[HookAction]ActionHandler
	mu             sync.RWMutex

	watcher     *fsnotify.Watcher
	stopWatcher chan struct{}
	stopOnce    sync.Once
	subscribed  bool
}

// NewHookManager creates a hook manager with the built-in actions registered.
// An empty hooksDir disables file loading.
func NewHookManager(hooksDir string, eventBus *EventBus) *HookManager {
	m := &HookManager{
		hooksDir:       hooksDir,
		hooks:          make(map[HookEvent][]*Hook),
		eventBus:       eventBus,
		programs:       make(map[string]*vm.Program),
		actionHandlers: make(map[HookAction]ActionHandler),
		stopWatcher:    make(chan struct{}),
	}
	RegisterBuiltInActions(m)
	return m
}

// LoadHooks (re)loads every *.yaml / *.yml file of the hooks directory. A missing
// directory yields no hooks.
func (m *HookManager) LoadHooks() error {
	if m.hooksDir == "" {
		return nil
	}
	if _, err := os.Stat(m.hooksDir); os.IsNotExist(err) {
		m.mu.Lock()
		m.hooks = make(map[HookEvent][]*Hook)
		m.mu.Unlock()
		return nil
	}

	newHooks := make(map[HookEvent][]*Hook)
	loaded := 0
	err := filepath.Walk(m.hooksDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !(strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml")) {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			log.Errorf("Failed to read hook file %s: %v", path, err)
			return nil
		}
		var hook Hook
		if err := yaml.Unmarshal(data, &hook); err != nil {
			log.Errorf("Failed to parse hook %s: %v", path, err)
			return nil
		}
		if !hook.Enabled {
			return nil
		}
		if hook.ID == "" {
			hook.ID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		}
		hook.FilePath = path
		newHooks[hook.Event] = append(newHooks[hook.Event], &hook)
		loaded++
		log.Debugf("Loaded hook: %s for event %s", hook.Name, hook.Event)
		return nil
	})
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.hooks = newHooks
	m.programs = make(map[string]*vm.Program)
	m.mu.Unlock()

	log.Infof("Loaded %d hooks for %d event types", loaded, len(newHooks))
	return nil
}

// SubscribeToAllEvents attaches the manager to every dispatcher event. Calling it
// more than once has no effect.
func (m *HookManager) SubscribeToAllEvents() {
	m.mu.Lock()
	if m.subscribed || m.eventBus == nil {
		m.mu.Unlock()
		return
	}
	m.subscribed = true
	m.mu.Unlock()

	for _, evt := range AllEvents {
		m.eventBus.Subscribe(evt, m.handleEvent)
	}
}

func (m *HookManager) handleEvent(ev *EventContext) {
	for _, hook := range m.matching(ev) {
		log.Debugf("Executing hook: %s (Action: %s)", hook.Name, hook.Action)
		go m.executeAction(hook, ev)
	}
}

// Fire runs the actions of every hook matching ev synchronously and returns how
// many ran.
func (m *HookManager) Fire(ev *EventContext) int {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	matched := m.matching(ev)
	for _, hook := range matched {
		m.executeAction(hook, ev)
	}
	return len(matched)
}

func (m *HookManager) matching(ev *EventContext) []*Hook {
	m.mu.RLock()
	hooks := m.hooks[ev.Event]
	m.mu.RUnlock()

	var out []*Hook
	for _, hook := range hooks {
		matches, err := m.evaluateCondition(hook.Condition, ev)
		if err != nil {
			log.Warnf("Failed to evaluate hook condition '%s': %v", hook.Condition, err)
			continue
		}
		if matches {
			out = append(out, hook)
		}
	}
	return out
}

func (m *HookManager) evaluateCondition(condition string, ev *EventContext) (bool, error) {
	if condition == "" || condition == "true" {
		return true, nil
	}

	m.mu.Lock()
	program, exists := m.programs[condition]
	if !exists {
		var err error
		program, err = expr.Compile(condition)
		if err != nil {
			m.mu.Unlock()
			return false, err
		}
		m.programs[condition] = program
	}
	m.mu.Unlock()

	env := map[string]any{
		"Event":     string(ev.Event),
		"Timestamp": ev.Timestamp,
		"SessionID": ev.SessionID,
		"TurnID":    ev.TurnID,
		"AgentID":   ev.AgentID,
		"Intent":    ev.Intent,
		"Reason":    ev.Reason,
		"Data":      ev.Data,
		"Error":     ev.ErrorMessage,
	}

	output, err := expr.Run(program, env)
	if err != nil {
		return false, err
	}
	result, ok := output.(bool)
	if !ok {
		return false, fmt.Errorf("condition did not return boolean")
	}
	return result, nil
}

func (m *HookManager) executeAction(hook *Hook, ev *EventContext) {
	m.mu.RLock()
	handler, exists := m.actionHandlers[hook.Action]
	m.mu.RUnlock()

	if !exists {
		log.Warnf("No handler registered for action: %s", hook.Action)
		return
	}
	if err := handler(hook, ev); err != nil {
		log.Errorf("Action %s failed for hook %s: %v", hook.Action, hook.Name, err)
	}
}

// RegisterAction registers a handler for a specific action type.
func (m *HookManager) RegisterAction(action HookAction, handler ActionHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.actionHandlers[action] = handler
}

// StartWatcher reloads hooks whenever the hooks directory changes.
func (m *HookManager) StartWatcher() error {
	if m.hooksDir == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(m.hooksDir); err != nil {
		_ = watcher.Close()
		return err
	}
	m.watcher = watcher

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
					log.Infof("Hooks directory changed (%s), reloading...", event.Name)
					time.Sleep(100 * time.Millisecond)
					if err := m.LoadHooks(); err != nil {
						log.Errorf("Failed to reload hooks: %v", err)
					}
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Errorf("Hooks watcher error: %v", err)
			case <-m.stopWatcher:
				return
			}
		}
	}()
	return nil
}

// StopWatcher stops the file watcher.
func (m *HookManager) StopWatcher() {
	m.stopOnce.Do(func() {
		close(m.stopWatcher)
		if m.watcher != nil {
			_ = m.watcher.Close()
		}
	})
}

// GetHooks returns all loaded hooks.
func (m *HookManager) GetHooks() []*Hook {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*Hook, 0)
	for _, hooks := range m.hooks {
		result = append(result, hooks...)
	}
	return result
}
