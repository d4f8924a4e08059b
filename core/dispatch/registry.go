package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/m3rciful/onboardbot/core/event"
	"github.com/m3rciful/onboardbot/core/logger"
	"github.com/m3rciful/onboardbot/core/user"
)

// Request is what a post-registration handler receives.
type Request struct {
	Event  event.InboundEvent
	Record user.Record
	// Args holds the text after a command name.
	Args string
}

// HandlerFunc answers one request with a prompt. An empty prompt sends nothing.
type HandlerFunc func(ctx context.Context, req Request) (event.Prompt, error)

// Command represents a bot command with its handler, description, and metadata.
type Command struct {
	Handler     HandlerFunc
	Description string
	AdminOnly   bool
	Hidden      bool
	Aliases     []string
}

// CommandInfo is the public listing entry of a command.
type CommandInfo struct {
	Name        string
	Description string
}

// Registry holds commands and callbacks for registered senders.
type Registry struct {
	mu               sync.RWMutex
	commands         map[string]Command
	callbacks        map[string]HandlerFunc
	callbackNotFound HandlerFunc
	textFallback     HandlerFunc
}

// NewRegistry creates an empty Registry with a silent callback fallback.
func NewRegistry() *Registry {
	return &Registry{
		commands:  make(map[string]Command),
		callbacks: make(map[string]HandlerFunc),
	}
}

// RegisterCommand adds a command keyed by "/name".
func (r *Registry) RegisterCommand(name string, cmd Command) error {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" || cmd.Handler == nil || cmd.Description == "" {
		logger.Warn(context.Background(), "dispatch", "register.command.skip",
			slog.String("handler", name),
			slog.String("cause", "invalid"),
		)
		return errors.New("dispatch: invalid command registration")
	}
	if name[0] != '/' {
		return fmt.Errorf("dispatch: command %q must start with a slash", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.commands[name]; exists {
		return fmt.Errorf("dispatch: command already registered: %s", name)
	}
	r.commands[name] = cmd
	return nil
}

// LookupCommand searches by name or alias and returns the canonical key.
func (r *Registry) LookupCommand(name string) (string, Command, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	if !strings.HasPrefix(name, "/") {
		name = "/" + name
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if cmd, ok := r.commands[name]; ok {
		return name, cmd, true
	}
	for key, cmd := range r.commands {
		for _, alias := range cmd.Aliases {
			if alias == name || "/"+alias == name {
				return key, cmd, true
			}
		}
	}
	return "", Command{}, false
}

// ListCommands returns commands sorted by name, optionally without hidden and admin-only ones.
func (r *Registry) ListCommands(visibleOnly bool) []CommandInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := make([]CommandInfo, 0, len(r.commands))
	for name, meta := range r.commands {
		if visibleOnly && (meta.Hidden || meta.AdminOnly) {
			continue
		}
		list = append(list, CommandInfo{Name: name, Description: meta.Description})
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	return list
}

// RegisterCallback maps a callback key to its handler.
func (r *Registry) RegisterCallback(key string, h HandlerFunc) error {
	key = strings.TrimSpace(key)
	if key == "" || h == nil {
		return errors.New("dispatch: invalid callback registration")
	}
	if strings.HasPrefix(key, "reg.") {
		return fmt.Errorf("dispatch: callback key %q is reserved for registration", key)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.callbacks[key]; exists {
		return fmt.Errorf("dispatch: callback already registered: %s", key)
	}
	r.callbacks[key] = h
	return nil
}

// GetCallback returns the handler registered for key.
func (r *Registry) GetCallback(key string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.callbacks[key]
	return h, ok
}

// ListCallbacks returns sorted keys for diagnostics.
func (r *Registry) ListCallbacks() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.callbacks))
	for k := range r.callbacks {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// SetCallbackNotFound replaces the fallback for unknown callback keys.
func (r *Registry) SetCallbackNotFound(h HandlerFunc) {
	r.mu.Lock()
	r.callbackNotFound = h
	r.mu.Unlock()
}

// CallbackNotFound returns the unknown callback fallback, possibly nil.
func (r *Registry) CallbackNotFound() HandlerFunc {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.callbackNotFound
}

// SetTextFallback sets the handler for text that is not a known command.
func (r *Registry) SetTextFallback(h HandlerFunc) {
	r.mu.Lock()
	r.textFallback = h
	r.mu.Unlock()
}

// TextFallback returns the text fallback, possibly nil.
func (r *Registry) TextFallback() HandlerFunc {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.textFallback
}
