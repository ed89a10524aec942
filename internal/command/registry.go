// Package command maps command names to the handlers that run them against
// the shared collection.
package command

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"

	"github.com/golang/glog"

	"github.com/ssd-technologies/depot/internal/protocol"
)

// Command is one named operation a client may execute.
type Command interface {
	Description() string
	Args() Schema
	// Interactive commands need the client to read input directly from
	// the user rather than from a script.
	Interactive() bool
	Execute(ctx context.Context, args Args, username string) (string, error)
}

// Catalogue is the INITIALIZATION payload. Arguments holds each command's
// schema as a JSON-encoded string.
type Catalogue struct {
	Commands    map[string]string `json:"commands"`
	Arguments   map[string]string `json:"arguments"`
	Interactive map[string]bool   `json:"interactive"`
}

// Schema decodes the argument schema of name.
func (c Catalogue) Schema(name string) (Schema, error) {
	raw, ok := c.Arguments[name]
	if !ok {
		return nil, fmt.Errorf("unknown command %q", name)
	}
	var s Schema
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, fmt.Errorf("decode schema of %q: %w", name, err)
	}
	return s, nil
}

// Registry is the name to Command table. It is filled at startup and may be
// cleared and refilled while requests are being served.
type Registry struct {
	mu   sync.RWMutex
	cmds map[string]Command
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{cmds: make(map[string]Command)}
}

// Register adds cmd under name, replacing any previous entry.
func (r *Registry) Register(name string, cmd Command) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cmds[name] = cmd
}

// Clear removes every command.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.cmds)
}

// Replace swaps the whole table for cmds in one step, so no request ever
// sees a partially built table.
func (r *Registry) Replace(cmds map[string]Command) {
	next := make(map[string]Command, len(cmds))
	for name, cmd := range cmds {
		next[name] = cmd
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cmds = next
}

// Lookup returns the command registered under name.
func (r *Registry) Lookup(name string) (Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cmd, ok := r.cmds[name]
	return cmd, ok
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.cmds))
	for name := range r.cmds {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Catalogue describes every registered command.
func (r *Registry) Catalogue() Catalogue {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c := Catalogue{
		Commands:    make(map[string]string, len(r.cmds)),
		Arguments:   make(map[string]string, len(r.cmds)),
		Interactive: make(map[string]bool, len(r.cmds)),
	}
	for name, cmd := range r.cmds {
		schema, err := json.Marshal(cmd.Args())
		if err != nil {
			glog.Errorf("[registry] encode schema of %s: %v", name, err)
			schema = []byte("{}")
		}
		c.Commands[name] = cmd.Description()
		c.Arguments[name] = string(schema)
		c.Interactive[name] = cmd.Interactive()
	}
	return c
}

// Execute runs the command named by req.Message for username. It always
// returns a Response: unknown names, command errors and panics all become
// ERROR responses.
func (r *Registry) Execute(ctx context.Context, req *protocol.Request, username string) (resp protocol.Response) {
	defer func() {
		if p := recover(); p != nil {
			glog.Errorf("[registry] panic in %q for %s: %v", req.Message, username, p)
			resp = protocol.NewResponse(req.ID, protocol.KindError, fmt.Sprintf("internal error: %v", p), "")
		}
	}()

	cmd, ok := r.Lookup(req.Message)
	if !ok {
		return protocol.NewResponse(req.ID, protocol.KindError, fmt.Sprintf("unknown command %q", req.Message), "")
	}

	out, err := cmd.Execute(ctx, Args(req.Args), username)
	if err != nil {
		glog.V(2).Infof("[registry] %s by %s: %v", req.Message, username, err)
		return protocol.NewResponse(req.ID, protocol.KindError, err.Error(), "")
	}
	return protocol.NewResponse(req.ID, protocol.KindOK, out, "")
}
