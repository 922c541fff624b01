package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

var ErrUnknownCommand = errors.New("unknown command")

// HandlerFunc executes one named command against a backend. The returned
// value is the command's raw result, decoded by the caller.
type HandlerFunc func(ctx context.Context, params Params) (any, error)

// Dispatcher is the remote execution boundary: a registry of named commands
// invoked via Submit. Registration happens at composition time; Submit is
// safe for concurrent use.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		handlers: make(map[string]HandlerFunc),
	}
}

// Register stores a handler under the command name. Re-registering replaces
// the previous handler.
func (d *Dispatcher) Register(command string, fn HandlerFunc) {
	if fn == nil {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.handlers[command]; exists {
		slog.Warn("command handler replaced", "command", command)
	}
	d.handlers[command] = fn
}

// Submit invokes the named command. A panicking handler is recovered into an
// error so one misbehaving backend cannot take down a fan-out.
func (d *Dispatcher) Submit(ctx context.Context, command string, params Params) (result any, err error) {
	d.mu.RLock()
	fn, ok := d.handlers[command]
	d.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q (known: %v)", ErrUnknownCommand, command, d.Commands())
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Error("command panic", "command", command, "panic", r)
			result = nil
			err = fmt.Errorf("command %q panicked: %v", command, r)
		}
	}()

	return fn(ctx, params)
}

// Has reports whether a command is registered.
func (d *Dispatcher) Has(command string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.handlers[command]
	return ok
}

// Commands returns the sorted registered command names.
func (d *Dispatcher) Commands() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	names := make([]string, 0, len(d.handlers))
	for name := range d.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
