// Package app defines the loaded-application surface the core invokes:
// load/unload/start/stop lifecycle hooks and the per-packet process hook.
package app

import (
	"errors"
	"fmt"
	"sync"

	"github.com/flowpathio/flowpath/pkg/dataplane"
	"github.com/flowpathio/flowpath/pkg/packet"
)

// Status codes an entry point returns; zero is success.
const (
	OK = 0
)

// Application is the loaded-application surface consumed by the core at
// load: dynamic resolution of a shared object is out of scope (§9 of the
// packet-processing design); the daemon wires a concrete Application
// value in directly instead.
type Application interface {
	Load(dp *dataplane.Dataplane) int
	Unload(dp *dataplane.Dataplane) int
	Start(dp *dataplane.Dataplane) int
	Stop(dp *dataplane.Dataplane) int
	Process(ctx *packet.Context) int
}

var ErrDuplicateApplicationName = errors.New("app: duplicate application name")
var ErrUnknownApplication = errors.New("app: unknown application")

// Registry is a named set of Applications a daemon can attach to a
// Dataplane by configuration.
type Registry struct {
	mu   sync.RWMutex
	apps map[string]Application
}

func NewRegistry() *Registry {
	return &Registry{apps: make(map[string]Application)}
}

func (r *Registry) Register(name string, a Application) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.apps[name]; exists {
		return fmt.Errorf("name %q: %w", name, ErrDuplicateApplicationName)
	}
	r.apps[name] = a
	return nil
}

func (r *Registry) Get(name string) (Application, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.apps[name]
	if !ok {
		return nil, fmt.Errorf("name %q: %w", name, ErrUnknownApplication)
	}
	return a, nil
}
