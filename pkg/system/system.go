// Package system is the top-level registry of named Dataplane instances a
// running daemon manages.
package system

import (
	"errors"
	"fmt"
	"sync"

	"github.com/flowpathio/flowpath/pkg/dataplane"
)

var ErrDuplicateDataplaneName = errors.New("system: duplicate dataplane name")
var ErrUnknownDataplane = errors.New("system: unknown dataplane")

// System owns every Dataplane instance a process runs, addressed by name.
type System struct {
	mu         sync.RWMutex
	dataplanes map[string]*dataplane.Dataplane
}

func New() *System {
	return &System{dataplanes: make(map[string]*dataplane.Dataplane)}
}

// Register adds dp under its own name. Registering two dataplanes with the
// same name is a configuration error, surfaced to the caller unchanged.
func (s *System) Register(dp *dataplane.Dataplane) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.dataplanes[dp.Name()]; exists {
		return fmt.Errorf("name %q: %w", dp.Name(), ErrDuplicateDataplaneName)
	}
	s.dataplanes[dp.Name()] = dp
	return nil
}

// Get returns the dataplane registered under name.
func (s *System) Get(name string) (*dataplane.Dataplane, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	dp, ok := s.dataplanes[name]
	if !ok {
		return nil, fmt.Errorf("name %q: %w", name, ErrUnknownDataplane)
	}
	return dp, nil
}

// List returns the names of every registered dataplane.
func (s *System) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.dataplanes))
	for name := range s.dataplanes {
		names = append(names, name)
	}
	return names
}
