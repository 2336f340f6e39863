// Package writer owns the one store.Writer a process may hold per physical
// index location, its lazily reopened reader, and the commit path.
package writer

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/searchindexer/internal/indexer/store"
	apperrors "github.com/Adithya-Monish-Kumar-K/searchindexer/pkg/errors"
)

// Registry hands out one Manager per cleaned absolute location. Indexes
// that resolve to the same directory share it.
type Registry struct {
	mu       sync.Mutex
	managers map[string]*registered
}

type registered struct {
	manager *Manager
	refs    int
}

func NewRegistry() *Registry {
	return &Registry{managers: make(map[string]*registered)}
}

// Acquire returns the Manager for location, creating it on first use.
// Each Acquire must be paired with a Release.
func (r *Registry) Acquire(engine store.Engine, location string) (*Manager, error) {
	abs, err := filepath.Abs(location)
	if err != nil {
		return nil, fmt.Errorf("resolving index location %s: %w", location, err)
	}
	abs = filepath.Clean(abs)

	r.mu.Lock()
	defer r.mu.Unlock()
	if reg, ok := r.managers[abs]; ok {
		if reg.manager.engine.Name() != engine.Name() {
			return nil, apperrors.Invalid("location %s already opened with engine %s", abs, reg.manager.engine.Name())
		}
		reg.refs++
		return reg.manager, nil
	}
	m := newManager(engine, abs)
	r.managers[abs] = &registered{manager: m, refs: 1}
	return m, nil
}

// Release drops one reference and closes the Manager with the last one.
func (r *Registry) Release(m *Manager) error {
	r.mu.Lock()
	reg, ok := r.managers[m.location]
	if !ok || reg.manager != m {
		r.mu.Unlock()
		return nil
	}
	reg.refs--
	last := reg.refs == 0
	if last {
		delete(r.managers, m.location)
	}
	r.mu.Unlock()

	if last {
		return m.Close()
	}
	return nil
}

// Len returns the number of live managers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.managers)
}
