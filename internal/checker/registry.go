package checker

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/fyrsmithlabs/tcsd/internal/metrics"
)

// ErrNotFound is returned when stopping a name that is not registered.
var ErrNotFound = errors.New("checker not found")

// Registry maps names to running checkers. It is mutated from the event
// loop and read concurrently by the status surface.
type Registry struct {
	mu       sync.RWMutex
	checkers map[string]*Checker
	status   map[string]bool
	metrics  *metrics.Metrics
}

// NewRegistry returns an empty registry. m may be nil.
func NewRegistry(m *metrics.Metrics) *Registry {
	return &Registry{
		checkers: make(map[string]*Checker),
		status:   make(map[string]bool),
		metrics:  m,
	}
}

// Register stores c under name. An existing checker under the same name is
// replaced but keeps running; it is returned so the caller can stop it.
func (r *Registry) Register(name string, c *Checker) (replaced *Checker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	replaced = r.checkers[name]
	r.checkers[name] = c
	delete(r.status, name)
	r.metrics.SetActiveCheckers(len(r.checkers))
	return replaced
}

// Stop stops and removes the named checkers, or every checker when no name
// is given. Names that are not registered are reported as ErrNotFound after
// the others have been stopped.
func (r *Registry) Stop(names ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(names) == 0 {
		for name := range r.checkers {
			names = append(names, name)
		}
	}

	var errs []error
	for _, name := range names {
		c, ok := r.checkers[name]
		if !ok {
			errs = append(errs, fmt.Errorf("%w: %s", ErrNotFound, name))
			continue
		}
		c.Stop()
		delete(r.checkers, name)
		delete(r.status, name)
		r.metrics.ForgetChecker(name)
	}
	r.metrics.SetActiveCheckers(len(r.checkers))
	return errors.Join(errs...)
}

// Active returns the registered names in unspecified order.
func (r *Registry) Active() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.checkers))
	for name := range r.checkers {
		names = append(names, name)
	}
	return names
}

// Len returns the number of registered checkers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.checkers)
}

// Get returns the checker registered under name.
func (r *Registry) Get(name string) (*Checker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.checkers[name]
	return c, ok
}

// Holds reports whether c is the checker currently registered under name.
func (r *Registry) Holds(name string, c *Checker) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return c != nil && r.checkers[name] == c
}

// Statuses returns a snapshot of every checker, sorted by name.
func (r *Registry) Statuses() []Status {
	r.mu.RLock()
	checkers := make([]*Checker, 0, len(r.checkers))
	for _, c := range r.checkers {
		checkers = append(checkers, c)
	}
	r.mu.RUnlock()

	out := make([]Status, 0, len(checkers))
	for _, c := range checkers {
		out = append(out, c.Status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// MarkStatus records whether the condition watched by name currently holds.
// Marks for names that are not registered are ignored.
func (r *Registry) MarkStatus(name string, inLimit bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.checkers[name]; ok {
		r.status[name] = inLimit
	}
}

// AllInLimit reports whether every named checker, or every registered
// checker when none are named, has been marked in limit. It is false when
// there is nothing to check.
func (r *Registry) AllInLimit(names ...string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(names) == 0 {
		for name := range r.checkers {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return false
	}
	for _, name := range names {
		if !r.status[name] {
			return false
		}
	}
	return true
}
