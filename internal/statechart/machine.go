package statechart

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/tcsd/internal/logging"
	"github.com/fyrsmithlabs/tcsd/internal/metrics"
)

const instrumentationName = "github.com/fyrsmithlabs/tcsd/internal/statechart"

// TransitionInfo describes a fired transition. Target is empty for
// targetless transitions.
type TransitionInfo struct {
	Source string
	Target string
	Event  string
}

// Observer is notified after each fired transition has settled.
type Observer func(ctx context.Context, info TransitionInfo)

// Option configures a Machine.
type Option func(*Machine)

// WithLogger sets the machine logger.
func WithLogger(l *logging.Logger) Option {
	return func(m *Machine) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithMetrics records processed events and transitions.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Machine) { m.metrics = mt }
}

// WithObserver adds a transition observer.
func WithObserver(o Observer) Option {
	return func(m *Machine) { m.observers = append(m.observers, o) }
}

// Machine runs a chart. Start, Dispatch and Stop must be called from a single
// goroutine (the event loop); Active, IsActive and Configuration are safe to
// call from anywhere.
type Machine struct {
	root  *node
	nodes map[string]*node

	logger    *logging.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer
	observers []Observer

	mu      sync.RWMutex
	active  map[*node]bool
	started bool
	stopped bool

	queue      []Event
	processing bool
}

func newMachine(root *node, nodes map[string]*node, opts ...Option) *Machine {
	m := &Machine{
		root:   root,
		nodes:  nodes,
		logger: logging.NewNop(),
		active: make(map[*node]bool),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.Named("statechart")
	m.tracer = otel.Tracer(instrumentationName)
	return m
}

// Start enters the root and its default descendants. Events raised by entry
// actions are processed before Start returns.
func (m *Machine) Start(ctx context.Context) error {
	m.mu.Lock()
	switch {
	case m.stopped:
		m.mu.Unlock()
		return ErrStopped
	case m.started:
		m.mu.Unlock()
		return nil
	}
	m.started = true
	m.mu.Unlock()

	m.processing = true
	m.enter(ctx, m.root, nil, Event{Name: "start"})
	m.logger.Info(ctx, "state machine started", zap.Strings("configuration", m.Configuration()))
	m.drain(ctx)
	return nil
}

// Stop rejects further events. The active configuration is left as is.
func (m *Machine) Stop() {
	m.mu.Lock()
	m.stopped = true
	m.mu.Unlock()
	m.queue = nil
}

// Send dispatches an event built from name and payload.
func (m *Machine) Send(ctx context.Context, name string, payload any) error {
	return m.Dispatch(ctx, Event{Name: name, Payload: payload})
}

// Dispatch processes ev to completion. When called while another event is
// being processed (from an action), ev is queued and handled after the current
// step settles.
func (m *Machine) Dispatch(ctx context.Context, ev Event) error {
	m.mu.RLock()
	started, stopped := m.started, m.stopped
	m.mu.RUnlock()
	if stopped {
		return fmt.Errorf("%w: event %q", ErrStopped, ev.Name)
	}
	if !started {
		return fmt.Errorf("%w: event %q", ErrNotStarted, ev.Name)
	}

	m.queue = append(m.queue, ev)
	if m.processing {
		return nil
	}
	m.processing = true
	m.drain(ctx)
	return nil
}

func (m *Machine) drain(ctx context.Context) {
	defer func() { m.processing = false }()
	for len(m.queue) > 0 {
		if m.isStopped() {
			m.queue = nil
			return
		}
		ev := m.queue[0]
		m.queue = m.queue[1:]
		m.step(ctx, ev)
	}
}

func (m *Machine) isStopped() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stopped
}

// step runs one macrostep for ev.
func (m *Machine) step(ctx context.Context, ev Event) {
	ctx, span := m.tracer.Start(ctx, "statechart.dispatch", trace.WithAttributes(attribute.String("event", ev.Name)))
	defer span.End()

	m.metrics.RecordEvent(ev.Name)

	selected := m.selectTransitions(ev)
	if len(selected) == 0 {
		m.logger.Debug(ctx, "unhandled event", logging.Event(ev.Name), zap.Strings("configuration", m.Configuration()))
		span.SetStatus(codes.Ok, "unhandled")
		return
	}

	for _, t := range selected {
		if !m.IsActive(t.source.id) {
			// exited by an earlier transition in this step
			continue
		}
		m.fire(ctx, t, ev)
	}
}

// selectTransitions picks, for every active leaf in document order, the
// innermost enabled transition. Duplicates are dropped.
func (m *Machine) selectTransitions(ev Event) []*transition {
	var selected []*transition
	seen := make(map[*transition]bool)
	for _, leaf := range m.activeLeaves() {
		for n := leaf; n != nil; n = n.parent {
			t := n.enabled(ev)
			if t == nil {
				continue
			}
			if !seen[t] {
				seen[t] = true
				selected = append(selected, t)
			}
			break
		}
	}
	return selected
}

func (n *node) enabled(ev Event) *transition {
	for _, t := range n.transitions[ev.Name] {
		if t.guard == nil || t.guard(ev) {
			return t
		}
	}
	return nil
}

func (m *Machine) fire(ctx context.Context, t *transition, ev Event) {
	info := TransitionInfo{Source: t.source.id, Event: ev.Name}

	if t.target == nil {
		if t.action != nil {
			t.action(ctx, ev)
		}
	} else {
		info.Target = t.target.id
		domain := m.domain(t.source, t.target)
		m.exit(ctx, domain, ev)
		if t.action != nil {
			t.action(ctx, ev)
		}
		m.enter(ctx, t.target, domain, ev)
	}

	m.logger.Debug(ctx, "transition",
		logging.Event(ev.Name),
		zap.String("source", info.Source),
		zap.String("target", info.Target),
	)
	to := info.Target
	if to == "" {
		to = info.Source
	}
	m.metrics.RecordTransition(info.Source, to, ev.Name)
	for _, o := range m.observers {
		o(ctx, info)
	}
}

// domain is the innermost non-parallel proper ancestor of source that also
// contains target.
func (m *Machine) domain(source, target *node) *node {
	for a := source.parent; a != nil; a = a.parent {
		if a.kind != Parallel && a.isAncestorOf(target) {
			return a
		}
	}
	return m.root
}

// exit leaves every active descendant of domain, innermost first.
func (m *Machine) exit(ctx context.Context, domain *node, ev Event) {
	m.mu.RLock()
	var exiting []*node
	for n := range m.active {
		if domain.isAncestorOf(n) {
			exiting = append(exiting, n)
		}
	}
	m.mu.RUnlock()

	sort.Slice(exiting, func(i, j int) bool {
		if exiting[i].depth != exiting[j].depth {
			return exiting[i].depth > exiting[j].depth
		}
		return exiting[i].order > exiting[j].order
	})

	for _, n := range exiting {
		sctx := logging.WithPhase(ctx, n.id)
		for _, a := range n.exit {
			a(sctx, ev)
		}
		m.mu.Lock()
		delete(m.active, n)
		m.mu.Unlock()
	}
}

// enter activates target, the states between it and domain, and the default
// descendants that complete the configuration, outermost first.
func (m *Machine) enter(ctx context.Context, target, domain *node, ev Event) {
	path := make(map[*node]bool)
	top := target
	for n := target; n != nil && n != domain; n = n.parent {
		path[n] = true
		top = n
	}

	var entering []*node
	var collect func(n *node)
	collect = func(n *node) {
		entering = append(entering, n)
		switch n.kind {
		case Composite:
			next := n.initial
			for _, c := range n.children {
				if path[c] {
					next = c
					break
				}
			}
			collect(next)
		case Parallel:
			for _, c := range n.children {
				collect(c)
			}
		}
	}
	collect(top)

	sort.Slice(entering, func(i, j int) bool { return entering[i].order < entering[j].order })

	for _, n := range entering {
		m.mu.Lock()
		m.active[n] = true
		m.mu.Unlock()
		sctx := logging.WithPhase(ctx, n.id)
		for _, a := range n.entry {
			a(sctx, ev)
		}
	}
}

func (m *Machine) activeLeaves() []*node {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var leaves []*node
	for n := range m.active {
		if n.kind == Simple {
			leaves = append(leaves, n)
		}
	}
	sort.Slice(leaves, func(i, j int) bool { return leaves[i].order < leaves[j].order })
	return leaves
}

// Active returns every active state id, including ancestors, in document
// order.
func (m *Machine) Active() []string {
	m.mu.RLock()
	nodes := make([]*node, 0, len(m.active))
	for n := range m.active {
		nodes = append(nodes, n)
	}
	m.mu.RUnlock()

	sort.Slice(nodes, func(i, j int) bool { return nodes[i].order < nodes[j].order })
	ids := make([]string, len(nodes))
	for i, n := range nodes {
		ids[i] = n.id
	}
	return ids
}

// IsActive reports whether the state id is in the active configuration.
func (m *Machine) IsActive(id string) bool {
	n, ok := m.nodes[id]
	if !ok {
		return false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active[n]
}

// Configuration returns the sorted ids of the active leaves.
func (m *Machine) Configuration() []string {
	leaves := m.activeLeaves()
	ids := make([]string, len(leaves))
	for i, n := range leaves {
		ids[i] = n.id
	}
	sort.Strings(ids)
	return ids
}

// Lookup returns the kind of a declared state.
func (m *Machine) Lookup(id string) (Kind, error) {
	n, ok := m.nodes[id]
	if !ok {
		return Simple, fmt.Errorf("%w: %q", ErrUnknownState, id)
	}
	return n.kind, nil
}

// Started reports whether Start has been called.
func (m *Machine) Started() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.started
}

// Stopped reports whether Stop has been called.
func (m *Machine) Stopped() bool { return m.isStopped() }
