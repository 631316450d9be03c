// Package statechart is a small hierarchical state machine engine with
// parallel regions and run-to-completion event processing.
//
// A chart is a tree of states. Composite states have exactly one active child,
// parallel states have all of their children (regions) active, simple states
// are leaves. Transitions are keyed by source state and event name; the
// innermost active state that handles an event wins. Exit actions run
// innermost first, entry actions outermost first.
package statechart

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrUnknownState is returned for references to undeclared states.
	ErrUnknownState = errors.New("unknown state")

	// ErrDuplicateState is returned when a state id is declared twice.
	ErrDuplicateState = errors.New("duplicate state")

	// ErrInvalidChart is returned for structurally invalid charts.
	ErrInvalidChart = errors.New("invalid chart")

	// ErrNotStarted is returned when dispatching before Start.
	ErrNotStarted = errors.New("state machine not started")

	// ErrStopped is returned when dispatching after Stop.
	ErrStopped = errors.New("state machine stopped")
)

// Kind classifies a state.
type Kind int

const (
	Simple Kind = iota
	Composite
	Parallel
)

func (k Kind) String() string {
	switch k {
	case Composite:
		return "composite"
	case Parallel:
		return "parallel"
	default:
		return "simple"
	}
}

// Event is a named occurrence with an optional payload.
type Event struct {
	Name    string
	Payload any
}

// Action runs on entry, exit, or transition. ev is the event being processed.
type Action func(ctx context.Context, ev Event)

// Guard enables a transition for a particular event.
type Guard func(ev Event) bool

type node struct {
	id       string
	kind     Kind
	parent   *node
	children []*node
	initial  *node
	entry    []Action
	exit     []Action
	order    int
	depth    int

	// transitions by event name, in declaration order
	transitions map[string][]*transition
}

type transition struct {
	source *node
	event  string
	target *node // nil for targetless transitions
	guard  Guard
	action Action
}

func (n *node) isAncestorOf(other *node) bool {
	for p := other.parent; p != nil; p = p.parent {
		if p == n {
			return true
		}
	}
	return false
}

// StateOption configures a state declaration.
type StateOption func(*stateDecl)

type stateDecl struct {
	initial string
	entry   []Action
	exit    []Action
}

// Initial names the default child of a composite state. Without it the first
// declared child is used.
func Initial(id string) StateOption {
	return func(d *stateDecl) { d.initial = id }
}

// OnEntry adds an entry action.
func OnEntry(a Action) StateOption {
	return func(d *stateDecl) { d.entry = append(d.entry, a) }
}

// OnExit adds an exit action.
func OnExit(a Action) StateOption {
	return func(d *stateDecl) { d.exit = append(d.exit, a) }
}

// TransitionOption configures a transition declaration.
type TransitionOption func(*transition)

// When guards a transition.
func When(g Guard) TransitionOption {
	return func(t *transition) { t.guard = g }
}

// Do runs a between the exit and entry phases of a transition.
func Do(a Action) TransitionOption {
	return func(t *transition) { t.action = a }
}

type pendingTransition struct {
	source, event, target string
	opts                  []TransitionOption
}

// Builder declares a chart. Errors are collected and reported by Build.
type Builder struct {
	root        *node
	nodes       map[string]*node
	decls       map[string]*stateDecl
	declared    []string
	transitions []pendingTransition
	errs        []error
}

// NewBuilder starts a chart whose root is a composite state named root.
func NewBuilder(root string, opts ...StateOption) *Builder {
	b := &Builder{
		nodes: make(map[string]*node),
		decls: make(map[string]*stateDecl),
	}
	b.root = b.add(root, nil, Composite, opts)
	return b
}

// State declares a simple or composite state under parent. It becomes
// composite when children are declared under it.
func (b *Builder) State(id, parent string, opts ...StateOption) *Builder {
	b.declare(id, parent, Simple, opts)
	return b
}

// Parallel declares a parallel state under parent. Each child is a region.
func (b *Builder) Parallel(id, parent string, opts ...StateOption) *Builder {
	b.declare(id, parent, Parallel, opts)
	return b
}

// Transition declares source --event--> target. An empty target declares a
// targetless transition that only runs its action.
func (b *Builder) Transition(source, event, target string, opts ...TransitionOption) *Builder {
	b.transitions = append(b.transitions, pendingTransition{source, event, target, opts})
	return b
}

func (b *Builder) declare(id, parent string, kind Kind, opts []StateOption) {
	p, ok := b.nodes[parent]
	if !ok {
		b.errs = append(b.errs, fmt.Errorf("%w: parent %q of %q", ErrUnknownState, parent, id))
		return
	}
	b.add(id, p, kind, opts)
}

func (b *Builder) add(id string, parent *node, kind Kind, opts []StateOption) *node {
	if _, dup := b.nodes[id]; dup {
		b.errs = append(b.errs, fmt.Errorf("%w: %q", ErrDuplicateState, id))
		return b.nodes[id]
	}
	d := &stateDecl{}
	for _, o := range opts {
		o(d)
	}
	n := &node{
		id:          id,
		kind:        kind,
		parent:      parent,
		entry:       d.entry,
		exit:        d.exit,
		transitions: make(map[string][]*transition),
	}
	if parent != nil {
		if parent.kind == Simple {
			parent.kind = Composite
		}
		parent.children = append(parent.children, n)
		n.depth = parent.depth + 1
	}
	b.nodes[id] = n
	b.decls[id] = d
	b.declared = append(b.declared, id)
	return n
}

// Build validates the chart and returns a machine ready to Start.
func (b *Builder) Build(opts ...Option) (*Machine, error) {
	if err := errors.Join(b.errs...); err != nil {
		return nil, err
	}

	for _, id := range b.declared {
		n := b.nodes[id]
		d := b.decls[id]
		switch n.kind {
		case Composite:
			if len(n.children) == 0 {
				return nil, fmt.Errorf("%w: %q has no children", ErrInvalidChart, id)
			}
			if d.initial == "" {
				n.initial = n.children[0]
				continue
			}
			init, ok := b.nodes[d.initial]
			if !ok || init.parent != n {
				return nil, fmt.Errorf("%w: initial %q is not a child of %q", ErrInvalidChart, d.initial, id)
			}
			n.initial = init
		case Parallel:
			if len(n.children) == 0 {
				return nil, fmt.Errorf("%w: parallel state %q has no regions", ErrInvalidChart, id)
			}
			if d.initial != "" {
				return nil, fmt.Errorf("%w: parallel state %q cannot have an initial child", ErrInvalidChart, id)
			}
		default:
			if d.initial != "" {
				return nil, fmt.Errorf("%w: simple state %q cannot have an initial child", ErrInvalidChart, id)
			}
		}
	}
	for _, pt := range b.transitions {
		src, ok := b.nodes[pt.source]
		if !ok {
			return nil, fmt.Errorf("%w: transition source %q", ErrUnknownState, pt.source)
		}
		t := &transition{source: src, event: pt.event}
		if pt.target != "" {
			if t.target, ok = b.nodes[pt.target]; !ok {
				return nil, fmt.Errorf("%w: transition target %q", ErrUnknownState, pt.target)
			}
		}
		for _, o := range pt.opts {
			o(t)
		}
		src.transitions[pt.event] = append(src.transitions[pt.event], t)
	}

	order := 0
	var number func(n *node)
	number = func(n *node) {
		n.order = order
		order++
		for _, c := range n.children {
			number(c)
		}
	}
	number(b.root)

	return newMachine(b.root, b.nodes, opts...), nil
}
