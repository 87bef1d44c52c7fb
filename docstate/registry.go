// Package docstate routes document changes to the handler registered for the
// document's (type, state) pair.
//
// Handlers come in two flavours. Safe handlers converge when re-invoked with the
// same document, so the dispatcher re-reads and retries them after a revision
// conflict. Unsafe handlers run once per delivered change and own any
// duplicate suppression themselves.
package docstate

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.pilab.hu/docflow/domain"
)

// Mode tells the dispatcher how a handler tolerates replays.
type Mode int

const (
	Safe Mode = iota + 1
	Unsafe
)

func (m Mode) String() string {
	switch m {
	case Safe:
		return "safe"
	case Unsafe:
		return "unsafe"
	default:
		return "unknown"
	}
}

// Key identifies a reactive transition.
type Key struct {
	Type  domain.DocType
	State string
}

func (k Key) String() string {
	return string(k.Type) + ":" + k.State
}

// K is shorthand for building a Key.
func K(t domain.DocType, state string) Key {
	return Key{Type: t, State: state}
}

// HandlerFunc reacts to a document observed in a given state.
type HandlerFunc func(ctx context.Context, doc domain.RawDocument) error

// Entry is one row of the transition table.
type Entry struct {
	Key
	Mode    Mode
	Handler HandlerFunc
	// Reentrant handlers run on every delivery, including redelivered revisions.
	Reentrant bool
}

// Builder assembles a transition table before the dispatcher starts.
// Registration problems are collected and reported by Build.
type Builder struct {
	entries []Entry
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Safe registers a handler that may be re-invoked after a write conflict.
func (b *Builder) Safe(t domain.DocType, state string, h HandlerFunc) *Builder {
	b.entries = append(b.entries, Entry{Key: K(t, state), Mode: Safe, Handler: h})
	return b
}

// Reentrant registers a safe handler whose side effect must be repeated every
// time the document is observed in state, so redelivered revisions are not de-duplicated.
func (b *Builder) Reentrant(t domain.DocType, state string, h HandlerFunc) *Builder {
	b.entries = append(b.entries, Entry{Key: K(t, state), Mode: Safe, Handler: h, Reentrant: true})
	return b
}

// Unsafe registers a handler that is invoked at-least-once with no conflict retry.
func (b *Builder) Unsafe(t domain.DocType, state string, h HandlerFunc) *Builder {
	b.entries = append(b.entries, Entry{Key: K(t, state), Mode: Unsafe, Handler: h})
	return b
}

// Build validates the registrations and freezes them into a Table.
// Every key in expected must have a handler.
func (b *Builder) Build(expected ...Key) (*Table, error) {
	var errs []error
	entries := make(map[Key]Entry, len(b.entries))

	for _, e := range b.entries {
		switch {
		case e.Handler == nil:
			errs = append(errs, fmt.Errorf("%s: nil handler", e.Key))
			continue
		case !domain.ValidState(e.Type, e.State):
			errs = append(errs, fmt.Errorf("%s: state not declared for type %q", e.Key, e.Type))
			continue
		}
		if prev, dup := entries[e.Key]; dup {
			errs = append(errs, fmt.Errorf("%s: registered twice (%s and %s)", e.Key, prev.Mode, e.Mode))
			continue
		}
		entries[e.Key] = e
	}

	for _, k := range expected {
		if _, ok := entries[k]; !ok {
			errs = append(errs, fmt.Errorf("%s: no handler registered", k))
		}
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid transition table: %w", errors.Join(errs...))
	}
	return &Table{entries: entries}, nil
}

// Table is an immutable (type, state) -> handler mapping.
type Table struct {
	entries map[Key]Entry
}

// Lookup returns the entry registered for the pair.
func (t *Table) Lookup(typ domain.DocType, state string) (Entry, bool) {
	e, ok := t.entries[K(typ, state)]
	return e, ok
}

// Keys lists the reactive transitions in a stable order.
func (t *Table) Keys() []Key {
	keys := make([]Key, 0, len(t.entries))
	for k := range t.entries {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].String() < keys[j].String()
	})
	return keys
}

// Len returns the number of registered transitions.
func (t *Table) Len() int {
	return len(t.entries)
}
