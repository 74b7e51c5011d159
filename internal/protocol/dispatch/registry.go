// Package dispatch maps operation names to handlers.
//
// Tables are added at start-up and never change afterwards; lookup scans the
// most recently added table first so a later table can shadow an earlier one.
package dispatch

import (
	"errors"
	"sync"
)

// Handler runs one received operation against the session S.
type Handler[S any] func(s S) error

// ErrorHandler receives handler and dispatch errors that are not contained
// by an enclosing dispatch.
type ErrorHandler[S any] func(s S, op string, err error)

// Entry binds an operation name to its handler.
type Entry[S any] struct {
	Name    string
	Handler Handler[S]
}

// Table is one registration unit.
type Table[S any] []Entry[S]

type Registry[S any] struct {
	mu       sync.RWMutex
	tables   []map[string]Handler[S]
	fallback Handler[S]
	onError  ErrorHandler[S]
}

func NewRegistry[S any](tables ...Table[S]) *Registry[S] {
	r := &Registry[S]{}
	for _, t := range tables {
		r.Add(t)
	}
	return r
}

// Add registers table ahead of every table added before it. Within one table
// the first entry for a name wins.
func (r *Registry[S]) Add(table Table[S]) {
	m := make(map[string]Handler[S], len(table))
	for _, e := range table {
		if e.Handler == nil {
			continue
		}
		if _, dup := m[e.Name]; dup {
			continue
		}
		m[e.Name] = e.Handler
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tables = append(r.tables, m)
}

// Find returns the handler registered for name, newest table first.
func (r *Registry[S]) Find(name string) (Handler[S], bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i := len(r.tables) - 1; i >= 0; i-- {
		if h, ok := r.tables[i][name]; ok {
			return h, true
		}
	}
	return nil, false
}

// Lookup is Find falling back to the catch-all handler.
func (r *Registry[S]) Lookup(name string) (Handler[S], bool) {
	if h, ok := r.Find(name); ok {
		return h, true
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.fallback != nil {
		return r.fallback, true
	}
	return nil, false
}

// SetFallback installs the handler used for names no table registers.
func (r *Registry[S]) SetFallback(h Handler[S]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = h
}

func (r *Registry[S]) SetErrorHandler(h ErrorHandler[S]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onError = h
}

func (r *Registry[S]) ErrorHandler() ErrorHandler[S] {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.onError
}

// Names lists every registered name once, newest table first.
func (r *Registry[S]) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]struct{})
	var out []string
	for i := len(r.tables) - 1; i >= 0; i-- {
		for name := range r.tables[i] {
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			out = append(out, name)
		}
	}
	return out
}

// FatalError marks an integrity fault raised by a handler, as opposed to a
// condition meant for the user.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string { return "fatal: " + e.Err.Error() }
func (e *FatalError) Unwrap() error { return e.Err }

func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &FatalError{Err: err}
}

func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}
