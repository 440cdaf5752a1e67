// Package lazy implements the deferred relation handle: a cache-once accessor
// bound to one entity instance and one relation, resolved through the query
// planner the first time it is consulted.
package lazy

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"
)

var (
	// ErrStaleHandle handle consulted after its owning entity was removed
	ErrStaleHandle = errors.New("stale relation handle")
	// ErrUnbound handle consulted before hydration bound it to a loader
	ErrUnbound = errors.New("relation handle is not bound to a loader")
)

type state int

const (
	unresolved state = iota
	resolving
	resolved
	assigned
	stale
)

// Loader performs the deferred load for one handle.
type Loader func(ctx context.Context) (interface{}, error)

// Handle is the untyped view of a Relation, used by hydration and the save
// walker which cannot know the instantiated value type.
type Handle interface {
	IsLoaded() bool
	CascadeValue() (interface{}, bool)
	Invalidate()
	Bind(Loader)
}

// Relation is a deferred accessor for one relation's value. The zero value is
// usable: it reports unloaded and accepts Assign before ever being bound.
//
// Concurrent Consult calls while a load is in flight converge on a single
// underlying query; a failed load is never cached, so the next consultation
// retries.
type Relation[T any] struct {
	mu     sync.Mutex
	state  state
	value  T
	loader Loader
	group  singleflight.Group
}

// NewAssigned returns a handle already holding an explicitly assigned value.
func NewAssigned[T any](value T) *Relation[T] {
	r := &Relation[T]{}
	r.Assign(value)
	return r
}

// Bind attaches the loader used to resolve the handle. Called by hydration;
// rebinding an already resolved handle keeps the cached value.
func (r *Relation[T]) Bind(loader Loader) {
	r.mu.Lock()
	r.loader = loader
	r.mu.Unlock()
}

// Assign sets the value explicitly without touching the store. The save path
// treats an assigned value as cascade-worthy.
func (r *Relation[T]) Assign(value T) {
	r.mu.Lock()
	r.value = value
	r.state = assigned
	r.mu.Unlock()
}

// IsLoaded reports whether a value is cached, without forcing a load.
func (r *Relation[T]) IsLoaded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state == resolved || r.state == assigned
}

// Value returns the cached value, if any, without forcing a load.
func (r *Relation[T]) Value() (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == resolved || r.state == assigned {
		return r.value, true
	}
	var zero T
	return zero, false
}

// CascadeValue returns the value the save cascade should follow: anything
// loaded or assigned. Untouched handles are never cascaded.
func (r *Relation[T]) CascadeValue() (interface{}, bool) {
	v, ok := r.Value()
	if !ok {
		return nil, false
	}
	return v, true
}

// Invalidate marks the handle stale, e.g. after its owning entity was removed
// in a cascade. A stale handle surfaces ErrStaleHandle instead of stale data.
func (r *Relation[T]) Invalidate() {
	r.mu.Lock()
	var zero T
	r.value = zero
	r.state = stale
	r.mu.Unlock()
}

// Consult returns the relation value, issuing the deferred load on first use.
// Resolved and assigned values return immediately. At most one load is in
// flight per handle regardless of concurrent callers.
func (r *Relation[T]) Consult(ctx context.Context) (T, error) {
	var zero T

	r.mu.Lock()
	switch r.state {
	case resolved, assigned:
		value := r.value
		r.mu.Unlock()
		return value, nil
	case stale:
		r.mu.Unlock()
		return zero, ErrStaleHandle
	}
	loader := r.loader
	r.mu.Unlock()

	if loader == nil {
		return zero, ErrUnbound
	}

	v, err, _ := r.group.Do("load", func() (interface{}, error) {
		r.mu.Lock()
		switch r.state {
		case resolved, assigned:
			value := r.value
			r.mu.Unlock()
			return value, nil
		case stale:
			r.mu.Unlock()
			return nil, ErrStaleHandle
		}
		r.state = resolving
		r.mu.Unlock()

		value, err := loader(ctx)

		r.mu.Lock()
		defer r.mu.Unlock()
		if err != nil {
			// revert so a later consultation retries instead of caching failure
			if r.state == resolving {
				r.state = unresolved
			}
			return nil, err
		}

		if r.state == resolving {
			if typed, ok := value.(T); ok {
				r.value = typed
			}
			r.state = resolved
		}
		// an Assign that raced the load wins
		return r.value, nil
	})
	if err != nil {
		return zero, err
	}
	return v.(T), nil
}

var relationPkgPath = reflect.TypeOf(Relation[struct{}]{}).PkgPath()

// IsHandleType reports whether t is an instantiation of Relation.
func IsHandleType(t reflect.Type) bool {
	return t.Kind() == reflect.Struct && t.PkgPath() == relationPkgPath &&
		strings.HasPrefix(t.Name(), "Relation[")
}

// ValueTypeOf returns the instantiated value type of a Relation type, so the
// metadata parser can discover the relation's target model.
func ValueTypeOf(t reflect.Type) (reflect.Type, bool) {
	if !IsHandleType(t) {
		return nil, false
	}
	f, ok := t.FieldByName("value")
	if !ok {
		return nil, false
	}
	return f.Type, true
}
