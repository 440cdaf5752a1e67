package persist

import (
	"errors"
	"fmt"
	"strings"

	"github.com/martinschleiss/typeorm/store"
)

var (
	// ErrCascadeCycle relation cycle whose foreign keys cannot be deferred
	ErrCascadeCycle = errors.New("cascade cycle with non-nullable foreign keys")
	// ErrModelValueRequired model value required
	ErrModelValueRequired = errors.New("model value required")
	// ErrPrimaryKeyRequired primary keys required
	ErrPrimaryKeyRequired = errors.New("primary key required")
)

// CycleError reports a reference cycle that cannot be broken because every
// edge in it writes a non-nullable foreign key. It is raised at ordering
// time, before any store operation is issued.
type CycleError struct {
	Relations []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("%v: %s", ErrCascadeCycle, strings.Join(e.Relations, ", "))
}

func (e *CycleError) Unwrap() error { return ErrCascadeCycle }

// OperationError annotates a store failure with the failing operation's
// position in the cascade sequence. The store error is surfaced unmodified
// through Unwrap.
type OperationError struct {
	Index int
	Kind  store.OpKind
	Table string
	Err   error
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("persist: operation %d (%s %s): %v", e.Index, e.Kind, e.Table, e.Err)
}

func (e *OperationError) Unwrap() error { return e.Err }
