package typeorm

import (
	"errors"

	"github.com/martinschleiss/typeorm/lazy"
	"github.com/martinschleiss/typeorm/logger"
	"github.com/martinschleiss/typeorm/persist"
)

var (
	// ErrRecordNotFound record not found error
	ErrRecordNotFound = logger.ErrRecordNotFound
	// ErrCascadeCycle relation cycle whose foreign keys cannot be deferred
	ErrCascadeCycle = persist.ErrCascadeCycle
	// ErrStaleHandle lazy relation handle consulted after its owner was removed
	ErrStaleHandle = lazy.ErrStaleHandle
	// ErrModelValueRequired model value required
	ErrModelValueRequired = persist.ErrModelValueRequired
	// ErrPrimaryKeyRequired primary keys required
	ErrPrimaryKeyRequired = persist.ErrPrimaryKeyRequired
	// ErrUnsupportedRelation unsupported relations
	ErrUnsupportedRelation = errors.New("unsupported relations")
)
