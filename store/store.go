// Package store declares the two collaborators the persistence core writes
// through: a Store that executes prepared row operations and a QueryPlanner
// that loads rows for a relation. SQL generation, pooling and transactions
// live behind these interfaces.
package store

import (
	"context"
	"fmt"

	"github.com/martinschleiss/typeorm/schema"
)

// OpKind row operation kind
type OpKind string

const (
	Insert OpKind = "insert"
	Update OpKind = "update"
	Delete OpKind = "delete"
)

// Row is one loaded row keyed by column name.
type Row map[string]interface{}

// Operation is one prepared row write. Columns and Values are aligned;
// WhereKey identifies the target row for updates and deletes.
type Operation struct {
	Kind     OpKind
	Table    string
	Columns  []string
	Values   []interface{}
	WhereKey map[string]interface{}
}

// Result reports the outcome of one executed operation. HasKey is set when
// the store assigned a generated key, e.g. an auto increment column.
type Result struct {
	AffectedRows int64
	GeneratedKey int64
	HasKey       bool
}

// Store executes prepared row operations.
type Store interface {
	Execute(ctx context.Context, op *Operation) (Result, error)
}

// QueryPlanner loads rows: Load resolves one relation for one owner key,
// Find backs the repository's criteria lookups.
type QueryPlanner interface {
	Load(ctx context.Context, rel *schema.Relationship, ownerKey interface{}, filter map[string]interface{}) ([]Row, error)
	Find(ctx context.Context, table string, criteria map[string]interface{}) ([]Row, error)
}

// Error wraps a collaborator failure with the operation it belongs to. The
// underlying error is surfaced unmodified through Unwrap.
type Error struct {
	Op    string
	Table string
	Err   error
}

func (e *Error) Error() string {
	if e.Table != "" {
		return fmt.Sprintf("store: %s %s: %v", e.Op, e.Table, e.Err)
	}
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
