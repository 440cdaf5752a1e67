// Package sqlstore implements the store collaborators over database/sql.
// Statements are built with squirrel, so the adapter works against any
// driver; pick the placeholder format matching the target database.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/martinschleiss/typeorm/logger"
	"github.com/martinschleiss/typeorm/schema"
	"github.com/martinschleiss/typeorm/store"
)

// Store implements store.Store and store.QueryPlanner over one *sql.DB.
// Transactions are the caller's concern: hand New a *sql.DB scoped however
// the enclosing unit of work requires.
type Store struct {
	db  Conn
	sb  sq.StatementBuilderType
	log logger.Interface
}

// Conn is the database/sql surface the adapter needs, satisfied by *sql.DB
// and *sql.Tx alike.
type Conn interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

// Option configures New
type Option func(*Store)

// WithPlaceholderFormat sets the statement placeholder style, question marks
// by default.
func WithPlaceholderFormat(format sq.PlaceholderFormat) Option {
	return func(s *Store) { s.sb = s.sb.PlaceholderFormat(format) }
}

// WithLogger sets the logger
func WithLogger(l logger.Interface) Option {
	return func(s *Store) { s.log = l }
}

// New initializes a Store over conn.
func New(conn Conn, opts ...Option) *Store {
	s := &Store{
		db:  conn,
		sb:  sq.StatementBuilder.PlaceholderFormat(sq.Question),
		log: logger.Default,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Execute runs one prepared row operation.
func (s *Store) Execute(ctx context.Context, op *store.Operation) (store.Result, error) {
	var (
		query string
		args  []interface{}
		err   error
	)

	switch op.Kind {
	case store.Insert:
		query, args, err = s.sb.Insert(op.Table).Columns(op.Columns...).Values(op.Values...).ToSql()
	case store.Update:
		setMap := make(map[string]interface{}, len(op.Columns))
		for i, column := range op.Columns {
			setMap[column] = op.Values[i]
		}
		query, args, err = s.sb.Update(op.Table).SetMap(setMap).Where(sq.Eq(op.WhereKey)).ToSql()
	case store.Delete:
		query, args, err = s.sb.Delete(op.Table).Where(sq.Eq(op.WhereKey)).ToSql()
	default:
		err = fmt.Errorf("unsupported operation kind %q", op.Kind)
	}
	if err != nil {
		return store.Result{}, &store.Error{Op: string(op.Kind), Table: op.Table, Err: err}
	}

	begin := time.Now()
	res, err := s.db.ExecContext(ctx, query, args...)

	var result store.Result
	if err == nil {
		result.AffectedRows, _ = res.RowsAffected()
		if op.Kind == store.Insert {
			if id, idErr := res.LastInsertId(); idErr == nil && id != 0 {
				result.GeneratedKey = id
				result.HasKey = true
			}
		}
	}
	s.log.Trace(ctx, begin, func() (string, int64) {
		return query, result.AffectedRows
	}, err)

	if err != nil {
		return store.Result{}, &store.Error{Op: string(op.Kind), Table: op.Table, Err: err}
	}
	return result, nil
}

// Load resolves one relation for one owner key using the relation's join
// strategy: a primary-key lookup for belongs to, a foreign-key filter for
// has one / has many, a junction-table join for many to many.
func (s *Store) Load(ctx context.Context, rel *schema.Relationship, ownerKey interface{}, filter map[string]interface{}) ([]store.Row, error) {
	target := rel.FieldSchema
	builder, err := s.loadBuilder(rel, ownerKey)
	if err != nil {
		return nil, &store.Error{Op: "load", Table: target.Table, Err: err}
	}

	if len(filter) > 0 {
		builder = builder.Where(sq.Eq(filter))
	}
	if pk := target.PrioritizedPrimaryField; pk != nil {
		builder = builder.OrderBy(pk.DBName)
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, &store.Error{Op: "load", Table: target.Table, Err: err}
	}
	return s.query(ctx, "load", target.Table, query, args)
}

// Find loads rows from one table by column criteria, backing the
// repository's findOne.
func (s *Store) Find(ctx context.Context, table string, criteria map[string]interface{}) ([]store.Row, error) {
	builder := s.sb.Select("*").From(table)
	if len(criteria) > 0 {
		builder = builder.Where(sq.Eq(criteria))
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, &store.Error{Op: "find", Table: table, Err: err}
	}
	return s.query(ctx, "find", table, query, args)
}

func (s *Store) loadBuilder(rel *schema.Relationship, ownerKey interface{}) (sq.SelectBuilder, error) {
	target := rel.FieldSchema
	columns := columnNames(target, "")

	switch rel.Type {
	case schema.BelongsTo:
		for _, ref := range rel.References {
			return s.sb.Select(columns...).From(target.Table).
				Where(sq.Eq{ref.PrimaryKey.DBName: ownerKey}), nil
		}
	case schema.HasOne, schema.HasMany:
		for _, ref := range rel.References {
			if ref.OwnPrimaryKey {
				return s.sb.Select(columns...).From(target.Table).
					Where(sq.Eq{ref.ForeignKey.DBName: ownerKey}), nil
			}
		}
	case schema.Many2Many:
		var ownerColumn, targetColumn, targetPK string
		for _, ref := range rel.References {
			if ref.OwnPrimaryKey {
				ownerColumn = ref.ForeignKey.DBName
			} else {
				targetColumn = ref.ForeignKey.DBName
				targetPK = ref.PrimaryKey.DBName
			}
		}
		if ownerColumn == "" || targetColumn == "" {
			break
		}
		return s.sb.Select(columnNames(target, "t.")...).From(target.Table+" AS t").
			Join(fmt.Sprintf("%s AS j ON j.%s = t.%s", rel.JoinTable.Table, targetColumn, targetPK)).
			Where(sq.Eq{"j." + ownerColumn: ownerKey}), nil
	}

	return sq.SelectBuilder{}, fmt.Errorf("relation %s has no usable references", rel.Name)
}

func (s *Store) query(ctx context.Context, op, table, query string, args []interface{}) ([]store.Row, error) {
	begin := time.Now()
	rows, err := s.db.QueryContext(ctx, query, args...)

	var result []store.Row
	if err == nil {
		defer rows.Close()
		result, err = scanRows(rows)
	}
	s.log.Trace(ctx, begin, func() (string, int64) {
		return query, int64(len(result))
	}, err)

	if err != nil {
		return nil, &store.Error{Op: op, Table: table, Err: err}
	}
	return result, nil
}

func scanRows(rows *sql.Rows) ([]store.Row, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var result []store.Row
	for rows.Next() {
		values := make([]interface{}, len(columns))
		pointers := make([]interface{}, len(columns))
		for i := range values {
			pointers[i] = &values[i]
		}
		if err := rows.Scan(pointers...); err != nil {
			return nil, err
		}

		row := make(store.Row, len(columns))
		for i, column := range columns {
			row[column] = values[i]
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

func columnNames(sch *schema.Schema, prefix string) []string {
	var columns []string
	for _, field := range sch.Fields {
		if field.DataType == "" || field.DBName == "" {
			continue
		}
		columns = append(columns, prefix+field.DBName)
	}
	return columns
}
