package typeorm

import (
	"context"
	"fmt"
	"reflect"

	"github.com/martinschleiss/typeorm/lazy"
	"github.com/martinschleiss/typeorm/persist"
	"github.com/martinschleiss/typeorm/schema"
	"github.com/martinschleiss/typeorm/store"
)

// Save persists the entity graphs reachable from the given values, filling
// in generated identifiers. Operations are dispatched strictly in dependency
// order; on failure nothing already dispatched is retracted. Wrap the call
// in a transaction on the store side when atomicity is required.
func (db *DB) Save(ctx context.Context, values ...interface{}) error {
	graph, err := db.walker.WalkSave(values...)
	if err != nil {
		return err
	}

	plan, err := persist.Order(graph)
	if err != nil {
		return err
	}

	return db.executor.Run(ctx, plan)
}

// Remove deletes the given entities, cascading only across relations that
// declare cascade remove, dependents first. Lazy handles on removed
// instances are invalidated so later consultations fail instead of serving
// stale rows.
func (db *DB) Remove(ctx context.Context, values ...interface{}) error {
	graph, err := db.walker.WalkRemove(values...)
	if err != nil {
		return err
	}

	plan, err := persist.Order(graph)
	if err != nil {
		return err
	}

	if err := db.executor.Run(ctx, plan); err != nil {
		return err
	}

	for _, node := range graph.Nodes {
		invalidateHandles(node.Schema, node.Value)
	}
	return nil
}

type findOptions struct {
	relations map[string]bool
}

// FindOption configures FindOne
type FindOption func(*findOptions)

// WithRelations eagerly loads the named non-lazy relations one level deep.
func WithRelations(names ...string) FindOption {
	return func(o *findOptions) {
		for _, name := range names {
			o.relations[name] = true
		}
	}
}

// FindOne loads the first entity matching criteria (column name to value)
// into dest. Every lazy-flagged relation on the hydrated instance is bound
// to a handle that loads on first consultation; other relations stay unset
// unless requested via WithRelations.
func (db *DB) FindOne(ctx context.Context, dest interface{}, criteria map[string]interface{}, opts ...FindOption) error {
	options := findOptions{relations: map[string]bool{}}
	for _, opt := range opts {
		opt(&options)
	}

	rv := reflect.ValueOf(dest)
	if rv.Kind() != reflect.Ptr || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("%w: FindOne needs a non-nil struct pointer, got %T", ErrModelValueRequired, dest)
	}

	sch, err := db.Schema(dest)
	if err != nil {
		return err
	}

	rows, err := db.planner.Find(ctx, sch.Table, criteria)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return ErrRecordNotFound
	}

	return db.hydrate(ctx, sch, rv, rows[0], options.relations)
}

// hydrate scans one row into the entity's columns, binds a lazy handle for
// every lazy relation and loads eagerly requested ones.
func (db *DB) hydrate(ctx context.Context, sch *schema.Schema, rv reflect.Value, row store.Row, eager map[string]bool) error {
	for _, field := range sch.Fields {
		if field.DataType == "" || !field.Readable {
			continue
		}
		if value, ok := row[field.DBName]; ok {
			if err := field.Set(rv, value); err != nil {
				return err
			}
		}
	}

	for _, field := range sch.Fields {
		rel, ok := sch.Relationships.Relations[field.Name]
		if !ok {
			continue
		}

		if rel.Lazy {
			if err := db.bindLazy(rel, rv); err != nil {
				return err
			}
		} else if eager[rel.Name] {
			if err := db.loadRelation(ctx, rel, rv); err != nil {
				return err
			}
		}
	}

	return nil
}

// bindLazy allocates the relation's handle if needed and binds it to a
// loader closing over the owner's key, so consulting it later issues exactly
// one query through the planner.
func (db *DB) bindLazy(rel *schema.Relationship, owner reflect.Value) error {
	fv := rel.Field.ReflectValueOf(owner)
	if fv.Kind() == reflect.Ptr {
		if fv.IsNil() {
			fv.Set(reflect.New(fv.Type().Elem()))
		}
	} else if fv.CanAddr() {
		fv = fv.Addr()
	}

	handle, ok := fv.Interface().(lazy.Handle)
	if !ok {
		return fmt.Errorf("%w: field %s on %s is not a lazy relation handle", ErrUnsupportedRelation, rel.Name, rel.Schema.Name)
	}

	ownerKey, err := ownerKeyFor(rel, owner)
	if err != nil {
		return err
	}

	handle.Bind(func(ctx context.Context) (interface{}, error) {
		rows, err := db.planner.Load(ctx, rel, ownerKey, nil)
		if err != nil {
			return nil, err
		}
		valueType, _ := lazy.ValueTypeOf(rel.Field.IndirectFieldType)
		return db.buildRelationValue(ctx, rel, valueType, rows)
	})
	return nil
}

// loadRelation eagerly resolves a non-lazy relation one level deep.
func (db *DB) loadRelation(ctx context.Context, rel *schema.Relationship, owner reflect.Value) error {
	ownerKey, err := ownerKeyFor(rel, owner)
	if err != nil {
		return err
	}

	rows, err := db.planner.Load(ctx, rel, ownerKey, nil)
	if err != nil {
		return err
	}

	value, err := db.buildRelationValue(ctx, rel, rel.Field.FieldType, rows)
	if err != nil {
		return err
	}
	if value == nil {
		return nil
	}
	return rel.Field.Set(owner, value)
}

// buildRelationValue hydrates loaded rows into the relation's declared value
// shape: a slice for to-many relations, a pointer (or struct) otherwise.
// Nested lazy relations on the hydrated entities are bound, not loaded.
func (db *DB) buildRelationValue(ctx context.Context, rel *schema.Relationship, valueType reflect.Type, rows []store.Row) (interface{}, error) {
	if valueType == nil {
		return nil, fmt.Errorf("%w: relation %s has no value type", ErrUnsupportedRelation, rel.Name)
	}

	hydrateOne := func(row store.Row) (reflect.Value, error) {
		elem := reflect.New(rel.FieldSchema.ModelType)
		if err := db.hydrate(ctx, rel.FieldSchema, elem, row, nil); err != nil {
			return reflect.Value{}, err
		}
		return elem, nil
	}

	if valueType.Kind() == reflect.Slice {
		result := reflect.MakeSlice(valueType, 0, len(rows))
		elemIsPtr := valueType.Elem().Kind() == reflect.Ptr
		for _, row := range rows {
			elem, err := hydrateOne(row)
			if err != nil {
				return nil, err
			}
			if elemIsPtr {
				result = reflect.Append(result, elem)
			} else {
				result = reflect.Append(result, elem.Elem())
			}
		}
		return result.Interface(), nil
	}

	if len(rows) == 0 {
		return reflect.Zero(valueType).Interface(), nil
	}

	elem, err := hydrateOne(rows[0])
	if err != nil {
		return nil, err
	}
	if valueType.Kind() == reflect.Ptr {
		return elem.Interface(), nil
	}
	return elem.Elem().Interface(), nil
}

// ownerKeyFor picks the key value the planner filters on: the foreign key
// held by the owner for belongs to, the owner's primary key otherwise.
func ownerKeyFor(rel *schema.Relationship, owner reflect.Value) (interface{}, error) {
	for _, ref := range rel.References {
		if rel.Type == schema.BelongsTo {
			value, _ := ref.ForeignKey.ValueOf(owner)
			return value, nil
		}
		if ref.OwnPrimaryKey {
			value, _ := ref.PrimaryKey.ValueOf(owner)
			return value, nil
		}
	}
	return nil, fmt.Errorf("%w: relation %s has no usable key reference", ErrUnsupportedRelation, rel.Name)
}

func invalidateHandles(sch *schema.Schema, value reflect.Value) {
	for _, rel := range sch.Relationships.Relations {
		if !rel.Lazy {
			continue
		}
		fv := rel.Field.ReflectValueOf(value)
		if fv.Kind() == reflect.Ptr && fv.IsNil() {
			continue
		}
		if fv.Kind() == reflect.Struct && fv.CanAddr() {
			fv = fv.Addr()
		}
		if handle, ok := fv.Interface().(lazy.Handle); ok {
			handle.Invalidate()
		}
	}
}
