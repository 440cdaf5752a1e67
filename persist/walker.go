package persist

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/martinschleiss/typeorm/lazy"
	"github.com/martinschleiss/typeorm/schema"
	"github.com/martinschleiss/typeorm/store"
)

// Walker traverses declared relations from a set of root entity instances
// and builds the dependency graph of pending operations. It performs no
// store access; cycles are broken during traversal by instance identity
// while the cycle edges stay recorded for the ordering pass.
type Walker struct {
	cacheStore *sync.Map
	namer      schema.Namer
}

func NewWalker(cacheStore *sync.Map, namer schema.Namer) *Walker {
	return &Walker{cacheStore: cacheStore, namer: namer}
}

// WalkSave builds the graph for a save call. Each entity becomes an insert
// when its primary key is zero, an update otherwise.
func (w *Walker) WalkSave(values ...interface{}) (*Graph, error) {
	return w.walkRoots(store.Insert, values)
}

// WalkRemove builds the graph for a remove call, following only relations
// with cascade remove declared.
func (w *Walker) WalkRemove(values ...interface{}) (*Graph, error) {
	return w.walkRoots(store.Delete, values)
}

func (w *Walker) walkRoots(op store.OpKind, values []interface{}) (*Graph, error) {
	graph := newGraph(op)

	for _, value := range values {
		if value == nil {
			return nil, ErrModelValueRequired
		}

		rv := reflect.ValueOf(value)
		switch rv.Kind() {
		case reflect.Ptr:
			if rv.Elem().Kind() == reflect.Slice {
				rv = rv.Elem()
			}
		case reflect.Slice:
		default:
			return nil, fmt.Errorf("%w: cannot persist non-pointer value of type %T", ErrModelValueRequired, value)
		}

		if rv.Kind() == reflect.Slice {
			for i := 0; i < rv.Len(); i++ {
				if _, err := w.visit(graph, rv.Index(i)); err != nil {
					return nil, err
				}
			}
		} else {
			if _, err := w.visit(graph, rv); err != nil {
				return nil, err
			}
		}
	}

	return graph, nil
}

func (w *Walker) visit(graph *Graph, rv reflect.Value) (*Node, error) {
	for rv.Kind() == reflect.Interface {
		rv = rv.Elem()
	}
	if rv.Kind() == reflect.Struct {
		if !rv.CanAddr() {
			return nil, fmt.Errorf("%w: unaddressable %s value", ErrModelValueRequired, rv.Type())
		}
		rv = rv.Addr()
	}
	if rv.Kind() != reflect.Ptr || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: unsupported value of type %s", ErrModelValueRequired, rv.Type())
	}

	// an instance reachable via multiple paths is visited once; returning the
	// existing node here is also what keeps reference cycles finite
	if node := graph.lookup(rv); node != nil {
		return node, nil
	}

	sch, err := schema.Parse(rv.Interface(), w.cacheStore, w.namer)
	if err != nil {
		return nil, err
	}

	kind := graph.Op
	if kind != store.Delete {
		kind = store.Insert
		if pk := sch.PrioritizedPrimaryField; pk != nil {
			if _, zero := pk.ValueOf(rv); !zero {
				kind = store.Update
			}
		}
	}

	node := graph.add(rv, sch, kind)

	// iterate fields, not the relation map, for a deterministic walk order
	for _, field := range sch.Fields {
		rel, ok := sch.Relationships.Relations[field.Name]
		if !ok {
			continue
		}

		// removing an entity always clears its owning junction rows, loaded
		// or not; the related entities themselves follow cascade flags below
		if graph.Op == store.Delete && rel.Type == schema.Many2Many && rel.Owning() {
			graph.JoinClears = append(graph.JoinClears, &JoinClear{Rel: rel, Owner: node})
		}

		value, ok := w.relationValue(rel, rv)
		if !ok {
			continue
		}

		// an assigned junction set on an already persisted owner is
		// authoritative: existing rows are replaced, not appended to
		if graph.Op != store.Delete && node.Kind == store.Update && rel.Type == schema.Many2Many && rel.Owning() {
			graph.JoinClears = append(graph.JoinClears, &JoinClear{Rel: rel, Owner: node})
		}

		if err := w.visitRelation(graph, node, rel, value); err != nil {
			return nil, err
		}
	}

	return node, nil
}

// relationValue extracts the cascade-worthy value of one relation: a directly
// assigned field, or a lazy handle's loaded/assigned value. Unresolved lazy
// handles were never loaded or modified and are not cascaded.
func (w *Walker) relationValue(rel *schema.Relationship, owner reflect.Value) (reflect.Value, bool) {
	fv := rel.Field.ReflectValueOf(owner)

	if rel.Lazy {
		if fv.Kind() == reflect.Ptr && fv.IsNil() {
			return reflect.Value{}, false
		}
		if fv.Kind() == reflect.Struct && fv.CanAddr() {
			fv = fv.Addr()
		}
		handle, ok := fv.Interface().(lazy.Handle)
		if !ok {
			return reflect.Value{}, false
		}
		value, ok := handle.CascadeValue()
		if !ok || value == nil {
			return reflect.Value{}, false
		}
		return reflect.ValueOf(value), true
	}

	if fv.IsZero() {
		return reflect.Value{}, false
	}
	return fv, true
}

func (w *Walker) visitRelation(graph *Graph, node *Node, rel *schema.Relationship, value reflect.Value) error {
	elems, err := relationElems(value)
	if err != nil {
		return fmt.Errorf("relation %s on %s: %w", rel.Name, node.Schema.Name, err)
	}

	for _, elem := range elems {
		if !w.cascades(graph, rel, elem) {
			continue
		}

		target, err := w.visit(graph, elem)
		if err != nil {
			return err
		}

		switch rel.Type {
		case schema.BelongsTo:
			// this row holds the foreign key; the referenced row must exist first
			node.In = append(node.In, &Edge{
				Dependent: node,
				Referent:  target,
				Rel:       rel,
				Refs:      rel.References,
			})
		case schema.HasOne, schema.HasMany:
			// the foreign key lives on the target's row
			target.In = append(target.In, &Edge{
				Dependent: target,
				Referent:  node,
				Rel:       rel,
				Refs:      rel.References,
			})
		case schema.Many2Many:
			// entity inserts are unordered relative to each other; only the
			// junction row waits for both. The inverse side never writes one.
			if rel.Owning() {
				graph.addJoin(rel, node, target)
			}
		}
	}

	return nil
}

// cascades applies the relation's cascade flags to the operation the related
// entity would undergo.
func (w *Walker) cascades(graph *Graph, rel *schema.Relationship, elem reflect.Value) bool {
	if graph.Op == store.Delete {
		return rel.Cascade.Remove
	}

	sch, err := schema.Parse(elem.Interface(), w.cacheStore, w.namer)
	if err != nil || sch.PrioritizedPrimaryField == nil {
		return rel.Cascade.Insert
	}
	if _, zero := sch.PrioritizedPrimaryField.ValueOf(elem); zero {
		return rel.Cascade.Insert
	}
	return rel.Cascade.Update
}

// relationElems normalizes a relation value into entity pointers.
func relationElems(value reflect.Value) ([]reflect.Value, error) {
	for value.Kind() == reflect.Interface {
		value = value.Elem()
	}

	switch value.Kind() {
	case reflect.Slice, reflect.Array:
		elems := make([]reflect.Value, 0, value.Len())
		for i := 0; i < value.Len(); i++ {
			elem := value.Index(i)
			if elem.Kind() == reflect.Ptr && elem.IsNil() {
				continue
			}
			elems = append(elems, elem)
		}
		return elems, nil
	case reflect.Ptr:
		if value.IsNil() {
			return nil, nil
		}
		return []reflect.Value{value}, nil
	case reflect.Struct:
		return []reflect.Value{value}, nil
	default:
		return nil, fmt.Errorf("unsupported relation value kind %s", value.Kind())
	}
}
