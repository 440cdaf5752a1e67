package persist

import (
	"reflect"

	"github.com/martinschleiss/typeorm/schema"
	"github.com/martinschleiss/typeorm/store"
)

// Graph is the dependency graph one save or remove call operates on: one
// identity-keyed node per reachable entity instance plus the junction rows
// the walk discovered. Cycles are represented, not resolved, here; the
// ordering pass decides how to break them.
type Graph struct {
	Op         store.OpKind // Insert for save graphs, Delete for remove graphs
	Nodes      []*Node
	Joins      []*JoinRow
	JoinClears []*JoinClear

	index     map[nodeKey]*Node
	joinIndex map[joinKey]bool
}

// Node is one pending operation on one entity instance. In holds the
// must-precede edges: every In[i].Referent has to be written before this
// node, because this node's row carries a foreign key referencing it.
type Node struct {
	Seq    int
	Value  reflect.Value // pointer to the entity struct
	Schema *schema.Schema
	Kind   store.OpKind
	In     []*Edge
}

// Edge is one owning-side foreign-key dependency. The foreign key columns
// always live on the Dependent's row; Refs pairs them with the primary key
// fields read from the Referent. Deferred is set by the ordering pass when
// the edge was broken out of a cycle and must be satisfied by a follow-up
// update instead.
type Edge struct {
	Dependent *Node
	Referent  *Node
	Rel       *schema.Relationship
	Refs      []schema.Reference
	Deferred  bool
}

// Nullable reports whether every foreign key column on the edge may hold
// null, i.e. whether the edge can be broken out of a cycle.
func (e *Edge) Nullable() bool {
	for _, ref := range e.Refs {
		if !ref.Nullable() {
			return false
		}
	}
	return true
}

// JoinRow is one pending junction-table write for a many-to-many pair. It
// never induces ordering between the two entity inserts but must follow both.
type JoinRow struct {
	Rel    *schema.Relationship
	Owner  *Node
	Target *Node
}

// JoinClear deletes every junction row owned by one entity, issued ahead of
// the entity deletes so referential integrity on the junction table holds.
type JoinClear struct {
	Rel   *schema.Relationship
	Owner *Node
}

// nodeKey identifies one entity instance. The address alone is not enough: a
// struct-valued relation declared as the first field of its owner shares the
// owner's address, so the type disambiguates.
type nodeKey struct {
	ptr uintptr
	typ reflect.Type
}

type joinKey struct {
	rel           *schema.Relationship
	owner, target *Node
}

func newGraph(op store.OpKind) *Graph {
	return &Graph{
		Op:        op,
		index:     map[nodeKey]*Node{},
		joinIndex: map[joinKey]bool{},
	}
}

func (g *Graph) lookup(value reflect.Value) *Node {
	return g.index[nodeKey{ptr: value.Pointer(), typ: value.Type()}]
}

func (g *Graph) add(value reflect.Value, sch *schema.Schema, kind store.OpKind) *Node {
	node := &Node{
		Seq:    len(g.Nodes),
		Value:  value,
		Schema: sch,
		Kind:   kind,
	}
	g.Nodes = append(g.Nodes, node)
	g.index[nodeKey{ptr: value.Pointer(), typ: value.Type()}] = node
	return node
}

// addJoin records a junction row once per (relation, owner, target) triple,
// so a pair reachable via two paths is written a single time.
func (g *Graph) addJoin(rel *schema.Relationship, owner, target *Node) {
	key := joinKey{rel: rel, owner: owner, target: target}
	if g.joinIndex[key] {
		return
	}
	g.joinIndex[key] = true
	g.Joins = append(g.Joins, &JoinRow{Rel: rel, Owner: owner, Target: target})
}
