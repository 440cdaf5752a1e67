package persist

import (
	"sort"

	"github.com/martinschleiss/typeorm/store"
)

// StepKind plan step kind
type StepKind int

const (
	// StepEntity insert, update or delete one entity row
	StepEntity StepKind = iota
	// StepDeferredFK follow-up update satisfying a cycle-broken foreign key
	StepDeferredFK
	// StepJoin insert one junction row
	StepJoin
	// StepJoinClear delete all junction rows owned by one entity
	StepJoinClear
)

// Step is one scheduled operation in a plan.
type Step struct {
	Kind StepKind
	Node *Node
	Edge *Edge
	Join *JoinRow
	Rel  *JoinClear
}

// Plan is the strict operation sequence one save or remove call executes.
// Foreign-key dependencies forbid reordering, so it is a sequence, never a
// parallel schedule.
type Plan struct {
	Op    store.OpKind
	Steps []Step
}

// Order linearizes a dependency graph into a plan.
//
// Save graphs are sorted topologically over the must-precede edges, ties
// broken by discovery order so plans are deterministic. A cycle is broken by
// deferring an edge whose foreign key columns are all nullable: the
// dependent row is written with the foreign key unset and a follow-up update
// fills it once every cycle member has an identifier. A cycle in which no
// edge is deferrable is a configuration error, reported before any store
// operation runs.
//
// Remove graphs execute in reverse: junction rows are cleared first, cycle
// edges are nulled out, then entities are deleted dependents-first.
func Order(graph *Graph) (*Plan, error) {
	ordered, deferred, err := sortNodes(graph)
	if err != nil {
		return nil, err
	}

	plan := &Plan{Op: graph.Op}

	if graph.Op == store.Delete {
		for _, clear := range graph.JoinClears {
			plan.Steps = append(plan.Steps, Step{Kind: StepJoinClear, Rel: clear})
		}
		// nulling broken-cycle foreign keys first makes the deletes orderable
		for _, edge := range deferred {
			plan.Steps = append(plan.Steps, Step{Kind: StepDeferredFK, Edge: edge, Node: edge.Dependent})
		}
		for i := len(ordered) - 1; i >= 0; i-- {
			plan.Steps = append(plan.Steps, Step{Kind: StepEntity, Node: ordered[i]})
		}
		return plan, nil
	}

	for _, node := range ordered {
		plan.Steps = append(plan.Steps, Step{Kind: StepEntity, Node: node})
	}
	for _, edge := range deferred {
		plan.Steps = append(plan.Steps, Step{Kind: StepDeferredFK, Edge: edge, Node: edge.Dependent})
	}
	for _, clear := range graph.JoinClears {
		plan.Steps = append(plan.Steps, Step{Kind: StepJoinClear, Rel: clear})
	}
	for _, join := range graph.Joins {
		plan.Steps = append(plan.Steps, Step{Kind: StepJoin, Join: join})
	}

	return plan, nil
}

// sortNodes runs a stable Kahn's sort, deferring nullable cycle edges as
// needed. Self-referencing edges are deferred up front: a row can never
// precede itself.
func sortNodes(graph *Graph) ([]*Node, []*Edge, error) {
	var deferred []*Edge
	indegree := make(map[*Node]int, len(graph.Nodes))

	for _, node := range graph.Nodes {
		for _, edge := range node.In {
			if edge.Referent == edge.Dependent {
				if !edge.Nullable() {
					return nil, nil, &CycleError{Relations: []string{edge.Rel.Name}}
				}
				edge.Deferred = true
				deferred = append(deferred, edge)
				continue
			}
			indegree[node]++
		}
	}

	var (
		ordered = make([]*Node, 0, len(graph.Nodes))
		emitted = make(map[*Node]bool, len(graph.Nodes))
	)

	for len(ordered) < len(graph.Nodes) {
		progress := false

		for _, node := range graph.Nodes { // ascending discovery order
			if emitted[node] || indegree[node] != 0 {
				continue
			}
			emitted[node] = true
			ordered = append(ordered, node)
			progress = true

			for _, dep := range graph.Nodes {
				if emitted[dep] {
					continue
				}
				for _, edge := range dep.In {
					if !edge.Deferred && edge.Referent == node {
						indegree[dep]--
					}
				}
			}
		}

		if progress {
			continue
		}

		// every remaining node sits in a cycle; break the first nullable edge
		edge := pickDeferrable(graph, emitted)
		if edge == nil {
			return nil, nil, &CycleError{Relations: cycleRelations(graph, emitted)}
		}
		edge.Deferred = true
		deferred = append(deferred, edge)
		indegree[edge.Dependent]--
	}

	return ordered, deferred, nil
}

func pickDeferrable(graph *Graph, emitted map[*Node]bool) *Edge {
	for _, node := range graph.Nodes {
		if emitted[node] {
			continue
		}
		for _, edge := range node.In {
			if edge.Deferred || emitted[edge.Referent] {
				continue
			}
			if edge.Nullable() {
				return edge
			}
		}
	}
	return nil
}

func cycleRelations(graph *Graph, emitted map[*Node]bool) []string {
	seen := map[string]bool{}
	var names []string
	for _, node := range graph.Nodes {
		if emitted[node] {
			continue
		}
		for _, edge := range node.In {
			if edge.Deferred || emitted[edge.Referent] || seen[edge.Rel.Name] {
				continue
			}
			seen[edge.Rel.Name] = true
			names = append(names, edge.Rel.Name)
		}
	}
	sort.Strings(names)
	return names
}
