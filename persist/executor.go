package persist

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/martinschleiss/typeorm/logger"
	"github.com/martinschleiss/typeorm/schema"
	"github.com/martinschleiss/typeorm/store"
)

// Executor dispatches a plan's operations strictly in sequence. Generated
// identifiers are captured and propagated into every still-pending
// operation's foreign-key slots before that operation is dispatched. Nothing
// is rolled back on failure; surfacing the failing position and leaving
// transaction control to the store side is deliberate.
type Executor struct {
	Store store.Store
	Log   logger.Interface
}

func NewExecutor(st store.Store, log logger.Interface) *Executor {
	if log == nil {
		log = logger.Default
	}
	return &Executor{Store: st, Log: log}
}

// Run executes the plan. The returned error wraps the store's error
// unmodified, annotated with the failing operation's position.
func (e *Executor) Run(ctx context.Context, plan *Plan) error {
	for i, step := range plan.Steps {
		op, err := e.buildOperation(plan, step)
		if err != nil {
			return err
		}

		begin := time.Now()
		result, err := e.Store.Execute(ctx, op)
		e.Log.Trace(ctx, begin, func() (string, int64) {
			return describeOperation(op), result.AffectedRows
		}, err)
		if err != nil {
			return &OperationError{Index: i, Kind: op.Kind, Table: op.Table, Err: err}
		}

		if step.Kind == StepEntity && step.Node.Kind == store.Insert {
			e.backfillGeneratedKey(step.Node, result)
		}
	}

	return nil
}

func (e *Executor) buildOperation(plan *Plan, step Step) (*store.Operation, error) {
	switch step.Kind {
	case StepEntity:
		switch step.Node.Kind {
		case store.Insert:
			return e.buildInsert(step.Node)
		case store.Update:
			return e.buildUpdate(step.Node)
		default:
			return e.buildDelete(step.Node)
		}
	case StepDeferredFK:
		return e.buildDeferredFK(plan, step.Edge)
	case StepJoin:
		return e.buildJoin(step.Join)
	default:
		return e.buildJoinClear(step.Rel)
	}
}

func (e *Executor) buildInsert(node *Node) (*store.Operation, error) {
	if err := satisfyForeignKeys(node); err != nil {
		return nil, err
	}

	if pk := node.Schema.PrioritizedPrimaryField; pk != nil && pk.DataType == schema.UUID {
		if _, zero := pk.ValueOf(node.Value); zero {
			if err := pk.Set(node.Value, uuid.New()); err != nil {
				return nil, err
			}
		}
	}

	op := &store.Operation{Kind: store.Insert, Table: node.Schema.Table}
	for _, field := range node.Schema.Fields {
		if field.DataType == "" || !field.Creatable {
			continue
		}
		value, zero := field.ValueOf(node.Value)
		if zero && field.AutoIncrement {
			continue // the store assigns it
		}
		if zero && deferredForeignKey(node, field) {
			value = nil // filled by the follow-up update
		}
		op.Columns = append(op.Columns, field.DBName)
		op.Values = append(op.Values, value)
	}
	return op, nil
}

func (e *Executor) buildUpdate(node *Node) (*store.Operation, error) {
	if err := satisfyForeignKeys(node); err != nil {
		return nil, err
	}

	whereKey, err := primaryWhereKey(node)
	if err != nil {
		return nil, err
	}

	op := &store.Operation{Kind: store.Update, Table: node.Schema.Table, WhereKey: whereKey}
	for _, field := range node.Schema.Fields {
		if field.DataType == "" || !field.Updatable || field.PrimaryKey {
			continue
		}
		// nil pointer fields surface as nil here and write NULL; zero
		// scalars are written as-is
		value, _ := field.ValueOf(node.Value)
		op.Columns = append(op.Columns, field.DBName)
		op.Values = append(op.Values, value)
	}
	return op, nil
}

func (e *Executor) buildDelete(node *Node) (*store.Operation, error) {
	whereKey, err := primaryWhereKey(node)
	if err != nil {
		return nil, err
	}
	return &store.Operation{Kind: store.Delete, Table: node.Schema.Table, WhereKey: whereKey}, nil
}

// buildDeferredFK produces the follow-up update for a cycle-broken edge: on
// save it fills the foreign key now that the referent has an identifier, on
// remove it nulls the foreign key so the deletes become orderable.
func (e *Executor) buildDeferredFK(plan *Plan, edge *Edge) (*store.Operation, error) {
	whereKey, err := primaryWhereKey(edge.Dependent)
	if err != nil {
		return nil, err
	}

	op := &store.Operation{Kind: store.Update, Table: edge.Dependent.Schema.Table, WhereKey: whereKey}
	for _, ref := range edge.Refs {
		if plan.Op == store.Delete {
			op.Columns = append(op.Columns, ref.ForeignKey.DBName)
			op.Values = append(op.Values, nil)
			continue
		}

		value, zero := ref.PrimaryKey.ValueOf(edge.Referent.Value)
		if zero {
			return nil, fmt.Errorf("%w: deferred foreign key %s has no referent identifier", ErrPrimaryKeyRequired, ref.ForeignKey.DBName)
		}
		if err := ref.ForeignKey.Set(edge.Dependent.Value, value); err != nil {
			return nil, err
		}
		op.Columns = append(op.Columns, ref.ForeignKey.DBName)
		op.Values = append(op.Values, value)
	}
	return op, nil
}

func (e *Executor) buildJoin(join *JoinRow) (*store.Operation, error) {
	op := &store.Operation{Kind: store.Insert, Table: join.Rel.JoinTable.Table}
	for _, ref := range join.Rel.References {
		source := join.Target
		if ref.OwnPrimaryKey {
			source = join.Owner
		}
		value, zero := ref.PrimaryKey.ValueOf(source.Value)
		if zero {
			return nil, fmt.Errorf("%w: junction row for %s needs both identifiers", ErrPrimaryKeyRequired, join.Rel.Name)
		}
		op.Columns = append(op.Columns, ref.ForeignKey.DBName)
		op.Values = append(op.Values, value)
	}
	return op, nil
}

func (e *Executor) buildJoinClear(clear *JoinClear) (*store.Operation, error) {
	whereKey := map[string]interface{}{}
	for _, ref := range clear.Rel.References {
		if !ref.OwnPrimaryKey {
			continue
		}
		value, zero := ref.PrimaryKey.ValueOf(clear.Owner.Value)
		if zero {
			return nil, fmt.Errorf("%w: cannot clear junction rows for %s", ErrPrimaryKeyRequired, clear.Rel.Name)
		}
		whereKey[ref.ForeignKey.DBName] = value
	}
	return &store.Operation{Kind: store.Delete, Table: clear.Rel.JoinTable.Table, WhereKey: whereKey}, nil
}

// satisfyForeignKeys copies the referent's identifier into every owning-side
// foreign key slot of the node that is not part of a broken cycle. By plan
// construction each referent was dispatched earlier, so the identifier is
// known here.
func satisfyForeignKeys(node *Node) error {
	for _, edge := range node.In {
		if edge.Deferred {
			continue
		}
		for _, ref := range edge.Refs {
			value, zero := ref.PrimaryKey.ValueOf(edge.Referent.Value)
			if zero {
				return fmt.Errorf("%w: foreign key %s on %s references an unsaved %s",
					ErrPrimaryKeyRequired, ref.ForeignKey.DBName, node.Schema.Name, edge.Referent.Schema.Name)
			}
			if err := ref.ForeignKey.Set(node.Value, value); err != nil {
				return err
			}
		}
	}
	return nil
}

func deferredForeignKey(node *Node, field *schema.Field) bool {
	for _, edge := range node.In {
		if !edge.Deferred {
			continue
		}
		for _, ref := range edge.Refs {
			if ref.ForeignKey == field {
				return true
			}
		}
	}
	return false
}

func (e *Executor) backfillGeneratedKey(node *Node, result store.Result) {
	pk := node.Schema.PrioritizedPrimaryField
	if pk == nil || !pk.AutoIncrement || !result.HasKey {
		return
	}
	if _, zero := pk.ValueOf(node.Value); zero {
		_ = pk.Set(node.Value, result.GeneratedKey)
	}
}

func primaryWhereKey(node *Node) (map[string]interface{}, error) {
	if len(node.Schema.PrimaryFields) == 0 {
		return nil, fmt.Errorf("%w: %s has no primary key", ErrPrimaryKeyRequired, node.Schema.Name)
	}

	whereKey := map[string]interface{}{}
	for _, pk := range node.Schema.PrimaryFields {
		value, zero := pk.ValueOf(node.Value)
		if zero {
			return nil, fmt.Errorf("%w: %s.%s is zero", ErrPrimaryKeyRequired, node.Schema.Name, pk.Name)
		}
		whereKey[pk.DBName] = value
	}
	return whereKey, nil
}

func describeOperation(op *store.Operation) string {
	if len(op.WhereKey) > 0 {
		return fmt.Sprintf("%s %s columns=%v where=%v", op.Kind, op.Table, op.Columns, op.WhereKey)
	}
	return fmt.Sprintf("%s %s columns=%v", op.Kind, op.Table, op.Columns)
}
