// Package schema builds the immutable metadata describing entity types: table
// identity, column descriptors and relation descriptors. Metadata is parsed
// once per model type from struct tags and cached; everything downstream
// (walker, ordering engine, hydration) consumes it read-only.
package schema

import (
	"fmt"
	"go/ast"
	"reflect"
	"sync"
)

type Schema struct {
	Name                    string
	ModelType               reflect.Type
	Table                   string
	PrioritizedPrimaryField *Field
	PrimaryFields           []*Field
	Fields                  []*Field
	FieldsByName            map[string]*Field
	FieldsByDBName          map[string]*Field
	Relationships           Relationships
	err                     error
	namer                   Namer
	cacheStore              *sync.Map
}

func (schema Schema) String() string {
	if schema.ModelType.Name() == "" {
		return fmt.Sprintf("%v(%v)", schema.Name, schema.Table)
	}
	return fmt.Sprintf("%v.%v", schema.ModelType.PkgPath(), schema.ModelType.Name())
}

func (schema Schema) LookUpField(name string) *Field {
	if field, ok := schema.FieldsByDBName[name]; ok {
		return field
	}
	if field, ok := schema.FieldsByName[name]; ok {
		return field
	}
	return nil
}

// Parse get entity metadata for the value's model type, building and caching
// it on first use. Mutually referencing model types resolve through the
// cache: a schema is stored before its relations parse, so each side of a
// bidirectional relation sees the other mid-construction.
func Parse(dest interface{}, cacheStore *sync.Map, namer Namer) (*Schema, error) {
	if dest == nil {
		return nil, fmt.Errorf("unsupported data %+v when parsing model", dest)
	}

	modelType := reflect.ValueOf(dest).Type()
	for modelType.Kind() == reflect.Slice || modelType.Kind() == reflect.Array || modelType.Kind() == reflect.Ptr {
		modelType = modelType.Elem()
	}

	if modelType.Kind() != reflect.Struct {
		if modelType.PkgPath() == "" {
			return nil, fmt.Errorf("unsupported data %+v when parsing model", dest)
		}
		return nil, fmt.Errorf("unsupported data type %v when parsing model", modelType.PkgPath())
	}

	if v, ok := cacheStore.Load(modelType); ok {
		return v.(*Schema), nil
	}

	schema := &Schema{
		Name:           modelType.Name(),
		ModelType:      modelType,
		Table:          namer.TableName(modelType.Name()),
		FieldsByName:   map[string]*Field{},
		FieldsByDBName: map[string]*Field{},
		Relationships:  Relationships{Relations: map[string]*Relationship{}},
		cacheStore:     cacheStore,
		namer:          namer,
	}

	if tabler, ok := dest.(Tabler); ok {
		schema.Table = tabler.TableName()
	}

	defer func() {
		if schema.err != nil {
			cacheStore.Delete(modelType)
		}
	}()

	for i := 0; i < modelType.NumField(); i++ {
		if fieldStruct := modelType.Field(i); ast.IsExported(fieldStruct.Name) {
			schema.Fields = append(schema.Fields, schema.ParseField(fieldStruct))
		}
	}

	for _, field := range schema.Fields {
		if field.DBName == "" && field.DataType != "" {
			field.DBName = namer.ColumnName(schema.Table, field.Name)
		}

		if field.DBName != "" {
			if _, ok := schema.FieldsByDBName[field.DBName]; !ok {
				schema.FieldsByDBName[field.DBName] = field

				if field.PrimaryKey {
					if schema.PrioritizedPrimaryField == nil {
						schema.PrioritizedPrimaryField = field
					}
					schema.PrimaryFields = append(schema.PrimaryFields, field)
				}
			}
		}

		if _, ok := schema.FieldsByName[field.Name]; !ok {
			schema.FieldsByName[field.Name] = field
		}
	}

	if f := schema.LookUpField("id"); f != nil && len(schema.PrimaryFields) == 0 {
		f.PrimaryKey = true
		schema.PrioritizedPrimaryField = f
		schema.PrimaryFields = append(schema.PrimaryFields, f)
	}

	if f := schema.PrioritizedPrimaryField; f != nil {
		switch f.DataType {
		case Int, Uint:
			if _, ok := f.TagSettings["AUTOINCREMENT"]; !ok {
				f.AutoIncrement = true
				f.HasDefaultValue = true
			}
		case UUID:
			// generated engine-side at insert when zero
			f.HasDefaultValue = true
		}
	}

	// the winner of a concurrent first parse continues below; every loser
	// hands back the winner's instance so a type has one schema
	if v, loaded := cacheStore.LoadOrStore(modelType, schema); loaded {
		return v.(*Schema), nil
	}

	// parse relations for unidentified fields
	for _, field := range schema.Fields {
		if field.DataType == "" && field.Creatable {
			if schema.parseRelation(field); schema.err != nil {
				return schema, schema.err
			}
		}
	}

	return schema, schema.err
}

// Tabler overrides the generated table name
type Tabler interface {
	TableName() string
}
