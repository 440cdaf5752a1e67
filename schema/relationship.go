package schema

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/jinzhu/inflection"

	"github.com/martinschleiss/typeorm/lazy"
)

// RelationshipType relationship type
type RelationshipType string

const (
	HasOne    RelationshipType = "has_one"      // inverse side of a one-to-one
	HasMany   RelationshipType = "has_many"     // inverse side of a many-to-one
	BelongsTo RelationshipType = "belongs_to"   // owning side, holds the foreign key
	Many2Many RelationshipType = "many_to_many" // junction table join strategy
)

// Cascade controls which save operations propagate across a relation.
// Insert and update cascade by default; remove only when declared.
type Cascade struct {
	Insert bool
	Update bool
	Remove bool
}

type Relationships struct {
	HasOne    []*Relationship
	BelongsTo []*Relationship
	HasMany   []*Relationship
	Many2Many []*Relationship
	Relations map[string]*Relationship
}

type Relationship struct {
	Name        string
	Type        RelationshipType
	Field       *Field
	References  []Reference
	Schema      *Schema
	FieldSchema *Schema
	JoinTable   *Schema
	Cascade     Cascade
	Lazy        bool
	ToMany      bool
	// InverseName is the weak back-reference to the descriptor on the other
	// side of a bidirectional relation: a name looked up on demand, so neither
	// descriptor owns the other.
	InverseName string

	foreignKeys, primaryKeys []string
}

// Reference binds one foreign key column to the primary key it copies.
// OwnPrimaryKey is set when the primary key lives on rel.Schema (has one /
// has many), unset when this side holds the foreign key (belongs to).
type Reference struct {
	PrimaryKey    *Field
	ForeignKey    *Field
	OwnPrimaryKey bool
}

// Nullable reports whether the foreign key column may hold null, which
// decides whether a reference cycle can be broken with a deferred update.
func (ref Reference) Nullable() bool {
	return !ref.ForeignKey.NotNull
}

// Inverse resolves the weak back-reference to the other side's descriptor,
// nil when the relation is unidirectional.
func (rel *Relationship) Inverse() *Relationship {
	if rel.InverseName == "" || rel.FieldSchema == nil {
		return nil
	}
	return rel.FieldSchema.Relationships.Relations[rel.InverseName]
}

// Owning reports whether this side produces write operations. Only the
// belongs-to side writes its foreign key and only the many-to-many side
// declared without inverseOf writes junction rows; everything an inverse side
// describes is written through the owning side instead.
func (rel *Relationship) Owning() bool {
	switch rel.Type {
	case BelongsTo:
		return true
	case Many2Many:
		return rel.InverseName == ""
	default:
		return false
	}
}

func (schema *Schema) parseRelation(field *Field) {
	relation := &Relationship{
		Name:        field.Name,
		Field:       field,
		Schema:      schema,
		Cascade:     parseCascade(field.TagSettings["CASCADE"]),
		InverseName: strings.TrimSpace(field.TagSettings["INVERSEOF"]),
		foreignKeys: toColumns(field.TagSettings["FOREIGNKEY"]),
		primaryKeys: toColumns(field.TagSettings["REFERENCES"]),
	}

	valueType := field.IndirectFieldType
	if vt, ok := lazy.ValueTypeOf(valueType); ok {
		relation.Lazy = true
		valueType = vt
	}

	targetType := valueType
	for targetType.Kind() == reflect.Ptr {
		targetType = targetType.Elem()
	}
	if targetType.Kind() == reflect.Slice {
		relation.ToMany = true
		targetType = targetType.Elem()
		for targetType.Kind() == reflect.Ptr {
			targetType = targetType.Elem()
		}
	}

	if targetType.Kind() != reflect.Struct {
		schema.err = fmt.Errorf("unsupported relation type %v for %v on field %v", valueType, schema, field.Name)
		return
	}

	var err error
	if relation.FieldSchema, err = Parse(reflect.New(targetType).Interface(), schema.cacheStore, schema.namer); err != nil {
		schema.err = err
		return
	}

	if many2many := field.TagSettings["MANY2MANY"]; many2many != "" {
		schema.buildMany2ManyRelation(relation, field, many2many)
	} else if relation.ToMany {
		schema.guessRelation(relation, field, true)
		if relation.Type == "has" {
			relation.Type = HasMany
		} else if schema.err == nil && relation.Type == BelongsTo {
			schema.err = fmt.Errorf("unsupported relations %v for %v on field %v: a slice cannot hold the foreign key", relation.FieldSchema, schema, field.Name)
		}
	} else {
		schema.guessRelation(relation, field, true)
		if relation.Type == "has" {
			relation.Type = HasOne
		}
	}

	if schema.err == nil {
		schema.Relationships.Relations[relation.Name] = relation
		switch relation.Type {
		case HasOne:
			schema.Relationships.HasOne = append(schema.Relationships.HasOne, relation)
		case HasMany:
			schema.Relationships.HasMany = append(schema.Relationships.HasMany, relation)
		case BelongsTo:
			schema.Relationships.BelongsTo = append(schema.Relationships.BelongsTo, relation)
		case Many2Many:
			schema.Relationships.Many2Many = append(schema.Relationships.Many2Many, relation)
		}
	}
}

func parseCascade(val string) Cascade {
	switch strings.ToLower(strings.TrimSpace(val)) {
	case "":
		return Cascade{Insert: true, Update: true}
	case "all":
		return Cascade{Insert: true, Update: true, Remove: true}
	case "none":
		return Cascade{}
	}

	var cascade Cascade
	for _, v := range strings.Split(val, ",") {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "insert":
			cascade.Insert = true
		case "update":
			cascade.Update = true
		case "remove":
			cascade.Remove = true
		}
	}
	return cascade
}

func (schema *Schema) buildMany2ManyRelation(relation *Relationship, field *Field, many2many string) {
	relation.Type = Many2Many
	relation.ToMany = true

	var (
		err             error
		joinTableFields []reflect.StructField
		fieldsMap       = map[string]*Field{}
		ownFieldsMap    = map[string]bool{} // fix self join many2many
	)

	for _, s := range []*Schema{schema, relation.FieldSchema} {
		for _, primaryField := range s.PrimaryFields {
			fieldName := s.Name + primaryField.Name
			if _, ok := fieldsMap[fieldName]; ok {
				if field.Name != s.Name {
					fieldName = inflection.Singular(field.Name) + primaryField.Name
				} else {
					fieldName = s.Name + primaryField.Name + "Reference"
				}
			} else {
				ownFieldsMap[fieldName] = true
			}

			fieldsMap[fieldName] = primaryField
			joinTableFields = append(joinTableFields, reflect.StructField{
				Name:    fieldName,
				PkgPath: primaryField.StructField.PkgPath,
				Type:    primaryField.StructField.Type,
			})
		}
	}

	if relation.JoinTable, err = Parse(reflect.New(reflect.StructOf(joinTableFields)).Interface(), schema.cacheStore, schema.namer); err != nil {
		schema.err = err
		return
	}
	relation.JoinTable.Name = many2many
	relation.JoinTable.Table = schema.namer.JoinTableName(many2many)

	// build references
	for _, f := range relation.JoinTable.Fields {
		relation.References = append(relation.References, Reference{
			PrimaryKey:    fieldsMap[f.Name],
			ForeignKey:    f,
			OwnPrimaryKey: schema == fieldsMap[f.Name].Schema && ownFieldsMap[f.Name],
		})
	}
}

func (schema *Schema) guessRelation(relation *Relationship, field *Field, guessHas bool) {
	var (
		primaryFields, foreignFields []*Field
		primarySchema, foreignSchema = schema, relation.FieldSchema
	)

	if !guessHas {
		primarySchema, foreignSchema = relation.FieldSchema, schema
	}

	reguessOrErr := func(err string, args ...interface{}) {
		if guessHas {
			schema.guessRelation(relation, field, false)
		} else {
			schema.err = fmt.Errorf(err, args...)
		}
	}

	if len(relation.foreignKeys) > 0 {
		for _, foreignKey := range relation.foreignKeys {
			if f := foreignSchema.LookUpField(foreignKey); f != nil {
				foreignFields = append(foreignFields, f)
			} else {
				reguessOrErr("unsupported relations %v for %v on field %v with foreign keys %v", relation.FieldSchema, schema, field.Name, relation.foreignKeys)
				return
			}
		}
	} else {
		for _, primaryField := range primarySchema.PrimaryFields {
			lookUpName := schema.Name + primaryField.Name
			if !guessHas {
				lookUpName = field.Name + primaryField.Name
			}

			if f := foreignSchema.LookUpField(lookUpName); f != nil {
				foreignFields = append(foreignFields, f)
				primaryFields = append(primaryFields, primaryField)
			}
		}
	}

	if len(foreignFields) == 0 {
		reguessOrErr("failed to guess %v's relations with %v's field %v", relation.FieldSchema, schema, field.Name)
		return
	} else if len(relation.primaryKeys) > 0 {
		for idx, primaryKey := range relation.primaryKeys {
			if f := primarySchema.LookUpField(primaryKey); f != nil {
				if len(primaryFields) < idx+1 {
					primaryFields = append(primaryFields, f)
				} else if f != primaryFields[idx] {
					reguessOrErr("unsupported relations %v for %v on field %v with primary keys %v", relation.FieldSchema, schema, field.Name, relation.primaryKeys)
					return
				}
			} else {
				reguessOrErr("unsupported relations %v for %v on field %v with primary keys %v", relation.FieldSchema, schema, field.Name, relation.primaryKeys)
				return
			}
		}
	} else if len(primaryFields) == 0 {
		if len(foreignFields) == 1 {
			primaryFields = append(primaryFields, primarySchema.PrioritizedPrimaryField)
		} else if len(primarySchema.PrimaryFields) == len(foreignFields) {
			primaryFields = append(primaryFields, primarySchema.PrimaryFields...)
		} else {
			reguessOrErr("unsupported relations %v for %v on field %v", relation.FieldSchema, schema, field.Name)
			return
		}
	}

	// build references
	for idx, foreignField := range foreignFields {
		relation.References = append(relation.References, Reference{
			PrimaryKey:    primaryFields[idx],
			ForeignKey:    foreignField,
			OwnPrimaryKey: schema == primarySchema && guessHas,
		})
	}

	if guessHas {
		relation.Type = "has"
	} else {
		relation.Type = BelongsTo
	}
}
