package schema

import (
	"fmt"
	"strings"

	"github.com/jinzhu/inflection"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Namer namer interface
type Namer interface {
	TableName(table string) string
	SchemaName(table string) string
	ColumnName(table, column string) string
	JoinTableName(table string) string
	RelationshipFKName(Relationship) string
}

// NamingStrategy tables, columns naming strategy
type NamingStrategy struct {
	TablePrefix   string
	SingularTable bool
}

// TableName convert string to table name
func (ns NamingStrategy) TableName(str string) string {
	if ns.SingularTable {
		return ns.TablePrefix + ToDBName(str)
	}
	return ns.TablePrefix + inflection.Plural(ToDBName(str))
}

var titleCaser = cases.Title(language.English, cases.NoLower)

// SchemaName convert table name back to a schema (entity) name, e.g. blog_posts => BlogPost
func (ns NamingStrategy) SchemaName(table string) string {
	table = strings.TrimPrefix(table, ns.TablePrefix)
	result := strings.ReplaceAll(titleCaser.String(strings.ReplaceAll(table, "_", " ")), " ", "")

	if ns.SingularTable {
		return result
	}
	return inflection.Singular(result)
}

// ColumnName convert string to column name
func (ns NamingStrategy) ColumnName(table, column string) string {
	return ToDBName(column)
}

// JoinTableName convert string to join table name
func (ns NamingStrategy) JoinTableName(str string) string {
	if strings.ToLower(str) == str {
		return ns.TablePrefix + str
	}

	if ns.SingularTable {
		return ns.TablePrefix + ToDBName(str)
	}
	return ns.TablePrefix + inflection.Plural(ToDBName(str))
}

// RelationshipFKName generate fk name for relation
func (ns NamingStrategy) RelationshipFKName(rel Relationship) string {
	return fmt.Sprintf("fk_%s_%s", rel.Schema.Table, ToDBName(rel.Name))
}
