package schema

import (
	"database/sql"
	"database/sql/driver"
	"fmt"
	"reflect"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jinzhu/now"
)

type DataType string

const (
	Bool   DataType = "bool"
	Int    DataType = "int"
	Uint   DataType = "uint"
	Float  DataType = "float"
	String DataType = "string"
	Time   DataType = "time"
	Bytes  DataType = "bytes"
	UUID   DataType = "uuid"
)

var (
	// TimeReflectType time.Time reflect type
	TimeReflectType = reflect.TypeOf(time.Time{})
	// UUIDReflectType uuid.UUID reflect type
	UUIDReflectType = reflect.TypeOf(uuid.UUID{})
)

type Field struct {
	Name              string
	DBName            string
	DataType          DataType
	PrimaryKey        bool
	AutoIncrement     bool
	Creatable         bool
	Updatable         bool
	Readable          bool
	HasDefaultValue   bool
	DefaultValue      string
	NotNull           bool
	Unique            bool
	Size              int
	FieldType         reflect.Type
	IndirectFieldType reflect.Type
	StructField       reflect.StructField
	Tag               reflect.StructTag
	TagSettings       map[string]string
	Schema            *Schema
	ReflectValueOf    func(reflect.Value) reflect.Value
	ValueOf           func(reflect.Value) (value interface{}, zero bool)
	Set               func(reflect.Value, interface{}) error
}

func (schema *Schema) ParseField(fieldStruct reflect.StructField) *Field {
	field := &Field{
		Name:              fieldStruct.Name,
		FieldType:         fieldStruct.Type,
		IndirectFieldType: fieldStruct.Type,
		StructField:       fieldStruct,
		Creatable:         true,
		Updatable:         true,
		Readable:          true,
		Tag:               fieldStruct.Tag,
		TagSettings:       ParseTagSetting(fieldStruct.Tag.Get("orm"), ";"),
		Schema:            schema,
	}

	for field.IndirectFieldType.Kind() == reflect.Ptr {
		field.IndirectFieldType = field.IndirectFieldType.Elem()
	}

	if _, ok := field.TagSettings["-"]; ok {
		field.Creatable = false
		field.Updatable = false
		field.Readable = false
		field.DataType = ""
		return field
	}

	if dbName, ok := field.TagSettings["COLUMN"]; ok {
		field.DBName = dbName
	}

	if val, ok := field.TagSettings["PRIMARYKEY"]; ok && checkTruth(val) {
		field.PrimaryKey = true
	} else if val, ok := field.TagSettings["PRIMARY_KEY"]; ok && checkTruth(val) {
		field.PrimaryKey = true
	}

	if val, ok := field.TagSettings["NOT NULL"]; ok && checkTruth(val) {
		field.NotNull = true
	}

	if val, ok := field.TagSettings["UNIQUE"]; ok && checkTruth(val) {
		field.Unique = true
	}

	if val, ok := field.TagSettings["DEFAULT"]; ok {
		field.HasDefaultValue = true
		field.DefaultValue = val
	}

	if num, ok := field.TagSettings["SIZE"]; ok {
		if size, err := strconv.Atoi(num); err == nil {
			field.Size = size
		}
	}

	fieldValue := reflect.New(field.IndirectFieldType)
	if _, isValuer := fieldValue.Interface().(driver.Valuer); isValuer && field.IndirectFieldType != UUIDReflectType {
		if _, isScanner := fieldValue.Interface().(sql.Scanner); isScanner {
			field.DataType = String
		}
	}

	switch field.IndirectFieldType.Kind() {
	case reflect.Bool:
		field.DataType = Bool
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		field.DataType = Int
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		field.DataType = Uint
	case reflect.Float32, reflect.Float64:
		field.DataType = Float
	case reflect.String:
		field.DataType = String
	case reflect.Struct:
		if field.IndirectFieldType.ConvertibleTo(TimeReflectType) {
			field.DataType = Time
		} else if field.IndirectFieldType == UUIDReflectType {
			field.DataType = UUID
		}
	case reflect.Array, reflect.Slice:
		if field.IndirectFieldType == UUIDReflectType {
			field.DataType = UUID
		} else if field.IndirectFieldType.Elem().Kind() == reflect.Uint8 {
			field.DataType = Bytes
		}
	}

	if val, ok := field.TagSettings["AUTOINCREMENT"]; ok && checkTruth(val) {
		field.AutoIncrement = true
		field.HasDefaultValue = true
	}

	field.setupValuerAndSetter()
	return field
}

// setupValuerAndSetter builds the reflection accessors; only direct struct
// fields participate, relations and ignored fields never reach the store.
func (field *Field) setupValuerAndSetter() {
	fieldIndex := field.StructField.Index[0]

	field.ReflectValueOf = func(value reflect.Value) reflect.Value {
		return reflect.Indirect(value).Field(fieldIndex)
	}

	field.ValueOf = func(value reflect.Value) (interface{}, bool) {
		fv := reflect.Indirect(value).Field(fieldIndex)
		if fv.Kind() == reflect.Ptr {
			if fv.IsNil() {
				return nil, true
			}
			fv = fv.Elem()
		}
		return fv.Interface(), fv.IsZero()
	}

	field.Set = func(value reflect.Value, v interface{}) error {
		fv := reflect.Indirect(value).Field(fieldIndex)

		if v == nil {
			fv.Set(reflect.Zero(fv.Type()))
			return nil
		}

		if fv.Kind() == reflect.Ptr {
			if fv.IsNil() {
				fv.Set(reflect.New(fv.Type().Elem()))
			}
			fv = fv.Elem()
		}

		if rv := reflect.ValueOf(v); rv.Type() == fv.Type() {
			fv.Set(rv)
			return nil
		}

		switch fv.Kind() {
		case reflect.Bool:
			switch data := v.(type) {
			case bool:
				fv.SetBool(data)
			case int64:
				fv.SetBool(data != 0)
			case string:
				b, err := strconv.ParseBool(data)
				if err != nil {
					return fmt.Errorf("failed to set string %q to bool field %v: %w", data, field.Name, err)
				}
				fv.SetBool(b)
			default:
				return fallbackSetter(fv, v, field)
			}
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			switch data := v.(type) {
			case int64:
				fv.SetInt(data)
			case int:
				fv.SetInt(int64(data))
			case uint64:
				fv.SetInt(int64(data))
			case float64:
				fv.SetInt(int64(data))
			case []byte:
				return field.Set(value, string(data))
			case string:
				i, err := strconv.ParseInt(data, 0, 64)
				if err != nil {
					return fmt.Errorf("failed to set string %q to int field %v: %w", data, field.Name, err)
				}
				fv.SetInt(i)
			default:
				return fallbackSetter(fv, v, field)
			}
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			switch data := v.(type) {
			case uint64:
				fv.SetUint(data)
			case int64:
				fv.SetUint(uint64(data))
			case int:
				fv.SetUint(uint64(data))
			case float64:
				fv.SetUint(uint64(data))
			case []byte:
				return field.Set(value, string(data))
			case string:
				i, err := strconv.ParseUint(data, 0, 64)
				if err != nil {
					return fmt.Errorf("failed to set string %q to uint field %v: %w", data, field.Name, err)
				}
				fv.SetUint(i)
			default:
				return fallbackSetter(fv, v, field)
			}
		case reflect.Float32, reflect.Float64:
			switch data := v.(type) {
			case float64:
				fv.SetFloat(data)
			case float32:
				fv.SetFloat(float64(data))
			case int64:
				fv.SetFloat(float64(data))
			case []byte:
				return field.Set(value, string(data))
			case string:
				f, err := strconv.ParseFloat(data, 64)
				if err != nil {
					return fmt.Errorf("failed to set string %q to float field %v: %w", data, field.Name, err)
				}
				fv.SetFloat(f)
			default:
				return fallbackSetter(fv, v, field)
			}
		case reflect.String:
			switch data := v.(type) {
			case string:
				fv.SetString(data)
			case []byte:
				fv.SetString(string(data))
			case int64:
				fv.SetString(strconv.FormatInt(data, 10))
			default:
				fv.SetString(fmt.Sprint(data))
			}
		default:
			switch fv.Type() {
			case TimeReflectType:
				switch data := v.(type) {
				case time.Time:
					fv.Set(reflect.ValueOf(data))
				case *time.Time:
					if data != nil {
						fv.Set(reflect.ValueOf(*data))
					} else {
						fv.Set(reflect.ValueOf(time.Time{}))
					}
				case string:
					t, err := now.Parse(data)
					if err != nil {
						return fmt.Errorf("failed to set string %q to time.Time field %v: %w", data, field.Name, err)
					}
					fv.Set(reflect.ValueOf(t))
				case []byte:
					return field.Set(value, string(data))
				default:
					return fallbackSetter(fv, v, field)
				}
			case UUIDReflectType:
				switch data := v.(type) {
				case uuid.UUID:
					fv.Set(reflect.ValueOf(data))
				case string:
					id, err := uuid.Parse(data)
					if err != nil {
						return fmt.Errorf("failed to set string %q to uuid field %v: %w", data, field.Name, err)
					}
					fv.Set(reflect.ValueOf(id))
				case []byte:
					return field.Set(value, string(data))
				default:
					return fallbackSetter(fv, v, field)
				}
			default:
				return fallbackSetter(fv, v, field)
			}
		}
		return nil
	}
}

func fallbackSetter(fv reflect.Value, v interface{}, field *Field) error {
	rv := reflect.ValueOf(v)
	if rv.Type().ConvertibleTo(fv.Type()) {
		fv.Set(rv.Convert(fv.Type()))
		return nil
	}
	return fmt.Errorf("failed to set value %#v to field %v", v, field.Name)
}
