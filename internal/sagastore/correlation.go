package sagastore

import (
	"fmt"
	"reflect"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/sqlpersistence/internal/correlation"
)

// correlationValue reads the named property from a state struct and
// converts it to its column value. Nil pointer fields store null.
func correlationValue(state any, prop *correlation.Property) (any, error) {
	v := reflect.ValueOf(state)
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return nil, fmt.Errorf("state is nil")
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return nil, fmt.Errorf("state must be a struct, got %s", v.Kind())
	}
	f := field(v, prop.Name)
	if !f.IsValid() {
		return nil, fmt.Errorf("state %s has no field %s", v.Type(), prop.Name)
	}
	if f.Kind() == reflect.Pointer {
		if f.IsNil() {
			return nil, nil
		}
		f = f.Elem()
	}
	if !f.CanInterface() {
		return nil, fmt.Errorf("field %s.%s is not exported", v.Type(), prop.Name)
	}
	return columnValue(f.Interface(), prop.Type)
}

// field finds a struct field by name, or by a `correlation:"<Name>"` tag
// when the Go field name differs from the property name.
func field(v reflect.Value, name string) reflect.Value {
	if f := v.FieldByName(name); f.IsValid() {
		return f
	}
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		if t.Field(i).Tag.Get("correlation") == name {
			return v.Field(i)
		}
	}
	return reflect.Value{}
}

// columnValue normalizes a correlation value so that values written by Save
// compare equal to values passed to GetByProperty.
func columnValue(value any, kind correlation.PropertyType) (any, error) {
	switch kind {
	case correlation.Guid:
		switch x := value.(type) {
		case uuid.UUID:
			return x.String(), nil
		case string:
			id, err := uuid.Parse(x)
			if err != nil {
				return nil, fmt.Errorf("invalid Guid value %q: %w", x, err)
			}
			return id.String(), nil
		}
	case correlation.String:
		if s, ok := value.(string); ok {
			return s, nil
		}
	case correlation.Int:
		rv := reflect.ValueOf(value)
		switch rv.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			return rv.Int(), nil
		case reflect.Uint8, reflect.Uint16, reflect.Uint32:
			return int64(rv.Uint()), nil
		}
	case correlation.DateTime:
		if t, ok := value.(time.Time); ok {
			return t.UTC(), nil
		}
	case correlation.DateTimeOffset:
		if t, ok := value.(time.Time); ok {
			return t, nil
		}
	}
	return nil, fmt.Errorf("value of type %T cannot be stored as %s", value, kind)
}
