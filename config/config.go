// Package config applies loosely-typed external configuration (a map
// decoded from JSON, CLI flags, or similar) onto the strongly-typed
// Options struct of a flowterm component.
package config

import (
	"fmt"
	"reflect"
	"time"

	"github.com/spf13/cast"
)

// Apply coerces each value in raw onto the matching exported field of dst,
// matching keys case-insensitively against field names. dst must be a
// pointer to a struct. Values may arrive as strings, float64 (the common
// shape after decoding JSON), or already-typed ints/durations; Apply uses
// cast to convert whatever it finds into the field's actual type.
//
// Unknown keys in raw are ignored: callers typically share one raw map
// across several components' Options and expect each Apply call to pick
// out only the fields it understands.
func Apply(dst any, raw map[string]any) error {
	v := reflect.ValueOf(dst)
	if v.Kind() != reflect.Ptr || v.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("config: Apply requires a pointer to a struct, got %T", dst)
	}
	v = v.Elem()
	t := v.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		val, ok := lookupFold(raw, field.Name)
		if !ok {
			continue
		}
		fv := v.Field(i)
		coerced, err := coerce(fv.Type(), val)
		if err != nil {
			return fmt.Errorf("config: field %s: %w", field.Name, err)
		}
		fv.Set(reflect.ValueOf(coerced))
	}
	return nil
}

func lookupFold(raw map[string]any, name string) (any, bool) {
	if v, ok := raw[name]; ok {
		return v, true
	}
	for k, v := range raw {
		if len(k) == len(name) && foldEq(k, name) {
			return v, true
		}
	}
	return nil, false
}

func foldEq(a, b string) bool {
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

func coerce(t reflect.Type, raw any) (any, error) {
	switch t {
	case reflect.TypeOf(time.Duration(0)):
		return castDuration(raw)
	}

	switch t.Kind() {
	case reflect.String:
		return cast.ToStringE(raw)
	case reflect.Bool:
		return cast.ToBoolE(raw)
	case reflect.Int:
		return cast.ToIntE(raw)
	case reflect.Int8:
		return cast.ToInt8E(raw)
	case reflect.Int16:
		return cast.ToInt16E(raw)
	case reflect.Int32:
		return cast.ToInt32E(raw)
	case reflect.Int64:
		return cast.ToInt64E(raw)
	case reflect.Uint:
		return cast.ToUintE(raw)
	case reflect.Uint8:
		return cast.ToUint8E(raw)
	case reflect.Uint16:
		return cast.ToUint16E(raw)
	case reflect.Uint32:
		return cast.ToUint32E(raw)
	case reflect.Uint64:
		return cast.ToUint64E(raw)
	case reflect.Float32:
		return cast.ToFloat32E(raw)
	case reflect.Float64:
		return cast.ToFloat64E(raw)
	default:
		return nil, fmt.Errorf("unsupported field kind %s", t.Kind())
	}
}

// castDuration accepts a time.Duration, a numeric count of nanoseconds (the
// shape a float64-from-JSON value takes), or a duration string like "30s".
func castDuration(raw any) (time.Duration, error) {
	if d, ok := raw.(time.Duration); ok {
		return d, nil
	}
	if s, ok := raw.(string); ok {
		return time.ParseDuration(s)
	}
	ns, err := cast.ToInt64E(raw)
	if err != nil {
		return 0, err
	}
	return time.Duration(ns), nil
}
