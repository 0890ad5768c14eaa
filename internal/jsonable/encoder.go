// Package jsonable converts arbitrary Go values into a tree made only of
// map[string]any, []any, string, bool, int64, uint64, float64 and nil, ready
// for encoding/json or any other JSON writer.
//
// Per-type overrides take precedence over the built-in conversions at every
// depth, so a caller can, for example, render all time.Time values with a
// fixed layout.
package jsonable

import (
	"encoding"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"
	"unsafe"
)

const maxDepth = 256

var (
	// ErrUnsupportedType is returned for channels, funcs and other values with no JSON form
	ErrUnsupportedType = errors.New("jsonable: unsupported type")
	// ErrTooDeep is returned when nesting exceeds the depth limit, usually a cycle
	ErrTooDeep = errors.New("jsonable: value nested too deeply")
)

var (
	timeType          = reflect.TypeOf(time.Time{})
	durationType      = reflect.TypeOf(time.Duration(0))
	jsonMarshalerType = reflect.TypeOf((*json.Marshaler)(nil)).Elem()
	textMarshalerType = reflect.TypeOf((*encoding.TextMarshaler)(nil)).Elem()
	emptyStructType   = reflect.TypeOf(struct{}{})
)

// Option configures an encoding
type Option func(*encoder)

// WithTypeEncoder overrides the conversion of values of type T. The returned
// value is encoded again, so it may itself be a struct, map or slice.
func WithTypeEncoder[T any](fn func(T) any) Option {
	t := reflect.TypeOf((*T)(nil)).Elem()
	return func(e *encoder) {
		e.custom[t] = func(v reflect.Value) any { return fn(v.Interface().(T)) }
	}
}

// WithTimeLayout renders every time.Time with layout
func WithTimeLayout(layout string) Option {
	return WithTypeEncoder(func(t time.Time) any { return t.Format(layout) })
}

type encoder struct {
	custom map[reflect.Type]func(reflect.Value) any
}

// Encode converts v into a JSON-compatible tree
func Encode(v any, opts ...Option) (any, error) {
	e := &encoder{custom: make(map[reflect.Type]func(reflect.Value) any)}
	for _, opt := range opts {
		opt(e)
	}
	return e.encode(reflect.ValueOf(v), 0)
}

func (e *encoder) encode(v reflect.Value, depth int) (any, error) {
	if depth > maxDepth {
		return nil, ErrTooDeep
	}
	if !v.IsValid() {
		return nil, nil
	}

	if fn, ok := e.custom[v.Type()]; ok {
		if isNil(v) {
			return nil, nil
		}
		return e.encode(reflect.ValueOf(fn(v)), depth+1)
	}

	switch v.Type() {
	case timeType:
		return v.Interface().(time.Time).Format(time.RFC3339Nano), nil
	case durationType:
		return time.Duration(v.Int()).Seconds(), nil
	}

	if v.Kind() != reflect.Pointer && v.Kind() != reflect.Interface && v.Type().Implements(jsonMarshalerType) {
		return e.fromMarshaler(v)
	}

	switch v.Kind() {
	case reflect.Pointer, reflect.Interface:
		if v.IsNil() {
			return nil, nil
		}
		return e.encode(v.Elem(), depth+1)
	case reflect.Bool:
		return v.Bool(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return v.Uint(), nil
	case reflect.Float32, reflect.Float64:
		return v.Float(), nil
	case reflect.String:
		return v.String(), nil
	case reflect.Struct:
		return e.encodeStruct(v, depth)
	case reflect.Map:
		if v.IsNil() {
			return nil, nil
		}
		if v.Type().Elem() == emptyStructType {
			return e.encodeSet(v, depth)
		}
		return e.encodeMap(v, depth)
	case reflect.Slice:
		if v.IsNil() {
			return nil, nil
		}
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return string(v.Bytes()), nil
		}
		return e.encodeList(v, depth)
	case reflect.Array:
		return e.encodeList(v, depth)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, v.Type())
	}
}

func (e *encoder) fromMarshaler(v reflect.Value) (any, error) {
	raw, err := v.Interface().(json.Marshaler).MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("jsonable: marshal %s: %w", v.Type(), err)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("jsonable: decode %s: %w", v.Type(), err)
	}
	return normalizeNumbers(out), nil
}

func (e *encoder) encodeStruct(v reflect.Value, depth int) (any, error) {
	if !v.CanAddr() {
		c := reflect.New(v.Type()).Elem()
		c.Set(v)
		v = c
	}
	out := make(map[string]any, v.NumField())
	if err := e.collectFields(v, out, depth); err != nil {
		return nil, err
	}
	return out, nil
}

func (e *encoder) collectFields(v reflect.Value, out map[string]any, depth int) error {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		name, omitEmpty, skip := parseTag(f)
		if skip {
			continue
		}
		fv := v.Field(i)

		// Exported fields of embedded structs are promoted even when the
		// embedded type itself is unexported.
		if f.Anonymous && f.Tag.Get("json") == "" {
			inner := fv
			if inner.Kind() == reflect.Pointer {
				if inner.IsNil() {
					continue
				}
				inner = inner.Elem()
			}
			if inner.Kind() == reflect.Struct {
				if err := e.collectFields(readable(inner), out, depth+1); err != nil {
					return err
				}
				continue
			}
		}
		if !f.IsExported() {
			continue
		}
		if omitEmpty && fv.IsZero() {
			continue
		}
		enc, err := e.encode(fv, depth+1)
		if err != nil {
			return fmt.Errorf("field %s: %w", f.Name, err)
		}
		out[name] = enc
	}
	return nil
}

// readable strips the read-only flag reflect puts on values reached through
// an unexported embedded field. v must be addressable.
func readable(v reflect.Value) reflect.Value {
	if v.CanInterface() {
		return v
	}
	return reflect.NewAt(v.Type(), unsafe.Pointer(v.UnsafeAddr())).Elem()
}

func parseTag(f reflect.StructField) (name string, omitEmpty, skip bool) {
	tag := f.Tag.Get("json")
	if tag == "-" {
		return "", false, true
	}
	parts := strings.Split(tag, ",")
	name = parts[0]
	if name == "" {
		name = f.Name
	}
	for _, opt := range parts[1:] {
		if opt == "omitempty" || opt == "omitzero" {
			omitEmpty = true
		}
	}
	return name, omitEmpty, false
}

func (e *encoder) encodeMap(v reflect.Value, depth int) (any, error) {
	out := make(map[string]any, v.Len())
	iter := v.MapRange()
	for iter.Next() {
		key, err := mapKey(iter.Key())
		if err != nil {
			return nil, err
		}
		enc, err := e.encode(iter.Value(), depth+1)
		if err != nil {
			return nil, fmt.Errorf("key %s: %w", key, err)
		}
		out[key] = enc
	}
	return out, nil
}

// encodeSet turns map[K]struct{} into a list sorted for stable output
func (e *encoder) encodeSet(v reflect.Value, depth int) (any, error) {
	out := make([]any, 0, v.Len())
	iter := v.MapRange()
	for iter.Next() {
		enc, err := e.encode(iter.Key(), depth+1)
		if err != nil {
			return nil, err
		}
		out = append(out, enc)
	}
	sort.SliceStable(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out, nil
}

func (e *encoder) encodeList(v reflect.Value, depth int) (any, error) {
	out := make([]any, v.Len())
	for i := range out {
		enc, err := e.encode(v.Index(i), depth+1)
		if err != nil {
			return nil, fmt.Errorf("index %d: %w", i, err)
		}
		out[i] = enc
	}
	return out, nil
}

func mapKey(k reflect.Value) (string, error) {
	if k.Kind() == reflect.String {
		return k.String(), nil
	}
	if k.Type().Implements(textMarshalerType) {
		b, err := k.Interface().(encoding.TextMarshaler).MarshalText()
		if err != nil {
			return "", fmt.Errorf("jsonable: map key %s: %w", k.Type(), err)
		}
		return string(b), nil
	}
	switch k.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(k.Int(), 10), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(k.Uint(), 10), nil
	case reflect.Float32, reflect.Float64:
		return strconv.FormatFloat(k.Float(), 'g', -1, 64), nil
	case reflect.Bool:
		return strconv.FormatBool(k.Bool()), nil
	default:
		return "", fmt.Errorf("%w: map key %s", ErrUnsupportedType, k.Type())
	}
}

// less orders set members: numbers numerically, then strings, then the rest
// by their printed form
func less(a, b any) bool {
	fa, aNum := number(a)
	fb, bNum := number(b)
	switch {
	case aNum && bNum:
		return fa < fb
	case aNum != bNum:
		return aNum
	}
	sa, aStr := a.(string)
	sb, bStr := b.(string)
	if aStr && bStr {
		return sa < sb
	}
	return fmt.Sprint(a) < fmt.Sprint(b)
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// normalizeNumbers keeps integral JSON numbers as int64 so marshaler output
// matches the built-in conversions
func normalizeNumbers(v any) any {
	switch x := v.(type) {
	case float64:
		if x == float64(int64(x)) {
			return int64(x)
		}
		return x
	case map[string]any:
		for k, val := range x {
			x[k] = normalizeNumbers(val)
		}
		return x
	case []any:
		for i, val := range x {
			x[i] = normalizeNumbers(val)
		}
		return x
	}
	return v
}

func isNil(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice:
		return v.IsNil()
	}
	return false
}
