package graph

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
)

// Reducer merges a node's partial update into the previous state.
// Reducers must be pure: they may not mutate prev or delta.
type Reducer[S any] func(prev, delta S) S

// Policy identifies how a state field is merged.
type Policy int

const (
	// PolicyOverwrite replaces the field when the delta carries a value.
	PolicyOverwrite Policy = iota

	// PolicyAppend appends delta entries after the existing ones.
	PolicyAppend

	// PolicyAccumulate is an append-only marker list that only grows.
	PolicyAccumulate
)

func (p Policy) String() string {
	switch p {
	case PolicyOverwrite:
		return "overwrite"
	case PolicyAppend:
		return "append"
	case PolicyAccumulate:
		return "accumulate"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// Field declares the merge policy of one state field.
// Build fields with Append, Overwrite and Accumulate.
type Field[S any] struct {
	Name   string
	Policy Policy

	merge func(dst *S, delta *S)
}

// Append declares an append-reducer field. Entries in the delta are appended
// in order; existing entries are never replaced or dropped.
func Append[S, T any](name string, ref func(*S) *[]T) Field[S] {
	return Field[S]{Name: name, Policy: PolicyAppend, merge: appendMerge(ref)}
}

// Accumulate declares an append-only marker field such as session boundaries.
// It merges like Append and is reported separately by Schema.Fields.
func Accumulate[S, T any](name string, ref func(*S) *[]T) Field[S] {
	return Field[S]{Name: name, Policy: PolicyAccumulate, merge: appendMerge(ref)}
}

// Overwrite declares a field whose delta value, when present, replaces the
// previous value entirely.
func Overwrite[S, T any](name string, ref func(*S) *Value[T]) Field[S] {
	return Field[S]{
		Name:   name,
		Policy: PolicyOverwrite,
		merge: func(dst *S, delta *S) {
			if v := *ref(delta); v.present {
				*ref(dst) = v
			}
		},
	}
}

func appendMerge[S, T any](ref func(*S) *[]T) func(dst *S, delta *S) {
	return func(dst *S, delta *S) {
		add := *ref(delta)
		if len(add) == 0 {
			return
		}
		// Clip so the merged slice never shares a backing array with prev.
		*ref(dst) = append(slices.Clip(*ref(dst)), add...)
	}
}

// Schema is the table of field merge policies for a state type. Fields that
// are not declared are left untouched by merges.
type Schema[S any] struct {
	fields []Field[S]
}

// NewSchema builds a schema from field declarations. Field names must be
// unique.
func NewSchema[S any](fields ...Field[S]) (*Schema[S], error) {
	seen := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if f.Name == "" || f.merge == nil {
			return nil, &EngineError{Message: "schema field must be built with Append, Overwrite or Accumulate", Code: "INVALID_SCHEMA"}
		}
		if _, dup := seen[f.Name]; dup {
			return nil, &EngineError{Message: "duplicate schema field: " + f.Name, Code: "INVALID_SCHEMA"}
		}
		seen[f.Name] = struct{}{}
	}
	return &Schema[S]{fields: slices.Clone(fields)}, nil
}

// MustSchema is like NewSchema but panics on an invalid declaration.
// It is intended for package-level schema tables.
func MustSchema[S any](fields ...Field[S]) *Schema[S] {
	s, err := NewSchema(fields...)
	if err != nil {
		panic(err)
	}
	return s
}

// Reduce merges delta into prev according to the declared policies.
func (s *Schema[S]) Reduce(prev, delta S) S {
	out := prev
	for _, f := range s.fields {
		f.merge(&out, &delta)
	}
	return out
}

// Reducer returns Reduce as a Reducer value for New.
func (s *Schema[S]) Reducer() Reducer[S] {
	return s.Reduce
}

// Fields returns the declared fields in declaration order.
func (s *Schema[S]) Fields() []Field[S] {
	return slices.Clone(s.fields)
}

// Value is a slot for an overwrite-policy field.
//
// In a delta, the zero Value means "leave the field alone", Set(v) replaces
// it and Clear() resets it to unset. In a state, Get reports the current
// value and whether one is set.
type Value[T any] struct {
	val     T
	valid   bool
	present bool
}

// Set returns a Value holding v.
func Set[T any](v T) Value[T] {
	return Value[T]{val: v, valid: true, present: true}
}

// Clear returns a Value that resets the field to unset when merged.
func Clear[T any]() Value[T] {
	return Value[T]{present: true}
}

// Get returns the value and whether it is set.
func (v Value[T]) Get() (T, bool) {
	return v.val, v.valid
}

// Or returns the value if set, otherwise def.
func (v Value[T]) Or(def T) T {
	if v.valid {
		return v.val
	}
	return def
}

// Valid reports whether a value is set.
func (v Value[T]) Valid() bool {
	return v.valid
}

// MarshalJSON encodes the value, or null when unset.
func (v Value[T]) MarshalJSON() ([]byte, error) {
	if !v.valid {
		return []byte("null"), nil
	}
	return json.Marshal(v.val)
}

// UnmarshalJSON decodes a value; null decodes to the zero Value.
func (v *Value[T]) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*v = Value[T]{}
		return nil
	}
	var val T
	if err := json.Unmarshal(data, &val); err != nil {
		return err
	}
	*v = Set(val)
	return nil
}

// deepCopy creates a deep copy of state S using a JSON round trip.
//
// Only exported (or JSON-marshalable) data survives the copy. Channels and
// functions fail to marshal and are reported as errors.
func deepCopy[S any](state S) (S, error) {
	var zero S

	data, err := json.Marshal(state)
	if err != nil {
		return zero, fmt.Errorf("failed to marshal state: %w", err)
	}

	var copied S
	if err := json.Unmarshal(data, &copied); err != nil {
		return zero, fmt.Errorf("failed to unmarshal state: %w", err)
	}

	return copied, nil
}
