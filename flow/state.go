// Package flow provides the core graph execution engine for flowgraph.
package flow

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// State is an ordered, immutable mapping from field name to value.
//
// State is the unit of data that flows through a workflow graph. Nodes
// receive a State, compute, and return a new State; they never mutate
// their input. All values must be JSON-serializable (strings, numbers,
// booleans, slices, nested maps) so State can be deep-copied and
// checkpointed.
//
// Field order is the order in which fields were first written. Order is
// preserved across WithField, Merge, Clone, and JSON round-trips, which
// makes checkpoint serialization reproducible.
//
// The zero value is an empty State and is ready to use:
//
//	st := flow.NewState().
//	    WithField("input", "write an email validator").
//	    WithField("language", "go")
type State struct {
	fields map[string]any
	order  []string
}

// Field is a single named value, used where field ordering matters.
type Field struct {
	Name  string
	Value any
}

// NewState returns an empty State.
func NewState() State {
	return State{}
}

// StateOf builds a State from fields, preserving the given order.
func StateOf(fields ...Field) State {
	st := NewState()
	for _, f := range fields {
		st = st.WithField(f.Name, f.Value)
	}
	return st
}

// Get returns the value of a field and whether it is present.
func (s State) Get(name string) (any, bool) {
	if s.fields == nil {
		return nil, false
	}
	v, ok := s.fields[name]
	return v, ok
}

// GetString returns a field as a string. Missing or non-string fields
// return "".
func (s State) GetString(name string) string {
	v, ok := s.Get(name)
	if !ok {
		return ""
	}
	str, _ := v.(string)
	return str
}

// GetFloat returns a numeric field as float64. Integers are widened;
// json.Number values produced by decoding are converted. The second
// return reports whether the field held a number.
func (s State) GetFloat(name string) (float64, bool) {
	v, ok := s.Get(name)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// GetInt returns a numeric field truncated to int.
func (s State) GetInt(name string) (int, bool) {
	f, ok := s.GetFloat(name)
	return int(f), ok
}

// GetBool returns a boolean field. Missing or non-bool fields return false.
func (s State) GetBool(name string) bool {
	v, ok := s.Get(name)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// GetStringSlice returns a field holding a list of strings. Both []string
// and []any (the shape produced by JSON decoding) are accepted.
func (s State) GetStringSlice(name string) []string {
	v, ok := s.Get(name)
	if !ok {
		return nil
	}
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if str, ok := item.(string); ok {
				out = append(out, str)
			}
		}
		return out
	default:
		return nil
	}
}

// Keys returns the field names in insertion order.
func (s State) Keys() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Len returns the number of fields.
func (s State) Len() int {
	return len(s.order)
}

// WithField returns a new State with the field set. The receiver is not
// modified. Overwriting an existing field keeps its original position.
func (s State) WithField(name string, value any) State {
	out := s.copyShallow()
	if _, exists := out.fields[name]; !exists {
		out.order = append(out.order, name)
	}
	out.fields[name] = value
	return out
}

// WithFields returns a new State with every field in the mapping set.
// New field names are appended in sorted order so the result does not
// depend on map iteration order.
func (s State) WithFields(fields map[string]any) State {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	out := s
	for _, name := range names {
		out = out.WithField(name, fields[name])
	}
	return out
}

// Merge combines two States into a new one. Fields present in only one
// side are carried over; fields present in both must hold equal values,
// otherwise Merge fails with a *ConflictError. Equality is judged on the
// JSON encoding of the values, so 3 and 3.0 do not conflict.
//
// The result keeps the receiver's field order first, then appends fields
// unique to other in other's order.
func (s State) Merge(other State) (State, error) {
	out := s.copyShallow()
	for _, name := range other.order {
		theirs := other.fields[name]
		if ours, exists := out.fields[name]; exists {
			if !jsonEqual(ours, theirs) {
				return State{}, &ConflictError{Field: name, Left: ours, Right: theirs}
			}
			continue
		}
		out.order = append(out.order, name)
		out.fields[name] = theirs
	}
	return out, nil
}

// Changed returns the fields of s that are absent from base or hold a
// different value, in s's field order. It is the delta a node produced
// relative to its input.
func (s State) Changed(base State) []Field {
	var delta []Field
	for _, name := range s.order {
		v := s.fields[name]
		if old, exists := base.Get(name); exists && jsonEqual(old, v) {
			continue
		}
		delta = append(delta, Field{Name: name, Value: v})
	}
	return delta
}

// Clone returns a deep copy of the State via a JSON round-trip, so
// concurrent branches can never observe each other's mutations. Values
// that cannot be marshaled to JSON (channels, funcs) fail the copy.
func (s State) Clone() (State, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return State{}, fmt.Errorf("clone state: %w", err)
	}
	var out State
	if err := json.Unmarshal(data, &out); err != nil {
		return State{}, fmt.Errorf("clone state: %w", err)
	}
	return out, nil
}

// MarshalJSON encodes the State as a JSON object with keys in field
// order. Checkpoints rely on this to round-trip exactly.
func (s State) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range s.order {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := json.Marshal(s.fields[name])
		if err != nil {
			return nil, fmt.Errorf("marshal field %q: %w", name, err)
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object, preserving the key order of the
// document.
func (s *State) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("state: expected JSON object, got %v", tok)
	}

	out := NewState()
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("state: expected object key, got %v", keyTok)
		}
		var value any
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("state: decode field %q: %w", key, err)
		}
		out = out.WithField(key, value)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}

	*s = out
	return nil
}

// copyShallow duplicates the map and order slice so writes on the copy
// never alias the receiver. Values themselves are shared; Clone performs
// the deep copy when isolation is required.
func (s State) copyShallow() State {
	out := State{
		fields: make(map[string]any, len(s.fields)+1),
		order:  make([]string, len(s.order), len(s.order)+1),
	}
	for k, v := range s.fields {
		out.fields[k] = v
	}
	copy(out.order, s.order)
	return out
}

// jsonEqual compares two values by their JSON encoding. This normalizes
// numeric types so a value surviving a checkpoint round-trip still
// compares equal to the original.
func jsonEqual(a, b any) bool {
	da, errA := json.Marshal(a)
	db, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(da, db)
}
