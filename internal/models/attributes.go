package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Attributes is an insertion-ordered attribute map. Key order is kept through
// JSON encoding so diffs report fields in the order the row returned them.
type Attributes struct {
	keys   []string
	values map[string]any
}

func NewAttributes() *Attributes {
	return &Attributes{values: make(map[string]any)}
}

// AttributesFrom builds Attributes from keys in the given order.
func AttributesFrom(keys []string, values map[string]any) *Attributes {
	a := NewAttributes()
	for _, k := range keys {
		a.Set(k, values[k])
	}
	return a
}

func (a *Attributes) Set(key string, value any) {
	if a.values == nil {
		a.values = make(map[string]any)
	}
	if _, ok := a.values[key]; !ok {
		a.keys = append(a.keys, key)
	}
	a.values[key] = value
}

func (a *Attributes) Get(key string) (any, bool) {
	if a == nil {
		return nil, false
	}
	v, ok := a.values[key]
	return v, ok
}

func (a *Attributes) Has(key string) bool {
	_, ok := a.Get(key)
	return ok
}

func (a *Attributes) Delete(key string) {
	if a == nil {
		return
	}
	if _, ok := a.values[key]; !ok {
		return
	}
	delete(a.values, key)
	for i, k := range a.keys {
		if k == key {
			a.keys = append(a.keys[:i:i], a.keys[i+1:]...)
			break
		}
	}
}

func (a *Attributes) Keys() []string {
	if a == nil {
		return nil
	}
	out := make([]string, len(a.keys))
	copy(out, a.keys)
	return out
}

func (a *Attributes) Len() int {
	if a == nil {
		return 0
	}
	return len(a.keys)
}

func (a *Attributes) Clone() *Attributes {
	if a == nil {
		return nil
	}
	return AttributesFrom(a.keys, a.values)
}

// Only returns the subset of attributes whose keys are in allowed, keeping order.
func (a *Attributes) Only(allowed ...string) *Attributes {
	set := make(map[string]bool, len(allowed))
	for _, k := range allowed {
		set[k] = true
	}
	out := NewAttributes()
	for _, k := range a.Keys() {
		if set[k] {
			out.Set(k, a.values[k])
		}
	}
	return out
}

// Without returns a copy with the given keys removed.
func (a *Attributes) Without(keys ...string) *Attributes {
	out := a.Clone()
	if out == nil {
		return nil
	}
	for _, k := range keys {
		out.Delete(k)
	}
	return out
}

// Merge sets every key of other on a, appending new keys in other's order.
func (a *Attributes) Merge(other *Attributes) {
	for _, k := range other.Keys() {
		v, _ := other.Get(k)
		a.Set(k, v)
	}
}

func (a *Attributes) MarshalJSON() ([]byte, error) {
	if a == nil {
		return []byte("null"), nil
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range a.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := json.Marshal(a.values[k])
		if err != nil {
			return nil, fmt.Errorf("attribute %q: %w", k, err)
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (a *Attributes) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("attributes: expected object, got %v", tok)
	}

	a.keys = nil
	a.values = make(map[string]any)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("attributes: expected key, got %v", tok)
		}
		var v any
		if err := dec.Decode(&v); err != nil {
			return fmt.Errorf("attribute %q: %w", key, err)
		}
		a.Set(key, v)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	return nil
}
