package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Tree is a JSON object that remembers the order in which its keys were first set.
// Values are one of: nil, bool, string, json.Number, []interface{} or *Tree.
// Inputs, outputs, extra and serialized run payloads are all Trees.
type Tree struct {
	keys   []string
	values map[string]interface{}
}

func NewTree() *Tree {
	return &Tree{values: map[string]interface{}{}}
}

// ParseTree parses a JSON object.
func ParseTree(data []byte) (*Tree, error) {
	t := NewTree()
	if err := t.UnmarshalJSON(data); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Tree) Len() int {
	if t == nil {
		return 0
	}
	return len(t.keys)
}

func (t *Tree) IsEmpty() bool {
	return t.Len() == 0
}

func (t *Tree) Keys() []string {
	if t == nil {
		return nil
	}
	return append([]string(nil), t.keys...)
}

func (t *Tree) Get(key string) (interface{}, bool) {
	if t == nil {
		return nil, false
	}
	v, ok := t.values[key]
	return v, ok
}

// Set assigns key. A key that is already present keeps its position.
func (t *Tree) Set(key string, value interface{}) {
	if t.values == nil {
		t.values = map[string]interface{}{}
	}
	if _, ok := t.values[key]; !ok {
		t.keys = append(t.keys, key)
	}
	t.values[key] = value
}

// Clone returns a deep copy of t.
func (t *Tree) Clone() *Tree {
	if t == nil {
		return nil
	}
	out := &Tree{
		keys:   append([]string(nil), t.keys...),
		values: make(map[string]interface{}, len(t.values)),
	}
	for k, v := range t.values {
		out.values[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v interface{}) interface{} {
	switch x := v.(type) {
	case *Tree:
		return x.Clone()
	case []interface{}:
		out := make([]interface{}, len(x))
		for i := range x {
			out[i] = cloneValue(x[i])
		}
		return out
	default:
		return x
	}
}

// DeepMerge returns a new tree holding base with overlay merged on top. Where both sides hold an
// object under the same key the objects are merged recursively; otherwise the overlay value
// replaces the base value. Arrays are leaves. Neither argument is modified.
func DeepMerge(base *Tree, overlay *Tree) *Tree {
	if base == nil && overlay == nil {
		return nil
	}
	out := base.Clone()
	if out == nil {
		out = NewTree()
	}
	for _, k := range overlay.Keys() {
		ov := overlay.values[k]
		if bv, ok := out.values[k]; ok {
			bt, baseIsTree := bv.(*Tree)
			ot, overlayIsTree := ov.(*Tree)
			if baseIsTree && overlayIsTree {
				out.Set(k, DeepMerge(bt, ot))
				continue
			}
		}
		out.Set(k, cloneValue(ov))
	}
	return out
}

// ContainsFold reports whether the JSON encoding of t contains substr, ignoring case.
func (t *Tree) ContainsFold(substr string) bool {
	if t == nil {
		return false
	}
	data, err := t.MarshalJSON()
	if err != nil {
		return false
	}
	return strings.Contains(strings.ToLower(string(data)), strings.ToLower(substr))
}

func (t *Tree) MarshalJSON() ([]byte, error) {
	if t == nil {
		return []byte("null"), nil
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range t.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		value, err := json.Marshal(t.values[k])
		if err != nil {
			return nil, errors.Wrapf(err, "encoding key %q", k)
		}
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (t *Tree) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return errors.WithStack(err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return errors.Errorf("expected a JSON object, got %v", tok)
	}
	parsed, err := decodeObject(dec)
	if err != nil {
		return err
	}
	if _, err := dec.Token(); err == nil {
		return errors.New("unexpected data after JSON object")
	}
	*t = *parsed
	return nil
}

// decodeObject reads the members of an object whose opening brace has already been consumed.
func decodeObject(dec *json.Decoder) (*Tree, error) {
	t := NewTree()
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, errors.WithStack(err)
		}
		key, ok := tok.(string)
		if !ok {
			return nil, errors.Errorf("expected object key, got %v", tok)
		}
		value, err := decodeValue(dec)
		if err != nil {
			return nil, err
		}
		t.Set(key, value)
	}
	if _, err := dec.Token(); err != nil {
		return nil, errors.WithStack(err)
	}
	return t, nil
}

func decodeValue(dec *json.Decoder) (interface{}, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	delim, ok := tok.(json.Delim)
	if !ok {
		return tok, nil
	}
	switch delim {
	case '{':
		return decodeObject(dec)
	case '[':
		arr := []interface{}{}
		for dec.More() {
			v, err := decodeValue(dec)
			if err != nil {
				return nil, err
			}
			arr = append(arr, v)
		}
		if _, err := dec.Token(); err != nil {
			return nil, errors.WithStack(err)
		}
		return arr, nil
	default:
		return nil, fmt.Errorf("unexpected delimiter %v", delim)
	}
}
