// Package representation encodes entity references ({__typename, keys...})
// sent to subgraphs through the _entities field, and decodes them on the
// subgraph side.
package representation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/buger/jsonparser"

	"github.com/hanpama/fedgate/internal/plan"
)

// KeyField is one key field of a representation. Value is a JSON scalar, or
// an Object for composite keys.
type KeyField struct {
	Name  string
	Value any
}

// Object is an ordered JSON object.
type Object []KeyField

// Representation references an entity owned by another subgraph. Keys keep
// the order of the requires selection; equality ignores that order.
type Representation struct {
	Typename string
	Keys     Object
}

// Build projects obj through the requires selection. It returns false when obj
// is not an object, matches no type condition, or lacks a selected key field.
func Build(obj any, requires []plan.Selection) (Representation, bool) {
	m, ok := obj.(map[string]any)
	if !ok {
		return Representation{}, false
	}
	typename, _ := m["__typename"].(string)
	keys, ok := project(m, typename, requires)
	if !ok || len(keys) == 0 {
		return Representation{}, false
	}
	rep := Representation{Typename: typename}
	for _, kf := range keys {
		if kf.Name == "__typename" {
			if s, ok := kf.Value.(string); ok && rep.Typename == "" {
				rep.Typename = s
			}
			continue
		}
		rep.Keys = append(rep.Keys, kf)
	}
	if rep.Typename == "" {
		return Representation{}, false
	}
	return rep, true
}

func project(m map[string]any, typename string, sels []plan.Selection) (Object, bool) {
	var out Object
	matched := false
	for _, sel := range sels {
		switch sel.Kind {
		case plan.SelectionInlineFragment:
			if sel.TypeCondition != "" && sel.TypeCondition != typename {
				continue
			}
			inner, ok := project(m, typename, sel.Selections)
			if !ok {
				return nil, false
			}
			matched = true
			out = appendUnique(out, inner...)
		case plan.SelectionField:
			v, exists := m[sel.Name]
			if !exists {
				return nil, false
			}
			matched = true
			if len(sel.Selections) > 0 && v != nil {
				nested, ok := projectValue(v, sel.Selections)
				if !ok {
					return nil, false
				}
				v = nested
			} else {
				v = detach(v)
			}
			out = appendUnique(out, KeyField{Name: sel.Name, Value: v})
		}
	}
	return out, matched
}

func projectValue(v any, sels []plan.Selection) (any, bool) {
	switch t := v.(type) {
	case map[string]any:
		typename, _ := t["__typename"].(string)
		return project(t, typename, sels)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			if item == nil {
				continue
			}
			p, ok := projectValue(item, sels)
			if !ok {
				return nil, false
			}
			out[i] = p
		}
		return out, true
	}
	return nil, false
}

// detach copies list values so a representation shares no slice with the
// response tree it was built from.
func detach(v any) any {
	list, ok := v.([]any)
	if !ok {
		return v
	}
	out := make([]any, len(list))
	for i, item := range list {
		out[i] = detach(item)
	}
	return out
}

func appendUnique(obj Object, fields ...KeyField) Object {
	for _, f := range fields {
		dup := false
		for _, existing := range obj {
			if existing.Name == f.Name {
				dup = true
				break
			}
		}
		if !dup {
			obj = append(obj, f)
		}
	}
	return obj
}

// MarshalJSON writes __typename followed by the key fields in order.
func (r Representation) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"__typename":`)
	name, err := json.Marshal(r.Typename)
	if err != nil {
		return nil, err
	}
	buf.Write(name)
	if err := r.Keys.writeFields(&buf, true); err != nil {
		return nil, err
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (o Object) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	if err := o.writeFields(&buf, false); err != nil {
		return nil, err
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (o Object) writeFields(buf *bytes.Buffer, leadingComma bool) error {
	for i, kf := range o {
		if i > 0 || leadingComma {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(kf.Name)
		if err != nil {
			return err
		}
		val, err := json.Marshal(kf.Value)
		if err != nil {
			return err
		}
		buf.Write(name)
		buf.WriteByte(':')
		buf.Write(val)
	}
	return nil
}

// Key returns a canonical identity: equal for representations with the same
// typename and key values regardless of key order.
func (r Representation) Key() string {
	b, _ := json.Marshal(canonical(r.Keys))
	return r.Typename + "|" + string(b)
}

// Equal reports whether a and b reference the same entity.
func Equal(a, b Representation) bool { return a.Key() == b.Key() }

func canonical(v any) any {
	switch t := v.(type) {
	case Object:
		m := make(map[string]any, len(t))
		for _, kf := range t {
			m[kf.Name] = canonical(kf.Value)
		}
		return m
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = canonical(t[i])
		}
		return out
	}
	return v
}

// Names returns the key field names in wire order.
func (r Representation) Names() []string {
	out := make([]string, len(r.Keys))
	for i, kf := range r.Keys {
		out[i] = kf.Name
	}
	return out
}

// EncodeAll encodes a batch as a JSON array suitable for $representations.
func EncodeAll(reps []Representation) (json.RawMessage, error) {
	b, err := json.Marshal(reps)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// ErrInvalid is returned by Decode for input that is not a list of
// representations.
var ErrInvalid = errors.New("representation: invalid input")

// Decode parses a $representations array. Key order and number literals are
// preserved, so Decode(EncodeAll(reps)) yields reps again.
func Decode(raw []byte) ([]Representation, error) {
	if _, typ, _, err := jsonparser.Get(raw); err != nil || typ != jsonparser.Array {
		return nil, fmt.Errorf("%w: expected an array", ErrInvalid)
	}
	var (
		out     []Representation
		itemErr error
	)
	_, err := jsonparser.ArrayEach(raw, func(value []byte, typ jsonparser.ValueType, _ int, _ error) {
		if itemErr != nil {
			return
		}
		if typ != jsonparser.Object {
			itemErr = fmt.Errorf("%w: item %d is not an object", ErrInvalid, len(out))
			return
		}
		obj, err := decodeObject(value)
		if err != nil {
			itemErr = fmt.Errorf("%w: item %d: %v", ErrInvalid, len(out), err)
			return
		}
		rep := Representation{}
		for _, kf := range obj {
			if kf.Name == "__typename" {
				rep.Typename, _ = kf.Value.(string)
				continue
			}
			rep.Keys = append(rep.Keys, kf)
		}
		if rep.Typename == "" {
			itemErr = fmt.Errorf("%w: item %d has no __typename", ErrInvalid, len(out))
			return
		}
		out = append(out, rep)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if itemErr != nil {
		return nil, itemErr
	}
	return out, nil
}

func decodeObject(raw []byte) (Object, error) {
	var out Object
	err := jsonparser.ObjectEach(raw, func(key, value []byte, typ jsonparser.ValueType, _ int) error {
		name, err := jsonparser.ParseString(key)
		if err != nil {
			return err
		}
		v, err := decodeValue(value, typ)
		if err != nil {
			return err
		}
		out = append(out, KeyField{Name: name, Value: v})
		return nil
	})
	return out, err
}

func decodeValue(raw []byte, typ jsonparser.ValueType) (any, error) {
	switch typ {
	case jsonparser.String:
		return jsonparser.ParseString(raw)
	case jsonparser.Number:
		return json.Number(raw), nil
	case jsonparser.Boolean:
		return jsonparser.ParseBoolean(raw)
	case jsonparser.Null:
		return nil, nil
	case jsonparser.Object:
		return decodeObject(raw)
	case jsonparser.Array:
		list := []any{}
		var itemErr error
		_, err := jsonparser.ArrayEach(raw, func(value []byte, t jsonparser.ValueType, _ int, _ error) {
			if itemErr != nil {
				return
			}
			v, err := decodeValue(value, t)
			if err != nil {
				itemErr = err
				return
			}
			list = append(list, v)
		})
		if err != nil {
			return nil, err
		}
		return list, itemErr
	}
	return nil, fmt.Errorf("%w: unexpected %s", ErrInvalid, typ)
}
