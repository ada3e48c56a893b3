// Package assembler turns the stitched response tree of a plan execution into
// the client response. It walks the client operation over the tree, applies
// GraphQL null propagation and deduplicates errors.
package assembler

import (
	"encoding/json"
	"fmt"

	"github.com/hanpama/fedgate/internal/gql"
	language "github.com/hanpama/fedgate/internal/language"
	schema "github.com/hanpama/fedgate/internal/schema"
)

// Request identifies the client operation being answered.
type Request struct {
	Document  *language.QueryDocument
	Operation *language.OperationDefinition
	Variables map[string]any
}

type Assembler struct {
	schema *schema.Schema
}

func New(s *schema.Schema) *Assembler {
	return &Assembler{schema: s}
}

// assembly is the state of one Assemble call.
type assembly struct {
	schema    *schema.Schema
	document  *language.QueryDocument
	variables map[string]any

	errors  []gql.GraphQLError
	errored []gql.Path
	failed  map[string]struct{}
}

// Assemble shapes data to the operation's selection set. A null or missing
// value at a non-null position nullifies the nearest nullable ancestor, and
// the whole data entry when there is none. A field located by an error is
// treated as null. Errors are kept in the order given, with byte-identical
// duplicates removed; an error is added for a null at a non-null position
// only when no error already covers that path.
func (a *Assembler) Assemble(req Request, data any, errs []gql.GraphQLError) *gql.ExecutionResult {
	s := &assembly{
		schema:    a.schema,
		document:  req.Document,
		variables: req.Variables,
		failed:    make(map[string]struct{}),
	}
	for _, e := range dedupErrors(errs) {
		s.record(e)
	}

	if data == nil || req.Operation == nil {
		return &gql.ExecutionResult{Data: nil, Errors: s.errors}
	}
	rootName, err := a.schema.RootTypeName(string(req.Operation.Operation))
	if err != nil {
		s.record(gql.NewError(err.Error(), gql.CodeInternal, nil))
		return &gql.ExecutionResult{Data: nil, Errors: s.errors}
	}
	root := s.selectionSet(a.schema.Types[rootName], req.Operation.SelectionSet, data, nil)
	if root == nil {
		return &gql.ExecutionResult{Data: nil, Errors: s.errors}
	}
	return &gql.ExecutionResult{Data: root, Errors: s.errors}
}

func (s *assembly) record(e gql.GraphQLError) {
	s.errors = append(s.errors, e)
	if len(e.Path) > 0 {
		s.errored = append(s.errored, e.Path)
		s.failed[e.Path.String()] = struct{}{}
	}
}

// failedAt reports whether an error is located exactly at path.
func (s *assembly) failedAt(path gql.Path) bool {
	_, ok := s.failed[path.String()]
	return ok
}

// covered reports whether an error is located at, under or above path.
func (s *assembly) covered(path gql.Path) bool {
	for _, p := range s.errored {
		if p.HasPrefix(path) || path.HasPrefix(p) {
			return true
		}
	}
	return false
}

// selectionSet completes an object value. It returns nil when a non-null
// field of the object is null.
func (s *assembly) selectionSet(objectType *schema.Type, selectionSet language.SelectionSet, value any, path gql.Path) gql.Object {
	fields := s.collectFields(objectType, selectionSet)
	out := make(gql.Object, 0, len(fields))
	for _, cf := range fields {
		fieldPath := path.Append(cf.ResponseName)
		raw, _ := lookup(value, cf.ResponseName)

		if cf.Fields[0].Name == "__typename" {
			if name, ok := raw.(string); ok {
				out = append(out, gql.ObjectField{Name: cf.ResponseName, Value: name})
			} else {
				out = append(out, gql.ObjectField{Name: cf.ResponseName, Value: objectType.Name})
			}
			continue
		}

		def := objectType.Field(cf.Fields[0].Name)
		if def == nil {
			// not in the supergraph (introspection, unknown fields): pass through
			out = append(out, gql.ObjectField{Name: cf.ResponseName, Value: raw})
			continue
		}
		completed := s.completeValue(def.Type, cf.Fields, raw, fieldPath)
		if def.Type.IsNonNull() && completed == nil {
			return nil
		}
		out = append(out, gql.ObjectField{Name: cf.ResponseName, Value: completed})
	}
	return out
}

func (s *assembly) completeValue(fieldType *schema.TypeRef, fields []*language.Field, raw any, path gql.Path) any {
	if s.failedAt(path) {
		raw = nil
	}
	if fieldType.IsNonNull() {
		completed := s.completeValue(fieldType.OfType, fields, raw, path)
		if completed == nil && !s.covered(path) {
			s.record(gql.GraphQLError{
				Message: fmt.Sprintf("Cannot return null for non-nullable field %s", path),
				Path:    path,
			})
		}
		return completed
	}
	if raw == nil {
		return nil
	}

	if fieldType.Kind == schema.TypeRefKindList {
		return s.completeList(fieldType, fields, raw, path)
	}
	typeObj := s.schema.Types[fieldType.Named]
	if typeObj == nil {
		s.record(gql.GraphQLError{Message: fmt.Sprintf("Unknown type: %s", fieldType.Named), Path: path})
		return nil
	}
	switch typeObj.Kind {
	case schema.TypeKindScalar, schema.TypeKindEnum:
		return raw
	case schema.TypeKindObject:
		return s.completeObject(typeObj, fields, raw, path)
	case schema.TypeKindInterface, schema.TypeKindUnion:
		return s.completeAbstract(typeObj, fields, raw, path)
	}
	s.record(gql.GraphQLError{Message: fmt.Sprintf("Cannot complete value of unexpected type: %s", typeObj.Kind), Path: path})
	return nil
}

func (s *assembly) completeList(listType *schema.TypeRef, fields []*language.Field, raw any, path gql.Path) any {
	items, ok := raw.([]any)
	if !ok {
		s.record(gql.GraphQLError{Message: fmt.Sprintf("Expected list value, got %T", raw), Path: path})
		return nil
	}
	inner := listType.OfType
	completed := make([]any, len(items))
	for i, item := range items {
		v := s.completeValue(inner, fields, item, path.Append(i))
		if inner.IsNonNull() && v == nil {
			return nil
		}
		completed[i] = v
	}
	return completed
}

func (s *assembly) completeObject(objectType *schema.Type, fields []*language.Field, raw any, path gql.Path) any {
	if !isObject(raw) {
		s.record(gql.GraphQLError{Message: fmt.Sprintf("Expected object value for %s, got %T", objectType.Name, raw), Path: path})
		return nil
	}
	obj := s.selectionSet(objectType, mergeSelectionSets(fields), raw, path)
	if obj == nil {
		return nil
	}
	return obj
}

// completeAbstract resolves the concrete type from __typename.
func (s *assembly) completeAbstract(abstract *schema.Type, fields []*language.Field, raw any, path gql.Path) any {
	v, _ := lookup(raw, "__typename")
	typeName, _ := v.(string)
	objectType := s.schema.Types[typeName]
	if objectType == nil || objectType.Kind != schema.TypeKindObject {
		s.record(gql.GraphQLError{
			Message: fmt.Sprintf("Abstract type %s must resolve to an Object type at runtime. Got: %q", abstract.Name, typeName),
			Path:    path,
		})
		return nil
	}
	return s.completeObject(objectType, fields, raw, path)
}

func lookup(v any, name string) (any, bool) {
	switch obj := v.(type) {
	case map[string]any:
		x, ok := obj[name]
		return x, ok
	case gql.Object:
		return obj.Get(name)
	}
	return nil, false
}

func isObject(v any) bool {
	switch v.(type) {
	case map[string]any, gql.Object:
		return true
	}
	return false
}

// dedupErrors drops errors that encode to the same JSON as an earlier one.
// Errors that differ only in extensions are distinct.
func dedupErrors(errs []gql.GraphQLError) []gql.GraphQLError {
	if len(errs) < 2 {
		return errs
	}
	seen := make(map[string]struct{}, len(errs))
	out := make([]gql.GraphQLError, 0, len(errs))
	for _, e := range errs {
		b, err := json.Marshal(e)
		if err != nil {
			out = append(out, e)
			continue
		}
		if _, dup := seen[string(b)]; dup {
			continue
		}
		seen[string(b)] = struct{}{}
		out = append(out, e)
	}
	return out
}
