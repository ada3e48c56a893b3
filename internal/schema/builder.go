package schema

import (
	"fmt"
	"sort"

	"github.com/vektah/gqlparser/v2/ast"

	language "github.com/hanpama/fedgate/internal/language"
)

// BuildFromSDL parses SDL (typically a composed supergraph) and returns the
// corresponding Schema. Type extensions are merged into their base
// definitions; directives are ignored.
func BuildFromSDL(name, sdl string) (*Schema, error) {
	doc, err := language.ParseSchema(name, sdl)
	if err != nil {
		return nil, fmt.Errorf("schema: parse %s: %w", name, err)
	}
	s := &Schema{Types: make(map[string]*Type)}
	addBuiltins(s)

	for _, def := range doc.Definitions {
		if _, dup := s.Types[def.Name]; dup && !isBuiltin(def.Name) {
			return nil, fmt.Errorf("schema: type %s defined more than once", def.Name)
		}
		s.Types[def.Name] = buildType(def)
	}
	for _, ext := range doc.Extensions {
		base := s.Types[ext.Name]
		if base == nil {
			return nil, fmt.Errorf("schema: cannot extend unknown type %s", ext.Name)
		}
		extendType(base, ext)
	}

	for _, sd := range append(doc.Schema, doc.SchemaExtension...) {
		for _, ot := range sd.OperationTypes {
			switch ot.Operation {
			case ast.Query:
				s.QueryType = ot.Type
			case ast.Mutation:
				s.MutationType = ot.Type
			case ast.Subscription:
				s.SubscriptionType = ot.Type
			}
		}
	}
	if s.QueryType == "" && s.Types["Query"] != nil {
		s.QueryType = "Query"
	}
	if s.MutationType == "" && s.Types["Mutation"] != nil {
		s.MutationType = "Mutation"
	}
	if s.SubscriptionType == "" && s.Types["Subscription"] != nil {
		s.SubscriptionType = "Subscription"
	}
	if s.QueryType == "" {
		return nil, fmt.Errorf("schema: %s has no query root type", name)
	}

	linkPossibleTypes(s)
	return s, nil
}

func isBuiltin(name string) bool {
	for _, b := range builtinScalars {
		if b == name {
			return true
		}
	}
	return false
}

func buildType(def *ast.Definition) *Type {
	t := &Type{Name: def.Name, Kind: kindOf(def.Kind)}
	extendType(t, def)
	return t
}

func extendType(t *Type, def *ast.Definition) {
	for _, f := range def.Fields {
		if t.Field(f.Name) != nil {
			continue
		}
		t.Fields = append(t.Fields, &Field{Name: f.Name, Type: buildTypeRef(f.Type)})
	}
	t.Interfaces = append(t.Interfaces, def.Interfaces...)
	t.PossibleTypes = append(t.PossibleTypes, def.Types...)
	for _, v := range def.EnumValues {
		t.EnumValues = append(t.EnumValues, v.Name)
	}
}

func kindOf(k ast.DefinitionKind) TypeKind {
	switch k {
	case ast.Object:
		return TypeKindObject
	case ast.Interface:
		return TypeKindInterface
	case ast.Union:
		return TypeKindUnion
	case ast.Enum:
		return TypeKindEnum
	case ast.InputObject:
		return TypeKindInputObject
	}
	return TypeKindScalar
}

func buildTypeRef(t *ast.Type) *TypeRef {
	if t == nil {
		return nil
	}
	var inner *TypeRef
	if t.Elem != nil {
		inner = ListType(buildTypeRef(t.Elem))
	} else {
		inner = NamedType(t.NamedType)
	}
	if t.NonNull {
		return NonNullType(inner)
	}
	return inner
}

func linkPossibleTypes(s *Schema) {
	names := make([]string, 0, len(s.Types))
	for name := range s.Types {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		t := s.Types[name]
		if t.Kind != TypeKindObject {
			continue
		}
		for _, iface := range t.Interfaces {
			if it := s.Types[iface]; it != nil && it.Kind == TypeKindInterface {
				it.PossibleTypes = append(it.PossibleTypes, t.Name)
			}
		}
	}
}
