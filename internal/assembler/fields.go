package assembler

import (
	language "github.com/hanpama/fedgate/internal/language"
	schema "github.com/hanpama/fedgate/internal/schema"
)

// collectedFieldMap preserves field order from the client operation
type collectedFieldMap struct {
	fields []collectedField
	index  map[string]int
}

type collectedField struct {
	ResponseName string
	Fields       []*language.Field
}

func (cfm *collectedFieldMap) add(responseName string, field *language.Field) {
	if idx, exists := cfm.index[responseName]; exists {
		cfm.fields[idx].Fields = append(cfm.fields[idx].Fields, field)
		return
	}
	cfm.index[responseName] = len(cfm.fields)
	cfm.fields = append(cfm.fields, collectedField{
		ResponseName: responseName,
		Fields:       []*language.Field{field},
	})
}

// collectFields groups the selections that apply to objectType by response
// name, honoring @skip and @include.
func (s *assembly) collectFields(objectType *schema.Type, selectionSet language.SelectionSet) []collectedField {
	grouped := &collectedFieldMap{index: make(map[string]int)}
	s.collectFieldsImpl(objectType, selectionSet, grouped, make(map[string]bool))
	return grouped.fields
}

func (s *assembly) collectFieldsImpl(objectType *schema.Type, selectionSet language.SelectionSet, grouped *collectedFieldMap, visitedFragments map[string]bool) {
	for _, selection := range selectionSet {
		switch sel := selection.(type) {
		case *language.Field:
			if !s.shouldInclude(sel.Directives) {
				continue
			}
			responseName := sel.Alias
			if responseName == "" {
				responseName = sel.Name
			}
			grouped.add(responseName, sel)

		case *language.InlineFragment:
			if !s.shouldInclude(sel.Directives) || !s.appliesTo(sel.TypeCondition, objectType) {
				continue
			}
			s.collectFieldsImpl(objectType, sel.SelectionSet, grouped, visitedFragments)

		case *language.FragmentSpread:
			if !s.shouldInclude(sel.Directives) || visitedFragments[sel.Name] {
				continue
			}
			visitedFragments[sel.Name] = true
			def := s.document.Fragments.ForName(sel.Name)
			if def == nil || !s.appliesTo(def.TypeCondition, objectType) || !s.shouldInclude(def.Directives) {
				continue
			}
			s.collectFieldsImpl(objectType, def.SelectionSet, grouped, visitedFragments)
		}
	}
}

// appliesTo reports whether a fragment with the given type condition selects
// on objectType: the condition names it, or an abstract type it belongs to.
func (s *assembly) appliesTo(condition string, objectType *schema.Type) bool {
	if condition == "" || condition == objectType.Name {
		return true
	}
	abstract := s.schema.Types[condition]
	if abstract == nil || !abstract.IsAbstract() {
		return false
	}
	for _, name := range abstract.PossibleTypes {
		if name == objectType.Name {
			return true
		}
	}
	return false
}

func (s *assembly) shouldInclude(directives language.DirectiveList) bool {
	if skip := directives.ForName("skip"); skip != nil {
		if v, ok := s.directiveArgument(skip, "if").(bool); ok && v {
			return false
		}
	}
	if include := directives.ForName("include"); include != nil {
		if v, ok := s.directiveArgument(include, "if").(bool); ok && !v {
			return false
		}
	}
	return true
}

func (s *assembly) directiveArgument(directive *language.Directive, name string) any {
	arg := directive.Arguments.ForName(name)
	if arg == nil || arg.Value == nil {
		return nil
	}
	switch arg.Value.Kind {
	case language.Variable:
		return s.variables[arg.Value.Raw]
	case language.BooleanValue:
		return arg.Value.Raw == "true"
	}
	return nil
}

// mergeSelectionSets merges selection sets from multiple fields
func mergeSelectionSets(fields []*language.Field) language.SelectionSet {
	var merged language.SelectionSet
	for _, f := range fields {
		merged = append(merged, f.SelectionSet...)
	}
	return merged
}
