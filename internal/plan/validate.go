package plan

import (
	"fmt"
	"strings"

	language "github.com/hanpama/fedgate/internal/language"
)

// EntitiesField is the subgraph root field that resolves representations.
const EntitiesField = "_entities"

// ValidationError reports a plan that breaks a structural invariant.
type ValidationError struct {
	Node   string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("plan: invalid %s: %s", e.Node, e.Reason)
}

// Fields returns the response names the fetch writes: top-level fields of a
// root fetch, or the fields selected on _entities for an entity fetch.
func (f *Fetch) Fields() ([]string, error) {
	f.once.Do(func() {
		f.fields, f.entities, f.fieldsErr = collectFetchFields(f)
	})
	return f.fields, f.fieldsErr
}

func collectFetchFields(f *Fetch) ([]string, bool, error) {
	doc, err := language.ParseQuery(f.Operation)
	if err != nil {
		return nil, false, fmt.Errorf("parse operation: %w", err)
	}
	if len(doc.Operations) == 0 {
		return nil, false, fmt.Errorf("operation document has no operation")
	}
	op := doc.Operations[0]
	if f.OperationName != "" {
		if named := doc.Operations.ForName(f.OperationName); named != nil {
			op = named
		}
	}
	var names []string
	seen := map[string]struct{}{}
	add := func(name string) {
		if name == "__typename" {
			return
		}
		if _, ok := seen[name]; ok {
			return
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}

	if !f.IsEntityFetch() {
		walkSelections(doc, op.SelectionSet, func(field *language.Field) { add(field.Alias) })
		return names, false, nil
	}
	found := false
	walkSelections(doc, op.SelectionSet, func(field *language.Field) {
		if field.Name != EntitiesField {
			return
		}
		found = true
		walkSelections(doc, field.SelectionSet, func(inner *language.Field) { add(inner.Alias) })
	})
	if !found {
		return nil, true, fmt.Errorf("entity fetch does not select %s", EntitiesField)
	}
	return names, true, nil
}

func walkSelections(doc *language.QueryDocument, set language.SelectionSet, fn func(*language.Field)) {
	for _, sel := range set {
		switch s := sel.(type) {
		case *language.Field:
			fn(s)
		case *language.InlineFragment:
			walkSelections(doc, s.SelectionSet, fn)
		case *language.FragmentSpread:
			if def := doc.Fragments.ForName(s.Name); def != nil {
				walkSelections(doc, def.SelectionSet, fn)
			}
		}
	}
}

// Targets returns the flatten-relative response paths written by the fetch.
// Elements may contain ListMarker.
func (f *Fetch) Targets(prefix []string) ([][]string, error) {
	fields, err := f.Fields()
	if err != nil {
		return nil, err
	}
	out := make([][]string, 0, len(fields))
	for _, name := range fields {
		p := make([]string, 0, len(prefix)+1)
		p = append(p, prefix...)
		out = append(out, append(p, name))
	}
	return out, nil
}

// Check validates the structural invariants of the plan. The result is
// computed once and cached on the plan.
func (p *QueryPlan) Check() error {
	p.once.Do(func() {
		v := &validator{}
		_, p.checkErr = v.node(p.Root, nil, nil)
	})
	return p.checkErr
}

type validator struct{}

// node validates n and returns the target paths it produces. produced holds
// the targets written before n in execution order.
func (v *validator) node(n *Node, prefix []string, produced [][]string) ([][]string, error) {
	if n == nil {
		return nil, nil
	}
	switch n.Kind {
	case KindFetch:
		if n.Fetch == nil {
			return nil, &ValidationError{Node: "Fetch", Reason: "missing fetch payload"}
		}
		if !n.Fetch.IsEntityFetch() && prefix != nil {
			return nil, &ValidationError{Node: n.String(), Reason: "root fetch inside a Flatten"}
		}
		if n.Fetch.IsEntityFetch() {
			if prefix == nil {
				return nil, &ValidationError{Node: n.String(), Reason: "requires outside of a Flatten"}
			}
			for _, sel := range n.Fetch.Requires {
				if sel.Kind == SelectionInlineFragment && sel.TypeCondition == "" {
					return nil, &ValidationError{Node: n.String(), Reason: "requires fragment without type condition"}
				}
			}
		}
		targets, err := n.Fetch.Targets(prefix)
		if err != nil {
			return nil, &ValidationError{Node: n.String(), Reason: err.Error()}
		}
		return targets, nil

	case KindSequence:
		var out [][]string
		seen := append([][]string(nil), produced...)
		for _, step := range n.Nodes {
			if step == nil {
				return nil, &ValidationError{Node: n.String(), Reason: "nil step"}
			}
			targets, err := v.node(step, prefix, seen)
			if err != nil {
				return nil, err
			}
			seen = append(seen, targets...)
			out = append(out, targets...)
		}
		return out, nil

	case KindParallel:
		branches := make([][][]string, len(n.Nodes))
		var out [][]string
		for i, branch := range n.Nodes {
			if branch == nil {
				return nil, &ValidationError{Node: n.String(), Reason: "nil branch"}
			}
			// branches never observe each other's output
			targets, err := v.node(branch, prefix, produced)
			if err != nil {
				return nil, err
			}
			for j := 0; j < i; j++ {
				if a, b, ok := overlapping(branches[j], targets); ok {
					return nil, &ValidationError{
						Node:   n.String(),
						Reason: fmt.Sprintf("branches %d and %d write overlapping paths %s and %s", j, i, joinPath(a), joinPath(b)),
					}
				}
			}
			branches[i] = targets
			out = append(out, targets...)
		}
		return out, nil

	case KindFlatten:
		if n.Flatten == nil || n.Flatten.Node == nil {
			return nil, &ValidationError{Node: "Flatten", Reason: "missing inner node"}
		}
		if len(n.Flatten.Path) == 0 {
			return nil, &ValidationError{Node: n.String(), Reason: "empty path"}
		}
		full := append(append([]string(nil), prefix...), n.Flatten.Path...)
		if !producedBefore(produced, full) {
			return nil, &ValidationError{Node: n.String(), Reason: "path is not produced by an earlier step"}
		}
		return v.node(n.Flatten.Node, full, produced)

	case KindCondition:
		if n.Condition == nil || strings.TrimSpace(n.Condition.If) == "" {
			return nil, &ValidationError{Node: "Condition", Reason: "missing condition expression"}
		}
		thenTargets, err := v.node(n.Condition.Then, prefix, produced)
		if err != nil {
			return nil, err
		}
		elseTargets, err := v.node(n.Condition.Else, prefix, produced)
		if err != nil {
			return nil, err
		}
		return append(thenTargets, elseTargets...), nil
	}
	return nil, &ValidationError{Node: string(n.Kind), Reason: "unknown node kind"}
}

func producedBefore(produced [][]string, path []string) bool {
	for _, t := range produced {
		if isPrefix(t, path) {
			return true
		}
	}
	return false
}

func overlapping(a, b [][]string) ([]string, []string, bool) {
	for _, x := range a {
		for _, y := range b {
			if isPrefix(x, y) || isPrefix(y, x) {
				return x, y, true
			}
		}
	}
	return nil, nil, false
}

func isPrefix(prefix, p []string) bool {
	if len(prefix) > len(p) {
		return false
	}
	for i := range prefix {
		if prefix[i] != p[i] {
			return false
		}
	}
	return true
}

func joinPath(p []string) string { return strings.Join(p, ".") }
