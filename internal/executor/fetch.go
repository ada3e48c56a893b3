package executor

import (
	"context"
	"fmt"

	"github.com/hanpama/fedgate/internal/dispatch"
	"github.com/hanpama/fedgate/internal/gql"
	"github.com/hanpama/fedgate/internal/plan"
	"github.com/hanpama/fedgate/internal/representation"
)

func (e *Executor) fetch(ctx context.Context, ec *ExecutionContext, f *plan.Fetch, path []string) ([]gql.GraphQLError, error) {
	fields, err := f.Fields()
	if err != nil {
		return nil, ec.fail(&InvariantViolation{Reason: fmt.Sprintf("fetch to %s", f.Service), Err: err})
	}
	if f.IsEntityFetch() {
		return e.entityFetch(ctx, ec, f, path, fields), nil
	}
	return e.rootFetch(ctx, ec, f, fields), nil
}

func (e *Executor) rootFetch(ctx context.Context, ec *ExecutionContext, f *plan.Fetch, fields []string) []gql.GraphQLError {
	targets := make([]gql.Path, len(fields))
	for i, name := range fields {
		targets[i] = gql.Path{name}
	}
	if ctx.Err() != nil {
		return attribute(dispatch.TimeoutError(f.Service), targets)
	}

	res := e.fetcher.Dispatch(ctx, dispatch.Call{
		Service:       f.Service,
		Operation:     f.Operation,
		OperationName: f.OperationName,
		Variables:     selectVariables(ec.variables, f.VariableUsages),
	})
	data, _ := res.Data.(map[string]any)
	if data != nil {
		ec.mergeRoot(data)
	}

	var out []gql.GraphQLError
	for _, ge := range res.Errors {
		if ge.Path != nil || data != nil {
			out = append(out, ge)
			continue
		}
		out = append(out, attribute(ge, targets)...)
	}
	return out
}

// batch is the deduplicated set of representations of one entity fetch.
type batch struct {
	elements []element
	indexOf  []int // elements[j] uses reps[indexOf[j]]
	reps     []representation.Representation
}

// newBatch reads the candidate objects; callers hold ec.mu.
func newBatch(candidates []element, requires []plan.Selection) *batch {
	b := &batch{}
	seen := make(map[string]int)
	for _, el := range candidates {
		rep, ok := representation.Build(el.obj, requires)
		if !ok {
			continue
		}
		key := rep.Key()
		idx, dup := seen[key]
		if !dup {
			idx = len(b.reps)
			seen[key] = idx
			b.reps = append(b.reps, rep)
		}
		b.elements = append(b.elements, el)
		b.indexOf = append(b.indexOf, idx)
	}
	return b
}

// targets are the paths an entity fetch writes: each selected field under
// each element.
func (b *batch) targets(fields []string) []gql.Path {
	out := make([]gql.Path, 0, len(b.elements)*len(fields))
	for _, el := range b.elements {
		for _, name := range fields {
			out = append(out, el.path.Append(name))
		}
	}
	return out
}

func (e *Executor) entityFetch(ctx context.Context, ec *ExecutionContext, f *plan.Fetch, path []string, fields []string) []gql.GraphQLError {
	b := ec.batch(path, f.Requires)
	if len(b.reps) == 0 {
		// no parent objects, nothing to extend
		return nil
	}
	if ctx.Err() != nil {
		return attribute(dispatch.TimeoutError(f.Service), b.targets(fields))
	}

	res := e.fetcher.Dispatch(ctx, dispatch.Call{
		Service:         f.Service,
		Operation:       f.Operation,
		OperationName:   f.OperationName,
		Variables:       selectVariables(ec.variables, f.VariableUsages),
		Representations: b.reps,
	})

	var entities []any
	if data, ok := res.Data.(map[string]any); ok {
		entities, _ = data[plan.EntitiesField].([]any)
	}
	var out []gql.GraphQLError
	if entities != nil && len(entities) != len(b.reps) {
		malformed := gql.NewError(
			fmt.Sprintf("Subgraph %q returned %d entities for %d representations", f.Service, len(entities), len(b.reps)),
			gql.CodeMalformedResponse, nil)
		malformed.Extensions["service"] = f.Service
		out = append(out, attribute(malformed, b.targets(fields))...)
		entities = nil
	}
	if entities != nil {
		ec.mergeEntities(b.elements, b.indexOf, entities)
	}

	for _, ge := range res.Errors {
		if rebased, ok := b.rebase(ge); ok {
			out = append(out, rebased...)
			continue
		}
		if entities != nil {
			out = append(out, ge.WithPath(nil))
			continue
		}
		out = append(out, attribute(ge, b.targets(fields))...)
	}
	return out
}

// rebase moves an error located at ["_entities", i, ...] onto every element
// that requested representation i.
func (b *batch) rebase(ge gql.GraphQLError) ([]gql.GraphQLError, bool) {
	if len(ge.Path) < 2 || ge.Path[0] != plan.EntitiesField {
		return nil, false
	}
	i, ok := ge.Path[1].(int)
	if !ok || i < 0 || i >= len(b.reps) {
		return nil, false
	}
	rest := ge.Path[2:]
	var out []gql.GraphQLError
	for j, el := range b.elements {
		if b.indexOf[j] == i {
			out = append(out, ge.WithPath(el.path.Concat(rest)))
		}
	}
	return out, true
}

// attribute places a copy of ge at each target path.
func attribute(ge gql.GraphQLError, targets []gql.Path) []gql.GraphQLError {
	if len(targets) == 0 {
		return []gql.GraphQLError{ge}
	}
	out := make([]gql.GraphQLError, len(targets))
	for i, p := range targets {
		out[i] = ge.WithPath(p)
	}
	return out
}

// selectVariables forwards only the variables the fetch operation uses.
func selectVariables(all map[string]any, usages []string) map[string]any {
	if len(usages) == 0 || len(all) == 0 {
		return nil
	}
	out := make(map[string]any, len(usages))
	for _, name := range usages {
		if v, ok := all[name]; ok {
			out[name] = v
		}
	}
	return out
}
