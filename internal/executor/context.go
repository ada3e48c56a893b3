package executor

import (
	"context"
	"sync"

	"github.com/hanpama/fedgate/internal/gql"
	"github.com/hanpama/fedgate/internal/plan"
)

// ExecutionContext is the mutable state of one request: the response tree
// and the request variables. It is never shared between requests. Parallel
// branches write disjoint paths but may write to the same objects, so tree
// access goes through mu.
type ExecutionContext struct {
	mu        sync.Mutex
	data      map[string]any
	variables map[string]any

	abort context.CancelCauseFunc
}

func newExecutionContext(variables map[string]any, abort context.CancelCauseFunc) *ExecutionContext {
	return &ExecutionContext{
		data:      make(map[string]any),
		variables: variables,
		abort:     abort,
	}
}

// fail stops the remaining walk: fetches not yet started observe a done
// context and are skipped.
func (ec *ExecutionContext) fail(err error) error {
	ec.abort(err)
	return err
}

// element is an object reached by a Flatten path, with its concrete path.
type element struct {
	path gql.Path
	obj  map[string]any
}

// batch collects the objects found at path and projects their
// representations. Both happen under mu: a sibling branch may be merging
// into the same objects.
func (ec *ExecutionContext) batch(path []string, requires []plan.Selection) *batch {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	var candidates []element
	collect(ec.data, path, nil, &candidates)
	return newBatch(candidates, requires)
}

// collect appends the objects found at path. Null and missing parents yield
// nothing. Lists are expanded at ListMarker and wherever a list sits under a
// plain field step.
func collect(cur any, path []string, at gql.Path, out *[]element) {
	switch v := cur.(type) {
	case nil:
		return
	case []any:
		rest := path
		if len(rest) > 0 && rest[0] == plan.ListMarker {
			rest = rest[1:]
		}
		for i, item := range v {
			collect(item, rest, at.Append(i), out)
		}
		return
	case map[string]any:
		if len(path) == 0 {
			*out = append(*out, element{path: at, obj: v})
			return
		}
		if path[0] == plan.ListMarker {
			// an object where a list was expected has no elements
			return
		}
		next, ok := v[path[0]]
		if !ok {
			return
		}
		collect(next, path[1:], at.Append(path[0]), out)
	}
}

// mergeRoot merges a root fetch result into the tree.
func (ec *ExecutionContext) mergeRoot(data map[string]any) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	gql.DeepMerge(ec.data, data)
}

// mergeEntities merges each resolved entity into the objects that requested
// it. Objects sharing a representation receive independent copies.
func (ec *ExecutionContext) mergeEntities(targets []element, indexOf []int, entities []any) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	used := make([]bool, len(entities))
	for j, el := range targets {
		entity, ok := entities[indexOf[j]].(map[string]any)
		if !ok {
			continue
		}
		if used[indexOf[j]] {
			entity = deepCopy(entity).(map[string]any)
		}
		used[indexOf[j]] = true
		gql.DeepMerge(el.obj, entity)
	}
}

func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, x := range t {
			out[k] = deepCopy(x)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, x := range t {
			out[i] = deepCopy(x)
		}
		return out
	}
	return v
}
