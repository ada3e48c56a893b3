package executor

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/Knetic/govaluate"

	"github.com/hanpama/fedgate/internal/plan"
)

// conditionCache holds compiled Condition expressions keyed by source text.
type conditionCache struct {
	exprs sync.Map // string -> *govaluate.EvaluableExpression
}

func (c *conditionCache) compile(src string) (*govaluate.EvaluableExpression, error) {
	if v, ok := c.exprs.Load(src); ok {
		return v.(*govaluate.EvaluableExpression), nil
	}
	expr, err := govaluate.NewEvaluableExpression(strings.ReplaceAll(src, "$", ""))
	if err != nil {
		return nil, err
	}
	v, _ := c.exprs.LoadOrStore(src, expr)
	return v.(*govaluate.EvaluableExpression), nil
}

// condition returns the branch selected by c. The expression is evaluated
// over the request variables; an absent or null variable reads as false.
func (e *Executor) condition(ec *ExecutionContext, c *plan.Condition) (*plan.Node, error) {
	expr, err := e.conditions.compile(c.If)
	if err != nil {
		return nil, &InvariantViolation{Reason: fmt.Sprintf("condition %q", c.If), Err: err}
	}
	params := make(map[string]any, len(expr.Vars()))
	for _, name := range expr.Vars() {
		params[name] = conditionValue(ec.variables[name])
	}
	v, err := expr.Evaluate(params)
	if err != nil {
		return nil, &InvariantViolation{Reason: fmt.Sprintf("condition %q", c.If), Err: err}
	}
	ok, isBool := v.(bool)
	if !isBool {
		return nil, &InvariantViolation{Reason: fmt.Sprintf("condition %q evaluated to %T, not a boolean", c.If, v)}
	}
	if ok {
		return c.Then, nil
	}
	return c.Else, nil
}

func conditionValue(v any) any {
	switch t := v.(type) {
	case nil:
		return false
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return t.String()
		}
		return f
	case int:
		return float64(t)
	case int64:
		return float64(t)
	}
	return v
}
