// Package planner adapts external query planners to gateway.Planner. The
// planner itself is not part of the gateway: plans are either stored as JSON
// files produced offline, or requested from a planning service over HTTP.
package planner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/hanpama/fedgate/internal/gateway"
	language "github.com/hanpama/fedgate/internal/language"
	"github.com/hanpama/fedgate/internal/plan"
	schema "github.com/hanpama/fedgate/internal/schema"
)

var operationName = regexp.MustCompile(`^[_A-Za-z][_0-9A-Za-z]*$`)

// Directory serves plans stored as <operation name>.json. Only named
// operations can be planned.
type Directory struct {
	dir string
}

func NewDirectory(dir string) *Directory { return &Directory{dir: dir} }

func (d *Directory) Plan(ctx context.Context, query, opName string, s *schema.Schema) (*plan.QueryPlan, error) {
	doc, err := language.ParseQuery(query)
	if err != nil {
		return nil, &gateway.PlanningError{Err: err}
	}
	op := language.SelectOperation(doc, opName)
	if op == nil {
		return nil, &gateway.PlanningError{Err: fmt.Errorf("operation %q not found", opName)}
	}
	if err := checkRootFields(op, s); err != nil {
		return nil, &gateway.PlanningError{Err: err}
	}
	if op.Name == "" || !operationName.MatchString(op.Name) {
		return nil, &gateway.PlanningError{Err: errors.New("anonymous operations have no stored plan")}
	}

	raw, err := os.ReadFile(filepath.Join(d.dir, op.Name+".json"))
	if errors.Is(err, os.ErrNotExist) {
		return nil, &gateway.PlanningError{Err: fmt.Errorf("no stored plan for operation %q", op.Name)}
	}
	if err != nil {
		return nil, fmt.Errorf("planner: %w", err)
	}
	p, err := plan.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("planner: %s: %w", op.Name, err)
	}
	return p, nil
}

// checkRootFields rejects operations selecting root fields the schema does
// not define.
func checkRootFields(op *language.OperationDefinition, s *schema.Schema) error {
	rootName, err := s.RootTypeName(string(op.Operation))
	if err != nil {
		return err
	}
	root := s.Types[rootName]
	for _, sel := range op.SelectionSet {
		f, ok := sel.(*language.Field)
		if !ok || f.Name == "__typename" {
			continue
		}
		if root.Field(f.Name) == nil {
			return fmt.Errorf("Cannot query field %q on type %q.", f.Name, rootName)
		}
	}
	return nil
}
