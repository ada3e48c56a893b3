package plan

import (
	"encoding/json"
	"fmt"
)

type wirePlan struct {
	Node *Node `json:"node"`
}

type wireNode struct {
	Kind Kind `json:"kind"`

	ServiceName    string      `json:"serviceName,omitempty"`
	Operation      string      `json:"operation,omitempty"`
	OperationName  string      `json:"operationName,omitempty"`
	Requires       []Selection `json:"requires,omitempty"`
	VariableUsages []string    `json:"variableUsages,omitempty"`

	Nodes []*Node `json:"nodes,omitempty"`

	Path []string `json:"path,omitempty"`
	Node *Node    `json:"node,omitempty"`

	Condition  string `json:"condition,omitempty"`
	IfClause   *Node  `json:"ifClause,omitempty"`
	ElseClause *Node  `json:"elseClause,omitempty"`
}

func (p *QueryPlan) MarshalJSON() ([]byte, error) {
	return json.Marshal(wirePlan{Node: p.Root})
}

func (p *QueryPlan) UnmarshalJSON(b []byte) error {
	var w wirePlan
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	p.Root = w.Node
	return nil
}

func (n *Node) MarshalJSON() ([]byte, error) {
	w := wireNode{Kind: n.Kind}
	switch n.Kind {
	case KindFetch:
		w.ServiceName = n.Fetch.Service
		w.Operation = n.Fetch.Operation
		w.OperationName = n.Fetch.OperationName
		w.Requires = n.Fetch.Requires
		w.VariableUsages = n.Fetch.VariableUsages
	case KindSequence, KindParallel:
		w.Nodes = n.Nodes
		if w.Nodes == nil {
			w.Nodes = []*Node{}
		}
	case KindFlatten:
		w.Path = n.Flatten.Path
		w.Node = n.Flatten.Node
	case KindCondition:
		w.Condition = n.Condition.If
		w.IfClause = n.Condition.Then
		w.ElseClause = n.Condition.Else
	default:
		return nil, fmt.Errorf("plan: unknown node kind %q", n.Kind)
	}
	return json.Marshal(w)
}

func (n *Node) UnmarshalJSON(b []byte) error {
	var w wireNode
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*n = Node{Kind: w.Kind}
	switch w.Kind {
	case KindFetch:
		if w.ServiceName == "" {
			return fmt.Errorf("plan: fetch node without serviceName")
		}
		n.Fetch = &Fetch{
			Service:        w.ServiceName,
			Operation:      w.Operation,
			OperationName:  w.OperationName,
			Requires:       w.Requires,
			VariableUsages: w.VariableUsages,
		}
	case KindSequence, KindParallel:
		n.Nodes = w.Nodes
	case KindFlatten:
		if w.Node == nil {
			return fmt.Errorf("plan: flatten node without inner node")
		}
		n.Flatten = &Flatten{Path: w.Path, Node: w.Node}
	case KindCondition:
		n.Condition = &Condition{If: w.Condition, Then: w.IfClause, Else: w.ElseClause}
	default:
		return fmt.Errorf("plan: unknown node kind %q", w.Kind)
	}
	return nil
}

// Parse decodes a plan from its JSON form.
func Parse(b []byte) (*QueryPlan, error) {
	var p QueryPlan
	if err := json.Unmarshal(b, &p); err != nil {
		return nil, fmt.Errorf("plan: decode: %w", err)
	}
	return &p, nil
}
