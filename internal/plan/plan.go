// Package plan models federated query plans: a tree of Fetch, Sequence,
// Parallel, Flatten and Condition nodes produced by an external planner.
//
// Node is a tagged variant; exactly one payload matching Kind is set. Plans
// are immutable once built and may be shared by any number of concurrent
// requests.
package plan

import (
	"fmt"
	"sync"
)

type Kind string

const (
	KindFetch     Kind = "Fetch"
	KindSequence  Kind = "Sequence"
	KindParallel  Kind = "Parallel"
	KindFlatten   Kind = "Flatten"
	KindCondition Kind = "Condition"
)

// ListMarker in a Flatten path fans out over every element of a list.
const ListMarker = "@"

// QueryPlan is the root of a plan tree. A nil Root is an empty plan.
type QueryPlan struct {
	Root *Node

	once     sync.Once
	checkErr error
}

type Node struct {
	Kind Kind

	Fetch     *Fetch
	Nodes     []*Node // Sequence steps or Parallel branches
	Flatten   *Flatten
	Condition *Condition
}

// Fetch is a single subgraph call. Requires is empty for root fetches and
// holds the entity key selections for entity fetches.
type Fetch struct {
	Service        string
	Operation      string
	OperationName  string
	Requires       []Selection
	VariableUsages []string

	once      sync.Once
	fields    []string
	entities  bool
	fieldsErr error
}

// Flatten rebinds its inner node to the objects found at Path.
type Flatten struct {
	Path []string
	Node *Node
}

// Condition picks Then when If evaluates to true against the request
// variables, Else otherwise. Either branch may be nil.
type Condition struct {
	If   string
	Then *Node
	Else *Node
}

type SelectionKind string

const (
	SelectionField          SelectionKind = "Field"
	SelectionInlineFragment SelectionKind = "InlineFragment"
)

// Selection is one element of a requires selection set.
type Selection struct {
	Kind          SelectionKind `json:"kind"`
	Name          string        `json:"name,omitempty"`
	TypeCondition string        `json:"typeCondition,omitempty"`
	Selections    []Selection   `json:"selections,omitempty"`
}

func NewFetch(f *Fetch) *Node { return &Node{Kind: KindFetch, Fetch: f} }

func NewSequence(steps ...*Node) *Node { return &Node{Kind: KindSequence, Nodes: steps} }

func NewParallel(branches ...*Node) *Node { return &Node{Kind: KindParallel, Nodes: branches} }

func NewFlatten(path []string, node *Node) *Node {
	return &Node{Kind: KindFlatten, Flatten: &Flatten{Path: path, Node: node}}
}

func NewCondition(expr string, then, otherwise *Node) *Node {
	return &Node{Kind: KindCondition, Condition: &Condition{If: expr, Then: then, Else: otherwise}}
}

func New(root *Node) *QueryPlan { return &QueryPlan{Root: root} }

// Field selects a plain field, optionally with a sub-selection.
func Field(name string, sub ...Selection) Selection {
	return Selection{Kind: SelectionField, Name: name, Selections: sub}
}

// On selects sub when the object's __typename is typeName.
func On(typeName string, sub ...Selection) Selection {
	return Selection{Kind: SelectionInlineFragment, TypeCondition: typeName, Selections: sub}
}

// IsEntityFetch reports whether the fetch resolves entities from representations.
func (f *Fetch) IsEntityFetch() bool { return len(f.Requires) > 0 }

func (n *Node) String() string {
	if n == nil {
		return "<nil>"
	}
	switch n.Kind {
	case KindFetch:
		return fmt.Sprintf("Fetch(%s)", n.Fetch.Service)
	case KindFlatten:
		return fmt.Sprintf("Flatten(%v)", n.Flatten.Path)
	case KindCondition:
		return fmt.Sprintf("Condition(%s)", n.Condition.If)
	default:
		return fmt.Sprintf("%s[%d]", n.Kind, len(n.Nodes))
	}
}

// Fetches returns every Fetch reachable from n in declaration order.
func (n *Node) Fetches() []*Fetch {
	var out []*Fetch
	var walk func(*Node)
	walk = func(n *Node) {
		if n == nil {
			return
		}
		switch n.Kind {
		case KindFetch:
			out = append(out, n.Fetch)
		case KindSequence, KindParallel:
			for _, c := range n.Nodes {
				walk(c)
			}
		case KindFlatten:
			walk(n.Flatten.Node)
		case KindCondition:
			walk(n.Condition.Then)
			walk(n.Condition.Else)
		}
	}
	walk(n)
	return out
}
