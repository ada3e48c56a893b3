package language

import "github.com/vektah/gqlparser/v2/ast"

type (
	QueryDocument       = ast.QueryDocument
	SchemaDocument      = ast.SchemaDocument
	OperationDefinition = ast.OperationDefinition
	SelectionSet        = ast.SelectionSet
	Field               = ast.Field
	InlineFragment      = ast.InlineFragment
	FragmentSpread      = ast.FragmentSpread
	Directive           = ast.Directive
	DirectiveList       = ast.DirectiveList
)

type ValueKind = ast.ValueKind

const (
	Variable     ValueKind = ast.Variable
	BooleanValue ValueKind = ast.BooleanValue
)

type (
	Value                  = ast.Value
	VariableDefinition     = ast.VariableDefinition
	VariableDefinitionList = ast.VariableDefinitionList
)

const (
	IntValue    ValueKind = ast.IntValue
	FloatValue  ValueKind = ast.FloatValue
	StringValue ValueKind = ast.StringValue
	BlockValue  ValueKind = ast.BlockValue
	EnumValue   ValueKind = ast.EnumValue
	NullValue   ValueKind = ast.NullValue
	ListValue   ValueKind = ast.ListValue
	ObjectValue ValueKind = ast.ObjectValue
)

const (
	OperationQuery        = ast.Query
	OperationMutation     = ast.Mutation
	OperationSubscription = ast.Subscription
)
