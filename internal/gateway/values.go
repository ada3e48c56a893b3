package gateway

import (
	"encoding/json"
	"fmt"

	language "github.com/hanpama/fedgate/internal/language"
)

// coerceVariables applies the default values declared by operation to the
// variables the client left out. Variables the operation does not declare
// pass through unchanged. Value types are checked by the subgraphs.
func coerceVariables(operation *language.OperationDefinition, variables map[string]any) (map[string]any, error) {
	if len(operation.VariableDefinitions) == 0 {
		return variables, nil
	}
	coerced := make(map[string]any, len(variables)+len(operation.VariableDefinitions))
	for name, v := range variables {
		coerced[name] = v
	}
	for _, def := range operation.VariableDefinitions {
		name := def.Variable
		val, ok := coerced[name]
		if !ok {
			if def.DefaultValue != nil {
				coerced[name] = astValueToGo(def.DefaultValue)
				continue
			}
			if def.Type.NonNull {
				return nil, fmt.Errorf("Variable \"$%s\" of required type \"%s\" was not provided.", name, def.Type.String())
			}
			continue
		}
		if val == nil && def.Type.NonNull {
			return nil, fmt.Errorf("Variable \"$%s\" of non-null type \"%s\" must not be null.", name, def.Type.String())
		}
	}
	return coerced, nil
}

// astValueToGo converts a literal to the value a client would have sent in
// JSON. Numbers keep their literal text.
func astValueToGo(value *language.Value) any {
	if value == nil {
		return nil
	}
	switch value.Kind {
	case language.IntValue, language.FloatValue:
		return json.Number(value.Raw)
	case language.StringValue, language.BlockValue, language.EnumValue:
		return value.Raw
	case language.BooleanValue:
		return value.Raw == "true"
	case language.NullValue:
		return nil
	case language.ListValue:
		out := make([]any, len(value.Children))
		for i, c := range value.Children {
			out[i] = astValueToGo(c.Value)
		}
		return out
	case language.ObjectValue:
		out := make(map[string]any, len(value.Children))
		for _, c := range value.Children {
			out[c.Name] = astValueToGo(c.Value)
		}
		return out
	}
	return nil
}
