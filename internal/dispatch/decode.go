package dispatch

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/buger/jsonparser"

	"github.com/hanpama/fedgate/internal/gql"
)

type wireError struct {
	Message    string         `json:"message"`
	Path       []any          `json:"path"`
	Extensions map[string]any `json:"extensions"`
}

// decodeResponse splits a subgraph response document into data and errors.
// A missing data entry is reported as absent; an explicit null is present.
func decodeResponse(body []byte) (PartialResult, error) {
	var res PartialResult
	if _, typ, _, err := jsonparser.Get(body); err != nil || typ != jsonparser.Object {
		return res, errors.New("response is not a JSON object")
	}

	raw, typ, _, err := jsonparser.Get(body, "data")
	switch {
	case errors.Is(err, jsonparser.KeyPathNotFoundError):
	case err != nil:
		return res, fmt.Errorf("data: %w", err)
	case typ == jsonparser.Null:
		res.HasData = true
	case typ == jsonparser.Object:
		data, err := decodeJSON(raw)
		if err != nil {
			return res, fmt.Errorf("data: %w", err)
		}
		res.Data, res.HasData = data, true
	default:
		return res, fmt.Errorf("data is a %s, not an object", typ)
	}

	raw, typ, _, err = jsonparser.Get(body, "errors")
	switch {
	case errors.Is(err, jsonparser.KeyPathNotFoundError):
	case err != nil:
		return res, fmt.Errorf("errors: %w", err)
	case typ == jsonparser.Null:
	case typ == jsonparser.Array:
		var wire []wireError
		if err := json.Unmarshal(raw, &wire); err != nil {
			return res, fmt.Errorf("errors: %w", err)
		}
		for _, we := range wire {
			e := gql.GraphQLError{Message: we.Message, Extensions: we.Extensions}
			if p, ok := gql.NormalizePath(we.Path); ok {
				e.Path = p
			}
			res.Errors = append(res.Errors, e)
		}
	default:
		return res, fmt.Errorf("errors is a %s, not an array", typ)
	}

	if !res.HasData && len(res.Errors) == 0 {
		return res, errors.New("response has neither data nor errors")
	}
	return res, nil
}

// decodeJSON keeps numbers as json.Number so values round-trip unchanged.
func decodeJSON(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}
