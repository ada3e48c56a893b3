package representation

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hanpama/fedgate/internal/plan"
)

var productKey = []plan.Selection{
	plan.On("Product", plan.Field("__typename"), plan.Field("upc"), plan.Field("sku")),
}

func TestBuildKeepsSelectionOrderOnTheWire(t *testing.T) {
	obj := map[string]any{"__typename": "Product", "sku": "S-1", "upc": json.Number("42"), "name": "Chair"}
	rep, ok := Build(obj, productKey)
	require.True(t, ok)
	require.Equal(t, []string{"upc", "sku"}, rep.Names())

	b, err := json.Marshal(rep)
	require.NoError(t, err)
	require.Equal(t, `{"__typename":"Product","upc":42,"sku":"S-1"}`, string(b))
}

func TestEqualityIgnoresKeyOrder(t *testing.T) {
	a := Representation{Typename: "Product", Keys: Object{{Name: "upc", Value: "1"}, {Name: "sku", Value: "x"}}}
	b := Representation{Typename: "Product", Keys: Object{{Name: "sku", Value: "x"}, {Name: "upc", Value: "1"}}}
	c := Representation{Typename: "Book", Keys: Object{{Name: "upc", Value: "1"}, {Name: "sku", Value: "x"}}}
	d := Representation{Typename: "Product", Keys: Object{{Name: "upc", Value: "2"}, {Name: "sku", Value: "x"}}}
	require.True(t, Equal(a, b))
	require.False(t, Equal(a, c))
	require.False(t, Equal(a, d))
}

func TestBuildCompositeKey(t *testing.T) {
	requires := []plan.Selection{
		plan.On("User",
			plan.Field("__typename"),
			plan.Field("id"),
			plan.Field("organization", plan.Field("id")),
		),
	}
	obj := map[string]any{
		"__typename":   "User",
		"id":           "u1",
		"organization": map[string]any{"id": "o1", "name": "ACME"},
	}
	rep, ok := Build(obj, requires)
	require.True(t, ok)
	b, err := json.Marshal(rep)
	require.NoError(t, err)
	require.Equal(t, `{"__typename":"User","id":"u1","organization":{"id":"o1"}}`, string(b))
}

func TestBuildSkipsNonMatchingObjects(t *testing.T) {
	_, ok := Build(nil, productKey)
	require.False(t, ok)

	_, ok = Build(map[string]any{"__typename": "Book", "upc": "1", "sku": "2"}, productKey)
	require.False(t, ok)

	_, ok = Build(map[string]any{"__typename": "Product", "upc": "1"}, productKey)
	require.False(t, ok, "missing key field")
}

func TestEncodeAll(t *testing.T) {
	reps := []Representation{
		{Typename: "Product", Keys: Object{{Name: "id", Value: "1"}}},
		{Typename: "Product", Keys: Object{{Name: "id", Value: "2"}}},
	}
	raw, err := EncodeAll(reps)
	require.NoError(t, err)
	require.JSONEq(t, `[{"__typename":"Product","id":"1"},{"__typename":"Product","id":"2"}]`, string(raw))
}

func TestDecodeRestoresEncodedBatch(t *testing.T) {
	reps := []Representation{
		{Typename: "Product", Keys: Object{{Name: "upc", Value: json.Number("42")}, {Name: "sku", Value: "S-1"}}},
		{Typename: "User", Keys: Object{
			{Name: "id", Value: "u1"},
			{Name: "org", Value: Object{{Name: "id", Value: "o\"1"}, {Name: "active", Value: true}}},
			{Name: "tags", Value: []any{"a", nil}},
		}},
	}
	raw, err := EncodeAll(reps)
	require.NoError(t, err)

	got, err := Decode(raw)
	require.NoError(t, err)
	require.Equal(t, reps, got)
}

func TestDecodeRejectsMalformedInput(t *testing.T) {
	for _, in := range []string{
		`{"__typename":"User"}`,
		`[1]`,
		`[{"id":"1"}]`,
		`[{"__typename":"User","id":]`,
	} {
		_, err := Decode([]byte(in))
		require.ErrorIs(t, err, ErrInvalid, in)
	}

	got, err := Decode([]byte(`[]`))
	require.NoError(t, err)
	require.Empty(t, got)
}
