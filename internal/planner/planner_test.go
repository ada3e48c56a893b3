package planner

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hanpama/fedgate/internal/gateway"
	"github.com/hanpama/fedgate/internal/plan"
	schema "github.com/hanpama/fedgate/internal/schema"
)

const storedPlan = `{"node":{"kind":"Fetch","serviceName":"accounts","operation":"{me{id}}"}}`

func testSchema(t *testing.T) *schema.Schema {
	t.Helper()
	s, err := schema.BuildFromSDL("s", `type Query { me: User } type User { id: ID! }`)
	require.NoError(t, err)
	return s
}

func TestDirectoryLoadsPlanByOperationName(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Me.json"), []byte(storedPlan), 0o644))
	d := NewDirectory(dir)
	s := testSchema(t)

	p, err := d.Plan(context.Background(), `query Me { me { id } }`, "", s)
	require.NoError(t, err)
	require.Equal(t, plan.KindFetch, p.Root.Kind)
	require.Equal(t, "accounts", p.Root.Fetch.Service)

	for _, tc := range []struct {
		name, query, op string
	}{
		{"missing file", `query Other { me { id } }`, ""},
		{"anonymous", `{ me { id } }`, ""},
		{"unknown root field", `query Me { you { id } }`, ""},
		{"unknown operation", `query Me { me { id } }`, "Nope"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := d.Plan(context.Background(), tc.query, tc.op, s)
			var pe *gateway.PlanningError
			require.True(t, errors.As(err, &pe), "got %v", err)
		})
	}
}

func TestDirectoryRejectsCorruptPlans(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Me.json"), []byte(`{"node":{"kind":"Defer"}}`), 0o644))
	_, err := NewDirectory(dir).Plan(context.Background(), `query Me { me { id } }`, "Me", testSchema(t))
	require.Error(t, err)
	var pe *gateway.PlanningError
	require.False(t, errors.As(err, &pe), "a corrupt plan is not the client's fault")
}

func TestRemotePlanner(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req remoteRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		switch req.OperationName {
		case "Me":
			_, _ = w.Write([]byte(storedPlan))
		case "Bad":
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"errors":[{"message":"Cannot query field \"x\""}]}`))
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()
	r := NewRemote(srv.URL, srv.Client())

	p, err := r.Plan(context.Background(), `query Me { me { id } }`, "Me", nil)
	require.NoError(t, err)
	require.Equal(t, "accounts", p.Root.Fetch.Service)

	_, err = r.Plan(context.Background(), `query Bad { x }`, "Bad", nil)
	var pe *gateway.PlanningError
	require.True(t, errors.As(err, &pe))
	require.Equal(t, `Cannot query field "x"`, pe.Err.Error())

	_, err = r.Plan(context.Background(), `query Boom { x }`, "Boom", nil)
	require.Error(t, err)
	require.False(t, errors.As(err, &pe))
}
