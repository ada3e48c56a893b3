package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hanpama/fedgate/internal/config"
)

func execute(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestSignatureIgnoresFormatting(t *testing.T) {
	a, _, err := execute(t, "query Me { me { id } }", "signature", "-", "-o", "Me")
	require.NoError(t, err)
	b, _, err := execute(t, "query Me {\n  me {\n    id\n  }\n}\n# trailing", "signature", "-", "-o", "Me")
	require.NoError(t, err)
	require.Equal(t, a, b)
	require.Len(t, strings.TrimSpace(a), 16)

	dir := t.TempDir()
	sdl := writeFile(t, dir, "supergraph.graphql", "type Query { me: ID }")
	c, _, err := execute(t, "query Me { me { id } }", "signature", "-", "-o", "Me", "-s", sdl)
	require.NoError(t, err)
	require.NotEqual(t, a, c, "schema version is part of the signature")
}

func TestSubgraphProto(t *testing.T) {
	out, _, err := execute(t, "", "subgraph-proto")
	require.NoError(t, err)
	require.Contains(t, out, "service Subgraph")
	require.Contains(t, out, "rpc Execute")
}

func TestValidatePlan(t *testing.T) {
	dir := t.TempDir()
	good := writeFile(t, dir, "good.json", `{"node":{"kind":"Fetch","serviceName":"a","operation":"{me{id}}"}}`)
	bad := writeFile(t, dir, "bad.json", `{"node":{"kind":"Parallel","nodes":[
		{"kind":"Fetch","serviceName":"a","operation":"{me{id}}"},
		{"kind":"Fetch","serviceName":"b","operation":"{me{name}}"}]}}`)

	out, _, err := execute(t, "", "validate-plan", good)
	require.NoError(t, err)
	require.Contains(t, out, "good.json: ok")

	_, errOut, err := execute(t, "", "validate-plan", good, bad)
	require.Error(t, err)
	require.Contains(t, err.Error(), "1 of 2")
	require.Contains(t, errOut, "bad.json")
}

func TestServeRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "fedgate.yaml", "listen: \":0\"\n")
	_, _, err := execute(t, "", "serve", "--config", path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "subgraph")
}

func TestBuildServesStoredPlan(t *testing.T) {
	accounts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer t" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"data":{"me":{"id":"1","name":"Ada"}}}`)
	}))
	defer accounts.Close()

	dir := t.TempDir()
	plans := filepath.Join(dir, "plans")
	require.NoError(t, os.Mkdir(plans, 0o755))
	writeFile(t, plans, "Me.json", `{"node":{"kind":"Fetch","serviceName":"accounts","operation":"{me{id name}}"}}`)

	cfg := config.Default()
	cfg.Supergraph = writeFile(t, dir, "supergraph.graphql", "type Query { me: User } type User { id: ID! name: String }")
	cfg.Planner.Plans = plans
	cfg.PlanCache.Tier = "memory"
	cfg.SchemaPollInterval = 0
	cfg.Server.ForwardHeaders = []string{"Authorization"}
	cfg.Subgraphs = map[string]config.Subgraph{"accounts": {URL: accounts.URL}}
	require.NoError(t, cfg.Validate())

	app, err := build(&cfg, zap.NewNop())
	require.NoError(t, err)
	defer app.close()
	require.Nil(t, app.watcher)

	req := httptest.NewRequest(http.MethodPost, "/graphql",
		strings.NewReader(`{"query":"query Me { me { name id } }","operationName":"Me"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer t")
	w := httptest.NewRecorder()
	app.handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, map[string]any{"me": map[string]any{"name": "Ada", "id": "1"}}, body["data"])
	require.Equal(t, 1, app.engine.Generation().Plans.Len())
}
