package cmd

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const greetingManifest = `
name: greeting
defaults:
  lang: en
controls:
  - key: user
    type: static
    value:
      name: ada
  - key: greeting
    group: series
    type: script
    script: "'hello ' + content.user.name"
`

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())

	root := NewRootCommand()
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)

	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestRunManifest(t *testing.T) {
	path := writeFile(t, "greeting.yaml", greetingManifest)

	stdout, _, err := execute(t, "run", path, "-o", "json", "--seed", `{"lang":"es"}`)
	require.NoError(t, err)

	var content map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(stdout), &content))
	assert.Equal(t, "hello ada", content["greeting"])
	assert.Equal(t, "es", content["lang"])
}

func TestRunManifestTable(t *testing.T) {
	path := writeFile(t, "greeting.yaml", greetingManifest)

	stdout, _, err := execute(t, "run", path)
	require.NoError(t, err)
	assert.Contains(t, stdout, "hello ada")
}

func TestRunManifestEvents(t *testing.T) {
	path := writeFile(t, "greeting.yaml", greetingManifest)

	_, stderr, err := execute(t, "run", path, "-o", "json", "--events")
	require.NoError(t, err)
	assert.Contains(t, stderr, "pre-load")
	assert.Contains(t, stderr, "load greeting")
	assert.Contains(t, stderr, "post-load")
}

func TestRunManifestSeedFile(t *testing.T) {
	path := writeFile(t, "greeting.yaml", greetingManifest)
	seed := writeFile(t, "seed.json", `{"user":{"name":"grace"}}`)

	stdout, _, err := execute(t, "run", path, "-o", "json", "--seed-file", seed)
	require.NoError(t, err)

	var content map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(stdout), &content))
	// keyed results overwrite seeded values
	assert.Equal(t, "hello ada", content["greeting"])
}

func TestRunManifestErrors(t *testing.T) {
	path := writeFile(t, "greeting.yaml", greetingManifest)

	_, _, err := execute(t, "run", path, "--seed", `[1,2]`)
	require.Error(t, err)

	_, _, err = execute(t, "run", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	failing := writeFile(t, "failing.yaml", `
name: failing
controls:
  - key: broken
    type: script
    script: "content.missing.field"
`)
	_, _, err = execute(t, "run", failing)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load failed")
}

func TestValidate(t *testing.T) {
	good := writeFile(t, "good.yaml", greetingManifest)
	bad := writeFile(t, "bad.yaml", `
name: bad
controls:
  - key: x
    type: ftp
`)

	stdout, _, err := execute(t, "validate", good)
	require.NoError(t, err)
	assert.Contains(t, stdout, "ok (greeting, 2 controls)")

	_, stderr, err := execute(t, "validate", good, bad)
	require.Error(t, err)
	assert.Contains(t, stderr, "unknown control type")
}

func TestGetWraps(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/wraps", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"wraps":[{"name":"greeting","controls":2}],"total":1}`))
	}))
	defer server.Close()

	stdout, _, err := execute(t, "get", "wraps", "--server", server.URL)
	require.NoError(t, err)
	assert.Contains(t, stdout, "greeting")

	stdout, _, err = execute(t, "get", "wraps", "--server", server.URL, "-o", "json")
	require.NoError(t, err)

	var result wrapsListResponse
	require.NoError(t, json.Unmarshal([]byte(stdout), &result))
	assert.Equal(t, 1, result.Total)
}

func TestGetRunsPassesFilters(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "greeting", r.URL.Query().Get("wrap"))
		assert.Equal(t, "failed", r.URL.Query().Get("status"))
		_, _ = w.Write([]byte(`{"runs":[{"run_id":"r1","wrap":"greeting","status":"failed","error":"boom"}],"total":1}`))
	}))
	defer server.Close()

	stdout, _, err := execute(t, "get", "runs", "--server", server.URL, "--wrap", "greeting", "--status", "failed")
	require.NoError(t, err)
	assert.Contains(t, stdout, "boom")
	assert.Contains(t, stdout, "Total runs: 1")
}

func TestGetRunNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"code":"NOT_FOUND","message":"Run not found"}}`))
	}))
	defer server.Close()

	_, _, err := execute(t, "get", "run", "missing", "--server", server.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Run not found")
}

func TestUnsupportedOutput(t *testing.T) {
	_, _, err := execute(t, "get", "wraps", "-o", "xml")
	require.Error(t, err)
}
