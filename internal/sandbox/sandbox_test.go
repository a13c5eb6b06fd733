package sandbox

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const demoPlugin = `package main

func Manifest() string {
	return ` + "`" + `{"name":"demo","version":"1.2.0","api_version":"1.0","requires":["linker"],"permissions":{"fs":true},"sandbox":true}` + "`" + `
}

func Load(host map[string]any) error { return nil }
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestSafeImportScriptedSuccess(t *testing.T) {
	// Stand in a scripted process that prints a verdict, ignoring the
	// plugin path argument appended by SafeImport.
	s := NewWithArgv(zap.NewNop(), []string{"sh", "-c",
		`echo '{"success":true,"name":"demo","version":"1.0.0","api_version":"1.0"}' #`})

	res, err := s.SafeImport(context.Background(), "ignored.go", time.Second)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "demo", res.Name)
	assert.Equal(t, "1.0", res.APIVersion)
}

func TestSafeImportScriptedFailureVerdict(t *testing.T) {
	s := NewWithArgv(zap.NewNop(), []string{"sh", "-c",
		`echo '{"success":false,"error":"evaluating plugin: boom"}' #`})

	res, err := s.SafeImport(context.Background(), "ignored.go", time.Second)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "boom")
}

func TestSafeImportTimeout(t *testing.T) {
	s := NewWithArgv(zap.NewNop(), []string{"sh", "-c", "sleep 5 #"})

	_, err := s.SafeImport(context.Background(), "ignored.go", 100*time.Millisecond)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrImportTimeout))
}

func TestSafeImportProbeCrash(t *testing.T) {
	s := NewWithArgv(zap.NewNop(), []string{"sh", "-c", "exit 3 #"})

	_, err := s.SafeImport(context.Background(), "ignored.go", time.Second)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrProbeFailed))
}

func TestSafeImportGarbageOutput(t *testing.T) {
	s := NewWithArgv(zap.NewNop(), []string{"sh", "-c", "echo not-json #"})

	_, err := s.SafeImport(context.Background(), "ignored.go", time.Second)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrProbeFailed))
}

func TestParseResultSkipsNoise(t *testing.T) {
	out := []byte("plugin says hello\n{\"success\":true,\"name\":\"demo\",\"version\":\"1.0.0\"}\n")
	res, err := parseResult(out)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "demo", res.Name)
}

func TestRunProbeValidPlugin(t *testing.T) {
	path := writeFile(t, "demo.go", demoPlugin)

	var buf bytes.Buffer
	require.NoError(t, RunProbe(path, &buf))

	res, err := parseResult(buf.Bytes())
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "demo", res.Name)
	assert.Equal(t, "1.2.0", res.Version)
	assert.Equal(t, []string{"linker"}, res.Requires)
	assert.True(t, res.Permissions["fs"])
	assert.True(t, res.Sandbox)
}

func TestRunProbeBrokenPlugin(t *testing.T) {
	path := writeFile(t, "broken.go", "package main\nfunc {")

	var buf bytes.Buffer
	require.NoError(t, RunProbe(path, &buf))

	res, err := parseResult(buf.Bytes())
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "evaluating plugin")
}

func TestRunProbeNoManifest(t *testing.T) {
	path := writeFile(t, "plain.go", "package main\n\nfunc helper() {}\n")

	var buf bytes.Buffer
	require.NoError(t, RunProbe(path, &buf))

	res, err := parseResult(buf.Bytes())
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "Manifest")
}

func TestRunProbeBadManifestJSON(t *testing.T) {
	src := `package main

func Manifest() string { return "not json" }
`
	path := writeFile(t, "badjson.go", src)

	var buf bytes.Buffer
	require.NoError(t, RunProbe(path, &buf))

	res, err := parseResult(buf.Bytes())
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "valid JSON")
}

func TestRunProbeMissingFile(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, RunProbe(filepath.Join(t.TempDir(), "nope.go"), &buf))

	res, err := parseResult(buf.Bytes())
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "reading plugin")
}
