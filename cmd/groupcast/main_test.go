package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (cfgPath, envPath string) {
	t.Helper()
	for _, k := range []string{"WASCRIPT_TOKEN", "WASCRIPT_BASE_URL", "GROUPCAST_STORAGE_DRIVER", "GROUPCAST_STORAGE_PATH", "GROUPCAST_OPS_ADDR", "OTEL_EXPORTER_OTLP_ENDPOINT"} {
		// Registered with t.Setenv so the value loaded from .env is undone on cleanup.
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	cfg := fmt.Sprintf(`{
  "wascript": {"base_url": %q},
  "dispatch": {"event_log": %q},
  "logging": {"level": "error"},
  "storage": {"driver": "file", "path": %q}
}`, srv.URL, filepath.Join(dir, "send.log"), filepath.Join(dir, "store"))
	cfgPath = filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o600))

	envPath = filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envPath, []byte("WASCRIPT_TOKEN=tok-cli\n"), 0o600))
	return cfgPath, envPath
}

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var out, errb bytes.Buffer
	code := run(context.Background(), args, &out, &errb)
	return code, out.String(), errb.String()
}

func TestUsageAndVersion(t *testing.T) {
	code, _, stderr := runCLI(t)
	assert.Equal(t, exitUsage, code)
	assert.Contains(t, stderr, "usage: groupcast")

	code, stdout, _ := runCLI(t, "version")
	assert.Equal(t, exitOK, code)
	assert.NotEmpty(t, stdout)

	cfgPath, envPath := setup(t)
	code, _, stderr = runCLI(t, "-config", cfgPath, "-env", envPath, "bogus")
	assert.Equal(t, exitUsage, code)
	assert.Contains(t, stderr, `unknown command "bogus"`)
}

func TestTargetsLifecycle(t *testing.T) {
	cfgPath, envPath := setup(t)
	base := []string{"-config", cfgPath, "-env", envPath, "targets"}

	code, stdout, _ := runCLI(t, append(base, "add", "-id", "120363000000001@g.us", "-name", "Equipe", "-category", "trabalho")...)
	require.Equal(t, exitOK, code)
	assert.Contains(t, stdout, "added 120363000000001@g.us")

	code, _, stderr := runCLI(t, append(base, "add", "-id", "120363000000001@g.us", "-name", "Outra", "-category", "x")...)
	assert.Equal(t, exitErr, code)
	assert.Contains(t, stderr, "already exists")

	code, _, _ = runCLI(t, append(base, "add", "-id", "5511", "-name", "", "-category", "x")...)
	assert.Equal(t, exitUsage, code)

	code, stdout, _ = runCLI(t, append(base, "ls", "-category", "TRABALHO")...)
	require.Equal(t, exitOK, code)
	assert.Contains(t, stdout, "Equipe")

	code, _, _ = runCLI(t, append(base, "rm", "120363000000001@g.us")...)
	assert.Equal(t, exitOK, code)
	code, _, stderr = runCLI(t, append(base, "rm", "120363000000001@g.us")...)
	assert.Equal(t, exitErr, code)
	assert.Contains(t, stderr, "not found")
}

func TestSendPrintsOutcomeTable(t *testing.T) {
	cfgPath, envPath := setup(t)
	base := []string{"-config", cfgPath, "-env", envPath, "send"}

	code, stdout, stderr := runCLI(t, append(base, "-m", "bom dia", "-to", "5511000000001")...)
	require.Equal(t, exitOK, code, stderr)
	assert.Contains(t, stdout, "5511000000001")
	assert.Contains(t, stdout, "success")
	assert.Contains(t, stdout, "1 sent, 0 failed")

	code, _, stderr = runCLI(t, append(base, "-m", "bom dia", "-to", "5511000000001", "-interval", "5s")...)
	assert.Equal(t, exitErr, code)
	assert.Contains(t, stderr, "invalid request")
	assert.Contains(t, stderr, "13s")

	code, stdout, stderr = runCLI(t, append(base, "-m", "bom dia", "-to", "5511000000001", "-interval", "20")...)
	require.Equal(t, exitOK, code, stderr)
	assert.Contains(t, stdout, "1 sent, 0 failed")

	code, _, stderr = runCLI(t, append(base, "-m", "bom dia", "-to", "5511000000001", "-interval", "5")...)
	assert.Equal(t, exitErr, code)
	assert.Contains(t, stderr, "5s is below the 13s floor")

	code, _, _ = runCLI(t, append(base, "-m", "bom dia", "-to", "5511000000001", "-interval", "soon")...)
	assert.Equal(t, exitUsage, code)

	code, _, stderr = runCLI(t, append(base, "-m", "", "-to", "5511000000001")...)
	assert.Equal(t, exitErr, code)
	assert.Contains(t, stderr, "message text is empty")
}

func TestSendWithOnlyDotEnv(t *testing.T) {
	_, envPath := setup(t)
	dir := t.TempDir()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	t.Cleanup(srv.Close)
	t.Setenv("WASCRIPT_BASE_URL", srv.URL)
	t.Setenv("GROUPCAST_STORAGE_DRIVER", "none")
	t.Chdir(dir)

	code, stdout, stderr := runCLI(t, "-config", filepath.Join(dir, "config.json"), "-env", envPath, "send", "-m", "oi", "-to", "5511000000002")
	require.Equal(t, exitOK, code, stderr)
	assert.Contains(t, stdout, "1 sent, 0 failed")
}

func TestOneLineAndSplitList(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, splitList(" a, ,b,"))
	assert.Nil(t, splitList(""))
	assert.Equal(t, "a b c", oneLine("a\n b\tc", 80))
	assert.Equal(t, "abcd...", oneLine("abcdefghij", 7))
}
