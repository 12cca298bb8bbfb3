package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
}

func noEnv() (Env, error) { return Env{}, nil }

func TestParseYAMLAndJSON(t *testing.T) {
	dir := t.TempDir()

	y := filepath.Join(dir, "config.yaml")
	writeFile(t, y, `
wascript:
  token: file-token
  timeout: 20s
dispatch:
  default_interval: 15s
logging:
  level: debug
  console: true
storage:
  driver: sqlite
  path: ./data/groupcast.db
schedules:
  - name: morning
    spec: "07:30"
    message: Bom dia
    category: devocional
`)
	m := NewConfigManager(y)
	m.readEnv = noEnv
	cfg, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, "file-token", cfg.Wascript.Token)
	assert.Equal(t, "15s", cfg.Dispatch.DefaultInterval)
	require.NotNil(t, cfg.Storage)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	require.Len(t, cfg.Schedules, 1)
	assert.Equal(t, "07:30", cfg.Schedules[0].Spec)
	assert.Same(t, cfg, m.Get())

	j := filepath.Join(dir, "config.json")
	writeFile(t, j, `{"wascript":{"token":"x"},"logging":{"level":"info"}}`)
	m = NewConfigManager(j)
	m.readEnv = noEnv
	cfg, err = m.Load()
	require.NoError(t, err)
	assert.Equal(t, "x", cfg.Wascript.Token)
}

func TestParseRejectsUnknownAndTrailing(t *testing.T) {
	dir := t.TempDir()

	p := filepath.Join(dir, "config.json")
	writeFile(t, p, `{"wascript":{"tokn":"x"}}`)
	m := NewConfigManager(p)
	m.readEnv = noEnv
	_, err := m.Parse()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tokn")

	writeFile(t, p, `{} {}`)
	_, err = m.Parse()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "trailing data")
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("WASCRIPT_TOKEN", "env-token")
	t.Setenv("GROUPCAST_LOG_LEVEL", "warn")
	t.Setenv("GROUPCAST_STORAGE_DRIVER", "file")
	t.Setenv("GROUPCAST_STORAGE_PATH", "/tmp/gc_store")

	p := filepath.Join(t.TempDir(), "config.json")
	writeFile(t, p, `{"wascript":{"token":"file-token"},"logging":{"level":"debug"}}`)

	cfg, err := NewConfigManager(p).Load()
	require.NoError(t, err)
	assert.Equal(t, "env-token", cfg.Wascript.Token)
	assert.Equal(t, "warn", cfg.Logging.Level)
	require.NotNil(t, cfg.Storage)
	assert.Equal(t, StorageConfig{Driver: "file", Path: "/tmp/gc_store"}, *cfg.Storage)
}

func TestLoadWithoutFileUsesEnvOnly(t *testing.T) {
	t.Setenv("WASCRIPT_TOKEN", "env-only")
	t.Setenv("GROUPCAST_STORAGE_DRIVER", "")
	t.Setenv("GROUPCAST_STORAGE_PATH", "")

	m := NewConfigManager(filepath.Join(t.TempDir(), "absent.json"))
	cfg, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, "env-only", cfg.Wascript.Token)
	assert.Nil(t, cfg.Storage)
	assert.Same(t, cfg, m.Get())

	_, err = m.Parse()
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadDotEnvSkipsMissing(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, LoadDotEnv(filepath.Join(dir, "missing.env")))

	p := filepath.Join(dir, "test.env")
	writeFile(t, p, "GROUPCAST_DOTENV_VALUE=from-file\n")
	t.Setenv("GROUPCAST_DOTENV_VALUE", "")
	os.Unsetenv("GROUPCAST_DOTENV_VALUE")
	require.NoError(t, LoadDotEnv(p))
	assert.Equal(t, "from-file", os.Getenv("GROUPCAST_DOTENV_VALUE"))
}

func TestValidate(t *testing.T) {
	cfg := &Config{
		Wascript: WascriptConfig{BaseURL: "ftp://nope", Timeout: "soon"},
		Dispatch: DispatchConfig{DefaultInterval: "5s"},
		Logging:  LoggingConfig{Telegram: LoggingTelegram{Enabled: true}},
		Schedules: []ScheduleConfig{
			{Name: "a", Spec: "@daily", Message: "hi", Targets: []string{"1"}},
			{Name: "A", Spec: "", Message: "", Interval: "2s"},
		},
		Tracing: TracingConfig{SampleRatio: 2},
	}
	err := Validate(cfg)
	require.Error(t, err)
	msg := err.Error()
	for _, want := range []string{
		"wascript.base_url",
		"wascript.timeout",
		"dispatch.default_interval: 5s is below the 13s floor",
		"logging.telegram",
		`schedules[1].name: duplicate "A"`,
		"schedules[1].spec: required",
		"schedules[1].message: required",
		"schedules[1]: targets or category is required",
		"schedules[1].interval: 2s is below",
		"tracing.sample_ratio",
	} {
		assert.True(t, strings.Contains(msg, want), "missing %q in %s", want, msg)
	}

	assert.NoError(t, Validate(&Config{Dispatch: DispatchConfig{DefaultInterval: "13s"}}))
}

func TestSummarizeConfigChangeHidesTokens(t *testing.T) {
	oldCfg := &Config{Wascript: WascriptConfig{Token: "a"}, Logging: LoggingConfig{Level: "info"}}
	newCfg := &Config{Wascript: WascriptConfig{Token: "b"}, Logging: LoggingConfig{Level: "debug"}}

	changed, attrs := SummarizeConfigChange(oldCfg, newCfg)
	assert.Equal(t, []string{"logging"}, changed)
	assert.NotEmpty(t, attrs)

	newCfg.Storage = &StorageConfig{Driver: "sqlite"}
	changed, _ = SummarizeConfigChange(oldCfg, newCfg)
	assert.Equal(t, []string{"logging", "storage"}, changed)
	assert.Equal(t, []string{"storage"}, RequiresRestart(changed))
}

func TestWatchPublishesChanges(t *testing.T) {
	p := filepath.Join(t.TempDir(), "config.json")
	writeFile(t, p, `{"logging":{"level":"info"}}`)

	m := NewConfigManager(p)
	m.readEnv = noEnv
	_, err := m.Load()
	require.NoError(t, err)

	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	// Give the watcher time to register before the write.
	time.Sleep(200 * time.Millisecond)
	writeFile(t, p, `{"logging":{"level":"debug"}}`)

	select {
	case cfg := <-ch:
		assert.Equal(t, "debug", cfg.Logging.Level)
		assert.Equal(t, "debug", m.Get().Logging.Level)
	case <-time.After(5 * time.Second):
		t.Fatal("no config published")
	}
}

func TestWatchSkipsInvalidReload(t *testing.T) {
	p := filepath.Join(t.TempDir(), "config.json")
	writeFile(t, p, `{"dispatch":{"default_interval":"20s"}}`)

	m := NewConfigManager(p)
	m.readEnv = noEnv
	_, err := m.Load()
	require.NoError(t, err)

	writeFile(t, p, `{"dispatch":{"default_interval":"1s"}}`)
	m.reload(context.Background())
	assert.Equal(t, "20s", m.Get().Dispatch.DefaultInterval)
}

func TestParseInterval(t *testing.T) {
	d, err := ParseInterval("x", "")
	require.NoError(t, err)
	assert.Zero(t, d)

	d, err = ParseInterval("x", "30")
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, d)

	d, err = ParseInterval("x", "1m")
	require.NoError(t, err)
	assert.Equal(t, time.Minute, d)

	_, err = ParseInterval("dispatch.default_interval", "12")
	require.EqualError(t, err, "dispatch.default_interval: 12s is below the 13s floor")

	_, err = ParseInterval("x", "-5")
	require.Error(t, err)
	_, err = ParseInterval("x", "soon")
	require.Error(t, err)
}

func TestDecodeYAMLNestedKeys(t *testing.T) {
	cfg, err := decodeConfig("c.yaml", []byte("schedules:\n  - name: manha\n    spec: \"07:30\"\n    message: bom dia\n    targets: [\"5511\"]\n"))
	require.NoError(t, err)
	require.Len(t, cfg.Schedules, 1)
	assert.Equal(t, "07:30", cfg.Schedules[0].Spec)
	assert.Equal(t, []string{"5511"}, cfg.Schedules[0].Targets)
}
