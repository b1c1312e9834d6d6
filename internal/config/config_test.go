package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Resolve()
	assert.NoError(t, cfg.Validate())
	assert.True(t, cfg.ShouldRunGate())
	assert.True(t, cfg.ShouldRunEngine())
}

func TestResolveDefaultsFromDataDir(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = "/var/lib/fluxbridge"
	cfg.Resolve()

	assert.Equal(t, filepath.Join("/var/lib/fluxbridge", "users.db"), cfg.Auth.UserDBPath)
	assert.Equal(t, filepath.Join("/var/lib/fluxbridge", "persist.db"), cfg.Persist.DBPath)
	assert.Equal(t, filepath.Join("/var/lib/fluxbridge", "snapshots"), cfg.Storage.Path)
	assert.Equal(t, cfg.Engine.Addr, cfg.Engine.BridgeAddr, "bridge dials the local engine by default")
}

func TestResolveKeepsExplicitValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Auth.UserDBPath = "/custom/users.db"
	cfg.Engine.BridgeAddr = "engine-host:7777"
	cfg.Resolve()

	assert.Equal(t, "/custom/users.db", cfg.Auth.UserDBPath)
	assert.Equal(t, "engine-host:7777", cfg.Engine.BridgeAddr)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"bad mode":          func(c *Config) { c.Mode = "sideways" },
		"empty data dir":    func(c *Config) { c.DataDir = "" },
		"no engine addr":    func(c *Config) { c.Mode = ModeEngine; c.Engine.Addr = "" },
		"gate without door": func(c *Config) { c.Mode = ModeGate; c.HTTP.Enabled = false; c.GRPC.Enabled = false },
		"bad storage type":  func(c *Config) { c.Storage.Type = "ftp" },
		"s3 without bucket": func(c *Config) { c.Storage.Type = "s3"; c.Persist.ExportEnabled = true },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Resolve()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestModeSelection(t *testing.T) {
	gate := &Config{Mode: ModeGate}
	assert.True(t, gate.ShouldRunGate())
	assert.False(t, gate.ShouldRunEngine())

	engine := &Config{Mode: ModeEngine}
	assert.False(t, engine.ShouldRunGate())
	assert.True(t, engine.ShouldRunEngine())
}

func TestLoadFromYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode: gate
data_dir: /data/fx
http:
  addr: ":8088"
  enabled: true
engine:
  bridge_addr: "engine:7777"
storage:
  type: s3
  s3:
    bucket: fx-snapshots
    region: eu-west-1
`), 0o644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, ModeGate, cfg.Mode)
	assert.Equal(t, "/data/fx", cfg.DataDir)
	assert.Equal(t, ":8088", cfg.HTTP.Addr)
	assert.Equal(t, "engine:7777", cfg.Engine.BridgeAddr)
	assert.Equal(t, "s3", cfg.Storage.Type)
	assert.Equal(t, "fx-snapshots", cfg.Storage.S3.Bucket)

	// Unset fields keep their defaults.
	assert.Equal(t, ":9090", cfg.GRPC.Addr)
}

func TestLoadFromJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
  "mode": "engine",
  "engine": {"addr": ":7001"}
}`), 0o644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, ModeEngine, cfg.Mode)
	assert.Equal(t, ":7001", cfg.Engine.Addr)
}

func TestLoadFromFileErrors(t *testing.T) {
	_, err := LoadFromFile("/does/not/exist.yaml")
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("mode = 'all'"), 0o644))
	_, err = LoadFromFile(path)
	assert.Error(t, err, "unsupported extensions are rejected")
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("FLUXBRIDGE_MODE", "gate")
	t.Setenv("FLUXBRIDGE_HTTP_ADDR", ":8099")
	t.Setenv("FLUXBRIDGE_GRPC_ENABLED", "false")
	t.Setenv("FLUXBRIDGE_ENGINE_BRIDGE_ADDR", "remote:7777")
	t.Setenv("FLUXBRIDGE_PERSIST_EXPORT_ENABLED", "1")
	t.Setenv("FLUXBRIDGE_S3_BUCKET", "fx")

	cfg := DefaultConfig()
	LoadFromEnv(cfg)

	assert.Equal(t, ModeGate, cfg.Mode)
	assert.Equal(t, ":8099", cfg.HTTP.Addr)
	assert.False(t, cfg.GRPC.Enabled)
	assert.Equal(t, "remote:7777", cfg.Engine.BridgeAddr)
	assert.True(t, cfg.Persist.ExportEnabled)
	assert.Equal(t, "fx", cfg.Storage.S3.Bucket)
}

func TestEnsureDirectories(t *testing.T) {
	base := t.TempDir()
	cfg := DefaultConfig()
	cfg.DataDir = filepath.Join(base, "data")
	cfg.Resolve()

	require.NoError(t, cfg.EnsureDirectories())
	assert.DirExists(t, cfg.DataDir)
	assert.DirExists(t, cfg.Storage.Path)
}
