package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolvePathPrecedence(t *testing.T) {
	explicit := "/tmp/custom.jsonc"
	resolved, err := ResolvePath(explicit)
	require.NoError(t, err)
	require.Equal(t, explicit, resolved)

	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	resolved, err = ResolvePath("")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(xdg, "candor", "config.jsonc"), resolved)

	t.Setenv("XDG_CONFIG_HOME", "")
	home := t.TempDir()
	t.Setenv("HOME", home)
	resolved, err = ResolvePath("")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(home, ".config", "candor", "config.jsonc"), resolved)
}

func TestLoadMissingConfigUsesDefaultsWithWarning(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.jsonc")

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, path, loaded.Path)
	require.False(t, loaded.Exists)
	require.Equal(t, Default(), loaded.Config)
	require.NotEmpty(t, loaded.Warnings)
	require.Contains(t, loaded.Warnings[0].Message, "not found")
}

func TestLoadExistingJSONCParsesAndValidates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.jsonc")
	contents := `
{
  "agent": {
    "url": "wss://agent.example.com/v1/call",
    "first_message": "Hi, ready when you are."
  },
  "media": {
    "camera": "/dev/video2",
    "playback": false
  },
  "feedback": {"url": ""}
}
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.True(t, loaded.Exists)
	require.Equal(t, path, loaded.Path)
	require.Equal(t, "wss://agent.example.com/v1/call", loaded.Config.Agent.URL)
	require.Equal(t, "Hi, ready when you are.", loaded.Config.Agent.FirstMessage)
	require.Equal(t, "/dev/video2", loaded.Config.Media.Camera)
	require.False(t, loaded.Config.Media.Playback)
	require.Len(t, loaded.Warnings, 1)
	require.Contains(t, loaded.Warnings[0].Message, "feedback.url is empty")
}

func TestLoadParseErrorIncludesPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.jsonc")
	require.NoError(t, os.WriteFile(path, []byte("{ not-json }"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "parse config")
	require.Contains(t, err.Error(), path)
}

func TestLoadFillsPostgresDSNFromEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.jsonc")
	require.NoError(t, os.WriteFile(path, []byte(`{"store": {"driver": "postgres"}}`), 0o600))

	env := map[string]string{"DATABASE_URL": " postgres://candor@db/candor "}
	loaded, err := load(path, func(key string) string { return env[key] })
	require.NoError(t, err)
	require.Equal(t, "postgres://candor@db/candor", loaded.Config.Store.DSN)
	for _, warning := range loaded.Warnings {
		require.NotContains(t, warning.Message, "DATABASE_URL")
	}

	env = map[string]string{}
	loaded, err = load(path, func(key string) string { return env[key] })
	require.NoError(t, err)
	require.Empty(t, loaded.Config.Store.DSN)
	require.Contains(t, loaded.Warnings[len(loaded.Warnings)-1].Message, "DATABASE_URL must be set for store.driver=postgres")
}

func TestLoadKeepsExplicitDSNAndIgnoresSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.jsonc")
	require.NoError(t, os.WriteFile(path, []byte(`{"store": {"driver": "pgx", "dsn": "postgres://explicit/db"}}`), 0o600))

	getenv := func(string) string { return "postgres://env/db" }
	loaded, err := load(path, getenv)
	require.NoError(t, err)
	require.Equal(t, "postgres://explicit/db", loaded.Config.Store.DSN)

	missing, err := load(filepath.Join(t.TempDir(), "missing.jsonc"), getenv)
	require.NoError(t, err)
	require.Equal(t, Default().Store, missing.Config.Store)
	require.Len(t, missing.Warnings, 1)
}
