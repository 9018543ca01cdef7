package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadJSON(t *testing.T) {
	path := writeTemp(t, "config.json", `{
		"front_service": {"name":"front_service","listen":["0.0.0.0:44944"],"connect":[]},
		"db_service": {"name":"db_service","listen":[],"connect":["127.0.0.1:11211"]}
	}`)

	cfg, err := Load(path, "front_service")
	require.NoError(t, err)
	require.Equal(t, "front_service", cfg.Name)
	require.Equal(t, []string{"0.0.0.0:44944"}, cfg.Listen)
	require.Empty(t, cfg.Connect)
}

func TestLoadTOML(t *testing.T) {
	path := writeTemp(t, "config.toml", `
[front_service]
name = "front_service"
listen = ["0.0.0.0:44944"]
connect = []

[db_service]
name = "db_service"
connect = ["127.0.0.1:11211"]
`)

	cfg, err := Load(path, "db_service")
	require.NoError(t, err)
	require.Equal(t, "db_service", cfg.Name)
	require.Equal(t, []string{"127.0.0.1:11211"}, cfg.Connect)
}

func TestLoadMissingSection(t *testing.T) {
	path := writeTemp(t, "config.json", `{"front_service": {"name":"front_service"}}`)
	_, err := Load(path, "no_such_service")
	require.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"), "front_service")
	require.Error(t, err)
}

func TestServerAndClientHelpers(t *testing.T) {
	s := Server("front_service", "0.0.0.0:44944")
	require.Equal(t, []string{"0.0.0.0:44944"}, s.Listen)
	require.Empty(t, s.Connect)

	c := Client("front_service", "127.0.0.1:44944")
	require.Equal(t, []string{"127.0.0.1:44944"}, c.Connect)
	require.Empty(t, c.Listen)
}
