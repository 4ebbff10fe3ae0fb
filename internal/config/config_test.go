package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dmitrijs2005/meterkeeper/internal/common"
	"github.com/google/go-cmp/cmp"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse(args))
	return fs
}

func TestLoadDefaults(t *testing.T) {
	var c Config
	c.LoadDefaults()

	assert.Equal(t, ".meterkeeper/queue.db", c.QueueDSN)
	assert.Equal(t, RemotePostgres, c.Remote)
	assert.Equal(t, 5*time.Minute, c.SyncInterval)
	assert.Equal(t, uint64(3), c.MaxRetries)
	assert.Equal(t, 4, c.UploadConcurrency)
	assert.Equal(t, "http://127.0.0.1:9000/", c.S3BaseEndpoint)
	require.NoError(t, c.Validate())
}

func TestLoad_DefaultsOnly(t *testing.T) {
	got, err := Load(nil)
	require.NoError(t, err)

	var want Config
	want.LoadDefaults()
	if diff := cmp.Diff(want, *got); diff != "" {
		t.Errorf("Load() mismatch (-want +got):\n%s", diff)
	}
}

func TestLoad_FileEnvFlagPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meterkeeper.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"remote": "memory",
		"queue_dsn": "/var/lib/meterkeeper/queue.db",
		"sync_interval": "30s",
		"upload_concurrency": 8,
		"log_level": "warn"
	}`), 0o600))

	t.Setenv("METERKEEPER_LOG_LEVEL", "debug")
	t.Setenv("METERKEEPER_UPLOAD_CONCURRENCY", "2")
	t.Setenv("METERKEEPER_SECRET_KEY", "from-env")

	fs := newFlags(t, "--config", path, "--upload-concurrency", "16")
	got, err := Load(fs)
	require.NoError(t, err)

	assert.Equal(t, RemoteMemory, got.Remote, "file")
	assert.Equal(t, "/var/lib/meterkeeper/queue.db", got.QueueDSN, "file")
	assert.Equal(t, 30*time.Second, got.SyncInterval, "file duration string")
	assert.Equal(t, "debug", got.LogLevel, "env beats file")
	assert.Equal(t, "from-env", got.SecretKey, "env without a flag")
	assert.Equal(t, 16, got.UploadConcurrency, "flag beats env")
	assert.Equal(t, ".meterkeeper/spool", got.SpoolDir, "default")
}

func TestLoad_YAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meterkeeper.yaml")
	require.NoError(t, os.WriteFile(path, []byte("remote: memory\nspool_grace: 2h\n"), 0o600))

	got, err := Load(newFlags(t, "--config", path))
	require.NoError(t, err)
	assert.Equal(t, RemoteMemory, got.Remote)
	assert.Equal(t, 2*time.Hour, got.SpoolGrace)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(newFlags(t, "--config", filepath.Join(t.TempDir(), "nope.json")))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{name: "defaults", mutate: func(*Config) {}, ok: true},
		{name: "memory needs no dsn", mutate: func(c *Config) { c.Remote = RemoteMemory; c.PostgresDSN = "" }, ok: true},
		{name: "unknown remote", mutate: func(c *Config) { c.Remote = "firestore" }},
		{name: "postgres without dsn", mutate: func(c *Config) { c.PostgresDSN = "" }},
		{name: "no queue", mutate: func(c *Config) { c.QueueDSN = "" }},
		{name: "zero interval", mutate: func(c *Config) { c.SyncInterval = 0 }},
		{name: "zero concurrency", mutate: func(c *Config) { c.UploadConcurrency = 0 }},
		{name: "negative spool grace", mutate: func(c *Config) { c.SpoolGrace = -time.Hour }},
		{name: "zero spool grace", mutate: func(c *Config) { c.SpoolGrace = 0 }, ok: true},
		{name: "zero backoff min", mutate: func(c *Config) { c.BackoffMin = 0 }},
		{name: "backoff max below min", mutate: func(c *Config) { c.BackoffMin = time.Minute; c.BackoffMax = time.Second }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var c Config
			c.LoadDefaults()
			tt.mutate(&c)
			err := c.Validate()
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, common.ErrValidation)
		})
	}
}

func TestWarnings(t *testing.T) {
	var c Config
	c.LoadDefaults()
	assert.Empty(t, c.Warnings())

	c.SpoolGrace = time.Minute
	w := c.Warnings()
	require.Len(t, w, 1)
	assert.Contains(t, w[0], "spool_grace")
}
