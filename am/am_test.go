package am

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/treesync/internal/util"
)

// isolate points every config layer at temp directories.
func isolate(t *testing.T) (home, project string) {
	t.Helper()
	home = t.TempDir()
	project = t.TempDir()
	t.Setenv("HOME", home)
	t.Chdir(project)

	old := systemConfigPath
	systemConfigPath = filepath.Join(t.TempDir(), "system.toml")
	t.Cleanup(func() {
		systemConfigPath = old
		Reset()
	})
	Reset()
	return home, project
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoad_Defaults(t *testing.T) {
	v := viper.New()
	SetDefaults(v)

	cfg, err := LoadWithViper(v)
	require.NoError(t, err)

	assert.Equal(t, 10_000, cfg.Session.MaxBatches)
	assert.Equal(t, 100_000, cfg.RefTable.MaxEntries)
	assert.Equal(t, 16, cfg.Ledger.RetainVersions)
	assert.Equal(t, ArchiveSQLite, cfg.Ledger.Archive)
	assert.Equal(t, DefaultServerPort, cfg.GetServerPort())
	assert.NotEmpty(t, cfg.GetServerAllowedOrigins())
	assert.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"zero values are valid", func(c *Config) {}, ""},
		{"negative max batches", func(c *Config) { c.Session.MaxBatches = -1 }, "session.max_batches"},
		{"negative batch size", func(c *Config) { c.Session.BatchSize = -3 }, "session.batch_size"},
		{"negative pacing", func(c *Config) { c.Session.MaxBatchesPerSecond = -0.5 }, "max_batches_per_second"},
		{"negative max entries", func(c *Config) { c.RefTable.MaxEntries = -1 }, "ref_table.max_entries"},
		{"free ratio of one", func(c *Config) { c.RefTable.MinFreeRatio = 1 }, "min_free_ratio"},
		{"resize factor above one", func(c *Config) { c.RefTable.ResizeFactor = 1.5 }, "resize_factor"},
		{"negative retain", func(c *Config) { c.Ledger.RetainVersions = -2 }, "retain_versions"},
		{"unknown archive", func(c *Config) { c.Ledger.Archive = "s3" }, "ledger.archive"},
		{"archive without path", func(c *Config) { c.Ledger.Archive = ArchiveBolt; c.Ledger.Path = "" }, "ledger.path"},
		{"no archive needs no path", func(c *Config) { c.Ledger.Archive = ArchiveNone; c.Ledger.Path = "" }, ""},
		{"port zero", func(c *Config) { c.Server.Port = util.Ptr(0) }, "cannot be 0"},
		{"port out of range", func(c *Config) { c.Server.Port = util.Ptr(70000) }, "server.port"},
		{"negative timeout", func(c *Config) { c.Peer.TimeoutSeconds = -1 }, "peer.timeout_seconds"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Ledger: LedgerConfig{Path: "treesync.db"}}
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "am.toml")
	writeFile(t, path, `
[session]
name = "laptop"
batch_size = 64

[ledger]
archive = "bolt"
path = "/var/lib/treesync/versions.bolt"

[server]
port = 9000
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "laptop", cfg.Session.Name)
	assert.Equal(t, 64, cfg.Session.BatchSize)
	assert.Equal(t, 10_000, cfg.Session.MaxBatches, "defaults still apply")
	assert.Equal(t, ArchiveBolt, cfg.GetLedgerArchive())
	assert.Equal(t, 9000, cfg.GetServerPort())

	_, err = LoadFromFile(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestLoad_Precedence(t *testing.T) {
	home, project := isolate(t)

	writeFile(t, systemConfigPath, "[session]\nname = \"system\"\nbatch_size = 10\nmax_batches = 5\n")
	writeFile(t, filepath.Join(home, ".treesync", "am.toml"), "[session]\nname = \"user\"\nbatch_size = 20\n")
	writeFile(t, filepath.Join(project, "am.toml"), "[session]\nbatch_size = 30\n")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "user", cfg.Session.Name)
	assert.Equal(t, 30, cfg.Session.BatchSize)
	assert.Equal(t, 5, cfg.Session.MaxBatches)

	assert.Equal(t, SourceProject, ConfigSources["session.batch_size"].Source)
	assert.Equal(t, SourceUser, ConfigSources["session.name"].Source)
	assert.Equal(t, SourceSystem, ConfigSources["session.max_batches"].Source)

	again, err := Load()
	require.NoError(t, err)
	assert.Same(t, cfg, again, "cached until Reset")
}

func TestLoad_EnvironmentWins(t *testing.T) {
	home, _ := isolate(t)
	writeFile(t, filepath.Join(home, ".treesync", "am.toml"), "[peer]\nurl = \"http://file:1\"\n[session]\nbatch_size = 20\n")
	t.Setenv("TREESYNC_PEER_URL", "http://env:2")
	t.Setenv("TREESYNC_SESSION_BATCH_SIZE", "99")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "http://env:2", cfg.Peer.URL)
	assert.Equal(t, 99, cfg.Session.BatchSize)

	var found bool
	for _, s := range Introspect() {
		if s.Key == "session.batch_size" {
			found = true
			assert.Equal(t, SourceEnvironment, s.Source)
			assert.Equal(t, "TREESYNC_SESSION_BATCH_SIZE", s.SourcePath)
		}
	}
	assert.True(t, found)
}

func TestIntrospect_Defaults(t *testing.T) {
	isolate(t)

	settings := Introspect()
	require.NotEmpty(t, settings)
	for i := 1; i < len(settings); i++ {
		assert.Less(t, settings[i-1].Key, settings[i].Key, "sorted")
	}
	for _, s := range settings {
		if s.Key == "ledger.retain_versions" {
			assert.Equal(t, SourceDefault, s.Source)
		}
	}
}

func TestSet(t *testing.T) {
	home, _ := isolate(t)

	require.NoError(t, Set("session.name", "desk"))
	require.NoError(t, Set("ref_table.max_entries", 500))
	require.NoError(t, Set("session.trace", true))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "desk", cfg.Session.Name)
	assert.Equal(t, 500, cfg.RefTable.MaxEntries)
	assert.True(t, cfg.Session.Trace)

	path := filepath.Join(home, ".treesync", "am.toml")
	assert.FileExists(t, path+".back1")
	assert.FileExists(t, path+".back2")
	assert.NoFileExists(t, path+".back3")

	assert.Error(t, Set("", 1))
	assert.Error(t, Set("session.", 1))
}

func TestIsBackupFile(t *testing.T) {
	assert.True(t, isBackupFile("/home/u/.treesync/am.toml.back1"))
	assert.True(t, isBackupFile("am.toml.back3"))
	assert.False(t, isBackupFile("am.toml.back4"))
	assert.False(t, isBackupFile("am.toml"))
}

func TestConfigWatcher_Reloads(t *testing.T) {
	home, _ := isolate(t)
	path := filepath.Join(home, ".treesync", "am.toml")
	writeFile(t, path, "[session]\nname = \"before\"\n")

	w, err := NewConfigWatcher(path)
	require.NoError(t, err)
	defer w.Stop()
	w.SetDebounce(50 * time.Millisecond)

	reloaded := make(chan *Config, 4)
	w.OnReload(func(cfg *Config) error {
		reloaded <- cfg
		return nil
	})
	w.Start()

	require.NoError(t, os.WriteFile(path, []byte("[session]\nname = \"after\"\n"), 0o644))

	select {
	case cfg := <-reloaded:
		assert.Equal(t, "after", cfg.Session.Name)
	case <-time.After(5 * time.Second):
		t.Fatal("config not reloaded")
	}
}

func TestConfigWatcher_IgnoresOwnWrite(t *testing.T) {
	home, _ := isolate(t)
	path := filepath.Join(home, ".treesync", "am.toml")
	writeFile(t, path, "[session]\nname = \"before\"\n")

	w, err := NewConfigWatcher(path)
	require.NoError(t, err)
	defer w.Stop()
	w.SetDebounce(20 * time.Millisecond)

	w.MarkOwnWrite()
	assert.True(t, w.checkOwnWrite())
	assert.False(t, w.checkOwnWrite(), "flag clears after one check")
}
