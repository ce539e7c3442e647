package am

import (
	"fmt"

	"github.com/spf13/viper"
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Session defaults
	v.SetDefault("session.max_batches", 10_000)
	v.SetDefault("session.batch_size", 256)
	v.SetDefault("session.max_batches_per_second", 0.0) // unlimited
	v.SetDefault("session.trace", false)

	// Reference table defaults
	v.SetDefault("ref_table.max_entries", 100_000)
	v.SetDefault("ref_table.heap_budget_mb", 0) // total system memory
	v.SetDefault("ref_table.min_free_ratio", 0.1)
	v.SetDefault("ref_table.resize_factor", 0.5)
	v.SetDefault("ref_table.sample_interval_ms", 250)

	// Ledger defaults
	v.SetDefault("ledger.retain_versions", 16)
	v.SetDefault("ledger.archive", ArchiveSQLite)
	v.SetDefault("ledger.path", "treesync.db")

	// Server defaults
	v.SetDefault("server.port", DefaultServerPort)
	v.SetDefault("server.allowed_origins", []string{
		"http://localhost",
		"https://localhost",
		"http://127.0.0.1",
		"https://127.0.0.1",
	})
	v.SetDefault("server.watch_dir", ".")

	// Peer defaults
	v.SetDefault("peer.timeout_seconds", 30)
}

// BindEnvVars explicitly binds settings commonly overridden per process
func BindEnvVars(v *viper.Viper) {
	v.BindEnv("ledger.path", "TREESYNC_LEDGER_PATH")
	v.BindEnv("peer.url", "TREESYNC_PEER_URL")
	v.BindEnv("session.name", "TREESYNC_NAME")
}

// GetServerPort returns the configured port, or DefaultServerPort
func (c *Config) GetServerPort() int {
	if c.Server.Port == nil {
		return DefaultServerPort
	}
	return *c.Server.Port
}

// GetServerAllowedOrigins returns the allowed websocket origins
func (c *Config) GetServerAllowedOrigins() []string {
	if len(c.Server.AllowedOrigins) == 0 {
		return []string{
			"http://localhost",
			"https://localhost",
			"http://127.0.0.1",
			"https://127.0.0.1",
		}
	}
	return c.Server.AllowedOrigins
}

// GetLedgerArchive returns the archive backend (default: sqlite)
func (c *Config) GetLedgerArchive() string {
	if c.Ledger.Archive == "" {
		return ArchiveSQLite
	}
	return c.Ledger.Archive
}

// String returns a string representation of the config
func (c *Config) String() string {
	return fmt.Sprintf("Config{Session: {Name: %s, MaxBatches: %d}, Ledger: {Archive: %s, Path: %s}, Server: {Port: %d}}",
		c.Session.Name, c.Session.MaxBatches, c.GetLedgerArchive(), c.Ledger.Path, c.GetServerPort())
}
