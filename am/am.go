// Package am loads treesync configuration ("am" as in "I am configured
// like this") from layered TOML files and TREESYNC_* environment variables.
package am

// Config represents the treesync configuration
type Config struct {
	Session  SessionConfig  `mapstructure:"session"`
	RefTable RefTableConfig `mapstructure:"ref_table"`
	Ledger   LedgerConfig   `mapstructure:"ledger"`
	Server   ServerConfig   `mapstructure:"server"`
	Peer     PeerConfig     `mapstructure:"peer"`
}

// SessionConfig configures object transfers
type SessionConfig struct {
	Name                string  `mapstructure:"name"`                    // advertised to peers in hello (e.g., "laptop")
	MaxBatches          int     `mapstructure:"max_batches"`             // batches one fetch may pull before giving up (0 = default 10000)
	BatchSize           int     `mapstructure:"batch_size"`              // ops per batch (0 = default)
	MaxBatchesPerSecond float64 `mapstructure:"max_batches_per_second"` // batch request pacing (0 = unlimited)
	Trace               bool    `mapstructure:"trace"`                   // record call sites on sent ops
}

// RefTableConfig bounds the sender-side reference table
type RefTableConfig struct {
	MaxEntries       int     `mapstructure:"max_entries"`        // hard cap on shared identities (0 = default 100000)
	HeapBudgetMB     int     `mapstructure:"heap_budget_mb"`     // heap budget for pressure checks (0 = total system memory)
	MinFreeRatio     float64 `mapstructure:"min_free_ratio"`     // shrink when free heap drops below this share of the budget
	ResizeFactor     float64 `mapstructure:"resize_factor"`      // capacity multiplier applied on each shrink
	SampleIntervalMS int     `mapstructure:"sample_interval_ms"` // how long a heap sample stays valid
	DisablePressure  bool    `mapstructure:"disable_pressure"`   // bound by max_entries alone
}

// LedgerConfig configures version history
type LedgerConfig struct {
	RetainVersions int    `mapstructure:"retain_versions"` // versions kept in memory per object (0 = default 16)
	Archive        string `mapstructure:"archive"`         // "sqlite", "bolt" or "none"
	Path           string `mapstructure:"path"`            // archive file
}

// ServerConfig configures the sync server
type ServerConfig struct {
	Port           *int     `mapstructure:"port"` // nil = default 8771, 0 is invalid (omit for default)
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	WatchDir       string   `mapstructure:"watch_dir"` // directory of tree documents to publish
}

// PeerConfig configures outgoing connections
type PeerConfig struct {
	URL            string `mapstructure:"url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"` // per fetch (0 = no timeout)
}

// Server port constants
const (
	DefaultServerPort = 8771
)

// Archive backends
const (
	ArchiveSQLite = "sqlite"
	ArchiveBolt   = "bolt"
	ArchiveNone   = "none"
)

// File system constants
const (
	DefaultDirPermissions  = 0755
	DefaultFilePermissions = 0644
)
