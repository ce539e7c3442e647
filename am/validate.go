package am

import "github.com/teranos/treesync/errors"

// Validate checks that the configuration is valid.
// Zero means "default" or "disabled" as documented per field; negative is invalid.
func (c *Config) Validate() error {
	if c.Session.MaxBatches < 0 {
		return errors.Newf("session.max_batches must be >= 0, got %d", c.Session.MaxBatches)
	}
	if c.Session.BatchSize < 0 {
		return errors.Newf("session.batch_size must be >= 0, got %d", c.Session.BatchSize)
	}
	if c.Session.MaxBatchesPerSecond < 0 {
		return errors.Newf("session.max_batches_per_second must be >= 0, got %f", c.Session.MaxBatchesPerSecond)
	}

	if c.RefTable.MaxEntries < 0 {
		return errors.Newf("ref_table.max_entries must be >= 0, got %d", c.RefTable.MaxEntries)
	}
	if c.RefTable.HeapBudgetMB < 0 {
		return errors.Newf("ref_table.heap_budget_mb must be >= 0, got %d", c.RefTable.HeapBudgetMB)
	}
	if c.RefTable.MinFreeRatio < 0 || c.RefTable.MinFreeRatio >= 1 {
		return errors.Newf("ref_table.min_free_ratio must be in [0, 1), got %f", c.RefTable.MinFreeRatio)
	}
	if c.RefTable.ResizeFactor < 0 || c.RefTable.ResizeFactor >= 1 {
		return errors.Newf("ref_table.resize_factor must be in [0, 1), got %f", c.RefTable.ResizeFactor)
	}
	if c.RefTable.SampleIntervalMS < 0 {
		return errors.Newf("ref_table.sample_interval_ms must be >= 0, got %d", c.RefTable.SampleIntervalMS)
	}

	if c.Ledger.RetainVersions < 0 {
		return errors.Newf("ledger.retain_versions must be >= 0, got %d", c.Ledger.RetainVersions)
	}
	switch c.GetLedgerArchive() {
	case ArchiveSQLite, ArchiveBolt:
		if c.Ledger.Path == "" {
			return errors.Newf("ledger.path cannot be empty with the %s archive", c.GetLedgerArchive())
		}
	case ArchiveNone:
	default:
		return errors.Newf("ledger.archive must be one of sqlite, bolt, none; got %q", c.Ledger.Archive)
	}

	// Server port: 0 is invalid (omit for default), negative is invalid
	if c.Server.Port != nil && *c.Server.Port == 0 {
		return errors.Newf("server.port cannot be 0 (omit for default port %d)", DefaultServerPort)
	}
	if c.Server.Port != nil && (*c.Server.Port < 0 || *c.Server.Port > 65535) {
		return errors.Newf("server.port must be in 1..65535, got %d", *c.Server.Port)
	}

	if c.Peer.TimeoutSeconds < 0 {
		return errors.Newf("peer.timeout_seconds must be >= 0, got %d", c.Peer.TimeoutSeconds)
	}

	return nil
}
