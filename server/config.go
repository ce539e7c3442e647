package server

import (
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/teranos/treesync/am"
	"github.com/teranos/treesync/errors"
	"github.com/teranos/treesync/internal/sysmem"
	"github.com/teranos/treesync/ledger"
	"github.com/teranos/treesync/logger"
	"github.com/teranos/treesync/rpc"
	"github.com/teranos/treesync/session"
)

// SessionOptions turns the session and ref_table sections into a session
// template.
func SessionOptions(cfg *am.Config, log *zap.SugaredLogger) (session.Options, error) {
	opts := session.Options{
		Name:       cfg.Session.Name,
		MaxBatches: cfg.Session.MaxBatches,
		BatchSize:  cfg.Session.BatchSize,
		Trace:      cfg.Session.Trace || logger.CaptureTrace(logger.Verbosity),
		RefTable: rpc.RefTableOptions{
			MaxEntries:   cfg.RefTable.MaxEntries,
			MinFreeRatio: cfg.RefTable.MinFreeRatio,
			ResizeFactor: cfg.RefTable.ResizeFactor,
		},
		Logger: log,
	}

	if !cfg.RefTable.DisablePressure {
		budget := uint64(cfg.RefTable.HeapBudgetMB) << 20
		interval := time.Duration(cfg.RefTable.SampleIntervalMS) * time.Millisecond
		gauge, err := sysmem.NewRuntimeGauge(budget, interval)
		if err != nil {
			return session.Options{}, errors.Wrap(err, "failed to create heap gauge")
		}
		opts.RefTable.Gauge = gauge
	}

	if cfg.Session.MaxBatchesPerSecond > 0 {
		opts.Limiter = rate.NewLimiter(rate.Limit(cfg.Session.MaxBatchesPerSecond), 1)
	}
	return opts, nil
}

// OpenLedger creates the ledger with the configured archive and reloads
// the latest archived version of every object.
func OpenLedger(cfg *am.Config, registry *rpc.Registry, log *zap.SugaredLogger) (*ledger.Ledger, error) {
	opts := ledger.Options{
		RetainVersions: cfg.Ledger.RetainVersions,
		Registry:       registry,
		Logger:         log,
	}

	switch cfg.GetLedgerArchive() {
	case am.ArchiveSQLite:
		a, err := ledger.OpenSQLArchive(cfg.Ledger.Path)
		if err != nil {
			return nil, err
		}
		opts.Archive = a
	case am.ArchiveBolt:
		a, err := ledger.OpenBoltArchive(cfg.Ledger.Path)
		if err != nil {
			return nil, err
		}
		opts.Archive = a
	case am.ArchiveNone:
	default:
		return nil, errors.Newf("unknown ledger archive %q", cfg.Ledger.Archive)
	}

	l := ledger.New(opts)
	if opts.Archive == nil {
		return l, nil
	}
	n, err := l.Restore()
	if err != nil {
		l.Close()
		return nil, errors.Wrap(err, "failed to restore ledger")
	}
	log.Infow("Ledger restored", "objects", n, "archive", cfg.GetLedgerArchive())
	return l, nil
}
