package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/treesync/am"
	"github.com/teranos/treesync/errors"
	"github.com/teranos/treesync/internal/util"
	"github.com/teranos/treesync/ledger"
	"github.com/teranos/treesync/logger"
	"github.com/teranos/treesync/server"
	"github.com/teranos/treesync/tree"
)

// ServeCmd publishes a watched directory of tree documents to peers
var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Publish tree documents to connecting peers",
	Long: `Load every tree document in a directory into the version ledger, watch
the directory for changes, and serve the ledger to peers on /ws/sync.

Each change to a document is stored as a new version; peers that fetch
it again receive only the difference from the version they hold.`,
	RunE: runServe,
}

var (
	serveDir  string
	servePort int
	serveName string
)

func init() {
	ServeCmd.Flags().StringVar(&serveDir, "dir", "", "Directory of tree documents (overrides server.watch_dir)")
	ServeCmd.Flags().IntVar(&servePort, "port", 0, "Listen port (overrides server.port)")
	ServeCmd.Flags().StringVar(&serveName, "name", "", "Name advertised to peers (overrides session.name)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveDir != "" {
		cfg.Server.WatchDir = serveDir
	}
	if servePort != 0 {
		cfg.Server.Port = util.Ptr(servePort)
	}
	if serveName != "" {
		cfg.Session.Name = serveName
	}
	name := cfg.Session.Name
	if name == "" {
		name, _ = os.Hostname()
	}

	log := logger.Logger
	registry := tree.NewRegistry()

	l, err := server.OpenLedger(cfg, registry, logger.ComponentLogger("ledger"))
	if err != nil {
		return errors.Wrap(err, "failed to open ledger")
	}
	defer l.Close()

	watcher, err := tree.NewWatcher(cfg.Server.WatchDir, tree.NewLoader(),
		func(f *tree.File) error {
			_, err := l.Store(f, "")
			return err
		},
		func(path string) error {
			err := l.Remove(path)
			if errors.IsNotFoundError(err) {
				return nil
			}
			return err
		},
		logger.ComponentLogger("watcher"))
	if err != nil {
		return err
	}
	defer watcher.Close()

	n, err := watcher.LoadAll()
	if err != nil {
		return errors.Wrapf(err, "failed to load %s", cfg.Server.WatchDir)
	}
	watcher.Start()

	sessionOpts, err := server.SessionOptions(cfg, log)
	if err != nil {
		return err
	}
	srv := server.New(server.Options{
		Name:           name,
		Registry:       registry,
		Ledger:         l,
		Session:        sessionOpts,
		AllowedOrigins: cfg.GetServerAllowedOrigins(),
		Logger:         log,
	})

	if stop := watchConfig(srv); stop != nil {
		defer stop()
	}

	printServeBanner(name, cfg, n, l)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	return srv.ListenAndServe(ctx, fmt.Sprintf(":%d", cfg.GetServerPort()))
}

// watchConfig reapplies the origin allow-list when the user config changes
func watchConfig(srv *server.Server) func() {
	path := am.UserConfigPath()
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	w, err := am.NewConfigWatcher(path)
	if err != nil {
		logger.Warnw("Config watcher unavailable", logger.FieldPath, path, logger.FieldError, err)
		return nil
	}
	w.OnReload(func(cfg *am.Config) error {
		srv.SetAllowedOrigins(cfg.GetServerAllowedOrigins())
		return nil
	})
	am.SetGlobalWatcher(w)
	w.Start()
	return func() {
		am.SetGlobalWatcher(nil)
		w.Stop()
	}
}

func printServeBanner(name string, cfg *am.Config, loaded int, l *ledger.Ledger) {
	pterm.DefaultSection.Println("treesync " + name)
	pterm.Info.Printfln("Serving %d objects (%d loaded from %s)", len(l.Objects()), loaded, cfg.Server.WatchDir)
	pterm.Info.Printfln("Ledger archive: %s %s", cfg.GetLedgerArchive(), cfg.Ledger.Path)
	pterm.Success.Printfln("Listening on :%d%s", cfg.GetServerPort(), "/ws/sync")
}
