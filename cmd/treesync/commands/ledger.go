package commands

import (
	"fmt"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/treesync/am"
	"github.com/teranos/treesync/errors"
	"github.com/teranos/treesync/ledger"
	"github.com/teranos/treesync/logger"
	"github.com/teranos/treesync/server"
	"github.com/teranos/treesync/tree"
)

// LedgerCmd inspects the archived version history
var LedgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Inspect the local version ledger",
	Long: `Inspect objects and versions recorded in the ledger archive.

Only archived versions are visible here; with ledger.archive = "none"
history lives in the serving process alone.`,
}

var ledgerLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List objects and their current versions",
	Args:  cobra.NoArgs,
	RunE:  runLedgerLs,
}

var ledgerVersionsCmd = &cobra.Command{
	Use:   "versions <id>",
	Short: "List the retained versions of an object",
	Args:  cobra.ExactArgs(1),
	RunE:  runLedgerVersions,
}

func init() {
	LedgerCmd.AddCommand(ledgerLsCmd)
	LedgerCmd.AddCommand(ledgerVersionsCmd)
}

func openLedger() (*ledger.Ledger, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.GetLedgerArchive() == am.ArchiveNone {
		pterm.Warning.Println("ledger.archive is \"none\": nothing is persisted")
	}
	return server.OpenLedger(cfg, tree.NewRegistry(), logger.ComponentLogger("ledger"))
}

func runLedgerLs(cmd *cobra.Command, args []string) error {
	l, err := openLedger()
	if err != nil {
		return err
	}
	defer l.Close()

	entries := l.Objects()
	if len(entries) == 0 {
		pterm.Info.Println("No objects recorded")
		return nil
	}
	return pterm.DefaultTable.WithHasHeader().WithData(entryTable(entries)).Render()
}

func runLedgerVersions(cmd *cobra.Command, args []string) error {
	l, err := openLedger()
	if err != nil {
		return err
	}
	defer l.Close()

	versions, err := l.Versions(args[0])
	if err != nil {
		if errors.IsNotFoundError(err) {
			return errors.WithHint(err, "run 'treesync ledger ls' to list known objects")
		}
		return err
	}
	current, _ := l.GetCurrentVersion(args[0])
	for _, v := range versions {
		if v == current {
			fmt.Printf("%s %s\n", v, pterm.FgGreen.Sprint("(current)"))
			continue
		}
		fmt.Println(v)
	}
	return nil
}

func entryTable(entries []ledger.Entry) pterm.TableData {
	data := pterm.TableData{{"Object", "Kind", "Version", "Stored"}}
	for _, e := range entries {
		data = append(data, []string{
			e.ObjectID,
			string(e.Kind),
			e.Version,
			e.StoredAt.Local().Format(time.DateTime),
		})
	}
	return data
}
