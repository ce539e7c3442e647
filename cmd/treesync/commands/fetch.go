package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/teranos/treesync/errors"
	"github.com/teranos/treesync/logger"
	"github.com/teranos/treesync/rpc"
	"github.com/teranos/treesync/server"
	"github.com/teranos/treesync/tree"
)

// FetchCmd fetches objects from a peer
var FetchCmd = &cobra.Command{
	Use:   "fetch <id>...",
	Short: "Fetch objects from a peer",
	Long: `Connect to a peer and fetch one or more objects by id.

With --repeat the objects are fetched again on an interval over the same
connection; unchanged objects cost two ops each and changed ones arrive
as diffs.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runFetch,
}

var (
	fetchPeer   string
	fetchFormat string
	fetchRepeat time.Duration
)

func init() {
	FetchCmd.Flags().StringVar(&fetchPeer, "peer", "", "Peer address (overrides peer.url)")
	FetchCmd.Flags().StringVar(&fetchFormat, "format", "tree", "Output format: tree, json, yaml")
	FetchCmd.Flags().DurationVar(&fetchRepeat, "repeat", 0, "Fetch again on this interval until interrupted")
}

func runFetch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	addr := cfg.Peer.URL
	if fetchPeer != "" {
		addr = fetchPeer
	}
	if addr == "" {
		return errors.WithHint(errors.New("no peer address"), "pass --peer or set peer.url")
	}

	opts, err := server.SessionOptions(cfg, logger.PeerLogger("fetch", addr))
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	sess, ep, err := server.Connect(ctx, addr, tree.NewRegistry(), nil, cfg.Session.Name, opts)
	if err != nil {
		return err
	}
	defer ep.Close()

	for {
		for _, id := range args {
			fetchCtx := ctx
			var cancel context.CancelFunc = func() {}
			if cfg.Peer.TimeoutSeconds > 0 {
				fetchCtx, cancel = context.WithTimeout(ctx, time.Duration(cfg.Peer.TimeoutSeconds)*time.Second)
			}
			v, err := sess.GetObject(fetchCtx, id)
			cancel()
			if err != nil {
				return errors.Wrapf(err, "failed to fetch %s", id)
			}
			if err := printObject(id, v, fetchFormat); err != nil {
				return err
			}
		}

		st := sess.Stats()
		pterm.Info.Printfln("%d fetched, %d ops received, %d shared values cached", st.Fetched, st.OpsReceived, st.RemoteRefs)

		if fetchRepeat <= 0 {
			return nil
		}
		select {
		case <-time.After(fetchRepeat):
		case <-ep.Done():
			return errors.Wrap(ep.Err(), "peer disconnected")
		case <-ctx.Done():
			return nil
		}
	}
}

func printObject(id string, v any, format string) error {
	if v == nil {
		pterm.Warning.Printfln("%s: not published by peer", id)
		return nil
	}

	switch format {
	case "json":
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return errors.Wrap(err, "failed to marshal JSON")
		}
		fmt.Fprintln(os.Stdout, string(data))
	case "yaml":
		data, err := yaml.Marshal(v)
		if err != nil {
			return errors.Wrap(err, "failed to marshal YAML")
		}
		fmt.Fprint(os.Stdout, string(data))
	case "tree":
		n, ok := v.(rpc.Node)
		if !ok {
			fmt.Fprintf(os.Stdout, "%s: %v\n", id, v)
			return nil
		}
		out, err := pterm.DefaultTree.WithRoot(renderNode(n)).Srender()
		if err != nil {
			return errors.Wrap(err, "failed to render tree")
		}
		fmt.Fprint(os.Stdout, out)
	default:
		return errors.Newf("unsupported format: %s (supported: tree, json, yaml)", format)
	}
	return nil
}
