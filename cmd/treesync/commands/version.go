package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/teranos/treesync/version"
)

// VersionCmd represents the version command
var VersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	RunE:  runVersion,
}

var versionJSON bool

func init() {
	VersionCmd.Flags().BoolVarP(&versionJSON, "json", "j", false, "Output as JSON")
}

func runVersion(cmd *cobra.Command, args []string) error {
	info := version.Get()
	if versionJSON {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}
	fmt.Println(info.String())
	fmt.Printf("  go:       %s\n", info.GoVersion)
	fmt.Printf("  platform: %s\n", info.Platform)
	return nil
}
