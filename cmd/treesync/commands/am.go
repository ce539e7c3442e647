package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/teranos/treesync/am"
	"github.com/teranos/treesync/errors"
)

// AmCmd represents the am (configuration) command
var AmCmd = &cobra.Command{
	Use:   "am",
	Short: "Manage treesync configuration",
	Long: `Manage treesync configuration ("I am configured like this").

Configuration is layered, later sources winning:
  1. Built-in defaults
  2. /etc/treesync/am.toml
  3. ~/.treesync/am.toml
  4. am.toml in the current directory or a parent
  5. TREESYNC_* environment variables`,
}

var amShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	RunE:  runAmShow,
}

var amGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print one configuration value",
	Args:  cobra.ExactArgs(1),
	RunE:  runAmGet,
}

var amSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Write a value to the user config file",
	Args:  cobra.ExactArgs(2),
	RunE:  runAmSet,
}

var amValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the effective configuration",
	RunE:  runAmValidate,
}

var amWhereCmd = &cobra.Command{
	Use:   "where",
	Short: "Show where each setting comes from",
	RunE:  runAmWhere,
}

var (
	amShowFormat  string
	amWhereFormat string
)

func init() {
	amShowCmd.Flags().StringVarP(&amShowFormat, "format", "f", "toml", "Output format: toml, json, yaml")
	amWhereCmd.Flags().StringVarP(&amWhereFormat, "format", "f", "table", "Output format: table, json, yaml")

	AmCmd.AddCommand(amShowCmd)
	AmCmd.AddCommand(amGetCmd)
	AmCmd.AddCommand(amSetCmd)
	AmCmd.AddCommand(amValidateCmd)
	AmCmd.AddCommand(amWhereCmd)
}

func runAmShow(cmd *cobra.Command, args []string) error {
	if _, err := am.Load(); err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	data, err := marshalSettings(am.GetViper().AllSettings(), amShowFormat)
	if err != nil {
		return err
	}
	fmt.Fprint(os.Stdout, string(data))
	return nil
}

func marshalSettings(v any, format string) ([]byte, error) {
	switch format {
	case "toml":
		data, err := toml.Marshal(v)
		return data, errors.Wrap(err, "failed to marshal TOML")
	case "json":
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return nil, errors.Wrap(err, "failed to marshal JSON")
		}
		return append(data, '\n'), nil
	case "yaml":
		data, err := yaml.Marshal(v)
		return data, errors.Wrap(err, "failed to marshal YAML")
	default:
		return nil, errors.Newf("unsupported format: %s", format)
	}
}

func runAmGet(cmd *cobra.Command, args []string) error {
	if _, err := am.Load(); err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	v := am.Get(args[0])
	if v == nil {
		return errors.NewNotFoundError("no setting %q", args[0])
	}
	fmt.Println(v)
	return nil
}

func runAmSet(cmd *cobra.Command, args []string) error {
	if err := am.Set(args[0], parseValue(args[1])); err != nil {
		return err
	}
	if _, err := loadConfig(); err != nil {
		pterm.Warning.Printfln("%s written, but the configuration no longer validates: %v", args[0], err)
		return nil
	}
	pterm.Success.Printfln("%s = %s (%s)", args[0], args[1], am.UserConfigPath())
	return nil
}

// parseValue keeps booleans and numbers typed in the TOML file
func parseValue(s string) interface{} {
	if s == "true" || s == "false" {
		return s == "true"
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	if strings.Contains(s, ",") {
		return strings.Split(s, ",")
	}
	return s
}

func runAmValidate(cmd *cobra.Command, args []string) error {
	if _, err := loadConfig(); err != nil {
		return err
	}
	pterm.Success.Println("Configuration is valid")
	return nil
}

func runAmWhere(cmd *cobra.Command, args []string) error {
	if _, err := am.Load(); err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	settings := am.Introspect()

	if amWhereFormat != "table" {
		data, err := marshalSettings(settings, amWhereFormat)
		if err != nil {
			return err
		}
		fmt.Fprint(os.Stdout, string(data))
		return nil
	}

	data := pterm.TableData{{"Key", "Value", "Source", "From"}}
	for _, s := range settings {
		data = append(data, []string{s.Key, fmt.Sprint(s.Value), string(s.Source), s.SourcePath})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}
