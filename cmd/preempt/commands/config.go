package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/teranos/preempt/config"
	"github.com/teranos/preempt/errors"
)

// ConfigCmd represents the config command
var ConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect preempt configuration",
	Long: `Display and check preempt configuration.

Configuration sources (in order of precedence):
1. Command line flags
2. Environment variables (PREEMPT_* prefix)
3. Project config (./preempt.toml, searched up from the working directory)
4. User config (~/.preempt/preempt.toml)
5. System config (/etc/preempt/preempt.toml)
6. Default values

--config replaces sources 3 to 5 with a single file.

Examples:
  preempt config show                    # Show current configuration
  preempt config show --format json      # Show configuration in JSON format
  preempt config get requeue.timeout_seconds
  preempt config validate`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  "Display the merged configuration from all sources",
	RunE:  runConfigShow,
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get a specific configuration value",
	Long:  "Get a specific configuration value using dot notation (e.g., job.signal_lead_seconds, signals.warn)",
	Args:  cobra.ExactArgs(1),
	RunE:  runConfigGet,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate current configuration",
	Long:  "Validate signals, timeouts, commands and the job's resource request",
	RunE:  runConfigValidate,
}

var configWhereCmd = &cobra.Command{
	Use:   "where",
	Short: "Show where configuration is loaded from",
	Long: `Show the configuration cascade and which files were checked.

Lists the files in order of precedence, lowest first, with whether each
was loaded, missing or unreadable.`,
	RunE: runConfigWhere,
}

var configFormat string

func init() {
	configShowCmd.Flags().StringVar(&configFormat, "format", "toml", "Output format: toml, json, yaml")

	ConfigCmd.AddCommand(configShowCmd)
	ConfigCmd.AddCommand(configGetCmd)
	ConfigCmd.AddCommand(configValidateCmd)
	ConfigCmd.AddCommand(configWhereCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	if _, err := loadConfig(); err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	return writeSettings(cmd.OutOrStdout(), config.GetViper().AllSettings(), configFormat)
}

// writeSettings prints settings keyed the way they are written in preempt.toml
func writeSettings(w io.Writer, settings map[string]interface{}, format string) error {
	switch format {
	case "json":
		data, err := json.MarshalIndent(settings, "", "  ")
		if err != nil {
			return errors.Wrap(err, "failed to marshal config to JSON")
		}
		fmt.Fprintln(w, string(data))

	case "yaml":
		data, err := yaml.Marshal(settings)
		if err != nil {
			return errors.Wrap(err, "failed to marshal config to YAML")
		}
		fmt.Fprintf(w, "# preempt configuration\n%s", data)

	case "toml":
		data, err := toml.Marshal(settings)
		if err != nil {
			return errors.Wrap(err, "failed to marshal config to TOML")
		}
		fmt.Fprintf(w, "# preempt configuration\n%s", data)

	default:
		return errors.Newf("unsupported format: %s (supported: toml, json, yaml)", format)
	}
	return nil
}

func runConfigGet(cmd *cobra.Command, args []string) error {
	if _, err := loadConfig(); err != nil {
		return errors.Wrap(err, "failed to load config")
	}

	key := args[0]
	if !config.GetViper().IsSet(key) {
		return errors.Newf("configuration key %q not found", key)
	}
	fmt.Fprintln(cmd.OutOrStdout(), config.Get(key))
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "configuration validation failed")
	}
	if err := cfg.ValidateWorkload(); err != nil {
		return errors.Wrap(err, "configuration validation failed")
	}

	fmt.Fprintln(cmd.OutOrStdout(), "✓ Configuration is valid")
	return nil
}

func runConfigWhere(cmd *cobra.Command, args []string) error {
	if _, err := loadConfig(); err != nil {
		return errors.Wrap(err, "failed to load config")
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Configuration cascade (later overrides earlier):")
	fmt.Fprintln(out, "  [DEFAULT]  Built-in defaults")
	for _, src := range config.Sources() {
		status := "missing"
		switch {
		case src.Err != nil:
			status = "error: " + src.Err.Error()
		case src.Loaded:
			status = "loaded"
		}
		fmt.Fprintf(out, "  [%-8s] %s (%s)\n", strings.ToUpper(src.Kind), src.Path, status)
	}
	fmt.Fprintf(out, "  [ENV]      %s_* environment variables\n", config.EnvPrefix)
	return nil
}

