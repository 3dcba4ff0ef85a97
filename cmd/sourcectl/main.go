// Package main implements the sourcectl command-line tool for
// switching APT sources to region-appropriate mirrors.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/sourcectl/sourcectl/internal/apt"
	"github.com/sourcectl/sourcectl/internal/catalog"
	"github.com/sourcectl/sourcectl/internal/switcher"
)

const (
	defaultConfigPath = "/etc/sourcectl/sourcectl.toml"
)

var (
	// Build information - can be set via build flags
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"

	// Command-line flags
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "sourcectl",
	Short: "Switch APT sources to region-appropriate mirrors",
	Long: `sourcectl selects the best APT mirror set for your location and
rewrites /etc/apt/sources.list with backup and rollback protection.

Find more information at: https://github.com/sourcectl/sourcectl`,
}

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Detect the region and apply the matching source configuration",
	Long: `Detects the distribution and geographic region, renders the matching
mirror set, and replaces the APT source configuration.

The previous configuration is backed up first and restored automatically
if the package index refresh fails.

Usage:
  # Apply the best mirror set for the detected region
  sourcectl apply

  # Force a region instead of detecting one
  sourcectl apply --region CN

  # Skip the post-apply mirror probe
  sourcectl apply --no-speed-test

  # Show detailed error information
  sourcectl apply --verbose-errors`,
	Run: runApply,
}

var renderCmd = &cobra.Command{
	Use:   "render",
	Short: "Print the source list for a region without applying it",
	Long: `Renders the source list that apply would write, without touching disk.

Examples:
  sourcectl render --region DE
  sourcectl render`,
	Run: runRender,
}

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Report the current package-source state",
	Long:  `Enumerates the files currently shaping package-source resolution.`,
	Run:   runInspect,
}

var restoreCmd = &cobra.Command{
	Use:   "restore [backup-dir]",
	Short: "Restore the source configuration from a backup set",
	Long: `Restores the primary source file and drop-in fragments from a backup set.

With no argument, the most recent backup set is used.

Examples:
  sourcectl restore
  sourcectl restore /var/backups/sourcectl/20240115-103000`,
	Args: cobra.MaximumNArgs(1),
	Run:  runRestore,
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file",
	Long:  `Validate the configuration file and report any issues.`,
	Run:   runValidate,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  "Print version information including build details",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("sourcectl %s\n", version)
		fmt.Printf("commit: %s\n", commit)
		fmt.Printf("built: %s\n", buildDate)
	},
}

func init() {
	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(renderCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(versionCmd)

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath, "configuration file path")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "", "override log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("verbose-errors", false, "show detailed error information including stack traces")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "suppress all output except for errors")

	applyCmd.Flags().String("region", "", "force a region code instead of detecting one")
	applyCmd.Flags().Bool("no-speed-test", false, "skip the post-apply mirror probe")
	renderCmd.Flags().String("region", "", "force a region code instead of detecting one")
}

// formatError returns a human-friendly error message, optionally with stack trace
func formatError(err error, verbose bool) string {
	if verbose {
		return fmt.Sprintf("%+v", err)
	}

	flattened := errors.FlattenDetails(err)
	if flattened != "" {
		return flattened
	}

	return err.Error()
}

// formatUndecodedError builds a user-friendly message for unknown TOML keys
func formatUndecodedError(undecoded []toml.Key) string {
	keys := make([]string, 0, len(undecoded))
	for _, key := range undecoded {
		keys = append(keys, key.String())
	}
	return fmt.Sprintf("configuration contains unknown sections or keys: %v\n"+
		"Configuration key names are case-sensitive and must match exactly.", keys)
}

// loadConfig decodes the configuration file, applies the environment
// surface and the logging configuration.
func loadConfig(cmd *cobra.Command) (*switcher.Config, error) {
	verboseErrors, _ := cmd.Flags().GetBool("verbose-errors")

	config := switcher.NewConfig()
	meta, err := toml.DecodeFile(configPath, config)
	if err != nil {
		if os.IsNotExist(err) {
			// The tool is fully usable without a config file.
			slog.Debug("no configuration file, using defaults", "path", configPath)
		} else {
			errorMsg := formatError(err, verboseErrors)
			slog.Error("failed to decode config file", "error", errorMsg, "path", configPath)
			return nil, err
		}
	} else if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		errorMsg := formatUndecodedError(undecoded)
		slog.Error("configuration validation failed", "error", errorMsg, "path", configPath)
		return nil, errors.New("configuration validation failed")
	}

	if err := config.ApplyEnvironment(); err != nil {
		return nil, err
	}

	if err := config.Log.Apply(); err != nil {
		return nil, err
	}

	if logLevel != "" {
		config.Log.Level = logLevel
		if err := config.Log.Apply(); err != nil {
			return nil, err
		}
	}

	if quiet, _ := cmd.Flags().GetBool("quiet"); quiet {
		config.Log.Level = "error"
		if err := config.Log.Apply(); err != nil {
			return nil, err
		}
	}

	return config, nil
}

func runApply(cmd *cobra.Command, _ []string) {
	verboseErrors, _ := cmd.Flags().GetBool("verbose-errors")

	config, err := loadConfig(cmd)
	if err != nil {
		os.Exit(1)
	}

	if region, _ := cmd.Flags().GetString("region"); region != "" {
		config.ForceRegion = region
	}
	if noSpeedTest, _ := cmd.Flags().GetBool("no-speed-test"); noSpeedTest {
		config.DisableSpeedTest = true
	}

	if err := config.Check(); err != nil {
		slog.Error("invalid configuration", "error", formatError(err, verboseErrors))
		os.Exit(1)
	}

	quiet, _ := cmd.Flags().GetBool("quiet")

	err = switcher.Run(context.Background(), config, switcher.RunOptions{Quiet: quiet})
	if err != nil {
		slog.Error("apply failed", "error", formatError(err, verboseErrors))
		if !verboseErrors {
			slog.Info("run with --verbose-errors for detailed stack traces")
		}
		os.Exit(1)
	}
}

func runRender(cmd *cobra.Command, _ []string) {
	verboseErrors, _ := cmd.Flags().GetBool("verbose-errors")

	config, err := loadConfig(cmd)
	if err != nil {
		os.Exit(1)
	}
	if region, _ := cmd.Flags().GetString("region"); region != "" {
		config.ForceRegion = region
	}

	distro, err := apt.DetectIdentity()
	if err != nil {
		slog.Error("distribution detection failed", "error", formatError(err, verboseErrors))
		os.Exit(1)
	}

	region := config.ForceRegion
	if region == "" {
		slog.Error("render requires a region; pass --region or set FORCE_COUNTRY")
		os.Exit(1)
	}

	set, err := catalog.Render(region, distro)
	if err != nil {
		slog.Error("render failed", "error", formatError(err, verboseErrors))
		os.Exit(1)
	}

	for _, line := range set.Lines() {
		fmt.Println(line)
	}
}

func runInspect(cmd *cobra.Command, _ []string) {
	verboseErrors, _ := cmd.Flags().GetBool("verbose-errors")

	config, err := loadConfig(cmd)
	if err != nil {
		os.Exit(1)
	}

	inspector := switcher.NewInspector(config)
	state, err := inspector.Scan(context.Background())
	if err != nil {
		slog.Error("scan failed", "error", formatError(err, verboseErrors))
		os.Exit(1)
	}

	fmt.Printf("Primary source file: %s (exists: %v)\n", state.Primary, state.PrimaryExists)
	fmt.Printf("Drop-in fragments: %d\n", len(state.DropIns))
	for _, dropIn := range state.DropIns {
		fmt.Printf("  - %s\n", dropIn)
	}
	fmt.Printf("Cached index files: %d\n", len(state.CacheFiles))
	fmt.Printf("Stale auxiliary files: %d\n", len(state.AuxFiles))
	for _, aux := range state.AuxFiles {
		fmt.Printf("  - %s\n", aux)
	}
	fmt.Printf("Referenced mirror hosts: %v\n", state.Hosts)
	if len(state.MirrorRefs) > 0 {
		fmt.Println("Files referencing known mirrors:")
		for _, ref := range state.MirrorRefs {
			fmt.Printf("  - %s (%s)\n", ref.Path, ref.Host)
		}
	}
}

func runRestore(cmd *cobra.Command, args []string) {
	verboseErrors, _ := cmd.Flags().GetBool("verbose-errors")

	config, err := loadConfig(cmd)
	if err != nil {
		os.Exit(1)
	}

	var dir string
	if len(args) > 0 {
		dir = args[0]
	}

	if err := switcher.Restore(config, dir, false); err != nil {
		slog.Error("restore failed", "error", formatError(err, verboseErrors))
		os.Exit(1)
	}
}

func runValidate(cmd *cobra.Command, _ []string) {
	verboseErrors, _ := cmd.Flags().GetBool("verbose-errors")

	config, err := loadConfig(cmd)
	if err != nil {
		os.Exit(1)
	}

	var validationErrors []error

	if err := config.Log.Apply(); err != nil {
		validationErrors = append(validationErrors, errors.Wrap(err, "log config"))
	}
	if err := config.Check(); err != nil {
		validationErrors = append(validationErrors, errors.Wrap(err, "global config"))
	}

	if len(validationErrors) > 0 {
		slog.Error("the toml configuration file is not valid")
		for _, err := range validationErrors {
			slog.Error(formatError(err, verboseErrors))
		}
		os.Exit(1)
	}

	slog.Info("the toml configuration file passes validation checks")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
