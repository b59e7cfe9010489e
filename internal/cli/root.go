package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/lazypower/duro/internal/config"
	"github.com/lazypower/duro/internal/logging"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "duro",
	Short:         "Artifact governance for AI coding agents",
	Long:          "Duro stores facts, decisions, incidents and changes with decaying confidence, gates root-cause claims behind a three-pass debug check, and enforces pre-action rules with audited waivers.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// exitCode carries a process exit code out of a command without printing
// an error.
type exitCode int

func (c exitCode) Error() string { return fmt.Sprintf("exit status %d", int(c)) }

// Execute runs the root command and returns the process exit code.
func Execute() int {
	err := rootCmd.Execute()
	var code exitCode
	switch {
	case err == nil:
		return 0
	case errors.As(err, &code):
		return int(code)
	default:
		fmt.Fprintln(os.Stderr, "duro:", err)
		return 1
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default $DURO_CONFIG or ~/.duro/config.yaml)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(mcpCmd)
	rootCmd.AddCommand(hookCmd)
	rootCmd.AddCommand(decayCmd)
	rootCmd.AddCommand(thresholdCmd)
	rootCmd.AddCommand(gateCmd)
	rootCmd.AddCommand(artifactCmd)
	rootCmd.AddCommand(changeCmd)
}

// resolveConfigPath applies the --config flag, then DURO_CONFIG, then the
// default location next to the database.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	if p := os.Getenv("DURO_CONFIG"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".duro", "config.yaml")
}

// loadConfig reads the configuration and initialises logging on stderr.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return cfg, err
	}
	logging.Init(logging.ParseLevel(cfg.Logging.Level), cfg.Logging.Format, os.Stderr)
	return cfg, nil
}
