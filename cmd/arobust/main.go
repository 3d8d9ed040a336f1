package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/arobust/arobust/pkg/config"
	"github.com/arobust/arobust/pkg/log"
	"github.com/arobust/arobust/pkg/metrics"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "arobust",
	Short: "arobust - node-local fault tolerance for distributed training",
	Long: `arobust runs next to a distributed training job on every node.

It collects diagnostic data (logs, stack dumps, accelerator metrics and
resource usage), reports it to the job master, decides how to recover
from failures and keeps crash-safe checkpoints per training role.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		initLogging(cmd)
		metrics.SetVersion(Version)
	},
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"arobust version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to the YAML configuration file")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Emit logs as JSON")

	rootCmd.AddCommand(agentCmd)
	rootCmd.AddCommand(diagnoseCmd)
	rootCmd.AddCommand(checkpointCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig reads --config and applies the environment. Flags that override
// individual values are applied by each command.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Log.Level = level
	}
	if cmd.Flags().Changed("log-json") {
		cfg.Log.JSON, _ = cmd.Flags().GetBool("log-json")
	}
	return cfg, nil
}

func initLogging(cmd *cobra.Command) {
	level, _ := cmd.Flags().GetString("log-level")
	jsonOut, _ := cmd.Flags().GetBool("log-json")
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		if cfg, err := config.Load(path); err == nil {
			if level == "" {
				level = cfg.Log.Level
			}
			if !cmd.Flags().Changed("log-json") {
				jsonOut = cfg.Log.JSON
			}
		}
	}
	log.Init(log.Config{
		Level:      log.ParseLevel(level),
		JSONOutput: jsonOut,
		Output:     os.Stderr,
	})
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("arobust version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime)
	},
}
