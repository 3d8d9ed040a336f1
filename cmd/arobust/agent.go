package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/arobust/arobust/pkg/agent"
	"github.com/arobust/arobust/pkg/log"
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run the node agent",
	Long: `Run the node agent until interrupted.

The agent schedules the configured collectors, reports their data to the
master (or keeps it in memory when no master is configured), sends
heartbeats, watches training progress and serves health, metrics and
diagnosis endpoints.

Examples:
  # Run with a config file
  arobust agent -c /etc/arobust/arobust.yaml

  # Override the master and threshold
  arobust agent --remote-addr master:50051 --restart-threshold 3`,
	RunE: runAgent,
}

func init() {
	agentCmd.Flags().String("remote-addr", "", "Master gRPC address (empty keeps data locally)")
	agentCmd.Flags().String("metrics-addr", "", "Address for health, metrics and diagnosis endpoints")
	agentCmd.Flags().Int("node-id", 0, "Node ID")
	agentCmd.Flags().Int("node-rank", 0, "Node rank")
	agentCmd.Flags().String("checkpoint-root", "", "Checkpoint store directory")
	agentCmd.Flags().Int("restart-threshold", 0, "Restarts tolerated before a full relaunch")
	agentCmd.Flags().Bool("monitor", false, "Enable the training progress monitor")
}

func runAgent(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("remote-addr") {
		cfg.RemoteAddr, _ = flags.GetString("remote-addr")
	}
	if flags.Changed("metrics-addr") {
		cfg.MetricsAddr, _ = flags.GetString("metrics-addr")
	}
	if flags.Changed("node-id") {
		cfg.Node.ID, _ = flags.GetInt("node-id")
	}
	if flags.Changed("node-rank") {
		cfg.Node.Rank, _ = flags.GetInt("node-rank")
	}
	if flags.Changed("checkpoint-root") {
		cfg.Checkpoint.Root, _ = flags.GetString("checkpoint-root")
	}
	if flags.Changed("restart-threshold") {
		cfg.Diagnosis.RestartThreshold, _ = flags.GetInt("restart-threshold")
	}
	if flags.Changed("monitor") {
		cfg.MonitorEnabled, _ = flags.GetBool("monitor")
	}

	log.SetNode(cfg.Node.ID, cfg.Node.Rank)

	a, err := agent.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create agent: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Logger.Info().
		Str("metrics_addr", cfg.MetricsAddr).
		Str("remote_addr", cfg.RemoteAddr).
		Msg("agent running, press Ctrl+C to stop")

	if err := a.Run(ctx); err != nil {
		return fmt.Errorf("agent failed: %w", err)
	}
	log.Logger.Info().Msg("shutdown complete")
	return nil
}
