package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/arobust/arobust/pkg/diagnosis"
)

var diagnoseCmd = &cobra.Command{
	Use:   "diagnose",
	Short: "Decide the recovery action for a set of failures",
	Long: `Evaluate the configured diagnosis policy against failures given on the
command line and print the resulting action.

Examples:
  arobust diagnose -c arobust.yaml -f rank0="CUDA out of memory" --restart-count 2
  arobust diagnose --restart-threshold 3 -f error=NCCL -o json`,
	RunE: runDiagnose,
}

func init() {
	diagnoseCmd.Flags().StringArrayP("failure", "f", nil, "Failure as key=value (repeatable)")
	diagnoseCmd.Flags().Int("restart-count", 0, "Restarts already attempted")
	diagnoseCmd.Flags().Int("restart-threshold", 0, "Override the configured restart threshold")
	diagnoseCmd.Flags().StringP("output", "o", "yaml", "Output format (yaml, json)")
}

func runDiagnose(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("restart-threshold") {
		cfg.Diagnosis.RestartThreshold, _ = cmd.Flags().GetInt("restart-threshold")
	}

	restartCount, _ := cmd.Flags().GetInt("restart-count")
	if restartCount < 0 {
		return fmt.Errorf("--restart-count must not be negative")
	}
	raw, _ := cmd.Flags().GetStringArray("failure")
	failures, err := parseFailures(raw)
	if err != nil {
		return err
	}

	policy, err := diagnosis.PolicyFromConfig(cfg.Diagnosis)
	if err != nil {
		return err
	}
	action := policy.Evaluate(failures, restartCount)

	output, _ := cmd.Flags().GetString("output")
	switch output {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(action)
	case "yaml":
		out := map[string]any{"action_type": string(action.Type)}
		if len(action.Parameters) > 0 {
			out["parameters"] = action.Parameters
		}
		return yaml.NewEncoder(os.Stdout).Encode(out)
	default:
		return fmt.Errorf("unknown output format %q", output)
	}
}

func parseFailures(raw []string) (map[string]string, error) {
	failures := make(map[string]string, len(raw))
	for _, kv := range raw {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid failure %q, expected key=value", kv)
		}
		failures[key] = value
	}
	return failures, nil
}
