package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/arobust/arobust/pkg/checkpoint"
	"github.com/arobust/arobust/pkg/types"
)

// Checkpoint commands
var checkpointCmd = &cobra.Command{
	Use:   "checkpoint",
	Short: "Inspect and manage the checkpoint store",
	Long: `Inspect and manage the checkpoint store of this node.

The store is locked by a running agent, so these commands are meant for
when the agent is stopped.`,
}

var checkpointListCmd = &cobra.Command{
	Use:   "list ROLE",
	Short: "List published checkpoints of a role",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withManager(cmd, args[0], func(m *checkpoint.Manager) error {
			recs, err := m.List()
			if err != nil {
				return err
			}
			if len(recs) == 0 {
				fmt.Printf("No checkpoints for role %s\n", m.Role())
				return nil
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "EPISODE\tSTEP\tSIZE\tCREATED\tLOCATION")
			for _, rec := range recs {
				fmt.Fprintf(w, "%d\t%d\t%d\t%s\t%s\n",
					rec.Episode, rec.Step, rec.Size, rec.CreatedAt.Format(time.RFC3339), rec.Location)
			}
			return w.Flush()
		})
	},
}

var checkpointLoadCmd = &cobra.Command{
	Use:   "load ROLE",
	Short: "Print the state of a checkpoint",
	Long: `Print the decoded state of the latest checkpoint of ROLE, or of the
checkpoint selected with --step (and --episode).`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		episode, _ := cmd.Flags().GetInt64("episode")
		step, _ := cmd.Flags().GetInt64("step")
		byStep := cmd.Flags().Changed("step")

		return withManager(cmd, args[0], func(m *checkpoint.Manager) error {
			var state json.RawMessage
			var ok bool
			if byStep {
				_, ok = m.LoadEpisodeStep(episode, step, &state)
			} else {
				_, ok = m.Load(&state)
			}
			if !ok {
				return fmt.Errorf("no loadable checkpoint for role %s", m.Role())
			}
			_, err := os.Stdout.Write(append(state, '\n'))
			return err
		})
	},
}

var checkpointPruneCmd = &cobra.Command{
	Use:   "prune ROLE",
	Short: "Delete all but the newest checkpoints of a role",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		keep, _ := cmd.Flags().GetInt("keep")
		if keep < 0 {
			return fmt.Errorf("--keep must not be negative")
		}

		return withManager(cmd, args[0], func(m *checkpoint.Manager) error {
			recs, err := m.List()
			if err != nil {
				return err
			}
			if len(recs) <= keep {
				fmt.Printf("Nothing to prune (%d checkpoints)\n", len(recs))
				return nil
			}
			sort.Slice(recs, func(i, j int) bool {
				return recs[i].Before(recs[j].Episode, recs[j].Step)
			})
			drop := make(map[uint64]struct{}, len(recs)-keep)
			for _, rec := range recs[:len(recs)-keep] {
				drop[rec.Sequence] = struct{}{}
			}
			n, err := m.DeleteWhere(func(rec *types.CheckpointRecord) bool {
				_, ok := drop[rec.Sequence]
				return ok
			})
			if err != nil {
				return err
			}
			fmt.Printf("Pruned %d checkpoints of role %s\n", n, m.Role())
			return nil
		})
	},
}

func init() {
	checkpointCmd.PersistentFlags().String("root", "", "Checkpoint store directory (defaults to checkpoint.root)")

	checkpointLoadCmd.Flags().Int64("episode", 0, "Episode of the checkpoint")
	checkpointLoadCmd.Flags().Int64("step", 0, "Step of the checkpoint")

	checkpointPruneCmd.Flags().Int("keep", 1, "Number of newest checkpoints to keep")

	checkpointCmd.AddCommand(checkpointListCmd)
	checkpointCmd.AddCommand(checkpointLoadCmd)
	checkpointCmd.AddCommand(checkpointPruneCmd)
}

// withManager opens the store, hands fn the manager of role and closes the
// store again.
func withManager(cmd *cobra.Command, role string, fn func(*checkpoint.Manager) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	root, _ := cmd.Flags().GetString("root")
	if root == "" {
		root = cfg.Checkpoint.Root
	}
	if root == "" {
		return fmt.Errorf("no checkpoint root: set --root or checkpoint.root")
	}

	r := types.Role(role)
	if !r.Valid() {
		return fmt.Errorf("unknown role %q", role)
	}

	store, err := checkpoint.Open(root)
	if err != nil {
		return fmt.Errorf("failed to open checkpoint store: %w", err)
	}
	defer store.Close()

	m, err := store.Manager(r, checkpoint.PolicyFromConfig(cfg.Checkpoint, r))
	if err != nil {
		return err
	}
	return fn(m)
}
