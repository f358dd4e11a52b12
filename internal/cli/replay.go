package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/strand/internal/store"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Database string
	BatchID  string
}

// ReplayRunResult holds the replay result for a single run.
type ReplayRunResult struct {
	RunID      string `json:"run_id"`
	Name       string `json:"name"`
	Actions    int    `json:"actions"`
	Reproduced bool   `json:"reproduced"`
	Mismatch   string `json:"mismatch,omitempty"`
}

// ReplayResult holds the overall replay result.
type ReplayResult struct {
	Runs          []ReplayRunResult `json:"runs"`
	Total         int               `json:"total"`
	AllReproduced bool              `json:"all_reproduced"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay [run-id]",
		Short: "Re-execute recorded runs and verify they reproduce",
		Long: `Re-execute recorded runs with their recorded settings and verify that every
action gives the same result, the run fails at the same index with the
same violations, and the final world has the same digest.

Without a run id every recorded run is replayed. A run id may be any
unique prefix.

Exit codes:
  0 - Every run reproduced
  1 - At least one run diverged
  2 - Command error (database not found, unknown run, etc.)

Examples:
  strand replay --db ./strand.db
  strand replay 3fa2c1d07b9e --db ./strand.db
  strand replay --batch 0192f1c4-... --format json`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var id string
			if len(args) == 1 {
				id = args[0]
			}
			return runReplay(cmd.Context(), opts, id, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (default from config)")
	cmd.Flags().StringVar(&opts.BatchID, "batch", "", "replay one batch only")

	return cmd
}

// openStore opens the database named by a --db flag or the config. The
// file must exist.
func openStore(rootOpts *RootOptions, flagPath string) (*store.Store, error) {
	path := flagPath
	if path == "" {
		path = rootOpts.config().Store.Path
	}
	if path == "" {
		return nil, NewExitError(ExitCommandError, "no database: set --db or store.path")
	}
	if !fileExists(path) {
		return nil, NewExitError(ExitCommandError, fmt.Sprintf("database not found: %s", path))
	}
	st, err := store.Open(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return st, nil
}

func runReplay(ctx context.Context, opts *ReplayOptions, id string, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	st, err := openStore(opts.RootOptions, opts.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	var ids []string
	if id != "" {
		ids = []string{id}
	} else {
		headers, err := st.ListRuns(ctx, store.Filter{BatchID: opts.BatchID})
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to list runs", err)
		}
		for _, h := range headers {
			ids = append(ids, h.ID)
		}
	}

	result := ReplayResult{
		Runs:          make([]ReplayRunResult, 0, len(ids)),
		Total:         len(ids),
		AllReproduced: true,
	}
	for _, runID := range ids {
		run, err := st.ReadRun(ctx, runID)
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("failed to read run %s", runID), err)
		}
		rr := ReplayRunResult{RunID: run.ID, Name: run.Name, Actions: len(run.Actions), Reproduced: true}

		_, err = store.Replay(ctx, run, opts.logger())
		var mm *store.ReplayMismatch
		switch {
		case errors.As(err, &mm):
			rr.Reproduced = false
			rr.Mismatch = mm.Error()
			result.AllReproduced = false
		case err != nil:
			return WrapExitError(ExitCommandError, fmt.Sprintf("failed to replay run %s", run.ID), err)
		}
		result.Runs = append(result.Runs, rr)
	}

	var fail *CLIError
	if !result.AllReproduced {
		fail = &CLIError{Code: "E_NONDETERMINISTIC", Message: "replay diverged from the recorded run"}
	}

	f := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	return f.Emit(result, fail, func(w io.Writer) error {
		if result.Total == 0 {
			fmt.Fprintln(w, "No runs found in database.")
			return nil
		}
		for _, rr := range result.Runs {
			if rr.Reproduced {
				fmt.Fprintf(w, "✓ %s %s (%d actions)\n", shortID(rr.RunID), rr.Name, rr.Actions)
				continue
			}
			fmt.Fprintf(w, "✗ %s %s (%d actions)\n", shortID(rr.RunID), rr.Name, rr.Actions)
			fmt.Fprintf(w, "  %s\n", rr.Mismatch)
		}
		fmt.Fprintln(w)
		if result.AllReproduced {
			fmt.Fprintf(w, "✓ All %d run(s) reproduced\n", result.Total)
		} else {
			fmt.Fprintln(w, "✗ Replay diverged")
		}
		return nil
	})
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
