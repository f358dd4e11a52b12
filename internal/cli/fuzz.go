package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/strand/internal/config"
	"github.com/roach88/strand/internal/gen"
	"github.com/roach88/strand/internal/harness"
	"github.com/roach88/strand/internal/invariant"
	"github.com/roach88/strand/internal/store"
)

// FuzzOptions holds flags for the fuzz command. Every flag left unset
// keeps its value from the config file.
type FuzzOptions struct {
	*RootOptions
	Runs           int
	Length         int
	Seed           uint64
	Workers        int
	Characters     int
	Chaos          float64
	Permissive     bool
	Policy         string
	FirstViolation bool
	Shrink         bool
	Database       string
}

// FuzzFailure describes one seed that produced violations.
type FuzzFailure struct {
	Seed         uint64              `json:"seed"`
	FailingIndex int                 `json:"failing_index"`
	Violation    invariant.Violation `json:"violation"`
	Actions      int                 `json:"actions"`
	ShrunkFrom   int                 `json:"shrunk_from,omitempty"`
	RunID        string              `json:"run_id,omitempty"`
}

// FuzzResult summarizes a fuzz batch.
type FuzzResult struct {
	BatchID  string        `json:"batch_id"`
	Runs     int           `json:"runs"`
	Clean    int           `json:"clean"`
	Failed   int           `json:"failed"`
	Rejected int           `json:"rejected"`
	Failures []FuzzFailure `json:"failures"`
	Stored   bool          `json:"stored"`
}

// NewFuzzCommand creates the fuzz command.
func NewFuzzCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &FuzzOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "fuzz",
		Short: "Generate seeded action sequences and check them",
		Long: `Generate one action sequence per seed, run each through the engine and
the invariant checker, and minimize every failing sequence.

Run i uses seed --seed+i, so a failure is reproduced by running the same
seed again. Runs are recorded in the database unless --db is empty.

With the default settings the engine rejects every action that would break
a rule, so fuzzing checks that the checks are sufficient. Use --permissive
with --chaos to feed the checker sequences that do break rules.

Exit codes:
  0 - No violations
  1 - One or more runs found violations
  2 - Command error (invalid settings, database error)

Examples:
  strand fuzz --runs 500 --length 60
  strand fuzz --permissive --chaos 0.1 --seed 42
  strand fuzz --db "" --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFuzz(cmd.Context(), opts, cmd)
		},
	}

	def := config.NewDefaultConfig()
	cmd.Flags().IntVar(&opts.Runs, "runs", def.Run.Runs, "number of seeded runs")
	cmd.Flags().IntVar(&opts.Length, "length", def.Run.Length, "actions per run")
	cmd.Flags().Uint64Var(&opts.Seed, "seed", def.Run.Seed, "first seed")
	cmd.Flags().IntVar(&opts.Workers, "workers", def.Run.Workers, "concurrent runs")
	cmd.Flags().IntVar(&opts.Characters, "characters", def.Run.Characters, "characters created up front")
	cmd.Flags().Float64Var(&opts.Chaos, "chaos", def.Run.Chaos, "share of actions that skip narrative checks")
	cmd.Flags().BoolVar(&opts.Permissive, "permissive", def.Run.Permissive, "apply actions without narrative checks")
	cmd.Flags().StringVar(&opts.Policy, "policy", def.Run.RejectPolicy, "what to do with rejected actions (skip|stop)")
	cmd.Flags().BoolVar(&opts.FirstViolation, "first-violation", def.Run.FirstViolation, "report only the first violation per run")
	cmd.Flags().BoolVar(&opts.Shrink, "shrink", def.Run.Shrink, "minimize failing runs")
	cmd.Flags().StringVar(&opts.Database, "db", def.Store.Path, "path to SQLite database, empty to disable")

	return cmd
}

// settings merges the config file with the flags the user set.
func (o *FuzzOptions) settings(cmd *cobra.Command) (config.RunConfig, string, error) {
	cfg := o.config()
	rc := cfg.Run
	path := cfg.Store.Path

	flags := cmd.Flags()
	if flags.Changed("runs") {
		rc.Runs = o.Runs
	}
	if flags.Changed("length") {
		rc.Length = o.Length
	}
	if flags.Changed("seed") {
		rc.Seed = o.Seed
	}
	if flags.Changed("workers") {
		rc.Workers = o.Workers
	}
	if flags.Changed("characters") {
		rc.Characters = o.Characters
	}
	if flags.Changed("chaos") {
		rc.Chaos = o.Chaos
	}
	if flags.Changed("permissive") {
		rc.Permissive = o.Permissive
	}
	if flags.Changed("policy") {
		rc.RejectPolicy = o.Policy
	}
	if flags.Changed("first-violation") {
		rc.FirstViolation = o.FirstViolation
	}
	if flags.Changed("shrink") {
		rc.Shrink = o.Shrink
	}
	if flags.Changed("db") {
		path = o.Database
	}

	if err := rc.Validate(); err != nil {
		return rc, "", err
	}
	return rc, path, nil
}

// seedRun is what one seed produced. Report is the run that gets
// recorded: the minimized one when shrinking succeeded.
type seedRun struct {
	seed       uint64
	report     *harness.Report
	shrunkFrom int
	rejected   int
}

func runFuzz(ctx context.Context, opts *FuzzOptions, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	rc, dbPath, err := opts.settings(cmd)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid fuzz settings", err)
	}
	logger := opts.logger()

	var st *store.Store
	if dbPath != "" {
		st, err = store.Open(dbPath)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open database", err)
		}
		defer st.Close()
	}

	start := time.Now()
	runs := make([]seedRun, rc.Runs)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(rc.Workers)
	for i := range rc.Runs {
		seed := rc.Seed + uint64(i)
		g.Go(func() error {
			r, err := fuzzSeed(gctx, rc, seed, logger)
			if err != nil {
				return fmt.Errorf("seed %d: %w", seed, err)
			}
			runs[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return WrapExitError(ExitCommandError, "fuzz run aborted", err)
	}

	result := FuzzResult{
		BatchID:  store.NewBatchID(),
		Runs:     rc.Runs,
		Failures: []FuzzFailure{},
		Stored:   st != nil,
	}
	policy := harness.RejectionPolicy(rc.RejectPolicy)
	for _, r := range runs {
		result.Rejected += r.rejected
		var runID string
		if st != nil {
			run, err := store.FromReport(result.BatchID, fmt.Sprintf("seed-%d", r.seed), r.report, rc.Permissive, policy)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to record run", err)
			}
			seed := r.seed
			run.Seed = &seed
			run.ShrunkFrom = r.shrunkFrom
			if _, err := st.WriteRun(ctx, &run); err != nil {
				return WrapExitError(ExitCommandError, "failed to record run", err)
			}
			runID = run.ID
		}

		if !r.report.Failed() {
			result.Clean++
			continue
		}
		result.Failed++
		result.Failures = append(result.Failures, FuzzFailure{
			Seed:         r.seed,
			FailingIndex: r.report.FailingIndex,
			Violation:    r.report.Violations[0],
			Actions:      len(r.report.Steps),
			ShrunkFrom:   r.shrunkFrom,
			RunID:        runID,
		})
	}

	logger.Info("fuzz batch finished",
		"batch", result.BatchID,
		"runs", result.Runs,
		"failed", result.Failed,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)

	var fail *CLIError
	if result.Failed > 0 {
		fail = &CLIError{
			Code:    "E_VIOLATIONS",
			Message: fmt.Sprintf("%d of %d run(s) found violations", result.Failed, result.Runs),
		}
	}

	f := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	return f.Emit(result, fail, func(w io.Writer) error {
		fmt.Fprintf(w, "Fuzzed %d runs of %d actions (seeds %d..%d)\n",
			rc.Runs, rc.Length, rc.Seed, rc.Seed+uint64(rc.Runs)-1)
		if result.Stored {
			fmt.Fprintf(w, "Batch %s\n", result.BatchID)
		}
		for _, ff := range result.Failures {
			fmt.Fprintf(w, "✗ seed %d: %s\n", ff.Seed, ff.Violation)
			if ff.ShrunkFrom > 0 {
				fmt.Fprintf(w, "  minimized %d -> %d actions", ff.ShrunkFrom, ff.Actions)
			} else {
				fmt.Fprintf(w, "  %d actions", ff.Actions)
			}
			if ff.RunID != "" {
				fmt.Fprintf(w, ", run %s", shortID(ff.RunID))
			}
			fmt.Fprintln(w)
		}
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Fuzz Summary: %d clean, %d failed, %d rejected actions\n", result.Clean, result.Failed, result.Rejected)
		if result.Failed == 0 {
			fmt.Fprintln(w, "✓ No violations")
		}
		return nil
	})
}

// fuzzSeed generates, runs and, when it fails and shrinking is on,
// minimizes the sequence for one seed.
func fuzzSeed(ctx context.Context, rc config.RunConfig, seed uint64, logger *slog.Logger) (seedRun, error) {
	actions, err := gen.Sequence(seed, gen.Options{
		Steps: rc.Length,
		Cast:  rc.Characters,
		Chaos: rc.Chaos,
	})
	if err != nil {
		return seedRun{}, err
	}

	hopts := []harness.Option{
		harness.WithLogger(logger),
		harness.WithPermissive(rc.Permissive),
		harness.WithPolicy(harness.RejectionPolicy(rc.RejectPolicy)),
	}
	if rc.FirstViolation {
		hopts = append(hopts, harness.WithChecker(invariant.Checker{FirstOnly: true}))
	}

	rep, err := harness.Execute(ctx, actions, hopts...)
	if err != nil {
		return seedRun{}, err
	}
	out := seedRun{seed: seed, report: rep, rejected: len(rep.Rejected())}
	if !rep.Failed() || !rc.Shrink {
		return out, nil
	}

	minimal, stats, err := harness.Minimize(ctx, actions, hopts...)
	if err != nil {
		return seedRun{}, fmt.Errorf("minimize: %w", err)
	}
	shrunk, err := harness.Execute(ctx, minimal, hopts...)
	if err != nil {
		return seedRun{}, err
	}
	logger.Debug("run minimized",
		"seed", seed,
		"rule", rep.Violations[0].Rule,
		"from", stats.From,
		"to", stats.To,
		"tests", stats.Tests,
	)
	out.report = shrunk
	out.shrunkFrom = stats.From
	return out, nil
}
