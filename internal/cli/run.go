package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/strand/internal/engine"
	"github.com/roach88/strand/internal/harness"
	"github.com/roach88/strand/internal/invariant"
	"github.com/roach88/strand/internal/store"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Save     bool
	Database string
}

// StepView is one action and its result in JSON output.
type StepView struct {
	Index  int           `json:"index"`
	Action engine.Record `json:"action"`
	Result string        `json:"result"`
}

// ReportView is the JSON form of a harness report.
type ReportView struct {
	Steps        []StepView            `json:"steps"`
	FailingIndex int                   `json:"failing_index"`
	Violations   []invariant.Violation `json:"violations"`
	Stopped      bool                  `json:"stopped,omitempty"`
	Digest       string                `json:"digest"`
}

func viewReport(rep *harness.Report) ReportView {
	v := ReportView{
		Steps:        make([]StepView, len(rep.Steps)),
		FailingIndex: rep.FailingIndex,
		Violations:   rep.Violations,
		Stopped:      rep.Stopped,
		Digest:       rep.Digest,
	}
	if v.Violations == nil {
		v.Violations = []invariant.Violation{}
	}
	for i, s := range rep.Steps {
		v.Steps[i] = StepView{Index: s.Index, Action: s.Record, Result: s.Result()}
	}
	return v
}

// RunResult is the outcome of the run command.
type RunResult struct {
	Scenario string     `json:"scenario"`
	Pass     bool       `json:"pass"`
	Errors   []string   `json:"errors,omitempty"`
	Report   ReportView `json:"report"`
	RunID    string     `json:"run_id,omitempty"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <scenario>",
		Short: "Run one scenario and print its report",
		Long: `Run a scenario file (.yaml or .cue) against a fresh world and print every
action with its result, followed by any invariant violations.

The scenario passes when its expectations and assertions hold. A scenario
that expects a violation passes when that violation is found.

Exit codes:
  0 - Scenario passed
  1 - Scenario failed
  2 - Command error (unreadable or invalid scenario, database error)

Examples:
  strand run ./scenarios/death.yaml
  strand run ./scenarios/death.yaml --save --db ./strand.db
  strand run ./scenarios/witness.cue --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarioFile(cmd.Context(), opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Save, "save", false, "record the run in the database")
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (default from config)")

	return cmd
}

func runScenarioFile(ctx context.Context, opts *RunOptions, path string, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	sc, err := harness.LoadScenario(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load scenario", err)
	}

	res, err := harness.Run(ctx, sc, harness.WithLogger(opts.logger()))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to run scenario", err)
	}

	result := RunResult{
		Scenario: sc.Name,
		Pass:     res.Pass,
		Report:   viewReport(res.Report),
	}
	for _, e := range res.Errors {
		result.Errors = append(result.Errors, e.Error())
	}

	if opts.Save {
		id, err := saveScenarioRun(ctx, opts, sc, res.Report)
		if err != nil {
			return err
		}
		result.RunID = id
	}

	var fail *CLIError
	if !res.Pass {
		fail = &CLIError{
			Code:    "E_RUN_FAILED",
			Message: fmt.Sprintf("scenario %s failed", sc.Name),
			Details: result.Errors,
		}
	}

	f := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	return f.Emit(result, fail, func(w io.Writer) error {
		fmt.Fprintf(w, "Scenario: %s\n", sc.Name)
		if sc.Description != "" {
			fmt.Fprintf(w, "  %s\n", sc.Description)
		}
		fmt.Fprintln(w)
		if err := harness.Dump(w, res.Report); err != nil {
			return err
		}
		fmt.Fprintln(w)
		if result.RunID != "" {
			fmt.Fprintf(w, "Saved run %s\n", shortID(result.RunID))
		}
		if res.Pass {
			fmt.Fprintf(w, "✓ %s\n", sc.Name)
			return nil
		}
		fmt.Fprintf(w, "✗ %s\n", sc.Name)
		for _, e := range result.Errors {
			fmt.Fprintf(w, "  %s\n", e)
		}
		return nil
	})
}

func saveScenarioRun(ctx context.Context, opts *RunOptions, sc *harness.Scenario, rep *harness.Report) (string, error) {
	path := opts.Database
	if path == "" {
		path = opts.config().Store.Path
	}
	if path == "" {
		return "", NewExitError(ExitCommandError, "--save needs a database: set --db or store.path")
	}

	st, err := store.Open(path)
	if err != nil {
		return "", WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	run, err := store.FromReport(store.NewBatchID(), sc.Name, rep, sc.Permissive, sc.Policy)
	if err != nil {
		return "", WrapExitError(ExitCommandError, "failed to record run", err)
	}
	inserted, err := st.WriteRun(ctx, &run)
	if err != nil {
		return "", WrapExitError(ExitCommandError, "failed to record run", err)
	}
	opts.logger().Debug("run recorded", "run", run.ID, "inserted", inserted)
	return run.ID, nil
}

// shortID abbreviates a run id for text output. ReadRun accepts prefixes.
func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
