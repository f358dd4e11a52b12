package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/strand/internal/invariant"
	"github.com/roach88/strand/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	BatchID  string
	Failed   bool
	Limit    int
}

// RunHeader is one line of the run listing.
type RunHeader struct {
	ID           string  `json:"id"`
	BatchID      string  `json:"batch_id"`
	Seq          int64   `json:"seq"`
	Name         string  `json:"name"`
	Seed         *uint64 `json:"seed,omitempty"`
	FailingIndex int     `json:"failing_index"`
	ShrunkFrom   int     `json:"shrunk_from,omitempty"`
}

// RunTrace is a recorded run in full.
type RunTrace struct {
	RunHeader
	Permissive bool                  `json:"permissive"`
	Policy     string                `json:"policy"`
	FirstOnly  bool                  `json:"first_only,omitempty"`
	Digest     string                `json:"digest"`
	Steps      []StepView            `json:"steps"`
	Violations []invariant.Violation `json:"violations"`
}

func headerOf(r store.Run) RunHeader {
	return RunHeader{
		ID:           r.ID,
		BatchID:      r.BatchID,
		Seq:          r.Seq,
		Name:         r.Name,
		Seed:         r.Seed,
		FailingIndex: r.FailingIndex,
		ShrunkFrom:   r.ShrunkFrom,
	}
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace [run-id]",
		Short: "Show recorded runs",
		Long: `List recorded runs, or show one run with every action, its result and the
violations it ended with.

Exit codes:
  0 - Success
  2 - Command error (database not found, unknown run, etc.)

Examples:
  strand trace --db ./strand.db
  strand trace --failed --limit 10
  strand trace 3fa2c1d07b9e --format json`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				return runTraceOne(cmd.Context(), opts, args[0], cmd)
			}
			return runTraceList(cmd.Context(), opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (default from config)")
	cmd.Flags().StringVar(&opts.BatchID, "batch", "", "list one batch only")
	cmd.Flags().BoolVar(&opts.Failed, "failed", false, "list failing runs only")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum runs to list (0 = all)")

	return cmd
}

func runTraceList(ctx context.Context, opts *TraceOptions, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	st, err := openStore(opts.RootOptions, opts.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	runs, err := st.ListRuns(ctx, store.Filter{
		BatchID:    opts.BatchID,
		FailedOnly: opts.Failed,
		Limit:      opts.Limit,
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list runs", err)
	}
	headers := make([]RunHeader, len(runs))
	for i, r := range runs {
		headers[i] = headerOf(r)
	}

	f := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	return f.Emit(headers, nil, func(w io.Writer) error {
		if len(headers) == 0 {
			fmt.Fprintln(w, "No runs found.")
			return nil
		}
		for _, h := range headers {
			status := "clean"
			if h.FailingIndex >= 0 {
				status = fmt.Sprintf("fails at %03d", h.FailingIndex)
			}
			fmt.Fprintf(w, "%4d  %s  %-20s %s\n", h.Seq, shortID(h.ID), h.Name, status)
		}
		return nil
	})
}

func runTraceOne(ctx context.Context, opts *TraceOptions, id string, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	st, err := openStore(opts.RootOptions, opts.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	run, err := st.ReadRun(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return NewExitError(ExitCommandError, fmt.Sprintf("run not found: %s", id))
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read run", err)
	}

	trace := RunTrace{
		RunHeader:  headerOf(run),
		Permissive: run.Permissive,
		Policy:     string(run.Policy),
		FirstOnly:  run.FirstOnly,
		Digest:     run.Digest,
		Steps:      make([]StepView, len(run.Actions)),
		Violations: run.Violations,
	}
	if trace.Violations == nil {
		trace.Violations = []invariant.Violation{}
	}
	for i, a := range run.Actions {
		trace.Steps[i] = StepView{Index: i, Action: a, Result: run.Results[i]}
	}

	f := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	return f.Emit(trace, nil, func(w io.Writer) error {
		return outputTraceText(w, trace)
	})
}

func outputTraceText(w io.Writer, t RunTrace) error {
	fmt.Fprintf(w, "Run %s (%s)\n", t.ID, t.Name)
	fmt.Fprintf(w, "  batch:   %s\n", t.BatchID)
	if t.Seed != nil {
		fmt.Fprintf(w, "  seed:    %d\n", *t.Seed)
	}
	mode := "strict"
	if t.Permissive {
		mode = "permissive"
	}
	fmt.Fprintf(w, "  mode:    %s, on rejection %s\n", mode, t.Policy)
	if t.FirstOnly {
		fmt.Fprintln(w, "  checks:  first violation only")
	}
	if t.ShrunkFrom > 0 {
		fmt.Fprintf(w, "  shrunk:  %d -> %d actions\n", t.ShrunkFrom, len(t.Steps))
	}
	fmt.Fprintf(w, "  digest:  %s\n", t.Digest)
	fmt.Fprintln(w)

	for _, s := range t.Steps {
		fmt.Fprintf(w, "%03d %s => %s\n", s.Index, s.Action, s.Result)
	}
	if t.FailingIndex < 0 {
		_, err := fmt.Fprintln(w, "no violations")
		return err
	}
	fmt.Fprintf(w, "violations after %03d:\n", t.FailingIndex)
	for _, v := range t.Violations {
		fmt.Fprintf(w, "  %s\n", v)
	}
	return nil
}
