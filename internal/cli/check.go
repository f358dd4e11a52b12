package cli

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/strand/internal/harness"
)

// CheckOptions holds flags for the check command.
type CheckOptions struct {
	*RootOptions
	Update bool   // regenerate golden files
	Filter string // scenario filter (glob pattern)
}

// ScenarioResult holds the result of a single scenario.
type ScenarioResult struct {
	Name   string   `json:"name"`
	Pass   bool     `json:"pass"`
	Errors []string `json:"errors,omitempty"`
}

// CheckResult holds the overall check result.
type CheckResult struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

// NewCheckCommand creates the check command.
func NewCheckCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CheckOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "check <scenarios-dir>",
		Short: "Run every scenario in a directory",
		Long: `Run every scenario file (.yaml, .yml, .cue) under a directory and evaluate
its expectations and assertions.

When a golden file <file>.golden exists, the run's report must match it
byte for byte. Golden files live in a golden/ directory next to the
scenario file, or next to its directory as in testdata/scenarios and
testdata/golden. Use --update to write the golden files.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, etc.)

Examples:
  strand check ./scenarios
  strand check ./scenarios --filter "death-*"
  strand check ./scenarios --update
  strand check ./scenarios --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd.Context(), opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden files")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by glob pattern")

	return cmd
}

func runCheck(ctx context.Context, opts *CheckOptions, dir string, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return NewExitError(ExitCommandError, fmt.Sprintf("scenarios directory not found: %s", dir))
	}

	files, err := findScenarioFiles(dir, opts.Filter)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to find scenarios", err)
	}

	result := CheckResult{
		Scenarios: make([]ScenarioResult, 0, len(files)),
		Total:     len(files),
	}
	for _, file := range files {
		sr := checkScenario(ctx, file, opts)
		result.Scenarios = append(result.Scenarios, sr)
		if sr.Pass {
			result.Passed++
		} else {
			result.Failed++
		}
		opts.logger().Debug("scenario checked", "file", file, "pass", sr.Pass)
	}

	var fail *CLIError
	if result.Failed > 0 {
		fail = &CLIError{
			Code:    "E_CHECK_FAILED",
			Message: fmt.Sprintf("%d scenario(s) failed", result.Failed),
		}
	}

	f := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	return f.Emit(result, fail, func(w io.Writer) error {
		if result.Total == 0 {
			fmt.Fprintln(w, "No scenarios found.")
			return nil
		}
		for _, sr := range result.Scenarios {
			if sr.Pass {
				fmt.Fprintf(w, "✓ %s\n", sr.Name)
				continue
			}
			fmt.Fprintf(w, "✗ %s\n", sr.Name)
			for _, e := range sr.Errors {
				fmt.Fprintf(w, "  %s\n", e)
			}
		}
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Check Summary: %d passed, %d failed, %d total\n", result.Passed, result.Failed, result.Total)
		if result.Failed == 0 {
			fmt.Fprintln(w, "✓ All scenarios passed")
		}
		return nil
	})
}

// findScenarioFiles finds scenario files under dir, skipping golden/.
func findScenarioFiles(dir string, filter string) ([]string, error) {
	var files []string

	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && d.Name() == "golden" {
				return filepath.SkipDir
			}
			return nil
		}

		ext := filepath.Ext(path)
		switch ext {
		case ".yaml", ".yml", ".cue":
		default:
			return nil
		}

		if filter != "" {
			name := strings.TrimSuffix(filepath.Base(path), ext)
			matched, err := filepath.Match(filter, name)
			if err != nil {
				return fmt.Errorf("invalid filter pattern: %w", err)
			}
			if !matched {
				return nil
			}
		}

		files = append(files, path)
		return nil
	})

	return files, err
}

// checkScenario runs one scenario file and compares it with its golden
// file when there is one.
func checkScenario(ctx context.Context, file string, opts *CheckOptions) ScenarioResult {
	name := filepath.Base(file)
	sc, err := harness.LoadScenario(file)
	if err != nil {
		return ScenarioResult{Name: name, Errors: []string{fmt.Sprintf("failed to load scenario: %v", err)}}
	}
	name = sc.Name

	res, err := harness.Run(ctx, sc, harness.WithLogger(opts.logger()))
	if err != nil {
		return ScenarioResult{Name: name, Errors: []string{fmt.Sprintf("execution failed: %v", err)}}
	}
	out := ScenarioResult{Name: name, Pass: res.Pass}
	for _, e := range res.Errors {
		out.Errors = append(out.Errors, e.Error())
	}

	var dump bytes.Buffer
	if err := harness.Dump(&dump, res.Report); err != nil {
		out.Pass = false
		out.Errors = append(out.Errors, fmt.Sprintf("dump failed: %v", err))
		return out
	}

	goldenPath := goldenFilePath(file)
	if opts.Update {
		if err := updateGoldenFile(goldenPath, dump.Bytes()); err != nil {
			out.Pass = false
			out.Errors = append(out.Errors, fmt.Sprintf("failed to update golden file: %v", err))
		}
		return out
	}

	want, err := os.ReadFile(goldenPath)
	if os.IsNotExist(err) {
		return out
	}
	if err != nil {
		out.Pass = false
		out.Errors = append(out.Errors, fmt.Sprintf("failed to read golden file: %v", err))
		return out
	}
	if !bytes.Equal(want, dump.Bytes()) {
		out.Pass = false
		out.Errors = append(out.Errors, "report does not match golden file (run with --update to regenerate)")
	}
	return out
}

// goldenFilePath returns the golden file for a scenario file. It looks in
// golden/ beside the file, then in golden/ beside the file's directory. An
// existing file wins, then an existing golden directory, then the first.
func goldenFilePath(scenarioFile string) string {
	dir := filepath.Dir(scenarioFile)
	base := filepath.Base(scenarioFile)
	name := strings.TrimSuffix(base, filepath.Ext(base)) + ".golden"
	candidates := []string{
		filepath.Join(dir, "golden", name),
		filepath.Join(filepath.Dir(dir), "golden", name),
	}
	for _, c := range candidates {
		if fileExists(c) {
			return c
		}
	}
	for _, c := range candidates {
		if info, err := os.Stat(filepath.Dir(c)); err == nil && info.IsDir() {
			return c
		}
	}
	return candidates[0]
}

func updateGoldenFile(goldenPath string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(goldenPath), 0o755); err != nil {
		return fmt.Errorf("failed to create golden directory: %w", err)
	}
	if err := os.WriteFile(goldenPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write golden file: %w", err)
	}
	return nil
}
