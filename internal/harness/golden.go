package harness

import (
	"bytes"
	"context"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// RunWithGolden runs a scenario and compares its dumped report against
// testdata/golden/{scenario.Name}.golden. It returns the result so the
// caller can also check expectations.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, sc *Scenario, opts ...Option) (*Result, error) {
	t.Helper()

	res, err := Run(context.Background(), sc, opts...)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, sc.Name, res.Report); err != nil {
		return nil, err
	}
	return res, nil
}

// AssertGolden compares a report's dump against a golden file without
// re-running anything.
func AssertGolden(t *testing.T, name string, rep *Report) error {
	t.Helper()

	var buf bytes.Buffer
	if err := Dump(&buf, rep); err != nil {
		return err
	}
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, buf.Bytes())
	return nil
}
