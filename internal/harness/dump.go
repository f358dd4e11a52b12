package harness

import (
	"bufio"
	"fmt"
	"io"
)

// Dump writes a report as text: one line per submitted action with what it
// produced, then the violations.
//
//	000 create_character name="Kim" timeline=T0 => +C0
//	001 kill_character character=C0 timeline=T0 => E0
//	violations after 001:
//	  [2 death_finality] T0@1 C0: takes part in E1 while dead
func Dump(w io.Writer, rep *Report) error {
	bw := bufio.NewWriter(w)
	for _, s := range rep.Steps {
		fmt.Fprintf(bw, "%03d %s => %s\n", s.Index, s.Record, s.Result())
	}
	if rep.Stopped {
		fmt.Fprintf(bw, "stopped at rejected action %03d\n", len(rep.Steps)-1)
	}
	if !rep.Failed() {
		fmt.Fprintln(bw, "no violations")
		return bw.Flush()
	}
	fmt.Fprintf(bw, "violations after %03d:\n", rep.FailingIndex)
	for _, v := range rep.Violations {
		fmt.Fprintf(bw, "  %s\n", v)
	}
	return bw.Flush()
}
