package evolution

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
)

// JobReport is the result of one run of one job (spec.md §4.5: "Each
// job emits a JobReport{name, scanned, mutated, duration, errors[]}").
type JobReport struct {
	Name     string
	Scanned  int
	Mutated  int
	Duration time.Duration
	Errors   []string
}

// String renders a report the way an operator tailing logs wants to
// read it: counts get go-humanize's thousands separators, and the
// duration is rounded to the millisecond.
func (r JobReport) String() string {
	if len(r.Errors) == 0 {
		return fmt.Sprintf("%s: scanned %s, mutated %s in %s",
			r.Name, humanize.Comma(int64(r.Scanned)), humanize.Comma(int64(r.Mutated)), r.Duration.Round(time.Millisecond))
	}
	return fmt.Sprintf("%s: scanned %s, mutated %s in %s, %d error(s)",
		r.Name, humanize.Comma(int64(r.Scanned)), humanize.Comma(int64(r.Mutated)), r.Duration.Round(time.Millisecond), len(r.Errors))
}
