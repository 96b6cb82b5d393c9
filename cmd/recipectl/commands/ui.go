package commands

import (
	"io"
	"time"

	"github.com/briandowns/spinner"
)

// newSpinner returns an indeterminate progress indicator on w. It stays
// silent under --verbose so it does not interleave with log lines.
func newSpinner(w io.Writer, message string) *spinner.Spinner {
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(w))
	s.Suffix = " " + message
	if verbose {
		s.Disable()
	}
	return s
}
