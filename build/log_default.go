//go:build !stdlog && !nolog
// +build !stdlog,!nolog

package build

import "os"

// LoggingType is a log type that writes to both stdout and the log rotator, if
// present.
const LoggingType = LogTypeDefault

// Write writes the byte slice to stdout and, once the log file is open, to the
// log rotator.
func (w *LogWriter) Write(b []byte) (int, error) {
	os.Stdout.Write(b)
	if w.Rotator != nil {
		_, _ = w.Rotator.Write(b)
	}

	return len(b), nil
}
