// Package monitoring holds the process-wide diagnostic logger and the
// Prometheus instruments updated by the processing jobs.
package monitoring

import "log"

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Component returns a logger that tags every line with "[name] ". The
// returned function looks Logf up on each call, so a later SetLogger still
// takes effect.
func Component(name string) func(format string, v ...interface{}) {
	prefix := "[" + name + "] "
	return func(format string, v ...interface{}) {
		Logf(prefix+format, v...)
	}
}
