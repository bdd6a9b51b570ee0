// Package logging builds the slog.Logger used across chorus.
//
// Console output is either the colored single-line format or JSON. When a
// log file is configured, records are fanned out to it as JSON through
// slog-multi.
package logging
