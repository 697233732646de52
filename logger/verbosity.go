package logger

import "go.uber.org/zap/zapcore"

// Verbosity level constants for CLI flag counts.
//
// preempt runs unattended inside batch jobs, so the default (no flag) already
// shows info: every signal and requeue decision must land in the job log.
const (
	VerbosityQuiet = -1 // -q: warnings and errors only
	VerbosityInfo  = 0  // default: signals, requeues, workload lifecycle
	VerbosityDebug = 1  // -v: + scheduler commands, checkpoint events, config
	VerbosityTrace = 2  // -vv: + raw scheduler output
)

// VerbosityToLevel maps verbosity flags to zap log levels
//
// Mapping:
//
//	-1 (-q)  -> WarnLevel
//	 0       -> InfoLevel
//	 1+ (-v) -> DebugLevel
func VerbosityToLevel(verbosity int) zapcore.Level {
	switch {
	case verbosity < VerbosityInfo:
		return zapcore.WarnLevel
	case verbosity == VerbosityInfo:
		return zapcore.InfoLevel
	default:
		return zapcore.DebugLevel
	}
}

// ShouldLogTrace returns true for verbosity >= 2 (-vv)
func ShouldLogTrace(verbosity int) bool {
	return verbosity >= VerbosityTrace
}

// LevelName returns a human-readable name for verbosity level
func LevelName(verbosity int) string {
	switch {
	case verbosity < VerbosityInfo:
		return "Quiet (-q)"
	case verbosity == VerbosityInfo:
		return "Info"
	case verbosity == VerbosityDebug:
		return "Debug (-v)"
	default:
		return "Trace (-vv)"
	}
}
