package logger

import "go.uber.org/zap/zapcore"

// Verbosity levels counted from repeated -v flags.
const (
	VerbosityUser  = 0 // results and errors only
	VerbosityInfo  = 1 // -v: connections, handshakes, object summaries
	VerbosityDebug = 2 // -vv: per-batch protocol detail
	VerbosityTrace = 3 // -vvv: debug plus call sites recorded on every sent op
)

// VerbosityToLevel maps a -v count to a zap level. Warnings always show.
func VerbosityToLevel(verbosity int) zapcore.Level {
	switch {
	case verbosity <= VerbosityUser:
		return zapcore.WarnLevel
	case verbosity == VerbosityInfo:
		return zapcore.InfoLevel
	default:
		return zapcore.DebugLevel
	}
}

// CaptureTrace reports whether sessions should stamp ops with the call
// site that emitted them. It is costly and only useful when debugging a
// stream that desynchronised.
func CaptureTrace(verbosity int) bool {
	return verbosity >= VerbosityTrace
}

// LevelName returns a human-readable name for a verbosity count
func LevelName(verbosity int) string {
	switch {
	case verbosity <= VerbosityUser:
		return "User"
	case verbosity == VerbosityInfo:
		return "Info (-v)"
	case verbosity == VerbosityDebug:
		return "Debug (-vv)"
	default:
		return "Trace (-vvv)"
	}
}
