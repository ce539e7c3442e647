// Package logger holds the process-wide zap logger. Packages that can be
// embedded take a *zap.SugaredLogger by injection and fall back to Logger.
package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Logger is a no-op until Initialize runs
	Logger *zap.SugaredLogger = zap.NewNop().Sugar()

	// JSONOutput is true when logs are emitted as JSON lines
	JSONOutput bool

	// Verbosity is the -v count passed to Initialize
	Verbosity int
)

// Initialize sets up the global logger from the --json-logs flag and the
// -v count. Console output goes to stderr so fetched objects on stdout stay
// pipeable.
func Initialize(jsonOutput bool, verbosity int) error {
	JSONOutput = jsonOutput
	Verbosity = verbosity
	level := VerbosityToLevel(verbosity)

	if jsonOutput {
		config := zap.NewProductionConfig()
		config.Level = zap.NewAtomicLevelAt(level)
		config.OutputPaths = []string{"stderr"}
		zapLogger, err := config.Build()
		if err != nil {
			return err
		}
		Logger = zapLogger.Sugar()
		return nil
	}

	encoderConfig := zap.NewDevelopmentEncoderConfig()
	encoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
	encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig), zapcore.AddSync(os.Stderr), level)

	var opts []zap.Option
	if CaptureTrace(verbosity) {
		opts = append(opts, zap.AddCaller())
	}
	Logger = zap.New(core, opts...).Sugar()
	return nil
}

// Cleanup flushes any buffered log entries
func Cleanup() {
	_ = Logger.Sync()
}

// ComponentLogger returns a named child of Logger, e.g.
//
//	ledger.New(ledger.Options{Logger: logger.ComponentLogger("ledger")})
func ComponentLogger(name string) *zap.SugaredLogger {
	return Logger.Named(name)
}

// PeerLogger returns a component logger tagged with the remote peer's name.
func PeerLogger(component, peer string) *zap.SugaredLogger {
	log := Logger.Named(component)
	if peer != "" {
		log = log.With(FieldPeer, peer)
	}
	return log
}

// Infow logs an info message with structured fields
func Infow(msg string, keysAndValues ...interface{}) {
	Logger.Infow(msg, keysAndValues...)
}

// Warnw logs a warning message with structured fields
func Warnw(msg string, keysAndValues ...interface{}) {
	Logger.Warnw(msg, keysAndValues...)
}

// Errorw logs an error message with structured fields
func Errorw(msg string, keysAndValues ...interface{}) {
	Logger.Errorw(msg, keysAndValues...)
}

// Debugw logs a debug message with structured fields
func Debugw(msg string, keysAndValues ...interface{}) {
	Logger.Debugw(msg, keysAndValues...)
}
