package logger

import (
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Global logger instance
	Logger *zap.SugaredLogger
	// Flag to track if JSON output is enabled
	JSONOutput bool
)

func init() {
	// Safe no-op logger until Initialize runs, so packages can log at init time
	Logger = zap.NewNop().Sugar()
}

// Options controls how Initialize builds the global logger.
type Options struct {
	JSON      bool
	Verbosity int
	NoColor   bool
	Output    io.Writer // defaults to os.Stderr
}

// Initialize sets up the global logger at the default verbosity (-v).
// Batch logs are read after the fact, so info is shown unless asked otherwise.
func Initialize(jsonOutput bool) error {
	return InitializeWithOptions(Options{JSON: jsonOutput, Verbosity: VerbosityInfo})
}

// InitializeWithOptions sets up the global logger.
//
// Logs go to stderr by default: the workload's stdout is redirected to the run
// log and scheduler output files should keep the two streams apart.
func InitializeWithOptions(opts Options) error {
	JSONOutput = opts.JSON

	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	level := VerbosityToLevel(opts.Verbosity)

	var core zapcore.Core
	if opts.JSON {
		encCfg := zap.NewProductionEncoderConfig()
		encCfg.TimeKey = "ts"
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		core = zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(out), level)
	} else {
		color := !opts.NoColor && os.Getenv("NO_COLOR") == ""
		core = zapcore.NewCore(newMinimalEncoder(color), zapcore.AddSync(out), level)
	}

	Logger = zap.New(core).Sugar()
	return nil
}

// Cleanup flushes any buffered log entries
func Cleanup() {
	if Logger != nil {
		Logger.Sync()
	}
}

// Infow logs an info message with structured fields
func Infow(msg string, keysAndValues ...interface{}) {
	if Logger != nil {
		Logger.Infow(msg, keysAndValues...)
	}
}

// Warnw logs a warning message with structured fields
func Warnw(msg string, keysAndValues ...interface{}) {
	if Logger != nil {
		Logger.Warnw(msg, keysAndValues...)
	}
}

// Errorw logs an error message with structured fields
func Errorw(msg string, keysAndValues ...interface{}) {
	if Logger != nil {
		Logger.Errorw(msg, keysAndValues...)
	}
}

// Debugw logs a debug message with structured fields
func Debugw(msg string, keysAndValues ...interface{}) {
	if Logger != nil {
		Logger.Debugw(msg, keysAndValues...)
	}
}
