package logger

import (
	"os"
	"sync"

	"github.com/natefinch/lumberjack"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	log  *zap.Logger
	once sync.Once
)

// Options controls where log output goes
type Options struct {
	Debug   bool
	LogFile string

	// MaxSizeMB, MaxBackups and MaxAgeDays configure rotation of LogFile
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Init initializes the global logger with console output only
func Init(debug bool) {
	InitWithOptions(Options{Debug: debug})
}

// InitWithFile initializes the global logger with both console and a rotating JSON file
func InitWithFile(debug bool, logFile string) {
	InitWithOptions(Options{Debug: debug, LogFile: logFile})
}

// InitWithOptions initializes the global logger once; later calls are no-ops
func InitWithOptions(opts Options) {
	once.Do(func() {
		log = build(opts)
	})
}

func build(opts Options) *zap.Logger {
	level := zapcore.InfoLevel
	encoderConfig := zap.NewProductionEncoderConfig()
	if opts.Debug {
		level = zapcore.DebugLevel
		encoderConfig = zap.NewDevelopmentEncoderConfig()
	}

	cores := []zapcore.Core{
		zapcore.NewCore(
			zapcore.NewConsoleEncoder(encoderConfig),
			zapcore.AddSync(os.Stdout),
			level,
		),
	}

	if opts.LogFile != "" {
		if opts.MaxSizeMB == 0 {
			opts.MaxSizeMB = 50
		}
		if opts.MaxBackups == 0 {
			opts.MaxBackups = 5
		}
		if opts.MaxAgeDays == 0 {
			opts.MaxAgeDays = 30
		}
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
			zapcore.AddSync(&lumberjack.Logger{
				Filename:   opts.LogFile,
				MaxSize:    opts.MaxSizeMB,
				MaxBackups: opts.MaxBackups,
				MaxAge:     opts.MaxAgeDays,
				Compress:   true,
			}),
			level,
		))
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddStacktrace(zapcore.ErrorLevel))
}

// Get returns the global logger
func Get() *zap.Logger {
	if log == nil {
		Init(false)
	}
	return log
}

// Named returns a child of the global logger tagged with a component name
func Named(component string) *zap.Logger {
	return Get().Named(component).With(zap.String("component", component))
}

// Sync flushes any buffered log entries
func Sync() {
	if log != nil {
		_ = log.Sync()
	}
}
