package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var log *zap.Logger
var sugar *zap.SugaredLogger

// Options controls how the global logger is built.
type Options struct {
	Service string
	Env     string // "dev", "uat" or "prod"
	Level   string
	// Stderr routes all output to stderr. The CLI uses it so that stdout only
	// carries machine-readable lines such as PRODUCT_ID=<id>.
	Stderr bool
}

// Init initializes the global logger for a long-running service.
func Init(service, env, level string) {
	InitWithOptions(Options{Service: service, Env: env, Level: level})
}

// InitCLI initializes the global logger for a one-shot command.
func InitCLI(service, env, level string) {
	InitWithOptions(Options{Service: service, Env: env, Level: level, Stderr: true})
}

// InitWithOptions builds the global logger from opts.
func InitWithOptions(opts Options) {
	var cfg zap.Config

	if opts.Env == "dev" {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "timestamp"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	if lvl, err := zapcore.ParseLevel(opts.Level); err == nil {
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}

	if opts.Stderr {
		cfg.OutputPaths = []string{"stderr"}
	} else {
		cfg.OutputPaths = []string{"stdout"}
	}
	cfg.ErrorOutputPaths = []string{"stderr"}

	built, err := cfg.Build(zap.AddCaller(), zap.Fields(zap.String("service", opts.Service)))
	if err != nil {
		panic("failed to initialize logger: " + err.Error())
	}

	log = built
	sugar = built.Sugar()

	log.Debug("logger.initialized",
		zap.String("env", opts.Env),
		zap.String("level", opts.Level),
	)
}

// L returns the base structured logger.
func L() *zap.Logger {
	if log == nil {
		InitCLI("afp-onboarding", "dev", "info")
	}
	return log
}

// S returns the sugared logger.
func S() *zap.SugaredLogger {
	if sugar == nil {
		InitCLI("afp-onboarding", "dev", "info")
	}
	return sugar
}

// Sync flushes any buffered logs (defer this in main()).
func Sync() {
	if log != nil {
		_ = log.Sync()
	}
}
