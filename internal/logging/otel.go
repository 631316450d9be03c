package logging

import (
	"fmt"
	"os"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/log"
	"go.uber.org/zap/zapcore"
)

// otelScope is the instrumentation scope of log records sent through OTEL.
const otelScope = "github.com/fyrsmithlabs/tcsd"

// newCore tees stdout and OTEL outputs and applies sampling.
func newCore(cfg *Config, otelProvider log.LoggerProvider) (zapcore.Core, error) {
	var cores []zapcore.Core

	if cfg.Output.Stdout {
		cores = append(cores, zapcore.NewCore(
			newEncoder(cfg.Format),
			zapcore.Lock(os.Stdout),
			cfg.Level.Zap(),
		))
	}
	if cfg.Output.OTEL && otelProvider != nil {
		cores = append(cores, &levelFilterCore{
			Core: otelzap.NewCore(otelScope, otelzap.WithLoggerProvider(otelProvider)),
			min:  cfg.Level.Zap(),
			max:  zapcore.FatalLevel,
		})
	}
	if len(cores) == 0 {
		return nil, fmt.Errorf("no log output available")
	}

	return newSampledCore(zapcore.NewTee(cores...), cfg.Sampling), nil
}
