// Package logger builds the zap loggers used by the engines and the demo.
package logger

import (
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"mq-rpc/config"
)

type stdoutWriteSyncer struct{}

func (s stdoutWriteSyncer) Write(p []byte) (n int, err error) {
	return os.Stdout.Write(p)
}

func (s stdoutWriteSyncer) Sync() error {
	return nil
}

var levelMap = map[string]zapcore.Level{
	"debug":  zapcore.DebugLevel,
	"info":   zapcore.InfoLevel,
	"warn":   zapcore.WarnLevel,
	"error":  zapcore.ErrorLevel,
	"dpanic": zapcore.DPanicLevel,
	"panic":  zapcore.PanicLevel,
	"fatal":  zapcore.FatalLevel,
}

func getLoggerLevel(lvl string) zapcore.Level {
	if level, ok := levelMap[lvl]; ok {
		return level
	}
	return zapcore.InfoLevel
}

func TimeEncoder(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(t.Format("2006-01-02 15:04:05.000"))
}

// New returns a console-encoded logger writing to a rotated file under
// LogDir, to stdout, or both. With neither configured it discards everything.
func New(cfg config.Config) *zap.Logger {
	log := cfg.Log
	var writers []zapcore.WriteSyncer
	if log.LogDir != "" {
		writers = append(writers, zapcore.AddSync(&lumberjack.Logger{
			Filename:   filepath.Join(log.LogDir, log.LogPrefix),
			MaxSize:    log.MaxLogfileSize,
			MaxAge:     log.MaxAge,
			MaxBackups: log.MaxBackups,
			LocalTime:  true,
		}))
	}
	if log.EnableStdout {
		writers = append(writers, stdoutWriteSyncer{})
	}
	if len(writers) == 0 {
		return zap.NewNop()
	}

	encoder := zap.NewProductionEncoderConfig()
	encoder.EncodeTime = TimeEncoder

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoder),
		zap.CombineWriteSyncers(writers...),
		zap.NewAtomicLevelAt(getLoggerLevel(log.LogLevel)),
	)
	return zap.New(core, zap.AddCaller())
}
