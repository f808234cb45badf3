// Copyright 2025 The IMG-TGBed Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package fwlog

import (
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// zapLogger backs the Logger interface with a zap SugaredLogger.
// Level and sink changes rebuild the core so they take effect immediately.
type zapLogger struct {
	logger *zap.SugaredLogger
	level  zap.AtomicLevel
	sink   zapcore.WriteSyncer
}

func newZapLogger() *zapLogger {
	l := &zapLogger{
		level: zap.NewAtomicLevelAt(zapcore.InfoLevel),
		sink:  zapcore.Lock(os.Stderr),
	}
	l.rebuild()
	return l
}

func encoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "timestamp"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	return cfg
}

func (l *zapLogger) rebuild() {
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig()), l.sink, l.level)
	l.logger = zap.New(core).Sugar()
}

func (l *zapLogger) Debugf(format string, v ...any) {
	l.logger.Debugf(format, v...)
}

func (l *zapLogger) Infof(format string, v ...any) {
	l.logger.Infof(format, v...)
}

func (l *zapLogger) Warnf(format string, v ...any) {
	l.logger.Warnf(format, v...)
}

func (l *zapLogger) Errorf(format string, v ...any) {
	l.logger.Errorf(format, v...)
}

func (l *zapLogger) Fatalf(format string, v ...any) {
	l.logger.Fatalf(format, v...)
}

func (l *zapLogger) Debug(v ...any) {
	l.logger.Debug(v...)
}

func (l *zapLogger) Info(v ...any) {
	l.logger.Info(v...)
}

func (l *zapLogger) Warn(v ...any) {
	l.logger.Warn(v...)
}

func (l *zapLogger) Error(v ...any) {
	l.logger.Error(v...)
}

func (l *zapLogger) Fatal(v ...any) {
	l.logger.Fatal(v...)
}

func (l *zapLogger) SetLevel(level Level) {
	l.level.SetLevel(level.toZapLevel())
}

func (l *zapLogger) SetOutput(w io.Writer) {
	l.sink = zapcore.AddSync(w)
	l.rebuild()
}
