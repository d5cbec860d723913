// Copyright 2024 The shelf-go Authors
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

// Package logger builds the zap logger shared by every actor. Output uses
// the Elastic Common Schema field names so that JSON logs can be shipped to
// ELK unchanged; the console format adds colored levels for local use.
package logger

import (
	"fmt"
	"io"
	"os"

	"go.elastic.co/ecszap"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	// FormatConsole is human-readable output with colored levels.
	FormatConsole = "console"
	// FormatJSON is ECS JSON, one object per line.
	FormatJSON = "json"

	fieldTimestamp = "@timestamp"
)

// New builds a logger writing to stdout.
func New(level, format string) (*zap.Logger, error) {
	return NewWithWriter(level, format, os.Stdout)
}

// NewWithWriter builds a logger writing to w.
func NewWithWriter(level, format string, w io.Writer) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var enc zapcore.Encoder
	switch format {
	case FormatJSON:
		enc = zapcore.NewJSONEncoder(encoderConfig(false))
	case FormatConsole, "":
		enc = zapcore.NewConsoleEncoder(encoderConfig(true))
	default:
		return nil, fmt.Errorf("unsupported log format: %s (supported: console, json)", format)
	}

	core := zapcore.NewCore(enc, zapcore.Lock(zapcore.AddSync(w)), zap.NewAtomicLevelAt(lvl))
	return zap.New(core,
		zap.WithCaller(true),
		zap.AddStacktrace(zap.NewAtomicLevelAt(zap.DPanicLevel)),
	), nil
}

func encoderConfig(withColor bool) zapcore.EncoderConfig {
	config := ecszap.EncoderConfig{
		EnableName:       true,
		EncodeName:       zapcore.FullNameEncoder,
		EnableStackTrace: true,
		EnableCaller:     true,
		EncodeCaller:     zapcore.ShortCallerEncoder,
		LineEnding:       zapcore.DefaultLineEnding,
		EncodeLevel:      levelEncoder(withColor),
		EncodeDuration:   zapcore.StringDurationEncoder,
	}.ToZapCoreEncoderConfig()
	config.TimeKey = fieldTimestamp
	config.EncodeTime = zapcore.ISO8601TimeEncoder
	return config
}

// termColor is an ANSI foreground color.
type termColor uint8

const (
	colorRed     termColor = 31
	colorYellow  termColor = 33
	colorBlue    termColor = 34
	colorMagenta termColor = 35
)

func (c termColor) add(s string) string {
	return fmt.Sprintf("\x1b[%dm%s\x1b[0m", uint8(c), s)
}

func levelEncoder(withColor bool) zapcore.LevelEncoder {
	return func(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
		name, color := l.CapitalString(), colorRed
		switch l {
		case zapcore.DebugLevel:
			color = colorMagenta
		case zapcore.InfoLevel:
			color = colorBlue
		case zapcore.WarnLevel:
			color = colorYellow
		}
		if withColor {
			name = color.add(name)
		}
		enc.AppendString(name)
	}
}
