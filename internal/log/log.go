// Copyright 2025 ByteDance Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package log provides leveled printf-style logging to stderr.
package log

import (
	"fmt"
	"os"
	"sync/atomic"
	"time"
)

type Level int32

const (
	DebugLevel Level = iota
	InfoLevel
	ErrorLevel
)

var level atomic.Int32

func init() {
	level.Store(int32(InfoLevel))
}

// SetLogLevel sets the minimum level that will be written.
func SetLogLevel(l Level) {
	level.Store(int32(l))
}

// GetLogLevel returns the current minimum level.
func GetLogLevel() Level {
	return Level(level.Load())
}

func output(tag string, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if len(msg) == 0 || msg[len(msg)-1] != '\n' {
		msg += "\n"
	}
	fmt.Fprintf(os.Stderr, "%s [%s] %s", time.Now().Format("2006-01-02 15:04:05.000"), tag, msg)
}

func Debug(format string, args ...interface{}) {
	if Level(level.Load()) > DebugLevel {
		return
	}
	output("DEBUG", format, args...)
}

func Info(format string, args ...interface{}) {
	if Level(level.Load()) > InfoLevel {
		return
	}
	output("INFO", format, args...)
}

func Error(format string, args ...interface{}) {
	output("ERROR", format, args...)
}
