// Copyright 2025 Parentheses Labs
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

package badger

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// BadgerLogger adapts our slog logger to the badger.Logger interface
type BadgerLogger struct {
	logger *slog.Logger
}

func NewBadgerLogger(logger *slog.Logger) *BadgerLogger {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &BadgerLogger{
		logger: logger.With("component", "database"),
	}
}

func (b *BadgerLogger) Errorf(format string, args ...any) {
	b.logger.Error(badgerLogMessage(format, args...))
}

func (b *BadgerLogger) Warningf(format string, args ...any) {
	b.logger.Warn(badgerLogMessage(format, args...))
}

func (b *BadgerLogger) Infof(format string, args ...any) {
	b.logger.Info(badgerLogMessage(format, args...))
}

func (b *BadgerLogger) Debugf(format string, args ...any) {
	b.logger.Debug(badgerLogMessage(format, args...))
}

func badgerLogMessage(format string, args ...any) string {
	// badger appends newlines to its log messages
	return strings.TrimSuffix(fmt.Sprintf(format, args...), "\n")
}
