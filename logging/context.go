// Copyright 2024 go-dataspace
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

package logging

import (
	"context"
	"log/slog"
	"os"
)

type loggerKey struct{}

// fallback is used whenever a context without an injected logger reaches Extract. It should
// only happen in tests or early startup code.
var fallback = slog.New(slog.NewTextHandler(os.Stderr, nil))

// Inject stores the logger in the context, returning the new context.
func Inject(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// Extract retrieves the logger stored in the context. If none was injected, it returns a
// bare-bones fallback logger rather than panicking.
func Extract(ctx context.Context) *slog.Logger {
	logger, ok := ctx.Value(loggerKey{}).(*slog.Logger)
	if !ok {
		return fallback
	}
	return logger
}

// InjectLabels extracts the logger from the context, adds the given key/value pairs to it and
// re-injects it, returning both the new context and the enriched logger.
func InjectLabels(ctx context.Context, kv ...any) (context.Context, *slog.Logger) {
	logger := Extract(ctx).With(kv...)
	return Inject(ctx, logger), logger
}
