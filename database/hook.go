/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fatih/color"
	"github.com/uptrace/bun"
)

var silentHooks atomic.Bool

// EnableBunSqlSilent mutes every hook installed by this package.
func EnableBunSqlSilent(b bool) {
	silentHooks.Store(b)
}

var operationColors = map[string]*color.Color{
	"SELECT": color.New(color.FgGreen),
	"INSERT": color.New(color.FgBlue),
	"UPDATE": color.New(color.FgYellow),
	"DELETE": color.New(color.FgMagenta),
}

func paintQuery(event *bun.QueryEvent) string {
	if c, ok := operationColors[event.Operation()]; ok {
		return c.Sprint(event.Query)
	}
	return color.New(color.FgRed).Sprint(event.Query)
}

// SlowQueryHook reports statements slower than its threshold. The
// MORPH_SLOW_QUERY environment variable overrides enabled when set ("1"
// turns it on, anything else off).
type SlowQueryHook struct {
	fromEnv  string
	enabled  bool
	slowTime time.Duration
	logger   Logger
	writer   io.Writer
}

var _ bun.QueryHook = (*SlowQueryHook)(nil)

func NewSlowQueryHook(threshold time.Duration, logger Logger) *SlowQueryHook {
	return &SlowQueryHook{
		fromEnv:  "MORPH_SLOW_QUERY",
		enabled:  true,
		slowTime: threshold,
		logger:   logger,
	}
}

func (h *SlowQueryHook) BeforeQuery(ctx context.Context, _ *bun.QueryEvent) context.Context {
	return ctx
}

func (h *SlowQueryHook) AfterQuery(_ context.Context, event *bun.QueryEvent) {
	if silentHooks.Load() || event.Err != nil {
		return
	}
	enabled := h.enabled
	if env, ok := os.LookupEnv(h.fromEnv); ok {
		enabled = strings.TrimSpace(env) == "1"
	}
	if !enabled {
		return
	}

	duration := time.Since(event.StartTime)
	if duration <= h.slowTime {
		return
	}
	if h.writer != nil {
		_, _ = fmt.Fprintln(h.writer,
			time.Now().Format("2006-01-02 15:04:05.000"),
			color.New(color.FgYellow, color.Bold).Sprintf("%12s", "[SLOW]"),
			fmt.Sprintf("%14s", duration.Round(time.Microsecond)),
			paintQuery(event))
	}
	if h.logger != nil {
		h.logger.Warn("slow query detected",
			"duration", duration,
			"slow_threshold", h.slowTime,
			"query", event.Query,
		)
	}
}

// ErrorQueryHook logs failed statements. Missing rows and finished
// transactions are expected outcomes and stay quiet.
type ErrorQueryHook struct {
	logger Logger
}

var _ bun.QueryHook = (*ErrorQueryHook)(nil)

func NewErrorQueryHook(logger Logger) *ErrorQueryHook {
	return &ErrorQueryHook{logger: logger}
}

func (h *ErrorQueryHook) BeforeQuery(ctx context.Context, _ *bun.QueryEvent) context.Context {
	return ctx
}

func (h *ErrorQueryHook) AfterQuery(_ context.Context, event *bun.QueryEvent) {
	if silentHooks.Load() || h.logger == nil {
		return
	}
	switch {
	case event.Err == nil, errors.Is(event.Err, sql.ErrNoRows), errors.Is(event.Err, sql.ErrTxDone):
		return
	}
	_, kind := IsSqlError(event.Err)
	h.logger.Debug("query failed",
		"operation", event.Operation(),
		"kind", kind.String(),
		"error", event.Err,
		"query", event.Query,
	)
}
