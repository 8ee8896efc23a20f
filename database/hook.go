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
	"reflect"
	"sync/atomic"
	"time"

	"github.com/fatih/color"
	"github.com/uptrace/bun"
)

var silentQueries atomic.Bool

// SilenceQueryHooks suppresses output from QueryHook and SlowQueryHook, e.g.
// while creating tables.
func SilenceQueryHooks(b bool) {
	silentQueries.Store(b)
}

var (
	selectColor  = color.New(color.FgGreen)
	insertColor  = color.New(color.FgBlue)
	updateColor  = color.New(color.FgYellow)
	deleteColor  = color.New(color.FgMagenta)
	otherColor   = color.New(color.FgRed)
	hookTagColor = color.New(color.FgCyan)
	slowTagColor = color.New(color.FgYellow, color.Bold)
	errorColor   = color.New(color.BgRed, color.FgHiWhite)
)

// QueryHook prints every statement coloured by operation. The env variable,
// when set, overrides enabled: "0" disables, "2" also prints successful
// statements in verbose mode.
type QueryHook struct {
	envName string
	enabled bool
	verbose bool
	writer  io.Writer
}

var _ bun.QueryHook = (*QueryHook)(nil)

// NewQueryHook returns a hook writing to w, or os.Stderr when w is nil.
func NewQueryHook(envName string, enabled, verbose bool, w io.Writer) *QueryHook {
	if w == nil {
		w = os.Stderr
	}
	return &QueryHook{envName: envName, enabled: enabled, verbose: verbose, writer: w}
}

func (h *QueryHook) BeforeQuery(ctx context.Context, event *bun.QueryEvent) context.Context {
	return ctx
}

func (h *QueryHook) AfterQuery(ctx context.Context, event *bun.QueryEvent) {
	if silentQueries.Load() {
		return
	}
	enabled, verbose := h.enabled, h.verbose
	if env, ok := os.LookupEnv(h.envName); ok && h.envName != "" {
		enabled = env != "" && env != "0"
		verbose = env == "2"
	}
	if !enabled {
		return
	}
	if !verbose {
		switch {
		case event.Err == nil, errors.Is(event.Err, sql.ErrNoRows), errors.Is(event.Err, sql.ErrTxDone):
			return
		}
	}

	now := time.Now()
	args := []interface{}{
		now.Format("2006-01-02 15:04:05.000"),
		hookTagColor.Sprintf("%8s", "[QUERY]"),
		fmt.Sprintf("%12s", now.Sub(event.StartTime).Round(time.Microsecond)),
		operationColor(event.Operation()).Sprint(event.Query),
	}
	if event.Err != nil {
		typ := reflect.TypeOf(event.Err).String()
		args = append(args, "\t", errorColor.Sprintf(" %s: %s ", typ, event.Err.Error()))
	}
	_, _ = fmt.Fprintln(h.writer, args...)
}

func operationColor(op string) *color.Color {
	switch op {
	case "SELECT":
		return selectColor
	case "INSERT":
		return insertColor
	case "UPDATE":
		return updateColor
	case "DELETE":
		return deleteColor
	default:
		return otherColor
	}
}

// SlowQueryHook reports successful statements slower than slowTime, either
// through the logger or, when no logger is set, as a coloured line on writer.
type SlowQueryHook struct {
	slowTime time.Duration
	logger   Logger
	writer   io.Writer
}

var _ bun.QueryHook = (*SlowQueryHook)(nil)

func NewSlowQueryHook(slowTime time.Duration, logger Logger, w io.Writer) *SlowQueryHook {
	if w == nil {
		w = os.Stderr
	}
	return &SlowQueryHook{slowTime: slowTime, logger: logger, writer: w}
}

func (h *SlowQueryHook) BeforeQuery(ctx context.Context, event *bun.QueryEvent) context.Context {
	return ctx
}

func (h *SlowQueryHook) AfterQuery(ctx context.Context, event *bun.QueryEvent) {
	if silentQueries.Load() || event.Err != nil {
		return
	}
	duration := time.Since(event.StartTime)
	if duration <= h.slowTime {
		return
	}
	if h.logger != nil {
		h.logger.Warn("Slow query detected",
			"duration", duration,
			"slow_threshold", h.slowTime,
			"query", event.Query,
		)
		return
	}
	_, _ = fmt.Fprintln(h.writer,
		time.Now().Format("2006-01-02 15:04:05.000"),
		slowTagColor.Sprintf("%8s", "[SLOW]"),
		fmt.Sprintf("%12s", duration.Round(time.Microsecond)),
		operationColor(event.Operation()).Sprint(event.Query),
	)
}
