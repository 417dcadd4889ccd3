// Package debug provides category-gated debug logging for colloquy.
//
// Categories select WHAT is logged (COLLOQUY_DEBUG or the logging.debug
// config key, comma separated); the level selects HOW MUCH (COLLOQUY_LOG_LEVEL
// or logging.level). At TRACE, raw upstream request bodies are printed.
//
//	debug.Log("providers", "upstream response", "status", 200)
//	if debug.Enabled("engine") { /* expensive formatting */ }
//
// Categories: providers, engine, relay, storage, keys, models, auth, all.
package debug

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

// LevelTrace sits below slog.LevelDebug.
const LevelTrace = slog.LevelDebug - 4

var categories atomic.Pointer[map[string]bool]

func init() {
	c := parseCategories(os.Getenv("COLLOQUY_DEBUG"))
	categories.Store(&c)
}

// Options configure Init.
type Options struct {
	Categories string
	Level      string
	Format     string // "text" (default) or "json"
	Output     io.Writer
}

// Init installs the default slog logger and the enabled categories.
// Environment variables take precedence over opts.
func Init(opts Options) {
	cats := os.Getenv("COLLOQUY_DEBUG")
	if cats == "" {
		cats = opts.Categories
	}
	c := parseCategories(cats)
	categories.Store(&c)

	level := os.Getenv("COLLOQUY_LOG_LEVEL")
	if level == "" {
		level = opts.Level
	}
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	handlerOpts := &slog.HandlerOptions{Level: ParseLevel(level)}
	var h slog.Handler
	if strings.EqualFold(opts.Format, "json") {
		h = slog.NewJSONHandler(out, handlerOpts)
	} else {
		h = slog.NewTextHandler(out, handlerOpts)
	}
	slog.SetDefault(slog.New(h))
}

// Enabled reports whether debug output is active for category.
func Enabled(category string) bool {
	c := *categories.Load()
	return c["all"] || c[category]
}

// Log emits a debug record tagged with category when it is enabled.
func Log(category, msg string, args ...any) {
	if !Enabled(category) {
		return
	}
	slog.Debug(msg, append([]any{"debug", category}, args...)...)
}

// Trace emits a trace-level record for category.
func Trace(category, msg string, args ...any) {
	if !Enabled(category) {
		return
	}
	slog.Log(context.Background(), LevelTrace, msg, append([]any{"debug", category}, args...)...)
}

// TraceIsEnabled reports whether TRACE output is active for category.
func TraceIsEnabled(category string) bool {
	return Enabled(category) && slog.Default().Enabled(context.Background(), LevelTrace)
}

// Raw prints text to stderr unformatted. It only emits at TRACE.
func Raw(category, text string) {
	if !TraceIsEnabled(category) {
		return
	}
	fmt.Fprintln(os.Stderr, text)
}

// ParseLevel converts a level name to a slog.Level. Unknown names map to INFO.
func ParseLevel(s string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRACE":
		return LevelTrace
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Truncate shortens s to maxLen bytes, appending "..." when cut.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

func parseCategories(s string) map[string]bool {
	m := make(map[string]bool)
	for _, cat := range strings.Split(s, ",") {
		if cat = strings.TrimSpace(strings.ToLower(cat)); cat != "" {
			m[cat] = true
		}
	}
	return m
}
