// Package logging builds the broker's structured logger from the log_dest
// and log_level configuration keys.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"
)

// asyncHandler is a slog.Handler that writes colorized, single-line records
// to stdout, stderr, or a file, off the calling goroutine.
type asyncHandler struct {
	ch     chan []byte
	writer io.Writer
	attrs  []slog.Attr
	group  string
	level  slog.Level
	wg     *sync.WaitGroup
	file   *os.File
}

// New builds a slog.Logger for the given log_dest ("stdout", "stderr", or
// "file:<path>") and log_level ("error", "warn", "info", "debug").
func New(dest, level string) (*slog.Logger, func() error, error) {
	lvl, err := parseLevel(level)
	if err != nil {
		return nil, nil, err
	}

	h, err := newHandler(dest, lvl)
	if err != nil {
		return nil, nil, err
	}

	return slog.New(h), h.Close, nil
}

func parseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("logging: unknown level %q", level)
	}
}

func newHandler(dest string, level slog.Level) (*asyncHandler, error) {
	h := &asyncHandler{
		ch:    make(chan []byte, 1024),
		level: level,
		wg:    &sync.WaitGroup{},
	}

	switch {
	case dest == "stdout" || dest == "":
		h.writer = os.Stdout
	case dest == "stderr":
		h.writer = os.Stderr
	case strings.HasPrefix(dest, "file:"):
		path := strings.TrimPrefix(dest, "file:")
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("logging: opening %s: %w", path, err)
		}
		h.file = f
		h.writer = f
	default:
		return nil, fmt.Errorf("logging: unsupported log_dest %q", dest)
	}

	h.wg.Add(1)
	go h.run()
	return h, nil
}

func (h *asyncHandler) run() {
	defer h.wg.Done()
	for data := range h.ch {
		_, _ = h.writer.Write(data)
	}
}

func (h *asyncHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *asyncHandler) Handle(_ context.Context, r slog.Record) error {
	level := r.Level.String()
	switch r.Level {
	case slog.LevelDebug:
		level = color.MagentaString(level)
	case slog.LevelInfo:
		level = color.BlueString(level)
	case slog.LevelWarn:
		level = color.YellowString(level)
	case slog.LevelError:
		level = color.RedString(level)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s | %-5s | %s",
		color.GreenString(r.Time.Format("2006-01-02T15:04:05")),
		level,
		color.CyanString(r.Message),
	)

	for _, attr := range h.attrs {
		fmt.Fprintf(&b, " %s=%v", attr.Key, attr.Value)
	}
	r.Attrs(func(a slog.Attr) bool {
		fmt.Fprintf(&b, " %s=%v", a.Key, a.Value)
		return true
	})
	b.WriteByte('\n')

	h.write([]byte(b.String()))
	return nil
}

func (h *asyncHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &asyncHandler{
		ch:     h.ch,
		writer: h.writer,
		attrs:  merged,
		group:  h.group,
		level:  h.level,
		wg:     h.wg,
		file:   h.file,
	}
}

func (h *asyncHandler) WithGroup(name string) slog.Handler {
	return &asyncHandler{
		ch:     h.ch,
		writer: h.writer,
		attrs:  h.attrs,
		group:  name,
		level:  h.level,
		wg:     h.wg,
		file:   h.file,
	}
}

func (h *asyncHandler) write(p []byte) {
	h.ch <- p
}

// Close drains pending log lines and releases the underlying file, if any.
// Handlers returned by WithAttrs/WithGroup share the same channel and
// waitgroup as their parent, so Close must only be called on the root
// handler returned from New.
func (h *asyncHandler) Close() error {
	close(h.ch)
	h.wg.Wait()
	if h.file != nil {
		return h.file.Close()
	}
	return nil
}
