package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
)

const (
	ansiReset  = "\033[0m"
	ansiRed    = "\033[31m"
	ansiYellow = "\033[33m"
	ansiCyan   = "\033[36m"
	ansiGray   = "\033[90m"

	padding = "  " // align with the CLI's indented output
)

// multilineKeys are attrs carrying chat text: message previews, model
// replies, assembled prompts. They render as an indented block under the
// line so a long reply does not wreck the column layout.
var multilineKeys = map[string]bool{
	"preview": true,
	"content": true,
	"reply":   true,
	"prompt":  true,
}

// Options configures a Handler.
type Options struct {
	Level slog.Level
	Color bool
}

// Handler is a compact slog handler: one short line per record, chat text
// below it. Color is for terminals; the plain form carries full timestamps
// for the log file.
type Handler struct {
	w     io.Writer
	mu    *sync.Mutex
	level slog.Level
	color bool
	attrs []slog.Attr
}

func NewHandler(w io.Writer, opts *Options) *Handler {
	if opts == nil {
		opts = &Options{}
	}
	return &Handler{
		w:     w,
		mu:    &sync.Mutex{},
		level: opts.Level,
		color: opts.Color,
	}
}

func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	inline, blocks := h.splitAttrs(r)

	var sb strings.Builder
	h.writeLine(&sb, r, inline)
	h.writeBlocks(&sb, blocks)

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, sb.String())
	return err
}

// splitAttrs separates the inline key=value attrs from the chat-text blocks.
func (h *Handler) splitAttrs(r slog.Record) (inline string, blocks []string) {
	collect := func(a slog.Attr) {
		if multilineKeys[a.Key] {
			blocks = append(blocks, a.Value.String())
			return
		}
		inline += h.fmtAttr(a)
	}
	for _, a := range h.attrs {
		collect(a)
	}
	r.Attrs(func(a slog.Attr) bool {
		collect(a)
		return true
	})
	return inline, blocks
}

func (h *Handler) writeLine(sb *strings.Builder, r slog.Record, inline string) {
	lvl := levelTag(r.Level)
	if h.color {
		ts := r.Time.Format("15:04:05")
		fmt.Fprintf(sb, "%s%s%s%s %s %s%s\n",
			padding, ansiGray, ts, ansiReset, levelColor(r.Level)+lvl+ansiReset, r.Message, inline)
		return
	}
	ts := r.Time.Format("2006-01-02 15:04:05")
	fmt.Fprintf(sb, "%s%s %s %s%s\n", padding, ts, lvl, r.Message, inline)
}

func (h *Handler) writeBlocks(sb *strings.Builder, blocks []string) {
	for _, text := range blocks {
		for _, line := range strings.Split(text, "\n") {
			if h.color {
				fmt.Fprintf(sb, "%s  %s│%s %s\n", padding, ansiGray, ansiReset, line)
			} else {
				fmt.Fprintf(sb, "%s  | %s\n", padding, line)
			}
		}
	}
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	combined := make([]slog.Attr, len(h.attrs)+len(attrs))
	copy(combined, h.attrs)
	copy(combined[len(h.attrs):], attrs)
	return &Handler{w: h.w, mu: h.mu, level: h.level, color: h.color, attrs: combined}
}

func (h *Handler) WithGroup(string) slog.Handler {
	return h
}

func (h *Handler) fmtAttr(a slog.Attr) string {
	if h.color {
		return fmt.Sprintf(" %s%s%s=%s", ansiGray, a.Key, ansiReset, a.Value.String())
	}
	return fmt.Sprintf(" %s=%s", a.Key, a.Value.String())
}

func levelTag(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "ERR"
	case level >= slog.LevelWarn:
		return "WRN"
	case level >= slog.LevelInfo:
		return "INF"
	default:
		return "DBG"
	}
}

func levelColor(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return ansiRed
	case level >= slog.LevelWarn:
		return ansiYellow
	case level >= slog.LevelInfo:
		return ansiCyan
	default:
		return ansiGray
	}
}
