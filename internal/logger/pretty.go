package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorGray   = "\033[90m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

// PrettyHandler is a slog.Handler that writes one aligned line per record:
//
//	[15:04:05] INFO  message key=value
//
// Colors are only emitted when the writer is a terminal.
type PrettyHandler struct {
	opts  slog.HandlerOptions
	w     io.Writer
	mu    *sync.Mutex
	color bool
	group string
	attrs []slog.Attr
}

// NewPrettyHandler creates a new PrettyHandler.
func NewPrettyHandler(w io.Writer, opts *slog.HandlerOptions) *PrettyHandler {
	if opts == nil {
		opts = &slog.HandlerOptions{}
	}
	return &PrettyHandler{
		opts:  *opts,
		w:     w,
		mu:    &sync.Mutex{},
		color: isTerminal(w),
	}
}

func (h *PrettyHandler) Enabled(_ context.Context, level slog.Level) bool {
	minLevel := slog.LevelInfo
	if h.opts.Level != nil {
		minLevel = h.opts.Level.Level()
	}
	return level >= minLevel
}

func (h *PrettyHandler) Handle(_ context.Context, r slog.Record) error {
	buf := make([]byte, 0, 256)

	buf = h.paint(buf, colorGray)
	buf = append(buf, '[')
	buf = r.Time.AppendFormat(buf, time.TimeOnly)
	buf = append(buf, ']')
	buf = h.paint(buf, colorReset)
	buf = append(buf, ' ')

	buf = h.paint(buf, levelColor(r.Level))
	buf = h.paint(buf, colorBold)
	buf = append(buf, fmt.Sprintf("%-5s", r.Level.String())...)
	buf = h.paint(buf, colorReset)
	buf = append(buf, ' ')
	buf = append(buf, r.Message...)

	attrs := make([]slog.Attr, 0, len(h.attrs)+r.NumAttrs())
	attrs = append(attrs, h.attrs...)
	r.Attrs(func(a slog.Attr) bool {
		attrs = append(attrs, a)
		return true
	})
	if len(attrs) > 0 {
		buf = h.paint(buf, colorCyan)
		for _, attr := range attrs {
			buf = append(buf, ' ')
			buf = appendAttr(buf, attr, h.group)
		}
		buf = h.paint(buf, colorReset)
	}
	buf = append(buf, '\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.w.Write(buf)
	return err
}

func (h *PrettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &next
}

func (h *PrettyHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	if h.group != "" {
		next.group = h.group + "." + name
	} else {
		next.group = name
	}
	return &next
}

func (h *PrettyHandler) paint(buf []byte, code string) []byte {
	if !h.color {
		return buf
	}
	return append(buf, code...)
}

func levelColor(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return colorRed
	case level >= slog.LevelWarn:
		return colorYellow
	case level >= slog.LevelInfo:
		return colorBlue
	default:
		return colorGray
	}
}

func appendAttr(buf []byte, attr slog.Attr, group string) []byte {
	key := attr.Key
	if group != "" {
		key = group + "." + key
	}
	buf = append(buf, key...)
	buf = append(buf, '=')

	switch attr.Value.Kind() {
	case slog.KindString:
		s := attr.Value.String()
		if needsQuoting(s) {
			buf = fmt.Appendf(buf, "%q", s)
		} else {
			buf = append(buf, s...)
		}
	case slog.KindDuration:
		buf = append(buf, attr.Value.Duration().Round(time.Millisecond).String()...)
	case slog.KindGroup:
		buf = append(buf, '{')
		for i, a := range attr.Value.Group() {
			if i > 0 {
				buf = append(buf, ' ')
			}
			buf = appendAttr(buf, a, "")
		}
		buf = append(buf, '}')
	default:
		buf = append(buf, fmt.Sprint(attr.Value.Any())...)
	}
	return buf
}

func needsQuoting(s string) bool {
	for _, c := range s {
		if c == ' ' || c == '\t' || c == '\n' || c == '"' || c == '=' {
			return true
		}
	}
	return false
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}
