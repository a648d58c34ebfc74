package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	ansiReset   = "\x1b[0m"
	ansiBright  = "\x1b[1m"
	ansiDim     = "\x1b[2m"
	ansiRed     = "\x1b[31m"
	ansiGreen   = "\x1b[32m"
	ansiYellow  = "\x1b[33m"
	ansiBlue    = "\x1b[34m"
	ansiMagenta = "\x1b[35m"
	ansiCyan    = "\x1b[36m"
)

// prettyHandler writes one key=value line per record for terminals.
// Request-log fields (method, status, duration, result) are shortened and
// colored by severity.
type prettyHandler struct {
	w      io.Writer
	opts   slog.HandlerOptions
	prefix string
	attrs  []slog.Attr
	color  bool
	mu     *sync.Mutex
}

func newPrettyHandler(w io.Writer, opts *slog.HandlerOptions, color bool) slog.Handler {
	h := &prettyHandler{w: w, color: color, mu: &sync.Mutex{}}
	if opts != nil {
		h.opts = *opts
	}
	return h
}

func (h *prettyHandler) Enabled(_ context.Context, level slog.Level) bool {
	minLevel := slog.LevelInfo
	if h.opts.Level != nil {
		minLevel = h.opts.Level.Level()
	}
	return level >= minLevel
}

func (h *prettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	cp := *h
	cp.attrs = append([]slog.Attr{}, h.attrs...)
	for _, a := range attrs {
		if h.prefix != "" {
			a = slog.Attr{Key: strings.TrimSuffix(h.prefix, "."), Value: slog.GroupValue(a)}
		}
		cp.attrs = append(cp.attrs, a)
	}
	return &cp
}

func (h *prettyHandler) WithGroup(name string) slog.Handler {
	name = strings.TrimSpace(name)
	if name == "" {
		return h
	}
	cp := *h
	cp.prefix = h.prefix + name + "."
	return &cp
}

func (h *prettyHandler) Handle(_ context.Context, r slog.Record) error {
	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	var b strings.Builder
	h.field(&b, "ts", ts.Format("15:04:05.000"), ansiDim)
	h.field(&b, "lvl", "["+levelName(r.Level)+"]", levelColor(r.Level))
	h.field(&b, "msg", r.Message, ansiBright)

	if h.opts.AddSource && r.PC != 0 {
		frame, _ := runtime.CallersFrames([]uintptr{r.PC}).Next()
		if frame.File != "" {
			h.field(&b, "src", filepath.Base(frame.File)+":"+strconv.Itoa(frame.Line), ansiDim)
		}
	}

	for _, a := range h.attrs {
		h.attr(&b, "", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		h.attr(&b, h.prefix, a)
		return true
	})
	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, b.String())
	return err
}

// attr renders a, flattening groups into dotted keys.
func (h *prettyHandler) attr(b *strings.Builder, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	key := strings.TrimSpace(a.Key)
	if key == "" && a.Value.Kind() != slog.KindGroup {
		return
	}
	if a.Value.Kind() == slog.KindGroup {
		sub := prefix
		if key != "" {
			sub = prefix + key + "."
		}
		for _, ga := range a.Value.Group() {
			h.attr(b, sub, ga)
		}
		return
	}
	key = prefix + key

	switch key {
	case "method":
		m := strings.ToUpper(strings.TrimSpace(a.Value.String()))
		color := ansiYellow
		switch m {
		case "GET":
			color = ansiGreen
		case "POST":
			color = ansiBlue
		case "DELETE":
			color = ansiRed
		}
		h.field(b, key, m, color)
		return
	case "path":
		h.field(b, key, strings.TrimSpace(a.Value.String()), ansiCyan)
		return
	case "status":
		if n, ok := valueToInt64(a.Value); ok {
			h.field(b, key, strconv.FormatInt(n, 10), statusColor(n))
			return
		}
	case "status_class", "class":
		class := strings.TrimSpace(a.Value.String())
		if class != "" && class[0] >= '1' && class[0] <= '5' {
			h.field(b, "class", class, statusColor(int64(class[0]-'0')*100))
			return
		}
		key = "class"
	case "duration_ms":
		if ms, ok := valueToInt64(a.Value); ok {
			color := ansiDim
			if ms >= 1000 {
				color = ansiRed
			} else if ms >= 250 {
				color = ansiYellow
			}
			h.field(b, "duration", strconv.FormatInt(ms, 10)+"ms", color)
			return
		}
		key = "duration"
	case "result":
		res := strings.ToLower(strings.TrimSpace(a.Value.String()))
		if color, ok := resultColors[res]; ok {
			h.field(b, key, res, color)
			return
		}
	}
	h.field(b, key, quoteIfNeeded(valueToString(a.Value)), "")
}

var resultColors = map[string]string{
	"success":      ansiGreen,
	"redirect":     ansiCyan,
	"client_error": ansiYellow,
	"server_error": ansiRed,
}

// field writes " key=value", painting value when color is on and code is set.
func (h *prettyHandler) field(b *strings.Builder, key, value, code string) {
	if b.Len() > 0 {
		b.WriteByte(' ')
	}
	b.WriteString(key)
	b.WriteByte('=')
	if h.color && code != "" {
		b.WriteString(code)
		b.WriteString(value)
		b.WriteString(ansiReset)
		return
	}
	b.WriteString(value)
}

func levelName(l slog.Level) string {
	switch {
	case l >= slog.LevelError:
		return "ERROR"
	case l >= slog.LevelWarn:
		return "WARN"
	case l < slog.LevelInfo:
		return "DEBUG"
	default:
		return "INFO"
	}
}

func levelColor(l slog.Level) string {
	switch {
	case l >= slog.LevelError:
		return ansiRed
	case l >= slog.LevelWarn:
		return ansiYellow
	case l < slog.LevelInfo:
		return ansiMagenta
	default:
		return ansiBlue
	}
}

func statusColor(status int64) string {
	switch {
	case status >= 500:
		return ansiRed
	case status >= 400:
		return ansiYellow
	case status >= 300:
		return ansiCyan
	default:
		return ansiGreen
	}
}

func valueToString(v slog.Value) string {
	switch v.Kind() {
	case slog.KindString:
		return v.String()
	case slog.KindTime:
		return v.Time().Format(time.RFC3339)
	case slog.KindInt64, slog.KindUint64, slog.KindFloat64, slog.KindBool, slog.KindDuration:
		return v.String()
	default:
		return fmt.Sprint(v.Any())
	}
}

func quoteIfNeeded(s string) string {
	if s == "" || strings.ContainsAny(s, " \t\r\n\"=") {
		return strconv.Quote(s)
	}
	return s
}

func valueToInt64(v slog.Value) (int64, bool) {
	switch v.Kind() {
	case slog.KindInt64:
		return v.Int64(), true
	case slog.KindUint64:
		return int64(v.Uint64()), true
	case slog.KindFloat64:
		return int64(v.Float64()), true
	case slog.KindString:
		n, err := strconv.ParseInt(strings.TrimSpace(v.String()), 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

// stripANSI removes SGR escape sequences.
func stripANSI(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == 0x1b && i+1 < len(s) && s[i+1] == '[' {
			j := i + 2
			for j < len(s) && s[j] != 'm' {
				j++
			}
			i = j
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
