package logger

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Attribute keys understood by LineHandler.
const (
	ServiceKey = "service"
	SymbolKey  = "symbol"
)

// Line symbols. The symbol conveys severity; SymbolStart marks process launches.
const (
	SymbolInfo  = "ℹ"
	SymbolWarn  = "⚠"
	SymbolError = "✖"
	SymbolStart = "▶"
	SymbolDebug = "·"
)

// DefaultService is the tag used for records without a service attribute.
const DefaultService = "watchdog"

// Start returns the attribute that renders a record with the start symbol.
func Start() slog.Attr { return slog.String(SymbolKey, SymbolStart) }

// Service returns the attribute that tags a record with a service name.
func Service(name string) slog.Attr { return slog.String(ServiceKey, name) }

// LineHandler renders records as
//
//	[2006-01-02T15:04:05Z07:00] [service] <symbol> message key=value ...
//
// with optional ANSI colouring of the symbol.
type LineHandler struct {
	mu      *sync.Mutex
	w       io.Writer
	opts    slog.HandlerOptions
	color   bool
	service string
	symbol  string
	prefix  string // group prefix applied to attribute keys
	attrs   []byte // pre-rendered attributes from WithAttrs
}

// NewLineHandler creates a new LineHandler writing to w.
func NewLineHandler(w io.Writer, opts *slog.HandlerOptions, color bool) *LineHandler {
	h := &LineHandler{mu: &sync.Mutex{}, w: w, color: color}
	if opts != nil {
		h.opts = *opts
	}
	return h
}

func (h *LineHandler) Enabled(_ context.Context, l slog.Level) bool {
	minLevel := slog.LevelInfo
	if h.opts.Level != nil {
		minLevel = h.opts.Level.Level()
	}
	return l >= minLevel
}

func (h *LineHandler) Handle(_ context.Context, r slog.Record) error {
	service := h.service
	symbol := h.symbol
	var rest bytes.Buffer
	rest.Write(h.attrs)
	r.Attrs(func(a slog.Attr) bool {
		switch {
		case h.prefix == "" && a.Key == ServiceKey:
			service = a.Value.String()
		case h.prefix == "" && a.Key == SymbolKey:
			symbol = a.Value.String()
		default:
			appendAttr(&rest, h.prefix, a)
		}
		return true
	})
	if service == "" {
		service = DefaultService
	}
	if symbol == "" {
		symbol = levelSymbol(r.Level)
	}
	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	var buf bytes.Buffer
	buf.WriteByte('[')
	buf.WriteString(ts.Format(time.RFC3339))
	buf.WriteString("] [")
	buf.WriteString(service)
	buf.WriteString("] ")
	if h.color {
		buf.WriteString(levelColor(r.Level, symbol))
		buf.WriteString(symbol)
		buf.WriteString("\033[0m")
	} else {
		buf.WriteString(symbol)
	}
	buf.WriteByte(' ')
	buf.WriteString(r.Message)
	buf.Write(rest.Bytes())
	buf.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.w.Write(buf.Bytes())
	return err
}

func (h *LineHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	nh := h.clone()
	var b bytes.Buffer
	for _, a := range attrs {
		switch {
		case h.prefix == "" && a.Key == ServiceKey:
			nh.service = a.Value.String()
		case h.prefix == "" && a.Key == SymbolKey:
			nh.symbol = a.Value.String()
		default:
			appendAttr(&b, h.prefix, a)
		}
	}
	nh.attrs = append(nh.attrs, b.Bytes()...)
	return nh
}

func (h *LineHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	nh := h.clone()
	nh.prefix = h.prefix + name + "."
	return nh
}

func (h *LineHandler) clone() *LineHandler {
	nh := *h
	nh.attrs = append([]byte(nil), h.attrs...)
	return &nh
}

func appendAttr(b *bytes.Buffer, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Value.Kind() == slog.KindGroup {
		p := prefix
		if a.Key != "" {
			p = prefix + a.Key + "."
		}
		for _, ga := range a.Value.Group() {
			appendAttr(b, p, ga)
		}
		return
	}
	b.WriteByte(' ')
	b.WriteString(prefix)
	b.WriteString(a.Key)
	b.WriteByte('=')
	v := a.Value.String()
	if v == "" || strings.ContainsAny(v, " \t\n\"=") {
		v = strconv.Quote(v)
	}
	b.WriteString(v)
}

func levelSymbol(l slog.Level) string {
	switch {
	case l >= slog.LevelError:
		return SymbolError
	case l >= slog.LevelWarn:
		return SymbolWarn
	case l >= slog.LevelInfo:
		return SymbolInfo
	default:
		return SymbolDebug
	}
}

func levelColor(l slog.Level, symbol string) string {
	if symbol == SymbolStart {
		return "\033[36m" // Cyan
	}
	switch {
	case l >= slog.LevelError:
		return "\033[31m" // Red
	case l >= slog.LevelWarn:
		return "\033[33m" // Yellow
	case l >= slog.LevelInfo:
		return "\033[32m" // Green
	default:
		return "\033[0m"
	}
}
