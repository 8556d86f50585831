package logger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"
)

type logFormat string

const (
	formatJSON logFormat = "json"
	formatKV   logFormat = "kv"

	tsLayout = "2006-01-02T15:04:05.000Z07:00"
)

type handlerOptions struct {
	level  slog.Leveler
	out    *lineWriter
	format logFormat
	order  []string
}

// handler renders every record as one flat line with a stable key order.
// Groups are flattened into dotted keys.
type handler struct {
	opts   handlerOptions
	attrs  []slog.Attr
	prefix string
}

func newHandler(opts handlerOptions) *handler {
	if opts.level == nil {
		opts.level = slog.LevelInfo
	}
	if opts.order == nil {
		opts.order = append([]string(nil), defaultKeyOrder...)
	}
	return &handler{opts: opts}
}

func (h *handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.opts.level.Level()
}

func (h *handler) Handle(ctx context.Context, r slog.Record) error {
	if h.opts.out == nil {
		return errors.New("logger: writer not initialized")
	}

	fields := make(map[string]any, 16)
	ts := r.Time.UTC()
	fields["ts"] = ts.Truncate(time.Millisecond).Format(tsLayout)
	fields["level"] = levelName(r.Level.String())
	if h.opts.format == formatJSON {
		fields["ts_unix_nano"] = ts.UnixNano()
	}

	for _, a := range h.attrs {
		collect(fields, "", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		collect(fields, h.prefix, a)
		return true
	})
	fromContext(ctx, fields)

	if s, _ := fields["event"].(string); s == "" {
		fields["event"] = cmp(r.Message, "unknown")
	}
	if s, _ := fields["component"].(string); s == "" {
		fields["component"] = CompApp
	}
	normalizeVocab(fields)

	var line []byte
	if h.opts.format == formatJSON {
		var err error
		if line, err = renderJSON(fields, h.opts.order); err != nil {
			return err
		}
	} else {
		line = renderKV(fields, h.opts.order)
	}
	return h.opts.out.Write(append(line, '\n'))
}

func (h *handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = slices.Clone(h.attrs)
	for _, a := range attrs {
		if h.prefix != "" {
			a.Key = h.prefix + "." + a.Key
		}
		clone.attrs = append(clone.attrs, a)
	}
	return &clone
}

func (h *handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	if clone.prefix == "" {
		clone.prefix = name
	} else {
		clone.prefix += "." + name
	}
	return &clone
}

func cmp(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

// collect flattens attr into fields, dropping empty strings and nils.
func collect(fields map[string]any, prefix string, a slog.Attr) {
	key := a.Key
	if prefix != "" && key != "" {
		key = prefix + "." + key
	} else if key == "" {
		key = prefix
	}
	v := a.Value.Resolve()
	if v.Kind() == slog.KindGroup {
		for _, child := range v.Group() {
			collect(fields, key, child)
		}
		return
	}
	if key == "" {
		return
	}
	key, val := flatValue(key, v)
	switch x := val.(type) {
	case nil:
		return
	case string:
		if x == "" {
			return
		}
	}
	fields[key] = val
}

func flatValue(key string, v slog.Value) (string, any) {
	switch v.Kind() {
	case slog.KindString:
		return key, strings.TrimSpace(v.String())
	case slog.KindBool:
		return key, v.Bool()
	case slog.KindInt64:
		return key, v.Int64()
	case slog.KindUint64:
		if u := v.Uint64(); u <= math.MaxInt64 {
			return key, int64(u)
		}
		return key, v.Uint64()
	case slog.KindFloat64:
		return key, v.Float64()
	case slog.KindDuration:
		return msKey(key), RoundMS(v.Duration()).Milliseconds()
	case slog.KindTime:
		return key, v.Time().UTC().Format(time.RFC3339Nano)
	}
	switch x := v.Any().(type) {
	case nil:
		return key, nil
	case error:
		return key, Redact(x.Error())
	case time.Duration:
		return msKey(key), RoundMS(x).Milliseconds()
	case fmt.Stringer:
		return key, x.String()
	default:
		return key, fmt.Sprint(x)
	}
}

// msKey renames duration attributes so the unit is part of the key.
func msKey(key string) string {
	switch {
	case key == "duration":
		return "duration_ms"
	case strings.HasSuffix(key, "_ms"):
		return key
	default:
		return key + "_ms"
	}
}

func normalizeVocab(fields map[string]any) {
	if s, ok := fields["status"].(string); ok {
		fields["status"], _ = inVocab(statusValues, s)
	}
	if s, ok := fields["cache"].(string); ok {
		if v, known := inVocab(cacheValues, s); known {
			fields["cache"] = v
		} else {
			delete(fields, "cache")
		}
	}
	if s, ok := fields["outcome"].(string); ok {
		if v, known := inVocab(outcomeValues, s); known {
			fields["outcome"] = v
		} else {
			delete(fields, "outcome")
		}
	}
}

func sortedKeys(fields map[string]any, order []string) []string {
	keys := make([]string, 0, len(fields))
	seen := make(map[string]bool, len(order))
	for _, k := range order {
		if _, ok := fields[k]; ok && !seen[k] {
			keys = append(keys, k)
			seen[k] = true
		}
	}
	var rest []string
	for k := range fields {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	return append(keys, rest...)
}

func renderJSON(fields map[string]any, order []string) ([]byte, error) {
	var b strings.Builder
	b.WriteByte('{')
	for i, k := range sortedKeys(fields, order) {
		data, err := json.Marshal(fields[k])
		if err != nil {
			return nil, fmt.Errorf("logger: encode %s: %w", k, err)
		}
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Quote(k))
		b.WriteByte(':')
		b.Write(data)
	}
	b.WriteByte('}')
	return []byte(b.String()), nil
}

func renderKV(fields map[string]any, order []string) []byte {
	var b strings.Builder
	for i, k := range sortedKeys(fields, order) {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(k)
		b.WriteByte('=')
		s := fmt.Sprint(fields[k])
		if strings.IndexFunc(s, needsQuote) >= 0 {
			s = strconv.Quote(s)
		}
		b.WriteString(s)
	}
	return []byte(b.String())
}

func needsQuote(r rune) bool {
	return r <= ' ' || r == '=' || r == '"'
}

func fromContext(ctx context.Context, fields map[string]any) {
	if ctx == nil {
		return
	}
	setDefault := func(k string, v any) {
		if _, ok := fields[k]; !ok {
			fields[k] = v
		}
	}
	if rid := RIDFrom(ctx); rid != "" {
		setDefault("rid", rid)
	}
	if id := BotIDFrom(ctx); id != "" {
		setDefault("bot_id", id)
	}
	if id := ChatIDFrom(ctx); id != 0 {
		setDefault("chat_id", id)
	}
	if id := UpdateIDFrom(ctx); id != 0 {
		setDefault("update_id", id)
	}
	if h := HandlerFrom(ctx); h != "" {
		setDefault("handler", h)
	}
}
