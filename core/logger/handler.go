package logger

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

type logFormat string

const (
	formatJSON logFormat = "json"
	formatKV   logFormat = "kv"

	timeFormatMillis = "2006-01-02T15:04:05.000Z07:00"
)

type handlerConfig struct {
	level    slog.Leveler
	writer   *asyncWriter
	format   logFormat
	keyOrder []string
}

// structuredHandler renders records as single lines with a fixed key order.
// Registration answers are masked before they reach any sink.
type structuredHandler struct {
	cfg    handlerConfig
	attrs  []slog.Attr
	groups []string
}

func newStructuredHandler(cfg handlerConfig) *structuredHandler {
	if cfg.level == nil {
		cfg.level = slog.LevelInfo
	}
	if cfg.keyOrder == nil {
		cfg.keyOrder = append([]string(nil), defaultKeyOrder...)
	}
	return &structuredHandler{cfg: cfg}
}

func (h *structuredHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.cfg.level.Level()
}

func (h *structuredHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.cfg.writer == nil {
		return fmt.Errorf("logger: writer not initialized")
	}
	jsonOut := h.cfg.format == formatJSON

	f := make(fields, 16)
	ts := r.Time.UTC()
	f["ts"] = ts.Truncate(time.Millisecond).Format(timeFormatMillis)
	f["level"] = normalizeLevel(r.Level.String())
	if jsonOut {
		f["ts_unix_nano"] = ts.UnixNano()
	}
	for _, a := range h.attrs {
		h.collect(f, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		h.collect(f, a)
		return true
	})
	f.fromContext(ctx)
	f.compactRID(jsonOut)
	f.setDefault("event", r.Message, "unknown")
	f.setDefault("component", "app")
	f.normalizeEnums()
	f.maskPersonal()
	f.prune()

	var line []byte
	if jsonOut {
		var err error
		if line, err = f.encodeJSON(h.cfg.keyOrder); err != nil {
			return err
		}
	} else {
		line = f.encodeKV(h.cfg.keyOrder)
	}
	return h.cfg.writer.Write(append(line, '\n'))
}

func (h *structuredHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &clone
}

func (h *structuredHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.groups = append(append([]string(nil), h.groups...), name)
	return &clone
}

func (h *structuredHandler) collect(f fields, attr slog.Attr) {
	flattenAttr(strings.Join(h.groups, "."), attr, func(k string, v slog.Value) {
		if key, val, ok := normalizeAttr(k, v); ok {
			f[key] = val
		}
	})
}

func flattenAttr(prefix string, attr slog.Attr, fn func(string, slog.Value)) {
	key := attr.Key
	switch {
	case key == "":
		key = prefix
	case prefix != "":
		key = prefix + "." + key
	}
	if attr.Value.Kind() == slog.KindGroup {
		for _, child := range attr.Value.Group() {
			flattenAttr(key, child, fn)
		}
		return
	}
	fn(key, attr.Value)
}

func normalizeAttr(key string, val slog.Value) (string, any, bool) {
	if key == "" {
		return "", nil, false
	}
	switch val.Kind() {
	case slog.KindString:
		return key, strings.TrimSpace(val.String()), true
	case slog.KindBool:
		return key, val.Bool(), true
	case slog.KindInt64:
		return key, val.Int64(), true
	case slog.KindUint64:
		if u := val.Uint64(); u <= math.MaxInt64 {
			return key, int64(u), true
		}
		return key, val.Uint64(), true
	case slog.KindFloat64:
		return key, val.Float64(), true
	case slog.KindDuration:
		return durationKey(key), RoundMS(val.Duration()).Milliseconds(), true
	case slog.KindTime:
		return key, val.Time().UTC().Format(time.RFC3339Nano), true
	}
	switch x := val.Any().(type) {
	case nil:
		return key, nil, false
	case error:
		return key, x.Error(), true
	case string:
		return key, strings.TrimSpace(x), true
	case time.Duration:
		return durationKey(key), RoundMS(x).Milliseconds(), true
	case fmt.Stringer:
		return key, x.String(), true
	default:
		return key, fmt.Sprint(x), true
	}
}

// durationKey maps duration attributes onto *_ms keys.
func durationKey(key string) string {
	switch {
	case key == "duration":
		return "duration_ms"
	case strings.HasSuffix(key, "_ms"):
		return key
	}
	return key + "_ms"
}

// fields is one log line before encoding.
type fields map[string]any

func (f fields) str(key string) string {
	switch v := f[key].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// setDefault stores the first non-empty candidate when key is unset.
func (f fields) setDefault(key string, candidates ...string) {
	if f.str(key) != "" {
		return
	}
	for _, c := range candidates {
		if c != "" {
			f[key] = c
			return
		}
	}
}

func (f fields) fromContext(ctx context.Context) {
	if ctx == nil {
		return
	}
	if rid := RIDFrom(ctx); rid != "" {
		f.setDefault("rid", rid)
	}
	if h := HandlerFrom(ctx); h != "" {
		f.setDefault("handler", h)
	}
	for key, v := range map[string]int64{
		"sender_id": SenderIDFrom(ctx),
		"chat_id":   ChatIDFrom(ctx),
		"update_id": int64(UpdateIDFrom(ctx)),
	} {
		if _, ok := f[key]; !ok && v != 0 {
			f[key] = v
		}
	}
}

// compactRID shortens numeric request ids. JSON lines keep the original as rid_full.
func (f fields) compactRID(keepFull bool) {
	rid := f.str("rid")
	compact := CompactRID(rid)
	if compact == "" || compact == rid {
		return
	}
	if _, seen := f["rid_full"]; keepFull && !seen {
		f["rid_full"] = rid
	}
	f["rid"] = compact
}

func (f fields) normalizeEnums() {
	if s := f.str("status"); s != "" {
		f["status"], _ = normalizeStatus(s)
	}
	for _, key := range []string{"state", "state_from", "state_to"} {
		if s := f.str(key); s != "" {
			f[key] = strings.ToLower(s)
		}
	}
	if o := f.str("outcome"); o != "" {
		if normalized, ok := normalizeOutcome(o); ok {
			f["outcome"] = normalized
		} else {
			delete(f, "outcome")
		}
	}
}

// maskPersonal hides registration answers: phone numbers keep their last
// two digits, names keep their first rune.
func (f fields) maskPersonal() {
	for key := range f {
		if _, ok := personalKeys[key]; !ok {
			continue
		}
		s := f.str(key)
		if s == "" {
			continue
		}
		if strings.HasPrefix(key, "phone") {
			f[key] = maskTail(s, 2)
		} else {
			r, _ := utf8.DecodeRuneInString(s)
			f[key] = string(r) + "***"
		}
	}
}

func maskTail(s string, keep int) string {
	if len(s) <= keep {
		return strings.Repeat("*", len(s))
	}
	return strings.Repeat("*", len(s)-keep) + s[len(s)-keep:]
}

func (f fields) prune() {
	for k, v := range f {
		if v == nil || v == "" {
			delete(f, k)
		}
	}
}

// keys lists order first, then the remaining keys sorted.
func (f fields) keys(order []string) []string {
	out := make([]string, 0, len(f))
	for _, key := range order {
		if _, ok := f[key]; ok {
			out = append(out, key)
		}
	}
	fixed := len(out)
	for key := range f {
		if !contains(out[:fixed], key) {
			out = append(out, key)
		}
	}
	sort.Strings(out[fixed:])
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func (f fields) encodeJSON(order []string) ([]byte, error) {
	var b strings.Builder
	b.WriteByte('{')
	for i, key := range f.keys(order) {
		data, err := json.Marshal(f[key])
		if err != nil {
			return nil, fmt.Errorf("logger: encode %s: %w", key, err)
		}
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Quote(key))
		b.WriteByte(':')
		b.Write(data)
	}
	b.WriteByte('}')
	return []byte(b.String()), nil
}

func (f fields) encodeKV(order []string) []byte {
	var b strings.Builder
	for i, key := range f.keys(order) {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(key)
		b.WriteByte('=')
		b.WriteString(kvValue(f[key]))
	}
	return []byte(b.String())
}

func kvValue(val any) string {
	s := fmt.Sprint(val)
	if strings.IndexFunc(s, needsQuote) >= 0 {
		return strconv.Quote(s)
	}
	return s
}

func needsQuote(r rune) bool {
	return r <= 32 || r == '=' || r == '"'
}
