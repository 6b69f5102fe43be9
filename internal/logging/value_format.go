package logging

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// Message bodies and credentials are never written to any sink.
var redactedKeys = map[string]struct{}{
	"content":       {},
	"token":         {},
	"api_token":     {},
	"authorization": {},
}

// redact reports whether key is sensitive and, if so, the placeholder that
// replaces its value.
func redact(key string, v slog.Value) (slog.Value, bool) {
	if _, ok := redactedKeys[strings.ToLower(key)]; !ok {
		return v, false
	}
	return slog.StringValue(fmt.Sprintf("[redacted %d bytes]", len(plainString(v)))), true
}

// plainString renders v without quoting.
func plainString(v slog.Value) string {
	v = v.Resolve()
	switch v.Kind() {
	case slog.KindString:
		return v.String()
	case slog.KindBool:
		return strconv.FormatBool(v.Bool())
	case slog.KindInt64:
		return strconv.FormatInt(v.Int64(), 10)
	case slog.KindUint64:
		return strconv.FormatUint(v.Uint64(), 10)
	case slog.KindFloat64:
		return strconv.FormatFloat(v.Float64(), 'f', -1, 64)
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindTime:
		return v.Time().UTC().Format(time.RFC3339)
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			return err.Error()
		}
		return fmt.Sprint(v.Any())
	default:
		return v.String()
	}
}

// formatValue renders a console key=value pair's value, quoting strings that
// would otherwise be ambiguous.
func formatValue(key string, v slog.Value) string {
	if redacted, ok := redact(key, v); ok {
		return strconv.Quote(redacted.String())
	}
	s := plainString(v)
	switch v.Resolve().Kind() {
	case slog.KindString, slog.KindAny:
		if needsQuotes(s) {
			return strconv.Quote(s)
		}
	}
	return s
}

func needsQuotes(s string) bool {
	if s == "" {
		return true
	}
	return strings.ContainsFunc(s, func(r rune) bool {
		return r <= ' ' || r == '=' || r == '"'
	})
}
