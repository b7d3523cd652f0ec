// Package variables implements the Variable Store (C1): VU-local
// placeholder resolution, layered precedence merging, and per-column type
// coercion/encoding applied when a data row is loaded.
package variables

import (
	"encoding/base64"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/blackcoderx/loadgen/internal/loadmodel"
)

// Store is a VU-local, concurrency-safe placeholder map. The scheduler
// builds one instance per VU iteration; it is never shared across VUs
// (§9: "do not leak it across VUs") and is not carried into the VU's next
// iteration.
type Store struct {
	mu     sync.RWMutex
	values map[string]string
}

// New builds a Store seeded with the given layers, lowest precedence first.
// Later maps overwrite earlier ones on key collision.
func New(layers ...map[string]string) *Store {
	s := &Store{values: make(map[string]string)}
	for _, layer := range layers {
		for k, v := range layer {
			s.values[k] = v
		}
	}
	return s
}

// Merge returns a new Store seeded from the receiver with overrides applied
// on top; copy semantics — the receiver is untouched (§4.1 merge).
func (s *Store) Merge(overrides map[string]string) *Store {
	s.mu.RLock()
	base := make(map[string]string, len(s.values))
	for k, v := range s.values {
		base[k] = v
	}
	s.mu.RUnlock()
	return New(base, overrides)
}

// Set writes a value, persisting it for the rest of this Store's lifetime
// (in the scheduler, the rest of the current iteration). Used for
// script-promoted entries (§4.4 statement 6) and cached prelude tokens.
func (s *Store) Set(name, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[name] = value
}

// Get retrieves a named value.
func (s *Store) Get(name string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[name]
	return v, ok
}

// Snapshot returns a plain copy of the current key/value set.
func (s *Store) Snapshot() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// Resolve replaces every `{{name}}` occurrence in text with its current
// value. Unresolved placeholders are left verbatim. This is a single
// left-to-right scan: a substituted value is copied into the output as-is
// and never rescanned, so a value that itself contains `{{other}}` is not
// re-expanded (§4.1 "no nested re-expansion pass").
func (s *Store) Resolve(text string) string {
	if !strings.Contains(text, "{{") {
		return text
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var b strings.Builder
	rest := text
	for {
		start := strings.Index(rest, "{{")
		if start == -1 {
			b.WriteString(rest)
			break
		}
		end := strings.Index(rest[start:], "}}")
		if end == -1 {
			b.WriteString(rest)
			break
		}
		end += start

		b.WriteString(rest[:start])
		name := rest[start+2 : end]
		if value, ok := s.values[name]; ok {
			b.WriteString(value)
		} else {
			b.WriteString(rest[start : end+2])
		}
		rest = rest[end+2:]
	}
	return b.String()
}

// CoerceAndEncode applies a ColumnMapping's declared DataType then Encoding
// to one raw cell value. Coercion failure keeps the original cell text in
// place of the coerced value and returns ok=false; the warning is logged
// here when log is non-nil (non-fatal per §4.1/§7).
func CoerceAndEncode(raw string, dt loadmodel.DataType, enc loadmodel.Encoding, log *zap.SugaredLogger) (string, bool) {
	coerced, ok := coerce(raw, dt)
	if !ok {
		if log != nil {
			log.Warnw("column value failed type coercion, using raw cell", "raw", raw, "type", dt)
		}
		coerced = raw
	}
	return encode(coerced, enc), ok
}

func coerce(raw string, dt loadmodel.DataType) (string, bool) {
	switch dt {
	case loadmodel.TypeInteger:
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return raw, false
		}
		return strconv.FormatInt(n, 10), true
	case loadmodel.TypeDouble:
		f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return raw, false
		}
		return strconv.FormatFloat(f, 'f', -1, 64), true
	case loadmodel.TypeBoolean:
		b, err := strconv.ParseBool(strings.TrimSpace(raw))
		if err != nil {
			return raw, false
		}
		if b {
			return "true", true
		}
		return "false", true
	case loadmodel.TypeDatetime:
		for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02", "01/02/2006"} {
			t, err := time.Parse(layout, strings.TrimSpace(raw))
			if err == nil {
				return t.Format("2006-01-02"), true
			}
		}
		return raw, false
	case loadmodel.TypeString, "":
		return raw, true
	default:
		return raw, false
	}
}

func encode(value string, enc loadmodel.Encoding) string {
	switch enc {
	case loadmodel.EncodingBase64:
		return base64.StdEncoding.EncodeToString([]byte(value))
	case loadmodel.EncodingURL:
		return url.QueryEscape(value)
	case loadmodel.EncodingNone, "":
		return value
	default:
		return value
	}
}

// ResolveRow projects one DataRow through a DataSourceConfig's column
// mappings into a plain map suitable for Merge, applying coercion/encoding
// per column (§4.1 "applied once when loading a row").
func ResolveRow(row loadmodel.DataRow, cfg loadmodel.DataSourceConfig, log *zap.SugaredLogger) map[string]string {
	out := make(map[string]string, len(cfg.Columns))
	for _, col := range cfg.Columns {
		cell, ok := row[col.CSVColumn]
		if !ok {
			continue
		}
		value, _ := CoerceAndEncode(cell, col.DataType, col.Encoding, log)
		out[col.PlaceholderName] = value
	}
	return out
}

// GlobalsMap flattens a DataSourceConfig's GlobalVariable list into a layer
// map for Store construction.
func GlobalsMap(globals []loadmodel.GlobalVariable) map[string]string {
	out := make(map[string]string, len(globals))
	for _, g := range globals {
		out[g.Name] = g.Value
	}
	return out
}
