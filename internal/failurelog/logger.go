// Package failurelog implements the Failure Logger (C10): groups failed
// results by logical endpoint and appends a structured record to a
// per-endpoint append-only log, serialised by a lock.
package failurelog

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/blackcoderx/loadgen/internal/loadmodel"
)

// record is one structured, append-only line written per failure.
type record struct {
	StepName     string `json:"step_name"`
	Method       string `json:"method"`
	URL          string `json:"url"`
	StatusCode   int    `json:"status_code"`
	ResponseTime string `json:"response_time"`
	Reasons      []string `json:"reasons,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	CapturedAt   string `json:"captured_at"`
}

// Logger writes one append-only JSON-lines file per logical endpoint,
// inside dir. File handles are opened lazily and kept for the run's
// lifetime; each endpoint's appends are serialised by its own mutex. The
// directory is resolved to an absolute path and created if missing; no
// further path check is made. Endpoint keys become file names with '/',
// ' ', ':', '?' and '*' replaced by '_'.
type Logger struct {
	dir string

	mu    sync.Mutex // guards the files map itself, not individual writes
	files map[string]*endpointFile
}

type endpointFile struct {
	mu sync.Mutex
	f  *os.File
}

// New creates a Logger rooted at dir, creating the directory if needed.
func New(dir string) (*Logger, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving failure log directory: %w", err)
	}
	if err := os.MkdirAll(absDir, 0755); err != nil {
		return nil, fmt.Errorf("creating failure log directory %q: %w", absDir, err)
	}
	return &Logger{dir: absDir, files: make(map[string]*endpointFile)}, nil
}

// Record appends a structured failure entry, grouped by endpoint key
// (§4.9). Safe for concurrent use across many VUs.
func (l *Logger) Record(result loadmodel.ExecutionResult) error {
	key := endpointKey(result)
	ef, err := l.fileFor(key)
	if err != nil {
		return err
	}

	line, err := json.Marshal(record{
		StepName:     result.StepName,
		Method:       string(result.Method),
		URL:          result.URL,
		StatusCode:   result.StatusCode,
		ResponseTime: result.ResponseTime.String(),
		Reasons:      result.Verdict.Reasons,
		ErrorMessage: result.ErrorMessage,
		CapturedAt:   result.CapturedAt.Format("2006-01-02T15:04:05.000Z07:00"),
	})
	if err != nil {
		return fmt.Errorf("encoding failure record: %w", err)
	}

	ef.mu.Lock()
	defer ef.mu.Unlock()
	_, err = ef.f.Write(append(line, '\n'))
	return err
}

func (l *Logger) fileFor(key string) (*endpointFile, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if ef, ok := l.files[key]; ok {
		return ef, nil
	}

	path := filepath.Join(l.dir, sanitizeFileName(key)+".jsonl")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening failure log for endpoint %q: %w", key, err)
	}
	ef := &endpointFile{f: f}
	l.files[key] = ef
	return ef, nil
}

// Close closes every open endpoint file.
func (l *Logger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, ef := range l.files {
		ef.mu.Lock()
		_ = ef.f.Close()
		ef.mu.Unlock()
	}
}

// endpointKey derives the logical grouping key: the step name if present,
// else the first three path segments of the URL (§4.9).
func endpointKey(result loadmodel.ExecutionResult) string {
	if result.StepName != "" {
		return result.StepName
	}
	u, err := url.Parse(result.URL)
	if err != nil {
		return "unknown"
	}
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(segments) > 3 {
		segments = segments[:3]
	}
	key := strings.Join(segments, "_")
	if key == "" {
		return "root"
	}
	return key
}

func sanitizeFileName(key string) string {
	replacer := strings.NewReplacer("/", "_", " ", "_", ":", "_", "?", "_", "*", "_")
	return replacer.Replace(key)
}
