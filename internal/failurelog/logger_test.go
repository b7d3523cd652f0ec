package failurelog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/blackcoderx/loadgen/internal/loadmodel"
)

func TestRecordGroupsByStepName(t *testing.T) {
	dir := t.TempDir()
	l, err := New(dir)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer l.Close()

	result := loadmodel.ExecutionResult{
		StepName:     "get-user",
		Method:       loadmodel.MethodGet,
		URL:          "https://api.example.com/users/1",
		StatusCode:   500,
		ResponseTime: 10 * time.Millisecond,
		Verdict:      loadmodel.ValidationVerdict{OK: false, Reasons: []string{"status 500 not in accepted set [200]"}},
		CapturedAt:   time.Now().UTC(),
	}
	if err := l.Record(result); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	l.Close()

	path := filepath.Join(dir, "get-user.jsonl")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("expected log file at %q: %v", path, err)
	}
	if !strings.Contains(string(data), "status 500") {
		t.Fatalf("log content missing failure reason: %q", data)
	}
}

func TestRecordFallsBackToURLPathWhenStepNameEmpty(t *testing.T) {
	dir := t.TempDir()
	l, err := New(dir)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer l.Close()

	result := loadmodel.ExecutionResult{
		URL:        "https://api.example.com/v1/users/42/orders",
		StatusCode: 500,
		CapturedAt: time.Now().UTC(),
	}
	if err := l.Record(result); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	l.Close()

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Fatalf("expected exactly one log file, got %d", len(entries))
	}
	if !strings.Contains(entries[0].Name(), "v1_users_42") {
		t.Fatalf("log file name = %q, want first-three-segments grouping", entries[0].Name())
	}
}

func TestRecordAppendsAcrossCalls(t *testing.T) {
	dir := t.TempDir()
	l, err := New(dir)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer l.Close()

	for i := 0; i < 3; i++ {
		err := l.Record(loadmodel.ExecutionResult{StepName: "ping", StatusCode: 500, CapturedAt: time.Now().UTC()})
		if err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}
	l.Close()

	data, err := os.ReadFile(filepath.Join(dir, "ping.jsonl"))
	if err != nil {
		t.Fatalf("reading log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 appended lines, got %d", len(lines))
	}
}
