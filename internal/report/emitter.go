// Package report implements the Report Emitter (C9): exports a
// MetricsSnapshot plus the effective RunConfig via an injected
// ArtifactWriter. Declared out of THE CORE by the spec (HTML/chart
// rendering is a thin non-core concern, §9), but a Markdown ArtifactWriter
// is provided so the CLI produces a real on-disk artifact end-to-end.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/blackcoderx/loadgen/internal/loadmodel"
	"github.com/blackcoderx/loadgen/internal/metrics"
	"github.com/blackcoderx/loadgen/internal/runconfig"
)

// ArtifactWriter consumes the aggregated metrics and run config (§1, §4.9).
type ArtifactWriter interface {
	Write(snapshot loadmodel.MetricsSnapshot, config loadmodel.RunConfig) error
}

// MarkdownWriter writes a consolidated Markdown report artifact to a fixed
// path, grounded on the teacher's generatePerformanceReport/
// generateDataDrivenReport Markdown-table pattern.
type MarkdownWriter struct {
	Path string
}

// Write implements ArtifactWriter.
func (w MarkdownWriter) Write(snapshot loadmodel.MetricsSnapshot, config loadmodel.RunConfig) error {
	if err := os.MkdirAll(filepath.Dir(w.Path), 0755); err != nil {
		return fmt.Errorf("creating report directory: %w", err)
	}

	verdict := runconfig.Evaluate(snapshot, config.Thresholds)

	var sb strings.Builder
	fmt.Fprintf(&sb, "# Load Test Report\n\n")
	fmt.Fprintf(&sb, "**Start:** %s\n\n", snapshot.Start.Format(time.RFC1123))
	if snapshot.End != nil {
		fmt.Fprintf(&sb, "**End:** %s\n\n", snapshot.End.Format(time.RFC1123))
	}

	status := "FAIL"
	if verdict.Pass {
		status = "PASS"
	}
	fmt.Fprintf(&sb, "**Verdict:** %s\n\n", status)
	if len(verdict.Reasons) > 0 {
		fmt.Fprintf(&sb, "Reasons:\n")
		for _, r := range verdict.Reasons {
			fmt.Fprintf(&sb, "- %s\n", r)
		}
		fmt.Fprintf(&sb, "\n")
	}

	fmt.Fprintf(&sb, "## Summary\n\n")
	fmt.Fprintf(&sb, "| Metric | Value |\n|--------|-------|\n")
	fmt.Fprintf(&sb, "| Total | %d |\n", snapshot.Total)
	fmt.Fprintf(&sb, "| Succeeded | %d |\n", snapshot.Succeeded)
	fmt.Fprintf(&sb, "| Failed | %d |\n", snapshot.Failed)
	fmt.Fprintf(&sb, "| Validation Failures | %d |\n", snapshot.ValidationFailures)
	fmt.Fprintf(&sb, "| Current TPS | %.2f |\n", snapshot.CurrentTPS)
	fmt.Fprintf(&sb, "| p50 | %v |\n", metrics.Percentile(snapshot.AllSamples, 50))
	fmt.Fprintf(&sb, "| p95 | %v |\n", metrics.Percentile(snapshot.AllSamples, 95))
	fmt.Fprintf(&sb, "| p99 | %v |\n\n", metrics.Percentile(snapshot.AllSamples, 99))

	if len(snapshot.PerStepSamples) > 0 {
		fmt.Fprintf(&sb, "## Per-Step Latency\n\n")
		fmt.Fprintf(&sb, "| Step | Count | p50 | p95 |\n|------|------:|----:|----:|\n")
		for step, samples := range snapshot.PerStepSamples {
			fmt.Fprintf(&sb, "| %s | %d | %v | %v |\n", step, len(samples), metrics.Percentile(samples, 50), metrics.Percentile(samples, 95))
		}
		fmt.Fprintf(&sb, "\n")
	}

	if err := os.WriteFile(w.Path, []byte(sb.String()), 0644); err != nil {
		return fmt.Errorf("writing report to %q: %w", w.Path, err)
	}
	return validateWritten(w.Path)
}

// validateWritten confirms the artifact was actually persisted and is
// non-empty, matching the teacher's ValidateReport post-write check.
func validateWritten(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("report was not created: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("report file was created but is empty: %s", path)
	}
	return nil
}
