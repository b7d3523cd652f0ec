// Package metrics implements the Metrics Aggregator (C7): thread-safe
// counters, bounded sample buffers, rolling TPS, and percentile
// computation, mirrored into a Prometheus registry for scrape-based
// observability alongside the required snapshot() contract.
package metrics

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/blackcoderx/loadgen/internal/loadmodel"
)

const (
	maxAllSamples   = 10000
	maxRecentResults = 50
	rollingWindow   = 10 * time.Second
)

// Aggregator is a single shared value whose address is passed to every VU;
// all synchronisation is confined inside it (§9: no module-level mutable
// state, a single mutex over counters/samples).
type Aggregator struct {
	mu sync.Mutex

	start time.Time
	end   *time.Time

	total              int
	succeeded          int
	failed             int
	validationFailures int

	allSamples    []time.Duration
	recentResults []loadmodel.ExecutionResult
	perStep       map[string][]time.Duration

	recentTimestamps []time.Time // trailing window for rolling TPS

	currentVUs int32

	promTotal     prometheus.Counter
	promSucceeded prometheus.Counter
	promFailed    prometheus.Counter
	promLatency   prometheus.Histogram
	promVUs       prometheus.Gauge
}

// New constructs an Aggregator. runID namespaces the Prometheus metric
// labels so repeated runs in the same process don't collide.
func New(registry *prometheus.Registry, runID string) *Aggregator {
	a := &Aggregator{
		start:   time.Now().UTC(),
		perStep: make(map[string][]time.Duration),
	}

	labels := prometheus.Labels{"run_id": runID}
	a.promTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "loadgen_requests_total",
		Help:        "Total requests executed.",
		ConstLabels: labels,
	})
	a.promSucceeded = prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "loadgen_requests_succeeded_total",
		Help:        "Requests classified as successful.",
		ConstLabels: labels,
	})
	a.promFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "loadgen_requests_failed_total",
		Help:        "Requests classified as failed.",
		ConstLabels: labels,
	})
	a.promLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "loadgen_response_time_seconds",
		Help:        "Response time distribution.",
		ConstLabels: labels,
		Buckets:     prometheus.DefBuckets,
	})
	a.promVUs = prometheus.NewGauge(prometheus.GaugeOpts{
		Name:        "loadgen_active_vus",
		Help:        "Currently active virtual users.",
		ConstLabels: labels,
	})

	if registry != nil {
		registry.MustRegister(a.promTotal, a.promSucceeded, a.promFailed, a.promLatency, a.promVUs)
	}
	return a
}

// Record updates every counter/sample structure for one completed result
// (§4.7). Returns only after counters and samples are consistently updated
// (the happens-before guarantee of §5).
func (a *Aggregator) Record(result loadmodel.ExecutionResult) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.total++
	if result.IsSuccess {
		a.succeeded++
	} else {
		a.failed++
		if !result.Verdict.OK {
			a.validationFailures++
		}
	}

	a.allSamples = append(a.allSamples, result.ResponseTime)
	if len(a.allSamples) > maxAllSamples {
		a.allSamples = a.allSamples[len(a.allSamples)-maxAllSamples:]
	}

	a.perStep[result.StepName] = append(a.perStep[result.StepName], result.ResponseTime)

	a.recentResults = append(a.recentResults, result)
	if len(a.recentResults) > maxRecentResults {
		a.recentResults = a.recentResults[len(a.recentResults)-maxRecentResults:]
	}

	a.recentTimestamps = append(a.recentTimestamps, result.CapturedAt)
	a.pruneRollingWindowLocked(result.CapturedAt)

	if a.promTotal != nil {
		a.promTotal.Inc()
		if result.IsSuccess {
			a.promSucceeded.Inc()
		} else {
			a.promFailed.Inc()
		}
		a.promLatency.Observe(result.ResponseTime.Seconds())
	}
}

func (a *Aggregator) pruneRollingWindowLocked(now time.Time) {
	cutoff := now.Add(-rollingWindow)
	idx := 0
	for idx < len(a.recentTimestamps) && a.recentTimestamps[idx].Before(cutoff) {
		idx++
	}
	if idx > 0 {
		a.recentTimestamps = a.recentTimestamps[idx:]
	}
}

// SetActiveVUs updates the snapshot's CurrentVUs and mirrors it into the
// Prometheus gauge.
func (a *Aggregator) SetActiveVUs(n int) {
	a.mu.Lock()
	a.currentVUs = int32(n)
	a.mu.Unlock()
	if a.promVUs != nil {
		a.promVUs.Set(float64(n))
	}
}

// MarkEnd stamps the snapshot's End time; called once the run completes.
func (a *Aggregator) MarkEnd() {
	a.mu.Lock()
	defer a.mu.Unlock()
	now := time.Now().UTC()
	a.end = &now
}

// Percentile returns the p-th percentile over current samples using the
// nearest-rank method specified in §4.7: sort ascending, take the element
// at index ceil(n*p/100)-1, clamped to [0, n-1]. Returns 0 for empty
// samples.
func Percentile(samples []time.Duration, p float64) time.Duration {
	n := len(samples)
	if n == 0 {
		return 0
	}
	sorted := make([]time.Duration, n)
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	idx := int(math.Ceil(float64(n)*p/100)) - 1
	if idx < 0 {
		idx = 0
	}
	if idx > n-1 {
		idx = n - 1
	}
	return sorted[idx]
}

// Snapshot returns a deep copy safe to hand to the Report Emitter (§4.7).
func (a *Aggregator) Snapshot() loadmodel.MetricsSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	samples := make([]time.Duration, len(a.allSamples))
	copy(samples, a.allSamples)

	perStep := make(map[string][]time.Duration, len(a.perStep))
	for k, v := range a.perStep {
		cp := make([]time.Duration, len(v))
		copy(cp, v)
		perStep[k] = cp
	}

	recent := make([]loadmodel.ExecutionResult, len(a.recentResults))
	copy(recent, a.recentResults)

	var end *time.Time
	if a.end != nil {
		e := *a.end
		end = &e
	}

	return loadmodel.MetricsSnapshot{
		Start:              a.start,
		End:                end,
		Total:              a.total,
		Succeeded:          a.succeeded,
		Failed:             a.failed,
		ValidationFailures: a.validationFailures,
		AllSamples:         samples,
		CurrentVUs:         int(a.currentVUs),
		CurrentTPS:         float64(len(a.recentTimestamps)) / rollingWindow.Seconds(),
		PerStepSamples:     perStep,
		RecentResults:      recent,
	}
}
