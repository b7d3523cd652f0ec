// Package scheduler implements the Scheduler & Virtual-User Pool (C8): the
// ramp-up/steady/ramp-down/drain phase state machine and the per-VU
// iteration loop that drives every other component.
package scheduler

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/blackcoderx/loadgen/internal/failurelog"
	"github.com/blackcoderx/loadgen/internal/httpexec"
	"github.com/blackcoderx/loadgen/internal/loadmodel"
	"github.com/blackcoderx/loadgen/internal/metrics"
	"github.com/blackcoderx/loadgen/internal/request"
	"github.com/blackcoderx/loadgen/internal/script"
	"github.com/blackcoderx/loadgen/internal/sequence"
	"github.com/blackcoderx/loadgen/internal/variables"
)

// Phase is one state of the scheduler's state machine (§4.8).
type Phase int

const (
	PhaseRampUp Phase = iota
	PhaseSteady
	PhaseRampDown
	PhaseDrain
)

func (p Phase) String() string {
	switch p {
	case PhaseRampUp:
		return "ramp-up"
	case PhaseSteady:
		return "steady"
	case PhaseRampDown:
		return "ramp-down"
	case PhaseDrain:
		return "drain"
	default:
		return "unknown"
	}
}

// drainGrace is the hard cap the scheduler waits for in-flight VUs to exit
// after the overall run deadline or an external cancellation.
const drainGrace = 10 * time.Second

// controlTick is the scheduler's own recomputation interval.
const controlTick = 1 * time.Second

// Templates is the immutable per-run catalogue a VU draws from: the loaded
// RequestTemplate collection keyed by name (looked up for each step of
// RunConfig.StepSequence), plus the data rows, column mapping and globals.
type Templates struct {
	ByName map[string]loadmodel.RequestTemplate
	Rows   []loadmodel.DataRow
	Source loadmodel.DataSourceConfig
	Globals map[string]string
}

// Scheduler owns the VU pool and the phase control loop.
type Scheduler struct {
	cfg       loadmodel.RunConfig
	templates Templates
	exec      *httpexec.Executor
	prelude   *sequence.Manager
	agg       *metrics.Aggregator
	flog      *failurelog.Logger
	log       *zap.SugaredLogger
	limiter   *rate.Limiter // non-nil only when RunConfig.TargetTPS > 0

	activeVUs int32
	vuSeq     int32

	onTick func(Phase, int, int) // phase, target, active — for the console monitor
}

// New constructs a Scheduler wired to its collaborators. prelude and flog
// may be nil (no auth step / no failure capture, respectively). When
// cfg.TargetTPS is positive, dispatch is paced through a token-bucket
// limiter rather than left to run at whatever rate active VUs sustain
// (§6 PerformanceSettings.TargetTransactionsPerSecond; the limiter only
// caps throughput, it never adapts to observed error rate or latency).
func New(
	cfg loadmodel.RunConfig,
	templates Templates,
	exec *httpexec.Executor,
	prelude *sequence.Manager,
	agg *metrics.Aggregator,
	flog *failurelog.Logger,
	log *zap.SugaredLogger,
) *Scheduler {
	var limiter *rate.Limiter
	if cfg.TargetTPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.TargetTPS), max(1, int(cfg.TargetTPS)))
	}
	return &Scheduler{
		cfg:       cfg,
		templates: templates,
		exec:      exec,
		prelude:   prelude,
		limiter:   limiter,
		agg:       agg,
		flog:      flog,
		log:       log,
	}
}

// OnTick registers a callback invoked once per control-loop tick with the
// current phase, target VU count, and active VU count — used by the
// console monitor, which prints on its own interval, to show the latest
// phase and VU counts.
func (s *Scheduler) OnTick(fn func(phase Phase, target, active int)) {
	s.onTick = fn
}

// Run drives the full phase state machine to completion or until ctx is
// cancelled, then waits up to the drain grace period for outstanding VUs.
func (s *Scheduler) Run(ctx context.Context) {
	totalMs := s.cfg.RampUpMs + s.cfg.TestMs + s.cfg.RampDownMs
	deadline := time.Duration(totalMs) * time.Millisecond

	runCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	var wg sync.WaitGroup
	start := time.Now()

	ticker := time.NewTicker(controlTick)
	defer ticker.Stop()

	s.tick(runCtx, &wg, start)

	for {
		select {
		case <-runCtx.Done():
			s.drain(&wg)
			return
		case <-ticker.C:
			s.tick(runCtx, &wg, start)
			if time.Since(start) >= deadline {
				cancel()
				s.drain(&wg)
				return
			}
		}
	}
}

// tick recomputes the current phase's target VU count and launches new VUs
// to close any deficit. VUs are never stopped directly; ramp-down is
// achieved purely by withholding new launches.
func (s *Scheduler) tick(ctx context.Context, wg *sync.WaitGroup, start time.Time) {
	elapsed := time.Since(start)
	phase, target := s.phaseAndTarget(elapsed)

	active := int(atomic.LoadInt32(&s.activeVUs))
	for active < target {
		id := int(atomic.AddInt32(&s.vuSeq, 1))
		atomic.AddInt32(&s.activeVUs, 1)
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			defer atomic.AddInt32(&s.activeVUs, -1)
			s.runVU(ctx, id)
		}(id)
		active++
	}

	if s.onTick != nil {
		s.onTick(phase, target, int(atomic.LoadInt32(&s.activeVUs)))
	}
	s.agg.SetActiveVUs(int(atomic.LoadInt32(&s.activeVUs)))
}

// phaseAndTarget implements the §4.8 state table.
func (s *Scheduler) phaseAndTarget(elapsed time.Duration) (Phase, int) {
	elapsedMs := float64(elapsed.Milliseconds())
	rampUp := float64(s.cfg.RampUpMs)
	testMs := float64(s.cfg.TestMs)
	rampDown := float64(s.cfg.RampDownMs)
	maxVUs := float64(s.cfg.MaxVUs)

	switch {
	case rampUp > 0 && elapsedMs <= rampUp:
		target := int(math.Floor(maxVUs * elapsedMs / rampUp))
		return PhaseRampUp, clampVUs(target, s.cfg.MaxVUs)
	case elapsedMs <= rampUp+testMs:
		return PhaseSteady, s.cfg.MaxVUs
	case rampDown > 0 && elapsedMs <= rampUp+testMs+rampDown:
		frac := (elapsedMs - rampUp - testMs) / rampDown
		target := int(math.Floor(maxVUs * (1 - frac)))
		if target < 0 {
			target = 0
		}
		return PhaseRampDown, clampVUs(target, s.cfg.MaxVUs)
	default:
		return PhaseDrain, 0
	}
}

func clampVUs(target, max int) int {
	if target > max {
		return max
	}
	if target < 0 {
		return 0
	}
	return target
}

// drain waits up to drainGrace for outstanding VUs to exit on their own.
func (s *Scheduler) drain(wg *sync.WaitGroup) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(drainGrace):
		if s.log != nil {
			s.log.Warnw("drain grace period elapsed with VUs still in flight")
		}
	}
}

// runVU is the per-virtual-user loop (§4.8 "Per-VU loop").
func (s *Scheduler) runVU(ctx context.Context, id int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(id)*7919))

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		s.runIteration(ctx, id, rng)

		jitter := time.Duration(rng.Intn(1000)) * time.Millisecond
		select {
		case <-ctx.Done():
			return
		case <-time.After(jitter):
		}
	}
}

// runIteration re-selects a fresh random data row and runs the enabled
// step sequence once, preserving script-promoted entries across steps
// within the same iteration. Each iteration starts from a fresh Store, so
// promoted entries and a cached access_token are not carried into the
// next iteration.
func (s *Scheduler) runIteration(ctx context.Context, id int, rng *rand.Rand) {
	var row loadmodel.DataRow
	if len(s.templates.Rows) > 0 {
		row = s.templates.Rows[rng.Intn(len(s.templates.Rows))]
	}

	rowVars := variables.ResolveRow(row, s.templates.Source, s.log)
	vars := variables.New(s.templates.Globals, rowVars)

	for _, step := range s.cfg.StepSequence {
		if !step.Enabled {
			continue
		}
		select {
		case <-ctx.Done():
			return
		default:
		}

		tmpl, ok := s.templates.ByName[step.StepName]
		if !ok {
			if s.log != nil {
				s.log.Warnw("step sequence references unknown request template", "step", step.StepName)
			}
			continue
		}

		if s.prelude != nil && sequence.NeedsAuth(tmpl) {
			s.prelude.Ensure(ctx, vars)
		}

		s.runStep(ctx, tmpl, step, vars)

		if step.InterStepDelayMs > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Duration(step.InterStepDelayMs) * time.Millisecond):
			}
		}
	}
}

// runStep builds, executes, validates, records, and script-extracts a
// single step.
func (s *Scheduler) runStep(ctx context.Context, tmpl loadmodel.RequestTemplate, step loadmodel.IterationStep, vars *variables.Store) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return // ctx cancelled while waiting for a dispatch slot
		}
	}

	criteria := s.cfg.GlobalCriteria
	if step.Criteria != nil {
		criteria = *step.Criteria
	}

	prepared, err := request.Build(tmpl, vars)
	if err != nil {
		if s.log != nil {
			s.log.Errorw("failed to build request", "step", tmpl.Name, "error", err)
		}
		result := loadmodel.ExecutionResult{
			StepName:     tmpl.Name,
			Method:       tmpl.Method,
			StatusCode:   0,
			IsSuccess:    false,
			ErrorMessage: "request build failed: " + err.Error(),
			CapturedAt:   time.Now().UTC(),
		}
		s.agg.Record(result)
		if s.flog != nil {
			if ferr := s.flog.Record(result); ferr != nil && s.log != nil {
				s.log.Errorw("failed to write failure log entry", "error", ferr)
			}
		}
		return
	}

	// temp is the VU-local scratch map statements 1-5 populate and statement
	// 6 reads from; it must be fresh per step but shared between the pre-
	// and post-script passes of the same step (§4.4, §5 ordering guarantee).
	temp := map[string]string{}

	if len(tmpl.PreScript) > 0 {
		script.Run(tmpl.PreScript, script.Context{RequestBody: string(prepared.Body)}, temp, vars, s.log)
	}

	result, bodyText := s.exec.Execute(ctx, prepared, tmpl.Name, criteria)

	s.agg.Record(result)
	if !result.IsSuccess && s.flog != nil {
		if err := s.flog.Record(result); err != nil && s.log != nil {
			s.log.Errorw("failed to write failure log entry", "error", err)
		}
	}

	if len(tmpl.PostScript) > 0 {
		script.Run(tmpl.PostScript, script.Context{ResponseBody: bodyText, RequestBody: string(prepared.Body)}, temp, vars, s.log)
	}
}
