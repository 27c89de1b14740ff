package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/flumechat/flume"
	log "github.com/sirupsen/logrus"
)

// DefaultStageTimeout applies to stages without an entry in the timeout table.
const DefaultStageTimeout = 10 * time.Second

// Timeouts maps stage names to their time budget. Values are configuration,
// not code: different stages have legitimately different latency profiles.
type Timeouts struct {
	Default time.Duration
	Stages  map[string]time.Duration
}

// For returns the budget for a stage, falling back to Default, then to
// DefaultStageTimeout.
func (t Timeouts) For(stage string) time.Duration {
	if d, ok := t.Stages[stage]; ok {
		return d
	}
	if t.Default > 0 {
		return t.Default
	}
	return DefaultStageTimeout
}

// Stage is a named unit of pipeline work. When decides whether the stage
// runs given the current context (nil = always). Run receives a copy of the
// context and returns a partial update; it must not retain or mutate the
// copy's reference fields, because a timed-out Run is abandoned and its
// result discarded.
type Stage struct {
	Name string
	When func(rc Context) bool
	Run  func(ctx context.Context, rc Context) (Update, error)
}

// Pipeline executes a fixed ordered list of stages over a request context.
// Ordering is always list order; there is no reordering or priority.
type Pipeline struct {
	stages   []Stage
	timeouts Timeouts
	log      *log.Entry
}

// New creates a Pipeline over the given stages and timeout table.
func New(timeouts Timeouts, stages ...Stage) *Pipeline {
	return &Pipeline{
		stages:   stages,
		timeouts: timeouts,
		log:      log.WithField("component", "pipeline"),
	}
}

type stageResult struct {
	update Update
	err    error
}

// Execute runs the stages in order and returns the final context. The
// returned context always carries the accumulated errors and metrics; the
// error return is non-nil only when a critical error stopped the run (it is
// the same *flume.Error recorded on the context) or the caller's context
// was cancelled.
func (p *Pipeline) Execute(ctx context.Context, rc *Context) (*Context, error) {
	for _, stage := range p.stages {
		if err := ctx.Err(); err != nil {
			return rc, err
		}

		metric := StageMetric{Stage: stage.Name, Start: time.Now()}

		if stage.When != nil && !stage.When(*rc) {
			metric.End = metric.Start
			metric.Skipped = true
			rc.Metrics = append(rc.Metrics, metric)
			p.log.WithFields(log.Fields{
				"request_id": rc.RequestID,
				"stage":      stage.Name,
			}).Debug("stage skipped: precondition not met")
			continue
		}

		update, err := p.runStage(ctx, stage, *rc)
		metric.End = time.Now()
		metric.TimedOut = isTimeout(err)
		rc.Metrics = append(rc.Metrics, metric)

		if err != nil {
			pe := classify(stage.Name, err)
			rc.Errors = append(rc.Errors, pe)
			p.log.WithFields(log.Fields{
				"request_id": rc.RequestID,
				"stage":      stage.Name,
				"code":       string(pe.Code),
				"severity":   string(pe.Severity),
			}).Warn(pe.Error())
			if pe.Severity == flume.SeverityCritical {
				return rc, pe
			}
			continue
		}

		rc.apply(update)

		// A stage may report a critical error through its update rather
		// than its error return; that stops the run all the same.
		if ce := rc.CriticalError(); ce != nil {
			return rc, ce
		}
	}
	return rc, nil
}

// runStage races the stage against its time budget. The stage receives a
// context that is cancelled when the budget expires, so cancellation-aware
// work stops early; work that ignores it is abandoned, not forcibly aborted.
func (p *Pipeline) runStage(ctx context.Context, stage Stage, rc Context) (Update, error) {
	budget := p.timeouts.For(stage.Name)
	stageCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	resCh := make(chan stageResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				resCh <- stageResult{err: fmt.Errorf("stage panic: %v", r)}
			}
		}()
		update, err := stage.Run(stageCtx, rc)
		resCh <- stageResult{update: update, err: err}
	}()

	timer := time.NewTimer(budget)
	defer timer.Stop()

	select {
	case res := <-resCh:
		return res.update, res.err
	case <-timer.C:
		return Update{}, flume.Warning(flume.CodeTimeout, stage.Name,
			fmt.Errorf("stage exceeded %s budget", budget))
	case <-ctx.Done():
		return Update{}, ctx.Err()
	}
}

// classify maps an arbitrary stage error onto the pipeline taxonomy.
// Errors already in the taxonomy pass through; context cancellation from the
// caller is critical; anything else is a contained unexpected failure that
// must not crash the orchestrator.
func classify(stage string, err error) *flume.Error {
	var pe *flume.Error
	if errors.As(err, &pe) {
		return pe
	}
	if errors.Is(err, context.DeadlineExceeded) {
		// A cancellation-aware stage observed its own budget expiring.
		return flume.Warning(flume.CodeTimeout, stage, err)
	}
	if errors.Is(err, context.Canceled) {
		return flume.Critical(flume.CodeUnexpected, stage, err)
	}
	return flume.Warning(flume.CodeUnexpected, stage, err)
}

func isTimeout(err error) bool {
	var pe *flume.Error
	return errors.As(err, &pe) && pe.Code == flume.CodeTimeout
}
