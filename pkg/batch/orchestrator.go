// Package batch runs a bounded, strictly sequential series of generation calls
// and collects their outputs.
package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/studio-engine/pkg/apierror"
	"github.com/Sternrassler/studio-engine/pkg/credential"
	"github.com/Sternrassler/studio-engine/pkg/logging"
)

// Prometheus metrics for batch runs.
var (
	batchOutputsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "studio_batch_outputs_total",
		Help: "Per-index results of batch runs (success, failure)",
	}, []string{"result"})

	batchRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "studio_batch_runs_total",
		Help: "Finished batch runs by outcome",
	}, []string{"outcome"})

	batchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "studio_batch_duration_seconds",
		Help:    "Wall-clock duration of batch runs",
		Buckets: []float64{10, 30, 60, 120, 300, 600, 1200, 3600},
	})
)

var (
	// ErrBusy is returned when a batch is started while another one runs.
	ErrBusy = errors.New("a batch is already running")

	// ErrTimeout is the abort reason when Config.Timeout elapses.
	ErrTimeout = errors.New("batch timeout exceeded")

	// ErrInvalidCount is returned for a batch of fewer than one output.
	ErrInvalidCount = errors.New("count must be at least 1")
)

// Outcome is the terminal state of a run.
type Outcome string

const (
	// OutcomeCompleted covers runs that reached the target or were stopped.
	OutcomeCompleted Outcome = "completed"

	// OutcomeAborted covers runs halted by credential exhaustion, a safety
	// rejection, an unusable primary credential or the batch timeout.
	OutcomeAborted Outcome = "aborted"

	// OutcomeNotStarted covers runs rejected before any call.
	OutcomeNotStarted Outcome = "not_started"
)

// Result describes a finished run.
type Result struct {
	Outcome   Outcome `json:"outcome"`
	Produced  int     `json:"produced"`
	Cancelled bool    `json:"cancelled"`
	Err       error   `json:"-"`
}

// Reason returns a short machine-readable reason for an aborted run.
func (r Result) Reason() string {
	switch {
	case r.Outcome != OutcomeAborted:
		return ""
	case errors.Is(r.Err, ErrTimeout):
		return "timeout"
	default:
		return string(credential.KindOf(r.Err))
	}
}

// Session counts outputs against the running target.
type Session struct {
	Target   int `json:"target"`
	Achieved int `json:"achieved"`
}

// Progress returns the completion percentage (0-100).
func (s Session) Progress() float64 {
	if s.Target <= 0 {
		return 0
	}
	p := float64(s.Achieved) / float64(s.Target) * 100
	if p > 100 {
		p = 100
	}
	return p
}

// Token is a cooperative cancellation flag shared between a run and Stop.
type Token struct {
	cancelled atomic.Bool
	once      sync.Once
	done      chan struct{}
}

// NewToken creates an uncancelled token.
func NewToken() *Token {
	return &Token{done: make(chan struct{})}
}

// Cancel marks the token cancelled. It is safe to call more than once.
func (t *Token) Cancel() {
	t.once.Do(func() {
		t.cancelled.Store(true)
		close(t.done)
	})
}

// Cancelled reports whether Cancel was called.
func (t *Token) Cancelled() bool {
	return t.cancelled.Load()
}

// Done is closed once the token is cancelled.
func (t *Token) Done() <-chan struct{} {
	return t.done
}

// Params describes one run over request type R.
type Params[R any] struct {
	// Count is the number of outputs to produce (N >= 1).
	Count int

	// Delay is the pause between consecutive calls.
	Delay time.Duration

	// Continue appends to the existing collection and raises the target
	// instead of starting fresh.
	Continue bool

	// Precheck validates inputs before anything changes.
	Precheck func() error

	// Prepare runs once after the session is set up, before the first call.
	Prepare func(ctx context.Context, status credential.StatusFunc) error

	// Build maps an index to its request.
	Build func(index int) R

	// Execute performs one request.
	Execute func(ctx context.Context, req R, status credential.StatusFunc) (Output, error)

	// Reservation, when set, is the token returned by Reserve. The run
	// consumes it instead of claiming the orchestrator itself.
	Reservation *Token
}

// Config holds orchestrator configuration.
type Config struct {
	// Sleep waits out the delay between calls (default: credential.Sleep).
	Sleep credential.SleepFunc

	// Timeout bounds the wall-clock time of one run (0: unbounded).
	Timeout time.Duration
}

// DefaultConfig returns a default orchestrator configuration.
func DefaultConfig() Config {
	return Config{Sleep: credential.Sleep}
}

// Orchestrator owns the output collection and runs at most one batch at a
// time.
type Orchestrator struct {
	outputs *Collection
	config  Config
	logger  zerolog.Logger

	mu       sync.Mutex
	running  bool
	reserved bool
	token    *Token
	session  Session
	progress string
	last     *Result
}

// New creates an orchestrator appending to outputs. A nil collection gets a
// new one.
func New(outputs *Collection, config Config) *Orchestrator {
	if outputs == nil {
		outputs = NewCollection()
	}
	if config.Sleep == nil {
		config.Sleep = credential.Sleep
	}
	if config.Timeout < 0 {
		config.Timeout = 0
	}
	return &Orchestrator{
		outputs: outputs,
		config:  config,
		logger:  logging.NewLogger(logging.ComponentBatch),
	}
}

// Outputs returns the output collection.
func (o *Orchestrator) Outputs() *Collection {
	return o.outputs
}

// Session returns the current target and achieved counts.
func (o *Orchestrator) Session() Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.session
}

// Progress returns the latest progress text.
func (o *Orchestrator) Progress() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.progress
}

// Running reports whether a batch is in progress.
func (o *Orchestrator) Running() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

// LastResult returns the result of the most recent finished run.
func (o *Orchestrator) LastResult() (Result, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.last == nil {
		return Result{}, false
	}
	return *o.last, true
}

// Stop cancels the running batch. A call in flight finishes and its output is
// kept; no further call starts. Stop reports whether a batch was running.
func (o *Orchestrator) Stop() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.running || o.token == nil {
		return false
	}
	o.token.Cancel()
	return true
}

// Reserve claims the orchestrator for a run that starts later, for callers
// that launch Run in the background. Stop applies to the reserved run right
// away. Pass the token as Params.Reservation, or hand it back with Release
// if the run never starts.
func (o *Orchestrator) Reserve() (*Token, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return nil, ErrBusy
	}
	o.running = true
	o.reserved = true
	o.token = NewToken()
	return o.token, nil
}

// Release drops a reservation that was not consumed by Run.
func (o *Orchestrator) Release(tok *Token) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.reserved && o.token == tok {
		o.running = false
		o.reserved = false
		o.token = nil
	}
}

// Reset clears outputs and session counters. It fails while a batch runs.
func (o *Orchestrator) Reset() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return ErrBusy
	}
	o.outputs.Clear()
	o.session = Session{}
	o.progress = ""
	o.last = nil
	return nil
}

// Restore replaces the collection with outputs loaded from elsewhere and
// counts them as an achieved session, so a continuation reports progress
// over the whole collection. It fails while a batch runs.
func (o *Orchestrator) Restore(outputs []Output) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return ErrBusy
	}
	o.outputs.Clear()
	for _, out := range outputs {
		o.outputs.Append(out)
	}
	o.session = Session{Target: len(outputs), Achieved: len(outputs)}
	o.progress = ""
	o.last = nil
	return nil
}

// SetProgress replaces the progress text.
func (o *Orchestrator) SetProgress(text string) {
	o.mu.Lock()
	o.progress = text
	o.mu.Unlock()
}

func (o *Orchestrator) begin(reservation *Token) (*Token, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if reservation != nil {
		if !o.reserved || o.token != reservation {
			return nil, false
		}
		o.reserved = false
		return reservation, true
	}
	if o.running {
		return nil, false
	}
	o.running = true
	o.token = NewToken()
	return o.token, true
}

func (o *Orchestrator) startSession(count int, continuation bool) Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	if continuation {
		o.session.Target += count
	} else {
		o.outputs.Clear()
		o.session = Session{Target: count}
	}
	return o.session
}

func (o *Orchestrator) achieved() Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.session.Achieved++
	return o.session
}

func (o *Orchestrator) finish(res Result, text string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.running = false
	o.token = nil
	o.last = &res
	if text != "" {
		o.progress = text
	}
}

// Run executes p on o. Calls are strictly sequential; a per-index failure is
// logged and skipped unless it is an all-credentials-failed, safety or
// unusable-primary error, which aborts the run. Stop and cancellation of ctx
// end the run gracefully.
func Run[R any](ctx context.Context, o *Orchestrator, p Params[R]) Result {
	if p.Count < 1 {
		if p.Reservation != nil {
			o.Release(p.Reservation)
		}
		return Result{Outcome: OutcomeNotStarted, Err: ErrInvalidCount}
	}

	tok, ok := o.begin(p.Reservation)
	if !ok {
		return Result{Outcome: OutcomeNotStarted, Err: ErrBusy}
	}

	if p.Precheck != nil {
		if err := p.Precheck(); err != nil {
			res := Result{Outcome: OutcomeNotStarted, Err: err}
			batchRunsTotal.WithLabelValues(string(res.Outcome)).Inc()
			o.finish(res, "")
			return res
		}
	}

	// Stopped while reserved: nothing changes, not even a fresh run's
	// collection.
	if tok.Cancelled() {
		res := Result{Outcome: OutcomeCompleted, Cancelled: true}
		batchRunsTotal.WithLabelValues(string(res.Outcome)).Inc()
		o.logger.Info().Int("count", p.Count).Msg("Batch stopped before the first call")
		o.finish(res, "Generation stopped.")
		return res
	}

	start := time.Now()
	runCtx, cancel := ctx, context.CancelFunc(func() {})
	if o.config.Timeout > 0 {
		runCtx, cancel = context.WithTimeoutCause(ctx, o.config.Timeout, ErrTimeout)
	}
	defer cancel()

	session := o.startSession(p.Count, p.Continue)
	o.logger.Info().
		Int("count", p.Count).
		Int("target", session.Target).
		Int("achieved", session.Achieved).
		Bool("continue", p.Continue).
		Dur("delay", p.Delay).
		Msg("Starting batch")

	res := Result{Outcome: OutcomeCompleted}
	stopped := func() bool {
		return tok.Cancelled() || runCtx.Err() != nil
	}

	if p.Prepare != nil {
		if err := p.Prepare(runCtx, o.SetProgress); err != nil && !stopped() {
			res = Result{Outcome: OutcomeAborted, Err: err}
		}
	}

	for i := 0; i < p.Count && res.Outcome == OutcomeCompleted; i++ {
		if stopped() {
			break
		}

		prefix := fmt.Sprintf("Image %d/%d", i+1, p.Count)
		o.SetProgress(fmt.Sprintf("Generating image %d of %d...", i+1, p.Count))

		req := p.Build(i)
		out, err := p.Execute(runCtx, req, func(status string) {
			o.SetProgress(prefix + " | " + status)
		})

		if err == nil {
			o.outputs.Append(out)
			res.Produced++
			s := o.achieved()
			batchOutputsTotal.WithLabelValues("success").Inc()
			o.logger.Debug().
				Int("index", i).
				Int("achieved", s.Achieved).
				Int("target", s.Target).
				Msg("Output produced")
		} else {
			batchOutputsTotal.WithLabelValues("failure").Inc()
			if fatal(err) {
				o.logger.Error().
					Err(err).
					Int("index", i).
					Str(logging.FieldErrorKind, string(credential.KindOf(err))).
					Msg("Batch aborted")
				res.Outcome = OutcomeAborted
				res.Err = err
				break
			}
			if !stopped() {
				o.logger.Warn().
					Err(err).
					Int("index", i).
					Str(logging.FieldErrorClass, string(apierror.ClassOf(err))).
					Msg("Output failed, continuing")
			}
		}

		if stopped() {
			break
		}

		if i < p.Count-1 && p.Delay > 0 {
			o.SetProgress(fmt.Sprintf("Waiting %s before the next image...", p.Delay))
			o.wait(runCtx, tok, p.Delay)
		}
	}

	if res.Outcome == OutcomeCompleted && errors.Is(context.Cause(runCtx), ErrTimeout) {
		res.Outcome = OutcomeAborted
		res.Err = ErrTimeout
	}
	if res.Outcome == OutcomeCompleted && stopped() {
		res.Cancelled = true
	}

	text := "Generation complete!"
	switch {
	case res.Outcome == OutcomeAborted:
		text = "Generation aborted: " + res.Err.Error()
	case res.Cancelled:
		text = "Generation stopped."
	}

	batchRunsTotal.WithLabelValues(string(res.Outcome)).Inc()
	batchDuration.Observe(time.Since(start).Seconds())

	final := o.Session()
	o.logger.Info().
		Str("outcome", string(res.Outcome)).
		Int("produced", res.Produced).
		Int("achieved", final.Achieved).
		Int("target", final.Target).
		Bool("cancelled", res.Cancelled).
		Dur("duration", time.Since(start)).
		Msg("Batch finished")

	o.finish(res, text)
	return res
}

// wait sleeps for d unless the token is cancelled or ctx ends first.
func (o *Orchestrator) wait(ctx context.Context, tok *Token, d time.Duration) {
	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-tok.Done():
			cancel()
		case <-waitCtx.Done():
		}
	}()
	_ = o.config.Sleep(waitCtx, d)
}

// fatal reports whether err ends the whole run.
func fatal(err error) bool {
	switch credential.KindOf(err) {
	case credential.KindAllFailed, credential.KindSafety, credential.KindPrimaryUnusable:
		return true
	}
	return false
}
