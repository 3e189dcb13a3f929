package poller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"mintwatch/internal/metrics"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// State is the lifecycle position of a poll run.
type State int32

const (
	StateIdle State = iota
	StatePolling
	StateReady
	StateCancelled
	StateExhausted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePolling:
		return "polling"
	case StateReady:
		return "ready"
	case StateCancelled:
		return "cancelled"
	case StateExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

var ErrBudgetExhausted = errors.New("poll budget exhausted")

// Check evaluates the readiness predicate. An error counts as not ready.
type Check func(ctx context.Context) (bool, error)

// OnReady runs synchronously on the polling goroutine after a positive
// check. Returning true ends the run in StateReady; false resumes polling
// at the next interval. It may call h.Cancel.
type OnReady func(ctx context.Context, h *Handle) bool

// NewTimerFunc returns a channel that fires after d and a stop function.
type NewTimerFunc func(d time.Duration) (<-chan time.Time, func() bool)

type Options struct {
	Interval  time.Duration
	MaxChecks int // 0 means unbounded
	NewTimer  NewTimerFunc
	Logger    *zap.Logger
	Metrics   *metrics.Registry
}

type Poller struct {
	interval  time.Duration
	maxChecks int
	newTimer  NewTimerFunc
	log       *zap.Logger
	metrics   *metrics.Registry
}

func New(opts Options) *Poller {
	p := &Poller{
		interval:  opts.Interval,
		maxChecks: opts.MaxChecks,
		newTimer:  opts.NewTimer,
		log:       opts.Logger,
		metrics:   opts.Metrics,
	}
	if p.newTimer == nil {
		p.newTimer = func(d time.Duration) (<-chan time.Time, func() bool) {
			t := time.NewTimer(d)
			return t.C, t.Stop
		}
	}
	if p.log == nil {
		p.log = zap.NewNop()
	}
	return p
}

// schedule yields the delay before each check after the first.
func (p *Poller) schedule() backoff.BackOff {
	var b backoff.BackOff = backoff.NewConstantBackOff(p.interval)
	if p.maxChecks > 0 {
		b = backoff.WithMaxRetries(b, uint64(p.maxChecks-1))
	}
	b.Reset()
	return b
}

// Start checks immediately and then once per interval on a new goroutine.
func (p *Poller) Start(ctx context.Context, check Check, onReady OnReady) *Handle {
	runCtx, cancel := context.WithCancel(ctx)
	h := &Handle{
		cancel: cancel,
		done:   make(chan struct{}),
	}
	h.setState(StateIdle, p.metrics)
	go p.run(runCtx, h, check, onReady)
	return h
}

// Run is Start followed by Wait.
func (p *Poller) Run(ctx context.Context, check Check, onReady OnReady) (State, error) {
	return p.Start(ctx, check, onReady).Wait()
}

func (p *Poller) run(ctx context.Context, h *Handle, check Check, onReady OnReady) {
	defer h.cancel()
	defer close(h.done)

	schedule := p.schedule()
	h.setState(StatePolling, p.metrics)

	for {
		if err := ctx.Err(); err != nil {
			h.finish(StateCancelled, err, p.metrics)
			return
		}

		ready := p.checkOnce(ctx, h, check)
		if err := ctx.Err(); err != nil {
			h.finish(StateCancelled, err, p.metrics)
			return
		}

		if ready {
			h.setState(StateReady, p.metrics)
			if onReady == nil || onReady(ctx, h) {
				h.finish(StateReady, nil, p.metrics)
				return
			}
			if err := ctx.Err(); err != nil {
				h.finish(StateCancelled, err, p.metrics)
				return
			}
			h.setState(StatePolling, p.metrics)
		}

		wait := schedule.NextBackOff()
		if wait == backoff.Stop {
			p.log.Warn("readiness poll budget exhausted", zap.Int("checks", h.Checks()))
			h.finish(StateExhausted, ErrBudgetExhausted, p.metrics)
			return
		}

		fired, stop := p.newTimer(wait)
		select {
		case <-ctx.Done():
			stop()
			h.finish(StateCancelled, ctx.Err(), p.metrics)
			return
		case <-fired:
		}
	}
}

func (p *Poller) checkOnce(ctx context.Context, h *Handle, check Check) bool {
	n := h.checks.Add(1)
	ready, err := check(ctx)
	if err != nil {
		p.metrics.IncReadiness("error")
		p.log.Warn("readiness check failed, treating as not ready", zap.Int64("check", n), zap.Error(err))
		return false
	}
	if !ready {
		p.metrics.IncReadiness("not_ready")
		p.log.Debug("not ready", zap.Int64("check", n))
		return false
	}
	p.metrics.IncReadiness("ready")
	p.log.Info("ready", zap.Int64("check", n))
	return true
}

// Handle controls a running poll.
type Handle struct {
	cancel context.CancelFunc
	done   chan struct{}
	state  atomic.Int32
	checks atomic.Int64

	mu  sync.Mutex
	err error
}

// Cancel stops polling. It never blocks and may be called from OnReady.
func (h *Handle) Cancel() {
	h.cancel()
}

func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the run ends and returns its final state.
func (h *Handle) Wait() (State, error) {
	<-h.done
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.State(), h.err
}

func (h *Handle) State() State {
	return State(h.state.Load())
}

// Checks reports how many readiness checks have started.
func (h *Handle) Checks() int {
	return int(h.checks.Load())
}

func (h *Handle) setState(s State, m *metrics.Registry) {
	h.state.Store(int32(s))
	m.SetPollerState(int(s))
}

func (h *Handle) finish(s State, err error, m *metrics.Registry) {
	h.mu.Lock()
	h.err = err
	h.mu.Unlock()
	h.setState(s, m)
}
