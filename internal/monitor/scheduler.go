package monitor

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sdpower/clauditor-go/internal/types"
)

// Ticker runs one engine pass.
type Ticker interface {
	Tick(ctx context.Context, now time.Time) (types.AggregateSnapshot, error)
}

// SnapshotHandler receives the outcome of every tick.
type SnapshotHandler func(snap types.AggregateSnapshot, err error)

type SchedulerOptions struct {
	// Interval between timer-driven ticks. Zero disables the timer.
	Interval time.Duration
	// Debounce delays a requested tick so that bursts collapse into one.
	Debounce time.Duration
	Clock    func() time.Time
	Logger   logrus.FieldLogger
}

// Scheduler decides when the engine ticks. Requests made while a tick is
// running are coalesced into a single pending tick.
type Scheduler struct {
	engine   Ticker
	handler  SnapshotHandler
	opts     SchedulerOptions
	requests chan struct{}
}

func NewScheduler(engine Ticker, handler SnapshotHandler, opts SchedulerOptions) *Scheduler {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if handler == nil {
		handler = func(types.AggregateSnapshot, error) {}
	}
	return &Scheduler{
		engine:   engine,
		handler:  handler,
		opts:     opts,
		requests: make(chan struct{}, 1),
	}
}

// Request asks for a tick. It never blocks.
func (s *Scheduler) Request() {
	select {
	case s.requests <- struct{}{}:
	default:
	}
}

// Run ticks once immediately, then on every timer fire or debounced request
// until ctx is done. A tick already running when ctx is cancelled completes
// and its snapshot is delivered; no tick starts afterwards.
func (s *Scheduler) Run(ctx context.Context) error {
	s.tick(ctx)

	var timerC <-chan time.Time
	if s.opts.Interval > 0 {
		ticker := time.NewTicker(s.opts.Interval)
		defer ticker.Stop()
		timerC = ticker.C
	}

	var debounce *time.Timer
	var debounceC <-chan time.Time
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timerC:
			s.tick(ctx)
		case <-s.requests:
			if s.opts.Debounce <= 0 {
				s.tick(ctx)
				continue
			}
			if debounceC == nil {
				debounce = time.NewTimer(s.opts.Debounce)
				debounceC = debounce.C
			}
		case <-debounceC:
			debounce, debounceC = nil, nil
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	// In-flight ticks are not interrupted by cancellation.
	snap, err := s.engine.Tick(context.WithoutCancel(ctx), s.opts.Clock())
	if err != nil {
		s.opts.Logger.WithError(err).Warn("tick failed")
	}
	s.handler(snap, err)
}
