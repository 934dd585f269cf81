package monitor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/sdpower/clauditor-go/internal/output"
	"github.com/sdpower/clauditor-go/internal/types"
)

// Monitor drives repeated ticks and presents each snapshot, either in the
// live view or as a stream of lines.
type Monitor struct {
	engine  Ticker
	options Options
}

type Options struct {
	Interval time.Duration
	Debounce time.Duration
	// Roots are watched for changes when Notify is set.
	Roots  []string
	Notify bool
	// Live selects the interactive view.
	Live       bool
	TokenLimit int
	NoColor    bool
	Timezone   *time.Location
	Formatter  *output.Formatter
	Out        io.Writer
	Logger     logrus.FieldLogger
}

func New(engine Ticker, opts Options) *Monitor {
	if opts.Interval == 0 {
		opts.Interval = 5 * time.Second
	}
	if opts.Timezone == nil {
		opts.Timezone = time.Local
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Formatter == nil {
		opts.Formatter = output.NewFormatter(output.FormatterOptions{
			NoColor:    opts.NoColor,
			Timezone:   opts.Timezone,
			TokenLimit: opts.TokenLimit,
		})
	}
	return &Monitor{engine: engine, options: opts}
}

// IsInteractive reports whether f is a terminal.
func IsInteractive(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Start runs until ctx is done or the live view is closed.
func (m *Monitor) Start(ctx context.Context) error {
	if m.options.Live {
		return m.startTUI(ctx)
	}
	return m.startStream(ctx)
}

func (m *Monitor) startStream(ctx context.Context) error {
	handler := func(snap types.AggregateSnapshot, err error) {
		if err != nil {
			fmt.Fprintf(m.options.Out, "%s error: %v\n", time.Now().In(m.options.Timezone).Format("15:04:05"), err)
			return
		}
		line, ferr := m.options.Formatter.FormatLine(snap)
		if ferr != nil {
			m.options.Logger.WithError(ferr).Error("cannot format snapshot")
			return
		}
		fmt.Fprintln(m.options.Out, line)
	}
	return m.run(ctx, m.newScheduler(handler))
}

func (m *Monitor) startTUI(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var p *tea.Program
	scheduler := m.newScheduler(func(snap types.AggregateSnapshot, err error) {
		p.Send(SnapshotMsg{Snapshot: snap, Err: err})
	})
	model := NewLiveModel(LiveConfig{
		TokenLimit:      m.options.TokenLimit,
		RefreshInterval: m.options.Interval,
		NoColor:         m.options.NoColor,
		Timezone:        m.options.Timezone,
	}, scheduler.Request)
	p = tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// Closing the view stops the engine loop.
		defer cancel()
		_, err := p.Run()
		if errors.Is(err, tea.ErrProgramKilled) {
			return nil
		}
		return err
	})
	g.Go(func() error { return m.run(gctx, scheduler) })
	return g.Wait()
}

func (m *Monitor) newScheduler(handler SnapshotHandler) *Scheduler {
	return NewScheduler(m.engine, handler, SchedulerOptions{
		Interval: m.options.Interval,
		Debounce: m.options.Debounce,
		Logger:   m.options.Logger,
	})
}

// run ticks until ctx is done. The notifier, when enabled, runs beside the
// scheduler and only requests ticks.
func (m *Monitor) run(ctx context.Context, scheduler *Scheduler) error {
	g, gctx := errgroup.WithContext(ctx)
	if m.options.Notify && len(m.options.Roots) > 0 {
		notifier, err := NewNotifier(m.options.Roots, m.options.Logger)
		if err != nil {
			m.options.Logger.WithError(err).Warn("filesystem notifications unavailable, using timer only")
		} else {
			g.Go(func() error { return notifier.Run(gctx, scheduler.Request) })
		}
	}
	g.Go(func() error { return scheduler.Run(gctx) })
	return g.Wait()
}
