package commands

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sdpower/clauditor-go/internal/metrics"
	"github.com/sdpower/clauditor-go/internal/monitor"
	"github.com/sdpower/clauditor-go/internal/output"
)

type watchFlags struct {
	interval    time.Duration
	debounce    time.Duration
	metricsAddr string
	format      string
	plain       bool
	noNotify    bool
}

func (w *watchFlags) register(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.DurationVar(&w.interval, "interval", 0, "Refresh interval (default from config, 5s)")
	flags.DurationVar(&w.debounce, "debounce", 0, "Delay that collapses bursts of file changes (default from config, 200ms)")
	flags.StringVar(&w.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	flags.StringVarP(&w.format, "format", "f", "table", "Streamed output format when not on a terminal (table, json)")
	flags.BoolVar(&w.plain, "plain", false, "Stream one line per refresh even on a terminal")
	flags.BoolVar(&w.noNotify, "no-notify", false, "Disable filesystem notifications and rely on the timer")
}

func newWatchCommand(g *globalFlags) *cobra.Command {
	w := &watchFlags{}
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Monitor the current window in real time",
		Long:  `Re-read the Claude usage logs whenever they change or the refresh interval elapses, and show the active window live.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, g, w)
		},
	}
	w.register(cmd)
	return cmd
}

func runWatch(cmd *cobra.Command, g *globalFlags, w *watchFlags) error {
	outFormat, err := output.ParseFormat(w.format)
	if err != nil {
		return err
	}
	a, err := g.load(cmd)
	if err != nil {
		return err
	}

	interval := a.cfg.Interval()
	if cmd.Flags().Changed("interval") {
		interval = w.interval
	}
	debounce := a.cfg.Debounce()
	if cmd.Flags().Changed("debounce") {
		debounce = w.debounce
	}
	metricsAddr := a.cfg.Metrics.Listen
	if cmd.Flags().Changed("metrics-addr") {
		metricsAddr = w.metricsAddr
	}

	var m *metrics.Metrics
	if metricsAddr != "" {
		m = metrics.New()
	}

	opts := a.defaultEngineOptions()
	if m != nil {
		opts.observer = m
	}
	coord, _, err := a.buildEngine(opts)
	if err != nil {
		return err
	}

	if m != nil {
		srv := startMetricsServer(metricsAddr, m, a.logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				a.logger.WithError(err).Warn("metrics server shutdown")
			}
		}()
	}

	live := !w.plain && monitor.IsInteractive(os.Stdout)
	mon := monitor.New(coord, monitor.Options{
		Interval:   interval,
		Debounce:   debounce,
		Roots:      a.roots,
		Notify:     a.cfg.Watch.Notify && !w.noNotify,
		Live:       live,
		TokenLimit: a.cfg.Output.TokenLimit,
		NoColor:    a.noColor,
		Timezone:   a.location,
		Formatter: output.NewFormatter(output.FormatterOptions{
			Format:     outFormat,
			NoColor:    a.noColor,
			Timezone:   a.location,
			TokenLimit: a.cfg.Output.TokenLimit,
		}),
		Out:    cmd.OutOrStdout(),
		Logger: a.logger,
	})
	// The root context is cancelled on interrupt; the tick in flight still
	// completes.
	return mon.Start(cmd.Context())
}

func startMetricsServer(addr string, m *metrics.Metrics, logger logrus.FieldLogger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.WithField("addr", addr).Info("serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("metrics server error")
		}
	}()
	return srv
}
