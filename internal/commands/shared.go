package commands

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sdpower/clauditor-go/internal/calculator"
	"github.com/sdpower/clauditor-go/internal/catalog"
	"github.com/sdpower/clauditor-go/internal/config"
	"github.com/sdpower/clauditor-go/internal/engine"
	"github.com/sdpower/clauditor-go/internal/logging"
	"github.com/sdpower/clauditor-go/internal/pricing"
	"github.com/sdpower/clauditor-go/internal/store"
	"github.com/sdpower/clauditor-go/internal/tracker"
)

// globalFlags are the persistent flags shared by every subcommand.
type globalFlags struct {
	configPath  string
	dataPaths   []string
	debug       bool
	logFormat   string
	windowHours int
	timezone    string
	tokenLimit  int
	noColor     bool
}

func (g *globalFlags) register(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	flags.StringVar(&g.configPath, "config", config.DefaultPath(), "Path to the configuration file")
	flags.StringSliceVar(&g.dataPaths, "data-path", nil, "Claude projects directory (repeatable)")
	flags.BoolVar(&g.debug, "debug", false, "Enable debug logging")
	flags.StringVar(&g.logFormat, "log-format", "", "Log format (text, json)")
	flags.IntVar(&g.windowHours, "window-hours", 0, "Window length in hours")
	flags.StringVar(&g.timezone, "timezone", "", "Display timezone (IANA name or Local)")
	flags.IntVar(&g.tokenLimit, "token-limit", 0, "Token limit used for projections")
	flags.BoolVar(&g.noColor, "no-color", false, "Disable colored output")
}

// app is the resolved runtime configuration of one invocation.
type app struct {
	cfg      config.Config
	logger   *logrus.Logger
	roots    []string
	location *time.Location
	noColor  bool
}

// load reads the config file and applies flags that were set explicitly.
func (g *globalFlags) load(cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("window-hours") {
		cfg.General.WindowHours = g.windowHours
	}
	if flags.Changed("timezone") {
		cfg.General.Timezone = g.timezone
	}
	if flags.Changed("log-format") {
		cfg.General.LogFormat = g.logFormat
	}
	if flags.Changed("token-limit") {
		cfg.Output.TokenLimit = g.tokenLimit
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := logging.New(logging.Options{
		Level:  cfg.General.LogLevel,
		Debug:  g.debug,
		Format: cfg.General.LogFormat,
		Output: cmd.ErrOrStderr(),
	})
	if err != nil {
		return nil, err
	}

	location, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	roots := resolveRoots(g.dataPaths, cfg.General.Roots, os.Getenv("CLAUDE_CONFIG_DIR"), userHomeDir())
	logger.WithField("roots", roots).Debug("resolved source roots")

	return &app{
		cfg:      cfg,
		logger:   logger,
		roots:    roots,
		location: location,
		noColor:  g.noColor,
	}, nil
}

func userHomeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}

// resolveRoots picks the source roots: explicit flags, then configured
// roots, then CLAUDE_CONFIG_DIR entries, then the default Claude
// directories. Missing defaults are kept; the catalog reports them.
func resolveRoots(flagPaths, configured []string, envDirs, home string) []string {
	if len(flagPaths) > 0 {
		return lo.Uniq(flagPaths)
	}
	if len(configured) > 0 {
		return lo.Uniq(configured)
	}

	if envDirs != "" {
		var roots []string
		for _, dir := range strings.Split(envDirs, ",") {
			dir = strings.TrimSpace(dir)
			if dir == "" {
				continue
			}
			projects := filepath.Join(dir, "projects")
			if info, err := os.Stat(projects); err == nil && info.IsDir() {
				roots = append(roots, projects)
			} else {
				roots = append(roots, dir)
			}
		}
		if len(roots) > 0 {
			return lo.Uniq(roots)
		}
	}

	return []string{
		filepath.Join(home, ".claude", "projects"),
		filepath.Join(home, ".config", "claude", "projects"),
	}
}

// engineOptions tunes the pipeline for one command.
type engineOptions struct {
	maxFileAge time.Duration
	retention  time.Duration
	observer   engine.Observer
}

// buildEngine wires catalog, tracker, store and pricing into a coordinator.
func (a *app) buildEngine(opts engineOptions) (*engine.Coordinator, *calculator.Calculator, error) {
	pricingService, err := pricing.NewService(pricing.Options{
		FetchRemote: a.cfg.Pricing.FetchRemote,
		URL:         a.cfg.Pricing.URL,
		Logger:      a.logger,
	})
	if err != nil {
		return nil, nil, err
	}
	calc := calculator.New(pricingService, a.logger)

	cat := catalog.New(a.roots, catalog.FSLister{}, catalog.Options{
		MaxFileAge: opts.maxFileAge,
		Logger:     a.logger,
	})

	retry := tracker.DefaultRetryConfig()
	retry.MaxRetries = a.cfg.Engine.ReadRetries
	tr := tracker.New(tracker.OSReader{}, retry, a.logger)

	st := store.New(store.Options{
		WindowDuration: a.cfg.WindowDuration(),
		Retention:      opts.retention,
	}, calc)

	coord := engine.New(cat, tr, st, engine.Options{
		FutureSkew: a.cfg.FutureSkew(),
		Logger:     a.logger,
		Observer:   opts.observer,
	})
	return coord, calc, nil
}

// defaultEngineOptions keeps the file-age cutoff wide enough to list every
// file the active window can span: a window may start up to two window
// lengths before now. A zero cutoff stays disabled.
func (a *app) defaultEngineOptions() engineOptions {
	maxFileAge := a.cfg.MaxFileAge()
	if maxFileAge > 0 {
		maxFileAge = max(maxFileAge, 2*a.cfg.WindowDuration())
	}
	return engineOptions{
		maxFileAge: maxFileAge,
		retention:  a.cfg.Retention(),
	}
}
