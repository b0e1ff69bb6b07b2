package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/buildscope/buildscope/internal/config"
	"github.com/buildscope/buildscope/internal/logging"
	"github.com/buildscope/buildscope/internal/observability"
	"github.com/buildscope/buildscope/internal/pipeline"
	"github.com/buildscope/buildscope/internal/rules"
	"github.com/buildscope/buildscope/internal/sink"
	"github.com/buildscope/buildscope/internal/source"
	"github.com/google/uuid"
	"github.com/muesli/termenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

type sessionFlags struct {
	configPath string
	rulesPath  string
	verbose    bool
	strict     bool
}

func (f *sessionFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.configPath, "config", "c", "", "Path to config file")
	cmd.Flags().StringVarP(&f.rulesPath, "rules", "r", "", "Path to rules document (overrides config)")
	cmd.Flags().BoolVarP(&f.verbose, "verbose", "v", false, "Show phase transitions")
	cmd.Flags().BoolVar(&f.strict, "strict", false, "Fail when a rule is left unfinished")
}

func newRunCmd() *cobra.Command {
	var flags sessionFlags
	var dir string

	cmd := &cobra.Command{
		Use:   "run -- <command> [args...]",
		Short: "Run a build command and classify its output",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags.configPath, flags.rulesPath)
			if err != nil {
				return err
			}
			rs, err := loadRules(cfg)
			if err != nil {
				return err
			}

			src := source.NewExecSource(args[0], args[1:], cfg.Source.BufferSize)
			src.SetDir(dir)
			if err := runSession(cmd.Context(), cfg, rs, src, flags); err != nil {
				return err
			}
			return commandExit(src.ExitErr())
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&dir, "dir", "", "Working directory for the command")

	return cmd
}

func newReplayCmd() *cobra.Command {
	var flags sessionFlags
	var filePath string
	var follow bool

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Classify a saved or growing build log",
		RunE: func(cmd *cobra.Command, args []string) error {
			if filePath == "" {
				return errors.New("file path is required")
			}
			cfg, err := loadConfig(flags.configPath, flags.rulesPath)
			if err != nil {
				return err
			}
			rs, err := loadRules(cfg)
			if err != nil {
				return err
			}

			var src source.Source
			if filePath == "-" {
				src = source.NewReaderSource("stdin", cmd.InOrStdin(), cfg.Source.BufferSize)
			} else {
				src = source.NewFileSource(filePath, follow, cfg.Source.PollInterval.Std(), cfg.Source.BufferSize)
			}
			return runSession(cmd.Context(), cfg, rs, src, flags)
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVarP(&filePath, "file", "f", "", "Log file to replay, or - for stdin")
	cmd.Flags().BoolVar(&follow, "follow", false, "Keep reading as the file grows")

	return cmd
}

func loadConfig(configPath, rulesPath string) (*config.Config, error) {
	var cfg *config.Config
	switch {
	case configPath != "":
		loaded, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	case rulesPath != "":
		cfg = config.Default(rulesPath)
	default:
		return nil, errors.New("config path or --rules is required")
	}

	if rulesPath != "" {
		abs, err := filepath.Abs(rulesPath)
		if err != nil {
			return nil, err
		}
		cfg.Rules = abs
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadRules(cfg *config.Config) (*rules.RuleSet, error) {
	doc, err := rules.LoadDocument(cfg.ResolvePath(cfg.Rules))
	if err != nil {
		return nil, err
	}
	return rules.Compile(doc)
}

func runSession(ctx context.Context, cfg *config.Config, rs *rules.RuleSet, src source.Source, flags sessionFlags) error {
	logger := logging.Init(cfg.Logging.Format, logging.ParseLevel(cfg.Logging.Level))
	sessionID := uuid.NewString()
	for _, problem := range rs.Lint() {
		logger.Warn("rule message can never render", "problem", problem)
	}

	sinks := []sink.Sink{
		sink.NewTerminalSink(os.Stdout, useColor(cfg.Logging.Color), cfg.Logging.Verbose || flags.verbose),
	}
	if cfg.Logging.EventLog != "" {
		fileSink, err := sink.NewFileSink(cfg.ResolvePath(cfg.Logging.EventLog), config.FormatJSON, sessionID)
		if err != nil {
			return err
		}
		sinks = append(sinks, fileSink)
	}

	pcfg := &pipeline.Config{
		Source:    src,
		Rules:     rs,
		Sinks:     sinks,
		Logger:    logger,
		SessionID: sessionID,
	}

	if cfg.Logging.FailureLog != "" {
		failures, closer, err := logging.OpenFailureLog(cfg.ResolvePath(cfg.Logging.FailureLog))
		if err != nil {
			return err
		}
		defer func() { _ = closer() }()
		pcfg.Reporter = failures
	}

	metrics, metricsSrv := startMetricsServer(cfg)
	defer func() {
		if metricsSrv != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsSrv.Shutdown(shutdownCtx)
		}
	}()
	pcfg.Metrics = metrics

	signalCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Debug("session started", "session", sessionID, "source", src.Name())
	res, err := pipeline.Run(signalCtx, pcfg)
	outcome := "ok"
	switch {
	case err != nil:
		outcome = "error"
	case res.Unfinished > 0:
		outcome = "unfinished"
	}
	metrics.ObserveSession(src.Name(), outcome)
	if err != nil {
		return err
	}

	logger.Info("session finished",
		"session", res.SessionID,
		"source", src.Name(),
		"lines", res.Lines,
		"errors", res.Events[rules.SeverityError],
		"unfinished", res.Unfinished,
	)
	if flags.strict && res.Unfinished > 0 {
		return fmt.Errorf("%d rule(s) left unfinished", res.Unfinished)
	}
	return nil
}

func startMetricsServer(cfg *config.Config) (*observability.Metrics, *http.Server) {
	if !cfg.Metrics.Enabled {
		return nil, nil
	}

	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))

	srv := &http.Server{Addr: cfg.Metrics.Listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server", "listen", cfg.Metrics.Listen, "err", err)
		}
	}()
	return metrics, srv
}

func useColor(mode string) bool {
	switch mode {
	case config.ColorAlways:
		return true
	case config.ColorNever:
		return false
	default:
		return termenv.NewOutput(os.Stdout).EnvColorProfile() != termenv.Ascii
	}
}

// commandExit converts the supervised command's exit status into an
// exitError so main can mirror it.
func commandExit(err error) error {
	if err == nil {
		return nil
	}
	var exit *exec.ExitError
	if errors.As(err, &exit) {
		code := exit.ExitCode()
		if code <= 0 {
			code = 1
		}
		return &exitError{code: code}
	}
	return fmt.Errorf("wait for command: %w", err)
}
