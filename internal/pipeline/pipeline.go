// Package pipeline feeds lines from a Source through a classification
// session and routes the resulting events to sinks.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/buildscope/buildscope/internal/engine"
	"github.com/buildscope/buildscope/internal/normalize"
	"github.com/buildscope/buildscope/internal/observability"
	"github.com/buildscope/buildscope/internal/rules"
	"github.com/buildscope/buildscope/internal/sink"
	"github.com/buildscope/buildscope/internal/source"
)

type Config struct {
	Source    source.Source
	Rules     *rules.RuleSet
	Sinks     []sink.Sink
	Reporter  engine.Reporter        // optional
	Metrics   *observability.Metrics // optional
	Logger    *slog.Logger           // optional
	SessionID string                 // optional, generated when empty
	Normalize *normalize.Options     // nil means normalize.DefaultOptions
}

type Result struct {
	SessionID  string
	Lines      uint64
	Events     map[rules.Severity]int
	Unfinished int
}

// Run classifies every line the source produces. The session is created
// before the source starts. Cancelling ctx stops the source only; lines it
// already emitted are still classified, and the session is finished once the
// channel closes.
func Run(ctx context.Context, cfg *Config) (Result, error) {
	if cfg.Source == nil {
		return Result{}, errors.New("pipeline: source is required")
	}
	if cfg.Rules == nil {
		return Result{}, errors.New("pipeline: rules are required")
	}
	if len(cfg.Sinks) == 0 {
		return Result{}, errors.New("pipeline: at least one sink is required")
	}

	res := Result{Events: map[rules.Severity]int{}}
	counter := engine.ReporterFunc(func(engine.Failure) { res.Unfinished++ })

	opts := []engine.Option{
		engine.WithReporter(engine.MultiReporter(counter, cfg.Reporter, metricsReporter(cfg.Metrics))),
	}
	if cfg.Logger != nil {
		opts = append(opts, engine.WithLogger(cfg.Logger))
	}
	if cfg.SessionID != "" {
		opts = append(opts, engine.WithSessionID(cfg.SessionID))
	}
	session := engine.NewSession(cfg.Rules, opts...)
	res.SessionID = session.SessionID()

	norm := normalize.DefaultOptions
	if cfg.Normalize != nil {
		norm = *cfg.Normalize
	}

	ch, err := cfg.Source.Start(ctx)
	if err != nil {
		closeSinks(cfg.Sinks)
		return res, fmt.Errorf("pipeline: start source: %w", err)
	}

	write := func(events []engine.Event) error {
		for _, e := range events {
			res.Events[e.Severity]++
			cfg.Metrics.ObserveEvent(e)
			for _, s := range cfg.Sinks {
				if err := s.Write(e); err != nil {
					return fmt.Errorf("pipeline: write to %s: %w", s.Name(), err)
				}
			}
		}
		return nil
	}

	for line := range ch {
		res.Lines++
		cfg.Metrics.ObserveLine()

		text := normalize.Apply(line.Text, norm).Normalized
		if err := write(session.Classify(text)); err != nil {
			go drain(ch)
			closeSinks(cfg.Sinks)
			return res, err
		}
	}

	if err := write(session.Finish()); err != nil {
		closeSinks(cfg.Sinks)
		return res, err
	}

	if err := closeSinks(cfg.Sinks); err != nil {
		return res, err
	}
	return res, nil
}

// metricsReporter avoids wrapping a nil *Metrics in a non-nil interface.
func metricsReporter(m *observability.Metrics) engine.Reporter {
	if m == nil {
		return nil
	}
	return m
}

// drain keeps the producer from blocking after the consumer gave up.
func drain(ch <-chan source.Line) {
	for range ch {
	}
}

func closeSinks(sinks []sink.Sink) error {
	var errs []error
	for _, s := range sinks {
		if err := s.Flush(); err != nil {
			errs = append(errs, fmt.Errorf("flush %s: %w", s.Name(), err))
		}
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}
