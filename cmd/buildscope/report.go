package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/buildscope/buildscope/internal/logging"
	"github.com/buildscope/buildscope/internal/report"
	"github.com/buildscope/buildscope/internal/sink"
	"github.com/spf13/cobra"
)

func newReportCmd() *cobra.Command {
	var eventsPath string
	var failuresPath string
	var since string
	var format string
	var outPath string

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Summarize event and failure logs",
		RunE: func(cmd *cobra.Command, args []string) error {
			if eventsPath == "" && failuresPath == "" {
				return errors.New("at least one of --events or --failures is required")
			}

			reader := report.Reader{}
			if since != "" {
				dur, err := time.ParseDuration(since)
				if err != nil {
					return fmt.Errorf("invalid since duration: %w", err)
				}
				reader.Since = time.Now().Add(-dur)
			}

			var (
				events   []sink.EventRecord
				failures []logging.FailureRecord
				err      error
			)
			if eventsPath != "" {
				if events, err = reader.ReadEvents(eventsPath); err != nil {
					return err
				}
			}
			if failuresPath != "" {
				if failures, err = reader.ReadFailures(failuresPath); err != nil {
					return err
				}
			}

			summary := report.Summarize(events, failures)
			out := cmd.OutOrStdout()
			switch format {
			case "", "text":
				return report.WriteOutput(out, outPath, []byte(report.RenderText(summary)))
			case "md":
				return report.WriteOutput(out, outPath, []byte(report.RenderMarkdown(summary)))
			case "json":
				data, err := report.RenderJSON(summary)
				if err != nil {
					return err
				}
				return report.WriteOutput(out, outPath, data)
			default:
				return fmt.Errorf("unknown format %q", format)
			}
		},
	}

	cmd.Flags().StringVar(&eventsPath, "events", "", "Path to event log JSONL")
	cmd.Flags().StringVar(&failuresPath, "failures", "", "Path to failure log JSONL")
	cmd.Flags().StringVar(&since, "since", "", "Only include entries newer than this duration (e.g. 10m)")
	cmd.Flags().StringVar(&format, "format", "text", "Output format: text|md|json")
	cmd.Flags().StringVar(&outPath, "out", "", "Output file path (default stdout)")

	return cmd
}
