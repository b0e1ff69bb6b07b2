package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/buildscope/buildscope/internal/config"
	"github.com/buildscope/buildscope/internal/rules"
	"github.com/spf13/cobra"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	root := &cobra.Command{
		Use:          "buildscope",
		Short:        "Classify build tool output with declarative rules",
		SilenceUsage: true,
	}

	root.AddCommand(newRunCmd())
	root.AddCommand(newReplayCmd())
	root.AddCommand(newReportCmd())
	root.AddCommand(newValidateCmd())
	root.AddCommand(newVersionCmd())

	if err := root.Execute(); err != nil {
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	var exit *exitError
	if errors.As(err, &exit) {
		return exit.code
	}

	var verr *config.ValidationError
	var cerr *rules.CompileError
	switch {
	case errors.As(err, &verr):
		for _, msg := range verr.Problems {
			fmt.Fprintln(os.Stderr, msg)
		}
	case errors.As(err, &cerr):
		for _, msg := range cerr.Problems {
			fmt.Fprintln(os.Stderr, msg)
		}
	default:
		fmt.Fprintln(os.Stderr, err)
	}
	return 1
}

// exitError carries the exit status of a supervised command.
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("command exited with status %d", e.code)
}

func newValidateCmd() *cobra.Command {
	var configPath string
	var rulesPath string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a configuration and its rules document",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath, rulesPath)
			if err != nil {
				return err
			}
			rs, err := loadRules(cfg)
			if err != nil {
				return err
			}
			for _, problem := range rs.Lint() {
				fmt.Fprintln(cmd.ErrOrStderr(), "warning:", problem)
			}
			stats := rs.Stats()
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "config ok: %d phases (%d silent), %d phase rules, %d general rules\n",
				stats.Phases, stats.SilentPhases, stats.PhaseRules, stats.GenericRules)
			return err
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	cmd.Flags().StringVarP(&rulesPath, "rules", "r", "", "Path to rules document (overrides config)")

	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "version=%s commit=%s buildDate=%s\n", version, commit, buildDate)
		},
	}
}
