package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

type ValidationError struct {
	Problems []string
}

func (v *ValidationError) Add(format string, args ...any) {
	v.Problems = append(v.Problems, fmt.Sprintf(format, args...))
}

func (v *ValidationError) Error() string {
	return fmt.Sprintf("%d validation error(s)", len(v.Problems))
}

func (c *Config) Validate() error {
	v := &ValidationError{}

	if c.ConfigVersion != 1 {
		v.Add("configVersion must be 1")
	}

	if c.Rules == "" {
		v.Add("rules is required")
	} else if err := requireFile(c.resolvePath(c.Rules)); err != nil {
		v.Add("rules invalid: %v", err)
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		v.Add("logging.level must be debug|info|warn|error")
	}

	switch c.Logging.Format {
	case FormatText, FormatJSON:
	default:
		v.Add("logging.format must be text|json")
	}

	switch c.Logging.Color {
	case ColorAuto, ColorAlways, ColorNever:
	default:
		v.Add("logging.color must be auto|always|never")
	}

	if c.Logging.EventLog != "" {
		if err := ensureWritable(c.resolvePath(c.Logging.EventLog)); err != nil {
			v.Add("logging.eventLog invalid: %v", err)
		}
	}
	if c.Logging.FailureLog != "" {
		if err := ensureWritable(c.resolvePath(c.Logging.FailureLog)); err != nil {
			v.Add("logging.failureLog invalid: %v", err)
		}
	}

	if c.Metrics.Enabled {
		if err := validateListen(c.Metrics.Listen); err != nil {
			v.Add("metrics.listen invalid: %v", err)
		}
	}

	if c.Source.PollInterval <= 0 {
		v.Add("source.pollInterval must be > 0")
	}
	if c.Source.BufferSize <= 0 {
		v.Add("source.bufferSize must be > 0")
	}

	if len(v.Problems) > 0 {
		sort.Strings(v.Problems)
		return v
	}
	return nil
}

func validateListen(addr string) error {
	if strings.TrimSpace(addr) == "" {
		return errors.New("address is required")
	}
	if _, err := net.ResolveTCPAddr("tcp", addr); err != nil {
		return err
	}
	return nil
}

func requireFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	return nil
}

// ensureWritable checks that a log file can be created next to path. Missing
// parent directories are fine; they are created when the log is opened.
func ensureWritable(path string) error {
	dir := filepath.Dir(path)
	for {
		info, err := os.Stat(dir)
		if err == nil {
			if !info.IsDir() {
				return fmt.Errorf("%s is not a directory", dir)
			}
			break
		}
		if !errors.Is(err, os.ErrNotExist) {
			return err
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return err
		}
		dir = parent
	}

	file, err := os.CreateTemp(dir, "buildscope-validate-*")
	if err != nil {
		return err
	}
	name := file.Name()
	if err := file.Close(); err != nil {
		return err
	}
	return os.Remove(name)
}
