// Package sink defines outputs for classified events.
package sink

import (
	"github.com/buildscope/buildscope/internal/engine"
)

// Sink receives events and writes them to an output destination.
type Sink interface {
	Write(e engine.Event) error
	Flush() error
	Close() error
	Name() string
}
