// Package research runs the four-phase research pipeline: cache check,
// query optimization and search, parallel scraping, and synthesis. Each
// run streams typed events so the presentation layer can render
// progress while tokens arrive.
package research

import (
	"time"

	"webscout/internal/history"
)

// Event is one item in a pipeline's event stream. Consumers switch on
// the concrete type.
type Event interface {
	isEvent()
}

// Debug carries diagnostic text the UI may show or drop.
type Debug struct {
	Message string
}

// Progress reports phase advancement. Clear asks the UI to drop any
// progress display.
type Progress struct {
	Phase   string
	Current int
	Total   int
	Failed  int
	Clear   bool
}

// Content is a chunk of streamed answer text.
type Content struct {
	Text string
}

// Result terminates a successful run.
type Result struct {
	Answer          string
	History         []history.Turn
	Elapsed         time.Duration
	TimeToFirst     time.Duration
	TokensPerSecond float64
}

// Failure terminates a failed run. Content already streamed stands.
type Failure struct {
	Err error
}

func (Debug) isEvent()    {}
func (Progress) isEvent() {}
func (Content) isEvent()  {}
func (Result) isEvent()   {}
func (Failure) isEvent()  {}
