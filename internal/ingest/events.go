package ingest

import "github.com/mjhen/rosterbridge/internal/match"

// Event is one progress notification. Events of a run are published in
// order from the goroutine running the import; the terminal event carries
// the final report.
type Event struct {
	RunID    string         `json:"runId"`
	State    State          `json:"state"`
	File     string         `json:"file,omitempty"`
	Row      int            `json:"row,omitempty"`
	Matched  bool           `json:"matched,omitempty"`
	Strategy match.Strategy `json:"strategy,omitempty"`
	Report   *Report        `json:"report,omitempty"`
}

// Sink receives progress events. Publish must not block for long: it runs
// between rows.
type Sink interface {
	Publish(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

func (f SinkFunc) Publish(e Event) { f(e) }

type nopSink struct{}

func (nopSink) Publish(Event) {}
