package internal_type

import "github.com/voxbridgeai/pkg/commons"

// Event is the sum type published by the pipeline orchestrator to its owner.
// All events for one session travel over a single ordered channel.
type Event interface {
	event()
}

// StartedEvent — the pipeline has started.
type StartedEvent struct{}

// StoppedEvent — the pipeline has stopped; no events follow it.
type StoppedEvent struct{}

// ConnectedEvent — the upstream connection opened.
type ConnectedEvent struct {
	ConnectionID string
}

// DisconnectedEvent — the upstream connection closed.
type DisconnectedEvent struct {
	Code   int
	Reason string
}

// TranscriptEvent — a partial transcript text frame from the upstream.
type TranscriptEvent struct {
	Text string
}

// TokenEvent — one generated token from the upstream language model.
type TokenEvent struct {
	Text string
}

// GenerationDoneEvent — the upstream finished a generation; FullText is the
// concatenation of the token stream since the previous completion.
type GenerationDoneEvent struct {
	FullText string
}

// AudioEvent carries a companded narrow-band frame ready for the carrier.
type AudioEvent struct {
	Frame []byte
}

// ErrorEvent surfaces a non-fatal pipeline error to the owner.
type ErrorEvent struct {
	Kind    commons.ErrorKind
	Message string
}

func (StartedEvent) event()        {}
func (StoppedEvent) event()        {}
func (ConnectedEvent) event()      {}
func (DisconnectedEvent) event()   {}
func (TranscriptEvent) event()     {}
func (TokenEvent) event()          {}
func (GenerationDoneEvent) event() {}
func (AudioEvent) event()          {}
func (ErrorEvent) event()          {}
