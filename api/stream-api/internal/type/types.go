package internal_type

import "time"

// AudioFormat identifies the interpretation of an AudioFrame payload.
type AudioFormat int

const (
	// FormatMulaw8kMono — 8-bit companded mono at 8 kHz, the carrier's
	// on-the-wire form.
	FormatMulaw8kMono AudioFormat = iota
	// FormatLinear16kMono — 16-bit little-endian linear PCM mono at 16 kHz,
	// the upstream's on-the-wire form.
	FormatLinear16kMono
)

func (f AudioFormat) String() string {
	switch f {
	case FormatMulaw8kMono:
		return "mulaw-8khz-mono"
	case FormatLinear16kMono:
		return "linear16-16khz-mono"
	}
	return "unknown"
}

// AudioFrame is the in-pipeline audio unit. Frames are created on the
// ingress or egress edge, consumed exactly once, and never shared across
// call boundaries.
type AudioFrame struct {
	Payload []byte
	Format  AudioFormat
}

// FrameFlag marks a SequencedFrame's position in its stream.
type FrameFlag uint8

const (
	FlagFirst FrameFlag = 1 << iota
	FlagLast
	FlagContinuation
	FlagRetransmit
)

// NominalFrameDuration is the frame model default: upstream audio is cut
// into 20 ms frames unless the sender declares a different duration on the
// frame itself. Buffer-depth estimates use the per-frame duration when set.
const NominalFrameDuration = 20 * time.Millisecond

// SequencedFrame is an egress-side audio frame with pipeline metadata.
// Within one call, (Sequence, Timestamp) pairs are strictly non-decreasing
// when sorted by Sequence.
type SequencedFrame struct {
	Payload   []byte
	Sequence  uint64
	Timestamp int64 // microseconds, monotonic within a call
	Duration  time.Duration
	Flags     FrameFlag
}

// EffectiveDuration returns the frame's declared duration, falling back to
// the nominal 20 ms frame model.
func (f *SequencedFrame) EffectiveDuration() time.Duration {
	if f.Duration > 0 {
		return f.Duration
	}
	return NominalFrameDuration
}

// EgressSink receives one companded narrow-band payload per playback tick.
// Supplied by the carrier adapter at session construction.
type EgressSink func(frame []byte)

// CarrierAdapter is the boundary the carrier-facing transport calls into.
// The core consumes and produces raw bytes only; base64 decoding of carrier
// media payloads happens before OnIngress.
type CarrierAdapter interface {
	// OnIngress delivers one carrier media payload for the session.
	OnIngress(sessionID string, frame []byte) error
	// OnTeardown signals end-of-stream from the carrier side.
	OnTeardown(sessionID string, reason string)
}

// SessionControl is the slice of the call session the orchestrator drives.
type SessionControl interface {
	ID() string
	// Begin transitions the session into in-progress.
	Begin() error
	// End transitions the session to its terminal status. The first terminal
	// signal wins; later calls are absorbed.
	End(failed bool) error
	// Guard returns SESSION_GONE when the session is past terminal status.
	Guard() error
}
