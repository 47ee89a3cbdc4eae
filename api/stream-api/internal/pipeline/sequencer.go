package internal_pipeline

import (
	"sync"
	"time"

	internal_type "github.com/voxbridgeai/api/stream-api/internal/type"
)

// seenCapacity bounds the set of already-observed sequence numbers. When
// exceeded, entries older than expected-seenCapacity are pruned so a burst
// of ancient retransmits cannot poison the set.
const seenCapacity = 1000

// SequencerStats are strictly monotonic across a session.
type SequencerStats struct {
	Created    uint64 // outgoing frames stamped
	Processed  uint64 // incoming frames classified
	Duplicates uint64
	OutOfOrder uint64
	Gaps       uint64
	Missing    uint64 // total sequences reported missing
}

// Classification is the result of Sequencer.Process for one frame.
type Classification struct {
	Frame      *internal_type.SequencedFrame
	Duplicate  bool
	OutOfOrder bool
	Gap        bool
	// Missing lists the sequences [expected, frame.Sequence) skipped by a gap.
	Missing []uint64
}

// Sequencer stamps outgoing frames with a monotonic sequence number and a
// high-resolution timestamp, and classifies incoming stamped frames as
// normal, duplicate, out-of-order, or gap-introducing.
type Sequencer struct {
	mu       sync.Mutex
	next     uint64 // next outgoing sequence
	expected uint64 // incoming cursor
	seen     map[uint64]struct{}
	stats    SequencerStats
	epoch    time.Time
	clock    func() time.Time
}

func NewSequencer() *Sequencer {
	now := time.Now()
	return &Sequencer{
		seen:  make(map[uint64]struct{}, seenCapacity),
		epoch: now,
		clock: time.Now,
	}
}

// Create stamps the next sequence number and a fresh monotonic timestamp.
// Sequence numbers start at zero and increase strictly by one; 64 bits make
// wrap unreachable in any realistic call.
func (s *Sequencer) Create(payload []byte, duration time.Duration, flags internal_type.FrameFlag) *internal_type.SequencedFrame {
	s.mu.Lock()
	defer s.mu.Unlock()

	f := &internal_type.SequencedFrame{
		Payload:   payload,
		Sequence:  s.next,
		Timestamp: s.clock().Sub(s.epoch).Microseconds(),
		Duration:  duration,
		Flags:     flags,
	}
	s.next++
	s.stats.Created++
	return f
}

// Process classifies an incoming stamped frame against the expected-sequence
// cursor.
//
//   - Duplicate: sequence already seen; no cursor movement.
//   - Out-of-order: sequence below the cursor and not a duplicate; the caller
//     decides whether to re-slot or drop.
//   - Gap: sequence above the cursor; the skipped range is reported and the
//     cursor jumps past the frame.
//   - Normal: sequence matches the cursor exactly.
func (s *Sequencer) Process(f *internal_type.SequencedFrame) Classification {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stats.Processed++
	cls := Classification{Frame: f}

	if _, ok := s.seen[f.Sequence]; ok {
		s.stats.Duplicates++
		cls.Duplicate = true
		return cls
	}

	switch {
	case f.Sequence < s.expected:
		s.stats.OutOfOrder++
		cls.OutOfOrder = true
	case f.Sequence > s.expected:
		s.stats.Gaps++
		missing := make([]uint64, 0, f.Sequence-s.expected)
		for seq := s.expected; seq < f.Sequence; seq++ {
			missing = append(missing, seq)
		}
		s.stats.Missing += uint64(len(missing))
		cls.Gap = true
		cls.Missing = missing
		s.expected = f.Sequence + 1
	default:
		s.expected++
	}

	s.seen[f.Sequence] = struct{}{}
	s.pruneLocked()
	return cls
}

// Expected returns the current incoming cursor.
func (s *Sequencer) Expected() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expected
}

// Stats returns a snapshot of the monotonic counters.
func (s *Sequencer) Stats() SequencerStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// pruneLocked evicts seen entries below expected-seenCapacity once the set
// outgrows its capacity. Caller holds s.mu.
func (s *Sequencer) pruneLocked() {
	if len(s.seen) <= seenCapacity {
		return
	}
	var floor uint64
	if s.expected > seenCapacity {
		floor = s.expected - seenCapacity
	}
	for seq := range s.seen {
		if seq < floor {
			delete(s.seen, seq)
		}
	}
}
