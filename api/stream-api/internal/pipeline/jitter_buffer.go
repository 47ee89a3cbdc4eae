package internal_pipeline

import (
	"sort"
	"sync"
	"time"

	internal_type "github.com/voxbridgeai/api/stream-api/internal/type"
	"github.com/voxbridgeai/pkg/commons"
	"github.com/voxbridgeai/pkg/utils"
)

const (
	// jitterWindow is the number of inter-arrival deltas kept for the
	// jitter estimate.
	jitterWindow = 50
	// jitterMultiplier scales measured jitter into target depth.
	jitterMultiplier = 2.0
	// defaultAdaptationInterval throttles target recomputation.
	defaultAdaptationInterval = 100 * time.Millisecond
)

// JitterBufferConfig bounds the adaptive target depth.
type JitterBufferConfig struct {
	MinMs    int
	MaxMs    int
	TargetMs int // initial target
	// AdaptationInterval defaults to 100 ms when zero.
	AdaptationInterval time.Duration
}

// JitterBufferStats is a point-in-time view of the buffer.
type JitterBufferStats struct {
	Frames        int
	DepthMs       int
	TargetDepthMs int
	MeanGapMs     float64
	JitterMs      float64
	Total         uint64
	OutOfOrder    uint64
	Duplicates    uint64
	Underruns     uint64
	Overruns      uint64
}

// JitterBuffer is an order-preserving FIFO with an adaptive target depth.
// Enqueue never blocks; overflow evicts the oldest frames. Dequeue is gated
// by a ready predicate: once depth first reaches the target the buffer is
// primed and drains freely. A dequeue that finds a primed buffer dry records
// an underrun and re-arms priming; dequeues before priming are gated, not
// starved, and leave the counter alone.
//
// Written by the upstream receive task, read by the playback task; both
// paths are short critical sections.
type JitterBuffer struct {
	mu     sync.Mutex
	cfg    JitterBufferConfig
	logger commons.Logger

	frames []*internal_type.SequencedFrame // ordered by Sequence

	deltas      [jitterWindow]float64 // milliseconds
	deltaIdx    int
	deltaCount  int
	lastArrival time.Time
	lastAdapt   time.Time

	targetMs int
	primed   bool

	total      uint64
	outOfOrder uint64
	duplicates uint64
	underruns  uint64
	overruns   uint64

	clock func() time.Time
}

func NewJitterBuffer(logger commons.Logger, cfg JitterBufferConfig) *JitterBuffer {
	if cfg.AdaptationInterval <= 0 {
		cfg.AdaptationInterval = defaultAdaptationInterval
	}
	return &JitterBuffer{
		cfg:      cfg,
		logger:   logger,
		targetMs: utils.Clamp(cfg.TargetMs, cfg.MinMs, cfg.MaxMs),
		clock:    time.Now,
	}
}

// Enqueue inserts a frame in sequence order, records its arrival for the
// jitter estimate, and evicts the oldest frames if depth exceeds the
// configured maximum. It never blocks.
func (b *JitterBuffer) Enqueue(f *internal_type.SequencedFrame) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock()
	if !b.lastArrival.IsZero() {
		delta := now.Sub(b.lastArrival)
		b.deltas[b.deltaIdx] = float64(delta.Microseconds()) / 1000.0
		b.deltaIdx = (b.deltaIdx + 1) % jitterWindow
		if b.deltaCount < jitterWindow {
			b.deltaCount++
		}
	}
	b.lastArrival = now
	b.total++

	// Ordered insert by sequence; duplicates are dropped.
	idx := sort.Search(len(b.frames), func(i int) bool {
		return b.frames[i].Sequence >= f.Sequence
	})
	if idx < len(b.frames) && b.frames[idx].Sequence == f.Sequence {
		b.duplicates++
		return
	}
	if idx < len(b.frames) {
		b.outOfOrder++
	}
	b.frames = append(b.frames, nil)
	copy(b.frames[idx+1:], b.frames[idx:])
	b.frames[idx] = f

	b.adaptLocked(now)

	// Overflow: drop oldest until depth is back within the maximum.
	for b.depthMsLocked() > b.cfg.MaxMs && len(b.frames) > 1 {
		b.frames = b.frames[1:]
		b.overruns++
	}

	if !b.primed && b.depthMsLocked() >= b.targetMs {
		b.primed = true
	}
}

// Dequeue returns the lowest-sequence frame once the buffer has primed to
// its target depth. Running dry after priming is starvation and records an
// underrun; an empty or still-filling buffer before priming does not.
func (b *JitterBuffer) Dequeue() *internal_type.SequencedFrame {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.frames) == 0 {
		if b.primed {
			b.underruns++
			// Re-prime before the next dequeue succeeds.
			b.primed = false
		}
		return nil
	}
	if !b.primed {
		return nil
	}
	f := b.frames[0]
	b.frames = b.frames[1:]
	return f
}

// Ready reports whether a dequeue would currently yield a frame.
func (b *JitterBuffer) Ready() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.primed && len(b.frames) > 0
}

// Level returns the buffer fill level in [0, 1] relative to the configured
// maximum depth; feeds the playback controller's rate adaptation.
func (b *JitterBuffer) Level() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cfg.MaxMs <= 0 {
		return 0
	}
	return utils.Clamp(float64(b.depthMsLocked())/float64(b.cfg.MaxMs), 0, 1)
}

// Stats returns the current window statistics.
func (b *JitterBuffer) Stats() JitterBufferStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	window := b.windowLocked()
	return JitterBufferStats{
		Frames:        len(b.frames),
		DepthMs:       b.depthMsLocked(),
		TargetDepthMs: b.targetMs,
		MeanGapMs:     utils.Mean(window),
		JitterMs:      utils.StdDev(window),
		Total:         b.total,
		OutOfOrder:    b.outOfOrder,
		Duplicates:    b.duplicates,
		Underruns:     b.underruns,
		Overruns:      b.overruns,
	}
}

// Reset drops all buffered frames and re-arms priming. Arrival statistics
// and counters survive; they are monotonic across a session.
func (b *JitterBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.frames = nil
	b.primed = false
}

// adaptLocked recomputes the target depth from measured jitter, at most
// once per adaptation interval. Caller holds b.mu.
func (b *JitterBuffer) adaptLocked(now time.Time) {
	if b.deltaCount < 2 {
		// Keep the configured initial target until there is something to
		// measure.
		return
	}
	if !b.lastAdapt.IsZero() && now.Sub(b.lastAdapt) < b.cfg.AdaptationInterval {
		return
	}
	b.lastAdapt = now

	jitter := utils.StdDev(b.windowLocked())
	b.targetMs = utils.Clamp(b.cfg.MinMs+int(jitterMultiplier*jitter), b.cfg.MinMs, b.cfg.MaxMs)
}

// depthMsLocked estimates buffered audio in milliseconds using each frame's
// declared duration (20 ms nominal when unset). Caller holds b.mu.
func (b *JitterBuffer) depthMsLocked() int {
	var total time.Duration
	for _, f := range b.frames {
		total += f.EffectiveDuration()
	}
	return int(total.Milliseconds())
}

// windowLocked copies the populated slice of the delta ring. Caller holds b.mu.
func (b *JitterBuffer) windowLocked() []float64 {
	out := make([]float64, b.deltaCount)
	copy(out, b.deltas[:b.deltaCount])
	return out
}
