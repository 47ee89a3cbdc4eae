package internal_pipeline

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internal_type "github.com/voxbridgeai/api/stream-api/internal/type"
	"github.com/voxbridgeai/pkg/commons"
)

// fakeClock advances on demand so arrival timing is deterministic.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestBuffer(t *testing.T, cfg JitterBufferConfig) (*JitterBuffer, *fakeClock) {
	t.Helper()
	logger, err := commons.NewApplicationLogger()
	require.NoError(t, err)
	b := NewJitterBuffer(logger, cfg)
	clk := &fakeClock{now: time.Unix(1700000000, 0)}
	b.clock = clk.Now
	return b, clk
}

func frame(seq uint64) *internal_type.SequencedFrame {
	return &internal_type.SequencedFrame{
		Sequence: seq,
		Duration: 20 * time.Millisecond,
		Payload:  make([]byte, 640),
	}
}

func defaultCfg() JitterBufferConfig {
	return JitterBufferConfig{MinMs: 40, MaxMs: 200, TargetMs: 60}
}

// ============================================================================
// Ordering
// ============================================================================

func TestEnqueueDequeue_OrderedBySequence(t *testing.T) {
	b, clk := newTestBuffer(t, defaultCfg())

	for _, seq := range []uint64{1, 2, 4, 3, 5, 6} {
		b.Enqueue(frame(seq))
		clk.Advance(20 * time.Millisecond)
	}

	var got []uint64
	for {
		f := b.Dequeue()
		if f == nil {
			break
		}
		got = append(got, f.Sequence)
	}
	assert.Equal(t, []uint64{1, 2, 3, 4, 5, 6}, got)
	assert.Equal(t, uint64(1), b.Stats().OutOfOrder)
}

func TestEnqueue_DuplicateDropped(t *testing.T) {
	b, clk := newTestBuffer(t, defaultCfg())
	b.Enqueue(frame(1))
	clk.Advance(20 * time.Millisecond)
	b.Enqueue(frame(1))

	st := b.Stats()
	assert.Equal(t, 1, st.Frames)
	assert.Equal(t, uint64(1), st.Duplicates)
}

func TestDequeue_StrictlyIncreasingAcrossRandomArrival(t *testing.T) {
	b, clk := newTestBuffer(t, defaultCfg())
	rng := rand.New(rand.NewSource(7))

	seqs := make([]uint64, 100)
	for i := range seqs {
		seqs[i] = uint64(i)
	}
	rng.Shuffle(len(seqs), func(i, j int) { seqs[i], seqs[j] = seqs[j], seqs[i] })
	for _, s := range seqs {
		b.Enqueue(frame(s))
		clk.Advance(5 * time.Millisecond)
	}

	last := int64(-1)
	for {
		f := b.Dequeue()
		if f == nil {
			break
		}
		require.Greater(t, int64(f.Sequence), last)
		last = int64(f.Sequence)
	}
}

// ============================================================================
// Priming and underruns
// ============================================================================

func TestDequeue_GatedUntilTargetDepth(t *testing.T) {
	b, clk := newTestBuffer(t, defaultCfg()) // target 60 ms = 3 frames

	b.Enqueue(frame(0))
	clk.Advance(20 * time.Millisecond)
	assert.Nil(t, b.Dequeue(), "one frame is below target depth")

	b.Enqueue(frame(1))
	clk.Advance(20 * time.Millisecond)
	b.Enqueue(frame(2))
	clk.Advance(20 * time.Millisecond)

	assert.True(t, b.Ready())
	f := b.Dequeue()
	require.NotNil(t, f)
	assert.Equal(t, uint64(0), f.Sequence)
	assert.Zero(t, b.Stats().Underruns, "gated dequeues before priming are not starvation")
}

func TestDequeue_DrainsFreelyOncePrimed(t *testing.T) {
	b, clk := newTestBuffer(t, defaultCfg())
	for i := uint64(0); i < 3; i++ {
		b.Enqueue(frame(i))
		clk.Advance(20 * time.Millisecond)
	}

	// All three drain even though depth falls below target while draining.
	for i := uint64(0); i < 3; i++ {
		f := b.Dequeue()
		require.NotNil(t, f, "frame %d", i)
	}

	// Empty again: underrun, and priming re-arms.
	assert.Nil(t, b.Dequeue())
	assert.Equal(t, uint64(1), b.Stats().Underruns)
	b.Enqueue(frame(10))
	assert.Nil(t, b.Dequeue(), "one frame after drain must re-prime first")
	assert.Equal(t, uint64(1), b.Stats().Underruns, "re-priming does not count again")
}

// ============================================================================
// Adaptation
// ============================================================================

func TestAdaptation_TargetRisesWithJitter(t *testing.T) {
	b, clk := newTestBuffer(t, defaultCfg())
	rng := rand.New(rand.NewSource(42))

	// Uniform inter-arrival in [10ms, 30ms]: stddev ≈ 5.8ms, so the target
	// should rise above the 40ms floor but stay within bounds.
	for i := uint64(0); i < 500; i++ {
		b.Enqueue(frame(i))
		b.Dequeue()
		clk.Advance(time.Duration(10+rng.Intn(21)) * time.Millisecond)
	}

	st := b.Stats()
	assert.Greater(t, st.TargetDepthMs, 40)
	assert.LessOrEqual(t, st.TargetDepthMs, 200)
	assert.Greater(t, st.JitterMs, 3.0)
}

func TestAdaptation_SteadyArrivalKeepsFloorTarget(t *testing.T) {
	b, clk := newTestBuffer(t, defaultCfg())
	for i := uint64(0); i < 200; i++ {
		b.Enqueue(frame(i))
		b.Dequeue()
		clk.Advance(20 * time.Millisecond)
	}
	st := b.Stats()
	assert.Equal(t, 40, st.TargetDepthMs, "zero jitter pins the target at the floor")
	assert.InDelta(t, 20.0, st.MeanGapMs, 0.5)
	assert.InDelta(t, 0.0, st.JitterMs, 0.001)
}

func TestAdaptation_TargetAlwaysWithinBounds(t *testing.T) {
	b, clk := newTestBuffer(t, JitterBufferConfig{MinMs: 40, MaxMs: 120, TargetMs: 60})
	rng := rand.New(rand.NewSource(99))

	prevJitter, prevTarget := 0.0, 0
	for i := uint64(0); i < 300; i++ {
		b.Enqueue(frame(i))
		b.Dequeue()
		clk.Advance(time.Duration(rng.Intn(120)) * time.Millisecond)

		st := b.Stats()
		require.GreaterOrEqual(t, st.TargetDepthMs, 40)
		require.LessOrEqual(t, st.TargetDepthMs, 120)
		if st.JitterMs > prevJitter && prevJitter > 0 {
			// New jitter high-water mark: target must not shrink.
			require.GreaterOrEqual(t, st.TargetDepthMs, prevTarget)
		}
		prevJitter, prevTarget = st.JitterMs, st.TargetDepthMs
	}
}

// ============================================================================
// Overflow
// ============================================================================

func TestEnqueue_OverflowEvictsOldest(t *testing.T) {
	b, clk := newTestBuffer(t, defaultCfg()) // max 200 ms = 10 frames

	for i := uint64(0); i < 10; i++ {
		b.Enqueue(frame(i))
		clk.Advance(20 * time.Millisecond)
	}
	require.Equal(t, 200, b.Stats().DepthMs)
	require.Equal(t, uint64(0), b.Stats().Overruns)

	// One more frame at exactly max depth: accepted, exactly one eviction.
	b.Enqueue(frame(10))
	st := b.Stats()
	assert.Equal(t, 200, st.DepthMs)
	assert.Equal(t, uint64(1), st.Overruns)

	// The oldest frame (0) is gone.
	f := b.Dequeue()
	require.NotNil(t, f)
	assert.Equal(t, uint64(1), f.Sequence)
}

// ============================================================================
// Level and reset
// ============================================================================

func TestLevel(t *testing.T) {
	b, clk := newTestBuffer(t, defaultCfg())
	assert.Equal(t, 0.0, b.Level())

	for i := uint64(0); i < 5; i++ { // 100 ms of 200 ms max
		b.Enqueue(frame(i))
		clk.Advance(20 * time.Millisecond)
	}
	assert.InDelta(t, 0.5, b.Level(), 0.01)
}

func TestReset_ClearsFramesKeepsCounters(t *testing.T) {
	b, clk := newTestBuffer(t, defaultCfg())
	for i := uint64(0); i < 5; i++ {
		b.Enqueue(frame(i))
		clk.Advance(20 * time.Millisecond)
	}
	total := b.Stats().Total

	b.Reset()
	st := b.Stats()
	assert.Equal(t, 0, st.Frames)
	assert.Equal(t, total, st.Total)
	assert.Nil(t, b.Dequeue(), "reset re-arms priming")
}
