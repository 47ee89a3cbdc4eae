package internal_pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internal_audio "github.com/voxbridgeai/api/stream-api/internal/audio"
	"github.com/voxbridgeai/pkg/commons"
)

func newTestPlayback(t *testing.T) *PlaybackController {
	t.Helper()
	logger, err := commons.NewApplicationLogger()
	require.NoError(t, err)
	return NewPlaybackController(logger, PlaybackConfig{
		MinRate:       0.95,
		MaxRate:       1.05,
		BaseRate:      1.0,
		LowWatermark:  0.2,
		HighWatermark: 0.8,
		CrossfadeMs:   5,
	})
}

// ============================================================================
// State machine
// ============================================================================

func TestPlayback_Lifecycle(t *testing.T) {
	p := newTestPlayback(t)
	assert.Equal(t, PlaybackIdle, p.State())

	p.Start()
	assert.Equal(t, PlaybackPlaying, p.State())

	p.Pause()
	assert.Equal(t, PlaybackPaused, p.State())

	p.Resume()
	assert.Equal(t, PlaybackPlaying, p.State())

	p.Stop()
	assert.Equal(t, PlaybackStopped, p.State())
	p.Stop()
	assert.Equal(t, PlaybackStopped, p.State())
}

func TestPlayback_ResumeOnlyFromPaused(t *testing.T) {
	p := newTestPlayback(t)
	p.Resume()
	assert.Equal(t, PlaybackIdle, p.State(), "resume before start is a no-op")

	p.Start()
	p.Stop()
	p.Resume()
	assert.Equal(t, PlaybackStopped, p.State())
}

func TestPlayback_RestartResetsRate(t *testing.T) {
	p := newTestPlayback(t)
	p.Start()
	p.UpdateBufferLevel(0.9)
	require.Equal(t, 1.02, p.CurrentRate())

	p.Stop()
	p.Start()
	assert.Equal(t, 1.0, p.CurrentRate())
}

// ============================================================================
// Rate adaptation
// ============================================================================

func TestUpdateBufferLevel_Watermarks(t *testing.T) {
	tests := []struct {
		name      string
		level     float64
		wantRate  float64
		wantState PlaybackState
	}{
		{"below low watermark", 0.1, 0.98, PlaybackBuffering},
		{"at midband", 0.5, 1.0, PlaybackPlaying},
		{"above high watermark", 0.9, 1.02, PlaybackPlaying},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestPlayback(t)
			p.Start()
			p.UpdateBufferLevel(tt.level)
			assert.InDelta(t, tt.wantRate, p.CurrentRate(), 1e-9)
			assert.Equal(t, tt.wantState, p.State())
		})
	}
}

func TestUpdateBufferLevel_IgnoredWhilePausedOrStopped(t *testing.T) {
	p := newTestPlayback(t)
	p.Start()
	p.Pause()
	p.UpdateBufferLevel(0.9)
	assert.Equal(t, 1.0, p.CurrentRate())
	assert.Equal(t, PlaybackPaused, p.State())
}

func TestUpdateBufferLevel_RecoversFromBuffering(t *testing.T) {
	p := newTestPlayback(t)
	p.Start()
	p.UpdateBufferLevel(0.05)
	require.Equal(t, PlaybackBuffering, p.State())

	p.UpdateBufferLevel(0.5)
	assert.Equal(t, PlaybackPlaying, p.State())
	assert.Equal(t, 1.0, p.CurrentRate())
}

func TestUpdateBufferLevel_RateClamped(t *testing.T) {
	logger, err := commons.NewApplicationLogger()
	require.NoError(t, err)
	p := NewPlaybackController(logger, PlaybackConfig{
		MinRate:       0.99,
		MaxRate:       1.01,
		BaseRate:      1.0,
		LowWatermark:  0.2,
		HighWatermark: 0.8,
	})
	p.Start()

	p.UpdateBufferLevel(0.9)
	assert.Equal(t, 1.01, p.CurrentRate())
	p.UpdateBufferLevel(0.1)
	assert.Equal(t, 0.99, p.CurrentRate())
}

func TestTickPeriod_ScalesByRate(t *testing.T) {
	p := newTestPlayback(t)
	p.Start()

	assert.Equal(t, 20*time.Millisecond, p.TickPeriod(20*time.Millisecond))

	p.UpdateBufferLevel(0.9) // 1.02x
	faster := p.TickPeriod(20 * time.Millisecond)
	assert.Less(t, faster, 20*time.Millisecond)

	p.UpdateBufferLevel(0.1) // 0.98x
	slower := p.TickPeriod(20 * time.Millisecond)
	assert.Greater(t, slower, 20*time.Millisecond)
}

// ============================================================================
// Crossfade and concealment
// ============================================================================

func constantPCM(value int16, samples int) []byte {
	s := make([]int16, samples)
	for i := range s {
		s[i] = value
	}
	return internal_audio.SamplesToPCM(s)
}

func TestCrossfade_LengthAndRamp(t *testing.T) {
	p := newTestPlayback(t)
	a := constantPCM(8000, 160) // 10 ms at 16 kHz
	b := constantPCM(-8000, 160)

	out := internal_audio.PCMToSamples(p.Crossfade(a, b))
	ramp := 5 * internal_audio.WideSampleRate / 1000 // 80 samples

	require.Len(t, out, 160+160-ramp)
	assert.Equal(t, int16(8000), out[0])
	assert.Equal(t, int16(-8000), out[len(out)-1])

	// Mid-ramp the equal-gain mix of opposite constants is near zero.
	mid := out[160-ramp+ramp/2]
	assert.InDelta(t, 0, float64(mid), 220)
}

func TestCrossfade_ShortInputFallsBackToConcat(t *testing.T) {
	p := newTestPlayback(t)
	a := constantPCM(100, 10)
	b := constantPCM(200, 10)

	out := p.Crossfade(a, b)
	assert.Len(t, out, len(a)+len(b))
	assert.Equal(t, a, out[:len(a)])
	assert.Equal(t, b, out[len(a):])
}

func TestConceal_FadesToSilence(t *testing.T) {
	p := newTestPlayback(t)
	last := constantPCM(16000, 320)

	out := internal_audio.PCMToSamples(p.Conceal(last, 20*time.Millisecond))
	require.Len(t, out, 320)

	assert.Equal(t, int16(16000), out[0])
	for i := 1; i < len(out); i++ {
		assert.LessOrEqual(t, abs16(out[i]), abs16(out[i-1]))
	}
	assert.LessOrEqual(t, abs16(out[len(out)-1]), int16(100))
}

func TestConceal_NoHistoryYieldsSilence(t *testing.T) {
	p := newTestPlayback(t)
	out := internal_audio.PCMToSamples(p.Conceal(nil, 20*time.Millisecond))
	require.Len(t, out, 320)
	for _, s := range out {
		assert.Equal(t, int16(0), s)
	}
}

func TestConceal_ZeroGap(t *testing.T) {
	p := newTestPlayback(t)
	assert.Empty(t, p.Conceal(constantPCM(100, 10), 0))
}

func abs16(v int16) int16 {
	if v < 0 {
		return -v
	}
	return v
}
