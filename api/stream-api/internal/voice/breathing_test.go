package internal_voice

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internal_audio "github.com/voxbridgeai/api/stream-api/internal/audio"
	"github.com/voxbridgeai/pkg/commons"
)

func newTestGenerator(t *testing.T, cfg BreathingConfig) *BreathingGenerator {
	t.Helper()
	logger, err := commons.NewApplicationLogger()
	require.NoError(t, err)
	g := NewBreathingGenerator(logger, cfg)
	g.rng = rand.New(rand.NewSource(1))
	return g
}

func enabledCfg() BreathingConfig {
	return BreathingConfig{Enabled: true, Intensity: 0.3, MinMs: 100, MaxMs: 300}
}

// ============================================================================
// Generation
// ============================================================================

func TestGenerate_DurationsPerType(t *testing.T) {
	g := newTestGenerator(t, enabledCfg())

	tests := []struct {
		typ    BreathType
		wantMs int
	}{
		{BreathNormal, 200},
		{BreathDeep, 300},
		{BreathQuick, 100},
		{BreathSigh, 450},
	}
	for _, tt := range tests {
		t.Run(string(tt.typ), func(t *testing.T) {
			pcm := g.Generate(tt.typ, 0)
			assert.Len(t, pcm, tt.wantMs*internal_audio.WideBytesPerMs)
		})
	}
}

func TestGenerate_ExplicitDurationOverrides(t *testing.T) {
	g := newTestGenerator(t, enabledCfg())
	pcm := g.Generate(BreathNormal, 120)
	assert.Len(t, pcm, 120*internal_audio.WideBytesPerMs)
}

func TestGenerate_EnvelopeShapesBurst(t *testing.T) {
	g := newTestGenerator(t, enabledCfg())
	samples := internal_audio.PCMToSamples(g.Generate(BreathNormal, 200))
	require.NotEmpty(t, samples)

	n := len(samples)
	edge := rmsOf(samples[:n/20])            // first 5%, inside the fade-in
	hold := rmsOf(samples[2*n/5 : 3*n/5])    // middle of the hold
	tail := rmsOf(samples[n-n/20:])          // last 5%, inside the fade-out

	assert.Greater(t, hold, 2*edge, "hold region should be much louder than the attack edge")
	assert.Greater(t, hold, 2*tail, "hold region should be much louder than the release edge")
}

func TestGenerate_DeepLouderThanQuick(t *testing.T) {
	g := newTestGenerator(t, enabledCfg())
	deep := rmsOf(internal_audio.PCMToSamples(g.Generate(BreathDeep, 200)))
	quick := rmsOf(internal_audio.PCMToSamples(g.Generate(BreathQuick, 200)))
	assert.Greater(t, deep, quick)
}

func TestGenerate_ZeroDurationConfigDefaults(t *testing.T) {
	g := newTestGenerator(t, BreathingConfig{Enabled: true})
	pcm := g.Generate(BreathQuick, 0)
	assert.Len(t, pcm, 100*internal_audio.WideBytesPerMs, "MinMs defaults to 100")
}

// ============================================================================
// Insertion policy
// ============================================================================

func TestShouldInsert(t *testing.T) {
	g := newTestGenerator(t, enabledCfg())

	tests := []struct {
		name       string
		words      int
		atEnd      bool
		atPause    bool
		wantInsert bool
		wantType   BreathType
	}{
		{"long sentence ends", 20, true, false, true, BreathNormal},
		{"short sentence ends", 10, true, false, false, ""},
		{"approaching very long sentence", 30, false, false, true, BreathDeep},
		{"mid short sentence", 10, false, false, false, ""},
		{"long pause", 5, false, true, true, BreathNormal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, typ := g.ShouldInsert(tt.words, tt.atEnd, tt.atPause)
			assert.Equal(t, tt.wantInsert, ok)
			assert.Equal(t, tt.wantType, typ)
		})
	}
}

func TestShouldInsert_DisabledNeverInserts(t *testing.T) {
	g := newTestGenerator(t, BreathingConfig{Enabled: false})
	ok, _ := g.ShouldInsert(30, true, true)
	assert.False(t, ok)
}

func rmsOf(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}
