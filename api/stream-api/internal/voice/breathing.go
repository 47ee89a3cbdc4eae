package internal_voice

import (
	"math"
	"math/rand"
	"time"

	internal_audio "github.com/voxbridgeai/api/stream-api/internal/audio"
	"github.com/voxbridgeai/pkg/commons"
)

// BreathType selects the duration, intensity and formant of a burst.
type BreathType string

const (
	BreathNormal BreathType = "normal"
	BreathDeep   BreathType = "deep"
	BreathQuick  BreathType = "quick"
	BreathSigh   BreathType = "sigh"
)

const (
	defaultBreathIntensity = 0.3
	defaultBreathMinMs     = 100
	defaultBreathMaxMs     = 300

	// Trapezoid envelope proportions.
	envelopeAttack  = 0.2
	envelopeRelease = 0.2

	// longSentenceWords triggers a normal breath at sentence end;
	// veryLongSentenceWords triggers a deep breath while approaching one.
	longSentenceWords     = 15
	veryLongSentenceWords = 25
)

// BreathingConfig controls burst synthesis. Intensity is the base amplitude
// in (0, 1]; each type scales it.
type BreathingConfig struct {
	Enabled   bool
	Intensity float64
	MinMs     int
	MaxMs     int
}

func (c *BreathingConfig) withDefaults() BreathingConfig {
	out := *c
	if out.Intensity <= 0 {
		out.Intensity = defaultBreathIntensity
	}
	if out.MinMs <= 0 {
		out.MinMs = defaultBreathMinMs
	}
	if out.MaxMs <= 0 {
		out.MaxMs = defaultBreathMaxMs
	}
	return out
}

// breathProfile is the per-type synthesis recipe.
type breathProfile struct {
	durationMs int
	intensity  float64 // multiplier on the configured base
	formantHz  float64
}

// BreathingGenerator synthesizes respiration noise bursts as wide-band PCM.
// Bursts are band-limited noise under a trapezoidal envelope with a faint
// tonal component at the type's formant.
type BreathingGenerator struct {
	cfg    BreathingConfig
	logger commons.Logger
	rng    *rand.Rand
}

func NewBreathingGenerator(logger commons.Logger, cfg BreathingConfig) *BreathingGenerator {
	return &BreathingGenerator{
		cfg:    cfg.withDefaults(),
		logger: logger,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (g *BreathingGenerator) Enabled() bool {
	return g.cfg.Enabled
}

func (g *BreathingGenerator) profile(t BreathType) breathProfile {
	switch t {
	case BreathDeep:
		return breathProfile{durationMs: g.cfg.MaxMs, intensity: 1.5, formantHz: 50}
	case BreathQuick:
		return breathProfile{durationMs: g.cfg.MinMs, intensity: 0.7, formantHz: 150}
	case BreathSigh:
		return breathProfile{durationMs: g.cfg.MaxMs * 3 / 2, intensity: 1.2, formantHz: 80}
	default:
		return breathProfile{durationMs: 200, intensity: 1.0, formantHz: 100}
	}
}

// Generate returns one burst of the given type. A non-positive durationMs
// uses the type's default duration.
func (g *BreathingGenerator) Generate(t BreathType, durationMs int) []byte {
	p := g.profile(t)
	if durationMs > 0 {
		p.durationMs = durationMs
	}

	n := p.durationMs * internal_audio.WideSampleRate / 1000
	if n <= 0 {
		return []byte{}
	}
	amplitude := g.cfg.Intensity * p.intensity * float64(math.MaxInt16) * 0.5

	samples := make([]int16, n)
	var noise float64
	for i := range samples {
		// One-pole smoothing keeps the noise band-limited to the low,
		// breathy part of the spectrum.
		noise = 0.85*noise + 0.15*(g.rng.Float64()*2-1)

		tone := 0.1 * math.Sin(2*math.Pi*p.formantHz*float64(i)/internal_audio.WideSampleRate)
		env := trapezoid(float64(i) / float64(n))

		samples[i] = internal_audio.ClampSample(int(amplitude * env * (noise + tone)))
	}
	return internal_audio.SamplesToPCM(samples)
}

// ShouldInsert applies the insertion policy for a just-completed or ongoing
// sentence.
func (g *BreathingGenerator) ShouldInsert(sentenceWordCount int, atSentenceEnd, atLongPause bool) (bool, BreathType) {
	if !g.cfg.Enabled {
		return false, ""
	}
	switch {
	case atSentenceEnd && sentenceWordCount > longSentenceWords:
		return true, BreathNormal
	case !atSentenceEnd && sentenceWordCount > veryLongSentenceWords:
		return true, BreathDeep
	case atLongPause:
		return true, BreathNormal
	}
	return false, ""
}

// trapezoid evaluates the fade-in / hold / fade-out envelope at a position
// in [0, 1).
func trapezoid(pos float64) float64 {
	switch {
	case pos < envelopeAttack:
		return pos / envelopeAttack
	case pos > 1-envelopeRelease:
		return (1 - pos) / envelopeRelease
	default:
		return 1
	}
}
