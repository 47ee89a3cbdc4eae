package internal_pipeline

import (
	"sync"
	"time"

	internal_audio "github.com/voxbridgeai/api/stream-api/internal/audio"
	"github.com/voxbridgeai/pkg/commons"
	"github.com/voxbridgeai/pkg/utils"
)

// PlaybackState is the controller lifecycle state.
type PlaybackState string

const (
	PlaybackIdle      PlaybackState = "idle"
	PlaybackPlaying   PlaybackState = "playing"
	PlaybackPaused    PlaybackState = "paused"
	PlaybackBuffering PlaybackState = "buffering"
	PlaybackStopped   PlaybackState = "stopped"
)

// rateStep is how far the rate is nudged off base at a watermark breach.
const rateStep = 0.02

// PlaybackConfig bounds rate adaptation and the crossfade window.
type PlaybackConfig struct {
	MinRate       float64
	MaxRate       float64
	BaseRate      float64
	LowWatermark  float64
	HighWatermark float64
	CrossfadeMs   int
}

// PlaybackController drives the output tick cadence. Rate changes are
// applied by varying the tick period, never by pitch-shifting samples.
// Crossfade and Conceal are pure helpers over wide-band PCM.
type PlaybackController struct {
	mu     sync.Mutex
	cfg    PlaybackConfig
	logger commons.Logger
	state  PlaybackState
	rate   float64
}

func NewPlaybackController(logger commons.Logger, cfg PlaybackConfig) *PlaybackController {
	if cfg.BaseRate == 0 {
		cfg.BaseRate = 1.0
	}
	return &PlaybackController{
		cfg:    cfg,
		logger: logger,
		state:  PlaybackIdle,
		rate:   cfg.BaseRate,
	}
}

func (p *PlaybackController) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == PlaybackIdle || p.state == PlaybackStopped {
		p.state = PlaybackPlaying
		p.rate = p.cfg.BaseRate
	}
}

func (p *PlaybackController) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == PlaybackPlaying || p.state == PlaybackBuffering {
		p.state = PlaybackPaused
	}
}

func (p *PlaybackController) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == PlaybackPaused {
		p.state = PlaybackPlaying
	}
}

// Stop is idempotent.
func (p *PlaybackController) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = PlaybackStopped
}

func (p *PlaybackController) State() PlaybackState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *PlaybackController) CurrentRate() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rate
}

// UpdateBufferLevel adjusts the effective rate from the buffer fill level
// (0..1). Below the low watermark playback slows and the controller reports
// buffering; above the high watermark it speeds up; in between it returns
// to base.
func (p *PlaybackController) UpdateBufferLevel(level float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != PlaybackPlaying && p.state != PlaybackBuffering {
		return
	}

	switch {
	case level < p.cfg.LowWatermark:
		p.rate = p.cfg.BaseRate - rateStep
		p.state = PlaybackBuffering
	case level > p.cfg.HighWatermark:
		p.rate = p.cfg.BaseRate + rateStep
		p.state = PlaybackPlaying
	default:
		p.rate = p.cfg.BaseRate
		p.state = PlaybackPlaying
	}
	p.rate = utils.Clamp(p.rate, p.cfg.MinRate, p.cfg.MaxRate)
}

// TickPeriod scales the nominal tick by the current rate: a faster rate
// shortens the period.
func (p *PlaybackController) TickPeriod(nominal time.Duration) time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.rate <= 0 {
		return nominal
	}
	return time.Duration(float64(nominal) / p.rate)
}

// Crossfade joins the tail of a and the head of b with an equal-gain linear
// ramp over up to CrossfadeMs of samples. If either side is shorter than
// the ramp, the frames are simply concatenated.
func (p *PlaybackController) Crossfade(a, b []byte) []byte {
	ramp := p.cfg.CrossfadeMs * internal_audio.WideSampleRate / 1000
	as := internal_audio.PCMToSamples(a)
	bs := internal_audio.PCMToSamples(b)

	if ramp <= 0 || len(as) < ramp || len(bs) < ramp {
		out := make([]byte, 0, len(a)+len(b))
		out = append(out, a...)
		return append(out, b...)
	}

	n := len(as) + len(bs) - ramp
	out := make([]int16, n)
	copy(out, as[:len(as)-ramp])

	for i := 0; i < ramp; i++ {
		gain := float64(i) / float64(ramp)
		tail := float64(as[len(as)-ramp+i]) * (1 - gain)
		head := float64(bs[i]) * gain
		out[len(as)-ramp+i] = internal_audio.ClampSample(int(tail + head))
	}
	copy(out[len(as):], bs[ramp:])
	return internal_audio.SamplesToPCM(out)
}

// Conceal covers a detected gap: the last available sample fades linearly
// to silence over the gap duration. No pitch synthesis.
func (p *PlaybackController) Conceal(last []byte, gap time.Duration) []byte {
	n := int(gap.Milliseconds()) * internal_audio.WideSampleRate / 1000
	if n <= 0 {
		return []byte{}
	}

	var anchor int16
	if samples := internal_audio.PCMToSamples(last); len(samples) > 0 {
		anchor = samples[len(samples)-1]
	}

	out := make([]int16, n)
	for i := range out {
		gain := 1 - float64(i)/float64(n)
		out[i] = internal_audio.ClampSample(int(float64(anchor) * gain))
	}
	return internal_audio.SamplesToPCM(out)
}
