package config

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// PipelineConfig is the closed per-session configuration record, immutable
// after session construction. Decoding from loose maps rejects unknown keys.
type PipelineConfig struct {
	Jitter    JitterConfig    `mapstructure:"jitter"`
	Playback  PlaybackConfig  `mapstructure:"playback"`
	Chunk     ChunkConfig     `mapstructure:"chunk"`
	Breathing BreathingConfig `mapstructure:"breathing"`
	Pauses    PausesConfig    `mapstructure:"pauses"`
	Upstream  UpstreamConfig  `mapstructure:"upstream"`
}

type JitterConfig struct {
	MinMs    int `mapstructure:"min_ms"`
	MaxMs    int `mapstructure:"max_ms"`
	TargetMs int `mapstructure:"target_ms"`
}

type PlaybackConfig struct {
	MinRate       float64 `mapstructure:"min_rate"`
	MaxRate       float64 `mapstructure:"max_rate"`
	BaseRate      float64 `mapstructure:"base_rate"`
	LowWatermark  float64 `mapstructure:"low_watermark"`
	HighWatermark float64 `mapstructure:"high_watermark"`
	CrossfadeMs   int     `mapstructure:"crossfade_ms"`
}

type ChunkConfig struct {
	MinMs     int `mapstructure:"min_ms"`
	MaxMs     int `mapstructure:"max_ms"`
	DefaultMs int `mapstructure:"default_ms"`
}

type BreathingConfig struct {
	Enabled   bool    `mapstructure:"enabled"`
	Intensity float64 `mapstructure:"intensity"`
	MinMs     int     `mapstructure:"min_ms"`
	MaxMs     int     `mapstructure:"max_ms"`
}

type PausesConfig struct {
	Enabled       bool    `mapstructure:"enabled"`
	Adaptive      bool    `mapstructure:"adaptive"`
	SpeechRate    float64 `mapstructure:"speech_rate"`
	CommaMs       int     `mapstructure:"comma_ms"`
	PeriodMs      int     `mapstructure:"period_ms"`
	QuestionMs    int     `mapstructure:"question_ms"`
	ExclamationMs int     `mapstructure:"exclamation_ms"`
	SentenceMs    int     `mapstructure:"sentence_ms"`
}

type UpstreamConfig struct {
	BaseURL  string `mapstructure:"base_url"`
	APIKey   string `mapstructure:"api_key"`
	Language string `mapstructure:"language"`
}

// DefaultPipelineConfig returns the production defaults.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		Jitter: JitterConfig{MinMs: 60, MaxMs: 200, TargetMs: 80},
		Playback: PlaybackConfig{
			MinRate:       0.95,
			MaxRate:       1.05,
			BaseRate:      1.0,
			LowWatermark:  0.2,
			HighWatermark: 0.8,
			CrossfadeMs:   5,
		},
		Chunk: ChunkConfig{MinMs: 100, MaxMs: 1000, DefaultMs: 100},
		Breathing: BreathingConfig{
			Enabled:   true,
			Intensity: 0.3,
			MinMs:     100,
			MaxMs:     300,
		},
		Pauses: PausesConfig{
			Enabled:       true,
			Adaptive:      true,
			SpeechRate:    1.0,
			CommaMs:       150,
			PeriodMs:      500,
			QuestionMs:    600,
			ExclamationMs: 200,
			SentenceMs:    400,
		},
		Upstream: UpstreamConfig{Language: "en-US"},
	}
}

// Validate checks the cross-field invariants of the record.
func (c *PipelineConfig) Validate() error {
	j := c.Jitter
	if !(j.MinMs <= j.TargetMs && j.TargetMs <= j.MaxMs) {
		return fmt.Errorf("jitter bounds violated: min %d <= target %d <= max %d", j.MinMs, j.TargetMs, j.MaxMs)
	}
	p := c.Playback
	if !(p.MinRate <= 1.0 && 1.0 <= p.MaxRate) {
		return fmt.Errorf("playback rate bounds must straddle 1.0: min %v, max %v", p.MinRate, p.MaxRate)
	}
	if p.LowWatermark >= p.HighWatermark {
		return fmt.Errorf("playback low watermark %v must be below high watermark %v", p.LowWatermark, p.HighWatermark)
	}
	ch := c.Chunk
	if !(ch.MinMs <= ch.DefaultMs && ch.DefaultMs <= ch.MaxMs) {
		return fmt.Errorf("chunk bounds violated: min %d <= default %d <= max %d", ch.MinMs, ch.DefaultMs, ch.MaxMs)
	}
	return nil
}

// DecodePipelineConfig builds a validated record from a loose map, starting
// from defaults. Unknown keys are an error, not ignored.
func DecodePipelineConfig(raw map[string]interface{}) (*PipelineConfig, error) {
	cfg := DefaultPipelineConfig()

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:      &cfg,
		ErrorUnused: true,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, fmt.Errorf("invalid pipeline config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
