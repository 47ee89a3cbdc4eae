package internal_voice

import (
	"math/rand"
	"time"
	"unicode"

	internal_audio "github.com/voxbridgeai/api/stream-api/internal/audio"
	"github.com/voxbridgeai/pkg/commons"
)

// PauseType names the trigger that produced a pause point.
type PauseType string

const (
	PauseComma       PauseType = "comma"
	PausePeriod      PauseType = "period"
	PauseQuestion    PauseType = "question"
	PauseExclamation PauseType = "exclamation"
	PauseSentence    PauseType = "sentence"
)

const (
	defaultCommaMs       = 150
	defaultPeriodMs      = 500
	defaultQuestionMs    = 600
	defaultExclamationMs = 200
	defaultSentenceMs    = 400

	// pauseFloorMs is the minimum pause after scaling and jitter.
	pauseFloorMs = 50
	// pauseJitterFraction is the adaptive perturbation range.
	pauseJitterFraction = 0.2
)

// PausePoint marks where silence should be spliced into synthesized speech.
type PausePoint struct {
	Position   int // rune offset into the analyzed text
	DurationMs int
	Type       PauseType
}

// PauseConfig carries the punctuation duration table. Zero durations fall
// back to the defaults; SpeechRate scales all durations inversely and
// defaults to 1.0.
type PauseConfig struct {
	Enabled       bool
	Adaptive      bool
	SpeechRate    float64
	CommaMs       int
	PeriodMs      int
	QuestionMs    int
	ExclamationMs int
	SentenceMs    int
}

func (c *PauseConfig) withDefaults() PauseConfig {
	out := *c
	if out.SpeechRate <= 0 {
		out.SpeechRate = 1.0
	}
	if out.CommaMs <= 0 {
		out.CommaMs = defaultCommaMs
	}
	if out.PeriodMs <= 0 {
		out.PeriodMs = defaultPeriodMs
	}
	if out.QuestionMs <= 0 {
		out.QuestionMs = defaultQuestionMs
	}
	if out.ExclamationMs <= 0 {
		out.ExclamationMs = defaultExclamationMs
	}
	if out.SentenceMs <= 0 {
		out.SentenceMs = defaultSentenceMs
	}
	return out
}

// PauseManager derives pause insertion points from punctuation and splices
// matching silence into audio chunk streams.
type PauseManager struct {
	cfg    PauseConfig
	logger commons.Logger
	rng    *rand.Rand
}

func NewPauseManager(logger commons.Logger, cfg PauseConfig) *PauseManager {
	return &PauseManager{
		cfg:    cfg.withDefaults(),
		logger: logger,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (m *PauseManager) Enabled() bool {
	return m.cfg.Enabled
}

// Analyze scans text for punctuation and returns pause points in rune order.
// Text that ends mid-sentence gets a trailing sentence-boundary pause so the
// next utterance does not run straight on.
func (m *PauseManager) Analyze(text string) []PausePoint {
	var points []PausePoint
	runes := []rune(text)

	sawContent := false
	endsTerminal := false
	for i, r := range runes {
		var (
			dur int
			typ PauseType
		)
		switch r {
		case ',':
			dur, typ = m.cfg.CommaMs, PauseComma
		case '.':
			dur, typ = m.cfg.PeriodMs, PausePeriod
		case '?':
			dur, typ = m.cfg.QuestionMs, PauseQuestion
		case '!':
			dur, typ = m.cfg.ExclamationMs, PauseExclamation
		default:
			if !unicode.IsSpace(r) {
				sawContent = true
				endsTerminal = false
			}
			continue
		}
		endsTerminal = typ != PauseComma
		points = append(points, PausePoint{
			Position:   i,
			DurationMs: m.effectiveDuration(dur),
			Type:       typ,
		})
	}

	if sawContent && !endsTerminal {
		points = append(points, PausePoint{
			Position:   len(runes),
			DurationMs: m.effectiveDuration(m.cfg.SentenceMs),
			Type:       PauseSentence,
		})
	}
	return points
}

// GeneratePause returns wide-band PCM silence of the given duration.
func (m *PauseManager) GeneratePause(durationMs int) []byte {
	if durationMs <= 0 {
		return []byte{}
	}
	return internal_audio.WideSilence(durationMs)
}

// InsertPauses splices silence into a chunk stream. samplesPerChar maps each
// pause point's text position onto the audio timeline; the silence lands
// after the chunk containing that sample offset.
func (m *PauseManager) InsertPauses(chunks [][]byte, points []PausePoint, samplesPerChar float64) [][]byte {
	if len(points) == 0 || len(chunks) == 0 {
		return chunks
	}

	out := make([][]byte, 0, len(chunks)+len(points))
	next := 0
	var consumed int // samples emitted so far
	for _, chunk := range chunks {
		out = append(out, chunk)
		consumed += len(chunk) / 2

		for next < len(points) && int(float64(points[next].Position)*samplesPerChar) < consumed {
			out = append(out, m.GeneratePause(points[next].DurationMs))
			next++
		}
	}
	// Points mapped past the final chunk trail at the end.
	for ; next < len(points); next++ {
		out = append(out, m.GeneratePause(points[next].DurationMs))
	}
	return out
}

// effectiveDuration scales a table duration by the inverse speech rate and,
// when adaptive, perturbs it by up to ±20%. The result never drops below
// the 50 ms floor.
func (m *PauseManager) effectiveDuration(baseMs int) int {
	d := float64(baseMs) / m.cfg.SpeechRate
	if m.cfg.Adaptive {
		d *= 1 + pauseJitterFraction*(m.rng.Float64()*2-1)
	}
	if d < pauseFloorMs {
		d = pauseFloorMs
	}
	return int(d)
}
