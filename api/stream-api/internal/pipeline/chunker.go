package internal_pipeline

import (
	"sync"

	internal_audio "github.com/voxbridgeai/api/stream-api/internal/audio"
	"github.com/voxbridgeai/pkg/commons"
	"github.com/voxbridgeai/pkg/utils"
)

// chunkHistory is the number of latency and jitter observations retained.
const chunkHistory = 20

// ChunkerConfig bounds the adaptive egress chunk size.
type ChunkerConfig struct {
	MinMs     int
	MaxMs     int
	DefaultMs int
}

// Chunker sizes egress audio chunks from observed network conditions: poor
// conditions shrink chunks for responsiveness, good conditions grow them to
// cut per-chunk overhead.
type Chunker struct {
	mu     sync.Mutex
	cfg    ChunkerConfig
	logger commons.Logger

	latencies []float64 // milliseconds, newest last
	jitters   []float64
}

func NewChunker(logger commons.Logger, cfg ChunkerConfig) *Chunker {
	return &Chunker{cfg: cfg, logger: logger}
}

// RecordLatency appends a round-trip latency observation in milliseconds.
func (c *Chunker) RecordLatency(ms float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.latencies = appendBounded(c.latencies, ms)
}

// RecordJitter appends a jitter observation in milliseconds.
func (c *Chunker) RecordJitter(ms float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.jitters = appendBounded(c.jitters, ms)
}

// OptimalChunkMs derives the current chunk size from the mean of the
// observation windows. With no observations it returns the default.
//
//   - latency > 200 ms or jitter > 100 ms: minimum chunk.
//   - latency < 50 ms and jitter < 20 ms: maximum chunk.
//   - otherwise: linear interpolation on a combined quality score.
func (c *Chunker) OptimalChunkMs() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.latencies) == 0 && len(c.jitters) == 0 {
		return c.cfg.DefaultMs
	}
	latency := utils.Mean(c.latencies)
	jitter := utils.Mean(c.jitters)

	switch {
	case latency > 200 || jitter > 100:
		return c.cfg.MinMs
	case latency < 50 && jitter < 20:
		return c.cfg.MaxMs
	}

	score := 1 - min(1, latency/200+jitter/100)
	chunk := c.cfg.MinMs + int(score*float64(c.cfg.MaxMs-c.cfg.MinMs))
	return utils.Clamp(chunk, c.cfg.MinMs, c.cfg.MaxMs)
}

// Split cuts wide-band PCM into chunks of at most chunkMs milliseconds. The
// final chunk carries the remainder; sample alignment is preserved.
func (c *Chunker) Split(pcm []byte, chunkMs int) [][]byte {
	if len(pcm) == 0 {
		return nil
	}
	size := chunkMs * internal_audio.WideBytesPerMs
	if size <= 0 || size >= len(pcm) {
		return [][]byte{pcm}
	}
	if size%2 != 0 {
		size--
	}

	chunks := make([][]byte, 0, len(pcm)/size+1)
	for off := 0; off < len(pcm); off += size {
		end := min(off+size, len(pcm))
		chunks = append(chunks, pcm[off:end])
	}
	return chunks
}

func appendBounded(window []float64, v float64) []float64 {
	window = append(window, v)
	if len(window) > chunkHistory {
		window = window[len(window)-chunkHistory:]
	}
	return window
}
