package internal_pipeline

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/voxbridgeai/api/stream-api/config"
	internal_audio "github.com/voxbridgeai/api/stream-api/internal/audio"
	internal_type "github.com/voxbridgeai/api/stream-api/internal/type"
	internal_upstream "github.com/voxbridgeai/api/stream-api/internal/upstream"
	internal_voice "github.com/voxbridgeai/api/stream-api/internal/voice"
	"github.com/voxbridgeai/pkg/commons"
)

const eventBuffer = 256

// UpstreamConn is the slice of the upstream client the orchestrator drives.
type UpstreamConn interface {
	Connect(ctx context.Context) error
	Send(pcm []byte) error
	Inbound() <-chan internal_upstream.Inbound
	Close()
}

// PipelineStats aggregates the per-component counters.
type PipelineStats struct {
	FramesReceived      uint64
	FramesEmitted       uint64
	IngressForwarded    uint64
	IngressDropped      uint64
	TranscriptsReceived uint64
	TokensReceived      uint64
	CodecErrors         uint64
	Jitter              JitterBufferStats
	Sequencer           SequencerStats
	Playback            PlaybackState
	CurrentRate         float64
}

// Orchestrator owns one call's pipeline: codec, sequencer, jitter buffer,
// playback controller, chunker, breathing generator, pause manager and the
// upstream connection. Three tasks progress independently per call: the
// carrier-driven ingress path, the upstream receive loop, and the playback
// tick loop. Upstream connection failures never terminate the call; ingress
// drops silently until the connection is open again.
type Orchestrator struct {
	logger  commons.Logger
	cfg     config.PipelineConfig
	session internal_type.SessionControl

	codec     *internal_audio.Codec
	sequencer *Sequencer
	buffer    *JitterBuffer
	playback  *PlaybackController
	chunker   *Chunker
	breathing *internal_voice.BreathingGenerator
	pauses    *internal_voice.PauseManager
	upstream  UpstreamConn

	sink   internal_type.EgressSink
	events chan internal_type.Event

	upstreamOpen atomic.Bool
	stopped      atomic.Bool
	stopOnce     sync.Once
	cancel       context.CancelFunc
	tasks        *errgroup.Group

	framesReceived   atomic.Uint64
	framesEmitted    atomic.Uint64
	ingressForwarded atomic.Uint64
	ingressDropped   atomic.Uint64
	transcripts      atomic.Uint64
	tokens           atomic.Uint64
	codecErrors      atomic.Uint64

	// Playback-task-local splice and continuity state, guarded for the
	// receive task's writes.
	spliceMu    sync.Mutex
	spliceQueue [][]byte

	tailMu        sync.Mutex
	lastTail      []byte
	discontinuity bool

	textMu   sync.Mutex
	fullText strings.Builder
}

type OrchestratorOption func(*Orchestrator)

// WithUpstream replaces the default client built from the config.
func WithUpstream(conn UpstreamConn) OrchestratorOption {
	return func(o *Orchestrator) { o.upstream = conn }
}

// WithEgressSink attaches the carrier-facing sink; every emitted narrow
// frame also goes out as an audio event.
func WithEgressSink(sink internal_type.EgressSink) OrchestratorOption {
	return func(o *Orchestrator) { o.sink = sink }
}

func NewOrchestrator(logger commons.Logger, cfg config.PipelineConfig, session internal_type.SessionControl, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		logger:    logger,
		cfg:       cfg,
		session:   session,
		codec:     internal_audio.NewCodec(logger),
		sequencer: NewSequencer(),
		buffer: NewJitterBuffer(logger, JitterBufferConfig{
			MinMs:    cfg.Jitter.MinMs,
			MaxMs:    cfg.Jitter.MaxMs,
			TargetMs: cfg.Jitter.TargetMs,
		}),
		playback: NewPlaybackController(logger, PlaybackConfig{
			MinRate:       cfg.Playback.MinRate,
			MaxRate:       cfg.Playback.MaxRate,
			BaseRate:      cfg.Playback.BaseRate,
			LowWatermark:  cfg.Playback.LowWatermark,
			HighWatermark: cfg.Playback.HighWatermark,
			CrossfadeMs:   cfg.Playback.CrossfadeMs,
		}),
		chunker: NewChunker(logger, ChunkerConfig{
			MinMs:     cfg.Chunk.MinMs,
			MaxMs:     cfg.Chunk.MaxMs,
			DefaultMs: cfg.Chunk.DefaultMs,
		}),
		breathing: internal_voice.NewBreathingGenerator(logger, internal_voice.BreathingConfig{
			Enabled:   cfg.Breathing.Enabled,
			Intensity: cfg.Breathing.Intensity,
			MinMs:     cfg.Breathing.MinMs,
			MaxMs:     cfg.Breathing.MaxMs,
		}),
		pauses: internal_voice.NewPauseManager(logger, internal_voice.PauseConfig{
			Enabled:       cfg.Pauses.Enabled,
			Adaptive:      cfg.Pauses.Adaptive,
			SpeechRate:    cfg.Pauses.SpeechRate,
			CommaMs:       cfg.Pauses.CommaMs,
			PeriodMs:      cfg.Pauses.PeriodMs,
			QuestionMs:    cfg.Pauses.QuestionMs,
			ExclamationMs: cfg.Pauses.ExclamationMs,
			SentenceMs:    cfg.Pauses.SentenceMs,
		}),
		events: make(chan internal_type.Event, eventBuffer),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.upstream == nil {
		o.upstream = internal_upstream.NewClient(logger, internal_upstream.ClientConfig{
			BaseURL:  cfg.Upstream.BaseURL,
			APIKey:   cfg.Upstream.APIKey,
			Language: cfg.Upstream.Language,
		})
	}
	return o
}

// Events is the channel of pipeline events published to the owner.
func (o *Orchestrator) Events() <-chan internal_type.Event {
	return o.events
}

// Start begins the session, opens the upstream connection and launches the
// receive and playback tasks. A failed first dial is not fatal; the client
// keeps reconnecting in the background.
func (o *Orchestrator) Start(ctx context.Context) error {
	if err := o.session.Begin(); err != nil {
		return err
	}
	ctx, o.cancel = context.WithCancel(ctx)

	o.playback.Start()
	o.publish(internal_type.StartedEvent{})

	if err := o.upstream.Connect(ctx); err != nil {
		o.logger.Warnw("initial upstream connect failed, reconnecting in background",
			"session", o.session.ID(), "error", err)
	}

	o.tasks, ctx = errgroup.WithContext(ctx)
	o.tasks.Go(func() error { o.receiveLoop(ctx); return nil })
	o.tasks.Go(func() error { o.playbackLoop(ctx); return nil })
	return nil
}

// Wait blocks until the receive and playback tasks have exited. Call after
// Stop when teardown needs the pipeline fully quiesced.
func (o *Orchestrator) Wait() {
	if o.tasks != nil {
		o.tasks.Wait()
	}
}

// Stop is idempotent and wait-free. The stopped event is the last event
// published.
func (o *Orchestrator) Stop() {
	o.stopOnce.Do(func() {
		o.playback.Stop()
		o.upstream.Close()
		if o.cancel != nil {
			o.cancel()
		}
		o.buffer.Reset()
		o.publish(internal_type.StoppedEvent{})
		o.stopped.Store(true)
	})
}

// PushIngress transcodes one carrier frame and forwards it upstream. When
// the upstream is not open the frame is dropped silently; the carrier runs
// on its own clock and is never blocked or retried.
func (o *Orchestrator) PushIngress(frame []byte) error {
	if err := o.session.Guard(); err != nil {
		return err
	}
	if o.stopped.Load() || len(frame) == 0 {
		return nil
	}

	wide, err := o.codec.DecodeNarrowToWide(frame)
	if err != nil {
		o.codecErrors.Add(1)
		return err
	}
	if !o.upstreamOpen.Load() {
		o.ingressDropped.Add(1)
		return nil
	}
	if err := o.upstream.Send(wide); err != nil {
		o.ingressDropped.Add(1)
		return nil
	}
	o.ingressForwarded.Add(1)
	return nil
}

// Stats aggregates the current counters across all components.
func (o *Orchestrator) Stats() PipelineStats {
	return PipelineStats{
		FramesReceived:      o.framesReceived.Load(),
		FramesEmitted:       o.framesEmitted.Load(),
		IngressForwarded:    o.ingressForwarded.Load(),
		IngressDropped:      o.ingressDropped.Load(),
		TranscriptsReceived: o.transcripts.Load(),
		TokensReceived:      o.tokens.Load(),
		CodecErrors:         o.codecErrors.Load(),
		Jitter:              o.buffer.Stats(),
		Sequencer:           o.sequencer.Stats(),
		Playback:            o.playback.State(),
		CurrentRate:         o.playback.CurrentRate(),
	}
}

// ============================================================================
// Upstream receive task
// ============================================================================

func (o *Orchestrator) receiveLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-o.upstream.Inbound():
			if !ok {
				return
			}
			o.handleInbound(ev)
		}
	}
}

func (o *Orchestrator) handleInbound(ev internal_upstream.Inbound) {
	switch ev := ev.(type) {
	case internal_upstream.InboundConnected:
		o.upstreamOpen.Store(true)
		o.publish(internal_type.ConnectedEvent{ConnectionID: ev.ConnectionID})

	case internal_upstream.InboundDisconnected:
		// Never terminal for the call: the carrier leg stays up and egress
		// drains whatever is buffered.
		o.upstreamOpen.Store(false)
		o.publish(internal_type.DisconnectedEvent{Code: ev.Code, Reason: ev.Reason})

	case internal_upstream.InboundError:
		o.publish(internal_type.ErrorEvent{Kind: ev.Kind, Message: ev.Message})

	case internal_upstream.InboundAudio:
		o.ingestUpstreamAudio(ev.PCM)

	case internal_upstream.InboundTranscript:
		o.transcripts.Add(1)
		o.publish(internal_type.TranscriptEvent{Text: ev.Text})
		o.scheduleBreath(ev.Text)

	case internal_upstream.InboundToken:
		o.tokens.Add(1)
		o.publish(internal_type.TokenEvent{Text: ev.Text})
		o.textMu.Lock()
		o.fullText.WriteString(ev.Text)
		o.textMu.Unlock()
		o.schedulePauses(ev.Text)

	case internal_upstream.InboundDone:
		o.textMu.Lock()
		full := o.fullText.String()
		o.fullText.Reset()
		o.textMu.Unlock()
		o.publish(internal_type.GenerationDoneEvent{FullText: full})
	}
}

// ingestUpstreamAudio stamps a raw upstream PCM buffer and enqueues it.
func (o *Orchestrator) ingestUpstreamAudio(pcm []byte) {
	if len(pcm) == 0 {
		return
	}
	o.framesReceived.Add(1)
	duration := time.Duration(len(pcm)/internal_audio.WideBytesPerMs) * time.Millisecond
	frame := o.sequencer.Create(pcm, duration, 0)
	o.sequencer.Process(frame)
	o.buffer.Enqueue(frame)
	o.playback.UpdateBufferLevel(o.buffer.Level())
	o.observeNetwork()
}

// ProcessSequenced enqueues a frame that already carries pipeline metadata,
// classifying it first. Duplicates are dropped; a gap synthesizes one
// concealment frame per missing sequence so the ordering invariant holds
// through the buffer.
func (o *Orchestrator) ProcessSequenced(frame *internal_type.SequencedFrame) {
	o.framesReceived.Add(1)
	cls := o.sequencer.Process(frame)
	if cls.Duplicate {
		return
	}
	if cls.Gap {
		chunks := o.concealmentFrames(len(cls.Missing))
		for i, seq := range cls.Missing {
			o.buffer.Enqueue(&internal_type.SequencedFrame{
				Payload:  chunks[i],
				Sequence: seq,
				Duration: internal_type.NominalFrameDuration,
				Flags:    internal_type.FlagRetransmit,
			})
		}
		o.markDiscontinuity()
	}
	o.buffer.Enqueue(frame)
	o.playback.UpdateBufferLevel(o.buffer.Level())
	o.observeNetwork()
}

// observeNetwork feeds the buffer's arrival-spread measurement to the chunk
// manager, which sizes splice chunks from it.
func (o *Orchestrator) observeNetwork() {
	st := o.buffer.Stats()
	if st.Total < 2 {
		return
	}
	o.chunker.RecordJitter(st.JitterMs)
}

// concealmentFrames fades the whole gap in one piece and cuts it into n
// frames, rather than restarting the fade each frame.
func (o *Orchestrator) concealmentFrames(n int) [][]byte {
	o.tailMu.Lock()
	tail := o.lastTail
	o.tailMu.Unlock()
	full := o.playback.Conceal(tail, time.Duration(n)*internal_type.NominalFrameDuration)
	if n <= 1 {
		return [][]byte{full}
	}

	size := len(full) / n
	if size%2 != 0 {
		size--
	}
	chunks := make([][]byte, n)
	for i := 0; i < n; i++ {
		start := i * size
		end := start + size
		if i == n-1 {
			end = len(full)
		}
		chunks[i] = full[start:end]
	}
	return chunks
}

// ============================================================================
// Playback task
// ============================================================================

func (o *Orchestrator) playbackLoop(ctx context.Context) {
	timer := time.NewTimer(o.playback.TickPeriod(internal_type.NominalFrameDuration))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			emitted := o.tick()
			if emitted <= 0 {
				emitted = internal_type.NominalFrameDuration
			}
			timer.Reset(o.playback.TickPeriod(emitted))
		}
	}
}

// tick emits at most one narrow-band frame: a pending splice buffer first,
// then the next jitter-buffer frame, then a one-shot concealment fade when
// the buffer has run dry mid-stream. It returns the duration of the emitted
// audio so the loop can hold the next tick until it has played out; splice
// chunks may span several nominal frames.
func (o *Orchestrator) tick() time.Duration {
	if o.playback.State() != PlaybackPlaying && o.playback.State() != PlaybackBuffering {
		return 0
	}

	wide := o.popSplice()
	if wide == nil {
		if frame := o.buffer.Dequeue(); frame != nil {
			wide = frame.Payload
		}
		o.playback.UpdateBufferLevel(o.buffer.Level())
	}

	if wide == nil {
		o.concealOnce()
		return 0
	}
	o.emitWide(wide, true)
	return time.Duration(len(wide)/internal_audio.WideBytesPerMs) * time.Millisecond
}

// emitWide transcodes one wide-band buffer and hands it to the sink and the
// event stream. When rememberTail is set the buffer's tail seeds the next
// concealment and discontinuity blend.
func (o *Orchestrator) emitWide(wide []byte, rememberTail bool) {
	wide = o.blendIfDiscontinuous(wide)

	narrow, err := o.codec.EncodeWideToNarrow(wide)
	if err != nil {
		// Aborts this frame only.
		o.codecErrors.Add(1)
		o.logger.Warnw("egress transcode failed", "session", o.session.ID(), "error", err)
		return
	}

	if rememberTail {
		o.rememberTail(wide)
	}
	o.framesEmitted.Add(1)
	if o.sink != nil {
		o.sink(narrow)
	}
	o.publish(internal_type.AudioEvent{Frame: narrow})
}

// concealOnce emits a single fade-to-silence after the buffer runs dry,
// then goes quiet until fresh audio arrives. The carrier adapter covers
// longer outages with comfort silence.
func (o *Orchestrator) concealOnce() {
	o.tailMu.Lock()
	tail := o.lastTail
	o.lastTail = nil
	o.discontinuity = false
	o.tailMu.Unlock()

	if tail == nil {
		return
	}
	fade := o.playback.Conceal(tail, internal_type.NominalFrameDuration)
	o.emitWide(fade, false)
	// The next real frame ramps back in from silence.
	o.markDiscontinuity()
}

// blendIfDiscontinuous crossfades the head of the next buffer against the
// remembered tail after a splice, gap or concealment, so the seam does not
// click. Operates in place on the head; no added latency.
func (o *Orchestrator) blendIfDiscontinuous(wide []byte) []byte {
	o.tailMu.Lock()
	defer o.tailMu.Unlock()
	if !o.discontinuity {
		return wide
	}
	o.discontinuity = false

	tail := internal_audio.PCMToSamples(o.lastTail)
	head := internal_audio.PCMToSamples(wide)
	ramp := o.cfg.Playback.CrossfadeMs * internal_audio.WideSampleRate / 1000
	if ramp <= 0 || len(head) < ramp {
		return wide
	}

	out := make([]int16, len(head))
	copy(out, head)
	var anchor int16
	if len(tail) > 0 {
		anchor = tail[len(tail)-1]
	}
	for i := 0; i < ramp; i++ {
		gain := float64(i) / float64(ramp)
		faded := float64(anchor) * (1 - gain)
		out[i] = internal_audio.ClampSample(int(faded + float64(head[i])*gain))
	}
	return internal_audio.SamplesToPCM(out)
}

func (o *Orchestrator) rememberTail(wide []byte) {
	keep := o.cfg.Playback.CrossfadeMs * internal_audio.WideBytesPerMs
	if keep <= 0 || keep > len(wide) {
		keep = len(wide)
	}
	o.tailMu.Lock()
	o.lastTail = wide[len(wide)-keep:]
	o.tailMu.Unlock()
}

func (o *Orchestrator) markDiscontinuity() {
	o.tailMu.Lock()
	o.discontinuity = true
	o.tailMu.Unlock()
}

// ============================================================================
// Breathing and pauses
// ============================================================================

// scheduleBreath applies the insertion policy to a finished transcript
// sentence and queues the burst for the next playback ticks.
func (o *Orchestrator) scheduleBreath(text string) {
	if !o.breathing.Enabled() {
		return
	}
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return
	}
	words := len(strings.Fields(trimmed))
	atEnd := strings.ContainsAny(trimmed[len(trimmed)-1:], ".?!")

	ok, typ := o.breathing.ShouldInsert(words, atEnd, false)
	if !ok {
		return
	}
	burst := o.breathing.Generate(typ, 0)
	o.logger.Debugw("breathing burst scheduled",
		"session", o.session.ID(), "type", typ, "ms", len(burst)/internal_audio.WideBytesPerMs)
	o.pushSplice(burst)
}

// schedulePauses turns punctuation inside a token into spliced silence. A
// pause longer than the sentence-boundary duration also draws a breath, so
// the voice does not hang silent through it.
func (o *Orchestrator) schedulePauses(text string) {
	if !o.pauses.Enabled() {
		return
	}
	for _, point := range o.pauses.Analyze(text) {
		if point.Type == internal_voice.PauseSentence {
			continue
		}
		o.pushSplice(o.pauses.GeneratePause(point.DurationMs))
		if point.DurationMs > o.cfg.Pauses.SentenceMs {
			if ok, typ := o.breathing.ShouldInsert(0, false, true); ok {
				o.pushSplice(o.breathing.Generate(typ, 0))
			}
		}
	}
}

// pushSplice queues wide-band PCM for emission between jitter-buffer
// frames, cut at the chunk manager's current optimal size rounded down to a
// whole number of nominal frames.
func (o *Orchestrator) pushSplice(wide []byte) {
	if len(wide) == 0 {
		return
	}
	tickMs := int(internal_type.NominalFrameDuration.Milliseconds())
	chunkMs := o.chunker.OptimalChunkMs() / tickMs * tickMs
	if chunkMs < tickMs {
		chunkMs = tickMs
	}
	chunks := o.chunker.Split(wide, chunkMs)

	o.spliceMu.Lock()
	o.spliceQueue = append(o.spliceQueue, chunks...)
	o.spliceMu.Unlock()
	o.markDiscontinuity()
}

func (o *Orchestrator) popSplice() []byte {
	o.spliceMu.Lock()
	defer o.spliceMu.Unlock()
	if len(o.spliceQueue) == 0 {
		return nil
	}
	head := o.spliceQueue[0]
	o.spliceQueue = o.spliceQueue[1:]
	return head
}

// publish delivers an event without blocking. Nothing is published after
// the stopped event.
func (o *Orchestrator) publish(ev internal_type.Event) {
	if o.stopped.Load() {
		return
	}
	select {
	case o.events <- ev:
	default:
		o.logger.Warnw("event channel full, dropping event",
			"session", o.session.ID(), "event", ev)
	}
}
