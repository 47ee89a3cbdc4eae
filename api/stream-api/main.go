// stream-api bridges telephony carrier media streams to the upstream
// conversation service: per-call duplex audio transcoding, jitter buffering,
// paced playback and text event fan-out.

package main

import (
	"context"
	"flag"
	"math"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/voxbridgeai/api/stream-api/config"
	internal_audio "github.com/voxbridgeai/api/stream-api/internal/audio"
	internal_pipeline "github.com/voxbridgeai/api/stream-api/internal/pipeline"
	internal_session "github.com/voxbridgeai/api/stream-api/internal/session"
	internal_type "github.com/voxbridgeai/api/stream-api/internal/type"
	"github.com/voxbridgeai/pkg/commons"
	"github.com/voxbridgeai/pkg/utils"
)

func main() {
	demo := flag.Bool("demo", false, "drive one loopback call with a synthetic caller tone")
	flag.Parse()

	vConfig, err := config.InitConfig()
	if err != nil {
		panic(err)
	}
	appConfig, err := config.GetApplicationConfig(vConfig)
	if err != nil {
		panic(err)
	}

	logger, err := newLogger(appConfig)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	logger.Infow("stream-api starting",
		"service", appConfig.Name, "version", appConfig.Version,
		"upstream", appConfig.UpstreamBaseURL)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("shutting down")
		cancel()
	}()

	registry := internal_session.NewRegistry(logger)
	tokens := internal_session.NewTokenStore()

	if *demo {
		if err := runDemoCall(ctx, logger, appConfig, registry, tokens); err != nil {
			logger.Errorf("demo call failed: %v", err)
			os.Exit(1)
		}
		return
	}

	// Carrier transports attach sessions through the registry; without one
	// configured there is nothing to serve beyond the demo flow.
	logger.Info("no carrier transport configured, run with -demo against the loopback example")
	<-ctx.Done()
}

// newLogger selects rotating-file logging when LOG_FILE is set, stdout-only
// otherwise.
func newLogger(appConfig *config.AppConfig) (commons.Logger, error) {
	if appConfig.LogFile != "" {
		return commons.NewRotatingLogger(appConfig.LogFile, appConfig.LogLevel)
	}
	return commons.NewApplicationLogger()
}

// runDemoCall stands up one full pipeline against the configured upstream
// and feeds it a synthetic caller tone until the context ends.
func runDemoCall(ctx context.Context, logger commons.Logger, appConfig *config.AppConfig, registry *internal_session.Registry, tokens *internal_session.TokenStore) error {
	pipelineCfg := config.DefaultPipelineConfig()
	pipelineCfg.Upstream = config.UpstreamConfig{
		BaseURL:  appConfig.UpstreamBaseURL,
		APIKey:   appConfig.UpstreamApiKey,
		Language: appConfig.UpstreamLanguage,
	}
	if err := pipelineCfg.Validate(); err != nil {
		return err
	}

	var egressFrames atomic.Uint64
	session := internal_session.NewCallSession(logger, internal_session.DirectionInbound,
		func(frame []byte) { egressFrames.Add(1) },
		internal_session.WithMetadata("caller", "demo"))

	// The handshake a carrier transport would perform.
	streamToken := tokens.Issue(session.ID())
	sessionID, err := tokens.Validate(streamToken)
	if err != nil {
		return err
	}
	logger.Infow("stream token validated", "session", sessionID)

	orchestrator := internal_pipeline.NewOrchestrator(logger, pipelineCfg, session,
		internal_pipeline.WithEgressSink(session.Emit))
	registry.Register(session, orchestrator)

	if err := session.Ring(); err != nil {
		return err
	}
	if err := orchestrator.Start(ctx); err != nil {
		return err
	}

	utils.Go(func() { logEvents(logger, orchestrator) })

	// 440 Hz caller tone, one carrier frame per tick.
	ticker := time.NewTicker(internal_type.NominalFrameDuration)
	defer ticker.Stop()
	statsEvery := time.NewTicker(5 * time.Second)
	defer statsEvery.Stop()

	codec := internal_audio.NewCodec(logger)
	var phase float64
	for {
		select {
		case <-ctx.Done():
			registry.OnTeardown(session.ID(), "demo finished")
			orchestrator.Wait()
			logger.Infow("demo call done",
				"egress_frames", egressFrames.Load(), "status", session.Status())
			return nil
		case <-statsEvery.C:
			logger.Infow("pipeline stats", "stats", orchestrator.Stats())
		case <-ticker.C:
			frame, next := toneFrame(codec, phase)
			phase = next
			if err := registry.OnIngress(session.ID(), frame); err != nil {
				return err
			}
		}
	}
}

func logEvents(logger commons.Logger, orchestrator *internal_pipeline.Orchestrator) {
	for ev := range orchestrator.Events() {
		switch ev := ev.(type) {
		case internal_type.AudioEvent:
			// One per tick, too chatty for the demo log.
		case internal_type.TranscriptEvent:
			logger.Infow("transcript", "text", ev.Text)
		case internal_type.GenerationDoneEvent:
			logger.Infow("generation done", "text", ev.FullText)
		case internal_type.ErrorEvent:
			logger.Warnw("pipeline error", "kind", ev.Kind, "message", ev.Message)
		case internal_type.StoppedEvent:
			return
		default:
			logger.Debugw("pipeline event", "event", ev)
		}
	}
}

// toneFrame synthesizes one 20 ms companded carrier frame of a 440 Hz tone.
func toneFrame(codec *internal_audio.Codec, phase float64) ([]byte, float64) {
	const (
		samples   = 160 // 20 ms at 8 kHz
		frequency = 440.0
		amplitude = 0.3 * math.MaxInt16
	)
	wide := make([]int16, samples*2)
	for i := range wide {
		wide[i] = int16(amplitude * math.Sin(phase))
		phase += 2 * math.Pi * frequency / internal_audio.WideSampleRate
	}
	// Reuse the egress transcode to get on-the-wire companded bytes.
	narrow, err := codec.EncodeWideToNarrow(internal_audio.SamplesToPCM(wide))
	if err != nil {
		return make([]byte, samples), phase
	}
	return narrow, phase
}
