// Copyright 2026 The Hearth Authors
// SPDX-License-Identifier: Apache-2.0

// hearth-client joins a voice channel: it connects to the signaling
// relay, negotiates peer links, and optionally runs a local capture
// stream through the audio pipeline onto the outbound microphone
// track.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	ossignal "os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/spf13/pflag"

	"github.com/hearth-chat/hearth/audio"
	"github.com/hearth-chat/hearth/lib/config"
	"github.com/hearth-chat/hearth/lib/version"
	"github.com/hearth-chat/hearth/session"
	"github.com/hearth-chat/hearth/signal"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := pflag.String("config", "", "path to hearth.yaml (default: $HEARTH_CONFIG)")
	channelID := pflag.Int64("channel", 0, "channel to join (required)")
	identity := pflag.String("identity", "", "local user identity (required)")
	displayName := pflag.String("display-name", "", "display name announced to peers")
	tokenPath := pflag.String("token-file", "", "file holding the relay auth token (default: $HEARTH_TOKEN)")
	capturePath := pflag.String("capture", "", "raw float32 PCM capture stream, \"-\" for stdin")
	logLevel := pflag.String("log-level", "info", "log level: debug, info, warn, error")
	showVersion := pflag.Bool("version", false, "print version and exit")
	pflag.Parse()

	if *showVersion {
		fmt.Printf("hearth-client %s\n", version.Info())
		return nil
	}
	if *channelID == 0 {
		return fmt.Errorf("--channel is required")
	}
	if *identity == "" {
		return fmt.Errorf("--identity is required")
	}

	logger, err := newLogger(*logLevel)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	token, err := loadToken(*tokenPath)
	if err != nil {
		return err
	}

	ctx, stop := ossignal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Audio pipeline, when a capture stream is configured. The
	// processed stream feeds the outbound microphone track and the
	// level meter.
	var pipeline *audio.Pipeline
	var micTrack *webrtc.TrackLocalStaticSample
	if *capturePath != "" {
		source, closeSource, err := openCapture(*capturePath)
		if err != nil {
			return err
		}
		defer closeSource()
		pipeline, err = buildPipeline(source, cfg.Audio)
		if err != nil {
			return err
		}
		defer pipeline.Close()
		micTrack, err = webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{
			MimeType:  "audio/L16",
			ClockRate: uint32(pipeline.Config().SampleRate),
			Channels:  1,
		}, "audio", "hearth")
		if err != nil {
			return fmt.Errorf("creating audio track: %w", err)
		}
	}
	var audioTrack webrtc.TrackLocal
	if micTrack != nil {
		audioTrack = micTrack
	}

	// The manager reacts to transport drops: bulk teardown on
	// disconnect, re-announce on recovery. The client is built first,
	// so the callback resolves the manager through this variable.
	var mgr *session.Manager

	client, err := signal.New(signal.Config{
		URL:   cfg.Relay.URL,
		Token: signal.StaticToken(token),
		Backoff: signal.Backoff{
			Base:        cfg.Relay.Backoff.Base,
			Max:         cfg.Relay.Backoff.Max,
			Multiplier:  cfg.Relay.Backoff.Multiplier,
			MaxAttempts: cfg.Relay.Backoff.MaxAttempts,
		},
		QueueCapacity:     cfg.Relay.QueueCapacity,
		MaxSendAttempts:   cfg.Relay.MaxSendAttempts,
		HeartbeatInterval: cfg.Relay.HeartbeatInterval,
		OnStateChange: func(s signal.State) {
			logger.Info("transport state", "state", s)
			if mgr != nil {
				mgr.HandleTransportState(s)
			}
		},
	}, logger)
	if err != nil {
		return fmt.Errorf("creating signaling client: %w", err)
	}
	defer client.Close()

	mgr, err = session.NewManager(session.Config{
		Transport:          client,
		PeerFactory:        session.PionFactory(iceOptions(cfg.RTC)),
		CandidateBufferCap: cfg.RTC.CandidateBufferCap,
		GracePeriod:        cfg.RTC.GracePeriod,
		QualityInterval:    cfg.RTC.QualityInterval,
		AudioTrack:         audioTrack,
		OnRoster: func(ev session.RosterEvent) {
			logger.Info("roster", "kind", ev.Kind, "peer", ev.Participant.Identity,
				"name", ev.Participant.DisplayName)
		},
		OnQuality: func(report session.QualityReport) {
			logger.Debug("quality", "peer", report.PeerID, "rtt", report.RTT,
				"jitter", report.Jitter, "lost", report.PacketsLost)
		},
		OnError: func(rec session.ErrorRecord) {
			logger.Warn("peer error", "peer", rec.PeerID, "message", rec.Message,
				"retries", rec.Retries)
		},
	}, logger)
	if err != nil {
		return fmt.Errorf("creating session manager: %w", err)
	}
	defer mgr.Close()

	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connecting to relay %s: %w", cfg.Relay.URL, err)
	}
	if err := mgr.JoinChannel(*channelID, *identity, session.PresencePayload{
		DisplayName: *displayName,
	}); err != nil {
		return fmt.Errorf("joining channel %d: %w", *channelID, err)
	}
	logger.Info("joined channel", "channel", *channelID, "identity", *identity)

	if pipeline != nil {
		go func() {
			err := audio.FeedTrack(ctx, pipeline, micTrack, int(pipeline.Config().SampleRate))
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("capture stream", "error", err)
			}
		}()
		go levelLoop(ctx, pipeline, mgr, logger)
	}

	<-ctx.Done()
	logger.Info("shutting down")

	if err := mgr.LeaveChannel(); err != nil {
		logger.Warn("leaving channel", "error", err)
	}
	client.Disconnect()
	return nil
}

func newLogger(level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q", level)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})), nil
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}

func loadToken(path string) (string, error) {
	if path == "" {
		if token := os.Getenv("HEARTH_TOKEN"); token != "" {
			return token, nil
		}
		return "", fmt.Errorf("no auth token: set HEARTH_TOKEN or pass --token-file")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading token: %w", err)
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", fmt.Errorf("token file %s is empty", path)
	}
	return token, nil
}

func iceOptions(cfg config.RTCConfig) session.ICEOptions {
	opts := session.ICEOptions{RelayOnly: cfg.RelayOnly}
	for _, server := range cfg.ICEServers {
		entry := webrtc.ICEServer{URLs: server.URLs}
		if server.Username != "" {
			entry.Username = server.Username
			entry.Credential = server.Credential
		}
		opts.Servers = append(opts.Servers, entry)
	}
	return opts
}

func buildPipeline(source audio.Source, cfg config.AudioConfig) (*audio.Pipeline, error) {
	audioCfg := audio.DefaultConfig()
	if cfg.Preset != "" {
		var err error
		audioCfg, err = audio.Preset(cfg.Preset)
		if err != nil {
			return nil, err
		}
	}
	if cfg.GateThresholdDB != 0 {
		audioCfg.Gate.ThresholdDB = cfg.GateThresholdDB
	}
	return audio.Build(source, audioCfg)
}

// levelLoop samples the capture level, derives the local speaking
// flag from the gate threshold, and logs the level periodically.
func levelLoop(ctx context.Context, pipeline *audio.Pipeline, mgr *session.Manager, logger *slog.Logger) {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	ticks := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			level := pipeline.CurrentLevel()
			if err := mgr.SetSpeaking(level >= pipeline.Config().Gate.ThresholdDB); err != nil {
				return
			}
			if ticks++; ticks%20 == 0 {
				logger.Debug("capture level", "dbfs", level)
			}
		}
	}
}

func openCapture(path string) (audio.Source, func() error, error) {
	if path == "-" {
		return newPCMSource(os.Stdin), func() error { return nil }, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening capture stream: %w", err)
	}
	return newPCMSource(f), f.Close, nil
}
