// vocalis - live voice-and-text conversation client.
// Streams microphone audio to a realtime service, assembles the
// conversation transcript, and serves both over a local HTTP API.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vocalis-ai/vocalis/internal/config"
	"github.com/vocalis-ai/vocalis/internal/log"
	"github.com/vocalis-ai/vocalis/pkg/audioio"
	"github.com/vocalis-ai/vocalis/pkg/realtime"
	"github.com/vocalis-ai/vocalis/pkg/session"
	"github.com/vocalis-ai/vocalis/pkg/tts"
	"github.com/vocalis-ai/vocalis/pkg/web"
)

func main() {
	cfg, err := parseFlags()
	if err != nil {
		log.Error("configuration error", "error", err)
		os.Exit(1)
	}

	log.Init(cfg.LogLevel)
	logger := log.L()

	engine := audioio.NewEngine(audioio.Config{
		Backend:    audioio.Backend(cfg.Audio.Backend),
		SampleRate: cfg.Audio.SampleRate,
		BlockSize:  cfg.Audio.BlockSize,
	}, logger)

	client := realtime.NewClient(cfg.Realtime.Endpoint, cfg.Realtime.APIKey, logger)

	var speaker *tts.Speaker
	if cfg.TTS.APIKey != "" {
		provider, err := tts.NewGemini(
			tts.WithAPIKey(cfg.TTS.APIKey),
			tts.WithBaseURL(cfg.TTS.Endpoint),
			tts.WithVoice(cfg.TTS.Voice),
			tts.WithMaxAttempts(cfg.TTS.MaxAttempts),
			tts.WithLogger(logger),
		)
		if err != nil {
			log.Error("speech synthesis setup failed", "error", err)
			os.Exit(1)
		}
		defer provider.Close()
		sink, err := audioio.NewPortAudioSink(logger)
		if err != nil {
			log.Error("playback setup failed", "error", err)
			os.Exit(1)
		}
		defer sink.Close()
		speaker = tts.NewSpeaker(provider, sink, logger)
	} else {
		logger.Info("no synthesis key configured, read-aloud disabled")
	}

	sess := session.New(client, engine, speaker, logger)
	defer sess.Disconnect()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if cfg.Listen != "" {
		srv := web.NewServer(cfg.Listen, sess, logger)
		if speaker != nil {
			speaker.OnPlaybackStart = func(itemID string, wav []byte) {
				srv.BroadcastAudio(wav)
			}
		}
		go func() {
			if err := srv.Start(); err != nil {
				log.Error("web server failed", "error", err)
				cancel()
			}
		}()
		defer func() {
			shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
			defer stop()
			srv.Shutdown(shutdownCtx)
		}()
	}

	sessionCfg := realtime.DefaultSessionConfig()
	sessionCfg.Instructions = cfg.Realtime.Instructions
	sessionCfg.Voice = cfg.Realtime.Voice
	sessionCfg.TranscriptionModel = cfg.Realtime.TranscriptionModel
	sessionCfg.TurnDetection = cfg.Realtime.TurnDetection

	if err := sess.Connect(sessionCfg); err != nil {
		log.Error("connect failed", "error", err)
		if cfg.Listen == "" {
			os.Exit(1)
		}
		// With the API up the user can retry via POST /api/connect.
	}

	<-ctx.Done()
	logger.Info("shutting down")
}

// parseFlags builds the configuration from flags, an optional config
// file, and environment variables.
func parseFlags() (config.Config, error) {
	configPath := flag.String("config", "", "Path to YAML config file")
	listen := flag.String("listen", "", "HTTP listen address (e.g. :8090)")
	backend := flag.String("audio-backend", "", "Capture backend: portaudio, mock")
	voice := flag.String("voice", "", "Assistant voice id")
	instructions := flag.String("instructions", "", "System prompt for the session")
	logLevel := flag.String("log-level", "", "Log level: debug, info, warn, error")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return cfg, err
	}

	if *listen != "" {
		cfg.Listen = *listen
	}
	if *backend != "" {
		cfg.Audio.Backend = *backend
	}
	if *voice != "" {
		cfg.Realtime.Voice = *voice
	}
	if *instructions != "" {
		cfg.Realtime.Instructions = *instructions
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	return cfg, cfg.Validate()
}
