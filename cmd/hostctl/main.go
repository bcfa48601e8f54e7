// Package main is a terminal host driver: it starts a broadcast through the
// stream service, joins the media channel and takes call commands from stdin.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/aura-webinar/livehost/config"
	"github.com/aura-webinar/livehost/internal/broadcast"
	"github.com/aura-webinar/livehost/internal/callbridge"
	"github.com/aura-webinar/livehost/internal/eventloop"
	"github.com/aura-webinar/livehost/internal/media"
	"github.com/aura-webinar/livehost/internal/models"
	"github.com/aura-webinar/livehost/internal/restapi"
	"github.com/aura-webinar/livehost/internal/signaling"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}
	if cfg.Host.Token == "" {
		logger.Fatal("HOST_TOKEN is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("hostctl", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	api, err := restapi.New(cfg.Host.APIURL, cfg.Host.Token, cfg.Host.RequestTimeout, logger)
	if err != nil {
		return err
	}
	var mic *media.PCM
	if cfg.Host.MicWAV != "" {
		if mic, err = media.LoadWAV(cfg.Host.MicWAV); err != nil {
			return fmt.Errorf("load microphone audio: %w", err)
		}
	}

	loop := eventloop.New(logger)
	loopCtx, stopLoop := context.WithCancel(context.WithoutCancel(ctx))
	defer stopLoop()
	g := new(errgroup.Group)
	g.Go(func() error { return loop.Run(loopCtx) })

	var engine *media.LiveKit
	ctrl := broadcast.New(broadcast.Config{
		Rates:             callbridge.Rates{Voice: cfg.Billing.VoiceRate, Video: cfg.Billing.VideoRate},
		HeartbeatInterval: cfg.Host.Heartbeat,
		ReconcileDelay:    cfg.Host.ReconcileDelay,
		MatchTimeout:      cfg.Host.MatchTimeout,
		RequestTimeout:    cfg.Host.RequestTimeout,
		TranscriptSize:    cfg.Host.TranscriptSize,
		TimerTolerance:    cfg.Host.TimerTolerance,
	}, broadcast.Deps{
		API: api,
		NewEngine: func() (media.Engine, error) {
			engine = media.NewLiveKit(logger)
			return engine, nil
		},
		DialSignal: func(ctx context.Context, streamID string) (broadcast.Signal, error) {
			sig, err := signaling.Connect(ctx, signaling.Config{URL: cfg.Host.SignalingURL, Token: cfg.Host.Token}, streamID, logger)
			if err != nil {
				return nil, err
			}
			return sig, nil
		},
		Scheduler: loop,
		Presenter: newConsole(os.Stdout),
		Logger:    logger,
	})

	info, err := api.StartStream(ctx, restapi.StartStreamRequest{Kind: models.CallKind(cfg.Host.Kind), Title: cfg.Host.Title})
	if err != nil {
		stopLoop()
		_ = g.Wait()
		return fmt.Errorf("start stream: %w", err)
	}
	if err := ctrl.Start(ctx, info); err != nil {
		endCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Host.RequestTimeout)
		if endErr := api.EndStream(endCtx, info.ID.String()); endErr != nil {
			logger.Warn("end stream after failed start", zap.Error(endErr))
		}
		cancel()
		stopLoop()
		_ = g.Wait()
		return fmt.Errorf("go live: %w", err)
	}
	fmt.Println("live on", info.Channel, "-", usage)
	if mic != nil {
		g.Go(func() error {
			if err := media.PlayPCM(loopCtx, engine, mic, 10*time.Millisecond); err != nil {
				logger.Warn("microphone playback stopped", zap.Error(err))
			}
			return nil
		})
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

read:
	for {
		select {
		case <-ctx.Done():
			break read
		case line, ok := <-lines:
			if !ok {
				break read
			}
			out, err := dispatch(ctx, ctrl, line)
			if errors.Is(err, errQuit) {
				break read
			}
			if err != nil {
				fmt.Println("error:", err)
				continue
			}
			if out != "" {
				fmt.Println(out)
			}
		}
	}

	ctrl.End(context.WithoutCancel(ctx))
	stopLoop()
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.OutputPaths = []string{"stderr"}
	logger, _ := config.Build()
	return logger
}
