// Package main runs the live stream service: REST endpoints for hosts and
// the signaling hub, with graceful shutdown.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/aura-webinar/livehost/config"
	"github.com/aura-webinar/livehost/internal/analytics"
	"github.com/aura-webinar/livehost/internal/auth"
	"github.com/aura-webinar/livehost/internal/callbridge"
	"github.com/aura-webinar/livehost/internal/calls"
	"github.com/aura-webinar/livehost/internal/middleware"
	"github.com/aura-webinar/livehost/internal/realtime"
	"github.com/aura-webinar/livehost/internal/sessionlog"
	"github.com/aura-webinar/livehost/internal/streams"
	"github.com/aura-webinar/livehost/internal/transport"
	"github.com/aura-webinar/livehost/pkg/database"
	"github.com/aura-webinar/livehost/pkg/redis"
	"github.com/aura-webinar/livehost/pkg/response"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("server", zap.Error(err))
	}
	logger.Info("server stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), cfg.Database.MaxConns, logger)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	var (
		pub realtime.Publisher
		sub realtime.Subscriber
	)
	if rdb != nil {
		defer rdb.Close()
		ps := realtime.NewRedisPubSub(rdb.Client, logger)
		pub, sub = ps, ps
	}

	issuer, err := newIssuer(cfg.Transport)
	if err != nil {
		return fmt.Errorf("transport: %w", err)
	}

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	hub := realtime.NewHub(realtime.HubConfig{
		MaxCallDuration:   cfg.Hub.MaxCallDuration,
		TimerSyncInterval: cfg.Hub.TimerSyncInterval,
		MessageRate:       cfg.Hub.MessageRate,
		MessageBurst:      cfg.Hub.MessageBurst,
	}, logger, pub, sub)
	defer hub.Close()

	// Calls
	callRepo := calls.NewRepository(pool)
	callHandler := calls.NewHandler(callRepo, callbridge.Rates{Voice: cfg.Billing.VoiceRate, Video: cfg.Billing.VideoRate}, logger)

	// Streams (peak viewers from hub audience changes)
	streamRepo := streams.NewRepository(pool)
	streamHandler := streams.NewHandler(streamRepo, issuer, hub, callHandler, logger)
	hub.SetAudienceChangeHandler(streamHandler.TrackAudience(context.WithoutCancel(ctx)))

	// Viewer join/leave log and stream stats
	viewerLogRepo := sessionlog.NewRepository(pool)
	viewerLogHandler := sessionlog.NewHandler(viewerLogRepo, logger)
	hub.SetViewerLogger(viewerLogHandler.Hooks(cfg.Server.WriteTimeout))
	analyticsHandler := analytics.NewHandler(viewerLogRepo, callRepo, hub)

	wsValidate := func(token string) (realtime.Identity, error) {
		claims, err := jwtService.Validate(token)
		if err != nil {
			return realtime.Identity{}, err
		}
		return realtime.Identity{UserID: claims.UserID, UserName: claims.Name, Role: claims.Role}, nil
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	router.GET("/health", func(c *gin.Context) {
		if err := pool.Ping(c.Request.Context()); err != nil {
			response.ServiceUnavailable(c, "database unavailable")
			return
		}
		response.OK(c, gin.H{"status": "ok", "transport": issuer.Provider()})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Protected API (JWT required)
	api := router.Group("/api/v1", middleware.JWT(jwtService))
	hostOnly := middleware.RequireRole(auth.RoleHost)
	streamHandler.Register(api, hostOnly)
	ownStream := streams.RequireStream(streamRepo, true)
	callHandler.Register(api, hostOnly, ownStream)
	owned := api.Group("/streams/:id", hostOnly, ownStream)
	owned.GET("/viewers", viewerLogHandler.GetViewers)
	owned.GET("/stats", analyticsHandler.GetByStream)

	// WebSocket (token in query; no Authorization header required)
	router.GET("/ws", realtime.ServeWs(hub, logger, wsValidate, streamHandler.HostCheck()))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      otelhttp.NewHandler(router, "livehost"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server listening", zap.String("port", cfg.Server.Port), zap.String("transport", issuer.Provider()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown", zap.Error(err))
		}
		return nil
	})
	return g.Wait()
}

func newIssuer(cfg config.TransportConfig) (transport.Issuer, error) {
	var (
		issuer transport.Issuer
		err    error
	)
	switch cfg.Provider {
	case "livekit":
		issuer, err = transport.NewLiveKit(cfg.LiveKitURL, cfg.LiveKitKey, cfg.LiveKitSecret)
	case "zego":
		issuer, err = transport.NewZego(cfg.ZegoAppID, cfg.ZegoSecret)
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	return transport.WithTTL(issuer, cfg.TokenTTL), nil
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
