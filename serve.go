package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/sync/errgroup"

	"space-chat/internal/auth"
	"space-chat/internal/config"
	"space-chat/internal/fanout"
	"space-chat/internal/grpc"
	"space-chat/internal/handlers"
	"space-chat/internal/membership"
	"space-chat/internal/middleware"
	"space-chat/internal/moderation"
	"space-chat/internal/observability"
	"space-chat/internal/permissions"
	"space-chat/internal/pipeline"
	"space-chat/internal/presence"
	"space-chat/internal/rabbitmq"
	"space-chat/internal/ratelimit"
	"space-chat/internal/roomlock"
	"space-chat/internal/spaces"
	"space-chat/internal/telemetry"
	"space-chat/internal/ws"
)

const (
	serviceName     = "space-chat"
	shutdownTimeout = 10 * time.Second
)

func newServeCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP, websocket and gRPC listeners",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			observability.SetupLogger(cfg.Log.Level, cfg.Log.Pretty, cfg.NodeID)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger := log.With().Str("module", "main").Logger()

	shutdownTracing, err := observability.SetupTracing(ctx, cfg.Otel.Endpoint, serviceName, cfg.Environment)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = shutdownTracing(sctx)
	}()

	publisher := rabbitmq.NewPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange)
	defer publisher.Close()
	observability.SetPublisher(publisher)
	audit := telemetry.NewAuditEmitter(publisher, cfg.AMQP.AuditRoutingKey, serviceName, cfg.Environment)
	logger.Info().Str("mode", rabbitmq.PublisherMode(publisher)).Str("reason", rabbitmq.PublisherNoopReason(publisher)).Msg("audit publisher ready")

	st, err := openStores(ctx, cfg.DB)
	if err != nil {
		return err
	}
	defer st.close()

	var rdb *redis.Client
	if cfg.Fanout.Driver == "redis" || cfg.Presence.Driver == "redis" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping %s: %w", cfg.Redis.Addr, err)
		}
	}

	bus, err := openBus(cfg, rdb)
	if err != nil {
		return err
	}
	defer bus.Close()

	registry := ws.NewRegistry()
	broadcaster := fanout.NewBroadcaster(cfg.NodeID, registry, bus)
	if bus.Name() != "local" {
		broadcaster.WithReorderWindow(cfg.Fanout.ReorderWindow)
	}
	if err := broadcaster.Start(ctx); err != nil {
		return err
	}

	var tracker presence.Tracker = presence.NewMemoryTracker()
	if cfg.Presence.Driver == "redis" {
		tracker = presence.NewRedisTracker(rdb, cfg.Presence.TTL)
	}

	perms := permissions.NewEvaluator(st.roles, st.bans)
	locks := roomlock.New()
	limiter := ratelimit.New(cfg.RateLimit.Limit, cfg.RateLimit.Interval)

	members := membership.NewService(st.rooms, st.spaces, st.bans, perms, registry, broadcaster, locks)
	messages := pipeline.NewService(pipeline.Stores{
		Rooms:     st.rooms,
		Spaces:    st.spaces,
		Messages:  st.messages,
		Reactions: st.reactions,
	}, perms, broadcaster, locks, limiter, cfg.Message.MaxLength)
	mod := moderation.NewService(st.spaces, st.roles, st.bans, members, perms, broadcaster, audit)
	spaceSvc := spaces.NewService(st.spaces, audit)

	validator := auth.NewJWTValidator(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	wsHandler := ws.NewHandler(validator, registry, members, messages, tracker, broadcaster, ws.ConnectionConfig{
		WriteWait:  cfg.WS.WriteWait,
		PingPeriod: cfg.WS.PingPeriod,
		PongWait:   cfg.WS.PongWait,
		ReadLimit:  cfg.WS.ReadLimit,
		SendBuffer: cfg.WS.SendBuffer,
	})

	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), otelgin.Middleware(serviceName), observability.HTTPMetricsMiddleware(), handlers.RequestID())
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/healthz", healthz(st.pinger))
	router.GET("/ws", wsHandler.Handle)
	handlers.RegisterDebugRoutes(router, handlers.DebugDeps{
		Audit:    audit,
		Sessions: registry,
		Presence: tracker,
		Locks:    locks,
		NodeID:   cfg.NodeID,
	}, cfg.Debug)

	api := router.Group("", middleware.AuthMiddleware(validator))
	handlers.RegisterRoutes(api,
		handlers.NewSpaceHandler(spaceSvc, members, mod),
		handlers.NewRoomHandler(members, messages),
	)

	httpServer := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	grpcServer := grpc.NewServer(st.pinger, 10*time.Second)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", cfg.HTTP.Addr).Str("db", cfg.DB.Driver).Str("fanout", bus.Name()).Msg("http listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		lis, err := net.Listen("tcp", cfg.GRPC.Addr)
		if err != nil {
			return fmt.Errorf("grpc listen %s: %w", cfg.GRPC.Addr, err)
		}
		return grpcServer.Serve(gctx, lis)
	})
	g.Go(func() error {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				limiter.Sweep()
			}
		}
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Int("sessions", registry.Count()).Msg("shutting down")
		registry.CloseAll(websocket.CloseGoingAway, "server shutdown")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(sctx)
	})
	return g.Wait()
}

func openBus(cfg *config.Config, rdb *redis.Client) (fanout.Bus, error) {
	switch cfg.Fanout.Driver {
	case "redis":
		return fanout.NewRedisBus(rdb, cfg.Fanout.Channel), nil
	case "nats":
		nc, err := fanout.ConnectNATS(cfg.NATS.URL, serviceName+"-"+cfg.NodeID)
		if err != nil {
			return nil, err
		}
		return fanout.NewNATSBus(nc, cfg.Fanout.Channel), nil
	default:
		return fanout.NewLocalBus(), nil
	}
}

func healthz(pinger grpc.Pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if pinger != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := pinger.PingContext(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}
