package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	socketio "github.com/zishang520/socket.io/v2/socket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rithikrice/bondMatchPlus/config"
	"github.com/rithikrice/bondMatchPlus/core/broadcast"
	"github.com/rithikrice/bondMatchPlus/core/engine"
	"github.com/rithikrice/bondMatchPlus/core/ledger"
	"github.com/rithikrice/bondMatchPlus/handlers"
	"github.com/rithikrice/bondMatchPlus/logging"
	"github.com/rithikrice/bondMatchPlus/services"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var port string

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the auction API, scheduler and socket.io gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(port)
		},
	}
	serve.Flags().StringVar(&port, "port", "", "listen port (overrides PORT)")

	migrate := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the PostgreSQL schema and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate()
		},
	}

	root := &cobra.Command{
		Use:          "bondmatch",
		Short:        "Sealed uniform-price bond auction engine",
		SilenceUsage: true,
		RunE:         serve.RunE,
	}
	root.Flags().AddFlagSet(serve.Flags())
	root.AddCommand(serve, migrate)
	return root
}

func runMigrate() error {
	config.LoadEnv()
	s := config.Load()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if err := config.ConnectDB(ctx, s.DB); err != nil {
		return err
	}
	defer config.CloseDB()

	if err := ledger.NewPostgresStore(config.DB, s.StoreTimeout).Migrate(ctx); err != nil {
		return err
	}
	fmt.Println("✅ Schema applied")
	return nil
}

func runServe(port string) error {
	// 1. Config & Logging
	config.LoadEnv()
	s := config.Load()
	if port != "" {
		s.Port = port
	}

	log := logging.NewLoggerFromEnv(s.LogEnv, s.LogLevel)
	defer log.AtExit()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Storage
	var (
		store        ledger.Store
		participants services.ParticipantRepository
	)
	switch s.Store {
	case "memory":
		store = ledger.NewMemoryStore()
		participants = services.NewMemoryParticipants()
		log.Warn("⚠️ using in-memory ledger, nothing survives a restart")
	case "postgres":
		if err := config.ConnectDB(ctx, s.DB); err != nil {
			return err
		}
		defer config.CloseDB()
		pg := ledger.NewPostgresStore(config.DB, s.StoreTimeout)
		if err := pg.Migrate(ctx); err != nil {
			return err
		}
		store = pg
		participants = services.NewPostgresParticipants(config.DB)
	default:
		return fmt.Errorf("unknown STORE %q (want memory or postgres)", s.Store)
	}

	// 3. Socket.IO and delta fan-out
	io := socketio.NewServer(nil, nil)
	handlers.RegisterSocketEvents(io, s.JWTSecret)
	socketPub := broadcast.NewSocketPublisher(io)

	var (
		pub      broadcast.Publisher = socketPub
		redisPub *broadcast.RedisPublisher
	)
	if s.Redis.Enabled {
		if err := config.ConnectRedis(ctx, s.Redis); err != nil {
			return err
		}
		defer config.CloseRedis()
		// every instance relays from Redis, so local deltas go out only through it
		redisPub = broadcast.NewRedisPublisher(config.RedisMain, s.SubscriberBuffer*16, log)
		pub = redisPub
	}

	// 4. Engine, Scheduler and Services
	eng := engine.New(store,
		engine.WithLogger(log),
		engine.WithPublisher(pub),
		engine.WithMinLive(s.MinLiveDuration),
		engine.WithStoreTimeout(s.StoreTimeout),
		engine.WithSubscriberBuffer(s.SubscriberBuffer),
	)
	sched := engine.NewScheduler(eng, log, s.ReconcileSpec)

	services.GlobalAuctionService = services.NewAuctionService(eng, sched, log)
	services.GlobalParticipantService = services.NewParticipantService(participants, s.JWTSecret, s.TokenTTL, log)
	if err := services.GlobalParticipantService.EnsureAdmin(ctx, s.AdminUsername, s.AdminPassword); err != nil {
		return err
	}

	// 5. Fiber App
	app := fiber.New(fiber.Config{
		BodyLimit:             s.BodyLimit,
		DisableStartupMessage: true,
	})
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, HEAD, PUT, DELETE, PATCH, OPTIONS",
	}))

	health := handlers.Health(fiber.Map{"store": s.Store, "redis": s.Redis.Enabled})
	app.Get("/", health)
	app.Get("/health", health)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
	app.All("/socket.io/*", adaptor.HTTPHandler(io.ServeHandler(nil)))
	handlers.SetupRoutes(app, s.JWTSecret)

	// 6. Run until a signal or the first failure
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := sched.Start(gctx); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
		<-gctx.Done()
		sched.Stop()
		return nil
	})

	if redisPub != nil {
		g.Go(func() error { return redisPub.Run(gctx) })
		g.Go(func() error { return broadcast.Relay(gctx, config.RedisSub, socketPub, log) })
	}
	if s.Store == "postgres" {
		g.Go(func() error {
			config.MonitorDB(gctx)
			return nil
		})
	}

	g.Go(func() error {
		log.Info("🚀 listening", zap.String("port", s.Port), zap.String("store", s.Store), zap.Bool("redis", s.Redis.Enabled))
		return app.Listen(":" + s.Port)
	})
	g.Go(func() error {
		<-gctx.Done()
		return app.ShutdownWithTimeout(10 * time.Second)
	})

	if err := g.Wait(); err != nil {
		log.Error("server stopped", zap.Error(err))
		return err
	}
	log.Info("👋 shut down cleanly")
	return nil
}
