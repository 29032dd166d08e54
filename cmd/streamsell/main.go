package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/streamsell/streamsell/internal/catalog"
	"github.com/streamsell/streamsell/internal/chat"
	"github.com/streamsell/streamsell/internal/client"
	"github.com/streamsell/streamsell/internal/config"
	"github.com/streamsell/streamsell/internal/conversation"
	"github.com/streamsell/streamsell/internal/db"
	"github.com/streamsell/streamsell/internal/event"
	"github.com/streamsell/streamsell/internal/handler"
	"github.com/streamsell/streamsell/internal/order"
	"github.com/streamsell/streamsell/internal/payment"
	"github.com/streamsell/streamsell/internal/sched"
	"github.com/streamsell/streamsell/internal/template"
	"github.com/streamsell/streamsell/internal/trust"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Str("service", "streamsell").Logger()

	cfg, err := config.Load(".env")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		productRepo catalog.Repository
		orderRepo   order.Repository
		clientRepo  client.Repository
	)
	if cfg.Postgres.Enabled {
		pg, err := db.New(ctx, cfg)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to database")
		}
		defer pg.Close()
		productRepo = catalog.NewPostgresRepository(pg.Pool)
		orderRepo = order.NewPostgresRepository(pg.Pool)
		clientRepo = client.NewPostgresRepository(pg.Pool)
	} else {
		log.Warn().Msg("DB_HOST not set, running on in-memory stores")
		productRepo = catalog.NewMemoryRepository()
		orderRepo = order.NewMemoryRepository()
		clientRepo = client.NewMemoryRepository()
	}

	var (
		stateStore conversation.Store
		dedup      payment.Dedup
	)
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to redis")
		}
		defer rdb.Close()
		stateStore = conversation.NewRedisStore(rdb, cfg.Conversation.StateTTL)
		dedup = payment.NewRedisDedup(rdb, 24*time.Hour)
		log.Info().Str("addr", cfg.Redis.Addr).Msg("Connected to Redis")
	} else {
		stateStore = conversation.NewMemoryStore(cfg.Conversation.StateTTL)
		dedup = payment.NewMemoryDedup(24 * time.Hour)
	}

	var publisher event.Publisher = event.Noop{}
	if cfg.Kafka.Enabled {
		publisher = event.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.App.Name, 256)
		log.Info().Strs("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.Topic).Msg("Kafka publisher enabled")
	}
	defer publisher.Close()

	scheduler := sched.New()
	defer scheduler.Stop()

	engine := trust.NewEngine()

	orderSvc := order.NewService(orderRepo, productRepo, clientRepo, engine, scheduler, publisher,
		order.Config{
			ReminderFraction: cfg.Orders.ReminderFraction,
			ReminderMinimum:  cfg.Orders.ReminderMinimum,
		})

	provider := payment.LinkProvider{BaseURL: cfg.Payment.LinkBaseURL}
	renderer := template.NewRenderer(cfg.Locale, "FCFA")
	transport := chat.LogTransport{Logger: log.Logger}

	machine := conversation.NewMachine(stateStore, productRepo, clientRepo, engine, orderSvc,
		provider, renderer, transport, template.SegmentLiveSeller)
	orderSvc.SetEvents(machine)

	payments := payment.NewHandler(orderSvc, provider, dedup)

	// reconcile reservations whose timers were lost across a restart
	if err := orderSvc.SweepExpired(ctx); err != nil {
		log.Error().Err(err).Msg("Startup sweep failed")
	}
	go orderSvc.RunSweeper(ctx, cfg.Orders.SweepInterval)

	h := handler.NewHandler(machine, payments, orderSvc, productRepo, clientRepo, engine)
	router := handler.NewRouter(h)

	server := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.App.Port).Msg("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, syscall.SIGINT, syscall.SIGTERM)
	<-stopCh

	log.Info().Msg("Shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown failed")
	}

	log.Info().Msg("Stopped gracefully")
}
