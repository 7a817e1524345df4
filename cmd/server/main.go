// Package main is the entry point for the RAG monitoring service.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/oremus-labs/ragmon/config"
	"github.com/oremus-labs/ragmon/internal/api"
	"github.com/oremus-labs/ragmon/internal/events"
	"github.com/oremus-labs/ragmon/internal/graphqlapi"
	"github.com/oremus-labs/ragmon/internal/handlers"
	"github.com/oremus-labs/ragmon/internal/ingest"
	"github.com/oremus-labs/ragmon/internal/monitor"
	"github.com/oremus-labs/ragmon/internal/proxy"
	"github.com/oremus-labs/ragmon/internal/redisx"
	"github.com/oremus-labs/ragmon/internal/store"
	"github.com/oremus-labs/ragmon/internal/worker"
)

const (
	version         = "0.3.0"
	shutdownTimeout = 5 * time.Second
)

func main() {
	// Initialize logging
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Printf("Starting RAG monitor v%s", version)

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	// Load configuration
	cfg := config.Load()
	log.Printf("Configuration loaded - Retention: %s, Datastore: %s, Redis: %t, NATS: %t",
		cfg.RetentionWindow, cfg.DataStoreDriver, cfg.RedisAddr != "", cfg.NATSURL != "")

	redisClient, err := redisx.NewClient(redisx.Config{
		Addr:        cfg.RedisAddr,
		Username:    cfg.RedisUsername,
		Password:    cfg.RedisPassword,
		DB:          cfg.RedisDB,
		TLSEnabled:  cfg.RedisTLSEnabled,
		TLSInsecure: cfg.RedisTLSInsecure,
	})
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	if redisClient == nil {
		log.Printf("REDIS_ADDR not set; running a single replica without the Redis stream source")
	}

	bus := events.NewBus(events.Options{
		Client:  redisClient,
		Logger:  log.Default(),
		Channel: cfg.EventsChannel,
	})

	stateStore, err := store.Open(cfg.DataStoreDSN, cfg.DataStoreDriver)
	if err != nil {
		log.Fatalf("Failed to open datastore: %v", err)
	}
	defer stateStore.Close()

	eventStore := monitor.NewEventStore(monitor.EventStoreOptions{
		Retention: cfg.RetentionWindow,
		Publisher: bus,
		History:   stateStore,
		OnError: func(op string, err error) {
			log.Printf("Event store %s failed: %v", op, err)
		},
	})
	if history, err := stateStore.RecentEvents(rootCtx, time.Now().Add(-cfg.RetentionWindow), cfg.HistoryLimit); err != nil {
		log.Printf("Failed to restore event history: %v", err)
	} else {
		eventStore.Load(history)
		log.Printf("Restored %d events from %s history", len(history), stateStore.Driver())
	}

	registry := monitor.NewInstanceRegistry(monitor.RegistryOptions{
		ActivityWindow: cfg.ActivityWindow,
		OfflineWindow:  cfg.OfflineWindow,
	})
	// Other replicas consume their share of the ingest group; their events
	// arrive over the bus.
	bus.OnRemote(monitor.RemoteHandler(eventStore, registry))

	deps := handlers.Dependencies{
		Events:    eventStore,
		Instances: registry,
		Feed:      bus,
		Proxy:     proxy.New(eventStore, &http.Client{Timeout: cfg.ProxyTimeout}),
		Commands:  stateStore,
	}

	pipeline := ingest.NewPipeline(eventStore, registry, ingest.DecodeOptions{DefaultPort: cfg.DefaultAppPort})
	var sources []ingest.Source
	if redisClient != nil {
		sources = append(sources, ingest.NewRedisStreamSource(redisClient, ingest.RedisStreamOptions{
			Stream: cfg.IngestStream,
			Group:  cfg.IngestGroup,
		}))
		deps.Publisher = ingest.NewProducer(redisClient, cfg.IngestStream)
	}
	if cfg.NATSURL != "" {
		natsSource, err := ingest.DialNATS(ingest.NATSOptions{
			URL:     cfg.NATSURL,
			Subject: cfg.NATSSubject,
			Queue:   cfg.NATSQueue,
		})
		if err != nil {
			log.Fatalf("Failed to connect to NATS: %v", err)
		}
		defer natsSource.Close()
		sources = append(sources, natsSource)
		if deps.Publisher == nil {
			deps.Publisher = natsSource
		}
	}
	if len(sources) == 0 {
		log.Printf("No ingest source configured; events will only arrive through the dev publish endpoint")
	}
	go pipeline.Run(rootCtx, sources...)

	runner := worker.New(worker.Options{
		Events:    eventStore,
		Instances: registry,
		History:   stateStore,
		Retention: cfg.HistoryMaxAge,
		Logger:    log.Default(),
		Interval:  cfg.PruneInterval,
	})
	go func() {
		_ = runner.Run(rootCtx)
	}()

	handler := handlers.New(deps, handlers.Options{
		Version:           version,
		DevMode:           cfg.DevMode,
		HeartbeatInterval: cfg.HeartbeatInterval,
		InstancesInterval: cfg.InstancesInterval,
	})
	gqlHandler, err := graphqlapi.NewHandler(graphqlapi.Config{
		Events:    eventStore,
		Instances: registry,
		Commands:  stateStore,
	})
	if err != nil {
		log.Fatalf("Failed to build GraphQL schema: %v", err)
	}
	server := api.NewServer(handler, api.Options{
		APIToken:           cfg.APIToken,
		AllowAnonymousRead: cfg.AllowAnonymousRead,
		DevMode:            cfg.DevMode,
		GraphQLHandler:     gqlHandler,
	})
	if cfg.APIToken == "" {
		log.Printf("RAGMON_API_TOKEN not set; API authentication disabled")
	}

	log.Printf("Server listening on :%s", cfg.ServerPort)
	srv := server.Start(":"+cfg.ServerPort, func(err error) {
		log.Fatalf("Failed to start server: %v", err)
	})

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	rootCancel()
	log.Println("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}
	bus.Close()
	closeRedis(redisClient)

	log.Println("Server stopped")
}

func closeRedis(client redis.UniversalClient) {
	if client == nil {
		return
	}
	if err := client.Close(); err != nil {
		log.Printf("Failed to close Redis client: %v", err)
	}
}
