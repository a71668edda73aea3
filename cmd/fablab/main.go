package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"

	"github.com/example/fablab-backend/internal/application"
	"github.com/example/fablab-backend/internal/config"
	httptransport "github.com/example/fablab-backend/internal/http"
	"github.com/example/fablab-backend/internal/liveness"
	"github.com/example/fablab-backend/internal/messaging"
	"github.com/example/fablab-backend/internal/persistence/sqlite"
)

type options struct {
	configPath  string
	envFile     string
	migrateOnly bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts, err := parseFlags(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	if err := run(ctx, opts, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "fablab:", err)
		os.Exit(1)
	}
}

func parseFlags(args []string) (options, error) {
	var opts options
	flags := pflag.NewFlagSet("fablab", pflag.ContinueOnError)
	flags.StringVarP(&opts.configPath, "config", "c", "", "path to a YAML configuration file")
	flags.StringVar(&opts.envFile, "env-file", "", "path to a .env file; its values never override the environment")
	flags.BoolVar(&opts.migrateOnly, "migrate-only", false, "apply database migrations and exit")
	if err := flags.Parse(args); err != nil {
		return options{}, err
	}
	if flags.NArg() > 0 {
		return options{}, fmt.Errorf("unexpected arguments: %v", flags.Args())
	}
	return opts, nil
}

// run wires the process and blocks until ctx ends or the HTTP server fails.
func run(ctx context.Context, opts options, stdout io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cfg, err := config.Load(opts.configPath, opts.envFile)
	if err != nil {
		return err
	}
	logger, err := config.NewLogger(cfg.Log, stdout)
	if err != nil {
		return err
	}

	store, err := openStore(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			logger.Error("failed to close storage", "error", cerr)
		}
	}()
	if opts.migrateOnly {
		return nil
	}

	livenessStore, closeLiveness, err := newLivenessStore(ctx, cfg.Liveness, logger)
	if err != nil {
		return err
	}
	defer closeLiveness()

	now := time.Now
	cards := application.NewCardCache(cfg.Cards.Size, cfg.Cards.TTL)
	catalog := application.NewCatalogServiceWithLogger(store, logger)
	users := application.NewUserServiceWithLogger(store, cards, logger)
	machines := application.NewMachineServiceWithLogger(store, logger)
	interventions := application.NewInterventionServiceWithLogger(store, now, logger)
	sessions := application.NewUsageSessionManagerWithLogger(store, cards, now, logger)
	engine := application.NewAuthorizationEngineWithLogger(store, cards, logger)
	tracker := liveness.NewTracker(livenessStore, now, logger)

	var wg sync.WaitGroup
	if cfg.Messaging.Enabled() {
		publisher, err := startMessaging(ctx, &wg, messagingConfig(cfg.Messaging), tracker, engine, logger)
		if err != nil {
			return err
		}
		defer func() {
			if cerr := publisher.Close(); cerr != nil {
				logger.Warn("failed to close publisher", "error", cerr)
			}
		}()
	} else {
		logger.Info("messaging disabled; no machine events will be consumed")
	}

	router := httptransport.NewRouter(httptransport.RouterConfig{
		Catalog:       httptransport.NewCatalogHandler(catalog, logger),
		Users:         httptransport.NewUserHandler(users, logger),
		Machines:      httptransport.NewMachineHandler(machines, logger),
		Interventions: httptransport.NewInterventionHandler(interventions, logger),
		Usage:         httptransport.NewUsageHandler(sessions, engine, logger),
		Liveness:      httptransport.NewLivenessHandler(tracker, store, cfg.Liveness.StaleAfter, logger),
		Logger:        logger,
		Metrics:       true,
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("failed to shutdown server", "error", err)
		}
	}()

	logger.Info("fablab API listening", "addr", server.Addr)
	err = server.ListenAndServe()
	cancel()
	wg.Wait()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server encountered error: %w", err)
	}
	logger.Info("fablab stopped")
	return nil
}

// openStore opens the SQLite store and brings its schema up to date.
func openStore(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (*sqlite.Store, error) {
	dbConfig := sqlite.DefaultConfig(cfg.Path)
	dbConfig.BusyTimeout = cfg.BusyTimeout

	store, err := sqlite.Open(ctx, dbConfig, sqlite.WithOpTimeout(cfg.StoreTimeout))
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	version, err := store.Migrate(ctx)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}
	logger.Info("database ready", "path", cfg.Path, "schema_version", version)
	return store, nil
}

// newLivenessStore shares liveness state through Redis when an address is
// configured and keeps it in process memory otherwise.
func newLivenessStore(ctx context.Context, cfg config.LivenessConfig, logger *slog.Logger) (liveness.Store, func(), error) {
	if cfg.RedisAddr == "" {
		return liveness.NewMemoryStore(), func() {}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("failed to reach redis at %s: %w", cfg.RedisAddr, err)
	}

	logger.Info("liveness state shared through redis", "addr", cfg.RedisAddr, "db", cfg.RedisDB)
	return liveness.NewRedisStore(client, ""), func() {
		if err := client.Close(); err != nil {
			logger.Warn("failed to close redis client", "error", err)
		}
	}, nil
}

func messagingConfig(cfg config.MessagingConfig) messaging.Config {
	return messaging.Config{
		URL:            cfg.URL,
		Exchange:       cfg.Exchange,
		MachineTopic:   cfg.MachineTopic,
		ReplyTopic:     cfg.ReplyTopic,
		ConnectMessage: cfg.ConnectMessage,
		AliveMessage:   cfg.AliveMessage,
	}
}

// startMessaging consumes machine events in the background until ctx ends.
func startMessaging(ctx context.Context, wg *sync.WaitGroup, cfg messaging.Config, tracker *liveness.Tracker, engine *application.AuthorizationEngine, logger *slog.Logger) (*messaging.Publisher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid messaging configuration: %w", err)
	}

	publisher := messaging.NewPublisher(cfg, logger)
	dispatcher := messaging.NewDispatcher(cfg, tracker,
		messaging.WithAuthorizer(engine, publisher),
		messaging.WithLogger(logger),
		messaging.WithRawMessageHandler(func(ctx context.Context, routingKey string, body []byte) {
			logger.DebugContext(ctx, "machine message received", "routing_key", routingKey, "size", len(body))
		}),
	)
	subscriber := messaging.NewSubscriber(cfg, dispatcher, logger)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := subscriber.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("subscriber stopped", "error", err)
		}
	}()

	logger.Info("consuming machine events", "exchange", cfg.Exchange, "topic", cfg.MachineTopic)
	return publisher, nil
}
