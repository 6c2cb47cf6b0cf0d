package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/hanko-field/pos/internal/handlers"
	"github.com/hanko-field/pos/internal/platform/config"
	pfirestore "github.com/hanko-field/pos/internal/platform/firestore"
	"github.com/hanko-field/pos/internal/platform/jobs"
	"github.com/hanko-field/pos/internal/platform/observability"
	"github.com/hanko-field/pos/internal/platform/schedule"
	"github.com/hanko-field/pos/internal/platform/secrets"
	firestoreRepo "github.com/hanko-field/pos/internal/repositories/firestore"
	"github.com/hanko-field/pos/internal/repositories/rest"
	"github.com/hanko-field/pos/internal/services"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "pos: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()

	level, _, err := config.Lookup("LOG_LEVEL")
	if err != nil {
		return fmt.Errorf("read LOG_LEVEL: %w", err)
	}
	baseLogger, err := observability.NewLogger(level)
	if err != nil {
		return fmt.Errorf("initialise logger: %w", err)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()
	logger := baseLogger.Named("pos")

	fetcher, err := newSecretFetcher(ctx, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx, config.WithSecretResolver(fetcher))
	if err != nil {
		var validation *config.ValidationError
		if errors.As(err, &validation) {
			logger.Error("invalid configuration", zap.Strings("fields", validation.Fields()))
		}
		return fmt.Errorf("load configuration: %w", err)
	}
	logger = logger.With(zap.String("terminal_id", cfg.Session.TerminalID))
	events := observability.EventLogger(logger)

	client, err := rest.NewClient(rest.Options{
		BaseURL:         cfg.Backend.BaseURL,
		Token:           cfg.Backend.Token,
		Timeout:         cfg.Backend.Timeout,
		BreakerFailures: uint32(cfg.Backend.BreakerFailures),
		BreakerCooldown: cfg.Backend.BreakerCooldown,
		OnBreakerChange: func(name string, from, to gobreaker.State) {
			logger.Warn("backend circuit breaker state changed",
				zap.String("breaker", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})
	if err != nil {
		return fmt.Errorf("initialise backend client: %w", err)
	}

	var registryOpts []rest.RegistryOption
	if cfg.HeldOrders.Store == config.HeldOrderStoreFirestore {
		provider := pfirestore.NewProvider(cfg.Firestore)
		held, err := firestoreRepo.NewHeldOrderRepository(firestoreRepo.HeldOrderDeps{
			Provider:   provider,
			OperatorID: cfg.Session.OperatorID,
			TerminalID: cfg.Session.TerminalID,
		})
		if err != nil {
			return fmt.Errorf("initialise firestore held orders: %w", err)
		}
		registryOpts = append(registryOpts, rest.WithHeldOrders(held, provider.Close))
		logger.Info("held orders stored in firestore", zap.String("project", cfg.Firestore.ProjectID))
	}

	registry, err := rest.NewRegistry(client, registryOpts...)
	if err != nil {
		return fmt.Errorf("initialise repositories: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := registry.Close(closeCtx); err != nil {
			logger.Warn("repository close error", zap.Error(err))
		}
	}()

	register, err := newRegister(cfg, registry, events)
	if err != nil {
		return err
	}
	defer register.Close()

	if cfg.PubSub.SalesTopic != "" {
		pubsubClient, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return fmt.Errorf("initialise pubsub client: %w", err)
		}
		defer func() {
			if err := pubsubClient.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}()
		topic := pubsubClient.Topic(cfg.PubSub.SalesTopic)
		defer topic.Stop()

		publisher, err := jobs.NewSalePublisher(jobs.SalePublisherDeps{
			Topic:      topic,
			OperatorID: cfg.Session.OperatorID,
			TerminalID: cfg.Session.TerminalID,
			Logger:     events,
		})
		if err != nil {
			return fmt.Errorf("initialise sale publisher: %w", err)
		}
		register.OnSaleCompleted(publisher.OnSaleCompleted())
	}

	warmCtx, cancelWarm := context.WithTimeout(ctx, cfg.Session.RemoteTimeout)
	if err := register.Start(warmCtx); err != nil {
		logger.Warn("register warm-up incomplete", zap.Error(err))
	}
	cancelWarm()

	router := handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.Trace(),
			observability.RequestLogger(logger.Named("http"), cfg.Session.TerminalID, cfg.Session.OperatorID),
			observability.Recovery(logger),
		),
		handlers.WithHealthHandlers(handlers.NewHealthHandlers(handlers.WithHealthInfo(cfg.Session.TerminalID, version))),
		handlers.WithRegisterRoutes(handlers.NewRegisterHandlers(register).Routes),
	)

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-shutdown:
		logger.Info("shutdown signal received; draining requests")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	return nil
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger) (*secrets.Fetcher, error) {
	projectID, _, err := config.Lookup("POS_SECRETS_PROJECT_ID")
	if err != nil {
		return nil, fmt.Errorf("read secrets project: %w", err)
	}
	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithProject(projectID),
	}
	if fallback, ok, err := config.Lookup("POS_SECRETS_FALLBACK_FILE"); err != nil {
		return nil, fmt.Errorf("read secrets fallback file: %w", err)
	} else if ok && fallback != "" {
		opts = append(opts, secrets.WithFallbackFile(fallback))
	}
	fetcher, err := secrets.NewFetcher(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("initialise secret fetcher: %w", err)
	}
	return fetcher, nil
}

func newRegister(cfg config.Config, registry *rest.Registry, logger func(context.Context, string, map[string]any)) (*services.Register, error) {
	catalog, err := services.NewCatalogLookup(services.CatalogLookupDeps{Repository: registry.Catalog(), Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("initialise catalog lookup: %w", err)
	}
	held, err := services.NewHeldOrderSynchronizer(services.HeldOrderSynchronizerDeps{
		Repository:    registry.HeldOrders(),
		Scheduler:     schedule.System(),
		Interval:      cfg.Session.AutoSaveInterval,
		RemoteTimeout: cfg.Session.RemoteTimeout,
		Logger:        logger,
	})
	if err != nil {
		return nil, fmt.Errorf("initialise held orders: %w", err)
	}
	checkout, err := services.NewCheckoutService(services.CheckoutServiceDeps{Sales: registry.Sales(), Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("initialise checkout: %w", err)
	}
	customers, err := services.NewCustomerDirectory(services.CustomerDirectoryDeps{
		Repository:  registry.Customers(),
		LoadTimeout: cfg.Session.RemoteTimeout,
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("initialise customer directory: %w", err)
	}
	pricing, err := services.NewPricingEngine(services.PricingEngineDeps{
		TaxEnabled: cfg.Pricing.TaxEnabled,
		TaxRate:    cfg.Pricing.TaxRate,
	})
	if err != nil {
		return nil, fmt.Errorf("initialise pricing: %w", err)
	}

	register, err := services.NewRegister(services.RegisterDeps{
		Catalog:    catalog,
		HeldOrders: held,
		Checkout:   checkout,
		Customers:  customers,
		Pricing:    pricing,
		OperatorID: cfg.Session.OperatorID,
		TerminalID: cfg.Session.TerminalID,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("initialise register: %w", err)
	}
	return register, nil
}
