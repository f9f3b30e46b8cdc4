package factory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"bizdir/internal/config"
	"bizdir/internal/events"
	"bizdir/internal/hashing"
	"bizdir/internal/mailer"
	"bizdir/internal/ratelimit"
	"bizdir/internal/regstore"
	mongorepo "bizdir/internal/repository/mongo"
	"bizdir/internal/service"
	"bizdir/internal/token"
	"bizdir/internal/util"
)

// Factory manages the lifecycle of all application dependencies
type Factory struct {
	config *config.Config

	// Clients
	mongoClient *mongorepo.Client
	publisher   *events.Publisher

	// Managers
	hasher   *hashing.Hasher
	issuer   *token.Issuer
	regStore *regstore.Store
	mail     mailer.Mailer

	// Limiters
	resendLimiter *ratelimit.IntervalLimiter
	emailWindow   *ratelimit.SlidingWindowLimiter
	reportWindow  *ratelimit.SlidingWindowLimiter

	// Repositories and services
	accountRepository mongorepo.AccountRepository
	serviceFactory    *service.ServiceFactory

	closeOnce sync.Once
	closed    chan struct{}
}

// NewFactory creates and initializes all application dependencies
func NewFactory() (*Factory, error) {
	cfg := config.LoadConfig()

	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	factory := &Factory{
		config: cfg,
		closed: make(chan struct{}),
	}

	if err := factory.initializeClients(); err != nil {
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}

	if err := factory.initializeManagers(); err != nil {
		return nil, fmt.Errorf("failed to initialize managers: %w", err)
	}

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.Bool("tls_enabled", cfg.Server.EnableTLS),
		util.Bool("kafka_enabled", cfg.Kafka.Enabled),
	)

	return factory, nil
}

// initializeClients initializes external service clients with health checks
func (f *Factory) initializeClients() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// MongoDB is the system of record; failure here is fatal.
	client, err := mongorepo.NewClient(f.config, util.Get())
	if err != nil {
		return fmt.Errorf("mongo: %w", err)
	}
	f.mongoClient = client
	if err := f.mongoClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mongo health check: %w", err)
	}
	util.Info("MongoDB client initialized and healthy")

	// Kafka is best-effort; identity events are advisory.
	if f.config.Kafka.Enabled {
		publisher, err := events.NewPublisher(f.config.Kafka, util.Get())
		if err != nil {
			util.Warn("Kafka publisher initialization failed - proceeding without events", util.ErrorField(err))
		} else {
			f.publisher = publisher
			util.Info("Kafka publisher initialized")
		}
	}

	return nil
}

// initializeManagers initializes hashing, tokens, the registration store,
// mailer and rate limiters
func (f *Factory) initializeManagers() error {
	f.hasher = hashing.NewHasher(hashing.DefaultParams)

	issuer, err := token.NewIssuer(token.Config{
		AccessSecret:  []byte(f.config.Auth.AccessSecret),
		RefreshSecret: []byte(f.config.Auth.RefreshSecret),
		AccessTTL:     f.config.Auth.AccessTTL,
		RefreshTTL:    f.config.Auth.RefreshTTL,
		Issuer:        f.config.Auth.Issuer,
		Leeway:        f.config.Auth.Leeway,
	})
	if err != nil {
		return fmt.Errorf("token issuer: %w", err)
	}
	f.issuer = issuer

	f.regStore = regstore.New(f.config.Registration.Capacity, f.config.Registration.TTL, util.Get())
	f.mail = mailer.NewSMTPMailer(f.config.SMTP, util.Get())

	f.resendLimiter = ratelimit.NewIntervalLimiter(f.config.RateLimit.ResendInterval)
	f.emailWindow = ratelimit.NewSlidingWindowLimiter(f.config.RateLimit.EmailMax, f.config.RateLimit.EmailWindow)
	f.reportWindow = ratelimit.NewSlidingWindowLimiter(f.config.RateLimit.ReportMax, f.config.RateLimit.ReportWindow)

	util.Info("Managers initialized successfully",
		util.Bool("hashing_initialized", f.hasher != nil),
		util.Bool("issuer_initialized", f.issuer != nil),
		util.Int("registration_capacity", f.config.Registration.Capacity),
	)

	return nil
}

// AccountRepository returns the account repository (singleton)
func (f *Factory) AccountRepository() mongorepo.AccountRepository {
	if f.accountRepository == nil {
		f.accountRepository = mongorepo.NewAccountRepository(f.mongoClient, util.Get())
	}
	return f.accountRepository
}

// ServiceFactory returns the service factory (singleton)
func (f *Factory) ServiceFactory() *service.ServiceFactory {
	if f.serviceFactory == nil {
		f.serviceFactory = service.NewServiceFactory(
			f.AccountRepository(),
			f.hasher,
			f.issuer,
			f.regStore,
			f.resendLimiter,
			f.emailWindow,
			f.mail,
			f.publisher,
			f.config,
			util.Get(),
		)
	}
	return f.serviceFactory
}

// HealthCheck reports the health of the backing dependencies
func (f *Factory) HealthCheck(ctx context.Context) error {
	if f.mongoClient == nil {
		return fmt.Errorf("mongo client not initialized")
	}
	return f.mongoClient.HealthCheck(ctx)
}

// Close shuts down all dependencies in reverse order of initialization
func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		close(f.closed)
		util.Info("Shutting down factory...")

		if f.serviceFactory != nil {
			f.serviceFactory.Cleanup()
			util.Info("Service factory cleaned up")
		}

		if f.regStore != nil {
			f.regStore.Stop()
			util.Info("Registration store sweeper stopped")
		}

		if f.publisher != nil {
			if err := f.publisher.Close(); err != nil {
				util.Error("Failed to close Kafka publisher", util.ErrorField(err))
			} else {
				util.Info("Kafka publisher closed")
			}
		}

		if f.mongoClient != nil {
			if err := f.mongoClient.Close(context.Background()); err != nil {
				util.Error("Failed to close MongoDB client", util.ErrorField(err))
			} else {
				util.Info("MongoDB client closed")
			}
		}

		util.Sync()
		util.Info("Factory shutdown completed")
	})

	return nil
}

// WaitForClose blocks until Close has run
func (f *Factory) WaitForClose() {
	<-f.closed
}

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) Issuer() *token.Issuer {
	return f.issuer
}

func (f *Factory) RegStore() *regstore.Store {
	return f.regStore
}

// ReportWindow returns the per-IP sliding-window limiter for abuse-report
// submissions. The report endpoints live with the directory CRUD handlers,
// outside this module; the limiter is built here so every rate limit is
// configured in one place.
func (f *Factory) ReportWindow() *ratelimit.SlidingWindowLimiter {
	return f.reportWindow
}
