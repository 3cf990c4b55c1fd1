package factory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"otp-auth-service/internal/audit"
	"otp-auth-service/internal/bucketing"
	"otp-auth-service/internal/client"
	"otp-auth-service/internal/config"
	"otp-auth-service/internal/encryption"
	"otp-auth-service/internal/handler"
	"otp-auth-service/internal/hashing"
	"otp-auth-service/internal/repository/memory"
	redisrepo "otp-auth-service/internal/repository/redis"
	"otp-auth-service/internal/repository/scylla"
	"otp-auth-service/internal/service"
	"otp-auth-service/internal/sweeper"
	"otp-auth-service/internal/tls"
	"otp-auth-service/internal/token"
	"otp-auth-service/internal/util"
)

// Factory wires and owns the lifecycle of all application dependencies.
// In development a missing Redis or Scylla falls back to the in-process
// stores; in production every required backend must come up healthy.
type Factory struct {
	config     *config.Config
	tlsManager *tls.Manager

	redisClient      *client.RedisClient
	scyllaClient     *scylla.ScyllaClient
	kafkaProducer    *client.KafkaProducer
	clickhouseClient *client.ClickHouseClient

	hasher            *hashing.Hasher
	encryptionManager *encryption.Manager
	bucketingManager  *bucketing.Manager
	tokenManager      *token.Manager

	otpStore service.OTPStore
	ledger   service.SignupLedger
	tokens   service.TokenStore
	users    service.UserDirectory
	recorder *audit.Recorder

	serviceFactory *service.ServiceFactory
	sweeper        *sweeper.Sweeper

	closeOnce sync.Once
	closed    chan struct{}
}

// NewFactory loads config, initializes logging and brings up every client.
func NewFactory() (*Factory, error) {
	cfg := config.LoadConfig()

	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	f := &Factory{
		config: cfg,
		closed: make(chan struct{}),
	}

	if cfg.Server.EnableTLS {
		f.tlsManager = tls.NewManager(cfg)
	}

	if err := f.initializeClients(); err != nil {
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}

	if err := f.initializeManagers(); err != nil {
		return nil, fmt.Errorf("failed to initialize managers: %w", err)
	}
	f.initializeStores()

	util.Info("factory initialized",
		util.String("environment", cfg.Environment),
		util.Bool("tls_enabled", cfg.Server.EnableTLS),
		util.Bool("kms_enabled", cfg.KMS.Enabled),
		util.Bool("redis_backed", f.redisClient != nil),
		util.Bool("scylla_backed", f.scyllaClient != nil),
	)

	return f, nil
}

func (f *Factory) initializeClients() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var initErrors []error

	if c, err := client.NewRedisClient(f.config); err != nil {
		initErrors = append(initErrors, fmt.Errorf("redis: %w", err))
	} else {
		f.redisClient = c
		if err := f.redisClient.HealthCheck(ctx); err != nil {
			initErrors = append(initErrors, fmt.Errorf("redis health check: %w", err))
			f.redisClient = nil
		}
	}

	if c, err := scylla.NewScyllaClient(f.config); err != nil {
		initErrors = append(initErrors, fmt.Errorf("scylla: %w", err))
	} else {
		f.scyllaClient = c
		if err := f.scyllaClient.HealthCheck(); err != nil {
			initErrors = append(initErrors, fmt.Errorf("scylla health check: %w", err))
			f.scyllaClient = nil
		}
	}

	if f.config.Kafka.Enabled {
		if producer, err := client.NewKafkaProducer(f.config); err != nil {
			util.Warn("Kafka producer initialization failed - proceeding without Kafka",
				util.ErrorField(err))
		} else {
			f.kafkaProducer = producer
		}
	}

	if f.config.Clickhouse.Enabled {
		if c, err := client.NewClickHouseClient(f.config); err != nil {
			util.Warn("ClickHouse initialization failed - proceeding without ClickHouse",
				util.ErrorField(err))
		} else {
			f.clickhouseClient = c
		}
	}

	if len(initErrors) > 0 {
		if f.config.IsProduction() {
			return fmt.Errorf("critical service initialization failed: %v", initErrors)
		}
		for _, err := range initErrors {
			util.Warn("falling back to in-process store", util.ErrorField(err))
		}
	}

	return nil
}

func (f *Factory) initializeManagers() error {
	f.hasher = hashing.NewHasher(f.config)
	f.bucketingManager = bucketing.NewManager(f.config)
	f.tokenManager = token.NewManager(f.config)

	em, err := encryption.NewManager(f.config)
	if err != nil {
		return err
	}
	f.encryptionManager = em
	return nil
}

func (f *Factory) initializeStores() {
	cfg := f.config

	if f.redisClient != nil {
		f.otpStore = redisrepo.NewOTPStore(f.redisClient,
			cfg.OTP.TTL, cfg.OTP.MaxAttempts, cfg.OTP.RequestLimit, cfg.OTP.RequestWindow)
		f.ledger = redisrepo.NewSignupLedger(f.redisClient,
			cfg.RateLimit.SignupAddrLimit, cfg.RateLimit.SignupAddrWindow)
		f.tokens = redisrepo.NewTokenStore(f.redisClient, f.tokenManager.TTL())
	} else {
		f.otpStore = memory.NewOTPStore(
			cfg.OTP.TTL, cfg.OTP.MaxAttempts, cfg.OTP.RequestLimit, cfg.OTP.RequestWindow)
		f.ledger = memory.NewSignupLedger(
			cfg.RateLimit.SignupAddrLimit, cfg.RateLimit.SignupAddrWindow)
		f.tokens = memory.NewTokenStore()
	}

	if f.scyllaClient != nil {
		f.users = scylla.NewUserDirectory(f.scyllaClient, f.bucketingManager, f.encryptionManager)
	} else {
		f.users = memory.NewUserDirectory()
	}

	if f.kafkaProducer != nil || f.clickhouseClient != nil {
		f.recorder = audit.NewRecorder(
			f.kafkaProducer, f.clickhouseClient, f.bucketingManager, cfg)
	}
}

// ServiceFactory returns the service wiring (singleton).
func (f *Factory) ServiceFactory() *service.ServiceFactory {
	if f.serviceFactory == nil {
		var events service.EventRecorder
		if f.recorder != nil {
			events = f.recorder
		}
		f.serviceFactory = service.NewServiceFactory(
			f.otpStore, f.ledger, f.tokens, f.users,
			f.hasher, f.tokenManager, events)
	}
	return f.serviceFactory
}

// Sweeper returns the retention sweeper (singleton). Only OTP stores that
// expose retention hooks get one.
func (f *Factory) Sweeper() *sweeper.Sweeper {
	if f.sweeper == nil && f.config.Sweeper.Enabled {
		if store, ok := f.otpStore.(sweeper.Store); ok {
			f.sweeper = sweeper.New(store, f.config)
		}
	}
	return f.sweeper
}

// HealthChecks exposes dependency probes for the health endpoint.
func (f *Factory) HealthChecks() map[string]handler.HealthCheck {
	checks := make(map[string]handler.HealthCheck)

	if f.redisClient != nil {
		checks["redis"] = f.redisClient.HealthCheck
	}
	if f.scyllaClient != nil {
		checks["scylla"] = func(context.Context) error {
			return f.scyllaClient.HealthCheck()
		}
	}
	if f.kafkaProducer != nil {
		checks["kafka"] = f.kafkaProducer.HealthCheck
	}
	if f.clickhouseClient != nil {
		checks["clickhouse"] = f.clickhouseClient.HealthCheck
	}
	return checks
}

func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		close(f.closed)
		util.Info("shutting down factory")

		if f.clickhouseClient != nil {
			if err := f.clickhouseClient.Close(); err != nil {
				util.Error("failed to close ClickHouse client", util.ErrorField(err))
			}
		}

		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.Close(); err != nil {
				util.Error("failed to close Kafka producer", util.ErrorField(err))
			}
		}

		if f.scyllaClient != nil {
			f.scyllaClient.Close()
		}

		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				util.Error("failed to close Redis client", util.ErrorField(err))
			}
		}

		if f.encryptionManager != nil {
			f.encryptionManager.ClearCache()
		}

		util.Sync()
	})

	return nil
}

func (f *Factory) WaitForClose() {
	<-f.closed
}

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) TLSManager() *tls.Manager {
	return f.tlsManager
}
