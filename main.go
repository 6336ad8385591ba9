package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"

	"cae-dispatcher/internal/afip"
	"cae-dispatcher/internal/audit"
	"cae-dispatcher/internal/backoff"
	"cae-dispatcher/internal/circuitbreaker"
	"cae-dispatcher/internal/common/logging"
	"cae-dispatcher/internal/config"
	"cae-dispatcher/internal/dispatch"
	"cae-dispatcher/internal/maintenance"
	"cae-dispatcher/internal/processor"
	"cae-dispatcher/internal/publish"
	"cae-dispatcher/internal/ratelimit"
	"cae-dispatcher/internal/server"
	"cae-dispatcher/internal/store"
)

func main() {
	godotenv.Load()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	os.Setenv("LOG_LEVEL", cfg.LogLevel)
	logging.InitGlobalLogger()
	logger := logging.GetGlobalLogger()

	limiter, err := buildLimiter(cfg, logger)
	if err != nil {
		log.Fatalf("Failed to build rate limiter: %v", err)
	}

	breaker, err := circuitbreaker.NewCombined(
		circuitbreaker.Config{
			FailureThreshold: cfg.GlobalCircuitFailureThreshold,
			OpenDuration:     cfg.CircuitOpenDuration,
			HalfOpenRequests: cfg.CircuitHalfOpenRequests,
			SuccessThreshold: cfg.CircuitSuccessThreshold,
		},
		circuitbreaker.Config{
			FailureThreshold: cfg.CircuitFailureThreshold,
			OpenDuration:     cfg.CircuitOpenDuration,
			HalfOpenRequests: cfg.CircuitHalfOpenRequests,
			SuccessThreshold: cfg.CircuitSuccessThreshold,
		},
		logger,
	)
	if err != nil {
		log.Fatalf("Failed to build circuit breaker: %v", err)
	}

	creds, err := dispatch.NewCredentialRegistry(cfg.CredentialEncryptionKey)
	if err != nil {
		log.Fatalf("Failed to build credential registry: %v", err)
	}

	var st store.Store
	if cfg.DatabaseType != "none" {
		st, err = store.New(store.Config{
			Backend: cfg.DatabaseType,
			Path:    cfg.DatabasePath,
			DSN:     cfg.PostgresDSN,
		})
		if err != nil {
			log.Fatalf("Failed to open store: %v", err)
		}
		defer st.Close()
	}

	var sink dispatch.ResultSink
	if cfg.RabbitMQURL != "" {
		publisher, err := publish.NewPublisher(publish.DefaultConfig(cfg.RabbitMQURL), logger)
		if err != nil {
			log.Fatalf("Failed to connect publisher: %v", err)
		}
		defer publisher.Close()
		sink = publisher
	} else if st != nil {
		sink = storeSink{st}
	}

	trail := audit.NewTrail(auditPersister(st), logger)
	caller := afip.NewCaller(afip.DefaultConfig(), logger)

	client, err := dispatch.New(
		dispatch.Config{
			CallTimeout:  cfg.CallTimeout,
			HealthWindow: cfg.HealthWindow,
			Health: dispatch.HealthThresholds{
				DegradedSuccessRate: cfg.DegradedSuccessRate,
				CriticalSuccessRate: cfg.CriticalSuccessRate,
				DegradedQueueDepth:  cfg.DegradedQueueDepth,
				CriticalQueueDepth:  cfg.CriticalQueueDepth,
			},
			Processor: processor.Config{
				MaxConcurrency:    cfg.MaxConcurrency,
				MaxBatchSize:      cfg.MaxBatchSize,
				MaxAttempts:       cfg.MaxAttempts,
				CallTimeout:       cfg.CallTimeout,
				IdleInterval:      time.Second,
				SaturatedInterval: 100 * time.Millisecond,
				MaxQueueResidency: cfg.MaxQueueResidency,
				RetryBackoff:      backoff.DefaultConfig(),
			},
		},
		limiter, breaker, creds, caller.Call, trail, sink, logger,
	)
	if err != nil {
		log.Fatalf("Failed to build dispatch client: %v", err)
	}
	client.Start()

	runner, err := maintenance.New(maintenance.Config{
		SweepSchedule:    cfg.SweepSchedule,
		SnapshotSchedule: cfg.SnapshotSchedule,
	}, client, logger)
	if err != nil {
		log.Fatalf("Failed to build maintenance runner: %v", err)
	}
	runner.Start()

	srv, err := server.New(server.Config{
		Port:      cfg.Port,
		JWTSecret: cfg.JWTSecret,
	}, client, st, logger)
	if err != nil {
		log.Fatalf("Failed to build server: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		logger.Info("Shutting down", logging.Field{Key: "signal", Value: sig.String()})
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Error("Server failed", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown failed", err)
	}

	runner.Stop()
	client.Stop()
	logging.MustSync()
}

func buildLimiter(cfg *config.Config, logger logging.Logger) (*ratelimit.Combined, error) {
	globalCfg := ratelimit.Config{
		MaxRequests:    cfg.GlobalRateLimit,
		Window:         cfg.GlobalRateWindow,
		BurstAllowance: cfg.RateBurstAllowance,
	}
	tenantCfg := ratelimit.Config{
		MaxRequests:    cfg.TenantRateLimit,
		Window:         cfg.TenantRateWindow,
		BurstAllowance: cfg.RateBurstAllowance,
	}

	if cfg.RateLimitBackend != "redis" {
		return ratelimit.NewCombinedLocal(globalCfg, tenantCfg, logger)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddress,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}

	global, err := ratelimit.NewRedisWindow(rdb, globalCfg, logger)
	if err != nil {
		return nil, err
	}
	tenants, err := ratelimit.NewRedisWindow(rdb, tenantCfg, logger)
	if err != nil {
		return nil, err
	}
	return ratelimit.NewCombined(global, tenants, logger), nil
}

// storeSink persists results directly when no broker is configured.
type storeSink struct {
	store store.Store
}

func (s storeSink) PublishResult(ctx context.Context, result processor.Result) error {
	return s.store.SaveResult(ctx, store.RecordFromResult(result))
}

// auditPersister avoids handing a typed-nil interface to the trail.
func auditPersister(st store.Store) audit.Persister {
	if st == nil {
		return nil
	}
	return st
}
