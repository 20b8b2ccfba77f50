package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gridtrust/device-trust-server/internal/api"
	"github.com/gridtrust/device-trust-server/internal/audit"
	"github.com/gridtrust/device-trust-server/internal/config"
	"github.com/gridtrust/device-trust-server/internal/gate"
	"github.com/gridtrust/device-trust-server/internal/server"
	"github.com/gridtrust/device-trust-server/internal/storage"
	"github.com/gridtrust/device-trust-server/internal/verification"
)

const apiShutdownTimeout = 10 * time.Second

func main() {
	// Command line flags
	var configFile string
	flag.StringVar(&configFile, "config", "config/trust-server.yml", "Configuration file path")
	flag.Parse()

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	// Load configuration
	cfg, err := config.Load(configFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Set log level
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	// Connect storage
	store, err := openStore(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open storage")
	}
	defer store.Close()

	log.Info().Str("driver", cfg.Database.Driver).Msg("Storage ready")

	// Wire the trust core: audit log, lifecycle, local gate
	auditLog := audit.NewLog(store)
	lifecycle := verification.NewLifecycle(store, auditLog)
	securityGate := gate.New(lifecycle, auditLog, gate.Policy{
		VerificationRequired:     cfg.Gate.VerificationEnabled(),
		SecretValidationRequired: cfg.Gate.SecretValidationEnabled(),
	})

	// Create context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	apiServer := api.NewRESTServer(cfg, store, lifecycle, securityGate)

	var wg sync.WaitGroup

	// Start API server
	wg.Add(1)
	go func() {
		defer wg.Done()
		addr := fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port)
		if err := apiServer.ListenAndServe(addr); err != nil {
			log.Fatal().Err(err).Msg("REST API server failed")
		}
	}()

	// Optional: NATS telemetry ingestion
	if cfg.NATS.URL != "" {
		log.Info().Str("url", cfg.NATS.URL).Msg("Connecting to NATS...")

		nc, err := nats.Connect(cfg.NATS.URL,
			nats.Name("device-trust-server"),
			nats.UserInfo(cfg.NATS.Username, cfg.NATS.Password),
			nats.ReconnectWait(cfg.NATS.ReconnectInterval),
			nats.MaxReconnects(cfg.NATS.MaxReconnects),
			nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
				log.Warn().Err(err).Msg("Disconnected from NATS")
			}),
			nats.ReconnectHandler(func(nc *nats.Conn) {
				log.Info().Msg("Reconnected to NATS")
			}),
		)

		if err != nil {
			log.Warn().Err(err).Msg("Failed to connect to NATS, continuing without NATS support")
		} else {
			defer nc.Close()
			log.Info().Msg("Connected to NATS")

			subscriber := server.NewNATSSubscriber(nc, store, securityGate)

			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := subscriber.Start(ctx); err != nil && err != context.Canceled {
					log.Error().Err(err).Msg("NATS subscriber stopped")
				}
			}()
		}
	} else {
		log.Info().Msg("NATS not configured, running in standalone mode")
	}

	// Wait for signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("Shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), apiShutdownTimeout)
	defer shutdownCancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("API server shutdown failed")
	}

	wg.Wait()
	log.Info().Msg("Shutdown complete")
}

// openStore opens the configured storage backend
func openStore(cfg *config.Config) (storage.Store, error) {
	if cfg.Database.Driver == "memory" {
		return storage.NewMemoryStore(), nil
	}
	return storage.NewPostgresStore(cfg.Database.DSN, storage.PoolOptions{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
}
