package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	baseconf "vpnfleet/core/config"
	"vpnfleet/manager/internal/allocator"
	"vpnfleet/manager/internal/cache"
	"vpnfleet/manager/internal/database"
	"vpnfleet/manager/internal/delay"
	"vpnfleet/manager/internal/etcdstore"
	"vpnfleet/manager/internal/fleet"
	"vpnfleet/manager/internal/keyconf"
	"vpnfleet/manager/internal/keylink"
	"vpnfleet/manager/internal/keysync"
	"vpnfleet/manager/internal/manager"
	"vpnfleet/manager/internal/metrics"
	"vpnfleet/manager/internal/nonce"
	"vpnfleet/manager/internal/store"
	"vpnfleet/manager/internal/topology"
	"vpnfleet/manager/pkg/auth"
	"vpnfleet/manager/pkg/config"
)

func init() {
	// Configure zerolog for human-friendly console output
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

func openStore(cfg *config.Config) (store.Store, error) {
	if cfg.Database.Driver == "etcd" {
		return etcdstore.New(cfg.Database.EtcdEndpoints, cfg.Database.DialTimeout)
	}
	return database.New(cfg.Database.DSN,
		database.WithDebug(cfg.Database.Debug),
		database.WithMaxOpenConns(cfg.Database.MaxOpenConns),
	)
}

func main() {
	configFile := baseconf.FindConfigFile("manager")
	envFile := baseconf.FindEnvironmentFile("manager")

	cfg, err := config.Load(configFile, envFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	cfg.Log.ConfigureZerolog()

	log.Info().Msg("Starting VPN fleet manager")
	log.Info().Str("config_file", configFile).Str("env_file", envFile).Msg("Configuration loaded")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s, err := openStore(cfg)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Database.Driver).Msg("Failed to initialize store")
	}
	defer func() {
		if err := s.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close store")
		}
	}()

	var keyLinks store.KeyLinkStore = s.KeyLinks()
	if cfg.Cache.Enabled() {
		backend, err := cache.NewRedis(ctx, cache.RedisOptions{
			Addr:     cfg.Cache.RedisAddr,
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to key link cache")
		}
		defer backend.Close()
		keyLinks = cache.NewKeyLinks(keyLinks, backend, cfg.Cache.TTL)
	}

	policy := delay.NewPolicy(cfg.Delay.MinJitter, cfg.Delay.MaxJitter, cfg.Delay.NotFound)
	confs := keyconf.New(s.Servers(), cfg.Manager.PublicHost)
	topo := topology.NewManager(s.Servers())
	ledger := nonce.NewLedger(s.Nonces(), cfg.Sync.NonceMaxLength)

	handler := manager.NewHandler(s,
		fleet.NewService(s.Servers(), allocator.New(s.Servers()), topo),
		topo,
		keylink.NewService(keyLinks, s.Directory(), confs, policy),
		keysync.NewGateway(s.Directory(), ledger, confs, cfg.Sync, policy),
		cfg.Sync.SignatureMaxLength,
	)

	jwtManager := auth.NewJWTManager(cfg.Auth.JWTSecretKey, cfg.Auth.TokenTTL)
	router := manager.NewRouter(handler, jwtManager)

	pruner := nonce.NewPruner(s.Nonces(), cfg.Sync.EffectiveNonceRetention(), cfg.Sync.PruneInterval)
	go pruner.Run(ctx)

	if cfg.Metrics.Enabled {
		collector := metrics.NewCollector(s, cfg.Metrics.CollectInterval)
		go collector.Start(ctx)
		defer collector.Stop()
	}

	server := &http.Server{
		Addr:           cfg.GetListenAddress(),
		Handler:        h2c.NewHandler(router, &http2.Server{}),
		ReadTimeout:    cfg.Manager.ReadTimeout,
		WriteTimeout:   cfg.Manager.WriteTimeout,
		IdleTimeout:    cfg.Manager.IdleTimeout,
		MaxHeaderBytes: 1 << 20, // 1 MB
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Graceful shutdown failed")
		}
	}()

	log.Info().
		Str("address", cfg.GetListenAddress()).
		Str("database", cfg.Database.Driver).
		Bool("cache", cfg.Cache.Enabled()).
		Dur("auth_time_window", cfg.Sync.AuthTimeWindow).
		Msg("Starting manager server")
	log.Info().Msgf("Health check: http://%s/health", cfg.GetListenAddress())

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("Server failed to start")
	}
	log.Info().Msg("Manager stopped")
}
