package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"

	"hospital.org/internal/audit"
	"hospital.org/internal/auth"
	"hospital.org/internal/authz"
	"hospital.org/internal/config"
	"hospital.org/internal/hospital"
	"hospital.org/internal/httpapi"
	"hospital.org/internal/oauth"
	"hospital.org/internal/obs"
	"hospital.org/internal/store/memory"
	"hospital.org/internal/store/pg"
	"hospital.org/internal/stream"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

// backend is what both stores provide.
type backend interface {
	auth.AccountStore
	hospital.Store
	httpapi.Pinger
}

func main() {
	configPath := flag.String("config", "", "optional YAML config file")
	envFile := flag.String("env-file", ".env", "optional dotenv file")
	flag.Parse()

	cfg, err := config.Load(*configPath, *envFile)
	if err != nil {
		boot := obs.NewLogger(config.LogConfig{}, os.Stderr)
		boot.Fatal().Err(err).Msg("load config")
	}
	log := obs.NewLogger(cfg.Log, os.Stdout)

	obs.Init()
	obs.InitBuildInfo(version, commit)

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("api stopped")
	}
}

func run(cfg config.Config, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	proxies, err := httpapi.ParseTrustedProxies(cfg.HTTP.TrustedProxies)
	if err != nil {
		return err
	}

	var store backend
	if cfg.Database.DSN != "" {
		pgStore, err := pg.Open(cfg.Database)
		if err != nil {
			return err
		}
		defer pgStore.Close()
		store = pgStore
		log.Info().Msg("using postgres store")
	} else {
		store = memory.New()
		log.Warn().Msg("no database DSN configured, using in-memory store")
	}

	tokens, err := auth.NewTokenService([]byte(cfg.Auth.JWTSecret),
		auth.WithIssuer(cfg.Auth.Issuer),
		auth.WithTokenTTL(cfg.Auth.TokenTTL),
	)
	if err != nil {
		return err
	}
	registry, err := oauth.NewRegistry(cfg.OAuth)
	if err != nil {
		return err
	}
	log.Info().Strs("providers", registry.Names()).Msg("oauth providers configured")

	catalog := auth.DefaultCatalog()
	gate := authz.NewGate(authz.DefaultRules(), log)
	events := stream.New()
	ready := httpapi.ReadyProbe{Store: store}

	api := httpapi.New(httpapi.Deps{
		Accounts:       store,
		Catalog:        catalog,
		Tokens:         tokens,
		Authenticator:  auth.NewAuthenticator(store, tokens, auth.WithAuthenticatorLogger(log)),
		Provisioner:    auth.NewProvisioner(store, tokens, log),
		OAuth:          registry,
		State:          oauth.NewStateCodec([]byte(cfg.Auth.JWTSecret), 0, nil),
		Hospital:       hospital.NewService(store, gate, hospital.WithPublisher(events), hospital.WithLogger(log)),
		Gate:           gate,
		Stream:         events,
		Audit:          audit.New(log),
		Ready:          ready,
		Log:            log,
		HTTP:           cfg.HTTP,
		RateLimit:      cfg.RateLimit,
		TrustedProxies: proxies,
		Version:        version,
		SecureCookies:  strings.HasPrefix(cfg.OAuth.RedirectBaseURL, "https://"),
	})

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
	}

	errCh := make(chan error, 2)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", version).Msg("http listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var grpcSrv *grpc.Server
	if cfg.GRPC.Addr != "" {
		lis, err := net.Listen("tcp", cfg.GRPC.Addr)
		if err != nil {
			return err
		}
		grpcSrv = grpc.NewServer()
		monitor := httpapi.NewHealthMonitor(ready, 10*time.Second, log)
		monitor.Register(grpcSrv)
		go monitor.Run(ctx)
		go func() {
			log.Info().Str("addr", cfg.GRPC.Addr).Msg("grpc health listening")
			if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				errCh <- err
			}
		}()
	}

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		// Open event streams keep connections busy until the deadline.
		log.Warn().Err(err).Msg("forcing close")
		_ = srv.Close()
	}
	log.Info().Msg("stopped")
	return nil
}
