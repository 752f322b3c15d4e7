package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"comprobantes.org/internal/audit"
	"comprobantes.org/internal/auth"
	"comprobantes.org/internal/cache"
	"comprobantes.org/internal/config"
	"comprobantes.org/internal/directory"
	"comprobantes.org/internal/httpapi"
	"comprobantes.org/internal/migrate"
	"comprobantes.org/internal/obs"
	"comprobantes.org/internal/permission"
	"comprobantes.org/internal/store/memory"
	"comprobantes.org/internal/store/pg"
	"comprobantes.org/internal/voucher"
	"comprobantes.org/migrations"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

// backend is what a storage driver has to provide.
type backend interface {
	directory.Store
	permission.Store
	voucher.Store
	auth.IdentityStore
	audit.Recorder
	audit.Reader
	httpapi.Pinger
}

func main() {
	configPath := flag.String("config", "", "Path to YAML config (defaults to $COMPROBANTES_CONFIG)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log, err := obs.InitLogger(obs.LogConfig{
		Env:     cfg.App.Env,
		Level:   cfg.App.LogLevel,
		Service: "comprobantes-api",
		Version: version,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = obs.Sync() }()

	obs.Init()
	obs.InitBuildInfo(version, commit)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("api stopped with error", zap.Error(err))
		os.Exit(1)
	}
	log.Info("stopped")
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	store, closeStore, err := openBackend(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	var grants permission.Store = store
	dirOpts := []directory.Option{directory.WithLogger(log)}
	if cfg.Cache.Driver != "off" {
		client, err := cache.New(cache.Config{
			Driver:     cfg.Cache.Driver,
			Addr:       cfg.Cache.Redis.Addr,
			Password:   cfg.Cache.Redis.Password,
			DB:         cfg.Cache.Redis.DB,
			Prefix:     cfg.Cache.Redis.Prefix,
			DefaultTTL: cfg.CacheTTL(),
		})
		if err != nil {
			return fmt.Errorf("cache: %w", err)
		}
		defer client.Close()
		cached, err := permission.NewCachedStore(store, client, cfg.CacheTTL(), log)
		if err != nil {
			return err
		}
		grants = cached
		dirOpts = append(dirOpts, directory.WithInvalidator(cached))
		log.Info("grant cache enabled", zap.String("driver", cfg.Cache.Driver), zap.Duration("ttl", cfg.CacheTTL()))
	}

	tokens, err := auth.NewTokens(cfg.Auth.Secret, auth.WithIssuer(cfg.Auth.Issuer), auth.WithTokenTTL(cfg.TokenTTL()))
	if err != nil {
		return err
	}
	resolver, err := auth.NewResolver(store, tokens)
	if err != nil {
		return err
	}
	perms, err := permission.NewService(grants,
		permission.WithRecorder(audit.Multi{store, audit.LogRecorder{Logger: log}}),
		permission.WithAuditReader(store),
		permission.WithLogger(log),
	)
	if err != nil {
		return err
	}
	dir, err := directory.NewService(store, dirOpts...)
	if err != nil {
		return err
	}
	vouchers, err := voucher.NewService(store, perms)
	if err != nil {
		return err
	}

	if cfg.Bootstrap.AdminEmail != "" && cfg.Bootstrap.AdminPassword != "" {
		if _, err := dir.BootstrapAdministrator(ctx, cfg.Bootstrap.AdminName, cfg.Bootstrap.AdminEmail, cfg.Bootstrap.AdminPassword); err != nil {
			return fmt.Errorf("bootstrap administrator: %w", err)
		}
	}

	ready := httpapi.ReadyProbe{Store: store}
	opts := []httpapi.Option{
		httpapi.WithCORSOrigins(cfg.Server.CORSAllowedOrigins),
		httpapi.WithMaxBodyBytes(cfg.Server.MaxBodyBytes),
		httpapi.WithLogger(log),
	}
	if cfg.Rate.Enabled {
		opts = append(opts, httpapi.WithRateLimit(cfg.Rate.RPS, cfg.Rate.Burst))
	}
	api, err := httpapi.New(httpapi.Deps{
		Resolver:    resolver,
		Permissions: perms,
		Directory:   dir,
		Vouchers:    vouchers,
		Ready:       ready,
	}, version, opts...)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	grpcServer := httpapi.NewGRPCServer(resolver, perms, ready).NewServer()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("http listening", zap.String("addr", srv.Addr), zap.String("version", version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		log.Info("grpc listening", zap.String("addr", cfg.Server.GRPCAddr))
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
		defer cancel()
		grpcServer.GracefulStop()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func openBackend(ctx context.Context, cfg *config.Config, log *zap.Logger) (backend, func(), error) {
	switch cfg.Storage.Driver {
	case "postgres":
		store, err := pg.Open(cfg.Storage.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open db: %w", err)
		}
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := store.Ping(pingCtx); err != nil {
			_ = store.Close()
			return nil, nil, fmt.Errorf("ping db: %w", err)
		}
		applied, err := migrate.NewManager(store.DB(), migrations.Files, migrations.Dir, migrations.SeedsDir).Up(ctx)
		if err != nil {
			_ = store.Close()
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
		log.Info("storage ready", zap.String("driver", "postgres"), zap.Strings("migrations_applied", applied))
		return store, func() { _ = store.Close() }, nil
	default:
		log.Warn("using in-memory storage; data is lost on restart")
		return memory.New(), func() {}, nil
	}
}
