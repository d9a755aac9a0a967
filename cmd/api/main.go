package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"lexintake.org/internal/auth"
	"lexintake.org/internal/authctx"
	"lexintake.org/internal/config"
	"lexintake.org/internal/forms"
	"lexintake.org/internal/httpapi"
	"lexintake.org/internal/obs"
	"lexintake.org/internal/session"
	"lexintake.org/internal/store/pg"
	"lexintake.org/internal/tenancy"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

// stores groups the persistence backends: Postgres when a DSN is configured,
// in-memory otherwise.
type stores struct {
	identities session.IdentityStore
	tenancy    tenancy.Store
	forms      forms.Store
	ping       httpapi.Pinger
	close      func()
}

func openStores(cfg config.Config) (stores, error) {
	if cfg.DatabaseURL == "" {
		return stores{
			identities: session.NewMemoryIdentities(),
			tenancy:    tenancy.NewInMemory(),
			forms:      forms.NewInMemory(),
			close:      func() {},
		}, nil
	}
	db, err := pg.Open(cfg.DatabaseURL)
	if err != nil {
		return stores{}, err
	}
	return stores{
		identities: db,
		tenancy:    db,
		forms:      db,
		ping:       db,
		close:      func() { _ = db.Close() },
	}, nil
}

// openRedis connects to the configured Redis, or to an embedded one for local
// development.
func openRedis(cfg config.Config) (redis.UniversalClient, func(), error) {
	addr := cfg.RedisAddr
	var embedded *miniredis.Miniredis
	if addr == "" {
		var err error
		embedded, err = miniredis.Run()
		if err != nil {
			return nil, nil, err
		}
		addr = embedded.Addr()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	return client, func() {
		_ = client.Close()
		if embedded != nil {
			embedded.Close()
		}
	}, nil
}

func main() {
	log := obs.Component("main")

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("load config")
	}
	obs.SetLevel(cfg.LogLevel)
	obs.Init()
	obs.InitBuildInfo(version, commit)

	st, err := openStores(cfg)
	if err != nil {
		log.WithError(err).Fatal("open database")
	}
	defer st.close()
	if cfg.DatabaseURL == "" {
		log.Warn("no database configured; using in-memory stores")
	}

	rdb, closeRedis, err := openRedis(cfg)
	if err != nil {
		log.WithError(err).Fatal("open redis")
	}
	defer closeRedis()
	if cfg.RedisAddr == "" {
		log.Warn("no redis configured; using an embedded instance")
	}

	signer, err := auth.NewTokenSigner(cfg.SessionSecret, cfg.SessionIssuer)
	if err != nil {
		log.WithError(err).Fatal("token signer")
	}
	records := session.NewRedisStore(rdb, "lexintake")
	provider := session.NewLocalProvider(st.identities, records, signer, session.Options{
		SessionTTL: cfg.SessionTTL,
		ResetTTL:   cfg.ResetTokenTTL,
		Logger:     obs.Component("session"),
	})

	profiles := authctx.NewProfileResolver(st.tenancy, cfg.ProfileTimeout, nil)
	firms := authctx.NewFirmResolver(st.tenancy, cfg.FirmTimeout, cfg.FirmCacheSize, cfg.FirmCacheTTL, nil)

	tenancySvc, err := tenancy.NewService(st.tenancy,
		tenancy.WithBootstrapAdmin(cfg.BootstrapAdminEmail),
		tenancy.WithFirmChangeHook(firms.Invalidate),
	)
	if err != nil {
		log.WithError(err).Fatal("tenancy service")
	}
	formsSvc, err := forms.NewService(st.forms)
	if err != nil {
		log.WithError(err).Fatal("forms service")
	}

	probe := httpapi.ReadyProbe{Database: st.ping, Sessions: records}
	api, err := httpapi.New(httpapi.Deps{
		Provider:         provider,
		Profiles:         profiles,
		Firms:            firms,
		Tenancy:          tenancySvc,
		Forms:            formsSvc,
		Ready:            probe,
		Version:          version,
		PasswordResetURL: cfg.PasswordResetURL,
		AllowedOrigins:   cfg.AllowedOrigins,
		RatePerSecond:    cfg.RateLimitRPS,
		RateBurst:        cfg.RateLimitBurst,
	})
	if err != nil {
		log.WithError(err).Fatal("http api")
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	grpcServer := grpc.NewServer()
	health := httpapi.NewGRPCHealth(probe)
	health.Register(grpcServer)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithField("addr", srv.Addr).WithField("version", version).Info("http listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return err
		}
		log.WithField("addr", cfg.GRPCAddr).Info("grpc listening")
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		health.Run(gctx, 10*time.Second)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		grpcServer.GracefulStop()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.WithError(err).Error("server stopped with error")
		os.Exit(1)
	}
	log.Info("stopped")
}
