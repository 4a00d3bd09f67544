package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"famvault.org/internal/access"
	"famvault.org/internal/auth"
	"famvault.org/internal/config"
	"famvault.org/internal/docs"
	"famvault.org/internal/httpapi"
	"famvault.org/internal/migrate"
	"famvault.org/internal/obs"
	pgstore "famvault.org/internal/store/pg"
	"famvault.org/internal/taxonomy"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	configPath := flag.String("config", os.Getenv("FAMVAULT_CONFIG"), "Path to TOML config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// Инициализация observability (регистрация метрик, JSON-логгер и т.п.)
	obs.Init()
	obs.InitBuildInfo(version, commit)

	if cfg.Auth.Secret != "" {
		auth.SetSecret(cfg.Auth.Secret, cfg.Auth.PreviousSecret)
	}
	if !auth.Configured() {
		log.Printf("warning: no auth secret configured, authenticated routes will answer 503")
	}

	store, db, closeStore := openStore(cfg.Database)
	defer closeStore()

	svc, err := docs.NewService(store,
		docs.WithTaxonomy(taxonomy.Default()),
		docs.WithDowngradePolicy(cfg.Sharing.DowngradePolicy),
	)
	if err != nil {
		log.Fatalf("docs service: %v", err)
	}

	proxies, err := httpapi.ParseTrustedProxies(cfg.HTTP.TrustedProxies)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	probe := httpapi.ReadyProbe{DB: db}
	api := httpapi.New(probe, version, svc,
		httpapi.WithRateLimit(cfg.RateLimit.RPS, cfg.RateLimit.Burst),
		httpapi.WithMaxBodyBytes(cfg.HTTP.MaxBodyBytes),
		httpapi.WithAllowedOrigins(cfg.HTTP.AllowedOrigins),
		httpapi.WithTrustedProxies(proxies),
		httpapi.WithTaxonomy(taxonomy.Default()),
	)

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
	}

	var grpcServer *grpc.Server
	if cfg.GRPC.Addr != "" {
		lis, err := net.Listen("tcp", cfg.GRPC.Addr)
		if err != nil {
			log.Fatalf("grpc listen: %v", err)
		}
		grpcServer = grpc.NewServer()
		httpapi.NewGRPCServer(probe).Register(grpcServer)
		go func() {
			if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				log.Fatalf("grpc serve: %v", err)
			}
		}()
		log.Printf("gRPC health on %s", cfg.GRPC.Addr)
	}

	log.Printf("Starting famvault-api %s on %s", version, srv.Addr)

	// graceful shutdown
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")
	obs.SetReady(false)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if grpcServer != nil {
		grpcServer.GracefulStop()
	}
	log.Println("Stopped")
}

// openStore returns PostgreSQL when a DSN is configured and a seeded
// in-memory store otherwise. db is nil for the memory store.
func openStore(cfg config.DatabaseConfig) (docs.Store, *sql.DB, func()) {
	if cfg.DSN == "" {
		log.Printf("no database configured, using in-memory store with demo family")
		return demoStore(), nil, func() {}
	}

	pg, err := pgstore.Open(cfg.DSN)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	if cfg.AutoMigrate || cfg.Seed {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		mgr := migrate.NewManager(pg.DB(), pgstore.Migrations(), pgstore.Seeds())
		if cfg.AutoMigrate {
			if err := mgr.Up(ctx); err != nil {
				log.Fatalf("migrate up: %v", err)
			}
		}
		if cfg.Seed {
			if err := mgr.Seed(ctx); err != nil {
				log.Fatalf("seed: %v", err)
			}
		}
	}
	return pg, pg.DB(), func() { _ = pg.Close() }
}

// demoStore mirrors the SQL demo seed.
func demoStore() *docs.MemoryStore {
	m := docs.NewMemoryStore()
	now := time.Now().UTC()
	m.PutFamily(docs.Family{ID: "fam-demo", Name: "Demo family", CreatedAt: now})
	for _, u := range []docs.User{
		{ID: "u-admin", FamilyID: "fam-demo", Email: "admin@demo.test", DisplayName: "Demo Admin", Role: access.RoleFamilyAdmin},
		{ID: "u-alice", FamilyID: "fam-demo", Email: "alice@demo.test", DisplayName: "Alice", Role: access.RoleMember},
		{ID: "u-bob", FamilyID: "fam-demo", Email: "bob@demo.test", DisplayName: "Bob", Role: access.RoleMember},
		{ID: "u-root", Email: "root@demo.test", DisplayName: "Operator", Role: access.RoleSuperAdmin},
	} {
		u.CreatedAt = now
		m.PutUser(u)
	}
	return m
}
