// Package app wires configuration into stores, services and servers and
// runs them under one supervisor.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/thejerf/abtime"
	"github.com/thejerf/suture/v4"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"atms/identity/internal/auth"
	"atms/identity/internal/config"
	"atms/identity/internal/db"
	"atms/identity/internal/grant"
	identitygrpc "atms/identity/internal/grpc"
	internalhttp "atms/identity/internal/http"
	"atms/identity/internal/jobs"
	"atms/identity/internal/metrics"
	"atms/identity/internal/nonce"
	"atms/identity/internal/repository"
	"atms/identity/internal/session"
	"atms/identity/internal/transcript"
)

type accountStore interface {
	repository.Accounts
	repository.Transcripts
	repository.Registry
}

type App struct {
	cfg      config.Config
	log      *zap.Logger
	registry *prometheus.Registry

	store *db.Store
	redis *redis.Client

	Router     http.Handler
	httpServer *http.Server
	grpcServer *grpc.Server
	sweep      *jobs.GrantSweep
}

// New builds every component from cfg. Callers must Close the App.
func New(ctx context.Context, cfg config.Config, log *zap.Logger) (*App, error) {
	a := &App{cfg: cfg, log: log, registry: prometheus.NewRegistry()}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(a.registry)
	clock := abtime.NewRealTime()

	var repo accountStore
	var nonceStore nonce.Store
	var grantStore grant.Store
	switch cfg.StoreBackend {
	case "memory":
		log.Warn("using in-memory stores; state is lost on restart")
		repo = repository.NewMemory()
		nonceStore = nonce.NewMemoryStore()
		grantStore = grant.NewMemoryStore()
	default:
		pool, err := db.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("db connection failed: %w", err)
		}
		a.store = db.NewStore(pool)
		if err := a.store.Migrate(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("db migrate failed: %w", err)
		}
		repo = repository.NewStore(a.store)
		nonceStore = nonce.NewPostgresStore(a.store)
		grantStore = grant.NewPostgresStore(a.store)
	}

	if cfg.NonceBackend == "redis" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := a.redis.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("redis ping failed: %w", err)
		}
		nonceStore = nonce.NewRedisStore(a.redis, 2*cfg.NonceTTL())
	}

	codec, err := session.NewCodec([]byte(cfg.SessionSecret), cfg.SessionTTL(), clock)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("session codec: %w", err)
	}

	gate := auth.NewGate(log, m)
	grants := grant.NewService(grantStore, clock, cfg.GrantTTL)
	orchestrator := auth.NewOrchestrator(auth.Deps{
		Nonces:       nonce.NewService(nonceStore, clock, cfg.NonceTTL()),
		Accounts:     repo,
		Codec:        codec,
		Clock:        clock,
		Log:          log,
		Metrics:      m,
		StoreTimeout: cfg.StoreTimeout,
	})
	transcripts := transcript.NewService(transcript.Deps{
		Transcripts:  repo,
		Registry:     repo,
		Accounts:     repo,
		Grants:       grants,
		Gate:         gate,
		Clock:        clock,
		Log:          log,
		StoreTimeout: cfg.StoreTimeout,
	})

	server := internalhttp.NewServer(internalhttp.Options{
		Auth:        orchestrator,
		Accounts:    auth.NewAccountAdmin(repo, gate, clock, log, cfg.StoreTimeout),
		Transcripts: transcripts,
		Transport:   session.NewTransport(cfg.SessionCookieName, codec.TTL(), cfg.CookieSecure, clock),
		Metrics:     m,
		Gatherer:    a.registry,
		Log:         log,
		CORSOrigins: cfg.CORSAllowedOrigins,
	})
	a.Router = server.Router()
	a.httpServer = &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           a.Router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	if cfg.ServiceAuthToken != "" {
		interceptor, err := identitygrpc.NewServiceAuthUnaryInterceptor(cfg.ServiceAuthToken)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("grpc service auth init failed: %w", err)
		}
		a.grpcServer = grpc.NewServer(grpc.UnaryInterceptor(interceptor))
		identitygrpc.RegisterSessionQueryServer(a.grpcServer, identitygrpc.NewSessionQuery(orchestrator, transcripts))
	} else {
		log.Warn("SERVICE_AUTH_TOKEN not set; grpc session query disabled")
	}

	if cfg.GrantSweepEnabled {
		a.sweep = jobs.NewGrantSweep(grants, clock, cfg.GrantSweepInterval, cfg.GrantSweepTimeout, log, m)
	}
	return a, nil
}

// Run serves until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	sup := suture.New("atms-identity", suture.Spec{
		EventHook: func(e suture.Event) {
			a.log.Warn("supervisor event", zap.String("event", e.String()))
		},
	})
	sup.Add(&httpService{server: a.httpServer, log: a.log})
	if a.grpcServer != nil {
		sup.Add(&grpcService{server: a.grpcServer, addr: a.cfg.GRPCAddr, log: a.log})
	}
	if a.sweep != nil {
		sup.Add(a.sweep)
	}

	err := sup.Serve(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (a *App) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Warn("redis close error", zap.Error(err))
		}
	}
	if a.store != nil {
		a.store.Close()
	}
}
