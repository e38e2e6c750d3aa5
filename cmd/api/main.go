package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/Shubhkesarwani02/SecureAdmin-sub002/internal/audit"
	"github.com/Shubhkesarwani02/SecureAdmin-sub002/internal/auth"
	"github.com/Shubhkesarwani02/SecureAdmin-sub002/internal/config"
	"github.com/Shubhkesarwani02/SecureAdmin-sub002/internal/directory"
	"github.com/Shubhkesarwani02/SecureAdmin-sub002/internal/httpapi"
	"github.com/Shubhkesarwani02/SecureAdmin-sub002/internal/impersonation"
	"github.com/Shubhkesarwani02/SecureAdmin-sub002/internal/obs"
	"github.com/Shubhkesarwani02/SecureAdmin-sub002/internal/ratelimit"
	"github.com/Shubhkesarwani02/SecureAdmin-sub002/internal/scope"
	"github.com/Shubhkesarwani02/SecureAdmin-sub002/internal/store/pg"
)

var version = "0.3.1"

func main() {
	obs.Init()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	var db *sql.DB
	if cfg.PostgresDSN != "" {
		db, err = sql.Open("pgx", cfg.PostgresDSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	secrets, err := auth.NewSecretStore([]byte(cfg.AuthSecret), cfg.AccessTokenTTL)
	if err != nil {
		log.Fatalf("secret store: %v", err)
	}
	tokens, err := auth.NewTokenService(secrets,
		auth.WithIssuer(cfg.Issuer),
		auth.WithAccessTTL(cfg.AccessTokenTTL),
		auth.WithMaxImpersonationTTL(cfg.MaxImpersonationTTL),
	)
	if err != nil {
		log.Fatalf("token service: %v", err)
	}

	// Collaborators: Postgres when configured, in-process otherwise.
	var (
		users       directory.Directory
		assignments scope.AssignmentStore
		sessions    impersonation.Store
		sink        audit.Sink = audit.LogSink{}
	)
	if db != nil {
		store := pg.New(db)
		users = store.Directory()
		assignments = store.Assignments()
		sessions = store.Sessions()
		sink = audit.MultiSink{store.AuditSink(), audit.LogSink{}}
	} else {
		log.Printf("no %s: running with in-memory collaborators", "SECUREADMIN_PG_DSN")
		users = directory.NewMemory()
		assignments = emptyAssignments{}
		sessions = impersonation.NewMemoryStore()
	}

	auditor, err := audit.New(sink)
	if err != nil {
		log.Fatalf("audit: %v", err)
	}

	resolver, err := scope.NewResolver(assignments)
	if err != nil {
		log.Fatalf("scope: %v", err)
	}

	manager, err := impersonation.NewManager(tokens, sessions, auditor,
		impersonation.WithSessionTTL(cfg.MaxImpersonationTTL))
	if err != nil {
		log.Fatalf("impersonation: %v", err)
	}

	var limiter ratelimit.Limiter = ratelimit.NewMemory()
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		limiter = ratelimit.NewRedis(client, "secureadmin")
	}

	api, err := httpapi.New(httpapi.Deps{
		Tokens:     tokens,
		Secrets:    secrets,
		Users:      users,
		Scope:      resolver,
		Sessions:   manager,
		Limiter:    limiter,
		Audit:      auditor,
		ReadyProbe: httpapi.ReadyProbe{DB: db},
		Limits: httpapi.RateLimits{
			LoginLimit:        cfg.LoginRateLimit,
			LoginWindow:       cfg.LoginRateWindow,
			ImpersonateLimit:  cfg.ImpersonateLimit,
			ImpersonateWindow: cfg.ImpersonateWindow,
		},
		Version: version,
	})
	if err != nil {
		log.Fatalf("api: %v", err)
	}

	// Coarse per-IP flood protection in front of the whole API; the
	// fixed-window limits on login and impersonation sit behind it.
	handler := httpapi.RateLimit(api.Handler(), cfg.GlobalRateBurst, cfg.GlobalRatePerSecond)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting secureadmin-auth %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if db != nil {
		_ = db.Close()
	}
	log.Println("Stopped")
}

// emptyAssignments denies all scoped access when no assignment store is
// configured; admin-tier roles are unaffected.
type emptyAssignments struct{}

func (emptyAssignments) CSMAccounts(ctx context.Context, csmID string) ([]string, error) {
	return nil, nil
}

func (emptyAssignments) UserAccounts(ctx context.Context, userID string) ([]string, error) {
	return nil, nil
}
