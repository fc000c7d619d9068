// Package dbtest provides throwaway Postgres and Redis instances for
// integration tests. ATMS_TEST_DB / ATMS_TEST_REDIS point at existing
// servers; otherwise a container is started once per test binary. Tests are
// skipped when neither is available.
package dbtest

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"atms/identity/internal/db"
)

var (
	pgOnce sync.Once
	pgURL  string
	pgErr  error

	redisOnce sync.Once
	redisURL  string
	redisErr  error
)

func Postgres(t *testing.T) *db.Store {
	t.Helper()
	pgOnce.Do(func() {
		if url := os.Getenv("ATMS_TEST_DB"); url != "" {
			pgURL = url
			return
		}
		defer recoverInto(&pgErr)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		container, err := postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("atms"),
			postgres.WithUsername("atms"),
			postgres.WithPassword("atms"),
			postgres.BasicWaitStrategies(),
		)
		if err != nil {
			pgErr = err
			return
		}
		pgURL, pgErr = container.ConnectionString(ctx, "sslmode=disable", "application_name=test")
	})
	if pgErr != nil {
		t.Skipf("postgres unavailable: %v", pgErr)
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, pgURL)
	if err != nil {
		t.Skipf("db unavailable: %v", err)
	}
	store := db.NewStore(pool)
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		t.Fatalf("migrate error: %v", err)
	}
	if _, err := pool.Exec(ctx, `TRUNCATE sharing_grants, semester_records, students, nonces, accounts`); err != nil {
		store.Close()
		t.Fatalf("truncate error: %v", err)
	}
	t.Cleanup(store.Close)
	return store
}

func Redis(t *testing.T) *redis.Client {
	t.Helper()
	redisOnce.Do(func() {
		if addr := os.Getenv("ATMS_TEST_REDIS"); addr != "" {
			redisURL = addr
			return
		}
		defer recoverInto(&redisErr)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		container, err := tcredis.Run(ctx, "redis:7-alpine")
		if err != nil {
			redisErr = err
			return
		}
		redisURL, redisErr = container.ConnectionString(ctx)
	})
	if redisErr != nil {
		t.Skipf("redis unavailable: %v", redisErr)
	}

	var opts *redis.Options
	if strings.HasPrefix(redisURL, "redis://") {
		parsed, err := redis.ParseURL(redisURL)
		if err != nil {
			t.Fatalf("redis url error: %v", err)
		}
		opts = parsed
	} else {
		opts = &redis.Options{Addr: redisURL}
	}
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		t.Skipf("redis unavailable: %v", err)
	}
	if err := client.FlushDB(ctx).Err(); err != nil {
		_ = client.Close()
		t.Fatalf("flush error: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

// recoverInto turns a provider panic (no docker socket) into a skip reason.
func recoverInto(target *error) {
	if r := recover(); r != nil {
		*target = fmt.Errorf("container provider: %v", r)
	}
}
