// Package testutil holds helpers shared by integration tests.
package testutil

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"

	"github.com/chatquota/chatquota/internal/model"
)

// RequireEnv returns an environment variable or skips the test if missing.
func RequireEnv(t testing.TB, key string) string {
	t.Helper()
	value := os.Getenv(key)
	if value == "" {
		t.Skipf("%s not set", key)
	}
	return value
}

const advisoryLockID int64 = 731731

// AcquireDBLock grabs a global advisory lock to serialize DB tests.
func AcquireDBLock(ctx context.Context, pool *pgxpool.Pool) (func() error, error) {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}

	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", advisoryLockID); err != nil {
		conn.Release()
		return nil, fmt.Errorf("acquire advisory lock: %w", err)
	}

	unlock := func() error {
		defer conn.Release()
		if _, err := conn.Exec(ctx, "SELECT pg_advisory_unlock($1)", advisoryLockID); err != nil {
			return fmt.Errorf("release advisory lock: %w", err)
		}
		return nil
	}

	return unlock, nil
}

// MigrationsDir returns the directory holding the schema files.
func MigrationsDir() (string, error) {
	root, err := ProjectRoot()
	if err != nil {
		return "", err
	}
	return filepath.Join(root, "internal", "repository", "migrations"), nil
}

// ResetSchema applies every down migration in reverse order, then every up
// migration, leaving empty tables.
func ResetSchema(ctx context.Context, pool *pgxpool.Pool) error {
	dir, err := MigrationsDir()
	if err != nil {
		return err
	}

	downs, err := migrationFiles(dir, ".down.sql")
	if err != nil {
		return err
	}
	sort.Sort(sort.Reverse(sort.StringSlice(downs)))
	if err := execFiles(ctx, pool, downs); err != nil {
		return err
	}

	ups, err := migrationFiles(dir, ".up.sql")
	if err != nil {
		return err
	}
	sort.Strings(ups)
	return execFiles(ctx, pool, ups)
}

func migrationFiles(dir, suffix string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}

	var files []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), suffix) {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	return files, nil
}

func execFiles(ctx context.Context, pool *pgxpool.Pool, files []string) error {
	for _, path := range files {
		sql, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", filepath.Base(path), err)
		}
		if _, err := pool.Exec(ctx, string(sql)); err != nil {
			return fmt.Errorf("apply migration %s: %w", filepath.Base(path), err)
		}
	}
	return nil
}

// FlushRedis clears the current Redis database.
func FlushRedis(ctx context.Context, client *redis.Client) error {
	return client.FlushDB(ctx).Err()
}

// ProjectRoot returns the project root directory.
func ProjectRoot() (string, error) {
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		return "", fmt.Errorf("failed to resolve testutil path")
	}
	root := filepath.Clean(filepath.Join(filepath.Dir(filename), "..", ".."))
	return root, nil
}

// ============================================================================
// Test Data Factories
// ============================================================================

// NewTestUser creates an active student with sensible defaults.
// The password hash is a placeholder; tests that log in set their own.
func NewTestUser(t testing.TB, dailyMinutes float64) *model.User {
	t.Helper()
	id := ulid.Make().String()
	return &model.User{
		ID:           id,
		Email:        strings.ToLower(id) + "@test.local",
		PasswordHash: "$argon2id$v=19$m=65536,t=3,p=4$c2FsdA$aGFzaA",
		Name:         "Test " + id[len(id)-6:],
		Role:         model.RoleStudent,
		DailyMinutes: dailyMinutes,
		IsActive:     true,
		CreatedAt:    time.Now().UTC().Truncate(time.Microsecond),
	}
}

// NewTestAdmin creates an active user with the given admin role.
func NewTestAdmin(t testing.TB, role string) *model.User {
	t.Helper()
	u := NewTestUser(t, 999999)
	u.Role = role
	return u
}

// UniqueID generates a unique ID for tests.
func UniqueID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}
