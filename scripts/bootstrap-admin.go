package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/chatquota/chatquota/internal/auth"
	"github.com/chatquota/chatquota/internal/model"
	"github.com/chatquota/chatquota/internal/repository"
)

type output struct {
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	Created   bool      `json:"created"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func main() {
	var (
		databaseURL = flag.String("database-url", os.Getenv("DATABASE_URL"), "PostgreSQL connection string")
		jwtSecret   = flag.String("jwt-secret", os.Getenv("JWT_SECRET"), "HS256 secret shared with the API server")
		email       = flag.String("email", "admin@example.com", "Admin email")
		password    = flag.String("password", os.Getenv("BOOTSTRAP_ADMIN_PASSWORD"), "Admin password, used only when the account is created")
		name        = flag.String("name", "Admin", "Display name")
		role        = flag.String("role", model.RoleSuperAdmin, "Role: admin or super_admin")
		minutes     = flag.Float64("daily-minutes", 999999, "Daily minutes allowance")
		ttl         = flag.Duration("ttl", 24*time.Hour, "Token lifetime")
		format      = flag.String("format", "plain", "Output format: plain or json")
	)
	flag.Parse()

	if *databaseURL == "" {
		fail("DATABASE_URL is required")
	}
	if len(*jwtSecret) < 16 {
		fail("JWT_SECRET of at least 16 bytes is required")
	}
	if !model.IsAdminRole(*role) {
		fail("role must be admin or super_admin")
	}
	if len(*password) < auth.MinPasswordLength {
		fail(fmt.Sprintf("password must be at least %d characters", auth.MinPasswordLength))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	repo, err := repository.New(ctx, *databaseURL)
	if err != nil {
		fail("connect database: " + err.Error())
	}
	defer repo.Close()

	if err := repo.Migrate(ctx); err != nil {
		fail("migrate: " + err.Error())
	}

	hash, err := auth.HashPassword(*password)
	if err != nil {
		fail("hash password: " + err.Error())
	}

	normalized := strings.ToLower(strings.TrimSpace(*email))
	created, err := repo.EnsureUser(ctx, &model.User{
		ID:           ulid.Make().String(),
		Email:        normalized,
		PasswordHash: hash,
		Name:         *name,
		Role:         *role,
		DailyMinutes: *minutes,
		IsActive:     true,
		CreatedAt:    time.Now().UTC(),
	})
	if err != nil {
		fail("ensure admin: " + err.Error())
	}

	// The stored row wins over the flags when the account already existed.
	user, err := repo.GetUserByEmail(ctx, normalized)
	if err != nil {
		fail("load admin: " + err.Error())
	}
	if !model.IsAdminRole(user.Role) {
		fail(fmt.Sprintf("%s exists with role %s", user.Email, user.Role))
	}

	token, expiresAt, err := auth.NewTokenManager(*jwtSecret, *ttl).Issue(user)
	if err != nil {
		fail("issue token: " + err.Error())
	}

	out := output{
		UserID:    user.ID,
		Email:     user.Email,
		Role:      user.Role,
		Created:   created,
		Token:     token,
		ExpiresAt: expiresAt,
	}

	switch strings.ToLower(*format) {
	case "plain":
		fmt.Println(out.Token)
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(out)
	default:
		fail("invalid format; use plain or json")
	}
}

func fail(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(1)
}
