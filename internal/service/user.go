package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/chatquota/chatquota/internal/auth"
	"github.com/chatquota/chatquota/internal/model"
	"github.com/chatquota/chatquota/internal/quota"
	"github.com/chatquota/chatquota/internal/repository"
)

// UserStore is the account persistence used by the services.
type UserStore interface {
	CreateUser(ctx context.Context, user *model.User) error
	EnsureUser(ctx context.Context, user *model.User) (bool, error)
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	ListUsersWithUsage(ctx context.Context, day time.Time, roles []string) ([]model.UserWithUsage, error)
	UpdateUser(ctx context.Context, id string, upd model.UserUpdate) (*model.User, error)
	DeleteUser(ctx context.Context, id string) error
	ListUsage(ctx context.Context, userID string, from, to time.Time) ([]model.UsageRecord, error)
	GetUsageTotals(ctx context.Context, day, monthStart time.Time) (*model.DailyTotals, error)
}

// IdentityCache caches resolved identities by user ID.
type IdentityCache interface {
	GetIdentity(ctx context.Context, userID string) (*model.AuthContext, error)
	SetIdentity(ctx context.Context, identity *model.AuthContext) error
	DeleteIdentity(ctx context.Context, userID string) error
}

// TokenIssuer signs session tokens.
type TokenIssuer interface {
	Issue(user *model.User) (string, time.Time, error)
}

// Session is the result of a successful register or login.
type Session struct {
	Token     string
	ExpiresAt time.Time
	User      *model.User
}

// UsageSummary is a user's view of their own consumption this month.
type UsageSummary struct {
	Today          model.UsageRecord
	MonthlyTotal   float64
	DailyLimit     float64
	RemainingToday float64
	History        []model.UsageRecord
}

// UserService handles self-service account flows.
type UserService struct {
	users    UserStore
	cache    IdentityCache
	tokens   TokenIssuer
	settings *SettingsService
	calendar *quota.Calendar
	logger   *slog.Logger
}

// NewUserService creates a UserService. cache may be nil.
func NewUserService(users UserStore, cache IdentityCache, tokens TokenIssuer, settings *SettingsService, calendar *quota.Calendar, logger *slog.Logger) *UserService {
	if logger == nil {
		logger = slog.Default()
	}
	return &UserService{
		users:    users,
		cache:    cache,
		tokens:   tokens,
		settings: settings,
		calendar: calendar,
		logger:   logger,
	}
}

// RegisterInput defines input for self-registration.
type RegisterInput struct {
	Email    string
	Password string
	Name     string
}

// Register creates a student account with the default allowance.
func (s *UserService) Register(ctx context.Context, input RegisterInput) (*Session, error) {
	email, err := normalizeEmail(input.Email)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, invalid("name", "is required")
	}
	if len(input.Password) < auth.MinPasswordLength {
		return nil, invalid("password", fmt.Sprintf("must be at least %d characters", auth.MinPasswordLength))
	}

	minutes, err := s.settings.DefaultDailyMinutes(ctx)
	if err != nil {
		return nil, err
	}

	user, err := newUser(email, input.Password, name, model.RoleStudent, minutes)
	if err != nil {
		return nil, err
	}

	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, repository.ErrEmailExists) {
			return nil, ErrEmailExists
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	s.logger.Info("user registered", slog.String("user_id", user.ID))
	return s.issue(user)
}

// Login verifies credentials. Unknown emails, wrong passwords and
// inactive accounts all return ErrInvalidCredentials.
func (s *UserService) Login(ctx context.Context, email, password string) (*Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			auth.VerifyDummy(password)
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	ok, err := auth.VerifyPassword(password, user.PasswordHash)
	if err != nil {
		s.logger.Error("stored password hash is unreadable", slog.String("user_id", user.ID), slog.String("error", err.Error()))
		return nil, ErrInvalidCredentials
	}
	if !ok || !user.IsActive {
		return nil, ErrInvalidCredentials
	}

	return s.issue(user)
}

// Profile returns the caller's account.
func (s *UserService) Profile(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

// ResolveIdentity maps a token subject to the current role and active flag,
// consulting the identity cache first.
func (s *UserService) ResolveIdentity(ctx context.Context, userID string) (*model.AuthContext, error) {
	if s.cache != nil {
		if cached, _ := s.cache.GetIdentity(ctx, userID); cached != nil {
			return cached, nil
		}
	}

	user, err := s.Profile(ctx, userID)
	if err != nil {
		return nil, err
	}

	identity := &model.AuthContext{
		UserID:   user.ID,
		Email:    user.Email,
		Role:     user.Role,
		IsActive: user.IsActive,
	}

	if s.cache != nil {
		if err := s.cache.SetIdentity(ctx, identity); err != nil {
			s.logger.Warn("failed to cache identity", slog.String("error", err.Error()))
		}
	}
	return identity, nil
}

// Usage summarizes the caller's consumption for the current month.
func (s *UserService) Usage(ctx context.Context, userID string) (*UsageSummary, error) {
	user, err := s.Profile(ctx, userID)
	if err != nil {
		return nil, err
	}

	today := s.calendar.Today()
	history, err := monthHistory(ctx, s.users, userID, today)
	if err != nil {
		return nil, err
	}

	summary := &UsageSummary{
		Today:      model.UsageRecord{Date: today.String()},
		DailyLimit: user.DailyMinutes,
		History:    history,
	}
	for _, rec := range history {
		summary.MonthlyTotal += rec.MinutesUsed
		if rec.Date == today.String() {
			summary.Today = rec
		}
	}
	summary.RemainingToday = max(0, user.DailyMinutes-summary.Today.MinutesUsed)

	return summary, nil
}

func (s *UserService) issue(user *model.User) (*Session, error) {
	token, exp, err := s.tokens.Issue(user)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	return &Session{Token: token, ExpiresAt: exp, User: user}, nil
}

func monthHistory(ctx context.Context, users UserStore, userID string, today quota.Day) ([]model.UsageRecord, error) {
	from, err := today.FirstOfMonth().Time()
	if err != nil {
		return nil, err
	}
	to, err := today.Time()
	if err != nil {
		return nil, err
	}

	history, err := users.ListUsage(ctx, userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list usage: %w", err)
	}
	return history, nil
}

func newUser(email, password, name, role string, dailyMinutes float64) (*model.User, error) {
	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	return &model.User{
		ID:           ulid.Make().String(),
		Email:        email,
		PasswordHash: hash,
		Name:         name,
		Role:         role,
		DailyMinutes: dailyMinutes,
		IsActive:     true,
		CreatedAt:    time.Now().UTC(),
	}, nil
}

func normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", invalid("email", "must be a valid address")
	}
	return email, nil
}
