package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/chatquota/chatquota/internal/auth"
	"github.com/chatquota/chatquota/internal/model"
	"github.com/chatquota/chatquota/internal/quota"
	"github.com/chatquota/chatquota/internal/repository"
)

// SuperAdminDailyMinutes is the allowance given to the bootstrap account.
const SuperAdminDailyMinutes = 999999

// UserDetail is an account with its current month of usage.
type UserDetail struct {
	User         *model.User
	Usage        []model.UsageRecord
	MonthlyTotal float64
}

// Stats is the admin dashboard summary.
type Stats struct {
	TotalUsers   int64
	ActiveToday  int64
	MinutesToday float64
	MinutesMonth float64
}

// CreateUserInput defines input for admin account creation.
type CreateUserInput struct {
	Email        string
	Password     string
	Name         string
	Role         string
	DailyMinutes *float64
}

// AdminService handles account administration.
type AdminService struct {
	users    UserStore
	cache    IdentityCache
	settings *SettingsService
	calendar *quota.Calendar
	logger   *slog.Logger
}

// NewAdminService creates an AdminService. cache may be nil.
func NewAdminService(users UserStore, cache IdentityCache, settings *SettingsService, calendar *quota.Calendar, logger *slog.Logger) *AdminService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AdminService{
		users:    users,
		cache:    cache,
		settings: settings,
		calendar: calendar,
		logger:   logger,
	}
}

// ListUsers returns accounts with today's usage. Unknown roles are rejected.
func (s *AdminService) ListUsers(ctx context.Context, roles []string) ([]model.UserWithUsage, error) {
	for _, r := range roles {
		if !model.IsValidRole(r) {
			return nil, invalid("role", fmt.Sprintf("unknown role %q", r))
		}
	}

	day, err := s.calendar.Today().Time()
	if err != nil {
		return nil, err
	}

	users, err := s.users.ListUsersWithUsage(ctx, day, roles)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

// GetUser returns an account with its usage for the current month.
func (s *AdminService) GetUser(ctx context.Context, id string) (*UserDetail, error) {
	user, err := s.users.GetUserByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	history, err := monthHistory(ctx, s.users, id, s.calendar.Today())
	if err != nil {
		return nil, err
	}

	detail := &UserDetail{User: user, Usage: history}
	for _, rec := range history {
		detail.MonthlyTotal += rec.MinutesUsed
	}
	return detail, nil
}

// CreateUser creates an account. Only a super admin may create admins.
func (s *AdminService) CreateUser(ctx context.Context, caller *model.AuthContext, input CreateUserInput) (*model.User, error) {
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

	role := input.Role
	if role == "" {
		role = model.RoleStudent
	}
	if !model.IsValidRole(role) {
		return nil, invalid("role", fmt.Sprintf("unknown role %q", role))
	}
	if model.IsAdminRole(role) && !caller.IsSuperAdmin() {
		return nil, ErrForbidden
	}

	var minutes float64
	if input.DailyMinutes != nil {
		if err := validateMinutes("daily_minutes", *input.DailyMinutes); err != nil {
			return nil, err
		}
		minutes = *input.DailyMinutes
	} else if minutes, err = s.settings.DefaultDailyMinutes(ctx); err != nil {
		return nil, err
	}

	user, err := newUser(email, input.Password, name, role, minutes)
	if err != nil {
		return nil, err
	}

	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, repository.ErrEmailExists) {
			return nil, ErrEmailExists
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	s.logger.Info("user created by admin",
		slog.String("user_id", user.ID),
		slog.String("role", role),
		slog.String("admin_id", caller.UserID),
	)
	return user, nil
}

// UpdateUser applies an edit. Role changes require a super admin.
func (s *AdminService) UpdateUser(ctx context.Context, caller *model.AuthContext, id string, upd model.UserUpdate) (*model.User, error) {
	if upd.IsEmpty() {
		return nil, ErrEmptyUpdate
	}

	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		if name == "" {
			return nil, invalid("name", "must not be empty")
		}
		upd.Name = &name
	}
	if upd.DailyMinutes != nil {
		if err := validateMinutes("daily_minutes", *upd.DailyMinutes); err != nil {
			return nil, err
		}
	}
	if upd.Role != nil {
		if !model.IsValidRole(*upd.Role) {
			return nil, invalid("role", fmt.Sprintf("unknown role %q", *upd.Role))
		}
		if !caller.IsSuperAdmin() {
			return nil, ErrForbidden
		}
	}

	user, err := s.users.UpdateUser(ctx, id, upd)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("update user: %w", err)
	}

	s.forget(ctx, id)
	s.logger.Info("user updated", slog.String("user_id", id), slog.String("admin_id", caller.UserID))
	return user, nil
}

// DeleteUser removes an account and its usage. Super admin only; callers
// cannot delete themselves.
func (s *AdminService) DeleteUser(ctx context.Context, caller *model.AuthContext, id string) error {
	if !caller.IsSuperAdmin() {
		return ErrForbidden
	}
	if caller.UserID == id {
		return ErrCannotDeleteSelf
	}

	if err := s.users.DeleteUser(ctx, id); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("delete user: %w", err)
	}

	s.forget(ctx, id)
	s.logger.Info("user deleted", slog.String("user_id", id), slog.String("admin_id", caller.UserID))
	return nil
}

// Stats returns dashboard totals rounded to two decimals.
func (s *AdminService) Stats(ctx context.Context) (*Stats, error) {
	today := s.calendar.Today()
	day, err := today.Time()
	if err != nil {
		return nil, err
	}
	monthStart, err := today.FirstOfMonth().Time()
	if err != nil {
		return nil, err
	}

	totals, err := s.users.GetUsageTotals(ctx, day, monthStart)
	if err != nil {
		return nil, fmt.Errorf("usage totals: %w", err)
	}

	return &Stats{
		TotalUsers:   totals.TotalStudents,
		ActiveToday:  totals.ActiveToday,
		MinutesToday: round2(totals.MinutesToday),
		MinutesMonth: round2(totals.MinutesMonth),
	}, nil
}

// EnsureSuperAdmin creates the bootstrap super admin if the email is free.
func (s *AdminService) EnsureSuperAdmin(ctx context.Context, email, password string) (bool, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return false, err
	}
	if len(password) < auth.MinPasswordLength {
		return false, invalid("password", fmt.Sprintf("must be at least %d characters", auth.MinPasswordLength))
	}

	user, err := newUser(email, password, "Super Admin", model.RoleSuperAdmin, SuperAdminDailyMinutes)
	if err != nil {
		return false, err
	}

	created, err := s.users.EnsureUser(ctx, user)
	if err != nil {
		return false, fmt.Errorf("ensure super admin: %w", err)
	}
	if created {
		s.logger.Info("super admin created", slog.String("user_id", user.ID))
	}
	return created, nil
}

func (s *AdminService) forget(ctx context.Context, userID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeleteIdentity(ctx, userID); err != nil {
		s.logger.Warn("failed to invalidate identity cache",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
