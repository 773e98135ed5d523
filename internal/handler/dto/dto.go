// Package dto provides Data Transfer Objects for API requests and responses.
package dto

import (
	"time"

	"github.com/chatquota/chatquota/internal/model"
	"github.com/chatquota/chatquota/internal/service"
)

// ErrorResponse represents an API error.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// MessageResponse acknowledges a mutation.
type MessageResponse struct {
	Message string `json:"message"`
}

// RegisterRequest is the body of POST /api/auth/register.
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

// LoginRequest is the body of POST /api/auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthResponse is returned by register and login.
type AuthResponse struct {
	Message   string             `json:"message"`
	Token     string             `json:"token"`
	ExpiresAt time.Time          `json:"expires_at"`
	User      model.UserResponse `json:"user"`
}

// ToAuthResponse converts a session.
func ToAuthResponse(message string, s *service.Session) *AuthResponse {
	return &AuthResponse{
		Message:   message,
		Token:     s.Token,
		ExpiresAt: s.ExpiresAt,
		User:      s.User.ToResponse(),
	}
}

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Messages []model.ChatMessage `json:"messages"`
}

// QuotaExceededResponse is the 429 body for an exhausted allowance.
type QuotaExceededResponse struct {
	Error      string  `json:"error"`
	Code       string  `json:"code"`
	DailyLimit float64 `json:"daily_limit"`
	UsedToday  float64 `json:"used_today"`
	Remaining  float64 `json:"remaining"`
}

// TodayUsage is the current day's counters.
type TodayUsage struct {
	MinutesUsed   float64 `json:"minutes_used"`
	MessagesCount int64   `json:"messages_count"`
}

// UsageResponse is returned by GET /api/usage/me.
type UsageResponse struct {
	Today          TodayUsage          `json:"today"`
	MonthlyTotal   float64             `json:"monthly_total"`
	DailyLimit     float64             `json:"daily_limit"`
	RemainingToday float64             `json:"remaining_today"`
	History        []model.UsageRecord `json:"history"`
}

// ToUsageResponse converts a usage summary.
func ToUsageResponse(s *service.UsageSummary) *UsageResponse {
	return &UsageResponse{
		Today: TodayUsage{
			MinutesUsed:   s.Today.MinutesUsed,
			MessagesCount: s.Today.MessagesCount,
		},
		MonthlyTotal:   s.MonthlyTotal,
		DailyLimit:     s.DailyLimit,
		RemainingToday: s.RemainingToday,
		History:        nonNil(s.History),
	}
}

// CreateUserRequest is the body of POST /api/admin/users.
type CreateUserRequest struct {
	Email        string   `json:"email"`
	Password     string   `json:"password"`
	Name         string   `json:"name"`
	Role         string   `json:"role,omitempty"`
	DailyMinutes *float64 `json:"daily_minutes,omitempty"`
}

// UpdateUserRequest is the body of PUT /api/admin/users/{id}.
type UpdateUserRequest struct {
	Name         *string  `json:"name,omitempty"`
	DailyMinutes *float64 `json:"daily_minutes,omitempty"`
	IsActive     *bool    `json:"is_active,omitempty"`
	Role         *string  `json:"role,omitempty"`
}

// ToUpdate converts the request to a model update.
func (r UpdateUserRequest) ToUpdate() model.UserUpdate {
	return model.UserUpdate{
		Name:         r.Name,
		DailyMinutes: r.DailyMinutes,
		IsActive:     r.IsActive,
		Role:         r.Role,
	}
}

// UserMutationResponse acknowledges a create or update with the result.
type UserMutationResponse struct {
	Message string             `json:"message"`
	User    model.UserResponse `json:"user"`
}

// UserDetailResponse is returned by GET /api/admin/users/{id}.
type UserDetailResponse struct {
	User         model.UserResponse  `json:"user"`
	Usage        []model.UsageRecord `json:"usage"`
	MonthlyTotal float64             `json:"monthly_total"`
}

// ToUserDetailResponse converts a user detail.
func ToUserDetailResponse(d *service.UserDetail) *UserDetailResponse {
	return &UserDetailResponse{
		User:         d.User.ToResponse(),
		Usage:        nonNil(d.Usage),
		MonthlyTotal: d.MonthlyTotal,
	}
}

// UpdateSettingsRequest is the body of PUT /api/admin/settings.
type UpdateSettingsRequest struct {
	DefaultDailyMinutes *float64 `json:"default_daily_minutes,omitempty"`
	SystemPersonality   *string  `json:"system_personality,omitempty"`
}

// StatsResponse is returned by GET /api/admin/stats.
type StatsResponse struct {
	TotalUsers   int64   `json:"total_users"`
	ActiveToday  int64   `json:"active_today"`
	MinutesToday float64 `json:"minutes_today"`
	MinutesMonth float64 `json:"minutes_month"`
}

// ToStatsResponse converts dashboard stats.
func ToStatsResponse(s *service.Stats) *StatsResponse {
	return &StatsResponse{
		TotalUsers:   s.TotalUsers,
		ActiveToday:  s.ActiveToday,
		MinutesToday: s.MinutesToday,
		MinutesMonth: s.MinutesMonth,
	}
}

// nonNil keeps empty lists as [] rather than null in JSON.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// ToUserList converts a user listing.
func ToUserList(users []model.UserWithUsage) []model.UserWithUsage {
	return nonNil(users)
}
