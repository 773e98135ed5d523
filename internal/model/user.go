// Package model defines domain entities for the application.
package model

import (
	"slices"
	"time"
)

// Role constants for user authorization.
const (
	RoleStudent    = "student"
	RoleAdmin      = "admin"
	RoleSuperAdmin = "super_admin"
)

// ValidRoles contains all valid role values.
var ValidRoles = []string{RoleStudent, RoleAdmin, RoleSuperAdmin}

// adminRoles are the roles allowed on /api/admin routes.
var adminRoles = []string{RoleAdmin, RoleSuperAdmin}

// IsValidRole reports whether role is a known role.
func IsValidRole(role string) bool {
	return slices.Contains(ValidRoles, role)
}

// IsAdminRole reports whether role grants administrative access.
func IsAdminRole(role string) bool {
	return slices.Contains(adminRoles, role)
}

// User represents an account allowed to chat through the proxy.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"` // Never serialize
	Name         string    `json:"name"`
	Role         string    `json:"role"`
	DailyMinutes float64   `json:"daily_minutes"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
}

// UserResponse is the public representation of a user.
type UserResponse struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	Role         string    `json:"role"`
	DailyMinutes float64   `json:"daily_minutes"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
}

// ToResponse converts a User to UserResponse.
func (u *User) ToResponse() UserResponse {
	return UserResponse{
		ID:           u.ID,
		Email:        u.Email,
		Name:         u.Name,
		Role:         u.Role,
		DailyMinutes: u.DailyMinutes,
		IsActive:     u.IsActive,
		CreatedAt:    u.CreatedAt,
	}
}

// UserWithUsage is a user joined with a single day's usage counters.
type UserWithUsage struct {
	UserResponse
	UsedToday     float64 `json:"used_today"`
	MessagesToday int64   `json:"messages_today"`
}

// UserUpdate carries the optional fields of an administrative update.
// Nil fields are left unchanged.
type UserUpdate struct {
	Name         *string
	DailyMinutes *float64
	IsActive     *bool
	Role         *string
}

// IsEmpty returns true if the update changes nothing.
func (u UserUpdate) IsEmpty() bool {
	return u.Name == nil && u.DailyMinutes == nil && u.IsActive == nil && u.Role == nil
}

// AuthContext holds authenticated request context.
// This is injected into the request context by auth middleware.
type AuthContext struct {
	UserID   string
	Email    string
	Role     string
	IsActive bool
}

// IsAdmin checks if the caller may use admin endpoints.
func (a *AuthContext) IsAdmin() bool {
	return IsAdminRole(a.Role)
}

// IsSuperAdmin checks if the caller is a super admin.
func (a *AuthContext) IsSuperAdmin() bool {
	return a.Role == RoleSuperAdmin
}
