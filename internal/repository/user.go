package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/lib/pq"

	"github.com/chatquota/chatquota/internal/model"
)

// Common errors for user repository operations.
var (
	ErrUserNotFound = errors.New("user not found")
	ErrEmailExists  = errors.New("email already exists")
)

const userColumns = `id, email, password_hash, name, role, daily_minutes, is_active, created_at`

// CreateUser inserts a new user into the database.
func (r *Repository) CreateUser(ctx context.Context, user *model.User) error {
	query := `
		INSERT INTO users (` + userColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.pool.Exec(ctx, query,
		user.ID,
		user.Email,
		user.PasswordHash,
		user.Name,
		user.Role,
		user.DailyMinutes,
		user.IsActive,
		user.CreatedAt,
	)

	if err != nil {
		if isUniqueViolation(err) {
			return ErrEmailExists
		}
		return fmt.Errorf("failed to create user: %w", err)
	}

	return nil
}

// EnsureUser inserts user unless the email is already taken.
// It reports whether a row was created.
func (r *Repository) EnsureUser(ctx context.Context, user *model.User) (bool, error) {
	query := `
		INSERT INTO users (` + userColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (email) DO NOTHING
	`

	result, err := r.pool.Exec(ctx, query,
		user.ID,
		user.Email,
		user.PasswordHash,
		user.Name,
		user.Role,
		user.DailyMinutes,
		user.IsActive,
		user.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to ensure user: %w", err)
	}

	return result.RowsAffected() > 0, nil
}

// GetUserByID retrieves a user by their ID.
func (r *Repository) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	user, err := scanUser(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user by ID: %w", err)
	}

	return user, nil
}

// GetUserByEmail retrieves a user by their email address.
func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`

	user, err := scanUser(r.pool.QueryRow(ctx, query, email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}

	return user, nil
}

// ListUsersWithUsage returns users joined with their usage on day, newest
// first. An empty roles slice returns every role.
func (r *Repository) ListUsersWithUsage(ctx context.Context, day time.Time, roles []string) ([]model.UserWithUsage, error) {
	query := `
		SELECT u.id, u.email, u.name, u.role, u.daily_minutes, u.is_active, u.created_at,
		       COALESCE(ur.minutes_used, 0), COALESCE(ur.messages_count, 0)
		FROM users u
		LEFT JOIN usage_records ur ON ur.user_id = u.id AND ur.usage_date = $1
	`
	args := []any{day}

	if len(roles) > 0 {
		query += ` WHERE u.role = ANY($2)`
		args = append(args, pq.Array(roles))
	}
	query += ` ORDER BY u.created_at DESC, u.id DESC`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	users := make([]model.UserWithUsage, 0)
	for rows.Next() {
		var u model.UserWithUsage
		if err := rows.Scan(
			&u.ID,
			&u.Email,
			&u.Name,
			&u.Role,
			&u.DailyMinutes,
			&u.IsActive,
			&u.CreatedAt,
			&u.UsedToday,
			&u.MessagesToday,
		); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating users: %w", err)
	}

	return users, nil
}

// UpdateUser applies the non-nil fields of upd and returns the updated row.
func (r *Repository) UpdateUser(ctx context.Context, id string, upd model.UserUpdate) (*model.User, error) {
	if upd.IsEmpty() {
		return r.GetUserByID(ctx, id)
	}

	var sets []string
	args := []any{id}
	argIndex := 2

	if upd.Name != nil {
		sets = append(sets, fmt.Sprintf("name = $%d", argIndex))
		args = append(args, *upd.Name)
		argIndex++
	}
	if upd.DailyMinutes != nil {
		sets = append(sets, fmt.Sprintf("daily_minutes = $%d", argIndex))
		args = append(args, *upd.DailyMinutes)
		argIndex++
	}
	if upd.IsActive != nil {
		sets = append(sets, fmt.Sprintf("is_active = $%d", argIndex))
		args = append(args, *upd.IsActive)
		argIndex++
	}
	if upd.Role != nil {
		sets = append(sets, fmt.Sprintf("role = $%d", argIndex))
		args = append(args, *upd.Role)
	}

	query := `UPDATE users SET ` + strings.Join(sets, ", ") +
		` WHERE id = $1 RETURNING ` + userColumns

	user, err := scanUser(r.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to update user: %w", err)
	}

	return user, nil
}

// DeleteUser removes a user. Usage records go with it via ON DELETE CASCADE.
func (r *Repository) DeleteUser(ctx context.Context, id string) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrUserNotFound
	}

	return nil
}

func scanUser(row pgx.Row) (*model.User, error) {
	var user model.User
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.PasswordHash,
		&user.Name,
		&user.Role,
		&user.DailyMinutes,
		&user.IsActive,
		&user.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &user, nil
}
