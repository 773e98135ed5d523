package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/chatquota/chatquota/internal/model"
)

const dateLayout = "2006-01-02"

// GetDailyAllowance reads an active user's limit joined with their usage
// on day. A missing usage row yields zero counters.
func (r *Repository) GetDailyAllowance(ctx context.Context, userID string, day time.Time) (*model.DailyAllowance, error) {
	query := `
		SELECT u.daily_minutes, COALESCE(ur.minutes_used, 0), COALESCE(ur.messages_count, 0)
		FROM users u
		LEFT JOIN usage_records ur ON ur.user_id = u.id AND ur.usage_date = $2
		WHERE u.id = $1 AND u.is_active
	`

	a := model.DailyAllowance{
		UserID: userID,
		Usage:  model.UsageRecord{UserID: userID, Date: day.Format(dateLayout)},
	}
	err := r.pool.QueryRow(ctx, query, userID, day).Scan(
		&a.DailyMinutes,
		&a.Usage.MinutesUsed,
		&a.Usage.MessagesCount,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get daily allowance: %w", err)
	}

	return &a, nil
}

// AccrueUsage adds minutes to the (user, day) record and counts one message.
// The increment happens inside a single upsert so concurrent calls for the
// same key never lose updates.
func (r *Repository) AccrueUsage(ctx context.Context, userID string, day time.Time, minutes float64) (*model.UsageRecord, error) {
	query := `
		INSERT INTO usage_records (user_id, usage_date, minutes_used, messages_count, updated_at)
		VALUES ($1, $2, $3, 1, NOW())
		ON CONFLICT (user_id, usage_date) DO UPDATE SET
			minutes_used   = usage_records.minutes_used + EXCLUDED.minutes_used,
			messages_count = usage_records.messages_count + 1,
			updated_at     = NOW()
		RETURNING minutes_used, messages_count, updated_at
	`

	rec := model.UsageRecord{UserID: userID, Date: day.Format(dateLayout)}
	err := r.pool.QueryRow(ctx, query, userID, day, minutes).Scan(
		&rec.MinutesUsed,
		&rec.MessagesCount,
		&rec.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to accrue usage: %w", err)
	}

	return &rec, nil
}

// ListUsage returns a user's records in [from, to], newest first.
func (r *Repository) ListUsage(ctx context.Context, userID string, from, to time.Time) ([]model.UsageRecord, error) {
	query := `
		SELECT usage_date, minutes_used, messages_count, updated_at
		FROM usage_records
		WHERE user_id = $1 AND usage_date BETWEEN $2 AND $3
		ORDER BY usage_date DESC
	`

	rows, err := r.pool.Query(ctx, query, userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to list usage: %w", err)
	}
	defer rows.Close()

	records := make([]model.UsageRecord, 0)
	for rows.Next() {
		rec := model.UsageRecord{UserID: userID}
		var date time.Time
		if err := rows.Scan(&date, &rec.MinutesUsed, &rec.MessagesCount, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan usage record: %w", err)
		}
		rec.Date = date.Format(dateLayout)
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating usage records: %w", err)
	}

	return records, nil
}

// GetUsageTotals aggregates student counts and minutes for the admin dashboard.
func (r *Repository) GetUsageTotals(ctx context.Context, day, monthStart time.Time) (*model.DailyTotals, error) {
	query := `
		SELECT
			(SELECT COUNT(*) FROM users WHERE role = 'student'),
			(SELECT COUNT(DISTINCT user_id) FROM usage_records WHERE usage_date = $1),
			(SELECT COALESCE(SUM(minutes_used), 0) FROM usage_records WHERE usage_date = $1),
			(SELECT COALESCE(SUM(minutes_used), 0) FROM usage_records WHERE usage_date >= $2)
	`

	var totals model.DailyTotals
	err := r.pool.QueryRow(ctx, query, day, monthStart).Scan(
		&totals.TotalStudents,
		&totals.ActiveToday,
		&totals.MinutesToday,
		&totals.MinutesMonth,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get usage totals: %w", err)
	}

	return &totals, nil
}
