// Package quota owns per-user daily usage accounting: how much allowance
// is left, whether a request may proceed, and accrual of consumption.
package quota

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/chatquota/chatquota/internal/model"
	"github.com/chatquota/chatquota/internal/repository"
)

// ErrUserNotFound indicates the user does not exist or is inactive.
var ErrUserNotFound = errors.New("active user not found")

// Store is the persistence the ledger needs.
// AccrueUsage must be a single atomic insert-or-accumulate.
type Store interface {
	GetDailyAllowance(ctx context.Context, userID string, day time.Time) (*model.DailyAllowance, error)
	AccrueUsage(ctx context.Context, userID string, day time.Time, minutes float64) (*model.UsageRecord, error)
}

// Balance is a user's allowance snapshot for one day.
type Balance struct {
	Limit    float64
	Used     float64
	Messages int64
}

// Remaining returns Limit - Used. It may be negative after an overshoot.
func (b Balance) Remaining() float64 {
	return b.Limit - b.Used
}

// Exhausted reports whether no allowance is left.
func (b Balance) Exhausted() bool {
	return b.Used >= b.Limit
}

// ExceededError is returned by CheckAndAdmit when the daily allowance is used up.
type ExceededError struct {
	Balance Balance
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("daily quota exceeded: used %.2f of %.2f minutes", e.Balance.Used, e.Balance.Limit)
}

// Receipt describes one accrued request.
type Receipt struct {
	Limit          float64
	UsedBefore     float64
	Minutes        float64
	UsedAfter      float64
	Messages       int64
	RemainingAfter float64
	Recorded       bool
}

// Ledger answers allowance queries and accrues consumption.
type Ledger struct {
	store    Store
	estimate Estimator
}

// NewLedger creates a Ledger. A nil estimator selects EstimateConsumption.
func NewLedger(store Store, estimate Estimator) *Ledger {
	if estimate == nil {
		estimate = EstimateConsumption
	}
	return &Ledger{store: store, estimate: estimate}
}

// Remaining reads the user's limit and usage for day. It has no side effects.
func (l *Ledger) Remaining(ctx context.Context, userID string, day Day) (Balance, error) {
	t, err := day.Time()
	if err != nil {
		return Balance{}, err
	}

	allowance, err := l.store.GetDailyAllowance(ctx, userID, t)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return Balance{}, ErrUserNotFound
		}
		return Balance{}, fmt.Errorf("read allowance: %w", err)
	}

	return Balance{
		Limit:    allowance.DailyMinutes,
		Used:     allowance.Usage.MinutesUsed,
		Messages: allowance.Usage.MessagesCount,
	}, nil
}

// CheckAndAdmit decides whether a request may call upstream.
// It returns *ExceededError when used >= limit; otherwise the snapshot is
// returned for Settle after the call.
func (l *Ledger) CheckAndAdmit(ctx context.Context, userID string, day Day) (Balance, error) {
	balance, err := l.Remaining(ctx, userID, day)
	if err != nil {
		return Balance{}, err
	}
	if balance.Exhausted() {
		return balance, &ExceededError{Balance: balance}
	}
	return balance, nil
}

// Estimate converts token counts into minutes with the ledger's estimator.
func (l *Ledger) Estimate(promptTokens, completionTokens int) float64 {
	return l.estimate(promptTokens, completionTokens)
}

// Accrue adds minutes to the user's day and counts one message.
// Concurrent calls for the same key are all reflected.
func (l *Ledger) Accrue(ctx context.Context, userID string, day Day, minutes float64) (*model.UsageRecord, error) {
	if minutes < 0 || math.IsNaN(minutes) {
		return nil, fmt.Errorf("invalid accrual of %v minutes", minutes)
	}

	t, err := day.Time()
	if err != nil {
		return nil, err
	}

	record, err := l.store.AccrueUsage(ctx, userID, t, minutes)
	if err != nil {
		return nil, fmt.Errorf("accrue usage: %w", err)
	}
	return record, nil
}

// Settle builds the receipt for an admitted request. A nil record means the
// accrual failed; totals are then derived from the admission snapshot.
func Settle(before Balance, minutes float64, after *model.UsageRecord) Receipt {
	r := Receipt{
		Limit:      before.Limit,
		UsedBefore: before.Used,
		Minutes:    minutes,
	}

	if after != nil {
		r.UsedAfter = after.MinutesUsed
		r.Messages = after.MessagesCount
		r.Recorded = true
	} else {
		r.UsedAfter = before.Used + minutes
		r.Messages = before.Messages + 1
	}

	r.RemainingAfter = math.Max(0, r.Limit-r.UsedAfter)
	return r
}
