package quota

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/chatquota/chatquota/internal/model"
	"github.com/chatquota/chatquota/internal/repository"
)

type usageKey struct {
	userID string
	day    string
}

// memoryStore accumulates under a mutex, standing in for the SQL upsert.
type memoryStore struct {
	mu      sync.Mutex
	limits  map[string]float64
	usage   map[usageKey]model.UsageRecord
	reads   int
	failErr error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		limits: make(map[string]float64),
		usage:  make(map[usageKey]model.UsageRecord),
	}
}

func (s *memoryStore) GetDailyAllowance(_ context.Context, userID string, day time.Time) (*model.DailyAllowance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++

	limit, ok := s.limits[userID]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	return &model.DailyAllowance{
		UserID:       userID,
		DailyMinutes: limit,
		Usage:        s.usage[usageKey{userID, day.Format(DayLayout)}],
	}, nil
}

func (s *memoryStore) AccrueUsage(_ context.Context, userID string, day time.Time, minutes float64) (*model.UsageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failErr != nil {
		return nil, s.failErr
	}

	key := usageKey{userID, day.Format(DayLayout)}
	rec := s.usage[key]
	rec.UserID = userID
	rec.Date = key.day
	rec.MinutesUsed += minutes
	rec.MessagesCount++
	s.usage[key] = rec
	return &rec, nil
}

const testDay = Day("2024-03-15")

func TestLedger_Remaining_NoUsage(t *testing.T) {
	t.Parallel()

	store := newMemoryStore()
	store.limits["u1"] = 60
	l := NewLedger(store, nil)

	b, err := l.Remaining(context.Background(), "u1", testDay)
	if err != nil {
		t.Fatalf("Remaining: %v", err)
	}
	if b.Limit != 60 || b.Used != 0 || b.Messages != 0 || b.Remaining() != 60 {
		t.Errorf("unexpected balance %+v", b)
	}
}

func TestLedger_Remaining_UnknownUser(t *testing.T) {
	t.Parallel()

	l := NewLedger(newMemoryStore(), nil)
	_, err := l.Remaining(context.Background(), "ghost", testDay)
	if !errors.Is(err, ErrUserNotFound) {
		t.Errorf("err = %v, want ErrUserNotFound", err)
	}
}

func TestLedger_Remaining_Idempotent(t *testing.T) {
	t.Parallel()

	store := newMemoryStore()
	store.limits["u1"] = 30
	l := NewLedger(store, nil)
	ctx := context.Background()

	if _, err := l.Accrue(ctx, "u1", testDay, 4.2); err != nil {
		t.Fatalf("Accrue: %v", err)
	}

	first, err := l.Remaining(ctx, "u1", testDay)
	if err != nil {
		t.Fatalf("Remaining: %v", err)
	}
	second, err := l.Remaining(ctx, "u1", testDay)
	if err != nil {
		t.Fatalf("Remaining: %v", err)
	}
	if first != second {
		t.Errorf("consecutive reads differ: %+v vs %+v", first, second)
	}
}

func TestLedger_CheckAndAdmit(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		limit    float64
		used     float64
		exceeded bool
	}{
		{"fresh day", 60, 0, false},
		{"partially used", 60, 59.9, false},
		{"exactly at limit", 10, 10, true},
		{"overshot", 10, 10.4, true},
	}

	for _, tt := range tests {

		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			store := newMemoryStore()
			store.limits["u1"] = tt.limit
			if tt.used > 0 {
				store.usage[usageKey{"u1", testDay.String()}] = model.UsageRecord{MinutesUsed: tt.used, MessagesCount: 3}
			}
			l := NewLedger(store, nil)

			b, err := l.CheckAndAdmit(context.Background(), "u1", testDay)
			var exceeded *ExceededError
			if got := errors.As(err, &exceeded); got != tt.exceeded {
				t.Fatalf("exceeded = %v, want %v (err=%v)", got, tt.exceeded, err)
			}
			if tt.exceeded {
				if exceeded.Balance.Limit != tt.limit || exceeded.Balance.Used != tt.used {
					t.Errorf("exceeded balance = %+v", exceeded.Balance)
				}
				return
			}
			if b.Used != tt.used {
				t.Errorf("admitted used = %v, want %v", b.Used, tt.used)
			}
		})
	}
}

func TestLedger_Accrue_CreatesThenAccumulates(t *testing.T) {
	t.Parallel()

	store := newMemoryStore()
	store.limits["u1"] = 60
	l := NewLedger(store, nil)
	ctx := context.Background()

	rec, err := l.Accrue(ctx, "u1", testDay, 2.5)
	if err != nil {
		t.Fatalf("Accrue: %v", err)
	}
	if rec.MinutesUsed != 2.5 || rec.MessagesCount != 1 {
		t.Errorf("first accrual = %+v", rec)
	}

	rec, err = l.Accrue(ctx, "u1", testDay, 0.1)
	if err != nil {
		t.Fatalf("Accrue: %v", err)
	}
	if math.Abs(rec.MinutesUsed-2.6) > 1e-9 || rec.MessagesCount != 2 {
		t.Errorf("second accrual = %+v", rec)
	}

	// A new day starts from zero.
	rec, err = l.Accrue(ctx, "u1", Day("2024-03-16"), 1)
	if err != nil {
		t.Fatalf("Accrue: %v", err)
	}
	if rec.MinutesUsed != 1 || rec.MessagesCount != 1 {
		t.Errorf("next-day accrual = %+v", rec)
	}
}

func TestLedger_Accrue_RejectsNegative(t *testing.T) {
	t.Parallel()

	store := newMemoryStore()
	l := NewLedger(store, nil)

	if _, err := l.Accrue(context.Background(), "u1", testDay, -1); err == nil {
		t.Error("expected error for negative minutes")
	}
	if len(store.usage) != 0 {
		t.Error("negative accrual must not touch the store")
	}
}

func TestLedger_Accrue_Concurrent(t *testing.T) {
	t.Parallel()

	store := newMemoryStore()
	store.limits["u1"] = 1000
	store.usage[usageKey{"u1", testDay.String()}] = model.UsageRecord{MinutesUsed: 5, MessagesCount: 2}
	l := NewLedger(store, nil)

	const n = 50
	const m = 0.5

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.Accrue(context.Background(), "u1", testDay, m); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Fatalf("Accrue: %v", err)
	}

	b, err := l.Remaining(context.Background(), "u1", testDay)
	if err != nil {
		t.Fatalf("Remaining: %v", err)
	}
	if math.Abs(b.Used-(5+n*m)) > 1e-9 {
		t.Errorf("used = %v, want %v", b.Used, 5+n*m)
	}
	if b.Messages != 2+n {
		t.Errorf("messages = %d, want %d", b.Messages, 2+n)
	}
}

func TestLedger_AccrueFailureSurfaces(t *testing.T) {
	t.Parallel()

	store := newMemoryStore()
	store.failErr = errors.New("connection refused")
	l := NewLedger(store, nil)

	_, err := l.Accrue(context.Background(), "u1", testDay, 1)
	if err == nil || !errors.Is(err, store.failErr) {
		t.Errorf("err = %v, want wrapped store error", err)
	}
}

func TestLedger_CustomEstimator(t *testing.T) {
	t.Parallel()

	l := NewLedger(newMemoryStore(), func(in, out int) float64 { return float64(in + out) })
	if got := l.Estimate(2, 3); got != 5 {
		t.Errorf("Estimate = %v, want 5", got)
	}
}

func TestSettle(t *testing.T) {
	t.Parallel()

	t.Run("recorded", func(t *testing.T) {
		t.Parallel()

		before := Balance{Limit: 60}
		r := Settle(before, 2.5, &model.UsageRecord{MinutesUsed: 2.5, MessagesCount: 1})
		if r.UsedAfter != 2.5 || r.RemainingAfter != 57.5 || !r.Recorded || r.UsedBefore != 0 {
			t.Errorf("receipt = %+v", r)
		}
	})

	t.Run("concurrent accrual reflected", func(t *testing.T) {
		t.Parallel()

		before := Balance{Limit: 60, Used: 10}
		r := Settle(before, 1, &model.UsageRecord{MinutesUsed: 14, MessagesCount: 5})
		if r.UsedAfter != 14 || r.RemainingAfter != 46 {
			t.Errorf("receipt = %+v", r)
		}
	})

	t.Run("overshoot clamps remaining", func(t *testing.T) {
		t.Parallel()

		before := Balance{Limit: 10, Used: 9.9}
		r := Settle(before, 0.5, &model.UsageRecord{MinutesUsed: 10.4, MessagesCount: 4})
		if r.RemainingAfter != 0 {
			t.Errorf("RemainingAfter = %v, want 0", r.RemainingAfter)
		}
	})

	t.Run("unrecorded falls back to snapshot", func(t *testing.T) {
		t.Parallel()

		before := Balance{Limit: 60, Used: 3, Messages: 2}
		r := Settle(before, 0.1, nil)
		if r.Recorded {
			t.Error("Recorded should be false")
		}
		if math.Abs(r.UsedAfter-3.1) > 1e-9 || r.Messages != 3 {
			t.Errorf("receipt = %+v", r)
		}
	})
}
