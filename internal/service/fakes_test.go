package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/chatquota/chatquota/internal/model"
	"github.com/chatquota/chatquota/internal/quota"
	"github.com/chatquota/chatquota/internal/repository"
	"github.com/chatquota/chatquota/internal/upstream"
)

var errStorage = errors.New("storage offline")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memStore is an in-memory stand-in for the repository.
type memStore struct {
	mu       sync.Mutex
	users    map[string]*model.User
	usage    map[string]map[string]*model.UsageRecord
	settings map[string]string

	failAccrue   bool
	accrueCalls  int
	failSettings bool
}

func newMemStore() *memStore {
	return &memStore{
		users:    make(map[string]*model.User),
		usage:    make(map[string]map[string]*model.UsageRecord),
		settings: make(map[string]string),
	}
}

func (m *memStore) addUser(u *model.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *u
	m.users[u.ID] = &cp
}

func (m *memStore) setUsage(userID, day string, minutes float64, messages int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.usage[userID] == nil {
		m.usage[userID] = make(map[string]*model.UsageRecord)
	}
	m.usage[userID][day] = &model.UsageRecord{UserID: userID, Date: day, MinutesUsed: minutes, MessagesCount: messages}
}

func (m *memStore) usageFor(userID, day string) (model.UsageRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.usage[userID][day]
	if !ok {
		return model.UsageRecord{}, false
	}
	return *rec, true
}

func (m *memStore) CreateUser(_ context.Context, user *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == user.Email {
			return repository.ErrEmailExists
		}
	}
	cp := *user
	m.users[user.ID] = &cp
	return nil
}

func (m *memStore) EnsureUser(ctx context.Context, user *model.User) (bool, error) {
	err := m.CreateUser(ctx, user)
	if errors.Is(err, repository.ErrEmailExists) {
		return false, nil
	}
	return err == nil, err
}

func (m *memStore) GetUserByID(_ context.Context, id string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memStore) GetUserByEmail(_ context.Context, email string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, repository.ErrUserNotFound
}

func (m *memStore) ListUsersWithUsage(_ context.Context, day time.Time, roles []string) ([]model.UserWithUsage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := day.Format(quota.DayLayout)
	var out []model.UserWithUsage
	for _, u := range m.users {
		if len(roles) > 0 && !contains(roles, u.Role) {
			continue
		}
		row := model.UserWithUsage{UserResponse: u.ToResponse()}
		if rec, ok := m.usage[u.ID][key]; ok {
			row.UsedToday = rec.MinutesUsed
			row.MessagesToday = rec.MessagesCount
		}
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) UpdateUser(_ context.Context, id string, upd model.UserUpdate) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	if upd.Name != nil {
		u.Name = *upd.Name
	}
	if upd.DailyMinutes != nil {
		u.DailyMinutes = *upd.DailyMinutes
	}
	if upd.IsActive != nil {
		u.IsActive = *upd.IsActive
	}
	if upd.Role != nil {
		u.Role = *upd.Role
	}
	cp := *u
	return &cp, nil
}

func (m *memStore) DeleteUser(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[id]; !ok {
		return repository.ErrUserNotFound
	}
	delete(m.users, id)
	delete(m.usage, id)
	return nil
}

func (m *memStore) ListUsage(_ context.Context, userID string, from, to time.Time) ([]model.UsageRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lo, hi := from.Format(quota.DayLayout), to.Format(quota.DayLayout)
	var out []model.UsageRecord
	for day, rec := range m.usage[userID] {
		if day >= lo && day <= hi {
			out = append(out, *rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date > out[j].Date })
	return out, nil
}

func (m *memStore) GetUsageTotals(_ context.Context, day, monthStart time.Time) (*model.DailyTotals, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	today, first := day.Format(quota.DayLayout), monthStart.Format(quota.DayLayout)
	totals := &model.DailyTotals{}
	for _, u := range m.users {
		if u.Role == model.RoleStudent {
			totals.TotalStudents++
		}
	}
	for _, days := range m.usage {
		for d, rec := range days {
			if d == today {
				totals.ActiveToday++
				totals.MinutesToday += rec.MinutesUsed
			}
			if d >= first && d <= today {
				totals.MinutesMonth += rec.MinutesUsed
			}
		}
	}
	return totals, nil
}

func (m *memStore) GetDailyAllowance(_ context.Context, userID string, day time.Time) (*model.DailyAllowance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok || !u.IsActive {
		return nil, repository.ErrUserNotFound
	}
	a := &model.DailyAllowance{UserID: userID, DailyMinutes: u.DailyMinutes}
	if rec, ok := m.usage[userID][day.Format(quota.DayLayout)]; ok {
		a.Usage = *rec
	}
	return a, nil
}

func (m *memStore) AccrueUsage(ctx context.Context, userID string, day time.Time, minutes float64) (*model.UsageRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accrueCalls++
	if m.failAccrue {
		return nil, errStorage
	}
	// Mirrors a driver that aborts the statement once ctx is done.
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key := day.Format(quota.DayLayout)
	if m.usage[userID] == nil {
		m.usage[userID] = make(map[string]*model.UsageRecord)
	}
	rec, ok := m.usage[userID][key]
	if !ok {
		rec = &model.UsageRecord{UserID: userID, Date: key}
		m.usage[userID][key] = rec
	}
	rec.MinutesUsed += minutes
	rec.MessagesCount++
	cp := *rec
	return &cp, nil
}

func (m *memStore) ListSettings(_ context.Context) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSettings {
		return nil, errStorage
	}
	out := make(map[string]string, len(m.settings))
	for k, v := range m.settings {
		out[k] = v
	}
	return out, nil
}

func (m *memStore) UpsertSettings(_ context.Context, settings []model.Setting) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range settings {
		m.settings[s.Key] = s.Value
	}
	return nil
}

func (m *memStore) SeedSettings(_ context.Context, defaults []model.Setting) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range defaults {
		if _, ok := m.settings[s.Key]; !ok {
			m.settings[s.Key] = s.Value
		}
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// memIdentityCache records invalidations.
type memIdentityCache struct {
	mu      sync.Mutex
	entries map[string]*model.AuthContext
	deleted []string
}

func newMemIdentityCache() *memIdentityCache {
	return &memIdentityCache{entries: make(map[string]*model.AuthContext)}
}

func (c *memIdentityCache) GetIdentity(_ context.Context, userID string) (*model.AuthContext, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries[userID], nil
}

func (c *memIdentityCache) SetIdentity(_ context.Context, identity *model.AuthContext) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[identity.UserID] = identity
	return nil
}

func (c *memIdentityCache) DeleteIdentity(_ context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, userID)
	c.deleted = append(c.deleted, userID)
	return nil
}

// stubTokens issues predictable tokens.
type stubTokens struct{}

func (stubTokens) Issue(user *model.User) (string, time.Time, error) {
	return "token-" + user.ID, time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC), nil
}

// fakeUpstream returns a canned response or error and records requests.
type fakeUpstream struct {
	mu       sync.Mutex
	resp     *upstream.Response
	err      error
	requests []*upstream.Request
	// onComplete runs before the canned result is returned.
	onComplete func()
}

func (f *fakeUpstream) Complete(_ context.Context, req *upstream.Request) (*upstream.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.onComplete != nil {
		f.onComplete()
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func (f *fakeUpstream) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

// fixedCalendar pins "today" to 2024-06-15 UTC.
func fixedCalendar() *quota.Calendar {
	cal, _ := quota.NewCalendar("UTC")
	return cal.WithClock(func() time.Time {
		return time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	})
}

const testToday = "2024-06-15"

func newSettings(store *memStore) *SettingsService {
	return NewSettingsService(store, nil, SettingsDefaults{DailyMinutes: 60, Personality: "Be kind."}, discardLogger())
}
