package service

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/chatquota/chatquota/internal/model"
)

// MaxPersonalityLength bounds the system prompt an admin can set.
const MaxPersonalityLength = 4000

// SettingsStore persists settings.
type SettingsStore interface {
	ListSettings(ctx context.Context) (map[string]string, error)
	UpsertSettings(ctx context.Context, settings []model.Setting) error
	SeedSettings(ctx context.Context, defaults []model.Setting) error
}

// SettingsCache is an optional read-through cache for settings.
type SettingsCache interface {
	GetSettings(ctx context.Context) (map[string]string, error)
	SetSettings(ctx context.Context, settings map[string]string) error
	InvalidateSettings(ctx context.Context) error
}

// SettingsDefaults are used for seeding and for missing or unusable rows.
type SettingsDefaults struct {
	DailyMinutes float64
	Personality  string
}

// SettingsUpdate carries the optional fields of an admin settings edit.
type SettingsUpdate struct {
	DefaultDailyMinutes *float64
	SystemPersonality   *string
}

// SettingsService reads and edits process-wide settings.
type SettingsService struct {
	store    SettingsStore
	cache    SettingsCache
	defaults SettingsDefaults
	logger   *slog.Logger
}

// NewSettingsService creates a SettingsService. cache may be nil.
func NewSettingsService(store SettingsStore, cache SettingsCache, defaults SettingsDefaults, logger *slog.Logger) *SettingsService {
	if defaults.Personality == "" {
		defaults.Personality = model.FallbackPersonality
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SettingsService{store: store, cache: cache, defaults: defaults, logger: logger}
}

// Seed inserts default settings without overwriting edits.
func (s *SettingsService) Seed(ctx context.Context) error {
	return s.store.SeedSettings(ctx, []model.Setting{
		{Key: model.SettingDefaultDailyMinutes, Value: formatMinutes(s.defaults.DailyMinutes)},
		{Key: model.SettingSystemPersonality, Value: s.defaults.Personality},
	})
}

// All returns every setting, filling defaults for missing keys.
func (s *SettingsService) All(ctx context.Context) (map[string]string, error) {
	if s.cache != nil {
		if cached, _ := s.cache.GetSettings(ctx); cached != nil {
			return s.withDefaults(cached), nil
		}
	}

	settings, err := s.store.ListSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("list settings: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.SetSettings(ctx, settings); err != nil {
			s.logger.Warn("failed to cache settings", slog.String("error", err.Error()))
		}
	}

	return s.withDefaults(settings), nil
}

// Personality returns the system prompt sent with every chat.
func (s *SettingsService) Personality(ctx context.Context) (string, error) {
	settings, err := s.All(ctx)
	if err != nil {
		return "", err
	}
	return settings[model.SettingSystemPersonality], nil
}

// DefaultDailyMinutes returns the allowance given to new accounts.
func (s *SettingsService) DefaultDailyMinutes(ctx context.Context) (float64, error) {
	settings, err := s.All(ctx)
	if err != nil {
		return 0, err
	}

	v, err := strconv.ParseFloat(settings[model.SettingDefaultDailyMinutes], 64)
	if err != nil || v <= 0 || math.IsInf(v, 0) {
		s.logger.Warn("unusable default_daily_minutes setting, using configured default",
			slog.String("value", settings[model.SettingDefaultDailyMinutes]),
		)
		return s.defaults.DailyMinutes, nil
	}
	return v, nil
}

// Update validates and stores an admin edit, then drops the cache.
func (s *SettingsService) Update(ctx context.Context, upd SettingsUpdate) (map[string]string, error) {
	var changes []model.Setting

	if upd.DefaultDailyMinutes != nil {
		if err := validateMinutes("default_daily_minutes", *upd.DefaultDailyMinutes); err != nil {
			return nil, err
		}
		changes = append(changes, model.Setting{
			Key:   model.SettingDefaultDailyMinutes,
			Value: formatMinutes(*upd.DefaultDailyMinutes),
		})
	}

	if upd.SystemPersonality != nil {
		p := strings.TrimSpace(*upd.SystemPersonality)
		if p == "" {
			return nil, invalid("system_personality", "must not be empty")
		}
		if utf8.RuneCountInString(p) > MaxPersonalityLength {
			return nil, invalid("system_personality", fmt.Sprintf("must be at most %d characters", MaxPersonalityLength))
		}
		changes = append(changes, model.Setting{Key: model.SettingSystemPersonality, Value: p})
	}

	if len(changes) == 0 {
		return nil, ErrEmptyUpdate
	}

	if err := s.store.UpsertSettings(ctx, changes); err != nil {
		return nil, fmt.Errorf("update settings: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.InvalidateSettings(ctx); err != nil {
			s.logger.Warn("failed to invalidate settings cache", slog.String("error", err.Error()))
		}
	}

	return s.All(ctx)
}

func (s *SettingsService) withDefaults(in map[string]string) map[string]string {
	out := make(map[string]string, len(in)+2)
	for k, v := range in {
		out[k] = v
	}
	if out[model.SettingDefaultDailyMinutes] == "" {
		out[model.SettingDefaultDailyMinutes] = formatMinutes(s.defaults.DailyMinutes)
	}
	if strings.TrimSpace(out[model.SettingSystemPersonality]) == "" {
		out[model.SettingSystemPersonality] = s.defaults.Personality
	}
	return out
}

func validateMinutes(field string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return invalid(field, "must be a positive number")
	}
	return nil
}

func formatMinutes(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
