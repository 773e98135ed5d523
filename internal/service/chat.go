package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/chatquota/chatquota/internal/metrics"
	"github.com/chatquota/chatquota/internal/model"
	"github.com/chatquota/chatquota/internal/quota"
	"github.com/chatquota/chatquota/internal/upstream"
)

// accrueTimeout bounds the accrual, which runs detached from the request.
const accrueTimeout = 5 * time.Second

// ChatConfig selects the upstream model for completions.
type ChatConfig struct {
	Model     string
	MaxTokens int
}

// ChatResult is an answered chat request.
type ChatResult struct {
	// Body is the upstream payload with usage_info injected.
	Body    []byte
	Receipt quota.Receipt
}

// UsageInfo is the accounting block appended to every answer.
type UsageInfo struct {
	MinutesUsedNow float64 `json:"minutes_used_now"`
	TotalUsedToday float64 `json:"total_used_today"`
	DailyLimit     float64 `json:"daily_limit"`
	Remaining      float64 `json:"remaining"`
	Recorded       bool    `json:"recorded"`
}

// ChatService admits, forwards and accounts chat requests.
type ChatService struct {
	ledger   *quota.Ledger
	calendar *quota.Calendar
	client   upstream.Client
	settings *SettingsService
	cfg      ChatConfig
	metrics  metrics.Recorder
	logger   *slog.Logger
}

// NewChatService creates a ChatService. A nil recorder disables metrics.
func NewChatService(ledger *quota.Ledger, calendar *quota.Calendar, client upstream.Client, settings *SettingsService, cfg ChatConfig, rec metrics.Recorder, logger *slog.Logger) *ChatService {
	if rec == nil {
		rec = metrics.NewNoop()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatService{
		ledger:   ledger,
		calendar: calendar,
		client:   client,
		settings: settings,
		cfg:      cfg,
		metrics:  rec,
		logger:   logger,
	}
}

// Chat runs one admitted completion for userID.
//
// Errors: *ValidationError for malformed messages, *quota.ExceededError when
// the daily allowance is used up, quota.ErrUserNotFound for missing or
// inactive users, *upstream.Error when the model call fails or answers with
// something other than a JSON object. Nothing is
// accrued in any of these cases. A failed accrual is not an error: the
// answer is returned with Receipt.Recorded set to false.
func (s *ChatService) Chat(ctx context.Context, userID string, messages []model.ChatMessage) (*ChatResult, error) {
	if err := ValidateMessages(messages); err != nil {
		return nil, err
	}

	day := s.calendar.Today()
	before, err := s.ledger.CheckAndAdmit(ctx, userID, day)
	if err != nil {
		var exceeded *quota.ExceededError
		if errors.As(err, &exceeded) {
			s.metrics.IncChatRejected(metrics.RejectQuota)
			s.logger.Info("chat rejected: quota exhausted",
				slog.String("user_id", userID),
				slog.Float64("used", exceeded.Balance.Used),
				slog.Float64("limit", exceeded.Balance.Limit),
			)
		}
		return nil, err
	}
	s.metrics.IncChatAdmitted()

	personality, err := s.settings.Personality(ctx)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := s.client.Complete(ctx, &upstream.Request{
		Model:     s.cfg.Model,
		MaxTokens: s.cfg.MaxTokens,
		System:    personality,
		Messages:  messages,
	})
	s.metrics.ObserveUpstreamDuration(time.Since(start))
	if err != nil {
		status := 0
		var upErr *upstream.Error
		if errors.As(err, &upErr) {
			status = upErr.StatusCode
		}
		s.metrics.IncUpstreamFailure(status)
		s.logger.Warn("upstream call failed",
			slog.String("user_id", userID),
			slog.Int("status", status),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	if !gjson.ParseBytes(resp.Body).IsObject() {
		s.metrics.IncUpstreamFailure(http.StatusBadGateway)
		s.logger.Warn("upstream returned a non-object payload", slog.String("user_id", userID))
		return nil, &upstream.Error{StatusCode: http.StatusBadGateway, Message: "malformed upstream response"}
	}

	minutes := s.ledger.Estimate(resp.InputTokens, resp.OutputTokens)

	// The answer already exists; a storage failure here must not discard it,
	// and a disconnected client must not cancel the charge.
	accrueCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), accrueTimeout)
	after, err := s.ledger.Accrue(accrueCtx, userID, day, minutes)
	cancel()
	if err != nil {
		s.metrics.IncAccrualFailure()
		s.logger.Error("failed to accrue usage",
			slog.String("user_id", userID),
			slog.String("day", day.String()),
			slog.Float64("minutes", minutes),
			slog.String("error", err.Error()),
		)
	} else {
		s.metrics.AddMinutesAccrued(minutes)
	}

	receipt := quota.Settle(before, minutes, after)

	body, err := AttachUsageInfo(resp.Body, receipt)
	if err != nil {
		return nil, err
	}

	return &ChatResult{Body: body, Receipt: receipt}, nil
}

// ValidateMessages checks that messages is a non-empty list of user or
// assistant turns with content.
func ValidateMessages(messages []model.ChatMessage) error {
	if len(messages) == 0 {
		return invalid("messages", "must be a non-empty array")
	}
	for i, m := range messages {
		if m.Role != model.ChatRoleUser && m.Role != model.ChatRoleAssistant {
			return invalid(fmt.Sprintf("messages[%d].role", i), "must be user or assistant")
		}
		content := bytes.TrimSpace(m.Content)
		if len(content) == 0 || bytes.Equal(content, []byte("null")) {
			return invalid(fmt.Sprintf("messages[%d].content", i), "is required")
		}
	}
	return nil
}

// AttachUsageInfo sets usage_info on a JSON object payload.
func AttachUsageInfo(payload []byte, r quota.Receipt) ([]byte, error) {
	info := UsageInfo{
		MinutesUsedNow: r.Minutes,
		TotalUsedToday: r.UsedAfter,
		DailyLimit:     r.Limit,
		Remaining:      r.RemainingAfter,
		Recorded:       r.Recorded,
	}
	out, err := sjson.SetBytes(payload, "usage_info", info)
	if err != nil {
		return nil, fmt.Errorf("attach usage info: %w", err)
	}
	return out, nil
}
