package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/chatquota/chatquota/internal/auth"
	"github.com/chatquota/chatquota/internal/handler/dto"
	"github.com/chatquota/chatquota/internal/model"
	"github.com/chatquota/chatquota/internal/service"
)

// ChatCompleter runs an admitted, accounted chat request.
type ChatCompleter interface {
	Chat(ctx context.Context, userID string, messages []model.ChatMessage) (*service.ChatResult, error)
}

// ChatHandler serves the chat proxy endpoint.
type ChatHandler struct {
	svc    ChatCompleter
	logger *slog.Logger
}

// NewChatHandler creates a new ChatHandler.
func NewChatHandler(svc ChatCompleter, logger *slog.Logger) *ChatHandler {
	return &ChatHandler{svc: svc, logger: logger}
}

// Chat handles POST /api/chat.
// The upstream payload is returned unchanged apart from usage_info.
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	if userID == "" {
		writeErrorJSON(w, http.StatusUnauthorized, CodeUnauthorized, "authentication required")
		return
	}

	var req dto.ChatRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.svc.Chat(r.Context(), userID, req.Messages)
	if err != nil {
		writeServiceError(w, h.logger, r, err)
		return
	}

	h.logger.Info("chat_completed",
		slog.String("user_id", userID),
		slog.Float64("minutes", result.Receipt.Minutes),
		slog.Float64("used_today", result.Receipt.UsedAfter),
		slog.Bool("recorded", result.Receipt.Recorded),
	)

	writeRawJSON(w, http.StatusOK, result.Body)
}
