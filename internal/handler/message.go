package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/chatify/internal/middleware"
	"github.com/chatify/internal/model"
	"github.com/chatify/internal/repository"
	"github.com/chatify/internal/storage"
)

const maxHistoryLimit = 500

type MessageHandler struct {
	msgRepo     *repository.MessageRepository
	cursorRepo  *repository.CursorRepository
	typing      storage.TypingStore
	defaultPage int
}

func NewMessageHandler(
	msgRepo *repository.MessageRepository,
	cursorRepo *repository.CursorRepository,
	typing storage.TypingStore,
	defaultPage int,
) *MessageHandler {
	if defaultPage <= 0 {
		defaultPage = 50
	}
	return &MessageHandler{
		msgRepo:     msgRepo,
		cursorRepo:  cursorRepo,
		typing:      typing,
		defaultPage: defaultPage,
	}
}

// History отдаёт страницу сообщений канала начиная с from_seq (исключительно),
// без скрытых пользователем. Удалённые для всех остаются в выдаче с пустым
// телом: позиция в последовательности сохраняется.
func (h *MessageHandler) History(w http.ResponseWriter, r *http.Request) {
	channelID := chi.URLParam(r, "channelID")
	userID := middleware.GetUserID(r.Context())
	fromSeq := queryInt64(r, "from_seq", 0)
	limit := queryInt(r, "limit", h.defaultPage)
	if limit <= 0 || limit > maxHistoryLimit {
		limit = h.defaultPage
	}

	messages, err := h.msgRepo.HistoryFor(r.Context(), channelID, userID, fromSeq, limit)
	if err != nil {
		writeRepoError(w, err, "message history")
		return
	}
	out := make([]model.Message, 0, len(messages))
	for _, m := range messages {
		out = append(out, m.ToView())
	}
	writeJSON(w, http.StatusOK, out)
}

type MarkReadRequest struct {
	Seq int64 `json:"seq"`
}

// MarkRead двигает курсор прочтения вперёд (назад — никогда) и возвращает
// свежий счётчик непрочитанного.
func (h *MessageHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	channelID := chi.URLParam(r, "channelID")
	userID := middleware.GetUserID(r.Context())

	var req MarkReadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if req.Seq <= 0 {
		writeError(w, http.StatusBadRequest, "seq must be positive")
		return
	}

	if err := h.cursorRepo.MarkRead(r.Context(), userID, channelID, req.Seq); err != nil {
		writeRepoError(w, err, "mark read")
		return
	}
	count, err := h.cursorRepo.UnreadCount(r.Context(), userID, channelID)
	if err != nil {
		writeRepoError(w, err, "unread after mark read")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"channel_id": channelID, "unread_count": count})
}

// Unread — текущий счётчик непрочитанного в канале.
func (h *MessageHandler) Unread(w http.ResponseWriter, r *http.Request) {
	channelID := chi.URLParam(r, "channelID")
	userID := middleware.GetUserID(r.Context())
	count, err := h.cursorRepo.UnreadCount(r.Context(), userID, channelID)
	if err != nil {
		writeRepoError(w, err, "unread count")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"channel_id": channelID, "unread_count": count})
}

// UnreadAll — карта бейджей: непрочитанное по всем каналам пользователя.
func (h *MessageHandler) UnreadAll(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	counts, err := h.cursorRepo.UnreadCounts(r.Context(), userID)
	if err != nil {
		writeRepoError(w, err, "unread counts")
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

// Typing — кто сейчас печатает в канале (без самого запрашивающего).
// Снимок для открытия канала; дальше клиент живёт на WS-событиях.
func (h *MessageHandler) Typing(w http.ResponseWriter, r *http.Request) {
	channelID := chi.URLParam(r, "channelID")
	userID := middleware.GetUserID(r.Context())
	users, err := h.typing.Active(r.Context(), channelID, userID)
	if err != nil {
		writeRepoError(w, err, "typing snapshot")
		return
	}
	if users == nil {
		users = []model.TypingUser{}
	}
	writeJSON(w, http.StatusOK, users)
}
