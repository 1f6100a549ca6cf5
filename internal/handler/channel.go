package handler

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/chatify/internal/logger"
	"github.com/chatify/internal/middleware"
	"github.com/chatify/internal/model"
	"github.com/chatify/internal/repository"
	"github.com/chatify/internal/storage"
	"github.com/chatify/internal/ws"
)

const maxChannelNameLen = 64

type ChannelHandler struct {
	channelRepo *repository.ChannelRepository
	cursorRepo  *repository.CursorRepository
	typing      storage.TypingStore
	hub         *ws.Hub
	isAdmin     func(userID string) bool
}

func NewChannelHandler(
	channelRepo *repository.ChannelRepository,
	cursorRepo *repository.CursorRepository,
	typing storage.TypingStore,
	hub *ws.Hub,
	isAdmin func(userID string) bool,
) *ChannelHandler {
	if isAdmin == nil {
		isAdmin = func(string) bool { return false }
	}
	return &ChannelHandler{
		channelRepo: channelRepo,
		cursorRepo:  cursorRepo,
		typing:      typing,
		hub:         hub,
		isAdmin:     isAdmin,
	}
}

type CreateChannelRequest struct {
	Name   string `json:"name"`
	Secret string `json:"secret,omitempty"`
}

type JoinChannelRequest struct {
	Secret string `json:"secret,omitempty"`
}

// Create создаёт канал; создатель сразу становится участником.
func (h *ChannelHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateChannelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	// Имена каналов канонически в нижнем регистре: "General" и "general" — один канал.
	req.Name = strings.ToLower(strings.TrimSpace(req.Name))
	if req.Name == "" || len(req.Name) > maxChannelNameLen {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	ident := middleware.GetIdentity(r.Context())
	now := time.Now().UTC()
	ch := &model.Channel{
		ID:           uuid.New().String(),
		Name:         req.Name,
		OwnerID:      ident.UserID,
		OwnerName:    ident.Name,
		AccessSecret: req.Secret,
		CreatedAt:    now,
	}
	if err := h.channelRepo.Create(r.Context(), ch); err != nil {
		writeRepoError(w, err, "channel create")
		return
	}
	if err := h.channelRepo.AddBuddy(r.Context(), &model.Buddy{
		ChannelID: ch.ID,
		UserID:    ident.UserID,
		Name:      ident.Name,
		AvatarURL: ident.AvatarURL,
		JoinedAt:  now,
	}); err != nil {
		writeRepoError(w, err, "channel add owner")
		return
	}

	writeJSON(w, http.StatusCreated, ch.ToPublic())
}

// List — все каналы (каталог «explore»).
func (h *ChannelHandler) List(w http.ResponseWriter, r *http.Request) {
	channels, err := h.channelRepo.ListAll(r.Context())
	if err != nil {
		writeRepoError(w, err, "channel list")
		return
	}
	out := make([]model.ChannelPublic, 0, len(channels))
	for i := range channels {
		out = append(out, channels[i].ToPublic())
	}
	writeJSON(w, http.StatusOK, out)
}

type joinedChannel struct {
	model.ChannelPublic
	UnreadCount int `json:"unread_count"`
}

// ListJoined — каналы пользователя с бейджами непрочитанного.
func (h *ChannelHandler) ListJoined(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	channels, err := h.channelRepo.ListJoined(r.Context(), userID)
	if err != nil {
		writeRepoError(w, err, "channel list joined")
		return
	}
	counts, err := h.cursorRepo.UnreadCounts(r.Context(), userID)
	if err != nil {
		writeRepoError(w, err, "channel unread counts")
		return
	}
	out := make([]joinedChannel, 0, len(channels))
	for i := range channels {
		out = append(out, joinedChannel{
			ChannelPublic: channels[i].ToPublic(),
			UnreadCount:   counts[channels[i].ID],
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// Join добавляет пользователя в канал. Для закрытого канала нужен секрет.
func (h *ChannelHandler) Join(w http.ResponseWriter, r *http.Request) {
	channelID := chi.URLParam(r, "channelID")
	ch, err := h.channelRepo.GetByID(r.Context(), channelID)
	if err != nil {
		writeRepoError(w, err, "channel join get")
		return
	}

	var req JoinChannelRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid body")
			return
		}
	}
	if ch.HasSecret() {
		if subtle.ConstantTimeCompare([]byte(req.Secret), []byte(ch.AccessSecret)) != 1 {
			writeError(w, http.StatusForbidden, "wrong secret")
			return
		}
	}

	ident := middleware.GetIdentity(r.Context())
	if err := h.channelRepo.AddBuddy(r.Context(), &model.Buddy{
		ChannelID: channelID,
		UserID:    ident.UserID,
		Name:      ident.Name,
		AvatarURL: ident.AvatarURL,
		JoinedAt:  time.Now().UTC(),
	}); err != nil {
		writeRepoError(w, err, "channel join add")
		return
	}
	writeJSON(w, http.StatusOK, ch.ToPublic())
}

// Leave выводит пользователя из канала и снимает его typing-маркер.
func (h *ChannelHandler) Leave(w http.ResponseWriter, r *http.Request) {
	channelID := chi.URLParam(r, "channelID")
	userID := middleware.GetUserID(r.Context())
	if err := h.channelRepo.RemoveBuddy(r.Context(), channelID, userID); err != nil {
		writeRepoError(w, err, "channel leave")
		return
	}
	if err := h.typing.Stop(r.Context(), channelID, userID); err != nil {
		// Не фатально: маркер и так истечёт по окну.
		logger.Errorf("channel leave stop typing channel=%s user=%s: %v", channelID, userID, err)
	}
	w.WriteHeader(http.StatusNoContent)
}

// Kick удаляет участника. Только владелец канала или администратор.
func (h *ChannelHandler) Kick(w http.ResponseWriter, r *http.Request) {
	channelID := chi.URLParam(r, "channelID")
	targetID := chi.URLParam(r, "userID")
	requester := middleware.GetUserID(r.Context())

	ch, err := h.channelRepo.GetByID(r.Context(), channelID)
	if err != nil {
		writeRepoError(w, err, "channel kick get")
		return
	}
	if ch.OwnerID != requester && !h.isAdmin(requester) {
		writeError(w, http.StatusForbidden, "only the owner can remove buddies")
		return
	}
	if err := h.channelRepo.RemoveBuddy(r.Context(), channelID, targetID); err != nil {
		writeRepoError(w, err, "channel kick")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Buddies — список участников канала.
func (h *ChannelHandler) Buddies(w http.ResponseWriter, r *http.Request) {
	channelID := chi.URLParam(r, "channelID")
	buddies, err := h.channelRepo.GetBuddies(r.Context(), channelID)
	if err != nil {
		writeRepoError(w, err, "channel buddies")
		return
	}
	writeJSON(w, http.StatusOK, buddies)
}

// Delete удаляет канал со всеми сообщениями (каскад в БД). Только владелец
// или администратор. Подписчики получают терминальное channel_deleted.
func (h *ChannelHandler) Delete(w http.ResponseWriter, r *http.Request) {
	channelID := chi.URLParam(r, "channelID")
	requester := middleware.GetUserID(r.Context())

	ch, err := h.channelRepo.GetByID(r.Context(), channelID)
	if err != nil {
		writeRepoError(w, err, "channel delete get")
		return
	}
	if ch.OwnerID != requester && !h.isAdmin(requester) {
		writeError(w, http.StatusForbidden, "only the owner can delete the channel")
		return
	}
	if err := h.channelRepo.Delete(r.Context(), channelID); err != nil {
		writeRepoError(w, err, "channel delete")
		return
	}
	h.hub.ChannelDeleted(r.Context(), channelID)
	w.WriteHeader(http.StatusNoContent)
}
