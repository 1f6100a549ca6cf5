package handler

import (
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/chatify/internal/attach"
	"github.com/chatify/internal/attach/localstore"
	"github.com/chatify/internal/logger"
	"github.com/chatify/internal/middleware"
	"github.com/chatify/internal/repository"
)

// FileHandler реализует фазы 1-2 отправки вложения: клиент загружает байты,
// получает url + store_path и дальше шлёт обычное сообщение с этими полями.
type FileHandler struct {
	store       attach.Store
	channelRepo *repository.ChannelRepository
	maxSize     int64
}

func NewFileHandler(store attach.Store, channelRepo *repository.ChannelRepository, maxSize int64) *FileHandler {
	if maxSize <= 0 {
		maxSize = 25 << 20
	}
	return &FileHandler{store: store, channelRepo: channelRepo, maxSize: maxSize}
}

type FileUploadResponse struct {
	URL       string `json:"url"`
	StorePath string `json:"store_path"`
	FileName  string `json:"file_name"`
	FileSize  int64  `json:"file_size"`
	MimeType  string `json:"mime_type"`
}

func (h *FileHandler) Upload(w http.ResponseWriter, r *http.Request) {
	channelID := chi.URLParam(r, "channelID")
	userID := middleware.GetUserID(r.Context())

	isBuddy, err := h.channelRepo.IsBuddy(r.Context(), channelID, userID)
	if err != nil {
		writeRepoError(w, err, "upload membership")
		return
	}
	if !isBuddy {
		writeError(w, http.StatusForbidden, "not a member")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxSize)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field required")
		return
	}
	defer file.Close()

	// Нормализация имени: "+" вместо пробела из URL-кодирования.
	fileName := strings.TrimSpace(strings.ReplaceAll(header.Filename, "+", " "))
	if fileName == "" {
		writeError(w, http.StatusBadRequest, "file name required")
		return
	}
	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = mime.TypeByExtension(filepath.Ext(fileName))
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	res, err := h.store.Put(r.Context(), channelID, fileName, contentType, file, h.maxSize)
	if err != nil {
		logger.Errorf("upload channel=%s user=%s file=%s: %v", channelID, userID, fileName, err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, FileUploadResponse{
		URL:       res.URL,
		StorePath: res.StorePath,
		FileName:  fileName,
		FileSize:  res.Size,
		MimeType:  contentType,
	})
}

// Serve отдаёт файл из локального хранилища (только backend=local; для S3
// клиент ходит по presigned-ссылкам напрямую).
func (h *FileHandler) Serve(w http.ResponseWriter, r *http.Request) {
	local, ok := h.store.(*localstore.Client)
	if !ok {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	storePath := chi.URLParam(r, "*")
	f, err := local.Open(storePath)
	if err != nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	defer f.Close()

	if ct := mime.TypeByExtension(filepath.Ext(storePath)); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	if _, err := io.Copy(w, f); err != nil {
		logger.Errorf("serve file %s: %v", storePath, err)
	}
}
