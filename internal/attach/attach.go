// Package attach — хранилище вложений за узким интерфейсом: положить байты,
// получить URL для скачивания, удалить по ссылке. Ядро сообщений само байты
// не загружает: клиент загружает файл заранее (фаза 1-2) и отправляет
// сообщение уже с готовой ссылкой (фаза 3).
package attach

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound — объекта нет (удаление уже удалённого не ошибка для вызывающего).
var ErrNotFound = errors.New("attachment not found")

// PutResult — результат загрузки: публичный URL и путь в хранилище
// (store_path сохраняется в сообщении для последующего удаления).
type PutResult struct {
	URL       string `json:"url"`
	StorePath string `json:"store_path"`
	Size      int64  `json:"file_size"`
}

// Store is the narrow blob-store boundary the message core depends on.
type Store interface {
	Put(ctx context.Context, channelID, fileName, contentType string, data io.Reader, maxSize int64) (*PutResult, error)
	URLFor(ctx context.Context, storePath string) (string, error)
	Delete(ctx context.Context, storePath string) error
}

// Блокируем только опасные расширения (исполняемые/скрипты). Остальные — разрешены.
var BlockedExt = map[string]bool{
	".exe": true, ".sh": true, ".js": true, ".bat": true, ".cmd": true,
	".php": true, ".py": true, ".rb": true,
}

// ObjectKey строит ключ uploads/{channel}/{unix}-{uuid}{ext}: неймспейс по
// каналу и времени исключает коллизии имён.
func ObjectKey(channelID, fileName string, now time.Time) (string, error) {
	ext := strings.ToLower(filepath.Ext(fileName))
	if BlockedExt[ext] {
		return "", errors.New("file type not allowed")
	}
	return "uploads/" + channelID + "/" +
		strconv.FormatInt(now.Unix(), 10) + "-" + uuid.New().String() + ext, nil
}
