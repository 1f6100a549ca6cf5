package storage

import (
	"context"
	"time"

	"github.com/chatify/internal/model"
)

// DefaultTypingWindow — маркер «печатает» старше этого окна не активен,
// даже если физически ещё не удалён.
const DefaultTypingWindow = 6 * time.Second

// TypingStore — хранилище typing-маркеров (channel, user) с истечением по
// времени. Реализации: redis.Client (TTL на ключах), memory.Client (для -dev
// без Redis и для тестов). Потерянный heartbeat самоизлечивается по таймауту,
// явной отмены от упавшего клиента не требуется.
type TypingStore interface {
	// Heartbeat создаёт/обновляет маркер и сбрасывает его дедлайн.
	Heartbeat(ctx context.Context, channelID, userID, name string) error
	// Stop явно снимает маркер (стоп-сигнал после тишины или выход из канала).
	Stop(ctx context.Context, channelID, userID string) error
	// Active возвращает живые маркеры канала, без excludeUser (собственный
	// «печатает» пользователю не показываем).
	Active(ctx context.Context, channelID, excludeUser string) ([]model.TypingUser, error)
	// ClearChannel удаляет все маркеры канала (каскад при удалении канала).
	ClearChannel(ctx context.Context, channelID string) error
	Close() error
}
