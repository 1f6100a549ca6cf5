package model

import "time"

type Channel struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	OwnerID      string    `json:"owner_id"`
	OwnerName    string    `json:"owner_name"`
	AccessSecret string    `json:"-"`
	LastSeq      int64     `json:"last_seq"`
	CreatedAt    time.Time `json:"created_at"`
}

// HasSecret сообщает фронту, что канал закрыт паролем (сам секрет не отдаём).
func (c *Channel) HasSecret() bool { return c.AccessSecret != "" }

// ChannelPublic — канал в списках (explore/joined), без секрета.
type ChannelPublic struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	OwnerID   string    `json:"owner_id"`
	OwnerName string    `json:"owner_name"`
	Protected bool      `json:"protected"`
	CreatedAt time.Time `json:"created_at"`
}

func (c *Channel) ToPublic() ChannelPublic {
	return ChannelPublic{
		ID:        c.ID,
		Name:      c.Name,
		OwnerID:   c.OwnerID,
		OwnerName: c.OwnerName,
		Protected: c.HasSecret(),
		CreatedAt: c.CreatedAt,
	}
}

// Buddy — участник канала со снимком профиля на момент входа.
type Buddy struct {
	ChannelID string    `json:"channel_id"`
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	AvatarURL string    `json:"avatar_url"`
	JoinedAt  time.Time `json:"joined_at"`
}

// Identity — аутентифицированный пользователь со снимком профиля.
// Приходит от внешнего identity-провайдера, сервером не проверяется.
type Identity struct {
	UserID    string `json:"user_id"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url"`
}

// TypingUser — активный «печатает...» в канале.
type TypingUser struct {
	UserID string `json:"user_id"`
	Name   string `json:"name"`
}

// ReadCursor — позиция последнего прочитанного сообщения (user, channel).
type ReadCursor struct {
	UserID      string    `json:"user_id"`
	ChannelID   string    `json:"channel_id"`
	LastReadSeq int64     `json:"last_read_seq"`
	LastReadAt  time.Time `json:"last_read_at"`
}
