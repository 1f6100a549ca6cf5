package model

import "time"

// ReactionMap — emoji -> ids отреагировавших. У пользователя не больше одной
// реакции на сообщение (инвариант поддерживается Toggle).
type ReactionMap map[string][]string

// ReactionOf returns the emoji the user currently reacted with, or "".
func (m ReactionMap) ReactionOf(userID string) string {
	for emoji, users := range m {
		for _, id := range users {
			if id == userID {
				return emoji
			}
		}
	}
	return ""
}

func (m ReactionMap) remove(emoji, userID string) {
	users := m[emoji]
	kept := users[:0]
	for _, id := range users {
		if id != userID {
			kept = append(kept, id)
		}
	}
	if len(kept) == 0 {
		delete(m, emoji)
		return
	}
	m[emoji] = kept
}

// Toggle applies a single reaction toggle in place and reports whether the
// map changed. Same emoji twice — un-react; a different emoji moves the user
// (one reaction per user per message); empty sets are pruned.
func (m ReactionMap) Toggle(userID, emoji string) bool {
	if emoji == "" {
		return false
	}
	prev := m.ReactionOf(userID)
	if prev == emoji {
		m.remove(emoji, userID)
		return true
	}
	if prev != "" {
		m.remove(prev, userID)
	}
	m[emoji] = append(m[emoji], userID)
	return true
}

// Clone возвращает глубокую копию (hub отдаёт карту подписчикам, не делимся срезами).
func (m ReactionMap) Clone() ReactionMap {
	out := make(ReactionMap, len(m))
	for emoji, users := range m {
		out[emoji] = append([]string(nil), users...)
	}
	return out
}

// Attachment — дескриптор файла, загруженного в blob store до отправки сообщения.
type Attachment struct {
	URL       string `json:"file_url"`
	Name      string `json:"file_name"`
	MimeType  string `json:"file_type"`
	Size      int64  `json:"file_size"`
	StorePath string `json:"store_path"`
}

type Message struct {
	ID        string `json:"id"`
	ChannelID string `json:"channel_id"`
	AuthorID  string `json:"author_id"`
	// Снимок профиля автора на момент отправки; при смене имени/аватара не обновляется.
	AuthorName   string      `json:"author_name"`
	AuthorAvatar string      `json:"author_avatar,omitempty"`
	Seq          int64       `json:"seq"`
	Body         string      `json:"body,omitempty"`
	Attachment   *Attachment `json:"attachment,omitempty"`
	Reactions    ReactionMap `json:"reactions,omitempty"`

	DeletedForEveryone bool       `json:"deleted_for_everyone"`
	DeletedBy          string     `json:"deleted_by,omitempty"`
	DeletedAt          *time.Time `json:"deleted_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// ToView returns the message as shown to clients: a deleted-for-everyone
// message keeps its place in the sequence but carries no body or attachment.
func (m Message) ToView() Message {
	if !m.DeletedForEveryone {
		return m
	}
	m.Body = ""
	m.Attachment = nil
	m.Reactions = nil
	return m
}
