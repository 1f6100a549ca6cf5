package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/chatify/internal/model"
)

type contextKey string

const identityKey contextKey = "identity"

// GetIdentity возвращает личность запроса из контекста (устанавливается Identity).
func GetIdentity(ctx context.Context) model.Identity {
	v, _ := ctx.Value(identityKey).(model.Identity)
	return v
}

// GetUserID — сокращение для GetIdentity(ctx).UserID.
func GetUserID(ctx context.Context) string {
	return GetIdentity(ctx).UserID
}

// Identity извлекает личность из заголовков X-User-Id / X-User-Name /
// X-User-Avatar, которые проставляет пограничный auth-прокси. В prod сервис
// не экспонируется наружу напрямую, заголовкам доверяем. Для WebSocket
// (заголовки недоступны из браузерного API) допускается передача теми же
// именами в query string.
func Identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := headerOrQuery(r, "X-User-Id", "user_id")
		if id == "" {
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		ident := model.Identity{
			UserID:    id,
			Name:      headerOrQuery(r, "X-User-Name", "user_name"),
			AvatarURL: headerOrQuery(r, "X-User-Avatar", "user_avatar"),
		}
		ctx := context.WithValue(r.Context(), identityKey, ident)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func headerOrQuery(r *http.Request, header, query string) string {
	if v := strings.TrimSpace(r.Header.Get(header)); v != "" {
		return v
	}
	return strings.TrimSpace(r.URL.Query().Get(query))
}
