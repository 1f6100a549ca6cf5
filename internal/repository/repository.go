// Package repository содержит доступ к Postgres (pgx): каналы, сообщения,
// реакции, курсоры чтения. Ошибки БД оборачиваются с контекстом метода,
// «ожидаемые» исходы маппятся на sentinel-ошибки ниже.
package repository

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound — канал или сообщение отсутствует. Отдаётся клиенту, не ретраится.
	ErrNotFound = errors.New("not found")
	// ErrForbidden — операция запрещена (delete-for-everyone не автором/не админом).
	// Никогда не «смягчается» до другого исхода.
	ErrForbidden = errors.New("forbidden")
	// ErrConflict — проигрыш конкурентной записи (например, дубликат имени канала).
	ErrConflict = errors.New("conflict")
	// ErrIntegrity — нарушение упорядочивания (gap/дубликат seq). Фатально,
	// молча не исправляется.
	ErrIntegrity = errors.New("sequence integrity violation")
)

const (
	pgUniqueViolation = "23505"
	pgFKViolation     = "23503"
)

func pgErrCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}
