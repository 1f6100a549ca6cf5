package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/chatify/internal/logger"
	"github.com/chatify/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type MessageRepository struct {
	pool *pgxpool.Pool
}

func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

const messageColumns = `m.id, m.channel_id, m.author_id, m.author_name, m.author_avatar, m.seq,
	        m.body, m.file_url, m.file_name, m.file_type, m.file_size, m.store_path,
	        m.reactions, m.deleted_for_everyone, m.deleted_by, m.deleted_at, m.created_at`

// Append assigns the next sequence number and persists the message in one
// transaction. The UPDATE on channels.last_seq takes the channel row lock,
// so concurrent appends to the same channel serialize there and the counter
// stays gap-free. ErrNotFound if the channel does not exist.
func (r *MessageRepository) Append(ctx context.Context, m *model.Message) error {
	defer logger.DeferLogDuration("msg.Append", time.Now())()
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("msgRepo.Append begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var seq int64
	err = tx.QueryRow(ctx,
		`UPDATE channels SET last_seq = last_seq + 1 WHERE id = $1 RETURNING last_seq`,
		m.ChannelID,
	).Scan(&seq)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("msgRepo.Append next seq: %w", err)
	}

	var att model.Attachment
	if m.Attachment != nil {
		att = *m.Attachment
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO messages (id, channel_id, author_id, author_name, author_avatar, seq,
		                       body, file_url, file_name, file_type, file_size, store_path, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		m.ID, m.ChannelID, m.AuthorID, m.AuthorName, m.AuthorAvatar, seq,
		m.Body, att.URL, att.Name, att.MimeType, att.Size, att.StorePath, m.CreatedAt,
	)
	if pgErrCode(err) == pgUniqueViolation {
		// Второй insert с тем же (channel_id, seq) невозможен при живом счётчике;
		// если случился — счётчик рассинхронизирован с данными.
		return ErrIntegrity
	}
	if err != nil {
		return fmt.Errorf("msgRepo.Append insert: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("msgRepo.Append commit: %w", err)
	}
	m.Seq = seq
	return nil
}

func scanMessage(row pgx.Row, m *model.Message) error {
	var att model.Attachment
	var reactions []byte
	err := row.Scan(&m.ID, &m.ChannelID, &m.AuthorID, &m.AuthorName, &m.AuthorAvatar, &m.Seq,
		&m.Body, &att.URL, &att.Name, &att.MimeType, &att.Size, &att.StorePath,
		&reactions, &m.DeletedForEveryone, &m.DeletedBy, &m.DeletedAt, &m.CreatedAt)
	if err != nil {
		return err
	}
	if att.URL != "" || att.StorePath != "" {
		m.Attachment = &att
	}
	if len(reactions) > 0 {
		var rm model.ReactionMap
		if err := json.Unmarshal(reactions, &rm); err != nil {
			return fmt.Errorf("reactions unmarshal: %w", err)
		}
		if len(rm) > 0 {
			m.Reactions = rm
		}
	}
	return nil
}

func (r *MessageRepository) GetByID(ctx context.Context, id string) (*model.Message, error) {
	defer logger.DeferLogDuration("msg.GetByID", time.Now())()
	m := &model.Message{}
	row := r.pool.QueryRow(ctx,
		`SELECT `+messageColumns+` FROM messages m WHERE m.id = $1`, id)
	err := scanMessage(row, m)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("msgRepo.GetByID: %w", err)
	}
	return m, nil
}

// Backlog returns messages with seq strictly greater than fromSeq, in
// ascending sequence order. Used to replay history to a (re)subscriber.
func (r *MessageRepository) Backlog(ctx context.Context, channelID string, fromSeq int64, limit int) ([]model.Message, error) {
	defer logger.DeferLogDuration("msg.Backlog", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT `+messageColumns+`
		 FROM messages m
		 WHERE m.channel_id = $1 AND m.seq > $2
		 ORDER BY m.seq
		 LIMIT $3`, channelID, fromSeq, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.Backlog query: %w", err)
	}
	defer rows.Close()
	return collectMessages(rows, limit, "msgRepo.Backlog")
}

// HistoryFor is Backlog filtered by the user's hide-set ("delete for me").
// Deleted-for-everyone messages are returned with the flag set; blanking the
// body is the view's job (model.Message.ToView).
func (r *MessageRepository) HistoryFor(ctx context.Context, channelID, userID string, fromSeq int64, limit int) ([]model.Message, error) {
	defer logger.DeferLogDuration("msg.HistoryFor", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT `+messageColumns+`
		 FROM messages m
		 WHERE m.channel_id = $1 AND m.seq > $2
		   AND NOT EXISTS (SELECT 1 FROM hidden_messages h WHERE h.message_id = m.id AND h.user_id = $3)
		 ORDER BY m.seq
		 LIMIT $4`, channelID, fromSeq, userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.HistoryFor query: %w", err)
	}
	defer rows.Close()
	return collectMessages(rows, limit, "msgRepo.HistoryFor")
}

func collectMessages(rows pgx.Rows, capHint int, op string) ([]model.Message, error) {
	msgs := make([]model.Message, 0, capHint)
	for rows.Next() {
		var m model.Message
		if err := scanMessage(rows, &m); err != nil {
			return nil, fmt.Errorf("%s scan: %w", op, err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s rows: %w", op, err)
	}
	return msgs, nil
}

// SoftDeleteForEveryone flags the message as deleted for all users. Only the
// author, the channel owner or a global admin may do this; the record is not
// removed. Returns the updated message — the caller uses Attachment.StorePath
// for the best-effort blob delete.
func (r *MessageRepository) SoftDeleteForEveryone(ctx context.Context, messageID, requesterID string, isAdmin bool) (*model.Message, error) {
	defer logger.DeferLogDuration("msg.SoftDeleteForEveryone", time.Now())()
	m, err := r.GetByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if !isAdmin && m.AuthorID != requesterID {
		var ownerID string
		err := r.pool.QueryRow(ctx,
			`SELECT owner_id FROM channels WHERE id = $1`, m.ChannelID,
		).Scan(&ownerID)
		if err != nil {
			return nil, fmt.Errorf("msgRepo.SoftDeleteForEveryone owner: %w", err)
		}
		if ownerID != requesterID {
			return nil, ErrForbidden
		}
	}

	now := time.Now().UTC()
	_, err = r.pool.Exec(ctx,
		`UPDATE messages SET deleted_for_everyone = true, deleted_by = $1, deleted_at = $2
		 WHERE id = $3 AND deleted_for_everyone = false`,
		requesterID, now, messageID,
	)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.SoftDeleteForEveryone: %w", err)
	}
	m.DeletedForEveryone = true
	m.DeletedBy = requesterID
	m.DeletedAt = &now
	return m, nil
}

// HideForSelf records "delete for me". Idempotent; any user may hide any
// message — the record only affects that user's own view.
func (r *MessageRepository) HideForSelf(ctx context.Context, messageID, userID string) error {
	defer logger.DeferLogDuration("msg.HideForSelf", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO hidden_messages (user_id, message_id) VALUES ($1, $2)
		 ON CONFLICT DO NOTHING`,
		userID, messageID,
	)
	if pgErrCode(err) == pgFKViolation {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("msgRepo.HideForSelf: %w", err)
	}
	return nil
}

// HiddenSet returns the user's hidden message ids within a channel.
func (r *MessageRepository) HiddenSet(ctx context.Context, channelID, userID string) (map[string]struct{}, error) {
	defer logger.DeferLogDuration("msg.HiddenSet", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT h.message_id
		 FROM hidden_messages h
		 JOIN messages m ON m.id = h.message_id
		 WHERE h.user_id = $1 AND m.channel_id = $2`, userID, channelID,
	)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.HiddenSet query: %w", err)
	}
	defer rows.Close()

	set := make(map[string]struct{}, 8)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("msgRepo.HiddenSet scan: %w", err)
		}
		set[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("msgRepo.HiddenSet rows: %w", err)
	}
	return set, nil
}
