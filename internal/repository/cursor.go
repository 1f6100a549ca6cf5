package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chatify/internal/logger"
	"github.com/chatify/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type CursorRepository struct {
	pool *pgxpool.Pool
}

func NewCursorRepository(pool *pgxpool.Pool) *CursorRepository {
	return &CursorRepository{pool: pool}
}

// MarkRead advances the user's cursor to seq. GREATEST keeps the cursor
// monotonic: a stale mark-read with an older position never moves it back.
func (r *CursorRepository) MarkRead(ctx context.Context, userID, channelID string, seq int64) error {
	defer logger.DeferLogDuration("cursor.MarkRead", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO channel_reads (user_id, channel_id, last_read_seq, last_read_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (user_id, channel_id) DO UPDATE
		 SET last_read_seq = GREATEST(channel_reads.last_read_seq, EXCLUDED.last_read_seq),
		     last_read_at  = now()`,
		userID, channelID, seq,
	)
	if pgErrCode(err) == pgFKViolation {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("cursorRepo.MarkRead: %w", err)
	}
	return nil
}

// Get returns the cursor, or a zero cursor if the user never read the channel.
func (r *CursorRepository) Get(ctx context.Context, userID, channelID string) (*model.ReadCursor, error) {
	defer logger.DeferLogDuration("cursor.Get", time.Now())()
	c := &model.ReadCursor{UserID: userID, ChannelID: channelID}
	err := r.pool.QueryRow(ctx,
		`SELECT last_read_seq, last_read_at FROM channel_reads
		 WHERE user_id = $1 AND channel_id = $2`, userID, channelID,
	).Scan(&c.LastReadSeq, &c.LastReadAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cursorRepo.Get: %w", err)
	}
	return c, nil
}

// UnreadCount counts messages past the cursor. No cursor row means the whole
// channel is unread. Deleted-for-everyone messages do not count.
func (r *CursorRepository) UnreadCount(ctx context.Context, userID, channelID string) (int, error) {
	defer logger.DeferLogDuration("cursor.UnreadCount", time.Now())()
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM messages m
		 WHERE m.channel_id = $2
		   AND m.deleted_for_everyone = false
		   AND m.seq > COALESCE(
		       (SELECT last_read_seq FROM channel_reads WHERE user_id = $1 AND channel_id = $2), 0)`,
		userID, channelID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("cursorRepo.UnreadCount: %w", err)
	}
	return count, nil
}

// UnreadCounts returns the badge map: unread per channel the user joined.
func (r *CursorRepository) UnreadCounts(ctx context.Context, userID string) (map[string]int, error) {
	defer logger.DeferLogDuration("cursor.UnreadCounts", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT b.channel_id,
		        (SELECT COUNT(*) FROM messages m
		         WHERE m.channel_id = b.channel_id
		           AND m.deleted_for_everyone = false
		           AND m.seq > COALESCE(
		               (SELECT last_read_seq FROM channel_reads cr
		                WHERE cr.user_id = b.user_id AND cr.channel_id = b.channel_id), 0))
		 FROM channel_buddies b
		 WHERE b.user_id = $1`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("cursorRepo.UnreadCounts query: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int, 16)
	for rows.Next() {
		var id string
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, fmt.Errorf("cursorRepo.UnreadCounts scan: %w", err)
		}
		counts[id] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("cursorRepo.UnreadCounts rows: %w", err)
	}
	return counts, nil
}
