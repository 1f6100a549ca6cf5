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

type ChannelRepository struct {
	pool *pgxpool.Pool
}

func NewChannelRepository(pool *pgxpool.Pool) *ChannelRepository {
	return &ChannelRepository{pool: pool}
}

func (r *ChannelRepository) Create(ctx context.Context, c *model.Channel) error {
	defer logger.DeferLogDuration("channel.Create", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO channels (id, name, owner_id, owner_name, access_secret, created_at)
		 VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6)`,
		c.ID, c.Name, c.OwnerID, c.OwnerName, c.AccessSecret, c.CreatedAt,
	)
	if pgErrCode(err) == pgUniqueViolation {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("channelRepo.Create: %w", err)
	}
	return nil
}

func (r *ChannelRepository) GetByID(ctx context.Context, id string) (*model.Channel, error) {
	defer logger.DeferLogDuration("channel.GetByID", time.Now())()
	c := &model.Channel{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, owner_id, owner_name, COALESCE(access_secret,''), last_seq, created_at
		 FROM channels WHERE id = $1`, id,
	).Scan(&c.ID, &c.Name, &c.OwnerID, &c.OwnerName, &c.AccessSecret, &c.LastSeq, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("channelRepo.GetByID: %w", err)
	}
	return c, nil
}

func (r *ChannelRepository) ListAll(ctx context.Context) ([]model.Channel, error) {
	defer logger.DeferLogDuration("channel.ListAll", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT id, name, owner_id, owner_name, COALESCE(access_secret,''), last_seq, created_at
		 FROM channels ORDER BY name`,
	)
	if err != nil {
		return nil, fmt.Errorf("channelRepo.ListAll query: %w", err)
	}
	defer rows.Close()
	return scanChannels(rows, "channelRepo.ListAll")
}

// ListJoined returns channels the user has a buddy record in.
func (r *ChannelRepository) ListJoined(ctx context.Context, userID string) ([]model.Channel, error) {
	defer logger.DeferLogDuration("channel.ListJoined", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT c.id, c.name, c.owner_id, c.owner_name, COALESCE(c.access_secret,''), c.last_seq, c.created_at
		 FROM channels c
		 JOIN channel_buddies b ON b.channel_id = c.id
		 WHERE b.user_id = $1
		 ORDER BY c.name`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("channelRepo.ListJoined query: %w", err)
	}
	defer rows.Close()
	return scanChannels(rows, "channelRepo.ListJoined")
}

func scanChannels(rows pgx.Rows, op string) ([]model.Channel, error) {
	channels := make([]model.Channel, 0, 16)
	for rows.Next() {
		var c model.Channel
		if err := rows.Scan(&c.ID, &c.Name, &c.OwnerID, &c.OwnerName, &c.AccessSecret, &c.LastSeq, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("%s scan: %w", op, err)
		}
		channels = append(channels, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s rows: %w", op, err)
	}
	return channels, nil
}

// Delete removes the channel. Messages, buddies, hide-records and read
// cursors go with it (ON DELETE CASCADE).
func (r *ChannelRepository) Delete(ctx context.Context, id string) error {
	defer logger.DeferLogDuration("channel.Delete", time.Now())()
	tag, err := r.pool.Exec(ctx, `DELETE FROM channels WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("channelRepo.Delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *ChannelRepository) AddBuddy(ctx context.Context, b *model.Buddy) error {
	defer logger.DeferLogDuration("channel.AddBuddy", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO channel_buddies (channel_id, user_id, name, avatar_url, joined_at)
		 VALUES ($1, $2, $3, $4, $5) ON CONFLICT (channel_id, user_id) DO UPDATE
		 SET name = EXCLUDED.name, avatar_url = EXCLUDED.avatar_url`,
		b.ChannelID, b.UserID, b.Name, b.AvatarURL, b.JoinedAt,
	)
	if pgErrCode(err) == pgFKViolation {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("channelRepo.AddBuddy: %w", err)
	}
	return nil
}

func (r *ChannelRepository) RemoveBuddy(ctx context.Context, channelID, userID string) error {
	defer logger.DeferLogDuration("channel.RemoveBuddy", time.Now())()
	_, err := r.pool.Exec(ctx,
		`DELETE FROM channel_buddies WHERE channel_id = $1 AND user_id = $2`,
		channelID, userID,
	)
	if err != nil {
		return fmt.Errorf("channelRepo.RemoveBuddy: %w", err)
	}
	return nil
}

func (r *ChannelRepository) GetBuddies(ctx context.Context, channelID string) ([]model.Buddy, error) {
	defer logger.DeferLogDuration("channel.GetBuddies", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT channel_id, user_id, name, avatar_url, joined_at
		 FROM channel_buddies WHERE channel_id = $1 ORDER BY joined_at`, channelID,
	)
	if err != nil {
		return nil, fmt.Errorf("channelRepo.GetBuddies query: %w", err)
	}
	defer rows.Close()

	buddies := make([]model.Buddy, 0, 8)
	for rows.Next() {
		var b model.Buddy
		if err := rows.Scan(&b.ChannelID, &b.UserID, &b.Name, &b.AvatarURL, &b.JoinedAt); err != nil {
			return nil, fmt.Errorf("channelRepo.GetBuddies scan: %w", err)
		}
		buddies = append(buddies, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("channelRepo.GetBuddies rows: %w", err)
	}
	return buddies, nil
}

func (r *ChannelRepository) GetBuddyIDs(ctx context.Context, channelID string) ([]string, error) {
	defer logger.DeferLogDuration("channel.GetBuddyIDs", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT user_id FROM channel_buddies WHERE channel_id = $1`, channelID,
	)
	if err != nil {
		return nil, fmt.Errorf("channelRepo.GetBuddyIDs query: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0, 8)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("channelRepo.GetBuddyIDs scan: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("channelRepo.GetBuddyIDs rows: %w", err)
	}
	return ids, nil
}

func (r *ChannelRepository) IsBuddy(ctx context.Context, channelID, userID string) (bool, error) {
	defer logger.DeferLogDuration("channel.IsBuddy", time.Now())()
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM channel_buddies WHERE channel_id = $1 AND user_id = $2)`,
		channelID, userID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("channelRepo.IsBuddy: %w", err)
	}
	return exists, nil
}
