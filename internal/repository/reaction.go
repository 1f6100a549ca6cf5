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

type ReactionRepository struct {
	pool *pgxpool.Pool
}

func NewReactionRepository(pool *pgxpool.Pool) *ReactionRepository {
	return &ReactionRepository{pool: pool}
}

// ToggleResult — итог переключения реакции для рассылки подписчикам.
type ToggleResult struct {
	ChannelID string
	Seq       int64
	Reactions model.ReactionMap
}

// Toggle flips the user's reaction on a message and returns the full updated
// map. The read-modify-write runs under SELECT ... FOR UPDATE on the message
// row, so two concurrent toggles serialize per message and neither clobbers
// the other's emoji (the whole map is rewritten, but always from the latest
// committed state).
func (r *ReactionRepository) Toggle(ctx context.Context, messageID, userID, emoji string) (*ToggleResult, error) {
	defer logger.DeferLogDuration("reaction.Toggle", time.Now())()
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("reactionRepo.Toggle begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var (
		channelID string
		seq       int64
		deleted   bool
		raw       []byte
	)
	err = tx.QueryRow(ctx,
		`SELECT channel_id, seq, deleted_for_everyone, reactions
		 FROM messages WHERE id = $1 FOR UPDATE`, messageID,
	).Scan(&channelID, &seq, &deleted, &raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reactionRepo.Toggle select: %w", err)
	}
	if deleted {
		// Удалённое для всех сообщение больше не принимает реакции.
		return nil, ErrNotFound
	}

	reactions := make(model.ReactionMap)
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &reactions); err != nil {
			return nil, fmt.Errorf("reactionRepo.Toggle unmarshal: %w", err)
		}
	}
	reactions.Toggle(userID, emoji)

	updated, err := json.Marshal(reactions)
	if err != nil {
		return nil, fmt.Errorf("reactionRepo.Toggle marshal: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE messages SET reactions = $1 WHERE id = $2`, updated, messageID,
	); err != nil {
		return nil, fmt.Errorf("reactionRepo.Toggle update: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("reactionRepo.Toggle commit: %w", err)
	}
	return &ToggleResult{ChannelID: channelID, Seq: seq, Reactions: reactions}, nil
}

// Get returns the current reaction map of a message.
func (r *ReactionRepository) Get(ctx context.Context, messageID string) (model.ReactionMap, error) {
	defer logger.DeferLogDuration("reaction.Get", time.Now())()
	var raw []byte
	err := r.pool.QueryRow(ctx,
		`SELECT reactions FROM messages WHERE id = $1`, messageID,
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reactionRepo.Get: %w", err)
	}
	reactions := make(model.ReactionMap)
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &reactions); err != nil {
			return nil, fmt.Errorf("reactionRepo.Get unmarshal: %w", err)
		}
	}
	return reactions, nil
}
