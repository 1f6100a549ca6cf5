package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chatify/internal/model"
	"github.com/chatify/internal/storage"
	"github.com/redis/go-redis/v9"
)

// Маркер живёт чуть дольше окна активности: фильтр по возрасту — на чтении,
// TTL здесь только гарантирует уборку мусора за упавшими клиентами.
const markerTTLSlack = 4 * time.Second

type marker struct {
	Name     string    `json:"name"`
	LastSeen time.Time `json:"last_seen"`
}

type Client struct {
	cli    *redis.Client
	window time.Duration
}

func New(ctx context.Context, url string, window time.Duration) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	if window <= 0 {
		window = storage.DefaultTypingWindow
	}
	return &Client{cli: cli, window: window}, nil
}

func (c *Client) Close() error {
	return c.cli.Close()
}

func typingKey(channelID, userID string) string {
	return "typing:" + channelID + ":" + userID
}

// Heartbeat сохраняет маркер по ключу typing:{channel}:{user} с TTL.
func (c *Client) Heartbeat(ctx context.Context, channelID, userID, name string) error {
	raw, err := json.Marshal(marker{Name: name, LastSeen: time.Now().UTC()})
	if err != nil {
		return err
	}
	return c.cli.Set(ctx, typingKey(channelID, userID), raw, c.window+markerTTLSlack).Err()
}

// Stop удаляет маркер (явный стоп-сигнал).
func (c *Client) Stop(ctx context.Context, channelID, userID string) error {
	return c.cli.Del(ctx, typingKey(channelID, userID)).Err()
}

// Active сканирует typing:{channel}:* и отдаёт маркеры моложе окна.
func (c *Client) Active(ctx context.Context, channelID, excludeUser string) ([]model.TypingUser, error) {
	pattern := "typing:" + channelID + ":*"
	prefix := "typing:" + channelID + ":"
	now := time.Now()

	var typers []model.TypingUser
	iter := c.cli.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		userID := key[len(prefix):]
		if userID == excludeUser {
			continue
		}
		raw, err := c.cli.Get(ctx, key).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("typing get %s: %w", key, err)
		}
		var m marker
		if json.Unmarshal([]byte(raw), &m) != nil {
			continue
		}
		if now.Sub(m.LastSeen) < c.window {
			typers = append(typers, model.TypingUser{UserID: userID, Name: m.Name})
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("typing scan: %w", err)
	}
	return typers, nil
}

// ClearChannel удаляет все маркеры канала.
func (c *Client) ClearChannel(ctx context.Context, channelID string) error {
	iter := c.cli.Scan(ctx, 0, "typing:"+channelID+":*", 100).Iterator()
	for iter.Next(ctx) {
		if err := c.cli.Del(ctx, iter.Val()).Err(); err != nil {
			return err
		}
	}
	return iter.Err()
}
