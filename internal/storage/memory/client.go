package memory

import (
	"context"
	"sync"
	"time"

	"github.com/chatify/internal/model"
	"github.com/chatify/internal/storage"
)

type marker struct {
	name     string
	lastSeen time.Time
}

// Client — typing-маркеры в памяти для режима -dev (без Redis) и тестов.
type Client struct {
	mu     sync.RWMutex
	byChan map[string]map[string]marker
	window time.Duration

	// now подменяется в тестах.
	now func() time.Time
}

func New(window time.Duration) *Client {
	if window <= 0 {
		window = storage.DefaultTypingWindow
	}
	return &Client{
		byChan: make(map[string]map[string]marker),
		window: window,
		now:    time.Now,
	}
}

func (c *Client) Close() error { return nil }

func (c *Client) Heartbeat(ctx context.Context, channelID, userID, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	users, ok := c.byChan[channelID]
	if !ok {
		users = make(map[string]marker)
		c.byChan[channelID] = users
	}
	users[userID] = marker{name: name, lastSeen: c.now()}
	return nil
}

func (c *Client) Stop(ctx context.Context, channelID, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if users, ok := c.byChan[channelID]; ok {
		delete(users, userID)
		if len(users) == 0 {
			delete(c.byChan, channelID)
		}
	}
	return nil
}

func (c *Client) Active(ctx context.Context, channelID, excludeUser string) ([]model.TypingUser, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	now := c.now()
	var typers []model.TypingUser
	for userID, m := range c.byChan[channelID] {
		if userID == excludeUser {
			continue
		}
		if now.Sub(m.lastSeen) < c.window {
			typers = append(typers, model.TypingUser{UserID: userID, Name: m.name})
		}
	}
	return typers, nil
}

func (c *Client) ClearChannel(ctx context.Context, channelID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.byChan, channelID)
	return nil
}
