package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatify/internal/model"
)

func typingIDs(users []model.TypingUser) []string {
	ids := make([]string, 0, len(users))
	for _, u := range users {
		ids = append(ids, u.UserID)
	}
	return ids
}

func TestHeartbeatAndActive(t *testing.T) {
	ctx := context.Background()
	c := New(6 * time.Second)

	require.NoError(t, c.Heartbeat(ctx, "ch1", "u1", "Alice"))
	require.NoError(t, c.Heartbeat(ctx, "ch1", "u2", "Bob"))
	require.NoError(t, c.Heartbeat(ctx, "ch2", "u3", "Carol"))

	users, err := c.Active(ctx, "ch1", "")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"u1", "u2"}, typingIDs(users))

	// Собственный маркер в выдачу не попадает.
	users, err = c.Active(ctx, "ch1", "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"u2"}, typingIDs(users))
}

func TestMarkerExpiresByWindow(t *testing.T) {
	ctx := context.Background()
	c := New(6 * time.Second)
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	current := base
	c.now = func() time.Time { return current }

	require.NoError(t, c.Heartbeat(ctx, "ch1", "u1", "Alice"))

	current = base.Add(5 * time.Second)
	users, err := c.Active(ctx, "ch1", "")
	require.NoError(t, err)
	assert.Len(t, users, 1, "в пределах окна маркер жив")

	current = base.Add(7 * time.Second)
	users, err = c.Active(ctx, "ch1", "")
	require.NoError(t, err)
	assert.Empty(t, users, "потерянный heartbeat самоизлечивается по окну")
}

func TestHeartbeatRefreshesDeadline(t *testing.T) {
	ctx := context.Background()
	c := New(6 * time.Second)
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	current := base
	c.now = func() time.Time { return current }

	require.NoError(t, c.Heartbeat(ctx, "ch1", "u1", "Alice"))
	current = base.Add(4 * time.Second)
	require.NoError(t, c.Heartbeat(ctx, "ch1", "u1", "Alice"))

	current = base.Add(9 * time.Second)
	users, err := c.Active(ctx, "ch1", "")
	require.NoError(t, err)
	assert.Len(t, users, 1, "повторный heartbeat сдвигает дедлайн")
}

func TestStopRemovesMarker(t *testing.T) {
	ctx := context.Background()
	c := New(6 * time.Second)

	require.NoError(t, c.Heartbeat(ctx, "ch1", "u1", "Alice"))
	require.NoError(t, c.Stop(ctx, "ch1", "u1"))

	users, err := c.Active(ctx, "ch1", "")
	require.NoError(t, err)
	assert.Empty(t, users)

	// Stop без маркера — no-op.
	assert.NoError(t, c.Stop(ctx, "ch1", "nobody"))
}

func TestClearChannel(t *testing.T) {
	ctx := context.Background()
	c := New(6 * time.Second)

	require.NoError(t, c.Heartbeat(ctx, "ch1", "u1", "Alice"))
	require.NoError(t, c.Heartbeat(ctx, "ch1", "u2", "Bob"))
	require.NoError(t, c.ClearChannel(ctx, "ch1"))

	users, err := c.Active(ctx, "ch1", "")
	require.NoError(t, err)
	assert.Empty(t, users)
}
