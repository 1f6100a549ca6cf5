package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReactionMapToggle(t *testing.T) {
	t.Run("add first reaction", func(t *testing.T) {
		m := ReactionMap{}
		changed := m.Toggle("u1", "👍")
		assert.True(t, changed)
		assert.Equal(t, []string{"u1"}, m["👍"])
	})

	t.Run("same emoji twice removes it", func(t *testing.T) {
		m := ReactionMap{}
		m.Toggle("u1", "👍")
		changed := m.Toggle("u1", "👍")
		assert.True(t, changed)
		assert.Empty(t, m, "empty emoji set must be pruned")
	})

	t.Run("different emoji moves the user", func(t *testing.T) {
		m := ReactionMap{}
		m.Toggle("u1", "👍")
		changed := m.Toggle("u1", "❤️")
		assert.True(t, changed)
		assert.NotContains(t, m, "👍")
		assert.Equal(t, []string{"u1"}, m["❤️"])
	})

	t.Run("one reaction per user across emojis", func(t *testing.T) {
		m := ReactionMap{}
		m.Toggle("u1", "👍")
		m.Toggle("u1", "❤️")
		m.Toggle("u1", "😂")
		total := 0
		for _, users := range m {
			total += len(users)
		}
		assert.Equal(t, 1, total)
	})

	t.Run("independent users share an emoji", func(t *testing.T) {
		m := ReactionMap{}
		m.Toggle("u1", "👍")
		m.Toggle("u2", "👍")
		assert.ElementsMatch(t, []string{"u1", "u2"}, m["👍"])
	})

	t.Run("removal keeps other users", func(t *testing.T) {
		m := ReactionMap{}
		m.Toggle("u1", "👍")
		m.Toggle("u2", "👍")
		m.Toggle("u1", "👍")
		assert.Equal(t, []string{"u2"}, m["👍"])
	})
}

func TestReactionMapToggleCommutes(t *testing.T) {
	// Порядок применения переключений разных пользователей не влияет на итог.
	left := ReactionMap{}
	left.Toggle("u1", "👍")
	left.Toggle("u2", "❤️")
	left.Toggle("u3", "👍")

	right := ReactionMap{}
	right.Toggle("u3", "👍")
	right.Toggle("u1", "👍")
	right.Toggle("u2", "❤️")

	assert.ElementsMatch(t, left["👍"], right["👍"])
	assert.ElementsMatch(t, left["❤️"], right["❤️"])
}

func TestReactionMapReactionOf(t *testing.T) {
	m := ReactionMap{}
	m.Toggle("u1", "👍")
	require.Equal(t, "👍", m.ReactionOf("u1"))
	assert.Empty(t, m.ReactionOf("u2"))
}

func TestReactionMapClone(t *testing.T) {
	m := ReactionMap{}
	m.Toggle("u1", "👍")
	cp := m.Clone()
	cp.Toggle("u2", "👍")
	assert.Len(t, m["👍"], 1, "clone must not share backing slices")
	assert.Len(t, cp["👍"], 2)
}

func TestMessageToView(t *testing.T) {
	now := time.Now().UTC()
	m := Message{
		ID:        "m1",
		ChannelID: "c1",
		Seq:       7,
		Body:      "hello",
		Attachment: &Attachment{
			URL:       "https://files.example/x.png",
			Name:      "x.png",
			StorePath: "uploads/c1/x.png",
		},
		Reactions: ReactionMap{"👍": {"u1"}},
		CreatedAt: now,
	}

	t.Run("live message unchanged", func(t *testing.T) {
		v := m.ToView()
		assert.Equal(t, "hello", v.Body)
		assert.NotNil(t, v.Attachment)
	})

	t.Run("deleted message keeps its slot but loses content", func(t *testing.T) {
		d := m
		d.DeletedForEveryone = true
		d.DeletedBy = "u9"
		v := d.ToView()
		assert.Equal(t, int64(7), v.Seq, "позиция в последовательности сохраняется")
		assert.Empty(t, v.Body)
		assert.Nil(t, v.Attachment)
		assert.Empty(t, v.Reactions)
		assert.True(t, v.DeletedForEveryone)
		assert.Equal(t, "u9", v.DeletedBy)
	})
}
