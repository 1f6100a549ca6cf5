package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, ":8080", cfg.ServerAddr)
	assert.Equal(t, 6*time.Second, cfg.TypingWindow())
	assert.Equal(t, 100, cfg.HistoryPageSize)
	assert.Equal(t, int64(20<<20), cfg.MaxUploadSize)
	assert.Equal(t, 20, cfg.DBMaxConnections())
	assert.Equal(t, "local", cfg.Attach.Backend)
	assert.False(t, cfg.IsAdmin("anyone"))
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SERVER_ADDR", ":9090")
	t.Setenv("TYPING_WINDOW_SEC", "12")
	t.Setenv("MAX_UPLOAD_SIZE_MB", "5")
	t.Setenv("ATTACH_BACKEND", "s3")
	t.Setenv("S3_BUCKET", "chatify-files")
	t.Setenv("ADMIN_USER_IDS", "root, moderator ,")

	cfg := Load()

	assert.Equal(t, ":9090", cfg.ServerAddr)
	assert.Equal(t, 12*time.Second, cfg.TypingWindow())
	assert.Equal(t, int64(5<<20), cfg.MaxUploadSize)
	assert.Equal(t, "s3", cfg.Attach.Backend)
	assert.Equal(t, "chatify-files", cfg.Attach.Bucket)
	assert.Equal(t, []string{"root", "moderator"}, cfg.AdminUserIDs)
	assert.True(t, cfg.IsAdmin("root"))
	assert.True(t, cfg.IsAdmin("moderator"))
	assert.False(t, cfg.IsAdmin("user"))
}

func TestTypingWindowFallback(t *testing.T) {
	cfg := &Config{TypingWindowSec: 0}
	assert.Equal(t, 6*time.Second, cfg.TypingWindow())
	cfg.TypingWindowSec = -1
	assert.Equal(t, 6*time.Second, cfg.TypingWindow())
}
