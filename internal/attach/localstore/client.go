package localstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chatify/internal/attach"
)

// Client — вложения на локальном диске (режим -dev и небольшие инсталляции).
// store_path совпадает с относительным путём под Dir; URL отдаёт сервис api
// через /api/files/{store_path}.
type Client struct {
	Dir     string
	BaseURL string
}

func New(dir, baseURL string) *Client {
	return &Client{Dir: dir, BaseURL: strings.TrimSuffix(baseURL, "/")}
}

// safePath защищает от выхода за пределы Dir (store_path приходит от клиента).
func (c *Client) safePath(storePath string) (string, error) {
	clean := filepath.Clean("/" + storePath)
	full := filepath.Join(c.Dir, clean)
	if !strings.HasPrefix(full, filepath.Clean(c.Dir)+string(os.PathSeparator)) {
		return "", errors.New("invalid store path")
	}
	return full, nil
}

func (c *Client) Put(ctx context.Context, channelID, fileName, contentType string, data io.Reader, maxSize int64) (*attach.PutResult, error) {
	storePath, err := attach.ObjectKey(channelID, fileName, time.Now())
	if err != nil {
		return nil, err
	}
	full, err := c.safePath(storePath)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return nil, fmt.Errorf("localstore: mkdir: %w", err)
	}
	dst, err := os.Create(full)
	if err != nil {
		return nil, fmt.Errorf("localstore: create: %w", err)
	}
	n, err := io.Copy(dst, io.LimitReader(data, maxSize+1))
	closeErr := dst.Close()
	if err != nil {
		os.Remove(full)
		return nil, fmt.Errorf("localstore: write: %w", err)
	}
	if closeErr != nil {
		os.Remove(full)
		return nil, fmt.Errorf("localstore: close: %w", closeErr)
	}
	if n > maxSize {
		os.Remove(full)
		return nil, fmt.Errorf("file exceeds maximum size of %d bytes", maxSize)
	}
	url, err := c.URLFor(ctx, storePath)
	if err != nil {
		os.Remove(full)
		return nil, err
	}
	return &attach.PutResult{URL: url, StorePath: storePath, Size: n}, nil
}

func (c *Client) URLFor(ctx context.Context, storePath string) (string, error) {
	if _, err := c.safePath(storePath); err != nil {
		return "", err
	}
	return c.BaseURL + "/api/files/" + storePath, nil
}

func (c *Client) Delete(ctx context.Context, storePath string) error {
	full, err := c.safePath(storePath)
	if err != nil {
		return err
	}
	err = os.Remove(full)
	if errors.Is(err, os.ErrNotExist) {
		return attach.ErrNotFound
	}
	return err
}

// Open отдаёт файл для раздачи через HTTP (handler.File.Serve).
func (c *Client) Open(storePath string) (*os.File, error) {
	full, err := c.safePath(storePath)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(full)
	if errors.Is(err, os.ErrNotExist) {
		return nil, attach.ErrNotFound
	}
	return f, err
}
