package s3store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/chatify/internal/attach"
)

// Client — вложения в S3-совместимом хранилище. URL для скачивания — presigned GET.
type Client struct {
	client     *s3.Client
	presigner  *s3.PresignClient
	bucket     string
	prefix     string
	presignTTL time.Duration
}

func New(ctx context.Context, bucket, prefix string, usePathStyle bool, presignTTL time.Duration) (*Client, error) {
	if bucket == "" {
		return nil, fmt.Errorf("s3store: bucket is required")
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("s3store: load AWS config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = usePathStyle
	})
	if presignTTL <= 0 {
		presignTTL = 15 * time.Minute
	}
	return &Client{
		client:     client,
		presigner:  s3.NewPresignClient(client),
		bucket:     bucket,
		prefix:     strings.Trim(strings.TrimSpace(prefix), "/"),
		presignTTL: presignTTL,
	}, nil
}

// key применяет общий префикс бакета; в store_path сообщения префикс не попадает.
func (c *Client) key(storePath string) string {
	if c.prefix != "" {
		return c.prefix + "/" + storePath
	}
	return storePath
}

func (c *Client) Put(ctx context.Context, channelID, fileName, contentType string, data io.Reader, maxSize int64) (*attach.PutResult, error) {
	storePath, err := attach.ObjectKey(channelID, fileName, time.Now())
	if err != nil {
		return nil, err
	}
	limited := io.LimitReader(data, maxSize+1)
	buf, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("s3store: read upload: %w", err)
	}
	if int64(len(buf)) > maxSize {
		return nil, fmt.Errorf("file exceeds maximum size of %d bytes", maxSize)
	}

	key := c.key(storePath)
	_, err = c.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        &c.bucket,
		Key:           &key,
		Body:          bytes.NewReader(buf),
		ContentLength: aws.Int64(int64(len(buf))),
		ContentType:   &contentType,
	})
	if err != nil {
		return nil, fmt.Errorf("s3store: put object: %w", err)
	}

	url, err := c.URLFor(ctx, storePath)
	if err != nil {
		return nil, err
	}
	return &attach.PutResult{URL: url, StorePath: storePath, Size: int64(len(buf))}, nil
}

func (c *Client) URLFor(ctx context.Context, storePath string) (string, error) {
	key := c.key(storePath)
	resp, err := c.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: &c.bucket,
		Key:    &key,
	}, s3.WithPresignExpires(c.presignTTL))
	if err != nil {
		return "", fmt.Errorf("s3store: presign: %w", err)
	}
	return resp.URL, nil
}

func (c *Client) Delete(ctx context.Context, storePath string) error {
	key := c.key(storePath)
	_, err := c.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: &c.bucket,
		Key:    &key,
	})
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return attach.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("s3store: delete object: %w", err)
	}
	return nil
}
