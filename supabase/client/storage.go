package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// Storage returns a storage client.
func (c *Client) Storage() *StorageClient {
	return &StorageClient{client: c}
}

// StorageClient handles storage operations.
type StorageClient struct {
	client *Client
}

// From returns a bucket client.
func (s *StorageClient) From(bucket string) *BucketClient {
	return &BucketClient{
		client: s.client,
		bucket: bucket,
	}
}

// BucketClient handles operations on one bucket, e.g. signed forms and
// e-learning certificates.
type BucketClient struct {
	client *Client
	bucket string
}

func (b *BucketClient) objectURL(path string) string {
	return fmt.Sprintf("%s/storage/v1/object/%s/%s", b.client.baseURL, b.bucket, strings.TrimPrefix(path, "/"))
}

// Upload uploads a file, replacing an existing object when upsert is set.
func (b *BucketClient) Upload(ctx context.Context, path string, data []byte, contentType string, upsert bool) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.objectURL(path), bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if err := b.client.setHeaders(ctx, req); err != nil {
		return nil, err
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	req.Header.Set("Content-Type", contentType)
	if upsert {
		req.Header.Set("x-upsert", "true")
	}

	resp, err := b.client.do(req)
	if err != nil {
		return nil, err
	}
	return resp, resp.Error()
}

// Download downloads a file.
func (b *BucketClient) Download(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.objectURL(path), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if err := b.client.setHeaders(ctx, req); err != nil {
		return nil, err
	}

	resp, err := b.client.do(req)
	if err != nil {
		return nil, err
	}
	if err := resp.Error(); err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// Remove deletes files.
func (b *BucketClient) Remove(ctx context.Context, paths []string) (*Response, error) {
	reqURL := fmt.Sprintf("%s/storage/v1/object/%s", b.client.baseURL, b.bucket)

	body, err := json.Marshal(map[string][]string{"prefixes": paths})
	if err != nil {
		return nil, fmt.Errorf("marshal body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, reqURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if err := b.client.setHeaders(ctx, req); err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.do(req)
	if err != nil {
		return nil, err
	}
	return resp, resp.Error()
}

// GetPublicURL returns the public URL for a file.
func (b *BucketClient) GetPublicURL(path string) string {
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", b.client.baseURL, b.bucket, strings.TrimPrefix(path, "/"))
}
