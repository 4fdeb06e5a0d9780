package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/bobarin/storyreel/internal/apperr"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"
)

// MinIOConfig holds connection settings for an S3-compatible MinIO server.
type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
	// PublicURL is the externally reachable base URL; defaults to the endpoint.
	PublicURL string
}

// MinIO stores objects in a MinIO bucket.
type MinIO struct {
	client *minio.Client
	cfg    MinIOConfig
	log    zerolog.Logger
}

func NewMinIO(cfg MinIOConfig, log zerolog.Logger) (*MinIO, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("minio connection: %w", err)
	}
	if cfg.PublicURL == "" {
		scheme := "http"
		if cfg.UseSSL {
			scheme = "https"
		}
		cfg.PublicURL = scheme + "://" + cfg.Endpoint
	}
	return &MinIO{
		client: client,
		cfg:    cfg,
		log:    log.With().Str("component", "storage").Str("backend", string(KindMinIO)).Logger(),
	}, nil
}

// EnsureBucket creates the bucket if it does not exist yet.
func (m *MinIO) EnsureBucket(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.cfg.Bucket)
	if err != nil {
		return m.classify(err)
	}
	if exists {
		return nil
	}
	if err := m.client.MakeBucket(ctx, m.cfg.Bucket, minio.MakeBucketOptions{Region: m.cfg.Region}); err != nil {
		return m.classify(err)
	}
	m.log.Info().Str("bucket", m.cfg.Bucket).Msg("created bucket")
	return nil
}

func (m *MinIO) Put(ctx context.Context, key string, data []byte, contentType string) (Object, error) {
	_, err := m.client.PutObject(ctx, m.cfg.Bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return Object{}, m.classify(err)
	}
	m.log.Debug().Str("key", key).Int("bytes", len(data)).Msg("stored object")
	return Object{Key: key, URL: m.URL(key)}, nil
}

func (m *MinIO) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := m.client.GetObject(ctx, m.cfg.Bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, m.classify(err)
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
		}
		return nil, m.classify(err)
	}
	return data, nil
}

func (m *MinIO) Delete(ctx context.Context, key string) error {
	if err := m.client.RemoveObject(ctx, m.cfg.Bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return m.classify(err)
	}
	return nil
}

func (m *MinIO) URL(key string) string {
	return fmt.Sprintf("%s/%s/%s", strings.TrimSuffix(m.cfg.PublicURL, "/"), m.cfg.Bucket, key)
}

func (m *MinIO) classify(err error) error {
	resp := minio.ToErrorResponse(err)
	if resp.StatusCode == 0 {
		return apperr.FromTransport("minio", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s: %w", resp.Key, ErrNotFound)
	}
	e := apperr.FromHTTPStatus("minio", resp.StatusCode, []byte(resp.Message), nil)
	e.Cause = err
	return e
}
