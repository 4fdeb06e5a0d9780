// Package storage hosts media bytes in an object store. Generated scene assets
// and final renders live there, and providers that only accept HTTPS inputs
// are handed short-lived staged copies.
package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"
)

// Kind selects an ObjectStore implementation.
type Kind string

const (
	KindSupabase Kind = "supabase"
	KindMinIO    Kind = "minio"
	KindS3       Kind = "s3"
)

// ParseKind validates a configured backend name.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindSupabase, KindMinIO, KindS3:
		return k, nil
	}
	return "", fmt.Errorf("unknown storage backend %q", s)
}

// ErrNotFound is returned by Get for a missing key.
var ErrNotFound = errors.New("object not found")

// Object is a stored blob and the URL at which providers can fetch it.
type Object struct {
	Key string
	URL string
}

// ObjectStore is the subset of blob storage the pipeline needs.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (Object, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	// URL returns the public URL of key without contacting the store.
	URL(key string) string
}

// RenderKey builds the key of a render artifact, e.g. renders/<id>/scene_03.png.
func RenderKey(renderID uuid.UUID, name string) string {
	return path.Join("renders", renderID.String(), name)
}

// ExtensionFor maps a MIME type to a file extension for generated keys.
func ExtensionFor(contentType string) string {
	switch strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0])) {
	case "image/png":
		return ".png"
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "audio/mpeg", "audio/mp3":
		return ".mp3"
	case "audio/wav", "audio/x-wav", "audio/wave":
		return ".wav"
	case "video/mp4":
		return ".mp4"
	case "text/x-ssa", "text/x-ass":
		return ".ass"
	default:
		return ".bin"
	}
}
