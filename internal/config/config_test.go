package config

import (
	"testing"
	"time"

	"github.com/bobarin/storyreel/internal/batch"
	"github.com/bobarin/storyreel/internal/imagegen"
	"github.com/bobarin/storyreel/internal/speech"
	"github.com/bobarin/storyreel/internal/storage"
	"github.com/bobarin/storyreel/internal/video"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setMinimal(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://localhost/storyreel?sslmode=disable")
	t.Setenv("SUPABASE_URL", "https://proj.supabase.co")
	t.Setenv("SUPABASE_SERVICE_KEY", "service")
	t.Setenv("GEMINI_API_KEY", "gem")
	t.Setenv("ELEVENLABS_API_KEY", "eleven")
}

func TestLoadDefaults(t *testing.T) {
	setMinimal(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.APIPort)
	assert.True(t, cfg.WorkerEnabled)
	assert.Equal(t, storage.KindSupabase, cfg.StorageKind)
	assert.Equal(t, imagegen.KindGemini, cfg.ImageKind)
	assert.Equal(t, speech.KindElevenLabs, cfg.SpeechKind)
	assert.False(t, cfg.VideoOn)

	assert.Equal(t, 3*time.Second, cfg.Poll.Image().Interval)
	assert.Equal(t, 120*time.Second, cfg.Poll.Image().MaxWait)
	assert.Equal(t, 5*time.Second, cfg.Poll.Video().Interval)
	assert.Equal(t, 300*time.Second, cfg.Poll.Video().MaxWait)

	assert.Equal(t, 5, cfg.BatchOptions().BatchSize)
	assert.Equal(t, time.Second, cfg.BatchOptions().InterWindowDelay)
	assert.Equal(t, batch.StopOnFirstFailure, cfg.ImagePolicy())

	assert.Equal(t, 30, cfg.Render.FPS)
	assert.Equal(t, SubtitlesOverlay, cfg.Render.Subtitles)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins())
}

func TestLoadProviderSelection(t *testing.T) {
	setMinimal(t)
	t.Setenv("IMAGE_PROVIDER", "FAL")
	t.Setenv("FAL_KEY", "fal")
	t.Setenv("VIDEO_PROVIDER", "xai")
	t.Setenv("XAI_API_KEY", "xai")
	t.Setenv("TTS_PROVIDER", "cartesia")
	t.Setenv("CARTESIA_API_KEY", "cart")
	t.Setenv("STORAGE_BACKEND", "minio")
	t.Setenv("MINIO_ENDPOINT", "localhost:9000")
	t.Setenv("MINIO_ACCESS_KEY", "a")
	t.Setenv("MINIO_SECRET_KEY", "b")
	t.Setenv("BATCH_SIZE", "3")
	t.Setenv("BATCH_DELAY", "250ms")
	t.Setenv("BATCH_IMAGE_POLICY", "collect_all")
	t.Setenv("POLL_VIDEO_INTERVAL", "10s")
	t.Setenv("RENDER_WIDTH", "721")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.test, https://b.test")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, imagegen.KindFal, cfg.ImageKind)
	assert.True(t, cfg.VideoOn)
	assert.Equal(t, video.KindXAI, cfg.VideoKind)
	assert.Equal(t, speech.KindCartesia, cfg.SpeechKind)
	assert.Equal(t, storage.KindMinIO, cfg.StorageKind)
	assert.Equal(t, 3, cfg.Batch.Size)
	assert.Equal(t, 250*time.Millisecond, cfg.Batch.Delay)
	assert.Equal(t, batch.CollectAll, cfg.ImagePolicy())
	assert.Equal(t, 10*time.Second, cfg.Poll.VideoInterval)
	assert.Equal(t, 720, cfg.Render.Width)
	assert.Equal(t, []string{"https://a.test", "https://b.test"}, cfg.CORSOrigins())
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"missing database", map[string]string{"DATABASE_URL": ""}},
		{"unknown image provider", map[string]string{"IMAGE_PROVIDER": "midjourney"}},
		{"fal without key", map[string]string{"IMAGE_PROVIDER": "fal"}},
		{"cartesia without key", map[string]string{"TTS_PROVIDER": "cartesia"}},
		{"xai without key", map[string]string{"VIDEO_PROVIDER": "xai"}},
		{"unknown video provider", map[string]string{"VIDEO_PROVIDER": "sora"}},
		{"s3 without bucket", map[string]string{"STORAGE_BACKEND": "s3"}},
		{"bad policy", map[string]string{"BATCH_IMAGE_POLICY": "yolo"}},
		{"bad subtitles", map[string]string{"RENDER_SUBTITLES": "karaoke"}},
		{"bad duration", map[string]string{"POLL_IMAGE_INTERVAL": "soon"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setMinimal(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
