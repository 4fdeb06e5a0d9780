package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	env "github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/bobarin/storyreel/internal/batch"
	"github.com/bobarin/storyreel/internal/imagegen"
	"github.com/bobarin/storyreel/internal/jobs"
	"github.com/bobarin/storyreel/internal/speech"
	"github.com/bobarin/storyreel/internal/storage"
	"github.com/bobarin/storyreel/internal/video"
)

// SubtitleMode selects how captions reach the output video.
type SubtitleMode string

const (
	// SubtitlesOverlay draws captions onto each rasterized frame.
	SubtitlesOverlay SubtitleMode = "overlay"
	// SubtitlesASS burns an ASS script in with ffmpeg.
	SubtitlesASS SubtitleMode = "ass"
	SubtitlesOff SubtitleMode = "off"
)

type Config struct {
	// Server
	APIPort            string `env:"API_PORT" envDefault:"8080"`
	WorkerEnabled      bool   `env:"WORKER_ENABLED" envDefault:"true"`
	CorsAllowedOrigins string `env:"CORS_ALLOWED_ORIGINS"` // Comma-separated, empty = *
	LogLevel           string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat          string `env:"LOG_FORMAT" envDefault:"json"` // json or console

	DatabaseURL string `env:"DATABASE_URL"`
	RedisURL    string `env:"REDIS_URL" envDefault:"redis://localhost:6379"`

	Storage StorageConfig

	Providers ProviderConfig

	Poll  PollConfig  `envPrefix:"POLL_"`
	Batch BatchConfig `envPrefix:"BATCH_"`

	Render RenderConfig `envPrefix:"RENDER_"`

	// Worker
	MaxConcurrentJobs int `env:"MAX_CONCURRENT_JOBS" envDefault:"2"`

	// Resolved from the string settings by Load.
	StorageKind storage.Kind  `env:"-"`
	ImageKind   imagegen.Kind `env:"-"`
	SpeechKind  speech.Kind   `env:"-"`
	VideoKind   video.Kind    `env:"-"`
	VideoOn     bool          `env:"-"`
}

type StorageConfig struct {
	Backend string `env:"STORAGE_BACKEND" envDefault:"supabase"`

	SupabaseURL           string `env:"SUPABASE_URL"`
	SupabaseServiceKey    string `env:"SUPABASE_SERVICE_KEY"`
	SupabaseStorageBucket string `env:"SUPABASE_STORAGE_BUCKET" envDefault:"storyreel"`

	MinIOEndpoint  string `env:"MINIO_ENDPOINT"`
	MinIOAccessKey string `env:"MINIO_ACCESS_KEY"`
	MinIOSecretKey string `env:"MINIO_SECRET_KEY"`
	MinIOBucket    string `env:"MINIO_BUCKET" envDefault:"storyreel"`
	MinIOUseSSL    bool   `env:"MINIO_USE_SSL" envDefault:"false"`
	MinIOPublicURL string `env:"MINIO_PUBLIC_URL"`

	S3Bucket string `env:"S3_BUCKET"`
	S3Region string `env:"S3_REGION" envDefault:"us-east-1"`
}

type ProviderConfig struct {
	Image string `env:"IMAGE_PROVIDER" envDefault:"gemini"`
	Video string `env:"VIDEO_PROVIDER" envDefault:"none"`
	TTS   string `env:"TTS_PROVIDER" envDefault:"elevenlabs"`

	OpenAIKey   string `env:"OPENAI_API_KEY"`
	OpenAIModel string `env:"OPENAI_MODEL" envDefault:"gpt-5-mini"`

	GeminiKey        string `env:"GEMINI_API_KEY"`
	GeminiImageModel string `env:"GEMINI_IMAGE_MODEL"`
	FalKey           string `env:"FAL_KEY"`

	VeoModel  string `env:"VEO_MODEL" envDefault:"veo-3.1-generate-preview"`
	XAIAPIKey string `env:"XAI_API_KEY"`

	ElevenLabsKey     string `env:"ELEVENLABS_API_KEY"`
	ElevenLabsVoiceID string `env:"ELEVENLABS_VOICE_ID"`
	CartesiaKey       string `env:"CARTESIA_API_KEY"`
	CartesiaURL       string `env:"CARTESIA_API_URL" envDefault:"https://api.cartesia.ai"`
	CartesiaVoiceID   string `env:"CARTESIA_VOICE_ID"`
}

type PollConfig struct {
	ImageInterval time.Duration `env:"IMAGE_INTERVAL" envDefault:"3s"`
	ImageMaxWait  time.Duration `env:"IMAGE_MAX_WAIT" envDefault:"120s"`
	VideoInterval time.Duration `env:"VIDEO_INTERVAL" envDefault:"5s"`
	VideoMaxWait  time.Duration `env:"VIDEO_MAX_WAIT" envDefault:"300s"`
}

func (p PollConfig) Image() jobs.Options {
	return jobs.Options{Interval: p.ImageInterval, MaxWait: p.ImageMaxWait}
}

func (p PollConfig) Video() jobs.Options {
	return jobs.Options{Interval: p.VideoInterval, MaxWait: p.VideoMaxWait}
}

type BatchConfig struct {
	Size        int           `env:"SIZE" envDefault:"5"`
	Delay       time.Duration `env:"DELAY" envDefault:"1s"`
	ImagePolicy string        `env:"IMAGE_POLICY" envDefault:"stop_on_first_failure"`
}

type RenderConfig struct {
	FPS                 int          `env:"FPS" envDefault:"30"`
	Width               int          `env:"WIDTH" envDefault:"1080"`
	Height              int          `env:"HEIGHT" envDefault:"1920"`
	Subtitles           SubtitleMode `env:"SUBTITLES" envDefault:"overlay"`
	TransitionSeconds   float64      `env:"TRANSITION_SECONDS" envDefault:"0.5"`
	TempDir             string       `env:"TEMP_DIR"`
	BackgroundMusicPath string       `env:"BACKGROUND_MUSIC_PATH"`
}

// Load reads .env when present, parses the environment and validates the
// result.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			return nil, fmt.Errorf("load .env file: %w", err)
		}
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.resolve(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ImagePolicy returns the failure policy for the image batch.
func (c *Config) ImagePolicy() batch.Policy {
	p, _ := batch.ParsePolicy(c.Batch.ImagePolicy)
	return p
}

// BatchOptions returns the shared window settings; callers set Policy,
// Clock and Logger.
func (c *Config) BatchOptions() batch.Options {
	return batch.Options{BatchSize: c.Batch.Size, InterWindowDelay: c.Batch.Delay}
}

// CORSOrigins splits CorsAllowedOrigins, defaulting to "*".
func (c *Config) CORSOrigins() []string {
	var out []string
	for _, o := range strings.Split(c.CorsAllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

func (c *Config) resolve() error {
	var err error
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.StorageKind, err = storage.ParseKind(c.Storage.Backend); err != nil {
		return err
	}
	switch c.StorageKind {
	case storage.KindSupabase:
		if c.Storage.SupabaseURL == "" || c.Storage.SupabaseServiceKey == "" {
			return fmt.Errorf("SUPABASE_URL and SUPABASE_SERVICE_KEY are required for the supabase backend")
		}
	case storage.KindMinIO:
		if c.Storage.MinIOEndpoint == "" || c.Storage.MinIOAccessKey == "" || c.Storage.MinIOSecretKey == "" {
			return fmt.Errorf("MINIO_ENDPOINT, MINIO_ACCESS_KEY and MINIO_SECRET_KEY are required for the minio backend")
		}
	case storage.KindS3:
		if c.Storage.S3Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required for the s3 backend")
		}
	}

	if c.ImageKind, err = imagegen.ParseKind(c.Providers.Image); err != nil {
		return err
	}
	switch c.ImageKind {
	case imagegen.KindGemini:
		if c.Providers.GeminiKey == "" {
			return fmt.Errorf("GEMINI_API_KEY is required for IMAGE_PROVIDER=gemini")
		}
	case imagegen.KindFal:
		if c.Providers.FalKey == "" {
			return fmt.Errorf("FAL_KEY is required for IMAGE_PROVIDER=fal")
		}
	}

	if c.SpeechKind, err = speech.ParseKind(c.Providers.TTS); err != nil {
		return err
	}
	switch c.SpeechKind {
	case speech.KindElevenLabs:
		if c.Providers.ElevenLabsKey == "" {
			return fmt.Errorf("ELEVENLABS_API_KEY is required for TTS_PROVIDER=elevenlabs")
		}
	case speech.KindCartesia:
		if c.Providers.CartesiaKey == "" {
			return fmt.Errorf("CARTESIA_API_KEY is required for TTS_PROVIDER=cartesia")
		}
	}

	if c.VideoKind, c.VideoOn, err = video.ParseKind(c.Providers.Video); err != nil {
		return err
	}
	if c.VideoOn {
		switch c.VideoKind {
		case video.KindXAI:
			if c.Providers.XAIAPIKey == "" {
				return fmt.Errorf("XAI_API_KEY is required for VIDEO_PROVIDER=xai")
			}
		case video.KindVeo:
			if c.Providers.GeminiKey == "" {
				return fmt.Errorf("GEMINI_API_KEY is required for VIDEO_PROVIDER=veo")
			}
		}
	}

	if _, err := batch.ParsePolicy(c.Batch.ImagePolicy); err != nil {
		return err
	}
	switch c.Render.Subtitles {
	case SubtitlesOverlay, SubtitlesASS, SubtitlesOff:
	default:
		return fmt.Errorf("unknown RENDER_SUBTITLES mode %q", c.Render.Subtitles)
	}

	c.sanitize()
	return nil
}

// sanitize clamps numeric settings to workable values.
func (c *Config) sanitize() {
	if c.Batch.Size <= 0 {
		c.Batch.Size = 5
	}
	if c.Batch.Delay < 0 {
		c.Batch.Delay = 0
	}
	if c.Render.FPS <= 0 {
		c.Render.FPS = 30
	}
	if c.Render.Width <= 0 || c.Render.Height <= 0 {
		c.Render.Width, c.Render.Height = 1080, 1920
	}
	// Even dimensions for yuv420p.
	c.Render.Width &^= 1
	c.Render.Height &^= 1
	if c.MaxConcurrentJobs <= 0 {
		c.MaxConcurrentJobs = 1
	}
	if c.Render.TransitionSeconds < 0 {
		c.Render.TransitionSeconds = 0
	}
}
