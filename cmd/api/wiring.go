package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/bobarin/storyreel/internal/config"
	"github.com/bobarin/storyreel/internal/db"
	"github.com/bobarin/storyreel/internal/imagegen"
	"github.com/bobarin/storyreel/internal/imagery"
	"github.com/bobarin/storyreel/internal/jobs"
	"github.com/bobarin/storyreel/internal/queue"
	"github.com/bobarin/storyreel/internal/render"
	"github.com/bobarin/storyreel/internal/speech"
	"github.com/bobarin/storyreel/internal/storage"
	"github.com/bobarin/storyreel/internal/textgen"
	"github.com/bobarin/storyreel/internal/video"
	"github.com/bobarin/storyreel/internal/worker"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func newObjectStore(ctx context.Context, cfg *config.Config, log zerolog.Logger) (storage.ObjectStore, error) {
	sc := cfg.Storage
	switch cfg.StorageKind {
	case storage.KindMinIO:
		m, err := storage.NewMinIO(storage.MinIOConfig{
			Endpoint:  sc.MinIOEndpoint,
			AccessKey: sc.MinIOAccessKey,
			SecretKey: sc.MinIOSecretKey,
			Bucket:    sc.MinIOBucket,
			UseSSL:    sc.MinIOUseSSL,
			PublicURL: sc.MinIOPublicURL,
		}, log)
		if err != nil {
			return nil, err
		}
		if err := m.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return m, nil
	case storage.KindS3:
		sess, err := session.NewSessionWithOptions(session.Options{
			SharedConfigState: session.SharedConfigEnable,
			Config:            aws.Config{Region: aws.String(sc.S3Region)},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create aws session: %w", err)
		}
		return storage.NewS3(s3.New(sess), sc.S3Bucket, sc.S3Region, log), nil
	default:
		return storage.NewSupabase(sc.SupabaseURL, sc.SupabaseServiceKey, sc.SupabaseStorageBucket, log), nil
	}
}

func newWorker(cfg *config.Config, database *db.DB, q *queue.Queue, objects storage.ObjectStore, log zerolog.Logger) (*worker.Worker, error) {
	tempDir := cfg.Render.TempDir
	if tempDir == "" {
		tempDir = filepath.Join(os.TempDir(), "storyreel")
	}
	exporter, err := render.NewExporter(tempDir, log)
	if err != nil {
		return nil, err
	}

	recorder := db.NewJobRecorder(database, log)
	p := cfg.Providers

	var backend imagegen.Backend
	switch cfg.ImageKind {
	case imagegen.KindFal:
		backend = imagegen.NewFal(imagegen.FalConfig{APIKey: p.FalKey, Poll: cfg.Poll.Image()}, log,
			jobs.WithObserver(recorder))
	default:
		backend = imagegen.NewGemini(imagegen.GeminiConfig{
			APIKey:  p.GeminiKey,
			Model:   p.GeminiImageModel,
			MaxWait: cfg.Poll.Image().MaxWait,
		}, log)
	}
	log.Info().Str("provider", string(backend.Kind())).Msg("image provider")

	var synth speech.Synthesizer
	switch cfg.SpeechKind {
	case speech.KindCartesia:
		synth = speech.NewCartesia(speech.CartesiaConfig{
			APIKey:  p.CartesiaKey,
			BaseURL: p.CartesiaURL,
			VoiceID: p.CartesiaVoiceID,
		}, log)
	default:
		synth = speech.NewElevenLabs(speech.ElevenLabsConfig{
			APIKey:  p.ElevenLabsKey,
			VoiceID: p.ElevenLabsVoiceID,
			Probe:   probeWith(exporter),
		}, log)
	}
	log.Info().Str("provider", string(synth.Kind())).Msg("speech provider")

	var gen video.Generator
	if cfg.VideoOn {
		switch cfg.VideoKind {
		case video.KindVeo:
			veo, err := video.NewVeo(context.Background(), video.VeoConfig{
				APIKey: p.GeminiKey,
				Model:  p.VeoModel,
				Poll:   cfg.Poll.Video(),
			}, log, jobs.WithObserver(recorder))
			if err != nil {
				return nil, err
			}
			gen = veo
		default:
			gen = video.NewXAI(video.XAIConfig{APIKey: p.XAIAPIKey, Poll: cfg.Poll.Video()}, log,
				jobs.WithObserver(recorder))
		}
		log.Info().Str("provider", string(gen.Kind())).Msg("motion clips enabled")
	} else {
		log.Info().Msg("motion clips disabled, scenes use still frames")
	}

	var drafter worker.Drafter
	if p.OpenAIKey != "" {
		drafter = textgen.NewDrafter(textgen.Config{APIKey: p.OpenAIKey, Model: p.OpenAIModel}, log)
	} else {
		log.Warn().Msg("OPENAI_API_KEY not set, topic renders will fail")
	}

	return worker.New(worker.Deps{
		Store:    database,
		Source:   q,
		Objects:  objects,
		Drafter:  drafter,
		Images:   imagery.NewPipeline(backend, storage.NewStager(objects, log), log),
		Speech:   synth,
		Video:    gen,
		Exporter: exporter,
	}, worker.Settings{
		Batch:       cfg.BatchOptions(),
		ImagePolicy: cfg.ImagePolicy(),
		Render:      cfg.Render,
	}, log), nil
}

// probeWith measures narration by writing it to a temp file for ffprobe.
func probeWith(e *render.Exporter) speech.DurationProber {
	return func(ctx context.Context, data []byte, format string) (int, error) {
		path, err := e.WriteTemp("probe_"+uuid.NewString()+"."+format, data)
		if err != nil {
			return 0, err
		}
		defer e.Cleanup(path)
		return e.DurationMs(ctx, path)
	}
}
