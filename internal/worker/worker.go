// Package worker consumes queued renders and drives them from scenario to
// uploaded video.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bobarin/storyreel/internal/apperr"
	"github.com/bobarin/storyreel/internal/batch"
	"github.com/bobarin/storyreel/internal/clock"
	"github.com/bobarin/storyreel/internal/config"
	"github.com/bobarin/storyreel/internal/db"
	"github.com/bobarin/storyreel/internal/imagery"
	"github.com/bobarin/storyreel/internal/jobs"
	"github.com/bobarin/storyreel/internal/models"
	"github.com/bobarin/storyreel/internal/queue"
	"github.com/bobarin/storyreel/internal/render"
	"github.com/bobarin/storyreel/internal/speech"
	"github.com/bobarin/storyreel/internal/storage"
	"github.com/bobarin/storyreel/internal/video"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Store is the persistence the worker needs.
type Store interface {
	GetRender(ctx context.Context, id uuid.UUID) (*models.Render, error)
	UpdateRenderScenario(ctx context.Context, id uuid.UUID, scenario models.Scenario) error
	UpdateRenderStatus(ctx context.Context, id uuid.UUID, status models.RenderStatus) error
	UpdateRenderScenes(ctx context.Context, id uuid.UUID, scenes models.SceneResults) error
	CompleteRender(ctx context.Context, id uuid.UUID, outputKey string, durationMs int) error
	FailRender(ctx context.Context, id uuid.UUID, errorKind, errorMessage string) error
}

// Source yields queued renders.
type Source interface {
	Dequeue(ctx context.Context, queueName string, timeout time.Duration) (*queue.Job, error)
}

// Drafter writes a scenario for a topic.
type Drafter interface {
	Draft(ctx context.Context, topic string, sceneCount int) (*models.Scenario, error)
}

// Exporter encodes a composition. *render.Exporter implements it.
type Exporter interface {
	Export(ctx context.Context, comp *render.Composition, opts render.ExportOptions) error
	WriteTemp(name string, data []byte) (string, error)
	TempPath(name string) string
	Cleanup(paths ...string)
}

// Deps are the collaborators of a Worker. Drafter and Video may be nil.
type Deps struct {
	Store    Store
	Source   Source
	Objects  storage.ObjectStore
	Drafter  Drafter
	Images   *imagery.Pipeline
	Speech   speech.Synthesizer
	Video    video.Generator
	Exporter Exporter
	Clock    clock.Clock
}

// Settings are the render knobs taken from config.
type Settings struct {
	Batch       batch.Options
	ImagePolicy batch.Policy
	Render      config.RenderConfig
}

type Worker struct {
	Deps
	settings Settings
	log      zerolog.Logger
}

func New(deps Deps, settings Settings, log zerolog.Logger) *Worker {
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	return &Worker{
		Deps:     deps,
		settings: settings,
		log:      log.With().Str("component", "worker").Logger(),
	}
}

// Start runs concurrency consumers until ctx is canceled.
func (w *Worker) Start(ctx context.Context, concurrency int) {
	w.log.Info().Int("concurrency", concurrency).Msg("worker started")

	for i := 0; i < concurrency; i++ {
		go w.processQueue(ctx, queue.QueueRender)
	}

	<-ctx.Done()
	w.log.Info().Msg("worker shutting down")
}

func (w *Worker) processQueue(ctx context.Context, queueName string) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := w.Source.Dequeue(ctx, queueName, 5*time.Second)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.log.Error().Err(err).Str("queue", queueName).Msg("dequeue failed")
			if err := w.Clock.Sleep(ctx, time.Second); err != nil {
				return
			}
			continue
		}
		if job == nil {
			continue
		}

		log := w.log.With().Str("job_id", job.ID.String()).Str("render_id", job.RenderID.String()).Logger()
		log.Info().Msg("processing render")
		if err := w.Process(ctx, job); err != nil {
			log.Error().Err(err).Str("error_kind", string(apperr.KindOf(err))).Msg("render failed")
		} else {
			log.Info().Msg("render completed")
		}
	}
}

// Process runs one render end to end. Failures are recorded on the render
// row before being returned.
func (w *Worker) Process(ctx context.Context, job *queue.Job) error {
	r, err := w.Store.GetRender(ctx, job.RenderID)
	if err != nil {
		return fmt.Errorf("failed to get render: %w", err)
	}

	run := &renderRun{w: w, render: r, log: w.log.With().Str("render_id", r.ID.String()).Logger()}
	ctx = jobs.WithOwner(ctx, db.JobOwner(r.ID, ""))

	if err := run.execute(ctx, job.SceneCount); err != nil {
		run.fail(ctx, err)
		return err
	}
	return nil
}

// renderRun holds the state of one render while it moves through the
// stages.
type renderRun struct {
	w      *Worker
	render *models.Render
	log    zerolog.Logger

	results models.SceneResults
	assets  []sceneAssets
}

func (r *renderRun) execute(ctx context.Context, sceneCount int) error {
	if len(r.render.Scenario.Scenes) == 0 {
		if err := r.draft(ctx, sceneCount); err != nil {
			return err
		}
	}
	if err := r.render.Scenario.Validate(); err != nil {
		return apperr.InvalidRequest("", err.Error())
	}

	if err := r.setStatus(ctx, models.RenderStatusGenerating); err != nil {
		return err
	}
	if err := r.generate(ctx); err != nil {
		return err
	}
	r.generateClips(ctx)

	if err := r.setStatus(ctx, models.RenderStatusComposing); err != nil {
		return err
	}
	return r.compose(ctx)
}

func (r *renderRun) draft(ctx context.Context, sceneCount int) error {
	if r.render.Topic == nil || *r.render.Topic == "" {
		return apperr.InvalidRequest("", "render has neither scenes nor a topic")
	}
	if r.w.Drafter == nil {
		return apperr.New(apperr.KindAuth, "openai", "scenario drafting is not configured")
	}
	if err := r.setStatus(ctx, models.RenderStatusDrafting); err != nil {
		return err
	}

	drafted, err := r.w.Drafter.Draft(ctx, *r.render.Topic, sceneCount)
	if err != nil {
		return err
	}

	// Client settings survive drafting; only the story comes from the model.
	sc := r.render.Scenario
	sc.Scenes = drafted.Scenes
	if sc.Title == "" {
		sc.Title = drafted.Title
	}
	r.render.Scenario = sc
	if err := r.w.Store.UpdateRenderScenario(ctx, r.render.ID, sc); err != nil {
		return fmt.Errorf("failed to store drafted scenario: %w", err)
	}
	r.log.Info().Int("scenes", len(sc.Scenes)).Msg("scenario drafted")
	return nil
}

func (r *renderRun) setStatus(ctx context.Context, status models.RenderStatus) error {
	if err := r.w.Store.UpdateRenderStatus(ctx, r.render.ID, status); err != nil {
		return fmt.Errorf("failed to update render status: %w", err)
	}
	r.render.Status = status
	return nil
}

func (r *renderRun) saveScenes(ctx context.Context) {
	if r.results == nil {
		return
	}
	if err := r.w.Store.UpdateRenderScenes(ctx, r.render.ID, r.results); err != nil {
		r.log.Warn().Err(err).Msg("failed to store scene results")
	}
}

// fail records err on the render. It runs on a context that survives the
// caller's cancellation so shutdowns still leave a terminal row.
func (r *renderRun) fail(ctx context.Context, err error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if _, ok := apperr.As(err); !ok && errors.Is(err, context.Canceled) {
		err = apperr.Canceled("", err)
	}
	r.saveScenes(ctx)
	if dbErr := r.w.Store.FailRender(ctx, r.render.ID, string(apperr.KindOf(err)), apperr.UserMessage(err)); dbErr != nil {
		r.log.Error().Err(dbErr).Msg("failed to record render failure")
	}
}
