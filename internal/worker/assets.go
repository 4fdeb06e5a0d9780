package worker

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/bobarin/storyreel/internal/apperr"
	"github.com/bobarin/storyreel/internal/batch"
	"github.com/bobarin/storyreel/internal/db"
	"github.com/bobarin/storyreel/internal/imagegen"
	"github.com/bobarin/storyreel/internal/imagery"
	"github.com/bobarin/storyreel/internal/jobs"
	"github.com/bobarin/storyreel/internal/models"
	"github.com/bobarin/storyreel/internal/speech"
	"github.com/bobarin/storyreel/internal/storage"
	"github.com/bobarin/storyreel/internal/video"
	"golang.org/x/sync/errgroup"
)

// uploadConcurrency caps simultaneous object store writes per render.
const uploadConcurrency = 4

// sceneAssets are the generated media of one scene, kept in memory until
// the composition is exported.
type sceneAssets struct {
	image *imagegen.Image
	audio *speech.Audio
}

func (r *renderRun) batchOptions(policy batch.Policy) batch.Options {
	opts := r.w.settings.Batch
	opts.Policy = policy
	opts.Clock = r.w.Clock
	opts.Logger = r.log
	return opts
}

// generate runs narration and the image pipeline side by side. Narration
// always collects every outcome. Under StopOnFirstFailure any failed image
// fails the render; under CollectAll failed scenes are dropped as long as
// one scene is ready. A failing image pipeline cancels the narration batch.
func (r *renderRun) generate(ctx context.Context) error {
	sc := r.render.Scenario
	n := len(sc.Scenes)
	r.results = make(models.SceneResults, n)
	r.assets = make([]sceneAssets, n)

	lines := make([]speech.Line, n)
	scenes := make([]imagery.Scene, n)
	for i, s := range sc.Scenes {
		r.results[i] = models.SceneResult{Index: i, SceneID: s.ID, Status: models.SceneStatusPending}
		lines[i] = speech.Line{SceneID: s.ID, Text: s.Narration, Voice: sc.Voice}
		scenes[i] = imagery.Scene{ID: s.ID, Description: s.ImageDescription, StoryBeat: s.StoryBeat}
	}
	refs := make([]imagegen.Ref, len(sc.ReferenceImageURLs))
	for i, u := range sc.ReferenceImageURLs {
		refs[i] = imagegen.Ref{URL: u}
	}

	var (
		narration []batch.Outcome[*speech.Audio]
		images    *imagery.Result
	)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		out, err := speech.NarrateAll(gctx, r.w.Speech, lines, r.batchOptions(batch.CollectAll))
		narration = out
		return err
	})

	g.Go(func() error {
		res, err := r.w.Images.Generate(gctx, scenes, imagery.Options{
			AspectRatio: sc.AspectRatio,
			References:  refs,
			Bias:        sc.VariationBias,
			Batch:       r.batchOptions(r.w.settings.ImagePolicy),
		})
		images = res
		return err
	})

	err := g.Wait()
	r.applyImages(images)
	r.applyNarration(narration)

	if err != nil {
		if errors.Is(err, batch.ErrHalted) {
			err = r.haltCause(err)
		}
		return err
	}

	ready, failed := 0, 0
	for _, res := range r.results {
		switch res.Status {
		case models.SceneStatusReady:
			ready++
		case models.SceneStatusFailed:
			failed++
		}
	}
	if failed > 0 && r.w.settings.ImagePolicy == batch.StopOnFirstFailure {
		return r.haltCause(batch.ErrHalted)
	}
	if ready == 0 {
		return r.haltCause(apperr.Provider("", "no scene image could be generated"))
	}

	if err := r.upload(ctx); err != nil {
		return err
	}
	r.saveScenes(ctx)
	r.log.Info().Int("scenes", n).Int("ready", ready).Msg("scene assets generated")
	return nil
}

func (r *renderRun) applyImages(res *imagery.Result) {
	if res == nil {
		return
	}
	for i, o := range res.Outcomes {
		switch o.State {
		case batch.Succeeded:
			r.assets[i].image = o.Value.Image
			r.results[i].Status = models.SceneStatusReady
			r.results[i].IsAnchor = o.Value.Anchor
			r.results[i].Strength = o.Value.Strength
		case batch.Failed:
			r.results[i].Status = models.SceneStatusFailed
			r.results[i].ErrorKind = string(apperr.KindOf(o.Err))
			r.results[i].Error = apperr.UserMessage(o.Err)
		}
	}
}

// applyNarration attaches audio. A scene whose narration failed is kept
// and plays silent.
func (r *renderRun) applyNarration(out []batch.Outcome[*speech.Audio]) {
	for i, o := range out {
		switch {
		case o.State == batch.Succeeded && o.Value != nil:
			r.assets[i].audio = o.Value
			r.results[i].AudioMs = o.Value.DurationMs
		case o.State == batch.Failed:
			r.log.Warn().Err(o.Err).Int("scene", i).Msg("narration failed, scene will be silent")
			if r.results[i].Error == "" {
				r.results[i].ErrorKind = string(apperr.KindOf(o.Err))
				r.results[i].Error = "narration: " + apperr.UserMessage(o.Err)
			}
		}
	}
}

// haltCause returns the first recorded scene failure, which explains a
// halted batch better than the halt itself.
func (r *renderRun) haltCause(fallback error) error {
	for i, res := range r.results {
		if res.Status == models.SceneStatusFailed {
			return apperr.Wrap(apperr.Kind(res.ErrorKind), "", fmt.Sprintf("scene %d: %s", i, res.Error), fallback)
		}
	}
	return fallback
}

// upload stores every generated image and narration track under the
// render's prefix.
func (r *renderRun) upload(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(uploadConcurrency)

	for i := range r.assets {
		a := r.assets[i]
		if a.image != nil {
			g.Go(func() error {
				obj, err := r.put(gctx, fmt.Sprintf("scene_%02d", i), a.image.Data, a.image.MIMEType, "image/png")
				if err != nil {
					return fmt.Errorf("failed to upload scene %d image: %w", i, err)
				}
				r.results[i].ImageKey = obj.Key
				r.results[i].ImageURL = obj.URL
				return nil
			})
		}
		if a.audio != nil {
			g.Go(func() error {
				obj, err := r.put(gctx, fmt.Sprintf("scene_%02d_audio", i), a.audio.Data, a.audio.MIMEType, "audio/mpeg")
				if err != nil {
					return fmt.Errorf("failed to upload scene %d audio: %w", i, err)
				}
				r.results[i].AudioKey = obj.Key
				return nil
			})
		}
	}
	return g.Wait()
}

func (r *renderRun) put(ctx context.Context, name string, data []byte, contentType, fallback string) (storage.Object, error) {
	if contentType == "" {
		contentType = fallback
	}
	key := storage.RenderKey(r.render.ID, name+storage.ExtensionFor(contentType))
	return r.w.Objects.Put(ctx, key, data, contentType)
}

// generateClips animates ready scenes that carry a motion prompt. Clips are
// optional: failures are logged and the scene keeps its still image.
func (r *renderRun) generateClips(ctx context.Context) {
	gen := r.w.Video
	if gen == nil {
		return
	}

	var todo []int
	for i, s := range r.render.Scenario.Scenes {
		if r.results[i].Status == models.SceneStatusReady && s.MotionPrompt != "" {
			todo = append(todo, i)
		}
	}
	if len(todo) == 0 {
		return
	}
	r.log.Info().Str("provider", string(gen.Kind())).Int("clips", len(todo)).Msg("generating motion clips")

	outcomes, err := batch.Run(ctx, todo, func(ctx context.Context, _ int, i int) (*video.Clip, error) {
		s := r.render.Scenario.Scenes[i]
		req := video.Request{
			Prompt:      s.MotionPrompt,
			DurationSec: int(math.Ceil(s.DurationSeconds)),
			AspectRatio: r.render.Scenario.AspectRatio,
		}
		if gen.RequiresURLs() {
			req.ImageURL = r.results[i].ImageURL
		} else {
			req.ImageBytes = r.assets[i].image.Data
			req.ImageMIME = r.assets[i].image.MIMEType
		}
		return gen.Generate(jobs.WithOwner(ctx, db.JobOwner(r.render.ID, s.ID)), req)
	}, r.batchOptions(batch.CollectAll))
	if err != nil {
		r.log.Warn().Err(err).Msg("clip generation interrupted")
	}

	for k, o := range outcomes {
		i := todo[k]
		switch o.State {
		case batch.Succeeded:
			obj, err := r.put(ctx, fmt.Sprintf("scene_%02d_clip", i), o.Value.Data, o.Value.MIMEType, "video/mp4")
			if err != nil {
				r.log.Warn().Err(err).Int("scene", i).Msg("failed to upload clip")
				continue
			}
			r.results[i].ClipKey = obj.Key
		case batch.Failed:
			r.log.Warn().Err(o.Err).Int("scene", i).Str("error_kind", string(apperr.KindOf(o.Err))).Msg("clip generation failed, keeping still image")
		}
	}
	r.saveScenes(ctx)
}
