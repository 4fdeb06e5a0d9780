// Package imagery keeps a subject visually consistent across scenes: one
// anchor image is generated first and every other scene is derived from it.
package imagery

import (
	"context"
	"errors"
	"fmt"

	"github.com/bobarin/storyreel/internal/apperr"
	"github.com/bobarin/storyreel/internal/batch"
	"github.com/bobarin/storyreel/internal/imagegen"
	"github.com/bobarin/storyreel/internal/jobs"
	"github.com/bobarin/storyreel/internal/storage"
	"github.com/rs/zerolog"
)

// Scene is the pipeline's view of one scene.
type Scene struct {
	ID          string
	Description string
	StoryBeat   string
}

// Options configure one Generate call.
type Options struct {
	AspectRatio string
	// References are 0-4 product or character images for the anchor. With
	// none the anchor is generated from its description alone.
	References []imagegen.Ref
	// Bias shifts every variation strength before clamping.
	Bias  float64
	Batch batch.Options
}

// SceneImage is the image produced for one scene.
type SceneImage struct {
	Index    int
	SceneID  string
	Image    *imagegen.Image
	Anchor   bool
	Strength float64
}

// Result holds one outcome per input scene, in input order. The anchor's
// slot is always a success.
type Result struct {
	AnchorIndex int
	Outcomes    []batch.Outcome[SceneImage]
}

// Pipeline runs the anchor-then-variation protocol against one backend.
type Pipeline struct {
	backend imagegen.Backend
	stager  *storage.Stager
	log     zerolog.Logger
}

// NewPipeline builds a pipeline. stager may be nil when the backend accepts
// inline images.
func NewPipeline(backend imagegen.Backend, stager *storage.Stager, log zerolog.Logger) *Pipeline {
	return &Pipeline{
		backend: backend,
		stager:  stager,
		log:     log.With().Str("component", "imagery").Str("provider", string(backend.Kind())).Logger(),
	}
}

// Generate produces one image per scene. If the anchor cannot be generated
// it returns a pipeline_dependency error and no variation is attempted. The
// returned error is otherwise nil, batch.ErrHalted or a cancellation; per
// scene failures are reported in Result.Outcomes.
func (p *Pipeline) Generate(ctx context.Context, scenes []Scene, opts Options) (*Result, error) {
	if len(scenes) == 0 {
		return nil, apperr.InvalidRequest("", "no scenes to illustrate")
	}
	if len(opts.References) > imagegen.MaxReferences {
		return nil, apperr.InvalidRequest("", fmt.Sprintf("at most %d reference images are supported", imagegen.MaxReferences))
	}
	if p.backend.RequiresURLs() && p.stager == nil {
		return nil, apperr.New(apperr.KindInternal, string(p.backend.Kind()), "backend needs a staging store")
	}

	ai := SelectAnchor(scenes)
	log := p.log.With().Int("anchor", ai).Int("scenes", len(scenes)).Logger()
	log.Info().Str("anchor_beat", scenes[ai].StoryBeat).Int("references", len(opts.References)).Msg("generating anchor")

	anchor, err := p.generateAnchor(ctx, scenes[ai], opts)
	if err != nil {
		log.Error().Err(err).Msg("anchor generation failed, skipping variations")
		return nil, apperr.PipelineDependency(fmt.Sprintf("anchor scene %d could not be generated", ai), err)
	}

	rest := make([]int, 0, len(scenes)-1)
	for i := range scenes {
		if i != ai {
			rest = append(rest, i)
		}
	}

	bopts := opts.Batch
	bopts.Logger = p.log
	outcomes, runErr := batch.Run(ctx, rest, func(ctx context.Context, _ int, idx int) (SceneImage, error) {
		return p.generateVariation(ctx, anchor, idx, scenes[idx], opts)
	}, bopts)

	res := &Result{AnchorIndex: ai, Outcomes: make([]batch.Outcome[SceneImage], len(scenes))}
	res.Outcomes[ai] = batch.Outcome[SceneImage]{
		Index: ai,
		State: batch.Succeeded,
		Value: SceneImage{Index: ai, SceneID: scenes[ai].ID, Image: anchor, Anchor: true},
	}
	for k, o := range outcomes {
		idx := rest[k]
		o.Index = idx
		res.Outcomes[idx] = o
	}

	if runErr != nil && !errors.Is(runErr, batch.ErrHalted) {
		return res, runErr
	}
	failed := 0
	for _, o := range res.Outcomes {
		if o.State == batch.Failed {
			failed++
		}
	}
	log.Info().Int("failed", failed).Bool("halted", runErr != nil).Msg("variations finished")
	return res, runErr
}

func (p *Pipeline) generateAnchor(ctx context.Context, scene Scene, opts Options) (*imagegen.Image, error) {
	req := imagegen.Request{
		Mode:        imagegen.ModeSingle,
		Prompt:      scene.Description,
		AspectRatio: opts.AspectRatio,
	}

	var scope *storage.Scope
	if p.backend.RequiresURLs() {
		scope = p.stager.Scope()
		defer p.cleanup(ctx, scope)
	}

	if len(opts.References) > 0 {
		req.Mode = imagegen.ModeMultiReference
		req.References = make([]imagegen.Ref, len(opts.References))
		for i, ref := range opts.References {
			staged, err := p.hostable(ctx, scope, ref)
			if err != nil {
				return nil, fmt.Errorf("stage reference %d: %w", i, err)
			}
			req.References[i] = staged
		}
	}
	return p.backend.Generate(jobs.WithScene(ctx, scene.ID), req)
}

func (p *Pipeline) generateVariation(ctx context.Context, anchor *imagegen.Image, idx int, scene Scene, opts Options) (SceneImage, error) {
	strength := StrengthForBeat(scene.StoryBeat, opts.Bias)

	var scope *storage.Scope
	if p.backend.RequiresURLs() {
		scope = p.stager.Scope()
		defer p.cleanup(ctx, scope)
	}

	src, err := p.hostable(ctx, scope, imagegen.Ref{Data: anchor.Data, MIMEType: anchor.MIMEType, URL: anchor.URL})
	if err != nil {
		return SceneImage{}, fmt.Errorf("stage anchor: %w", err)
	}
	img, err := p.backend.Generate(jobs.WithScene(ctx, scene.ID), imagegen.Request{
		Mode:        imagegen.ModeImageToImage,
		Prompt:      scene.Description,
		AspectRatio: opts.AspectRatio,
		Source:      &src,
		Strength:    strength,
	})
	if err != nil {
		return SceneImage{}, err
	}
	p.log.Debug().Int("scene", idx).Str("beat", scene.StoryBeat).Float64("strength", strength).Msg("variation generated")
	return SceneImage{Index: idx, SceneID: scene.ID, Image: img, Strength: strength}, nil
}

// hostable makes ref usable by the backend: URL backends get a staged copy
// of inline-only images, inline backends get the ref unchanged.
func (p *Pipeline) hostable(ctx context.Context, scope *storage.Scope, ref imagegen.Ref) (imagegen.Ref, error) {
	if scope == nil || ref.URL != "" {
		return ref, nil
	}
	if len(ref.Data) == 0 {
		return imagegen.Ref{}, apperr.InvalidRequest(string(p.backend.Kind()), "image has neither data nor url")
	}
	mime := ref.MIMEType
	if mime == "" {
		mime = "image/png"
	}
	obj, err := scope.Stage(ctx, ref.Data, mime)
	if err != nil {
		return imagegen.Ref{}, err
	}
	return imagegen.Ref{URL: obj.URL, MIMEType: mime}, nil
}

func (p *Pipeline) cleanup(ctx context.Context, scope *storage.Scope) {
	if err := scope.Cleanup(ctx); err != nil {
		p.log.Warn().Err(err).Msg("staging cleanup incomplete")
	}
}
