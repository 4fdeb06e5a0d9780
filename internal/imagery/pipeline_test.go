package imagery

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bobarin/storyreel/internal/apperr"
	"github.com/bobarin/storyreel/internal/batch"
	"github.com/bobarin/storyreel/internal/clock"
	"github.com/bobarin/storyreel/internal/imagegen"
	"github.com/bobarin/storyreel/internal/jobs"
	"github.com/bobarin/storyreel/internal/mocks"
	"github.com/bobarin/storyreel/internal/models"
	"github.com/bobarin/storyreel/internal/storage"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func adScenes() []Scene {
	return []Scene{
		{ID: "s0", Description: "a tired runner at dawn", StoryBeat: models.BeatHook},
		{ID: "s1", Description: "sore knees on the track", StoryBeat: models.BeatProblem},
		{ID: "s2", Description: "the shoe on a pedestal", StoryBeat: models.BeatProductIntro},
		{ID: "s3", Description: "runner sprinting at sunset", StoryBeat: models.BeatClimax},
	}
}

func testOptions() Options {
	return Options{
		AspectRatio: "9:16",
		References:  []imagegen.Ref{{Data: []byte("product"), MIMEType: "image/png"}},
		Batch: batch.Options{
			BatchSize:        2,
			InterWindowDelay: time.Second,
			Clock:            clock.NewFake(time.Unix(0, 0)),
		},
	}
}

func inlineBackend(ctrl *gomock.Controller) *mocks.MockImageBackend {
	b := mocks.NewMockImageBackend(ctrl)
	b.EXPECT().Kind().Return(imagegen.KindGemini).AnyTimes()
	b.EXPECT().RequiresURLs().Return(false).AnyTimes()
	return b
}

// recorder captures generate calls made concurrently by the pipeline.
type recorder struct {
	mu    sync.Mutex
	calls []imagegen.Request
}

func (r *recorder) add(req imagegen.Request) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, req)
}

func (r *recorder) byMode(mode imagegen.Mode) []imagegen.Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []imagegen.Request
	for _, c := range r.calls {
		if c.Mode == mode {
			out = append(out, c)
		}
	}
	return out
}

func TestAnchorFailureSkipsVariations(t *testing.T) {
	ctrl := gomock.NewController(t)
	backend := inlineBackend(ctrl)
	backend.EXPECT().Generate(gomock.Any(), gomock.Any()).
		Return(nil, apperr.ContentPolicy("gemini", "safety")).
		Times(1)

	p := NewPipeline(backend, nil, zerolog.Nop())
	res, err := p.Generate(context.Background(), adScenes(), testOptions())
	require.Error(t, err)
	assert.Nil(t, res)

	e, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindPipelineDependency, e.Kind)
	cause, ok := apperr.As(e.Cause)
	require.True(t, ok)
	assert.Equal(t, apperr.KindContentPolicy, cause.Kind)
	assert.Equal(t, "anchor image could not be generated: content rejected by safety filter: safety", apperr.UserMessage(err))
}

func TestEachImageJobIsOwnedByItsScene(t *testing.T) {
	ctrl := gomock.NewController(t)
	backend := inlineBackend(ctrl)
	var (
		mu     sync.Mutex
		owners []string
	)
	backend.EXPECT().Generate(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, req imagegen.Request) (*imagegen.Image, error) {
			mu.Lock()
			owners = append(owners, jobs.OwnerFrom(ctx))
			mu.Unlock()
			return &imagegen.Image{Data: []byte("img"), MIMEType: "image/png"}, nil
		}).
		Times(4)

	p := NewPipeline(backend, nil, zerolog.Nop())
	ctx := jobs.WithOwner(context.Background(), "render-1")
	_, err := p.Generate(ctx, adScenes(), testOptions())
	require.NoError(t, err)

	require.NotEmpty(t, owners)
	assert.Equal(t, "render-1/s2", owners[0])
	assert.ElementsMatch(t, []string{"render-1/s2", "render-1/s0", "render-1/s1", "render-1/s3"}, owners)
}

func TestAnchorThenVariations(t *testing.T) {
	ctrl := gomock.NewController(t)
	backend := inlineBackend(ctrl)
	rec := &recorder{}
	backend.EXPECT().Generate(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, req imagegen.Request) (*imagegen.Image, error) {
			rec.add(req)
			if req.Mode == imagegen.ModeMultiReference {
				return &imagegen.Image{Data: []byte("anchor"), MIMEType: "image/png"}, nil
			}
			return &imagegen.Image{Data: []byte("var:" + req.Prompt), MIMEType: "image/png"}, nil
		}).
		Times(4)

	p := NewPipeline(backend, nil, zerolog.Nop())
	res, err := p.Generate(context.Background(), adScenes(), testOptions())
	require.NoError(t, err)

	assert.Equal(t, 2, res.AnchorIndex)
	require.Len(t, res.Outcomes, 4)
	for i, o := range res.Outcomes {
		assert.Equal(t, i, o.Index)
		assert.Equal(t, batch.Succeeded, o.State)
		assert.Equal(t, adScenes()[i].ID, o.Value.SceneID)
	}
	assert.True(t, res.Outcomes[2].Value.Anchor)
	assert.Equal(t, []byte("anchor"), res.Outcomes[2].Value.Image.Data)

	anchors := rec.byMode(imagegen.ModeMultiReference)
	require.Len(t, anchors, 1)
	assert.Equal(t, "the shoe on a pedestal", anchors[0].Prompt)
	require.Len(t, anchors[0].References, 1)

	variations := rec.byMode(imagegen.ModeImageToImage)
	require.Len(t, variations, 3)
	for _, v := range variations {
		require.NotNil(t, v.Source)
		assert.Equal(t, []byte("anchor"), v.Source.Data)
	}
	assert.InDelta(t, 0.25, res.Outcomes[0].Value.Strength, 1e-9)
	assert.InDelta(t, 0.35, res.Outcomes[1].Value.Strength, 1e-9)
	assert.InDelta(t, 0.65, res.Outcomes[3].Value.Strength, 1e-9)
}

func TestSingleModeWithoutReferences(t *testing.T) {
	ctrl := gomock.NewController(t)
	backend := inlineBackend(ctrl)
	rec := &recorder{}
	backend.EXPECT().Generate(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, req imagegen.Request) (*imagegen.Image, error) {
			rec.add(req)
			return &imagegen.Image{Data: []byte("img")}, nil
		}).
		Times(2)

	opts := testOptions()
	opts.References = nil
	res, err := NewPipeline(backend, nil, zerolog.Nop()).Generate(context.Background(), adScenes()[:2], opts)
	require.NoError(t, err)
	assert.Equal(t, 0, res.AnchorIndex)
	assert.Len(t, rec.byMode(imagegen.ModeSingle), 1)
	assert.Len(t, rec.byMode(imagegen.ModeImageToImage), 1)
}

func TestVariationFailureIsPerScene(t *testing.T) {
	ctrl := gomock.NewController(t)
	backend := inlineBackend(ctrl)
	backend.EXPECT().Generate(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, req imagegen.Request) (*imagegen.Image, error) {
			if strings.Contains(req.Prompt, "sore knees") {
				return nil, apperr.RateLimited("gemini", 10*time.Second)
			}
			return &imagegen.Image{Data: []byte("ok")}, nil
		}).
		Times(4)

	res, err := NewPipeline(backend, nil, zerolog.Nop()).Generate(context.Background(), adScenes(), testOptions())
	require.NoError(t, err)
	assert.Equal(t, batch.Failed, res.Outcomes[1].State)
	assert.True(t, apperr.Is(res.Outcomes[1].Err, apperr.KindRateLimited))
	for _, i := range []int{0, 2, 3} {
		assert.Equal(t, batch.Succeeded, res.Outcomes[i].State, "scene %d", i)
	}
}

func TestStopOnFirstFailureLeavesLaterScenesPending(t *testing.T) {
	ctrl := gomock.NewController(t)
	backend := inlineBackend(ctrl)
	scenes := append(adScenes(),
		Scene{ID: "s4", Description: "happy finish line", StoryBeat: models.BeatBenefit},
		Scene{ID: "s5", Description: "buy now banner", StoryBeat: models.BeatCallToAction},
	)
	backend.EXPECT().Generate(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, req imagegen.Request) (*imagegen.Image, error) {
			if req.Prompt == "a tired runner at dawn" {
				return nil, errors.New("upstream exploded")
			}
			return &imagegen.Image{Data: []byte("ok")}, nil
		}).
		Times(3)

	opts := testOptions()
	opts.Batch.Policy = batch.StopOnFirstFailure
	res, err := NewPipeline(backend, nil, zerolog.Nop()).Generate(context.Background(), scenes, opts)
	assert.ErrorIs(t, err, batch.ErrHalted)
	require.Len(t, res.Outcomes, 6)
	assert.Equal(t, batch.Failed, res.Outcomes[0].State)
	assert.Equal(t, batch.Succeeded, res.Outcomes[1].State)
	assert.Equal(t, batch.Succeeded, res.Outcomes[2].State)
	for _, i := range []int{3, 4, 5} {
		assert.Equal(t, batch.Pending, res.Outcomes[i].State, "scene %d", i)
	}
}

func TestURLBackendStagesAndAlwaysCleansUp(t *testing.T) {
	ctrl := gomock.NewController(t)
	backend := mocks.NewMockImageBackend(ctrl)
	backend.EXPECT().Kind().Return(imagegen.KindFal).AnyTimes()
	backend.EXPECT().RequiresURLs().Return(true).AnyTimes()

	store := mocks.NewMockObjectStore(ctrl)
	var mu sync.Mutex
	staged := map[string]bool{}
	store.EXPECT().Put(gomock.Any(), gomock.Any(), gomock.Any(), "image/png").
		DoAndReturn(func(_ context.Context, key string, _ []byte, _ string) (storage.Object, error) {
			mu.Lock()
			defer mu.Unlock()
			staged[key] = true
			return storage.Object{Key: key, URL: "https://cdn.test/" + key}, nil
		}).
		Times(3)
	store.EXPECT().Delete(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, key string) error {
			assert.NoError(t, ctx.Err())
			mu.Lock()
			defer mu.Unlock()
			assert.True(t, staged[key], "deleting unknown key %s", key)
			delete(staged, key)
			return nil
		}).
		Times(3)

	backend.EXPECT().Generate(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, req imagegen.Request) (*imagegen.Image, error) {
			switch req.Mode {
			case imagegen.ModeMultiReference:
				assert.True(t, strings.HasPrefix(req.References[0].URL, "https://cdn.test/staging/"))
				return &imagegen.Image{Data: []byte("anchor"), MIMEType: "image/png"}, nil
			default:
				assert.True(t, strings.HasPrefix(req.Source.URL, "https://cdn.test/staging/"))
				if req.Prompt == "a tired runner at dawn" {
					return nil, apperr.Provider("fal", "generation failed")
				}
				return &imagegen.Image{Data: []byte("v")}, nil
			}
		}).
		Times(3)

	p := NewPipeline(backend, storage.NewStager(store, zerolog.Nop()), zerolog.Nop())
	res, err := p.Generate(context.Background(), adScenes()[:3], testOptions())
	require.NoError(t, err)
	assert.Equal(t, batch.Failed, res.Outcomes[0].State)
	assert.Empty(t, staged)
}

func TestURLBackendWithoutStagerIsRejected(t *testing.T) {
	ctrl := gomock.NewController(t)
	backend := mocks.NewMockImageBackend(ctrl)
	backend.EXPECT().Kind().Return(imagegen.KindFal).AnyTimes()
	backend.EXPECT().RequiresURLs().Return(true).AnyTimes()

	_, err := NewPipeline(backend, nil, zerolog.Nop()).Generate(context.Background(), adScenes(), testOptions())
	assert.Error(t, err)
}

func TestGenerateRejectsBadInput(t *testing.T) {
	ctrl := gomock.NewController(t)
	p := NewPipeline(inlineBackend(ctrl), nil, zerolog.Nop())

	_, err := p.Generate(context.Background(), nil, testOptions())
	assert.True(t, apperr.Is(err, apperr.KindInvalidRequest))

	opts := testOptions()
	opts.References = make([]imagegen.Ref, 5)
	_, err = p.Generate(context.Background(), adScenes(), opts)
	assert.True(t, apperr.Is(err, apperr.KindInvalidRequest))
}

func TestStrengthForBeat(t *testing.T) {
	prev := -1.0
	for _, b := range beatStrengths {
		s := StrengthForBeat(b.beat, 0)
		assert.Greater(t, s, prev, b.beat)
		assert.GreaterOrEqual(t, s, 0.0)
		assert.LessOrEqual(t, s, 1.0)
		prev = s
	}
	assert.Equal(t, DefaultStrength, StrengthForBeat("interlude", 0))
	assert.Equal(t, 1.0, StrengthForBeat(models.BeatCallToAction, 0.9))
	assert.Equal(t, 0.0, StrengthForBeat(models.BeatHook, -2))
}

func TestSelectAnchor(t *testing.T) {
	assert.Equal(t, 2, SelectAnchor(adScenes()))
	assert.Equal(t, 0, SelectAnchor([]Scene{{StoryBeat: models.BeatHook}, {StoryBeat: models.BeatClimax}}))
	assert.Equal(t, 1, SelectAnchor([]Scene{{StoryBeat: models.BeatSetup}, {StoryBeat: models.BeatDemo}, {StoryBeat: models.BeatProductIntro}}))
}
