package video

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bobarin/storyreel/internal/apperr"
	"github.com/bobarin/storyreel/internal/clock"
	"github.com/bobarin/storyreel/internal/jobs"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

var testPoll = jobs.Options{Interval: 5 * time.Second, MaxWait: 300 * time.Second}

func TestXAIGenerateFlow(t *testing.T) {
	var polls atomic.Int32
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/videos/generations":
			assert.Equal(t, "Bearer xai-key", r.Header.Get("Authorization"))
			var body xaiGenerationRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "https://cdn.test/scene.png", body.Image.URL)
			assert.Equal(t, 15, body.Duration)
			assert.Contains(t, body.Prompt, "waves crash")
			_, _ = w.Write([]byte(`{"request_id":"vid-1"}`))
		case r.URL.Path == "/videos/vid-1":
			if polls.Add(1) < 3 {
				w.WriteHeader(http.StatusAccepted)
				_, _ = w.Write([]byte(`{"status":"pending"}`))
				return
			}
			_, _ = w.Write([]byte(`{"video":{"url":"` + srv.URL + `/files/vid-1.mp4","duration":15,"respect_moderation":true}}`))
		case r.URL.Path == "/files/vid-1.mp4":
			_, _ = w.Write([]byte("mp4-bytes"))
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer srv.Close()

	fake := clock.NewFake(time.Unix(0, 0))
	x := NewXAI(XAIConfig{APIKey: "xai-key", BaseURL: srv.URL, Poll: testPoll}, zerolog.Nop(), jobs.WithClock(fake))
	clip, err := x.Generate(context.Background(), Request{
		Prompt:      "waves crash over the rocks",
		ImageURL:    "https://cdn.test/scene.png",
		DurationSec: 40,
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("mp4-bytes"), clip.Data)
	assert.Equal(t, int32(3), polls.Load())
	assert.Len(t, fake.Sleeps(), 3)
}

func TestXAIFailedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			_, _ = w.Write([]byte(`{"request_id":"vid-2"}`))
			return
		}
		_, _ = w.Write([]byte(`{"status":"failed","error":"upstream render error"}`))
	}))
	defer srv.Close()

	x := NewXAI(XAIConfig{APIKey: "k", BaseURL: srv.URL, Poll: testPoll}, zerolog.Nop(), jobs.WithClock(clock.NewFake(time.Unix(0, 0))))
	_, err := x.Generate(context.Background(), Request{Prompt: "p", ImageURL: "https://cdn.test/a.png"})
	e, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindProvider, e.Kind)
	assert.Contains(t, e.Message, "upstream render error")
}

func TestXAISubmitRejectedIsTerminal(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"image url unreachable"}`))
	}))
	defer srv.Close()

	x := NewXAI(XAIConfig{APIKey: "k", BaseURL: srv.URL, Poll: testPoll}, zerolog.Nop(), jobs.WithClock(clock.NewFake(time.Unix(0, 0))))
	_, err := x.Generate(context.Background(), Request{Prompt: "p"})
	assert.True(t, apperr.Is(err, apperr.KindInvalidRequest))
	assert.Equal(t, int32(1), calls.Load())
}

func TestXAIPollResultModeration(t *testing.T) {
	no := false
	res := xaiPollResult(xaiVideoResult{Video: &xaiVideoOutput{URL: "u", RespectModeration: &no}})
	assert.Equal(t, jobs.StateFailed, res.State)
	assert.True(t, apperr.Is(res.Err, apperr.KindContentPolicy))

	assert.Equal(t, jobs.StateProcessing, xaiPollResult(xaiVideoResult{Status: "pending"}).State)
	assert.Equal(t, jobs.StateSucceeded, xaiPollResult(xaiVideoResult{Video: &xaiVideoOutput{URL: "u"}}).State)
}

type fakeVeo struct {
	submitted *genai.GenerateVideosConfig
	ops       []*genai.GenerateVideosOperation
	polls     int
	pollErr   error
	download  []byte
}

func (f *fakeVeo) GenerateVideos(_ context.Context, _, _ string, image *genai.Image, config *genai.GenerateVideosConfig) (*genai.GenerateVideosOperation, error) {
	if len(image.ImageBytes) == 0 {
		return nil, errors.New("no image")
	}
	f.submitted = config
	return &genai.GenerateVideosOperation{Name: "operations/op-1"}, nil
}

func (f *fakeVeo) GetVideosOperation(_ context.Context, op *genai.GenerateVideosOperation) (*genai.GenerateVideosOperation, error) {
	if f.pollErr != nil {
		return nil, f.pollErr
	}
	next := f.ops[min(f.polls, len(f.ops)-1)]
	f.polls++
	next.Name = op.Name
	return next, nil
}

func (f *fakeVeo) Download(context.Context, *genai.Video) ([]byte, error) {
	return f.download, nil
}

func TestVeoGenerateDownloadsResult(t *testing.T) {
	api := &fakeVeo{
		ops: []*genai.GenerateVideosOperation{
			{Done: false},
			{Done: true, Response: &genai.GenerateVideosResponse{
				GeneratedVideos: []*genai.GeneratedVideo{{Video: &genai.Video{URI: "files/abc"}}},
			}},
		},
		download: []byte("veo-mp4"),
	}
	v := newVeo(api, VeoConfig{Poll: testPoll}, zerolog.Nop(), jobs.WithClock(clock.NewFake(time.Unix(0, 0))))

	clip, err := v.Generate(context.Background(), Request{Prompt: "steam rises", ImageBytes: []byte("png"), DurationSec: 6})
	require.NoError(t, err)
	assert.Equal(t, []byte("veo-mp4"), clip.Data)
	assert.Equal(t, "video/mp4", clip.MIMEType)
	require.NotNil(t, api.submitted.DurationSeconds)
	assert.Equal(t, int32(6), *api.submitted.DurationSeconds)
	assert.Equal(t, 2, api.polls)
}

func TestVeoRAIFilterIsContentPolicy(t *testing.T) {
	res := veoPollResult(&genai.GenerateVideosOperation{Done: true, Response: &genai.GenerateVideosResponse{
		RAIMediaFilteredCount:   1,
		RAIMediaFilteredReasons: []string{"celebrity likeness"},
	}})
	assert.Equal(t, jobs.StateFailed, res.State)
	e, ok := apperr.As(res.Err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindContentPolicy, e.Kind)
	assert.Equal(t, "celebrity likeness", e.Category)
}

func TestVeoOperationError(t *testing.T) {
	res := veoPollResult(&genai.GenerateVideosOperation{Done: true, Error: map[string]any{"code": 3, "message": "bad frame"}})
	assert.Equal(t, jobs.StateFailed, res.State)
	assert.Equal(t, "bad frame", res.Message)
}

func TestVeoPollAPIErrorIsClassified(t *testing.T) {
	api := &fakeVeo{pollErr: genai.APIError{Code: http.StatusForbidden, Message: "key revoked"}}
	v := newVeo(api, VeoConfig{Poll: testPoll}, zerolog.Nop(), jobs.WithClock(clock.NewFake(time.Unix(0, 0))))
	_, err := v.Generate(context.Background(), Request{Prompt: "p", ImageBytes: []byte("png")})
	assert.True(t, apperr.Is(err, apperr.KindAuth))
}

func TestVeoRequiresFirstFrame(t *testing.T) {
	v := newVeo(&fakeVeo{}, VeoConfig{Poll: testPoll}, zerolog.Nop())
	_, err := v.Generate(context.Background(), Request{Prompt: "p"})
	assert.True(t, apperr.Is(err, apperr.KindInvalidRequest))
}

func TestParseKind(t *testing.T) {
	k, ok, err := ParseKind("Veo")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, KindVeo, k)

	_, ok, err = ParseKind("none")
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = ParseKind("sora")
	assert.Error(t, err)
}

func TestClampDuration(t *testing.T) {
	assert.Equal(t, 8, clampDuration(0, 1, 15, 8))
	assert.Equal(t, 15, clampDuration(30, 1, 15, 8))
	assert.Equal(t, 4, clampDuration(2, 4, 8, 8))
}
