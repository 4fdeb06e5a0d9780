package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bobarin/storyreel/internal/db"
	"github.com/bobarin/storyreel/internal/models"
	"github.com/bobarin/storyreel/internal/storage"
	"github.com/bobarin/storyreel/internal/textgen"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const downloadURLTTL = time.Hour

// Store is the persistence the API reads and writes.
type Store interface {
	CreateRender(ctx context.Context, render *models.Render) error
	GetRender(ctx context.Context, id uuid.UUID) (*models.Render, error)
	ListRenders(ctx context.Context, status models.RenderStatus, limit, offset int) ([]models.Render, error)
	GetRenderJobs(ctx context.Context, renderID uuid.UUID) ([]models.GenerationJob, error)
}

// Queue accepts renders for the worker.
type Queue interface {
	EnqueueRender(ctx context.Context, renderID uuid.UUID, sceneCount int) error
}

// signer is implemented by stores that serve private buckets.
type signer interface {
	SignedURL(ctx context.Context, key string, expiresIn time.Duration) (string, error)
}

type Handler struct {
	store   Store
	queue   Queue
	objects storage.ObjectStore
	log     zerolog.Logger
}

func NewHandler(store Store, q Queue, objects storage.ObjectStore, log zerolog.Logger) *Handler {
	return &Handler{
		store:   store,
		queue:   q,
		objects: objects,
		log:     log.With().Str("component", "api").Logger(),
	}
}

// CreateRender handles POST /v1/renders. The body carries either a full
// scenario or a topic the worker drafts into one.
func (h *Handler) CreateRender(w http.ResponseWriter, r *http.Request) {
	var req models.CreateRenderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	render := &models.Render{
		ID:     uuid.New(),
		Status: models.RenderStatusQueued,
	}
	sceneCount := 0

	switch {
	case req.Scenario != nil && len(req.Scenario.Scenes) > 0:
		if err := req.Scenario.Validate(); err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		render.Scenario = *req.Scenario
	case req.Topic != nil && strings.TrimSpace(*req.Topic) != "":
		topic := strings.TrimSpace(*req.Topic)
		render.Topic = &topic
		// A scenario without scenes still carries settings for the draft.
		if req.Scenario != nil {
			render.Scenario = *req.Scenario
		}
		sceneCount = textgen.DefaultSceneCount
		if req.SceneCount != nil {
			sceneCount = *req.SceneCount
		}
		if sceneCount < 1 || sceneCount > textgen.MaxSceneCount {
			respondError(w, http.StatusBadRequest, "scene_count must be between 1 and "+strconv.Itoa(textgen.MaxSceneCount))
			return
		}
	default:
		respondError(w, http.StatusBadRequest, "Either scenario or topic is required")
		return
	}

	if err := h.store.CreateRender(r.Context(), render); err != nil {
		h.log.Error().Err(err).Msg("failed to create render")
		respondError(w, http.StatusInternalServerError, "Failed to create render")
		return
	}

	if err := h.queue.EnqueueRender(r.Context(), render.ID, sceneCount); err != nil {
		h.log.Error().Err(err).Str("render_id", render.ID.String()).Msg("failed to enqueue render")
		respondError(w, http.StatusInternalServerError, "Failed to enqueue render")
		return
	}

	respondJSON(w, http.StatusCreated, models.CreateRenderResponse{
		RenderID: render.ID,
		Status:   render.Status,
	})
}

// ListRenders handles GET /v1/renders
// Query params:
//   - status: filter by render status
//   - limit:  max results per page (default 20, max 100)
//   - offset: number of results to skip (default 0)
func (h *Handler) ListRenders(w http.ResponseWriter, r *http.Request) {
	status := models.RenderStatus(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		respondError(w, http.StatusBadRequest, "Invalid status filter. Allowed: queued, drafting, generating, composing, completed, failed")
		return
	}

	limit := 20
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if limit > 100 {
		limit = 100
	}

	offset := 0
	if o := r.URL.Query().Get("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	renders, err := h.store.ListRenders(r.Context(), status, limit, offset)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to list renders")
		respondError(w, http.StatusInternalServerError, "Failed to list renders")
		return
	}

	out := make([]models.RenderResponse, 0, len(renders))
	for _, rd := range renders {
		out = append(out, h.buildRenderResponse(rd))
	}
	respondJSON(w, http.StatusOK, models.ListRendersResponse{
		Renders: out,
		Limit:   limit,
		Offset:  offset,
	})
}

// GetRender handles GET /v1/renders/{id}
func (h *Handler) GetRender(w http.ResponseWriter, r *http.Request) {
	render, ok := h.loadRender(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, h.buildRenderResponse(*render))
}

// GetRenderDownload handles GET /v1/renders/{id}/download
func (h *Handler) GetRenderDownload(w http.ResponseWriter, r *http.Request) {
	render, ok := h.loadRender(w, r)
	if !ok {
		return
	}
	if render.OutputKey == nil {
		respondError(w, http.StatusNotFound, "Video not ready")
		return
	}

	url := h.objects.URL(*render.OutputKey)
	if s, ok := h.objects.(signer); ok {
		signed, err := s.SignedURL(r.Context(), *render.OutputKey, downloadURLTTL)
		if err != nil {
			h.log.Error().Err(err).Str("render_id", render.ID.String()).Msg("failed to sign download URL")
			respondError(w, http.StatusInternalServerError, "Failed to generate download URL")
			return
		}
		url = signed
	}

	http.Redirect(w, r, url, http.StatusTemporaryRedirect)
}

// GetRenderJobs handles GET /v1/renders/{id}/jobs
func (h *Handler) GetRenderJobs(w http.ResponseWriter, r *http.Request) {
	renderID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid render ID")
		return
	}

	jobs, err := h.store.GetRenderJobs(r.Context(), renderID)
	if err != nil {
		h.log.Error().Err(err).Str("render_id", renderID.String()).Msg("failed to get jobs")
		respondError(w, http.StatusInternalServerError, "Failed to get jobs")
		return
	}
	if jobs == nil {
		jobs = []models.GenerationJob{}
	}

	respondJSON(w, http.StatusOK, jobs)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) loadRender(w http.ResponseWriter, r *http.Request) (*models.Render, bool) {
	renderID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid render ID")
		return nil, false
	}

	render, err := h.store.GetRender(r.Context(), renderID)
	if errors.Is(err, db.ErrNotFound) {
		respondError(w, http.StatusNotFound, "Render not found")
		return nil, false
	}
	if err != nil {
		h.log.Error().Err(err).Str("render_id", renderID.String()).Msg("failed to get render")
		respondError(w, http.StatusInternalServerError, "Failed to get render")
		return nil, false
	}
	return render, true
}

func (h *Handler) buildRenderResponse(render models.Render) models.RenderResponse {
	resp := models.RenderResponse{Render: render}
	if render.OutputKey != nil {
		url := h.objects.URL(*render.OutputKey)
		resp.OutputURL = &url
	}
	// Failures are stored already phrased for end users.
	if render.Status == models.RenderStatusFailed {
		resp.UserMessage = render.ErrorMessage
	}
	return resp
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
