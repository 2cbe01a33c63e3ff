package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/feedharvest/internal/middleware"
	"github.com/hitoshi/feedharvest/internal/model"
)

// SourceReader はデータソースの参照系サービスインターフェース。
type SourceReader interface {
	Get(ctx context.Context, id string) (*model.Source, error)
	List(ctx context.Context) ([]*model.Source, error)
	Stats(ctx context.Context) (*model.SourceStats, error)
}

// SourceHandler はデータソース参照のHTTPハンドラー。
type SourceHandler struct {
	sources SourceReader
	logger  *slog.Logger
}

// NewSourceHandler はSourceHandlerを生成する。
func NewSourceHandler(sources SourceReader, logger *slog.Logger) *SourceHandler {
	return &SourceHandler{sources: sources, logger: logger}
}

// sourceResponse はデータソース情報のAPIレスポンス。
type sourceResponse struct {
	ID                   string             `json:"id"`
	Name                 string             `json:"name"`
	Description          string             `json:"description"`
	Kind                 string             `json:"kind"`
	URL                  string             `json:"url"`
	Config               model.SourceConfig `json:"config"`
	FetchIntervalSeconds int64              `json:"fetch_interval_seconds"`
	IsActive             bool               `json:"is_active"`
	FetchCount           int64              `json:"fetch_count"`
	SuccessCount         int64              `json:"success_count"`
	ErrorCount           int64              `json:"error_count"`
	LastFetch            *time.Time         `json:"last_fetch"`
	LastSuccess          *time.Time         `json:"last_success"`
	LastError            string             `json:"last_error"`
}

func toSourceResponse(src *model.Source) sourceResponse {
	cfg := src.Config
	if cfg == nil {
		cfg = model.SourceConfig{}
	}
	return sourceResponse{
		ID:                   src.ID,
		Name:                 src.Name,
		Description:          src.Description,
		Kind:                 string(src.Kind),
		URL:                  src.URL,
		Config:               cfg,
		FetchIntervalSeconds: int64(src.FetchInterval / time.Second),
		IsActive:             src.IsActive,
		FetchCount:           src.FetchCount,
		SuccessCount:         src.SuccessCount,
		ErrorCount:           src.ErrorCount,
		LastFetch:            src.LastFetch,
		LastSuccess:          src.LastSuccess,
		LastError:            src.LastError,
	}
}

// ListSources はデータソース一覧を返す。
// GET /api/sources
func (h *SourceHandler) ListSources(w http.ResponseWriter, r *http.Request) {
	sources, err := h.sources.List(r.Context())
	if err != nil {
		handleServiceError(w, h.logger, "", err)
		return
	}

	resp := make([]sourceResponse, 0, len(sources))
	for _, src := range sources {
		resp = append(resp, toSourceResponse(src))
	}
	middleware.WriteJSON(w, http.StatusOK, resp)
}

// GetSource はデータソース1件と取得統計を返す。
// GET /api/sources/{id}
func (h *SourceHandler) GetSource(w http.ResponseWriter, r *http.Request) {
	sourceID := chi.URLParam(r, "id")

	src, err := h.sources.Get(r.Context(), sourceID)
	if err != nil {
		handleServiceError(w, h.logger, sourceID, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, toSourceResponse(src))
}

// Stats はデータソース全体の集計値を返す。
// GET /api/sources/stats
func (h *SourceHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.sources.Stats(r.Context())
	if err != nil {
		handleServiceError(w, h.logger, "", err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, stats)
}
