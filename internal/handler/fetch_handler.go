package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/feedharvest/internal/middleware"
	"github.com/hitoshi/feedharvest/internal/model"
)

// maxFetchRequestBytes は任意URL取得リクエストのボディ上限。
const maxFetchRequestBytes = 64 << 10

// Trigger は指定ソースの手動取得をキューに投入する。
type Trigger interface {
	Trigger(ctx context.Context, sourceID string) error
}

// URLRunner は任意URLをエージェント取得して保存する。
type URLRunner interface {
	RunURL(ctx context.Context, rawURL, query string) model.JobResult
}

// URLValidator は取得対象として許可されたURLかを検証する。
type URLValidator interface {
	ValidateURL(rawURL string) error
}

// FetchHandler は手動取得のHTTPハンドラー。
type FetchHandler struct {
	trigger   Trigger
	runner    URLRunner
	validator URLValidator
	logger    *slog.Logger
}

// NewFetchHandler はFetchHandlerを生成する。
func NewFetchHandler(trigger Trigger, runner URLRunner, validator URLValidator, logger *slog.Logger) *FetchHandler {
	return &FetchHandler{
		trigger:   trigger,
		runner:    runner,
		validator: validator,
		logger:    logger,
	}
}

// fetchURLRequest は任意URL取得リクエストのボディ。
type fetchURLRequest struct {
	URL   string `json:"url"`
	Query string `json:"query"`
}

// triggerResponse は手動取得受付のレスポンス。
type triggerResponse struct {
	SourceID string `json:"source_id"`
	Status   string `json:"status"`
}

// TriggerSource はデータソースの手動取得を受け付ける。
// 取得自体はワーカーが非同期に行う。
// POST /api/sources/{id}/fetch
func (h *FetchHandler) TriggerSource(w http.ResponseWriter, r *http.Request) {
	sourceID := chi.URLParam(r, "id")

	if err := h.trigger.Trigger(r.Context(), sourceID); err != nil {
		handleServiceError(w, h.logger, sourceID, err)
		return
	}

	middleware.WriteJSON(w, http.StatusAccepted, triggerResponse{
		SourceID: sourceID,
		Status:   "queued",
	})
}

// FetchURL は任意URLを同期的にエージェント取得し、実行結果を返す。
// POST /api/fetch
func (h *FetchHandler) FetchURL(w http.ResponseWriter, r *http.Request) {
	var req fetchURLRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxFetchRequestBytes)).Decode(&req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidBodyError())
		return
	}

	req.URL = strings.TrimSpace(req.URL)
	if req.URL == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidURLError("URLが空です"))
		return
	}
	if err := h.validator.ValidateURL(req.URL); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidURLError(err.Error()))
		return
	}

	result := h.runner.RunURL(r.Context(), req.URL, strings.TrimSpace(req.Query))
	if result.Status != model.JobStatusSuccess {
		middleware.WriteErrorResponse(w, http.StatusBadGateway, model.NewFetchFailedError(result.ErrorMessage()))
		return
	}

	middleware.WriteJSON(w, http.StatusOK, result)
}
