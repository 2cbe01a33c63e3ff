package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/feedharvest/internal/middleware"
	"github.com/hitoshi/feedharvest/internal/model"
)

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
// 想定外のエラーは詳細をログにのみ残し、500を返す。
func handleServiceError(w http.ResponseWriter, logger *slog.Logger, sourceID string, err error) {
	switch {
	case errors.Is(err, model.ErrSourceNotFound):
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewSourceNotFoundError(sourceID))
	case errors.Is(err, model.ErrSourceInactive):
		middleware.WriteErrorResponse(w, http.StatusConflict, model.NewSourceInactiveError(sourceID))
	case errors.Is(err, model.ErrJobAlreadyQueued):
		middleware.WriteErrorResponse(w, http.StatusConflict, model.NewAlreadyQueuedError(sourceID))
	case errors.Is(err, model.ErrQueueFull):
		middleware.WriteErrorResponse(w, http.StatusServiceUnavailable, model.NewQueueFullError())
	default:
		logger.Error("internal server error",
			slog.String("source_id", sourceID),
			slog.String("error", err.Error()),
		)
		middleware.WriteInternalServerError(w)
	}
}
