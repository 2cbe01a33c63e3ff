package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/feedharvest/internal/middleware"
)

// Pinger はデータベースの疎通確認を行う。*sql.DBが満たす。
type Pinger interface {
	PingContext(ctx context.Context) error
}

// QueueDepth は取得キューの待機数を返す。
type QueueDepth interface {
	Len() int
}

type healthResponse struct {
	Status     string `json:"status"`
	Database   string `json:"database"`
	QueueDepth int    `json:"queue_depth"`
}

// HealthHandler はヘルスチェックを返す。DBに接続できない場合は503を返す。
// GET /health
func HealthHandler(db Pinger, queue QueueDepth, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{Status: "ok", Database: "ok"}
		if queue != nil {
			resp.QueueDepth = queue.Len()
		}

		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			logger.Error("ヘルスチェックでDB疎通に失敗しました", slog.String("error", err.Error()))
			resp.Status = "unavailable"
			resp.Database = "unreachable"
			middleware.WriteJSON(w, http.StatusServiceUnavailable, resp)
			return
		}

		middleware.WriteJSON(w, http.StatusOK, resp)
	}
}
