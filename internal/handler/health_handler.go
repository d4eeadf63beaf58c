package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// healthCheckTimeout はDB疎通確認の上限時間。
const healthCheckTimeout = 5 * time.Second

// DatabaseCheck はDBの疎通を確認し、応答時間を返す関数。
type DatabaseCheck func(ctx context.Context) (time.Duration, error)

// HealthHandler はヘルスチェックのHTTPハンドラー。
type HealthHandler struct {
	checkDB DatabaseCheck
	now     func() time.Time
}

// NewHealthHandler はHealthHandlerを生成する。
func NewHealthHandler(checkDB DatabaseCheck) *HealthHandler {
	return &HealthHandler{checkDB: checkDB, now: time.Now}
}

type healthResponse struct {
	Status           string  `json:"status"`
	Database         string  `json:"database"`
	Timestamp        float64 `json:"timestamp"`
	DBResponseTimeMs float64 `json:"db_response_time_ms"`
}

type healthErrorResponse struct {
	Status       string  `json:"status"`
	Database     string  `json:"database"`
	Timestamp    float64 `json:"timestamp"`
	ErrorMessage string  `json:"error_message"`
}

// Live はプロセスの生存確認に応答する。DBには問い合わせない。
// GET /health
func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Healthz はDBへSELECT 1を発行し、接続状態と応答時間を返す。
// GET /api/v1/healthz
func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	elapsed, err := h.checkDB(ctx)
	timestamp := float64(h.now().UnixNano()) / float64(time.Second)

	if err != nil {
		slog.Error("health check failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusServiceUnavailable, healthErrorResponse{
			Status:       "error",
			Database:     "disconnected",
			Timestamp:    timestamp,
			ErrorMessage: err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, healthResponse{
		Status:           "ok",
		Database:         "connected",
		Timestamp:        timestamp,
		DBResponseTimeMs: float64(elapsed.Microseconds()) / 1000.0,
	})
}
