package handlers

import (
	"net/http"

	"github.com/tconn93/TRFBWebhook/internal/pkg/metrics"
)

type MetricsHandler struct {
	exporter http.Handler
}

func NewMetricsHandler(m *metrics.Metrics) *MetricsHandler {
	return &MetricsHandler{exporter: m.Handler()}
}

func (h *MetricsHandler) Export(w http.ResponseWriter, r *http.Request) {
	h.exporter.ServeHTTP(w, r)
}
