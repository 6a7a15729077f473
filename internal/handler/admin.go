package handler

import (
	"net/http"

	"github.com/stms/internal/service"
)

type AdminHandler struct {
	metrics *service.MetricsReporter
	sweep   func() int
}

func NewAdminHandler(metrics *service.MetricsReporter, sweep func() int) *AdminHandler {
	return &AdminHandler{metrics: metrics, sweep: sweep}
}

// StoreStats отдаёт снимок метрик KV-хранилища (только внутренняя сеть).
func (h *AdminHandler) StoreStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.metrics.Report(r.Context()))
}

// SweepSessions запускает внеплановую очистку истёкших сессий.
func (h *AdminHandler) SweepSessions(w http.ResponseWriter, r *http.Request) {
	cleared := 0
	if h.sweep != nil {
		cleared = h.sweep()
	}
	writeJSON(w, http.StatusOK, map[string]int{"cleared": cleared})
}
