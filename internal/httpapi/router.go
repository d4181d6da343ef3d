// Package httpapi exposes insight ingestion, outcome listing and manual runs
// over HTTP.
package httpapi

import (
	"context"
	"net/http"

	"insightpipe/internal/domain"
	"insightpipe/internal/logger"

	"github.com/go-chi/chi/v5"
)

type InsightRecorder interface {
	RecordInsight(ctx context.Context, orgID string, insight domain.Insight) (domain.Insight, int64, error)
}

type OutcomeLister interface {
	ListOutcomes(ctx context.Context, orgID string, limit int) ([]domain.Outcome, error)
}

type Trigger interface {
	OnInsightRecorded(ctx context.Context, orgID string, n int64) (bool, error)
	RunNow(ctx context.Context, orgID string) (domain.Run, error)
}

type Handler struct {
	insights InsightRecorder
	outcomes OutcomeLister
	trigger  Trigger
	log      *logger.Logger
}

func NewHandler(insights InsightRecorder, outcomes OutcomeLister, trigger Trigger, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.Discard()
	}
	return &Handler{insights: insights, outcomes: outcomes, trigger: trigger, log: log}
}

func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(h.recoverMiddleware)
	r.Use(h.loggingMiddleware)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { writeMessage(w, http.StatusOK, "ok") })

	r.Route("/v1/orgs/{orgID}", func(r chi.Router) {
		r.Post("/insights", h.recordInsight)
		r.Get("/outcomes", h.listOutcomes)
		r.Post("/runs", h.startRun)
	})
	return r
}
