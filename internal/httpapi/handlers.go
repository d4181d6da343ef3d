package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"insightpipe/internal/domain"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
)

const (
	defaultOutcomeLimit = 50
	maxOutcomeLimit     = 500
	maxBodyBytes        = 1 << 20
)

type insightRequest struct {
	ID          string            `json:"id"`
	Description string            `json:"description"`
	Sentiment   *domain.Sentiment `json:"sentiment"`
	Keywords    []string          `json:"keywords"`
	CreatedAt   *time.Time        `json:"created_at"`
}

type insightResponse struct {
	InsightID string `json:"insight_id"`
	Total     int64  `json:"total"`
	Triggered bool   `json:"triggered"`
	// Dropped is set when the count hit a batch boundary while a run was
	// already in flight for the org.
	Dropped bool `json:"dropped,omitempty"`
}

type outcomeResponse struct {
	ID                 int64                  `json:"id"`
	RunID              string                 `json:"run_id"`
	ClusterLabel       string                 `json:"cluster_label"`
	ClusterSize        int                    `json:"cluster_size"`
	NegativePercentage int                    `json:"negative_percentage"`
	Recommendation     *domain.Recommendation `json:"recommendation,omitempty"`
	Decision           domain.TicketDecision  `json:"decision"`
	Failure            string                 `json:"failure,omitempty"`
	TicketID           string                 `json:"ticket_id,omitempty"`
	CreatedAt          time.Time              `json:"created_at"`
}

type runResponse struct {
	RunID          string           `json:"run_id"`
	Status         domain.RunStatus `json:"status"`
	Clusters       int              `json:"clusters"`
	Significant    int              `json:"significant"`
	Excluded       int              `json:"excluded"`
	TicketsCreated int              `json:"tickets_created"`
}

func (h *Handler) recordInsight(w http.ResponseWriter, r *http.Request) {
	orgID := strings.TrimSpace(chi.URLParam(r, "orgID"))
	log := h.log.WithRequest(r).WithField("org_id", orgID)

	var req insightRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", fmt.Sprintf("invalid body: %v", err))
		return
	}
	if err := validateInsight(req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}

	insight := domain.Insight{
		ID:          req.ID,
		Description: strings.TrimSpace(req.Description),
		Sentiment:   *req.Sentiment,
		Keywords:    req.Keywords,
	}
	if req.CreatedAt != nil {
		insight.CreatedAt = *req.CreatedAt
	}

	stored, total, err := h.insights.RecordInsight(r.Context(), orgID, insight)
	if err != nil {
		log.WithError(err).Error("recording insight failed")
		writeError(w, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "insight store unavailable")
		return
	}

	resp := insightResponse{InsightID: stored.ID, Total: total}
	fired, err := h.trigger.OnInsightRecorded(r.Context(), orgID, total)
	switch {
	case errors.Is(err, domain.ErrConcurrentRunConflict):
		resp.Dropped = true
	case err != nil:
		log.WithError(err).Warn("trigger evaluation failed")
	}
	resp.Triggered = fired

	log.WithFields(logrus.Fields{"insight_id": stored.ID, "total": total, "triggered": fired}).Debug("insight recorded")
	writeSuccess(w, http.StatusAccepted, resp)
}

func validateInsight(req insightRequest) error {
	if strings.TrimSpace(req.Description) == "" {
		return errors.New("description is required")
	}
	if req.Sentiment == nil {
		return errors.New("sentiment is required")
	}
	if req.Keywords == nil {
		return errors.New("keywords is required")
	}
	return nil
}

func (h *Handler) listOutcomes(w http.ResponseWriter, r *http.Request) {
	orgID := strings.TrimSpace(chi.URLParam(r, "orgID"))

	limit := defaultOutcomeLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "limit must be a positive integer")
			return
		}
		limit = min(n, maxOutcomeLimit)
	}

	outcomes, err := h.outcomes.ListOutcomes(r.Context(), orgID, limit)
	if err != nil {
		h.log.WithRequest(r).WithError(err).Error("listing outcomes failed")
		writeError(w, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "outcome store unavailable")
		return
	}

	resp := make([]outcomeResponse, 0, len(outcomes))
	for _, o := range outcomes {
		resp = append(resp, outcomeResponse{
			ID:                 o.ID,
			RunID:              o.RunID,
			ClusterLabel:       o.ClusterLabel,
			ClusterSize:        o.ClusterSize,
			NegativePercentage: o.NegativePercentage,
			Recommendation:     o.Recommendation,
			Decision:           o.Decision,
			Failure:            string(o.Failure),
			TicketID:           o.TicketID,
			CreatedAt:          o.CreatedAt,
		})
	}
	writeSuccess(w, http.StatusOK, resp)
}

func (h *Handler) startRun(w http.ResponseWriter, r *http.Request) {
	orgID := strings.TrimSpace(chi.URLParam(r, "orgID"))

	run, err := h.trigger.RunNow(r.Context(), orgID)
	if errors.Is(err, domain.ErrConcurrentRunConflict) {
		writeError(w, http.StatusConflict, "CONFLICT", "a run is already in progress for this organization")
		return
	}
	if err != nil && run.ID == "" {
		h.log.WithRequest(r).WithError(err).Error("manual run failed to start")
		writeError(w, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "run could not be started")
		return
	}

	status := http.StatusOK
	if err != nil {
		h.log.WithRequest(r).WithError(err).WithField("run_id", run.ID).Error("manual run failed")
		status = http.StatusInternalServerError
	}
	writeSuccess(w, status, runResponse{
		RunID:          run.ID,
		Status:         run.Status,
		Clusters:       run.Clusters,
		Significant:    run.Significant,
		Excluded:       run.Excluded,
		TicketsCreated: run.TicketsCreated,
	})
}
