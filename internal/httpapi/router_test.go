package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"insightpipe/internal/domain"
	"insightpipe/internal/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	recorded []domain.Insight
	total    int64
	err      error
	outcomes []domain.Outcome
	limit    int
}

func (f *fakeStore) RecordInsight(ctx context.Context, orgID string, in domain.Insight) (domain.Insight, int64, error) {
	if f.err != nil {
		return domain.Insight{}, 0, f.err
	}
	in.OrgID = orgID
	if in.ID == "" {
		in.ID = "generated-id"
	}
	f.recorded = append(f.recorded, in)
	f.total++
	return in, f.total, nil
}

func (f *fakeStore) ListOutcomes(ctx context.Context, orgID string, limit int) ([]domain.Outcome, error) {
	f.limit = limit
	return f.outcomes, f.err
}

type fakeTrigger struct {
	counts  []int64
	fireErr error
	run     domain.Run
	runErr  error
}

func (f *fakeTrigger) OnInsightRecorded(ctx context.Context, orgID string, n int64) (bool, error) {
	f.counts = append(f.counts, n)
	if f.fireErr != nil {
		return false, f.fireErr
	}
	return n%5 == 0, nil
}

func (f *fakeTrigger) RunNow(ctx context.Context, orgID string) (domain.Run, error) {
	return f.run, f.runErr
}

func newServer(store *fakeStore, trig *fakeTrigger) http.Handler {
	return NewRouter(NewHandler(store, store, trig, logger.Discard()))
}

type envelopeOf[T any] struct {
	Status string     `json:"status"`
	Data   T          `json:"data"`
	Error  *errorBody `json:"error"`
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) envelopeOf[T] {
	t.Helper()
	var env envelopeOf[T]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return env
}

func postInsight(h http.Handler, org, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/orgs/"+org+"/insights", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	h := newServer(&fakeStore{}, &fakeTrigger{})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestRequestIDIsEchoed(t *testing.T) {
	h := newServer(&fakeStore{}, &fakeTrigger{})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-Id", "req-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "req-123", rec.Header().Get("X-Request-Id"))
}

func TestRecordInsightAccepted(t *testing.T) {
	store := &fakeStore{}
	trig := &fakeTrigger{}
	h := newServer(store, trig)

	rec := postInsight(h, "acme", `{"description":"Checkout fails on iOS","sentiment":"Very Dissatisfied","keywords":["mobile","checkout"]}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	env := decode[insightResponse](t, rec)
	assert.Equal(t, "success", env.Status)
	assert.Equal(t, "generated-id", env.Data.InsightID)
	assert.EqualValues(t, 1, env.Data.Total)
	assert.False(t, env.Data.Triggered)

	require.Len(t, store.recorded, 1)
	assert.Equal(t, "acme", store.recorded[0].OrgID)
	assert.Equal(t, domain.VeryDissatisfied, store.recorded[0].Sentiment)
	assert.Equal(t, []string{"mobile", "checkout"}, store.recorded[0].Keywords)
	assert.Equal(t, []int64{1}, trig.counts)
}

func TestRecordInsightTriggersOnFifth(t *testing.T) {
	store := &fakeStore{total: 4}
	h := newServer(store, &fakeTrigger{})

	created := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC).Format(time.RFC3339)
	rec := postInsight(h, "acme", `{"id":"ext-5","description":"Payment page hangs","sentiment":"dissatisfied","keywords":["payment"],"created_at":"`+created+`"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	env := decode[insightResponse](t, rec)
	assert.Equal(t, "ext-5", env.Data.InsightID)
	assert.EqualValues(t, 5, env.Data.Total)
	assert.True(t, env.Data.Triggered)
	assert.Equal(t, "2026-06-01T08:00:00Z", store.recorded[0].CreatedAt.Format(time.RFC3339))
}

func TestRecordInsightReportsDroppedTrigger(t *testing.T) {
	store := &fakeStore{total: 4}
	h := newServer(store, &fakeTrigger{fireErr: domain.ErrConcurrentRunConflict})

	rec := postInsight(h, "acme", `{"description":"d","sentiment":"neutral","keywords":["x"]}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	env := decode[insightResponse](t, rec)
	assert.False(t, env.Data.Triggered)
	assert.True(t, env.Data.Dropped)
}

func TestRecordInsightValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `nope`},
		{"missing description", `{"sentiment":"neutral","keywords":["x"]}`},
		{"missing sentiment", `{"description":"d","keywords":["x"]}`},
		{"unknown sentiment", `{"description":"d","sentiment":"furious","keywords":["x"]}`},
		{"numeric sentiment", `{"description":"d","sentiment":2,"keywords":["x"]}`},
		{"missing keywords", `{"description":"d","sentiment":"neutral"}`},
		{"unknown field", `{"description":"d","sentiment":"neutral","keywords":[],"score":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &fakeStore{}
			trig := &fakeTrigger{}
			rec := postInsight(newServer(store, trig), "acme", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			env := decode[json.RawMessage](t, rec)
			require.NotNil(t, env.Error)
			assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)
			assert.Empty(t, store.recorded)
			assert.Empty(t, trig.counts)
		})
	}
}

func TestRecordInsightEmptyKeywordsAccepted(t *testing.T) {
	store := &fakeStore{}
	rec := postInsight(newServer(store, &fakeTrigger{}), "acme", `{"description":"d","sentiment":"neutral","keywords":[]}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestRecordInsightStoreFailure(t *testing.T) {
	trig := &fakeTrigger{}
	rec := postInsight(newServer(&fakeStore{err: errors.New("disk full")}, trig), "acme", `{"description":"d","sentiment":"neutral","keywords":["x"]}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Empty(t, trig.counts)
}

func TestListOutcomes(t *testing.T) {
	store := &fakeStore{outcomes: []domain.Outcome{{
		ID:           7,
		RunID:        "run-1",
		ClusterLabel: "mobile, checkout",
		ClusterSize:  6,
		Decision:     domain.TicketDecision{Reason: "Recent duplicate: ..."},
		Failure:      domain.FailureNone,
	}}}
	h := newServer(store, &fakeTrigger{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/orgs/acme/outcomes?limit=1000", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, maxOutcomeLimit, store.limit)

	env := decode[[]outcomeResponse](t, rec)
	require.Len(t, env.Data, 1)
	assert.Equal(t, "mobile, checkout", env.Data[0].ClusterLabel)
	assert.Empty(t, env.Data[0].Failure)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/orgs/acme/outcomes", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, defaultOutcomeLimit, store.limit)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/orgs/acme/outcomes?limit=-1", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStartRun(t *testing.T) {
	trig := &fakeTrigger{run: domain.Run{ID: "run-9", Status: domain.RunCompleted, Significant: 1, TicketsCreated: 1}}
	h := newServer(&fakeStore{}, trig)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/orgs/acme/runs", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	env := decode[runResponse](t, rec)
	assert.Equal(t, "run-9", env.Data.RunID)
	assert.Equal(t, domain.RunCompleted, env.Data.Status)
	assert.Equal(t, 1, env.Data.TicketsCreated)
}

func TestStartRunConflict(t *testing.T) {
	h := newServer(&fakeStore{}, &fakeTrigger{runErr: domain.ErrConcurrentRunConflict})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/orgs/acme/runs", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestStartRunFailed(t *testing.T) {
	h := newServer(&fakeStore{}, &fakeTrigger{
		run:    domain.Run{ID: "run-10", Status: domain.RunFailed},
		runErr: errors.New("listing insights: db gone"),
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/orgs/acme/runs", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	env := decode[runResponse](t, rec)
	assert.Equal(t, domain.RunFailed, env.Data.Status)
}
