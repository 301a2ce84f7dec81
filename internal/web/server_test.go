package web

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dagster-alert/internal/alert"
	"dagster-alert/internal/config"
	"dagster-alert/internal/dagster"
	"dagster-alert/internal/models"
	"dagster-alert/internal/notification"
	"dagster-alert/internal/scheduler"
	"dagster-alert/internal/storage"
)

type stubRunSource struct {
	runs []dagster.Run
}

func (s *stubRunSource) FetchRecentRuns(ctx context.Context, limit int) ([]dagster.Run, error) {
	return s.runs, nil
}

type stubSink struct {
	scheduled []notification.Message
}

func (s *stubSink) Name() string                                        { return "stub" }
func (s *stubSink) RequestPermission(ctx context.Context) (bool, error) { return true, nil }
func (s *stubSink) Schedule(ctx context.Context, m notification.Message) error {
	s.scheduled = append(s.scheduled, m)
	return nil
}
func (s *stubSink) SetBadge(ctx context.Context, count int) error { return nil }

type stubTaskScheduler struct {
	tasks map[string]struct{}
}

func (s *stubTaskScheduler) IsRegistered(name string) bool {
	_, ok := s.tasks[name]
	return ok
}

func (s *stubTaskScheduler) Register(name string, opts scheduler.Options, fn func()) error {
	s.tasks[name] = struct{}{}
	return nil
}

func (s *stubTaskScheduler) Unregister(name string) error {
	delete(s.tasks, name)
	return nil
}

func (s *stubTaskScheduler) Status() scheduler.Status { return scheduler.StatusAvailable }

type serverFixture struct {
	srv    *httptest.Server
	src    *stubRunSource
	sink   *stubSink
	notifs *storage.NotificationStore
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()
	kv := storage.NewMemoryKV()
	rules := storage.NewRuleStore(kv)
	notifs := storage.NewNotificationStore(kv, 0)
	checkpoint := storage.NewCheckpointStore(kv)
	src := &stubRunSource{}
	sink := &stubSink{}
	engine := alert.NewEngine(
		rules, notifs, checkpoint,
		alert.NewRunEvaluator(src, 50),
		alert.NewDispatcher(sink, notifs),
		7,
	)
	adapter := scheduler.NewAdapter(&stubTaskScheduler{tasks: make(map[string]struct{})}, engine, 15*time.Minute)
	server := NewServer(config.WebConfig{Enabled: true}, engine, adapter)

	srv := httptest.NewServer(server.Router())
	t.Cleanup(srv.Close)
	return &serverFixture{srv: srv, src: src, sink: sink, notifs: notifs}
}

func (f *serverFixture) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, f.srv.URL+path, &buf)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestServer_Health(t *testing.T) {
	f := newServerFixture(t)
	resp := f.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[map[string]string](t, resp)
	assert.Equal(t, "ok", body["status"])
}

func TestServer_RuleCRUD(t *testing.T) {
	f := newServerFixture(t)

	// Create.
	resp := f.do(t, http.MethodPost, "/api/alerts/", models.Rule{
		Name:     "ETL failures",
		Type:     models.TypeJobFailure,
		TargetID: "etl_job",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[models.Rule](t, resp)
	assert.NotEmpty(t, created.ID)
	assert.True(t, created.Enabled)

	// List.
	resp = f.do(t, http.MethodGet, "/api/alerts/", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	listed := decode[[]models.Rule](t, resp)
	require.Len(t, listed, 1)

	// Update.
	newName := "ETL job failures"
	resp = f.do(t, http.MethodPatch, "/api/alerts/"+created.ID, map[string]any{"name": newName})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	updated := decode[models.Rule](t, resp)
	assert.Equal(t, newName, updated.Name)

	// Toggle.
	resp = f.do(t, http.MethodPost, "/api/alerts/"+created.ID+"/toggle", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	toggled := decode[models.Rule](t, resp)
	assert.False(t, toggled.Enabled)

	// Delete.
	resp = f.do(t, http.MethodDelete, "/api/alerts/"+created.ID, nil)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/api/alerts/", nil)
	listed = decode[[]models.Rule](t, resp)
	assert.Empty(t, listed)
}

func TestServer_InvalidRuleIsBadRequest(t *testing.T) {
	f := newServerFixture(t)

	resp := f.do(t, http.MethodPost, "/api/alerts/", models.Rule{
		Type:     models.TypeJobFailure,
		TargetID: "etl_job",
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_UnknownRuleIs404(t *testing.T) {
	f := newServerFixture(t)

	resp := f.do(t, http.MethodPatch, "/api/alerts/nope", map[string]any{"name": "x"})
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/api/alerts/nope/toggle", nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_TriggerAndNotifications(t *testing.T) {
	f := newServerFixture(t)

	resp := f.do(t, http.MethodPost, "/api/alerts/", models.Rule{
		Name:     "ETL failures",
		Type:     models.TypeJobFailure,
		TargetID: "etl_job",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	now := time.Now()
	f.src.runs = []dagster.Run{
		{ID: "r1", PipelineName: "etl_job", Status: dagster.StatusFailure, StartTime: &now},
	}

	resp = f.do(t, http.MethodPost, "/api/trigger", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	result := decode[models.PassResult](t, resp)
	assert.Equal(t, models.PassSuccess, result.Outcome)
	assert.Equal(t, 1, result.TriggeredCount)
	assert.Empty(t, result.Errors)

	resp = f.do(t, http.MethodGet, "/api/notifications/", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	items := decode[[]models.Notification](t, resp)
	require.Len(t, items, 1)
	assert.False(t, items[0].Read)

	resp = f.do(t, http.MethodGet, "/api/notifications/unread-count", nil)
	counts := decode[map[string]int](t, resp)
	assert.Equal(t, 1, counts["unread"])

	resp = f.do(t, http.MethodPost, "/api/notifications/"+items[0].ID+"/read", nil)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/api/notifications/unread-count", nil)
	counts = decode[map[string]int](t, resp)
	assert.Equal(t, 0, counts["unread"])

	resp = f.do(t, http.MethodDelete, "/api/notifications/", nil)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/api/notifications/", nil)
	items = decode[[]models.Notification](t, resp)
	assert.Empty(t, items)
}

func TestServer_Status(t *testing.T) {
	f := newServerFixture(t)

	resp := f.do(t, http.MethodPost, "/api/scheduler/register", nil)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/api/status", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[map[string]json.RawMessage](t, resp)

	var sched struct {
		Registered bool   `json:"registered"`
		Status     string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(body["scheduler"], &sched))
	assert.True(t, sched.Registered)
	assert.Equal(t, "available", sched.Status)

	var snap alert.Snapshot
	require.NoError(t, json.Unmarshal(body["engine"], &snap))
	assert.Equal(t, 0, snap.RuleCount)

	resp = f.do(t, http.MethodPost, "/api/scheduler/unregister", nil)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
}
