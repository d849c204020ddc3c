package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/me/stepsched/internal/store"
	"github.com/me/stepsched/pkg/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testServer(t *testing.T) (*Server, *store.SQLiteStore) {
	t.Helper()
	st, err := store.NewSQLiteStore(":memory:", testLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return New(st, testLogger()), st
}

// envelope is used to decode the standard response envelope.
type envelope struct {
	Status     string            `json:"status"`
	RequestID  string            `json:"request_id"`
	Timestamp  string            `json:"timestamp"`
	Data       json.RawMessage   `json:"data"`
	Pagination *model.Pagination `json:"pagination"`
	Error      *model.APIError   `json:"error"`
}

func doGet(t *testing.T, srv *Server, path string, wantStatus int) envelope {
	t.Helper()
	req := httptest.NewRequest("GET", path, nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if w.Code != wantStatus {
		t.Fatalf("GET %s: status=%d, want %d, body=%s", path, w.Code, wantStatus, w.Body.String())
	}
	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("GET %s: invalid JSON: %v", path, err)
	}
	return env
}

func seedRuns(t *testing.T, st store.Store, n int) {
	t.Helper()
	ctx := context.Background()
	base := time.Now().UTC()
	for i := 0; i < n; i++ {
		run := &model.Run{
			ID:        fmt.Sprintf("run_%02d", i),
			Workers:   2,
			Particles: 100,
			ChunkSize: 25,
			Steps:     2,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}
		if err := st.CreateRun(ctx, run); err != nil {
			t.Fatal(err)
		}
	}
}

func TestHealth(t *testing.T) {
	srv, _ := testServer(t)
	env := doGet(t, srv, "/api/v1/health", http.StatusOK)
	if env.Status != "ok" {
		t.Errorf("status = %q, want ok", env.Status)
	}
	if env.RequestID == "" {
		t.Error("request_id is empty")
	}

	var data healthResponse
	json.Unmarshal(env.Data, &data)
	if data.Status != "healthy" || data.Version != Version || data.Store != "ok" {
		t.Errorf("health = %+v", data)
	}
}

func TestRequestID_Passthrough(t *testing.T) {
	srv, _ := testServer(t)
	req := httptest.NewRequest("GET", "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "req_client")
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-ID"); got != "req_client" {
		t.Errorf("X-Request-ID = %q, want req_client", got)
	}
}

func TestListRuns_Pagination(t *testing.T) {
	srv, st := testServer(t)
	seedRuns(t, st, 5)

	env := doGet(t, srv, "/api/v1/runs?limit=2&offset=1", http.StatusOK)
	var runs []model.Run
	if err := json.Unmarshal(env.Data, &runs); err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 {
		t.Fatalf("len = %d, want 2", len(runs))
	}
	if runs[0].ID != "run_03" {
		t.Errorf("runs[0] = %s, want run_03", runs[0].ID)
	}
	pg := env.Pagination
	if pg == nil || pg.Total != 5 || pg.Limit != 2 || pg.Offset != 1 || !pg.HasMore {
		t.Errorf("pagination = %+v", pg)
	}
}

func TestListRuns_Empty(t *testing.T) {
	srv, _ := testServer(t)
	env := doGet(t, srv, "/api/v1/runs", http.StatusOK)
	if string(env.Data) != "[]" {
		t.Errorf("data = %s, want []", env.Data)
	}
}

func TestListRuns_BadQuery(t *testing.T) {
	srv, _ := testServer(t)
	for _, path := range []string{
		"/api/v1/runs?limit=abc",
		"/api/v1/runs?offset=1.5",
		"/api/v1/runs?state=PAUSED",
	} {
		env := doGet(t, srv, path, http.StatusBadRequest)
		if env.Error == nil || env.Error.Code != model.ErrValidation {
			t.Errorf("%s: error = %+v, want VALIDATION_ERROR", path, env.Error)
		}
	}
}

func TestGetRun(t *testing.T) {
	srv, st := testServer(t)
	seedRuns(t, st, 1)

	env := doGet(t, srv, "/api/v1/runs/run_00", http.StatusOK)
	var run model.Run
	json.Unmarshal(env.Data, &run)
	if run.ID != "run_00" || run.State != model.RunStateRunning {
		t.Errorf("run = %+v", run)
	}

	env = doGet(t, srv, "/api/v1/runs/run_missing", http.StatusNotFound)
	if env.Status != "error" || env.Error == nil || env.Error.Code != model.ErrNotFound {
		t.Errorf("missing run envelope = %+v", env)
	}
}

func TestListSteps(t *testing.T) {
	srv, st := testServer(t)
	seedRuns(t, st, 1)
	for i := 1; i <= 2; i++ {
		err := st.RecordStep(context.Background(), &model.StepRecord{
			RunID: "run_00", Step: i, Particles: 100, Chunks: 4, Status: "success", StartedAt: time.Now(),
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	env := doGet(t, srv, "/api/v1/runs/run_00/steps", http.StatusOK)
	var steps []model.StepRecord
	json.Unmarshal(env.Data, &steps)
	if len(steps) != 2 || steps[0].Step != 1 || steps[1].Chunks != 4 {
		t.Errorf("steps = %+v", steps)
	}

	doGet(t, srv, "/api/v1/runs/run_missing/steps", http.StatusNotFound)
}

func TestUnknownRoute(t *testing.T) {
	srv, _ := testServer(t)
	env := doGet(t, srv, "/api/v1/nope", http.StatusNotFound)
	if env.Error == nil || env.Error.Code != model.ErrNotFound {
		t.Errorf("error = %+v", env.Error)
	}
}

func TestStoreFailure_InternalError(t *testing.T) {
	srv, st := testServer(t)
	st.Close()

	for _, path := range []string{"/api/v1/runs", "/api/v1/runs/run_00", "/api/v1/runs/run_00/steps"} {
		env := doGet(t, srv, path, http.StatusInternalServerError)
		if env.Status != "error" || env.Error == nil || env.Error.Code != model.ErrInternal {
			t.Errorf("%s: envelope = %+v, want INTERNAL_ERROR", path, env)
		}
	}
}
