package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dunamismax/deepfry/internal/domain"
	"github.com/dunamismax/deepfry/internal/logging"
	"github.com/dunamismax/deepfry/internal/queue"
	"github.com/dunamismax/deepfry/internal/ratelimit"
	"github.com/dunamismax/deepfry/internal/store"
	"github.com/hibiken/asynq"
)

type fakeQueue struct {
	payloads []queue.FryImagePayload
}

func (q *fakeQueue) Queue() string { return "deepfry" }

func (q *fakeQueue) EnqueueFryImage(_ context.Context, payload queue.FryImagePayload) (*asynq.TaskInfo, error) {
	q.payloads = append(q.payloads, payload)
	return &asynq.TaskInfo{
		ID:            "task-1",
		Queue:         q.Queue(),
		State:         asynq.TaskStatePending,
		NextProcessAt: time.Now(),
	}, nil
}

type fakeObjects struct {
	exists bool
}

func (f fakeObjects) PresignedPutURL(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://objects.local/" + key + "?sig=1", nil
}

func (f fakeObjects) ObjectExists(context.Context, string) (bool, error) {
	return f.exists, nil
}

type denyLimiter struct{}

func (denyLimiter) Allow(context.Context, string) (ratelimit.Decision, error) {
	return ratelimit.Decision{Allowed: false, RetryAfter: 1500 * time.Millisecond}, nil
}

func newTestServer(t *testing.T, opts Options) (*Server, *fakeQueue, *store.MemoryJobStore) {
	t.Helper()
	q := &fakeQueue{}
	jobs := store.NewMemoryJobStore()
	return NewServer(logging.Discard(), q, jobs, fakeObjects{exists: true}, opts), q, jobs
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return rec, out
}

func TestCreateAndStartJob(t *testing.T) {
	src := filepath.Join(t.TempDir(), "in.png")
	if err := os.WriteFile(src, []byte("png"), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}

	srv, q, jobs := newTestServer(t, Options{})
	h := srv.Handler()

	body := `{"source_type":"local_file","object_key":"` + src + `","user_id":"u1","recipe":{"mode":"xor","red":255,"green":255,"blue":255},"format":"jpg","quality":80}`
	rec, out := do(t, h, http.MethodPost, "/v1/jobs", body)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	jobID, _ := out["job_id"].(string)
	if jobID == "" {
		t.Fatal("expected job_id in response")
	}

	rec, _ = do(t, h, http.MethodPost, "/v1/jobs/"+jobID+"/start", "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202 on start, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(q.payloads) != 1 {
		t.Fatalf("expected one enqueued payload, got %d", len(q.payloads))
	}
	p := q.payloads[0]
	if p.JobID != jobID || p.Recipe.Mode != "xor" || p.Format != "jpg" || p.Quality != 80 {
		t.Fatalf("unexpected payload %+v", p)
	}

	job, ok, err := jobs.Get(context.Background(), jobID)
	if err != nil || !ok {
		t.Fatalf("get job: ok=%v err=%v", ok, err)
	}
	if job.Status != domain.JobStatusQueued || job.UserID != "u1" {
		t.Fatalf("unexpected job %+v", job)
	}

	rec, out = do(t, h, http.MethodGet, "/v1/jobs/"+jobID, "")
	if rec.Code != http.StatusOK || out["status"] != domain.JobStatusQueued {
		t.Fatalf("unexpected get response %d %v", rec.Code, out)
	}

	rec, _ = do(t, h, http.MethodPost, "/v1/jobs/"+jobID+"/start", "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 on second start, got %d", rec.Code)
	}
}

func TestCreateJobRejectsBadRecipes(t *testing.T) {
	srv, _, _ := newTestServer(t, Options{})
	h := srv.Handler()

	cases := map[string]string{
		"unknown mode":  `{"source_type":"s3_presigned","recipe":{"mode":"blur"}}`,
		"conflict":      `{"source_type":"s3_presigned","recipe":{"mode":"not","preset":{"algorithms":[{"algorithm":"BitChange","change_mode":"not"}]}}}`,
		"neither":       `{"source_type":"s3_presigned","recipe":{}}`,
		"empty preset":  `{"source_type":"s3_presigned","recipe":{"preset":{"algorithms":[]}}}`,
		"bad algorithm": `{"source_type":"s3_presigned","recipe":{"preset":{"algorithms":[{"algorithm":"Blur"}]}}}`,
		"negative":      `{"source_type":"s3_presigned","recipe":{"mode":"or","red":-1}}`,
		"bad format":    `{"source_type":"s3_presigned","recipe":{"mode":"not"},"format":"gif"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rec, out := do(t, h, http.MethodPost, "/v1/jobs", body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
			}
			if out["error"] == "" {
				t.Fatal("expected error message")
			}
		})
	}
}

func TestCreatePresignedJob(t *testing.T) {
	srv, _, _ := newTestServer(t, Options{})
	rec, out := do(t, srv.Handler(), http.MethodPost, "/v1/jobs", `{"source_type":"s3_presigned","recipe":{"mode":"not"}}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	upload, _ := out["upload"].(map[string]any)
	key, _ := upload["object_key"].(string)
	if !strings.HasPrefix(key, "uploads/") || !strings.HasSuffix(key, "/source") {
		t.Fatalf("unexpected object key %q", key)
	}
	if upload["presigned_url_state"] != "ready" {
		t.Fatalf("expected ready upload state, got %v", upload["presigned_url_state"])
	}
}

func TestGetUnknownJob(t *testing.T) {
	srv, _, _ := newTestServer(t, Options{})
	rec, _ := do(t, srv.Handler(), http.MethodGet, "/v1/jobs/missing", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestRateLimitRejectsPosts(t *testing.T) {
	srv, _, _ := newTestServer(t, Options{RateLimiter: denyLimiter{}})
	h := srv.Handler()

	rec, _ := do(t, h, http.MethodPost, "/v1/jobs", `{"source_type":"s3_presigned","recipe":{"mode":"not"}}`)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "2" {
		t.Fatalf("expected Retry-After 2, got %q", got)
	}

	rec, _ = do(t, h, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected healthz to bypass the limiter, got %d", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t, Options{})
	h := srv.Handler()
	do(t, h, http.MethodGet, "/healthz", "")

	rec, _ := do(t, h, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "deepfry_api_requests_total") {
		t.Fatal("expected request counter in metrics output")
	}
}

func TestRouteLabel(t *testing.T) {
	cases := map[string]string{
		"/v1/jobs":           "/v1/jobs",
		"/v1/jobs/abc":       "/v1/jobs/{id}",
		"/v1/jobs/abc/start": "/v1/jobs/{id}/start",
		"/healthz":           "/healthz",
		"/favicon.ico":       "other",
	}
	for path, want := range cases {
		if got := routeLabel(path); got != want {
			t.Fatalf("routeLabel(%q) = %q, want %q", path, got, want)
		}
	}
}
