package github

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"rombuilder/internal/job"
	"rombuilder/pkg/circuitbreaker"
)

const (
	runsPath     = "/repos/octo/roms/actions/workflows/rom-converter.yml/runs"
	dispatchPath = "/repos/octo/roms/actions/workflows/rom-converter.yml/dispatches"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestRunner(t *testing.T, handler http.Handler) *Runner {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	r, err := NewRunner(Config{
		Token:     "ghp_test",
		Owner:     "octo",
		Repo:      "roms",
		APIURL:    server.URL,
		RateLimit: 1000,
		RateBurst: 100,
	})
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	r.now = func() time.Time { return testNow }
	r.sleep = func(context.Context, time.Duration) error { return nil }
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func startRequest() job.StartRequest {
	return job.StartRequest{
		JobID:   "alice_1772366400_abcd1234",
		Channel: "telegram:1234",
		Parameters: job.Parameters{
			Source:    "https://x/rom.zip",
			Variant:   job.VariantHybrid,
			Requester: "alice",
		},
	}
}

func TestStart_MatchesRunTitle(t *testing.T) {
	t.Parallel()
	var dispatched atomic.Bool
	r := newTestRunner(t, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if got := req.Header.Get("Authorization"); got != "token ghp_test" {
			t.Errorf("unexpected Authorization %q", got)
		}
		if got := req.Header.Get("Accept"); got != "application/vnd.github.v3+json" {
			t.Errorf("unexpected Accept %q", got)
		}

		switch {
		case req.Method == http.MethodPost && req.URL.Path == dispatchPath:
			var body struct {
				Ref    string            `json:"ref"`
				Inputs map[string]string `json:"inputs"`
			}
			_ = json.NewDecoder(req.Body).Decode(&body)
			if body.Ref != "main" {
				t.Errorf("expected ref main, got %q", body.Ref)
			}
			want := map[string]string{
				"rom_url":  "https://x/rom.zip",
				"rom_type": "hybrid",
				"user_id":  "alice",
				"chat_id":  "telegram:1234",
				"job_id":   "alice_1772366400_abcd1234",
			}
			for k, v := range want {
				if body.Inputs[k] != v {
					t.Errorf("input %s = %q, want %q", k, body.Inputs[k], v)
				}
			}
			dispatched.Store(true)
			w.WriteHeader(http.StatusNoContent)

		case req.Method == http.MethodGet && req.URL.Path == runsPath:
			if req.URL.Query().Get("event") != "workflow_dispatch" {
				t.Errorf("expected event filter, got %q", req.URL.RawQuery)
			}
			writeJSON(w, http.StatusOK, map[string]any{"workflow_runs": []map[string]any{
				{"id": 43, "display_title": "Convert bob_1772366400_ffff0000", "created_at": testNow},
				{"id": 42, "display_title": "Convert alice_1772366400_abcd1234", "created_at": testNow.Add(-time.Second)},
			}})

		default:
			t.Errorf("unexpected request %s %s", req.Method, req.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))

	runID, err := r.Start(context.Background(), startRequest())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if runID != "42" {
		t.Errorf("expected run 42, got %s", runID)
	}
	if !dispatched.Load() {
		t.Error("workflow was not dispatched")
	}
}

func TestStart_FallsBackToNewestRun(t *testing.T) {
	t.Parallel()
	var lists atomic.Int32
	r := newTestRunner(t, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		switch req.URL.Path {
		case dispatchPath:
			w.WriteHeader(http.StatusNoContent)
		case runsPath:
			lists.Add(1)
			writeJSON(w, http.StatusOK, map[string]any{"workflow_runs": []map[string]any{
				{"id": 7, "display_title": "ROM Converter", "created_at": testNow.Add(-time.Hour)},
				{"id": 9, "display_title": "ROM Converter", "created_at": testNow.Add(2 * time.Second)},
				{"id": 8, "display_title": "ROM Converter", "created_at": testNow.Add(time.Second)},
			}})
		}
	}))

	runID, err := r.Start(context.Background(), startRequest())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if runID != "9" {
		t.Errorf("expected newest run 9, got %s", runID)
	}
	if n := lists.Load(); n != 3 {
		t.Errorf("expected 3 lookups before falling back, got %d", n)
	}
}

func TestStart_RunNotFound(t *testing.T) {
	t.Parallel()
	r := newTestRunner(t, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		switch req.URL.Path {
		case dispatchPath:
			w.WriteHeader(http.StatusNoContent)
		case runsPath:
			writeJSON(w, http.StatusOK, map[string]any{"workflow_runs": []map[string]any{
				{"id": 7, "display_title": "ROM Converter", "created_at": testNow.Add(-time.Hour)},
			}})
		}
	}))

	if _, err := r.Start(context.Background(), startRequest()); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("expected ErrRunNotFound, got %v", err)
	}
}

func TestStart_DispatchRejected(t *testing.T) {
	t.Parallel()
	r := newTestRunner(t, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"message": "Unexpected inputs provided: [\"job_id\"]",
		})
	}))

	_, err := r.Start(context.Background(), startRequest())
	if !IsStatus(err, http.StatusUnprocessableEntity) {
		t.Fatalf("expected a 422 APIError, got %v", err)
	}
	if !strings.Contains(err.Error(), "Unexpected inputs") {
		t.Errorf("error should carry GitHub's message: %v", err)
	}
}

func TestPoll(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		status     string
		conclusion any
		want       job.RunStatus
	}{
		{"queued", "queued", nil, job.RunStatus{State: job.RunPending}},
		{"in progress", "in_progress", nil, job.RunStatus{State: job.RunPending}},
		{"waiting", "waiting", nil, job.RunStatus{State: job.RunPending}},
		{"success", "completed", "success", job.RunStatus{State: job.RunSucceeded, Conclusion: "success"}},
		{"failure", "completed", "failure", job.RunStatus{State: job.RunFailed, Conclusion: "failure"}},
		{"cancelled", "completed", "cancelled", job.RunStatus{State: job.RunFailed, Conclusion: "cancelled"}},
		{"no conclusion", "completed", nil, job.RunStatus{State: job.RunFailed, Conclusion: "unknown"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := newTestRunner(t, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
				if req.URL.Path != "/repos/octo/roms/actions/runs/42" {
					t.Errorf("unexpected path %s", req.URL.Path)
				}
				writeJSON(w, http.StatusOK, map[string]any{
					"id":         42,
					"status":     tt.status,
					"conclusion": tt.conclusion,
				})
			}))

			got, err := r.Poll(context.Background(), "42")
			if err != nil {
				t.Fatalf("Poll: %v", err)
			}
			if got != tt.want {
				t.Errorf("Poll() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestPoll_InvalidRunID(t *testing.T) {
	t.Parallel()
	var hits atomic.Int32
	r := newTestRunner(t, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		hits.Add(1)
	}))

	if _, err := r.Poll(context.Background(), "../../secrets"); err == nil {
		t.Error("expected an error for a non-numeric run ID")
	}
	if hits.Load() != 0 {
		t.Error("invalid run IDs must not reach the API")
	}
}

func TestPoll_BreakerOpensOnServerErrors(t *testing.T) {
	t.Parallel()
	var hits atomic.Int32
	r := newTestRunner(t, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	ctx := context.Background()

	threshold := circuitbreaker.DefaultConfig().Threshold
	for i := 0; i < threshold; i++ {
		if _, err := r.Poll(ctx, "42"); !IsStatus(err, http.StatusBadGateway) {
			t.Fatalf("poll %d: expected 502, got %v", i+1, err)
		}
	}

	if _, err := r.Poll(ctx, "42"); !errors.Is(err, circuitbreaker.ErrOpen) {
		t.Errorf("expected the breaker to be open, got %v", err)
	}
	if int(hits.Load()) != threshold {
		t.Errorf("expected %d requests, got %d", threshold, hits.Load())
	}
}

func TestPoll_ClientErrorsKeepBreakerClosed(t *testing.T) {
	t.Parallel()
	r := newTestRunner(t, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "Not Found"})
	}))

	for i := 0; i < 10; i++ {
		if _, err := r.Poll(context.Background(), "42"); !IsStatus(err, http.StatusNotFound) {
			t.Fatalf("poll %d: expected 404, got %v", i+1, err)
		}
	}
	if r.client.breaker.State() != circuitbreaker.Closed {
		t.Errorf("expected closed breaker, got %s", r.client.breaker.State())
	}
}

func zipped(t *testing.T, name, content string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	f, err := zw.Create(name)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.Write([]byte(content)); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestFetchResult_FromArtifact(t *testing.T) {
	t.Parallel()
	archive := zipped(t, "download_link.txt", "\nhttps://drive/out.zip\n")

	var serverURL string
	r := newTestRunner(t, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		switch req.URL.Path {
		case "/repos/octo/roms/actions/runs/42/artifacts":
			writeJSON(w, http.StatusOK, map[string]any{"artifacts": []map[string]any{
				{"id": 1, "name": "converter-logs", "archive_download_url": serverURL + "/wrong"},
				{"id": 2, "name": "download-link", "expired": true, "archive_download_url": serverURL + "/wrong"},
				{"id": 3, "name": "download-link", "archive_download_url": serverURL + "/repos/octo/roms/actions/artifacts/3/zip"},
			}})
		case "/repos/octo/roms/actions/artifacts/3/zip":
			w.Header().Set("Content-Type", "application/zip")
			_, _ = w.Write(archive)
		default:
			t.Errorf("unexpected request %s", req.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	serverURL = r.cfg.APIURL

	got, err := r.FetchResult(context.Background(), "42")
	if err != nil {
		t.Fatalf("FetchResult: %v", err)
	}
	if got != "https://drive/out.zip" {
		t.Errorf("expected https://drive/out.zip, got %q", got)
	}
}

func TestFetchResult_FallsBackToRunPage(t *testing.T) {
	t.Parallel()
	r := newTestRunner(t, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		switch req.URL.Path {
		case "/repos/octo/roms/actions/runs/42/artifacts":
			writeJSON(w, http.StatusOK, map[string]any{"artifacts": []any{}})
		case "/repos/octo/roms/actions/runs/42":
			writeJSON(w, http.StatusOK, map[string]any{
				"id":       42,
				"status":   "completed",
				"html_url": "https://github.com/octo/roms/actions/runs/42",
			})
		}
	}))

	got, err := r.FetchResult(context.Background(), "42")
	if err != nil {
		t.Fatalf("FetchResult: %v", err)
	}
	if got != "https://github.com/octo/roms/actions/runs/42" {
		t.Errorf("unexpected result %q", got)
	}
}

func TestFetchResult_CorruptArtifact(t *testing.T) {
	t.Parallel()
	var serverURL string
	r := newTestRunner(t, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		switch req.URL.Path {
		case "/repos/octo/roms/actions/runs/42/artifacts":
			writeJSON(w, http.StatusOK, map[string]any{"artifacts": []map[string]any{
				{"id": 3, "name": "download-link", "archive_download_url": serverURL + "/zip"},
			}})
		case "/zip":
			_, _ = w.Write([]byte("not a zip"))
		}
	}))
	serverURL = r.cfg.APIURL

	if _, err := r.FetchResult(context.Background(), "42"); err == nil {
		t.Error("expected an error for a corrupt artifact")
	}
}

func TestReadLink(t *testing.T) {
	t.Parallel()
	if _, err := readLink(zipped(t, "link.txt", "  \n\n")); err == nil {
		t.Error("expected an error for an empty link file")
	}
	got, err := readLink(zipped(t, "link.txt", "https://drive/a.zip\r\nhttps://drive/b.zip"))
	if err != nil || got != "https://drive/a.zip" {
		t.Errorf("readLink() = %q, %v", got, err)
	}
}

func TestCancel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		status  int
		wantErr bool
	}{
		{http.StatusAccepted, false},
		{http.StatusConflict, false},
		{http.StatusNotFound, true},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.status), func(t *testing.T) {
			t.Parallel()
			r := newTestRunner(t, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
				if req.Method != http.MethodPost || req.URL.Path != "/repos/octo/roms/actions/runs/42/cancel" {
					t.Errorf("unexpected request %s %s", req.Method, req.URL.Path)
				}
				w.WriteHeader(tt.status)
			}))

			err := r.Cancel(context.Background(), "42")
			if (err != nil) != tt.wantErr {
				t.Errorf("Cancel() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestReady(t *testing.T) {
	t.Parallel()
	r := newTestRunner(t, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Path != "/repos/octo/roms/actions/workflows/rom-converter.yml" {
			writeJSON(w, http.StatusNotFound, map[string]string{"message": "Not Found"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": 1, "state": "active"})
	}))

	if err := r.Ready(context.Background()); err != nil {
		t.Errorf("Ready: %v", err)
	}
}

func TestNewRunner_RequiresCredentials(t *testing.T) {
	t.Parallel()
	_, err := NewRunner(Config{Owner: "octo"})
	if err == nil {
		t.Fatal("expected an error")
	}
	for _, want := range []string{"GITHUB_TOKEN", "GITHUB_REPO_NAME"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q should mention %s", err, want)
		}
	}
	if strings.Contains(err.Error(), "GITHUB_REPO_OWNER") {
		t.Errorf("owner was set, error should not mention it: %v", err)
	}
}
