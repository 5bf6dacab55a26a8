package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"trackscan/internal/scan"
)

func newTestClient(serverURL string) *Client {
	return New(serverURL, "test-token", 5*time.Second, zerolog.Nop())
}

func TestSubmitSnippet(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/recognize", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.Header.Get("Authorization") != "Bearer test-token" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		f, hdr, err := r.FormFile("sample")
		if err != nil {
			t.Errorf("missing sample part: %v", err)
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		f.Close()
		if hdr.Filename != "clip.seg1.wav" {
			t.Errorf("filename = %q", hdr.Filename)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"matches": []scan.Match{{ID: "m1", Title: "Song", Artist: "Band", Confidence: 92}},
		})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := newTestClient(server.URL)
	matches, err := client.SubmitSnippet(context.Background(), "clip.seg1.wav", []byte("wav-bytes"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(matches) != 1 || matches[0].Title != "Song" {
		t.Errorf("matches = %+v", matches)
	}
}

func TestSubmitSnippetNoMatches(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"matches": []scan.Match{}})
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	_, err := client.SubmitSnippet(context.Background(), "clip.wav", nil)
	if !IsKind(err, KindNoResult) {
		t.Errorf("expected KindNoResult, got %v", err)
	}
}

func TestSubmitSnippetRetriesOnThrottle(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Header().Set("Retry-After", "0")
			http.Error(w, `{"error":"slow down"}`, http.StatusTooManyRequests)
			return
		}
		// The retried request must carry the full multipart body again.
		if _, _, err := r.FormFile("sample"); err != nil {
			t.Errorf("retry lost the form body: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"matches": []scan.Match{{ID: "m1", Title: "Song", Artist: "Band"}},
		})
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	matches, err := client.SubmitSnippet(context.Background(), "clip.wav", []byte("data"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
	if len(matches) != 1 {
		t.Errorf("matches = %d, want 1", len(matches))
	}
}

func TestClassifyKinds(t *testing.T) {
	tests := []struct {
		status int
		want   Kind
	}{
		{http.StatusUnauthorized, KindAuth},
		{http.StatusForbidden, KindAuth},
		{http.StatusPaymentRequired, KindQuotaExhausted},
		{http.StatusTooManyRequests, KindRateLimited},
		{http.StatusNotFound, KindNoResult},
		{http.StatusUnprocessableEntity, KindValidation},
		{http.StatusInternalServerError, KindUpstream},
		{http.StatusBadGateway, KindUpstream},
	}

	for _, tt := range tests {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, `{"error":"boom"}`, tt.status)
		}))
		client := newTestClient(server.URL)
		_, err := client.JobStatus(context.Background(), "j1")
		server.Close()

		if !IsKind(err, tt.want) {
			t.Errorf("status %d: got %v, want kind %s", tt.status, err, tt.want)
		}
		var apiErr *Error
		if !errors.As(err, &apiErr) {
			t.Fatalf("status %d: not an *Error: %v", tt.status, err)
		}
		if apiErr.Message != "boom" {
			t.Errorf("status %d: message = %q, want boom", tt.status, apiErr.Message)
		}
	}
}

func TestTransportErrorKind(t *testing.T) {
	client := New("http://127.0.0.1:1", "", 500*time.Millisecond, zerolog.Nop())
	_, err := client.JobStatus(context.Background(), "j1")
	if !IsKind(err, KindTransport) {
		t.Errorf("expected KindTransport, got %v", err)
	}
}

func TestCreateJobShapes(t *testing.T) {
	t.Run("batch job", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var in JobInput
			json.NewDecoder(r.Body).Decode(&in)
			if in.Type != scan.JobYouTubeBatch {
				t.Errorf("type = %s", in.Type)
			}
			json.NewEncoder(w).Encode(SubmitResult{Job: &scan.Job{ID: "j1", Status: scan.JobQueued}})
		}))
		defer server.Close()

		result, err := newTestClient(server.URL).CreateJob(context.Background(), JobInput{
			Type:      scan.JobYouTubeBatch,
			SourceURL: "https://youtube.com/playlist?list=x",
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.Job == nil || result.Single != nil {
			t.Errorf("result = %+v, want job shape", result)
		}
	})

	t.Run("synchronous single", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(SubmitResult{Single: &scan.LogEntry{ID: "l1", Status: scan.LogMatchesFound}})
		}))
		defer server.Close()

		result, err := newTestClient(server.URL).CreateJob(context.Background(), JobInput{
			Type:      scan.JobYouTubeBatch,
			SourceURL: "https://youtube.com/watch?v=x",
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.Single == nil || result.Job != nil {
			t.Errorf("result = %+v, want single shape", result)
		}
	})

	t.Run("empty response", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(SubmitResult{})
		}))
		defer server.Close()

		_, err := newTestClient(server.URL).CreateJob(context.Background(), JobInput{Type: scan.JobFileBatch})
		if !IsKind(err, KindUpstream) {
			t.Errorf("expected KindUpstream, got %v", err)
		}
	})
}

func TestActiveJob(t *testing.T) {
	t.Run("none", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		}))
		defer server.Close()

		job, err := newTestClient(server.URL).ActiveJob(context.Background())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if job != nil {
			t.Errorf("job = %+v, want nil", job)
		}
	})

	t.Run("empty body", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(scan.Job{})
		}))
		defer server.Close()

		job, err := newTestClient(server.URL).ActiveJob(context.Background())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if job != nil {
			t.Errorf("job = %+v, want nil", job)
		}
	})

	t.Run("active", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(scan.Job{ID: "j7", Status: scan.JobProcessingItems})
		}))
		defer server.Close()

		job, err := newTestClient(server.URL).ActiveJob(context.Background())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if job == nil || job.ID != "j7" {
			t.Errorf("job = %+v, want j7", job)
		}
	})
}

func TestJobControlCalls(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewEncoder(w).Encode(scan.Job{ID: "j1", Status: scan.JobPaused})
	}))
	defer server.Close()
	client := newTestClient(server.URL)

	job, err := client.PauseJob(context.Background(), "j1")
	if err != nil || job.Status != scan.JobPaused {
		t.Fatalf("pause: job=%+v err=%v", job, err)
	}
	if gotPath != "/v1/jobs/j1/pause" {
		t.Errorf("path = %s", gotPath)
	}

	client.ResumeJob(context.Background(), "j1")
	if gotPath != "/v1/jobs/j1/resume" {
		t.Errorf("path = %s", gotPath)
	}
	client.AbortJob(context.Background(), "j1")
	if gotPath != "/v1/jobs/j1/abort" {
		t.Errorf("path = %s", gotPath)
	}
	client.CompleteUpload(context.Background(), "j1")
	if gotPath != "/v1/jobs/j1/complete-upload" {
		t.Errorf("path = %s", gotPath)
	}
}
