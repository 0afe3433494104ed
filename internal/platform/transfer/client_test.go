package transfer

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestClient(url string, retries int) *Client {
	return New(Config{
		BaseURL:      url,
		Timeout:      2 * time.Second,
		RetryCount:   retries,
		RetryWait:    time.Millisecond,
		RetryMaxWait: 5 * time.Millisecond,
	}, zerolog.Nop())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestPush_Accepted(t *testing.T) {
	var gotPath, gotType string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotType = r.Header.Get("Content-Type")
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &gotBody)
		writeJSON(w, http.StatusOK, map[string]string{"message": "ok", "patientGuid": "p-1"})
	}))
	defer srv.Close()

	receipt, err := newTestClient(srv.URL+"/", 0).Push(context.Background(), map[string]any{"patient": map[string]any{"PatientGuid": "p-1"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if receipt.PatientGUID != "p-1" {
		t.Errorf("expected p-1, got %s", receipt.PatientGUID)
	}
	if gotPath != ImportPath {
		t.Errorf("expected path %s, got %s", ImportPath, gotPath)
	}
	if gotType != "application/json" {
		t.Errorf("expected JSON content type, got %s", gotType)
	}
	if gotBody["patient"] == nil {
		t.Errorf("expected document body, got %v", gotBody)
	}
}

func TestPush_Rejected(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":   "Validation failed",
			"stage":   "semantic",
			"details": []string{"patient.Sex: 'Z' is not in ['F', 'I', 'M', 'U']", "events[0].EventType: '99' is not in [11, 13]"},
		})
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL, 3).Push(context.Background(), map[string]any{})

	var rej *RejectedError
	if !errors.As(err, &rej) {
		t.Fatalf("expected *RejectedError, got %v", err)
	}
	if rej.StatusCode != http.StatusUnprocessableEntity || rej.Stage != "semantic" {
		t.Errorf("unexpected rejection %+v", rej)
	}
	if len(rej.Details) != 2 || rej.Details[0][:11] != "patient.Sex" {
		t.Errorf("expected ordered details, got %v", rej.Details)
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("expected no retry on 4xx, got %d calls", n)
	}
}

func TestPush_RetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "warming up"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"message": "ok", "patientGuid": "p-2"})
	}))
	defer srv.Close()

	receipt, err := newTestClient(srv.URL, 3).Push(context.Background(), map[string]any{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if receipt.PatientGUID != "p-2" {
		t.Errorf("expected p-2, got %s", receipt.PatientGUID)
	}
	if n := atomic.LoadInt32(&calls); n != 3 {
		t.Errorf("expected 3 calls, got %d", n)
	}
}

func TestPush_ServerErrorExhaustsRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL, 1).Push(context.Background(), map[string]any{})
	var rej *RejectedError
	if !errors.As(err, &rej) {
		t.Fatalf("expected *RejectedError, got %v", err)
	}
	if rej.Message != http.StatusText(http.StatusInternalServerError) {
		t.Errorf("expected status text fallback, got %q", rej.Message)
	}
}

func TestPush_UnexpectedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "queued"})
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL, 0).Push(context.Background(), map[string]any{})
	if !errors.Is(err, ErrUnexpectedResponse) {
		t.Errorf("expected ErrUnexpectedResponse, got %v", err)
	}
}

func TestPush_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := newTestClient(url, 0).Push(context.Background(), map[string]any{})
	if err == nil {
		t.Fatal("expected transport error")
	}
	var rej *RejectedError
	if errors.As(err, &rej) {
		t.Errorf("transport failure must not look like a rejection: %v", err)
	}
}
