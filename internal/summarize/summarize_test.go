package summarize

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/lotas/threadsum/internal/types"
)

func TestSummarize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/summarize" {
			t.Errorf("expected /summarize, got %s", r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content-type = %q", ct)
		}
		var req map[string]string
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req["email_content"] != "Block 1:\nHello" {
			t.Errorf("email_content = %q", req["email_content"])
		}
		json.NewEncoder(w).Encode(map[string]string{"summary": "A greeting."})
	}))
	defer srv.Close()

	got, err := NewClient(srv.URL+"/", time.Second).Summarize(context.Background(), "Block 1:\nHello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "A greeting." {
		t.Errorf("summary = %q", got)
	}
}

func TestSummarizeClassification(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantKind   types.ErrorKind
		wantStatus int
		wantInMsg  string
	}{
		{"http 500", 500, `{"error":"An error occurred while summarizing the email"}`, types.KindHTTPError, 500, "500"},
		{"http 400", 400, `{"error":"No email content provided"}`, types.KindHTTPError, 400, "No email content provided"},
		{"empty object", 200, `{}`, types.KindProtocolError, 0, "summary not found"},
		{"not json", 200, `<html>oops</html>`, types.KindProtocolError, 0, "decode"},
		{"wrong type", 200, `{"summary": 42}`, types.KindProtocolError, 0, "decode"},
		{"empty summary", 200, `{"summary": ""}`, types.KindProtocolError, 0, "summary not found"},
		{"empty body", 200, ``, types.KindProtocolError, 0, "decode"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewClient(srv.URL, time.Second).Summarize(context.Background(), "text")
			var se *Error
			if !errors.As(err, &se) {
				t.Fatalf("expected *Error, got %v", err)
			}
			if se.Kind != tt.wantKind {
				t.Errorf("kind = %s, want %s", se.Kind, tt.wantKind)
			}
			if se.Status != tt.wantStatus {
				t.Errorf("status = %d, want %d", se.Status, tt.wantStatus)
			}
			if !strings.Contains(err.Error(), tt.wantInMsg) {
				t.Errorf("message %q does not contain %q", err.Error(), tt.wantInMsg)
			}
		})
	}
}

func TestSummarizeConnectionError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	_, err = NewClient("http://"+addr, time.Second).Summarize(context.Background(), "text")
	if KindOf(err) != types.KindConnectionError {
		t.Errorf("kind = %s, want connection_error (err: %v)", KindOf(err), err)
	}
}

func TestSummarizeTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	_, err := NewClient(srv.URL, 50*time.Millisecond).Summarize(context.Background(), "text")
	if KindOf(err) != types.KindTimeout {
		t.Errorf("kind = %s, want timeout (err: %v)", KindOf(err), err)
	}
}

func TestSummarizeNoRetry(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(503)
	}))
	defer srv.Close()

	NewClient(srv.URL, time.Second).Summarize(context.Background(), "text")
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestKindOf(t *testing.T) {
	if KindOf(errors.New("boom")) != types.KindInternalError {
		t.Error("plain errors should map to internal_error")
	}
	wrapped := &Error{Kind: types.KindTimeout, Msg: "x"}
	if KindOf(errors.Join(errors.New("ctx"), wrapped)) != types.KindTimeout {
		t.Error("KindOf should see through wrapping")
	}
}
