package summarize

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestOllamaSummary(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/api/generate" {
			t.Errorf("expected /api/generate, got %s", r.URL.Path)
		}

		var req ollamaRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Model != "llama3.2" {
			t.Errorf("expected model llama3.2, got %s", req.Model)
		}
		if req.Stream {
			t.Error("expected stream=false")
		}
		if !strings.Contains(req.Prompt, "Quarterly Review Meeting") {
			t.Errorf("prompt missing content: %q", req.Prompt)
		}

		json.NewEncoder(w).Encode(ollamaResponse{Response: "  Meeting on Friday.\n"})
	}))
	defer srv.Close()

	o := Ollama{Host: srv.URL, Model: "llama3.2"}
	result, err := o.Summary(context.Background(), "Subject: Quarterly Review Meeting")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "Meeting on Friday." {
		t.Errorf("unexpected result: %q", result)
	}
}

func TestOllamaSummaryTruncatesInput(t *testing.T) {
	var promptLen int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ollamaRequest
		json.NewDecoder(r.Body).Decode(&req)
		promptLen = len(req.Prompt)
		json.NewEncoder(w).Encode(ollamaResponse{Response: "ok"})
	}))
	defer srv.Close()

	o := Ollama{Host: srv.URL, Model: "llama3.2"}
	if _, err := o.Summary(context.Background(), strings.Repeat("x", 3*maxTextLen)); err != nil {
		t.Fatal(err)
	}
	if promptLen > maxTextLen+len(summaryPrompt) {
		t.Errorf("prompt length %d exceeds limit", promptLen)
	}
}

func TestOllamaDraft(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ollamaRequest
		json.NewDecoder(r.Body).Decode(&req)
		if !strings.Contains(req.Prompt, "Draft a response email") {
			t.Errorf("unexpected prompt: %q", req.Prompt)
		}
		json.NewEncoder(w).Encode(ollamaResponse{Response: "Dear Sarah, ..."})
	}))
	defer srv.Close()

	got, err := Ollama{Host: srv.URL, Model: "llama3.2"}.Draft(context.Background(), "Meeting on Friday.")
	if err != nil {
		t.Fatal(err)
	}
	if got != "Dear Sarah, ..." {
		t.Errorf("draft = %q", got)
	}
}

func TestOllamaError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(500)
	}))
	defer srv.Close()

	_, err := Ollama{Host: srv.URL, Model: "llama3.2"}.Summary(context.Background(), "text")
	if err == nil {
		t.Error("expected error for 500 response")
	}
}

func TestOllamaCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Ollama{Host: srv.URL, Model: "llama3.2"}.Summary(ctx, "text")
	if err == nil {
		t.Error("expected error for cancelled context")
	}
}

func TestOllamaReportsModelError(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{"not found", http.StatusNotFound, `{"error":"model 'mistral' not found"}`, "model 'mistral' not found"},
		{"error with 200", http.StatusOK, `{"error":"out of memory"}`, "out of memory"},
		{"plain 502", http.StatusBadGateway, `bad gateway`, "HTTP 502"},
		{"empty response", http.StatusOK, `{"response":"  "}`, "empty response"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := Ollama{Host: srv.URL + "/", Model: "mistral"}.Summary(context.Background(), "text")
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want it to contain %q", err, tt.want)
			}
		})
	}
}
