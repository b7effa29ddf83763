package summarize

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/lotas/threadsum/internal/applog"
	"github.com/lotas/threadsum/internal/httpserve"
)

// Generator produces summaries and reply drafts.
type Generator interface {
	Summary(ctx context.Context, content string) (string, error)
	Draft(ctx context.Context, summary string) (string, error)
}

// Service serves the summarization HTTP contract on top of a Generator:
// POST /summarize {"email_content"} -> {"summary"} and
// POST /draft {"summary"} -> {"draft"}.
type Service struct {
	gen Generator
}

func NewService(gen Generator) *Service {
	return &Service{gen: gen}
}

// Handler returns the service routes.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /summarize", s.handleSummarize)
	mux.HandleFunc("POST /draft", s.handleDraft)
	return mux
}

func (s *Service) handleSummarize(w http.ResponseWriter, r *http.Request) {
	var req struct {
		EmailContent string `json:"email_content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.EmailContent == "" {
		applog.Info("serve.summarize.rejected")
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "No email content provided"})
		return
	}

	applog.Info("serve.summarize", "bytes", len(req.EmailContent))
	summary, err := s.gen.Summary(r.Context(), req.EmailContent)
	if err != nil {
		applog.Error("serve.summarize", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "An error occurred while summarizing the email"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"summary": summary})
}

func (s *Service) handleDraft(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Summary string `json:"summary"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Summary == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "No summary provided"})
		return
	}

	applog.Info("serve.draft", "bytes", len(req.Summary))
	draft, err := s.gen.Draft(r.Context(), req.Summary)
	if err != nil {
		applog.Error("serve.draft", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "An error occurred while drafting the response"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"draft": draft})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// ListenAndServe runs the service on addr until ctx is done.
func (s *Service) ListenAndServe(ctx context.Context, addr string) error {
	return httpserve.ListenAndServe(ctx, "serve", addr, s.Handler())
}
