package summarize

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/lotas/threadsum/internal/types"
)

type fakeGenerator struct {
	summary string
	draft   string
	err     error
}

func (f fakeGenerator) Summary(ctx context.Context, content string) (string, error) {
	return f.summary, f.err
}

func (f fakeGenerator) Draft(ctx context.Context, summary string) (string, error) {
	return f.draft, f.err
}

func TestServiceWithClient(t *testing.T) {
	ts := httptest.NewServer(NewService(fakeGenerator{summary: "Beach trip in August."}).Handler())
	defer ts.Close()

	got, err := NewClient(ts.URL, time.Second).Summarize(context.Background(), "Subject: Summer Vacation Plans")
	if err != nil {
		t.Fatal(err)
	}
	if got != "Beach trip in August." {
		t.Errorf("summary = %q", got)
	}
}

func TestServiceGeneratorFailureIsHTTPError(t *testing.T) {
	ts := httptest.NewServer(NewService(fakeGenerator{err: errors.New("model not loaded")}).Handler())
	defer ts.Close()

	_, err := NewClient(ts.URL, time.Second).Summarize(context.Background(), "text")
	var se *Error
	if !errors.As(err, &se) || se.Kind != types.KindHTTPError || se.Status != 500 {
		t.Fatalf("err = %v", err)
	}
}

func TestServiceValidation(t *testing.T) {
	ts := httptest.NewServer(NewService(fakeGenerator{summary: "s", draft: "d"}).Handler())
	defer ts.Close()

	tests := []struct {
		path   string
		body   string
		status int
		want   string
	}{
		{"/summarize", `{}`, 400, "No email content provided"},
		{"/summarize", `not json`, 400, "No email content provided"},
		{"/draft", `{}`, 400, "No summary provided"},
		{"/draft", `{"summary":"Meeting on Friday."}`, 200, `"draft":"d"`},
	}
	for _, tt := range tests {
		resp, err := http.Post(ts.URL+tt.path, "application/json", strings.NewReader(tt.body))
		if err != nil {
			t.Fatal(err)
		}
		data, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode != tt.status {
			t.Errorf("%s %s: status = %d, want %d", tt.path, tt.body, resp.StatusCode, tt.status)
		}
		if !strings.Contains(string(data), tt.want) {
			t.Errorf("%s %s: body = %s, want %q", tt.path, tt.body, data, tt.want)
		}
	}
}

func TestServiceRejectsGet(t *testing.T) {
	ts := httptest.NewServer(NewService(fakeGenerator{}).Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/summarize")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", resp.StatusCode)
	}
}
