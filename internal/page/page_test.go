package page

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pierrec/lz4/v4"
	"nhooyr.io/websocket"
)

const threadHTML = `<html><body><h2 class="hP">Hi</h2><span class="gD">Sam</span><div class="a3s aiL">Beach in August?</div></body></html>`

func TestDecodeHTMLRoundTrip(t *testing.T) {
	enc, err := EncodeHTML(threadHTML)
	if err != nil {
		t.Fatal(err)
	}
	got, err := DecodeHTML(enc, "lz4")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != threadHTML {
		t.Errorf("round trip mismatch: %q", got)
	}
}

func TestDecodeHTMLErrors(t *testing.T) {
	if _, err := DecodeHTML("not base64!!", "lz4"); err == nil {
		t.Error("expected base64 error")
	}
	if _, err := DecodeHTML("x", "gzip"); err == nil {
		t.Error("expected unsupported encoding error")
	}
	if got, err := DecodeHTML("<p>x</p>", ""); err != nil || got != "<p>x</p>" {
		t.Errorf("plain = %q, %v", got, err)
	}
}

func TestFeedApply(t *testing.T) {
	f := NewFeed(0)
	if _, err := f.Snapshot(context.Background()); !errors.Is(err, ErrNoSnapshot) {
		t.Fatalf("expected ErrNoSnapshot, got %v", err)
	}

	url := "https://mail.google.com/mail/u/0/#inbox/abc"
	if err := f.Apply(FeedFrame{Type: "snapshot", URL: url, HTML: threadHTML}); err != nil {
		t.Fatal(err)
	}
	snap, err := f.Snapshot(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if snap.URL != url || snap.HTML != threadHTML {
		t.Errorf("snapshot = %+v", snap)
	}

	if err := f.Apply(FeedFrame{Type: "url", URL: "https://mail.google.com/mail/u/0/#inbox"}); err != nil {
		t.Fatal(err)
	}
	if f.URL() != "https://mail.google.com/mail/u/0/#inbox" {
		t.Errorf("URL() = %q", f.URL())
	}

	if err := f.Apply(FeedFrame{Type: "bogus"}); err == nil {
		t.Error("expected error for unknown frame type")
	}
}

func TestFeedMutationsCoalesce(t *testing.T) {
	f := NewFeed(0)
	for i := 0; i < 5; i++ {
		f.Apply(FeedFrame{Type: "snapshot", URL: "u", HTML: "<p>x</p>"})
	}
	select {
	case <-f.Mutations():
	default:
		t.Fatal("expected a pending mutation signal")
	}
	select {
	case <-f.Mutations():
		t.Fatal("burst should collapse into one signal")
	default:
	}
}

func TestFeedHandlerReceivesFrames(t *testing.T) {
	f := NewFeed(0)
	ts := httptest.NewServer(f.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.CloseNow()

	enc, err := EncodeHTML(threadHTML)
	if err != nil {
		t.Fatal(err)
	}
	data, _ := json.Marshal(FeedFrame{Type: "snapshot", URL: "https://mail.google.com/#inbox/x", HTML: enc, Encoding: "lz4"})
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case <-f.Mutations():
	case <-ctx.Done():
		t.Fatal("timed out waiting for mutation")
	}
	snap, err := f.Snapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if snap.HTML != threadHTML {
		t.Errorf("html = %q", snap.HTML)
	}
	if !f.Connected() {
		t.Error("expected Connected() to be true")
	}
}

func TestHTTPSource(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(threadHTML))
	}))
	defer srv.Close()

	src, err := NewHTTPSource(srv.URL + "/mail/#inbox/abc")
	if err != nil {
		t.Fatal(err)
	}
	snap, err := src.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.HTML != threadHTML {
		t.Errorf("html = %q", snap.HTML)
	}
	if gotUA == "" || gotUA == "Go-http-client/1.1" {
		t.Errorf("expected browser-like User-Agent, got %q", gotUA)
	}
	if src.Mutations() != nil {
		t.Error("HTTP source should not report mutations")
	}
}

func TestHTTPSourceReportsRedirectedURL(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/start", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/final", http.StatusFound)
	})
	mux.HandleFunc("/final", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(threadHTML))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	src, err := NewHTTPSource(srv.URL + "/start")
	if err != nil {
		t.Fatal(err)
	}
	if got := src.URL(); got != srv.URL+"/start" {
		t.Errorf("URL before fetch = %q", got)
	}
	snap, err := src.Snapshot(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(snap.URL, "/final") {
		t.Errorf("snapshot URL = %q, want /final", snap.URL)
	}
	if got := src.URL(); got != snap.URL {
		t.Errorf("URL after fetch = %q, want %q", got, snap.URL)
	}
}

func TestHTTPSourceErrors(t *testing.T) {
	for _, u := range []string{"about:blank", "file:///tmp/x.html", "chrome://settings"} {
		if _, err := NewHTTPSource(u); err == nil {
			t.Errorf("expected error for %q", u)
		}
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(500)
	}))
	defer srv.Close()
	src, _ := NewHTTPSource(srv.URL)
	if _, err := src.Snapshot(context.Background()); err == nil {
		t.Error("expected error for 500 response")
	}
}

func TestFileSource(t *testing.T) {
	dir := t.TempDir()
	plain := filepath.Join(dir, "thread.html")
	if err := os.WriteFile(plain, []byte(threadHTML), 0o644); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	w.Write([]byte(threadHTML))
	w.Close()
	compressed := filepath.Join(dir, "thread.html.lz4")
	if err := os.WriteFile(compressed, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}

	url := "https://mail.google.com/mail/u/0/#inbox/abc"
	for _, path := range []string{plain, compressed} {
		src := NewFileSource(path, url)
		snap, err := src.Snapshot(context.Background())
		if err != nil {
			t.Fatalf("%s: %v", path, err)
		}
		if snap.HTML != threadHTML || snap.URL != url {
			t.Errorf("%s: snapshot = %+v", path, snap)
		}
		doc, err := snap.Document()
		if err != nil {
			t.Fatal(err)
		}
		if doc.Find(".a3s.aiL").Length() != 1 {
			t.Errorf("%s: body not found in parsed document", path)
		}
	}

	if _, err := NewFileSource(filepath.Join(dir, "missing.html"), url).Snapshot(context.Background()); err == nil {
		t.Error("expected error for missing file")
	}
}
