package summarize

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/lotas/threadsum/internal/applog"
	"github.com/lotas/threadsum/internal/types"
)

const maxErrorBody = 512

// Error is a classified summarization failure.
type Error struct {
	Kind   types.ErrorKind
	Status int // set for KindHTTPError
	Msg    string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the taxonomy kind of err, or KindInternalError for errors
// that did not come from the client.
func KindOf(err error) types.ErrorKind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return types.KindInternalError
}

type summarizeRequest struct {
	EmailContent string `json:"email_content"`
}

type summarizeResponse struct {
	Summary *string `json:"summary"`
	Error   string  `json:"error,omitempty"`
}

// Client calls the summarization service. It never retries.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient returns a client for baseURL (e.g. http://localhost:5000) with a
// per-call deadline.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// Summarize posts text to /summarize and returns the summary.
// Failures are *Error with Kind ConnectionError, HTTPError, ProtocolError or
// Timeout.
func (c *Client) Summarize(ctx context.Context, text string) (string, error) {
	body, err := json.Marshal(summarizeRequest{EmailContent: text})
	if err != nil {
		return "", &Error{Kind: types.KindInternalError, Msg: "marshal request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/summarize", bytes.NewReader(body))
	if err != nil {
		return "", &Error{Kind: types.KindConnectionError, Msg: "create request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	applog.Info("summarize.request", "bytes", len(text))
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return "", transportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		msg := fmt.Sprintf("summarization service returned HTTP %d", resp.StatusCode)
		if s := strings.TrimSpace(string(snippet)); s != "" {
			msg += ": " + s
		}
		return "", &Error{Kind: types.KindHTTPError, Status: resp.StatusCode, Msg: msg}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		if isTimeout(err) {
			return "", &Error{Kind: types.KindTimeout, Msg: "request timed out reading response", Err: err}
		}
		return "", &Error{Kind: types.KindProtocolError, Msg: "read response body", Err: err}
	}

	var result summarizeResponse
	if err := json.Unmarshal(data, &result); err != nil {
		return "", &Error{Kind: types.KindProtocolError, Msg: "decode response", Err: err}
	}
	if result.Summary == nil || *result.Summary == "" {
		return "", &Error{Kind: types.KindProtocolError, Msg: "summary not found in response"}
	}

	applog.Info("summarize.ok", "elapsed", time.Since(start), "bytes", len(*result.Summary))
	return *result.Summary, nil
}

func transportError(err error) error {
	if isTimeout(err) {
		return &Error{Kind: types.KindTimeout, Msg: "request timed out; the summarization service may be overloaded or unresponsive", Err: err}
	}
	return &Error{Kind: types.KindConnectionError, Msg: "unable to connect to the summarization service; check that it is running", Err: err}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
