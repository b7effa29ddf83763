// Package relay is the background side of the content/background boundary.
package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/lotas/threadsum/internal/applog"
	"github.com/lotas/threadsum/internal/summarize"
	"github.com/lotas/threadsum/internal/types"
)

// ActionSummarize is the only action the relay serves.
const ActionSummarize = "summarizeEmail"

var (
	// ErrDetached means the background side is unreachable.
	ErrDetached = errors.New("relay detached")
	// ErrClosed is returned by a boundary after Close.
	ErrClosed = errors.New("relay connection closed")
	// ErrConnLost means the connection dropped before a reply arrived.
	ErrConnLost = errors.New("relay connection lost before reply")
)

// Message is a dispatch from the content side.
type Message struct {
	Action  string `json:"action"`
	Content string `json:"content"`
}

// Reply is the single answer to a Message: either Summary or Error is set.
type Reply struct {
	Summary string `json:"summary,omitempty"`
	Error   string `json:"error,omitempty"`
	Kind    string `json:"kind,omitempty"`
	Status  int    `json:"status,omitempty"`
}

// Result maps a reply onto the pipeline result taxonomy.
func (r Reply) Result() types.Result {
	switch {
	case r.Summary != "":
		return types.SummaryResult(r.Summary)
	case r.Error != "":
		kind := types.KindInternalError
		if r.Kind != "" {
			kind = types.ParseKind(r.Kind)
		}
		return types.Result{Kind: kind, Status: r.Status, Message: r.Error}
	}
	return types.ErrorResult(types.KindUnknownResponseShape, "unexpected response from the background relay")
}

func errorReply(kind types.ErrorKind, status int, msg string) Reply {
	return Reply{Error: msg, Kind: kind.String(), Status: status}
}

// Summarizer is the outbound call the relay forwards to.
type Summarizer interface {
	Summarize(ctx context.Context, text string) (string, error)
}

// Relay forwards dispatches to a Summarizer. It keeps no per-call state.
type Relay struct {
	client Summarizer
}

// New returns a relay that forwards summarize requests to client.
func New(client Summarizer) *Relay {
	return &Relay{client: client}
}

// Handle answers msg with exactly one Reply. Failures inside the client,
// panics included, become error replies.
func (r *Relay) Handle(ctx context.Context, msg Message) (reply Reply) {
	defer func() {
		if p := recover(); p != nil {
			applog.Error("relay.panic", fmt.Errorf("%v", p))
			reply = errorReply(types.KindInternalError, 0, fmt.Sprintf("Failed to summarize email: internal error: %v", p))
		}
	}()

	if msg.Action != ActionSummarize {
		applog.Info("relay.unknown_action", "action", msg.Action)
		return errorReply(types.KindInvalidRequest, 0, "Unknown action")
	}
	if strings.TrimSpace(msg.Content) == "" {
		applog.Info("relay.empty_content")
		return errorReply(types.KindInvalidRequest, 0, "No email content provided")
	}

	applog.Info("relay.summarize", "bytes", len(msg.Content))
	summary, err := r.client.Summarize(ctx, msg.Content)
	if err != nil {
		applog.Error("relay.summarize", err)
		status := 0
		var se *summarize.Error
		if errors.As(err, &se) {
			status = se.Status
		}
		return errorReply(summarize.KindOf(err), status, "Failed to summarize email: "+err.Error())
	}
	if summary == "" {
		return errorReply(types.KindProtocolError, 0, "Failed to summarize email: empty summary")
	}
	return Reply{Summary: summary}
}
