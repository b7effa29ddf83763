package types

import "fmt"

// PageState is the result of one detection tick over the host document.
type PageState struct {
	URL         string
	ThreadOpen  bool
	Content     string // "" when no content block matched
	Fingerprint string
}

// ErrorKind tags a failure somewhere between the dispatcher and the
// summarization service.
type ErrorKind int

const (
	KindNone ErrorKind = iota
	KindExtractionEmpty
	KindThreadClosed
	KindChannelError
	KindConnectionError
	KindHTTPError
	KindProtocolError
	KindTimeout
	KindUnknownResponseShape
	KindInvalidRequest
	KindInternalError
)

var kindNames = map[ErrorKind]string{
	KindNone:                 "",
	KindExtractionEmpty:      "extraction_empty",
	KindThreadClosed:         "thread_closed",
	KindChannelError:         "channel_error",
	KindConnectionError:      "connection_error",
	KindHTTPError:            "http_error",
	KindProtocolError:        "protocol_error",
	KindTimeout:              "timeout",
	KindUnknownResponseShape: "unknown_response_shape",
	KindInvalidRequest:       "invalid_request",
	KindInternalError:        "internal_error",
}

func (k ErrorKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind maps a wire name back to an ErrorKind. Unknown names map to
// KindUnknownResponseShape.
func ParseKind(s string) ErrorKind {
	for k, name := range kindNames {
		if name == s && k != KindNone {
			return k
		}
	}
	return KindUnknownResponseShape
}

// RequestStatus is the lifecycle of a dispatched Request.
type RequestStatus int

const (
	StatusPending RequestStatus = iota
	StatusSucceeded
	StatusFailed
)

func (s RequestStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusSucceeded:
		return "succeeded"
	case StatusFailed:
		return "failed"
	}
	return "unknown"
}

// Request is one summarization attempt sequence for a given fingerprint.
type Request struct {
	ID               uint64
	Fingerprint      string
	Content          string
	RetriesRemaining int
	Status           RequestStatus
}

// Result is the outcome carried by a ResponseEnvelope. Exactly one of
// Summary or Kind is meaningful: Kind == KindNone means success.
type Result struct {
	Summary string
	Kind    ErrorKind
	Status  int // HTTP status for KindHTTPError
	Message string
}

// IsError reports whether the result carries an error.
func (r Result) IsError() bool {
	return r.Kind != KindNone
}

// SummaryResult builds a successful Result.
func SummaryResult(text string) Result {
	return Result{Summary: text}
}

// ErrorResult builds a failed Result.
func ErrorResult(kind ErrorKind, message string) Result {
	return Result{Kind: kind, Message: message}
}

// ResponseEnvelope pairs a Result with the request it answers.
type ResponseEnvelope struct {
	RequestID uint64
	Result    Result
}

// Phase enumerates the PipelineState variants.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseThreadClosed
	PhaseExtracting
	PhaseAwaitingSummary
	PhaseSummary
	PhaseError
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseThreadClosed:
		return "thread_closed"
	case PhaseExtracting:
		return "extracting"
	case PhaseAwaitingSummary:
		return "awaiting_summary"
	case PhaseSummary:
		return "summary"
	case PhaseError:
		return "error"
	}
	return "unknown"
}

// PipelineState is what the presenter renders. Summary is set for
// PhaseSummary; Kind and Message for PhaseError.
type PipelineState struct {
	Phase   Phase
	Summary string
	Kind    ErrorKind
	Message string
}

// Idle is the state before any page has been observed.
func Idle() PipelineState { return PipelineState{Phase: PhaseIdle} }

// ThreadClosed is the state while no email thread is open.
func ThreadClosed() PipelineState { return PipelineState{Phase: PhaseThreadClosed} }

// Extracting is the state of an open thread with no readable content yet.
func Extracting() PipelineState { return PipelineState{Phase: PhaseExtracting} }

// AwaitingSummary is the state while a summarize request is in flight.
func AwaitingSummary() PipelineState { return PipelineState{Phase: PhaseAwaitingSummary} }

// Summary is the state showing a finished summary.
func Summary(text string) PipelineState {
	return PipelineState{Phase: PhaseSummary, Summary: text}
}

// Error is the state of a failed request.
func Error(kind ErrorKind, message string) PipelineState {
	return PipelineState{Phase: PhaseError, Kind: kind, Message: message}
}

func (s PipelineState) String() string {
	switch s.Phase {
	case PhaseSummary:
		return fmt.Sprintf("summary(%d chars)", len(s.Summary))
	case PhaseError:
		return fmt.Sprintf("error(%s: %s)", s.Kind, s.Message)
	}
	return s.Phase.String()
}
