// Package dispatch keeps at most one summarization request current, retries
// it on channel failures and discards replies that arrive for a superseded
// request.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lotas/threadsum/internal/applog"
	"github.com/lotas/threadsum/internal/relay"
	"github.com/lotas/threadsum/internal/types"
)

// Boundary carries a message to the background side and returns its reply.
// An error means the boundary itself failed and the message may never have
// reached the relay.
type Boundary interface {
	RoundTrip(ctx context.Context, msg relay.Message) (relay.Reply, error)
}

// RetryPolicy bounds channel-level retries: one initial attempt plus up to
// MaxRetries more, Delay apart.
type RetryPolicy struct {
	MaxRetries int
	Delay      time.Duration
}

// DefaultRetryPolicy is 3 retries, 1s apart.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, Delay: time.Second}
}

// ChannelErrorMessage is shown when the relay stays unreachable.
const ChannelErrorMessage = "Failed to communicate with the background relay. Press r to try again."

// Completion is posted to Completions by work running off the owner
// goroutine: either a finished attempt or an elapsed retry delay.
type Completion struct {
	RequestID uint64
	Attempt   int
	Reply     relay.Reply
	Err       error // channel-level failure
	Retry     bool  // retry delay elapsed
}

// Dispatcher is owned by a single goroutine: every method except
// Completions must be called from it. Round trips and retry delays run
// elsewhere and report back through Completions.
type Dispatcher struct {
	boundary Boundary
	policy   RetryPolicy

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	completions chan Completion
	nextID      uint64
	current     *types.Request
	attempt     int
	stopRetry   context.CancelFunc
	state       types.PipelineState
	subscribers []func(types.PipelineState)
	closed      bool
}

// New creates a Dispatcher in the Idle state.
func New(b Boundary, policy RetryPolicy) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		boundary:    b,
		policy:      policy,
		ctx:         ctx,
		cancel:      cancel,
		completions: make(chan Completion, 16),
		state:       types.Idle(),
	}
}

// Completions must be drained by the owner goroutine into Handle.
func (d *Dispatcher) Completions() <-chan Completion {
	return d.completions
}

// Subscribe registers fn for every state change. fn runs on the owner
// goroutine.
func (d *Dispatcher) Subscribe(fn func(types.PipelineState)) {
	d.subscribers = append(d.subscribers, fn)
}

// State returns the current PipelineState.
func (d *Dispatcher) State() types.PipelineState {
	return d.state
}

// Current returns the request replies are currently accepted for.
func (d *Dispatcher) Current() (types.Request, bool) {
	if d.current == nil {
		return types.Request{}, false
	}
	return *d.current, true
}

// ContentChanged supersedes any pending request and dispatches st.Content
// under a fresh request ID. A pending request for the same fingerprint is
// left alone.
func (d *Dispatcher) ContentChanged(st types.PageState) {
	if d.closed {
		return
	}
	if cur := d.current; cur != nil && cur.Status == types.StatusPending && cur.Fingerprint == st.Fingerprint {
		applog.Debug("dispatch.duplicate", "id", cur.ID)
		return
	}
	d.dispatch(st)
}

// ThreadClosed supersedes any pending request without dispatching.
func (d *Dispatcher) ThreadClosed() {
	if d.closed {
		return
	}
	d.supersede()
	d.setState(types.ThreadClosed())
}

// ContentEmpty supersedes any pending request: the thread is open but its
// content has not rendered yet.
func (d *Dispatcher) ContentEmpty() {
	if d.closed {
		return
	}
	d.supersede()
	d.setState(types.Extracting())
}

// Refresh force-dispatches st even when its fingerprint is unchanged or a
// request for it is pending. Retries exhausted earlier do not carry over.
func (d *Dispatcher) Refresh(st types.PageState) {
	if d.closed {
		return
	}
	applog.Info("dispatch.refresh", "open", st.ThreadOpen, "bytes", len(st.Content))
	switch {
	case !st.ThreadOpen:
		d.ThreadClosed()
	case st.Content == "":
		d.ContentEmpty()
	default:
		d.dispatch(st)
	}
}

func (d *Dispatcher) dispatch(st types.PageState) {
	d.supersede()
	d.nextID++
	d.current = &types.Request{
		ID:               d.nextID,
		Fingerprint:      st.Fingerprint,
		Content:          st.Content,
		RetriesRemaining: d.policy.MaxRetries,
		Status:           types.StatusPending,
	}
	d.attempt = 0
	applog.Info("dispatch.request", "id", d.current.ID, "bytes", len(st.Content))
	d.setState(types.AwaitingSummary())
	d.send(*d.current)
}

// supersede forgets the current request; its reply will be discarded.
func (d *Dispatcher) supersede() {
	d.cancelRetry()
	if d.current != nil && d.current.Status == types.StatusPending {
		applog.Debug("dispatch.superseded", "id", d.current.ID)
	}
	d.current = nil
}

func (d *Dispatcher) send(req types.Request) {
	d.attempt++
	attempt := d.attempt
	msg := relay.Message{Action: relay.ActionSummarize, Content: req.Content}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		reply, err := d.boundary.RoundTrip(d.ctx, msg)
		d.post(Completion{RequestID: req.ID, Attempt: attempt, Reply: reply, Err: err})
	}()
}

func (d *Dispatcher) post(c Completion) {
	select {
	case d.completions <- c:
	case <-d.ctx.Done():
	}
}

// Handle applies a completion. Completions for anything but the current
// pending request are dropped.
func (d *Dispatcher) Handle(c Completion) {
	cur := d.current
	if d.closed || cur == nil || cur.ID != c.RequestID || cur.Status != types.StatusPending {
		applog.Debug("dispatch.stale", "id", c.RequestID, "retry", c.Retry)
		return
	}

	if c.Retry {
		d.cancelRetry()
		applog.Info("dispatch.retry", "id", cur.ID, "attempt", d.attempt+1, "remaining", cur.RetriesRemaining)
		d.send(*cur)
		return
	}

	if c.Err != nil {
		applog.Error("dispatch.channel", c.Err, "id", cur.ID, "attempt", c.Attempt)
		if cur.RetriesRemaining > 0 {
			cur.RetriesRemaining--
			d.scheduleRetry(cur.ID)
			return
		}
		cur.Status = types.StatusFailed
		d.setState(types.Error(types.KindChannelError, fmt.Sprintf("%s (%v)", ChannelErrorMessage, c.Err)))
		return
	}

	res := c.Reply.Result()
	if res.IsError() {
		cur.Status = types.StatusFailed
		applog.Info("dispatch.failed", "id", cur.ID, "kind", res.Kind.String())
		d.setState(types.Error(res.Kind, res.Message))
		return
	}
	cur.Status = types.StatusSucceeded
	applog.Info("dispatch.summary", "id", cur.ID, "chars", len(res.Summary))
	d.setState(types.Summary(res.Summary))
}

func (d *Dispatcher) scheduleRetry(id uint64) {
	ctx, cancel := context.WithCancel(d.ctx)
	d.stopRetry = cancel
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		t := time.NewTimer(d.policy.Delay)
		defer t.Stop()
		select {
		case <-t.C:
			d.post(Completion{RequestID: id, Retry: true})
		case <-ctx.Done():
		}
	}()
}

func (d *Dispatcher) cancelRetry() {
	if d.stopRetry != nil {
		d.stopRetry()
		d.stopRetry = nil
	}
}

func (d *Dispatcher) setState(st types.PipelineState) {
	d.state = st
	applog.Debug("dispatch.state", "state", st.String())
	for _, fn := range d.subscribers {
		fn(st)
	}
}

// Close cancels retry timers and in-flight round trips and waits for them to
// finish. Later calls are no-ops.
func (d *Dispatcher) Close() {
	if d.closed {
		return
	}
	d.closed = true
	d.cancelRetry()
	d.cancel()
	d.wg.Wait()
}
