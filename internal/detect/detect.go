// Package detect turns a live host document into edge-triggered thread
// events.
package detect

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"github.com/lotas/threadsum/internal/applog"
	"github.com/lotas/threadsum/internal/classify"
	"github.com/lotas/threadsum/internal/extract"
	"github.com/lotas/threadsum/internal/page"
	"github.com/lotas/threadsum/internal/types"
)

// ErrSuspended is returned by Start once the detector has been stopped.
var ErrSuspended = errors.New("detector suspended")

// Trigger is what caused a recomputation.
type Trigger int

const (
	TriggerStart Trigger = iota
	TriggerURL
	TriggerMutation
	TriggerFallback
)

func (t Trigger) String() string {
	switch t {
	case TriggerStart:
		return "start"
	case TriggerURL:
		return "url"
	case TriggerMutation:
		return "mutation"
	case TriggerFallback:
		return "fallback"
	}
	return "unknown"
}

// EventKind classifies a detector edge.
type EventKind int

const (
	ThreadClosed EventKind = iota
	ContentEmpty
	ContentChanged
)

func (k EventKind) String() string {
	switch k {
	case ThreadClosed:
		return "thread_closed"
	case ContentEmpty:
		return "content_empty"
	case ContentChanged:
		return "content_changed"
	}
	return "unknown"
}

// Event is an edge notification carrying the state that produced it.
type Event struct {
	Kind  EventKind
	State types.PageState
}

// Config holds trigger cadences and the document readers.
type Config struct {
	URLPoll    time.Duration
	Fallback   time.Duration
	Classifier classify.Classifier
	Extractor  extract.Extractor
}

// Fingerprint identifies content for change detection.
func Fingerprint(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:16])
}

// Observe computes the PageState of a snapshot. It has no side effects.
func Observe(c classify.Classifier, e extract.Extractor, snap page.Snapshot) types.PageState {
	st := types.PageState{URL: snap.URL}
	doc, err := snap.Document()
	if err != nil {
		st.Fingerprint = Fingerprint("")
		return st
	}
	st.ThreadOpen = c.ThreadOpen(doc, snap.URL)
	if st.ThreadOpen {
		st.Content = e.Extract(doc)
	}
	st.Fingerprint = Fingerprint(st.Content)
	return st
}

// Edge decides which event st produces given the fingerprint of the last
// emitted content edge ("" when none). It returns the updated fingerprint.
// A closed thread always produces ThreadClosed and clears the fingerprint so
// that reopening the same thread dispatches again.
func Edge(last string, st types.PageState) (Event, string, bool) {
	if !st.ThreadOpen {
		return Event{Kind: ThreadClosed, State: st}, "", true
	}
	if st.Fingerprint == last {
		return Event{}, last, false
	}
	if st.Content == "" {
		return Event{Kind: ContentEmpty, State: st}, st.Fingerprint, true
	}
	return Event{Kind: ContentChanged, State: st}, st.Fingerprint, true
}

// Detector is the Watching/Suspended state machine. Start launches the
// trigger merger; Step and Refresh must be called from a single goroutine,
// which owns the PageState.
type Detector struct {
	src page.Source
	cfg Config

	state  types.PageState
	last   string
	primed bool

	mu        sync.Mutex
	started   bool
	suspended bool
	stop      chan struct{}
	done      chan struct{}
}

// New creates a detector in the Watching state.
func New(src page.Source, cfg Config) *Detector {
	return &Detector{
		src:  src,
		cfg:  cfg,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

// State returns the PageState of the latest successful tick.
func (d *Detector) State() types.PageState {
	return d.state
}

// Start begins watching and returns the merged trigger stream. The stream
// delivers TriggerStart first and is closed by Stop.
func (d *Detector) Start() (<-chan Trigger, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.suspended {
		return nil, ErrSuspended
	}
	if d.started {
		return nil, errors.New("detector already started")
	}
	d.started = true

	out := make(chan Trigger)
	go d.merge(out)
	return out, nil
}

// Stop moves to Suspended: tickers stop, the mutation feed is released and
// the trigger stream closes. Stop is idempotent and waits for the merger to
// exit; a suspended detector never restarts.
func (d *Detector) Stop() {
	d.mu.Lock()
	if d.suspended {
		d.mu.Unlock()
		<-d.done
		return
	}
	d.suspended = true
	started := d.started
	close(d.stop)
	d.mu.Unlock()

	if started {
		<-d.done
	} else {
		close(d.done)
	}
	applog.Info("detect.suspended")
}

// Suspended reports whether Stop has been called.
func (d *Detector) Suspended() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.suspended
}

func (d *Detector) merge(out chan<- Trigger) {
	urlTick := time.NewTicker(d.cfg.URLPoll)
	fallbackTick := time.NewTicker(d.cfg.Fallback)
	defer func() {
		urlTick.Stop()
		fallbackTick.Stop()
		close(out)
		close(d.done)
	}()

	mutations := d.src.Mutations()

	emit := func(t Trigger) bool {
		select {
		case out <- t:
			return true
		case <-d.stop:
			return false
		}
	}

	if !emit(TriggerStart) {
		return
	}
	for {
		var t Trigger
		// URL changes first, then mutations, then the fallback cadence.
		select {
		case <-urlTick.C:
			t = TriggerURL
		default:
			select {
			case <-d.stop:
				return
			case <-urlTick.C:
				t = TriggerURL
			case <-mutations:
				t = TriggerMutation
			case <-fallbackTick.C:
				t = TriggerFallback
			}
		}
		if t == TriggerMutation {
			drain(mutations)
		}
		if !emit(t) {
			return
		}
	}
}

func drain(ch <-chan struct{}) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}

// Step recomputes the PageState for trigger t and returns the resulting
// edge, if any. A URL poll whose URL is unchanged skips the document read.
func (d *Detector) Step(ctx context.Context, t Trigger) (Event, bool) {
	if t == TriggerURL && d.primed && d.src.URL() == d.state.URL {
		return Event{}, false
	}
	st, ok := d.observe(ctx)
	if !ok {
		return Event{}, false
	}
	ev, last, emit := Edge(d.last, st)
	d.last = last
	if emit {
		applog.Debug("detect.edge", "trigger", t.String(), "kind", ev.Kind.String(), "url", st.URL)
	}
	return ev, emit
}

// Refresh recomputes the PageState and returns an event for it regardless
// of the last emitted fingerprint. If the document cannot be read, the last
// known state is used.
func (d *Detector) Refresh(ctx context.Context) Event {
	st, ok := d.observe(ctx)
	if !ok {
		st = d.state
	}
	switch {
	case !st.ThreadOpen:
		d.last = ""
		return Event{Kind: ThreadClosed, State: st}
	case st.Content == "":
		d.last = st.Fingerprint
		return Event{Kind: ContentEmpty, State: st}
	}
	d.last = st.Fingerprint
	return Event{Kind: ContentChanged, State: st}
}

func (d *Detector) observe(ctx context.Context) (types.PageState, bool) {
	snap, err := d.src.Snapshot(ctx)
	if err != nil {
		if errors.Is(err, page.ErrNoSnapshot) {
			applog.Debug("detect.waiting")
		} else {
			applog.Error("detect.snapshot", err)
		}
		return types.PageState{}, false
	}
	d.state = Observe(d.cfg.Classifier, d.cfg.Extractor, snap)
	d.primed = true
	return d.state, true
}
