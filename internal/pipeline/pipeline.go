// Package pipeline runs detection and dispatch on one goroutine.
package pipeline

import (
	"context"
	"errors"
	"sync"

	"github.com/lotas/threadsum/internal/applog"
	"github.com/lotas/threadsum/internal/detect"
	"github.com/lotas/threadsum/internal/dispatch"
	"github.com/lotas/threadsum/internal/page"
	"github.com/lotas/threadsum/internal/types"
)

var (
	// ErrStopped is returned by Run on a pipeline that was already stopped.
	ErrStopped = errors.New("pipeline stopped")
	ErrRunning = errors.New("pipeline already running")
)

// Config wires a pipeline.
type Config struct {
	Detect   detect.Config
	Retry    dispatch.RetryPolicy
	Boundary dispatch.Boundary
}

// Pipeline owns the detector's PageState and the dispatcher's current
// request. Both are only touched by the goroutine inside Run.
type Pipeline struct {
	detector   *detect.Detector
	dispatcher *dispatch.Dispatcher

	refresh chan struct{}
	states  chan types.PipelineState

	mu      sync.Mutex
	running bool
	stopped bool
	stop    chan struct{}
	done    chan struct{}
}

// New creates a pipeline over src.
func New(src page.Source, cfg Config) *Pipeline {
	p := &Pipeline{
		detector:   detect.New(src, cfg.Detect),
		dispatcher: dispatch.New(cfg.Boundary, cfg.Retry),
		refresh:    make(chan struct{}, 1),
		states:     make(chan types.PipelineState, 16),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	p.dispatcher.Subscribe(p.publish)
	return p
}

// States delivers every PipelineState transition. It is closed when Run
// returns. A slow reader loses intermediate states, never the latest one.
func (p *Pipeline) States() <-chan types.PipelineState {
	return p.states
}

// Refresh asks for a forced re-dispatch of the current content. It never
// blocks; refreshes requested while one is queued collapse into it.
func (p *Pipeline) Refresh() {
	select {
	case p.refresh <- struct{}{}:
	default:
	}
}

// Run drives the pipeline until ctx is done or Stop is called, then tears
// down the detector and the dispatcher before returning.
func (p *Pipeline) Run(ctx context.Context) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return ErrStopped
	}
	if p.running {
		p.mu.Unlock()
		return ErrRunning
	}
	p.running = true
	p.mu.Unlock()

	defer close(p.done)
	defer close(p.states)
	defer p.dispatcher.Close()
	defer p.detector.Stop()

	triggers, err := p.detector.Start()
	if err != nil {
		return err
	}
	p.publish(types.Idle())
	applog.Info("pipeline.start")

	for {
		select {
		case <-ctx.Done():
			applog.Info("pipeline.stop", "reason", "context")
			return nil
		case <-p.stop:
			applog.Info("pipeline.stop", "reason", "stop")
			return nil
		case t, ok := <-triggers:
			if !ok {
				return nil
			}
			if ev, ok := p.detector.Step(ctx, t); ok {
				p.apply(ev)
			}
		case c := <-p.dispatcher.Completions():
			p.dispatcher.Handle(c)
		case <-p.refresh:
			ev := p.detector.Refresh(ctx)
			p.dispatcher.Refresh(ev.State)
		}
	}
}

func (p *Pipeline) apply(ev detect.Event) {
	switch ev.Kind {
	case detect.ThreadClosed:
		p.dispatcher.ThreadClosed()
	case detect.ContentEmpty:
		p.dispatcher.ContentEmpty()
	case detect.ContentChanged:
		p.dispatcher.ContentChanged(ev.State)
	}
}

// publish hands st to States, dropping the oldest queued state if the
// reader is behind.
func (p *Pipeline) publish(st types.PipelineState) {
	for {
		select {
		case p.states <- st:
			return
		default:
		}
		select {
		case <-p.states:
		default:
		}
	}
}

// Stop ends Run and waits for teardown. It is idempotent; a stopped
// pipeline cannot be run again.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	if p.stopped {
		running := p.running
		p.mu.Unlock()
		if running {
			<-p.done
		}
		return
	}
	p.stopped = true
	running := p.running
	close(p.stop)
	p.mu.Unlock()

	if running {
		<-p.done
	} else {
		p.detector.Stop()
		p.dispatcher.Close()
	}
}
