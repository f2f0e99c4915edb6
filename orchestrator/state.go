package orchestrator

import (
	"sync"
)

type State string

const (
	StateIdle             State = "idle"
	StateValidating       State = "validating"
	StateTranscoding      State = "transcoding"
	StateAwaitingResponse State = "awaiting_response"
	StateSucceeded        State = "succeeded"
	StateFailed           State = "failed"
)

// StateChange is delivered to the observer on every transition.
type StateChange struct {
	From    State
	To      State
	Failure *Failure
	Result  *Result
}

// Dispatcher runs callbacks on the context that owns the UI.
type Dispatcher interface {
	Dispatch(fn func())
}

type DispatcherFunc func(fn func())

func (f DispatcherFunc) Dispatch(fn func()) {
	f(fn)
}

// ImmediateDispatcher runs callbacks on the calling goroutine.
var ImmediateDispatcher Dispatcher = DispatcherFunc(func(fn func()) { fn() })

// SerialDispatcher runs callbacks one at a time, in order, on a single
// goroutine.
type SerialDispatcher struct {
	queue chan func()
	done  chan struct{}

	mu     sync.Mutex
	closed bool
}

func NewSerialDispatcher(buffer int) *SerialDispatcher {
	d := &SerialDispatcher{
		queue: make(chan func(), buffer),
		done:  make(chan struct{}),
	}
	go func() {
		defer close(d.done)
		for fn := range d.queue {
			fn()
		}
	}()
	return d
}

func (d *SerialDispatcher) Dispatch(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.queue <- fn
}

// Close drains queued callbacks and stops the goroutine.
func (d *SerialDispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()
	<-d.done
}
