package client

import "sync"

// Callbacks are the lifecycle observers of a Session. Nil fields are skipped.
// They run on a dedicated goroutine in transition order and may call back
// into the Session.
type Callbacks struct {
	OnConnected func()
	OnError     func(message string)
	// OnClosed receives the close reason when one is known, "" otherwise.
	OnClosed func(reason string)
}

type eventKind int

const (
	eventConnected eventKind = iota
	eventError
	eventClosed
)

type event struct {
	kind eventKind
	text string
}

// dispatcher delivers lifecycle events in emission order. Events are emitted
// while the Session lock is held, so delivery order equals transition order.
type dispatcher struct {
	cb Callbacks

	mu      sync.Mutex
	queue   []event
	stopped bool
	wake    chan struct{}
	done    chan struct{}
}

func newDispatcher(cb Callbacks) *dispatcher {
	d := &dispatcher{
		cb:   cb,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *dispatcher) emit(kind eventKind, text string) {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.queue = append(d.queue, event{kind: kind, text: text})
	d.mu.Unlock()
	d.signal()
}

// stop refuses further events; already queued ones are still delivered.
func (d *dispatcher) stop() {
	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()
	d.signal()
}

func (d *dispatcher) signal() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *dispatcher) run() {
	defer close(d.done)
	for {
		d.mu.Lock()
		if len(d.queue) == 0 {
			stopped := d.stopped
			d.mu.Unlock()
			if stopped {
				return
			}
			<-d.wake
			continue
		}
		ev := d.queue[0]
		d.queue = d.queue[1:]
		d.mu.Unlock()

		d.deliver(ev)
	}
}

func (d *dispatcher) deliver(ev event) {
	switch ev.kind {
	case eventConnected:
		if d.cb.OnConnected != nil {
			d.cb.OnConnected()
		}
	case eventError:
		if d.cb.OnError != nil {
			d.cb.OnError(ev.text)
		}
	case eventClosed:
		if d.cb.OnClosed != nil {
			d.cb.OnClosed(ev.text)
		}
	}
}
