package orchestrator

import (
	"context"
	"sync"
	"time"
)

// Loop runs posted closures one at a time on a single goroutine. Post never
// blocks, so process goroutines can report events without waiting on the
// state machine.
type Loop struct {
	mu     sync.Mutex
	queue  []func()
	notify chan struct{}
}

func NewLoop() *Loop {
	return &Loop{notify: make(chan struct{}, 1)}
}

// Post enqueues fn. It is safe to call from any goroutine, including from
// inside a running closure.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	l.queue = append(l.queue, fn)
	l.mu.Unlock()
	select {
	case l.notify <- struct{}{}:
	default:
	}
}

// Run processes closures until ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	for {
		l.RunPending()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.notify:
		}
	}
}

// RunPending runs every queued closure, including ones posted while
// draining, and returns how many ran. It must not be called concurrently
// with Run.
func (l *Loop) RunPending() int {
	n := 0
	for {
		l.mu.Lock()
		if len(l.queue) == 0 {
			l.mu.Unlock()
			return n
		}
		fn := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
		l.mu.Unlock()
		fn()
		n++
	}
}

// Debouncer keeps at most one delayed task per key. The task runs on the
// loop; triggering again or cancelling drops the pending one.
type Debouncer struct {
	loop *Loop

	mu      sync.Mutex
	seq     uint64
	pending map[string]debounced
}

type debounced struct {
	id    uint64
	timer *time.Timer
}

func NewDebouncer(loop *Loop) *Debouncer {
	return &Debouncer{loop: loop, pending: make(map[string]debounced)}
}

// Trigger (re)arms the task for key.
func (d *Debouncer) Trigger(key string, delay time.Duration, fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if prev, ok := d.pending[key]; ok {
		prev.timer.Stop()
	}
	d.seq++
	id := d.seq
	timer := time.AfterFunc(delay, func() {
		d.loop.Post(func() {
			if d.take(key, id) {
				fn()
			}
		})
	})
	d.pending[key] = debounced{id: id, timer: timer}
}

// take removes the task if it is still the armed one for key.
func (d *Debouncer) take(key string, id uint64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	cur, ok := d.pending[key]
	if !ok || cur.id != id {
		return false
	}
	delete(d.pending, key)
	return true
}

func (d *Debouncer) Cancel(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if prev, ok := d.pending[key]; ok {
		prev.timer.Stop()
		delete(d.pending, key)
	}
}

// armed reports whether a task is armed for key.
func (d *Debouncer) armed(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.pending[key]
	return ok
}

// CancelAll drops every pending task.
func (d *Debouncer) CancelAll() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for key, p := range d.pending {
		p.timer.Stop()
		delete(d.pending, key)
	}
}
