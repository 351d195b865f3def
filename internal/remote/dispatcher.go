package remote

import "sync"

// dispatcher runs callbacks one at a time in the order they were queued.
type dispatcher struct {
	mu     sync.Mutex
	queue  []func()
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

func newDispatcher() *dispatcher {
	d := &dispatcher{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go d.run()

	return d
}

func (d *dispatcher) enqueue(fn func()) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.queue = append(d.queue, fn)
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *dispatcher) run() {
	for {
		d.mu.Lock()
		queue := d.queue
		d.queue = nil
		d.mu.Unlock()

		for _, fn := range queue {
			fn()
		}
		if len(queue) > 0 {
			continue
		}

		select {
		case <-d.wake:
		case <-d.done:
			d.mu.Lock()
			queue := d.queue
			d.queue = nil
			d.mu.Unlock()
			for _, fn := range queue {
				fn()
			}
			return
		}
	}
}

// close drops callbacks queued after it and stops the goroutine once the
// queue drains.
func (d *dispatcher) close() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return
	}
	d.closed = true
	close(d.done)
}
