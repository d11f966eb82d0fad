package core

import "sync"

// Listener runs queued callbacks on its own goroutine, one at a time, in push
// order. Push never blocks the producer.
type Listener struct {
	mu        sync.Mutex
	queue     []func()
	finishing bool

	wake     chan struct{}
	done     chan struct{}
	exited   chan struct{}
	stopOnce sync.Once
}

func NewListener() *Listener {
	l := &Listener{
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	go l.loop()
	return l
}

// Push queues fn. It is dropped if the listener is stopped.
func (l *Listener) Push(fn func()) {
	l.mu.Lock()
	select {
	case <-l.done:
		l.mu.Unlock()
		return
	default:
	}
	if l.finishing {
		l.mu.Unlock()
		return
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *Listener) loop() {
	defer close(l.exited)
	for {
		select {
		case <-l.done:
			return
		case <-l.wake:
		}
		for {
			l.mu.Lock()
			if len(l.queue) == 0 {
				finishing := l.finishing
				l.mu.Unlock()
				if finishing {
					return
				}
				break
			}
			fn := l.queue[0]
			l.queue[0] = nil
			l.queue = l.queue[1:]
			l.mu.Unlock()

			select {
			case <-l.done:
				return
			default:
			}
			fn()
		}
	}
}

// Stop cancels pending callbacks and waits for the running one to return.
// Calling Stop from inside one of this listener's callbacks deadlocks.
func (l *Listener) Stop() {
	l.stopOnce.Do(func() {
		l.mu.Lock()
		close(l.done)
		l.queue = nil
		l.mu.Unlock()
	})
	<-l.exited
}

// Finish lets already queued callbacks run, then exits the goroutine without
// waiting. Later pushes are dropped.
func (l *Listener) Finish() {
	l.mu.Lock()
	l.finishing = true
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Done is closed once Stop has been requested.
func (l *Listener) Done() <-chan struct{} { return l.done }
