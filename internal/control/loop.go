package control

import "sync"

// Loop is the reactor: a single goroutine running posted tasks in order.
type Loop struct {
	tasks  chan func()
	closed chan struct{}
	once   sync.Once
}

func NewLoop() *Loop {
	return &Loop{
		tasks:  make(chan func(), 64),
		closed: make(chan struct{}),
	}
}

// Run executes tasks until Close.
func (l *Loop) Run() {
	for {
		select {
		case fn := <-l.tasks:
			fn()
		case <-l.closed:
			return
		}
	}
}

// Post queues fn. It reports false once the loop is closed.
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.closed:
		return false
	default:
	}
	select {
	case l.tasks <- fn:
		return true
	case <-l.closed:
		return false
	}
}

// Sync runs fn on the loop and waits for it. Never call it from a task.
func (l *Loop) Sync(fn func()) bool {
	done := make(chan struct{})
	if !l.Post(func() {
		defer close(done)
		fn()
	}) {
		return false
	}
	select {
	case <-done:
		return true
	case <-l.closed:
		return false
	}
}

func (l *Loop) Close() {
	l.once.Do(func() { close(l.closed) })
}
