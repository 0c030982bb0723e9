package host

import "sync"

// Listeners is a goroutine-safe set of callbacks.
// The zero value is ready to use.
type Listeners[T any] struct {
	mu   sync.RWMutex
	next uint64
	fns  map[uint64]func(T)
}

// Add registers fn and returns a function removing it. Calling the returned
// function more than once is harmless.
func (l *Listeners[T]) Add(fn func(T)) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fns == nil {
		l.fns = make(map[uint64]func(T))
	}
	id := l.next
	l.next++
	l.fns[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.fns, id)
			l.mu.Unlock()
		})
	}
}

// Publish calls every registered callback on the caller's goroutine.
func (l *Listeners[T]) Publish(v T) {
	l.mu.RLock()
	fns := make([]func(T), 0, len(l.fns))
	for _, fn := range l.fns {
		fns = append(fns, fn)
	}
	l.mu.RUnlock()

	for _, fn := range fns {
		fn(v)
	}
}

func (l *Listeners[T]) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.fns)
}

// Events fans notifications out by kind.
type Events struct {
	mu    sync.Mutex
	kinds map[EventKind]*Listeners[Notification]
}

func (e *Events) listeners(kind EventKind) *Listeners[Notification] {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.kinds == nil {
		e.kinds = make(map[EventKind]*Listeners[Notification])
	}
	l, ok := e.kinds[kind]
	if !ok {
		l = &Listeners[Notification]{}
		e.kinds[kind] = l
	}
	return l
}

func (e *Events) Subscribe(kind EventKind, fn func(Notification)) func() {
	return e.listeners(kind).Add(fn)
}

func (e *Events) Publish(n Notification) {
	e.listeners(n.Kind).Publish(n)
}
