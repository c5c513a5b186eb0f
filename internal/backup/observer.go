package backup

//go:generate go run go.uber.org/mock/mockgen -package backup_test -destination observer_mock_test.go github.com/joe/multisave/internal/backup Observer

import (
	"runtime/debug"
	"sync"
)

// Observer receives job events. Update must not block for long: it runs on
// the job's worker goroutine.
type Observer interface {
	Update(Event)
}

// ObserverFunc adapts a plain function to Observer.
type ObserverFunc func(Event)

// Update calls f(event).
func (f ObserverFunc) Update(event Event) {
	f(event)
}

type subscription struct {
	id       uint64
	observer Observer
}

// observerList is an ordered subscriber list. Notification iterates a copy,
// so observers may attach or detach from inside Update.
type observerList struct {
	mu     sync.Mutex
	nextID uint64
	subs   []subscription
}

func (l *observerList) attach(obs Observer) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.nextID++
	l.subs = append(l.subs, subscription{id: l.nextID, observer: obs})

	return l.nextID
}

func (l *observerList) detach(id uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, sub := range l.subs {
		if sub.id == id {
			l.subs = append(l.subs[:i:i], l.subs[i+1:]...)
			return
		}
	}
}

// notify delivers event in registration order. A panicking observer is
// logged and skipped.
func (l *observerList) notify(event Event) {
	l.mu.Lock()
	subs := make([]subscription, len(l.subs))
	copy(subs, l.subs)
	l.mu.Unlock()

	for _, sub := range subs {
		deliver(sub.observer, event)
	}
}

func deliver(obs Observer, event Event) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("observer %T panicked on %s: %v\n%s", obs, event, r, debug.Stack())
		}
	}()

	obs.Update(event)
}
