package server

import "sync"

// ListenerFunc receives the data passed to Notify.
type ListenerFunc func(data any)

type listenerEntry struct {
	id uint64
	fn ListenerFunc
}

// Listeners is a registry of event callbacks keyed by event name.
// It is safe for concurrent use.
type Listeners struct {
	mu      sync.RWMutex
	nextID  uint64
	byEvent map[string][]listenerEntry
}

// NewListeners creates an empty registry.
func NewListeners() *Listeners {
	return &Listeners{
		byEvent: make(map[string][]listenerEntry),
	}
}

// AddListener registers fn for event. Calling the returned function removes it;
// extra calls are no-ops.
func (l *Listeners) AddListener(event string, fn ListenerFunc) (remove func()) {
	l.mu.Lock()
	l.nextID++
	id := l.nextID
	l.byEvent[event] = append(l.byEvent[event], listenerEntry{id: id, fn: fn})
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { l.remove(event, id) })
	}
}

func (l *Listeners) remove(event string, id uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries := l.byEvent[event]
	for i, entry := range entries {
		if entry.id == id {
			// Copy so snapshots taken by Notify stay intact
			next := make([]listenerEntry, 0, len(entries)-1)
			next = append(next, entries[:i]...)
			next = append(next, entries[i+1:]...)
			if len(next) == 0 {
				delete(l.byEvent, event)
			} else {
				l.byEvent[event] = next
			}
			return
		}
	}
}

// Notify calls every listener of event in registration order and returns how
// many were called. Listeners run without the registry lock held, so they may
// add or remove listeners themselves.
func (l *Listeners) Notify(event string, data any) int {
	l.mu.RLock()
	entries := l.byEvent[event]
	l.mu.RUnlock()

	for _, entry := range entries {
		entry.fn(data)
	}
	return len(entries)
}

// Count returns the number of listeners registered for event.
func (l *Listeners) Count(event string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.byEvent[event])
}
