// Package scheduleutil provides scheduling and wait-notification utilities.
package scheduleutil

import (
	"fmt"
	"sync"
)

// Wait defines the wait-operation interface.
type Wait interface {
	// Register returns a receiver channel that can be used to wait
	// until the event of id gets triggered, receiving the value
	// passed to the Trigger call.
	Register(id uint64) <-chan interface{}

	// Trigger triggers the event of id with x.
	// The channel from the Register call receives x.
	Trigger(id uint64, x interface{})

	// IsRegistered returns true if the id is already registered.
	IsRegistered(id uint64) bool
}

// waitList contains all waiting events.
type waitList struct {
	mu   sync.Mutex
	list map[uint64]chan interface{}
}

// NewWait returns a new Wait.
func NewWait() Wait {
	return &waitList{list: make(map[uint64]chan interface{})}
}

func (w *waitList) Register(id uint64) <-chan interface{} {
	w.mu.Lock()
	defer w.mu.Unlock()

	ch := w.list[id]
	if ch != nil {
		panic(fmt.Errorf("scheduleutil: duplicate id %x", id))
	}
	ch = make(chan interface{}, 1)
	w.list[id] = ch
	return ch
}

func (w *waitList) Trigger(id uint64, x interface{}) {
	w.mu.Lock()
	ch := w.list[id]
	delete(w.list, id)
	w.mu.Unlock()

	if ch != nil {
		ch <- x
		close(ch)
	}
}

func (w *waitList) IsRegistered(id uint64) bool {
	w.mu.Lock()
	_, ok := w.list[id]
	w.mu.Unlock()
	return ok
}
