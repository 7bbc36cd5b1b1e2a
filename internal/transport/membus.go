package transport

import (
	"errors"
	"sync"
)

// MemBus is an in-process Bus for single-process deployments and tests.
// Delivery is asynchronous, per-subscriber unordered relative to other
// subscribers, and can be configured to deliver duplicate copies to exercise
// the at-least-once contract.
type MemBus struct {
	mu     sync.RWMutex
	closed bool
	nextID int
	subs   map[string]map[int]Handler

	// DeliverCopies is how many times each message is handed to each
	// subscriber. Zero means one.
	DeliverCopies int

	wg sync.WaitGroup
}

// NewMemBus creates an empty in-memory bus.
func NewMemBus() *MemBus {
	return &MemBus{subs: make(map[string]map[int]Handler)}
}

// Publish delivers payload to all current subscribers of topic, each on its
// own goroutine.
func (b *MemBus) Publish(topic string, payload []byte) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return errors.New("bus closed")
	}
	handlers := make([]Handler, 0, len(b.subs[topic]))
	for _, h := range b.subs[topic] {
		handlers = append(handlers, h)
	}
	copies := b.DeliverCopies
	b.mu.RUnlock()

	if copies < 1 {
		copies = 1
	}

	for _, h := range handlers {
		for i := 0; i < copies; i++ {
			h := h
			b.wg.Add(1)
			go func() {
				defer b.wg.Done()
				h(topic, payload)
			}()
		}
	}
	return nil
}

// Subscribe registers h for topic.
func (b *MemBus) Subscribe(topic string, h Handler) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, errors.New("bus closed")
	}

	if b.subs[topic] == nil {
		b.subs[topic] = make(map[int]Handler)
	}
	id := b.nextID
	b.nextID++
	b.subs[topic][id] = h

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs[topic], id)
	}, nil
}

// Close stops accepting publishes and waits for in-flight deliveries.
func (b *MemBus) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.wg.Wait()
}
