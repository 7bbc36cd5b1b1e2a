// Package transport defines the publish/subscribe boundary the protocol
// engines run over. The capability is deliberately thin: at-least-once
// delivery, no ordering across messages, no deduplication. Engines tolerate
// duplicates themselves.
package transport

// Handler receives a raw message published on a topic.
type Handler func(topic string, payload []byte)

// Bus is the consumed pub/sub capability. A production deployment backs it
// with a broker; tests use the in-memory implementation in this package.
type Bus interface {
	// Publish sends payload to every subscriber of topic. Delivery is
	// asynchronous and unordered; a message may be delivered more than
	// once.
	Publish(topic string, payload []byte) error

	// Subscribe registers h for topic and returns an unsubscribe
	// function.
	Subscribe(topic string, h Handler) (func(), error)
}
