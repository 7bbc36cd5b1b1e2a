// Package router demultiplexes inbound transport messages to the protocol
// engines by message type and role. Malformed messages are dropped with a
// debug log; an inbound rate limit sheds at-least-once redelivery storms.
package router

import (
	"fmt"

	"golang.org/x/time/rate"

	"github.com/holdfast-net/holdfast/internal/logging"
	"github.com/holdfast-net/holdfast/internal/protocol"
	"github.com/holdfast-net/holdfast/internal/transport"
)

// Handlers names the engine entry points a node registers. Nil entries mean
// the node does not play that side of the protocol: an owner-only node
// leaves the request handlers nil, a holder-only node the response handlers.
type Handlers struct {
	// Holder side.
	StoreRequest        func(*protocol.StoreRequest)
	RetrieveRequest     func(*protocol.RetrieveRequest)
	StorageProofRequest func(*protocol.StorageProofRequest)
	DeleteRequest       func(*protocol.DeleteRequest)

	// Owner side.
	StoreAck             func(*protocol.StoreAck)
	RetrieveResponse     func(*protocol.RetrieveResponse)
	StorageProofResponse func(*protocol.StorageProofResponse)
}

// Router owns the node's transport subscriptions.
type Router struct {
	bus     transport.Bus
	limiter *rate.Limiter
	unsubs  []func()
}

// New creates a router over bus. ratePerSecond caps inbound message
// processing; zero means unlimited.
func New(bus transport.Bus, ratePerSecond float64) *Router {
	r := &Router{bus: bus}
	if ratePerSecond > 0 {
		burst := int(ratePerSecond)
		if burst < 1 {
			burst = 1
		}
		r.limiter = rate.NewLimiter(rate.Limit(ratePerSecond), burst)
	}
	return r
}

// Start subscribes to every topic with a registered handler.
func (r *Router) Start(h Handlers) error {
	type binding struct {
		topic    string
		msgType  string
		dispatch func(*protocol.Envelope) error
	}

	var bindings []binding
	if h.StoreRequest != nil {
		bindings = append(bindings, binding{protocol.TopicStoreRequest, protocol.TypeStoreRequest, func(env *protocol.Envelope) error {
			var msg protocol.StoreRequest
			if err := env.DecodeBody(&msg); err != nil {
				return err
			}
			h.StoreRequest(&msg)
			return nil
		}})
	}
	if h.RetrieveRequest != nil {
		bindings = append(bindings, binding{protocol.TopicRetrieveRequest, protocol.TypeRetrieveRequest, func(env *protocol.Envelope) error {
			var msg protocol.RetrieveRequest
			if err := env.DecodeBody(&msg); err != nil {
				return err
			}
			h.RetrieveRequest(&msg)
			return nil
		}})
	}
	if h.StorageProofRequest != nil {
		bindings = append(bindings, binding{protocol.TopicStorageProofRequest, protocol.TypeStorageProofRequest, func(env *protocol.Envelope) error {
			var msg protocol.StorageProofRequest
			if err := env.DecodeBody(&msg); err != nil {
				return err
			}
			h.StorageProofRequest(&msg)
			return nil
		}})
	}
	if h.DeleteRequest != nil {
		bindings = append(bindings, binding{protocol.TopicDeleteRequest, protocol.TypeDeleteRequest, func(env *protocol.Envelope) error {
			var msg protocol.DeleteRequest
			if err := env.DecodeBody(&msg); err != nil {
				return err
			}
			h.DeleteRequest(&msg)
			return nil
		}})
	}
	if h.StoreAck != nil {
		bindings = append(bindings, binding{protocol.TopicStoreAck, protocol.TypeStoreAck, func(env *protocol.Envelope) error {
			var msg protocol.StoreAck
			if err := env.DecodeBody(&msg); err != nil {
				return err
			}
			h.StoreAck(&msg)
			return nil
		}})
	}
	if h.RetrieveResponse != nil {
		bindings = append(bindings, binding{protocol.TopicRetrieveResponse, protocol.TypeRetrieveResponse, func(env *protocol.Envelope) error {
			var msg protocol.RetrieveResponse
			if err := env.DecodeBody(&msg); err != nil {
				return err
			}
			h.RetrieveResponse(&msg)
			return nil
		}})
	}
	if h.StorageProofResponse != nil {
		bindings = append(bindings, binding{protocol.TopicStorageProofResponse, protocol.TypeStorageProofResponse, func(env *protocol.Envelope) error {
			var msg protocol.StorageProofResponse
			if err := env.DecodeBody(&msg); err != nil {
				return err
			}
			h.StorageProofResponse(&msg)
			return nil
		}})
	}

	for _, b := range bindings {
		b := b
		unsub, err := r.bus.Subscribe(b.topic, func(topic string, payload []byte) {
			r.handle(topic, b.msgType, payload, b.dispatch)
		})
		if err != nil {
			r.Stop()
			return fmt.Errorf("failed to subscribe %s: %w", b.topic, err)
		}
		r.unsubs = append(r.unsubs, unsub)
	}
	return nil
}

func (r *Router) handle(topic, wantType string, payload []byte, dispatch func(*protocol.Envelope) error) {
	if r.limiter != nil && !r.limiter.Allow() {
		logging.Debug("inbound rate limit exceeded, dropping message",
			logging.String("topic", topic))
		return
	}

	env, err := protocol.Decode(payload)
	if err != nil {
		logging.Debug("dropping malformed message",
			logging.String("topic", topic), logging.Err(err))
		return
	}
	if env.Type != wantType {
		logging.Debug("dropping message of unexpected type",
			logging.String("topic", topic), logging.String("type", env.Type))
		return
	}
	if err := dispatch(env); err != nil {
		logging.Debug("dropping undecodable message",
			logging.String("topic", topic), logging.Err(err))
	}
}

// Stop removes all subscriptions.
func (r *Router) Stop() {
	for _, unsub := range r.unsubs {
		unsub()
	}
	r.unsubs = nil
}
