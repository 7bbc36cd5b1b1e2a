package replicate

import (
	"math/rand"
	"sync"

	"github.com/holdfast-net/holdfast/internal/logging"
	"github.com/holdfast-net/holdfast/internal/store"
)

// AdmissionConfig tunes the holder-side store admission policy.
type AdmissionConfig struct {
	// MaxBytes caps total stored payload bytes; zero means unlimited.
	MaxBytes int64 `json:"max_bytes,omitempty"`
	// MaxChunks caps the number of stored records; zero means unlimited.
	MaxChunks int `json:"max_chunks,omitempty"`
	// AcceptProbability in (0,1] thins the herd when many holders listen,
	// so a popular chunk is not stored by every node that hears the
	// request. Zero means 1.0.
	AcceptProbability float64 `json:"accept_probability,omitempty"`
}

// AdmissionPolicy decides whether a holder accepts a store request. A
// rejection produces no wire traffic: non-participation is indistinguishable
// from not listening.
type AdmissionPolicy struct {
	cfg   AdmissionConfig
	store store.Store

	mu  sync.Mutex
	rng *rand.Rand
}

// NewAdmissionPolicy builds a policy over the holder's store.
func NewAdmissionPolicy(cfg AdmissionConfig, st store.Store, seed int64) *AdmissionPolicy {
	if cfg.AcceptProbability <= 0 || cfg.AcceptProbability > 1 {
		cfg.AcceptProbability = 1.0
	}
	return &AdmissionPolicy{
		cfg:   cfg,
		store: st,
		rng:   rand.New(rand.NewSource(seed)),
	}
}

// Admit reports whether a payload of the given size should be accepted.
func (p *AdmissionPolicy) Admit(payloadSize int64) bool {
	if p.cfg.AcceptProbability < 1.0 {
		p.mu.Lock()
		roll := p.rng.Float64()
		p.mu.Unlock()
		if roll >= p.cfg.AcceptProbability {
			return false
		}
	}

	if p.cfg.MaxChunks > 0 {
		ids, err := p.store.ListRecords()
		if err != nil {
			logging.Error("admission: failed to count records", logging.Err(err))
			return false
		}
		if len(ids) >= p.cfg.MaxChunks {
			return false
		}
	}

	if p.cfg.MaxBytes > 0 {
		used, err := p.store.UsedBytes()
		if err != nil {
			logging.Error("admission: failed to measure usage", logging.Err(err))
			return false
		}
		if used+payloadSize > p.cfg.MaxBytes {
			return false
		}
	}

	return true
}
