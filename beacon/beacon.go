// Package beacon implements the call protocol to external verifiable-randomness
// oracles: request encoding, sub-call dispatch, and response decoding.
package beacon

import (
	"fmt"
	"sync"
)

// SeedSize is the byte length of a beacon randomness output.
const SeedSize = 32

// Service is the raw sub-call surface of a randomness beacon. MustGet invokes
// the beacon's must-get entrypoint for a committed round and an encoded salt,
// and returns the beacon's last emitted log record verbatim. Implementations
// fail when the round is not yet committed or the beacon is unreachable;
// callers never retry; retrying is an operator action.
type Service interface {
	MustGet(committedRound uint64, encodedSalt []byte) ([]byte, error)
}

// Directory resolves beacon references from tournament configuration to
// concrete services. Thread-safe for concurrent registration.
type Directory struct {
	mu       sync.RWMutex
	services map[string]Service
}

// NewDirectory creates an empty Directory.
func NewDirectory() *Directory {
	return &Directory{services: make(map[string]Service)}
}

// Register associates ref with svc. Panics on duplicate registration.
func (d *Directory) Register(ref string, svc Service) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.services[ref]; exists {
		panic(fmt.Sprintf("beacon: service already registered for ref %q", ref))
	}
	d.services[ref] = svc
}

// Lookup returns the service registered for ref.
func (d *Directory) Lookup(ref string) (Service, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	svc, ok := d.services[ref]
	return svc, ok
}
