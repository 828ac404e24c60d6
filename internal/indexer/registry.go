package indexer

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Registry is the indexed set of watched market contracts. It preserves
// discovery order so that enumeration, and with it batch application and
// resubscription, is deterministic across restarts.
type Registry struct {
	mu    sync.RWMutex
	order []common.Address
	seen  map[common.Address]struct{}
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{seen: make(map[common.Address]struct{})}
}

// Add registers a market address. It returns false when the address was
// already known.
func (r *Registry) Add(addr common.Address) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.seen[addr]; ok {
		return false
	}
	r.seen[addr] = struct{}{}
	r.order = append(r.order, addr)
	return true
}

// Contains reports whether the address is registered.
func (r *Registry) Contains(addr common.Address) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.seen[addr]
	return ok
}

// Markets returns the registered addresses in discovery order.
func (r *Registry) Markets() []common.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]common.Address, len(r.order))
	copy(out, r.order)
	return out
}

// Len returns the number of registered markets.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.order)
}
