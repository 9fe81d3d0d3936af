// Package nonces keeps an in-memory record of payment nonces the
// facilitator has seen consumed. It is a fast path only: the vault's
// usedNonces mapping stays authoritative, and the settler re-checks it
// before every submission so a process restart loses nothing.
package nonces

import (
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Cache tracks consumed payment nonces per chain.
type Cache struct {
	// Per-chain data structures
	chains map[int]*chainNonceData
	// Global lock for accessing the chains map
	mu sync.RWMutex
}

// chainNonceData holds consumed nonces for a specific chain
type chainNonceData struct {
	// Consumed (buyer, nonce) pairs with the time they were recorded
	used map[nonceKey]time.Time
	// Chain-specific mutex
	mu sync.Mutex
}

type nonceKey struct {
	buyer common.Address
	nonce common.Hash
}

// New creates an empty nonce cache.
func New() *Cache {
	return &Cache{
		chains: make(map[int]*chainNonceData),
	}
}

// initializeChain ensures chain data is initialized
func (c *Cache) initializeChain(chainID int) *chainNonceData {
	c.mu.RLock()
	data, exists := c.chains[chainID]
	c.mu.RUnlock()
	if exists {
		return data
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if data, exists = c.chains[chainID]; exists {
		return data
	}
	data = &chainNonceData{
		used: make(map[nonceKey]time.Time),
	}
	c.chains[chainID] = data
	return data
}

func key(buyer, nonce string) nonceKey {
	return nonceKey{
		buyer: common.HexToAddress(buyer),
		nonce: common.HexToHash(strings.ToLower(nonce)),
	}
}

// MarkUsed records a (buyer, nonce) pair as consumed on the given chain.
func (c *Cache) MarkUsed(chainID int, buyer, nonce string) {
	data := c.initializeChain(chainID)

	data.mu.Lock()
	defer data.mu.Unlock()
	data.used[key(buyer, nonce)] = time.Now()
}

// Used reports whether the cache has seen the (buyer, nonce) pair consumed.
// A false answer means "not observed here", not "unused on-chain".
func (c *Cache) Used(chainID int, buyer, nonce string) bool {
	data := c.initializeChain(chainID)

	data.mu.Lock()
	defer data.mu.Unlock()
	_, ok := data.used[key(buyer, nonce)]
	return ok
}

// Count returns the number of consumed nonces recorded for a chain.
func (c *Cache) Count(chainID int) int {
	data := c.initializeChain(chainID)

	data.mu.Lock()
	defer data.mu.Unlock()
	return len(data.used)
}
