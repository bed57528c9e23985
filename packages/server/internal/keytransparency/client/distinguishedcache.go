package client

import (
	"sync"

	"github.com/kindlyrobotics/nochat/internal/keytransparency/store"
)

// DistinguishedCache remembers the last trusted distinguished tree head
// across calls on one client instance (§9 "shared mutable endpoint
// tables"; original_source/rust/net/src/keytrans.rs keeps the same cell
// per client). Passing a nil *DistinguishedCache anywhere the driver
// accepts one preserves the base contract of the caller threading the
// head through every call explicitly.
type DistinguishedCache struct {
	mu   sync.Mutex
	head *store.LastTreeHead
}

// Get returns the cached head, or nil if none has been stored yet.
func (c *DistinguishedCache) Get() *store.LastTreeHead {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.head == nil {
		return nil
	}
	h := *c.head
	return &h
}

// Set replaces the cached head. Safe for concurrent use alongside Get.
func (c *DistinguishedCache) Set(head store.LastTreeHead) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	h := head
	c.head = &h
}
