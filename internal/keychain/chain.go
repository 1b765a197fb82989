package keychain

import "sync"

// Chain is the in-memory list of decrypted key sets for one session.
type Chain struct {
	mu   sync.RWMutex
	sets []*KeySet
}

func NewChain() *Chain { return &Chain{} }

// Add inserts ks, replacing any set with the same ID. The replaced set is not
// destroyed; callers may still hold it. Clear zeroes everything at logout.
func (c *Chain) Add(ks *KeySet) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, s := range c.sets {
		if s.ID == ks.ID {
			c.sets[i] = ks
			return
		}
	}
	c.sets = append(c.sets, ks)
}

func (c *Chain) ByName(name string) (*KeySet, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, s := range c.sets {
		if s.Name == name {
			return s, true
		}
	}
	return nil, false
}

func (c *Chain) ByID(id string) (*KeySet, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, s := range c.sets {
		if s.ID == id {
			return s, true
		}
	}
	return nil, false
}

// Root returns the key set flagged as the account's root-note key.
func (c *Chain) Root() (*KeySet, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, s := range c.sets {
		if s.Meta.Root {
			return s, true
		}
	}
	return nil, false
}

// Remove drops the set from the chain without destroying it.
func (c *Chain) Remove(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, s := range c.sets {
		if s.ID == id {
			c.sets = append(c.sets[:i], c.sets[i+1:]...)
			return true
		}
	}
	return false
}

func (c *Chain) All() []*KeySet {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]*KeySet(nil), c.sets...)
}

func (c *Chain) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.sets)
}

// Clear destroys every key set still in the chain.
func (c *Chain) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.sets {
		s.Destroy()
	}
	c.sets = nil
}
