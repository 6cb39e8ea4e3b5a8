package cache

import "github.com/jmgilman/go/errors"

// ErrReleased is returned by Put when the store's name is no longer claimed.
// The write is dropped, like a write to a cache object whose store was deleted.
var ErrReleased = errors.New(errors.CodeConflict, "store is not claimed by an installed version")

// claimSet restricts which stores may be created.
// Until the first claim every name is allowed.
// It is guarded by the write lock of the owning storage.
type claimSet struct {
	names map[string]struct{}
}

func (c *claimSet) allows(name string) bool {
	if c.names == nil {
		return true
	}
	_, ok := c.names[name]
	return ok
}

func (c *claimSet) claim(names []string) {
	if c.names == nil {
		c.names = make(map[string]struct{}, len(names))
	}
	for _, name := range names {
		c.names[name] = struct{}{}
	}
}

func (c *claimSet) retain(names []string) {
	c.names = make(map[string]struct{}, len(names))
	for _, name := range names {
		c.names[name] = struct{}{}
	}
}
