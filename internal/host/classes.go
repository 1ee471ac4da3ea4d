package host

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

var (
	// ErrClassExists is returned when a (kind, id) pair is already registered.
	ErrClassExists = errors.New("host: class already registered")
	// ErrClassMissing is returned when unregistering an unknown class.
	ErrClassMissing = errors.New("host: class not registered")
)

// ClassRef identifies a registered class.
type ClassRef struct {
	Kind  string
	ID    string
	Owner string
}

func (r ClassRef) key() string {
	return r.Kind + "\x00" + r.ID
}

func (r ClassRef) String() string {
	return fmt.Sprintf("%s:%s", r.Kind, r.ID)
}

// Classes is the host registration primitive. Every class carries the id of
// the module that registered it so a module's leftovers can be released when
// it is disabled or fails half way through register.
type Classes struct {
	mu      sync.RWMutex
	entries map[string]ClassRef
}

// NewClasses returns an empty class table.
func NewClasses() *Classes {
	return &Classes{entries: map[string]ClassRef{}}
}

// Register adds a class owned by owner.
func (c *Classes) Register(owner, kind, id string) error {
	ref := ClassRef{
		Kind:  strings.TrimSpace(kind),
		ID:    strings.TrimSpace(id),
		Owner: strings.TrimSpace(owner),
	}
	if ref.Kind == "" || ref.ID == "" {
		return fmt.Errorf("host: class kind and id are required")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.entries[ref.key()]; ok {
		return fmt.Errorf("%w: %s (owned by %q)", ErrClassExists, ref, existing.Owner)
	}
	c.entries[ref.key()] = ref
	return nil
}

// Unregister removes a class. Only the owning module may remove it.
func (c *Classes) Unregister(owner, kind, id string) error {
	ref := ClassRef{Kind: strings.TrimSpace(kind), ID: strings.TrimSpace(id)}
	c.mu.Lock()
	defer c.mu.Unlock()
	existing, ok := c.entries[ref.key()]
	if !ok {
		return fmt.Errorf("%w: %s", ErrClassMissing, ref)
	}
	if existing.Owner != strings.TrimSpace(owner) {
		return fmt.Errorf("host: %s is owned by %q, not %q", ref, existing.Owner, owner)
	}
	delete(c.entries, ref.key())
	return nil
}

// ReleaseOwner removes every class owned by owner and returns them.
func (c *Classes) ReleaseOwner(owner string) []ClassRef {
	c.mu.Lock()
	defer c.mu.Unlock()
	var released []ClassRef
	for key, ref := range c.entries {
		if ref.Owner == owner {
			released = append(released, ref)
			delete(c.entries, key)
		}
	}
	sortRefs(released)
	return released
}

// Owned lists the classes registered by owner.
func (c *Classes) Owned(owner string) []ClassRef {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var refs []ClassRef
	for _, ref := range c.entries {
		if ref.Owner == owner {
			refs = append(refs, ref)
		}
	}
	sortRefs(refs)
	return refs
}

// All lists every registered class.
func (c *Classes) All() []ClassRef {
	c.mu.RLock()
	defer c.mu.RUnlock()
	refs := make([]ClassRef, 0, len(c.entries))
	for _, ref := range c.entries {
		refs = append(refs, ref)
	}
	sortRefs(refs)
	return refs
}

// Len returns the number of registered classes.
func (c *Classes) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func sortRefs(refs []ClassRef) {
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Kind != refs[j].Kind {
			return refs[i].Kind < refs[j].Kind
		}
		return refs[i].ID < refs[j].ID
	})
}
