package loader

import "github.com/xkilldash9x/adarchive/api/schemas"

// ProcessedSet remembers handled containers by identity, in first-seen order.
// It only grows.
type ProcessedSet struct {
	seen  map[schemas.ElementHandle]struct{}
	order []schemas.ElementHandle
}

// NewProcessedSet returns an empty set.
func NewProcessedSet() *ProcessedSet {
	return &ProcessedSet{seen: make(map[schemas.ElementHandle]struct{})}
}

// Add records h. Adding a known handle is a no-op.
func (p *ProcessedSet) Add(h schemas.ElementHandle) {
	if _, ok := p.seen[h]; ok {
		return
	}
	p.seen[h] = struct{}{}
	p.order = append(p.order, h)
}

// Contains reports whether h was already added.
func (p *ProcessedSet) Contains(h schemas.ElementHandle) bool {
	_, ok := p.seen[h]
	return ok
}

// Len returns the number of distinct handles added.
func (p *ProcessedSet) Len() int { return len(p.order) }

// Order returns the handles in the order they were added.
func (p *ProcessedSet) Order() []schemas.ElementHandle {
	out := make([]schemas.ElementHandle, len(p.order))
	copy(out, p.order)
	return out
}

// Delta returns the members of snapshot not yet in the set, keeping snapshot
// order and dropping repeats within the snapshot itself.
func (p *ProcessedSet) Delta(snapshot []schemas.ElementHandle) []schemas.ElementHandle {
	var out []schemas.ElementHandle
	local := make(map[schemas.ElementHandle]struct{}, len(snapshot))
	for _, h := range snapshot {
		if p.Contains(h) {
			continue
		}
		if _, dup := local[h]; dup {
			continue
		}
		local[h] = struct{}{}
		out = append(out, h)
	}
	return out
}
