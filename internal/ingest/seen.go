package ingest

import "sync/atomic"

const (
	DefaultSeenCapacity = 1000
	DefaultSeenKeep     = 500
)

// SeenSet remembers recently processed update ids. When it grows past
// capacity it keeps only the most recently added keep ids.
type SeenSet struct {
	capacity int
	keep     int
	ids      map[int64]struct{}
	order    []int64
}

func NewSeenSet(capacity, keep int) *SeenSet {
	if capacity <= 0 {
		capacity = DefaultSeenCapacity
	}
	if keep <= 0 || keep > capacity {
		keep = min(DefaultSeenKeep, capacity)
	}
	return &SeenSet{
		capacity: capacity,
		keep:     keep,
		ids:      make(map[int64]struct{}, capacity+1),
		order:    make([]int64, 0, capacity+1),
	}
}

func (s *SeenSet) Contains(id int64) bool {
	_, ok := s.ids[id]
	return ok
}

// Add records id and reports whether it was new.
func (s *SeenSet) Add(id int64) bool {
	if s.Contains(id) {
		return false
	}
	s.ids[id] = struct{}{}
	s.order = append(s.order, id)
	if len(s.order) > s.capacity {
		drop := len(s.order) - s.keep
		for _, old := range s.order[:drop] {
			delete(s.ids, old)
		}
		s.order = append(s.order[:0], s.order[drop:]...)
	}
	return true
}

func (s *SeenSet) Len() int { return len(s.order) }

// Cursor is the per-channel polling position. Offset may be read while a
// poll is in flight.
type Cursor struct {
	offset atomic.Int64
	seen   *SeenSet
}

func NewCursor(capacity, keep int) *Cursor {
	return &Cursor{seen: NewSeenSet(capacity, keep)}
}

// Offset is the next update id to request.
func (c *Cursor) Offset() int64 { return c.offset.Load() }

// Advance moves the offset past id. It never moves backwards.
func (c *Cursor) Advance(id int64) {
	next := id + 1
	for {
		cur := c.offset.Load()
		if next <= cur || c.offset.CompareAndSwap(cur, next) {
			return
		}
	}
}

func (c *Cursor) Seen() *SeenSet { return c.seen }
