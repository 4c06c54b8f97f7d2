// Package buffer provides the fixed-capacity vector ring that backs one level
// of the correlator's compression hierarchy.
package buffer

import (
	"fmt"
)

// Ring is a circular arena of equally sized float64 vectors.
// All slots are allocated up front; Push copies into the slot holding the
// oldest vector once the ring is full. Ring is not safe for concurrent use.
type Ring struct {
	slots  [][]float64
	dim    int
	head   int   // Next write position
	pushed int64 // Vectors ever admitted
}

// New creates a Ring with the given number of slots of width dim.
// Slots start zeroed.
func New(capacity, dim int) *Ring {
	if capacity <= 0 {
		capacity = 1
	}
	slots := make([][]float64, capacity)
	backing := make([]float64, capacity*dim)
	for i := range slots {
		slots[i] = backing[i*dim : (i+1)*dim : (i+1)*dim]
	}
	return &Ring{slots: slots, dim: dim}
}

// Push copies v into the next slot, overwriting the oldest vector when full.
func (r *Ring) Push(v []float64) {
	copy(r.slots[r.head], v)
	r.advance()
	r.pushed++
}

// PushFunc fills the next slot in place through fill and admits it.
func (r *Ring) PushFunc(fill func(dst []float64)) {
	fill(r.slots[r.head])
	r.advance()
	r.pushed++
}

// Advance moves the write position forward without writing or counting,
// so the oldest slot is reported as the newest. Used when draining a level.
func (r *Ring) Advance() {
	r.advance()
}

func (r *Ring) advance() {
	r.head++
	if r.head == len(r.slots) {
		r.head = 0
	}
}

// Back returns the vector j positions before the newest (0 = newest).
// The returned slice aliases ring storage.
func (r *Ring) Back(j int) []float64 {
	idx := (r.head - 1 - j) % len(r.slots)
	if idx < 0 {
		idx += len(r.slots)
	}
	return r.slots[idx]
}

// Oldest returns the i-th oldest slot of a full ring (0 = oldest).
// The returned slice aliases ring storage.
func (r *Ring) Oldest(i int) []float64 {
	return r.slots[(r.head+i)%len(r.slots)]
}

// Len returns the number of resident vectors.
func (r *Ring) Len() int {
	if r.pushed < int64(len(r.slots)) {
		return int(r.pushed)
	}
	return len(r.slots)
}

// Cap returns the number of slots.
func (r *Ring) Cap() int {
	return len(r.slots)
}

// Dim returns the vector width.
func (r *Ring) Dim() int {
	return r.dim
}

// Pushed returns the number of vectors ever admitted.
func (r *Ring) Pushed() int64 {
	return r.pushed
}

// IsFull returns true once every slot has been written.
func (r *Ring) IsFull() bool {
	return r.pushed >= int64(len(r.slots))
}

// State returns a copy of every slot in storage order, the write position
// and the admitted count. Together they reconstruct the ring exactly.
func (r *Ring) State() (slots [][]float64, head int, pushed int64) {
	slots = make([][]float64, len(r.slots))
	for i, s := range r.slots {
		slots[i] = append([]float64(nil), s...)
	}
	return slots, r.head, r.pushed
}

// SetState overwrites the ring with a state taken from State.
func (r *Ring) SetState(slots [][]float64, head int, pushed int64) error {
	if len(slots) != len(r.slots) {
		return fmt.Errorf("ring state has %d slots, ring has %d", len(slots), len(r.slots))
	}
	if head < 0 || head >= len(r.slots) {
		return fmt.Errorf("ring head %d out of range [0,%d)", head, len(r.slots))
	}
	if pushed < 0 {
		return fmt.Errorf("ring admitted count %d is negative", pushed)
	}
	for i, s := range slots {
		if len(s) != r.dim {
			return fmt.Errorf("ring slot %d has width %d, ring has %d", i, len(s), r.dim)
		}
	}

	for i, s := range slots {
		copy(r.slots[i], s)
	}
	r.head = head
	r.pushed = pushed
	return nil
}

// Stats returns the occupancy of the ring.
func (r *Ring) Stats() RingStats {
	return RingStats{
		Capacity: r.Cap(),
		Count:    r.Len(),
		Dim:      r.dim,
		Pushed:   r.pushed,
	}
}

// RingStats holds ring statistics.
type RingStats struct {
	Capacity int
	Count    int
	Dim      int
	Pushed   int64
}
