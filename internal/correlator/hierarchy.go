package correlator

import (
	"math"

	"github.com/xtxerr/taucorr/internal/buffer"
)

// maxDepth bounds the number of levels so that lag arithmetic (2^k) stays
// well inside int64.
const maxDepth = 48

// hierarchyDepth returns the number of compression levels needed so that the
// largest lag reaches tauMax. Level 0 alone covers lags up to tauLin.
func hierarchyDepth(tauLin int, tauMax, dt float64) int {
	ratio := tauMax / dt
	if ratio < float64(tauLin) {
		return 1
	}
	return int(math.Ceil(1 + math.Log(ratio/float64(tauLin-1))/math.Log(2)))
}

// hierarchy is the multiple-tau history of A and B samples.
//
// Every level is a ring of tauLin+1 slots. Level 0 holds raw samples; level
// k+1 receives one merged sample for every two samples leaving level k, so a
// slot on level k stands for 2^k frames. The top level never merges; its
// oldest samples are overwritten.
type hierarchy struct {
	tauLin    int
	a, b      []*buffer.Ring
	compressA Compression
	compressB Compression
}

func newHierarchy(tauLin, depth, dimA, dimB int, compressA, compressB Compression) *hierarchy {
	h := &hierarchy{
		tauLin:    tauLin,
		a:         make([]*buffer.Ring, depth),
		b:         make([]*buffer.Ring, depth),
		compressA: compressA,
		compressB: compressB,
	}
	for i := 0; i < depth; i++ {
		h.a[i] = buffer.New(tauLin+1, dimA)
		h.b[i] = buffer.New(tauLin+1, dimB)
	}
	return h
}

func (h *hierarchy) depth() int {
	return len(h.a)
}

// admit stores the samples of frame t (1-based) on level 0, first making room
// by merging full levels upward. It returns the highest level that was
// merged, or -1 if no merge happened; levels 1..highest+1 then each hold one
// new sample.
func (h *hierarchy) admit(t uint64, a, b []float64) int {
	highest := -1
	for i := 0; ; i++ {
		// Level i merges every 2^(i+1) frames once it has been filled. The
		// first merge on level i happens at frame (tauLin+1)(2^(i+1)-1)+1.
		// Unsigned wrap-around keeps the modulus exact for early frames.
		period := uint64(1) << uint(i+1)
		first := uint64(h.tauLin+1)*(period-1) + 1
		if (t-first)%period != 0 {
			break
		}
		if i >= h.depth()-1 || !h.a[i].IsFull() {
			break
		}
		highest++
	}

	for i := highest; i >= 0; i-- {
		h.merge(i)
	}

	h.a[0].Push(a)
	h.b[0].Push(b)
	return highest
}

// merge combines the two oldest slots of level i into a new sample on level
// i+1. The older of the two is overwritten by the next push to level i.
func (h *hierarchy) merge(i int) {
	olderA, newerA := h.a[i].Oldest(0), h.a[i].Oldest(1)
	h.a[i+1].PushFunc(func(dst []float64) {
		h.compressA.apply(dst, olderA, newerA)
	})

	olderB, newerB := h.b[i].Oldest(0), h.b[i].Oldest(1)
	h.b[i+1].PushFunc(func(dst []float64) {
		h.compressB.apply(dst, olderB, newerB)
	})
}

// drain pushes the samples still waiting on each level into the levels
// above, so that they contribute to the longer lags. correlate is called for
// every level that received a new sample. Afterwards the hierarchy must not
// admit further samples.
func (h *hierarchy) drain(correlate func(level int)) {
	for ll := 0; ll < h.depth()-1; ll++ {
		pushed := h.a[ll].Pushed()
		var remaining int64
		if pushed > int64(h.tauLin+1) {
			remaining = int64(h.tauLin) + pushed%2
		} else {
			remaining = pushed
		}

		for remaining > 0 {
			highest := -1
			if remaining%2 != 0 {
				highest = ll
			}

			for i := ll + 1; highest > -1; i++ {
				n := h.a[i].Pushed()
				if n%2 == 0 || i >= h.depth()-1 || !h.a[i].IsFull() {
					break
				}
				highest++
			}
			remaining--

			for i := highest; i >= ll; i-- {
				h.merge(i)
			}
			h.a[ll].Advance()
			h.b[ll].Advance()

			for i := ll + 1; i < highest+2; i++ {
				correlate(i)
			}
		}
	}
}

// levelStats returns the occupancy of the A ring on every level. The B
// rings advance in lockstep.
func (h *hierarchy) levelStats() []buffer.RingStats {
	out := make([]buffer.RingStats, len(h.a))
	for i, r := range h.a {
		out[i] = r.Stats()
	}
	return out
}

// resident returns the number of A samples held across all levels.
func (h *hierarchy) resident() int {
	n := 0
	for _, r := range h.a {
		n += r.Len()
	}
	return n
}

// capacity returns the number of sample slots per observable.
func (h *hierarchy) capacity() int {
	return h.depth() * (h.tauLin + 1)
}
