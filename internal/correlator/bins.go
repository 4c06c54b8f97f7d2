package correlator

// Row is one line of the correlation table.
type Row struct {
	Tau    float64   // Lag time: Lag * dt
	Lag    int64     // Lag in frames
	Count  uint64    // Pairs that contributed
	Values []float64 // Mean operator output, width = operator output width
}

// bins holds the running sums and pair counts for every lag the hierarchy
// can produce. The lag table is fixed at construction: level 0 contributes
// lags 0..tauLin, level k >= 1 contributes (tauLin/2+1..tauLin) * 2^k.
type bins struct {
	width  int
	lags   []int64
	sums   []float64 // len(lags) * width, row-major
	counts []uint64
}

func numLags(tauLin, depth int) int {
	return tauLin + 1 + tauLin/2*(depth-1)
}

func newBins(tauLin, depth, width int) *bins {
	n := numLags(tauLin, depth)
	b := &bins{
		width:  width,
		lags:   make([]int64, n),
		sums:   make([]float64, n*width),
		counts: make([]uint64, n),
	}

	for i := 0; i <= tauLin; i++ {
		b.lags[i] = int64(i)
	}
	half := tauLin / 2
	for level := 1; level < depth; level++ {
		for k := 0; k < half; k++ {
			b.lags[tauLin+1+(level-1)*half+k] = int64(k+half+1) << uint(level)
		}
	}
	return b
}

// binIndex returns the bin for the pair j slots apart on the given level.
// Level 0 uses every j in 0..tauLin; higher levels use j in tauLin/2+1..tauLin.
func binIndex(tauLin, level, j int) int {
	if level == 0 {
		return j
	}
	return tauLin + (level-1)*(tauLin/2) + j - tauLin/2
}

func (b *bins) add(idx int, v []float64) {
	row := b.sums[idx*b.width : (idx+1)*b.width]
	for k, x := range v {
		row[k] += x
	}
	b.counts[idx]++
}

// rows returns the normalized table for every bin with at least one pair,
// in ascending lag order.
func (b *bins) rows(dt float64) []Row {
	var out []Row
	for i, n := range b.counts {
		if n == 0 {
			continue
		}
		values := make([]float64, b.width)
		sum := b.sums[i*b.width : (i+1)*b.width]
		for k := range values {
			values[k] = sum[k] / float64(n)
		}
		out = append(out, Row{
			Tau:    float64(b.lags[i]) * dt,
			Lag:    b.lags[i],
			Count:  n,
			Values: values,
		})
	}
	return out
}

func (b *bins) filled() int {
	n := 0
	for _, c := range b.counts {
		if c > 0 {
			n++
		}
	}
	return n
}
