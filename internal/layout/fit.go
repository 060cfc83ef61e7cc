package layout

// FitDistributed derives a scanline distribution of numThreads lanes over
// shape: perLane[d] contiguous elements per lane along d (1 when the slice
// is nil), threads handed out greedily along order until either the threads
// or the dimensions run out. The remainder lands on the slowest dimension so
// every lane owns a coordinate.
func FitDistributed(shape []int64, order []int, numThreads int, perLane []int) *Distributed {
	rank := len(shape)
	d := &Distributed{
		Shape:   append([]int64(nil), shape...),
		Order:   append([]int(nil), order...),
		Lanes:   make([]int, rank),
		PerLane: make([]int, rank),
	}
	for i := 0; i < rank; i++ {
		d.PerLane[i] = 1
		if perLane != nil && perLane[i] > 0 {
			d.PerLane[i] = perLane[i]
		}
	}
	remaining := numThreads
	for n, dim := range order {
		max := int(shape[dim]) / d.PerLane[dim]
		if max < 1 {
			max = 1
		}
		lanes := remaining
		if lanes > max {
			lanes = max
		}
		if n == len(order)-1 {
			lanes = remaining
		}
		d.Lanes[dim] = lanes
		remaining /= lanes
		if remaining < 1 {
			remaining = 1
		}
	}
	return d
}
