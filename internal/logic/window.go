package logic

// window is a fixed-capacity FIFO of the most recent samples of a channel.
// Not safe for concurrent use; the caller synchronizes.
type window struct {
	buf      []int32
	capacity int
	head     int // next write position
	count    int
}

func newWindow(capacity int) *window {
	if capacity < 1 {
		capacity = 1
	}
	return &window{
		buf:      make([]int32, capacity),
		capacity: capacity,
	}
}

func (w *window) push(v int32) {
	// When full, head already points at the oldest sample.
	w.buf[w.head] = v
	w.head = (w.head + 1) % w.capacity
	if w.count < w.capacity {
		w.count++
	}
}

// values returns the samples oldest first without consuming them.
func (w *window) values() []int32 {
	if w.count == 0 {
		return nil
	}
	out := make([]int32, w.count)
	start := (w.head - w.count + w.capacity) % w.capacity
	for i := 0; i < w.count; i++ {
		out[i] = w.buf[(start+i)%w.capacity]
	}
	return out
}

// spread returns max - min of the held samples, or 0 when empty.
func (w *window) spread() int32 {
	vals := w.values()
	if len(vals) == 0 {
		return 0
	}
	lo, hi := vals[0], vals[0]
	for _, v := range vals[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return hi - lo
}

func (w *window) full() bool {
	return w.count == w.capacity
}

func (w *window) reset() {
	w.head = 0
	w.count = 0
}

func (w *window) len() int {
	return w.count
}
