package quality

// ring is a fixed-capacity circular buffer of int64 samples.
// Not safe for concurrent use; Estimator holds the lock.
type ring struct {
	buf  []int64
	next int
	full bool
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]int64, capacity)}
}

func (r *ring) push(v int64) {
	r.buf[r.next] = v
	r.next++
	if r.next == len(r.buf) {
		r.next = 0
		r.full = true
	}
}

func (r *ring) len() int {
	if r.full {
		return len(r.buf)
	}
	return r.next
}

// values returns a copy of the samples, oldest first.
func (r *ring) values() []int64 {
	out := make([]int64, 0, r.len())
	if r.full {
		out = append(out, r.buf[r.next:]...)
	}
	return append(out, r.buf[:r.next]...)
}
