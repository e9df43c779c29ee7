package ml

// hitRing is a fixed-capacity ring of the most recent hit/no-hit outcomes
type hitRing struct {
	buf   []bool
	next  int
	count int
}

func newHitRing(capacity int) *hitRing {
	if capacity < 1 {
		capacity = 1
	}
	return &hitRing{buf: make([]bool, capacity)}
}

func (r *hitRing) push(hit bool) {
	r.buf[r.next] = hit
	r.next = (r.next + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
}

// all reports whether the ring is full and every entry equals want
func (r *hitRing) all(want bool) bool {
	if r.count < len(r.buf) {
		return false
	}
	for _, h := range r.buf {
		if h != want {
			return false
		}
	}
	return true
}
