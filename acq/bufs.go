package acq

// BufferPool is a pool of pixel buffers.  It is a channel of limited depth
// so that a burst of frames cannot grow it without bound.  The zero value is
// not usable, use NewBufferPool
type BufferPool struct {
	bufs chan []uint16
}

// NewBufferPool returns a pool which holds at most depth idle buffers
func NewBufferPool(depth int) *BufferPool {
	return &BufferPool{bufs: make(chan []uint16, depth)}
}

// Get returns a buffer of length n, reusing an idle one if it is large
// enough.  Idle buffers which are too small are dropped
func (p *BufferPool) Get(n int) []uint16 {
	for {
		select {
		case b := <-p.bufs:
			if cap(b) >= n {
				return b[:n]
			}
		default:
			return make([]uint16, n)
		}
	}
}

// Put returns a buffer to the pool.  It is dropped if the pool is full
func (p *BufferPool) Put(b []uint16) {
	if b == nil {
		return
	}
	select {
	case p.bufs <- b:
	default:
	}
}

// Idle returns the number of buffers waiting in the pool
func (p *BufferPool) Idle() int {
	return len(p.bufs)
}
