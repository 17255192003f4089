// Package buffer implements the fixed-size packet buffer pool: a
// preallocated array of buffers handed out by index and returned to a
// min-index free set so reuse favors low indices.
package buffer

import (
	"container/heap"
	"errors"
	"sync"

	"github.com/flowpathio/flowpath/pkg/events"
	"github.com/flowpathio/flowpath/pkg/packet"
)

// Size is the fixed capacity of a buffer's packet-memory region.
const Size = 2048

// MetadataSize is the fixed capacity of a buffer's metadata region.
const MetadataSize = 256

var (
	ErrPoolExhausted = errors.New("buffer: pool exhausted")
	ErrInvalidID     = errors.New("buffer: invalid buffer id")
	ErrDoubleDealloc = errors.New("buffer: double dealloc")
)

// Buffer is a single fixed-size packet slot: raw wire bytes, a parallel
// metadata scratch region, and the Context bound to both for the
// lifetime of whatever packet currently occupies it.
type Buffer struct {
	data     [Size]byte
	metadata [MetadataSize]byte
	Context  *packet.Context
}

// minHeap is a container/heap.Interface over free buffer indices, always
// popping the smallest available index so reuse stays low-index-biased.
type minHeap []int

func (h minHeap) Len() int            { return len(h) }
func (h minHeap) Less(i, j int) bool  { return h[i] < h[j] }
func (h minHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *minHeap) Push(x interface{}) { *h = append(*h, x.(int)) }
func (h *minHeap) Pop() interface{} {
	old := *h
	n := len(old)
	v := old[n-1]
	*h = old[:n-1]
	return v
}

// Pool is a mutex-guarded, fixed-capacity set of Buffers handed out by
// index. It never grows past its initial capacity: Alloc returns
// ErrPoolExhausted once every buffer is checked out.
type Pool struct {
	mu        sync.Mutex
	buffers   []Buffer
	free      minHeap
	allocated []bool

	dataplaneName string
	bus           events.Bus
}

// New preallocates capacity buffers up front; none are ever allocated or
// freed by the runtime again after construction.
func New(capacity int) *Pool {
	p := &Pool{
		buffers:   make([]Buffer, capacity),
		free:      make(minHeap, capacity),
		allocated: make([]bool, capacity),
	}
	for i := 0; i < capacity; i++ {
		p.buffers[i].Context = packet.New()
		p.free[i] = i
	}
	heap.Init(&p.free)
	return p
}

// SetEventSink attaches the bus a Pool publishes PoolExhaustedEvent to,
// tagged with dataplaneName. bus may be nil, disabling publication.
func (p *Pool) SetEventSink(dataplaneName string, bus events.Bus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dataplaneName = dataplaneName
	p.bus = bus
}

// Capacity returns the pool's fixed buffer count.
func (p *Pool) Capacity() int {
	return len(p.buffers)
}

// Available returns the number of buffers currently free.
func (p *Pool) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.free.Len()
}

// Alloc removes and returns the lowest free buffer index.
func (p *Pool) Alloc() (int, error) {
	p.mu.Lock()
	if p.free.Len() == 0 {
		bus, name := p.bus, p.dataplaneName
		p.mu.Unlock()
		if bus != nil {
			bus.Publish(events.TopicPoolExhausted, events.Event{
				Source: name,
				Data:   events.PoolExhaustedEvent{Dataplane: name},
			})
		}
		return 0, ErrPoolExhausted
	}
	defer p.mu.Unlock()
	id := heap.Pop(&p.free).(int)
	p.allocated[id] = true
	return id, nil
}

// Dealloc returns id to the free set. Deallocating an id twice, or one
// never allocated, is an error: it would otherwise let two callers hold
// the same buffer concurrently.
func (p *Pool) Dealloc(id int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if id < 0 || id >= len(p.buffers) {
		return ErrInvalidID
	}
	if !p.allocated[id] {
		return ErrDoubleDealloc
	}
	p.allocated[id] = false
	heap.Push(&p.free, id)
	return nil
}

// Get returns a pointer to buffer id's storage. Callers are expected to
// hold a valid allocation of id; Get does not itself check allocation
// state, matching the pool's role as a plain index-to-memory mapping.
func (p *Pool) Get(id int) (*Buffer, error) {
	if id < 0 || id >= len(p.buffers) {
		return nil, ErrInvalidID
	}
	return &p.buffers[id], nil
}

// Data returns buffer id's packet-memory region.
func (b *Buffer) Data() []byte { return b.data[:] }

// Metadata returns buffer id's metadata region.
func (b *Buffer) Metadata() []byte { return b.metadata[:] }
