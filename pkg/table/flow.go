package table

import (
	"sync/atomic"
	"time"

	"github.com/flowpathio/flowpath/pkg/packet"
)

// InstrFunc is the handler a flow runs on a hit. It receives the table it
// was found in (so it can Goto by ID) and the packet context.
type InstrFunc func(t *Table, ctx *packet.Context) error

// FlowTimeouts carries the hard and idle expiry hints a flow was
// installed with. The core stores them but never enforces them: nothing
// in Find or Run consults Hard or Idle, matching "Flow timeouts are data
// only" (§5) — an external reaper is free to read and act on them.
type FlowTimeouts struct {
	Hard time.Duration
	Idle time.Duration
}

// FlowAttrs bundles the non-counter fields §3 assigns a Flow beyond its
// key and handler. Like Timeouts, Priority, Cookie and Flags are carried
// data only: nothing in this package interprets them.
type FlowAttrs struct {
	Priority uint16
	Timeouts FlowTimeouts
	Cookie   uint64
	Flags    uint32
}

// Flow is a single installed entry: the key it was inserted under, the
// handler to run on a match, its carried attributes, and hit counters
// updated on every Find.
type Flow struct {
	key   []byte
	instr InstrFunc
	attrs FlowAttrs

	packets   uint64
	bytes     uint64
	timestamp int64 // unix nanos of last hit, 0 before any hit
}

// newFlow constructs a flow copying key so later mutation of the caller's
// slice cannot corrupt the table's index.
func newFlow(key []byte, instr InstrFunc, attrs FlowAttrs) *Flow {
	k := make([]byte, len(key))
	copy(k, key)
	return &Flow{key: k, instr: instr, attrs: attrs}
}

// Packets returns the number of times this flow has matched.
func (f *Flow) Packets() uint64 { return atomic.LoadUint64(&f.packets) }

// Bytes returns the cumulative packet-length bytes seen across matches.
func (f *Flow) Bytes() uint64 { return atomic.LoadUint64(&f.bytes) }

// Timestamp returns the unix-nanosecond time of the last match, or zero if
// the flow has never matched.
func (f *Flow) Timestamp() int64 { return atomic.LoadInt64(&f.timestamp) }

// Priority returns the priority the flow was installed with.
func (f *Flow) Priority() uint16 { return f.attrs.Priority }

// Timeouts returns the hard/idle timeout hints the flow was installed
// with.
func (f *Flow) Timeouts() FlowTimeouts { return f.attrs.Timeouts }

// Cookie returns the opaque identifier an application or the northbound
// surface associated with this flow.
func (f *Flow) Cookie() uint64 { return f.attrs.Cookie }

// Flags returns the flow's carried flag bits.
func (f *Flow) Flags() uint32 { return f.attrs.Flags }

// touch records a hit of byteLen bytes at now. Counters may interleave
// across concurrent hits; exact ordering is not a contract, only that no
// update is lost.
func (f *Flow) touch(byteLen int, now time.Time) {
	atomic.AddUint64(&f.packets, 1)
	atomic.AddUint64(&f.bytes, uint64(byteLen))
	atomic.StoreInt64(&f.timestamp, now.UnixNano())
}

// Run invokes the flow's handler against ctx within table t.
func (f *Flow) Run(t *Table, ctx *packet.Context) error {
	if f.instr == nil {
		return nil
	}
	return f.instr(t, ctx)
}
