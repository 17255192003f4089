// Package packet implements the per-packet Context: the header cursor,
// field bindings, deferred action list and routing decisions a loaded
// application mutates as it steers a packet through the pipeline.
package packet

import (
	"errors"
	"fmt"

	"github.com/flowpathio/flowpath/pkg/action"
	"github.com/flowpathio/flowpath/pkg/field"
)

var (
	ErrUnboundField        = errors.New("packet: unbound field")
	ErrOutOfBounds         = errors.New("packet: field out of bounds")
	ErrFieldLengthMismatch = errors.New("packet: value length does not match field length")
)

// Pipeline is the narrow slice of the Dataplane a Context needs to reach
// from inside a flow's instruction function: the well-known drop/flood
// ports and a table hop resolved by ID, since instr_fn only receives
// (table, context) and must not need the concrete *table.Table type to
// avoid an import cycle between packet and table.
type Pipeline interface {
	Drop(ctx *Context) error
	Flood(ctx *Context) error
	OutputPort(ctx *Context, portID uint32) error
	Goto(ctx *Context, tableID uint32, fieldIDs ...uint32) error
}

// Context is per-packet working state. It is re-initialized (not
// reallocated) for every packet a buffer carries.
type Context struct {
	bufferID int
	raw      []byte
	metadata []byte

	offset uint32

	headerBindings map[uint32]uint32
	fieldBindings  map[uint32]field.Field

	actions []action.Action

	inputPort     uint32
	outputPort    uint32
	outputPortSet bool
	queue         uint32
	group         uint32
	dropped       bool
	finalized     bool

	pipeline Pipeline
}

// New allocates an empty Context sized for repeated Reset calls; the
// bindings maps are allocated once and cleared in place on Reset to avoid
// an allocation per packet on the hot path.
func New() *Context {
	return &Context{
		headerBindings: make(map[uint32]uint32),
		fieldBindings:  make(map[uint32]field.Field),
	}
}

// Reset re-initializes the context for a new packet: raw bytes, metadata
// region, owning buffer index and the Dataplane back-pointer are set;
// everything else (bindings, action list, routing decisions) is cleared.
func (c *Context) Reset(bufferID int, raw, metadata []byte, pipeline Pipeline) {
	c.bufferID = bufferID
	c.raw = raw
	c.metadata = metadata
	c.offset = 0
	for k := range c.headerBindings {
		delete(c.headerBindings, k)
	}
	for k := range c.fieldBindings {
		delete(c.fieldBindings, k)
	}
	c.actions = c.actions[:0]
	c.inputPort = 0
	c.outputPort = 0
	c.outputPortSet = false
	c.queue = 0
	c.group = 0
	c.dropped = false
	c.finalized = false
	c.pipeline = pipeline
}

func (c *Context) BufferID() int { return c.bufferID }
func (c *Context) Raw() []byte   { return c.raw }
func (c *Context) Metadata() []byte { return c.metadata }
func (c *Context) Offset() uint32   { return c.offset }
func (c *Context) Pipeline() Pipeline { return c.pipeline }

// SetLength truncates the packet-memory view to n bytes, used by an
// ingress driver after copying a real packet's bytes into a full-capacity
// buffer so later binds and the byte counter see the packet's actual
// length rather than the buffer's fixed capacity.
func (c *Context) SetLength(n int) error {
	if n < 0 || n > cap(c.raw) {
		return fmt.Errorf("length %d exceeds buffer capacity %d: %w", n, cap(c.raw), ErrOutOfBounds)
	}
	c.raw = c.raw[:n]
	return nil
}

func (c *Context) SetInputPort(id uint32)  { c.inputPort = id }
func (c *Context) InputPort() uint32       { return c.inputPort }
func (c *Context) SetOutputPort(id uint32) { c.outputPort = id; c.outputPortSet = true }
func (c *Context) OutputPort() (uint32, bool) {
	return c.outputPort, c.outputPortSet
}
func (c *Context) SetQueue(id uint32) { c.queue = id }
func (c *Context) Queue() uint32      { return c.queue }
func (c *Context) SetGroup(id uint32) { c.group = id }
func (c *Context) Group() uint32      { return c.group }

func (c *Context) Dropped() bool  { return c.dropped }
func (c *Context) MarkDropped()   { c.dropped = true }
func (c *Context) Finalized() bool { return c.finalized }
func (c *Context) Finalize()      { c.finalized = true }

// AdvanceHeader moves the header cursor forward by n bytes. No bounds
// check happens here; a later bind against the new offset is what gets
// checked (§4.2).
func (c *Context) AdvanceHeader(n uint32) {
	c.offset += n
}

// BindHeader records id at the current cursor.
func (c *Context) BindHeader(id uint32) {
	c.headerBindings[id] = c.offset
}

// HeaderBinding returns the absolute offset a header id was bound at.
func (c *Context) HeaderBinding(id uint32) (uint32, bool) {
	off, ok := c.headerBindings[id]
	return off, ok
}

// BindField records a field binding at an absolute packet-space offset and
// returns a mutable view into the raw bytes at that range.
func (c *Context) BindField(id uint32, absoluteOffset, length uint16) ([]byte, error) {
	f := field.Field{Address: field.Packet, Offset: absoluteOffset, Length: length}
	view, err := c.fieldBytes(f)
	if err != nil {
		return nil, err
	}
	c.fieldBindings[id] = f
	return view, nil
}

// BindMetadataField is BindField's metadata-space counterpart, used by
// applications that stash derived values (e.g. a computed VRF id) rather
// than binding directly against wire bytes.
func (c *Context) BindMetadataField(id uint32, absoluteOffset, length uint16) ([]byte, error) {
	f := field.Field{Address: field.Metadata, Offset: absoluteOffset, Length: length}
	view, err := c.fieldBytes(f)
	if err != nil {
		return nil, err
	}
	c.fieldBindings[id] = f
	return view, nil
}

// FieldBinding returns the (offset, length) pair bound to id.
func (c *Context) FieldBinding(id uint32) (field.Field, error) {
	f, ok := c.fieldBindings[id]
	if !ok {
		return field.Field{}, fmt.Errorf("field %d: %w", id, ErrUnboundField)
	}
	return f, nil
}

// GetField returns a view into packet memory starting at offset, per the
// contract's "caller recovers length via the binding if needed" note; most
// callers should prefer FieldBinding+FieldBytes for a bounds-checked view.
func (c *Context) GetField(offset uint16) []byte {
	if int(offset) > len(c.raw) {
		return nil
	}
	return c.raw[offset:]
}

// FieldBytes returns a bounds-checked, mutable view of a field's memory
// range in whichever address space it names.
func (c *Context) FieldBytes(f field.Field) ([]byte, error) {
	return c.fieldBytes(f)
}

func (c *Context) fieldBytes(f field.Field) ([]byte, error) {
	region := c.raw
	if f.Address == field.Metadata {
		region = c.metadata
	}
	end := int(f.Offset) + int(f.Length)
	if end > len(region) {
		return nil, fmt.Errorf("%s offset=%d length=%d region=%d: %w", f.Address, f.Offset, f.Length, len(region), ErrOutOfBounds)
	}
	return region[f.Offset:end], nil
}

// ApplyAction executes a immediately against the context. GetField results
// are returned so callers can observe the read.
func (c *Context) ApplyAction(a action.Action) ([]byte, error) {
	switch a.Kind {
	case action.KindGetField:
		return c.fieldBytes(a.Field)
	case action.KindSetField:
		dst, err := c.fieldBytes(a.Field)
		if err != nil {
			return nil, err
		}
		if len(a.Value) != int(a.Field.Length) {
			return nil, fmt.Errorf("field length=%d value length=%d: %w", a.Field.Length, len(a.Value), ErrFieldLengthMismatch)
		}
		copy(dst, a.Value)
		return nil, nil
	case action.KindCopyField:
		src, err := c.fieldBytes(a.Field)
		if err != nil {
			return nil, err
		}
		dstField := field.Field{Address: a.Field.Address.Other(), Offset: a.DstOffset, Length: a.Field.Length}
		dst, err := c.fieldBytes(dstField)
		if err != nil {
			return nil, err
		}
		copy(dst, src)
		return nil, nil
	case action.KindOutput:
		c.SetOutputPort(a.Port)
		return nil, nil
	case action.KindQueue:
		c.SetQueue(a.QueueID)
		return nil, nil
	case action.KindGroup:
		c.SetGroup(a.GroupID)
		return nil, nil
	case action.KindDrop:
		c.MarkDropped()
		return nil, nil
	default:
		return nil, fmt.Errorf("packet: unknown action kind %d", a.Kind)
	}
}

// WriteAction appends a to the deferred list, executed in order at commit.
func (c *Context) WriteAction(a action.Action) {
	c.actions = append(c.actions, a)
}

// ClearActions empties the deferred list without touching mutations
// already applied via ApplyAction.
func (c *Context) ClearActions() {
	c.actions = c.actions[:0]
}

// Commit applies the deferred action list in FIFO order. It is idempotent:
// a second call sees an empty list and does nothing.
func (c *Context) Commit() error {
	pending := c.actions
	c.actions = c.actions[:0]
	for _, a := range pending {
		if _, err := c.ApplyAction(a); err != nil {
			return err
		}
	}
	return nil
}
