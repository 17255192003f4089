package packet_test

import (
	"errors"
	"testing"

	"github.com/flowpathio/flowpath/pkg/action"
	"github.com/flowpathio/flowpath/pkg/field"
	"github.com/flowpathio/flowpath/pkg/packet"
)

type nopPipeline struct{}

func (nopPipeline) Drop(ctx *packet.Context) error                         { return nil }
func (nopPipeline) Flood(ctx *packet.Context) error                        { return nil }
func (nopPipeline) OutputPort(ctx *packet.Context, portID uint32) error    { return nil }
func (nopPipeline) Goto(ctx *packet.Context, id uint32, fields ...uint32) error { return nil }

func newTestContext() *packet.Context {
	c := packet.New()
	raw := make([]byte, 64)
	meta := make([]byte, 16)
	c.Reset(0, raw, meta, nopPipeline{})
	return c
}

func TestBindFieldRoundTrip(t *testing.T) {
	c := newTestContext()
	view, err := c.BindField(1, 4, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	copy(view, []byte{0xAB, 0xCD})

	f, err := c.FieldBinding(1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := c.FieldBytes(f)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got[0] != 0xAB || got[1] != 0xCD {
		t.Fatalf("got %x, want ab cd", got)
	}
}

func TestFieldBindingUnbound(t *testing.T) {
	c := newTestContext()
	if _, err := c.FieldBinding(99); !errors.Is(err, packet.ErrUnboundField) {
		t.Fatalf("got %v, want ErrUnboundField", err)
	}
}

func TestBindFieldOutOfBounds(t *testing.T) {
	c := newTestContext()
	if _, err := c.BindField(1, 60, 10); !errors.Is(err, packet.ErrOutOfBounds) {
		t.Fatalf("got %v, want ErrOutOfBounds", err)
	}
}

func TestWriteActionThenCommitApplies(t *testing.T) {
	c := newTestContext()
	f := field.Field{Address: field.Packet, Offset: 0, Length: 2}
	c.WriteAction(action.SetField(f, []byte{0x11, 0x22}))

	if got := c.Raw()[0]; got != 0 {
		t.Fatalf("expected write deferred, got byte %x before commit", got)
	}

	if err := c.Commit(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Raw()[0] != 0x11 || c.Raw()[1] != 0x22 {
		t.Fatalf("got %x, want 11 22", c.Raw()[:2])
	}
}

func TestClearActionsDropsPending(t *testing.T) {
	c := newTestContext()
	f := field.Field{Address: field.Packet, Offset: 0, Length: 2}
	c.WriteAction(action.SetField(f, []byte{0xFF, 0xFF}))
	c.ClearActions()
	if err := c.Commit(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Raw()[0] != 0 || c.Raw()[1] != 0 {
		t.Fatalf("expected cleared action to not apply, got %x", c.Raw()[:2])
	}
}

func TestCommitIsIdempotent(t *testing.T) {
	c := newTestContext()
	f := field.Field{Address: field.Packet, Offset: 0, Length: 1}
	c.WriteAction(action.SetField(f, []byte{0x01}))
	if err := c.Commit(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c.Raw()[0] = 0x00
	if err := c.Commit(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Raw()[0] != 0x00 {
		t.Fatalf("second commit should be a no-op, got %x", c.Raw()[0])
	}
}

func TestApplyActionDropSetsDropped(t *testing.T) {
	c := newTestContext()
	if _, err := c.ApplyAction(action.Drop()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !c.Dropped() {
		t.Fatal("expected Dropped() true after Drop action")
	}
}

func TestResetClearsBindingsAndActions(t *testing.T) {
	c := newTestContext()
	_, _ = c.BindField(1, 0, 2)
	c.WriteAction(action.Drop())
	c.MarkDropped()

	c.Reset(1, make([]byte, 32), make([]byte, 8), nopPipeline{})

	if _, err := c.FieldBinding(1); !errors.Is(err, packet.ErrUnboundField) {
		t.Fatal("expected bindings cleared on reset")
	}
	if c.Dropped() {
		t.Fatal("expected dropped flag cleared on reset")
	}
	if err := c.Commit(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Dropped() {
		t.Fatal("expected action list cleared on reset")
	}
	if c.BufferID() != 1 {
		t.Fatalf("got buffer id %d, want 1", c.BufferID())
	}
}

func TestCopyFieldAcrossAddressSpaces(t *testing.T) {
	c := newTestContext()
	src := field.Field{Address: field.Packet, Offset: 0, Length: 2}
	copy(c.Raw()[0:2], []byte{0x9, 0x8})

	if _, err := c.ApplyAction(action.CopyField(src, 0)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Metadata()[0] != 0x9 || c.Metadata()[1] != 0x8 {
		t.Fatalf("got %x, want 09 08", c.Metadata()[:2])
	}
}
