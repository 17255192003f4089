package key_test

import (
	"errors"
	"testing"

	"github.com/flowpathio/flowpath/pkg/key"
	"github.com/flowpathio/flowpath/pkg/packet"
)

type nopPipeline struct{}

func (nopPipeline) Drop(ctx *packet.Context) error                             { return nil }
func (nopPipeline) Flood(ctx *packet.Context) error                            { return nil }
func (nopPipeline) OutputPort(ctx *packet.Context, portID uint32) error        { return nil }
func (nopPipeline) Goto(ctx *packet.Context, id uint32, fields ...uint32) error { return nil }

func newTestContext() *packet.Context {
	c := packet.New()
	c.Reset(0, make([]byte, 32), make([]byte, 8), nopPipeline{})
	return c
}

func TestGatherConcatenatesBoundFields(t *testing.T) {
	c := newTestContext()
	v1, _ := c.BindField(1, 0, 2)
	copy(v1, []byte{0x01, 0x02})
	v2, _ := c.BindField(2, 2, 2)
	copy(v2, []byte{0x03, 0x04})

	got, err := key.Gather(c, 4, 1, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []byte{0x01, 0x02, 0x03, 0x04}
	if string(got) != string(want) {
		t.Fatalf("got %x, want %x", got, want)
	}
}

func TestGatherUnboundField(t *testing.T) {
	c := newTestContext()
	if _, err := key.Gather(c, 2, 99); !errors.Is(err, key.ErrUnboundField) {
		t.Fatalf("got %v, want ErrUnboundField", err)
	}
}

func TestGatherWidthMismatch(t *testing.T) {
	c := newTestContext()
	v1, _ := c.BindField(1, 0, 2)
	copy(v1, []byte{0x01, 0x02})

	if _, err := key.Gather(c, 4, 1); !errors.Is(err, key.ErrKeyWidthMismatch) {
		t.Fatalf("got %v, want ErrKeyWidthMismatch", err)
	}
}

func TestGatherExceedsMaxWidth(t *testing.T) {
	c := newTestContext()
	if _, err := key.Gather(c, key.MaxWidth+1); err == nil {
		t.Fatal("expected error for width exceeding MaxWidth")
	}
}
