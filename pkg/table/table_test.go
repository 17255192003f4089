package table_test

import (
	"errors"
	"testing"
	"time"

	"github.com/flowpathio/flowpath/pkg/packet"
	"github.com/flowpathio/flowpath/pkg/table"
)

type nopPipeline struct {
	dropped int
}

func (p *nopPipeline) Drop(ctx *packet.Context) error {
	p.dropped++
	ctx.MarkDropped()
	return nil
}
func (p *nopPipeline) Flood(ctx *packet.Context) error                        { return nil }
func (p *nopPipeline) OutputPort(ctx *packet.Context, portID uint32) error    { return nil }
func (p *nopPipeline) Goto(ctx *packet.Context, id uint32, fields ...uint32) error { return nil }

func newTestContext(pipeline packet.Pipeline) *packet.Context {
	c := packet.New()
	c.Reset(0, make([]byte, 32), make([]byte, 8), pipeline)
	return c
}

func TestNewRejectsUnknownType(t *testing.T) {
	if _, err := table.New(1, "t", table.Type(99), 4); !errors.Is(err, table.ErrUnknownTableType) {
		t.Fatalf("got %v, want ErrUnknownTableType", err)
	}
}

func TestInsertRejectsWrongKeyWidth(t *testing.T) {
	tbl, err := table.New(1, "t", table.Exact, 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := tbl.Insert([]byte{1, 2}, nil); !errors.Is(err, table.ErrKeyWidthMismatch) {
		t.Fatalf("got %v, want ErrKeyWidthMismatch", err)
	}
}

func TestFindMatchesInstalledFlow(t *testing.T) {
	tbl, _ := table.New(1, "t", table.Exact, 2)
	hit := false
	_, err := tbl.Insert([]byte{0xAB, 0xCD}, func(t *table.Table, ctx *packet.Context) error {
		hit = true
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx := newTestContext(&nopPipeline{})
	if err := tbl.Find(ctx, []byte{0xAB, 0xCD}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !hit {
		t.Fatal("expected installed flow to run on match")
	}
}

func TestFindRunsDefaultDropMissWhenNoFlowInstalled(t *testing.T) {
	tbl, _ := table.New(1, "t", table.Exact, 2)
	pipeline := &nopPipeline{}
	ctx := newTestContext(pipeline)

	if err := tbl.Find(ctx, []byte{0x00, 0x00}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ctx.Dropped() {
		t.Fatal("expected default miss flow to drop the packet")
	}
	if pipeline.dropped != 1 {
		t.Fatalf("got %d drops, want 1", pipeline.dropped)
	}
}

func TestFindIsTotalForPrefixAndWildcardTables(t *testing.T) {
	for _, kind := range []table.Type{table.Prefix, table.Wildcard} {
		tbl, _ := table.New(1, "t", kind, 4)
		_, err := tbl.Insert([]byte{1, 2, 3, 4}, func(t *table.Table, ctx *packet.Context) error {
			t2 := t
			_ = t2
			return nil
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		ctx := newTestContext(&nopPipeline{})
		// Prefix and wildcard tables never match in this implementation;
		// any lookup falls through to the miss flow.
		if err := tbl.Find(ctx, []byte{1, 2, 3, 4}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !ctx.Dropped() {
			t.Fatalf("expected %s table lookup to fall through to miss", kind)
		}
	}
}

func TestInsertMissReplacesDefault(t *testing.T) {
	tbl, _ := table.New(1, "t", table.Exact, 2)
	custom := false
	tbl.InsertMiss(func(t *table.Table, ctx *packet.Context) error {
		custom = true
		return nil
	})
	ctx := newTestContext(&nopPipeline{})
	if err := tbl.Find(ctx, []byte{9, 9}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !custom {
		t.Fatal("expected custom miss flow to run")
	}
}

func TestFindIncrementsCounters(t *testing.T) {
	tbl, _ := table.New(1, "t", table.Exact, 2)
	flow, err := tbl.Insert([]byte{1, 1}, func(t *table.Table, ctx *packet.Context) error { return nil })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx := newTestContext(&nopPipeline{})
	for i := 0; i < 3; i++ {
		if err := tbl.Find(ctx, []byte{1, 1}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if flow.Packets() != 3 {
		t.Fatalf("got %d packets, want 3", flow.Packets())
	}
	if flow.Timestamp() == 0 {
		t.Fatal("expected timestamp to be set after a hit")
	}
}

func TestEraseRemovesFlow(t *testing.T) {
	tbl, _ := table.New(1, "t", table.Exact, 2)
	if _, err := tbl.Insert([]byte{1, 1}, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tbl.Erase([]byte{1, 1})

	ctx := newTestContext(&nopPipeline{})
	if err := tbl.Find(ctx, []byte{1, 1}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ctx.Dropped() {
		t.Fatal("expected erased key to fall through to miss")
	}
}

func TestEraseAbsentKeyIsNoOp(t *testing.T) {
	tbl, _ := table.New(1, "t", table.Exact, 2)
	tbl.Erase([]byte{9, 9})
}

func TestInsertWithAttrsCarriesFlowMetadata(t *testing.T) {
	tbl, _ := table.New(1, "t", table.Exact, 2)
	attrs := table.FlowAttrs{
		Priority: 10,
		Timeouts: table.FlowTimeouts{Hard: 30 * time.Second, Idle: 5 * time.Second},
		Cookie:   0xC0FFEE,
		Flags:    0x1,
	}
	flow, err := tbl.InsertWithAttrs([]byte{1, 1}, nil, attrs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if flow.Priority() != 10 {
		t.Fatalf("got priority %d, want 10", flow.Priority())
	}
	if flow.Timeouts().Hard != 30*time.Second || flow.Timeouts().Idle != 5*time.Second {
		t.Fatalf("got timeouts %+v, want hard=30s idle=5s", flow.Timeouts())
	}
	if flow.Cookie() != 0xC0FFEE {
		t.Fatalf("got cookie %x, want C0FFEE", flow.Cookie())
	}
	if flow.Flags() != 0x1 {
		t.Fatalf("got flags %x, want 1", flow.Flags())
	}
}

func TestInsertDefaultsAttrsToZero(t *testing.T) {
	tbl, _ := table.New(1, "t", table.Exact, 2)
	flow, err := tbl.Insert([]byte{2, 2}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if flow.Priority() != 0 || flow.Cookie() != 0 || flow.Flags() != 0 {
		t.Fatalf("expected zero-value attrs by default, got %+v", flow)
	}
}
