package instruction_test

import (
	"reflect"
	"testing"

	"github.com/flowpathio/flowpath/pkg/action"
	"github.com/flowpathio/flowpath/pkg/field"
	"github.com/flowpathio/flowpath/pkg/instruction"
	"github.com/flowpathio/flowpath/pkg/packet"
)

type recordingPipeline struct {
	gotoTable   uint32
	gotoCalled  bool
	droppedHits int
}

func (p *recordingPipeline) Drop(ctx *packet.Context) error {
	p.droppedHits++
	ctx.MarkDropped()
	return nil
}
func (p *recordingPipeline) Flood(ctx *packet.Context) error { return nil }
func (p *recordingPipeline) OutputPort(ctx *packet.Context, portID uint32) error {
	return nil
}
func (p *recordingPipeline) Goto(ctx *packet.Context, tableID uint32, fieldIDs ...uint32) error {
	p.gotoCalled = true
	p.gotoTable = tableID
	return nil
}

func newTestContext(pipeline packet.Pipeline) *packet.Context {
	c := packet.New()
	c.Reset(0, make([]byte, 32), make([]byte, 8), pipeline)
	return c
}

func roundTrip(t *testing.T, i instruction.Instruction) instruction.Instruction {
	t.Helper()
	got, err := instruction.Decode(i.Encode())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Kind != i.Kind {
		t.Fatalf("got kind %v, want %v", got.Kind, i.Kind)
	}
	if !reflect.DeepEqual(got, i) {
		t.Fatalf("got %+v, want %+v", got, i)
	}
	return got
}

func TestInstructionRoundTrip(t *testing.T) {
	f := field.Field{Address: field.Packet, Offset: 4, Length: 2}
	cases := []instruction.Instruction{
		instruction.Apply(action.SetField(f, []byte{0x01, 0x02})),
		instruction.Write(action.Output(9)),
		instruction.Clear(),
		instruction.Goto(3),
	}
	for _, c := range cases {
		roundTrip(t, c)
	}
}

func TestGotoRoundTripPreservesTargetTable(t *testing.T) {
	got := roundTrip(t, instruction.Goto(42))
	if got.TargetTable != 42 {
		t.Fatalf("got target table %d, want 42", got.TargetTable)
	}
}

func TestDecodeShortBuffer(t *testing.T) {
	if _, err := instruction.Decode(nil); err != instruction.ErrShortBuffer {
		t.Fatalf("got %v, want ErrShortBuffer", err)
	}
}

func TestDecodeUnknownKind(t *testing.T) {
	if _, err := instruction.Decode([]byte{0xFF}); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestProgramRoundTrip(t *testing.T) {
	f := field.Field{Address: field.Packet, Offset: 0, Length: 1}
	prog := []instruction.Instruction{
		instruction.Apply(action.SetField(f, []byte{0x7F})),
		instruction.Write(action.Output(5)),
		instruction.Clear(),
		instruction.Goto(2),
	}
	encoded := instruction.EncodeProgram(prog)
	decoded, err := instruction.DecodeProgram(encoded)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(decoded) != len(prog) {
		t.Fatalf("got %d instructions, want %d", len(decoded), len(prog))
	}
	for i, instr := range decoded {
		if instr.Kind != prog[i].Kind {
			t.Fatalf("instruction %d: got kind %v, want %v", i, instr.Kind, prog[i].Kind)
		}
	}
}

func TestDecodeProgramShortBuffer(t *testing.T) {
	if _, err := instruction.DecodeProgram([]byte{0x00, 0x01}); err != instruction.ErrShortBuffer {
		t.Fatalf("got %v, want ErrShortBuffer", err)
	}
}

func TestRunAppliesActionsImmediately(t *testing.T) {
	f := field.Field{Address: field.Packet, Offset: 0, Length: 1}
	ctx := newTestContext(&recordingPipeline{})
	prog := []instruction.Instruction{instruction.Apply(action.SetField(f, []byte{0x99}))}
	if err := instruction.Run(prog, ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ctx.Raw()[0] != 0x99 {
		t.Fatalf("got %x, want 99", ctx.Raw()[0])
	}
}

func TestRunClearDropsPendingWrites(t *testing.T) {
	ctx := newTestContext(&recordingPipeline{})
	prog := []instruction.Instruction{
		instruction.Write(action.Output(1)),
		instruction.Clear(),
	}
	if err := instruction.Run(prog, ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := ctx.Commit(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, set := ctx.OutputPort(); set {
		t.Fatal("expected cleared write to never reach commit")
	}
}

func TestRunGotoHopsToTargetTable(t *testing.T) {
	pipeline := &recordingPipeline{}
	ctx := newTestContext(pipeline)
	prog := []instruction.Instruction{instruction.Goto(7)}
	if err := instruction.Run(prog, ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !pipeline.gotoCalled || pipeline.gotoTable != 7 {
		t.Fatalf("expected Goto(7), got called=%v table=%d", pipeline.gotoCalled, pipeline.gotoTable)
	}
}

func TestRunRejectsUnknownKind(t *testing.T) {
	ctx := newTestContext(&recordingPipeline{})
	prog := []instruction.Instruction{{Kind: instruction.Kind(0xFF)}}
	if err := instruction.Run(prog, ctx); err != instruction.ErrUnknownKind {
		t.Fatalf("got %v, want ErrUnknownKind", err)
	}
}
