package action_test

import (
	"reflect"
	"testing"

	"github.com/flowpathio/flowpath/pkg/action"
	"github.com/flowpathio/flowpath/pkg/field"
)

func roundTrip(t *testing.T, a action.Action) {
	t.Helper()
	encoded := a.Encode()
	got, err := action.Decode(encoded)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Kind != a.Kind {
		t.Fatalf("got kind %v, want %v", got.Kind, a.Kind)
	}
	if !reflect.DeepEqual(got, a) {
		t.Fatalf("got %+v, want %+v", got, a)
	}
}

func TestActionRoundTrip(t *testing.T) {
	f := field.Field{Address: field.Packet, Offset: 10, Length: 4}
	cases := []action.Action{
		action.GetField(f),
		action.SetField(f, []byte{1, 2, 3, 4}),
		action.CopyField(f, 20),
		action.Output(7),
		action.Queue(3),
		action.Group(1),
		action.Drop(),
	}
	for _, c := range cases {
		roundTrip(t, c)
	}
}

func TestSetFieldRoundTripPreservesValue(t *testing.T) {
	f := field.Field{Address: field.Metadata, Offset: 2, Length: 3}
	a := action.SetField(f, []byte{0xAA, 0xBB, 0xCC})
	got, err := action.Decode(a.Encode())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got.Value) != 3 || got.Value[0] != 0xAA || got.Value[2] != 0xCC {
		t.Fatalf("got %x, want aa bb cc", got.Value)
	}
	if got.Field != f {
		t.Fatalf("got field %+v, want %+v", got.Field, f)
	}
}

func TestDecodeShortBuffer(t *testing.T) {
	if _, err := action.Decode(nil); err != action.ErrShortBuffer {
		t.Fatalf("got %v, want ErrShortBuffer", err)
	}
}

func TestDecodeUnknownKind(t *testing.T) {
	if _, err := action.Decode([]byte{0xFF}); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}
