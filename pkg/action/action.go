// Package action defines the tagged-variant mutations and forwarding
// decisions a Table's flow may apply immediately or defer to a context's
// write list.
package action

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/flowpathio/flowpath/pkg/field"
)

// Kind discriminates the variant carried by an Action.
type Kind uint8

const (
	KindGetField Kind = iota
	KindSetField
	KindCopyField
	KindOutput
	KindQueue
	KindGroup
	KindDrop
)

func (k Kind) String() string {
	switch k {
	case KindGetField:
		return "GetField"
	case KindSetField:
		return "SetField"
	case KindCopyField:
		return "CopyField"
	case KindOutput:
		return "Output"
	case KindQueue:
		return "Queue"
	case KindGroup:
		return "Group"
	case KindDrop:
		return "Drop"
	default:
		return "Unknown"
	}
}

// Action is a tagged union sized to whichever variant it carries. Only the
// fields relevant to Kind are meaningful; the rest are zero.
type Action struct {
	Kind Kind

	// GetField, SetField, CopyField
	Field field.Field

	// SetField: exactly Field.Length bytes.
	Value []byte

	// CopyField: absolute offset in the destination address space.
	DstOffset uint16

	// Output
	Port uint32
	// Queue
	QueueID uint32
	// Group
	GroupID uint32
}

func GetField(f field.Field) Action {
	return Action{Kind: KindGetField, Field: f}
}

func SetField(f field.Field, value []byte) Action {
	return Action{Kind: KindSetField, Field: f, Value: value}
}

func CopyField(f field.Field, dstOffset uint16) Action {
	return Action{Kind: KindCopyField, Field: f, DstOffset: dstOffset}
}

func Output(port uint32) Action {
	return Action{Kind: KindOutput, Port: port}
}

func Queue(id uint32) Action {
	return Action{Kind: KindQueue, QueueID: id}
}

func Group(id uint32) Action {
	return Action{Kind: KindGroup, GroupID: id}
}

func Drop() Action {
	return Action{Kind: KindDrop}
}

var ErrShortBuffer = errors.New("action: short buffer")

// Encode round-trips through Decode: Decode(Encode(a)) equals a.
func (a Action) Encode() []byte {
	switch a.Kind {
	case KindGetField, KindCopyField:
		buf := make([]byte, 6)
		buf[0] = byte(a.Kind)
		encodeField(buf[1:], a.Field)
		if a.Kind == KindCopyField {
			binary.BigEndian.PutUint16(appendGrow(&buf, 2), a.DstOffset)
		}
		return buf
	case KindSetField:
		buf := make([]byte, 6+2+len(a.Value))
		buf[0] = byte(a.Kind)
		encodeField(buf[1:], a.Field)
		binary.BigEndian.PutUint16(buf[6:8], uint16(len(a.Value)))
		copy(buf[8:], a.Value)
		return buf
	case KindOutput:
		buf := make([]byte, 5)
		buf[0] = byte(a.Kind)
		binary.BigEndian.PutUint32(buf[1:], a.Port)
		return buf
	case KindQueue:
		buf := make([]byte, 5)
		buf[0] = byte(a.Kind)
		binary.BigEndian.PutUint32(buf[1:], a.QueueID)
		return buf
	case KindGroup:
		buf := make([]byte, 5)
		buf[0] = byte(a.Kind)
		binary.BigEndian.PutUint32(buf[1:], a.GroupID)
		return buf
	case KindDrop:
		return []byte{byte(a.Kind)}
	default:
		return []byte{byte(a.Kind)}
	}
}

func appendGrow(buf *[]byte, n int) []byte {
	start := len(*buf)
	*buf = append(*buf, make([]byte, n)...)
	return (*buf)[start:]
}

func encodeField(dst []byte, f field.Field) {
	dst[0] = byte(f.Address)
	binary.BigEndian.PutUint16(dst[1:3], f.Offset)
	binary.BigEndian.PutUint16(dst[3:5], f.Length)
}

func decodeField(src []byte) (field.Field, error) {
	if len(src) < 5 {
		return field.Field{}, ErrShortBuffer
	}
	return field.Field{
		Address: field.Address(src[0]),
		Offset:  binary.BigEndian.Uint16(src[1:3]),
		Length:  binary.BigEndian.Uint16(src[3:5]),
	}, nil
}

// Decode is the inverse of Encode.
func Decode(buf []byte) (Action, error) {
	if len(buf) < 1 {
		return Action{}, ErrShortBuffer
	}
	kind := Kind(buf[0])
	switch kind {
	case KindGetField:
		f, err := decodeField(buf[1:])
		if err != nil {
			return Action{}, err
		}
		return Action{Kind: kind, Field: f}, nil
	case KindCopyField:
		if len(buf) < 8 {
			return Action{}, ErrShortBuffer
		}
		f, err := decodeField(buf[1:6])
		if err != nil {
			return Action{}, err
		}
		return Action{Kind: kind, Field: f, DstOffset: binary.BigEndian.Uint16(buf[6:8])}, nil
	case KindSetField:
		if len(buf) < 8 {
			return Action{}, ErrShortBuffer
		}
		f, err := decodeField(buf[1:6])
		if err != nil {
			return Action{}, err
		}
		valLen := int(binary.BigEndian.Uint16(buf[6:8]))
		if len(buf) < 8+valLen {
			return Action{}, ErrShortBuffer
		}
		value := make([]byte, valLen)
		copy(value, buf[8:8+valLen])
		return Action{Kind: kind, Field: f, Value: value}, nil
	case KindOutput:
		if len(buf) < 5 {
			return Action{}, ErrShortBuffer
		}
		return Action{Kind: kind, Port: binary.BigEndian.Uint32(buf[1:5])}, nil
	case KindQueue:
		if len(buf) < 5 {
			return Action{}, ErrShortBuffer
		}
		return Action{Kind: kind, QueueID: binary.BigEndian.Uint32(buf[1:5])}, nil
	case KindGroup:
		if len(buf) < 5 {
			return Action{}, ErrShortBuffer
		}
		return Action{Kind: kind, GroupID: binary.BigEndian.Uint32(buf[1:5])}, nil
	case KindDrop:
		return Action{Kind: kind}, nil
	default:
		return Action{}, fmt.Errorf("action: unknown kind %d", buf[0])
	}
}
