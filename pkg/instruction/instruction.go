// Package instruction models the control-flow tags a flow's handler can
// describe declaratively: apply an action now, defer it, clear the defer
// list, or hop to another table. Most flow handlers in this module are
// plain Go callables (table.InstrFunc); Instruction exists for callers that
// want to describe a handler's effect as data instead of code — the
// composable equivalent of the source's Apply/Write/Clear/Goto opcodes.
package instruction

import (
	"encoding/binary"
	"errors"

	"github.com/flowpathio/flowpath/pkg/action"
	"github.com/flowpathio/flowpath/pkg/packet"
)

type Kind uint8

const (
	KindApply Kind = iota
	KindWrite
	KindClear
	KindGoto
)

type Instruction struct {
	Kind Kind

	// Apply, Write
	Action action.Action

	// Goto
	TargetTable uint32
}

func Apply(a action.Action) Instruction { return Instruction{Kind: KindApply, Action: a} }
func Write(a action.Action) Instruction { return Instruction{Kind: KindWrite, Action: a} }
func Clear() Instruction                { return Instruction{Kind: KindClear} }
func Goto(tableID uint32) Instruction   { return Instruction{Kind: KindGoto, TargetTable: tableID} }

var ErrShortBuffer = errors.New("instruction: short buffer")

func (i Instruction) Encode() []byte {
	switch i.Kind {
	case KindApply, KindWrite:
		encoded := i.Action.Encode()
		buf := make([]byte, 1+len(encoded))
		buf[0] = byte(i.Kind)
		copy(buf[1:], encoded)
		return buf
	case KindGoto:
		buf := make([]byte, 5)
		buf[0] = byte(i.Kind)
		binary.BigEndian.PutUint32(buf[1:], i.TargetTable)
		return buf
	default:
		return []byte{byte(i.Kind)}
	}
}

func Decode(buf []byte) (Instruction, error) {
	if len(buf) < 1 {
		return Instruction{}, ErrShortBuffer
	}
	kind := Kind(buf[0])
	switch kind {
	case KindApply, KindWrite:
		a, err := action.Decode(buf[1:])
		if err != nil {
			return Instruction{}, err
		}
		return Instruction{Kind: kind, Action: a}, nil
	case KindGoto:
		if len(buf) < 5 {
			return Instruction{}, ErrShortBuffer
		}
		return Instruction{Kind: kind, TargetTable: binary.BigEndian.Uint32(buf[1:5])}, nil
	case KindClear:
		return Instruction{Kind: kind}, nil
	default:
		return Instruction{}, errors.New("instruction: unknown kind")
	}
}

// EncodeProgram serializes an ordered sequence of instructions as a
// length-prefixed count followed by each instruction's own
// length-prefixed encoding, so DecodeProgram can walk it without knowing
// any instruction's width in advance.
func EncodeProgram(instrs []Instruction) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, uint32(len(instrs)))
	for _, i := range instrs {
		encoded := i.Encode()
		lenPrefix := make([]byte, 2)
		binary.BigEndian.PutUint16(lenPrefix, uint16(len(encoded)))
		buf = append(buf, lenPrefix...)
		buf = append(buf, encoded...)
	}
	return buf
}

// DecodeProgram is the inverse of EncodeProgram.
func DecodeProgram(buf []byte) ([]Instruction, error) {
	if len(buf) < 4 {
		return nil, ErrShortBuffer
	}
	count := binary.BigEndian.Uint32(buf[:4])
	buf = buf[4:]
	instrs := make([]Instruction, 0, count)
	for i := uint32(0); i < count; i++ {
		if len(buf) < 2 {
			return nil, ErrShortBuffer
		}
		n := int(binary.BigEndian.Uint16(buf[:2]))
		buf = buf[2:]
		if len(buf) < n {
			return nil, ErrShortBuffer
		}
		instr, err := Decode(buf[:n])
		if err != nil {
			return nil, err
		}
		instrs = append(instrs, instr)
		buf = buf[n:]
	}
	return instrs, nil
}

// ErrUnknownKind is returned by Run when an instruction's Kind is not one
// of the four defined here; Decode already rejects this at parse time, so
// Run only sees it from a program built directly with an invalid literal.
var ErrUnknownKind = errors.New("instruction: unknown kind")

// Run interprets instrs against ctx in order: Apply executes an action
// immediately, Write defers one to ctx's commit list, Clear empties that
// list, and Goto hops to another table and is expected to be the program's
// last instruction, since control does not return here afterward.
func Run(instrs []Instruction, ctx *packet.Context) error {
	for _, instr := range instrs {
		switch instr.Kind {
		case KindApply:
			if _, err := ctx.ApplyAction(instr.Action); err != nil {
				return err
			}
		case KindWrite:
			ctx.WriteAction(instr.Action)
		case KindClear:
			ctx.ClearActions()
		case KindGoto:
			return ctx.Pipeline().Goto(ctx, instr.TargetTable)
		default:
			return ErrUnknownKind
		}
	}
	return nil
}
