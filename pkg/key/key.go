// Package key gathers bound fields from a packet.Context into a
// contiguous lookup key for a table's flow index.
package key

import (
	"errors"
	"fmt"

	"github.com/flowpathio/flowpath/pkg/packet"
)

// MaxWidth is the largest key width, in bytes, this module will gather.
const MaxWidth = 128

var (
	ErrUnboundField     = errors.New("key: field not bound in context")
	ErrKeyWidthMismatch = errors.New("key: gathered width does not match requested width")
)

// Gather concatenates the bytes bound to each fieldID, in the order given,
// into a single key of exactly width bytes. Any field not bound in ctx, or
// a total width mismatch, is an error — a table lookup never proceeds on a
// partial key.
func Gather(ctx *packet.Context, width int, fieldIDs ...uint32) ([]byte, error) {
	if width < 0 || width > MaxWidth {
		return nil, fmt.Errorf("key: width %d exceeds max %d", width, MaxWidth)
	}
	out := make([]byte, 0, width)
	for _, id := range fieldIDs {
		f, err := ctx.FieldBinding(id)
		if err != nil {
			return nil, fmt.Errorf("field %d: %w", id, ErrUnboundField)
		}
		view, err := ctx.FieldBytes(f)
		if err != nil {
			return nil, err
		}
		out = append(out, view...)
	}
	if len(out) != width {
		return nil, fmt.Errorf("gathered %d requested %d: %w", len(out), width, ErrKeyWidthMismatch)
	}
	return out, nil
}
