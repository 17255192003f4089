// Package port defines the abstract egress target a Dataplane sends
// finished packets to: anything that can accept a *packet.Context and
// report its link state.
package port

import (
	"errors"

	"github.com/flowpathio/flowpath/pkg/packet"
)

var ErrLinkDown = errors.New("port: link down")

// State reports a port's current link condition.
type State struct {
	LinkDown bool
}

// Port is a single egress target: a stable ID, a human-readable name, a
// send operation and an observable link state. Implementations decide how
// Send actually moves bytes (an emulated UDP socket, a real host NIC, a
// unit-test recorder).
type Port interface {
	ID() uint32
	Name() string
	Send(ctx *packet.Context) error
	State() State
}

// Drop is the well-known sink port every Dataplane installs: Send always
// succeeds and discards the packet, matching the miss/explicit-drop path
// so callers can route to a port ID uniformly instead of special-casing
// drops in the ingress loop.
type Drop struct {
	id uint32
}

// NewDrop constructs the drop sink with the given port ID.
func NewDrop(id uint32) *Drop { return &Drop{id: id} }

func (d *Drop) ID() uint32   { return d.id }
func (d *Drop) Name() string { return "drop" }
func (d *Drop) Send(ctx *packet.Context) error {
	ctx.MarkDropped()
	return nil
}
func (d *Drop) State() State { return State{} }
