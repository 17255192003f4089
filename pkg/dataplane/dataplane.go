// Package dataplane wires the buffer pool, tables and ports together
// behind the packet.Pipeline interface: it is the concrete runtime a
// loaded application's process(ctx) hook actually drives.
package dataplane

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/flowpathio/flowpath/pkg/buffer"
	"github.com/flowpathio/flowpath/pkg/events"
	"github.com/flowpathio/flowpath/pkg/key"
	"github.com/flowpathio/flowpath/pkg/packet"
	"github.com/flowpathio/flowpath/pkg/port"
	"github.com/flowpathio/flowpath/pkg/table"
)

const dropPortID uint32 = 0

var (
	ErrUnknownTableType  = table.ErrUnknownTableType
	ErrDuplicateTableID  = errors.New("dataplane: duplicate table id")
	ErrUnknownTable      = errors.New("dataplane: unknown table id")
	ErrDuplicatePortID   = errors.New("dataplane: duplicate port id")
	ErrUnknownPort       = errors.New("dataplane: unknown port")
	ErrDuplicatePortName = errors.New("dataplane: duplicate port name")
)

// Dataplane owns the pool, the ordered table list and the registered
// ports, and implements packet.Pipeline so a Context can reach back into
// it for drop/flood/output/goto during dispatch.
type Dataplane struct {
	name string
	pool *buffer.Pool
	bus  events.Bus
	id   uuid.UUID

	mu         sync.RWMutex
	tables     map[uint32]*table.Table
	tableOrder []uint32
	ports      map[uint32]port.Port
	portByName map[string]port.Port

	dropPort *port.Drop
}

// New constructs a Dataplane backed by pool. The well-known drop port is
// registered immediately; flood has no standing Port value — it fans out
// to every other registered, link-up port at send time. bus may be nil,
// in which case the dataplane never publishes.
func New(name string, pool *buffer.Pool, bus events.Bus) *Dataplane {
	dp := &Dataplane{
		name:       name,
		pool:       pool,
		bus:        bus,
		id:         uuid.New(),
		tables:     make(map[uint32]*table.Table),
		ports:      make(map[uint32]port.Port),
		portByName: make(map[string]port.Port),
		dropPort:   port.NewDrop(dropPortID),
	}
	dp.ports[dropPortID] = dp.dropPort
	dp.portByName[dp.dropPort.Name()] = dp.dropPort
	pool.SetEventSink(name, bus)
	return dp
}

func (dp *Dataplane) Name() string       { return dp.name }
func (dp *Dataplane) Pool() *buffer.Pool { return dp.pool }

// InstanceID returns the identifier generated for this Dataplane at
// construction; it stays fixed for the Dataplane's lifetime.
func (dp *Dataplane) InstanceID() uuid.UUID { return dp.id }

// NewCookie derives an opaque, non-zero cookie an application can attach
// to a flow it installs, or omit and let InstallFlow assign one.
func (dp *Dataplane) NewCookie() uint64 {
	u := uuid.New()
	return binary.BigEndian.Uint64(u[:8])
}

// publish forwards an event to the bus if one is configured; a nil bus
// makes every publish a no-op instead of a nil-pointer panic.
func (dp *Dataplane) publish(topic string, data any) {
	if dp.bus == nil {
		return
	}
	dp.bus.Publish(topic, events.Event{Source: dp.name, Data: data})
}

// Tables returns the dataplane's registered tables in creation order, for
// periodic inspection (metrics sampling, introspection endpoints).
func (dp *Dataplane) Tables() []*table.Table {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	out := make([]*table.Table, 0, len(dp.tableOrder))
	for _, id := range dp.tableOrder {
		out = append(out, dp.tables[id])
	}
	return out
}

// Ports returns every registered port, including the well-known drop
// port.
func (dp *Dataplane) Ports() []port.Port {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	out := make([]port.Port, 0, len(dp.ports))
	for _, p := range dp.ports {
		out = append(out, p)
	}
	return out
}

// InstallFlow installs a flow carrying attrs into the table identified by
// tableID, defaulting attrs.Cookie to a freshly generated one when the
// caller leaves it zero, and publishes FlowInstalledEvent on success.
func (dp *Dataplane) InstallFlow(tableID uint32, key []byte, instr table.InstrFunc, attrs table.FlowAttrs) (*table.Flow, error) {
	t, err := dp.Table(tableID)
	if err != nil {
		return nil, err
	}
	if attrs.Cookie == 0 {
		attrs.Cookie = dp.NewCookie()
	}
	f, err := t.InsertWithAttrs(key, instr, attrs)
	if err != nil {
		return nil, err
	}
	dp.publish(events.TopicFlowInstalled, events.FlowInstalledEvent{
		Dataplane: dp.name,
		TableID:   tableID,
		KeyHex:    fmt.Sprintf("%x", key),
	})
	return f, nil
}

// EraseFlow removes the flow installed at key in the table identified by
// tableID and publishes FlowErasedEvent.
func (dp *Dataplane) EraseFlow(tableID uint32, key []byte) error {
	t, err := dp.Table(tableID)
	if err != nil {
		return err
	}
	t.Erase(key)
	dp.publish(events.TopicFlowErased, events.FlowErasedEvent{
		Dataplane: dp.name,
		TableID:   tableID,
		KeyHex:    fmt.Sprintf("%x", key),
	})
	return nil
}

// CreateTable constructs a table of kind and registers it under id. Tables
// are append-only in identity once created, matching the contract that
// the table list is fixed after start.
func (dp *Dataplane) CreateTable(id uint32, name string, kind table.Type, keySize int) (*table.Table, error) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	if _, exists := dp.tables[id]; exists {
		return nil, fmt.Errorf("id %d: %w", id, ErrDuplicateTableID)
	}
	t, err := table.New(id, name, kind, keySize)
	if err != nil {
		return nil, err
	}
	dp.tables[id] = t
	dp.tableOrder = append(dp.tableOrder, id)
	return t, nil
}

// Table returns the table registered under id.
func (dp *Dataplane) Table(id uint32) (*table.Table, error) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	t, ok := dp.tables[id]
	if !ok {
		return nil, fmt.Errorf("id %d: %w", id, ErrUnknownTable)
	}
	return t, nil
}

// RegisterPort adds p to the dataplane's port set, addressable by both ID
// and name.
func (dp *Dataplane) RegisterPort(p port.Port) error {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	if _, exists := dp.ports[p.ID()]; exists {
		return fmt.Errorf("id %d: %w", p.ID(), ErrDuplicatePortID)
	}
	if _, exists := dp.portByName[p.Name()]; exists {
		return fmt.Errorf("name %q: %w", p.Name(), ErrDuplicatePortName)
	}
	dp.ports[p.ID()] = p
	dp.portByName[p.Name()] = p
	return nil
}

// GetPort looks a port up by name.
func (dp *Dataplane) GetPort(name string) (port.Port, error) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	p, ok := dp.portByName[name]
	if !ok {
		return nil, fmt.Errorf("name %q: %w", name, ErrUnknownPort)
	}
	return p, nil
}

// NewContext allocates a buffer from the pool and returns a Context bound
// to it, ready for a port driver to fill with raw bytes and hand to the
// loaded application's process hook.
func (dp *Dataplane) NewContext(inputPort uint32) (*packet.Context, error) {
	id, err := dp.pool.Alloc()
	if err != nil {
		return nil, err
	}
	buf, err := dp.pool.Get(id)
	if err != nil {
		return nil, err
	}
	buf.Context.Reset(id, buf.Data(), buf.Metadata(), dp)
	buf.Context.SetInputPort(inputPort)
	return buf.Context, nil
}

// release commits the action list and returns ctx's buffer to the pool.
// Drop, and OutputPort for an unknown port ID, finish a packet through it;
// on an already finalized context it does nothing.
func (dp *Dataplane) release(ctx *packet.Context) error {
	if ctx.Finalized() {
		return nil
	}
	commitErr := ctx.Commit()
	ctx.Finalize()
	if err := dp.pool.Dealloc(ctx.BufferID()); err != nil {
		if commitErr != nil {
			return commitErr
		}
		return err
	}
	return commitErr
}

// Drop sends ctx on the well-known drop port and releases its buffer.
func (dp *Dataplane) Drop(ctx *packet.Context) error {
	ctx.MarkDropped()
	_ = dp.dropPort.Send(ctx)
	return dp.release(ctx)
}

// Flood sends ctx on every registered port other than its ingress port
// and the drop port, skipping ports reporting a down link. If a deferred
// action dropped ctx during Commit, the actual sends are skipped — the
// buffer is still released and counters still update.
func (dp *Dataplane) Flood(ctx *packet.Context) error {
	dp.mu.RLock()
	targets := make([]port.Port, 0, len(dp.ports))
	for id, p := range dp.ports {
		if id == dropPortID || id == ctx.InputPort() {
			continue
		}
		if p.State().LinkDown {
			continue
		}
		targets = append(targets, p)
	}
	dp.mu.RUnlock()

	if err := ctx.Commit(); err != nil {
		ctx.Finalize()
		_ = dp.pool.Dealloc(ctx.BufferID())
		return err
	}
	var sendErr error
	if !ctx.Dropped() {
		for _, p := range targets {
			if err := p.Send(ctx); err != nil && sendErr == nil {
				sendErr = err
			}
		}
	}
	ctx.Finalize()
	if err := dp.pool.Dealloc(ctx.BufferID()); err != nil && sendErr == nil {
		sendErr = err
	}
	return sendErr
}

// OutputPort transmits ctx immediately via the port with the given ID. If
// a deferred action dropped ctx during Commit, the actual send is skipped
// (§4.2: subsequent egress is a no-op except for counters).
func (dp *Dataplane) OutputPort(ctx *packet.Context, portID uint32) error {
	dp.mu.RLock()
	p, ok := dp.ports[portID]
	dp.mu.RUnlock()
	if !ok {
		ctx.MarkDropped()
		return dp.release(ctx)
	}

	if err := ctx.Commit(); err != nil {
		ctx.Finalize()
		_ = dp.pool.Dealloc(ctx.BufferID())
		return err
	}
	var sendErr error
	if !ctx.Dropped() {
		if sendErr = p.Send(ctx); sendErr != nil {
			ctx.MarkDropped()
		}
	}
	ctx.Finalize()
	if err := dp.pool.Dealloc(ctx.BufferID()); err != nil && sendErr == nil {
		sendErr = err
	}
	return sendErr
}

// Goto is packet.Pipeline's hop-by-ID entry point: gather a key from
// fieldIDs, find in the target table, and run the matched flow.
func (dp *Dataplane) Goto(ctx *packet.Context, tableID uint32, fieldIDs ...uint32) error {
	t, err := dp.Table(tableID)
	if err != nil {
		return dp.Drop(ctx)
	}
	return dp.GotoTable(ctx, t, fieldIDs...)
}

// GotoTable is the application-facing goto_table(ctx, tbl, field_ids...)
// entry point: it is the pipeline's sole control transfer.
func (dp *Dataplane) GotoTable(ctx *packet.Context, t *table.Table, fieldIDs ...uint32) error {
	k, err := key.Gather(ctx, t.KeySize(), fieldIDs...)
	if err != nil {
		return dp.Drop(ctx)
	}
	return t.Find(ctx, k)
}
