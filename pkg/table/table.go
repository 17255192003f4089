// Package table implements the match-action Table: an exact-match flow
// index keyed by gathered field bytes, with a miss flow run whenever no
// entry matches.
package table

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/flowpathio/flowpath/pkg/packet"
)

// Type selects a table's matching discipline. Prefix and Wildcard are
// accepted at construction but their Find always misses: only Exact
// performs a real lookup in this implementation.
type Type uint8

const (
	Exact Type = iota
	Prefix
	Wildcard
)

func (t Type) String() string {
	switch t {
	case Exact:
		return "exact"
	case Prefix:
		return "prefix"
	case Wildcard:
		return "wildcard"
	default:
		return "unknown"
	}
}

var (
	ErrKeyWidthMismatch = errors.New("table: key width does not match table key size")
	ErrUnknownTableType = errors.New("table: unknown table type")
)

// defaultMiss is the standing default for a table constructed without an
// explicit miss flow: unconditional drop.
func defaultMiss(t *Table, ctx *packet.Context) error {
	pipeline := ctx.Pipeline()
	if pipeline == nil {
		ctx.MarkDropped()
		return nil
	}
	return pipeline.Drop(ctx)
}

// Table is a single match-action stage: a fixed key width, a matching
// discipline, an exact-match index and a miss flow run when nothing
// matches.
type Table struct {
	id      uint32
	name    string
	kind    Type
	keySize int

	mu    sync.RWMutex
	flows map[string]*Flow
	miss  *Flow

	lookups uint64
	misses  uint64
}

// New constructs an empty table with the drop-all default miss flow
// installed; InsertMiss replaces it later if the application wants
// different miss behavior.
func New(id uint32, name string, kind Type, keySize int) (*Table, error) {
	switch kind {
	case Exact, Prefix, Wildcard:
	default:
		return nil, fmt.Errorf("kind %d: %w", kind, ErrUnknownTableType)
	}
	return &Table{
		id:      id,
		name:    name,
		kind:    kind,
		keySize: keySize,
		flows:   make(map[string]*Flow),
		miss:    newFlow(nil, defaultMiss, FlowAttrs{}),
	}, nil
}

func (t *Table) ID() uint32     { return t.id }
func (t *Table) Name() string   { return t.name }
func (t *Table) Type() Type     { return t.kind }
func (t *Table) KeySize() int   { return t.keySize }

// Count returns the number of installed flows, excluding the miss flow.
func (t *Table) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.flows)
}

// Lookups returns the number of Find calls this table has served.
func (t *Table) Lookups() uint64 { return atomic.LoadUint64(&t.lookups) }

// Misses returns the number of Find calls that ran the miss flow because
// no installed flow matched the key (always true for Prefix/Wildcard
// tables, since neither has a real matching index).
func (t *Table) Misses() uint64 { return atomic.LoadUint64(&t.misses) }

// Flows returns a snapshot of every installed flow together with the key
// it was inserted under, excluding the miss flow. The returned slice is
// safe to range over after Table mutates concurrently; it will simply not
// reflect later inserts or erases.
func (t *Table) Flows() []FlowEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]FlowEntry, 0, len(t.flows))
	for k, f := range t.flows {
		out = append(out, FlowEntry{Key: []byte(k), Flow: f})
	}
	return out
}

// FlowEntry pairs an installed flow with the key it is indexed under, for
// callers (the control API, an operator shell) that need both.
type FlowEntry struct {
	Key  []byte
	Flow *Flow
}

// Insert installs a flow under key with default attributes (zero
// priority, no timeouts, no cookie, no flags), replacing any existing
// flow at the same key. This is add_flow's default-attributes form
// (§4.6); use InsertWithAttrs to carry priority/timeouts/cookie/flags.
func (t *Table) Insert(key []byte, instr InstrFunc) (*Flow, error) {
	return t.InsertWithAttrs(key, instr, FlowAttrs{})
}

// InsertWithAttrs installs a flow under key carrying attrs, replacing
// any existing flow at the same key. attrs are stored only; nothing in
// this package enforces priority ordering, timeouts or flags.
func (t *Table) InsertWithAttrs(key []byte, instr InstrFunc, attrs FlowAttrs) (*Flow, error) {
	if len(key) != t.keySize {
		return nil, fmt.Errorf("got %d want %d: %w", len(key), t.keySize, ErrKeyWidthMismatch)
	}
	f := newFlow(key, instr, attrs)
	t.mu.Lock()
	t.flows[string(key)] = f
	t.mu.Unlock()
	return f, nil
}

// InsertMiss replaces the table's miss flow, run whenever Find finds no
// exact match.
func (t *Table) InsertMiss(instr InstrFunc) *Flow {
	f := newFlow(nil, instr, FlowAttrs{})
	t.mu.Lock()
	t.miss = f
	t.mu.Unlock()
	return f
}

// Erase removes the flow installed at key. Erasing an absent key is a
// no-op, not an error.
func (t *Table) Erase(key []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.flows, string(key))
}

// Find looks up key and runs the matching flow (or the miss flow) against
// ctx, incrementing that flow's hit counters. Find is total: it always
// runs some flow, matched or miss, and never returns a "no such flow"
// error to the caller — that is the miss flow's job to handle.
func (t *Table) Find(ctx *packet.Context, key []byte) error {
	atomic.AddUint64(&t.lookups, 1)
	f, missed := t.lookup(key)
	if missed {
		atomic.AddUint64(&t.misses, 1)
	}
	f.touch(len(ctx.Raw()), time.Now())
	return f.Run(t, ctx)
}

// lookup returns the matching flow and whether the lookup missed (ran the
// table's miss flow instead of an installed one).
func (t *Table) lookup(key []byte) (*Flow, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.kind == Exact {
		if f, ok := t.flows[string(key)]; ok {
			return f, false
		}
	}
	// Prefix and Wildcard tables have no matching index in this
	// implementation; every lookup is a total miss.
	return t.miss, true
}
