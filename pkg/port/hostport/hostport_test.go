package hostport_test

import (
	"testing"

	"github.com/flowpathio/flowpath/pkg/events"
	"github.com/flowpathio/flowpath/pkg/logger"
	"github.com/flowpathio/flowpath/pkg/port/hostport"
)

type recordingBus struct {
	published []events.Event
	topics    []string
}

func (b *recordingBus) Publish(topic string, event events.Event) {
	b.topics = append(b.topics, topic)
	b.published = append(b.published, event)
}
func (b *recordingBus) Subscribe(topic string, handler events.Handler) events.Subscription {
	return nil
}
func (b *recordingBus) SubscribeAll(handler events.Handler) events.Subscription { return nil }
func (b *recordingBus) Stats() events.Stats                                    { return events.Stats{} }
func (b *recordingBus) SetDebugTopics(topics []string)                         {}
func (b *recordingBus) DebugTopics() []string                                  { return nil }
func (b *recordingBus) Close() error                                          { return nil }

// TestNewBindsLoopback exercises construction against the loopback
// interface, which is present in any network namespace this test runs in
// (unlike a bench NIC name, which is environment-specific).
func TestNewBindsLoopback(t *testing.T) {
	bus := &recordingBus{}
	p, err := hostport.New(1, "lo0", "lo", logger.Component(logger.Port), bus, "dp0")
	if err != nil {
		t.Skipf("skipping: could not bind loopback in this sandbox: %v", err)
	}
	defer p.Close()

	if p.Name() != "lo0" {
		t.Fatalf("got name %q, want lo0", p.Name())
	}
	// Loopback never reports OperUp on every platform this runs on; only
	// assert State() completes without panicking and is internally
	// consistent with a subsequent call.
	first := p.State()
	second := p.State()
	if first.LinkDown != second.LinkDown {
		t.Fatal("expected State to be stable across immediate repeated calls")
	}
}
