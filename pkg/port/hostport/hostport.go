// Package hostport implements a Port backed by a real host network
// interface, sending raw frames over an AF_PACKET socket and observing
// link state through netlink.
package hostport

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/vishvananda/netlink"

	"github.com/flowpathio/flowpath/pkg/events"
	"github.com/flowpathio/flowpath/pkg/metrics"
	"github.com/flowpathio/flowpath/pkg/packet"
	"github.com/flowpathio/flowpath/pkg/port"
)

// Port sends a Context's raw bytes as a raw Ethernet frame out a named
// host interface, and reports link state from the interface's live
// netlink attributes rather than a cached flag.
type Port struct {
	id            uint32
	name          string
	dataplaneName string
	bus           events.Bus

	mu     sync.RWMutex
	link   netlink.Link
	logger *slog.Logger

	linkDown atomic.Bool

	fd int
}

// New resolves ifaceName via netlink and opens a raw socket bound to it.
// bus and dataplaneName may be zero-valued; a nil bus makes link-state
// publication a no-op.
func New(id uint32, name, ifaceName string, logger *slog.Logger, bus events.Bus, dataplaneName string) (*Port, error) {
	link, err := netlink.LinkByName(ifaceName)
	if err != nil {
		return nil, fmt.Errorf("hostport %s: link %s: %w", name, ifaceName, err)
	}

	fd, err := syscall.Socket(syscall.AF_PACKET, syscall.SOCK_RAW, int(hostToNetworkShort(syscall.ETH_P_ALL)))
	if err != nil {
		return nil, fmt.Errorf("hostport %s: socket: %w", name, err)
	}
	addr := &syscall.SockaddrLinklayer{
		Protocol: hostToNetworkShort(syscall.ETH_P_ALL),
		Ifindex:  link.Attrs().Index,
	}
	if err := syscall.Bind(fd, addr); err != nil {
		syscall.Close(fd)
		return nil, fmt.Errorf("hostport %s: bind: %w", name, err)
	}

	p := &Port{id: id, name: name, dataplaneName: dataplaneName, bus: bus, link: link, logger: logger, fd: fd}
	p.linkDown.Store(link.Attrs().OperState != netlink.OperUp)
	return p, nil
}

func (p *Port) ID() uint32   { return p.id }
func (p *Port) Name() string { return p.name }

// State re-resolves the interface's live netlink attributes so a
// down/removed NIC is reflected without a background poller, publishing
// LinkStateChangedEvent whenever the observed state flips.
func (p *Port) State() port.State {
	p.mu.RLock()
	name := p.link.Attrs().Name
	p.mu.RUnlock()

	link, err := netlink.LinkByName(name)
	down := err != nil
	if !down {
		p.mu.Lock()
		p.link = link
		p.mu.Unlock()
		down = link.Attrs().OperState != netlink.OperUp
	}
	if p.linkDown.Swap(down) != down {
		p.publishLinkState(down)
	}
	return port.State{LinkDown: down}
}

func (p *Port) publishLinkState(down bool) {
	if p.bus == nil {
		return
	}
	p.bus.Publish(events.TopicLinkStateChanged, events.Event{
		Source: p.dataplaneName,
		Data:   events.LinkStateChangedEvent{Dataplane: p.dataplaneName, Port: p.name, LinkDown: down},
	})
}

// Send writes ctx's raw bytes directly onto the interface as a link-layer
// frame.
func (p *Port) Send(ctx *packet.Context) error {
	if p.State().LinkDown {
		metrics.PortSendErrors.WithLabelValues(p.dataplaneName, p.name).Inc()
		return port.ErrLinkDown
	}
	p.mu.RLock()
	ifindex := p.link.Attrs().Index
	p.mu.RUnlock()

	addr := syscall.SockaddrLinklayer{
		Protocol: hostToNetworkShort(syscall.ETH_P_ALL),
		Ifindex:  ifindex,
	}
	if err := syscall.Sendto(p.fd, ctx.Raw(), 0, &addr); err != nil {
		p.logger.Warn("hostport send failed", "port", p.name, "error", err)
		metrics.PortSendErrors.WithLabelValues(p.dataplaneName, p.name).Inc()
		return fmt.Errorf("hostport %s: sendto: %w", p.name, err)
	}
	metrics.PortSent.WithLabelValues(p.dataplaneName, p.name).Inc()
	return nil
}

// Close releases the raw socket.
func (p *Port) Close() error {
	return syscall.Close(p.fd)
}

func hostToNetworkShort(i int) uint16 {
	return uint16(i)<<8 | uint16(i)>>8
}
