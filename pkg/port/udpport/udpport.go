// Package udpport implements an emulated Port that frames packets inside
// UDP datagrams to a peer, used for local development and the reference
// scenarios where no real interface is available.
package udpport

import (
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/flowpathio/flowpath/pkg/metrics"
	"github.com/flowpathio/flowpath/pkg/packet"
	"github.com/flowpathio/flowpath/pkg/port"
	"github.com/flowpathio/flowpath/pkg/portqueue"
)

// egressQueueCapacity bounds how many frames may sit between Send and the
// socket write before Send blocks the caller.
const egressQueueCapacity = 256

// Port sends a Context's raw bytes as the payload of a UDP datagram to a
// fixed peer address, prefixed with a synthetic Ethernet header so the
// datagram payload is a complete link-layer frame.
type Port struct {
	id            uint32
	name          string
	dataplaneName string
	logger        *slog.Logger
	conn          *net.UDPConn
	peer          *net.UDPAddr
	srcMAC        net.HardwareAddr
	dstMAC        net.HardwareAddr
	linkDown      bool

	egress *portqueue.Queue[[]byte]
	wg     sync.WaitGroup
}

// New dials a UDP socket to peerAddr and returns a Port sending framed
// packets to it. Frames are handed to a background goroutine over a
// bounded queue so Send never blocks on the socket write.
func New(id uint32, name, peerAddr, dataplaneName string, logger *slog.Logger) (*Port, error) {
	peer, err := net.ResolveUDPAddr("udp", peerAddr)
	if err != nil {
		return nil, fmt.Errorf("udpport %s: resolve peer: %w", name, err)
	}
	conn, err := net.DialUDP("udp", nil, peer)
	if err != nil {
		return nil, fmt.Errorf("udpport %s: dial: %w", name, err)
	}
	p := &Port{
		id:            id,
		name:          name,
		dataplaneName: dataplaneName,
		logger:        logger,
		conn:          conn,
		peer:          peer,
		srcMAC:        net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, byte(id)},
		dstMAC:        net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0xff},
		egress:        portqueue.New[[]byte](egressQueueCapacity),
	}
	p.wg.Add(1)
	go p.runEgress()
	return p, nil
}

func (p *Port) ID() uint32   { return p.id }
func (p *Port) Name() string { return p.name }

func (p *Port) State() port.State { return port.State{LinkDown: p.linkDown} }

// SetLinkDown flips the port's reported link state, used by tests to
// exercise the LinkDown egress path.
func (p *Port) SetLinkDown(down bool) { p.linkDown = down }

// Send frames ctx's raw bytes behind a synthetic Ethernet header and
// enqueues the result for the egress goroutine. The frame is copied
// because ctx's buffer is deallocated back into the pool as soon as Send
// returns, before the background goroutine could otherwise read it.
func (p *Port) Send(ctx *packet.Context) error {
	if p.linkDown {
		metrics.PortSendErrors.WithLabelValues(p.dataplaneName, p.name).Inc()
		return port.ErrLinkDown
	}
	eth := &layers.Ethernet{
		SrcMAC:       p.srcMAC,
		DstMAC:       p.dstMAC,
		EthernetType: layers.EthernetTypeLLC,
	}
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: false}
	payload := gopacket.Payload(ctx.Raw())
	if err := gopacket.SerializeLayers(buf, opts, eth, payload); err != nil {
		metrics.PortSendErrors.WithLabelValues(p.dataplaneName, p.name).Inc()
		return fmt.Errorf("udpport %s: serialize: %w", p.name, err)
	}
	frame := append([]byte(nil), buf.Bytes()...)
	if err := p.egress.Push(frame); err != nil {
		metrics.PortSendErrors.WithLabelValues(p.dataplaneName, p.name).Inc()
		return fmt.Errorf("udpport %s: enqueue: %w", p.name, err)
	}
	return nil
}

// runEgress drains queued frames and writes them to the UDP socket until
// the queue is closed and empty.
func (p *Port) runEgress() {
	defer p.wg.Done()
	for {
		frame, err := p.egress.Pop()
		if err != nil {
			return
		}
		if _, err := p.conn.Write(frame); err != nil {
			p.logger.Warn("udp send failed", "port", p.name, "error", err)
			metrics.PortSendErrors.WithLabelValues(p.dataplaneName, p.name).Inc()
			continue
		}
		metrics.PortSent.WithLabelValues(p.dataplaneName, p.name).Inc()
	}
}

// Close stops accepting new frames, waits for the egress goroutine to
// drain what is already queued, then releases the underlying socket.
func (p *Port) Close() error {
	p.egress.Close()
	p.wg.Wait()
	return p.conn.Close()
}
