package udpport_test

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/flowpathio/flowpath/pkg/buffer"
	"github.com/flowpathio/flowpath/pkg/dataplane"
	"github.com/flowpathio/flowpath/pkg/logger"
	"github.com/flowpathio/flowpath/pkg/port"
	"github.com/flowpathio/flowpath/pkg/port/udpport"
)

func listenLoopback(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestSendDeliversFrameThroughEgressQueue(t *testing.T) {
	peer := listenLoopback(t)

	p, err := udpport.New(1, "p1", peer.LocalAddr().String(), "dp0", logger.Component(logger.Port))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { p.Close() })

	pool := buffer.New(1)
	dp := dataplane.New("dp0", pool, nil)
	if err := dp.RegisterPort(p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, err := dp.NewContext(0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	copy(ctx.Raw()[:4], []byte{0xDE, 0xAD, 0xBE, 0xEF})
	if err := dp.OutputPort(ctx, p.ID()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	peer.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 128)
	n, err := peer.Read(buf)
	if err != nil {
		t.Fatalf("expected a datagram to arrive via the egress queue: %v", err)
	}
	if n < 18 {
		t.Fatalf("got %d bytes, want at least an ethernet header plus payload", n)
	}
}

func TestCloseDrainsQueueBeforeClosingSocket(t *testing.T) {
	peer := listenLoopback(t)

	p, err := udpport.New(2, "p2", peer.LocalAddr().String(), "dp0", logger.Component(logger.Port))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	pool := buffer.New(1)
	dp := dataplane.New("dp0", pool, nil)
	if err := dp.RegisterPort(p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx, err := dp.NewContext(0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := dp.OutputPort(ctx, p.ID()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := p.Close(); err != nil {
		t.Fatalf("unexpected error closing port: %v", err)
	}

	peer.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 128)
	if _, err := peer.Read(buf); err != nil {
		t.Fatalf("expected the queued frame to be flushed before Close returned: %v", err)
	}
}

func TestSendAfterLinkDownReturnsErrLinkDown(t *testing.T) {
	peer := listenLoopback(t)
	p, err := udpport.New(3, "p3", peer.LocalAddr().String(), "dp0", logger.Component(logger.Port))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { p.Close() })

	p.SetLinkDown(true)
	pool := buffer.New(1)
	dp := dataplane.New("dp0", pool, nil)
	if err := dp.RegisterPort(p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx, err := dp.NewContext(0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := dp.OutputPort(ctx, p.ID()); !errors.Is(err, port.ErrLinkDown) {
		t.Fatalf("got %v, want ErrLinkDown when the port reports link down", err)
	}
}
