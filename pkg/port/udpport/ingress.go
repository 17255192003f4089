package udpport

import (
	"context"
	"net"

	"github.com/flowpathio/flowpath/pkg/app"
	"github.com/flowpathio/flowpath/pkg/dataplane"
)

// RunIngress binds listenAddr and, until ctx is done, reads UDP datagrams
// and drives each one through application.Process on a Context allocated
// from dp's pool, tagged with this port's ID as the ingress port. This is
// the "port driver" role described alongside the core: it owns the
// alloc/fill/process sequence for one worker. The buffer is released by
// whichever egress call the application makes (or here, if SetLength
// fails).
func RunIngress(ctx context.Context, dp *dataplane.Dataplane, portID uint32, listenAddr string, application app.Application) error {
	addr, err := net.ResolveUDPAddr("udp", listenAddr)
	if err != nil {
		return err
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	buf := make([]byte, 65535)
	for {
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				continue
			}
		}

		pctx, err := dp.NewContext(portID)
		if err != nil {
			// PoolExhausted: the driver's back-pressure responsibility is
			// to drop the datagram rather than block.
			continue
		}
		copy(pctx.Raw(), buf[:n])
		if err := pctx.SetLength(n); err != nil {
			_ = dp.Drop(pctx)
			continue
		}
		application.Process(pctx)
	}
}
