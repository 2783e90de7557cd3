// Package udpsock wraps the UDP socket the controller reads handshake and
// transport datagrams from and writes responses to.
package udpsock

import (
	"fmt"
	"net"
	"net/netip"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

// Socket is the external collaborator contract for UDP I/O, narrow enough
// to mock in controller tests without standing up a real kernel socket.
type Socket interface {
	ReadFromUDPAddrPort(b []byte) (n int, addr netip.AddrPort, err error)
	WriteToUDPAddrPort(b []byte, addr netip.AddrPort) (int, error)
	LocalAddrPort() netip.AddrPort
	Close() error
}

// UDPSocket is the production Socket backed by a bound *net.UDPConn.
type UDPSocket struct {
	conn *net.UDPConn
	pc4  *ipv4.PacketConn
	pc6  *ipv6.PacketConn
}

// Listen binds a UDP socket on port (0 for an ephemeral port), dual-stack
// on "[::]:port" per the configuration contract.
func Listen(port uint16) (*UDPSocket, error) {
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("[::]:%d", port))
	if err != nil {
		return nil, fmt.Errorf("udpsock: failed to resolve listen address: %w", err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("udpsock: failed to bind: %w", err)
	}
	return &UDPSocket{
		conn: conn,
		pc4:  ipv4.NewPacketConn(conn),
		pc6:  ipv6.NewPacketConn(conn),
	}, nil
}

// SetTrafficClass marks outgoing datagrams with the given DSCP/ECN traffic
// class byte, matching the low-latency marking real WireGuard
// implementations apply to handshake and transport traffic. The listening
// socket is dual-stack, so IPv4 and IPv6 traffic share one fd but have
// independent control paths; only one applies to any given peer's address
// family; an error here is reported only if both fail, since one of the
// two is expected to be a no-op on any given platform/socket combination.
func (s *UDPSocket) SetTrafficClass(class int) error {
	err4 := s.pc4.SetTOS(class)
	err6 := s.pc6.SetTrafficClass(class)
	if err4 != nil && err6 != nil {
		return fmt.Errorf("udpsock: failed to set traffic class: ipv4: %v, ipv6: %v", err4, err6)
	}
	return nil
}

func (s *UDPSocket) ReadFromUDPAddrPort(b []byte) (int, netip.AddrPort, error) {
	return s.conn.ReadFromUDPAddrPort(b)
}

func (s *UDPSocket) WriteToUDPAddrPort(b []byte, addr netip.AddrPort) (int, error) {
	return s.conn.WriteToUDPAddrPort(b, addr)
}

func (s *UDPSocket) LocalAddrPort() netip.AddrPort {
	addr, _ := netip.ParseAddrPort(s.conn.LocalAddr().String())
	return addr
}

func (s *UDPSocket) Close() error { return s.conn.Close() }
