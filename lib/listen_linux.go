//go:build linux

package lib

import (
	"fmt"
	"net"
	"os"
	"strconv"

	"golang.org/x/sys/unix"
)

// Listen binds addr and calls listen(2) with the given backlog. The net
// package always uses somaxconn, so the socket is built by hand and then
// handed to net.FileListener.
func Listen(addr string, backlog int) (*net.TCPListener, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", addr, err)
	}
	var sockaddr unix.Sockaddr
	family := unix.AF_INET
	if ip4 := tcpAddr.IP.To4(); ip4 != nil || tcpAddr.IP == nil {
		a4 := &unix.SockaddrInet4{Port: tcpAddr.Port}
		copy(a4.Addr[:], ip4)
		sockaddr = a4
	} else {
		family = unix.AF_INET6
		zone, err := zoneID(tcpAddr.Zone)
		if err != nil {
			return nil, fmt.Errorf("zone %s: %w", addr, err)
		}
		a6 := &unix.SockaddrInet6{Port: tcpAddr.Port, ZoneId: zone}
		copy(a6.Addr[:], tcpAddr.IP.To16())
		sockaddr = a6
	}
	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return nil, fmt.Errorf("socket: %w", err)
	}
	// same as net.Listen, otherwise TIME_WAIT from the closed conn blocks a rebind
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("setsockopt SO_REUSEADDR: %w", err)
	}
	if err := unix.Bind(fd, sockaddr); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("bind %s: %w", addr, err)
	}
	if err := unix.Listen(fd, backlog); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	file := os.NewFile(uintptr(fd), "tcp:"+addr)
	defer func() { _ = file.Close() }()
	li, err := net.FileListener(file)
	if err != nil {
		return nil, fmt.Errorf("file listener %s: %w", addr, err)
	}
	return li.(*net.TCPListener), nil
}

// zoneID maps an ipv6 zone, an interface name or index, to a scope id.
func zoneID(zone string) (uint32, error) {
	if zone == "" {
		return 0, nil
	}
	if ifi, err := net.InterfaceByName(zone); err == nil {
		return uint32(ifi.Index), nil
	}
	n, err := strconv.ParseUint(zone, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("no such interface: %s", zone)
	}
	return uint32(n), nil
}
