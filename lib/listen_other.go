//go:build !linux

package lib

import (
	"fmt"
	"net"
)

// Listen falls back to net.Listen, backlog is left to the os.
func Listen(addr string, backlog int) (*net.TCPListener, error) {
	_ = backlog
	li, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	return li.(*net.TCPListener), nil
}
