package lib

import (
	"fmt"
	"net"
	"time"

	"github.com/avast/retry-go"
)

const retryDelay = 10 * time.Millisecond

// Dial keeps trying addr until it connects or timeout has passed, for peers
// that start before the sink is listening.
func Dial(addr string, timeout time.Duration) (net.Conn, error) {
	var conn net.Conn
	start := time.Now()
	attempts := uint(timeout/retryDelay) + 1
	err := retry.Do(
		func() error {
			remaining := timeout - time.Since(start)
			if remaining <= 0 {
				remaining = retryDelay
			}
			c, err := net.DialTimeout("tcp", addr, remaining)
			if err != nil {
				return err
			}
			conn = c
			return nil
		},
		retry.Attempts(attempts),
		retry.Delay(retryDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return conn, nil
}
