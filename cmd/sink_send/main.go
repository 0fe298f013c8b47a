package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"sink/lib"
)

var errStalled = errors.New("stalled")

const tick = 10 * time.Millisecond

// send copies in to conn and closes it. If neither side makes progress for
// stall, conn is closed and send gives up without waiting on in.
func send(conn net.Conn, in io.Reader, stall time.Duration) (int64, error) {
	var last atomic.Int64
	last.Store(time.Now().UnixNano())
	rwc := lib.RWCallback{Rw: conn, Cb: func() { last.Store(time.Now().UnixNano()) }}

	type result struct {
		n   int64
		err error
	}
	done := make(chan result, 1)
	go func() {
		n, err := io.Copy(rwc, in)
		if err == nil {
			err = rwc.Close()
		}
		done <- result{n, err}
	}()

	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case r := <-done:
			return r.n, r.err
		case <-ticker.C:
			if stall > 0 && time.Since(time.Unix(0, last.Load())) > stall {
				_ = conn.Close()
				return 0, fmt.Errorf("no progress for %s: %w", stall, errStalled)
			}
		}
	}
}

func main() {
	timeout := flag.Duration("timeout", 5*time.Second, "give up dialing after this long")
	stall := flag.Duration("stall", 5*time.Second, "give up when nothing is written for this long, 0 waits forever")
	level := flag.String("log-level", "info", "log level")
	flag.Parse()

	if flag.NArg() != 2 {
		_, _ = fmt.Fprintf(os.Stderr, "usage: cat input | sink_send ADDR PORT\n")
		os.Exit(1)
	}
	log := lib.Logger(os.Stderr, *level).With().Str("component", "sink_send").Logger()

	port := lib.Panic2(strconv.Atoi(flag.Arg(1))).(int)
	lib.Assert(port > 0 && port < 65536, "bad port: %d", port)
	dst := net.JoinHostPort(flag.Arg(0), strconv.Itoa(port))

	conn := lib.Panic2(lib.Dial(dst, *timeout)).(net.Conn)

	n, err := send(conn, os.Stdin, *stall)
	if err != nil {
		log.Error().Err(err).Str("dst", dst).Msg("send failed")
		os.Exit(1)
	}
	log.Info().Str("dst", dst).Int64("bytes", n).Msg("sent")
}
