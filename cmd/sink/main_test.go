package main

import (
	"bytes"
	"fmt"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/phayes/freeport"
	"github.com/stretchr/testify/require"

	"sink/lib"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func freeAddr(t *testing.T) string {
	port, err := freeport.GetFreePort()
	require.NoError(t, err)
	return fmt.Sprintf("127.0.0.1:%d", port)
}

// start runs the cli in the background with an empty home dir.
func start(t *testing.T, args ...string) (chan int, *syncBuffer, *syncBuffer) {
	t.Setenv("HOME", t.TempDir())
	stdout, stderr := &syncBuffer{}, &syncBuffer{}
	code := make(chan int, 1)
	go func() {
		code <- run(args, stdout, stderr)
	}()
	return code, stdout, stderr
}

func send(t *testing.T, addr string, payload []byte) {
	conn, err := lib.Dial(addr, 2*time.Second)
	require.NoError(t, err)
	_, err = conn.Write(payload)
	require.NoError(t, err)
	require.NoError(t, conn.Close())
}

func TestParse(t *testing.T) {
	type test struct {
		args     []string
		addr     string
		size     int
		timeout  time.Duration
		confPath string
	}
	tests := []test{
		{[]string{}, "127.0.0.1:3111", 1024, 0, ""},
		{[]string{"-addr", "localhost:9000"}, "localhost:9000", 1024, 0, ""},
		{[]string{"-size", "16", "-timeout", "1s"}, "127.0.0.1:3111", 16, time.Second, ""},
		{[]string{"-conf", "/tmp/x.conf"}, "127.0.0.1:3111", 1024, 0, "/tmp/x.conf"},
	}
	for _, test := range tests {
		conf, confPath, err := parse(test.args, lib.DefaultConf())
		require.NoError(t, err)
		require.Equal(t, test.addr, conf.Addr)
		require.Equal(t, test.size, conf.Size)
		require.Equal(t, test.timeout, conf.Timeout)
		require.Equal(t, test.confPath, confPath)
	}
}

func TestParseOverridesConf(t *testing.T) {
	conf := lib.DefaultConf()
	conf.Addr = "localhost:4000"
	conf.Size = 8
	conf, _, err := parse([]string{"-size", "32"}, conf)
	require.NoError(t, err)
	require.Equal(t, "localhost:4000", conf.Addr)
	require.Equal(t, 32, conf.Size)
}

func TestParseRejectsArgs(t *testing.T) {
	_, _, err := parse([]string{"extra"}, lib.DefaultConf())
	require.Error(t, err)
}

func TestRunHello(t *testing.T) {
	addr := freeAddr(t)
	code, stdout, stderr := start(t, "-addr", addr)
	send(t, addr, []byte("hello"))
	require.Equal(t, 0, <-code)
	require.Equal(t, "hello\n", stdout.String())
	require.Contains(t, stderr.String(), "received")
}

func TestRunInvalidUTF8(t *testing.T) {
	addr := freeAddr(t)
	code, stdout, stderr := start(t, "-addr", addr, "-decode", "strict")
	send(t, addr, []byte{0xff, 0xfe})
	require.Equal(t, 1, <-code)
	require.Equal(t, "", stdout.String())
	require.Contains(t, stderr.String(), "invalid utf-8")
}

func TestRunAddrInUse(t *testing.T) {
	li, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = li.Close() }()
	code, _, stderr := start(t, "-addr", li.Addr().String())
	require.Equal(t, 1, <-code)
	require.Contains(t, stderr.String(), "listen failed")
}

func TestRunBadUsage(t *testing.T) {
	code, _, _ := start(t, "-size", "lots")
	require.Equal(t, 2, <-code)
	code, _, _ = start(t, "-conf", "/nonexistent/sink.conf")
	require.Equal(t, 2, <-code)
}

func TestRunStatus(t *testing.T) {
	addr, status := freeAddr(t), freeAddr(t)
	code, stdout, _ := start(t, "-addr", addr, "-status", status)

	health := func() bool {
		resp, err := http.Get("http://" + status + "/health")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == 200
	}
	require.Eventually(t, health, 2*time.Second, 10*time.Millisecond)
	select {
	case c := <-code:
		t.Fatalf("exited with %d before a peer connected", c)
	default:
	}

	send(t, addr, []byte("hello"))
	require.Equal(t, 0, <-code)
	require.Equal(t, "hello\n", stdout.String())
	require.False(t, health())
}

func TestRunStatusAddrInUse(t *testing.T) {
	li, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = li.Close() }()
	addr := freeAddr(t)
	code, _, stderr := start(t, "-addr", addr, "-status", li.Addr().String())
	require.Equal(t, 1, <-code)
	require.Contains(t, stderr.String(), "status listen failed")

	// the sink port was released
	again, err := lib.Listen(addr, 1)
	require.NoError(t, err)
	require.NoError(t, again.Close())
}
