package sink

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	cmap "github.com/orcaman/concurrent-map"
	"github.com/rs/zerolog"

	"sink/lib"
)

var (
	ErrClosed  = errors.New("sink closed")
	ErrServing = errors.New("sink already serving")
)

type State int

const (
	StateNew State = iota
	StateListening
	StateServing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateListening:
		return "listening"
	case StateServing:
		return "serving"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type Config struct {
	Addr     string
	Backlog  int
	Size     int
	Timeout  time.Duration
	Decode   string
	Checksum string
}

func ConfigFrom(conf lib.Conf) Config {
	return Config{
		Addr:     conf.Addr,
		Backlog:  conf.Backlog,
		Size:     conf.Size,
		Timeout:  conf.Timeout,
		Decode:   conf.Decode,
		Checksum: conf.Checksum,
	}
}

type Result struct {
	Payload  []byte
	Text     string
	Remote   net.Addr
	Checksum string
}

// Sink accepts a single connection, reads from it once, and prints what it
// read as one line.
type Sink struct {
	conf  Config
	out   io.Writer
	log   zerolog.Logger
	stats cmap.ConcurrentMap

	mu    sync.Mutex
	state State
	li    *net.TCPListener
}

func New(conf Config, out io.Writer, log zerolog.Logger) *Sink {
	if conf.Backlog <= 0 {
		conf.Backlog = 1
	}
	if conf.Size <= 0 {
		conf.Size = 1024
	}
	s := &Sink{
		conf:  conf,
		out:   out,
		log:   log.With().Str("component", "sink").Str("session", lib.NewSessionID()).Logger(),
		stats: cmap.New(),
	}
	s.setState(StateNew)
	return s
}

func (s *Sink) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.stats.Set("state", state.String())
	s.mu.Unlock()
}

func (s *Sink) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Sink) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.li == nil {
		return nil
	}
	return s.li.Addr()
}

// Stats is safe to call while Serve is blocked.
func (s *Sink) Stats() map[string]interface{} {
	return s.stats.Items()
}

func (s *Sink) Listen() error {
	s.mu.Lock()
	if s.state != StateNew {
		state := s.state
		s.mu.Unlock()
		if state == StateClosed {
			return ErrClosed
		}
		return fmt.Errorf("already %s", state)
	}
	li, err := lib.Listen(s.conf.Addr, s.conf.Backlog)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.li = li
	s.state = StateListening
	s.stats.Set("addr", li.Addr().String())
	s.stats.Set("state", StateListening.String())
	s.mu.Unlock()
	s.log.Info().Str("addr", li.Addr().String()).Int("backlog", s.conf.Backlog).Msg("listening")
	return nil
}

// Serve does one accept and one bounded read. The conn is closed before
// the listener, on every return path. Only the first caller gets the
// listener, later ones get ErrServing or ErrClosed.
func (s *Sink) Serve() (res *Result, err error) {
	s.mu.Lock()
	li, state := s.li, s.state
	if state == StateListening {
		s.state = StateServing
		s.stats.Set("state", StateServing.String())
	}
	s.mu.Unlock()
	switch state {
	case StateClosed:
		return nil, ErrClosed
	case StateServing:
		return nil, ErrServing
	case StateNew:
		return nil, errors.New("serve before listen")
	}

	defer func() {
		if e := li.Close(); e != nil && err == nil {
			err = fmt.Errorf("close listener: %w", e)
		}
		s.setState(StateClosed)
		s.log.Debug().Msg("closed")
	}()

	if s.conf.Timeout > 0 {
		if err := li.SetDeadline(time.Now().Add(s.conf.Timeout)); err != nil {
			return nil, fmt.Errorf("set accept deadline: %w", err)
		}
	}
	conn, err := li.Accept()
	if err != nil {
		return nil, fmt.Errorf("accept: %w", err)
	}
	defer func() {
		if e := conn.Close(); e != nil && err == nil {
			err = fmt.Errorf("close conn: %w", e)
		}
	}()
	s.stats.Set("remote", conn.RemoteAddr().String())
	s.log.Debug().Str("remote", conn.RemoteAddr().String()).Msg("accepted")

	if s.conf.Timeout > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(s.conf.Timeout)); err != nil {
			return nil, fmt.Errorf("set read deadline: %w", err)
		}
	}
	buf := make([]byte, s.conf.Size)
	n, err := conn.Read(buf)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read: %w", err)
	}
	payload := buf[:n]
	s.stats.Set("bytes", n)

	sum, err := lib.Checksum(s.conf.Checksum, payload)
	if err != nil {
		return nil, err
	}
	if sum != "" {
		s.stats.Set("checksum", sum)
	}
	text, err := lib.Decode(s.conf.Decode, payload)
	if err != nil {
		return nil, err
	}
	if _, err := fmt.Fprintln(s.out, text); err != nil {
		return nil, fmt.Errorf("write output: %w", err)
	}
	s.log.Info().Str("remote", conn.RemoteAddr().String()).Int("bytes", n).Str("checksum", sum).Msg("received")
	return &Result{
		Payload:  payload,
		Text:     text,
		Remote:   conn.RemoteAddr(),
		Checksum: sum,
	}, nil
}

// Close releases the listener without waiting for a peer. A Serve blocked
// in accept returns with an error.
func (s *Sink) Close() error {
	s.mu.Lock()
	li, state := s.li, s.state
	if state != StateServing {
		s.state = StateClosed
		s.stats.Set("state", StateClosed.String())
	}
	s.mu.Unlock()
	if state == StateListening || state == StateServing {
		if err := li.Close(); err != nil && state == StateListening {
			return fmt.Errorf("close listener: %w", err)
		}
	}
	return nil
}

func (s *Sink) Run() (*Result, error) {
	if err := s.Listen(); err != nil {
		return nil, err
	}
	return s.Serve()
}
