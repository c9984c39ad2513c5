package connection

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/bobmcallan/hive/internal/models"
	"github.com/gorilla/websocket"
)

type readResult struct {
	data []byte
	err  error
}

// fakeConn is an in-memory Conn. Reads block until a frame is queued or the conn is closed.
type fakeConn struct {
	reads     chan readResult
	closed    chan struct{}
	closeOnce sync.Once

	mu     sync.Mutex
	writes [][]byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		reads:  make(chan readResult, 16),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case r := <-c.reads:
		return websocket.TextMessage, r.data, r.err
	case <-c.closed:
		return 0, nil, errors.New("use of closed network connection")
	}
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	select {
	case <-c.closed:
		return errors.New("write on closed connection")
	default:
	}
	if messageType == websocket.TextMessage {
		c.mu.Lock()
		c.writes = append(c.writes, append([]byte(nil), data...))
		c.mu.Unlock()
	}
	return nil
}

func (c *fakeConn) SetReadDeadline(time.Time) error  { return nil }
func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }
func (c *fakeConn) SetPongHandler(func(string) error) {}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) push(frame string) { c.reads <- readResult{data: []byte(frame)} }
func (c *fakeConn) fail(err error)    { c.reads <- readResult{err: err} }

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeConn) sentTypes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	types := make([]string, 0, len(c.writes))
	for _, w := range c.writes {
		var msg struct {
			Type string `json:"type"`
		}
		_ = json.Unmarshal(w, &msg)
		types = append(types, msg.Type)
	}
	return types
}

type dialResult struct {
	conn Conn
	err  error
}

// fakeDialer replays scripted results, then refuses every dial.
type fakeDialer struct {
	mu     sync.Mutex
	script []dialResult
	urls   []string
}

func (d *fakeDialer) add(results ...dialResult) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.script = append(d.script, results...)
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.urls = append(d.urls, url)
	if len(d.script) == 0 {
		return nil, errors.New("connection refused")
	}
	r := d.script[0]
	d.script = d.script[1:]
	return r.conn, r.err
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.urls)
}

// sleepRecorder records requested delays and returns immediately.
type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *sleepRecorder) all() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.Event
}

func (p *recordingPublisher) Publish(e models.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *recordingPublisher) Subscribe(func(models.Event)) func() { return func() {} }

func (p *recordingPublisher) count(typ models.EventType) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.Type == typ {
			n++
		}
	}
	return n
}

func (p *recordingPublisher) states() []models.ConnectionState {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []models.ConnectionState
	for _, e := range p.events {
		if e.Type == models.EventConnectionState {
			out = append(out, e.Payload.(models.ConnectionEvent).State)
		}
	}
	return out
}
