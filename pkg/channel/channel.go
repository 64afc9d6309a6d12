package channel

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Defaults for the receive task and the blocking helpers.
const (
	DefaultPollInterval = 100 * time.Millisecond
	DefaultWaitInterval = 50 * time.Millisecond

	readChunk  = 512
	maxPartial = 4096
)

var (
	// ErrUnknownCategory is returned by Send for categories outside the closed set.
	ErrUnknownCategory = errors.New("channel: unknown category")
	// ErrInvalidPayload is returned by Send for payloads containing the line delimiter.
	ErrInvalidPayload = errors.New("channel: payload contains delimiter")
)

// Channel is a mailbox over a Port. Outgoing messages are written
// immediately; incoming lines are dispatched into per-category queues by
// Poll, which Run calls on a fixed interval.
type Channel struct {
	port         Port
	log          zerolog.Logger
	pollInterval time.Duration
	waitInterval time.Duration

	writeMu sync.Mutex

	// pollMu serialises Poll so the partial-line carry stays consistent.
	pollMu  sync.Mutex
	buf     []byte
	partial []byte

	mu      sync.Mutex
	queues  map[Category][][]byte
	pending map[Category]struct{}
}

// Option configures a Channel.
type Option func(*Channel)

// WithLogger sets the logger used for dropped lines and read errors.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Channel) { c.log = l }
}

// WithPollInterval sets how often Run polls the port.
func WithPollInterval(d time.Duration) Option {
	return func(c *Channel) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// WithWaitInterval sets how often the blocking helpers re-check the queues.
func WithWaitInterval(d time.Duration) Option {
	return func(c *Channel) {
		if d > 0 {
			c.waitInterval = d
		}
	}
}

// New creates a channel over port.
func New(port Port, opts ...Option) *Channel {
	c := &Channel{
		port:         port,
		log:          zerolog.Nop(),
		pollInterval: DefaultPollInterval,
		waitInterval: DefaultWaitInterval,
		buf:          make([]byte, readChunk),
		queues:       make(map[Category][][]byte),
		pending:      make(map[Category]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Close closes the underlying port.
func (c *Channel) Close() error {
	return c.port.Close()
}

// Send writes one line per payload in a single transport write. It does
// not wait for any acknowledgement.
func (c *Channel) Send(cat Category, payloads ...[]byte) error {
	if !cat.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownCategory, cat)
	}
	var out bytes.Buffer
	for _, p := range payloads {
		if bytes.IndexByte(p, delimiter) >= 0 {
			return fmt.Errorf("%w: %q", ErrInvalidPayload, p)
		}
		out.WriteString(string(cat))
		out.WriteByte(separator)
		out.Write(p)
		out.WriteByte(delimiter)
	}
	if out.Len() == 0 {
		return nil
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.port.Write(out.Bytes()); err != nil {
		return fmt.Errorf("send %s: %w", cat, err)
	}
	return nil
}

// SendString is Send for text payloads.
func (c *Channel) SendString(cat Category, payloads ...string) error {
	bs := make([][]byte, len(payloads))
	for i, p := range payloads {
		bs[i] = []byte(p)
	}
	return c.Send(cat, bs...)
}

// Poll drains whatever the port has buffered and dispatches complete lines.
// A trailing incomplete line is kept for the next call. Lines without a
// separator or with an unknown category are logged and dropped.
func (c *Channel) Poll() error {
	c.pollMu.Lock()
	defer c.pollMu.Unlock()

	data := c.partial
	var readErr error
	for {
		n, err := c.port.Read(c.buf)
		data = append(data, c.buf[:n]...)
		if err != nil {
			readErr = err
			break
		}
		if n < len(c.buf) {
			break
		}
	}

	last := bytes.LastIndexByte(data, delimiter)
	if last < 0 {
		c.partial = c.carry(data)
	} else {
		c.dispatch(data[:last])
		c.partial = c.carry(data[last+1:])
	}

	if readErr != nil {
		return fmt.Errorf("read port: %w", readErr)
	}
	return nil
}

func (c *Channel) carry(rest []byte) []byte {
	if len(rest) > maxPartial {
		c.log.Warn().Int("bytes", len(rest)).Msg("dropping oversized partial line")
		return nil
	}
	return append([]byte(nil), rest...)
}

func (c *Channel) dispatch(block []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, line := range bytes.Split(block, []byte{delimiter}) {
		line = bytes.TrimSuffix(line, []byte{'\r'})
		if len(line) == 0 {
			continue
		}
		i := bytes.IndexByte(line, separator)
		if i < 0 {
			c.log.Warn().Bytes("line", line).Msg("invalid message: missing separator")
			continue
		}
		cat := Category(line[:i])
		if !cat.Valid() {
			c.log.Warn().Str("category", string(cat)).Msg("invalid message: unknown category")
			continue
		}
		payload := append([]byte(nil), line[i+1:]...)
		c.queues[cat] = append(c.queues[cat], payload)
		c.pending[cat] = struct{}{}
	}
}

// Run polls the port every poll interval until ctx is done or the port is
// closed. Transient read errors are logged and polling continues.
func (c *Channel) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := c.Poll(); err != nil {
				if isClosed(err) {
					return err
				}
				c.log.Warn().Err(err).Msg("channel poll failed")
			}
		}
	}
}

// Read pops the oldest payload of cat.
func (c *Channel) Read(cat Category) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	q := c.queues[cat]
	if len(q) == 0 {
		return nil, false
	}
	msg := q[0]
	q[0] = nil
	c.queues[cat] = q[1:]
	if len(q) == 1 {
		delete(c.pending, cat)
	}
	return msg, true
}

// ReadAll pops every payload of cat in arrival order. It returns nil when
// the queue is empty.
func (c *Channel) ReadAll(cat Category) [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	q := c.queues[cat]
	if len(q) == 0 {
		return nil
	}
	delete(c.queues, cat)
	delete(c.pending, cat)
	return q
}

// DiscardAll empties the queue of cat.
func (c *Channel) DiscardAll(cat Category) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.queues, cat)
	delete(c.pending, cat)
}

// IsPending reports whether cat has queued payloads.
func (c *Channel) IsPending(cat Category) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.pending[cat]
	return ok
}

// PendingCategories returns a snapshot of the categories with queued data.
func (c *Channel) PendingCategories() map[Category]struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[Category]struct{}, len(c.pending))
	for cat := range c.pending {
		out[cat] = struct{}{}
	}
	return out
}

// BlockingRead waits for a payload of cat. It returns only when one arrives
// or ctx is done; with context.Background it waits forever.
func (c *Channel) BlockingRead(ctx context.Context, cat Category) ([]byte, error) {
	if msg, ok := c.Read(cat); ok {
		return msg, nil
	}

	ticker := time.NewTicker(c.waitInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("wait for %s: %w", cat, ctx.Err())
		case <-ticker.C:
			if msg, ok := c.Read(cat); ok {
				return msg, nil
			}
		}
	}
}

// WaitForRejectOrConfirm waits for the peer's verdict. Reject is checked
// before confirm, so a simultaneous pair reports the rejection.
func (c *Channel) WaitForRejectOrConfirm(ctx context.Context) (ok bool, payload []byte, err error) {
	check := func() (bool, []byte, bool) {
		if msg, found := c.Read(Reject); found {
			return false, msg, true
		}
		if msg, found := c.Read(Confirm); found {
			return true, msg, true
		}
		return false, nil, false
	}

	if ok, msg, done := check(); done {
		return ok, msg, nil
	}

	ticker := time.NewTicker(c.waitInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return false, nil, fmt.Errorf("wait for confirm or reject: %w", ctx.Err())
		case <-ticker.C:
			if ok, msg, done := check(); done {
				return ok, msg, nil
			}
		}
	}
}
