package transport

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// ClientOptions configures Dial.
type ClientOptions struct {
	// InitInterval is the first delay between Init attempts. It doubles
	// after every unanswered attempt up to MaxInitInterval.
	InitInterval    time.Duration
	MaxInitInterval time.Duration
	// InitTimeout bounds the whole startup handshake.
	InitTimeout time.Duration

	Logger *log.Logger
	Debug  bool
}

func (o *ClientOptions) setDefaults() {
	if o.InitInterval <= 0 {
		o.InitInterval = 50 * time.Millisecond
	}
	if o.MaxInitInterval < o.InitInterval {
		o.MaxInitInterval = max(time.Second, o.InitInterval)
	}
	if o.InitTimeout <= 0 {
		o.InitTimeout = 10 * time.Second
	}
	if o.Logger == nil {
		o.Logger = log.Default()
	}
}

// Client issues requests to a worker and routes each response to the
// caller awaiting its correlation id.
type Client struct {
	ch   Channel
	opts ClientOptions
	log  *log.Logger

	nextID atomic.Uint64

	mu      sync.Mutex
	pending map[uint64]chan Body
	closed  bool
	err     error

	initAck  chan struct{}
	ackOnce  sync.Once
	done     chan struct{}
	doneOnce sync.Once
}

// Dial starts the client on ch and performs the Init handshake. It fails
// with an *Error of CodeInit when the worker does not acknowledge in
// time or the channel closes first.
func Dial(ctx context.Context, ch Channel, opts ClientOptions) (*Client, error) {
	opts.setDefaults()
	c := &Client{
		ch:      ch,
		opts:    opts,
		log:     opts.Logger,
		pending: make(map[uint64]chan Body),
		initAck: make(chan struct{}),
		done:    make(chan struct{}),
	}
	go c.readLoop()

	if err := c.handshake(ctx); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Client) debugf(format string, args ...interface{}) {
	if c.opts.Debug {
		c.log.Printf(format, args...)
	}
}

func (c *Client) handshake(ctx context.Context) error {
	deadline := time.NewTimer(c.opts.InitTimeout)
	defer deadline.Stop()
	interval := c.opts.InitInterval

	for attempt := 1; ; attempt++ {
		id := c.nextID.Add(1)
		if err := c.ch.Send(Envelope{ID: id, Body: &Init{}}); err != nil {
			return &Error{Code: CodeInit, Message: fmt.Sprintf("failed to send init: %v", err)}
		}
		c.debugf("Sent init %d (attempt %d)", id, attempt)

		retry := time.NewTimer(interval)
		select {
		case <-c.initAck:
			retry.Stop()
			return nil
		case <-retry.C:
			interval = min(interval*2, c.opts.MaxInitInterval)
		case <-deadline.C:
			retry.Stop()
			return &Error{Code: CodeInit, Message: fmt.Sprintf("worker did not acknowledge init within %v", c.opts.InitTimeout)}
		case <-c.done:
			retry.Stop()
			return &Error{Code: CodeInit, Message: fmt.Sprintf("channel closed before init: %v", c.Err())}
		case <-ctx.Done():
			retry.Stop()
			return &Error{Code: CodeInit, Message: ctx.Err().Error()}
		}
	}
}

func (c *Client) readLoop() {
	for {
		env, err := c.ch.Receive()
		if err != nil {
			c.shutdown(err)
			return
		}
		if _, ok := env.Body.(*InitAck); ok {
			c.ackOnce.Do(func() { close(c.initAck) })
			continue
		}

		c.mu.Lock()
		w, ok := c.pending[env.ID]
		delete(c.pending, env.ID)
		c.mu.Unlock()
		if !ok {
			c.debugf("Dropping %s response %d with no waiter", env.Body.Kind(), env.ID)
			if info, ok := env.Body.(*ImageInfo); ok {
				go c.closeAbandoned(info.ImageID)
			}
			continue
		}
		w <- env.Body
	}
}

// closeAbandoned closes a worker image created for a caller that gave up.
func (c *Client) closeAbandoned(id uint64) {
	if _, err := c.Call(context.Background(), &CloseImage{ImageID: id}); err != nil {
		c.debugf("Failed to close abandoned image %d: %v", id, err)
	}
}

// shutdown rejects every waiter once the channel is gone.
func (c *Client) shutdown(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.err = err
	pending := c.pending
	c.pending = make(map[uint64]chan Body)
	c.mu.Unlock()

	c.doneOnce.Do(func() { close(c.done) })
	for _, w := range pending {
		w <- &Error{Code: CodeClosed, Message: err.Error()}
	}
}

// Err returns why the client stopped, or nil while it is running.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Done is closed when the client stops.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close closes the channel and rejects pending requests.
func (c *Client) Close() error {
	err := c.ch.Close()
	c.shutdown(ErrClosed)
	return err
}

// Call sends req and waits for its response. An Error response is
// returned as the error. When ctx ends first the waiter is dropped and
// the worker is asked to cancel the request.
func (c *Client) Call(ctx context.Context, req Body) (Body, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	id := c.nextID.Add(1)
	w := make(chan Body, 1)

	c.mu.Lock()
	if c.closed {
		err := c.err
		c.mu.Unlock()
		return nil, &Error{Code: CodeClosed, Message: err.Error()}
	}
	c.pending[id] = w
	c.mu.Unlock()

	if err := c.ch.Send(Envelope{ID: id, Body: req}); err != nil {
		c.forget(id)
		return nil, &Error{Code: CodeClosed, Message: fmt.Sprintf("failed to send %s: %v", req.Kind(), err)}
	}

	select {
	case resp := <-w:
		if e, ok := resp.(*Error); ok {
			return nil, e
		}
		return resp, nil
	case <-ctx.Done():
		c.forget(id)
		if err := c.ch.Send(Envelope{ID: c.nextID.Add(1), Body: &Cancel{Target: id}}); err != nil {
			c.debugf("Failed to cancel request %d: %v", id, err)
		}
		return nil, ctx.Err()
	}
}

func (c *Client) forget(id uint64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// Pending returns the number of requests awaiting a response.
func (c *Client) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
