package channel

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/c360/resilkit/errors"
	"github.com/c360/resilkit/health"
	"github.com/c360/resilkit/pkg/clock"
	"github.com/c360/resilkit/pkg/ratelimit"
	"github.com/c360/resilkit/pkg/retry"
)

// Status is the connection state of a Channel.
type Status string

// Channel states
const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusError        Status = "error"
)

// Channel keeps a feed connection open, reconnecting with bounded
// exponential backoff after unclean closes.
//
// All state lives in the struct and changes only under mu, in response to
// one of five events: open (successful dial), message, error, close, and
// scheduled reconnect. Every connection and timer is tagged with the
// generation current when it was created; events carrying an older
// generation are ignored. Connect and Disconnect bump the generation, which
// is how they guarantee at most one live connection and one pending timer.
type Channel struct {
	cfg       Config
	transport Transport
	handler   Handler
	clock     clock.Clock
	logger    *slog.Logger
	limiter   *ratelimit.Limiter
	listener  func(Status)
	metrics   *channelMetrics

	mu         sync.Mutex
	status     Status
	enabled    bool
	gen        uint64
	conn       Conn
	connID     string
	timer      clock.Timer
	backoff    *retry.Backoff
	lastErr    error
	lastUpdate time.Time
	received   int64
	notify     []Status

	// held across the generation check and the handler call so Disconnect
	// can wait out an in-flight delivery
	deliverMu sync.Mutex
}

// New creates a disconnected Channel. Call Connect to start it.
func New(cfg Config, transport Transport, handler Handler, opts ...Option) (*Channel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if transport == nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: transport is required", errors.ErrMissingConfig), "channel", "New", "check transport")
	}
	if handler == nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: handler is required", errors.ErrMissingConfig), "channel", "New", "check handler")
	}

	o := &options{
		clock:  clock.Real(),
		logger: slog.Default(),
		name:   "feed",
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}

	backoff, err := retry.NewBackoff(cfg.backoffConfig())
	if err != nil {
		return nil, errors.WrapInvalid(err, "channel", "New", "build backoff")
	}
	metrics, err := newChannelMetrics(o.metricsReg, o.name)
	if err != nil {
		return nil, errors.WrapTransient(err, "channel", "New", "metrics registration")
	}

	return &Channel{
		cfg:       cfg,
		transport: transport,
		handler:   handler,
		clock:     o.clock,
		logger:    o.logger.With("component", "channel", "channel", o.name),
		limiter:   o.limiter,
		listener:  o.listener,
		metrics:   metrics,
		status:    StatusDisconnected,
		backoff:   backoff,
	}, nil
}

// Connect cancels any pending reconnect, closes the current connection and
// dials the endpoint. A dial failure is handled like an unclean close: a
// reconnect is scheduled if attempts remain, and the dial error is returned.
func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	c.enabled = true
	old := c.detachLocked()
	c.setStatusLocked(StatusConnecting)
	gen := c.gen
	c.unlockAndNotify()

	closeConn(old)
	return c.dial(ctx, gen)
}

// Reconnect clears the retry state and connects. It is the manual recovery
// path after a terminal error.
func (c *Channel) Reconnect(ctx context.Context) error {
	c.mu.Lock()
	c.backoff.Reset()
	c.lastErr = nil
	c.mu.Unlock()
	return c.Connect(ctx)
}

// Disconnect cancels any pending reconnect, closes the connection and clears
// the retry state. It is idempotent. Once it returns no reconnect is
// attempted and the handler is not called until the next Connect.
//
// Disconnect waits for an in-flight handler call to finish, so the handler
// must not call Disconnect itself.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	c.enabled = false
	old := c.detachLocked()
	c.backoff.Reset()
	c.setStatusLocked(StatusDisconnected)
	c.unlockAndNotify()

	closeConn(old)

	c.deliverMu.Lock()
	c.deliverMu.Unlock() //nolint:staticcheck // fence for in-flight deliveries
}

// detachLocked invalidates the current generation, stops the pending timer
// and returns the connection for the caller to close outside the lock.
func (c *Channel) detachLocked() Conn {
	c.gen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	old := c.conn
	if old != nil {
		c.metrics.setConnected(false)
	}
	c.conn = nil
	c.connID = ""
	return old
}

func (c *Channel) dial(ctx context.Context, gen uint64) error {
	endpoint, err := c.cfg.Endpoint()
	if err != nil {
		return err
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	defer cancel()

	conn, dialErr := c.transport.Dial(dialCtx, endpoint, &connEvents{c: c, gen: gen})
	switch {
	case dialErr != nil && ctx.Err() == nil && errors.Is(dialCtx.Err(), context.DeadlineExceeded):
		dialErr = fmt.Errorf("%w after %s: %w", errors.ErrConnectionTimeout, c.cfg.DialTimeout, dialErr)
	case dialErr == nil && conn == nil:
		dialErr = fmt.Errorf("%w: transport returned a nil connection", errors.ErrNoConnection)
	}

	c.mu.Lock()
	if gen != c.gen {
		// superseded by Connect or Disconnect while dialing
		enabled := c.enabled
		c.mu.Unlock()
		closeConn(conn)
		if !enabled {
			return errors.ErrChannelDisabled
		}
		return nil
	}

	if dialErr != nil {
		err := errors.WrapTransient(dialErr, "channel", "Connect", "dial endpoint")
		c.lastErr = err
		c.logger.Warn("dial failed", "attempt", c.backoff.Attempts()+1, "error", health.Sanitize(dialErr.Error()))
		c.handleCloseLocked(false)
		c.unlockAndNotify()
		return err
	}

	c.conn = conn
	c.connID = uuid.NewString()
	c.backoff.Reset()
	c.lastErr = nil
	c.metrics.setConnected(true)
	c.setStatusLocked(StatusConnected)
	c.logger.Info("connected", "conn_id", c.connID)
	c.unlockAndNotify()
	return nil
}

// handleCloseLocked moves to disconnected and, for an unclean close of an
// enabled channel, schedules the next attempt or gives up.
func (c *Channel) handleCloseLocked(clean bool) {
	c.setStatusLocked(StatusDisconnected)
	if clean || !c.enabled {
		return
	}

	delay, ok := c.backoff.Next()
	if !ok {
		attempts := c.backoff.Attempts()
		c.lastErr = errors.WrapFatal(
			fmt.Errorf("failed to reconnect after %d attempts: %w", attempts, errors.ErrMaxRetriesExceeded),
			"channel", "reconnect", "schedule attempt")
		c.setStatusLocked(StatusError)
		c.logger.Error("giving up on reconnect", "attempts", attempts)
		return
	}

	gen := c.gen
	c.timer = c.clock.AfterFunc(delay, func() { c.scheduledReconnect(gen) })
	c.metrics.reconnectScheduled(delay.Seconds())
	c.logger.Info("reconnect scheduled", "attempt", c.backoff.Attempts(), "delay", delay)
}

func (c *Channel) scheduledReconnect(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || !c.enabled {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	c.gen++
	next := c.gen
	c.setStatusLocked(StatusConnecting)
	c.unlockAndNotify()

	_ = c.dial(context.Background(), next)
}

func (c *Channel) onMessage(gen uint64, data []byte) {
	msg, err := parseMessage(data)
	if err != nil {
		c.logger.Warn("dropping malformed message", "error", err, "bytes", len(data))
		c.metrics.dropped(dropMalformed)
		return
	}

	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	if c.limiter != nil && !c.limiter.Allow() {
		c.mu.Unlock()
		c.logger.Debug("dropping rate limited message", "type", msg.Type, "id", msg.ID)
		c.metrics.dropped(dropRateLimited)
		return
	}
	c.received++
	c.lastUpdate = c.clock.Now()
	c.mu.Unlock()

	c.metrics.received()
	c.handler(msg)
}

func (c *Channel) onError(gen uint64, err error) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.lastErr = errors.WrapTransient(err, "channel", "onError", "transport event")
	c.setStatusLocked(StatusError)
	c.logger.Warn("transport error", "error", health.Sanitize(err.Error()))
	c.unlockAndNotify()
}

func (c *Channel) onClose(gen uint64, clean bool, err error) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	// a dial still returning this connection must not mark it connected
	c.gen++
	c.conn = nil
	c.connID = ""
	c.metrics.setConnected(false)
	if err != nil {
		c.lastErr = errors.WrapTransient(err, "channel", "onClose", "transport event")
	}
	c.logger.Info("connection closed", "clean", clean)
	c.handleCloseLocked(clean)
	c.unlockAndNotify()
}

func (c *Channel) setStatusLocked(s Status) {
	if c.status == s {
		return
	}
	c.status = s
	if c.listener != nil {
		c.notify = append(c.notify, s)
	}
}

// unlockAndNotify releases mu and then reports queued status transitions.
func (c *Channel) unlockAndNotify() {
	pending := c.notify
	c.notify = nil
	c.mu.Unlock()
	for _, s := range pending {
		c.listener(s)
	}
}

func closeConn(conn Conn) {
	if conn != nil {
		_ = conn.Close()
	}
}

// Status returns the current connection state.
func (c *Channel) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// IsConnected reports whether a connection is open.
func (c *Channel) IsConnected() bool {
	return c.Status() == StatusConnected
}

// LastError returns the most recent transport or terminal error, or nil.
func (c *Channel) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// LastUpdate returns when the last message was delivered. Zero if none.
func (c *Channel) LastUpdate() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastUpdate
}

// ReceivedCount returns the number of messages delivered to the handler.
func (c *Channel) ReceivedCount() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.received
}

// Attempts returns the consecutive failed attempts since the last open.
func (c *Channel) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.backoff.Attempts()
}

// CurrentDelay returns the delay of the most recently scheduled reconnect,
// or the base delay after a reset.
func (c *Channel) CurrentDelay() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.backoff.Delay()
}

// ConnectionID identifies the current connection. Empty while not connected.
func (c *Channel) ConnectionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connID
}

// Health reports the channel as a health.Status.
func (c *Channel) Health() health.Status {
	c.mu.Lock()
	status, enabled, lastErr := c.status, c.enabled, c.lastErr
	metrics := &health.Metrics{
		MessagesReceived:  c.received,
		ReconnectAttempts: c.backoff.Attempts(),
		LastActivity:      c.lastUpdate,
	}
	c.mu.Unlock()

	var h health.Status
	switch {
	case status == StatusConnected:
		h = health.NewHealthy("channel", "connected")
	case status == StatusError && lastErr != nil:
		h = health.NewUnhealthy("channel", lastErr.Error())
	case status == StatusError:
		h = health.NewUnhealthy("channel", "transport error")
	case !enabled:
		h = health.NewDegraded("channel", "disabled")
	default:
		h = health.NewDegraded("channel", string(status))
	}
	return h.WithMetrics(metrics)
}

// connEvents adapts transport callbacks to the channel for one generation.
type connEvents struct {
	c   *Channel
	gen uint64
}

func (e *connEvents) OnMessage(data []byte)         { e.c.onMessage(e.gen, data) }
func (e *connEvents) OnError(err error)             { e.c.onError(e.gen, err) }
func (e *connEvents) OnClose(clean bool, err error) { e.c.onClose(e.gen, clean, err) }
