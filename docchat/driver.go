package docchat

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coder/websocket"

	"github.com/vovakirdan/docchat-sdk-go/docchat/internal"
)

// Channel is the duplex connection a Coordinator drives. *Driver is the
// websocket implementation.
type Channel interface {
	Connect(ctx context.Context) error
	Send(ctx context.Context, frame OutboundFrame) error
	State() ConnectionState
	OnStateChanged(fn func(StateEvent))
	OnFrame(fn func([]byte))
	Close() error
}

// Driver owns the websocket to the chat endpoint and keeps it connected.
//
// State events and inbound frames are delivered from a single goroutine, in
// order. Listeners must not call Close.
type Driver struct {
	cfg    Config
	logger Logger

	// emitMu serializes listener calls so notifications never interleave.
	emitMu sync.Mutex

	mu      sync.Mutex
	state   ConnectionState
	conn    *internal.Conn
	started bool
	closed  bool
	cancel  context.CancelFunc
	onState []func(StateEvent)
	onFrame []func([]byte)

	wg sync.WaitGroup
}

var _ Channel = (*Driver)(nil)

// NewDriver constructs a driver with provided config.
// Use DefaultConfig() as a starting point and modify as needed.
func NewDriver(cfg Config) *Driver {
	return &Driver{
		cfg:    cfg,
		logger: noopLogger{},
		state:  StateUninstantiated,
	}
}

// SetLogger overrides logger (optional).
func (d *Driver) SetLogger(l Logger) {
	if l == nil {
		return
	}
	d.logger = l
}

// OnStateChanged registers a callback for every state transition.
func (d *Driver) OnStateChanged(fn func(StateEvent)) {
	if fn == nil {
		return
	}
	d.mu.Lock()
	d.onState = append(d.onState, fn)
	d.mu.Unlock()
}

// OnFrame registers a callback receiving each inbound payload unparsed.
func (d *Driver) OnFrame(fn func([]byte)) {
	if fn == nil {
		return
	}
	d.mu.Lock()
	d.onFrame = append(d.onFrame, fn)
	d.mu.Unlock()
}

// State returns the current connection state.
func (d *Driver) State() ConnectionState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Connect starts dialing in the background and returns immediately; watch
// OnStateChanged for StateOpen. Calling it again while running is a no-op.
func (d *Driver) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := d.cfg.Validate(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	if d.started {
		return nil
	}
	d.started = true

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	d.cancel = cancel
	d.wg.Add(1)
	go d.run(runCtx)
	return nil
}

// Send writes one frame. The channel must be open: frames are never queued.
func (d *Driver) Send(ctx context.Context, frame OutboundFrame) error {
	d.mu.Lock()
	state, conn := d.state, d.conn
	d.mu.Unlock()
	if state != StateOpen || conn == nil {
		return ErrNotOpen
	}

	if err := conn.WriteJSON(ctx, frame); err != nil {
		return WrapError(ErrorConnection, "write frame", err)
	}
	d.logger.Debug("frame sent", map[string]any{"bytes": len(frame.Text)})
	return nil
}

// Close stops reconnection and closes the websocket. It is safe to call
// more than once.
func (d *Driver) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	cancel, conn, state := d.cancel, d.conn, d.state
	d.mu.Unlock()

	if state == StateOpen {
		d.transition(nil, StateEvent{NewState: StateClosing})
	}
	if conn != nil {
		if err := conn.Close(websocket.StatusNormalClosure, "client close"); err != nil {
			d.logger.Debug("close handshake", map[string]any{"error": err})
		}
	}
	if cancel != nil {
		cancel()
	}
	d.wg.Wait()

	if d.State() != StateClosed {
		d.transition(nil, StateEvent{NewState: StateClosed})
	}
	return nil
}

// run dials, reads until the connection drops, and redials with
// exponential backoff until Close or the attempt budget is spent.
func (d *Driver) run(ctx context.Context) {
	defer d.wg.Done()

	b := d.newBackOff()
	failures := 0
	for {
		if !d.transition(ctx, StateEvent{NewState: StateConnecting, Attempt: failures}) {
			return
		}

		conn, err := internal.Dial(ctx, d.cfg.URL, d.cfg.HandshakeTimeout, d.cfg.WriteTimeout)
		if err != nil {
			if d.stopped(ctx) {
				return
			}
			failures++
			d.logger.Warn("dial failed", map[string]any{"url": d.cfg.URL, "attempt": failures, "error": err})
			d.transition(ctx, StateEvent{
				NewState: StateClosed,
				Error:    WrapError(ErrorConnection, "dial failed", err),
				Attempt:  failures,
			})
		} else {
			if !d.attach(conn) {
				_ = conn.CloseNow()
				return
			}
			failures = 0
			b.Reset()
			d.logger.Info("connected", map[string]any{"url": d.cfg.URL})
			d.transition(ctx, StateEvent{NewState: StateOpen})

			err = d.readLoop(ctx, conn)
			d.detach()
			_ = conn.CloseNow()
			if d.stopped(ctx) {
				return
			}

			var cause error
			if !isExpectedDisconnect(ctx, err) {
				cause = WrapError(ErrorDisconnected, "connection dropped", err)
			}
			d.logger.Warn("disconnected", map[string]any{"error": err})
			d.transition(ctx, StateEvent{NewState: StateClosed, Error: cause})
		}

		wait := b.NextBackOff()
		if !d.cfg.AutoReconnect || wait == backoff.Stop ||
			(d.cfg.ReconnectMaxAttempts > 0 && failures >= d.cfg.ReconnectMaxAttempts) {
			d.logger.Error("giving up on connection", map[string]any{"attempts": failures})
			d.transition(ctx, StateEvent{
				NewState: StateClosed,
				Error:    NewError(ErrorReconnectExhausted, "gave up reconnecting"),
				Attempt:  failures,
				GaveUp:   true,
			})
			return
		}

		d.logger.Debug("reconnecting", map[string]any{"in": wait.String(), "attempt": failures + 1})
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (d *Driver) readLoop(ctx context.Context, conn *internal.Conn) error {
	for {
		data, err := conn.ReadText(ctx)
		if err != nil {
			return err
		}
		d.emitFrame(ctx, data)
	}
}

func (d *Driver) attach(conn *internal.Conn) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false
	}
	d.conn = conn
	return true
}

func (d *Driver) detach() {
	d.mu.Lock()
	d.conn = nil
	d.mu.Unlock()
}

func (d *Driver) stopped(ctx context.Context) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed || ctx.Err() != nil
}

// transition moves to ev.NewState and notifies listeners. The run goroutine
// passes its ctx; once Close has begun its transitions are dropped so that
// nothing follows Close's own events.
func (d *Driver) transition(ctx context.Context, ev StateEvent) bool {
	d.emitMu.Lock()
	defer d.emitMu.Unlock()

	d.mu.Lock()
	if ctx != nil && (d.closed || ctx.Err() != nil) {
		d.mu.Unlock()
		return false
	}
	ev.OldState = d.state
	d.state = ev.NewState
	listeners := d.onState
	d.mu.Unlock()

	for _, fn := range listeners {
		fn(ev)
	}
	return true
}

func (d *Driver) emitFrame(ctx context.Context, data []byte) {
	d.emitMu.Lock()
	defer d.emitMu.Unlock()

	d.mu.Lock()
	listeners := d.onFrame
	stopped := d.closed || ctx.Err() != nil
	d.mu.Unlock()
	if stopped {
		return
	}
	for _, fn := range listeners {
		fn(data)
	}
}

func (d *Driver) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.cfg.ReconnectInitialInterval
	b.MaxInterval = d.cfg.ReconnectMaxInterval
	b.Multiplier = d.cfg.ReconnectMultiplier
	b.Reset()
	return b
}

func isExpectedDisconnect(ctx context.Context, err error) bool {
	if err == nil {
		return true
	}
	if ctx != nil && ctx.Err() != nil {
		return true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	default:
		return false
	}
}
