package docchat

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Coordinator runs the chat protocol over a Channel: one prompt out, one
// reply back, with new input refused while a reply is outstanding.
//
// All turn state is owned by a single event-loop goroutine. Inbound frames
// and state events are processed in the order the channel delivered them.
type Coordinator struct {
	ch         Channel
	cfg        Config
	logger     Logger
	notifier   Notifier
	transcript *Transcript

	inbox    chan any // []byte frames and StateEvents, in delivery order
	submits  chan submitRequest
	done     chan struct{}
	loopDone chan struct{}

	startOnce sync.Once
	closeOnce sync.Once
	started   atomic.Bool

	busy        atomic.Bool
	indicator   atomic.Int32
	mu          sync.Mutex
	onIndicator []func(int)

	// loop-owned
	outstanding bool
	abandoned   int // turns that timed out and may still get a late reply
	mark        int
	ticker      *time.Ticker
	turnTimer   *time.Timer
}

type submitRequest struct {
	ctx   context.Context
	text  string
	reply chan error
}

// NewCoordinator constructs a coordinator over ch. Use DefaultConfig() as a
// starting point; only the turn settings are read here.
func NewCoordinator(ch Channel, cfg Config) *Coordinator {
	return &Coordinator{
		ch:         ch,
		cfg:        cfg,
		logger:     noopLogger{},
		notifier:   noopNotifier{},
		transcript: NewTranscript(),
		inbox:      make(chan any, 64),
		submits:    make(chan submitRequest),
		done:       make(chan struct{}),
		loopDone:   make(chan struct{}),
	}
}

// SetLogger overrides logger (optional).
func (c *Coordinator) SetLogger(l Logger) {
	if l == nil {
		return
	}
	c.logger = l
}

// SetNotifier routes user-visible notices to n (optional).
func (c *Coordinator) SetNotifier(n Notifier) {
	if n == nil {
		return
	}
	c.notifier = n
}

// OnIndicator registers a callback for the waiting indicator: 1, 2 or 3
// marks while a reply is outstanding, 0 when idle.
func (c *Coordinator) OnIndicator(fn func(int)) {
	if fn == nil {
		return
	}
	c.mu.Lock()
	c.onIndicator = append(c.onIndicator, fn)
	c.mu.Unlock()
}

// Transcript returns the conversation log.
func (c *Coordinator) Transcript() *Transcript { return c.transcript }

// Busy reports whether a turn is outstanding.
func (c *Coordinator) Busy() bool { return c.busy.Load() }

// Indicator returns the current waiting indicator value.
func (c *Coordinator) Indicator() int { return int(c.indicator.Load()) }

// State returns the channel's connection state.
func (c *Coordinator) State() ConnectionState { return c.ch.State() }

// Start subscribes to the channel, starts the event loop and connects.
func (c *Coordinator) Start(ctx context.Context) error {
	if err := c.cfg.Validate(); err != nil {
		return err
	}
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	c.startOnce.Do(func() {
		c.ch.OnStateChanged(func(ev StateEvent) { c.enqueue(ev) })
		c.ch.OnFrame(func(data []byte) { c.enqueue(data) })
		c.started.Store(true)
		go c.loop()
	})
	return c.ch.Connect(ctx)
}

// Submit sends text as the next turn. On success the user's entry is already
// in the transcript and the caller should clear its input. Rejections
// (empty text, channel not open, reply outstanding) change nothing.
func (c *Coordinator) Submit(ctx context.Context, text string) error {
	if !c.started.Load() {
		c.notifier.Warning(NoticeNotReady, "")
		return ErrNotOpen
	}

	req := submitRequest{ctx: ctx, text: text, reply: make(chan error, 1)}
	select {
	case c.submits <- req:
	case <-c.loopDone:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-req.reply:
		return err
	case <-c.loopDone:
		select {
		case err := <-req.reply:
			return err
		default:
			return ErrClosed
		}
	}
}

// Close stops the event loop and its timers, then closes the channel.
func (c *Coordinator) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		if c.started.Load() {
			<-c.loopDone
		}
		err = c.ch.Close()
	})
	return err
}

func (c *Coordinator) enqueue(ev any) {
	select {
	case c.inbox <- ev:
	case <-c.done:
	}
}

func (c *Coordinator) loop() {
	defer close(c.loopDone)
	defer c.endTurn()

	for {
		select {
		case <-c.done:
			return
		case req := <-c.submits:
			req.reply <- c.handleSubmit(req.ctx, req.text)
		case ev := <-c.inbox:
			switch ev := ev.(type) {
			case []byte:
				c.handleFrame(ev)
			case StateEvent:
				c.handleState(ev)
			}
		case <-c.tickC():
			c.setMark(c.mark%3 + 1)
		case <-c.timeoutC():
			c.handleTimeout()
		}
	}
}

func (c *Coordinator) handleSubmit(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		c.notifier.Warning(NoticeEmptyInput, "")
		return ErrEmptyInput
	}
	if state := c.ch.State(); state != StateOpen {
		c.notifier.Warning(NoticeNotReady, state.Label())
		return ErrNotOpen
	}
	if c.outstanding {
		c.notifier.Warning(NoticeWaiting, "")
		return ErrTurnOutstanding
	}

	c.transcript.Append(Entry{Text: text, Sender: SenderUser})
	c.beginTurn()
	if err := c.ch.Send(ctx, OutboundFrame{Text: text}); err != nil {
		c.endTurn()
		c.logger.Error("send failed", map[string]any{"error": err})
		c.notifier.Error(NoticeSendFailed, err.Error())
		return err
	}
	return nil
}

func (c *Coordinator) handleFrame(raw []byte) {
	text, err := ParseReply(raw)

	// Frames carry no correlation, so whatever arrives while a turn is
	// outstanding resolves it.
	late := false
	switch {
	case c.outstanding:
		c.endTurn()
	case c.abandoned > 0:
		c.abandoned--
		late = true
	}

	if err != nil {
		c.rejectFrame(raw, err)
		return
	}
	if late {
		c.logger.Info("late reply", map[string]any{"bytes": len(text)})
	}
	c.transcript.Append(Entry{Text: text, Sender: SenderPeer, Late: late})
}

func (c *Coordinator) rejectFrame(raw []byte, err error) {
	c.logger.Warn("dropping malformed frame", map[string]any{
		"error":   err,
		"payload": truncate(string(raw), 200),
		"mode":    c.cfg.FrameMode.String(),
	})
	if c.cfg.FrameMode == FramesStrict {
		c.transcript.Append(Entry{Text: "Malformed reply from server.", Sender: SenderSystem})
		c.notifier.Error(NoticeMalformedReply, err.Error())
	}
}

func (c *Coordinator) handleState(ev StateEvent) {
	c.logger.Debug("connection state", map[string]any{
		"from":    ev.OldState.String(),
		"to":      ev.NewState.String(),
		"attempt": ev.Attempt,
	})

	if ev.OldState == StateOpen && ev.NewState != StateOpen {
		c.abandoned = 0
		if c.outstanding {
			c.endTurn()
			c.notifier.Warning(NoticeReplyLost, "the connection closed before the reply arrived")
		}
	}

	switch {
	case ev.GaveUp:
		c.notifier.Error(NoticeConnectionLost, fmt.Sprintf("gave up after %d attempts", ev.Attempt))
	case ev.NewState == StateOpen:
		c.notifier.Success(NoticeConnected, "")
	case ev.Failed():
		c.notifier.Error(NoticeConnectFailed, ev.Error.Error())
	}
}

func (c *Coordinator) handleTimeout() {
	if !c.outstanding {
		return
	}
	c.endTurn()
	c.abandoned++
	c.logger.Warn("turn timed out", map[string]any{
		"error":     NewError(ErrorTimeout, "no reply within turn timeout"),
		"timeout":   c.cfg.TurnTimeout.String(),
		"abandoned": c.abandoned,
	})
	c.transcript.Append(Entry{
		Text:   fmt.Sprintf("No reply received within %s.", c.cfg.TurnTimeout),
		Sender: SenderSystem,
	})
	c.notifier.Warning(NoticeReplyTimeout, "you can send a new message")
}

func (c *Coordinator) beginTurn() {
	c.outstanding = true
	c.busy.Store(true)
	c.ticker = time.NewTicker(c.cfg.IndicatorPeriod)
	if c.cfg.TurnTimeout > 0 {
		c.turnTimer = time.NewTimer(c.cfg.TurnTimeout)
	}
	c.setMark(1)
}

func (c *Coordinator) endTurn() {
	if c.ticker != nil {
		c.ticker.Stop()
		c.ticker = nil
	}
	if c.turnTimer != nil {
		c.turnTimer.Stop()
		c.turnTimer = nil
	}
	c.outstanding = false
	c.busy.Store(false)
	if c.mark != 0 {
		c.setMark(0)
	}
}

func (c *Coordinator) setMark(n int) {
	c.mark = n
	c.indicator.Store(int32(n))
	c.mu.Lock()
	listeners := c.onIndicator
	c.mu.Unlock()
	for _, fn := range listeners {
		fn(n)
	}
}

func (c *Coordinator) tickC() <-chan time.Time {
	if c.ticker == nil {
		return nil
	}
	return c.ticker.C
}

func (c *Coordinator) timeoutC() <-chan time.Time {
	if c.turnTimer == nil {
		return nil
	}
	return c.turnTimer.C
}

// WorkingDots renders the waiting indicator value as repeated marks.
func WorkingDots(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat(".", n)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
