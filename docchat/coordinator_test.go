package docchat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// fakeChannel is an in-memory Channel driven by the test.
type fakeChannel struct {
	mu       sync.Mutex
	state    ConnectionState
	sent     []OutboundFrame
	sendErr  error
	connects int
	closed   bool
	onState  []func(StateEvent)
	onFrame  []func([]byte)
}

func (f *fakeChannel) Connect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	return nil
}

func (f *fakeChannel) Send(_ context.Context, frame OutboundFrame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != StateOpen {
		return ErrNotOpen
	}
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, frame)
	return nil
}

func (f *fakeChannel) State() ConnectionState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeChannel) OnStateChanged(fn func(StateEvent)) {
	f.mu.Lock()
	f.onState = append(f.onState, fn)
	f.mu.Unlock()
}

func (f *fakeChannel) OnFrame(fn func([]byte)) {
	f.mu.Lock()
	f.onFrame = append(f.onFrame, fn)
	f.mu.Unlock()
}

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeChannel) emit(ev StateEvent) {
	f.mu.Lock()
	ev.OldState = f.state
	f.state = ev.NewState
	listeners := f.onState
	f.mu.Unlock()
	for _, fn := range listeners {
		fn(ev)
	}
}

func (f *fakeChannel) setState(s ConnectionState) { f.emit(StateEvent{NewState: s}) }

func (f *fakeChannel) deliver(payload string) {
	f.mu.Lock()
	listeners := f.onFrame
	f.mu.Unlock()
	for _, fn := range listeners {
		fn([]byte(payload))
	}
}

func (f *fakeChannel) sentFrames() []OutboundFrame {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]OutboundFrame(nil), f.sent...)
}

type notice struct {
	level string
	title string
}

type recordingNotifier struct {
	mu      sync.Mutex
	notices []notice
}

func (r *recordingNotifier) add(level, title string) {
	r.mu.Lock()
	r.notices = append(r.notices, notice{level, title})
	r.mu.Unlock()
}

func (r *recordingNotifier) Success(title, _ string) { r.add("success", title) }
func (r *recordingNotifier) Info(title, _ string)    { r.add("info", title) }
func (r *recordingNotifier) Warning(title, _ string) { r.add("warning", title) }
func (r *recordingNotifier) Error(title, _ string)   { r.add("error", title) }

func (r *recordingNotifier) has(level, title string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range r.notices {
		if n.level == level && n.title == title {
			return true
		}
	}
	return false
}

const waitFor = 2 * time.Second
const tick = 5 * time.Millisecond

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.IndicatorPeriod = 20 * time.Millisecond
	cfg.TurnTimeout = 0
	return cfg
}

func startCoordinator(t *testing.T, cfg Config) (*Coordinator, *fakeChannel, *recordingNotifier) {
	t.Helper()
	ch := &fakeChannel{}
	n := &recordingNotifier{}
	c := NewCoordinator(ch, cfg)
	c.SetNotifier(n)
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(func() { _ = c.Close() })
	return c, ch, n
}

func openCoordinator(t *testing.T, cfg Config) (*Coordinator, *fakeChannel, *recordingNotifier) {
	t.Helper()
	c, ch, n := startCoordinator(t, cfg)
	ch.setState(StateConnecting)
	ch.setState(StateOpen)
	return c, ch, n
}

func TestCoordinatorStartConnects(t *testing.T) {
	_, ch, n := startCoordinator(t, testConfig())
	assert.Equal(t, 1, ch.connects)

	ch.setState(StateConnecting)
	ch.setState(StateOpen)
	require.Eventually(t, func() bool { return n.has("success", NoticeConnected) }, waitFor, tick)
}

func TestCoordinatorTurnOrdering(t *testing.T) {
	c, ch, _ := openCoordinator(t, testConfig())

	require.NoError(t, c.Submit(context.Background(), "hello"))
	assert.True(t, c.Busy())
	assert.Equal(t, []OutboundFrame{{Text: "hello"}}, ch.sentFrames())

	ch.deliver(`{"response":"hi"}`)
	require.Eventually(t, func() bool { return c.Transcript().Len() == 2 }, waitFor, tick)

	entries := c.Transcript().Entries()
	assert.Equal(t, "hello", entries[0].Text)
	assert.Equal(t, SenderUser, entries[0].Sender)
	assert.Equal(t, "hi", entries[1].Text)
	assert.Equal(t, SenderPeer, entries[1].Sender)
	assert.False(t, entries[1].Late)
	assert.False(t, c.Busy())
}

func TestCoordinatorRejectsEmptyInput(t *testing.T) {
	c, ch, n := openCoordinator(t, testConfig())

	for _, text := range []string{"", "   ", "\n\t"} {
		err := c.Submit(context.Background(), text)
		require.ErrorIs(t, err, ErrEmptyInput)
		assert.True(t, IsRejection(err))
	}
	assert.Equal(t, 0, c.Transcript().Len())
	assert.Empty(t, ch.sentFrames())
	assert.False(t, c.Busy())
	assert.True(t, n.has("warning", NoticeEmptyInput))
}

func TestCoordinatorRejectsWhenNotOpen(t *testing.T) {
	for _, state := range []ConnectionState{StateUninstantiated, StateConnecting, StateClosing, StateClosed} {
		t.Run(state.String(), func(t *testing.T) {
			c, ch, n := startCoordinator(t, testConfig())
			if state != StateUninstantiated {
				ch.setState(state)
			}

			err := c.Submit(context.Background(), "x")
			require.ErrorIs(t, err, ErrNotOpen)
			assert.Equal(t, 0, c.Transcript().Len())
			assert.Empty(t, ch.sentFrames())
			assert.True(t, n.has("warning", NoticeNotReady))
		})
	}
}

func TestCoordinatorSubmitBeforeStart(t *testing.T) {
	c := NewCoordinator(&fakeChannel{}, testConfig())
	require.ErrorIs(t, c.Submit(context.Background(), "x"), ErrNotOpen)
}

func TestCoordinatorAtMostOneOutstanding(t *testing.T) {
	c, ch, n := openCoordinator(t, testConfig())

	require.NoError(t, c.Submit(context.Background(), "first"))
	err := c.Submit(context.Background(), "second")
	require.ErrorIs(t, err, ErrTurnOutstanding)
	assert.True(t, n.has("warning", NoticeWaiting))
	assert.Equal(t, 1, c.Transcript().Len())
	assert.Len(t, ch.sentFrames(), 1)

	ch.deliver(`{"response":"ok"}`)
	require.Eventually(t, func() bool { return !c.Busy() }, waitFor, tick)
	require.NoError(t, c.Submit(context.Background(), "second"))
	assert.Len(t, ch.sentFrames(), 2)
}

func TestCoordinatorAbsorbsMalformedFrames(t *testing.T) {
	payloads := []string{"not json", `{"foo":"bar"}`, `{"response":42}`, `null`, `["hi"]`}
	for _, payload := range payloads {
		t.Run(payload, func(t *testing.T) {
			c, ch, n := openCoordinator(t, testConfig())

			require.NoError(t, c.Submit(context.Background(), "hello"))
			ch.deliver(payload)
			require.Eventually(t, func() bool { return !c.Busy() }, waitFor, tick)

			assert.Equal(t, 1, c.Transcript().Len())
			assert.False(t, n.has("error", NoticeMalformedReply))
		})
	}
}

func TestCoordinatorStrictModeRecordsMalformedFrame(t *testing.T) {
	cfg := testConfig()
	cfg.FrameMode = FramesStrict
	c, ch, n := openCoordinator(t, cfg)

	require.NoError(t, c.Submit(context.Background(), "hello"))
	ch.deliver("not json")
	require.Eventually(t, func() bool { return c.Transcript().Len() == 2 }, waitFor, tick)

	last, ok := c.Transcript().Last()
	require.True(t, ok)
	assert.Equal(t, SenderSystem, last.Sender)
	assert.False(t, c.Busy())
	require.Eventually(t, func() bool { return n.has("error", NoticeMalformedReply) }, waitFor, tick)
}

func TestCoordinatorUnsolicitedReplyIsRecorded(t *testing.T) {
	c, ch, _ := openCoordinator(t, testConfig())

	ch.deliver(`{"response":"welcome"}`)
	require.Eventually(t, func() bool { return c.Transcript().Len() == 1 }, waitFor, tick)
	last, _ := c.Transcript().Last()
	assert.Equal(t, SenderPeer, last.Sender)
	assert.False(t, c.Busy())
}

func TestCoordinatorSendFailureClearsTurn(t *testing.T) {
	c, ch, n := openCoordinator(t, testConfig())
	ch.mu.Lock()
	ch.sendErr = WrapError(ErrorConnection, "write frame", errors.New("broken pipe"))
	ch.mu.Unlock()

	err := c.Submit(context.Background(), "hello")
	require.Error(t, err)
	assert.True(t, IsConnectionError(err))
	assert.False(t, c.Busy())
	assert.Equal(t, 1, c.Transcript().Len(), "the user's entry stays in the log")
	assert.True(t, n.has("error", NoticeSendFailed))
}

func TestCoordinatorDisconnectClearsOutstanding(t *testing.T) {
	c, ch, n := openCoordinator(t, testConfig())

	require.NoError(t, c.Submit(context.Background(), "hello"))
	ch.emit(StateEvent{NewState: StateClosed, Error: NewError(ErrorDisconnected, "dropped")})

	require.Eventually(t, func() bool { return !c.Busy() }, waitFor, tick)
	require.Eventually(t, func() bool { return n.has("error", NoticeConnectFailed) }, waitFor, tick)
	assert.True(t, n.has("warning", NoticeReplyLost))
	assert.Equal(t, 1, c.Transcript().Len())
}

func TestCoordinatorGiveUpNotice(t *testing.T) {
	_, ch, n := startCoordinator(t, testConfig())

	ch.emit(StateEvent{
		NewState: StateClosed,
		Error:    NewError(ErrorReconnectExhausted, "gave up reconnecting"),
		Attempt:  3,
		GaveUp:   true,
	})
	require.Eventually(t, func() bool { return n.has("error", NoticeConnectionLost) }, waitFor, tick)
}

func TestCoordinatorTurnTimeoutAndLateReply(t *testing.T) {
	cfg := testConfig()
	cfg.TurnTimeout = 150 * time.Millisecond
	c, ch, n := openCoordinator(t, cfg)

	require.NoError(t, c.Submit(context.Background(), "one"))
	require.Eventually(t, func() bool { return c.Transcript().Len() == 2 }, waitFor, tick)

	timedOut, _ := c.Transcript().Last()
	assert.Equal(t, SenderSystem, timedOut.Sender)
	assert.Contains(t, timedOut.Text, "No reply received")
	assert.False(t, c.Busy())
	require.Eventually(t, func() bool { return n.has("warning", NoticeReplyTimeout) }, waitFor, tick)

	// With nothing outstanding, the abandoned turn's reply is marked late.
	ch.deliver(`{"response":"reply to one"}`)
	require.Eventually(t, func() bool { return c.Transcript().Len() == 3 }, waitFor, tick)
	late, _ := c.Transcript().Last()
	assert.True(t, late.Late)
	assert.Equal(t, "reply to one", late.Text)
	assert.False(t, c.Busy())

	require.NoError(t, c.Submit(context.Background(), "two"))
	ch.deliver(`{"response":"reply to two"}`)
	require.Eventually(t, func() bool { return c.Transcript().Len() == 5 }, waitFor, tick)
	last, _ := c.Transcript().Last()
	assert.False(t, last.Late)
	assert.False(t, c.Busy())
}

func TestCoordinatorReplyAfterTimeoutResolvesNextTurn(t *testing.T) {
	cfg := testConfig()
	cfg.TurnTimeout = 150 * time.Millisecond
	c, ch, _ := openCoordinator(t, cfg)

	// "one" never gets a reply.
	require.NoError(t, c.Submit(context.Background(), "one"))
	require.Eventually(t, func() bool { return !c.Busy() && c.Transcript().Len() == 2 }, waitFor, tick)

	require.NoError(t, c.Submit(context.Background(), "two"))
	ch.deliver(`{"response":"reply to two"}`)
	require.Eventually(t, func() bool { return c.Transcript().Len() == 4 }, waitFor, tick)
	reply, _ := c.Transcript().Last()
	assert.Equal(t, "reply to two", reply.Text)
	assert.False(t, reply.Late)
	assert.False(t, c.Busy())

	// A malformed frame resolves the outstanding turn as well.
	require.NoError(t, c.Submit(context.Background(), "three"))
	require.True(t, c.Busy())
	ch.deliver("not json")
	require.Eventually(t, func() bool { return !c.Busy() }, waitFor, tick)
	assert.Equal(t, 5, c.Transcript().Len())
	assert.Zero(t, c.Indicator())
}

func TestCoordinatorLogsTimeoutCode(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	cfg := testConfig()
	cfg.TurnTimeout = 50 * time.Millisecond

	ch := &fakeChannel{}
	c := NewCoordinator(ch, cfg)
	c.SetLogger(WrapZap(zap.New(core)))
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(func() { _ = c.Close() })
	ch.setState(StateConnecting)
	ch.setState(StateOpen)

	require.NoError(t, c.Submit(context.Background(), "hello"))
	require.Eventually(t, func() bool { return logs.FilterMessage("turn timed out").Len() == 1 }, waitFor, tick)

	fields := logs.FilterMessage("turn timed out").All()[0].ContextMap()
	assert.Contains(t, fields["error"], ErrorTimeout.String())
	assert.EqualValues(t, 1, fields["abandoned"])
}

func TestCoordinatorNoTimeoutWaitsIndefinitely(t *testing.T) {
	c, _, _ := openCoordinator(t, testConfig())

	require.NoError(t, c.Submit(context.Background(), "hello"))
	time.Sleep(100 * time.Millisecond)
	assert.True(t, c.Busy())
	assert.Equal(t, 1, c.Transcript().Len())
}

func TestCoordinatorIndicatorCycles(t *testing.T) {
	var mu sync.Mutex
	var marks []int

	c, ch, _ := startCoordinator(t, testConfig())
	c.OnIndicator(func(n int) {
		mu.Lock()
		marks = append(marks, n)
		mu.Unlock()
	})
	ch.setState(StateOpen)

	require.NoError(t, c.Submit(context.Background(), "hello"))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(marks) >= 5
	}, waitFor, tick)

	ch.deliver(`{"response":"hi"}`)
	require.Eventually(t, func() bool { return c.Indicator() == 0 }, waitFor, tick)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{1, 2, 3, 1, 2}, marks[:5])
	assert.Equal(t, 0, marks[len(marks)-1])
}

func TestCoordinatorCloseReleasesChannel(t *testing.T) {
	c, ch, _ := openCoordinator(t, testConfig())
	require.NoError(t, c.Submit(context.Background(), "hello"))

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.True(t, ch.closed)
	assert.False(t, c.Busy())
	assert.Equal(t, 0, c.Indicator())
	assert.ErrorIs(t, c.Submit(context.Background(), "again"), ErrClosed)
	assert.ErrorIs(t, c.Start(context.Background()), ErrClosed)
}

func TestCoordinatorTranscriptIsAppendOnly(t *testing.T) {
	c, ch, _ := openCoordinator(t, testConfig())

	var prev []Entry
	check := func() {
		cur := c.Transcript().Entries()
		require.GreaterOrEqual(t, len(cur), len(prev))
		assert.Equal(t, prev, cur[:len(prev)])
		prev = cur
	}

	steps := []func(){
		func() { _ = c.Submit(context.Background(), "a") },
		func() { _ = c.Submit(context.Background(), "b") },
		func() { ch.deliver(`{"response":"A"}`) },
		func() { _ = c.Submit(context.Background(), "  ") },
		func() { ch.deliver("garbage") },
		func() { _ = c.Submit(context.Background(), "c") },
		func() { ch.setState(StateClosed) },
		func() { _ = c.Submit(context.Background(), "d") },
		func() { ch.setState(StateOpen) },
		func() { ch.deliver(`{"response":"C"}`) },
	}
	for _, step := range steps {
		step()
		time.Sleep(10 * time.Millisecond)
		check()
	}
}
