package session

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"netprobe/internal/netprobe/domain"
	errs "netprobe/pkg/errors"
	"netprobe/pkg/logger"
)

// fakeClock only moves when a test advances it.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// scriptedConn replays chunk sizes, advancing the clock before each delivery.
type scriptedConn struct {
	clock      *fakeClock
	chunks     []int
	gaps       []time.Duration
	endErr     error
	ackErr     error
	acks       []domain.ThroughputSample
	closeCalls int
}

func (c *scriptedConn) Receive(ctx context.Context) (int, error) {
	if len(c.chunks) == 0 {
		return 0, c.endErr
	}
	c.clock.advance(c.gaps[0])
	n := c.chunks[0]
	c.chunks, c.gaps = c.chunks[1:], c.gaps[1:]
	return n, nil
}

func (c *scriptedConn) Acknowledge(ctx context.Context, s domain.ThroughputSample) error {
	if c.ackErr != nil {
		return c.ackErr
	}
	c.acks = append(c.acks, s)
	return nil
}

func (c *scriptedConn) Close() error {
	c.closeCalls++
	return nil
}

type countingObserver struct {
	opened, closed, chunks int
	lastClean              bool
}

func (o *countingObserver) SessionOpened() { o.opened++ }
func (o *countingObserver) SessionClosed(clean bool) {
	o.closed++
	o.lastClean = clean
}
func (o *countingObserver) ChunkAcknowledged(domain.ThroughputSample) { o.chunks++ }

func quietLogger() *logger.Logger {
	return logger.NewWithConfig(logger.Config{Level: logger.ERROR, Output: io.Discard})
}

func TestHandler_AcknowledgesEveryChunkWithElapsedTime(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)}
	conn := &scriptedConn{
		clock:  clock,
		chunks: []int{512 * 1024, 512 * 1024, 1024},
		gaps:   []time.Duration{100 * time.Millisecond, 250 * time.Millisecond, 50 * time.Millisecond},
		endErr: io.EOF,
	}
	obs := &countingObserver{}
	h := NewHandler(quietLogger(), WithClock(clock.Now), WithObserver(obs))

	summary := h.Serve(context.Background(), conn)

	require.Len(t, conn.acks, 3)
	assert.Equal(t, int64(512*1024), conn.acks[0].Bytes)
	assert.InDelta(t, 0.100, conn.acks[0].ElapsedSeconds, 1e-9, "first chunk measured from connection open")
	assert.InDelta(t, 0.250, conn.acks[1].ElapsedSeconds, 1e-9)
	assert.InDelta(t, 0.050, conn.acks[2].ElapsedSeconds, 1e-9)

	assert.True(t, summary.Clean)
	assert.NoError(t, summary.Err)
	assert.NotEmpty(t, summary.ID)
	assert.Equal(t, int64(2*512*1024+1024), summary.Bytes)
	assert.Equal(t, int64(3), summary.Chunks)
	assert.Equal(t, 400*time.Millisecond, summary.Duration)
	assert.Equal(t, 1, conn.closeCalls)

	assert.Equal(t, 1, obs.opened)
	assert.Equal(t, 1, obs.closed)
	assert.Equal(t, 3, obs.chunks)
	assert.True(t, obs.lastClean)
}

func TestHandler_StateSequence(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	conn := &scriptedConn{
		clock:  clock,
		chunks: []int{10, 20},
		gaps:   []time.Duration{time.Millisecond, time.Millisecond},
		endErr: io.EOF,
	}

	summary := NewHandler(quietLogger(), WithClock(clock.Now)).Serve(context.Background(), conn)

	assert.Equal(t, []State{
		Connected,
		ReceivingChunk, Acknowledging,
		ReceivingChunk, Acknowledging,
		ReceivingChunk,
		Closed,
	}, summary.States)
}

func TestHandler_PeerFaultIsLoggedNotPropagated(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	conn := &scriptedConn{
		clock:  clock,
		chunks: []int{100},
		gaps:   []time.Duration{time.Millisecond},
		endErr: errors.New("websocket: close 1006 (abnormal closure)"),
	}
	obs := &countingObserver{}

	summary := NewHandler(quietLogger(), WithClock(clock.Now), WithObserver(obs)).Serve(context.Background(), conn)

	assert.False(t, summary.Clean)
	assert.Error(t, summary.Err)
	assert.Equal(t, int64(100), summary.Bytes)
	assert.Equal(t, Closed, summary.States[len(summary.States)-1])
	assert.Equal(t, 1, conn.closeCalls)
	assert.False(t, obs.lastClean)
}

func TestHandler_AcknowledgeFailureClosesSession(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	conn := &scriptedConn{
		clock:  clock,
		chunks: []int{100, 100},
		gaps:   []time.Duration{time.Millisecond, time.Millisecond},
		ackErr: errors.New("broken pipe"),
	}

	summary := NewHandler(quietLogger(), WithClock(clock.Now)).Serve(context.Background(), conn)

	assert.False(t, summary.Clean)
	assert.ErrorIs(t, summary.Err, errs.ErrTransport)
	assert.Equal(t, int64(1), summary.Chunks)
	assert.Equal(t, 1, conn.closeCalls)
}

func TestHandler_SessionClosedSentinelIsClean(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	conn := &scriptedConn{clock: clock, endErr: errs.ErrSessionClosed}

	summary := NewHandler(quietLogger(), WithClock(clock.Now)).Serve(context.Background(), conn)
	assert.True(t, summary.Clean)
	assert.Equal(t, int64(0), summary.Chunks)
}

func TestHandler_CancelledContext(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	conn := &scriptedConn{clock: clock, chunks: []int{1}, gaps: []time.Duration{0}, endErr: io.EOF}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary := NewHandler(quietLogger(), WithClock(clock.Now)).Serve(ctx, conn)
	assert.False(t, summary.Clean)
	assert.ErrorIs(t, summary.Err, errs.ErrTransport)
	assert.Equal(t, 1, conn.closeCalls)
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(Connected, ReceivingChunk))
	assert.True(t, CanTransition(Acknowledging, ReceivingChunk))
	assert.True(t, CanTransition(ReceivingChunk, Closed))
	assert.False(t, CanTransition(Closed, ReceivingChunk))
	assert.False(t, CanTransition(Connected, Acknowledging))
	assert.Equal(t, "closed", Closed.String())
}
