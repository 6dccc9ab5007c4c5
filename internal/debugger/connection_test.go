package debugger

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruslan-bikkinin/vscode-react-native/internal/fetch"
	"github.com/ruslan-bikkinin/vscode-react-native/internal/logging"
	"github.com/ruslan-bikkinin/vscode-react-native/internal/packager"
	"github.com/ruslan-bikkinin/vscode-react-native/internal/packagertest"
)

// fakeWorker implements Worker for connection tests.
type fakeWorker struct {
	mu       sync.Mutex
	started  bool
	stopped  bool
	posted   []WireMessage
	startErr error
	port     int
}

func (w *fakeWorker) Start(ctx context.Context) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.startErr != nil {
		return 0, w.startErr
	}
	w.started = true
	if w.port == 0 {
		w.port = 9229
	}
	return w.port, nil
}

func (w *fakeWorker) PostMessage(ctx context.Context, msg WireMessage) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.posted = append(w.posted, msg)
	return nil
}

func (w *fakeWorker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopped = true
}

func (w *fakeWorker) postedMessages() []WireMessage {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]WireMessage, len(w.posted))
	copy(out, w.posted)
	return out
}

// workerTracker hands out fake workers and remembers them in order.
type workerTracker struct {
	mu      sync.Mutex
	workers []*fakeWorker
}

func (f *workerTracker) factory(sink ReplySink) Worker {
	f.mu.Lock()
	defer f.mu.Unlock()
	w := &fakeWorker{}
	f.workers = append(f.workers, w)
	return w
}

func (f *workerTracker) created() []*fakeWorker {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*fakeWorker, len(f.workers))
	copy(out, f.workers)
	return out
}

func newTestManager(t *testing.T, p *packagertest.Packager, tracker *workerTracker) *ConnectionManager {
	t.Helper()
	client := fetch.NewClient()
	m := NewConnectionManager(
		p.Host(), p.Port(), packager.NewStatus(client), tracker.factory,
		logging.NewNop(), nil)
	t.Cleanup(m.Stop)
	return m
}

func waitReceived(t *testing.T, p *packagertest.Packager, n int) []map[string]any {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(p.Received()) >= n
	}, 2*time.Second, 5*time.Millisecond)
	return p.Received()
}

func TestStartFailsWhenPackagerNotRunning(t *testing.T) {
	p := packagertest.New(t)
	p.SetRunning(false)

	m := newTestManager(t, p, &workerTracker{})
	err := m.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), fmt.Sprintf("%d", p.Port()))
	assert.Equal(t, StateDisconnected, m.State())

	// No socket was constructed.
	select {
	case <-p.WaitConnect():
		t.Fatal("manager dialed the proxy despite the failed reachability check")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestStartIsIdempotent(t *testing.T) {
	p := packagertest.New(t)
	m := newTestManager(t, p, &workerTracker{})

	require.NoError(t, m.Start(context.Background()))
	<-p.WaitConnect()
	require.NoError(t, m.Start(context.Background()))
	assert.Equal(t, StateConnected, m.State())
}

func TestPrepareJSRuntimeStartsWorkerAndReplies(t *testing.T) {
	p := packagertest.New(t)
	tracker := &workerTracker{}
	m := newTestManager(t, p, tracker)

	require.NoError(t, m.Start(context.Background()))
	<-p.WaitConnect()

	require.NoError(t, p.Send(map[string]any{"method": "prepareJSRuntime", "id": 1}))

	received := waitReceived(t, p, 1)
	assert.Equal(t, map[string]any{"replyID": float64(1)}, received[0])

	workers := tracker.created()
	require.Len(t, workers, 1)
	workers[0].mu.Lock()
	assert.True(t, workers[0].started)
	workers[0].mu.Unlock()
}

func TestSecondPrepareJSRuntimeSupersedesPreviousLifetime(t *testing.T) {
	p := packagertest.New(t)
	tracker := &workerTracker{}
	m := newTestManager(t, p, tracker)

	require.NoError(t, m.Start(context.Background()))
	<-p.WaitConnect()

	require.NoError(t, p.Send(map[string]any{"method": "prepareJSRuntime", "id": 1}))
	waitReceived(t, p, 1)
	require.NoError(t, p.Send(map[string]any{"method": "prepareJSRuntime", "id": 2}))
	waitReceived(t, p, 2)

	workers := tracker.created()
	require.Len(t, workers, 2)
	workers[0].mu.Lock()
	assert.True(t, workers[0].stopped, "previous lifetime must be stopped before the new spawn")
	workers[0].mu.Unlock()
	workers[1].mu.Lock()
	assert.False(t, workers[1].stopped)
	workers[1].mu.Unlock()
}

func TestOtherMessagesForwardToActiveWorkerWithoutReply(t *testing.T) {
	p := packagertest.New(t)
	tracker := &workerTracker{}
	m := newTestManager(t, p, tracker)

	require.NoError(t, m.Start(context.Background()))
	<-p.WaitConnect()

	require.NoError(t, p.Send(map[string]any{"method": "prepareJSRuntime", "id": 1}))
	waitReceived(t, p, 1)

	require.NoError(t, p.Send(map[string]any{"method": "unknownMethod", "payload": "x"}))

	workers := tracker.created()
	require.Len(t, workers, 1)
	require.Eventually(t, func() bool {
		return len(workers[0].postedMessages()) == 1
	}, 2*time.Second, 5*time.Millisecond)

	posted := workers[0].postedMessages()
	assert.Equal(t, "unknownMethod", posted[0].Method())
	assert.Equal(t, "x", posted[0]["payload"])

	// No reply is sent for forwarded messages.
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, p.Received(), 1)
}

func TestMessagesBeforeAnyLifetimeAreDropped(t *testing.T) {
	p := packagertest.New(t)
	tracker := &workerTracker{}
	m := newTestManager(t, p, tracker)

	require.NoError(t, m.Start(context.Background()))
	<-p.WaitConnect()

	require.NoError(t, p.Send(map[string]any{"method": "unknownMethod"}))
	time.Sleep(50 * time.Millisecond)

	assert.Empty(t, tracker.created())
	assert.Equal(t, StateConnected, m.State())
}

func TestMalformedMessageIsDroppedConnectionStaysOpen(t *testing.T) {
	p := packagertest.New(t)
	tracker := &workerTracker{}
	m := newTestManager(t, p, tracker)

	require.NoError(t, m.Start(context.Background()))
	<-p.WaitConnect()

	require.NoError(t, p.Send(map[string]any{"no_method": true}))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, StateConnected, m.State())

	// The connection still serves later well-formed traffic.
	require.NoError(t, p.Send(map[string]any{"method": "prepareJSRuntime", "id": 3}))
	received := waitReceived(t, p, 1)
	assert.Equal(t, float64(3), received[0]["replyID"])
}

func TestUnexpectedCloseReconnectsAfterFixedDelay(t *testing.T) {
	p := packagertest.New(t)
	m := newTestManager(t, p, &workerTracker{})

	require.NoError(t, m.Start(context.Background()))
	<-p.WaitConnect()

	closedAt := time.Now()
	p.CloseClient("going away")

	select {
	case <-p.WaitConnect():
		elapsed := time.Since(closedAt)
		assert.GreaterOrEqual(t, elapsed, 100*time.Millisecond,
			"reconnect must not fire before the fixed delay")
	case <-time.After(2 * time.Second):
		t.Fatal("manager never reconnected")
	}
}

func TestNoReconnectWhenAnotherDebuggerIsAttached(t *testing.T) {
	p := packagertest.New(t)
	m := newTestManager(t, p, &workerTracker{})

	require.NoError(t, m.Start(context.Background()))
	<-p.WaitConnect()

	p.CloseClient("Another debugger is already connected")

	select {
	case <-p.WaitConnect():
		t.Fatal("manager reconnected despite another debugger holding the proxy")
	case <-time.After(300 * time.Millisecond):
	}
	assert.Equal(t, StateDisconnected, m.State())
}

func TestStopCancelsPendingReconnect(t *testing.T) {
	p := packagertest.New(t)
	m := newTestManager(t, p, &workerTracker{})

	require.NoError(t, m.Start(context.Background()))
	<-p.WaitConnect()

	p.CloseClient("going away")
	m.Stop()

	select {
	case <-p.WaitConnect():
		t.Fatal("reconnect timer survived Stop")
	case <-time.After(300 * time.Millisecond):
	}
	assert.Equal(t, StateDisconnected, m.State())
}

func TestStartAfterStopDoesNotRevive(t *testing.T) {
	p := packagertest.New(t)
	m := newTestManager(t, p, &workerTracker{})

	require.NoError(t, m.Start(context.Background()))
	<-p.WaitConnect()
	m.Stop()

	// A reconnect attempt that slips past the timer cancellation must be
	// refused; the manager is terminal after Stop.
	err := m.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateDisconnected, m.State())

	select {
	case <-p.WaitConnect():
		t.Fatal("stopped manager reconnected")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestStopIsSafeToCallTwice(t *testing.T) {
	p := packagertest.New(t)
	tracker := &workerTracker{}
	m := newTestManager(t, p, tracker)

	require.NoError(t, m.Start(context.Background()))
	<-p.WaitConnect()
	require.NoError(t, p.Send(map[string]any{"method": "prepareJSRuntime", "id": 1}))
	waitReceived(t, p, 1)

	m.Stop()
	m.Stop()

	workers := tracker.created()
	require.Len(t, workers, 1)
	workers[0].mu.Lock()
	assert.True(t, workers[0].stopped)
	workers[0].mu.Unlock()
}
