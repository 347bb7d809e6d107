package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/lsp-cli/lspd/src/lspd/entity"
	"github.com/lsp-cli/lspd/src/lspd/factory"
	"github.com/lsp-cli/lspd/src/lspd/gateway/langserver"
	"github.com/lsp-cli/lspd/src/lspd/gateway/langserver/langservermock"
	"github.com/lsp-cli/lspd/src/lspd/internal/clock"
	"github.com/lsp-cli/lspd/src/lspd/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	gomock "go.uber.org/mock/gomock"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// testClock is a manually advanced Clock shared by the session and manager
// tests.
type testClock struct {
	mu   sync.Mutex
	now  time.Time
	tick chan time.Time
}

func newTestClock() *testClock {
	return &testClock{
		now:  time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		tick: make(chan time.Time, 1),
	}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *testClock) Sleep(d time.Duration) {
	c.Advance(d)
}

func (c *testClock) NewTicker(d time.Duration) clock.Ticker {
	return testTicker{c: c.tick}
}

type testTicker struct {
	c chan time.Time
}

func (t testTicker) C() <-chan time.Time { return t.c }
func (t testTicker) Stop()               {}

// readyClient returns a mock client that starts cleanly and whose Done
// channel is controlled by the test.
func readyClient(ctrl *gomock.Controller) (*langservermock.MockClient, chan struct{}) {
	client := langservermock.NewMockClient(ctrl)
	done := make(chan struct{})
	var doneRecv <-chan struct{} = done

	client.EXPECT().Start(gomock.Any()).Return(nil).AnyTimes()
	client.EXPECT().Done().Return(doneRecv).AnyTimes()
	client.EXPECT().Close(gomock.Any()).Return(nil).AnyTimes()
	client.EXPECT().Err().Return(errors.New("connection reset")).AnyTimes()
	return client, done
}

func startedSession(t *testing.T, client langserver.Client, onTerminate func(*Session)) *Session {
	s := newSession(factory.Workspace(t.TempDir()), client, zap.NewNop().Sugar(), newTestClock(), 16, onTerminate)
	require.NoError(t, s.Start(context.Background()))
	return s
}

func TestExecuteReturnsHandlerResult(t *testing.T) {
	ctrl := gomock.NewController(t)
	client, _ := readyClient(ctrl)
	s := startedSession(t, client, nil)
	defer s.Shutdown(context.Background())

	value, err := s.Execute(context.Background(), func(ctx context.Context, c langserver.Client) (interface{}, error) {
		return "result", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "result", value)
	assert.Equal(t, entity.StateReady, s.State())
}

func TestExecuteServesInArrivalOrder(t *testing.T) {
	ctrl := gomock.NewController(t)
	client, _ := readyClient(ctrl)
	s := startedSession(t, client, nil)
	defer s.Shutdown(context.Background())

	gate := make(chan struct{})
	var mu sync.Mutex
	var order []int

	record := func(id int) Handler {
		return func(ctx context.Context, c langserver.Client) (interface{}, error) {
			mu.Lock()
			order = append(order, id)
			mu.Unlock()
			return nil, nil
		}
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.Execute(context.Background(), func(ctx context.Context, c langserver.Client) (interface{}, error) {
			mu.Lock()
			order = append(order, 1)
			mu.Unlock()
			<-gate
			return nil, nil
		})
	}()

	// Wait for the first call to occupy the worker before queueing more.
	require.Eventually(t, func() bool {
		return s.State() == entity.StateBusy
	}, time.Second, time.Millisecond)

	for _, id := range []int{2, 3, 4} {
		id := id
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Execute(context.Background(), record(id))
		}()
		want := id - 1
		require.Eventually(t, func() bool {
			return s.Info(time.Now()).QueueDepth == want
		}, time.Second, time.Millisecond)
	}

	close(gate)
	wg.Wait()

	assert.Equal(t, []int{1, 2, 3, 4}, order)
}

func TestExecuteTimeoutLeavesSessionUsable(t *testing.T) {
	ctrl := gomock.NewController(t)
	client, _ := readyClient(ctrl)
	s := startedSession(t, client, nil)
	defer s.Shutdown(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := s.Execute(ctx, func(ctx context.Context, c langserver.Client) (interface{}, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	assert.True(t, errors.IsKind(err, errors.KindTimeout))

	// The session survives a per-call timeout.
	value, err := s.Execute(context.Background(), func(ctx context.Context, c langserver.Client) (interface{}, error) {
		return "still alive", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "still alive", value)
}

func TestExecuteCallerCancellation(t *testing.T) {
	ctrl := gomock.NewController(t)
	client, _ := readyClient(ctrl)
	s := startedSession(t, client, nil)
	defer s.Shutdown(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})

	go func() {
		<-started
		cancel()
	}()

	_, err := s.Execute(ctx, func(ctx context.Context, c langserver.Client) (interface{}, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	assert.True(t, errors.IsKind(err, errors.KindCancelled))
}

func TestShutdownCancelsQueuedCalls(t *testing.T) {
	ctrl := gomock.NewController(t)
	client, _ := readyClient(ctrl)
	s := startedSession(t, client, nil)

	gate := make(chan struct{})
	inFlight := make(chan struct{})

	var wg sync.WaitGroup
	errs := make([]error, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		_, errs[0] = s.Execute(context.Background(), func(ctx context.Context, c langserver.Client) (interface{}, error) {
			close(inFlight)
			select {
			case <-gate:
				return nil, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		})
	}()
	<-inFlight

	wg.Add(1)
	go func() {
		defer wg.Done()
		_, errs[1] = s.Execute(context.Background(), func(ctx context.Context, c langserver.Client) (interface{}, error) {
			return nil, nil
		})
	}()
	require.Eventually(t, func() bool {
		return s.Info(time.Now()).QueueDepth == 1
	}, time.Second, time.Millisecond)

	require.NoError(t, s.Shutdown(context.Background()))
	wg.Wait()
	close(gate)

	assert.True(t, errors.IsKind(errs[0], errors.KindCancelled), "in-flight call: %v", errs[0])
	assert.True(t, errors.IsKind(errs[1], errors.KindCancelled), "queued call: %v", errs[1])
	assert.Equal(t, entity.StateClosed, s.State())
}

func TestShutdownExecuteRace(t *testing.T) {
	// Shutdown racing a concurrent Execute must leave the caller with either
	// the call's result or Cancelled, and must never stall it.
	for i := 0; i < 50; i++ {
		ctrl := gomock.NewController(t)
		client, _ := readyClient(ctrl)
		s := startedSession(t, client, nil)

		result := make(chan error, 1)
		go func() {
			_, err := s.Execute(context.Background(), func(ctx context.Context, c langserver.Client) (interface{}, error) {
				return nil, nil
			})
			result <- err
		}()

		shutdownDone := make(chan struct{})
		go func() {
			defer close(shutdownDone)
			assert.NoError(t, s.Shutdown(context.Background()))
		}()

		select {
		case err := <-result:
			if err != nil {
				assert.True(t, errors.IsKind(err, errors.KindCancelled), "call: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("execute stalled during shutdown")
		}
		<-shutdownDone
	}
}

func TestExecuteAfterShutdown(t *testing.T) {
	ctrl := gomock.NewController(t)
	client, _ := readyClient(ctrl)
	s := startedSession(t, client, nil)
	require.NoError(t, s.Shutdown(context.Background()))

	_, err := s.Execute(context.Background(), func(ctx context.Context, c langserver.Client) (interface{}, error) {
		return nil, nil
	})
	assert.True(t, errors.IsKind(err, errors.KindCancelled))
}

func TestConnectionLossFailsSession(t *testing.T) {
	ctrl := gomock.NewController(t)
	client, done := readyClient(ctrl)

	removed := make(chan *Session, 1)
	s := startedSession(t, client, func(s *Session) { removed <- s })

	close(done)

	select {
	case got := <-removed:
		assert.Equal(t, s, got)
	case <-time.After(time.Second):
		t.Fatal("session was not removed after connection loss")
	}
	assert.Equal(t, entity.StateFailed, s.State())

	_, err := s.Execute(context.Background(), func(ctx context.Context, c langserver.Client) (interface{}, error) {
		return nil, nil
	})
	assert.True(t, errors.IsKind(err, errors.KindProtocol))
}

func TestStartFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := langservermock.NewMockClient(ctrl)
	client.EXPECT().Start(gomock.Any()).Return(errors.E(errors.KindClientSpawn, "exec: not found"))

	s := newSession(factory.Workspace(t.TempDir()), client, zap.NewNop().Sugar(), newTestClock(), 16, nil)
	err := s.Start(context.Background())
	assert.True(t, errors.IsKind(err, errors.KindClientSpawn))
	assert.Equal(t, entity.StateFailed, s.State())
}

func TestIdle(t *testing.T) {
	ctrl := gomock.NewController(t)
	client, _ := readyClient(ctrl)
	clk := newTestClock()

	s := newSession(factory.Workspace(t.TempDir()), client, zap.NewNop().Sugar(), clk, 16, nil)
	require.NoError(t, s.Start(context.Background()))
	defer s.Shutdown(context.Background())

	window := 5 * time.Minute
	assert.False(t, s.Idle(clk.Now(), window))
	assert.True(t, s.Idle(clk.Now().Add(window+time.Second), window))
}
