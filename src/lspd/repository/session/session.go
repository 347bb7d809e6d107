// Package session owns the live language-server sessions, one per workspace
// root, and the manager that spawns, recycles, and evicts them.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/lsp-cli/lspd/src/lspd/entity"
	"github.com/lsp-cli/lspd/src/lspd/gateway/langserver"
	"github.com/lsp-cli/lspd/src/lspd/internal/clock"
	"github.com/lsp-cli/lspd/src/lspd/internal/errors"
	"github.com/lsp-cli/lspd/src/lspd/model"
	"go.uber.org/zap"
)

// Handler is a single capability call executed against the session's client.
type Handler func(ctx context.Context, client langserver.Client) (interface{}, error)

type callResult struct {
	value interface{}
	err   error
}

type call struct {
	ctx  context.Context
	fn   Handler
	done chan callResult
}

func (c *call) finish(value interface{}, err error) {
	// Buffered channel; the waiter may have abandoned the call already.
	select {
	case c.done <- callResult{value: value, err: err}:
	default:
	}
}

// Session owns one language-server client for one workspace root. All calls
// are serialized through a single worker goroutine in strict arrival order.
type Session struct {
	workspace entity.Workspace
	client    langserver.Client
	logger    *zap.SugaredLogger
	clock     clock.Clock

	queue  chan *call
	closed chan struct{}
	failed chan struct{}

	closeOnce sync.Once
	failOnce  sync.Once
	wg        sync.WaitGroup

	mu           sync.Mutex
	state        entity.SessionState
	lastActivity time.Time
	startedAt    time.Time

	// onTerminate is invoked once when the session ends on its own
	// (connection loss), so the manager can drop it from the mapping.
	onTerminate func(s *Session)
}

func newSession(workspace entity.Workspace, client langserver.Client, logger *zap.SugaredLogger, clk clock.Clock, queueCapacity int, onTerminate func(*Session)) *Session {
	if queueCapacity < 1 {
		queueCapacity = 1
	}
	return &Session{
		workspace:   workspace,
		client:      client,
		logger:      logger.With("workspaceRoot", workspace.Root, "language", workspace.Language.Name),
		clock:       clk,
		queue:       make(chan *call, queueCapacity),
		closed:      make(chan struct{}),
		failed:      make(chan struct{}),
		state:       entity.StateStarting,
		onTerminate: onTerminate,
	}
}

// Start launches the underlying client and, on success, the serving worker.
func (s *Session) Start(ctx context.Context) error {
	if err := s.client.Start(ctx); err != nil {
		s.setState(entity.StateFailed)
		return err
	}

	now := s.clock.Now()
	s.mu.Lock()
	s.state = entity.StateReady
	s.lastActivity = now
	s.startedAt = now
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run()
	return nil
}

// Execute enqueues a call and waits for its outcome. Calls are served one at
// a time in arrival order. The context's deadline applies while queued and
// in flight.
func (s *Session) Execute(ctx context.Context, fn Handler) (interface{}, error) {
	if state := s.State(); state.Terminal() || state == entity.StateTerminating {
		if state == entity.StateFailed {
			return nil, errors.Wrap(errors.KindProtocol, s.client.Err(), "language server connection lost")
		}
		return nil, errors.E(errors.KindCancelled, "session for %s is %s", s.workspace.Root, state)
	}

	c := &call{ctx: ctx, fn: fn, done: make(chan callResult, 1)}

	s.touch()
	select {
	case s.queue <- c:
	case <-s.closed:
		return nil, errors.E(errors.KindCancelled, "session shutting down")
	case <-s.failed:
		return nil, errors.Wrap(errors.KindProtocol, s.client.Err(), "language server connection lost")
	case <-ctx.Done():
		return nil, outcomeFromContext(ctx)
	}

	select {
	case res := <-c.done:
		return res.value, res.err
	case <-ctx.Done():
		// The worker observes the same context and abandons the call.
		return nil, outcomeFromContext(ctx)
	case <-s.closed:
		// The worker may have finished this call just before shutdown, or
		// may have drained the queue before this call was enqueued.
		select {
		case res := <-c.done:
			return res.value, res.err
		default:
			return nil, errors.E(errors.KindCancelled, "session shutting down")
		}
	case <-s.failed:
		// The worker may have finished this call just before failing.
		select {
		case res := <-c.done:
			return res.value, res.err
		default:
			return nil, errors.Wrap(errors.KindProtocol, s.client.Err(), "language server connection lost")
		}
	}
}

// Shutdown cancels queued and in-flight calls and releases the client.
// Idempotent; the first caller performs the work, everyone gets nil.
func (s *Session) Shutdown(ctx context.Context) error {
	var closeErr error
	s.closeOnce.Do(func() {
		s.setState(entity.StateTerminating)
		close(s.closed)
		s.wg.Wait()
		closeErr = s.client.Close(ctx)
		s.setState(entity.StateClosed)
		s.logger.Infow("session closed")
	})
	return closeErr
}

// Idle reports whether the session has been quiet for longer than the window.
func (s *Session) Idle(now time.Time, window time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == entity.StateReady &&
		len(s.queue) == 0 &&
		now.Sub(s.lastActivity) > window
}

// State returns the current lifecycle state.
func (s *Session) State() entity.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Workspace returns the workspace this session serves.
func (s *Session) Workspace() entity.Workspace {
	return s.workspace
}

// Info returns a snapshot for the admin surface.
func (s *Session) Info(now time.Time) model.SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return model.SessionInfo{
		WorkspaceRoot: s.workspace.Root,
		Language:      s.workspace.Language.Name,
		State:         s.state.String(),
		IdleSeconds:   now.Sub(s.lastActivity).Seconds(),
		QueueDepth:    len(s.queue),
		StartedAt:     s.startedAt,
	}
}

// run is the session worker: it drains the call queue strictly in order,
// one call at a time, until shutdown or connection loss.
func (s *Session) run() {
	defer s.wg.Done()

	for {
		select {
		case <-s.closed:
			s.drain(errors.E(errors.KindCancelled, "session shutting down"))
			return

		case <-s.client.Done():
			s.fail()
			return

		case c := <-s.queue:
			// Shutdown may have raced this dequeue; queued work must be
			// rejected with Cancelled, never served.
			if s.isShuttingDown() {
				c.finish(nil, errors.E(errors.KindCancelled, "session shutting down"))
				continue
			}
			if c.ctx.Err() != nil {
				c.finish(nil, outcomeFromContext(c.ctx))
				continue
			}
			s.serve(c)
			if s.State() == entity.StateFailed {
				return
			}
		}
	}
}

// serve runs a single call while the session is Busy.
func (s *Session) serve(c *call) {
	s.setState(entity.StateBusy)

	// The call's context is additionally bound to session shutdown so an
	// in-flight call does not outlive the session.
	runCtx, cancel := context.WithCancel(c.ctx)
	stop := make(chan struct{})
	go func() {
		select {
		case <-s.closed:
			cancel()
		case <-stop:
		}
	}()

	value, err := c.fn(runCtx, s.client)
	close(stop)
	cancel()

	switch {
	case err == nil:
		s.setState(entity.StateReady)
		s.touch()
		c.finish(value, nil)

	case c.ctx.Err() != nil:
		// Deadline or caller cancellation; the session itself is fine.
		s.setState(entity.StateReady)
		s.touch()
		c.finish(nil, outcomeFromContext(c.ctx))

	case s.isShuttingDown():
		c.finish(nil, errors.E(errors.KindCancelled, "session shutting down"))

	case s.connectionLost():
		c.finish(nil, errors.Wrap(errors.KindProtocol, s.client.Err(), "language server connection lost"))
		s.fail()

	default:
		// The call failed but the connection held; surface as a protocol
		// error for this call only.
		s.setState(entity.StateReady)
		s.touch()
		c.finish(nil, errors.Wrap(errors.KindProtocol, err, "language server call failed"))
	}
}

// fail marks the session failed, rejects queued work, and notifies the
// manager for removal.
func (s *Session) fail() {
	s.failOnce.Do(func() {
		s.setState(entity.StateFailed)
		cause := s.client.Err()
		s.logger.Warnw("session failed", "error", cause)
		close(s.failed)
		s.drain(errors.Wrap(errors.KindProtocol, cause, "language server connection lost"))
		if s.onTerminate != nil {
			s.onTerminate(s)
		}
	})
}

// drain rejects everything still queued with the given error.
func (s *Session) drain(err error) {
	for {
		select {
		case c := <-s.queue:
			c.finish(nil, err)
		default:
			return
		}
	}
}

func (s *Session) setState(state entity.SessionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Terminal states are sticky; Closed in particular must not regress.
	if s.state == entity.StateClosed {
		return
	}
	s.state = state
}

func (s *Session) touch() {
	now := s.clock.Now()
	s.mu.Lock()
	s.lastActivity = now
	s.mu.Unlock()
}

func (s *Session) isShuttingDown() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

func (s *Session) connectionLost() bool {
	select {
	case <-s.client.Done():
		return true
	default:
		return false
	}
}

// outcomeFromContext maps context termination to the per-call error kinds.
func outcomeFromContext(ctx context.Context) error {
	if ctx.Err() == context.DeadlineExceeded {
		return errors.Wrap(errors.KindTimeout, ctx.Err(), "call deadline exceeded")
	}
	return errors.Wrap(errors.KindCancelled, ctx.Err(), "call cancelled")
}
