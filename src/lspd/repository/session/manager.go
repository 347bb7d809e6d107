package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/lsp-cli/lspd/src/lspd/entity"
	"github.com/lsp-cli/lspd/src/lspd/gateway/langserver"
	"github.com/lsp-cli/lspd/src/lspd/internal/clock"
	"github.com/lsp-cli/lspd/src/lspd/internal/errors"
	"github.com/lsp-cli/lspd/src/lspd/model"
	tally "github.com/uber-go/tally"
	"go.uber.org/config"
	"go.uber.org/fx"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const _configKeySessions = "sessions"

// Module provides the session manager.
var Module = fx.Provide(NewManager)

// Options hold the session policy knobs, populated from the "sessions"
// config block. Zero values fall back to the defaults below.
type Options struct {
	IdleTimeoutSeconds   int64 `yaml:"idleTimeoutSeconds"`
	CallTimeoutSeconds   int64 `yaml:"callTimeoutSeconds"`
	SweepIntervalSeconds int64 `yaml:"sweepIntervalSeconds"`
	QueueCapacity        int   `yaml:"queueCapacity"`
	SpawnRetryBudget     int   `yaml:"spawnRetryBudget"`
	SpawnCooldownSeconds int64 `yaml:"spawnCooldownSeconds"`
}

const (
	_defaultIdleTimeout   = 300 * time.Second
	_defaultCallTimeout   = 30 * time.Second
	_defaultSweepInterval = 30 * time.Second
	_defaultQueueCapacity = 64
	_defaultRetryBudget   = 3
	_defaultSpawnCooldown = 60 * time.Second
)

// Manager maintains the workspace-root to session mapping. It is the only
// writer to that mapping and the single entry point for obtaining sessions.
type Manager interface {
	// GetOrCreate returns the session for the workspace, spawning it if
	// needed. Concurrent first access spawns exactly once.
	GetOrCreate(ctx context.Context, workspace entity.Workspace) (*Session, error)
	// EvictIdle shuts down every session past its idle window.
	EvictIdle(ctx context.Context)
	// ShutdownAll shuts down every session and waits for completion.
	ShutdownAll(ctx context.Context) error
	// Snapshot lists the current sessions for the admin surface.
	Snapshot(ctx context.Context) []model.SessionInfo
	// StopWorkspace shuts down the session for one root, if present.
	StopWorkspace(ctx context.Context, root string) (bool, error)
	// CallTimeout is the default per-call deadline.
	CallTimeout() time.Duration
}

// Params are inbound parameters to construct the manager.
type Params struct {
	fx.In

	Config    config.Provider
	Lifecycle fx.Lifecycle
	Logger    *zap.SugaredLogger
	Stats     tally.Scope
	Clock     clock.Clock
	Factory   langserver.Factory
}

type spawnHistory struct {
	failures int
	windowAt time.Time
}

type manager struct {
	logger  *zap.SugaredLogger
	stats   tally.Scope
	clock   clock.Clock
	factory langserver.Factory
	opts    Options

	idleTimeout   time.Duration
	callTimeout   time.Duration
	sweepInterval time.Duration
	spawnCooldown time.Duration

	mu       sync.Mutex
	sessions map[string]*Session
	failures map[string]*spawnHistory

	group singleflight.Group

	sweepStop chan struct{}
	sweepDone chan struct{}
}

// NewManager constructs the session manager and registers its lifecycle:
// the idle sweeper starts with the app and every session is shut down on
// teardown.
func NewManager(p Params) (Manager, error) {
	var opts Options
	if err := p.Config.Get(_configKeySessions).Populate(&opts); err != nil {
		return nil, err
	}

	m := &manager{
		logger:        p.Logger,
		stats:         p.Stats.SubScope("sessions"),
		clock:         p.Clock,
		factory:       p.Factory,
		opts:          opts,
		idleTimeout:   durationOrDefault(opts.IdleTimeoutSeconds, _defaultIdleTimeout),
		callTimeout:   durationOrDefault(opts.CallTimeoutSeconds, _defaultCallTimeout),
		sweepInterval: durationOrDefault(opts.SweepIntervalSeconds, _defaultSweepInterval),
		spawnCooldown: durationOrDefault(opts.SpawnCooldownSeconds, _defaultSpawnCooldown),
		sessions:      make(map[string]*Session),
		failures:      make(map[string]*spawnHistory),
		sweepStop:     make(chan struct{}),
		sweepDone:     make(chan struct{}),
	}
	if m.opts.QueueCapacity <= 0 {
		m.opts.QueueCapacity = _defaultQueueCapacity
	}
	if m.opts.SpawnRetryBudget <= 0 {
		m.opts.SpawnRetryBudget = _defaultRetryBudget
	}

	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go m.sweep()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			close(m.sweepStop)
			<-m.sweepDone
			return m.ShutdownAll(ctx)
		},
	})

	return m, nil
}

// GetOrCreate returns the live session for the workspace root, spawning one
// if absent. Spawning is single-flight per root; other roots are unaffected.
func (m *manager) GetOrCreate(ctx context.Context, workspace entity.Workspace) (*Session, error) {
	root := workspace.Root

	if s := m.lookup(root); s != nil {
		return s, nil
	}

	if remaining, cooling := m.inCooldown(root); cooling {
		return nil, errors.E(errors.KindClientUnavailable,
			"workspace %s is cooling down after repeated spawn failures (%s remaining)", root, remaining.Round(time.Second))
	}

	v, err, _ := m.group.Do(root, func() (interface{}, error) {
		// A prior flight may have published the session already.
		if s := m.lookup(root); s != nil {
			return s, nil
		}

		s := newSession(workspace, m.factory.New(workspace), m.logger, m.clock, m.opts.QueueCapacity, m.remove)

		m.logger.Infow("spawning language server", "workspaceRoot", root, "language", workspace.Language.Name)
		m.stats.Counter("spawns").Inc(1)
		if err := s.Start(ctx); err != nil {
			m.stats.Counter("spawn_failures").Inc(1)
			m.recordSpawnFailure(root)
			return nil, err
		}

		m.mu.Lock()
		m.sessions[root] = s
		delete(m.failures, root)
		m.stats.Gauge("active_sessions").Update(float64(len(m.sessions)))
		m.mu.Unlock()

		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Session), nil
}

// EvictIdle shuts down every session past the idle window.
func (m *manager) EvictIdle(ctx context.Context) {
	now := m.clock.Now()

	m.mu.Lock()
	idle := make([]*Session, 0)
	for root, s := range m.sessions {
		if s.Idle(now, m.idleTimeout) {
			idle = append(idle, s)
			delete(m.sessions, root)
		}
	}
	m.stats.Gauge("active_sessions").Update(float64(len(m.sessions)))
	m.mu.Unlock()

	for _, s := range idle {
		m.logger.Infow("evicting idle session", "workspaceRoot", s.Workspace().Root)
		m.stats.Counter("evictions").Inc(1)
		if err := s.Shutdown(ctx); err != nil {
			m.logger.Warnw("idle session shutdown", "workspaceRoot", s.Workspace().Root, "error", err)
		}
	}
}

// ShutdownAll shuts down every session concurrently and waits for all of
// them before returning.
func (m *manager) ShutdownAll(ctx context.Context) error {
	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.sessions = make(map[string]*Session)
	m.stats.Gauge("active_sessions").Update(0)
	m.mu.Unlock()

	var (
		wg    sync.WaitGroup
		errMu sync.Mutex
		errs  error
	)
	for _, s := range all {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			if err := s.Shutdown(ctx); err != nil {
				errMu.Lock()
				errs = multierr.Append(errs, err)
				errMu.Unlock()
			}
		}(s)
	}
	wg.Wait()

	if len(all) > 0 {
		m.logger.Infow("all sessions shut down", "count", len(all))
	}
	return errs
}

// Snapshot lists current sessions, ordered by workspace root.
func (m *manager) Snapshot(ctx context.Context) []model.SessionInfo {
	now := m.clock.Now()

	m.mu.Lock()
	infos := make([]model.SessionInfo, 0, len(m.sessions))
	for _, s := range m.sessions {
		infos = append(infos, s.Info(now))
	}
	m.mu.Unlock()

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].WorkspaceRoot < infos[j].WorkspaceRoot
	})
	return infos
}

// StopWorkspace shuts down the session for the given root, reporting
// whether one existed.
func (m *manager) StopWorkspace(ctx context.Context, root string) (bool, error) {
	m.mu.Lock()
	s, ok := m.sessions[root]
	if ok {
		delete(m.sessions, root)
		m.stats.Gauge("active_sessions").Update(float64(len(m.sessions)))
	}
	m.mu.Unlock()

	if !ok {
		return false, nil
	}
	return true, s.Shutdown(ctx)
}

// CallTimeout returns the default per-call deadline.
func (m *manager) CallTimeout() time.Duration {
	return m.callTimeout
}

// lookup returns the live session for a root, dropping terminal leftovers.
func (m *manager) lookup(root string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[root]
	if !ok {
		return nil
	}
	if s.State().Terminal() {
		delete(m.sessions, root)
		m.stats.Gauge("active_sessions").Update(float64(len(m.sessions)))
		return nil
	}
	return s
}

// remove drops a session that terminated on its own (connection loss).
func (m *manager) remove(s *Session) {
	root := s.Workspace().Root

	m.mu.Lock()
	if current, ok := m.sessions[root]; ok && current == s {
		delete(m.sessions, root)
		m.stats.Gauge("active_sessions").Update(float64(len(m.sessions)))
	}
	m.mu.Unlock()

	m.logger.Infow("session removed after connection loss", "workspaceRoot", root)
}

// recordSpawnFailure tracks repeated start failures per root. Exceeding the
// retry budget inside the cooldown window fails subsequent requests fast.
func (m *manager) recordSpawnFailure(root string) {
	now := m.clock.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	h := m.failures[root]
	if h == nil || now.Sub(h.windowAt) > m.spawnCooldown {
		h = &spawnHistory{windowAt: now}
		m.failures[root] = h
	}
	h.failures++
}

// inCooldown reports whether the root has exhausted its spawn retry budget
// within the cooldown window.
func (m *manager) inCooldown(root string) (time.Duration, bool) {
	now := m.clock.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	h := m.failures[root]
	if h == nil {
		return 0, false
	}
	if now.Sub(h.windowAt) > m.spawnCooldown {
		delete(m.failures, root)
		return 0, false
	}
	if h.failures < m.opts.SpawnRetryBudget {
		return 0, false
	}
	return m.spawnCooldown - now.Sub(h.windowAt), true
}

// sweep periodically evicts idle sessions until shutdown.
func (m *manager) sweep() {
	defer close(m.sweepDone)

	ticker := m.clock.NewTicker(m.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.sweepStop:
			return
		case <-ticker.C():
			m.EvictIdle(context.Background())
		}
	}
}

func durationOrDefault(seconds int64, fallback time.Duration) time.Duration {
	if seconds <= 0 {
		return fallback
	}
	return time.Duration(seconds) * time.Second
}
