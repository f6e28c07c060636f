package session

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/conceptd/internal/logging"
	"github.com/fyrsmithlabs/conceptd/internal/pipeline"
	"github.com/fyrsmithlabs/conceptd/internal/transport"
)

// Manager runs one Driver per active session. Sessions share nothing but
// the collaborators in Deps.
type Manager struct {
	deps     Deps
	settings Settings
	logger   *logging.Logger

	mu       sync.Mutex
	active   map[string]*Driver
	sessions errgroup.Group
}

// NewManager creates a manager.
func NewManager(deps Deps, settings Settings) *Manager {
	logger := deps.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Manager{
		deps:     deps,
		settings: settings,
		logger:   logger,
		active:   make(map[string]*Driver),
	}
}

// Join starts driving sessionID. It returns false when the session is
// already active.
func (m *Manager) Join(ctx context.Context, sessionID string) bool {
	m.mu.Lock()
	if _, ok := m.active[sessionID]; ok {
		m.mu.Unlock()
		return false
	}
	d := NewDriver(sessionID, m.deps, m.settings)
	m.active[sessionID] = d
	m.mu.Unlock()

	m.sessions.Go(func() error {
		defer m.remove(sessionID)
		if err := d.Run(ctx); err != nil {
			m.logger.Error(logging.WithSessionID(ctx, sessionID), "session failed", zap.Error(err))
		}
		return nil
	})
	return true
}

func (m *Manager) remove(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.active, sessionID)
}

// Run joins the given sessions, then every session the discoverer
// announces, until ctx is done. It returns once all sessions have ended.
// discoverer may be nil.
func (m *Manager) Run(ctx context.Context, sessionIDs []string, discoverer transport.Discoverer) error {
	for _, id := range sessionIDs {
		m.Join(ctx, id)
	}

	var announced <-chan string
	if discoverer != nil {
		ch, err := discoverer.Discover(ctx)
		if err != nil {
			m.Wait()
			return fmt.Errorf("session discovery: %w", err)
		}
		announced = ch
		m.logger.Info(ctx, "listening for new sessions")
	}

	for announced != nil {
		select {
		case <-ctx.Done():
			announced = nil
		case id, ok := <-announced:
			if !ok {
				announced = nil
				continue
			}
			if m.Join(ctx, id) {
				m.logger.Info(logging.WithSessionID(ctx, id), "session announced")
			}
		}
	}

	m.Wait()
	return nil
}

// Wait blocks until every started session has ended.
func (m *Manager) Wait() {
	_ = m.sessions.Wait()
}

// Stats returns counters for every active session, ordered by id.
func (m *Manager) Stats() []pipeline.Stats {
	m.mu.Lock()
	drivers := make([]*Driver, 0, len(m.active))
	for _, d := range m.active {
		drivers = append(drivers, d)
	}
	m.mu.Unlock()

	stats := make([]pipeline.Stats, len(drivers))
	for i, d := range drivers {
		stats[i] = d.Stats()
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].SessionID < stats[j].SessionID })
	return stats
}
