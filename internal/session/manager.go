package session

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/barrysci/stationtest-backend/internal/model"
)

// Manager holds one live Controller per (identity, test) attempt. It is the
// single entry point handlers use, so two transports (REST and the event
// stream) always observe the same state machine.
type Manager struct {
	store     Store
	source    QuestionSource
	submitter Submitter
	journal   Journal
	cfg       Config
	log       zerolog.Logger

	mu          sync.Mutex
	controllers map[string]*Controller
}

// NewManager creates a Manager. journal may be nil to disable result
// journaling.
func NewManager(store Store, source QuestionSource, submitter Submitter, journal Journal, cfg Config, log zerolog.Logger) *Manager {
	return &Manager{
		store:       store,
		source:      source,
		submitter:   submitter,
		journal:     journal,
		cfg:         cfg,
		log:         log.With().Str("component", "session_manager").Logger(),
		controllers: make(map[string]*Controller),
	}
}

// Begin starts or resumes the attempt for this identity and test. When a
// live controller already exists (a reload while the process kept state),
// its current snapshot is returned instead of re-running the transition.
func (m *Manager) Begin(ctx context.Context, identity string, creds model.Credentials) (*Snapshot, error) {
	key := attemptKey(identity, creds.Test)

	m.mu.Lock()
	if ctrl, ok := m.controllers[key]; ok {
		m.mu.Unlock()
		return ctrl.Snapshot(), nil
	}

	ctrl := NewController(identity, creds, m.store, m.source, m.submitter, m.journal, m.cfg, m.log)
	ctrl.onDone = func() { m.remove(key, ctrl) }
	m.controllers[key] = ctrl
	m.mu.Unlock()

	snap, err := ctrl.Begin(ctx)
	if err != nil {
		m.remove(key, ctrl)
		return nil, err
	}
	return snap, nil
}

// Get returns the live controller for an attempt, if any.
func (m *Manager) Get(identity, testName string) (*Controller, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ctrl, ok := m.controllers[attemptKey(identity, testName)]
	return ctrl, ok
}

// Shutdown closes every live controller, persisting active attempts so a
// restarted process can resume them from the store.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	controllers := make([]*Controller, 0, len(m.controllers))
	for _, ctrl := range m.controllers {
		controllers = append(controllers, ctrl)
	}
	m.controllers = make(map[string]*Controller)
	m.mu.Unlock()

	for _, ctrl := range controllers {
		ctrl.Close(ctx)
	}
	m.log.Info().Int("count", len(controllers)).Msg("Session manager shut down")
}

func (m *Manager) remove(key string, ctrl *Controller) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if current, ok := m.controllers[key]; ok && current == ctrl {
		delete(m.controllers, key)
	}
}

func attemptKey(identity, testName string) string {
	return identity + "|" + testName
}
