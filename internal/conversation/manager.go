package conversation

import (
	"context"
	"fmt"
	"sync"

	"github.com/fitcoachhq/fitcoach-ai-platform/internal/rules"
	"github.com/fitcoachhq/fitcoach-ai-platform/pkg/logging"
)

// Manager hands out per-client sessions pinned to the rules version current
// at the time of each turn. A version bump in the store retires the client's
// session; the next turn runs on a fresh one with empty history.
type Manager struct {
	mu        sync.Mutex
	store     rules.Store
	llm       LLMClient
	histories *HistoryStore
	logger    *logging.Logger
	sessions  map[string]*Session
}

// NewManager creates a session manager. histories may be nil for deployments
// without Redis; sessions then live only in memory.
func NewManager(store rules.Store, llm LLMClient, histories *HistoryStore, logger *logging.Logger) *Manager {
	if store == nil {
		panic("conversation: rules store cannot be nil")
	}
	if llm == nil {
		panic("conversation: llm client cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Manager{
		store:     store,
		llm:       llm,
		histories: histories,
		logger:    logger,
		sessions:  make(map[string]*Session),
	}
}

// Session returns the client's current session, rebuilding it when the rules
// version has moved since the session was created.
func (m *Manager) Session(ctx context.Context, clientID string) (*Session, error) {
	snap, err := m.store.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("conversation: failed to load rules: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[clientID]; ok {
		if s.Version() == snap.Version {
			return s, nil
		}
		m.logger.Info("rules version changed, rebuilding session",
			"client_id", clientID, "old_version", s.Version(), "new_version", snap.Version)
	} else if m.histories != nil {
		// Cold start: restore state saved at this same rules version.
		state, err := m.histories.Load(ctx, clientID)
		if err != nil {
			m.logger.Warn("failed to restore session state", "error", err, "client_id", clientID)
		} else if state != nil && state.Version == snap.Version {
			s := newSessionFromState(m.llm, snap, *state, m.logger)
			m.sessions[clientID] = s
			return s, nil
		}
	}

	s := NewSession(m.llm, snap, m.logger)
	m.sessions[clientID] = s
	return s, nil
}

// SendMessage runs one turn for the client and mirrors the resulting state.
func (m *Manager) SendMessage(ctx context.Context, clientID, text string, audio *AudioPayload) (Turn, error) {
	s, err := m.Session(ctx, clientID)
	if err != nil {
		return Turn{}, err
	}

	turn, err := s.SendMessage(ctx, text, audio)
	if err != nil {
		return Turn{}, err
	}

	if m.histories != nil {
		if err := m.histories.Save(ctx, clientID, s.State()); err != nil {
			m.logger.Warn("failed to mirror session state", "error", err, "client_id", clientID)
		}
	}
	return turn, nil
}

// Reset clears the client's session and its mirrored state.
func (m *Manager) Reset(ctx context.Context, clientID string) error {
	s, err := m.Session(ctx, clientID)
	if err != nil {
		return err
	}
	s.Reset()

	if m.histories != nil {
		if err := m.histories.Delete(ctx, clientID); err != nil {
			m.logger.Warn("failed to delete mirrored session state", "error", err, "client_id", clientID)
		}
	}
	return nil
}
