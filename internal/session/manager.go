package session

import (
	"context"
	"sync"
	"time"

	"github.com/huntrelay/huntrelay/internal/clock"
	"github.com/huntrelay/huntrelay/internal/domain"
	"github.com/huntrelay/huntrelay/internal/eventbus"
	"github.com/huntrelay/huntrelay/internal/ids"
	"github.com/huntrelay/huntrelay/internal/sshconn"
	"github.com/huntrelay/huntrelay/internal/vault"
)

// dedupKey is (analyst, asset) — the admission dedup key from
// spec.md §4.8.
type dedupKey struct {
	analyst ids.AnalystID
	asset   ids.AssetID
}

// Manager implements Admission & Locking (C8): per-asset session
// dedup and the registry that the stale-session reaper sweeps.
// Grounded on spec.md §4.8 and §9's supplemented stale-session reaper
// feature (original_source kept a background sweep closing sessions
// whose owner task has been idle past a threshold; the distilled
// spec names the reaper's existence via the DISCONNECTED retry
// ladder but not its idle sweep, so this is a documented addition).
type Manager struct {
	mu       sync.Mutex
	byKey    map[dedupKey]*Runtime
	sessions map[ids.SessionID]*Runtime
	lastSeen map[ids.SessionID]time.Time

	bus        *eventbus.Bus
	clock      clock.Clock
	vaultStore *vault.Store
	sshOpts    sshconn.Options
}

// NewManager constructs an empty session registry.
func NewManager(bus *eventbus.Bus, c clock.Clock, vaultStore *vault.Store, sshOpts sshconn.Options) *Manager {
	return &Manager{
		byKey:      make(map[dedupKey]*Runtime),
		sessions:   make(map[ids.SessionID]*Runtime),
		lastSeen:   make(map[ids.SessionID]time.Time),
		bus:        bus,
		clock:      c,
		vaultStore: vaultStore,
		sshOpts:    sshOpts,
	}
}

// CreateSession returns the existing non-terminal session for
// (analyst, asset) if one exists (per-asset dedup, spec.md §4.8),
// else creates, registers, and opens a new one.
func (m *Manager) CreateSession(ctx context.Context, asset domain.Asset, analystID ids.AnalystID, mode domain.SessionMode) (*Runtime, error) {
	key := dedupKey{analyst: analystID, asset: asset.ID}

	m.mu.Lock()
	if existing, ok := m.byKey[key]; ok && existing.State() != domain.StateTerminated {
		m.lastSeen[existing.ID()] = m.clock.Now()
		m.mu.Unlock()
		return existing, nil
	}
	m.mu.Unlock()

	id := ids.NewSessionID()
	rt := New(id, asset, analystID, m.bus, m.clock, m.vaultStore, m.sshOpts)

	m.mu.Lock()
	m.byKey[key] = rt
	m.sessions[id] = rt
	m.lastSeen[id] = m.clock.Now()
	m.mu.Unlock()

	if err := rt.Open(ctx); err != nil {
		return rt, err
	}
	if err := rt.EnterMode(mode); err != nil {
		return rt, err
	}
	return rt, nil
}

// List returns every registered session.
func (m *Manager) List() []*Runtime {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Runtime, 0, len(m.sessions))
	for _, rt := range m.sessions {
		out = append(out, rt)
	}
	return out
}

// Get returns the session by ID, or false if absent.
func (m *Manager) Get(id ids.SessionID) (*Runtime, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rt, ok := m.sessions[id]
	return rt, ok
}

// Touch records recent activity on a session, resetting the stale
// reaper's idle clock.
func (m *Manager) Touch(id ids.SessionID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; ok {
		m.lastSeen[id] = m.clock.Now()
	}
}

// Terminate closes and deregisters a session.
func (m *Manager) Terminate(id ids.SessionID) error {
	m.mu.Lock()
	rt, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	delete(m.sessions, id)
	delete(m.lastSeen, id)
	for k, v := range m.byKey {
		if v == rt {
			delete(m.byKey, k)
		}
	}
	m.mu.Unlock()
	return rt.Close()
}

// ReapStale terminates every registered session that has been idle
// longer than maxIdle. Intended to run periodically from
// cmd/huntrelay-server's main loop.
func (m *Manager) ReapStale(maxIdle time.Duration) []ids.SessionID {
	now := m.clock.Now()

	m.mu.Lock()
	var stale []ids.SessionID
	for id, last := range m.lastSeen {
		if now.Sub(last) > maxIdle {
			stale = append(stale, id)
		}
	}
	m.mu.Unlock()

	for _, id := range stale {
		m.Terminate(id)
	}
	return stale
}

// Shutdown closes every registered session; used for graceful
// shutdown (spec.md §5: "all session owners receive close").
func (m *Manager) Shutdown() {
	m.mu.Lock()
	sessionIDs := make([]ids.SessionID, 0, len(m.sessions))
	for id := range m.sessions {
		sessionIDs = append(sessionIDs, id)
	}
	m.mu.Unlock()

	for _, id := range sessionIDs {
		m.Terminate(id)
	}
}
