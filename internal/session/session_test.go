package session

import (
	"context"
	"testing"
	"time"

	"github.com/huntrelay/huntrelay/internal/clock"
	"github.com/huntrelay/huntrelay/internal/domain"
	"github.com/huntrelay/huntrelay/internal/eventbus"
	"github.com/huntrelay/huntrelay/internal/ids"
	"github.com/huntrelay/huntrelay/internal/sshconn"
	"github.com/huntrelay/huntrelay/internal/vault"
)

// fakeDialer satisfies Dialer without touching the network.
type fakeDialer struct {
	fail bool
}

func (f *fakeDialer) Connect(ctx context.Context, asset domain.Asset, cred vault.Credential, opts sshconn.Options) (*sshconn.Connection, error) {
	if f.fail {
		return nil, context.DeadlineExceeded
	}
	return &sshconn.Connection{}, nil
}

func TestSessionStateMachineHappyPath(t *testing.T) {
	bus := eventbus.New(16)
	asset := domain.Asset{ID: ids.NewAssetID(), Username: "root", IP: "10.0.0.1", SSHPort: 22}
	rt := &Runtime{
		id:      ids.NewSessionID(),
		asset:   asset,
		bus:     bus,
		clock:   clock.Real(),
		dialer:  &fakeDialer{},
		sshOpts: sshconn.Options{},
		inbox:   make(chan task, 8),
		done:    make(chan struct{}),
		state:   domain.StateInitializing,
	}
	go rt.run()
	defer rt.Close()

	// Skip Open (requires a vault); drive the rest of the machine directly.
	rt.submit(func(r *Runtime) { r.setState(domain.StateConnected) })
	if err := rt.EnterMode(domain.ModeInteractive); err != nil {
		t.Fatalf("EnterMode: %v", err)
	}
	if got := rt.State(); got != domain.StateRunning {
		t.Fatalf("expected RUNNING, got %s", got)
	}

	if err := rt.Lock(ids.AnalystID("a1")); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	if got := rt.State(); got != domain.StateLocked {
		t.Fatalf("expected LOCKED, got %s", got)
	}

	if err := rt.Unlock(ids.AnalystID("someone-else")); err == nil {
		t.Fatalf("expected Unlock by non-locker to fail")
	}
	if err := rt.Unlock(ids.AnalystID("a1")); err != nil {
		t.Fatalf("Unlock by locker: %v", err)
	}
	if got := rt.State(); got != domain.StateRunning {
		t.Fatalf("expected RUNNING after unlock, got %s", got)
	}
}

func TestWithConnectionRespectsLock(t *testing.T) {
	bus := eventbus.New(16)
	asset := domain.Asset{ID: ids.NewAssetID()}
	rt := &Runtime{
		id:    ids.NewSessionID(),
		asset: asset,
		bus:   bus,
		clock: clock.Real(),
		inbox: make(chan task, 8),
		done:  make(chan struct{}),
		state: domain.StateRunning,
		conn:  &sshconn.Connection{},
	}
	go rt.run()
	defer rt.Close()

	if err := rt.Lock(ids.AnalystID("locker")); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	rt.submit(func(r *Runtime) { r.state = domain.StateRunning; r.lockedBy = ids.AnalystID("locker") })

	err := rt.WithConnection(ids.AnalystID("not-locker"), func(conn *sshconn.Connection) error { return nil })
	if err == nil {
		t.Fatalf("expected Locked error for non-locker writer op")
	}

	called := false
	err = rt.WithConnection(ids.AnalystID("locker"), func(conn *sshconn.Connection) error { called = true; return nil })
	if err != nil {
		t.Fatalf("expected locker's op to succeed: %v", err)
	}
	if !called {
		t.Fatalf("expected fn to be invoked")
	}
}

func TestManagerDedupsByAnalystAndAsset(t *testing.T) {
	bus := eventbus.New(16)
	c := clock.Fake(time.Now())
	mgr := NewManager(bus, c, nil, sshconn.Options{})

	asset := domain.Asset{ID: ids.NewAssetID(), Username: "root", IP: "10.0.0.1", SSHPort: 22}
	analyst := ids.AnalystID("a1")

	// CreateSession with a nil vault will fail Open; register manually
	// to exercise dedup without a full Open/EnterMode round trip.
	id := ids.NewSessionID()
	rt := New(id, asset, analyst, bus, c, nil, sshconn.Options{})
	defer rt.Close()

	mgr.mu.Lock()
	key := dedupKey{analyst: analyst, asset: asset.ID}
	mgr.byKey[key] = rt
	mgr.sessions[id] = rt
	mgr.lastSeen[id] = c.Now()
	mgr.mu.Unlock()

	got, ok := mgr.Get(id)
	if !ok || got != rt {
		t.Fatalf("expected Get to return the registered runtime")
	}

	deduped, err := mgr.CreateSession(context.Background(), asset, analyst, domain.ModeInteractive)
	if err != nil || deduped != rt {
		t.Fatalf("expected CreateSession to return the existing session for the same analyst and asset: %v", err)
	}
}
