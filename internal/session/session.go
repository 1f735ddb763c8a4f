// Package session implements the Session Runtime (C3, spec.md §4.3)
// and Admission & Locking (C8, spec.md §4.8). Each Session is owned
// by exactly one goroutine that drains an inbox of closures in FIFO
// order — the "owner task" the concurrency model (spec.md §5)
// requires as the sole writer of session state and sole issuer of SSH
// operations. Grounded on the single-writer-per-entity shape the
// teacher uses for its agent supervisors, generalized here to a
// closure-based inbox since the domain has no existing mailbox type
// to adapt.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/huntrelay/huntrelay/internal/apperr"
	"github.com/huntrelay/huntrelay/internal/clock"
	"github.com/huntrelay/huntrelay/internal/domain"
	"github.com/huntrelay/huntrelay/internal/eventbus"
	"github.com/huntrelay/huntrelay/internal/ids"
	"github.com/huntrelay/huntrelay/internal/sshconn"
	"github.com/huntrelay/huntrelay/internal/vault"
)

// maxReconnectAttempts bounds DISCONNECTED's auto-retry per spec.md §4.3.
const maxReconnectAttempts = 3

// Dialer abstracts sshconn.Connect so tests can substitute a fake
// connection without a real network dial.
type Dialer interface {
	Connect(ctx context.Context, asset domain.Asset, cred vault.Credential, opts sshconn.Options) (*sshconn.Connection, error)
}

type realDialer struct{ opts sshconn.Options }

func (d realDialer) Connect(ctx context.Context, asset domain.Asset, cred vault.Credential, opts sshconn.Options) (*sshconn.Connection, error) {
	return sshconn.Connect(ctx, asset, cred, opts)
}

// task is a unit of work processed by the owner goroutine, in FIFO
// order, with nothing else touching Runtime's mutable fields.
type task func(*Runtime)

// Runtime is one live Session and its owner goroutine.
type Runtime struct {
	id        ids.SessionID
	asset     domain.Asset
	analystID ids.AnalystID
	bus       *eventbus.Bus
	clock     clock.Clock
	dialer    Dialer
	vaultStore *vault.Store
	sshOpts   sshconn.Options

	inbox chan task
	done  chan struct{}

	// Owner-exclusive fields; never touched outside a task.
	state       domain.SessionState
	mode        domain.SessionMode
	lockedBy    ids.AnalystID
	conn        *sshconn.Connection
	reconnects  int
	pendingMode domain.SessionMode // queued mode toggle, applied at the next step boundary
	hasPending  bool
}

// New constructs a Runtime in INITIALIZING state and starts its owner
// goroutine. Call Open to begin connecting.
func New(id ids.SessionID, asset domain.Asset, analystID ids.AnalystID, bus *eventbus.Bus, c clock.Clock, vaultStore *vault.Store, sshOpts sshconn.Options) *Runtime {
	r := &Runtime{
		id:         id,
		asset:      asset,
		analystID:  analystID,
		bus:        bus,
		clock:      c,
		dialer:     realDialer{},
		vaultStore: vaultStore,
		sshOpts:    sshOpts,
		inbox:      make(chan task, 64),
		done:       make(chan struct{}),
		state:      domain.StateInitializing,
	}
	go r.run()
	return r
}

func (r *Runtime) run() {
	defer close(r.done)
	for t := range r.inbox {
		t(r)
	}
}

// submit enqueues t and blocks until the owner goroutine has run it.
func (r *Runtime) submit(t func(*Runtime)) {
	result := make(chan struct{})
	r.inbox <- func(rt *Runtime) {
		t(rt)
		close(result)
	}
	<-result
}

func (r *Runtime) setState(s domain.SessionState) {
	r.state = s
	_ = r.bus.Publish(context.Background(), eventbus.Event{
		Kind: eventbus.KindSessionState,
		Room: eventbus.Room("session:" + r.id.String()),
		Payload: sessionStatePayload{SessionID: r.id, State: s},
	})
}

type sessionStatePayload struct {
	SessionID ids.SessionID
	State     domain.SessionState
}

// State returns the current state. Safe to call from any goroutine;
// it's a point-in-time snapshot request routed through the inbox so
// it never races the owner.
func (r *Runtime) State() domain.SessionState {
	var s domain.SessionState
	r.submit(func(rt *Runtime) { s = rt.state })
	return s
}

// Open begins connecting: INITIALIZING --open--> CONNECTING, then
// dials SSH; on success CONNECTING --ssh.connected--> CONNECTED, on
// failure --ssh.error--> FAILED.
func (r *Runtime) Open(ctx context.Context) error {
	var outErr error
	r.submit(func(rt *Runtime) {
		if rt.state != domain.StateInitializing {
			outErr = apperr.New(apperr.Invariant, "session: Open called from state %s", rt.state)
			return
		}
		rt.setState(domain.StateConnecting)

		cred, err := rt.vaultStore.Get(rt.asset.ID)
		if err != nil {
			rt.setState(domain.StateFailed)
			outErr = apperr.New(apperr.VaultUnavailable, "session: fetching credential: %v", err)
			return
		}
		defer cred.Close()

		conn, err := rt.dialer.Connect(ctx, rt.asset, cred, rt.sshOpts)
		if err != nil {
			rt.setState(domain.StateFailed)
			outErr = err
			return
		}
		rt.conn = conn
		rt.setState(domain.StateConnected)
	})
	return outErr
}

// EnterMode transitions CONNECTED --enter_mode--> RUNNING.
func (r *Runtime) EnterMode(mode domain.SessionMode) error {
	var outErr error
	r.submit(func(rt *Runtime) {
		if rt.state != domain.StateConnected {
			outErr = apperr.New(apperr.Conflict, "session: enter_mode requires CONNECTED, got %s", rt.state)
			return
		}
		rt.mode = mode
		rt.setState(domain.StateRunning)
	})
	return outErr
}

// Lock transitions RUNNING --lock(by)--> LOCKED.
func (r *Runtime) Lock(by ids.AnalystID) error {
	var outErr error
	r.submit(func(rt *Runtime) {
		if rt.state != domain.StateRunning {
			outErr = apperr.New(apperr.Conflict, "session: lock requires RUNNING, got %s", rt.state)
			return
		}
		rt.lockedBy = by
		rt.setState(domain.StateLocked)
	})
	return outErr
}

// Unlock transitions LOCKED --unlock--> RUNNING. Only honored from
// the locker; idempotent if already unlocked.
func (r *Runtime) Unlock(by ids.AnalystID) error {
	var outErr error
	r.submit(func(rt *Runtime) {
		if rt.state != domain.StateLocked {
			return // idempotent: already unlocked
		}
		if rt.lockedBy != by {
			outErr = apperr.Lockedf("session: only %s may unlock this session", rt.lockedBy)
			return
		}
		rt.lockedBy = ""
		rt.setState(domain.StateRunning)
	})
	return outErr
}

// Pause transitions RUNNING --pause--> PAUSED.
func (r *Runtime) Pause() error {
	var outErr error
	r.submit(func(rt *Runtime) {
		if rt.state != domain.StateRunning {
			outErr = apperr.New(apperr.Conflict, "session: pause requires RUNNING, got %s", rt.state)
			return
		}
		rt.setState(domain.StatePaused)
	})
	return outErr
}

// Resume transitions PAUSED --resume--> RUNNING.
func (r *Runtime) Resume() error {
	var outErr error
	r.submit(func(rt *Runtime) {
		if rt.state != domain.StatePaused {
			outErr = apperr.New(apperr.Conflict, "session: resume requires PAUSED, got %s", rt.state)
			return
		}
		rt.setState(domain.StateRunning)
	})
	return outErr
}

// NotifyDisconnected handles an unexpected channel death. RUNNING
// --ssh.disconnected--> DISCONNECTED, then auto-retries up to
// maxReconnectAttempts times before giving up to FAILED. sshconn runs
// no connection monitor, so nothing in this repository calls it.
func (r *Runtime) NotifyDisconnected(ctx context.Context) {
	r.submit(func(rt *Runtime) {
		if rt.state == domain.StateTerminated || rt.state == domain.StateFailed {
			return
		}
		rt.setState(domain.StateDisconnected)
	})
	r.reconnectLoop(ctx)
}

func (r *Runtime) reconnectLoop(ctx context.Context) {
	for {
		var shouldRetry bool
		r.submit(func(rt *Runtime) {
			if rt.state != domain.StateDisconnected {
				shouldRetry = false
				return
			}
			rt.reconnects++
			shouldRetry = rt.reconnects <= maxReconnectAttempts
			if shouldRetry {
				rt.setState(domain.StateConnecting)
			} else {
				rt.setState(domain.StateFailed)
			}
		})
		if !shouldRetry {
			return
		}

		var cred vault.Credential
		var err error
		r.submit(func(rt *Runtime) {
			cred, err = rt.vaultStore.Get(rt.asset.ID)
		})
		if err != nil {
			r.submit(func(rt *Runtime) { rt.setState(domain.StateFailed) })
			return
		}

		conn, dialErr := r.dialer.Connect(ctx, r.asset, cred, r.sshOpts)
		cred.Close()

		var reconnected bool
		r.submit(func(rt *Runtime) {
			if rt.state != domain.StateConnecting {
				reconnected = false
				return
			}
			if dialErr != nil {
				rt.setState(domain.StateDisconnected)
				reconnected = false
				return
			}
			rt.conn = conn
			rt.reconnects = 0
			rt.setState(domain.StateConnected)
			reconnected = true
		})
		if reconnected {
			return
		}
	}
}

// Close transitions any non-terminal state --close--> TERMINATED,
// closes the SSH connection, and stops the owner goroutine.
func (r *Runtime) Close() error {
	r.submit(func(rt *Runtime) {
		if rt.state == domain.StateTerminated {
			return
		}
		if rt.conn != nil {
			rt.conn.Close()
		}
		rt.setState(domain.StateTerminated)
	})
	close(r.inbox)
	<-r.done
	return nil
}

// checkWriter enforces the per-session lock (spec.md §4.8): writer
// operations from anyone other than the locker fail with Locked while
// the lock is held.
func (r *Runtime) checkWriter(by ids.AnalystID) error {
	if r.lockedBy != "" && r.lockedBy != by {
		return apperr.Lockedf("session: locked by %s", r.lockedBy)
	}
	return nil
}

// WithConnection runs fn with exclusive access to the session's SSH
// connection, serialized on the owner goroutine alongside every other
// session operation — this is how the Hunt Scheduler executes steps
// without a second writer ever touching the SSH channel (spec.md §5:
// "SSH client is private to the owner").
func (r *Runtime) WithConnection(by ids.AnalystID, fn func(conn *sshconn.Connection) error) error {
	var outErr error
	r.submit(func(rt *Runtime) {
		if err := rt.checkWriter(by); err != nil {
			outErr = err
			return
		}
		if rt.state != domain.StateRunning && rt.state != domain.StateLocked {
			outErr = apperr.New(apperr.Conflict, "session: writer op requires RUNNING or LOCKED, got %s", rt.state)
			return
		}
		if rt.conn == nil {
			outErr = apperr.New(apperr.ChannelClosed, "session: no SSH connection")
			return
		}
		outErr = fn(rt.conn)
	})
	return outErr
}

// ToggleMode queues a mode change, applied at the next step boundary
// (spec.md §4.3: "toggling mode while a hunt step is in flight is
// queued and applied at step boundary"). ApplyPendingMode is called by
// the Hunt Scheduler between steps.
func (r *Runtime) ToggleMode(mode domain.SessionMode) {
	r.submit(func(rt *Runtime) {
		rt.pendingMode = mode
		rt.hasPending = true
	})
}

// ApplyPendingMode applies a queued mode toggle if one is pending,
// publishing session.mode_changed only once the gate has actually
// moved, per spec.md §4.3.
func (r *Runtime) ApplyPendingMode() {
	r.submit(func(rt *Runtime) {
		if !rt.hasPending {
			return
		}
		rt.mode = rt.pendingMode
		rt.hasPending = false
		_ = rt.bus.Publish(context.Background(), eventbus.Event{
			Kind: eventbus.KindSessionState,
			Room: eventbus.Room("session:" + rt.id.String()),
			Payload: fmt.Sprintf("mode_changed:%s", rt.mode),
			At:   time.Now(),
		})
	})
}

// ID returns the session's identifier.
func (r *Runtime) ID() ids.SessionID { return r.id }

// AssetID returns the asset this session is attached to.
func (r *Runtime) AssetID() ids.AssetID { return r.asset.ID }

// AnalystID returns the analyst this session belongs to.
func (r *Runtime) AnalystID() ids.AnalystID { return r.analystID }

// Mode returns the session's current SSH channel mode. Safe to call
// from any goroutine; routed through the inbox like State().
func (r *Runtime) Mode() domain.SessionMode {
	var m domain.SessionMode
	r.submit(func(rt *Runtime) { m = rt.mode })
	return m
}
