package hunt

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/huntrelay/huntrelay/internal/ai"
	"github.com/huntrelay/huntrelay/internal/clock"
	"github.com/huntrelay/huntrelay/internal/domain"
	"github.com/huntrelay/huntrelay/internal/eventbus"
	"github.com/huntrelay/huntrelay/internal/ids"
	"github.com/huntrelay/huntrelay/internal/secret"
	"github.com/huntrelay/huntrelay/internal/sshconn"
	"github.com/huntrelay/huntrelay/internal/sshconn/testserver"
	"github.com/huntrelay/huntrelay/internal/vault"
)

// fakeSession is the minimal SessionHandle backed by a real SSH
// connection to an in-process testserver.Server, so Scheduler.Run
// exercises the genuine exec path rather than a stubbed one.
type fakeSession struct {
	conn    *sshconn.Connection
	assetID ids.AssetID
}

func (f *fakeSession) WithConnection(by ids.AnalystID, fn func(conn *sshconn.Connection) error) error {
	return fn(f.conn)
}
func (f *fakeSession) ApplyPendingMode()    {}
func (f *fakeSession) AssetID() ids.AssetID { return f.assetID }

func newFakeSession(t *testing.T, handle testserver.Handler) (*fakeSession, domain.Asset) {
	t.Helper()
	srv, err := testserver.New("operator", "hunter2", handle)
	if err != nil {
		t.Fatalf("testserver.New: %v", err)
	}
	t.Cleanup(func() { srv.Close() })

	host, portStr, err := net.SplitHostPort(srv.Addr)
	if err != nil {
		t.Fatalf("split addr: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parse port: %v", err)
	}
	asset := domain.Asset{ID: ids.NewAssetID(), IP: host, SSHPort: port, Username: "operator", OS: domain.OSLinux}

	password, err := secret.NewFromBytes([]byte("hunter2"))
	if err != nil {
		t.Fatalf("secret.NewFromBytes: %v", err)
	}
	conn, err := sshconn.Connect(context.Background(), asset, vault.Credential{Kind: vault.AuthPassword, Password: password}, sshconn.Options{
		DialTimeout: 2 * time.Second, ReconnectAttempts: 1, MaxOutputBuffer: 4096, Clock: clock.Real(),
	})
	if err != nil {
		t.Fatalf("sshconn.Connect: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	return &fakeSession{conn: conn, assetID: asset.ID}, asset
}

func testModule() domain.HuntModule {
	return domain.HuntModule{
		ID:      ids.HuntModuleID("test-module"),
		Name:    "Test Module",
		OSTypes: []domain.OSTag{domain.OSLinux},
		Steps: []domain.Step{
			{ID: "step1", Description: "first", Command: "whoami", TimeoutSeconds: 5},
			{ID: "step2", Description: "second", Command: "hostname", TimeoutSeconds: 5},
		},
	}
}

func TestSchedulerRunsStepsInOrder(t *testing.T) {
	var executed []string
	session, asset := newFakeSession(t, func(command string) (string, string, int) {
		executed = append(executed, command)
		return "output for " + command, "", 0
	})

	bus := eventbus.New(16)
	sched := NewScheduler(bus, clock.Real(), nil, nil, ai.ContextBudget{})

	result, err := sched.Run(context.Background(), ids.NewHuntID(), ids.NewSessionID(), session, ids.AnalystID("analyst-1"), testModule(), asset, false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Status != domain.HuntCompleted {
		t.Fatalf("expected HuntCompleted, got %s", result.Status)
	}
	if len(executed) != 2 || executed[0] != "whoami" || executed[1] != "hostname" {
		t.Fatalf("steps did not run in order: %v", executed)
	}
}

func TestSchedulerRejectsIncompatibleOS(t *testing.T) {
	bus := eventbus.New(16)
	sched := NewScheduler(bus, clock.Real(), nil, nil, ai.ContextBudget{})

	module := testModule()
	module.OSTypes = []domain.OSTag{domain.OSWindows}
	asset := domain.Asset{ID: ids.NewAssetID(), OS: domain.OSLinux}

	_, err := sched.Run(context.Background(), ids.NewHuntID(), ids.NewSessionID(), nil, ids.AnalystID("analyst-1"), module, asset, false)
	if err == nil {
		t.Fatalf("expected an incompatible-OS error")
	}
}

func TestSchedulerRejectsConcurrentHuntOnSameSession(t *testing.T) {
	blockCmd := make(chan struct{})
	session, asset := newFakeSession(t, func(command string) (string, string, int) {
		<-blockCmd
		return "", "", 0
	})

	bus := eventbus.New(16)
	sched := NewScheduler(bus, clock.Real(), nil, nil, ai.ContextBudget{})
	sessionID := ids.NewSessionID()

	done := make(chan error, 1)
	go func() {
		_, err := sched.Run(context.Background(), ids.NewHuntID(), sessionID, session, ids.AnalystID("analyst-1"), testModule(), asset, false)
		done <- err
	}()

	// Give the first hunt time to mark the session busy.
	time.Sleep(50 * time.Millisecond)
	_, err := sched.Run(context.Background(), ids.NewHuntID(), sessionID, session, ids.AnalystID("analyst-1"), testModule(), asset, false)
	if err == nil {
		t.Fatalf("expected a busy error for a concurrent hunt on the same session")
	}

	close(blockCmd)
	if err := <-done; err != nil {
		t.Fatalf("first hunt should have completed without error: %v", err)
	}
}
