package sshconn

import (
	"context"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/huntrelay/huntrelay/internal/clock"
	"github.com/huntrelay/huntrelay/internal/domain"
	"github.com/huntrelay/huntrelay/internal/secret"
	"github.com/huntrelay/huntrelay/internal/sshconn/testserver"
	"github.com/huntrelay/huntrelay/internal/vault"
)

func startTestServer(t *testing.T, handle testserver.Handler) (domain.Asset, string) {
	t.Helper()
	srv, err := testserver.New("operator", "hunter2", handle)
	if err != nil {
		t.Fatalf("testserver.New: %v", err)
	}
	t.Cleanup(func() { srv.Close() })

	host, portStr, err := net.SplitHostPort(srv.Addr)
	if err != nil {
		t.Fatalf("splitting test server addr: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parsing port: %v", err)
	}

	return domain.Asset{IP: host, SSHPort: port, Username: "operator"}, "hunter2"
}

func TestConnectAndExec(t *testing.T) {
	asset, password := startTestServer(t, func(command string) (string, string, int) {
		if strings.Contains(command, "fail") {
			return "", "boom\n", 1
		}
		return "ok: " + command + "\n", "", 0
	})

	passwordBuf, err := secret.NewFromBytes([]byte(password))
	if err != nil {
		t.Fatalf("secret.NewFromBytes: %v", err)
	}
	cred := vault.Credential{Kind: vault.AuthPassword, Password: passwordBuf}

	opts := Options{
		DialTimeout:       2 * time.Second,
		ReconnectAttempts: 1,
		MaxOutputBuffer:   4096,
		Clock:             clock.Real(),
	}

	conn, err := Connect(context.Background(), asset, cred, opts)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer conn.Close()

	stdout, _, exitStatus, code, err := conn.Exec(context.Background(), "echo hello")
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if exitStatus != domain.ExitNormal || code != 0 {
		t.Fatalf("expected a clean exit, got status=%s code=%d", exitStatus, code)
	}
	if string(stdout) != "ok: echo hello\n" {
		t.Fatalf("unexpected stdout: %q", stdout)
	}

	_, stderr, _, code, err := conn.Exec(context.Background(), "please fail")
	if err != nil {
		t.Fatalf("Exec (failing command): %v", err)
	}
	if code != 1 {
		t.Fatalf("expected exit code 1, got %d", code)
	}
	if string(stderr) != "boom\n" {
		t.Fatalf("unexpected stderr: %q", stderr)
	}
}

func TestConnectRejectsBadCredential(t *testing.T) {
	asset, _ := startTestServer(t, func(command string) (string, string, int) { return "", "", 0 })

	badPassword, err := secret.NewFromBytes([]byte("wrong"))
	if err != nil {
		t.Fatalf("secret.NewFromBytes: %v", err)
	}
	cred := vault.Credential{Kind: vault.AuthPassword, Password: badPassword}

	opts := Options{DialTimeout: 2 * time.Second, ReconnectAttempts: 1, Clock: clock.Real()}
	if _, err := Connect(context.Background(), asset, cred, opts); err == nil {
		t.Fatalf("expected authentication failure with a wrong password")
	}
}
