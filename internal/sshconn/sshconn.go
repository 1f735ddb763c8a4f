// Package sshconn implements the SSH Connector (spec.md §4.2):
// dialing a target Asset, opening an interactive PTY or running a
// single command, and surfacing failures with a jittered backoff
// reconnect ladder. Built on golang.org/x/crypto/ssh, the same
// transport family the rest of the ecosystem pack reaches for
// (several retrieved repos vendor it for agent forwarding and remote
// exec); the teacher itself has no SSH code to adapt from, so this
// package follows golang.org/x/crypto/ssh's own idiomatic client
// shape (ssh.Dial, Session.StdinPipe/RequestPty) rather than
// reshaping a teacher file that doesn't exist.
package sshconn

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/rand"
	"net"
	"regexp"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/huntrelay/huntrelay/internal/apperr"
	"github.com/huntrelay/huntrelay/internal/clock"
	"github.com/huntrelay/huntrelay/internal/domain"
	"github.com/huntrelay/huntrelay/internal/vault"
)

// HostKeyPolicy selects how an unrecognized host key is handled.
type HostKeyPolicy string

const (
	PolicyTOFU   HostKeyPolicy = "tofu"
	PolicyStrict HostKeyPolicy = "strict"
)

// backoffLadder is the jittered reconnect schedule from spec.md §4.2:
// 250ms, 1s, 4s, each with up to 20% jitter.
var backoffLadder = []time.Duration{250 * time.Millisecond, 1 * time.Second, 4 * time.Second}

// KnownHosts tracks host keys seen so far under TOFU, or the fixed
// set accepted under strict policy. Safe for concurrent use.
type KnownHosts struct {
	mu     sync.Mutex
	policy HostKeyPolicy
	keys   map[string]ssh.PublicKey // addr -> pinned key
}

// NewKnownHosts constructs an empty store for the given policy.
func NewKnownHosts(policy HostKeyPolicy) *KnownHosts {
	return &KnownHosts{policy: policy, keys: make(map[string]ssh.PublicKey)}
}

// Pin records addr's expected key in advance, used for PolicyStrict
// where the operator has already distributed fingerprints out of
// band.
func (k *KnownHosts) Pin(addr string, key ssh.PublicKey) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.keys[addr] = key
}

func (k *KnownHosts) callback() ssh.HostKeyCallback {
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		k.mu.Lock()
		defer k.mu.Unlock()

		pinned, ok := k.keys[hostname]
		if !ok {
			if k.policy == PolicyStrict {
				return apperr.New(apperr.HostKeyMismatch, "sshconn: no pinned host key for %s under strict policy", hostname)
			}
			// TOFU: accept and pin on first contact.
			k.keys[hostname] = key
			return nil
		}
		if !bytes.Equal(pinned.Marshal(), key.Marshal()) {
			return apperr.New(apperr.HostKeyMismatch, "sshconn: host key for %s changed since first contact", hostname)
		}
		return nil
	}
}

// Options configures Connect.
type Options struct {
	DialTimeout       time.Duration
	KeepaliveInterval time.Duration
	MaxOutputBuffer   int
	ReconnectAttempts int
	HostKeys          *KnownHosts
	Clock             clock.Clock
}

// Connection is a live SSH connection to one Asset.
type Connection struct {
	client *ssh.Client
	asset  domain.Asset
	opts   Options

	mu     sync.Mutex
	closed bool
}

// Connect dials asset using cred, retrying on the jittered backoff
// ladder up to opts.ReconnectAttempts times. Returns apperr-categorized
// errors: Unreachable for dial failures, AuthFailed for rejected
// credentials, HostKeyMismatch for a pinned-key conflict.
func Connect(ctx context.Context, asset domain.Asset, cred vault.Credential, opts Options) (*Connection, error) {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.DialTimeout == 0 {
		opts.DialTimeout = 10 * time.Second
	}
	if opts.ReconnectAttempts == 0 {
		opts.ReconnectAttempts = 3
	}
	if opts.HostKeys == nil {
		opts.HostKeys = NewKnownHosts(PolicyTOFU)
	}

	authMethod, err := authMethodFor(cred)
	if err != nil {
		return nil, err
	}

	config := &ssh.ClientConfig{
		User:            asset.Username,
		Auth:            []ssh.AuthMethod{authMethod},
		HostKeyCallback: opts.HostKeys.callback(),
		Timeout:         opts.DialTimeout,
	}

	addr := fmt.Sprintf("%s:%d", asset.IP, asset.SSHPort)

	var lastErr error
	for attempt := 0; attempt < opts.ReconnectAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-opts.Clock.After(jittered(backoffLadder[min3(attempt-1, len(backoffLadder)-1)])):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		client, dialErr := dialContext(ctx, addr, config)
		if dialErr == nil {
			return &Connection{client: client, asset: asset, opts: opts}, nil
		}
		lastErr = dialErr

		if apperrCat, ok := apperr.As(dialErr); ok {
			switch apperrCat.Category {
			case apperr.HostKeyMismatch, apperr.AuthFailed:
				return nil, dialErr // not retryable
			}
		}
	}
	return nil, apperr.New(apperr.Unreachable, "sshconn: could not reach %s after %d attempts: %v", addr, opts.ReconnectAttempts, lastErr)
}

func dialContext(ctx context.Context, addr string, config *ssh.ClientConfig) (*ssh.Client, error) {
	dialer := net.Dialer{Timeout: config.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, apperr.New(apperr.Unreachable, "sshconn: dial %s: %v", addr, err)
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		if isAuthError(err) {
			return nil, apperr.New(apperr.AuthFailed, "sshconn: authentication rejected for %s: %v", addr, err)
		}
		return nil, apperr.New(apperr.Unreachable, "sshconn: handshake with %s: %v", addr, err)
	}
	return ssh.NewClient(sshConn, chans, reqs), nil
}

func isAuthError(err error) bool {
	return err != nil && (contains(err.Error(), "unable to authenticate") || contains(err.Error(), "no supported methods remain"))
}

func contains(s, substr string) bool {
	return len(s) >= len(substr) && (func() bool {
		for i := 0; i+len(substr) <= len(s); i++ {
			if s[i:i+len(substr)] == substr {
				return true
			}
		}
		return false
	})()
}

func authMethodFor(cred vault.Credential) (ssh.AuthMethod, error) {
	switch cred.Kind {
	case vault.AuthPassword:
		return ssh.Password(cred.Password.String()), nil
	case vault.AuthPrivateKey:
		var signer ssh.Signer
		var err error
		if cred.Passphrase.Len() > 0 {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(cred.PrivateKey.Bytes(), cred.Passphrase.Bytes())
		} else {
			signer, err = ssh.ParsePrivateKey(cred.PrivateKey.Bytes())
		}
		if err != nil {
			return nil, apperr.New(apperr.AuthFailed, "sshconn: parsing private key: %v", err)
		}
		return ssh.PublicKeys(signer), nil
	default:
		return nil, apperr.New(apperr.AuthFailed, "sshconn: unknown credential kind %q", cred.Kind)
	}
}

func jittered(base time.Duration) time.Duration {
	jitter := time.Duration(rand.Int63n(int64(base) / 5)) // up to 20%
	return base + jitter
}

func min3(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// Close closes the underlying SSH client. Idempotent.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}

// Exec runs a single command to completion, capturing stdout/stderr up
// to opts.MaxOutputBuffer bytes each. If ctx is cancelled first, Exec
// sends SIGTERM to the remote process, waits up to 2 s for the command
// to end, then sends SIGKILL and closes the channel, and returns
// ExitTimeout with an ExecTimeout error.
func (c *Connection) Exec(ctx context.Context, command string) (stdout, stderr []byte, exitStatus domain.ExitStatus, code int, err error) {
	session, sessErr := c.client.NewSession()
	if sessErr != nil {
		return nil, nil, domain.ExitSignal, 0, apperr.New(apperr.ChannelClosed, "sshconn: opening session: %v", sessErr)
	}
	defer session.Close()

	var outBuf, errBuf boundedBuffer
	outBuf.limit = c.opts.MaxOutputBuffer
	errBuf.limit = c.opts.MaxOutputBuffer
	session.Stdout = &outBuf
	session.Stderr = &errBuf

	done := make(chan error, 1)
	go func() { done <- session.Run(command) }()

	select {
	case runErr := <-done:
		stderr = scrubSudoPrompt(errBuf.Bytes())
		if runErr == nil {
			return outBuf.Bytes(), stderr, domain.ExitNormal, 0, nil
		}
		if exitErr, ok := runErr.(*ssh.ExitError); ok {
			return outBuf.Bytes(), stderr, domain.ExitNormal, exitErr.ExitStatus(), nil
		}
		return outBuf.Bytes(), stderr, domain.ExitSignal, -1, apperr.New(apperr.ChannelClosed, "sshconn: exec: %v", runErr)
	case <-ctx.Done():
		session.Signal(ssh.SIGTERM)
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			session.Signal(ssh.SIGKILL)
			session.Close()
		}
		return outBuf.Bytes(), scrubSudoPrompt(errBuf.Bytes()), domain.ExitTimeout, -1, apperr.New(apperr.ExecTimeout, "sshconn: command timed out")
	}
}

// sudoPromptRE matches the interactive password prompt sudo writes to
// the terminal before a command's real output — left over in
// captured stderr since the TTY-less exec channel still receives it.
// Mirrors the original Python implementation's equivalent scrub.
var sudoPromptRE = regexp.MustCompile(`(?m)^\[sudo\] password for [^:]+:\s*\n?`)

func scrubSudoPrompt(stderr []byte) []byte {
	return sudoPromptRE.ReplaceAll(stderr, nil)
}

// PTY is an interactive shell channel.
type PTY struct {
	session *ssh.Session
	Stdin   io.WriteCloser
	Stdout  io.Reader
}

// OpenPTY requests a pseudo-terminal and starts an interactive shell.
func (c *Connection) OpenPTY(cols, rows int) (*PTY, error) {
	session, err := c.client.NewSession()
	if err != nil {
		return nil, apperr.New(apperr.ChannelClosed, "sshconn: opening session: %v", err)
	}

	modes := ssh.TerminalModes{ssh.ECHO: 1, ssh.TTY_OP_ISPEED: 14400, ssh.TTY_OP_OSPEED: 14400}
	if err := session.RequestPty("xterm-256color", rows, cols, modes); err != nil {
		session.Close()
		return nil, apperr.New(apperr.ChannelClosed, "sshconn: requesting pty: %v", err)
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		return nil, apperr.New(apperr.ChannelClosed, "sshconn: stdin pipe: %v", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		return nil, apperr.New(apperr.ChannelClosed, "sshconn: stdout pipe: %v", err)
	}

	if err := session.Shell(); err != nil {
		session.Close()
		return nil, apperr.New(apperr.ChannelClosed, "sshconn: starting shell: %v", err)
	}

	return &PTY{session: session, Stdin: stdin, Stdout: stdout}, nil
}

// Resize notifies the remote PTY of a terminal size change.
func (p *PTY) Resize(cols, rows int) error {
	return p.session.WindowChange(rows, cols)
}

// Close terminates the PTY session.
func (p *PTY) Close() error {
	return p.session.Close()
}

// boundedBuffer caps how much data Write will retain, matching the
// SSH Connector's output-buffer ceiling (spec.md §4.2); bytes beyond
// the limit are discarded, not buffered then truncated, to avoid
// unbounded memory use on a chatty remote command.
type boundedBuffer struct {
	buf   bytes.Buffer
	limit int
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	if b.limit <= 0 {
		return b.buf.Write(p)
	}
	remaining := b.limit - b.buf.Len()
	if remaining <= 0 {
		return len(p), nil // silently drop past the cap; caller length still matches what the remote saw
	}
	if len(p) > remaining {
		b.buf.Write(p[:remaining])
		return len(p), nil
	}
	return b.buf.Write(p)
}

func (b *boundedBuffer) Bytes() []byte { return b.buf.Bytes() }
