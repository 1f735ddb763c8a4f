package sshconn

import (
	"crypto/ed25519"
	"crypto/rand"
	"net"
	"testing"

	"golang.org/x/crypto/ssh"
)

func mustPublicKey(t *testing.T) ssh.PublicKey {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	key, err := ssh.NewPublicKey(pub)
	if err != nil {
		t.Fatalf("ssh.NewPublicKey: %v", err)
	}
	return key
}

func TestKnownHostsTOFUPinsOnFirstContact(t *testing.T) {
	kh := NewKnownHosts(PolicyTOFU)
	cb := kh.callback()
	key := mustPublicKey(t)
	addr := &net.TCPAddr{}

	if err := cb("host1:22", addr, key); err != nil {
		t.Fatalf("first contact under TOFU should be accepted: %v", err)
	}
	if err := cb("host1:22", addr, key); err != nil {
		t.Fatalf("same key on repeat contact should be accepted: %v", err)
	}

	otherKey := mustPublicKey(t)
	if err := cb("host1:22", addr, otherKey); err == nil {
		t.Fatalf("expected a changed host key to be rejected")
	}
}

func TestKnownHostsStrictRejectsUnpinned(t *testing.T) {
	kh := NewKnownHosts(PolicyStrict)
	cb := kh.callback()
	key := mustPublicKey(t)
	addr := &net.TCPAddr{}

	if err := cb("host1:22", addr, key); err == nil {
		t.Fatalf("expected strict policy to reject an unpinned host")
	}

	kh.Pin("host1:22", key)
	if err := cb("host1:22", addr, key); err != nil {
		t.Fatalf("expected pinned key to be accepted: %v", err)
	}
}

func TestScrubSudoPrompt(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"prompt then output", "[sudo] password for alice: \nreal output\n", "real output\n"},
		{"no prompt", "plain stderr\n", "plain stderr\n"},
		{"prompt only", "[sudo] password for bob:\n", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := string(scrubSudoPrompt([]byte(tc.in)))
			if got != tc.want {
				t.Fatalf("scrubSudoPrompt(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}
