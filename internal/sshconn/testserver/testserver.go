// Package testserver is an in-process SSH server for integration
// tests of internal/sshconn: real golang.org/x/crypto/ssh framing
// over a loopback socket, without a real remote host. It accepts a
// single username/password pair and dispatches "exec" requests to an
// injected handler — enough surface for internal/sshconn and
// internal/hunt to exercise Connect/Exec end to end.
package testserver

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"net"

	"golang.org/x/crypto/ssh"
)

// Handler runs one exec'd command and returns its captured output.
type Handler func(command string) (stdout, stderr string, exitCode int)

// Server is a running in-process SSH server.
type Server struct {
	Addr string

	ln     net.Listener
	config *ssh.ServerConfig
	handle Handler
}

// New starts listening on 127.0.0.1 with an ephemeral port, accepting
// only username/password, and dispatching exec'd commands to handle.
func New(username, password string, handle Handler) (*Server, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("testserver: generating host key: %w", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		return nil, fmt.Errorf("testserver: wrapping host key: %w", err)
	}

	config := &ssh.ServerConfig{
		PasswordCallback: func(meta ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if meta.User() == username && string(pass) == password {
				return nil, nil
			}
			return nil, fmt.Errorf("testserver: auth rejected for %q", meta.User())
		},
	}
	config.AddHostKey(signer)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("testserver: listen: %w", err)
	}

	s := &Server{Addr: ln.Addr().String(), ln: ln, config: config, handle: handle}
	go s.serve()
	return s, nil
}

// Close stops the listener. In-flight connections are not joined.
func (s *Server) Close() error {
	return s.ln.Close()
}

func (s *Server) serve() {
	for {
		nConn, err := s.ln.Accept()
		if err != nil {
			return
		}
		go s.handleConn(nConn)
	}
}

func (s *Server) handleConn(nConn net.Conn) {
	sconn, chans, reqs, err := ssh.NewServerConn(nConn, s.config)
	if err != nil {
		return
	}
	defer sconn.Close()
	go ssh.DiscardRequests(reqs)

	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			newChannel.Reject(ssh.UnknownChannelType, "unsupported channel type")
			continue
		}
		channel, requests, err := newChannel.Accept()
		if err != nil {
			continue
		}
		go s.handleSession(channel, requests)
	}
}

type exitStatusMsg struct {
	Status uint32
}

func (s *Server) handleSession(channel ssh.Channel, requests <-chan *ssh.Request) {
	defer channel.Close()

	for req := range requests {
		switch req.Type {
		case "exec":
			// Payload is a length-prefixed string (RFC 4254 §6.5).
			var command string
			if len(req.Payload) > 4 {
				command = string(req.Payload[4:])
			}
			req.Reply(true, nil)

			stdout, stderr, code := s.handle(command)
			channel.Write([]byte(stdout))
			channel.Stderr().Write([]byte(stderr))
			channel.SendRequest("exit-status", false, ssh.Marshal(exitStatusMsg{Status: uint32(code)}))
			return
		case "shell", "pty-req":
			req.Reply(true, nil)
		default:
			req.Reply(false, nil)
		}
	}
}
