package gateway

import (
	"bufio"
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/huntrelay/huntrelay/internal/domain"
	"github.com/huntrelay/huntrelay/internal/eventbus"
	"github.com/huntrelay/huntrelay/internal/ids"
	"github.com/huntrelay/huntrelay/internal/session"
	"github.com/huntrelay/huntrelay/internal/sshconn"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Origin checking is delegated to whatever reverse proxy terminates
	// TLS in front of the Gateway in production; this module's scope
	// ends at the WS handshake itself.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// clientFrame is the shape of every client -> server WS message
// (spec.md §6): join_session, leave_session, terminal_input,
// terminal_resize, toggle_mode.
type clientFrame struct {
	Type      string             `json:"type"`
	SessionID ids.SessionID      `json:"session_id,omitempty"`
	Data      string             `json:"data,omitempty"` // terminal_input payload, base64 not required (text protocol)
	Cols      int                `json:"cols,omitempty"`
	Rows      int                `json:"rows,omitempty"`
	Mode      domain.SessionMode `json:"mode,omitempty"`
}

// serverFrame is every server -> client WS message: an Event Bus
// event flattened to {event_type, room, payload, at}.
type serverFrame struct {
	EventType string    `json:"event_type"`
	Room      string    `json:"room"`
	Payload   any       `json:"payload"`
	At        time.Time `json:"at"`
}

// wsConn is one authenticated WebSocket connection's state: the set
// of session rooms it has joined and the per-connection terminal_input
// limiter (spec.md §4.7: default 64 KiB/s sustained, 256 KiB burst).
type wsConn struct {
	analyst ids.AnalystID
	conn    *websocket.Conn
	writeMu sync.Mutex

	limiter *rate.Limiter

	mu   sync.Mutex
	subs map[ids.SessionID]*eventbus.Subscription
	ptys map[ids.SessionID]*sshconn.PTY
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	wc := &wsConn{
		analyst: analystFromContext(r.Context()),
		conn:    conn,
		limiter: rate.NewLimiter(rate.Limit(s.cfg.TerminalInputRateSustained), s.cfg.TerminalInputRateBurst),
		subs:    make(map[ids.SessionID]*eventbus.Subscription),
		ptys:    make(map[ids.SessionID]*sshconn.PTY),
	}
	defer wc.closeAll()

	heartbeat := time.NewTicker(s.cfg.HeartbeatInterval)
	defer heartbeat.Stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var frame clientFrame
			if err := conn.ReadJSON(&frame); err != nil {
				return
			}
			s.handleClientFrame(wc, frame)
		}
	}()

	for {
		select {
		case <-done:
			return
		case <-heartbeat.C:
			if err := wc.writeJSON(serverFrame{EventType: "system.heartbeat", At: time.Now()}); err != nil {
				return
			}
		}
	}
}

func (wc *wsConn) writeJSON(v any) error {
	wc.writeMu.Lock()
	defer wc.writeMu.Unlock()
	return wc.conn.WriteJSON(v)
}

func (wc *wsConn) closeAll() {
	wc.mu.Lock()
	for _, sub := range wc.subs {
		sub.Close()
	}
	wc.subs = nil
	for _, pty := range wc.ptys {
		pty.Close()
	}
	wc.ptys = nil
	wc.mu.Unlock()
	_ = wc.conn.Close()
}

func (s *Server) handleClientFrame(wc *wsConn, frame clientFrame) {
	switch frame.Type {
	case "join_session":
		s.wsJoinSession(wc, frame.SessionID)
	case "leave_session":
		s.wsLeaveSession(wc, frame.SessionID)
	case "terminal_input":
		s.wsTerminalInput(wc, frame)
	case "terminal_resize":
		s.wsTerminalResize(wc, frame)
	case "toggle_mode":
		s.wsToggleMode(wc, frame)
	default:
		_ = wc.writeJSON(serverFrame{EventType: "system.error", Payload: map[string]string{"message": "unknown frame type: " + frame.Type}, At: time.Now()})
	}
}

func (s *Server) wsJoinSession(wc *wsConn, sessionID ids.SessionID) {
	if _, ok := s.sessions.Get(sessionID); !ok {
		_ = wc.writeJSON(serverFrame{EventType: "system.error", Payload: map[string]string{"message": "session not found"}, At: time.Now()})
		return
	}

	room := eventbus.Room("session:" + sessionID.String())
	sub := s.bus.Subscribe(room)

	wc.mu.Lock()
	if existing, ok := wc.subs[sessionID]; ok {
		existing.Close()
	}
	wc.subs[sessionID] = sub
	wc.mu.Unlock()

	go s.pumpSubscription(wc, sessionID, sub)
	s.sessions.Touch(sessionID)
}

func (s *Server) wsLeaveSession(wc *wsConn, sessionID ids.SessionID) {
	wc.mu.Lock()
	sub, ok := wc.subs[sessionID]
	delete(wc.subs, sessionID)
	pty, hasPTY := wc.ptys[sessionID]
	delete(wc.ptys, sessionID)
	wc.mu.Unlock()
	if ok {
		sub.Close()
	}
	if hasPTY {
		pty.Close()
	}
}

// pumpSubscription forwards events from sub to the client until the
// subscription is closed (leave_session or connection teardown).
func (s *Server) pumpSubscription(wc *wsConn, sessionID ids.SessionID, sub *eventbus.Subscription) {
	for event := range sub.C {
		frame := serverFrame{EventType: string(event.Kind), Room: string(event.Room), Payload: event.Payload, At: event.At}
		if err := wc.writeJSON(frame); err != nil {
			return
		}
	}
}

func (s *Server) wsTerminalInput(wc *wsConn, frame clientFrame) {
	n := len(frame.Data)
	if !wc.limiter.AllowN(time.Now(), n) {
		_ = wc.writeJSON(serverFrame{EventType: "system.backpressure", Payload: map[string]string{"reason": "terminal_input rate exceeded"}, At: time.Now()})
		return
	}

	rt, ok := s.sessions.Get(frame.SessionID)
	if !ok {
		return
	}

	pty, err := s.wsEnsurePTY(wc, frame.SessionID, rt)
	if err != nil {
		_ = wc.writeJSON(serverFrame{EventType: "system.error", Payload: map[string]string{"message": err.Error()}, At: time.Now()})
		return
	}
	_, _ = pty.Stdin.Write([]byte(frame.Data))
}

// wsEnsurePTY opens the session's interactive PTY on first use and
// starts a goroutine forwarding its output back as terminal_output
// server frames, reusing the same PTY for every subsequent
// terminal_input on this connection.
func (s *Server) wsEnsurePTY(wc *wsConn, sessionID ids.SessionID, rt *session.Runtime) (*sshconn.PTY, error) {
	wc.mu.Lock()
	if pty, ok := wc.ptys[sessionID]; ok {
		wc.mu.Unlock()
		return pty, nil
	}
	wc.mu.Unlock()

	var pty *sshconn.PTY
	err := rt.WithConnection(wc.analyst, func(conn *sshconn.Connection) error {
		opened, openErr := conn.OpenPTY(80, 24)
		if openErr != nil {
			return openErr
		}
		pty = opened
		return nil
	})
	if err != nil {
		return nil, err
	}

	wc.mu.Lock()
	wc.ptys[sessionID] = pty
	wc.mu.Unlock()

	go s.pumpPTYOutput(sessionID, pty)
	return pty, nil
}

// pumpPTYOutput publishes PTY output onto the Event Bus as
// terminal_output events (eventbus.KindTerminalOutput), the same
// channel every other subscriber of this session's room (including
// this connection's own join_session subscription) receives from —
// so concurrent viewers of a shared session all see the same stream
// rather than only the connection that happened to open the PTY.
func (s *Server) pumpPTYOutput(sessionID ids.SessionID, pty *sshconn.PTY) {
	reader := bufio.NewReader(pty.Stdout)
	buf := make([]byte, 4096)
	room := eventbus.Room("session:" + sessionID.String())
	for {
		n, err := reader.Read(buf)
		if n > 0 {
			_ = s.bus.Publish(context.Background(), eventbus.Event{
				Kind:    eventbus.KindTerminalOutput,
				Room:    room,
				Payload: map[string]string{"session_id": sessionID.String(), "data": string(buf[:n])},
				At:      time.Now(),
			})
		}
		if err != nil {
			return
		}
	}
}

func (s *Server) wsTerminalResize(wc *wsConn, frame clientFrame) {
	wc.mu.Lock()
	pty, ok := wc.ptys[frame.SessionID]
	wc.mu.Unlock()
	if !ok {
		return
	}
	_ = pty.Resize(frame.Cols, frame.Rows)
}

func (s *Server) wsToggleMode(wc *wsConn, frame clientFrame) {
	rt, ok := s.sessions.Get(frame.SessionID)
	if !ok {
		return
	}
	rt.ToggleMode(frame.Mode)
}
