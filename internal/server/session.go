package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net"
	"time"

	"github.com/gorilla/websocket"
)

// sessionState is the protocol phase of a connection.
type sessionState int

const (
	stateConnecting sessionState = iota
	stateAuthenticating
	stateJoined
	stateClosed
)

func (s sessionState) String() string {
	switch s {
	case stateConnecting:
		return "connecting"
	case stateAuthenticating:
		return "authenticating"
	case stateJoined:
		return "joined"
	case stateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

const (
	reasonJoinRequired   = "First message must be of type 'join'."
	reasonJoinFields     = "Token and roomId are required for joining."
	reasonJoinTimeout    = "Join handshake timed out."
	reasonInvalidToken   = "Invalid authentication token."
	reasonServerShutdown = "Server is shutting down"
)

// session drives one connection from accept to close.
type session struct {
	server  *Server
	client  *Client
	state   sessionState
	pumping bool
}

func (s *session) transition(next sessionState) {
	log.Printf("Connection %s (%s): %s -> %s", s.client.id, s.client.addr, s.state, next)
	s.state = next
}

// run executes the handshake and, on success, the receive loop. Whatever
// happens, the client leaves its room on the way out.
func (s *session) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	defer func() {
		s.transition(stateClosed)
		s.server.hub.Unregister(s.client)
		s.client.Close(websocket.CloseNormalClosure, "")
		if !s.pumping {
			s.client.closeConnection()
		}
	}()

	frame, ok := s.readHandshake()
	if !ok {
		return
	}

	s.transition(stateAuthenticating)
	userID, err := s.server.authenticate(ctx, frame.Token)
	if err != nil {
		log.Printf("Failed to verify token from %s: %v", s.client.addr, err)
		s.client.abort(CloseInvalidAuth, reasonInvalidToken)
		return
	}

	if s.server.isClosing() {
		s.client.abort(CloseGoingAway, reasonServerShutdown)
		return
	}

	s.transition(stateJoined)
	s.pumping = true
	s.server.sessions.Add(1)
	go func() {
		defer s.server.sessions.Done()
		defer cancel()
		s.client.writePump()
	}()

	s.server.hub.Register(s.client, frame.RoomID, userID)
	s.receive(ctx)
}

// readHandshake reads the first frame, which must be a join carrying a token
// and a room. Anything else closes the connection with 1008.
func (s *session) readHandshake() (inboundFrame, bool) {
	var frame inboundFrame
	conn := s.client.conn

	if err := conn.SetReadDeadline(time.Now().Add(s.server.cfg.HandshakeTimeout)); err != nil {
		log.Printf("Error setting handshake deadline for %s: %v", s.client.addr, err)
	}

	_, raw, err := conn.ReadMessage()
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			s.client.abort(ClosePolicyViolation, reasonJoinTimeout)
			return frame, false
		}
		s.client.logReadError(err)
		return frame, false
	}

	if err := json.Unmarshal(raw, &frame); err != nil || frame.Type != TypeJoin {
		log.Printf("Rejecting %s: first frame is not a join", s.client.addr)
		s.client.abort(ClosePolicyViolation, reasonJoinRequired)
		return frame, false
	}

	if frame.Token == "" || frame.RoomID == "" {
		log.Printf("Rejecting %s: join without token or roomId", s.client.addr)
		s.client.abort(ClosePolicyViolation, reasonJoinFields)
		return frame, false
	}

	return frame, true
}

// receive hands every subsequent frame to the router until the connection
// ends.
func (s *session) receive(ctx context.Context) {
	s.client.setupReadConnection()

	for {
		_, raw, err := s.client.conn.ReadMessage()
		if err != nil {
			s.client.logReadError(err)
			return
		}

		s.server.router.Route(ctx, s.client, raw)
	}
}
