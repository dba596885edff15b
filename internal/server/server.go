package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// IdentityVerifier resolves a join token to a user ID. Implementations may
// block; the server always calls them through its Dispatcher.
type IdentityVerifier interface {
	VerifyIdentity(ctx context.Context, token string) (string, error)
}

// PresenceTracker mirrors room membership to an external store. Refresh
// extends the lifetime of the listed rooms' entries.
type PresenceTracker interface {
	Join(ctx context.Context, roomID, userID string) error
	Leave(ctx context.Context, roomID, userID string) error
	Online(ctx context.Context, roomID string) ([]string, error)
	Refresh(ctx context.Context, roomIDs []string) error
}

// Deps are the collaborators a Server needs. Presence is optional.
type Deps struct {
	Verifier IdentityVerifier
	Messages MessageStore
	Presence PresenceTracker
}

// Server accepts chat connections, runs a session per connection, and
// coordinates graceful shutdown.
type Server struct {
	cfg        Config
	hub        *Hub
	router     *Router
	dispatcher *Dispatcher
	verifier   IdentityVerifier
	presence   PresenceTracker
	feed       *presenceFeed
	origins    *originPolicy
	upgrader   websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.RWMutex
	closing    bool
	live       map[*Client]struct{}
	sessions   sync.WaitGroup
	httpServer *http.Server
}

// New creates a Server from cfg and its collaborators.
func New(cfg Config, deps Deps) (*Server, error) {
	if deps.Verifier == nil {
		return nil, errors.New("server: identity verifier is required")
	}
	if deps.Messages == nil {
		return nil, errors.New("server: message store is required")
	}

	cfg = sanitizeConfig(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub()
	dispatcher := NewDispatcher(cfg.WorkerLimit, cfg.TaskTimeout)

	s := &Server{
		cfg:        cfg,
		hub:        hub,
		router:     NewRouter(hub, deps.Messages, dispatcher),
		dispatcher: dispatcher,
		verifier:   deps.Verifier,
		presence:   deps.Presence,
		origins:    newOriginPolicy(cfg.AllowedOrigins, cfg.AllowEmptyOrigin),
		ctx:        ctx,
		cancel:     cancel,
		live:       make(map[*Client]struct{}),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.origins.checkOrigin,
	}

	if s.presence != nil {
		s.feed = newPresenceFeed(s.presence, hub.Rooms, cfg.PresenceRefresh, cfg.TaskTimeout)
		hub.observe(s.feed.joined, s.feed.left)
		go s.feed.run()
	}
	return s, nil
}

// Hub returns the server's room registry.
func (s *Server) Hub() *Hub {
	return s.hub
}

func (s *Server) isClosing() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closing
}

// beginSession records a live connection unless shutdown has started.
func (s *Server) beginSession(client *Client) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.live[client] = struct{}{}
	s.sessions.Add(1)
	return true
}

func (s *Server) endSession(client *Client) {
	s.mu.Lock()
	delete(s.live, client)
	s.mu.Unlock()
	s.sessions.Done()
}

// abortPending closes connections that are still in the handshake or were
// registered after the hub stopped. Joined clients were already closed
// gracefully by the hub.
func (s *Server) abortPending() int {
	s.mu.RLock()
	pending := make([]*Client, 0, len(s.live))
	for client := range s.live {
		if !client.Closed() {
			pending = append(pending, client)
		}
	}
	s.mu.RUnlock()

	for _, client := range pending {
		client.abort(CloseGoingAway, reasonServerShutdown)
	}
	return len(pending)
}

// authenticate verifies token on the dispatcher, bounded by the handshake timeout.
func (s *Server) authenticate(ctx context.Context, token string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.HandshakeTimeout)
	defer cancel()

	var userID string
	err := s.dispatcher.Do(ctx, "verify identity", func(ctx context.Context) error {
		id, err := s.verifier.VerifyIdentity(ctx, token)
		if err != nil {
			return err
		}
		userID = id
		return nil
	})
	if err != nil {
		return "", err
	}
	if userID == "" {
		return "", errors.New("verifier returned an empty user id")
	}
	return userID, nil
}

// online lists the users in roomID, preferring the presence store when one
// is configured.
func (s *Server) online(ctx context.Context, roomID string) ([]string, error) {
	if s.presence == nil {
		return s.hub.Members(roomID), nil
	}

	var users []string
	err := s.dispatcher.Do(ctx, "presence online", func(ctx context.Context) error {
		found, err := s.presence.Online(ctx, roomID)
		if err != nil {
			return err
		}
		users = found
		return nil
	})
	return users, err
}

// ListenAndServe serves the chat routes on the configured address until
// Shutdown is called.
func (s *Server) ListenAndServe() error {
	httpServer := CreateServer(s.cfg.Addr(), s.SetupRoutes())

	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return http.ErrServerClosed
	}
	s.httpServer = httpServer
	s.mu.Unlock()

	return StartServer(httpServer)
}

// Shutdown stops accepting connections, closes every joined client with 1001
// after flushing its queue, waits for sessions to end, and then drains
// presence updates and background tasks. It returns ctx's error if the grace period runs out.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("Shutdown sequence started...")

	s.mu.Lock()
	s.closing = true
	httpServer := s.httpServer
	s.mu.Unlock()

	var errs []error
	if httpServer != nil {
		if err := ShutdownServer(ctx, httpServer); err != nil {
			errs = append(errs, err)
		}
	}

	closed := s.hub.CloseAll(CloseGoingAway, reasonServerShutdown)
	closed += s.abortPending()
	log.Printf("Closed %d client connections", closed)

	// Unblocks sessions still waiting on verification or history reads.
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.sessions.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("All sessions ended")
	case <-ctx.Done():
		log.Println("Session shutdown timeout reached, some connections may still be open")
		errs = append(errs, fmt.Errorf("wait for sessions: %w", ctx.Err()))
	}

	if s.feed != nil {
		if err := s.feed.close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("drain presence updates: %w", err))
		}
	}

	if err := s.dispatcher.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("drain background tasks: %w", err))
	}

	return errors.Join(errs...)
}
