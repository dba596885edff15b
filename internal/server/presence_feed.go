package server

import (
	"context"
	"log"
	"sync"
	"time"
)

const presenceQueueSize = 1024

type presenceEvent struct {
	join   bool
	roomID string
	userID string
}

// presenceFeed applies hub membership changes to the PresenceTracker one at a
// time, in the order the hub produced them, and periodically refreshes the
// expiry of every room this process still hosts.
type presenceFeed struct {
	tracker PresenceTracker
	rooms   func() []string
	refresh time.Duration
	timeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	closed bool
	events chan presenceEvent
	done   chan struct{}
}

func newPresenceFeed(tracker PresenceTracker, rooms func() []string, refresh, timeout time.Duration) *presenceFeed {
	ctx, cancel := context.WithCancel(context.Background())
	return &presenceFeed{
		tracker: tracker,
		rooms:   rooms,
		refresh: refresh,
		timeout: timeout,
		ctx:     ctx,
		cancel:  cancel,
		events:  make(chan presenceEvent, presenceQueueSize),
		done:    make(chan struct{}),
	}
}

func (f *presenceFeed) joined(roomID, userID string) {
	f.publish(presenceEvent{join: true, roomID: roomID, userID: userID})
}

func (f *presenceFeed) left(roomID, userID string) {
	f.publish(presenceEvent{roomID: roomID, userID: userID})
}

func (f *presenceFeed) publish(ev presenceEvent) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		log.Printf("Presence feed closed; dropping update for user '%s' in room '%s'", ev.userID, ev.roomID)
		return
	}

	select {
	case f.events <- ev:
	default:
		log.Printf("Presence queue full; dropping update for user '%s' in room '%s'", ev.userID, ev.roomID)
	}
}

// run is the feed's only consumer. It returns once close has been called and
// every queued event is applied.
func (f *presenceFeed) run() {
	defer close(f.done)

	ticker := time.NewTicker(f.refresh)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-f.events:
			if !ok {
				return
			}
			f.apply(ev)
		case <-ticker.C:
			f.heartbeat()
		}
	}
}

func (f *presenceFeed) apply(ev presenceEvent) {
	ctx, cancel := context.WithTimeout(f.ctx, f.timeout)
	defer cancel()

	var err error
	if ev.join {
		err = f.tracker.Join(ctx, ev.roomID, ev.userID)
	} else {
		err = f.tracker.Leave(ctx, ev.roomID, ev.userID)
	}
	if err != nil {
		log.Printf("Error updating presence for user '%s' in room '%s': %v", ev.userID, ev.roomID, err)
	}
}

func (f *presenceFeed) heartbeat() {
	rooms := f.rooms()
	if len(rooms) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(f.ctx, f.timeout)
	defer cancel()
	if err := f.tracker.Refresh(ctx, rooms); err != nil {
		log.Printf("Error refreshing presence for %d rooms: %v", len(rooms), err)
	}
}

// close stops accepting events and waits for the queue to drain. When ctx
// expires first, the update in flight is cancelled and ctx's error returned.
func (f *presenceFeed) close(ctx context.Context) error {
	f.mu.Lock()
	if !f.closed {
		f.closed = true
		close(f.events)
	}
	f.mu.Unlock()

	select {
	case <-f.done:
		f.cancel()
		return nil
	case <-ctx.Done():
		f.cancel()
		log.Println("Presence feed shutdown timeout reached, pending updates dropped")
		return ctx.Err()
	}
}
