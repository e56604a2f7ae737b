package server

import (
	"context"
	"sync"
	"time"
)

const (
	RealtimeEventPlayerUpdated = "player-updated"
	RealtimeEventAuditAppended = "audit-appended"
	RealtimeEventGameCompleted = "game-completed"
	RealtimeEventGameDeleted   = "game-deleted"
	realtimeEventHeartbeat     = "heartbeat"
	realtimeSourceBackend      = "cashflow-backend"
)

// RealtimeMessage announces a committed change to one game.
type RealtimeMessage struct {
	GameID    string
	EventType string
	PlayerID  string
	EntryID   string
	Timestamp time.Time
}

// RealtimeDispatcher fans committed game changes out to stream subscribers of that game.
// Slow subscribers miss messages rather than blocking publishers. A game-deleted
// message is the last one a game's subscribers receive: their streams close after it.
type RealtimeDispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*realtimeSubscriber
	nextID      int64
	bufferSize  int
}

type realtimeSubscriber struct {
	id      int64
	mu      sync.Mutex
	closed  bool
	stream  chan RealtimeMessage
	closing chan struct{}
}

// deliver never blocks. A final message evicts the oldest buffered one so that
// it always reaches the subscriber.
func (s *realtimeSubscriber) deliver(message RealtimeMessage, final bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.stream <- message:
		return
	default:
	}
	if !final {
		return
	}
	select {
	case <-s.stream:
	default:
	}
	select {
	case s.stream <- message:
	default:
	}
}

func (s *realtimeSubscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.stream)
	close(s.closing)
}

func (s *realtimeSubscriber) done() <-chan struct{} {
	return s.closing
}

func NewRealtimeDispatcher() *RealtimeDispatcher {
	return &RealtimeDispatcher{
		subscribers: make(map[string]map[int64]*realtimeSubscriber),
		bufferSize:  16,
	}
}

// Subscribe registers a stream for gameID until ctx ends, cleanup is called or
// the game is deleted. The stream is closed once the subscription ends.
func (d *RealtimeDispatcher) Subscribe(ctx context.Context, gameID string) (<-chan RealtimeMessage, func()) {
	if gameID == "" {
		ch := make(chan RealtimeMessage)
		close(ch)
		return ch, func() {}
	}
	subscriber := &realtimeSubscriber{
		stream:  make(chan RealtimeMessage, d.bufferSize),
		closing: make(chan struct{}),
	}
	d.registerSubscriber(gameID, subscriber)
	cleanup := func() {
		d.unregisterSubscriber(gameID, subscriber.id)
		subscriber.close()
	}
	go func() {
		select {
		case <-ctx.Done():
		case <-subscriber.done():
		}
		cleanup()
	}()
	return subscriber.stream, cleanup
}

func (d *RealtimeDispatcher) Publish(message RealtimeMessage) {
	if message.GameID == "" || message.EventType == "" {
		return
	}
	final := message.EventType == RealtimeEventGameDeleted
	for _, subscriber := range d.subscribersOf(message.GameID, final) {
		subscriber.deliver(message, final)
		if final {
			subscriber.close()
		}
	}
}

// SubscriberCount reports the open streams of gameID.
func (d *RealtimeDispatcher) SubscriberCount(gameID string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subscribers[gameID])
}

// subscribersOf snapshots the subscribers of gameID, detaching them all when
// detach is set.
func (d *RealtimeDispatcher) subscribersOf(gameID string, detach bool) []*realtimeSubscriber {
	if detach {
		d.mu.Lock()
		defer d.mu.Unlock()
	} else {
		d.mu.RLock()
		defer d.mu.RUnlock()
	}
	subscribers := d.subscribers[gameID]
	copies := make([]*realtimeSubscriber, 0, len(subscribers))
	for _, subscriber := range subscribers {
		copies = append(copies, subscriber)
	}
	if detach {
		delete(d.subscribers, gameID)
	}
	return copies
}

func (d *RealtimeDispatcher) registerSubscriber(gameID string, subscriber *realtimeSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	subscriber.id = d.nextID
	if _, ok := d.subscribers[gameID]; !ok {
		d.subscribers[gameID] = make(map[int64]*realtimeSubscriber)
	}
	d.subscribers[gameID][subscriber.id] = subscriber
}

func (d *RealtimeDispatcher) unregisterSubscriber(gameID string, subscriberID int64) {
	d.mu.Lock()
	subscribers := d.subscribers[gameID]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(d.subscribers, gameID)
		}
	}
	d.mu.Unlock()
}
