package server

import (
	"context"
	"testing"
	"time"
)

func TestRealtimeDispatcherPublishesToSubscriber(t *testing.T) {
	dispatcher := NewRealtimeDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, cleanup := dispatcher.Subscribe(ctx, "game-1")
	defer cleanup()

	dispatcher.Publish(RealtimeMessage{
		GameID:    "game-1",
		EventType: RealtimeEventPlayerUpdated,
		PlayerID:  "player-a",
		EntryID:   "entry-a",
		Timestamp: time.Now().UTC(),
	})

	select {
	case received := <-stream:
		if received.EventType != RealtimeEventPlayerUpdated {
			t.Fatalf("expected event type %s, got %s", RealtimeEventPlayerUpdated, received.EventType)
		}
		if received.PlayerID != "player-a" || received.EntryID != "entry-a" {
			t.Fatalf("unexpected message %+v", received)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected realtime message within deadline")
	}
}

func TestRealtimeDispatcherIsolatedByGame(t *testing.T) {
	dispatcher := NewRealtimeDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gameStream, cleanup := dispatcher.Subscribe(ctx, "game-2")
	defer cleanup()

	otherStream, otherCleanup := dispatcher.Subscribe(ctx, "game-3")
	defer otherCleanup()

	dispatcher.Publish(RealtimeMessage{
		GameID:    "game-3",
		EventType: RealtimeEventGameCompleted,
		Timestamp: time.Now().UTC(),
	})

	select {
	case <-gameStream:
		t.Fatal("did not expect realtime message for unrelated game")
	case <-time.After(200 * time.Millisecond):
	}

	select {
	case msg := <-otherStream:
		if msg.GameID != "game-3" {
			t.Fatalf("expected game-3, received %s", msg.GameID)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected realtime message for subscribed game")
	}
}

func TestRealtimeDispatcherUnregistersOnCancel(t *testing.T) {
	dispatcher := NewRealtimeDispatcher()
	ctx, cancel := context.WithCancel(context.Background())

	_, cleanup := dispatcher.Subscribe(ctx, "game-4")
	if count := dispatcher.SubscriberCount("game-4"); count != 1 {
		t.Fatalf("expected one subscriber, got %d", count)
	}

	cancel()
	deadline := time.Now().Add(time.Second)
	for dispatcher.SubscriberCount("game-4") != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("expected subscriber to be removed after cancel")
		}
		time.Sleep(10 * time.Millisecond)
	}
	cleanup()

	empty, emptyCleanup := dispatcher.Subscribe(context.Background(), "")
	defer emptyCleanup()
	if _, open := <-empty; open {
		t.Fatalf("expected closed stream for empty game id")
	}
}

func TestRealtimeDispatcherDropsWhenBufferFull(t *testing.T) {
	dispatcher := NewRealtimeDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, cleanup := dispatcher.Subscribe(ctx, "game-5")
	defer cleanup()

	for index := 0; index < dispatcher.bufferSize+4; index++ {
		dispatcher.Publish(RealtimeMessage{GameID: "game-5", EventType: RealtimeEventAuditAppended})
	}
	if len(stream) != dispatcher.bufferSize {
		t.Fatalf("expected buffered stream of %d, got %d", dispatcher.bufferSize, len(stream))
	}
}

func TestRealtimeDispatcherClosesStreamsWhenGameDeleted(t *testing.T) {
	dispatcher := NewRealtimeDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, cleanup := dispatcher.Subscribe(ctx, "game-6")
	defer cleanup()
	otherStream, otherCleanup := dispatcher.Subscribe(ctx, "game-7")
	defer otherCleanup()

	for index := 0; index < dispatcher.bufferSize; index++ {
		dispatcher.Publish(RealtimeMessage{GameID: "game-6", EventType: RealtimeEventAuditAppended})
	}
	dispatcher.Publish(RealtimeMessage{GameID: "game-6", EventType: RealtimeEventGameDeleted})

	var last RealtimeMessage
	received := 0
	for message := range stream {
		last = message
		received++
	}
	if received != dispatcher.bufferSize {
		t.Fatalf("expected %d buffered messages, got %d", dispatcher.bufferSize, received)
	}
	if last.EventType != RealtimeEventGameDeleted {
		t.Fatalf("expected game-deleted to be the final message, got %s", last.EventType)
	}
	if count := dispatcher.SubscriberCount("game-6"); count != 0 {
		t.Fatalf("expected deleted game to have no subscribers, got %d", count)
	}

	dispatcher.Publish(RealtimeMessage{GameID: "game-6", EventType: RealtimeEventPlayerUpdated})
	if count := dispatcher.SubscriberCount("game-7"); count != 1 {
		t.Fatalf("expected other game to keep its subscriber, got %d", count)
	}
	select {
	case <-otherStream:
		t.Fatal("did not expect a message for the other game")
	default:
	}
}
