package shell

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/dverbeek/palaver/internal/call"
)

func TestRoomBridgePublishesConnectAndDisconnect(t *testing.T) {
	broker := NewBroker(nil)
	events, cancel := broker.Subscribe()
	defer cancel()

	bridge := NewRoomBridge(broker)
	if err := bridge.Connect(context.Background(), &call.Credentials{RoomID: "room-1", Token: "tok"}); err != nil {
		t.Fatalf("connect: %v", err)
	}
	select {
	case ev := <-events:
		if ev.Name != "room.connect" {
			t.Fatalf("event = %q, want room.connect", ev.Name)
		}
	case <-time.After(time.Second):
		t.Fatal("connect event not published")
	}

	bridge.Disconnect()
	select {
	case ev := <-events:
		if ev.Name != "room.disconnect" {
			t.Fatalf("event = %q, want room.disconnect", ev.Name)
		}
	case <-time.After(time.Second):
		t.Fatal("disconnect event not published")
	}

	// A second disconnect without a connected room stays silent.
	bridge.Disconnect()
	select {
	case ev := <-events:
		t.Fatalf("unexpected event %q", ev.Name)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRoomEventEndpointReachesActiveCall(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/calls", map[string]any{"invitee_ids": []string{"bob"}})
	if w.Code != http.StatusCreated {
		t.Fatalf("place status = %d", w.Code)
	}
	active := f.server.opts.Manager.Active()
	if active == nil {
		t.Fatal("no active call")
	}

	w = f.do(t, http.MethodPost, "/api/room/events", map[string]any{
		"kind":    string(call.RoomConnected),
		"room_id": active.RoomID(),
	})
	if w.Code != http.StatusAccepted {
		t.Fatalf("room event status = %d body %s", w.Code, w.Body.String())
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if active.Snapshot().Connected {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("room connect event did not reach the session")
}
