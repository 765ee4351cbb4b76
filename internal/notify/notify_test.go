package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/dverbeek/palaver/internal/call"
	"github.com/dverbeek/palaver/internal/history"
)

func testKeys(t *testing.T) VAPIDKeys {
	t.Helper()
	keys, err := GenerateVAPIDKeys("mailto:someone@example.org")
	if err != nil {
		t.Fatalf("generate keys: %v", err)
	}
	return keys
}

func testStoreWithSub(t *testing.T, endpoint string) *history.Store {
	t.Helper()
	s, err := history.Open(":memory:", "me", nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	err = s.SaveSubscription(context.Background(), &history.PushSubscription{
		Endpoint: endpoint, P256DH: "key", Auth: "auth",
	})
	if err != nil {
		t.Fatalf("save subscription: %v", err)
	}
	return s
}

func fakeResponse(status int) *http.Response {
	return &http.Response{StatusCode: status, Body: io.NopCloser(strings.NewReader(""))}
}

func missedOutcome() *call.Outcome {
	return &call.Outcome{
		Invitation: &call.Invitation{
			RoomID:     "room-1",
			InviterID:  "alice",
			InviteeIDs: []string{"me"},
			Media:      call.MediaVideo,
		},
		Reason:  call.ReasonInviteTimeout,
		Status:  "timeout",
		EndedAt: time.Now(),
	}
}

func TestCallMissedSendsToEverySubscription(t *testing.T) {
	store := testStoreWithSub(t, "https://push.example/a")
	err := store.SaveSubscription(context.Background(), &history.PushSubscription{
		Endpoint: "https://push.example/b", P256DH: "key", Auth: "auth",
	})
	if err != nil {
		t.Fatalf("save subscription: %v", err)
	}

	n := New(testKeys(t), store, nil)
	var sent []string
	n.send = func(msg []byte, s *webpush.Subscription, _ *webpush.Options) (*http.Response, error) {
		var payload pushPayload
		if err := json.Unmarshal(msg, &payload); err != nil {
			t.Errorf("payload is not json: %v", err)
		}
		if !strings.Contains(payload.Body, "alice") {
			t.Errorf("body %q does not name the caller", payload.Body)
		}
		if !strings.Contains(payload.Body, "video") {
			t.Errorf("body %q does not mention video", payload.Body)
		}
		sent = append(sent, s.Endpoint)
		return fakeResponse(http.StatusCreated), nil
	}

	n.CallMissed(context.Background(), missedOutcome())
	if len(sent) != 2 {
		t.Fatalf("sent to %d endpoints, want 2", len(sent))
	}
}

func TestGonePushEndpointIsDropped(t *testing.T) {
	store := testStoreWithSub(t, "https://push.example/dead")
	n := New(testKeys(t), store, nil)
	n.send = func(_ []byte, _ *webpush.Subscription, _ *webpush.Options) (*http.Response, error) {
		return fakeResponse(http.StatusGone), nil
	}

	n.CallMissed(context.Background(), missedOutcome())

	subs, err := store.Subscriptions(context.Background())
	if err != nil {
		t.Fatalf("subscriptions: %v", err)
	}
	if len(subs) != 0 {
		t.Fatalf("dead subscription kept: %+v", subs)
	}
}

func TestReporterNotifiesOnlyMissedIncoming(t *testing.T) {
	cases := []struct {
		name     string
		inviter  string
		reason   call.CloseReason
		wantPush bool
	}{
		{"incoming timeout", "alice", call.ReasonInviteTimeout, true},
		{"incoming canceled by caller", "alice", call.ReasonCancelByOthers, true},
		{"incoming answered", "alice", call.ReasonHangUpByOthers, false},
		{"incoming declined here", "alice", call.ReasonCancelByMe, false},
		{"outgoing timeout", "me", call.ReasonInviteTimeout, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := testStoreWithSub(t, "https://push.example/a")
			n := New(testKeys(t), store, nil)
			pushed := false
			n.send = func(_ []byte, _ *webpush.Subscription, _ *webpush.Options) (*http.Response, error) {
				pushed = true
				return fakeResponse(http.StatusCreated), nil
			}

			r := NewReporter(store, n, "me")
			o := missedOutcome()
			o.Invitation.InviterID = tc.inviter
			o.Reason = tc.reason
			o.Status = tc.reason.Status()
			r.Report(context.Background(), o)

			if pushed != tc.wantPush {
				t.Fatalf("pushed = %v, want %v", pushed, tc.wantPush)
			}
			records, err := store.List(context.Background(), 10, 0)
			if err != nil || len(records) != 1 {
				t.Fatalf("record not stored: %v %d", err, len(records))
			}
		})
	}
}

func TestNotifierWithoutKeysIsSilent(t *testing.T) {
	store := testStoreWithSub(t, "https://push.example/a")
	n := New(VAPIDKeys{}, store, nil)
	n.send = func(_ []byte, _ *webpush.Subscription, _ *webpush.Options) (*http.Response, error) {
		t.Fatal("send must not be called without keys")
		return nil, nil
	}
	n.CallMissed(context.Background(), missedOutcome())
}
