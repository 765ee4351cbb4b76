// Package notify delivers missed-call web-push notifications to the
// account's companion devices.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/dverbeek/palaver/internal/call"
	"github.com/dverbeek/palaver/internal/history"
)

// VAPIDKeys identify this installation to the push services.
type VAPIDKeys struct {
	PublicKey  string `json:"public_key"`
	PrivateKey string `json:"private_key"`
	Subject    string `json:"subject"`
}

// GenerateVAPIDKeys creates a fresh key pair for first-run setup.
func GenerateVAPIDKeys(subject string) (VAPIDKeys, error) {
	priv, pub, err := webpush.GenerateVAPIDKeys()
	if err != nil {
		return VAPIDKeys{}, fmt.Errorf("generate vapid keys: %w", err)
	}
	return VAPIDKeys{PublicKey: pub, PrivateKey: priv, Subject: subject}, nil
}

// Notifier pushes missed-call payloads to every stored subscription.
type Notifier struct {
	keys   VAPIDKeys
	store  *history.Store
	logger *slog.Logger

	// send is swapped out in tests.
	send func(message []byte, s *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

func New(keys VAPIDKeys, store *history.Store, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		keys:   keys,
		store:  store,
		logger: logger,
		send:   webpush.SendNotification,
	}
}

// PublicKey is what the subscribing page needs for pushManager.subscribe.
func (n *Notifier) PublicKey() string {
	return n.keys.PublicKey
}

type pushPayload struct {
	Title   string         `json:"title"`
	Body    string         `json:"body"`
	Urgency string         `json:"urgency"`
	Data    map[string]any `json:"data,omitempty"`
}

// CallMissed fans a missed-call notification out to all subscriptions.
// Endpoints the push service reports gone are dropped from the store.
func (n *Notifier) CallMissed(ctx context.Context, o *call.Outcome) {
	if n.keys.PrivateKey == "" {
		return
	}
	subs, err := n.store.Subscriptions(ctx)
	if err != nil {
		n.logger.Error("cannot load push subscriptions", "error", err)
		return
	}
	if len(subs) == 0 {
		return
	}

	payload, err := json.Marshal(pushPayload{
		Title:   "Missed call",
		Body:    missedBody(o.Invitation),
		Urgency: "high",
		Data: map[string]any{
			"room_id":  o.Invitation.RoomID,
			"ended_at": o.EndedAt.Format(time.RFC3339),
		},
	})
	if err != nil {
		n.logger.Error("cannot marshal push payload", "error", err)
		return
	}

	for _, sub := range subs {
		resp, err := n.send(payload, &webpush.Subscription{
			Endpoint: sub.Endpoint,
			Keys: webpush.Keys{
				P256dh: sub.P256DH,
				Auth:   sub.Auth,
			},
		}, &webpush.Options{
			Subscriber:      n.keys.Subject,
			VAPIDPublicKey:  n.keys.PublicKey,
			VAPIDPrivateKey: n.keys.PrivateKey,
			TTL:             60,
		})
		if err != nil {
			n.logger.Warn("push delivery failed",
				"endpoint", truncate(sub.Endpoint, 60), "error", err)
			continue
		}
		if resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound {
			n.logger.Info("dropping dead push subscription",
				"endpoint", truncate(sub.Endpoint, 60), "status", resp.StatusCode)
			if err := n.store.DeleteSubscription(ctx, sub.Endpoint); err != nil {
				n.logger.Warn("cannot drop subscription", "error", err)
			}
		}
		resp.Body.Close()
	}
}

func missedBody(inv *call.Invitation) string {
	kind := "call"
	if inv.Media == call.MediaVideo {
		kind = "video call"
	}
	if inv.IsGroup() {
		return fmt.Sprintf("Missed group %s from %s", kind, inv.InviterID)
	}
	return fmt.Sprintf("Missed %s from %s", kind, inv.InviterID)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Reporter chains history insertion with missed-call notification. It is the
// call.OutcomeReporter the session manager is wired with.
type Reporter struct {
	store    *history.Store
	notifier *Notifier
	selfID   string
}

func NewReporter(store *history.Store, notifier *Notifier, selfID string) *Reporter {
	return &Reporter{store: store, notifier: notifier, selfID: selfID}
}

func (r *Reporter) Report(ctx context.Context, o *call.Outcome) {
	r.store.Report(ctx, o)
	if r.notifier != nil && r.missed(o) {
		r.notifier.CallMissed(ctx, o)
	}
}

func (r *Reporter) missed(o *call.Outcome) bool {
	if o.Invitation.InviterID == r.selfID {
		return false
	}
	switch o.Reason {
	case call.ReasonInviteTimeout, call.ReasonCancelByOthers:
		return true
	}
	return false
}

var _ call.OutcomeReporter = (*Reporter)(nil)
