// Package notification implements the trial-warning notification sink.
//
// Delivery is fire-and-forget and best-effort: sends run on their own
// goroutine with a detached timeout, and failures are logged and swallowed.
// A lost notification never blocks or fails the lifecycle transition that
// triggered it.
package notification

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// KindTrialWarning identifies the trial-expiring notification.
const KindTrialWarning = "trial_warning"

const sendTimeout = 10 * time.Second

// Message is the payload delivered to each sender.
type Message struct {
	Kind    string            // Notification kind, e.g. "trial_warning".
	UserID  string            // Recipient.
	Subject string            // Short human-readable summary.
	Body    string            // Plain text body.
	Payload map[string]string // Structured extras (days_remaining, expires_at).
}

// Sender delivers a message through one channel.
type Sender interface {
	// Name returns the channel identifier ("log", "webhook").
	Name() string
	Send(ctx context.Context, msg *Message) error
}

// Dispatcher fans a notification out to every configured sender.
type Dispatcher struct {
	senders []Sender
	logger  *slog.Logger

	// wg lets tests wait for in-flight sends.
	wg sync.WaitGroup
}

// NewDispatcher creates a dispatcher over the given senders. With no senders
// it degrades to a LogSender so warnings are at least visible.
func NewDispatcher(logger *slog.Logger, senders ...Sender) *Dispatcher {
	if len(senders) == 0 {
		senders = []Sender{NewLogSender(logger)}
	}
	return &Dispatcher{senders: senders, logger: logger}
}

// TrialWarning emits the trial-expiring notification for a user.
// Returns immediately; delivery happens in the background.
func (d *Dispatcher) TrialWarning(_ context.Context, userID string, daysRemaining int, expiresAt time.Time) {
	msg := &Message{
		Kind:    KindTrialWarning,
		UserID:  userID,
		Subject: "Your trial sandbox is expiring soon",
		Body: fmt.Sprintf(
			"Your trial workspace expires in %d day(s), on %s. Import your data or contact us to convert before it is frozen.",
			daysRemaining, expiresAt.Format("2006-01-02"),
		),
		Payload: map[string]string{
			"days_remaining": fmt.Sprintf("%d", daysRemaining),
			"expires_at":     expiresAt.Format(time.RFC3339),
		},
	}
	d.dispatch(msg)
}

// dispatch sends the message through every sender on its own goroutine.
// The send context is detached from the caller: the lifecycle transition
// that triggered the notification must not be tied to delivery.
func (d *Dispatcher) dispatch(msg *Message) {
	for _, s := range d.senders {
		d.wg.Add(1)
		go func(s Sender) {
			defer d.wg.Done()

			ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
			defer cancel()

			if err := s.Send(ctx, msg); err != nil {
				d.logger.Warn("notification send failed",
					slog.String("sender", s.Name()),
					slog.String("kind", msg.Kind),
					slog.String("user_id", msg.UserID),
					slog.String("error", err.Error()),
				)
				return
			}
			d.logger.Info("notification sent",
				slog.String("sender", s.Name()),
				slog.String("kind", msg.Kind),
				slog.String("user_id", msg.UserID),
			)
		}(s)
	}
}

// Flush blocks until all in-flight sends have finished. Test hook.
func (d *Dispatcher) Flush() {
	d.wg.Wait()
}
