package alert

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/wongchs/brainwaved/internal/frame"
	"github.com/wongchs/brainwaved/internal/lifecycle"
	"github.com/wongchs/brainwaved/internal/location"
	"github.com/wongchs/brainwaved/internal/session"
	"github.com/wongchs/brainwaved/internal/store"
)

// Store is the slice of persistence the pipeline consumes.
type Store interface {
	SaveSeizure(ctx context.Context, rec store.SeizureRecord) (string, error)
	ListContacts(ctx context.Context, userID string) ([]store.EmergencyContact, error)
	GetProfile(ctx context.Context) (store.Profile, error)
}

// Pipeline fans one seizure event out to persistence, notification, the UI
// and SMS. Every leg is best-effort: a failure is logged and the remaining
// legs still run.
type Pipeline struct {
	Store    Store
	Notifier Notifier
	SMS      Sender
	Location location.Provider

	// OnSeizure pushes the stored record (id already assigned, possibly
	// empty on a failed write) into the UI layer's in-memory state.
	OnSeizure func(rec store.SeizureRecord)
}

// HandleSeizure reacts to one seizure-classified frame. It never returns an
// error; nothing downstream of the read loop may abort the stream.
func (p *Pipeline) HandleSeizure(ctx context.Context, msg frame.Message) {
	var fix *location.Fix
	if p.Location != nil {
		fix = p.Location.BestEffort(ctx)
	}

	profile, err := p.Store.GetProfile(ctx)
	if err != nil {
		slog.Warn("[ALERT] profile unavailable, recording without user", "error", err)
	}

	rec := store.SeizureRecord{
		UserID:    profile.ID,
		Timestamp: msg.Timestamp,
		Samples:   msg.Samples,
	}
	if fix != nil {
		rec.Latitude = &fix.Latitude
		rec.Longitude = &fix.Longitude
		rec.Address = fix.Address
	}

	id, err := p.Store.SaveSeizure(ctx, rec)
	if err != nil {
		// The alert still goes out; the record id stays empty.
		slog.Error("[ALERT] failed to persist seizure record", "error", err)
		id = ""
	}
	rec.ID = id

	// Seizure alerts fire regardless of foreground state.
	if p.Notifier != nil {
		n := Notification{
			Kind:       KindSeizure,
			Title:      "Seizure Detected",
			Body:       seizureBody(msg.Timestamp, fix),
			DeepLinkID: id,
		}
		if err := p.Notifier.Notify(ctx, n); err != nil {
			slog.Error("[ALERT] seizure notification failed", "error", err)
		}
	}

	if p.OnSeizure != nil {
		p.OnSeizure(rec)
	}

	p.sendSMS(ctx, profile, msg.Timestamp, fix)
}

// sendSMS messages every emergency contact, isolating per-contact failures.
func (p *Pipeline) sendSMS(ctx context.Context, profile store.Profile, timestamp string, fix *location.Fix) {
	if p.SMS == nil {
		return
	}
	contacts, err := p.Store.ListContacts(ctx, profile.ID)
	if err != nil {
		slog.Error("[ALERT] failed to load emergency contacts", "error", err)
		return
	}
	if len(contacts) == 0 {
		slog.Info("[ALERT] no emergency contacts configured, skipping SMS")
		return
	}

	body := smsBody(profile.Name, timestamp, fix)
	for _, c := range contacts {
		if err := p.SMS.Send(ctx, c.Phone, body); err != nil {
			slog.Error("[ALERT] SMS send failed", "contact", c.Name, "error", err)
			continue
		}
		slog.Info("[ALERT] SMS sent", "contact", c.Name)
	}
}

func seizureBody(timestamp string, fix *location.Fix) string {
	var b strings.Builder
	fmt.Fprintf(&b, "A seizure was detected at %s", timestamp)
	if fix != nil {
		fmt.Fprintf(&b, "\nLocation: %f, %f", fix.Latitude, fix.Longitude)
		if fix.Address != "" {
			fmt.Fprintf(&b, "\nAddress: %s", fix.Address)
		}
	} else {
		b.WriteString("\nLocation unavailable")
	}
	return b.String()
}

func smsBody(userName, timestamp string, fix *location.Fix) string {
	if userName == "" {
		userName = "Unknown User"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Seizure detected for %s at %s", userName, timestamp)
	if fix != nil {
		fmt.Fprintf(&b, "\nLocation: %f, %f", fix.Latitude, fix.Longitude)
		if fix.Address != "" {
			fmt.Fprintf(&b, "\nAddress: %s", fix.Address)
		}
	} else {
		b.WriteString("\nLocation information unavailable")
	}
	return b.String()
}

// NewStatusNotifier adapts supervisor state changes into status-info
// notifications, suppressed while the UI is foregrounded. Seizure alerts do
// not pass through here.
func NewStatusNotifier(gate *lifecycle.ForegroundGate, notifier Notifier) session.StateListener {
	return func(state session.State, detail string) {
		if notifier == nil || gate.Foregrounded() {
			return
		}
		n := Notification{
			Kind:  KindStatusInfo,
			Title: "EEG Monitor",
			Body:  statusBody(state, detail),
		}
		if err := notifier.Notify(context.Background(), n); err != nil {
			slog.Warn("[ALERT] status notification failed", "error", err)
		}
	}
}

// statusBody renders a state change in the wording the UI shows.
func statusBody(state session.State, detail string) string {
	switch state {
	case session.StateConnected:
		return "Connected to EEG device successfully"
	case session.StateDisconnected:
		return "Connection to EEG device lost. Attempting to reconnect..."
	case session.StateRetrying, session.StateConnecting:
		return detail
	case session.StateStopped:
		return "EEG monitoring stopped"
	default:
		return detail
	}
}
