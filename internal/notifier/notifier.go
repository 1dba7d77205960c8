// Package notifier composes and delivers the outbound messages once
// a worker has atomically won the right to notify a (watch, type)
// pair.  Delivery is deliberately at-most-once: a send that fails
// after the dedup receipt was recorded is logged and NOT retried,
// since retrying risks the duplicate the receipt exists to prevent.
// Operators opt into the trade-off explicitly via configuration.
package notifier

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/smtp"
	"sync"
	"time"

	"github.com/emersion/go-message/mail"

	"github.com/Divkix/pickmyclass/internal/model"
	"github.com/Divkix/pickmyclass/internal/obs"
)

// Config holds SMTP settings and the outbound pacing policy.
type Config struct {
	Host      string
	Port      string
	Username  string
	Password  string
	From      string
	FromName  string
	SendDelay time.Duration // minimum gap between two sends
	// RetryFailedSends documents the at-most-once trade-off.  The
	// dispatcher does not implement redelivery; setting this flags
	// failed sends at error level so an operator can follow up.
	RetryFailedSends bool
}

// sendFunc matches smtp.SendMail; injectable for tests.
type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Mailer sends notification emails with a small inter-message delay
// so a large fan-out does not burst the SMTP relay.
type Mailer struct {
	cfg    Config
	logger *obs.Logger
	send   sendFunc

	mu       sync.Mutex
	lastSend time.Time
}

// New returns a Mailer using net/smtp for transport.
func New(cfg Config, logger *obs.Logger) *Mailer {
	if cfg.SendDelay <= 0 {
		cfg.SendDelay = 500 * time.Millisecond
	}
	if cfg.FromName == "" {
		cfg.FromName = "PickMyClass"
	}
	return &Mailer{cfg: cfg, logger: logger, send: smtp.SendMail}
}

// Notify composes and sends one message for the given watcher and
// section state.  The caller must already hold the dedup receipt.
func (m *Mailer) Notify(ctx context.Context, w model.Watcher, st *model.ClassState, typ model.NotificationType) error {
	if err := m.pace(ctx); err != nil {
		return err
	}

	msg, err := m.compose(w.Email, st, typ)
	if err != nil {
		return fmt.Errorf("notifier: compose: %w", err)
	}

	addr := m.cfg.Host + ":" + m.cfg.Port
	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}
	if err := m.send(addr, auth, m.cfg.From, []string{w.Email}, msg); err != nil {
		level := "warn_at_most_once"
		if m.cfg.RetryFailedSends {
			level = "needs_operator_followup"
		}
		if m.logger != nil {
			m.logger.Error(map[string]interface{}{
				"component": "notifier",
				"op":        "send",
				"watch_id":  w.WatchID,
				"type":      string(typ),
				"policy":    level,
				"error":     err.Error(),
			})
		}
		return fmt.Errorf("notifier: send to watch %d: %w", w.WatchID, err)
	}
	return nil
}

// pace enforces the inter-message delay.
func (m *Mailer) pace(ctx context.Context) error {
	m.mu.Lock()
	wait := m.cfg.SendDelay - time.Since(m.lastSend)
	m.lastSend = time.Now().Add(max(wait, 0))
	m.mu.Unlock()

	if wait <= 0 {
		return nil
	}
	select {
	case <-time.After(wait):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Mailer) compose(to string, st *model.ClassState, typ model.NotificationType) ([]byte, error) {
	var subject, body string
	course := fmt.Sprintf("%s %s (section %s, term %s)", st.Subject, st.CatalogNbr, st.ClassNbr, st.Term)
	switch typ {
	case model.NotificationSeatAvailable:
		subject = fmt.Sprintf("Seats open in %s %s", st.Subject, st.CatalogNbr)
		body = fmt.Sprintf("Good news! %s now has %d of %d seats available.\n\nRegister soon; seats go fast.\n",
			course, st.SeatsAvailable, st.SeatsCapacity)
	case model.NotificationInstructorAssigned:
		subject = fmt.Sprintf("Instructor assigned for %s %s", st.Subject, st.CatalogNbr)
		body = fmt.Sprintf("%s now lists %s as the instructor.\n", course, st.InstructorName)
	default:
		return nil, fmt.Errorf("unknown notification type %q", typ)
	}

	var h mail.Header
	h.SetDate(time.Now().UTC())
	h.SetAddressList("From", []*mail.Address{{Name: m.cfg.FromName, Address: m.cfg.From}})
	h.SetAddressList("To", []*mail.Address{{Address: to}})
	h.SetSubject(subject)
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, err
	}
	if _, err := io.WriteString(w, body); err != nil {
		_ = w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
