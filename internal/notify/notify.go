// Package notify emails the operator when sources get blocked.
package notify

import (
	"fmt"
	"html"
	"log/slog"
	"net/smtp"
	"sync"
	"time"

	"bot-admission-gateway/internal/core"
)

// DefaultCooldown caps alerts at one per hour no matter how many blocks happen.
const DefaultCooldown = time.Hour

type Mailer interface {
	Send(to, subject, htmlBody string) error
}

// SMTPMailer sends through a PLAIN-auth relay.
type SMTPMailer struct {
	Host       string
	Port       string
	User       string
	Pass       string
	SenderName string
}

func (m *SMTPMailer) Send(to, subject, htmlBody string) error {
	auth := smtp.PlainAuth("", m.User, m.Pass, m.Host)
	from := fmt.Sprintf("%s <%s>", m.SenderName, m.User)

	msg := []byte(fmt.Sprintf("From: %s\r\n"+
		"To: %s\r\n"+
		"Subject: %s\r\n"+
		"MIME-Version: 1.0\r\n"+
		"Content-Type: text/html; charset=UTF-8\r\n\r\n"+
		"%s\r\n", from, to, subject, htmlBody))

	// envelope sender must be the bare address
	return smtp.SendMail(m.Host+":"+m.Port, auth, m.User, []string{to}, msg)
}

// Notifier turns block events into throttled alerts. Blocks that land
// inside the cooldown are counted and reported with the next alert.
type Notifier struct {
	mailer   Mailer
	to       string
	cooldown time.Duration
	logger   *slog.Logger

	mu         sync.Mutex
	lastSent   time.Time
	suppressed int

	// send runs the mailer off the caller's goroutine
	send func(func())
}

func New(mailer Mailer, to string, cooldown time.Duration, logger *slog.Logger) *Notifier {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		mailer:   mailer,
		to:       to,
		cooldown: cooldown,
		logger:   logger,
		send:     func(fn func()) { go fn() },
	}
}

// HandleEvent is a ledger hook. Only blocks raise alerts.
func (n *Notifier) HandleEvent(ev core.LedgerEvent) {
	if ev.Kind != core.EventBlocked {
		return
	}

	n.mu.Lock()
	if !n.lastSent.IsZero() && ev.Timestamp.Sub(n.lastSent) < n.cooldown {
		n.suppressed++
		n.mu.Unlock()
		return
	}
	n.lastSent = ev.Timestamp
	earlier := n.suppressed
	n.suppressed = 0
	n.mu.Unlock()

	subject := fmt.Sprintf("[Bot Gateway] %s blocked", ev.SourceID)
	body := alertBody(ev, earlier)

	n.send(func() {
		if err := n.mailer.Send(n.to, subject, body); err != nil {
			n.logger.Warn("alert email failed", "to", n.to, "ip", ev.SourceID, "error", err)
		}
	})
}

func alertBody(ev core.LedgerEvent, earlier int) string {
	body := fmt.Sprintf(`
		<div style="font-family: Arial, sans-serif; color: #333;">
			<h2>Source blocked</h2>
			<p><b>IP:</b> %s</p>
			<p><b>Reason:</b> %s</p>
			<p><b>Time:</b> %s</p>`,
		html.EscapeString(ev.SourceID),
		html.EscapeString(ev.Reason),
		ev.Timestamp.UTC().Format(time.RFC1123))
	if earlier > 0 {
		body += fmt.Sprintf(`
			<p>%d more sources were blocked since the previous alert.</p>`, earlier)
	}
	return body + `
		</div>`
}
