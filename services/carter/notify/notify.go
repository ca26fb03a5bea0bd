package notify

import (
	"bytes"
	"context"
	"dropcarter/services/carter/checkout"
	"fmt"
	"log/slog"
	"net/smtp"
	"path/filepath"
	"strings"
	"time"

	"github.com/jordan-wright/email"
	"go.opentelemetry.io/otel/codes"
)

type SmtpConfig struct {
	Server       string `json:"server"`
	Port         int    `json:"port"`
	EmailAddress string `json:"email_address"`
	Password     string `json:"password"`
}

func (c SmtpConfig) Enabled() bool {
	return c.Server != "" && c.EmailAddress != ""
}

func (c SmtpConfig) addr() string {
	return fmt.Sprintf("%s:%d", c.Server, c.Port)
}

type sendFunc func(mail *email.Email, addr string, auth smtp.Auth) error

// Notifier mails the operator about every placed order, with the order
// snapshot attached.
type Notifier struct {
	config SmtpConfig
	to     []string
	runID  string
	send   sendFunc
}

func NewNotifier(config SmtpConfig, to []string, runID string) Notifier {
	return Notifier{
		config: config,
		to:     to,
		runID:  runID,
		send: func(mail *email.Email, addr string, auth smtp.Auth) error {
			return mail.Send(addr, auth)
		},
	}
}

func (n Notifier) Message(placement checkout.Placement) (*email.Email, error) {
	mail := email.NewEmail()
	mail.From = fmt.Sprintf("Drop Carter <%s>", n.config.EmailAddress)
	mail.To = n.to
	mail.Subject = fmt.Sprintf("Order #%d placed", placement.Number)

	cart := "unknown"
	if len(placement.Cart) > 0 {
		cart = strings.Join(placement.Cart, ", ")
	}
	mail.Text = []byte(fmt.Sprintf(`Order #%d was placed at %s.

Run: %s
Items: %s
`, placement.Number, placement.Time.Format(time.DateTime), n.runID, cart))

	if len(placement.Snapshot) > 0 {
		name := fmt.Sprintf("proof_of_order_%d.png", placement.Number)
		if placement.SnapshotPath != "" {
			name = filepath.Base(placement.SnapshotPath)
		}
		_, err := mail.Attach(bytes.NewReader(placement.Snapshot), name, "image/png")
		if err != nil {
			return nil, err
		}
	}
	return mail, nil
}

func (n Notifier) OrderPlaced(ctx context.Context, placement checkout.Placement) error {
	ctx, span := tracer.Start(ctx, "notify:OrderPlaced")
	defer span.End()

	if !n.config.Enabled() || len(n.to) == 0 {
		return nil
	}

	mail, err := n.Message(placement)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to build email")
		return err
	}

	err = n.send(
		mail,
		n.config.addr(),
		smtp.PlainAuth("", n.config.EmailAddress, n.config.Password, n.config.Server),
	)
	if err != nil && strings.Contains(err.Error(), "server doesn't support AUTH") {
		err = n.send(mail, n.config.addr(), nil)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to send email")
		return err
	}

	slog.InfoContext(ctx, "order notification sent", "order", placement.Number, "to", n.to)
	return nil
}
