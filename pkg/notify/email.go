package notify

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/wneessen/go-mail"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-monitor/pkg/config"
	"github.com/ekaya-inc/ekaya-monitor/pkg/models"
)

const defaultSMTPPort = 25

// MailSender delivers built messages. *mail.Client satisfies it.
type MailSender interface {
	DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error
}

// EmailDelivery sends digests over SMTP.
type EmailDelivery struct {
	from   string
	sender MailSender
	now    func() time.Time
	logger *zap.Logger
}

var _ EmailSender = (*EmailDelivery)(nil)

// NewEmailDelivery creates an SMTP delivery. It returns nil when cfg.Addr is
// empty, which disables email. STARTTLS is used when the server offers it.
func NewEmailDelivery(cfg config.SMTPConfig, logger *zap.Logger) (*EmailDelivery, error) {
	if cfg.Addr == "" {
		return nil, nil
	}

	host, port := cfg.Addr, defaultSMTPPort
	if h, p, err := net.SplitHostPort(cfg.Addr); err == nil {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid SMTP port in %q: %w", cfg.Addr, err)
		}
		host, port = h, n
	}

	opts := []mail.Option{
		mail.WithPort(port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password))
	}

	client, err := mail.NewClient(host, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create SMTP client: %w", err)
	}

	return &EmailDelivery{
		from:   cfg.From,
		sender: client,
		now:    time.Now,
		logger: logger.Named("email"),
	}, nil
}

// WithSender replaces the SMTP transport.
func (d *EmailDelivery) WithSender(s MailSender) *EmailDelivery {
	d.sender = s
	return d
}

func (d *EmailDelivery) SendFailingChecksEmail(ctx context.Context, recipient string, checks []models.Check) error {
	msg, err := d.build(recipient, checks)
	if err != nil {
		return err
	}

	if err := d.sender.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("failed to send email to %s: %w", recipient, err)
	}

	d.logger.Info("sent failing checks email",
		zap.String("recipient", recipient),
		zap.Int("checks", len(checks)))
	return nil
}

func (d *EmailDelivery) build(recipient string, checks []models.Check) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(d.from); err != nil {
		return nil, fmt.Errorf("invalid sender %q: %w", d.from, err)
	}
	if err := msg.To(recipient); err != nil {
		return nil, fmt.Errorf("invalid recipient %q: %w", recipient, err)
	}
	msg.Subject(Subject(checks))
	msg.SetDateWithValue(d.now())

	var body strings.Builder
	for _, line := range Lines(checks) {
		body.WriteString("- ")
		body.WriteString(line)
		body.WriteString("\n")
	}
	msg.SetBodyString(mail.TypeTextPlain, body.String())
	return msg, nil
}
