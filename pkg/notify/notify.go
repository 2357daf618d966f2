// Package notify groups checks that need attention by recipient and hands
// each group to a delivery channel.
package notify

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-monitor/pkg/models"
)

// EmailSender delivers a digest of checks to one email address.
type EmailSender interface {
	SendFailingChecksEmail(ctx context.Context, recipient string, checks []models.Check) error
}

// ChatSender delivers a digest of checks to one chat channel.
type ChatSender interface {
	SendFailingChecksChat(ctx context.Context, channel string, checks []models.Check) error
}

// Delivery is the full set of notification channels.
type Delivery interface {
	EmailSender
	ChatSender
}

// ErrChannelDisabled is returned by a delivery whose channel is not configured.
var ErrChannelDisabled = errors.New("notification channel not configured")

// MultiDelivery combines separate email and chat senders. A nil sender
// disables its channel.
type MultiDelivery struct {
	Email  EmailSender
	Chat   ChatSender
	Logger *zap.Logger
}

var _ Delivery = (*MultiDelivery)(nil)

func (m *MultiDelivery) SendFailingChecksEmail(ctx context.Context, recipient string, checks []models.Check) error {
	if m.Email == nil {
		m.logDisabled("email", recipient)
		return ErrChannelDisabled
	}
	return m.Email.SendFailingChecksEmail(ctx, recipient, checks)
}

func (m *MultiDelivery) SendFailingChecksChat(ctx context.Context, channel string, checks []models.Check) error {
	if m.Chat == nil {
		m.logDisabled("chat", channel)
		return ErrChannelDisabled
	}
	return m.Chat.SendFailingChecksChat(ctx, channel, checks)
}

func (m *MultiDelivery) logDisabled(kind, target string) {
	if m.Logger != nil {
		m.Logger.Debug("notification channel disabled", zap.String("channel", kind), zap.String("target", target))
	}
}
