package notifier

import (
	"context"

	"github.com/NordCoder/Zepatrol/internal/domain/notification"
	"github.com/NordCoder/Zepatrol/internal/domain/tenant"
)

// Channel is one delivery path. Address reports whether the tenant can be
// reached on it and where.
type Channel interface {
	Kind() notification.Channel
	Address(tn *tenant.Tenant) (string, bool)
	Send(ctx context.Context, addr string, msg Message) error
}

type EmailChannel struct{ Sender notification.EmailSender }

func (EmailChannel) Kind() notification.Channel { return notification.ChannelEmail }

func (EmailChannel) Address(tn *tenant.Tenant) (string, bool) {
	a := tn.ContactAddress()
	return a, a != ""
}

func (c EmailChannel) Send(ctx context.Context, addr string, msg Message) error {
	return c.Sender.Send(ctx, addr, msg.Subject, msg.Text)
}

// ChatChannel reaches premium tenants that registered a chat id.
type ChatChannel struct{ Sender notification.ChatSender }

func (ChatChannel) Kind() notification.Channel { return notification.ChannelTelegram }

func (ChatChannel) Address(tn *tenant.Tenant) (string, bool) {
	if !tn.ChatEligible() {
		return "", false
	}
	return tn.TelegramChatID, true
}

func (c ChatChannel) Send(ctx context.Context, addr string, msg Message) error {
	return c.Sender.Send(ctx, addr, msg.HTML)
}
