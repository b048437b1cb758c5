package notification

import "context"

// Repo stores the delivery audit trail.
type Repo interface {
	Create(ctx context.Context, n *Notification) error
	ListByTenant(ctx context.Context, tenantID int64, limit int) ([]*Notification, error)
}

// EmailSender delivers one rendered message to a mailbox.
type EmailSender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// ChatSender posts plain text to a chat by id.
type ChatSender interface {
	Send(ctx context.Context, chatID, text string) error
}
