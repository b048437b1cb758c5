package tenant

import (
	"strings"
	"time"
)

type Tier string

const (
	TierFree    Tier = "free"
	TierPremium Tier = "premium"
)

func ParseTier(s string) Tier {
	if strings.EqualFold(strings.TrimSpace(s), string(TierPremium)) {
		return TierPremium
	}
	return TierFree
}

type Tenant struct {
	ID                int64     `json:"id"`
	Name              string    `json:"name"`
	Email             string    `json:"email"`
	NotificationEmail string    `json:"notification_email"`
	Tier              Tier      `json:"tier"`
	TelegramChatID    string    `json:"telegram_chat_id"`
	CreatedAt         time.Time `json:"created_at"`
}

// ContactAddress is the preferred notification address, falling back to the
// account email. Empty when neither is set.
func (t *Tenant) ContactAddress() string {
	if a := strings.TrimSpace(t.NotificationEmail); a != "" {
		return a
	}
	return strings.TrimSpace(t.Email)
}

func (t *Tenant) ChatEligible() bool {
	return t.Tier == TierPremium && strings.TrimSpace(t.TelegramChatID) != ""
}
