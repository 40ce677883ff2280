package types

// NotificationType represents the type of notification
type NotificationType string

const (
	NotificationMention  NotificationType = "mention"
	NotificationReply    NotificationType = "reply"
	NotificationReaction NotificationType = "reaction"
	NotificationZap      NotificationType = "zap"
)

// Notification is a classified event directed at a pubkey.
type Notification struct {
	ID        string           `json:"id"`
	Type      NotificationType `json:"type"`
	Post      Post             `json:"post"`
	Actor     Author           `json:"actor"`
	ZapSats   int64            `json:"zap_sats,omitempty"`
	CreatedAt int64            `json:"created_at"`
}
