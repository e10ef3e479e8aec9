package entity

// Provider webhook event types.
const (
	WebhookEmailDelivered       = "email.delivered"
	WebhookEmailBounced         = "email.bounced"
	WebhookEmailDeliveryDelayed = "email.delivery_delayed"
	WebhookEmailComplained      = "email.complained"
)

type WebhookBounce struct {
	Message *string `json:"message,omitempty"`
}

type WebhookData struct {
	EmailID *string        `json:"email_id,omitempty"`
	Bounce  *WebhookBounce `json:"bounce,omitempty"`
}

type WebhookEvent struct {
	Type *string      `json:"type,omitempty"`
	Data *WebhookData `json:"data,omitempty"`
}

func (e *WebhookEvent) GetType() string {
	if e != nil && e.Type != nil {
		return *e.Type
	}
	return ""
}

func (e *WebhookEvent) GetEmailID() string {
	if e != nil && e.Data != nil && e.Data.EmailID != nil {
		return *e.Data.EmailID
	}
	return ""
}

func (e *WebhookEvent) GetBounceMessage() string {
	if e != nil && e.Data != nil && e.Data.Bounce != nil && e.Data.Bounce.Message != nil {
		return *e.Data.Bounce.Message
	}
	return ""
}

type Classification uint32

const (
	ClassificationBounced Classification = iota
	ClassificationBlocked
)
