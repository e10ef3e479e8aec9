package entity

type MessageStatus uint32

const (
	MessageStatusUnknown MessageStatus = iota
	MessageStatusQueued
	MessageStatusSent
	MessageStatusDelivered
	MessageStatusOpened
	MessageStatusClicked
	MessageStatusBounced
	MessageStatusBlocked
	MessageStatusFailed
)

var MessageStatuses = map[MessageStatus]string{
	MessageStatusQueued:    "queued",
	MessageStatusSent:      "sent",
	MessageStatusDelivered: "delivered",
	MessageStatusOpened:    "opened",
	MessageStatusClicked:   "clicked",
	MessageStatusBounced:   "bounced",
	MessageStatusBlocked:   "blocked",
	MessageStatusFailed:    "failed",
}

func (s MessageStatus) String() string {
	if name, ok := MessageStatuses[s]; ok {
		return name
	}
	return "unknown"
}

type Message struct {
	ID               *uint64       `json:"id,omitempty"`
	CampaignID       *uint64       `json:"campaign_id,omitempty"`
	RecipientID      *uint64       `json:"recipient_id,omitempty"`
	RecipientAddress *string       `json:"recipient_address,omitempty"`
	Subject          *string       `json:"subject,omitempty"`
	HtmlBody         *string       `json:"html_body,omitempty"`
	ProviderID       *string       `json:"provider_id,omitempty"`
	Status           MessageStatus `json:"status,omitempty"`
	QueuedAt         *uint64       `json:"queued_at,omitempty"`
	SentAt           *uint64       `json:"sent_at,omitempty"`
	DeliveredAt      *uint64       `json:"delivered_at,omitempty"`
	OpenedAt         *uint64       `json:"opened_at,omitempty"`
	ClickedAt        *uint64       `json:"clicked_at,omitempty"`
	BouncedAt        *uint64       `json:"bounced_at,omitempty"`
	BlockedAt        *uint64       `json:"blocked_at,omitempty"`
	ErrorMessage     *string       `json:"error_message,omitempty"`
	CreateTime       *uint64       `json:"create_time,omitempty"`
	UpdateTime       *uint64       `json:"update_time,omitempty"`
}

func (e *Message) GetID() uint64 {
	if e != nil && e.ID != nil {
		return *e.ID
	}
	return 0
}

func (e *Message) GetCampaignID() uint64 {
	if e != nil && e.CampaignID != nil {
		return *e.CampaignID
	}
	return 0
}

func (e *Message) GetRecipientID() uint64 {
	if e != nil && e.RecipientID != nil {
		return *e.RecipientID
	}
	return 0
}

func (e *Message) GetRecipientAddress() string {
	if e != nil && e.RecipientAddress != nil {
		return *e.RecipientAddress
	}
	return ""
}

func (e *Message) GetSubject() string {
	if e != nil && e.Subject != nil {
		return *e.Subject
	}
	return ""
}

func (e *Message) GetHtmlBody() string {
	if e != nil && e.HtmlBody != nil {
		return *e.HtmlBody
	}
	return ""
}

func (e *Message) GetProviderID() string {
	if e != nil && e.ProviderID != nil {
		return *e.ProviderID
	}
	return ""
}

func (e *Message) GetStatus() MessageStatus {
	if e != nil {
		return e.Status
	}
	return MessageStatusUnknown
}

func (e *Message) GetSentAt() uint64 {
	if e != nil && e.SentAt != nil {
		return *e.SentAt
	}
	return 0
}

func (e *Message) GetDeliveredAt() uint64 {
	if e != nil && e.DeliveredAt != nil {
		return *e.DeliveredAt
	}
	return 0
}

func (e *Message) GetOpenedAt() uint64 {
	if e != nil && e.OpenedAt != nil {
		return *e.OpenedAt
	}
	return 0
}

func (e *Message) GetClickedAt() uint64 {
	if e != nil && e.ClickedAt != nil {
		return *e.ClickedAt
	}
	return 0
}

func (e *Message) GetBouncedAt() uint64 {
	if e != nil && e.BouncedAt != nil {
		return *e.BouncedAt
	}
	return 0
}

func (e *Message) GetBlockedAt() uint64 {
	if e != nil && e.BlockedAt != nil {
		return *e.BlockedAt
	}
	return 0
}

func (e *Message) GetErrorMessage() string {
	if e != nil && e.ErrorMessage != nil {
		return *e.ErrorMessage
	}
	return ""
}
