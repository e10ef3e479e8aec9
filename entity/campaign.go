package entity

type CampaignStatus uint32

const (
	CampaignStatusUnknown CampaignStatus = iota
	CampaignStatusDraft
	CampaignStatusRunning
	CampaignStatusCompleted
)

var CampaignStatuses = map[CampaignStatus]string{
	CampaignStatusDraft:     "draft",
	CampaignStatusRunning:   "running",
	CampaignStatusCompleted: "completed",
}

type CampaignCounter string

const (
	CounterSent      CampaignCounter = "sent_count"
	CounterDelivered CampaignCounter = "delivered_count"
	CounterOpened    CampaignCounter = "opened_count"
	CounterClicked   CampaignCounter = "clicked_count"
	CounterBounced   CampaignCounter = "bounced_count"
	CounterBlocked   CampaignCounter = "blocked_count"
)

type Campaign struct {
	ID             *uint64        `json:"id,omitempty"`
	Company        *string        `json:"company,omitempty"`
	Topic          *string        `json:"topic,omitempty"`
	Status         CampaignStatus `json:"status,omitempty"`
	TotalEmails    *uint64        `json:"total_emails,omitempty"`
	SentCount      *uint64        `json:"sent_count,omitempty"`
	DeliveredCount *uint64        `json:"delivered_count,omitempty"`
	OpenedCount    *uint64        `json:"opened_count,omitempty"`
	ClickedCount   *uint64        `json:"clicked_count,omitempty"`
	BouncedCount   *uint64        `json:"bounced_count,omitempty"`
	BlockedCount   *uint64        `json:"blocked_count,omitempty"`
	CreateTime     *uint64        `json:"create_time,omitempty"`
	UpdateTime     *uint64        `json:"update_time,omitempty"`
}

func (e *Campaign) GetID() uint64 {
	if e != nil && e.ID != nil {
		return *e.ID
	}
	return 0
}

func (e *Campaign) GetCompany() string {
	if e != nil && e.Company != nil {
		return *e.Company
	}
	return ""
}

func (e *Campaign) GetTopic() string {
	if e != nil && e.Topic != nil {
		return *e.Topic
	}
	return ""
}

func (e *Campaign) GetStatus() CampaignStatus {
	if e != nil {
		return e.Status
	}
	return CampaignStatusUnknown
}

func (e *Campaign) GetTotalEmails() uint64 {
	if e != nil && e.TotalEmails != nil {
		return *e.TotalEmails
	}
	return 0
}

func (e *Campaign) GetSentCount() uint64 {
	if e != nil && e.SentCount != nil {
		return *e.SentCount
	}
	return 0
}

func (e *Campaign) GetDeliveredCount() uint64 {
	if e != nil && e.DeliveredCount != nil {
		return *e.DeliveredCount
	}
	return 0
}

func (e *Campaign) GetOpenedCount() uint64 {
	if e != nil && e.OpenedCount != nil {
		return *e.OpenedCount
	}
	return 0
}

func (e *Campaign) GetClickedCount() uint64 {
	if e != nil && e.ClickedCount != nil {
		return *e.ClickedCount
	}
	return 0
}

func (e *Campaign) GetBouncedCount() uint64 {
	if e != nil && e.BouncedCount != nil {
		return *e.BouncedCount
	}
	return 0
}

func (e *Campaign) GetBlockedCount() uint64 {
	if e != nil && e.BlockedCount != nil {
		return *e.BlockedCount
	}
	return 0
}

// CampaignAnalytics holds the counters of a campaign along with rates in
// percent of sent messages.
type CampaignAnalytics struct {
	Campaign     *Campaign `json:"campaign,omitempty"`
	Delivered    *uint64   `json:"delivered,omitempty"`
	DeliveryRate *float64  `json:"delivery_rate,omitempty"`
	OpenRate     *float64  `json:"open_rate,omitempty"`
	ClickRate    *float64  `json:"click_rate,omitempty"`
	BounceRate   *float64  `json:"bounce_rate,omitempty"`
	Queued       *int64    `json:"queued,omitempty"`
	Failed       *int64    `json:"failed,omitempty"`
}
