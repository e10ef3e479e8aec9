package entity

type Event uint32

const (
	EventUnknown Event = iota
	EventSent
	EventFailed
	EventDelivered
	EventBounced
	EventBlocked
	EventComplained
	EventOpened
	EventClicked
	EventUnsubscribed
)

var Events = map[Event]string{
	EventSent:         "sent",
	EventFailed:       "failed",
	EventDelivered:    "delivered",
	EventBounced:      "bounced",
	EventBlocked:      "blocked",
	EventComplained:   "complained",
	EventOpened:       "opened",
	EventClicked:      "clicked",
	EventUnsubscribed: "unsubscribed",
}

type DeliveryLog struct {
	ID         *uint64 `json:"id,omitempty"`
	MessageID  *uint64 `json:"message_id,omitempty"`
	CampaignID *uint64 `json:"campaign_id,omitempty"`
	Event      Event   `json:"event,omitempty"`
	Detail     *string `json:"detail,omitempty"`
	CreateTime *uint64 `json:"create_time,omitempty"`
}

func (e *DeliveryLog) GetMessageID() uint64 {
	if e != nil && e.MessageID != nil {
		return *e.MessageID
	}
	return 0
}

func (e *DeliveryLog) GetEvent() Event {
	if e != nil {
		return e.Event
	}
	return EventUnknown
}

func (e *DeliveryLog) GetDetail() string {
	if e != nil && e.Detail != nil {
		return *e.Detail
	}
	return ""
}
