package mq

type Payload uint32

const (
	PayloadUnknown Payload = iota
	PayloadDeliveryLog
)

var Payloads = map[Payload]string{
	PayloadDeliveryLog: "delivery_log",
}

// DeliveryLog is published once per applied message transition.
type DeliveryLog struct {
	MessageID  *uint64 `json:"message_id"`
	CampaignID *uint64 `json:"campaign_id"`
	Event      *uint32 `json:"event"`
	Detail     *string `json:"detail,omitempty"`
	CreateTime *uint64 `json:"create_time"`
}

func (m *DeliveryLog) GetMessageID() uint64 {
	if m != nil && m.MessageID != nil {
		return *m.MessageID
	}
	return 0
}

func (m *DeliveryLog) GetCampaignID() uint64 {
	if m != nil && m.CampaignID != nil {
		return *m.CampaignID
	}
	return 0
}

func (m *DeliveryLog) GetEvent() uint32 {
	if m != nil && m.Event != nil {
		return *m.Event
	}
	return 0
}

func (m *DeliveryLog) GetDetail() string {
	if m != nil && m.Detail != nil {
		return *m.Detail
	}
	return ""
}

func (m *DeliveryLog) GetCreateTime() uint64 {
	if m != nil && m.CreateTime != nil {
		return *m.CreateTime
	}
	return 0
}
