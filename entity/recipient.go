package entity

type Recipient struct {
	ID              *uint64 `json:"id,omitempty"`
	Email           *string `json:"email,omitempty"`
	FirstName       *string `json:"first_name,omitempty"`
	LastName        *string `json:"last_name,omitempty"`
	PublicationName *string `json:"publication_name,omitempty"`
	Unsubscribed    *bool   `json:"unsubscribed,omitempty"`
	UnsubscribeTime *uint64 `json:"unsubscribe_time,omitempty"`
	CreateTime      *uint64 `json:"create_time,omitempty"`
	UpdateTime      *uint64 `json:"update_time,omitempty"`
}

func (e *Recipient) GetID() uint64 {
	if e != nil && e.ID != nil {
		return *e.ID
	}
	return 0
}

func (e *Recipient) GetEmail() string {
	if e != nil && e.Email != nil {
		return *e.Email
	}
	return ""
}

func (e *Recipient) GetFirstName() string {
	if e != nil && e.FirstName != nil {
		return *e.FirstName
	}
	return ""
}

func (e *Recipient) GetLastName() string {
	if e != nil && e.LastName != nil {
		return *e.LastName
	}
	return ""
}

func (e *Recipient) GetPublicationName() string {
	if e != nil && e.PublicationName != nil {
		return *e.PublicationName
	}
	return ""
}

func (e *Recipient) GetUnsubscribed() bool {
	if e != nil && e.Unsubscribed != nil {
		return *e.Unsubscribed
	}
	return false
}
