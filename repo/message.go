package repo

import (
	"context"
	"errors"
	"gorm.io/gorm"
	"outreach/entity"
	"outreach/pkg/goutil"
	"time"
)

const cachePrefixProviderID = "provider_id"

var (
	ErrMessageNotFound = errors.New("message not found")
)

type Message struct {
	ID               *uint64
	CampaignID       *uint64 `gorm:"index"`
	RecipientID      *uint64
	RecipientAddress *string `gorm:"type:varchar(320)"`
	Subject          *string `gorm:"type:varchar(998)"`
	HtmlBody         *string `gorm:"type:text"`
	ProviderID       *string `gorm:"type:varchar(255);index"`
	Status           *uint32
	QueuedAt         *uint64
	SentAt           *uint64
	DeliveredAt      *uint64
	OpenedAt         *uint64
	ClickedAt        *uint64
	BouncedAt        *uint64
	BlockedAt        *uint64
	ErrorMessage     *string `gorm:"type:text"`
	CreateTime       *uint64
	UpdateTime       *uint64
}

func (m *Message) TableName() string {
	return "message_tab"
}

func (m *Message) GetID() uint64 {
	if m != nil && m.ID != nil {
		return *m.ID
	}
	return 0
}

func (m *Message) GetStatus() uint32 {
	if m != nil && m.Status != nil {
		return *m.Status
	}
	return 0
}

// Transition is a single conditional update of a message row.
//
// Field, when set, names a timestamp column that is written at most once:
// the update only matches while the column is still NULL. Status is applied
// only when the current status is one of From, otherwise the row keeps its
// status while the remaining columns are still written.
type Transition struct {
	Field        string
	At           uint64
	Status       entity.MessageStatus
	From         []entity.MessageStatus
	ProviderID   *string
	ErrorMessage *string
	Guards       []*Condition
}

type MessageRepo interface {
	CreateMany(ctx context.Context, messages []*entity.Message) error
	GetByID(ctx context.Context, messageID uint64) (*entity.Message, error)
	GetByProviderID(ctx context.Context, providerID string) (*entity.Message, error)
	GetManyByCampaign(ctx context.Context, campaignID uint64, status entity.MessageStatus) ([]*entity.Message, error)
	CountByStatus(ctx context.Context, campaignID uint64) (map[entity.MessageStatus]int64, error)
	MarkSent(ctx context.Context, messageID uint64, providerID string, at uint64) (bool, error)
	MarkFailed(ctx context.Context, messageID uint64, errMsg string) (bool, error)
	// ApplyTransition reports true only for the write that changed the row.
	ApplyTransition(ctx context.Context, messageID uint64, t *Transition) (bool, error)
}

type messageRepo struct {
	baseRepo
	cache BaseCache
}

func NewMessageRepo(_ context.Context, orm *gorm.DB, cache BaseCache) MessageRepo {
	return &messageRepo{
		baseRepo: baseRepo{orm: orm},
		cache:    cache,
	}
}

func (r *messageRepo) CreateMany(ctx context.Context, messages []*entity.Message) error {
	if len(messages) == 0 {
		return nil
	}

	messageModels := make([]*Message, len(messages))
	for i, message := range messages {
		messageModels[i] = ToMessageModel(message)
	}

	if err := r.getDb(ctx).Create(messageModels).Error; err != nil {
		return err
	}

	for i, messageModel := range messageModels {
		messages[i].ID = messageModel.ID
	}

	return nil
}

func (r *messageRepo) GetByID(ctx context.Context, messageID uint64) (*entity.Message, error) {
	return r.get(ctx, &Filter{
		Conditions: []*Condition{
			{
				Field: "id",
				Op:    OpEq,
				Value: messageID,
			},
		},
	})
}

func (r *messageRepo) GetByProviderID(ctx context.Context, providerID string) (*entity.Message, error) {
	if providerID == "" {
		return nil, ErrMessageNotFound
	}

	if v, ok := r.cache.Get(ctx, cachePrefixProviderID, providerID); ok {
		if messageID, ok := v.(uint64); ok {
			return r.GetByID(ctx, messageID)
		}
	}

	message, err := r.get(ctx, &Filter{
		Conditions: []*Condition{
			{
				Field: "provider_id",
				Op:    OpEq,
				Value: providerID,
			},
		},
	})
	if err != nil {
		return nil, err
	}

	r.cache.Set(ctx, cachePrefixProviderID, providerID, message.GetID())

	return message, nil
}

func (r *messageRepo) get(ctx context.Context, f *Filter) (*entity.Message, error) {
	sqlQuery, args := ToSqlWithArgs(f)

	message := new(Message)
	if err := r.getDb(ctx).Where(sqlQuery, args...).First(message).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMessageNotFound
		}
		return nil, err
	}

	return ToMessage(message), nil
}

func (r *messageRepo) GetManyByCampaign(ctx context.Context, campaignID uint64, status entity.MessageStatus) ([]*entity.Message, error) {
	f := &Filter{
		Conditions: []*Condition{
			{
				Field:         "campaign_id",
				Op:            OpEq,
				Value:         campaignID,
				NextLogicalOp: And,
			},
		},
	}
	if status != entity.MessageStatusUnknown {
		f.Conditions = append(f.Conditions, &Condition{
			Field: "status",
			Op:    OpEq,
			Value: uint32(status),
		})
	}

	sqlQuery, args := ToSqlWithArgs(f)

	messageModels := make([]*Message, 0)
	if err := r.getDb(ctx).
		Where(sqlQuery, args...).
		Order("create_time ASC, id ASC").
		Find(&messageModels).Error; err != nil {
		return nil, err
	}

	messages := make([]*entity.Message, len(messageModels))
	for i, messageModel := range messageModels {
		messages[i] = ToMessage(messageModel)
	}

	return messages, nil
}

type statusCount struct {
	Status uint32
	Total  int64
}

func (r *messageRepo) CountByStatus(ctx context.Context, campaignID uint64) (map[entity.MessageStatus]int64, error) {
	rows := make([]*statusCount, 0)
	if err := r.getDb(ctx).
		Model(new(Message)).
		Select("status, COUNT(*) AS total").
		Where("campaign_id = ?", campaignID).
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, err
	}

	counts := make(map[entity.MessageStatus]int64, len(rows))
	for _, row := range rows {
		counts[entity.MessageStatus(row.Status)] = row.Total
	}

	return counts, nil
}

func (r *messageRepo) MarkSent(ctx context.Context, messageID uint64, providerID string, at uint64) (bool, error) {
	ok, err := r.ApplyTransition(ctx, messageID, &Transition{
		Field:      "sent_at",
		At:         at,
		Status:     entity.MessageStatusSent,
		From:       []entity.MessageStatus{entity.MessageStatusQueued},
		ProviderID: goutil.String(providerID),
		Guards: []*Condition{
			{
				Field: "status",
				Op:    OpEq,
				Value: uint32(entity.MessageStatusQueued),
			},
		},
	})
	if err != nil {
		return false, err
	}

	if ok {
		r.cache.Set(ctx, cachePrefixProviderID, providerID, messageID)
	}

	return ok, nil
}

func (r *messageRepo) MarkFailed(ctx context.Context, messageID uint64, errMsg string) (bool, error) {
	return r.ApplyTransition(ctx, messageID, &Transition{
		Status:       entity.MessageStatusFailed,
		From:         []entity.MessageStatus{entity.MessageStatusQueued},
		ErrorMessage: goutil.String(errMsg),
		Guards: []*Condition{
			{
				Field: "status",
				Op:    OpEq,
				Value: uint32(entity.MessageStatusQueued),
			},
		},
	})
}

func (r *messageRepo) ApplyTransition(ctx context.Context, messageID uint64, t *Transition) (bool, error) {
	updates := map[string]interface{}{
		"update_time": uint64(time.Now().Unix()),
	}

	conditions := []*Condition{
		{
			Field: "id",
			Op:    OpEq,
			Value: messageID,
		},
	}

	if t.Field != "" {
		updates[t.Field] = t.At
		conditions = append(conditions, &Condition{
			Field: t.Field,
			Op:    OpIsNull,
		})
	}

	if t.Status != entity.MessageStatusUnknown && len(t.From) > 0 {
		from := make([]uint32, len(t.From))
		for i, s := range t.From {
			from[i] = uint32(s)
		}
		updates["status"] = gorm.Expr("CASE WHEN status IN ? THEN ? ELSE status END", from, uint32(t.Status))
	}

	if t.ProviderID != nil {
		updates["provider_id"] = *t.ProviderID
	}

	if t.ErrorMessage != nil {
		updates["error_message"] = *t.ErrorMessage
	}

	conditions = append(conditions, t.Guards...)
	sqlQuery, args := ToSqlWithArgs(&Filter{Conditions: conditions})

	res := r.getDb(ctx).Model(new(Message)).Where(sqlQuery, args...).Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}

	return res.RowsAffected == 1, nil
}

func ToMessage(message *Message) *entity.Message {
	return &entity.Message{
		ID:               message.ID,
		CampaignID:       message.CampaignID,
		RecipientID:      message.RecipientID,
		RecipientAddress: message.RecipientAddress,
		Subject:          message.Subject,
		HtmlBody:         message.HtmlBody,
		ProviderID:       message.ProviderID,
		Status:           entity.MessageStatus(message.GetStatus()),
		QueuedAt:         message.QueuedAt,
		SentAt:           message.SentAt,
		DeliveredAt:      message.DeliveredAt,
		OpenedAt:         message.OpenedAt,
		ClickedAt:        message.ClickedAt,
		BouncedAt:        message.BouncedAt,
		BlockedAt:        message.BlockedAt,
		ErrorMessage:     message.ErrorMessage,
		CreateTime:       message.CreateTime,
		UpdateTime:       message.UpdateTime,
	}
}

func ToMessageModel(message *entity.Message) *Message {
	return &Message{
		ID:               message.ID,
		CampaignID:       message.CampaignID,
		RecipientID:      message.RecipientID,
		RecipientAddress: message.RecipientAddress,
		Subject:          message.Subject,
		HtmlBody:         message.HtmlBody,
		ProviderID:       message.ProviderID,
		Status:           goutil.Uint32(uint32(message.GetStatus())),
		QueuedAt:         message.QueuedAt,
		SentAt:           message.SentAt,
		DeliveredAt:      message.DeliveredAt,
		OpenedAt:         message.OpenedAt,
		ClickedAt:        message.ClickedAt,
		BouncedAt:        message.BouncedAt,
		BlockedAt:        message.BlockedAt,
		ErrorMessage:     message.ErrorMessage,
		CreateTime:       message.CreateTime,
		UpdateTime:       message.UpdateTime,
	}
}
