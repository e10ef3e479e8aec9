package repo

import (
	"context"
	"gorm.io/gorm"
	"outreach/entity"
	"outreach/pkg/goutil"
)

type DeliveryLog struct {
	ID         *uint64
	MessageID  *uint64 `gorm:"index"`
	CampaignID *uint64 `gorm:"index"`
	Event      *uint32
	Detail     *string `gorm:"type:text"`
	CreateTime *uint64
}

func (m *DeliveryLog) TableName() string {
	return "delivery_log_tab"
}

type DeliveryLogRepo interface {
	Create(ctx context.Context, deliveryLog *entity.DeliveryLog) error
	BatchCreate(ctx context.Context, deliveryLogs []*entity.DeliveryLog) error
	GetManyByMessage(ctx context.Context, messageID uint64) ([]*entity.DeliveryLog, error)
}

type deliveryLogRepo struct {
	baseRepo
}

func NewDeliveryLogRepo(_ context.Context, orm *gorm.DB) DeliveryLogRepo {
	return &deliveryLogRepo{baseRepo{orm: orm}}
}

func (r *deliveryLogRepo) Create(ctx context.Context, deliveryLog *entity.DeliveryLog) error {
	return r.BatchCreate(ctx, []*entity.DeliveryLog{deliveryLog})
}

func (r *deliveryLogRepo) BatchCreate(ctx context.Context, deliveryLogs []*entity.DeliveryLog) error {
	if len(deliveryLogs) == 0 {
		return nil
	}

	deliveryLogModels := make([]*DeliveryLog, 0, len(deliveryLogs))
	for _, deliveryLog := range deliveryLogs {
		deliveryLogModels = append(deliveryLogModels, ToDeliveryLogModel(deliveryLog))
	}

	return r.getDb(ctx).Create(deliveryLogModels).Error
}

func (r *deliveryLogRepo) GetManyByMessage(ctx context.Context, messageID uint64) ([]*entity.DeliveryLog, error) {
	deliveryLogModels := make([]*DeliveryLog, 0)
	if err := r.getDb(ctx).
		Where("message_id = ?", messageID).
		Order("id ASC").
		Find(&deliveryLogModels).Error; err != nil {
		return nil, err
	}

	deliveryLogs := make([]*entity.DeliveryLog, len(deliveryLogModels))
	for i, deliveryLogModel := range deliveryLogModels {
		deliveryLogs[i] = ToDeliveryLog(deliveryLogModel)
	}

	return deliveryLogs, nil
}

func ToDeliveryLog(deliveryLog *DeliveryLog) *entity.DeliveryLog {
	var event entity.Event
	if deliveryLog.Event != nil {
		event = entity.Event(*deliveryLog.Event)
	}

	return &entity.DeliveryLog{
		ID:         deliveryLog.ID,
		MessageID:  deliveryLog.MessageID,
		CampaignID: deliveryLog.CampaignID,
		Event:      event,
		Detail:     deliveryLog.Detail,
		CreateTime: deliveryLog.CreateTime,
	}
}

func ToDeliveryLogModel(deliveryLog *entity.DeliveryLog) *DeliveryLog {
	return &DeliveryLog{
		MessageID:  deliveryLog.MessageID,
		CampaignID: deliveryLog.CampaignID,
		Event:      goutil.Uint32(uint32(deliveryLog.GetEvent())),
		Detail:     deliveryLog.Detail,
		CreateTime: deliveryLog.CreateTime,
	}
}
