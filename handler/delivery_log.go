package handler

import (
	"context"
	"fmt"
	"github.com/rs/zerolog/log"
	"outreach/entity"
	"outreach/pkg/goutil"
	"outreach/pkg/mq"
	"outreach/repo"
)

// DeliveryLogger records applied message transitions. Failures are logged
// and never fail the transition itself.
type DeliveryLogger interface {
	Log(ctx context.Context, deliveryLog *entity.DeliveryLog)
}

type repoDeliveryLogger struct {
	deliveryLogRepo repo.DeliveryLogRepo
}

func NewRepoDeliveryLogger(deliveryLogRepo repo.DeliveryLogRepo) DeliveryLogger {
	return &repoDeliveryLogger{deliveryLogRepo: deliveryLogRepo}
}

func (l *repoDeliveryLogger) Log(ctx context.Context, deliveryLog *entity.DeliveryLog) {
	if err := l.deliveryLogRepo.Create(ctx, deliveryLog); err != nil {
		log.Ctx(ctx).Error().Msgf("create delivery log failed: %v, message_id: %d", err, deliveryLog.GetMessageID())
	}
}

type MessageProducer interface {
	SendMessage(msg *mq.Message) error
}

type mqDeliveryLogger struct {
	producer MessageProducer
}

func NewMQDeliveryLogger(producer MessageProducer) DeliveryLogger {
	return &mqDeliveryLogger{producer: producer}
}

func (l *mqDeliveryLogger) Log(ctx context.Context, deliveryLog *entity.DeliveryLog) {
	msg := &mq.Message{
		Payload: mq.PayloadDeliveryLog,
		Key:     fmt.Sprint(deliveryLog.GetMessageID()),
		Body:    ToDeliveryLogPayload(deliveryLog),
	}

	if err := l.producer.SendMessage(msg); err != nil {
		log.Ctx(ctx).Error().Msgf("publish delivery log failed: %v, message_id: %d", err, deliveryLog.GetMessageID())
	}
}

func ToDeliveryLogPayload(deliveryLog *entity.DeliveryLog) *mq.DeliveryLog {
	return &mq.DeliveryLog{
		MessageID:  deliveryLog.MessageID,
		CampaignID: deliveryLog.CampaignID,
		Event:      goutil.Uint32(uint32(deliveryLog.GetEvent())),
		Detail:     deliveryLog.Detail,
		CreateTime: deliveryLog.CreateTime,
	}
}

func ToDeliveryLog(payload *mq.DeliveryLog) *entity.DeliveryLog {
	return &entity.DeliveryLog{
		MessageID:  payload.MessageID,
		CampaignID: payload.CampaignID,
		Event:      entity.Event(payload.GetEvent()),
		Detail:     payload.Detail,
		CreateTime: payload.CreateTime,
	}
}
