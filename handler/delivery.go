package handler

import (
	"context"
	"errors"
	"fmt"
	"github.com/badoux/checkmail"
	"github.com/rs/zerolog/log"
	"outreach/config"
	"outreach/dep"
	"outreach/entity"
	"outreach/pkg/errutil"
	"outreach/pkg/goutil"
	"outreach/pkg/sendqueue"
	"outreach/pkg/trackutil"
	"outreach/repo"
	"time"
)

const errMsgSpamComplaint = "spam complaint"

var (
	ErrRecipientUnsubscribed = errors.New("recipient unsubscribed")
	ErrMessageNotQueued      = errors.New("message is no longer queued")
)

// statuses a message can hold once the provider accepted it
var acceptedStatuses = []entity.MessageStatus{
	entity.MessageStatusSent,
	entity.MessageStatusDelivered,
	entity.MessageStatusOpened,
	entity.MessageStatusClicked,
}

// DeliveryHandler owns the per-message state machine. Every event method is
// safe to call repeatedly: only the call that first sets a timestamp changes
// the campaign counters.
type DeliveryHandler interface {
	Transmit(ctx context.Context, entry *sendqueue.Entry) error
	OnWebhookEvent(ctx context.Context, event *entity.WebhookEvent) error
	OnOpen(ctx context.Context, messageID uint64) error
	OnClick(ctx context.Context, messageID uint64) error
	Unsubscribe(ctx context.Context, messageID uint64) error
}

type deliveryHandler struct {
	messageRepo    repo.MessageRepo
	recipientRepo  repo.RecipientRepo
	emailService   dep.EmailService
	aggregator     CampaignAggregator
	deliveryLogger DeliveryLogger
	classify       BounceClassifier
	trackingCfg    config.Tracking
	now            func() time.Time
}

type DeliveryOption func(h *deliveryHandler)

func WithBounceClassifier(classify BounceClassifier) DeliveryOption {
	return func(h *deliveryHandler) {
		h.classify = classify
	}
}

func WithNow(now func() time.Time) DeliveryOption {
	return func(h *deliveryHandler) {
		h.now = now
	}
}

func NewDeliveryHandler(
	messageRepo repo.MessageRepo,
	recipientRepo repo.RecipientRepo,
	emailService dep.EmailService,
	aggregator CampaignAggregator,
	deliveryLogger DeliveryLogger,
	trackingCfg config.Tracking,
	opts ...DeliveryOption,
) DeliveryHandler {
	h := &deliveryHandler{
		messageRepo:    messageRepo,
		recipientRepo:  recipientRepo,
		emailService:   emailService,
		aggregator:     aggregator,
		deliveryLogger: deliveryLogger,
		classify:       DefaultBounceClassifier,
		trackingCfg:    trackingCfg,
		now:            time.Now,
	}

	for _, opt := range opts {
		opt(h)
	}

	return h
}

func (h *deliveryHandler) Transmit(ctx context.Context, entry *sendqueue.Entry) error {
	msg, err := h.messageRepo.GetByID(ctx, entry.MessageID)
	if err != nil {
		log.Ctx(ctx).Error().Msgf("get message failed: %v, message_id: %d", err, entry.MessageID)
		return err
	}

	if msg.GetStatus() != entity.MessageStatusQueued {
		return fmt.Errorf("%w: %v, status: %s", sendqueue.ErrSkipped, ErrMessageNotQueued, msg.GetStatus())
	}

	defer func() {
		if err := h.aggregator.MaybeComplete(ctx, msg.GetCampaignID()); err != nil {
			log.Ctx(ctx).Error().Msgf("maybe complete campaign failed: %v, campaign_id: %d", err, msg.GetCampaignID())
		}
	}()

	recipient, err := h.recipientRepo.GetByID(ctx, msg.GetRecipientID())
	if err != nil && !errors.Is(err, repo.ErrRecipientNotFound) {
		log.Ctx(ctx).Error().Msgf("get recipient failed: %v, recipient_id: %d", err, msg.GetRecipientID())
		return err
	}

	if recipient.GetUnsubscribed() {
		h.fail(ctx, msg, ErrRecipientUnsubscribed.Error())
		return fmt.Errorf("%w: %v", sendqueue.ErrSkipped, ErrRecipientUnsubscribed)
	}

	if err := checkmail.ValidateFormat(entry.RecipientAddress); err != nil {
		h.fail(ctx, msg, fmt.Sprintf("invalid recipient address: %v", err))
		return err
	}

	providerID, err := h.emailService.SendEmail(ctx, &dep.SendEmail{
		MessageID:   entry.MessageID,
		CampaignID:  entry.CampaignID,
		To:          entry.RecipientAddress,
		Subject:     entry.Subject,
		HtmlContent: trackutil.InjectTracking(entry.HtmlBody, h.trackingCfg.BaseURL, entry.MessageID, h.trackingCfg.TrackClicks),
	})
	if err != nil {
		h.fail(ctx, msg, err.Error())
		return err
	}

	ok, err := h.messageRepo.MarkSent(ctx, msg.GetID(), providerID, h.unixNow())
	if err != nil {
		log.Ctx(ctx).Error().Msgf("mark message sent failed: %v, message_id: %d, provider_id: %s", err, msg.GetID(), providerID)
		return err
	}

	if !ok {
		log.Ctx(ctx).Warn().Msgf("message sent but no longer queued, message_id: %d, provider_id: %s", msg.GetID(), providerID)
		return nil
	}

	h.logEvent(ctx, msg, entity.EventSent, providerID)

	return h.aggregator.IncrementFor(ctx, msg.GetCampaignID(), entity.CounterSent)
}

func (h *deliveryHandler) fail(ctx context.Context, msg *entity.Message, errMsg string) {
	ok, err := h.messageRepo.MarkFailed(ctx, msg.GetID(), errMsg)
	if err != nil {
		log.Ctx(ctx).Error().Msgf("mark message failed failed: %v, message_id: %d", err, msg.GetID())
		return
	}

	if ok {
		h.logEvent(ctx, msg, entity.EventFailed, errMsg)
	}
}

func (h *deliveryHandler) OnWebhookEvent(ctx context.Context, event *entity.WebhookEvent) error {
	switch event.GetType() {
	case entity.WebhookEmailDelivered,
		entity.WebhookEmailBounced,
		entity.WebhookEmailDeliveryDelayed,
		entity.WebhookEmailComplained:
	default:
		log.Ctx(ctx).Info().Msgf("ignore unrecognized webhook event, type: %s", event.GetType())
		return nil
	}

	msg, err := h.messageRepo.GetByProviderID(ctx, event.GetEmailID())
	if err != nil {
		if errors.Is(err, repo.ErrMessageNotFound) {
			log.Ctx(ctx).Warn().Msgf("webhook correlation miss, type: %s, email_id: %s", event.GetType(), event.GetEmailID())
			return errutil.NotFoundError(err)
		}
		log.Ctx(ctx).Error().Msgf("get message by provider id failed: %v, email_id: %s", err, event.GetEmailID())
		return err
	}

	switch event.GetType() {
	case entity.WebhookEmailDelivered:
		return h.onDelivered(ctx, msg)
	case entity.WebhookEmailComplained:
		return h.onComplained(ctx, msg)
	default:
		detail := event.GetBounceMessage()
		if detail == "" {
			detail = event.GetType()
		}
		return h.onBounced(ctx, msg, detail)
	}
}

func (h *deliveryHandler) onDelivered(ctx context.Context, msg *entity.Message) error {
	return h.apply(ctx, msg, &repo.Transition{
		Field:  "delivered_at",
		At:     h.unixNow(),
		Status: entity.MessageStatusDelivered,
		From:   []entity.MessageStatus{entity.MessageStatusSent},
		Guards: append(noFinalFailure(), &repo.Condition{
			Field: "status",
			Op:    repo.OpIn,
			Value: toUint32s(acceptedStatuses),
		}),
	}, entity.EventDelivered, "", entity.CounterDelivered)
}

func (h *deliveryHandler) onBounced(ctx context.Context, msg *entity.Message, detail string) error {
	var (
		field   = "bounced_at"
		status  = entity.MessageStatusBounced
		event   = entity.EventBounced
		counter = entity.CounterBounced
	)
	if h.classify(detail) == entity.ClassificationBlocked {
		field, status, event, counter = "blocked_at", entity.MessageStatusBlocked, entity.EventBlocked, entity.CounterBlocked
	}

	return h.apply(ctx, msg, &repo.Transition{
		Field:        field,
		At:           h.unixNow(),
		Status:       status,
		From:         acceptedStatuses,
		ErrorMessage: goutil.String(detail),
		Guards: append(noFinalFailure(), &repo.Condition{
			Field: "status",
			Op:    repo.OpIn,
			Value: toUint32s(acceptedStatuses),
		}),
	}, event, detail, counter)
}

// onComplained blocks a message the provider accepted. A complaint arriving
// after a bounce or block, or for a message never accepted, is ignored so a
// message carries at most one final failure.
func (h *deliveryHandler) onComplained(ctx context.Context, msg *entity.Message) error {
	return h.apply(ctx, msg, &repo.Transition{
		Field:        "blocked_at",
		At:           h.unixNow(),
		Status:       entity.MessageStatusBlocked,
		From:         acceptedStatuses,
		ErrorMessage: goutil.String(errMsgSpamComplaint),
		Guards: append(noFinalFailure(), &repo.Condition{
			Field: "status",
			Op:    repo.OpIn,
			Value: toUint32s(acceptedStatuses),
		}),
	}, entity.EventComplained, errMsgSpamComplaint, entity.CounterBlocked)
}

func (h *deliveryHandler) OnOpen(ctx context.Context, messageID uint64) error {
	return h.onEngagement(ctx, messageID, &repo.Transition{
		Field:  "opened_at",
		At:     h.unixNow(),
		Status: entity.MessageStatusOpened,
		From:   []entity.MessageStatus{entity.MessageStatusSent, entity.MessageStatusDelivered},
	}, entity.EventOpened, entity.CounterOpened)
}

func (h *deliveryHandler) OnClick(ctx context.Context, messageID uint64) error {
	return h.onEngagement(ctx, messageID, &repo.Transition{
		Field:  "clicked_at",
		At:     h.unixNow(),
		Status: entity.MessageStatusClicked,
		From:   []entity.MessageStatus{entity.MessageStatusSent, entity.MessageStatusDelivered, entity.MessageStatusOpened},
	}, entity.EventClicked, entity.CounterClicked)
}

// onEngagement records opens and clicks. Terminal statuses keep their status
// while the timestamp and counter are still recorded.
func (h *deliveryHandler) onEngagement(ctx context.Context, messageID uint64, t *repo.Transition, event entity.Event, counter entity.CampaignCounter) error {
	msg, err := h.messageRepo.GetByID(ctx, messageID)
	if err != nil {
		if !errors.Is(err, repo.ErrMessageNotFound) {
			log.Ctx(ctx).Error().Msgf("get message failed: %v, message_id: %d", err, messageID)
		}
		return err
	}

	// never sent, nothing to engage with
	t.Guards = append(t.Guards, &repo.Condition{
		Field: "status",
		Op:    repo.OpNotIn,
		Value: toUint32s([]entity.MessageStatus{entity.MessageStatusQueued, entity.MessageStatusFailed}),
	})

	return h.apply(ctx, msg, t, event, "", counter)
}

func (h *deliveryHandler) apply(ctx context.Context, msg *entity.Message, t *repo.Transition, event entity.Event, detail string, counter entity.CampaignCounter) error {
	ok, err := h.messageRepo.ApplyTransition(ctx, msg.GetID(), t)
	if err != nil {
		log.Ctx(ctx).Error().Msgf("apply message transition failed: %v, message_id: %d, field: %s", err, msg.GetID(), t.Field)
		return err
	}

	if !ok {
		log.Ctx(ctx).Debug().Msgf("transition already applied or not allowed, message_id: %d, field: %s", msg.GetID(), t.Field)
		return nil
	}

	h.logEvent(ctx, msg, event, detail)

	return h.aggregator.IncrementFor(ctx, msg.GetCampaignID(), counter)
}

func (h *deliveryHandler) Unsubscribe(ctx context.Context, messageID uint64) error {
	msg, err := h.messageRepo.GetByID(ctx, messageID)
	if err != nil {
		if errors.Is(err, repo.ErrMessageNotFound) {
			return errutil.NotFoundError(err)
		}
		log.Ctx(ctx).Error().Msgf("get message failed: %v, message_id: %d", err, messageID)
		return err
	}

	if err := h.recipientRepo.SetUnsubscribed(ctx, msg.GetRecipientID(), h.unixNow()); err != nil {
		if errors.Is(err, repo.ErrRecipientNotFound) {
			return errutil.NotFoundError(err)
		}
		log.Ctx(ctx).Error().Msgf("set recipient unsubscribed failed: %v, recipient_id: %d", err, msg.GetRecipientID())
		return err
	}

	h.logEvent(ctx, msg, entity.EventUnsubscribed, "")

	return nil
}

func (h *deliveryHandler) logEvent(ctx context.Context, msg *entity.Message, event entity.Event, detail string) {
	deliveryLog := &entity.DeliveryLog{
		MessageID:  msg.ID,
		CampaignID: msg.CampaignID,
		Event:      event,
		CreateTime: goutil.Uint64(h.unixNow()),
	}
	if detail != "" {
		deliveryLog.Detail = goutil.String(detail)
	}

	h.deliveryLogger.Log(ctx, deliveryLog)
}

func (h *deliveryHandler) unixNow() uint64 {
	return uint64(h.now().Unix())
}

func noFinalFailure() []*repo.Condition {
	return []*repo.Condition{
		{
			Field: "bounced_at",
			Op:    repo.OpIsNull,
		},
		{
			Field: "blocked_at",
			Op:    repo.OpIsNull,
		},
	}
}

func toUint32s(statuses []entity.MessageStatus) []uint32 {
	res := make([]uint32, len(statuses))
	for i, s := range statuses {
		res[i] = uint32(s)
	}
	return res
}
