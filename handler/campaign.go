package handler

import (
	"context"
	"errors"
	"github.com/rs/zerolog/log"
	"outreach/entity"
	"outreach/pkg/errutil"
	"outreach/pkg/goutil"
	"outreach/pkg/sendqueue"
	"outreach/repo"
	"strings"
	"time"
)

var (
	ErrCampaignRunning      = errors.New("campaign is already running")
	ErrCampaignNotRunning   = errors.New("campaign is not running")
	ErrCampaignCompleted    = errors.New("campaign is already completed")
	ErrNoQueuedMessages     = errors.New("campaign has no queued messages")
	ErrNoSubscribedReceiver = errors.New("all recipients have unsubscribed")
)

type SendQueue interface {
	Enqueue(ctx context.Context, entry *sendqueue.Entry) (*sendqueue.EnqueueResult, error)
	Status() *sendqueue.Status
}

type CampaignHandler interface {
	CreateCampaign(ctx context.Context, req *CreateCampaignRequest, res *CreateCampaignResponse) error
	SendCampaign(ctx context.Context, req *SendCampaignRequest, res *SendCampaignResponse) error
	ResumeCampaign(ctx context.Context, req *ResumeCampaignRequest, res *ResumeCampaignResponse) error
	GetCampaigns(ctx context.Context, req *GetCampaignsRequest, res *GetCampaignsResponse) error
	GetCampaignAnalytics(ctx context.Context, req *GetCampaignAnalyticsRequest, res *GetCampaignAnalyticsResponse) error
	GetQueueStatus(ctx context.Context, req *GetQueueStatusRequest, res *GetQueueStatusResponse) error
}

type campaignHandler struct {
	txService     repo.TxService
	campaignRepo  repo.CampaignRepo
	messageRepo   repo.MessageRepo
	recipientRepo repo.RecipientRepo
	aggregator    CampaignAggregator
	sendQueue     SendQueue
}

func NewCampaignHandler(
	txService repo.TxService,
	campaignRepo repo.CampaignRepo,
	messageRepo repo.MessageRepo,
	recipientRepo repo.RecipientRepo,
	aggregator CampaignAggregator,
	sendQueue SendQueue,
) CampaignHandler {
	return &campaignHandler{
		txService:     txService,
		campaignRepo:  campaignRepo,
		messageRepo:   messageRepo,
		recipientRepo: recipientRepo,
		aggregator:    aggregator,
		sendQueue:     sendQueue,
	}
}

type OutreachMessage struct {
	Email           *string `json:"email,omitempty" validate:"required,email,max=320"`
	FirstName       *string `json:"first_name,omitempty" validate:"omitempty,max=255"`
	LastName        *string `json:"last_name,omitempty" validate:"omitempty,max=255"`
	PublicationName *string `json:"publication_name,omitempty" validate:"omitempty,max=255"`
	Subject         *string `json:"subject,omitempty" validate:"required,min=1,max=998"`
	HtmlBody        *string `json:"html_body,omitempty" validate:"required,min=1"`
}

func (m *OutreachMessage) GetEmail() string {
	if m != nil && m.Email != nil {
		return *m.Email
	}
	return ""
}

type CreateCampaignRequest struct {
	Company  *string            `json:"company,omitempty" validate:"required,min=1,max=255"`
	Topic    *string            `json:"topic,omitempty" validate:"required,min=1,max=255"`
	Messages []*OutreachMessage `json:"messages,omitempty" validate:"required,min=1,max=1000,dive,required"`
}

type CreateCampaignResponse struct {
	Campaign *entity.Campaign `json:"campaign,omitempty"`
	Skipped  []string         `json:"skipped,omitempty"`
}

func (h *campaignHandler) CreateCampaign(ctx context.Context, req *CreateCampaignRequest, res *CreateCampaignResponse) error {
	if err := validateRequest(req); err != nil {
		return err
	}

	var (
		now      = goutil.UnixNow(time.Now())
		campaign *entity.Campaign
		skipped  = make([]string, 0)
	)

	if err := h.txService.RunTx(ctx, func(ctx context.Context) error {
		var (
			seen     = make(map[string]bool)
			messages = make([]*entity.Message, 0, len(req.Messages))
		)
		for _, m := range req.Messages {
			email := strings.ToLower(strings.TrimSpace(m.GetEmail()))
			if seen[email] {
				continue
			}
			seen[email] = true

			recipient, err := h.recipientRepo.Upsert(ctx, &entity.Recipient{
				Email:           goutil.String(email),
				FirstName:       m.FirstName,
				LastName:        m.LastName,
				PublicationName: m.PublicationName,
				CreateTime:      now,
				UpdateTime:      now,
			})
			if err != nil {
				log.Ctx(ctx).Error().Msgf("upsert recipient failed: %v, email: %s", err, email)
				return err
			}

			if recipient.GetUnsubscribed() {
				log.Ctx(ctx).Info().Msgf("skip unsubscribed recipient: %s", email)
				skipped = append(skipped, email)
				continue
			}

			messages = append(messages, &entity.Message{
				RecipientID:      recipient.ID,
				RecipientAddress: goutil.String(email),
				Subject:          m.Subject,
				HtmlBody:         m.HtmlBody,
				Status:           entity.MessageStatusQueued,
				QueuedAt:         now,
				CreateTime:       now,
				UpdateTime:       now,
			})
		}

		if len(messages) == 0 {
			return errutil.ValidationError(ErrNoSubscribedReceiver)
		}

		campaign = &entity.Campaign{
			Company:     req.Company,
			Topic:       req.Topic,
			Status:      entity.CampaignStatusDraft,
			TotalEmails: goutil.Uint64(uint64(len(messages))),
			CreateTime:  now,
			UpdateTime:  now,
		}
		if _, err := h.campaignRepo.Create(ctx, campaign); err != nil {
			log.Ctx(ctx).Error().Msgf("create campaign failed: %v", err)
			return err
		}

		for _, msg := range messages {
			msg.CampaignID = campaign.ID
		}

		if err := h.messageRepo.CreateMany(ctx, messages); err != nil {
			log.Ctx(ctx).Error().Msgf("create messages failed: %v, campaign_id: %d", err, campaign.GetID())
			return err
		}

		return nil
	}); err != nil {
		return err
	}

	res.Campaign = campaign
	res.Skipped = skipped

	return nil
}

type SendCampaignRequest struct {
	CampaignID *uint64 `json:"campaign_id,omitempty" validate:"required,gt=0"`
}

func (r *SendCampaignRequest) GetCampaignID() uint64 {
	if r != nil && r.CampaignID != nil {
		return *r.CampaignID
	}
	return 0
}

type EnqueueSummary struct {
	Enqueued        *uint64 `json:"enqueued,omitempty"`
	AlreadyQueued   *uint64 `json:"already_queued,omitempty"`
	Deferred        *uint64 `json:"deferred,omitempty"`
	LastPosition    *uint64 `json:"last_position,omitempty"`
	EstimatedWaitMs *int64  `json:"estimated_wait_ms,omitempty"`
}

func (s *EnqueueSummary) GetEnqueued() uint64 {
	if s != nil && s.Enqueued != nil {
		return *s.Enqueued
	}
	return 0
}

type SendCampaignResponse struct {
	Summary *EnqueueSummary `json:"summary,omitempty"`
}

func (h *campaignHandler) SendCampaign(ctx context.Context, req *SendCampaignRequest, res *SendCampaignResponse) error {
	if err := validateRequest(req); err != nil {
		return err
	}

	campaign, err := h.getCampaign(ctx, req.GetCampaignID())
	if err != nil {
		return err
	}

	switch campaign.GetStatus() {
	case entity.CampaignStatusRunning:
		return errutil.ConflictError(ErrCampaignRunning)
	case entity.CampaignStatusCompleted:
		return errutil.ConflictError(ErrCampaignCompleted)
	}

	messages, err := h.messageRepo.GetManyByCampaign(ctx, campaign.GetID(), entity.MessageStatusQueued)
	if err != nil {
		log.Ctx(ctx).Error().Msgf("get queued messages failed: %v, campaign_id: %d", err, campaign.GetID())
		return err
	}

	if len(messages) == 0 {
		return errutil.ValidationError(ErrNoQueuedMessages)
	}

	ok, err := h.aggregator.MarkRunning(ctx, campaign.GetID())
	if err != nil {
		log.Ctx(ctx).Error().Msgf("mark campaign running failed: %v, campaign_id: %d", err, campaign.GetID())
		return err
	}
	if !ok {
		return errutil.ConflictError(ErrCampaignRunning)
	}

	summary, err := h.enqueue(ctx, messages)
	if err != nil {
		if errors.Is(err, sendqueue.ErrDailyLimitExceeded) {
			// nothing was queued, a later send retries from draft
			if err := h.aggregator.RevertRunning(ctx, campaign.GetID()); err != nil {
				return err
			}
		}
		return err
	}

	res.Summary = summary

	return nil
}

type ResumeCampaignRequest struct {
	CampaignID *uint64 `json:"campaign_id,omitempty" validate:"required,gt=0"`
}

func (r *ResumeCampaignRequest) GetCampaignID() uint64 {
	if r != nil && r.CampaignID != nil {
		return *r.CampaignID
	}
	return 0
}

type ResumeCampaignResponse struct {
	Summary *EnqueueSummary `json:"summary,omitempty"`
}

// ResumeCampaign re-enqueues the queued messages of a running campaign, for
// recovery after a restart dropped the in-memory queue.
func (h *campaignHandler) ResumeCampaign(ctx context.Context, req *ResumeCampaignRequest, res *ResumeCampaignResponse) error {
	if err := validateRequest(req); err != nil {
		return err
	}

	campaign, err := h.getCampaign(ctx, req.GetCampaignID())
	if err != nil {
		return err
	}

	if campaign.GetStatus() != entity.CampaignStatusRunning {
		return errutil.ConflictError(ErrCampaignNotRunning)
	}

	messages, err := h.messageRepo.GetManyByCampaign(ctx, campaign.GetID(), entity.MessageStatusQueued)
	if err != nil {
		log.Ctx(ctx).Error().Msgf("get queued messages failed: %v, campaign_id: %d", err, campaign.GetID())
		return err
	}

	if len(messages) == 0 {
		if err := h.aggregator.MaybeComplete(ctx, campaign.GetID()); err != nil {
			return err
		}
		res.Summary = &EnqueueSummary{Enqueued: goutil.Uint64(0)}
		return nil
	}

	summary, err := h.enqueue(ctx, messages)
	if err != nil {
		return err
	}

	res.Summary = summary

	return nil
}

// enqueue stops at the daily limit, the rest stays queued in the store and
// is picked up by a later resume.
func (h *campaignHandler) enqueue(ctx context.Context, messages []*entity.Message) (*EnqueueSummary, error) {
	var (
		enqueued, alreadyQueued uint64
		last                    *sendqueue.EnqueueResult
	)

	for i, msg := range messages {
		result, err := h.sendQueue.Enqueue(ctx, &sendqueue.Entry{
			MessageID:        msg.GetID(),
			CampaignID:       msg.GetCampaignID(),
			RecipientAddress: msg.GetRecipientAddress(),
			Subject:          msg.GetSubject(),
			HtmlBody:         msg.GetHtmlBody(),
		})
		if err != nil {
			if errors.Is(err, sendqueue.ErrAlreadyQueued) {
				alreadyQueued++
				continue
			}

			if errors.Is(err, sendqueue.ErrDailyLimitExceeded) {
				log.Ctx(ctx).Info().Msgf("daily limit reached, %d messages deferred", len(messages)-i)
				if enqueued == 0 && alreadyQueued == 0 {
					return nil, errutil.TooManyRequestsError(err)
				}
				return &EnqueueSummary{
					Enqueued:        goutil.Uint64(enqueued),
					AlreadyQueued:   goutil.Uint64(alreadyQueued),
					Deferred:        goutil.Uint64(uint64(len(messages) - i)),
					LastPosition:    lastPosition(last),
					EstimatedWaitMs: lastWait(last),
				}, nil
			}

			log.Ctx(ctx).Error().Msgf("enqueue message failed: %v, message_id: %d", err, msg.GetID())
			return nil, err
		}

		enqueued++
		last = result
	}

	return &EnqueueSummary{
		Enqueued:        goutil.Uint64(enqueued),
		AlreadyQueued:   goutil.Uint64(alreadyQueued),
		Deferred:        goutil.Uint64(0),
		LastPosition:    lastPosition(last),
		EstimatedWaitMs: lastWait(last),
	}, nil
}

func lastPosition(r *sendqueue.EnqueueResult) *uint64 {
	if r == nil {
		return nil
	}
	return goutil.Uint64(uint64(r.Position))
}

func lastWait(r *sendqueue.EnqueueResult) *int64 {
	if r == nil {
		return nil
	}
	return goutil.Int64(r.EstimatedWaitMs)
}

type GetCampaignsRequest struct {
	Status *uint32 `schema:"status,omitempty" validate:"omitempty,oneof=1 2 3"`
	Page   *uint32 `schema:"page,omitempty" validate:"omitempty,gte=1"`
	Limit  *uint32 `schema:"limit,omitempty" validate:"omitempty,gte=1,lte=100"`
}

func (r *GetCampaignsRequest) GetStatus() uint32 {
	if r != nil && r.Status != nil {
		return *r.Status
	}
	return 0
}

func (r *GetCampaignsRequest) GetLimit() uint32 {
	if r != nil && r.Limit != nil {
		return *r.Limit
	}
	return 20
}

type GetCampaignsResponse struct {
	Campaigns  []*entity.Campaign `json:"campaigns"`
	Pagination *entity.Pagination `json:"pagination,omitempty"`
}

func (h *campaignHandler) GetCampaigns(ctx context.Context, req *GetCampaignsRequest, res *GetCampaignsResponse) error {
	if err := validateRequest(req); err != nil {
		return err
	}

	campaigns, pagination, err := h.campaignRepo.GetMany(ctx, entity.CampaignStatus(req.GetStatus()), &repo.Pagination{
		Page:  req.Page,
		Limit: goutil.Uint32(req.GetLimit()),
	})
	if err != nil {
		log.Ctx(ctx).Error().Msgf("get campaigns failed: %v", err)
		return err
	}

	res.Campaigns = campaigns
	res.Pagination = pagination

	return nil
}

type GetCampaignAnalyticsRequest struct {
	CampaignID *uint64 `schema:"campaign_id,omitempty" validate:"required,gt=0"`
}

func (r *GetCampaignAnalyticsRequest) GetCampaignID() uint64 {
	if r != nil && r.CampaignID != nil {
		return *r.CampaignID
	}
	return 0
}

type GetCampaignAnalyticsResponse struct {
	Analytics *entity.CampaignAnalytics `json:"analytics,omitempty"`
}

func (h *campaignHandler) GetCampaignAnalytics(ctx context.Context, req *GetCampaignAnalyticsRequest, res *GetCampaignAnalyticsResponse) error {
	if err := validateRequest(req); err != nil {
		return err
	}

	analytics, err := h.aggregator.Analytics(ctx, req.GetCampaignID())
	if err != nil {
		if errors.Is(err, repo.ErrCampaignNotFound) {
			return errutil.NotFoundError(err)
		}
		log.Ctx(ctx).Error().Msgf("get campaign analytics failed: %v, campaign_id: %d", err, req.GetCampaignID())
		return err
	}

	res.Analytics = analytics

	return nil
}

type GetQueueStatusRequest struct{}

type GetQueueStatusResponse struct {
	Status *sendqueue.Status `json:"status,omitempty"`
}

func (h *campaignHandler) GetQueueStatus(_ context.Context, _ *GetQueueStatusRequest, res *GetQueueStatusResponse) error {
	res.Status = h.sendQueue.Status()
	return nil
}

func (h *campaignHandler) getCampaign(ctx context.Context, campaignID uint64) (*entity.Campaign, error) {
	campaign, err := h.campaignRepo.GetByID(ctx, campaignID)
	if err != nil {
		if errors.Is(err, repo.ErrCampaignNotFound) {
			return nil, errutil.NotFoundError(err)
		}
		log.Ctx(ctx).Error().Msgf("get campaign failed: %v, campaign_id: %d", err, campaignID)
		return nil, err
	}
	return campaign, nil
}
