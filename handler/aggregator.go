package handler

import (
	"context"
	"github.com/rs/zerolog/log"
	"math"
	"outreach/entity"
	"outreach/pkg/goutil"
	"outreach/repo"
)

// CampaignAggregator keeps the campaign counters in step with message
// transitions. Callers increment only after the transition that first set
// the matching timestamp.
type CampaignAggregator interface {
	IncrementFor(ctx context.Context, campaignID uint64, counter entity.CampaignCounter) error
	MarkRunning(ctx context.Context, campaignID uint64) (bool, error)
	RevertRunning(ctx context.Context, campaignID uint64) error
	MaybeComplete(ctx context.Context, campaignID uint64) error
	Analytics(ctx context.Context, campaignID uint64) (*entity.CampaignAnalytics, error)
}

type campaignAggregator struct {
	campaignRepo repo.CampaignRepo
	messageRepo  repo.MessageRepo
}

func NewCampaignAggregator(campaignRepo repo.CampaignRepo, messageRepo repo.MessageRepo) CampaignAggregator {
	return &campaignAggregator{
		campaignRepo: campaignRepo,
		messageRepo:  messageRepo,
	}
}

func (a *campaignAggregator) IncrementFor(ctx context.Context, campaignID uint64, counter entity.CampaignCounter) error {
	ok, err := a.campaignRepo.IncrCounter(ctx, campaignID, counter)
	if err != nil {
		log.Ctx(ctx).Error().Msgf("incr campaign counter failed: %v, campaign_id: %d, counter: %s", err, campaignID, counter)
		return err
	}

	if !ok {
		log.Ctx(ctx).Warn().Msgf("campaign counter not incremented, campaign_id: %d, counter: %s", campaignID, counter)
	}

	return nil
}

func (a *campaignAggregator) MarkRunning(ctx context.Context, campaignID uint64) (bool, error) {
	return a.campaignRepo.UpdateStatus(ctx, campaignID,
		[]entity.CampaignStatus{entity.CampaignStatusDraft}, entity.CampaignStatusRunning)
}

// RevertRunning puts a running campaign back to draft. Used when a send
// could not queue a single message.
func (a *campaignAggregator) RevertRunning(ctx context.Context, campaignID uint64) error {
	ok, err := a.campaignRepo.UpdateStatus(ctx, campaignID,
		[]entity.CampaignStatus{entity.CampaignStatusRunning}, entity.CampaignStatusDraft)
	if err != nil {
		log.Ctx(ctx).Error().Msgf("revert campaign to draft failed: %v, campaign_id: %d", err, campaignID)
		return err
	}

	if !ok {
		log.Ctx(ctx).Warn().Msgf("campaign not reverted to draft, campaign_id: %d", campaignID)
	}

	return nil
}

func (a *campaignAggregator) MaybeComplete(ctx context.Context, campaignID uint64) error {
	counts, err := a.messageRepo.CountByStatus(ctx, campaignID)
	if err != nil {
		log.Ctx(ctx).Error().Msgf("count messages by status failed: %v, campaign_id: %d", err, campaignID)
		return err
	}

	if counts[entity.MessageStatusQueued] > 0 {
		return nil
	}

	ok, err := a.campaignRepo.UpdateStatus(ctx, campaignID,
		[]entity.CampaignStatus{entity.CampaignStatusRunning}, entity.CampaignStatusCompleted)
	if err != nil {
		log.Ctx(ctx).Error().Msgf("complete campaign failed: %v, campaign_id: %d", err, campaignID)
		return err
	}

	if ok {
		log.Ctx(ctx).Info().Msgf("campaign completed, campaign_id: %d", campaignID)
	}

	return nil
}

func (a *campaignAggregator) Analytics(ctx context.Context, campaignID uint64) (*entity.CampaignAnalytics, error) {
	campaign, err := a.campaignRepo.GetByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	counts, err := a.messageRepo.CountByStatus(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	var (
		sent   = campaign.GetSentCount()
		failed = campaign.GetBouncedCount() + campaign.GetBlockedCount()
	)

	// delivered is derived, not every provider reports delivery events
	var delivered uint64
	if sent > failed {
		delivered = sent - failed
	}

	return &entity.CampaignAnalytics{
		Campaign:     campaign,
		Delivered:    goutil.Uint64(delivered),
		DeliveryRate: goutil.Float64(rate(delivered, sent)),
		OpenRate:     goutil.Float64(rate(campaign.GetOpenedCount(), sent)),
		ClickRate:    goutil.Float64(rate(campaign.GetClickedCount(), sent)),
		BounceRate:   goutil.Float64(rate(failed, sent)),
		Queued:       goutil.Int64(counts[entity.MessageStatusQueued]),
		Failed:       goutil.Int64(counts[entity.MessageStatusFailed]),
	}, nil
}

// rate is a percentage rounded to two decimals.
func rate(n, total uint64) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(n)/float64(total)*10000) / 100
}
