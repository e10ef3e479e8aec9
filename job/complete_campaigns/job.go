package complete_campaigns

import (
	"context"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"outreach/entity"
	"outreach/handler"
	"outreach/pkg/service"
	"outreach/repo"
)

const maxConcurrency = 10

// CompleteCampaigns closes running campaigns whose messages have all left
// the queued status, for runs where the process stopped before the last
// transmission could complete its campaign.
type CompleteCampaigns struct {
	campaignRepo repo.CampaignRepo
	aggregator   handler.CampaignAggregator
}

func New(campaignRepo repo.CampaignRepo, aggregator handler.CampaignAggregator) service.Job {
	return &CompleteCampaigns{
		campaignRepo: campaignRepo,
		aggregator:   aggregator,
	}
}

func (j *CompleteCampaigns) Init(_ context.Context) error {
	return nil
}

func (j *CompleteCampaigns) Run(ctx context.Context) error {
	campaigns, _, err := j.campaignRepo.GetMany(ctx, entity.CampaignStatusRunning, new(repo.Pagination))
	if err != nil {
		log.Ctx(ctx).Error().Msgf("get running campaigns failed: %v", err)
		return err
	}

	log.Ctx(ctx).Info().Msgf("number of running campaigns to be checked: %d", len(campaigns))

	g := new(errgroup.Group)
	g.SetLimit(maxConcurrency)

	for _, campaign := range campaigns {
		campaign := campaign
		g.Go(func() error {
			if err := j.aggregator.MaybeComplete(ctx, campaign.GetID()); err != nil {
				log.Ctx(ctx).Error().Msgf("[campaign ID %d] complete campaign failed: %v", campaign.GetID(), err)
				return err
			}
			return nil
		})
	}

	return g.Wait()
}

func (j *CompleteCampaigns) CleanUp(_ context.Context) error {
	return nil
}
