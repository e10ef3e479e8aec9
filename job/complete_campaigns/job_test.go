package complete_campaigns

import (
	"context"
	"outreach/config"
	"outreach/entity"
	"outreach/handler"
	"outreach/pkg/goutil"
	"outreach/repo"
	"path/filepath"
	"testing"
)

func TestCompleteCampaigns_Run(t *testing.T) {
	ctx := context.Background()

	orm, err := repo.NewOrm(ctx, config.Database{
		Dialect:     config.DialectSQLite,
		DSN:         filepath.Join(t.TempDir(), "outreach.db"),
		AutoMigrate: true,
	})
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	sqlDB, err := orm.DB()
	if err != nil {
		t.Fatalf("failed to get sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	t.Cleanup(func() {
		_ = repo.CloseOrm(orm)
	})

	var (
		campaignRepo = repo.NewCampaignRepo(ctx, orm)
		messageRepo  = repo.NewMessageRepo(ctx, orm, repo.NewBaseCache(ctx))
		now          = goutil.Uint64(1714557600)
	)

	newCampaign := func(status entity.MessageStatus) uint64 {
		campaign := &entity.Campaign{
			Company:     goutil.String("Acme"),
			Topic:       goutil.String("Launch"),
			Status:      entity.CampaignStatusRunning,
			TotalEmails: goutil.Uint64(1),
			CreateTime:  now,
			UpdateTime:  now,
		}
		campaignID, err := campaignRepo.Create(ctx, campaign)
		if err != nil {
			t.Fatalf("create campaign: %v", err)
		}

		if err := messageRepo.CreateMany(ctx, []*entity.Message{
			{
				CampaignID:       goutil.Uint64(campaignID),
				RecipientID:      goutil.Uint64(1),
				RecipientAddress: goutil.String("jo@news.com"),
				Subject:          goutil.String("Hi"),
				HtmlBody:         goutil.String("<p>hi</p>"),
				Status:           status,
				QueuedAt:         now,
				CreateTime:       now,
				UpdateTime:       now,
			},
		}); err != nil {
			t.Fatalf("create message: %v", err)
		}

		return campaignID
	}

	done := newCampaign(entity.MessageStatusSent)
	pending := newCampaign(entity.MessageStatusQueued)

	job := New(campaignRepo, handler.NewCampaignAggregator(campaignRepo, messageRepo))
	if err := job.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	for campaignID, want := range map[uint64]entity.CampaignStatus{
		done:    entity.CampaignStatusCompleted,
		pending: entity.CampaignStatusRunning,
	} {
		campaign, err := campaignRepo.GetByID(ctx, campaignID)
		if err != nil {
			t.Fatalf("get campaign: %v", err)
		}
		if campaign.GetStatus() != want {
			t.Errorf("campaign %d: expected %v, got %v", campaignID, want, campaign.GetStatus())
		}
	}
}
