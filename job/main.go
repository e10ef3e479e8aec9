package main

import (
	"context"
	"fmt"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"os"
	"outreach/config"
	"outreach/handler"
	"outreach/job/complete_campaigns"
	"outreach/job/sync_delivery_logs"
	"outreach/pkg/logutil"
	"outreach/pkg/service"
	"outreach/repo"
)

func main() {
	_ = godotenv.Load()

	var (
		opt = config.NewOptions()
		ctx = logutil.InitZeroLog(context.Background(), "DEBUG")
	)

	if configPath := os.Getenv("CONFIG_PATH"); configPath != "" {
		opt.ConfigPath = configPath
	}

	cfg := config.NewConfig()
	if err := cfg.Load(ctx, opt.ConfigPath); err != nil {
		log.Ctx(ctx).Error().Msgf("load config failed: %v", err)
		os.Exit(1)
	}
	cfg.LoadEnv()

	orm, err := repo.NewOrm(ctx, cfg.MetadataDB)
	if err != nil {
		log.Ctx(ctx).Error().Msgf("init orm failed, err: %v", err)
		os.Exit(1)
	}
	defer func() {
		if err := repo.CloseOrm(orm); err != nil {
			log.Ctx(ctx).Error().Msgf("close orm failed, err: %v", err)
		}
	}()

	var (
		campaignRepo    = repo.NewCampaignRepo(ctx, orm)
		messageRepo     = repo.NewMessageRepo(ctx, orm, repo.NewBaseCache(ctx))
		deliveryLogRepo = repo.NewDeliveryLogRepo(ctx, orm)
		aggregator      = handler.NewCampaignAggregator(campaignRepo, messageRepo)
	)

	jobs := map[string]service.Job{
		"sync-delivery-logs": sync_delivery_logs.New(cfg.LogConsumer, deliveryLogRepo),
		"complete-campaigns": complete_campaigns.New(campaignRepo, aggregator),
	}

	if len(os.Args) < 2 {
		fmt.Println("Usage: go run main.go <job_name>")
		os.Exit(1)
	}

	if err := run(ctx, jobs, os.Args[1]); err != nil {
		log.Ctx(ctx).Error().Msgf("job %s failed: %v", os.Args[1], err)
		os.Exit(1)
	}

	log.Ctx(ctx).Info().Msg("job executed successfully")
}

func run(ctx context.Context, jobs map[string]service.Job, jobName string) error {
	job, exists := jobs[jobName]
	if !exists {
		return fmt.Errorf("job %s not found", jobName)
	}

	if err := job.Init(ctx); err != nil {
		return fmt.Errorf("init job err: %w", err)
	}

	if err := job.Run(ctx); err != nil {
		return fmt.Errorf("run job err: %w", err)
	}

	if err := job.CleanUp(ctx); err != nil {
		return fmt.Errorf("cleanup job err: %w", err)
	}

	return nil
}
