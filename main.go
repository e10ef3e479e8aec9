package main

import (
	"context"
	"errors"
	"fmt"
	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
	"net"
	"net/http"
	"os"
	"outreach/config"
	"outreach/dep"
	"outreach/entity"
	"outreach/handler"
	"outreach/pkg/goutil"
	"outreach/pkg/logutil"
	"outreach/pkg/mq"
	"outreach/pkg/router"
	"outreach/pkg/sendqueue"
	"outreach/pkg/service"
	"outreach/repo"
	"strconv"
	"time"
)

const shutdownTimeout = 30 * time.Second

type server struct {
	ctx context.Context
	opt *config.Option
	cfg *config.Config

	orm        *gorm.DB
	cache      repo.BaseCache
	producer   *mq.Producer
	httpServer *http.Server

	txService       repo.TxService
	campaignRepo    repo.CampaignRepo
	messageRepo     repo.MessageRepo
	recipientRepo   repo.RecipientRepo
	deliveryLogRepo repo.DeliveryLogRepo

	emailService dep.EmailService
	sendQueue    *sendqueue.Queue

	// api handlers
	aggregator      handler.CampaignAggregator
	deliveryHandler handler.DeliveryHandler
	campaignHandler handler.CampaignHandler
	healthHandler   handler.HealthHandler
	trackingHandler *handler.TrackingHandler
}

func main() {
	s := new(server)
	if err := service.Run(s); err != nil {
		log.Fatal().Msg(err.Error())
	}
}

func (s *server) Init() error {
	// .env is optional
	_ = godotenv.Load()

	opt := config.NewOptions()

	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		opt.LogLevel = logLevel
	}

	if configPath := os.Getenv("CONFIG_PATH"); configPath != "" {
		opt.ConfigPath = configPath
	}

	if serverPort := os.Getenv("PORT"); serverPort != "" {
		if port, err := strconv.Atoi(serverPort); err == nil {
			opt.Port = port
		}
	}

	s.opt = opt

	return nil
}

func (s *server) Start() error {
	var err error

	// ====== init logger ===== //

	s.ctx = logutil.InitZeroLog(context.Background(), s.opt.LogLevel)

	// ===== init config ===== //

	s.cfg = config.NewConfig()
	if err = s.cfg.Load(s.ctx, s.opt.ConfigPath); err != nil {
		log.Ctx(s.ctx).Error().Msgf("load config failed, err: %v", err)
		return err
	}
	s.cfg.LoadEnv()

	// ===== init repos ===== //

	s.orm, err = repo.NewOrm(s.ctx, s.cfg.MetadataDB)
	if err != nil {
		log.Ctx(s.ctx).Error().Msgf("init orm failed, err: %v", err)
		return err
	}
	defer func() {
		if err != nil && s.orm != nil {
			if err := repo.CloseOrm(s.orm); err != nil {
				log.Ctx(s.ctx).Error().Msgf("close orm failed, err: %v", err)
				return
			}
		}
	}()

	s.cache = repo.NewBaseCache(s.ctx)

	s.txService = repo.NewTxService(s.orm)
	s.campaignRepo = repo.NewCampaignRepo(s.ctx, s.orm)
	s.messageRepo = repo.NewMessageRepo(s.ctx, s.orm, s.cache)
	s.recipientRepo = repo.NewRecipientRepo(s.ctx, s.orm)
	s.deliveryLogRepo = repo.NewDeliveryLogRepo(s.ctx, s.orm)

	// ===== init deps ===== //

	deliveryLogger := handler.NewRepoDeliveryLogger(s.deliveryLogRepo)
	if s.cfg.LogProducer.Enabled() {
		s.producer, err = mq.NewProducer(s.ctx, s.cfg.LogProducer)
		if err != nil {
			log.Ctx(s.ctx).Error().Msgf("init delivery log producer failed, err: %v", err)
			return err
		}
		deliveryLogger = handler.NewMQDeliveryLogger(s.producer)
	}
	defer func() {
		if err != nil && s.producer != nil {
			if err := s.producer.Close(); err != nil {
				log.Ctx(s.ctx).Error().Msgf("close delivery log producer failed, err: %v", err)
				return
			}
		}
	}()

	s.emailService = dep.NewEmailService(s.ctx, s.cfg.Email)

	// ===== init handlers ===== //

	s.aggregator = handler.NewCampaignAggregator(s.campaignRepo, s.messageRepo)
	s.deliveryHandler = handler.NewDeliveryHandler(
		s.messageRepo,
		s.recipientRepo,
		s.emailService,
		s.aggregator,
		deliveryLogger,
		s.cfg.Tracking,
	)

	loc, err := s.cfg.SendQueue.GetLocation()
	if err != nil {
		log.Ctx(s.ctx).Error().Msgf("load send queue location failed, err: %v", err)
		return err
	}

	s.sendQueue = sendqueue.New(s.ctx, sendqueue.Config{
		MaxPerDay:            s.cfg.SendQueue.MaxPerDay,
		IntervalBetweenSends: s.cfg.SendQueue.GetInterval(),
		MaxConcurrentSends:   s.cfg.SendQueue.MaxConcurrentSends,
		Location:             loc,
	}, s.deliveryHandler)

	s.campaignHandler = handler.NewCampaignHandler(
		s.txService,
		s.campaignRepo,
		s.messageRepo,
		s.recipientRepo,
		s.aggregator,
		s.sendQueue,
	)
	s.healthHandler = handler.NewHealthHandler(s.cfg)
	s.trackingHandler = handler.NewTrackingHandler(s.deliveryHandler, s.cfg.Tracking, s.cfg.Webhook)

	if s.cfg.ResumeOnStart {
		if err = s.resumeCampaigns(); err != nil {
			log.Ctx(s.ctx).Error().Msgf("resume running campaigns failed, err: %v", err)
			return err
		}
	}

	// ===== start server ===== //

	addr := fmt.Sprintf(":%d", s.opt.Port)

	s.httpServer = &http.Server{
		BaseContext: func(_ net.Listener) context.Context {
			return s.ctx
		},
		Addr: addr,
		Handler: cors.New(cors.Options{
			AllowedOrigins: s.cfg.CorsOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type", "Authorization"},
		}).Handler(router.Log(s.registerRoutes())),
	}

	go func() {
		log.Ctx(s.ctx).Info().Msgf("starting HTTP server at %s", addr)

		err := s.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Ctx(s.ctx).Fatal().Msgf("fail to start HTTP server, err: %v", err)
		}
	}()

	return nil
}

// resumeCampaigns re-enqueues the queued messages of campaigns left running
// by a previous process. The queue keeps FIFO per campaign.
func (s *server) resumeCampaigns() error {
	campaigns, _, err := s.campaignRepo.GetMany(s.ctx, entity.CampaignStatusRunning, new(repo.Pagination))
	if err != nil {
		return err
	}

	log.Ctx(s.ctx).Info().Msgf("number of running campaigns to resume: %d", len(campaigns))

	g := new(errgroup.Group)
	g.SetLimit(1)

	for _, campaign := range campaigns {
		campaign := campaign
		g.Go(func() error {
			res := new(handler.ResumeCampaignResponse)
			if err := s.campaignHandler.ResumeCampaign(s.ctx, &handler.ResumeCampaignRequest{
				CampaignID: goutil.Uint64(campaign.GetID()),
			}, res); err != nil {
				// daily limit hit, the rest waits for a manual resume
				log.Ctx(s.ctx).Warn().Msgf("resume campaign failed: %v, campaign_id: %d", err, campaign.GetID())
				return nil
			}

			log.Ctx(s.ctx).Info().Msgf("campaign resumed, campaign_id: %d, enqueued: %d",
				campaign.GetID(), res.Summary.GetEnqueued())

			return nil
		})
	}

	return g.Wait()
}

func (s *server) Stop() error {
	ctx, cancel := context.WithTimeout(s.ctx, shutdownTimeout)
	defer cancel()

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			log.Ctx(s.ctx).Error().Msgf("shutdown http server failed, err: %v", err)
		}
	}

	if s.sendQueue != nil {
		dropped, err := s.sendQueue.Close(ctx)
		if err != nil {
			log.Ctx(s.ctx).Error().Msgf("close send queue failed, err: %v", err)
		}
		if dropped > 0 {
			log.Ctx(s.ctx).Warn().Msgf("send queue closed with %d entries left queued", dropped)
		}
	}

	if s.emailService != nil {
		if err := s.emailService.Close(ctx); err != nil {
			log.Ctx(s.ctx).Error().Msgf("close email service failed, err: %v", err)
		}
	}

	if s.producer != nil {
		if err := s.producer.Close(); err != nil {
			log.Ctx(s.ctx).Error().Msgf("close delivery log producer failed, err: %v", err)
		}
	}

	if s.cache != nil {
		if err := s.cache.Close(ctx); err != nil {
			log.Ctx(s.ctx).Error().Msgf("close cache failed, err: %v", err)
		}
	}

	if s.orm != nil {
		if err := repo.CloseOrm(s.orm); err != nil {
			log.Ctx(s.ctx).Error().Msgf("close orm failed, err: %v", err)
			return err
		}
	}

	return nil
}

func (s *server) registerRoutes() http.Handler {
	r := &router.HttpRouter{
		Router: mux.NewRouter(),
	}

	// health_check
	r.RegisterHttpRoute(&router.HttpRoute{
		Path:   config.PathHealthCheck,
		Method: http.MethodGet,
		Handler: router.Handler{
			Req: new(handler.HealthCheckRequest),
			Res: new(handler.HealthCheckResponse),
			HandleFunc: func(ctx context.Context, req, res interface{}) error {
				return s.healthHandler.HealthCheck(ctx, req.(*handler.HealthCheckRequest), res.(*handler.HealthCheckResponse))
			},
		},
	})

	// create_campaign
	r.RegisterHttpRoute(&router.HttpRoute{
		Path:   config.PathCreateCampaign,
		Method: http.MethodPost,
		Handler: router.Handler{
			Req: new(handler.CreateCampaignRequest),
			Res: new(handler.CreateCampaignResponse),
			HandleFunc: func(ctx context.Context, req, res interface{}) error {
				return s.campaignHandler.CreateCampaign(ctx, req.(*handler.CreateCampaignRequest), res.(*handler.CreateCampaignResponse))
			},
		},
	})

	// send_campaign
	r.RegisterHttpRoute(&router.HttpRoute{
		Path:   config.PathSendCampaign,
		Method: http.MethodPost,
		Handler: router.Handler{
			Req: new(handler.SendCampaignRequest),
			Res: new(handler.SendCampaignResponse),
			HandleFunc: func(ctx context.Context, req, res interface{}) error {
				return s.campaignHandler.SendCampaign(ctx, req.(*handler.SendCampaignRequest), res.(*handler.SendCampaignResponse))
			},
		},
	})

	// resume_campaign
	r.RegisterHttpRoute(&router.HttpRoute{
		Path:   config.PathResumeCampaign,
		Method: http.MethodPost,
		Handler: router.Handler{
			Req: new(handler.ResumeCampaignRequest),
			Res: new(handler.ResumeCampaignResponse),
			HandleFunc: func(ctx context.Context, req, res interface{}) error {
				return s.campaignHandler.ResumeCampaign(ctx, req.(*handler.ResumeCampaignRequest), res.(*handler.ResumeCampaignResponse))
			},
		},
	})

	// get_campaigns
	r.RegisterHttpRoute(&router.HttpRoute{
		Path:   config.PathGetCampaigns,
		Method: http.MethodGet,
		Handler: router.Handler{
			Req: new(handler.GetCampaignsRequest),
			Res: new(handler.GetCampaignsResponse),
			HandleFunc: func(ctx context.Context, req, res interface{}) error {
				return s.campaignHandler.GetCampaigns(ctx, req.(*handler.GetCampaignsRequest), res.(*handler.GetCampaignsResponse))
			},
		},
	})

	// get_campaign_analytics
	r.RegisterHttpRoute(&router.HttpRoute{
		Path:   config.PathGetCampaignAnalytics,
		Method: http.MethodGet,
		Handler: router.Handler{
			Req: new(handler.GetCampaignAnalyticsRequest),
			Res: new(handler.GetCampaignAnalyticsResponse),
			HandleFunc: func(ctx context.Context, req, res interface{}) error {
				return s.campaignHandler.GetCampaignAnalytics(ctx, req.(*handler.GetCampaignAnalyticsRequest), res.(*handler.GetCampaignAnalyticsResponse))
			},
		},
	})

	// get_queue_status
	r.RegisterHttpRoute(&router.HttpRoute{
		Path:   config.PathGetQueueStatus,
		Method: http.MethodGet,
		Handler: router.Handler{
			Req: new(handler.GetQueueStatusRequest),
			Res: new(handler.GetQueueStatusResponse),
			HandleFunc: func(ctx context.Context, req, res interface{}) error {
				return s.campaignHandler.GetQueueStatus(ctx, req.(*handler.GetQueueStatusRequest), res.(*handler.GetQueueStatusResponse))
			},
		},
	})

	// provider callbacks and recipient facing links
	r.RegisterRawRoute(http.MethodPost, config.PathEmailWebhook, s.trackingHandler.ServeWebhook)
	r.RegisterRawRoute(http.MethodGet, config.PathTrackOpen, s.trackingHandler.ServeOpen)
	r.RegisterRawRoute(http.MethodGet, config.PathTrackClick, s.trackingHandler.ServeClick)
	r.RegisterRawRoute(http.MethodGet, config.PathUnsubscribe, s.trackingHandler.ServeUnsubscribe)

	return r
}
