package handler

import (
	"context"
	"fmt"
	"outreach/config"
	"outreach/dep"
	"outreach/entity"
	"outreach/pkg/goutil"
	"outreach/pkg/sendqueue"
	"outreach/repo"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

type fakeEmailService struct {
	mu    sync.Mutex
	sent  []*dep.SendEmail
	errs  map[string]error
	calls int
}

func (s *fakeEmailService) SendEmail(_ context.Context, sendEmail *dep.SendEmail) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++
	if err := s.errs[sendEmail.To]; err != nil {
		return "", err
	}
	s.sent = append(s.sent, sendEmail)

	return fmt.Sprintf("prov-%d", sendEmail.MessageID), nil
}

func (s *fakeEmailService) Close(_ context.Context) error {
	return nil
}

type fakeSendQueue struct {
	mu      sync.Mutex
	entries []*sendqueue.Entry
	queued  map[uint64]bool
	limit   int
}

func newFakeSendQueue(limit int) *fakeSendQueue {
	return &fakeSendQueue{
		queued: make(map[uint64]bool),
		limit:  limit,
	}
}

func (q *fakeSendQueue) Enqueue(_ context.Context, entry *sendqueue.Entry) (*sendqueue.EnqueueResult, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) >= q.limit {
		return nil, sendqueue.ErrDailyLimitExceeded
	}
	if q.queued[entry.MessageID] {
		return nil, sendqueue.ErrAlreadyQueued
	}

	q.queued[entry.MessageID] = true
	q.entries = append(q.entries, entry)

	return &sendqueue.EnqueueResult{
		Position:        len(q.entries),
		EstimatedWaitMs: int64(len(q.entries)) * 30_000,
	}, nil
}

func (q *fakeSendQueue) Status() *sendqueue.Status {
	q.mu.Lock()
	defer q.mu.Unlock()

	return &sendqueue.Status{
		QueueLength:    len(q.entries),
		DailyLimit:     q.limit,
		RemainingToday: q.limit - len(q.entries),
	}
}

type testEnv struct {
	txService       repo.TxService
	campaignRepo    repo.CampaignRepo
	messageRepo     repo.MessageRepo
	recipientRepo   repo.RecipientRepo
	deliveryLogRepo repo.DeliveryLogRepo

	emailService *fakeEmailService
	sendQueue    *fakeSendQueue
	aggregator   CampaignAggregator
	delivery     DeliveryHandler
	campaigns    CampaignHandler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

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

	env := &testEnv{
		txService:       repo.NewTxService(orm),
		campaignRepo:    repo.NewCampaignRepo(ctx, orm),
		messageRepo:     repo.NewMessageRepo(ctx, orm, repo.NewBaseCache(ctx)),
		recipientRepo:   repo.NewRecipientRepo(ctx, orm),
		deliveryLogRepo: repo.NewDeliveryLogRepo(ctx, orm),
		emailService:    &fakeEmailService{errs: make(map[string]error)},
		sendQueue:       newFakeSendQueue(100),
	}

	env.aggregator = NewCampaignAggregator(env.campaignRepo, env.messageRepo)

	clock := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	env.delivery = NewDeliveryHandler(
		env.messageRepo,
		env.recipientRepo,
		env.emailService,
		env.aggregator,
		NewRepoDeliveryLogger(env.deliveryLogRepo),
		config.Tracking{
			BaseURL:         "http://localhost:9090",
			DefaultRedirect: "https://example.com",
			TrackClicks:     true,
		},
		WithNow(func() time.Time { return clock }),
	)

	env.campaigns = NewCampaignHandler(
		env.txService,
		env.campaignRepo,
		env.messageRepo,
		env.recipientRepo,
		env.aggregator,
		env.sendQueue,
	)

	return env
}

// createCampaign creates a draft campaign with one message per address and
// returns the campaign with its messages in creation order.
func (e *testEnv) createCampaign(t *testing.T, addresses ...string) (*entity.Campaign, []*entity.Message) {
	t.Helper()

	ctx := context.Background()

	req := &CreateCampaignRequest{
		Company: goutil.String("Acme"),
		Topic:   goutil.String("AI tools"),
	}
	for _, address := range addresses {
		req.Messages = append(req.Messages, &OutreachMessage{
			Email:    goutil.String(address),
			Subject:  goutil.String("Story idea"),
			HtmlBody: goutil.String(`<p>Hi, see <a href="https://acme.com">our launch</a></p>`),
		})
	}

	res := new(CreateCampaignResponse)
	if err := e.campaigns.CreateCampaign(ctx, req, res); err != nil {
		t.Fatalf("create campaign: %v", err)
	}

	messages, err := e.messageRepo.GetManyByCampaign(ctx, res.Campaign.GetID(), entity.MessageStatusUnknown)
	if err != nil {
		t.Fatalf("get messages: %v", err)
	}

	return res.Campaign, messages
}

// sendAll marks the campaign running and transmits every queued message.
func (e *testEnv) sendAll(t *testing.T, campaignID uint64) {
	t.Helper()

	ctx := context.Background()
	if err := e.campaigns.SendCampaign(ctx, &SendCampaignRequest{CampaignID: goutil.Uint64(campaignID)}, new(SendCampaignResponse)); err != nil {
		t.Fatalf("send campaign: %v", err)
	}

	e.sendQueue.mu.Lock()
	entries := append([]*sendqueue.Entry(nil), e.sendQueue.entries...)
	e.sendQueue.mu.Unlock()

	for _, entry := range entries {
		if entry.CampaignID != campaignID {
			continue
		}
		_ = e.delivery.Transmit(ctx, entry)
	}
}

func (e *testEnv) message(t *testing.T, messageID uint64) *entity.Message {
	t.Helper()

	msg, err := e.messageRepo.GetByID(context.Background(), messageID)
	if err != nil {
		t.Fatalf("get message: %v", err)
	}
	return msg
}

func (e *testEnv) campaign(t *testing.T, campaignID uint64) *entity.Campaign {
	t.Helper()

	campaign, err := e.campaignRepo.GetByID(context.Background(), campaignID)
	if err != nil {
		t.Fatalf("get campaign: %v", err)
	}
	return campaign
}

func webhookEvent(eventType, providerID, bounceMessage string) *entity.WebhookEvent {
	event := &entity.WebhookEvent{
		Type: goutil.String(eventType),
		Data: &entity.WebhookData{
			EmailID: goutil.String(providerID),
		},
	}
	if bounceMessage != "" {
		event.Data.Bounce = &entity.WebhookBounce{Message: goutil.String(bounceMessage)}
	}
	return event
}
