package handler

import (
	"context"
	"net/http"
	"outreach/entity"
	"outreach/pkg/errutil"
	"outreach/pkg/goutil"
	"testing"
)

func TestCampaign_CreateCampaign(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	first, messages := env.createCampaign(t, "jo@news.com")
	env.sendAll(t, first.GetID())
	if err := env.delivery.Unsubscribe(ctx, messages[0].GetID()); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}

	req := &CreateCampaignRequest{
		Company: goutil.String("Acme"),
		Topic:   goutil.String("Launch"),
		Messages: []*OutreachMessage{
			{Email: goutil.String("Sam@News.com"), Subject: goutil.String("Hi"), HtmlBody: goutil.String("<p>a</p>")},
			{Email: goutil.String("sam@news.com"), Subject: goutil.String("Hi"), HtmlBody: goutil.String("<p>b</p>")},
			{Email: goutil.String("jo@news.com"), Subject: goutil.String("Hi"), HtmlBody: goutil.String("<p>c</p>")},
			{Email: goutil.String("kim@daily.com"), Subject: goutil.String("Hi"), HtmlBody: goutil.String("<p>d</p>")},
		},
	}
	res := new(CreateCampaignResponse)
	if err := env.campaigns.CreateCampaign(ctx, req, res); err != nil {
		t.Fatalf("create campaign: %v", err)
	}

	if res.Campaign.GetStatus() != entity.CampaignStatusDraft {
		t.Errorf("expected draft, got %v", res.Campaign.GetStatus())
	}
	if res.Campaign.GetTotalEmails() != 2 {
		t.Errorf("expected 2 emails, got %d", res.Campaign.GetTotalEmails())
	}
	if len(res.Skipped) != 1 || res.Skipped[0] != "jo@news.com" {
		t.Errorf("expected unsubscribed recipient skipped, got %v", res.Skipped)
	}

	msgs, err := env.messageRepo.GetManyByCampaign(ctx, res.Campaign.GetID(), entity.MessageStatusUnknown)
	if err != nil {
		t.Fatalf("get messages: %v", err)
	}
	if len(msgs) != 2 || msgs[0].GetRecipientAddress() != "sam@news.com" || msgs[1].GetRecipientAddress() != "kim@daily.com" {
		t.Fatalf("unexpected messages: %v", msgs)
	}
	for _, msg := range msgs {
		if msg.GetStatus() != entity.MessageStatusQueued {
			t.Errorf("expected queued, got %v", msg.GetStatus())
		}
	}
}

func TestCampaign_CreateCampaignAllUnsubscribed(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	first, messages := env.createCampaign(t, "jo@news.com")
	env.sendAll(t, first.GetID())
	if err := env.delivery.Unsubscribe(ctx, messages[0].GetID()); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}

	err := env.campaigns.CreateCampaign(ctx, &CreateCampaignRequest{
		Company: goutil.String("Acme"),
		Topic:   goutil.String("Launch"),
		Messages: []*OutreachMessage{
			{Email: goutil.String("jo@news.com"), Subject: goutil.String("Hi"), HtmlBody: goutil.String("<p>a</p>")},
		},
	}, new(CreateCampaignResponse))
	if code, _ := errutil.ParseHttpError(err); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d: %v", code, err)
	}

	res := new(GetCampaignsResponse)
	if err := env.campaigns.GetCampaigns(ctx, new(GetCampaignsRequest), res); err != nil {
		t.Fatalf("get campaigns: %v", err)
	}
	if len(res.Campaigns) != 1 {
		t.Errorf("expected no campaign created, got %d", len(res.Campaigns))
	}
}

func TestCampaign_CreateCampaignValidation(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	tests := []struct {
		name string
		req  *CreateCampaignRequest
	}{
		{
			name: "missing company",
			req: &CreateCampaignRequest{
				Topic: goutil.String("Launch"),
				Messages: []*OutreachMessage{
					{Email: goutil.String("jo@news.com"), Subject: goutil.String("Hi"), HtmlBody: goutil.String("<p>a</p>")},
				},
			},
		},
		{
			name: "no messages",
			req: &CreateCampaignRequest{
				Company: goutil.String("Acme"),
				Topic:   goutil.String("Launch"),
			},
		},
		{
			name: "bad address",
			req: &CreateCampaignRequest{
				Company: goutil.String("Acme"),
				Topic:   goutil.String("Launch"),
				Messages: []*OutreachMessage{
					{Email: goutil.String("not-an-email"), Subject: goutil.String("Hi"), HtmlBody: goutil.String("<p>a</p>")},
				},
			},
		},
		{
			name: "missing body",
			req: &CreateCampaignRequest{
				Company: goutil.String("Acme"),
				Topic:   goutil.String("Launch"),
				Messages: []*OutreachMessage{
					{Email: goutil.String("jo@news.com"), Subject: goutil.String("Hi")},
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := env.campaigns.CreateCampaign(ctx, tt.req, new(CreateCampaignResponse))
			if code, _ := errutil.ParseHttpError(err); code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d: %v", code, err)
			}
		})
	}
}

func TestCampaign_SendCampaign(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	campaign, messages := env.createCampaign(t, "a@news.com", "b@news.com", "c@news.com")

	res := new(SendCampaignResponse)
	if err := env.campaigns.SendCampaign(ctx, &SendCampaignRequest{CampaignID: campaign.ID}, res); err != nil {
		t.Fatalf("send campaign: %v", err)
	}

	summary := res.Summary
	if *summary.Enqueued != 3 || *summary.Deferred != 0 || *summary.LastPosition != 3 || *summary.EstimatedWaitMs != 90_000 {
		t.Errorf("unexpected summary: %+v", summary)
	}

	if len(env.sendQueue.entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(env.sendQueue.entries))
	}
	for i, entry := range env.sendQueue.entries {
		if entry.MessageID != messages[i].GetID() {
			t.Errorf("entry %d: expected message %d, got %d", i, messages[i].GetID(), entry.MessageID)
		}
	}

	if got := env.campaign(t, campaign.GetID()); got.GetStatus() != entity.CampaignStatusRunning {
		t.Errorf("expected running, got %v", got.GetStatus())
	}

	err := env.campaigns.SendCampaign(ctx, &SendCampaignRequest{CampaignID: campaign.ID}, new(SendCampaignResponse))
	if code, _ := errutil.ParseHttpError(err); code != http.StatusConflict {
		t.Errorf("expected 409 on second send, got %d: %v", code, err)
	}
	if len(env.sendQueue.entries) != 3 {
		t.Errorf("second send must not enqueue, got %d entries", len(env.sendQueue.entries))
	}

	err = env.campaigns.SendCampaign(ctx, &SendCampaignRequest{CampaignID: goutil.Uint64(9999)}, new(SendCampaignResponse))
	if !errutil.IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestCampaign_SendCampaignDailyLimit(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.sendQueue.limit = 2

	campaign, _ := env.createCampaign(t, "a@news.com", "b@news.com", "c@news.com")

	res := new(SendCampaignResponse)
	if err := env.campaigns.SendCampaign(ctx, &SendCampaignRequest{CampaignID: campaign.ID}, res); err != nil {
		t.Fatalf("send campaign: %v", err)
	}
	if *res.Summary.Enqueued != 2 || *res.Summary.Deferred != 1 {
		t.Errorf("expected partial summary, got %+v", res.Summary)
	}

	other, _ := env.createCampaign(t, "d@news.com")
	err := env.campaigns.SendCampaign(ctx, &SendCampaignRequest{CampaignID: other.ID}, new(SendCampaignResponse))
	if code, _ := errutil.ParseHttpError(err); code != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d: %v", code, err)
	}
	if got := env.campaign(t, other.GetID()); got.GetStatus() != entity.CampaignStatusDraft {
		t.Errorf("expected draft after 429, got %v", got.GetStatus())
	}
}

func TestCampaign_SendCampaignRetriedNextDay(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.sendQueue.limit = 0

	campaign, messages := env.createCampaign(t, "a@news.com", "b@news.com")

	err := env.campaigns.SendCampaign(ctx, &SendCampaignRequest{CampaignID: campaign.ID}, new(SendCampaignResponse))
	if code, _ := errutil.ParseHttpError(err); code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d: %v", code, err)
	}
	if got := env.campaign(t, campaign.GetID()); got.GetStatus() != entity.CampaignStatusDraft {
		t.Errorf("expected draft while nothing is queued, got %v", got.GetStatus())
	}
	if len(env.sendQueue.entries) != 0 {
		t.Errorf("expected no entries, got %d", len(env.sendQueue.entries))
	}

	// next day, the queue has room again
	env.sendQueue.limit = 10

	res := new(SendCampaignResponse)
	if err := env.campaigns.SendCampaign(ctx, &SendCampaignRequest{CampaignID: campaign.ID}, res); err != nil {
		t.Fatalf("retry send campaign: %v", err)
	}
	if *res.Summary.Enqueued != 2 || *res.Summary.Deferred != 0 {
		t.Errorf("unexpected summary: %+v", res.Summary)
	}
	if len(env.sendQueue.entries) != 2 || env.sendQueue.entries[0].MessageID != messages[0].GetID() {
		t.Errorf("expected both messages queued in order, got %d entries", len(env.sendQueue.entries))
	}
	if got := env.campaign(t, campaign.GetID()); got.GetStatus() != entity.CampaignStatusRunning {
		t.Errorf("expected running, got %v", got.GetStatus())
	}
}

func TestCampaign_ResumeCampaign(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.sendQueue.limit = 1

	campaign, messages := env.createCampaign(t, "a@news.com", "b@news.com")

	err := env.campaigns.ResumeCampaign(ctx, &ResumeCampaignRequest{CampaignID: campaign.ID}, new(ResumeCampaignResponse))
	if code, _ := errutil.ParseHttpError(err); code != http.StatusConflict {
		t.Errorf("expected 409 for draft campaign, got %d: %v", code, err)
	}

	if err := env.campaigns.SendCampaign(ctx, &SendCampaignRequest{CampaignID: campaign.ID}, new(SendCampaignResponse)); err != nil {
		t.Fatalf("send campaign: %v", err)
	}
	for _, entry := range env.sendQueue.entries {
		if err := env.delivery.Transmit(ctx, entry); err != nil {
			t.Fatalf("transmit: %v", err)
		}
	}

	// next day, the queue has room again
	env.sendQueue.limit = 10

	res := new(ResumeCampaignResponse)
	if err := env.campaigns.ResumeCampaign(ctx, &ResumeCampaignRequest{CampaignID: campaign.ID}, res); err != nil {
		t.Fatalf("resume campaign: %v", err)
	}
	if *res.Summary.Enqueued != 1 {
		t.Errorf("expected 1 enqueued, got %+v", res.Summary)
	}
	last := env.sendQueue.entries[len(env.sendQueue.entries)-1]
	if last.MessageID != messages[1].GetID() {
		t.Errorf("expected remaining message resumed, got %d", last.MessageID)
	}

	if err := env.delivery.Transmit(ctx, last); err != nil {
		t.Fatalf("transmit: %v", err)
	}
	if got := env.campaign(t, campaign.GetID()); got.GetStatus() != entity.CampaignStatusCompleted {
		t.Errorf("expected completed, got %v", got.GetStatus())
	}

	err = env.campaigns.ResumeCampaign(ctx, &ResumeCampaignRequest{CampaignID: campaign.ID}, new(ResumeCampaignResponse))
	if code, _ := errutil.ParseHttpError(err); code != http.StatusConflict {
		t.Errorf("expected 409 for completed campaign, got %d: %v", code, err)
	}
}

func TestCampaign_GetCampaignAnalytics(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	campaign, messages := env.createCampaign(t, "a@news.com", "b@news.com", "c@news.com")
	env.sendAll(t, campaign.GetID())

	bounced := env.message(t, messages[0].GetID())
	if err := env.delivery.OnWebhookEvent(ctx, webhookEvent(entity.WebhookEmailBounced, bounced.GetProviderID(), "mailbox full")); err != nil {
		t.Fatalf("bounce: %v", err)
	}
	if err := env.delivery.OnOpen(ctx, messages[1].GetID()); err != nil {
		t.Fatalf("open: %v", err)
	}

	res := new(GetCampaignAnalyticsResponse)
	if err := env.campaigns.GetCampaignAnalytics(ctx, &GetCampaignAnalyticsRequest{CampaignID: campaign.ID}, res); err != nil {
		t.Fatalf("get analytics: %v", err)
	}

	a := res.Analytics
	if *a.Delivered != 2 {
		t.Errorf("expected 2 delivered, got %d", *a.Delivered)
	}
	if *a.DeliveryRate != 66.67 || *a.OpenRate != 33.33 || *a.BounceRate != 33.33 || *a.ClickRate != 0 {
		t.Errorf("unexpected rates: delivery %v, open %v, bounce %v, click %v", *a.DeliveryRate, *a.OpenRate, *a.BounceRate, *a.ClickRate)
	}
	if *a.Queued != 0 {
		t.Errorf("expected nothing queued, got %d", *a.Queued)
	}

	err := env.campaigns.GetCampaignAnalytics(ctx, &GetCampaignAnalyticsRequest{CampaignID: goutil.Uint64(9999)}, new(GetCampaignAnalyticsResponse))
	if !errutil.IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestCampaign_GetCampaigns(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	running, _ := env.createCampaign(t, "a@news.com")
	if err := env.campaigns.SendCampaign(ctx, &SendCampaignRequest{CampaignID: running.ID}, new(SendCampaignResponse)); err != nil {
		t.Fatalf("send campaign: %v", err)
	}
	env.createCampaign(t, "b@news.com")

	res := new(GetCampaignsResponse)
	if err := env.campaigns.GetCampaigns(ctx, &GetCampaignsRequest{
		Status: goutil.Uint32(uint32(entity.CampaignStatusRunning)),
	}, res); err != nil {
		t.Fatalf("get campaigns: %v", err)
	}
	if len(res.Campaigns) != 1 || res.Campaigns[0].GetID() != running.GetID() {
		t.Errorf("expected only running campaign, got %v", res.Campaigns)
	}

	err := env.campaigns.GetCampaigns(ctx, &GetCampaignsRequest{Status: goutil.Uint32(9)}, new(GetCampaignsResponse))
	if code, _ := errutil.ParseHttpError(err); code != http.StatusBadRequest {
		t.Errorf("expected 400 on bad status, got %d", code)
	}
}

func TestCampaign_GetQueueStatus(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	campaign, _ := env.createCampaign(t, "a@news.com", "b@news.com")
	if err := env.campaigns.SendCampaign(ctx, &SendCampaignRequest{CampaignID: campaign.ID}, new(SendCampaignResponse)); err != nil {
		t.Fatalf("send campaign: %v", err)
	}

	res := new(GetQueueStatusResponse)
	if err := env.campaigns.GetQueueStatus(ctx, new(GetQueueStatusRequest), res); err != nil {
		t.Fatalf("get queue status: %v", err)
	}
	if res.Status.QueueLength != 2 || res.Status.RemainingToday != 98 {
		t.Errorf("unexpected status: %+v", res.Status)
	}
}
