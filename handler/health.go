package handler

import (
	"context"
	"outreach/config"
	"outreach/pkg/goutil"
)

type HealthHandler interface {
	HealthCheck(ctx context.Context, req *HealthCheckRequest, res *HealthCheckResponse) error
}

type healthHandler struct {
	cfg *config.Config
}

func NewHealthHandler(cfg *config.Config) HealthHandler {
	return &healthHandler{cfg: cfg}
}

type HealthCheckRequest struct{}

type HealthCheckResponse struct {
	Status           *string `json:"status,omitempty"`
	EmailEnabled     *bool   `json:"email_enabled,omitempty"`
	EmailConfigured  *bool   `json:"email_configured,omitempty"`
	TrackingBaseURL  *string `json:"tracking_base_url,omitempty"`
	WebhookSecured   *bool   `json:"webhook_secured,omitempty"`
	LogStreamEnabled *bool   `json:"log_stream_enabled,omitempty"`
}

func (h *healthHandler) HealthCheck(_ context.Context, _ *HealthCheckRequest, res *HealthCheckResponse) error {
	res.Status = goutil.String("ok")
	res.EmailEnabled = goutil.Bool(h.cfg.Email.Enabled)
	res.EmailConfigured = goutil.Bool(h.cfg.Email.APIKey != "" && h.cfg.Email.SenderEmail != "")
	res.TrackingBaseURL = goutil.String(h.cfg.Tracking.BaseURL)
	res.WebhookSecured = goutil.Bool(h.cfg.Webhook.TokenHash != "")
	res.LogStreamEnabled = goutil.Bool(h.cfg.LogProducer.Enabled())
	return nil
}
