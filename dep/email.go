package dep

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	brevo "github.com/getbrevo/brevo-go/lib"
	"github.com/rs/zerolog/log"
	"io"
	"net/http"
	"outreach/config"
	"outreach/pkg/errutil"
	"time"
)

const devModeProviderIDPrefix = "dev-mode-"

var (
	ErrMissingAPIKey   = errors.New("email api key is not configured")
	ErrMissingSender   = errors.New("email sender is not configured")
	ErrEmptyProviderID = errors.New("email provider returned no message id")
)

type brevoResp struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

type EmailService interface {
	// SendEmail hands one message to the provider and returns the provider's
	// message id.
	SendEmail(ctx context.Context, sendEmail *SendEmail) (string, error)
	Close(ctx context.Context) error
}

type SendEmail struct {
	MessageID   uint64
	CampaignID  uint64
	To          string
	Subject     string
	HtmlContent string
}

func NewEmailService(ctx context.Context, cfg config.Email) EmailService {
	if !cfg.Enabled {
		log.Ctx(ctx).Warn().Msg("email sending disabled, running email service in dev mode")
		return new(devModeEmailService)
	}

	timeout := time.Duration(cfg.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &emailService{
		apiKey:      cfg.APIKey,
		apiURL:      cfg.APIURL,
		senderEmail: cfg.SenderEmail,
		senderName:  cfg.SenderName,
		client:      &http.Client{Timeout: timeout},
	}
}

type emailService struct {
	apiKey      string
	apiURL      string
	senderEmail string
	senderName  string
	client      *http.Client
}

func (s *emailService) SendEmail(ctx context.Context, sendEmail *SendEmail) (string, error) {
	if s.apiKey == "" {
		return "", errutil.ConfigError(ErrMissingAPIKey)
	}

	if s.senderEmail == "" {
		return "", errutil.ConfigError(ErrMissingSender)
	}

	body := brevo.SendSmtpEmail{
		Sender: &brevo.SendSmtpEmailSender{
			Name:  s.senderName,
			Email: s.senderEmail,
		},
		ReplyTo: &brevo.SendSmtpEmailReplyTo{
			Email: s.senderEmail,
		},
		To:          []brevo.SendSmtpEmailTo{{Email: sendEmail.To}},
		Subject:     sendEmail.Subject,
		HtmlContent: sendEmail.HtmlContent,
		Tags: []string{
			fmt.Sprintf("campaign:%d", sendEmail.CampaignID),
			fmt.Sprintf("message:%d", sendEmail.MessageID),
		},
	}

	created := new(brevo.CreateSmtpEmail)
	if err := s.postHttpRequest(ctx, s.apiURL, body, created); err != nil {
		return "", err
	}

	if created.MessageId == "" {
		return "", ErrEmptyProviderID
	}

	return created.MessageId, nil
}

func (s *emailService) Close(_ context.Context) error {
	s.client.CloseIdleConnections()
	return nil
}

func (s *emailService) postHttpRequest(ctx context.Context, url string, body interface{}, dst interface{}) error {
	js, err := toRequestBody(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(js))
	if err != nil {
		return err
	}

	req.Header.Add("accept", "application/json")
	req.Header.Add("content-type", "application/json")
	req.Header.Add("api-key", s.apiKey)

	res, err := s.client.Do(req)
	if err != nil {
		return err
	}

	defer func() {
		_ = res.Body.Close()
	}()

	b, err := io.ReadAll(res.Body)
	if err != nil {
		return err
	}

	if res.StatusCode < http.StatusOK || res.StatusCode >= http.StatusMultipleChoices {
		brevoResp := new(brevoResp)
		if err := json.Unmarshal(b, brevoResp); err != nil || brevoResp.Message == "" {
			return fmt.Errorf("encounter brevo error, status: %d", res.StatusCode)
		}
		return fmt.Errorf("encounter brevo error: %s, code: %s", brevoResp.Message, brevoResp.Code)
	}

	return json.Unmarshal(b, dst)
}

// toRequestBody drops the zero scheduledAt the brevo model always emits, so
// the provider sends immediately.
func toRequestBody(body interface{}) ([]byte, error) {
	js, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	m := make(map[string]interface{})
	if err := json.Unmarshal(js, &m); err != nil {
		return nil, err
	}
	if scheduledAt, ok := m["scheduledAt"].(string); ok && scheduledAt == (time.Time{}).Format(time.RFC3339) {
		delete(m, "scheduledAt")
	}

	return json.Marshal(m)
}

type devModeEmailService struct{}

func (s *devModeEmailService) SendEmail(ctx context.Context, sendEmail *SendEmail) (string, error) {
	log.Ctx(ctx).Info().Msgf("dev mode, email not sent, message_id: %d, to: %s, subject: %s",
		sendEmail.MessageID, sendEmail.To, sendEmail.Subject)
	return fmt.Sprintf("%s%d", devModeProviderIDPrefix, sendEmail.MessageID), nil
}

func (s *devModeEmailService) Close(_ context.Context) error {
	return nil
}
