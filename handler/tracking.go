package handler

import (
	"bytes"
	"context"
	"errors"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
	"net/http"
	"outreach/config"
	"outreach/entity"
	"outreach/pkg/errutil"
	"outreach/pkg/goutil"
	"outreach/pkg/httputil"
	"outreach/pkg/trackutil"
	"strconv"
	"time"
)

const (
	headerWebhookToken = "X-Webhook-Token"

	// tracking side effects outlive a client that hangs up early
	trackingTimeout = 5 * time.Second
)

var (
	ErrInvalidWebhookToken = errors.New("invalid webhook token")
	ErrInvalidMessageID    = errors.New("invalid message id")
)

// TrackingHandler serves the endpoints hit by recipients and the email
// provider. They answer with pixels, redirects and pages instead of the
// JSON envelope.
type TrackingHandler struct {
	deliveryHandler DeliveryHandler
	trackingCfg     config.Tracking
	webhookCfg      config.Webhook
}

func NewTrackingHandler(deliveryHandler DeliveryHandler, trackingCfg config.Tracking, webhookCfg config.Webhook) *TrackingHandler {
	return &TrackingHandler{
		deliveryHandler: deliveryHandler,
		trackingCfg:     trackingCfg,
		webhookCfg:      webhookCfg,
	}
}

type OnWebhookEventResponse struct {
	Received *bool `json:"received,omitempty"`
}

func (h *TrackingHandler) ServeWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.webhookCfg.TokenHash != "" {
		if err := goutil.CompareBCrypt(h.webhookCfg.TokenHash, r.Header.Get(headerWebhookToken)); err != nil {
			log.Ctx(ctx).Warn().Msg("webhook token mismatch")
			httputil.ReturnServerResponse(w, nil, errutil.UnauthorizedError(ErrInvalidWebhookToken))
			return
		}
	}

	event := new(entity.WebhookEvent)
	if err := httputil.ReadJsonBody(r, event); err != nil {
		log.Ctx(ctx).Error().Msgf("read webhook body error: %v", err)
		httputil.ReturnServerResponse(w, nil, errutil.BadRequestError(err))
		return
	}

	res := &OnWebhookEventResponse{Received: goutil.Bool(true)}

	err := h.deliveryHandler.OnWebhookEvent(ctx, event)
	if errutil.IsNotFound(err) {
		// acknowledge so the provider stops retrying
		err = nil
	}

	httputil.ReturnServerResponse(w, res, err)
}

func (h *TrackingHandler) ServeOpen(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := detach(r.Context())
	defer cancel()

	if messageID, err := parseMessageID(r); err != nil {
		log.Ctx(ctx).Warn().Msgf("open tracking with bad message id: %v", mux.Vars(r)["message_id"])
	} else if err := h.deliveryHandler.OnOpen(ctx, messageID); err != nil {
		log.Ctx(ctx).Warn().Msgf("record open failed: %v, message_id: %d", err, messageID)
	}

	httputil.ReturnPixel(w)
}

func (h *TrackingHandler) ServeClick(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := detach(r.Context())
	defer cancel()

	target := r.URL.Query().Get("url")
	if !trackutil.ValidRedirect(target) {
		target = h.trackingCfg.DefaultRedirect
	}

	if messageID, err := parseMessageID(r); err != nil {
		log.Ctx(ctx).Warn().Msgf("click tracking with bad message id: %v", mux.Vars(r)["message_id"])
	} else if err := h.deliveryHandler.OnClick(ctx, messageID); err != nil {
		log.Ctx(ctx).Warn().Msgf("record click failed: %v, message_id: %d", err, messageID)
	}

	http.Redirect(w, r, target, http.StatusFound)
}

type unsubscribePage struct {
	Title   string
	Message string
}

func (h *TrackingHandler) ServeUnsubscribe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var (
		code = http.StatusOK
		page = unsubscribePage{
			Title:   "You have been unsubscribed",
			Message: "You will not receive further outreach emails from us.",
		}
	)

	messageID, err := parseMessageID(r)
	if err == nil {
		err = h.deliveryHandler.Unsubscribe(ctx, messageID)
	}

	if err != nil {
		if errors.Is(err, ErrInvalidMessageID) || errutil.IsNotFound(err) {
			code = http.StatusNotFound
			page = unsubscribePage{
				Title:   "Link not valid",
				Message: "This unsubscribe link is not valid or has expired.",
			}
		} else {
			log.Ctx(ctx).Error().Msgf("unsubscribe failed: %v", err)
			code = http.StatusInternalServerError
			page = unsubscribePage{
				Title:   "Something went wrong",
				Message: "We could not process your request. Please try again later.",
			}
		}
	}

	var buf bytes.Buffer
	if err := unsubscribeTmpl.Execute(&buf, page); err != nil {
		log.Ctx(ctx).Error().Msgf("render unsubscribe page failed: %v", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	httputil.ReturnHTML(w, code, buf.Bytes())
}

func parseMessageID(r *http.Request) (uint64, error) {
	messageID, err := strconv.ParseUint(mux.Vars(r)["message_id"], 10, 64)
	if err != nil || messageID == 0 {
		return 0, ErrInvalidMessageID
	}
	return messageID, nil
}

// detach keeps the logger of ctx but drops its cancellation.
func detach(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), trackingTimeout)
}
