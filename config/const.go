package config

const (
	PathHealthCheck          = "/"
	PathCreateCampaign       = "/create_campaign"
	PathSendCampaign         = "/send_campaign"
	PathResumeCampaign       = "/resume_campaign"
	PathGetCampaigns         = "/get_campaigns"
	PathGetCampaignAnalytics = "/get_campaign_analytics"
	PathGetQueueStatus       = "/get_queue_status"

	PathEmailWebhook = "/webhooks/email"
	PathTrackOpen    = "/track/open/{message_id}"
	PathTrackClick   = "/track/click/{message_id}"
	PathUnsubscribe  = "/unsubscribe/{message_id}"
)

const (
	DefaultPort   = 9090
	LogLevelDebug = "DEBUG"
)
