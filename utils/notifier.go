package utils

import (
	"encoding/json"
	"time"

	"coldreach/models"

	"github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"
	"gorm.io/gorm"
)

// Notifier delivers notable events (replies, unsubscribes, auto-pauses) to
// external sinks. Emit is fire-and-forget from the core's point of view;
// retry and backoff are the sink's own responsibility.
type Notifier interface {
	Emit(userID uint, event string, payload map[string]interface{})
}

// WebhookNotifier POSTs events to the tenant's configured webhook URL.
type WebhookNotifier struct {
	DB      *gorm.DB
	Logger  *logrus.Logger
	Timeout time.Duration

	client *fasthttp.Client
}

func NewWebhookNotifier(db *gorm.DB, logger *logrus.Logger) *WebhookNotifier {
	return &WebhookNotifier{
		DB:      db,
		Logger:  logger,
		Timeout: 10 * time.Second,
		client:  &fasthttp.Client{},
	}
}

func (wn *WebhookNotifier) Emit(userID uint, event string, payload map[string]interface{}) {
	var user models.User
	if err := wn.DB.Select("webhook_url").First(&user, userID).Error; err != nil {
		return
	}
	if user.WebhookURL == "" {
		return
	}

	body, err := json.Marshal(map[string]interface{}{
		"event":      event,
		"user_id":    userID,
		"payload":    payload,
		"emitted_at": time.Now().UTC(),
	})
	if err != nil {
		return
	}

	url := user.WebhookURL
	go func() {
		req := fasthttp.AcquireRequest()
		resp := fasthttp.AcquireResponse()
		defer fasthttp.ReleaseRequest(req)
		defer fasthttp.ReleaseResponse(resp)

		req.SetRequestURI(url)
		req.Header.SetMethod(fasthttp.MethodPost)
		req.Header.SetContentType("application/json")
		req.SetBody(body)

		if err := wn.client.DoTimeout(req, resp, wn.Timeout); err != nil {
			wn.Logger.WithFields(logrus.Fields{
				"user_id": userID,
				"event":   event,
			}).Warnf("webhook delivery failed: %v", err)
		}
	}()
}

// MultiNotifier fans one event out to several sinks.
type MultiNotifier []Notifier

func (mn MultiNotifier) Emit(userID uint, event string, payload map[string]interface{}) {
	for _, n := range mn {
		n.Emit(userID, event, payload)
	}
}

// NopNotifier discards everything; used in tests.
type NopNotifier struct{}

func (NopNotifier) Emit(uint, string, map[string]interface{}) {}
