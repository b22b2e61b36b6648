package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-logr/logr"

	"github.com/medsense-ai/medsense/internal/config"
	apperrors "github.com/medsense-ai/medsense/internal/errors"
	"github.com/medsense-ai/medsense/internal/models"
)

// Sender delivers a Response to one platform.
type Sender interface {
	Send(ctx context.Context, resp models.Response) error
}

// Router picks the platform sender for each Response. It implements the
// engine's Dispatcher contract; retry policy lives here, not in the loop.
type Router struct {
	senders map[models.Platform]Sender
	log     logr.Logger
}

// NewRouter builds the dispatcher from configured platform senders. Senders
// for unconfigured platforms may be nil.
func NewRouter(telegram, whatsApp Sender, log logr.Logger) *Router {
	senders := make(map[models.Platform]Sender, 2)
	if telegram != nil {
		senders[models.PlatformTelegram] = telegram
	}
	if whatsApp != nil {
		senders[models.PlatformWhatsApp] = whatsApp
	}
	return &Router{senders: senders, log: log}
}

// Send routes the response to its platform sender.
func (r *Router) Send(ctx context.Context, resp models.Response) error {
	sender, ok := r.senders[resp.Platform]
	if !ok {
		return apperrors.New(apperrors.ErrCodeTransientSend,
			fmt.Sprintf("no sender configured for platform %s", resp.Platform), nil)
	}
	return sender.Send(ctx, resp)
}

// TelegramSender posts responses through the Telegram Bot API.
type TelegramSender struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewTelegramSender creates the Telegram sender.
func NewTelegramSender(cfg config.TelegramConfig) *TelegramSender {
	return &TelegramSender{
		baseURL: cfg.APIBaseURL,
		token:   cfg.BotToken,
		client:  &http.Client{Timeout: 20 * time.Second},
	}
}

func (t *TelegramSender) Send(ctx context.Context, resp models.Response) error {
	payload, err := json.Marshal(map[string]interface{}{
		"chat_id": resp.UserID,
		"text":    resp.Text,
	})
	if err != nil {
		return apperrors.New(apperrors.ErrCodeTransientSend, "failed to encode telegram payload", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.token)
	return post(ctx, t.client, url, payload, nil)
}

// WhatsAppSender posts responses through the WhatsApp Cloud API.
type WhatsAppSender struct {
	baseURL       string
	token         string
	phoneNumberID string
	client        *http.Client
}

// NewWhatsAppSender creates the WhatsApp sender.
func NewWhatsAppSender(cfg config.WhatsAppConfig) *WhatsAppSender {
	return &WhatsAppSender{
		baseURL:       cfg.APIBaseURL,
		token:         cfg.Token,
		phoneNumberID: cfg.PhoneNumberID,
		client:        &http.Client{Timeout: 20 * time.Second},
	}
}

func (w *WhatsAppSender) Send(ctx context.Context, resp models.Response) error {
	payload, err := json.Marshal(map[string]interface{}{
		"messaging_product": "whatsapp",
		"to":                resp.UserID,
		"type":              "text",
		"text":              map[string]string{"body": resp.Text},
	})
	if err != nil {
		return apperrors.New(apperrors.ErrCodeTransientSend, "failed to encode whatsapp payload", err)
	}

	url := fmt.Sprintf("%s/%s/messages", w.baseURL, w.phoneNumberID)
	headers := map[string]string{"Authorization": "Bearer " + w.token}
	return post(ctx, w.client, url, payload, headers)
}

func post(ctx context.Context, client *http.Client, url string, payload []byte, headers map[string]string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return apperrors.New(apperrors.ErrCodeTransientSend, "failed to build send request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	httpResp, err := client.Do(req)
	if err != nil {
		return apperrors.New(apperrors.ErrCodeTransientSend, "send request failed", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(httpResp.Body, 4096))
		return apperrors.New(apperrors.ErrCodeTransientSend,
			fmt.Sprintf("platform API returned %d: %s", httpResp.StatusCode, string(body)), nil)
	}
	return nil
}
