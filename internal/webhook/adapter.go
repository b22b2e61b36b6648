package webhook

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	apperrors "github.com/medsense-ai/medsense/internal/errors"
	"github.com/medsense-ai/medsense/internal/models"
)

// telegramUpdate mirrors the subset of the Telegram Bot API update payload
// the adapter needs.
type telegramUpdate struct {
	UpdateID int64 `json:"update_id"`
	Message  *struct {
		MessageID int64 `json:"message_id"`
		Chat      struct {
			ID int64 `json:"id"`
		} `json:"chat"`
		Text    string `json:"text"`
		Caption string `json:"caption"`
		Photo   []struct {
			FileID string `json:"file_id"`
		} `json:"photo"`
		Location *struct {
			Latitude  float64 `json:"latitude"`
			Longitude float64 `json:"longitude"`
		} `json:"location"`
	} `json:"message"`
}

// whatsAppEvent mirrors the WhatsApp Cloud API webhook envelope.
type whatsAppEvent struct {
	Entry []struct {
		Changes []struct {
			Value struct {
				Messages []struct {
					ID   string `json:"id"`
					From string `json:"from"`
					Text *struct {
						Body string `json:"body"`
					} `json:"text"`
					Image *struct {
						ID      string `json:"id"`
						Caption string `json:"caption"`
					} `json:"image"`
					Location *struct {
						Latitude  float64 `json:"latitude"`
						Longitude float64 `json:"longitude"`
					} `json:"location"`
				} `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

// NormalizeTelegram converts a raw Telegram update into the canonical
// Message. Updates without a message (edits, callbacks) return nil with no
// error. Total and deterministic for well-formed input.
func NormalizeTelegram(raw []byte, now time.Time) (*models.Message, error) {
	var update telegramUpdate
	if err := json.Unmarshal(raw, &update); err != nil {
		return nil, apperrors.New(apperrors.ErrCodeMalformedEvent, "unparseable telegram update", err)
	}
	if update.Message == nil {
		return nil, nil
	}
	if update.Message.Chat.ID == 0 {
		return nil, apperrors.New(apperrors.ErrCodeMalformedEvent, "telegram update has no chat id", nil)
	}

	msg := &models.Message{
		ID:         fmt.Sprintf("telegram:%d", update.UpdateID),
		UserID:     strconv.FormatInt(update.Message.Chat.ID, 10),
		Platform:   models.PlatformTelegram,
		Text:       update.Message.Text,
		ReceivedAt: now,
	}
	if len(update.Message.Photo) > 0 {
		// Telegram sends photo sizes smallest first; the last is the largest.
		msg.ImageRef = update.Message.Photo[len(update.Message.Photo)-1].FileID
		msg.Text = update.Message.Caption
	}
	if update.Message.Location != nil {
		msg.Location = &models.Location{
			Latitude:  update.Message.Location.Latitude,
			Longitude: update.Message.Location.Longitude,
		}
	}
	return msg, nil
}

// NormalizeWhatsApp converts a WhatsApp Cloud API event into the canonical
// Message. Status-only events return nil with no error.
func NormalizeWhatsApp(raw []byte, now time.Time) (*models.Message, error) {
	var event whatsAppEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		return nil, apperrors.New(apperrors.ErrCodeMalformedEvent, "unparseable whatsapp event", err)
	}
	if len(event.Entry) == 0 || len(event.Entry[0].Changes) == 0 {
		return nil, nil
	}
	messages := event.Entry[0].Changes[0].Value.Messages
	if len(messages) == 0 {
		return nil, nil
	}
	wa := messages[0]
	if wa.From == "" {
		return nil, apperrors.New(apperrors.ErrCodeMalformedEvent, "whatsapp message has no sender", nil)
	}
	if wa.ID == "" {
		return nil, apperrors.New(apperrors.ErrCodeMalformedEvent, "whatsapp message has no id", nil)
	}

	msg := &models.Message{
		ID:         "whatsapp:" + wa.ID,
		UserID:     wa.From,
		Platform:   models.PlatformWhatsApp,
		ReceivedAt: now,
	}
	switch {
	case wa.Text != nil:
		msg.Text = wa.Text.Body
	case wa.Image != nil:
		msg.ImageRef = wa.Image.ID
		msg.Text = wa.Image.Caption
	case wa.Location != nil:
		msg.Location = &models.Location{
			Latitude:  wa.Location.Latitude,
			Longitude: wa.Location.Longitude,
		}
	}
	return msg, nil
}
