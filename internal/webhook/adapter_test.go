package webhook

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/medsense-ai/medsense/internal/errors"
	"github.com/medsense-ai/medsense/internal/models"
)

var now = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func TestNormalizeTelegram_Text(t *testing.T) {
	raw := []byte(`{
		"update_id": 9001,
		"message": {
			"message_id": 42,
			"chat": {"id": 123456},
			"text": "I have a fever"
		}
	}`)

	msg, err := NormalizeTelegram(raw, now)
	require.NoError(t, err)
	require.NotNil(t, msg)

	assert.Equal(t, "telegram:9001", msg.ID)
	assert.Equal(t, "123456", msg.UserID)
	assert.Equal(t, models.PlatformTelegram, msg.Platform)
	assert.Equal(t, "I have a fever", msg.Text)
	assert.Equal(t, now, msg.ReceivedAt)
}

func TestNormalizeTelegram_PhotoTakesLargestSize(t *testing.T) {
	raw := []byte(`{
		"update_id": 9002,
		"message": {
			"chat": {"id": 123456},
			"caption": "what is this rash?",
			"photo": [{"file_id": "small"}, {"file_id": "medium"}, {"file_id": "large"}]
		}
	}`)

	msg, err := NormalizeTelegram(raw, now)
	require.NoError(t, err)
	assert.Equal(t, "large", msg.ImageRef)
	assert.Equal(t, "what is this rash?", msg.Text)
}

func TestNormalizeTelegram_Location(t *testing.T) {
	raw := []byte(`{
		"update_id": 9003,
		"message": {
			"chat": {"id": 123456},
			"location": {"latitude": 52.52, "longitude": 13.405}
		}
	}`)

	msg, err := NormalizeTelegram(raw, now)
	require.NoError(t, err)
	require.NotNil(t, msg.Location)
	assert.InDelta(t, 52.52, msg.Location.Latitude, 1e-9)
	assert.InDelta(t, 13.405, msg.Location.Longitude, 1e-9)
}

func TestNormalizeTelegram_MissingChatIDIsMalformed(t *testing.T) {
	raw := []byte(`{"update_id": 9004, "message": {"text": "hi"}}`)

	_, err := NormalizeTelegram(raw, now)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeMalformedEvent))
}

func TestNormalizeTelegram_NonMessageUpdateIgnored(t *testing.T) {
	msg, err := NormalizeTelegram([]byte(`{"update_id": 9005}`), now)
	require.NoError(t, err)
	assert.Nil(t, msg)
}

func TestNormalizeWhatsApp_Text(t *testing.T) {
	raw := []byte(`{
		"entry": [{"changes": [{"value": {"messages": [
			{"id": "wamid.abc", "from": "4915551234", "text": {"body": "hello"}}
		]}}]}
	]}`)

	msg, err := NormalizeWhatsApp(raw, now)
	require.NoError(t, err)
	require.NotNil(t, msg)

	assert.Equal(t, "whatsapp:wamid.abc", msg.ID)
	assert.Equal(t, "4915551234", msg.UserID)
	assert.Equal(t, models.PlatformWhatsApp, msg.Platform)
	assert.Equal(t, "hello", msg.Text)
}

func TestNormalizeWhatsApp_ImageWithCaption(t *testing.T) {
	raw := []byte(`{
		"entry": [{"changes": [{"value": {"messages": [
			{"id": "wamid.img", "from": "4915551234", "image": {"id": "media-1", "caption": "my arm"}}
		]}}]}
	]}`)

	msg, err := NormalizeWhatsApp(raw, now)
	require.NoError(t, err)
	assert.Equal(t, "media-1", msg.ImageRef)
	assert.Equal(t, "my arm", msg.Text)
}

func TestNormalizeWhatsApp_StatusEventIgnored(t *testing.T) {
	msg, err := NormalizeWhatsApp([]byte(`{"entry": [{"changes": [{"value": {}}]}]}`), now)
	require.NoError(t, err)
	assert.Nil(t, msg)
}

func TestNormalizeWhatsApp_MissingSenderIsMalformed(t *testing.T) {
	raw := []byte(`{
		"entry": [{"changes": [{"value": {"messages": [
			{"id": "wamid.x", "text": {"body": "hi"}}
		]}}]}
	]}`)

	_, err := NormalizeWhatsApp(raw, now)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeMalformedEvent))
}
