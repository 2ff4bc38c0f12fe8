package sms

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	twilioapi "github.com/twilio/twilio-go/rest/api/v2010"
	"go.uber.org/zap"

	"github.com/vellum/vellum/config"
)

type fakeTwilioAPI struct {
	createMessage func(*twilioapi.CreateMessageParams) (*twilioapi.ApiV2010Message, error)
}

func (f *fakeTwilioAPI) CreateMessage(params *twilioapi.CreateMessageParams) (*twilioapi.ApiV2010Message, error) {
	return f.createMessage(params)
}

func TestTwilioSender_Send(t *testing.T) {
	sid := "SM-1"

	t.Run("falls back to the configured sender number", func(t *testing.T) {
		var captured *twilioapi.CreateMessageParams
		api := &fakeTwilioAPI{
			createMessage: func(params *twilioapi.CreateMessageParams) (*twilioapi.ApiV2010Message, error) {
				captured = params
				return &twilioapi.ApiV2010Message{Sid: &sid}, nil
			},
		}
		sender := NewTwilioSenderWithAPI(api, &config.SMSConfig{SenderNumber: "+15550100"})

		err := sender.Send(context.Background(), Message{
			To:   "+15550199",
			Body: "your code is 123456",
		})

		require.NoError(t, err)
		require.NotNil(t, captured.To)
		assert.Equal(t, "+15550199", *captured.To)
		require.NotNil(t, captured.From)
		assert.Equal(t, "+15550100", *captured.From)
		require.NotNil(t, captured.Body)
		assert.Equal(t, "your code is 123456", *captured.Body)
	})

	t.Run("prefers the messaging service over the sender number", func(t *testing.T) {
		var captured *twilioapi.CreateMessageParams
		api := &fakeTwilioAPI{
			createMessage: func(params *twilioapi.CreateMessageParams) (*twilioapi.ApiV2010Message, error) {
				captured = params
				return &twilioapi.ApiV2010Message{Sid: &sid}, nil
			},
		}
		sender := NewTwilioSenderWithAPI(api, &config.SMSConfig{
			SenderNumber:        "+15550100",
			MessagingServiceSID: "MG-1",
		})

		err := sender.Send(context.Background(), Message{To: "+15550199", Body: "hi"})

		require.NoError(t, err)
		require.NotNil(t, captured.MessagingServiceSid)
		assert.Equal(t, "MG-1", *captured.MessagingServiceSid)
		assert.Nil(t, captured.From)
	})

	t.Run("rejects messages without a recipient", func(t *testing.T) {
		sender := NewTwilioSenderWithAPI(&fakeTwilioAPI{}, &config.SMSConfig{SenderNumber: "+15550100"})
		assert.Error(t, sender.Send(context.Background(), Message{Body: "hi"}))
	})

	t.Run("rejects sending with no route configured", func(t *testing.T) {
		sender := NewTwilioSenderWithAPI(&fakeTwilioAPI{}, &config.SMSConfig{})
		assert.Error(t, sender.Send(context.Background(), Message{To: "+15550199", Body: "hi"}))
	})
}

func TestNewSender(t *testing.T) {
	t.Run("unknown provider is rejected", func(t *testing.T) {
		_, err := NewSender(&config.SMSConfig{Provider: "carrier-pigeon"}, zap.NewNop())
		assert.Error(t, err)
	})
}
