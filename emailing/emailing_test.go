package emailing

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	mailjet "github.com/mailjet/mailjet-apiv3-go/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSESClient struct {
	sendEmail func(*sesv2.SendEmailInput) (*sesv2.SendEmailOutput, error)
}

func (f *fakeSESClient) SendEmail(_ context.Context, in *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	return f.sendEmail(in)
}

func TestSESSender_Send(t *testing.T) {
	t.Run("falls back to the configured sender address", func(t *testing.T) {
		var captured *sesv2.SendEmailInput
		client := &fakeSESClient{
			sendEmail: func(in *sesv2.SendEmailInput) (*sesv2.SendEmailOutput, error) {
				captured = in
				return &sesv2.SendEmailOutput{MessageId: aws.String("m-1")}, nil
			},
		}
		sender := NewSESSenderWithClient(client, "noreply@vellum.dev")

		err := sender.Send(context.Background(), Message{
			To:       []string{"ada@example.com"},
			Subject:  "Welcome",
			TextBody: "hello",
		})

		require.NoError(t, err)
		assert.Equal(t, "noreply@vellum.dev", aws.ToString(captured.FromEmailAddress))
		assert.Equal(t, []string{"ada@example.com"}, captured.Destination.ToAddresses)
		assert.Equal(t, "Welcome", aws.ToString(captured.Content.Simple.Subject.Data))
	})

	t.Run("rejects messages without recipients", func(t *testing.T) {
		sender := NewSESSenderWithClient(&fakeSESClient{}, "noreply@vellum.dev")
		assert.Error(t, sender.Send(context.Background(), Message{Subject: "x"}))
	})
}

type fakeMailjetClient struct {
	sendMail func(*mailjet.MessagesV31) (*mailjet.ResultsV31, error)
}

func (f *fakeMailjetClient) SendMailV31(data *mailjet.MessagesV31, _ ...mailjet.RequestOptions) (*mailjet.ResultsV31, error) {
	return f.sendMail(data)
}

func TestMailjetSender_Send(t *testing.T) {
	t.Run("template messages render server side", func(t *testing.T) {
		var captured *mailjet.MessagesV31
		client := &fakeMailjetClient{
			sendMail: func(data *mailjet.MessagesV31) (*mailjet.ResultsV31, error) {
				captured = data
				return &mailjet.ResultsV31{}, nil
			},
		}
		sender := NewMailjetSenderWithClient(client, "noreply@vellum.dev")

		err := sender.Send(context.Background(), Message{
			To:         []string{"ada@example.com"},
			TemplateID: 42,
			Variables:  map[string]any{"first_name": "Ada"},
		})

		require.NoError(t, err)
		require.Len(t, captured.Info, 1)
		assert.Equal(t, 42, captured.Info[0].TemplateID)
		assert.True(t, captured.Info[0].TemplateLanguage)
		assert.Equal(t, "Ada", captured.Info[0].Variables["first_name"])
	})
}
