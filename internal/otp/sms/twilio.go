package sms

import (
	"context"
	"fmt"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

type messageCreator interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// TwilioClient sends SMS through the Twilio Messages API.
type TwilioClient struct {
	api        messageCreator
	fromNumber string
}

// NewTwilioClient returns a client authenticated with the account SID and auth token.
func NewTwilioClient(accountSID, authToken, fromNumber string) *TwilioClient {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return &TwilioClient{api: client.Api, fromNumber: fromNumber}
}

// SendSMS sends message to phone. The Twilio SDK takes no context, so ctx is only
// checked before the call.
func (t *TwilioClient) SendSMS(ctx context.Context, phone, message string) error {
	if t.fromNumber == "" {
		return fmt.Errorf("sms: twilio from number not configured")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(phone)
	params.SetFrom(t.fromNumber)
	params.SetBody(message)

	if _, err := t.api.CreateMessage(params); err != nil {
		return fmt.Errorf("sms: twilio send failed: %w", err)
	}
	return nil
}
