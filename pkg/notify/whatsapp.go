package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/twilio/twilio-go"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
)

type messageCreator interface {
	CreateMessage(params *openapi.CreateMessageParams) (*openapi.ApiV2010Message, error)
}

// TwilioWhatsApp sends WhatsApp messages through the Twilio REST API.
type TwilioWhatsApp struct {
	api  messageCreator
	from string
}

// NewTwilioWhatsApp builds a sender from account credentials.
func NewTwilioWhatsApp(cfg Config) (*TwilioWhatsApp, error) {
	if !cfg.WhatsAppEnabled() {
		return nil, fmt.Errorf("%w: twilio account sid, auth token and sender are required", ErrMissingCredentials)
	}
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.TwilioAccountSID,
		Password: cfg.TwilioAuthToken,
	})
	return newTwilioWhatsApp(client.Api, cfg.TwilioWhatsAppFrom), nil
}

func newTwilioWhatsApp(api messageCreator, from string) *TwilioWhatsApp {
	return &TwilioWhatsApp{api: api, from: whatsappAddress(from)}
}

// SendWhatsApp sends body to the given phone number. The twilio client is
// not context aware, so ctx is only checked before the call.
func (t *TwilioWhatsApp) SendWhatsApp(ctx context.Context, to, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	params := &openapi.CreateMessageParams{}
	params.SetTo(whatsappAddress(to))
	params.SetFrom(t.from)
	params.SetBody(body)

	resp, err := t.api.CreateMessage(params)
	if err != nil {
		return err
	}
	if resp != nil && resp.ErrorCode != nil && *resp.ErrorCode != 0 {
		msg := ""
		if resp.ErrorMessage != nil {
			msg = *resp.ErrorMessage
		}
		return fmt.Errorf("twilio error %d: %s", *resp.ErrorCode, msg)
	}
	return nil
}

func whatsappAddress(phone string) string {
	phone = strings.TrimSpace(phone)
	if strings.HasPrefix(phone, "whatsapp:") {
		return phone
	}
	return "whatsapp:" + phone
}
