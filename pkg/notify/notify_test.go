package notify

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"firebase.google.com/go/v4/messaging"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/dmitrymomot/estatecrm/pkg/email"
)

var expired = Notification{
	Kind:    "subscription.expired",
	Subject: "Subscription expired",
	Body:    "Your Pro plan has expired.",
}

func TestDispatcher_Send(t *testing.T) {
	t.Parallel()

	t.Run("all channels", func(t *testing.T) {
		t.Parallel()

		mail := &MockEmailSender{}
		wa := &MockWhatsApp{}
		push := &MockPush{}

		mail.On("SendEmail", mock.Anything, mock.MatchedBy(func(m email.Message) bool {
			return m.To == "owner@acme.in" && m.Tag == "subscription.expired"
		})).Return(nil).Once()
		wa.On("SendWhatsApp", mock.Anything, "+919800000000", "*Subscription expired*\nYour Pro plan has expired.").Return(nil).Once()
		push.On("SendPush", mock.Anything, "device-1", expired.Subject, expired.Body, map[string]string{"kind": expired.Kind}).Return(nil).Once()

		d := NewDispatcher(WithEmail(mail), WithWhatsApp(wa), WithPush(push))
		err := d.Send(context.Background(), Recipient{
			Email:     "owner@acme.in",
			Phone:     "+919800000000",
			PushToken: "device-1",
		}, expired)

		require.NoError(t, err)
		mail.AssertExpectations(t)
		wa.AssertExpectations(t)
		push.AssertExpectations(t)
	})

	t.Run("skips channels without address", func(t *testing.T) {
		t.Parallel()

		mail := &MockEmailSender{}
		wa := &MockWhatsApp{}
		mail.On("SendEmail", mock.Anything, mock.Anything).Return(nil).Once()

		d := NewDispatcher(WithEmail(mail), WithWhatsApp(wa))
		require.NoError(t, d.Send(context.Background(), Recipient{Email: "owner@acme.in"}, expired))
		wa.AssertNotCalled(t, "SendWhatsApp", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("no reachable channel", func(t *testing.T) {
		t.Parallel()

		d := NewDispatcher(WithEmail(&MockEmailSender{}))
		err := d.Send(context.Background(), Recipient{Phone: "+91"}, expired)
		assert.ErrorIs(t, err, ErrNoChannel)
	})

	t.Run("one channel failing does not stop the others", func(t *testing.T) {
		t.Parallel()

		mail := &MockEmailSender{}
		wa := &MockWhatsApp{}
		mail.On("SendEmail", mock.Anything, mock.Anything).Return(errors.New("smtp down")).Once()
		wa.On("SendWhatsApp", mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()

		d := NewDispatcher(WithEmail(mail), WithWhatsApp(wa))
		err := d.Send(context.Background(), Recipient{Email: "a@b.io", Phone: "+91"}, expired)

		assert.ErrorIs(t, err, ErrEmailFailed)
		assert.NotErrorIs(t, err, ErrWhatsAppFailed)
		wa.AssertExpectations(t)
	})
}

func TestDispatcher_NotifyLogsFailures(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	log := slog.New(slog.NewTextHandler(buf, nil))

	wa := &MockWhatsApp{}
	wa.On("SendWhatsApp", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("rate limited")).Once()

	d := NewDispatcher(WithWhatsApp(wa), WithLogger(log))

	ctx, cancel := context.WithCancel(context.Background())
	d.Notify(ctx, Recipient{Phone: "+919800000000"}, expired)
	cancel()
	d.Wait()

	wa.AssertExpectations(t)
	assert.Contains(t, buf.String(), "notification not fully delivered")
	assert.Contains(t, buf.String(), "rate limited")
}

func TestTwilioWhatsApp(t *testing.T) {
	t.Parallel()

	t.Run("prefixes numbers", func(t *testing.T) {
		t.Parallel()

		api := &MockMessageCreator{}
		api.On("CreateMessage", mock.MatchedBy(func(p *openapi.CreateMessageParams) bool {
			return *p.To == "whatsapp:+919800000000" && *p.From == "whatsapp:+14155238886" && *p.Body == "hi"
		})).Return(&openapi.ApiV2010Message{}, nil).Once()

		s := newTwilioWhatsApp(api, "+14155238886")
		require.NoError(t, s.SendWhatsApp(context.Background(), "+919800000000", "hi"))
		api.AssertExpectations(t)
	})

	t.Run("api error", func(t *testing.T) {
		t.Parallel()

		api := &MockMessageCreator{}
		api.On("CreateMessage", mock.Anything).Return(nil, errors.New("unauthorized")).Once()

		s := newTwilioWhatsApp(api, "whatsapp:+1")
		assert.EqualError(t, s.SendWhatsApp(context.Background(), "+91", "hi"), "unauthorized")
	})

	t.Run("missing credentials", func(t *testing.T) {
		t.Parallel()

		_, err := NewTwilioWhatsApp(Config{TwilioAccountSID: "AC1"})
		assert.ErrorIs(t, err, ErrMissingCredentials)
	})
}

func TestFCMPush_InitOnce(t *testing.T) {
	t.Parallel()

	client := &MockMessaging{}
	client.On("Send", mock.Anything, mock.MatchedBy(func(m *messaging.Message) bool {
		return m.Token == "device-1" && m.Notification.Title == "Payout processed"
	})).Return("msg-id", nil)

	inits := 0
	p := newFCMPush(func(context.Context) (messagingClient, error) {
		inits++
		return client, nil
	})
	assert.False(t, p.Initialized())

	for range 3 {
		require.NoError(t, p.SendPush(context.Background(), "device-1", "Payout processed", "body", nil))
	}
	assert.Equal(t, 1, inits)
	assert.True(t, p.Initialized())

	require.NoError(t, p.Close())
	assert.False(t, p.Initialized())

	require.NoError(t, p.SendPush(context.Background(), "device-1", "Payout processed", "body", nil))
	assert.Equal(t, 2, inits)
}

func TestFCMPush_InitFailure(t *testing.T) {
	t.Parallel()

	p := newFCMPush(func(context.Context) (messagingClient, error) {
		return nil, errors.New("bad credentials")
	})
	err := p.SendPush(context.Background(), "t", "x", "y", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad credentials")
	assert.False(t, p.Initialized())

	_, err = NewFCMPush(Config{})
	assert.ErrorIs(t, err, ErrMissingCredentials)
}
