package email_test

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/estatecrm/pkg/email"
)

func TestMessage_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		msg     email.Message
		wantErr bool
	}{
		{"valid html", email.Message{To: "a@b.io", Subject: "Hi", HTMLBody: "<p>x</p>"}, false},
		{"valid text", email.Message{To: "a@b.io", Subject: "Hi", TextBody: "x"}, false},
		{"bad address", email.Message{To: "nope", Subject: "Hi", TextBody: "x"}, true},
		{"no subject", email.Message{To: "a@b.io", TextBody: "x"}, true},
		{"no body", email.Message{To: "a@b.io", Subject: "Hi"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.msg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, email.ErrInvalidMessage)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestNewPostmarkSender(t *testing.T) {
	t.Parallel()

	valid := email.Config{
		PostmarkServerToken:  "server",
		PostmarkAccountToken: "account",
		SenderEmail:          "sender@example.com",
		SupportEmail:         "support@example.com",
	}

	s, err := email.NewPostmarkSender(valid)
	require.NoError(t, err)
	assert.NotNil(t, s)

	tests := []struct {
		name   string
		mutate func(*email.Config)
		msg    string
	}{
		{"server token", func(c *email.Config) { c.PostmarkServerToken = "" }, "PostmarkServerToken"},
		{"account token", func(c *email.Config) { c.PostmarkAccountToken = "" }, "PostmarkAccountToken"},
		{"sender", func(c *email.Config) { c.SenderEmail = "bad" }, "SenderEmail"},
		{"support", func(c *email.Config) { c.SupportEmail = "" }, "SupportEmail"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := valid
			tt.mutate(&cfg)
			s, err := email.NewPostmarkSender(cfg)
			assert.Nil(t, s)
			assert.ErrorIs(t, err, email.ErrInvalidConfig)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestNew_FallsBackToLogSender(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	log := slog.New(slog.NewTextHandler(buf, nil))

	s, err := email.New(email.Config{}, log)
	require.NoError(t, err)
	require.IsType(t, &email.LogSender{}, s)

	err = s.SendEmail(context.Background(), email.Message{To: "agent@example.com", Subject: "Payout", TextBody: "done"})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "agent@example.com")

	err = s.SendEmail(context.Background(), email.Message{To: "x", Subject: "Payout", TextBody: "done"})
	assert.ErrorIs(t, err, email.ErrInvalidMessage)
}
