package clients

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wneessen/go-mail"

	"github.com/vaidashi/storefront-api/internal/config"
	apperrors "github.com/vaidashi/storefront-api/pkg/errors"
	"github.com/vaidashi/storefront-api/pkg/logger"
)

func testSMTPConfig() config.SMTPConfig {
	return config.SMTPConfig{Host: "localhost", Port: 2525, From: "shop@example.com", Timeout: time.Second}
}

func TestMailerSendBuildsHTMLMessage(t *testing.T) {
	mailer := NewMailer(testSMTPConfig(), logger.NewNop())

	var sent *mail.Msg
	mailer.dial = func(ctx context.Context, msg *mail.Msg) error {
		sent = msg
		return nil
	}

	require.NoError(t, mailer.Send(context.Background(), "ada@example.com", "Welcome", "<p>hi</p>"))
	require.NotNil(t, sent)

	var buf bytes.Buffer
	_, err := sent.WriteTo(&buf)
	require.NoError(t, err)

	raw := buf.String()
	assert.Contains(t, raw, "Subject: Welcome")
	assert.Contains(t, raw, "ada@example.com")
	assert.Contains(t, raw, "text/html")
}

func TestMailerRejectsBadRecipient(t *testing.T) {
	mailer := NewMailer(testSMTPConfig(), logger.NewNop())
	mailer.dial = func(ctx context.Context, msg *mail.Msg) error {
		t.Fatal("dial must not be called")
		return nil
	}

	err := mailer.Send(context.Background(), "not an address", "x", "y")

	assert.ErrorIs(t, err, apperrors.ErrValidation)
	assert.False(t, apperrors.IsRetryable(err))
}

func TestMailerTransportErrorsAreRetryable(t *testing.T) {
	mailer := NewMailer(testSMTPConfig(), logger.NewNop())
	mailer.dial = func(ctx context.Context, msg *mail.Msg) error {
		return errors.New("connection refused")
	}

	err := mailer.Send(context.Background(), "ada@example.com", "x", "y")

	assert.True(t, apperrors.IsRetryable(err))
}

func TestTLSPolicy(t *testing.T) {
	assert.Equal(t, mail.TLSMandatory, tlsPolicy("mandatory"))
	assert.Equal(t, mail.NoTLS, tlsPolicy("none"))
	assert.Equal(t, mail.TLSOpportunistic, tlsPolicy(""))
}
