package email

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"tierpress/config"
)

func TestNewMailer_NoSMTP(t *testing.T) {
	mailer := NewMailer(&config.Config{})

	_, ok := mailer.(NopMailer)
	assert.True(t, ok)
	assert.NoError(t, mailer.SendVerificationEmail("a@example.com", "tok"))
}

func TestNewMailer_SMTP(t *testing.T) {
	mailer := NewMailer(&config.Config{SMTPHost: "smtp.example.com", SMTPPort: "587", AppOrigin: "https://app.example.com"})

	smtpMailer, ok := mailer.(*SMTPMailer)
	assert.True(t, ok)
	assert.Equal(t, "https://app.example.com", smtpMailer.baseURL)
}

func TestHeaderRecipients(t *testing.T) {
	assert.Equal(t, "a@example.com", headerRecipients([]string{"a@example.com"}))
	assert.Equal(t, "undisclosed-recipients:;", headerRecipients([]string{"a@example.com", "b@example.com"}))
}

func TestRecorder(t *testing.T) {
	r := &Recorder{}
	r.SendReportNotification("owner@example.com", "pub", "post", "adult")
	r.SendNewPostNotification([]string{"a@example.com"}, "Pub", "Hello", "http://x")

	assert.Equal(t, []string{
		"report:owner@example.com:pub/post:adult",
		"post:a@example.com:Hello",
	}, r.Sent())
}
