package email

import (
	"fmt"
	"net/smtp"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"tierpress/config"
)

// Mailer delivers transactional mail. Implementations must be safe to call
// from request goroutines.
type Mailer interface {
	SendVerificationEmail(to, token string) error
	SendReportNotification(to, publicationSlug, postSlug, reason string) error
	SendNewPostNotification(to []string, publicationName, postTitle, postURL string) error
}

type SMTPMailer struct {
	host     string
	port     string
	user     string
	password string
	from     string
	baseURL  string
	logger   zerolog.Logger
}

// NewMailer returns an SMTP mailer, or a no-op one when SMTP is not configured.
func NewMailer(cfg *config.Config) Mailer {
	if cfg.SMTPHost == "" {
		log.Warn().Msg("SMTP_HOST not set, outgoing mail disabled")
		return NopMailer{}
	}
	return &SMTPMailer{
		host:     cfg.SMTPHost,
		port:     cfg.SMTPPort,
		user:     cfg.SMTPUser,
		password: cfg.SMTPPassword,
		from:     cfg.SMTPFrom,
		baseURL:  cfg.AppOrigin,
		logger:   log.With().Str("module", "email").Logger(),
	}
}

func (e *SMTPMailer) SendVerificationEmail(to, token string) error {
	link := fmt.Sprintf("%s/confirm/%s", e.baseURL, token)
	body := fmt.Sprintf(`Hi!

Thanks for signing up to tierpress.

Confirm your e-mail address by opening the link below:

%s

If you did not sign up, ignore this message.
`, link)
	return e.send([]string{to}, "Confirm your e-mail", body)
}

func (e *SMTPMailer) SendReportNotification(to, publicationSlug, postSlug, reason string) error {
	body := fmt.Sprintf(`A reader reported the post "%s" in %s (reason: %s).

Review it at %s/dashboard/reports
`, postSlug, publicationSlug, reason, e.baseURL)
	return e.send([]string{to}, "New report on one of your posts", body)
}

func (e *SMTPMailer) SendNewPostNotification(to []string, publicationName, postTitle, postURL string) error {
	if len(to) == 0 {
		return nil
	}
	body := fmt.Sprintf("%s just published \"%s\".\n\nRead it at %s\n", publicationName, postTitle, postURL)
	// recipients only appear in the envelope, never in the headers
	return e.send(to, publicationName+": "+postTitle, body)
}

func (e *SMTPMailer) send(to []string, subject, body string) error {
	message := fmt.Sprintf("From: %s\r\n"+
		"To: %s\r\n"+
		"Subject: %s\r\n"+
		"\r\n"+
		"%s\r\n", e.from, headerRecipients(to), subject, body)

	auth := smtp.PlainAuth("", e.user, e.password, e.host)
	addr := fmt.Sprintf("%s:%s", e.host, e.port)

	if err := smtp.SendMail(addr, auth, e.from, to, []byte(message)); err != nil {
		e.logger.Error().Err(err).Str("subject", subject).Msg("failed to send mail")
		return fmt.Errorf("failed to send mail: %w", err)
	}
	return nil
}

func headerRecipients(to []string) string {
	if len(to) == 1 {
		return to[0]
	}
	return "undisclosed-recipients:;"
}

// NopMailer drops every message.
type NopMailer struct{}

func (NopMailer) SendVerificationEmail(string, string) error                  { return nil }
func (NopMailer) SendReportNotification(string, string, string, string) error { return nil }
func (NopMailer) SendNewPostNotification([]string, string, string, string) error {
	return nil
}

// Async runs send in a goroutine and logs failures.
func Async(send func() error) {
	go func() {
		if err := send(); err != nil {
			log.Error().Err(err).Msg("async mail delivery failed")
		}
	}()
}

// Recorder keeps messages in memory, for tests.
type Recorder struct {
	mu   sync.Mutex
	sent []string
}

func (r *Recorder) record(msg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, msg)
	return nil
}

func (r *Recorder) Sent() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.sent...)
}

func (r *Recorder) SendVerificationEmail(to, token string) error {
	return r.record("verify:" + to + ":" + token)
}

func (r *Recorder) SendReportNotification(to, publicationSlug, postSlug, reason string) error {
	return r.record("report:" + to + ":" + publicationSlug + "/" + postSlug + ":" + reason)
}

func (r *Recorder) SendNewPostNotification(to []string, publicationName, postTitle, postURL string) error {
	return r.record("post:" + strings.Join(to, ",") + ":" + postTitle)
}
