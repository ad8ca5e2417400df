package utils

import (
	"errors"
	"fmt"
	"net/textproto"
	"strings"
	"time"

	"coldreach/models"

	"github.com/badoux/checkmail"
	"github.com/google/uuid"
	"gopkg.in/gomail.v2"
)

// OutboundEmail is one fully resolved message ready for submission.
type OutboundEmail struct {
	To       string
	Subject  string
	HTMLBody string
	TextBody string
	Headers  map[string]string
}

// Transport submits an outbound message through a sending identity and
// returns the provider message identifier.
type Transport interface {
	Send(sender *models.Sender, email OutboundEmail) (string, error)
}

// SendError wraps a transport failure with its permanence classification.
// Permanent failures are hard bounces and are never retried; anything else is
// transient and retried on the enrollment's existing schedule.
type SendError struct {
	Permanent bool
	Err       error
}

func (e *SendError) Error() string { return e.Err.Error() }
func (e *SendError) Unwrap() error { return e.Err }

// IsPermanentSendError reports whether err is a hard bounce.
func IsPermanentSendError(err error) bool {
	var se *SendError
	return errors.As(err, &se) && se.Permanent
}

var permanentFailureHints = []string{
	"user unknown",
	"no such user",
	"mailbox unavailable",
	"mailbox not found",
	"address rejected",
	"invalid recipient",
	"recipient not found",
	"does not exist",
}

// classifySendError wraps a raw SMTP error into a SendError. Only an actual
// server reply can mark it permanent: a 5xx status code, or a
// recipient-rejection phrase in the reply text. Anything that never reached
// the reply stage (dial failures, resets, TLS errors) is transient, no matter
// what digits happen to appear in the error string.
func classifySendError(err error) error {
	var tpErr *textproto.Error
	if !errors.As(err, &tpErr) {
		return &SendError{Permanent: false, Err: err}
	}

	if tpErr.Code >= 500 && tpErr.Code < 600 {
		return &SendError{Permanent: true, Err: err}
	}
	reply := strings.ToLower(tpErr.Msg)
	for _, hint := range permanentFailureHints {
		if strings.Contains(reply, hint) {
			return &SendError{Permanent: true, Err: err}
		}
	}
	return &SendError{Permanent: false, Err: err}
}

// SMTPTransport submits messages over the identity's own SMTP credentials.
type SMTPTransport struct {
	// Timeout bounds one dial-and-send round trip. A dispatch past the
	// timeout is a transient failure, never a hard bounce.
	Timeout time.Duration
}

func NewSMTPTransport(timeout time.Duration) *SMTPTransport {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &SMTPTransport{Timeout: timeout}
}

func (t *SMTPTransport) Send(sender *models.Sender, email OutboundEmail) (string, error) {
	if err := checkmail.ValidateFormat(email.To); err != nil {
		return "", &SendError{Permanent: true, Err: fmt.Errorf("malformed recipient %q: %w", email.To, err)}
	}

	password, err := Decrypt(sender.SMTPPassword)
	if err != nil {
		return "", &SendError{Permanent: false, Err: fmt.Errorf("failed to decrypt SMTP password: %w", err)}
	}

	messageID := buildMessageID(sender.FromEmail)

	m := gomail.NewMessage()
	m.SetHeader("From", m.FormatAddress(sender.FromEmail, sender.FromName))
	m.SetHeader("To", email.To)
	m.SetHeader("Subject", email.Subject)
	m.SetHeader("Message-ID", messageID)
	for k, v := range email.Headers {
		m.SetHeader(k, v)
	}
	if email.TextBody != "" {
		m.SetBody("text/plain", email.TextBody)
		m.AddAlternative("text/html", email.HTMLBody)
	} else {
		m.SetBody("text/html", email.HTMLBody)
	}

	d := gomail.NewDialer(sender.SMTPHost, sender.SMTPPort, sender.SMTPUsername, password)
	d.SSL = strings.EqualFold(sender.Encryption, "SSL")

	// gomail has no context support; bound the call ourselves so one hanging
	// SMTP conversation cannot stall the rest of the sweep cycle.
	errCh := make(chan error, 1)
	go func() {
		errCh <- d.DialAndSend(m)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return "", classifySendError(err)
		}
		return messageID, nil
	case <-time.After(t.Timeout):
		return "", &SendError{Permanent: false, Err: fmt.Errorf("smtp dispatch to %s timed out after %s", sender.SMTPHost, t.Timeout)}
	}
}

// buildMessageID generates the RFC 5322 Message-ID set on the outbound mail,
// which inbound replies reference via In-Reply-To.
func buildMessageID(fromEmail string) string {
	domain := "localhost"
	if at := strings.LastIndex(fromEmail, "@"); at != -1 && at < len(fromEmail)-1 {
		domain = fromEmail[at+1:]
	}
	return fmt.Sprintf("<%s@%s>", uuid.New().String(), domain)
}
