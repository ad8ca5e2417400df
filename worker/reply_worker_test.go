package worker

import (
	"bytes"
	"testing"
	"time"

	"github.com/emersion/go-imap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fetchedMessage mimics what the fetch-response parser hands back: the body
// map is keyed by a section pointer the parser allocated itself.
func fetchedMessage(t *testing.T, raw string) *imap.Message {
	t.Helper()

	section, err := imap.ParseBodySectionName(imap.FetchItem("BODY[]"))
	require.NoError(t, err)

	return &imap.Message{
		SeqNum: 1,
		Envelope: &imap.Envelope{
			Date:      time.Date(2026, 12, 1, 11, 30, 0, 0, time.UTC),
			Subject:   "Re: quick question",
			From:      []*imap.Address{{MailboxName: "ada", HostName: "example.com"}},
			MessageId: "<reply-1@example.com>",
			InReplyTo: "<msg-1@acme.io>",
		},
		Body: map[*imap.BodySectionName]imap.Literal{
			section: bytes.NewBufferString(raw),
		},
	}
}

func TestParseIMAPMessage(t *testing.T) {
	raw := "From: Ada <ada@example.com>\r\n" +
		"To: out@acme.io\r\n" +
		"Subject: Re: quick question\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n" +
		"Sounds good, tell me more.\r\n"

	parsed, err := parseIMAPMessage(fetchedMessage(t, raw))
	require.NoError(t, err)

	assert.Equal(t, "ada@example.com", parsed.From)
	assert.Equal(t, "Re: quick question", parsed.Subject)
	assert.Contains(t, parsed.Body, "Sounds good, tell me more.")
	assert.Equal(t, "<reply-1@example.com>", parsed.MessageID)
	assert.Equal(t, "<msg-1@acme.io>", parsed.InReplyTo)
	assert.Equal(t, time.Date(2026, 12, 1, 11, 30, 0, 0, time.UTC), parsed.ReceivedAt)
}

func TestParseIMAPMessagePrefersTextOverHTML(t *testing.T) {
	raw := "From: ada@example.com\r\n" +
		"Subject: Re: quick question\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: multipart/alternative; boundary=sep\r\n" +
		"\r\n" +
		"--sep\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n" +
		"plain version\r\n" +
		"--sep\r\n" +
		"Content-Type: text/html\r\n" +
		"\r\n" +
		"<p>html version</p>\r\n" +
		"--sep--\r\n"

	parsed, err := parseIMAPMessage(fetchedMessage(t, raw))
	require.NoError(t, err)
	assert.Contains(t, parsed.Body, "plain version")
	assert.NotContains(t, parsed.Body, "html version")
}

func TestParseIMAPMessageWithoutEnvelopeErrors(t *testing.T) {
	msg := fetchedMessage(t, "Subject: x\r\n\r\nbody\r\n")
	msg.Envelope = nil

	_, err := parseIMAPMessage(msg)
	assert.Error(t, err)
}
