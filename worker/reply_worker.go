package worker

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"time"

	"coldreach/models"
	"coldreach/utils"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/mail"
	"github.com/getsentry/sentry-go"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// InboundMessage is one retrieved reply, already parsed off the wire.
type InboundMessage struct {
	From       string
	Subject    string
	Body       string
	MessageID  string
	InReplyTo  string
	ReceivedAt time.Time
}

// InboundFetcher retrieves unread messages from a sending identity's mailbox.
type InboundFetcher interface {
	Fetch(sender *models.Sender) ([]InboundMessage, error)
}

// IMAPFetcher connects to the identity's IMAP mailbox and pulls unseen
// messages with a peek fetch, leaving read state untouched on the server.
type IMAPFetcher struct {
	Logger *logrus.Logger
}

func (f *IMAPFetcher) Fetch(sender *models.Sender) ([]InboundMessage, error) {
	password, err := utils.Decrypt(sender.IMAPPassword)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt IMAP password: %w", err)
	}

	var imapClient *client.Client
	imapAddr := fmt.Sprintf("%s:%d", sender.IMAPHost, sender.IMAPPort)

	switch strings.ToUpper(sender.IMAPEncryption) {
	case "SSL", "TLS":
		imapClient, err = client.DialTLS(imapAddr, &tls.Config{
			ServerName: sender.IMAPHost,
		})
	case "STARTTLS":
		imapClient, err = client.Dial(imapAddr)
		if err == nil {
			err = imapClient.StartTLS(&tls.Config{
				ServerName: sender.IMAPHost,
			})
		}
	default:
		imapClient, err = client.Dial(imapAddr)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to IMAP server: %w", err)
	}
	defer imapClient.Logout()

	if err := imapClient.Login(sender.IMAPUsername, password); err != nil {
		return nil, fmt.Errorf("failed to login to IMAP server: %w", err)
	}

	mailbox := "INBOX"
	if sender.IMAPMailbox != "" {
		mailbox = sender.IMAPMailbox
	}
	if _, err := imapClient.Select(mailbox, false); err != nil {
		return nil, fmt.Errorf("failed to select mailbox: %w", err)
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{"\\Seen"}
	ids, err := imapClient.Search(criteria)
	if err != nil {
		return nil, fmt.Errorf("failed to search messages: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(ids...)

	messages := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	go func() {
		done <- imapClient.Fetch(seqset, []imap.FetchItem{imap.FetchEnvelope, imap.FetchItem("BODY.PEEK[]")}, messages)
	}()

	var inbound []InboundMessage
	for msg := range messages {
		parsed, err := parseIMAPMessage(msg)
		if err != nil {
			f.Logger.Warnf("failed to parse message %d from %s: %v", msg.SeqNum, sender.FromEmail, err)
			continue
		}
		inbound = append(inbound, parsed)
	}

	if err := <-done; err != nil {
		return inbound, fmt.Errorf("error during fetch: %w", err)
	}
	return inbound, nil
}

func parseIMAPMessage(msg *imap.Message) (InboundMessage, error) {
	var bodyText, bodyHTML string

	if msg.Body != nil {
		// The body map is keyed by the parser's own section pointers;
		// GetBody compares section values.
		literal := msg.GetBody(&imap.BodySectionName{})
		if literal == nil {
			return InboundMessage{}, fmt.Errorf("message body not found")
		}

		mr, err := mail.CreateReader(literal)
		if err != nil {
			return InboundMessage{}, fmt.Errorf("failed to create message reader: %w", err)
		}

		for {
			p, err := mr.NextPart()
			if err == io.EOF {
				break
			} else if err != nil {
				return InboundMessage{}, fmt.Errorf("failed to read next part: %w", err)
			}

			if h, ok := p.Header.(*mail.InlineHeader); ok {
				contentType, _, _ := h.ContentType()
				b, err := io.ReadAll(p.Body)
				if err != nil {
					return InboundMessage{}, fmt.Errorf("failed to read body: %w", err)
				}
				if strings.Contains(contentType, "text/html") {
					bodyHTML = string(b)
				} else if strings.Contains(contentType, "text/plain") {
					bodyText = string(b)
				}
			}
		}
	}

	if msg.Envelope == nil {
		return InboundMessage{}, fmt.Errorf("message envelope not found")
	}

	body := bodyText
	if body == "" {
		body = bodyHTML
	}

	var from string
	if len(msg.Envelope.From) > 0 {
		from = msg.Envelope.From[0].Address()
	}

	return InboundMessage{
		From:       from,
		Subject:    msg.Envelope.Subject,
		Body:       body,
		MessageID:  msg.Envelope.MessageId,
		InReplyTo:  msg.Envelope.InReplyTo,
		ReceivedAt: msg.Envelope.Date,
	}, nil
}

// ReplyWorker polls every identity's mailbox on an interval and hands each
// retrieved message to the reconciler. Like the sweep, ticks never overlap.
type ReplyWorker struct {
	DB         *gorm.DB
	Fetcher    InboundFetcher
	Reconciler *ReplyReconciler
	Logger     *logrus.Logger
	Interval   time.Duration

	running atomic.Bool
}

func NewReplyWorker(db *gorm.DB, fetcher InboundFetcher, reconciler *ReplyReconciler,
	logger *logrus.Logger, interval time.Duration) *ReplyWorker {

	return &ReplyWorker{
		DB:         db,
		Fetcher:    fetcher,
		Reconciler: reconciler,
		Logger:     logger,
		Interval:   interval,
	}
}

func (rw *ReplyWorker) Start(ctx context.Context) {
	rw.Logger.Info("reply worker started")

	ticker := time.NewTicker(rw.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			rw.Logger.Info("reply worker shutting down")
			return
		case <-ticker.C:
			rw.RunOnce()
		}
	}
}

func (rw *ReplyWorker) RunOnce() {
	if !rw.running.CompareAndSwap(false, true) {
		rw.Logger.Debug("previous reply poll still running, skipping tick")
		return
	}
	defer rw.running.Store(false)

	var senders []models.Sender
	err := rw.DB.
		Where("is_active = ? AND imap_host <> ''", true).
		Find(&senders).Error
	if err != nil {
		rw.Logger.Errorf("failed to fetch senders for reply poll: %v", err)
		return
	}

	for i := range senders {
		rw.pollSender(&senders[i])
	}
}

// pollSender isolates one mailbox: a failure there must not starve the
// other identities of their poll.
func (rw *ReplyWorker) pollSender(sender *models.Sender) {
	defer func() {
		if r := recover(); r != nil {
			sentry.CurrentHub().Recover(r)
			rw.Logger.WithField("sender_id", sender.ID).Errorf("panic while polling mailbox: %v", r)
		}
	}()

	messages, err := rw.Fetcher.Fetch(sender)
	if err != nil {
		rw.Logger.WithField("sender_id", sender.ID).Warnf("reply poll failed: %v", err)
		return
	}

	for i := range messages {
		if err := rw.Reconciler.Reconcile(sender, &messages[i]); err != nil {
			rw.Logger.WithFields(logrus.Fields{
				"sender_id":  sender.ID,
				"message_id": messages[i].MessageID,
			}).Errorf("failed to reconcile reply: %v", err)
		}
	}
}
