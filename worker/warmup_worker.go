package worker

import (
	"context"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"coldreach/models"
	"coldreach/utils"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Warmup traffic is throttled per tick so a freshly enabled identity does not
// burst its whole daily allowance at once.
const warmupBatchCap = 5

var warmupSubjects = []string{
	"Quick question about next week",
	"Following up on our conversation",
	"Notes from yesterday",
	"Re: project timeline",
	"Thoughts on the proposal",
}

var warmupBodies = []string{
	"Hi,\n\nJust checking in on this. Let me know when you have a minute.\n\nThanks",
	"Hey,\n\nCircling back on the notes I sent over. Does the plan still work for you?\n\nBest",
	"Hi,\n\nSharing a quick update from my side, nothing urgent. Talk soon.\n\nCheers",
	"Hello,\n\nWanted to confirm we are still on for the review. Happy to reschedule if needed.\n\nThanks",
}

// WarmupWorker exchanges low-volume synthetic mail between a tenant's own
// warmup-enabled identities to build sending reputation before real traffic.
type WarmupWorker struct {
	DB        *gorm.DB
	Transport utils.Transport
	Logger    *logrus.Logger
	Interval  time.Duration

	Rng *rand.Rand
	Now func() time.Time

	running atomic.Bool
}

func NewWarmupWorker(db *gorm.DB, transport utils.Transport, logger *logrus.Logger, interval time.Duration) *WarmupWorker {
	return &WarmupWorker{
		DB:        db,
		Transport: transport,
		Logger:    logger,
		Interval:  interval,
		Rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		Now:       time.Now,
	}
}

func (ww *WarmupWorker) Start(ctx context.Context) {
	// Let the server finish booting before the first warmup pass.
	select {
	case <-ctx.Done():
		return
	case <-time.After(10 * time.Second):
	}

	ww.Logger.Info("warmup worker started")

	ticker := time.NewTicker(ww.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			ww.Logger.Info("warmup worker shutting down")
			return
		case <-ticker.C:
			ww.RunOnce()
		}
	}
}

func (ww *WarmupWorker) RunOnce() {
	if !ww.running.CompareAndSwap(false, true) {
		return
	}
	defer ww.running.Store(false)

	var senders []models.Sender
	err := ww.DB.Where("warmup_enabled = ? AND is_active = ?", true, true).Find(&senders).Error
	if err != nil {
		ww.Logger.Errorf("failed to fetch warmup senders: %v", err)
		return
	}

	for i := range senders {
		if err := ww.processSenderWarmup(&senders[i]); err != nil {
			ww.Logger.WithField("sender_id", senders[i].ID).Errorf("warmup pass failed: %v", err)
			ww.DB.Model(&models.Sender{}).Where("id = ?", senders[i].ID).
				Update("last_error", err.Error())
		}
	}
}

func (ww *WarmupWorker) processSenderWarmup(sender *models.Sender) error {
	now := ww.Now()

	if !sender.HasSMTPCredentials() {
		return nil
	}
	if sender.WarmupWeekdaysOnly {
		wd := now.Weekday()
		if wd == time.Saturday || wd == time.Sunday {
			return nil
		}
	}

	remaining := sender.WarmupDailyLimit - sender.WarmupSentTodayCount(now)
	if remaining <= 0 {
		return nil
	}
	if remaining > warmupBatchCap {
		remaining = warmupBatchCap
	}

	peers, err := ww.warmupPeers(sender)
	if err != nil {
		return err
	}
	if len(peers) == 0 {
		return nil
	}

	if sender.WarmupStartedAt == nil {
		ww.DB.Model(&models.Sender{}).Where("id = ?", sender.ID).
			Update("warmup_started_at", now)
	}

	for i := 0; i < remaining; i++ {
		peer := &peers[ww.Rng.Intn(len(peers))]
		subject := warmupSubjects[ww.Rng.Intn(len(warmupSubjects))]
		body := warmupBodies[ww.Rng.Intn(len(warmupBodies))]

		_, err := ww.Transport.Send(sender, utils.OutboundEmail{
			To:       peer.FromEmail,
			Subject:  subject,
			HTMLBody: body,
		})
		if err != nil {
			return fmt.Errorf("warmup send to %s failed: %w", peer.FromEmail, err)
		}

		ww.bumpWarmupCounters(sender, now)

		// Warmup peers answer a fraction of the traffic so the identity
		// accrues reply signal alongside raw volume.
		if ww.Rng.Float64() < sender.WarmupReplyRate {
			ww.DB.Model(&models.Sender{}).Where("id = ?", sender.ID).
				Update("reply_count", gorm.Expr("reply_count + ?", 1))
		}
	}
	return nil
}

// warmupPeers returns the tenant's other warmup-enabled identities that can
// receive this sender's warmup traffic.
func (ww *WarmupWorker) warmupPeers(sender *models.Sender) ([]models.Sender, error) {
	var peers []models.Sender
	err := ww.DB.
		Where("user_id = ? AND id <> ? AND warmup_enabled = ? AND is_active = ?",
			sender.UserID, sender.ID, true, true).
		Find(&peers).Error
	return peers, err
}

func (ww *WarmupWorker) bumpWarmupCounters(sender *models.Sender, now time.Time) {
	today := now.Format(models.CounterEpoch)
	updates := map[string]interface{}{
		"total_sent": gorm.Expr("total_sent + ?", 1),
	}
	if sender.SentTodayDate == today {
		updates["warmup_sent_today"] = gorm.Expr("warmup_sent_today + ?", 1)
		updates["sent_today"] = gorm.Expr("sent_today + ?", 1)
	} else {
		updates["warmup_sent_today"] = 1
		updates["sent_today"] = 1
		updates["sent_today_date"] = today
	}
	if err := ww.DB.Model(&models.Sender{}).Where("id = ?", sender.ID).Updates(updates).Error; err != nil {
		ww.Logger.Warnf("failed to update warmup counters for sender %d: %v", sender.ID, err)
		return
	}
	if sender.SentTodayDate != today {
		sender.SentTodayDate = today
		sender.WarmupSentToday = 1
		sender.SentToday = 1
	} else {
		sender.WarmupSentToday++
		sender.SentToday++
	}
}
