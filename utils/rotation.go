package utils

import (
	"time"

	"coldreach/models"
)

// MinSendGap is the minimum interval between two dispatches from the same
// sending identity.
const MinSendGap = 5 * time.Minute

// PickSender selects the sending identity to use for the next dispatch.
// Eligible identities are active, not paused, under their daily cap and have
// SMTP credentials. Among the eligible ones the least-recently-used wins; if
// that identity has not cleared the inter-send gap, no identity is available
// this cycle — the caller must not fall through to a second choice, since
// doing so would defeat the rotation.
func PickSender(senders []models.Sender, now time.Time) *models.Sender {
	var best *models.Sender
	for i := range senders {
		s := &senders[i]
		if !s.IsActive || s.IsPaused {
			continue
		}
		if !s.HasSMTPCredentials() {
			continue
		}
		if s.SentTodayCount(now) >= s.DailyLimit {
			continue
		}
		if best == nil || olderLastSend(s, best) {
			best = s
		}
	}

	if best == nil {
		return nil
	}
	if best.LastSentAt != nil && now.Sub(*best.LastSentAt) < MinSendGap {
		return nil
	}
	return best
}

// olderLastSend reports whether a was used less recently than b. A nil
// last-send timestamp counts as oldest.
func olderLastSend(a, b *models.Sender) bool {
	if a.LastSentAt == nil {
		return true
	}
	if b.LastSentAt == nil {
		return false
	}
	return a.LastSentAt.Before(*b.LastSentAt)
}
