package utils

import (
	"strings"

	"coldreach/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SuppressionList is the tenant-scoped set of addresses that must never
// receive outbound mail. Consulted before every dispatch and before
// enrollment creation.
type SuppressionList struct {
	DB *gorm.DB
}

func NewSuppressionList(db *gorm.DB) *SuppressionList {
	return &SuppressionList{DB: db}
}

// IsSuppressed reports whether the address is on the tenant's list. Lookup
// errors fail open: an unreadable list suppresses nothing, and a miss here
// still has to pass the per-lead opt-out and bounce checks before dispatch.
func (sl *SuppressionList) IsSuppressed(userID uint, email string) bool {
	var count int64
	sl.DB.Model(&models.Suppression{}).
		Where("user_id = ? AND email = ?", userID, normalizeAddress(email)).
		Count(&count)
	return count > 0
}

// Add puts an address on the list. A duplicate add is not an error.
func (sl *SuppressionList) Add(userID uint, email, reason string) error {
	entry := models.Suppression{
		UserID: userID,
		Email:  normalizeAddress(email),
		Reason: reason,
	}
	return sl.DB.Clauses(clause.OnConflict{DoNothing: true}).Create(&entry).Error
}

func normalizeAddress(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
