package worker

import (
	"sync"
	"testing"

	"coldreach/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// A single connection keeps every query on the same in-memory database.
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, models.Migrate(db))
	return db
}

func newTestLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

// captureNotifier records emitted events for assertions.
type captureNotifier struct {
	mu     sync.Mutex
	events []capturedEvent
}

type capturedEvent struct {
	UserID  uint
	Event   string
	Payload map[string]interface{}
}

func (cn *captureNotifier) Emit(userID uint, event string, payload map[string]interface{}) {
	cn.mu.Lock()
	defer cn.mu.Unlock()
	cn.events = append(cn.events, capturedEvent{UserID: userID, Event: event, Payload: payload})
}

func (cn *captureNotifier) named(event string) []capturedEvent {
	cn.mu.Lock()
	defer cn.mu.Unlock()
	var out []capturedEvent
	for _, e := range cn.events {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}
