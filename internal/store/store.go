// Package store persists hook activity into a per-monitor sqlite
// database: one row per batched message plus a summary row per session.
// It backs the default analysis consumer so that significant events
// survive monitor restarts and can be inspected after the fact.
package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// gormLogger routes gorm diagnostics into logrus.
type gormLogger struct {
	level logger.LogLevel
	log   *logrus.Entry
}

func (l *gormLogger) LogMode(level logger.LogLevel) logger.Interface {
	return &gormLogger{level: level, log: l.log}
}

func (l *gormLogger) Info(_ context.Context, msg string, data ...interface{}) {
	if l.level >= logger.Info {
		l.log.Infof(msg, data...)
	}
}

func (l *gormLogger) Warn(_ context.Context, msg string, data ...interface{}) {
	if l.level >= logger.Warn {
		l.log.Warnf(msg, data...)
	}
}

func (l *gormLogger) Error(_ context.Context, msg string, data ...interface{}) {
	if l.level >= logger.Error {
		l.log.Errorf(msg, data...)
	}
}

func (l *gormLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level < logger.Info {
		return
	}
	elapsed := time.Since(begin)
	sql, rows := fc()
	if err != nil && err != gorm.ErrRecordNotFound {
		l.log.WithError(err).WithFields(logrus.Fields{"sql": sql, "rows": rows, "duration": elapsed}).
			Error("query failed")
		return
	}
	l.log.WithFields(logrus.Fields{"sql": sql, "rows": rows, "duration": elapsed}).
		Debug("query")
}

// Store provides durable access to recorded hook activity.
type Store struct {
	db *gorm.DB
}

// Open creates or opens the database at dbPath, creating parent
// directories and migrating the schema. WAL mode keeps concurrent
// readers (status queries) from blocking the recorder.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}

	level := logger.Silent
	if os.Getenv("SCRIBE_DEBUG") == "1" {
		level = logger.Info
	}
	db, err := gorm.Open(sqlite.Open(dbPath+"?_journal_mode=WAL&_busy_timeout=5000"), &gorm.Config{
		Logger: &gormLogger{level: level, log: logrus.WithField("component", "store")},
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.AutoMigrate(&SessionRecord{}, &HookRecord{}); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return &Store{db: db}, nil
}

// RecordBatch upserts the session summary row and appends one HookRecord
// per message, all in one transaction.
func (s *Store) RecordBatch(sessionID, transcriptPath string, records []HookRecord) error {
	if len(records) == 0 {
		return nil
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		var sess SessionRecord
		err := tx.Where("session_id = ?", sessionID).First(&sess).Error
		if err == gorm.ErrRecordNotFound {
			sess = SessionRecord{
				SessionID:      sessionID,
				TranscriptPath: transcriptPath,
				StartedAt:      time.Now(),
			}
			if err := tx.Create(&sess).Error; err != nil {
				return err
			}
		} else if err != nil {
			return err
		}

		for i := range records {
			records[i].SessionID = sessionID
		}
		if err := tx.Create(&records).Error; err != nil {
			return err
		}
		return tx.Model(&SessionRecord{}).
			Where("session_id = ?", sessionID).
			Update("message_count", gorm.Expr("message_count + ?", len(records))).Error
	})
}

// FinalizeSession stamps the session's finalization time. Idempotent:
// an already-finalized session keeps its original stamp.
func (s *Store) FinalizeSession(sessionID string) error {
	now := time.Now()
	return s.db.Model(&SessionRecord{}).
		Where("session_id = ? AND finalized_at IS NULL", sessionID).
		Update("finalized_at", &now).Error
}

// Session returns the summary row for a session ID.
func (s *Store) Session(sessionID string) (SessionRecord, error) {
	var sess SessionRecord
	err := s.db.Where("session_id = ?", sessionID).First(&sess).Error
	return sess, err
}

// Sessions returns all session summaries, most recently started first.
func (s *Store) Sessions() ([]SessionRecord, error) {
	var out []SessionRecord
	err := s.db.Order("started_at DESC").Find(&out).Error
	return out, err
}

// EventsForSession returns the recorded messages for a session in the
// order they were batched.
func (s *Store) EventsForSession(sessionID string) ([]HookRecord, error) {
	var out []HookRecord
	err := s.db.Where("session_id = ?", sessionID).Order("id ASC").Find(&out).Error
	return out, err
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
