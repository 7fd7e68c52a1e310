// Package store is the durable tier behind the device registry and the media
// catalog, plus the degrade paths used when the database is unreachable.
package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"led-bridge/internal/model"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation failed")
)

// Store holds the gorm handle and the connectivity flag. Operations branch on
// Connected() and never probe the database synchronously: the flag is driven
// by the monitor loop and by operation failures.
type Store struct {
	db        *gorm.DB
	available atomic.Bool
}

func OpenPostgres(user, password, dbName, host, port string) (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
		host, user, password, dbName, port)
	gormLogger := logger.New(
		log.New(os.Stdout, "", log.LstdFlags),
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	return gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLogger})
}

func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&model.Device{}, &model.MediaAsset{}); err != nil {
		return nil, err
	}
	s := &Store{db: db}
	s.available.Store(true)
	return s, nil
}

// NewUnavailable builds a store with no database at all. Every consumer runs
// its degrade path permanently; the process still serves.
func NewUnavailable() *Store {
	return &Store{}
}

func (s *Store) Connected() bool {
	return s.db != nil && s.available.Load()
}

// markDown flips the flag on a connection-class failure. Record-not-found is
// a data answer, not an outage.
func (s *Store) markDown(err error) {
	if err == nil || errors.Is(err, gorm.ErrRecordNotFound) {
		return
	}
	if s.available.CompareAndSwap(true, false) {
		slog.Warn("durable store marked disconnected", "error", err)
	}
}

// StartMonitor pings the database on a fixed interval and keeps the
// connectivity flag current. It returns immediately when there is no
// database handle to recover.
func (s *Store) StartMonitor(ctx context.Context, interval time.Duration) {
	if s.db == nil {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.ping(ctx)
			}
		}
	}()
}

func (s *Store) ping(ctx context.Context) {
	sqlDB, err := s.db.DB()
	if err != nil {
		s.markDown(err)
		return
	}
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		s.markDown(err)
		return
	}
	if s.available.CompareAndSwap(false, true) {
		slog.Info("durable store reconnected")
	}
}
