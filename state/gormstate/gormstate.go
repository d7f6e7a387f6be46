// Package gormstate is an optional durable Store backend for
// single-writer deployments that would rather lean on a SQL database
// than run Redis, using a transaction over a lease table to implement
// leases.
package gormstate

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/duskrail/switchboard/internal/state"
)

// leaseRow persists one live lease.
type leaseRow struct {
	ThreadID  string `gorm:"primaryKey;column:thread_id"`
	Token     string `gorm:"column:token"`
	ExpiresAt time.Time `gorm:"column:expires_at"`
}

func (leaseRow) TableName() string { return "switchboard_leases" }

// subscriptionRow persists one subscribed thread ID.
type subscriptionRow struct {
	ThreadID string `gorm:"primaryKey;column:thread_id"`
}

func (subscriptionRow) TableName() string { return "switchboard_subscriptions" }

// kvRow persists one scalar KV entry.
type kvRow struct {
	Key       string `gorm:"primaryKey;column:key"`
	Value     []byte `gorm:"column:value"`
	ExpiresAt *time.Time `gorm:"column:expires_at"`
}

func (kvRow) TableName() string { return "switchboard_kv" }

// Store is a state.Store backed by GORM (mysql or sqlite).
type Store struct {
	db *gorm.DB
}

// New wraps an already-opened *gorm.DB and ensures its tables exist.
func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&leaseRow{}, &subscriptionRow{}, &kvRow{}); err != nil {
		return nil, fmt.Errorf("gormstate: automigrate: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Connect(ctx context.Context) error    { return nil }
func (s *Store) Disconnect(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("gormstate: disconnect: %w", err)
	}
	return sqlDB.Close()
}

// AcquireLease runs in one transaction: expire any stale row for this
// thread, then create a new lease row only if none remains live.
func (s *Store) AcquireLease(ctx context.Context, threadID string, ttl time.Duration) (*state.Lease, error) {
	token := newToken()
	expires := time.Now().Add(ttl)
	var lease *state.Lease

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("thread_id = ? AND expires_at < ?", threadID, time.Now()).
			Delete(&leaseRow{}).Error; err != nil {
			return fmt.Errorf("expire stale lease: %w", err)
		}

		var existing leaseRow
		result := tx.Where("thread_id = ?", threadID).First(&existing)
		if result.Error == nil {
			return nil // live lease held by someone else; lease stays nil
		}
		if result.Error != gorm.ErrRecordNotFound {
			return fmt.Errorf("check existing lease: %w", result.Error)
		}

		row := leaseRow{ThreadID: threadID, Token: token, ExpiresAt: expires}
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("create lease: %w", err)
		}
		lease = &state.Lease{ThreadID: threadID, Token: token, ExpiresAt: expires}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("gormstate: acquire lease: %w", err)
	}
	return lease, nil
}

func (s *Store) ReleaseLease(ctx context.Context, lease *state.Lease) error {
	result := s.db.WithContext(ctx).
		Where("thread_id = ? AND token = ?", lease.ThreadID, lease.Token).
		Delete(&leaseRow{})
	if result.Error != nil {
		return fmt.Errorf("gormstate: release lease: %w", result.Error)
	}
	return nil
}

func (s *Store) ExtendLease(ctx context.Context, lease *state.Lease, ttl time.Duration) (bool, error) {
	expires := time.Now().Add(ttl)
	result := s.db.WithContext(ctx).Model(&leaseRow{}).
		Where("thread_id = ? AND token = ?", lease.ThreadID, lease.Token).
		Update("expires_at", expires)
	if result.Error != nil {
		return false, fmt.Errorf("gormstate: extend lease: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return false, nil
	}
	lease.ExpiresAt = expires
	return true, nil
}

func (s *Store) Subscribe(ctx context.Context, threadID string) error {
	err := s.db.WithContext(ctx).
		Where("thread_id = ?", threadID).
		FirstOrCreate(&subscriptionRow{ThreadID: threadID}).Error
	if err != nil {
		return fmt.Errorf("gormstate: subscribe: %w", err)
	}
	return nil
}

func (s *Store) Unsubscribe(ctx context.Context, threadID string) error {
	return s.db.WithContext(ctx).Where("thread_id = ?", threadID).Delete(&subscriptionRow{}).Error
}

func (s *Store) IsSubscribed(ctx context.Context, threadID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&subscriptionRow{}).Where("thread_id = ?", threadID).Count(&count).Error
	return count > 0, err
}

func (s *Store) ListSubscriptions(ctx context.Context, adapterName string) ([]string, error) {
	q := s.db.WithContext(ctx).Model(&subscriptionRow{})
	if adapterName != "" {
		q = q.Where("thread_id LIKE ?", adapterName+":%")
	}
	var rows []subscriptionRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("gormstate: list subscriptions: %w", err)
	}
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.ThreadID
	}
	return out, nil
}

func (s *Store) Get(ctx context.Context, key string, dest any) (bool, error) {
	var row kvRow
	result := s.db.WithContext(ctx).Where("key = ?", key).First(&row)
	if result.Error == gorm.ErrRecordNotFound {
		return false, nil
	}
	if result.Error != nil {
		return false, fmt.Errorf("gormstate: get %s: %w", key, result.Error)
	}
	if row.ExpiresAt != nil && time.Now().After(*row.ExpiresAt) {
		_ = s.db.WithContext(ctx).Delete(&row).Error
		return false, nil
	}
	if dest == nil {
		return true, nil
	}
	return true, json.Unmarshal(row.Value, dest)
}

func (s *Store) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	var expires *time.Time
	if ttl > 0 {
		t := time.Now().Add(ttl)
		expires = &t
	}
	row := kvRow{Key: key, Value: data, ExpiresAt: expires}
	return s.db.WithContext(ctx).Save(&row).Error
}

func (s *Store) Delete(ctx context.Context, key string) error {
	return s.db.WithContext(ctx).Where("key = ?", key).Delete(&kvRow{}).Error
}

func newToken() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
