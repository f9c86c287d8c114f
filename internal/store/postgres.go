package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type kvEntry struct {
	Key       string    `gorm:"column:key;type:text;primaryKey"`
	Value     []byte    `gorm:"column:value;type:bytea;not null"`
	Version   int64     `gorm:"column:version;not null"`
	Seq       int64     `gorm:"column:seq;autoIncrement;->"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null"`
}

func (kvEntry) TableName() string {
	return "kv_entries"
}

// PostgresStore maps the key-value contract onto a single kv_entries table. The version
// column carries the compare-and-swap stamp; seq is a bigserial giving insertion order.
type PostgresStore struct {
	db *gorm.DB
}

func NewPostgresStore(db *gorm.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Get(ctx context.Context, key string) (Entry, error) {
	var row kvEntry
	err := p.db.WithContext(ctx).Where("key = ?", key).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return Entry{Key: row.Key, Value: row.Value, Version: row.Version}, nil
}

func (p *PostgresStore) Put(ctx context.Context, key string, value []byte, expected int64) (int64, error) {
	now := time.Now().UTC()
	var result *gorm.DB
	if expected == 0 {
		result = p.db.WithContext(ctx).
			Clauses(clause.OnConflict{DoNothing: true}).
			Create(&kvEntry{Key: key, Value: value, Version: 1, UpdatedAt: now})
	} else {
		result = p.db.WithContext(ctx).
			Model(&kvEntry{}).
			Where("key = ? AND version = ?", key, expected).
			Updates(map[string]interface{}{
				"value":      value,
				"version":    gorm.Expr("version + 1"),
				"updated_at": now,
			})
	}
	if result.Error != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, result.Error)
	}
	if result.RowsAffected == 0 {
		return 0, ErrVersionMismatch
	}
	return expected + 1, nil
}

func (p *PostgresStore) Scan(ctx context.Context, prefix string) ([]Entry, error) {
	var rows []kvEntry
	if err := p.db.WithContext(ctx).
		Where("key LIKE ?", escapeLike(prefix)+"%").
		Order("seq ASC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	out := make([]Entry, 0, len(rows))
	for _, row := range rows {
		out = append(out, Entry{Key: row.Key, Value: row.Value, Version: row.Version})
	}
	return out, nil
}

func (p *PostgresStore) Ping(ctx context.Context) error {
	if err := p.db.WithContext(ctx).Exec("SELECT 1").Error; err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (p *PostgresStore) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func escapeLike(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r == '%' || r == '_' || r == '\\' {
			out = append(out, '\\')
		}
		out = append(out, r)
	}
	return string(out)
}
