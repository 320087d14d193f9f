// Package snapshot stores walked records in a SQLite database so a
// collection can be replayed later without the remote source.
package snapshot

import (
	"context"
	"fmt"

	"github.com/gofrs/flock"
	"github.com/pkg/errors"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/torosent/mechafeed/internal/record"
	"github.com/torosent/mechafeed/internal/source"
)

// ErrLocked is returned when another process holds the snapshot.
var ErrLocked = errors.New("snapshot is locked by another process")

// Entry is one stored record.
type Entry struct {
	gorm.Model
	Position uint64 `gorm:"uniqueIndex;not null"`
	Name     string
	Payload  datatypes.JSON
}

// Store is a snapshot database. It is also a source.Source over the stored
// records. A Store holds an exclusive lock on its file until Close.
type Store struct {
	db   *gorm.DB
	lock *flock.Flock
	path string
}

var _ source.Source = (*Store)(nil)

// Open opens or creates the snapshot at path.
func Open(path string) (*Store, error) {
	lock := flock.New(path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to lock snapshot %s", path)
	}
	if !locked {
		return nil, errors.Wrap(ErrLocked, path)
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		_ = lock.Unlock()
		return nil, errors.Wrap(err, "failed to open database connection")
	}
	if err := db.AutoMigrate(&Entry{}); err != nil {
		closeDB(db)
		_ = lock.Unlock()
		return nil, errors.Wrap(err, "failed to migrate snapshot schema")
	}

	return &Store{db: db, lock: lock, path: path}, nil
}

// Path returns the database file.
func (s *Store) Path() string { return s.path }

// withTransaction runs fn inside a transaction bound to ctx.
func (s *Store) withTransaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return s.db.WithContext(ctx).Transaction(fn)
}

// Save stores recs. Positions already present are left untouched.
func (s *Store) Save(ctx context.Context, recs ...record.Record) error {
	if len(recs) == 0 {
		return nil
	}
	entries := make([]Entry, 0, len(recs))
	for _, rec := range recs {
		payload, err := rec.Payload()
		if err != nil {
			return errors.Wrapf(err, "failed to encode record %d", rec.Position)
		}
		entries = append(entries, Entry{
			Position: rec.Position,
			Name:     rec.Name,
			Payload:  datatypes.JSON(payload),
		})
	}

	return s.withTransaction(ctx, func(tx *gorm.DB) error {
		q := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "position"}},
			DoNothing: true,
		}).Create(&entries)
		if err := q.Error; err != nil {
			return errors.Wrap(err, "failed to save records")
		}
		return nil
	})
}

// TotalCount returns the number of stored records.
func (s *Store) TotalCount(ctx context.Context) (uint64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&Entry{}).Count(&n).Error; err != nil {
		return 0, errors.Wrap(err, "failed to count records")
	}
	return uint64(n), nil
}

// RawDataAt returns the stored payload of position.
func (s *Store) RawDataAt(ctx context.Context, position uint64) (record.RawData, error) {
	var entry Entry
	err := s.db.WithContext(ctx).Where("position = ?", position).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return record.RawData{}, errors.Wrapf(source.ErrPositionOutOfRange, "position %d not in snapshot", position)
	}
	if err != nil {
		return record.RawData{}, errors.Wrapf(err, "failed to find record %d", position)
	}
	return record.RawData{Position: entry.Position, Payload: []byte(entry.Payload)}, nil
}

// Names returns the stored names ordered by position.
func (s *Store) Names(ctx context.Context) ([]string, error) {
	var names []string
	err := s.db.WithContext(ctx).Model(&Entry{}).Order("position").Pluck("name", &names).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list names")
	}
	return names, nil
}

// Close releases the database and the file lock.
func (s *Store) Close() error {
	var firstErr error
	if sqlDB, err := s.db.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			firstErr = fmt.Errorf("close database: %w", err)
		}
	}
	if err := s.lock.Unlock(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("release lock: %w", err)
	}
	return firstErr
}

func closeDB(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
