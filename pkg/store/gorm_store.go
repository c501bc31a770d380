package store

import (
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormBackend keeps each browser session as one jsonb row in Postgres.
type GormBackend struct {
	db *gorm.DB
}

// NewGormBackend opens the DB and runs auto-migrations.
func NewGormBackend(dsn string) (*GormBackend, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	return NewGormBackendWithDB(db)
}

// NewGormBackendWithDB migrates and wraps an existing handle.
func NewGormBackendWithDB(db *gorm.DB) (*GormBackend, error) {
	if err := db.AutoMigrate(&SessionModel{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &GormBackend{db: db}, nil
}

// Session returns storage bound to sessionID.
func (b *GormBackend) Session(sessionID string) (Storage, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, ErrSessionRequired
	}
	return &gormSession{db: b.db, id: sessionID}, nil
}

// Drop deletes the session row.
func (b *GormBackend) Drop(sessionID string) error {
	return b.db.Delete(&SessionModel{}, "id = ?", sessionID).Error
}

// PurgeBefore removes sessions untouched since cutoff.
func (b *GormBackend) PurgeBefore(cutoff time.Time) (int64, error) {
	res := b.db.Where("updated_at < ?", cutoff).Delete(&SessionModel{})
	return res.RowsAffected, res.Error
}

type gormSession struct {
	db *gorm.DB
	id string
}

func (s *gormSession) load(tx *gorm.DB) (SessionModel, bool, error) {
	var model SessionModel
	if err := tx.First(&model, "id = ?", s.id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return SessionModel{ID: s.id, Data: datatypes.JSONMap{}}, false, nil
		}
		return SessionModel{}, false, err
	}
	if model.Data == nil {
		model.Data = datatypes.JSONMap{}
	}
	return model, true, nil
}

func (s *gormSession) Get(key string) (string, bool, error) {
	model, found, err := s.load(s.db)
	if err != nil || !found {
		return "", false, err
	}
	raw, ok := model.Data[key]
	if !ok {
		return "", false, nil
	}
	val, ok := raw.(string)
	if !ok {
		return fmt.Sprint(raw), true, nil
	}
	return val, true, nil
}

func (s *gormSession) Set(key, value string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		model, _, err := s.load(tx.Clauses(clause.Locking{Strength: "UPDATE"}))
		if err != nil {
			return err
		}
		model.Data[key] = value
		model.UpdatedAt = time.Now().UTC()
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"data", "updated_at"}),
		}).Create(&model).Error
	})
}

func (s *gormSession) Remove(keys ...string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		model, found, err := s.load(tx.Clauses(clause.Locking{Strength: "UPDATE"}))
		if err != nil || !found {
			return err
		}
		for _, k := range keys {
			delete(model.Data, k)
		}
		return tx.Model(&SessionModel{}).
			Where("id = ?", s.id).
			Updates(map[string]any{
				"data":       model.Data,
				"updated_at": time.Now().UTC(),
			}).Error
	})
}
