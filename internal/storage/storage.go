package storage

import (
	"context"
	"errors"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/go-logr/logr"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/medsense-ai/medsense/internal/config"
	apperrors "github.com/medsense-ai/medsense/internal/errors"
)

// Store wraps the gorm backend behind the queries the engine and tools need.
type Store struct {
	db  *gorm.DB
	log logr.Logger
}

// Open connects to the configured backend and migrates the schema.
func Open(cfg config.DatabaseConfig, log logr.Logger) (*Store, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	default:
		dialector = sqlite.Open(cfg.DSN)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, apperrors.New(apperrors.ErrCodeStorage, "failed to open database", err)
	}

	if err := db.AutoMigrate(
		&UserProfile{},
		&Diagnosis{},
		&UserCountry{},
		&UserLocation{},
		&FollowUpReminder{},
	); err != nil {
		return nil, apperrors.New(apperrors.ErrCodeStorage, "failed to migrate schema", err)
	}

	return &Store{db: db, log: log}, nil
}

// NewWithDB wraps an existing gorm handle, used by tests.
func NewWithDB(db *gorm.DB, log logr.Logger) *Store {
	return &Store{db: db, log: log}
}

// GetProfile returns the stored profile, or nil when the user is unknown.
func (s *Store) GetProfile(ctx context.Context, userID string) (*UserProfile, error) {
	var profile UserProfile
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.New(apperrors.ErrCodeStorage, "failed to load profile", err)
	}
	return &profile, nil
}

// SaveProfile upserts demographic data for a user. Zero age or empty gender
// leave the stored value untouched.
func (s *Store) SaveProfile(ctx context.Context, userID string, age int, gender, platform string) error {
	existing, err := s.GetProfile(ctx, userID)
	if err != nil {
		return err
	}
	profile := UserProfile{UserID: userID, Age: age, Gender: gender, Platform: platform}
	if existing != nil {
		if age == 0 {
			profile.Age = existing.Age
		}
		if gender == "" {
			profile.Gender = existing.Gender
		}
	}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"age", "gender", "platform", "updated_at"}),
	}).Create(&profile).Error
	if err != nil {
		return apperrors.New(apperrors.ErrCodeStorage, "failed to save profile", err)
	}
	return nil
}

// SaveDiagnosis appends a clinical record and returns its id.
func (s *Store) SaveDiagnosis(ctx context.Context, rec *Diagnosis) (uint, error) {
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return 0, apperrors.New(apperrors.ErrCodeStorage, "failed to save diagnosis", err)
	}
	return rec.ID, nil
}

// RecentDiagnoses lists the newest records for a user, newest first.
func (s *Store) RecentDiagnoses(ctx context.Context, userID string, limit int) ([]Diagnosis, error) {
	var records []Diagnosis
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, apperrors.New(apperrors.ErrCodeStorage, "failed to list diagnoses", err)
	}
	return records, nil
}

// SaveCountry upserts the user's country for outbreak monitoring.
func (s *Store) SaveCountry(ctx context.Context, userID, country, platform string) error {
	rec := UserCountry{UserID: userID, Country: country, Platform: platform}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"country", "platform", "updated_at"}),
	}).Create(&rec).Error
	if err != nil {
		return apperrors.New(apperrors.ErrCodeStorage, "failed to save country", err)
	}
	return nil
}

// GetCountry returns the stored country, or "" when unknown.
func (s *Store) GetCountry(ctx context.Context, userID string) (string, error) {
	var rec UserCountry
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", apperrors.New(apperrors.ErrCodeStorage, "failed to load country", err)
	}
	return rec.Country, nil
}

// SaveLocation appends a shared location.
func (s *Store) SaveLocation(ctx context.Context, loc *UserLocation) error {
	if err := s.db.WithContext(ctx).Create(loc).Error; err != nil {
		return apperrors.New(apperrors.ErrCodeStorage, "failed to save location", err)
	}
	return nil
}

// ScheduleFollowUp creates a pending follow-up reminder.
func (s *Store) ScheduleFollowUp(ctx context.Context, rem *FollowUpReminder) error {
	if err := s.db.WithContext(ctx).Create(rem).Error; err != nil {
		return apperrors.New(apperrors.ErrCodeStorage, "failed to schedule follow-up", err)
	}
	return nil
}

// DueFollowUps lists unsent reminders whose scheduled time has passed.
func (s *Store) DueFollowUps(ctx context.Context, now time.Time) ([]FollowUpReminder, error) {
	var due []FollowUpReminder
	err := s.db.WithContext(ctx).
		Where("sent = ? AND scheduled_at <= ?", false, now).
		Find(&due).Error
	if err != nil {
		return nil, apperrors.New(apperrors.ErrCodeStorage, "failed to list due follow-ups", err)
	}
	return due, nil
}

// MarkFollowUpSent flags a reminder as delivered.
func (s *Store) MarkFollowUpSent(ctx context.Context, id uint) error {
	err := s.db.WithContext(ctx).
		Model(&FollowUpReminder{}).
		Where("id = ?", id).
		Update("sent", true).Error
	if err != nil {
		return apperrors.New(apperrors.ErrCodeStorage, "failed to mark follow-up sent", err)
	}
	return nil
}

// AwaitingFollowUpResponse returns the newest sent reminder still waiting for
// the user's answer, or nil.
func (s *Store) AwaitingFollowUpResponse(ctx context.Context, userID string) (*FollowUpReminder, error) {
	var rem FollowUpReminder
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND sent = ? AND response_received = ?", userID, true, false).
		Order("scheduled_at DESC").
		First(&rem).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.New(apperrors.ErrCodeStorage, "failed to load follow-up", err)
	}
	return &rem, nil
}

// RecordFollowUpResponse stores the user's reply to a follow-up.
func (s *Store) RecordFollowUpResponse(ctx context.Context, id uint, response string) error {
	err := s.db.WithContext(ctx).
		Model(&FollowUpReminder{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"response_received": true, "user_response": response}).Error
	if err != nil {
		return apperrors.New(apperrors.ErrCodeStorage, "failed to record follow-up response", err)
	}
	return nil
}
