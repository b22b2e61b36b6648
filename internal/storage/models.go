package storage

import "time"

// UserProfile holds the demographic data collected during profile setup.
type UserProfile struct {
	ID        uint   `gorm:"primaryKey"`
	UserID    string `gorm:"uniqueIndex;not null"`
	Age       int
	Gender    string
	Platform  string `gorm:"not null"`
	UpdatedAt time.Time
}

// Diagnosis is one append-only clinical record. Never mutated once written.
type Diagnosis struct {
	ID         uint   `gorm:"primaryKey"`
	UserID     string `gorm:"index;not null"`
	Platform   string `gorm:"not null"`
	Symptoms   string `gorm:"not null"`
	Conclusion string `gorm:"not null"`
	Confidence float64
	CreatedAt  time.Time
}

// UserCountry records the user's last known country for outbreak monitoring.
type UserCountry struct {
	ID        uint   `gorm:"primaryKey"`
	UserID    string `gorm:"uniqueIndex;not null"`
	Country   string `gorm:"not null"`
	Platform  string `gorm:"not null"`
	UpdatedAt time.Time
}

// UserLocation records shared coordinates for facility lookups.
type UserLocation struct {
	ID        uint   `gorm:"primaryKey"`
	UserID    string `gorm:"index;not null"`
	Latitude  float64
	Longitude float64
	Address   string
	Platform  string `gorm:"not null"`
	CreatedAt time.Time
}

// FollowUpReminder schedules a post-diagnosis check-in.
type FollowUpReminder struct {
	ID               uint   `gorm:"primaryKey"`
	UserID           string `gorm:"index;not null"`
	Platform         string `gorm:"not null"`
	Symptoms         string
	DiagnosisID      uint `gorm:"not null"`
	ScheduledAt      time.Time
	Sent             bool `gorm:"default:false"`
	ResponseReceived bool `gorm:"default:false"`
	UserResponse     string
	CreatedAt        time.Time
}
