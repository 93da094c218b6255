// Package domain defines the persistence models of the demo application.
// These types are mapped with GORM and back the user endpoints that exercise
// the error dispatch pipeline.
package domain

import (
	"time"

	"gorm.io/gorm"
)

// User is a registered account.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - Name: display name, normalized by the service layer.
//   - Email: lower-cased address; unique, soft-deleted rows included.
//   - CreatedAt / UpdatedAt: timestamps managed by GORM.
//   - DeletedAt: soft deletion marker.
type User struct {
	ID        string         `json:"id"         gorm:"type:char(36);primaryKey"`
	Name      string         `json:"name"       gorm:"type:varchar(120);not null"`
	Email     string         `json:"email"      gorm:"type:varchar(254);not null;uniqueIndex:idx_users_email"`
	CreatedAt time.Time      `json:"created_at" gorm:"index"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-"          gorm:"index"`
}

// TableName returns the database table name for User.
func (User) TableName() string { return "users" }
