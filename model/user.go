package model

import "time"

const (
	RoleStudent = "student"
	RoleAdmin   = "admin"
)

// User represents an account allowed to watch (student) or publish (admin).
type User struct {
	ID           int64     `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	Username     string    `gorm:"column:username;size:100;not null;uniqueIndex" json:"username"`
	PasswordHash string    `gorm:"column:password_hash;size:255;not null" json:"-"` // Not exposed in API responses
	Role         string    `gorm:"column:role;size:20;not null;default:student" json:"role"`
	CreatedAt    time.Time `gorm:"column:created_at" json:"createdAt"`
	UpdatedAt    time.Time `gorm:"column:updated_at" json:"updatedAt"`
}

func (User) TableName() string {
	return "users"
}
