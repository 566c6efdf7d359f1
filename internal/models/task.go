package models

import "time"

// Task is a to-do item owned by a user. Only ownership matters to the auth
// subsystem, which removes a user's tasks when the account is deleted.
type Task struct {
	BaseModel

	UserID      string     `gorm:"size:36;index;not null" json:"user_id"`
	Title       string     `gorm:"size:100;not null" json:"title"`
	Description string     `gorm:"size:500" json:"description,omitempty"`
	Priority    string     `gorm:"size:16;not null;default:'medium'" json:"priority"`
	Completed   bool       `gorm:"not null;default:false" json:"completed"`
	DueDate     *time.Time `json:"due_date,omitempty"`
}
