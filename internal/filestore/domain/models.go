package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// File is the metadata row of a stored blob.
type File struct {
	ID         snowflake.ID `gorm:"primaryKey" json:"id"`
	UserID     snowflake.ID `gorm:"not null;index" json:"user_id"`
	Name       string       `gorm:"type:text;not null" json:"name"`
	Mime       string       `gorm:"type:text;not null" json:"mime"`
	Size       int64        `gorm:"not null" json:"size"`
	Folder     string       `gorm:"type:text;not null;index" json:"folder"`
	Backend    string       `gorm:"type:text;not null" json:"backend"`
	StorageKey string       `gorm:"type:text;not null;uniqueIndex" json:"-"`
	CreatedAt  time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt  time.Time    `gorm:"not null" json:"updated_at"`
}

func (File) TableName() string { return "files" }

const (
	FolderInvoices  = "invoices"
	FolderReminders = "reminders"
)
