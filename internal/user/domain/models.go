package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fakturo/internal/actor"
)

// User is a billing customer or operator.
type User struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	Name      string       `gorm:"type:text;not null" json:"name"`
	Email     string       `gorm:"type:text;not null;uniqueIndex" json:"email"`
	Role      actor.Role   `gorm:"type:text;not null" json:"role"`
	Company   string       `gorm:"type:text" json:"company,omitempty"`
	Address   string       `gorm:"type:text" json:"address,omitempty"`
	VatID     string       `gorm:"type:text" json:"vat_id,omitempty"`
	CreatedAt time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time    `gorm:"not null" json:"updated_at"`
}

func (User) TableName() string { return "users" }

// DisplayName prefers the company name on documents.
func (u User) DisplayName() string {
	if u.Company != "" {
		return u.Company
	}
	return u.Name
}
