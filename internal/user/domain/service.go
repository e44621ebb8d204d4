package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fakturo/internal/actor"
)

type Service interface {
	Create(ctx context.Context, a actor.Actor, req CreateRequest) (*User, error)
	Get(ctx context.Context, a actor.Actor, id snowflake.ID) (*User, error)
}

type CreateRequest struct {
	Name    string     `json:"name" binding:"required"`
	Email   string     `json:"email" binding:"required,email"`
	Role    actor.Role `json:"role" binding:"omitempty,oneof=admin customer"`
	Company string     `json:"company"`
	Address string     `json:"address"`
	VatID   string     `json:"vat_id"`
}

var (
	ErrNotFound     = errors.New("user_not_found")
	ErrInvalidName  = errors.New("invalid_name")
	ErrInvalidEmail = errors.New("invalid_email")
	ErrEmailTaken   = errors.New("email_taken")
)
