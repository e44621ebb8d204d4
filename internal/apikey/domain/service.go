package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fakturo/internal/actor"
)

type Service interface {
	List(ctx context.Context, a actor.Actor, userID snowflake.ID) ([]Response, error)
	Create(ctx context.Context, a actor.Actor, req CreateRequest) (*SecretResponse, error)
	Revoke(ctx context.Context, a actor.Actor, keyID string) error
	// Resolve maps a raw bearer token to the actor it authenticates.
	Resolve(ctx context.Context, raw string) (actor.Actor, error)
}

type CreateRequest struct {
	UserID snowflake.ID `json:"user_id" binding:"required"`
	Name   string       `json:"name" binding:"required"`
}

type Response struct {
	KeyID      string     `json:"key_id"`
	Name       string     `json:"name"`
	Role       actor.Role `json:"role"`
	IsActive   bool       `json:"is_active"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at"`
}

type SecretResponse struct {
	KeyID  string `json:"key_id"`
	APIKey string `json:"api_key"`
}

var (
	ErrInvalidName  = errors.New("invalid_name")
	ErrInvalidKeyID = errors.New("invalid_key_id")
	ErrInvalidKey   = errors.New("invalid_api_key")
	ErrNotFound     = errors.New("not_found")
)
