package domain

import (
	"context"
	"errors"
	"io"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fakturo/internal/actor"
	"github.com/smallbiznis/fakturo/pkg/db/pagination"
	"gorm.io/gorm"
)

// Backend stores blobs under opaque keys.
type Backend interface {
	Name() string
	Put(ctx context.Context, key string, data []byte, mime string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

type Service interface {
	// Store writes the blob and creates the row with tx. A nil tx uses the default handle.
	Store(ctx context.Context, tx *gorm.DB, in FileInput) (*File, error)
	// Read returns the blob for internal callers such as attachments.
	Read(ctx context.Context, id snowflake.ID) (*File, []byte, error)
	Open(ctx context.Context, a actor.Actor, id snowflake.ID) (*File, io.ReadCloser, error)
	List(ctx context.Context, a actor.Actor, grid pagination.GridRequest) (*pagination.GridResponse[File], error)
}

type FileInput struct {
	Name   string
	Data   []byte
	Mime   string
	UserID snowflake.ID
	Folder string
}

var (
	ErrNotFound     = errors.New("file_not_found")
	ErrInvalidName  = errors.New("invalid_file_name")
	ErrEmptyFile    = errors.New("empty_file")
	ErrInvalidOwner = errors.New("invalid_file_owner")
)
