package repository

import (
	"context"

	"github.com/smallbiznis/fakturo/pkg/db/option"
	"github.com/smallbiznis/fakturo/pkg/db/pagination"
	"gorm.io/gorm"
)

// Repository is a generic GORM-backed store. A nil result from FindOne means
// no row matched.
type Repository[T any] interface {
	WithTrx(tx *gorm.DB) Repository[T]
	Find(ctx context.Context, query *T, opts ...option.QueryOption) ([]*T, error)
	FindOne(ctx context.Context, query *T, opts ...option.QueryOption) (*T, error)
	Create(ctx context.Context, resource *T) error
	Save(ctx context.Context, resource *T) error
	Update(ctx context.Context, resourceID any, fields map[string]any) error
	Delete(ctx context.Context, resourceID any) error
	Count(ctx context.Context, query *T, opts ...option.QueryOption) (int64, error)
	BatchCreate(ctx context.Context, resources []*T) error

	// Grid answers a server-side table request. query scopes every count,
	// load options only apply to the returned page.
	Grid(ctx context.Context, query *T, req pagination.GridRequest, cols pagination.Columns, load ...option.QueryOption) (*pagination.GridResponse[T], error)
}
