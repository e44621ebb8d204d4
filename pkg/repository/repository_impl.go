package repository

import (
	"context"
	"errors"

	"github.com/smallbiznis/fakturo/pkg/db/option"
	"github.com/smallbiznis/fakturo/pkg/db/pagination"
	"gorm.io/gorm"
)

// gridFallbackOrder applies when the request orders by nothing we know.
const gridFallbackOrder = "created_at"

type store[T any] struct {
	db *gorm.DB
}

func ProvideStore[T any](db *gorm.DB) Repository[T] {
	return &store[T]{db: db}
}

func (r *store[T]) WithTrx(tx *gorm.DB) Repository[T] {
	if tx == nil {
		return r
	}
	return &store[T]{db: tx}
}

func (r *store[T]) scoped(ctx context.Context, filter *T, opts []option.QueryOption) *gorm.DB {
	q := r.db.WithContext(ctx).Model(new(T))
	if filter != nil {
		q = q.Where(filter)
	}
	for _, opt := range opts {
		q = opt.Apply(q)
	}
	return q
}

func (r *store[T]) Find(ctx context.Context, query *T, opts ...option.QueryOption) ([]*T, error) {
	var rows []*T
	if err := r.scoped(ctx, query, opts).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *store[T]) FindOne(ctx context.Context, query *T, opts ...option.QueryOption) (*T, error) {
	row := new(T)
	err := r.scoped(ctx, query, opts).First(row).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, nil
	case err != nil:
		return nil, err
	}
	return row, nil
}

func (r *store[T]) Count(ctx context.Context, query *T, opts ...option.QueryOption) (int64, error) {
	var n int64
	err := r.scoped(ctx, query, opts).Count(&n).Error
	return n, err
}

func (r *store[T]) Grid(ctx context.Context, query *T, req pagination.GridRequest, cols pagination.Columns, load ...option.QueryOption) (*pagination.GridResponse[T], error) {
	total, err := r.Count(ctx, query)
	if err != nil {
		return nil, err
	}

	search := req.SearchOptions(cols)
	filtered := total
	if len(search) > 0 {
		if filtered, err = r.Count(ctx, query, search...); err != nil {
			return nil, err
		}
	}

	opts := make([]option.QueryOption, 0, len(search)+len(load)+4)
	opts = append(opts, search...)
	opts = append(opts, req.PageOptions(cols, gridFallbackOrder)...)
	opts = append(opts, load...)
	rows, err := r.Find(ctx, query, opts...)
	if err != nil {
		return nil, err
	}

	data := make([]T, len(rows))
	for i, row := range rows {
		data[i] = *row
	}
	return &pagination.GridResponse[T]{
		Draw:            req.Draw,
		RecordsTotal:    total,
		RecordsFiltered: filtered,
		Data:            data,
	}, nil
}

func (r *store[T]) Create(ctx context.Context, resource *T) error {
	return r.db.WithContext(ctx).Create(resource).Error
}

func (r *store[T]) BatchCreate(ctx context.Context, resources []*T) error {
	if len(resources) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(resources).Error
}

func (r *store[T]) Save(ctx context.Context, resource *T) error {
	return r.db.WithContext(ctx).Save(resource).Error
}

func (r *store[T]) Update(ctx context.Context, resourceID any, fields map[string]any) error {
	return r.db.WithContext(ctx).Model(new(T)).Where("id = ?", resourceID).Updates(fields).Error
}

func (r *store[T]) Delete(ctx context.Context, resourceID any) error {
	return r.db.WithContext(ctx).Where("id = ?", resourceID).Delete(new(T)).Error
}
