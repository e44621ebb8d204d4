package option

import (
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// QueryOption mutates a query before it is executed.
type QueryOption interface {
	Apply(db *gorm.DB) *gorm.DB
}

type optionFunc func(db *gorm.DB) *gorm.DB

func (f optionFunc) Apply(db *gorm.DB) *gorm.DB { return f(db) }

type Direction string

const (
	ASC  Direction = "asc"
	DESC Direction = "desc"
)

// WithSortBy orders by a single column. Unknown directions fall back to ascending.
func WithSortBy(column string, dir Direction) QueryOption {
	return optionFunc(func(db *gorm.DB) *gorm.DB {
		return db.Order(clause.OrderByColumn{
			Column: clause.Column{Name: column},
			Desc:   strings.EqualFold(string(dir), string(DESC)),
		})
	})
}

// WithCondition adds a raw where fragment with bound arguments.
func WithCondition(query string, args ...any) QueryOption {
	return optionFunc(func(db *gorm.DB) *gorm.DB {
		return db.Where(query, args...)
	})
}

// WithIn filters a column against a value set.
func WithIn[V any](column string, values []V) QueryOption {
	return optionFunc(func(db *gorm.DB) *gorm.DB {
		return db.Where(clause.IN{Column: clause.Column{Name: column}, Values: toAny(values)})
	})
}

// WithSearch matches term as a case-insensitive substring in any of the columns.
func WithSearch(term string, columns ...string) QueryOption {
	return optionFunc(func(db *gorm.DB) *gorm.DB {
		term = strings.TrimSpace(term)
		if term == "" || len(columns) == 0 {
			return db
		}
		like := "%" + strings.ToLower(term) + "%"
		parts := make([]string, 0, len(columns))
		args := make([]any, 0, len(columns))
		for _, col := range columns {
			parts = append(parts, fmt.Sprintf("LOWER(CAST(%s AS TEXT)) LIKE ?", col))
			args = append(args, like)
		}
		return db.Where("("+strings.Join(parts, " OR ")+")", args...)
	})
}

func WithOffset(offset, limit int) QueryOption {
	return optionFunc(func(db *gorm.DB) *gorm.DB {
		if offset > 0 {
			db = db.Offset(offset)
		}
		if limit > 0 {
			db = db.Limit(limit)
		}
		return db
	})
}

func WithPreload(relations ...string) QueryOption {
	return optionFunc(func(db *gorm.DB) *gorm.DB {
		for _, rel := range relations {
			db = db.Preload(rel)
		}
		return db
	})
}

// ForUpdate locks the selected rows until the surrounding transaction ends.
func ForUpdate() QueryOption {
	return optionFunc(func(db *gorm.DB) *gorm.DB {
		return db.Clauses(clause.Locking{Strength: "UPDATE"})
	})
}

func toAny[V any](values []V) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
