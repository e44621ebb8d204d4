package pagination

import (
	"strings"

	"github.com/smallbiznis/fakturo/pkg/db/option"
)

const (
	DefaultLength = 25
	MaxLength     = 250
)

// GridRequest is the server-side table contract used by list endpoints.
type GridRequest struct {
	Draw    int          `json:"draw"`
	Start   int          `json:"start" binding:"gte=0"`
	Length  int          `json:"length" binding:"gte=-1,lte=250"`
	Search  GridSearch   `json:"search"`
	Order   []GridOrder  `json:"order"`
	Columns []GridColumn `json:"columns"`
}

type GridSearch struct {
	Value string `json:"value"`
}

type GridOrder struct {
	Column int    `json:"column"`
	Dir    string `json:"dir"`
}

type GridColumn struct {
	Data       string `json:"data"`
	Searchable bool   `json:"searchable"`
	Orderable  bool   `json:"orderable"`
}

// GridResponse mirrors GridRequest.Draw so clients can discard stale replies.
type GridResponse[T any] struct {
	Draw            int   `json:"draw"`
	RecordsTotal    int64 `json:"recordsTotal"`
	RecordsFiltered int64 `json:"recordsFiltered"`
	Data            []T   `json:"data"`
}

// Columns maps client column names to database columns. Only mapped columns
// can be searched or ordered.
type Columns map[string]string

// SearchOptions returns the filter options that define recordsFiltered.
func (r GridRequest) SearchOptions(allowed Columns) []option.QueryOption {
	term := strings.TrimSpace(r.Search.Value)
	if term == "" {
		return nil
	}

	cols := make([]string, 0, len(allowed))
	if len(r.Columns) == 0 {
		for _, col := range allowed {
			cols = append(cols, col)
		}
	} else {
		for _, c := range r.Columns {
			if col, ok := allowed[c.Data]; ok && c.Searchable {
				cols = append(cols, col)
			}
		}
	}
	if len(cols) == 0 {
		return nil
	}
	return []option.QueryOption{option.WithSearch(term, cols...)}
}

// PageOptions returns ordering and window options. A negative length means all rows.
func (r GridRequest) PageOptions(allowed Columns, fallback string) []option.QueryOption {
	opts := make([]option.QueryOption, 0, len(r.Order)+2)
	for _, o := range r.Order {
		if o.Column < 0 || o.Column >= len(r.Columns) {
			continue
		}
		c := r.Columns[o.Column]
		col, ok := allowed[c.Data]
		if !ok || !c.Orderable {
			continue
		}
		opts = append(opts, option.WithSortBy(col, option.Direction(strings.ToLower(o.Dir))))
	}
	if len(opts) == 0 && fallback != "" {
		opts = append(opts, option.WithSortBy(fallback, option.DESC))
	}

	length := r.Length
	switch {
	case length < 0:
		length = 0
	case length == 0:
		length = DefaultLength
	case length > MaxLength:
		length = MaxLength
	}
	opts = append(opts, option.WithOffset(r.Start, length))
	return opts
}

// Map converts the rows of a grid response, keeping its counters.
func Map[T, U any](in *GridResponse[T], fn func(T) U) *GridResponse[U] {
	out := &GridResponse[U]{
		Draw:            in.Draw,
		RecordsTotal:    in.RecordsTotal,
		RecordsFiltered: in.RecordsFiltered,
		Data:            make([]U, len(in.Data)),
	}
	for i, row := range in.Data {
		out.Data[i] = fn(row)
	}
	return out
}
