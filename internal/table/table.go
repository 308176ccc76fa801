// Package table derives filtered, sorted and paginated views over an
// in-memory row collection.
package table

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

type Direction int

const (
	Asc Direction = iota
	Desc
)

func (d Direction) String() string {
	if d == Desc {
		return "desc"
	}
	return "asc"
}

var ErrPageSizeNotAllowed = errors.New("page size not allowed")

// DefaultPageSizes is used when New is given no page size options.
var DefaultPageSizes = []int{5, 10, 25, 50}

// Column describes one field of T.
//
// Value returns the raw value used for searching and sorting. Render, when
// set, replaces the default text formatting of Value for display only.
type Column[T any] struct {
	Field      string
	Header     string
	Unsortable bool
	Value      func(T) any
	Render     func(T) string
}

// Text is the display text of the column for row.
func (c Column[T]) Text(row T) string {
	if c.Render != nil {
		return c.Render(row)
	}
	return FormatValue(c.Value(row))
}

func (c Column[T]) title() string {
	if c.Header != "" {
		return c.Header
	}
	return c.Field
}

// View is one derived page.
type View[T any] struct {
	Rows        []T
	TotalCount  int
	TotalPages  int
	CurrentPage int
	PageSize    int

	SearchTerm    string
	SortField     string
	SortDirection Direction
}

// Table holds the view state for one row collection. It is owned by a
// single caller and is not safe for concurrent use.
type Table[T any] struct {
	rows      []T
	cols      []Column[T]
	pageSizes []int

	search    string
	sortField string
	sortDir   Direction
	page      int
	pageSize  int
}

// New returns a table on page 1 with the first page size option selected.
// It panics if a column has no Field or no Value.
func New[T any](rows []T, cols []Column[T], pageSizes []int) *Table[T] {
	mustValidate(cols)
	if len(pageSizes) == 0 {
		pageSizes = DefaultPageSizes
	}
	t := &Table[T]{
		rows:      rows,
		cols:      slices.Clone(cols),
		pageSizes: slices.Clone(pageSizes),
	}
	t.Reset()
	return t
}

func mustValidate[T any](cols []Column[T]) {
	for i, c := range cols {
		if c.Field == "" {
			panic(fmt.Sprintf("table: column %d has no field", i))
		}
		if c.Value == nil {
			panic(fmt.Sprintf("table: column %q has no value accessor", c.Field))
		}
	}
}

// Reset returns search, sort and page to their defaults.
func (t *Table[T]) Reset() {
	t.search = ""
	t.sortField = ""
	t.sortDir = Asc
	t.page = 1
	t.pageSize = t.pageSizes[0]
}

// SetRows replaces the rows without touching view state.
func (t *Table[T]) SetRows(rows []T) {
	t.rows = rows
}

// SetColumns replaces the columns without touching view state.
func (t *Table[T]) SetColumns(cols []Column[T]) {
	mustValidate(cols)
	t.cols = slices.Clone(cols)
}

func (t *Table[T]) Columns() []Column[T] {
	return slices.Clone(t.cols)
}

// SetPageSizeOptions replaces the allowed page sizes. A different set
// resets the view.
func (t *Table[T]) SetPageSizeOptions(sizes []int) {
	if len(sizes) == 0 {
		sizes = DefaultPageSizes
	}
	if slices.Equal(sizes, t.pageSizes) {
		return
	}
	t.pageSizes = slices.Clone(sizes)
	t.Reset()
}

func (t *Table[T]) PageSizeOptions() []int {
	return slices.Clone(t.pageSizes)
}

// SetSearchTerm changes the filter. A different term moves to page 1.
func (t *Table[T]) SetSearchTerm(term string) {
	if term == t.search {
		return
	}
	t.search = term
	t.page = 1
}

// ToggleSort sorts by field ascending, or flips the direction when field
// is already the sort field. Unknown and unsortable fields are ignored.
func (t *Table[T]) ToggleSort(field string) {
	c, ok := t.column(field)
	if !ok || c.Unsortable {
		return
	}
	if t.sortField == field {
		if t.sortDir == Asc {
			t.sortDir = Desc
		} else {
			t.sortDir = Asc
		}
		return
	}
	t.sortField = field
	t.sortDir = Asc
}

// SortBy sets the sort explicitly, with the same rules as ToggleSort.
func (t *Table[T]) SortBy(field string, dir Direction) {
	c, ok := t.column(field)
	if !ok || c.Unsortable {
		return
	}
	t.sortField = field
	t.sortDir = dir
}

func (t *Table[T]) SortState() (string, Direction) {
	return t.sortField, t.sortDir
}

// SetPage moves to page n, clamped to the pages of the current result.
func (t *Table[T]) SetPage(n int) {
	t.page = clamp(n, 1, pageCount(len(t.filtered()), t.pageSize))
}

func (t *Table[T]) NextPage() { t.SetPage(t.page + 1) }
func (t *Table[T]) PrevPage() { t.SetPage(t.page - 1) }

// SetPageSize selects one of the allowed page sizes and moves to page 1.
func (t *Table[T]) SetPageSize(n int) error {
	if !slices.Contains(t.pageSizes, n) {
		return fmt.Errorf("%w: %d (allowed %v)", ErrPageSizeNotAllowed, n, t.pageSizes)
	}
	t.pageSize = n
	t.page = 1
	return nil
}

// Derive computes the current page. It never modifies the rows or the
// table state.
func (t *Table[T]) Derive() View[T] {
	matched := t.filtered()
	t.sort(matched)

	total := pageCount(len(matched), t.pageSize)
	current := clamp(t.page, 1, total)

	start := min((current-1)*t.pageSize, len(matched))
	end := min(start+t.pageSize, len(matched))

	return View[T]{
		Rows:          slices.Clone(matched[start:end]),
		TotalCount:    len(matched),
		TotalPages:    total,
		CurrentPage:   current,
		PageSize:      t.pageSize,
		SearchTerm:    t.search,
		SortField:     t.sortField,
		SortDirection: t.sortDir,
	}
}

func (t *Table[T]) filtered() []T {
	if t.search == "" {
		return slices.Clone(t.rows)
	}
	term := strings.ToLower(t.search)
	out := make([]T, 0, len(t.rows))
	for _, row := range t.rows {
		if t.matches(row, term) {
			out = append(out, row)
		}
	}
	return out
}

func (t *Table[T]) matches(row T, term string) bool {
	for _, c := range t.cols {
		k, v := classify(c.Value(row))
		if k == rankNil {
			continue
		}
		if strings.Contains(strings.ToLower(fmt.Sprint(v.Interface())), term) {
			return true
		}
	}
	return false
}

func (t *Table[T]) sort(rows []T) {
	if t.sortField == "" {
		return
	}
	c, ok := t.column(t.sortField)
	if !ok {
		return
	}
	slices.SortStableFunc(rows, func(a, b T) int {
		r := Compare(c.Value(a), c.Value(b))
		if t.sortDir == Desc {
			return -r
		}
		return r
	})
}

func (t *Table[T]) column(field string) (Column[T], bool) {
	for _, c := range t.cols {
		if c.Field == field {
			return c, true
		}
	}
	return Column[T]{}, false
}

func pageCount(n, size int) int {
	if n == 0 || size <= 0 {
		return 1
	}
	return (n + size - 1) / size
}

func clamp(n, lo, hi int) int {
	return max(lo, min(n, hi))
}
