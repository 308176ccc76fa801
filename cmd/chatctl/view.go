package main

import (
	"fmt"
	"io"

	"github.com/lalith-99/storefront/internal/table"
	"github.com/spf13/cobra"
)

// viewFlags are the table view controls shared by history and table.
type viewFlags struct {
	search   string
	sort     string
	desc     bool
	page     int
	pageSize int
}

func (f *viewFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.search, "search", "s", "", "case-insensitive filter over every column")
	cmd.Flags().StringVar(&f.sort, "sort", "", "column field to sort by")
	cmd.Flags().BoolVar(&f.desc, "desc", false, "sort descending")
	cmd.Flags().IntVarP(&f.page, "page", "p", 1, "page to show, clamped to the available pages")
	cmd.Flags().IntVar(&f.pageSize, "page-size", 0, "rows per page, one of the allowed sizes (default: the first)")
}

func applyView[T any](t *table.Table[T], f viewFlags) error {
	if f.pageSize != 0 {
		if err := t.SetPageSize(f.pageSize); err != nil {
			return err
		}
	}
	t.SetSearchTerm(f.search)
	if f.sort != "" {
		if !hasField(t.Columns(), f.sort) {
			return fmt.Errorf("unknown sort field %q", f.sort)
		}
		dir := table.Asc
		if f.desc {
			dir = table.Desc
		}
		t.SortBy(f.sort, dir)
	}
	t.SetPage(f.page)
	return nil
}

func hasField[T any](cols []table.Column[T], field string) bool {
	for _, c := range cols {
		if c.Field == field {
			return true
		}
	}
	return false
}

func printView[T any](w io.Writer, t *table.Table[T]) error {
	return table.Render(w, t.Derive(), t.Columns())
}
