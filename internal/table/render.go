package table

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
)

// Render writes v as an aligned text table followed by a pager line.
func Render[T any](w io.Writer, v View[T], cols []Column[T]) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

	headers := make([]string, len(cols))
	for i, c := range cols {
		h := strings.ToUpper(c.title())
		if c.Field == v.SortField {
			if v.SortDirection == Desc {
				h += " v"
			} else {
				h += " ^"
			}
		}
		headers[i] = h
	}
	if _, err := fmt.Fprintln(tw, strings.Join(headers, "\t")); err != nil {
		return err
	}

	cells := make([]string, len(cols))
	for _, row := range v.Rows {
		for i, c := range cols {
			cells[i] = sanitize(c.Text(row))
		}
		if _, err := fmt.Fprintln(tw, strings.Join(cells, "\t")); err != nil {
			return err
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	_, err := fmt.Fprintln(w, Footer(v))
	return err
}

// Footer summarizes a view, e.g. "showing 1-10 of 42 · page 1 of 5 · [1] 2 … 5".
func Footer[T any](v View[T]) string {
	var b strings.Builder
	if v.TotalCount == 0 {
		b.WriteString("no rows")
	} else {
		start := (v.CurrentPage-1)*v.PageSize + 1
		fmt.Fprintf(&b, "showing %d-%d of %d", start, start+len(v.Rows)-1, v.TotalCount)
	}
	fmt.Fprintf(&b, " · page %d of %d", v.CurrentPage, v.TotalPages)
	if v.TotalPages > 1 {
		b.WriteString(" · ")
		b.WriteString(pagerText(Pages(v.CurrentPage, v.TotalPages, v.TotalPages > 7)))
	}
	return b.String()
}

func pagerText(links []PageLink) string {
	parts := make([]string, len(links))
	for i, l := range links {
		switch {
		case l.Gap:
			parts[i] = "…"
		case l.Current:
			parts[i] = fmt.Sprintf("[%d]", l.Number)
		default:
			parts[i] = fmt.Sprint(l.Number)
		}
	}
	return strings.Join(parts, " ")
}

func sanitize(s string) string {
	return strings.NewReplacer("\t", " ", "\n", " ", "\r", "").Replace(s)
}
