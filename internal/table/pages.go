package table

// PageLink is one entry of a pager. Gap entries stand for skipped pages
// and carry no number.
type PageLink struct {
	Number  int
	Current bool
	Gap     bool
}

// Pages lists the links of a pager for current out of total pages. The
// full pager lists every page. The compact pager keeps the neighbours of
// the current page plus the first and last page, with gaps in between.
func Pages(current, total int, compact bool) []PageLink {
	total = max(total, 1)
	current = clamp(current, 1, total)

	if !compact {
		links := make([]PageLink, 0, total)
		for n := 1; n <= total; n++ {
			links = append(links, PageLink{Number: n, Current: n == current})
		}
		return links
	}

	var links []PageLink
	if current > 2 {
		links = append(links, PageLink{Number: 1})
	}
	if current > 3 {
		links = append(links, PageLink{Gap: true})
	}
	if current > 1 {
		links = append(links, PageLink{Number: current - 1})
	}
	links = append(links, PageLink{Number: current, Current: true})
	if current < total {
		links = append(links, PageLink{Number: current + 1})
	}
	if current < total-2 {
		links = append(links, PageLink{Gap: true})
	}
	if current < total-1 {
		links = append(links, PageLink{Number: total})
	}
	return links
}
