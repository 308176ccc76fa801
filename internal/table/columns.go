package table

import "slices"

// Record is a loosely typed row, such as one object of a JSON array.
type Record = map[string]any

// MapColumns builds columns that read fields straight out of a Record.
func MapColumns(fields ...string) []Column[Record] {
	cols := make([]Column[Record], 0, len(fields))
	for _, f := range fields {
		cols = append(cols, Column[Record]{
			Field:  f,
			Header: f,
			Value:  func(r Record) any { return r[f] },
		})
	}
	return cols
}

// Fields returns the keys of the first record in sorted order, followed by
// keys that only later records carry, record by record.
func Fields(rows []Record) []string {
	if len(rows) == 0 {
		return nil
	}
	fields := make([]string, 0, len(rows[0]))
	for k := range rows[0] {
		fields = append(fields, k)
	}
	slices.Sort(fields)

	for _, r := range rows[1:] {
		var extra []string
		for k := range r {
			if !slices.Contains(fields, k) && !slices.Contains(extra, k) {
				extra = append(extra, k)
			}
		}
		slices.Sort(extra)
		fields = append(fields, extra...)
	}
	return fields
}
