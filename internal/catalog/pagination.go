package catalog

// Ellipsis marks a collapsed gap in the page button row.
const Ellipsis = -1

// pageWindowThreshold is the page count above which the button row collapses
// to first/last/current±1 with ellipsis gaps.
const pageWindowThreshold = 7

// PageButtons returns the page numbers to render, with Ellipsis entries
// where runs of pages are collapsed.
func PageButtons(totalPages, current int) []int {
	if totalPages <= 0 {
		return nil
	}
	if current < 1 {
		current = 1
	}
	if current > totalPages {
		current = totalPages
	}
	if totalPages <= pageWindowThreshold {
		out := make([]int, 0, totalPages)
		for i := 1; i <= totalPages; i++ {
			out = append(out, i)
		}
		return out
	}

	keep := func(page int) bool {
		if page == 1 || page == totalPages {
			return true
		}
		return page >= current-1 && page <= current+1
	}
	var out []int
	inGap := false
	for page := 1; page <= totalPages; page++ {
		if keep(page) {
			out = append(out, page)
			inGap = false
			continue
		}
		if !inGap {
			out = append(out, Ellipsis)
			inGap = true
		}
	}
	return out
}
