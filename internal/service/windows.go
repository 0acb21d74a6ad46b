package service

import "sort"

// maxWindows caps the disjoint ranges kept for one series.
const maxWindows = 32

// dayRange is an inclusive range of absolute day numbers.
type dayRange struct {
	from, to int64
}

// windowSet is a sorted list of disjoint, non-adjacent day ranges.
type windowSet []dayRange

// missing returns the parts of r not covered by w.
func (w windowSet) missing(r dayRange) []dayRange {
	var out []dayRange
	cur := r.from
	for _, c := range w {
		if c.to < cur {
			continue
		}
		if c.from > r.to {
			break
		}
		if c.from > cur {
			out = append(out, dayRange{cur, c.from - 1})
		}
		cur = c.to + 1
		if cur > r.to {
			return out
		}
	}
	if cur <= r.to {
		out = append(out, dayRange{cur, r.to})
	}
	return out
}

// add returns w with r merged in.
func (w windowSet) add(r dayRange) windowSet {
	all := append(append(windowSet(nil), w...), r)
	sort.Slice(all, func(i, j int) bool { return all[i].from < all[j].from })
	out := all[:1]
	for _, c := range all[1:] {
		last := &out[len(out)-1]
		if c.from <= last.to+1 {
			if c.to > last.to {
				last.to = c.to
			}
			continue
		}
		out = append(out, c)
	}
	return out
}

// days counts the days covered by w.
func (w windowSet) days() int64 {
	var n int64
	for _, c := range w {
		n += c.to - c.from + 1
	}
	return n
}

// overBudget reports whether adding missing would take w past budget days
// or past maxWindows ranges.
func (w windowSet) overBudget(missing []dayRange, budget int64) bool {
	n := w.days()
	for _, r := range missing {
		n += r.to - r.from + 1
	}
	return n > budget || len(w)+len(missing) > maxWindows
}

// chunks splits r into consecutive ranges of at most size days.
func (r dayRange) chunks(size int64) []dayRange {
	if size < 1 {
		size = 1
	}
	var out []dayRange
	for from := r.from; from <= r.to; from += size {
		to := from + size - 1
		if to > r.to {
			to = r.to
		}
		out = append(out, dayRange{from, to})
	}
	return out
}
