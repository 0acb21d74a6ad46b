// Package search answers structured note queries against the index.
package search

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/tazhate/worldcal/internal/domain"
	"github.com/tazhate/worldcal/internal/index"
)

const (
	DefaultLimit = 50
	MaxLimit     = 500
)

type Visibility string

const (
	VisibilityAny     Visibility = "any"
	VisibilityVisible Visibility = "visible"
	VisibilityHidden  Visibility = "hidden"
)

type SortKey string

const (
	SortByDate  SortKey = "date"
	SortByTitle SortKey = "title"
)

type Order string

const (
	Asc  Order = "asc"
	Desc Order = "desc"
)

// Criteria selects notes. Zero values mean "no restriction"; Categories and
// Tags match any of their members.
type Criteria struct {
	Query       string               `json:"query,omitempty"`
	From        *domain.CalendarDate `json:"from,omitempty"`
	To          *domain.CalendarDate `json:"to,omitempty"`
	Categories  []string             `json:"categories,omitempty"`
	Tags        []string             `json:"tags,omitempty"`
	ExcludeTags []string             `json:"exclude_tags,omitempty"`
	Visibility  Visibility           `json:"visibility,omitempty"`
	SortBy      SortKey              `json:"sort_by,omitempty"`
	Order       Order                `json:"order,omitempty"`
	Limit       int                  `json:"limit,omitempty"`
	Offset      int                  `json:"offset,omitempty"`
}

// Hit is one matching note. Date is the first matching date inside the
// requested range, or the note's first indexed date without a range.
type Hit struct {
	ID    string              `json:"id"`
	Title string              `json:"title"`
	Date  domain.CalendarDate `json:"date"`
	Day   int64               `json:"-"`
}

type Result struct {
	Items      []Hit         `json:"items"`
	TotalCount int           `json:"total_count"`
	Elapsed    time.Duration `json:"elapsed"`
}

// DayResolver turns calendar dates into absolute day numbers.
type DayResolver interface {
	DayNumber(d domain.CalendarDate) (int64, error)
}

type Engine struct {
	ix       *index.Index
	days     DayResolver
	maxLimit int
}

type Option func(*Engine)

// WithMaxLimit lowers or raises the largest accepted page size.
func WithMaxLimit(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxLimit = n
		}
	}
}

func New(ix *index.Index, days DayResolver, opts ...Option) *Engine {
	e := &Engine{ix: ix, days: days, maxLimit: MaxLimit}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Normalize fills defaults and validates c.
func (e *Engine) Normalize(c Criteria) (Criteria, error) {
	const op = "search"
	if c.Limit == 0 {
		c.Limit = DefaultLimit
	}
	if c.Limit < 0 || c.Offset < 0 {
		return c, domain.RangeError(op, "limit and offset must not be negative")
	}
	if c.Limit > e.maxLimit {
		return c, domain.ResourceExceeded(op, fmt.Sprintf("limit %d exceeds maximum %d", c.Limit, e.maxLimit))
	}
	switch c.Visibility {
	case "":
		c.Visibility = VisibilityAny
	case VisibilityAny, VisibilityVisible, VisibilityHidden:
	default:
		return c, domain.Invalid(op, fmt.Sprintf("unknown visibility %q", c.Visibility))
	}
	switch c.SortBy {
	case "":
		c.SortBy = SortByDate
	case SortByDate, SortByTitle:
	default:
		return c, domain.Invalid(op, fmt.Sprintf("unknown sort key %q", c.SortBy))
	}
	switch c.Order {
	case "":
		c.Order = Asc
	case Asc, Desc:
	default:
		return c, domain.Invalid(op, fmt.Sprintf("unknown order %q", c.Order))
	}
	return c, nil
}

// Search runs c against one consistent view of the index.
func (e *Engine) Search(c Criteria) (Result, error) {
	started := time.Now()
	c, err := e.Normalize(c)
	if err != nil {
		return Result{}, err
	}
	from, to, ranged, err := e.dayRange(c)
	if err != nil {
		return Result{}, err
	}
	terms := index.Terms(c.Query)

	var hits []Hit
	e.ix.View(func(v index.View) {
		hits = collect(v, c, from, to, ranged, terms)
	})
	sortHits(hits, c)

	res := Result{TotalCount: len(hits)}
	if c.Offset < len(hits) {
		end := c.Offset + c.Limit
		if end > len(hits) {
			end = len(hits)
		}
		res.Items = hits[c.Offset:end]
	}
	if res.Items == nil {
		res.Items = []Hit{}
	}
	res.Elapsed = time.Since(started)
	return res, nil
}

func (e *Engine) dayRange(c Criteria) (int64, int64, bool, error) {
	if c.From == nil && c.To == nil {
		return 0, 0, false, nil
	}
	from, to := int64(minDay), int64(maxDay)
	if c.From != nil {
		d, err := e.days.DayNumber(*c.From)
		if err != nil {
			return 0, 0, false, err
		}
		from = d
	}
	if c.To != nil {
		d, err := e.days.DayNumber(*c.To)
		if err != nil {
			return 0, 0, false, err
		}
		to = d
	}
	if to < from {
		return 0, 0, false, domain.RangeError("search", "range end precedes range start")
	}
	return from, to, true, nil
}

const (
	minDay = -1 << 60
	maxDay = 1 << 60
)

// collect narrows candidates cheapest-first: date range, then category and
// tag sets intersected smallest first, then per-entry filters, then text.
func collect(v index.View, c Criteria, from, to int64, ranged bool, terms []string) []Hit {
	var sets []index.Set
	if ranged {
		sets = append(sets, index.DayRange(v, from, to))
	}
	if len(c.Categories) > 0 {
		sets = append(sets, union(v.ByCategory, c.Categories))
	}
	if len(c.Tags) > 0 {
		sets = append(sets, union(v.ByTag, c.Tags))
	}

	var candidates []*index.Entry
	if len(sets) == 0 {
		candidates = v.Entries()
	} else {
		sort.Slice(sets, func(i, j int) bool { return len(sets[i]) < len(sets[j]) })
		for id := range sets[0] {
			keep := true
			for _, s := range sets[1:] {
				if !s.Has(id) {
					keep = false
					break
				}
			}
			if !keep {
				continue
			}
			if entry, ok := v.Entry(id); ok {
				candidates = append(candidates, entry)
			}
		}
	}

	excluded := make(index.Set, len(c.ExcludeTags))
	for _, t := range c.ExcludeTags {
		excluded[index.Key(t)] = struct{}{}
	}

	hits := make([]Hit, 0, len(candidates))
	for _, entry := range candidates {
		if !visible(entry, c.Visibility) || hasAny(entry.Tags, excluded) || !matches(entry.Text, terms) {
			continue
		}
		var date index.DateRef
		if ranged {
			in := entry.DatesInRange(from, to)
			if len(in) == 0 {
				continue
			}
			date = in[0]
		} else if first, ok := entry.FirstDate(); ok {
			date = first
		}
		hits = append(hits, Hit{ID: entry.ID, Title: entry.Title, Date: date.Date, Day: date.Day})
	}
	return hits
}

func union(lookup func(string) index.Set, keys []string) index.Set {
	out := make(index.Set)
	for _, k := range keys {
		for id := range lookup(k) {
			out[id] = struct{}{}
		}
	}
	return out
}

func visible(e *index.Entry, v Visibility) bool {
	switch v {
	case VisibilityVisible:
		return e.PlayerVisible
	case VisibilityHidden:
		return !e.PlayerVisible
	}
	return true
}

func hasAny(tags []string, set index.Set) bool {
	if len(set) == 0 {
		return false
	}
	for _, t := range tags {
		if set.Has(index.Key(t)) {
			return true
		}
	}
	return false
}

func matches(text string, terms []string) bool {
	for _, t := range terms {
		if !strings.Contains(text, t) {
			return false
		}
	}
	return true
}

func sortHits(hits []Hit, c Criteria) {
	titles := make(map[string]string, len(hits))
	if c.SortBy == SortByTitle {
		for _, h := range hits {
			titles[h.ID] = index.Normalize(h.Title)
		}
	}
	compare := func(a, b Hit) int {
		if c.SortBy == SortByTitle {
			if x := strings.Compare(titles[a.ID], titles[b.ID]); x != 0 {
				return x
			}
		}
		switch {
		case a.Day < b.Day:
			return -1
		case a.Day > b.Day:
			return 1
		}
		return strings.Compare(a.ID, b.ID)
	}
	sort.SliceStable(hits, func(i, j int) bool {
		x := compare(hits[i], hits[j])
		if c.Order == Desc {
			return x > 0
		}
		return x < 0
	})
}
