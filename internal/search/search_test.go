package search_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/tazhate/worldcal/internal/calendar"
	"github.com/tazhate/worldcal/internal/calendar/calendartest"
	"github.com/tazhate/worldcal/internal/domain"
	"github.com/tazhate/worldcal/internal/index"
	"github.com/tazhate/worldcal/internal/search"
)

type note struct {
	id, title, category, body string
	tags                      []string
	visible                   bool
	day                       int64
}

func build(t *testing.T, e *calendar.Engine, notes ...note) *index.Index {
	t.Helper()
	ix := index.New()
	for _, n := range notes {
		d := e.DateFromDayNumber(n.day)
		err := ix.Upsert(index.Entry{
			ID:            n.id,
			Title:         n.title,
			Category:      n.category,
			Tags:          n.tags,
			PlayerVisible: n.visible,
			Dates:         []index.DateRef{{Key: d.Key(), Day: n.day, Date: d}},
			Text:          index.Normalize(n.title + " " + index.PlainText(n.body)),
		})
		if err != nil {
			t.Fatalf("Upsert %s: %v", n.id, err)
		}
	}
	return ix
}

func ids(r search.Result) []string {
	out := make([]string, len(r.Items))
	for i, h := range r.Items {
		out[i] = h.ID
	}
	return out
}

func TestCategoryLimitAndOrder(t *testing.T) {
	e := calendartest.TwoMonth(t)
	var notes []note
	for i := 0; i < 80; i++ {
		cat := "event"
		if i%4 == 0 {
			cat = "lore"
		}
		notes = append(notes, note{id: fmt.Sprintf("n%02d", i), title: fmt.Sprintf("Note %d", i), category: cat, day: int64(200 - i)})
	}
	ix := build(t, e, notes...)
	eng := search.New(ix, e)

	res, err := eng.Search(search.Criteria{Categories: []string{"event"}, Limit: 50})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(res.Items) > 50 {
		t.Fatalf("got %d items, limit 50", len(res.Items))
	}
	if res.TotalCount != 60 {
		t.Errorf("TotalCount = %d, want 60", res.TotalCount)
	}
	for i, h := range res.Items {
		entry, _ := ix.Get(h.ID)
		if entry.Category != "event" {
			t.Errorf("%s has category %q", h.ID, entry.Category)
		}
		if i > 0 && res.Items[i-1].Day > h.Day {
			t.Errorf("items out of date order at %d", i)
		}
	}

	desc, err := eng.Search(search.Criteria{Categories: []string{"event"}, Order: search.Desc, Limit: 5})
	if err != nil {
		t.Fatalf("Search desc: %v", err)
	}
	for i := 1; i < len(desc.Items); i++ {
		if desc.Items[i-1].Day < desc.Items[i].Day {
			t.Errorf("desc items out of order at %d", i)
		}
	}
}

func TestLimitBounds(t *testing.T) {
	e := calendartest.TwoMonth(t)
	eng := search.New(index.New(), e)

	if _, err := eng.Search(search.Criteria{Limit: search.MaxLimit + 1}); !errors.Is(err, domain.ErrResourceExceeded) {
		t.Errorf("limit above max: err = %v", err)
	}
	if _, err := eng.Search(search.Criteria{Limit: -1}); !errors.Is(err, domain.ErrRange) {
		t.Errorf("negative limit: err = %v", err)
	}
	res, err := eng.Search(search.Criteria{})
	if err != nil {
		t.Fatalf("empty search: %v", err)
	}
	if res.Items == nil || res.TotalCount != 0 {
		t.Errorf("empty result = %+v", res)
	}
}

func TestFilters(t *testing.T) {
	e := calendartest.TwoMonth(t)
	ix := build(t, e,
		note{id: "a", title: "Siege of Waterdeep", category: "event", tags: []string{"war", "city"}, visible: true, day: 10,
			body: "The **dragons** came at night."},
		note{id: "b", title: "Harvest festival", category: "event", tags: []string{"city"}, day: 20},
		note{id: "c", title: "Dragon lore", category: "lore", tags: []string{"secret"}, day: 30,
			body: "Old *dragon* cults."},
		note{id: "d", title: "Café meeting", category: "session", tags: []string{"war"}, visible: true, day: 40},
	)
	eng := search.New(ix, e)

	from := e.DateFromDayNumber(15)
	to := e.DateFromDayNumber(35)
	tests := []struct {
		name string
		c    search.Criteria
		want []string
	}{
		{"text", search.Criteria{Query: "dragon"}, []string{"a", "c"}},
		{"text all terms", search.Criteria{Query: "dragon cults"}, []string{"c"}},
		{"diacritics folded", search.Criteria{Query: "CAFE"}, []string{"d"}},
		{"tags any of", search.Criteria{Tags: []string{"war", "secret"}}, []string{"a", "c", "d"}},
		{"exclude tags", search.Criteria{Tags: []string{"city"}, ExcludeTags: []string{"war"}}, []string{"b"}},
		{"visible", search.Criteria{Visibility: search.VisibilityVisible}, []string{"a", "d"}},
		{"hidden", search.Criteria{Visibility: search.VisibilityHidden}, []string{"b", "c"}},
		{"range", search.Criteria{From: &from, To: &to}, []string{"b", "c"}},
		{"open range", search.Criteria{From: &to}, []string{"d"}},
		{"range and category", search.Criteria{From: &from, Categories: []string{"event"}}, []string{"b"}},
		{"title sort", search.Criteria{SortBy: search.SortByTitle}, []string{"d", "c", "b", "a"}},
		{"offset", search.Criteria{Offset: 3}, []string{"d"}},
		{"offset past end", search.Criteria{Offset: 10}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := eng.Search(tt.c)
			if err != nil {
				t.Fatalf("Search: %v", err)
			}
			got := ids(res)
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("got %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestInvalidCriteria(t *testing.T) {
	e := calendartest.TwoMonth(t)
	eng := search.New(index.New(), e)
	from := e.DateFromDayNumber(10)
	to := e.DateFromDayNumber(5)

	for _, c := range []search.Criteria{
		{Visibility: "secret"},
		{SortBy: "weight"},
		{Order: "sideways"},
	} {
		if _, err := eng.Search(c); !errors.Is(err, domain.ErrInvalid) {
			t.Errorf("Search(%+v) err = %v, want invalid", c, err)
		}
	}
	if _, err := eng.Search(search.Criteria{From: &from, To: &to}); !errors.Is(err, domain.ErrRange) {
		t.Errorf("reversed range err = %v", err)
	}
}
