package domain

import (
	"errors"
	"testing"
)

func TestParseKeyRoundTrip(t *testing.T) {
	tests := []CalendarDate{
		{Year: 1492, Month: 10, Day: 12},
		{Year: -40, Month: 3, Day: 1},
		{Year: 1372, Month: 7, Day: 1, Intercalary: "Midsummer"},
		{Year: 1372, Month: 7, Day: 2, Intercalary: "Mid/Summer"},
		{Year: -3, Month: 12, Day: 1, Intercalary: "Feast of the Moon"},
	}
	for _, want := range tests {
		t.Run(want.Key(), func(t *testing.T) {
			got, err := ParseKey(want.Key())
			if err != nil {
				t.Fatalf("ParseKey: %v", err)
			}
			if !got.SameDay(want) {
				t.Errorf("ParseKey(%q) = %+v", want.Key(), got)
			}
		})
	}
}

func TestParseKeyRejects(t *testing.T) {
	for _, key := range []string{"", "1492", "1492-10", "a-b-c", "1372/7/!/1", "1372/!Midsummer/1", "1372/7/!Midsummer", "1372/7/!Midsummer/x"} {
		if _, err := ParseKey(key); !errors.Is(err, ErrInvalid) {
			t.Errorf("ParseKey(%q) = %v", key, err)
		}
	}
}
