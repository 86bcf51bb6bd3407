package mirror

import (
	"encoding/json"
	"testing"
)

func TestFormatDuration(t *testing.T) {
	cases := map[int]string{
		0:    "0:00",
		5:    "0:05",
		59:   "0:59",
		60:   "1:00",
		213:  "3:33",
		3600: "60:00",
		-4:   "0:00",
	}
	for in, want := range cases {
		if got := FormatDuration(in); got != want {
			t.Fatalf("FormatDuration(%d) = %q, want %q", in, got, want)
		}
	}
}

func TestTimestampRoundTrip(t *testing.T) {
	for _, seconds := range []int{0, 1, 59, 60, 61, 599, 3599, 7322} {
		got, err := ParseTimestamp(FormatDuration(seconds))
		if err != nil {
			t.Fatalf("ParseTimestamp(FormatDuration(%d)) error: %v", seconds, err)
		}
		if got != seconds {
			t.Fatalf("round trip of %d gave %d", seconds, got)
		}
	}
}

func TestParseTimestampRejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "3", "3:5", "a:00", "1:60", "-1:00"} {
		if _, err := ParseTimestamp(in); err == nil {
			t.Fatalf("ParseTimestamp(%q) expected error", in)
		}
	}
}

func TestNewSummaryDropsIncompleteEntries(t *testing.T) {
	if _, ok := newSummary("", "title", 10, "", "a"); ok {
		t.Fatalf("entry without id was kept")
	}
	if _, ok := newSummary("abc", "  ", 10, "", "a"); ok {
		t.Fatalf("entry without title was kept")
	}
	s, ok := newSummary("abc", "Song", 65, "", "Artist")
	if !ok {
		t.Fatalf("complete entry was dropped")
	}
	if s.Timestamp != "1:05" || s.Duration != 65 {
		t.Fatalf("unexpected duration fields: %+v", s)
	}
	if s.Thumbnail != ThumbnailFor("abc") {
		t.Fatalf("expected fallback thumbnail, got %q", s.Thumbnail)
	}
}

func TestFlexIntAcceptsStringsAndNumbers(t *testing.T) {
	var v struct {
		A flexInt `json:"a"`
		B flexInt `json:"b"`
		C flexInt `json:"c"`
		D flexInt `json:"d"`
	}
	if err := json.Unmarshal([]byte(`{"a":128000,"b":"64000","c":1.5e3,"d":null}`), &v); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if v.A != 128000 || v.B != 64000 || v.C != 1500 || v.D != 0 {
		t.Fatalf("unexpected values: %+v", v)
	}
}
