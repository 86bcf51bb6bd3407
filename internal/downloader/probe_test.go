package downloader

import "testing"

func TestParseProbeContainer(t *testing.T) {
	cases := map[string]string{
		`{"format":{"format_name":"mov,mp4,m4a,3gp,3g2,mj2"}}`: "m4a",
		`{"format":{"format_name":"matroska,webm"}}`:           "webm",
		`{"format":{"format_name":"mp3"}}`:                     "mp3",
	}
	for raw, want := range cases {
		got, err := parseProbeContainer([]byte(raw))
		if err != nil {
			t.Fatalf("parseProbeContainer(%s): %v", raw, err)
		}
		if got != want {
			t.Fatalf("parseProbeContainer(%s) = %q, want %q", raw, got, want)
		}
	}
	if _, err := parseProbeContainer([]byte(`{"format":{}}`)); err == nil {
		t.Fatalf("expected error for empty format name")
	}
}
