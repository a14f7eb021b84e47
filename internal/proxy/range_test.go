package proxy

import "testing"

func TestParseRange(t *testing.T) {
	cases := []struct {
		header    string
		want      byteRange
		present   bool
		supported bool
	}{
		{"", byteRange{start: 0, end: -1}, false, true},
		{"bytes=0-99", byteRange{start: 0, end: 99}, true, true},
		{"bytes=100-", byteRange{start: 100, end: -1}, true, true},
		{"bytes=-500", byteRange{}, true, false},
		{"bytes=0-1,5-6", byteRange{}, true, false},
		{"items=0-1", byteRange{}, true, false},
		{"bytes=9-3", byteRange{}, true, false},
	}
	for _, tc := range cases {
		got, present, supported := parseRange(tc.header)
		if got != tc.want || present != tc.present || supported != tc.supported {
			t.Fatalf("parseRange(%q) = %+v %v %v", tc.header, got, present, supported)
		}
	}
}

func TestByteRangeLength(t *testing.T) {
	cases := []struct {
		r     byteRange
		total int64
		want  int64
	}{
		{byteRange{start: 0, end: 9}, -1, 10},
		{byteRange{start: 0, end: -1}, -1, -1},
		{byteRange{start: 0, end: -1}, 100, 100},
		{byteRange{start: 90, end: 199}, 100, 10},
		{byteRange{start: 100, end: -1}, 100, 0},
	}
	for _, tc := range cases {
		if got := tc.r.length(tc.total); got != tc.want {
			t.Fatalf("%+v.length(%d) = %d, want %d", tc.r, tc.total, got, tc.want)
		}
	}
}

func TestParseContentRange(t *testing.T) {
	start, total, ok := parseContentRange("bytes 10-19/100")
	if !ok || start != 10 || total != 100 {
		t.Fatalf("unexpected parse: %d %d %v", start, total, ok)
	}
	start, total, ok = parseContentRange("bytes 0-9/*")
	if !ok || start != 0 || total != -1 {
		t.Fatalf("unexpected parse for unknown total: %d %d %v", start, total, ok)
	}
	if _, _, ok := parseContentRange("bytes */100"); ok {
		t.Fatalf("unsatisfied range should not parse as a body range")
	}
}

func TestContentRangeHeader(t *testing.T) {
	if got := contentRange(2, 4, 10); got != "bytes 2-5/10" {
		t.Fatalf("unexpected header %s", got)
	}
	if got := contentRange(2, 4, -1); got != "bytes 2-5/*" {
		t.Fatalf("unexpected header %s", got)
	}
}

func TestMediaPath(t *testing.T) {
	cases := map[string]string{
		"/media/videos/a.mp4":     "/videos/a.mp4",
		"/media/../../etc/passwd": "/etc/passwd",
		"/media":                  "/",
		"/media/a//b.ts":          "/a/b.ts",
	}
	for in, want := range cases {
		if got := mediaPath(in); got != want {
			t.Fatalf("mediaPath(%q) = %q, want %q", in, got, want)
		}
	}
}
