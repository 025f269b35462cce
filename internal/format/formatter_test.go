package format

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

var verdicts = []Verdict{
	{Value: "203.0.113.9", Kind: "ip", Blocked: true},
	{Value: "good.example", Kind: "domain"},
	{Value: "x", Kind: "domain", Error: "core: cache state unavailable"},
}

func TestParseFormat(t *testing.T) {
	tests := map[string]OutputFormat{
		"":       FormatText,
		"TEXT":   FormatText,
		"json":   FormatJSON,
		"ndjson": FormatJSONL,
		"csv":    FormatCSV,
	}
	for in, want := range tests {
		got, err := ParseFormat(in)
		if err != nil || got != want {
			t.Errorf("ParseFormat(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ParseFormat("parquet"); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestText(t *testing.T) {
	var buf bytes.Buffer
	if err := (TextFormatter{}).Write(&buf, verdicts); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(lines))
	}
	if lines[0] != "203.0.113.9\tip\tBLOCKED" {
		t.Errorf("unexpected first line %q", lines[0])
	}
	if !strings.HasSuffix(lines[2], "error: core: cache state unavailable") {
		t.Errorf("unexpected error line %q", lines[2])
	}
}

func TestJSONAndJSONL(t *testing.T) {
	var buf bytes.Buffer
	if err := (JSONFormatter{}).Write(&buf, verdicts); err != nil {
		t.Fatal(err)
	}
	var got []Verdict
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 || !got[0].Blocked {
		t.Errorf("unexpected decode: %+v", got)
	}

	buf.Reset()
	if err := (JSONFormatter{}).Write(&buf, nil); err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(buf.String()) != "[]" {
		t.Errorf("expected empty array, got %q", buf.String())
	}

	buf.Reset()
	if err := (JSONLFormatter{}).Write(&buf, verdicts); err != nil {
		t.Fatal(err)
	}
	if n := strings.Count(buf.String(), "\n"); n != 3 {
		t.Errorf("expected 3 json lines, got %d", n)
	}
}

func TestCSV(t *testing.T) {
	var buf bytes.Buffer
	if err := (CSVFormatter{}).Write(&buf, verdicts); err != nil {
		t.Fatal(err)
	}
	want := "value,kind,blocked,error\n203.0.113.9,ip,true,\ngood.example,domain,false,\nx,domain,false,core: cache state unavailable\n"
	if buf.String() != want {
		t.Errorf("unexpected csv:\n%s", buf.String())
	}
}
