package render

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Format
		wantErr bool
	}{
		{"json lowercase", "json", FormatJSON, false},
		{"json uppercase", "JSON", FormatJSON, false},
		{"table", "table", FormatTable, false},
		{"yaml", "yaml", FormatYAML, false},
		{"empty", "", "", false},
		{"invalid", "xml", "", true},
		{"invalid csv", "csv", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseFormat(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseFormat(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
				return
			}
			if got != tt.want {
				t.Errorf("ParseFormat(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseFormat_InvalidErrorMessage(t *testing.T) {
	_, err := ParseFormat("xml")
	if err == nil {
		t.Fatal("expected error for invalid format")
	}
	if !strings.Contains(err.Error(), "json, table, or yaml") {
		t.Errorf("error message should mention valid formats, got: %v", err)
	}
}

func TestRenderer_JSON(t *testing.T) {
	var buf bytes.Buffer
	r := NewRendererWithWriter(FormatJSON, false, &buf)

	if err := r.Render(map[string]any{"tag": "num", "value": 42}); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	want := "{\n  \"tag\": \"num\",\n  \"value\": 42\n}\n"
	if got := buf.String(); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestRenderer_YAML(t *testing.T) {
	var buf bytes.Buffer
	r := NewRendererWithWriter(FormatYAML, false, &buf)

	if err := r.Render(map[string]string{"key": "value"}); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if got := buf.String(); got != "key: value\n" {
		t.Errorf("got %q", got)
	}
}

type callRow struct {
	Path    string        `json:"path"`
	Tag     string        `json:"tag"`
	FFID    int64         `json:"ffid,omitempty"`
	Elapsed time.Duration `json:"elapsed"`
	Args    []any         `json:"args"`
	hidden  string
}

func TestRenderer_Table_Struct(t *testing.T) {
	var buf bytes.Buffer
	r := NewRendererWithWriter(FormatTable, true, &buf)

	data := callRow{Path: "fs:readFileSync", Tag: "str", Elapsed: 1500 * time.Millisecond, Args: []any{"a", 1}}
	if err := r.Render(data); err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	want := "path:     fs:readFileSync\n" +
		"tag:      str\n" +
		"elapsed:  1.5s\n" +
		"args:     [a, 1]\n"
	if got := buf.String(); got != want {
		t.Errorf("got:\n%s\nwant:\n%s", got, want)
	}
}

func TestRenderer_Table_MapSorted(t *testing.T) {
	var buf bytes.Buffer
	r := NewRendererWithWriter(FormatTable, true, &buf)

	data := map[string]int{"timeouts": 1, "frees_sent": 3, "requests": 9}
	if err := r.Render(data); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	want := "frees_sent:  3\nrequests:    9\ntimeouts:    1\n"
	if got := buf.String(); got != want {
		t.Errorf("got:\n%s\nwant:\n%s", got, want)
	}
}

func TestRenderer_Table_Slice(t *testing.T) {
	var buf bytes.Buffer
	r := NewRendererWithWriter(FormatTable, true, &buf)

	type Item struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	data := []Item{{ID: "1", Name: "first"}, {ID: "22", Name: "second"}}
	if err := r.Render(data); err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d: %q", len(lines), buf.String())
	}
	if lines[0] != "id  name" {
		t.Errorf("header: got %q", lines[0])
	}
	if lines[1] != "1   first" || lines[2] != "22  second" {
		t.Errorf("rows misaligned: %q", lines[1:])
	}
}

func TestRenderer_Table_ScalarSlice(t *testing.T) {
	var buf bytes.Buffer
	r := NewRendererWithWriter(FormatTable, true, &buf)

	if err := r.Render([]any{"a", 2, true}); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if got := buf.String(); got != "a\n2\ntrue\n" {
		t.Errorf("got %q", got)
	}
}

func TestRenderer_Table_EmptySlice(t *testing.T) {
	var buf bytes.Buffer
	r := NewRendererWithWriter(FormatTable, false, &buf)

	if err := r.Render([]string{}); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if !strings.Contains(buf.String(), "(no results)") {
		t.Errorf("empty slice should show '(no results)', got: %s", buf.String())
	}
}

func TestRenderer_NoColor_DoesNotAffectJSON(t *testing.T) {
	var bufColor, bufNoColor bytes.Buffer
	data := map[string]string{"key": "value"}

	if err := NewRendererWithWriter(FormatJSON, false, &bufColor).Render(data); err != nil {
		t.Fatalf("Render with color failed: %v", err)
	}
	if err := NewRendererWithWriter(FormatJSON, true, &bufNoColor).Render(data); err != nil {
		t.Fatalf("Render without color failed: %v", err)
	}
	if bufColor.String() != bufNoColor.String() {
		t.Errorf("--no-color should not affect JSON output")
	}
}

func TestRenderer_NoColor_PlainKeys(t *testing.T) {
	var buf bytes.Buffer
	if err := NewRendererWithWriter(FormatTable, true, &buf).Render(map[string]int{"a": 1}); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if strings.Contains(buf.String(), "\x1b[") {
		t.Errorf("--no-color output contains escape codes: %q", buf.String())
	}
}

func TestRenderer_Stream(t *testing.T) {
	tests := []struct {
		format Format
		want   string
	}{
		{FormatJSON, "{\"n\":1}\n{\"n\":2}\n"},
		{FormatYAML, "---\nn: 1\n---\nn: 2\n"},
		{FormatTable, "n:  1\n\nn:  2\n\n"},
	}
	for _, tt := range tests {
		t.Run(string(tt.format), func(t *testing.T) {
			var buf bytes.Buffer
			r := NewRendererWithWriter(tt.format, true, &buf)
			for i := 1; i <= 2; i++ {
				if err := r.RenderStream(map[string]int{"n": i}); err != nil {
					t.Fatalf("RenderStream: %v", err)
				}
			}
			if got := buf.String(); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRenderer_WithOutput(t *testing.T) {
	var a, b bytes.Buffer
	r := NewRendererWithWriter(FormatJSON, false, &a)
	if err := r.WithOutput(&b).Render(1); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if a.Len() != 0 || b.String() != "1\n" {
		t.Errorf("WithOutput did not redirect: a=%q b=%q", a.String(), b.String())
	}
}
