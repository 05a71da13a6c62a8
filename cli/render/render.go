// Package render provides output rendering for the tether CLI.
//
// Format selection:
//   - If stdout is a TTY, default to table
//   - Otherwise default to json
//   - --format always overrides the default
//
// --no-color affects table output only.
package render

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"reflect"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"
)

// Format represents an output format.
type Format string

// Supported formats.
const (
	FormatJSON  Format = "json"
	FormatTable Format = "table"
	FormatYAML  Format = "yaml"
)

var (
	keyStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#3B82F6"))
	headerStyle = lipgloss.NewStyle().Bold(true).Underline(true)
)

// ParseFormat parses a format string, returning an error for invalid formats.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "json":
		return FormatJSON, nil
	case "table":
		return FormatTable, nil
	case "yaml":
		return FormatYAML, nil
	case "":
		return "", nil // caller decides
	default:
		return "", fmt.Errorf("invalid format: %q (must be json, table, or yaml)", s)
	}
}

// Renderer handles output formatting.
type Renderer struct {
	format  Format
	noColor bool
	out     io.Writer
}

// NewRenderer creates a renderer over the app's writer from the CLI context.
// fallback is used when --format is unset (typically from the config file).
func NewRenderer(c *cli.Context, fallback string) (*Renderer, error) {
	name := c.String("format")
	if name == "" {
		name = fallback
	}
	format, err := ParseFormat(name)
	if err != nil {
		return nil, err
	}
	out := c.App.Writer
	if out == nil {
		out = os.Stdout
	}
	if format == "" {
		if f, ok := out.(*os.File); ok && isTTY(f) {
			format = FormatTable
		} else {
			format = FormatJSON
		}
	}
	return &Renderer{
		format:  format,
		noColor: c.Bool("no-color"),
		out:     out,
	}, nil
}

// NewRendererWithWriter creates a renderer with a custom writer.
func NewRendererWithWriter(format Format, noColor bool, out io.Writer) *Renderer {
	return &Renderer{
		format:  format,
		noColor: noColor,
		out:     out,
	}
}

// Format reports the selected format.
func (r *Renderer) Format() Format { return r.format }

// WithOutput returns a copy of r writing to w.
func (r *Renderer) WithOutput(w io.Writer) *Renderer {
	cp := *r
	cp.out = w
	return &cp
}

// Render outputs the data in the configured format.
func (r *Renderer) Render(data any) error {
	switch r.format {
	case FormatJSON:
		return r.renderJSON(data)
	case FormatTable:
		return r.renderTable(data)
	case FormatYAML:
		return r.renderYAML(data)
	default:
		return fmt.Errorf("unknown format: %s", r.format)
	}
}

// RenderStream outputs one record of a stream. JSON records are written
// one per line; YAML records are separated by document markers.
func (r *Renderer) RenderStream(data any) error {
	switch r.format {
	case FormatJSON:
		return json.NewEncoder(r.out).Encode(data)
	case FormatYAML:
		if _, err := io.WriteString(r.out, "---\n"); err != nil {
			return err
		}
		return r.renderYAML(data)
	default:
		if err := r.renderTable(data); err != nil {
			return err
		}
		_, err := io.WriteString(r.out, "\n")
		return err
	}
}

func (r *Renderer) renderJSON(data any) error {
	enc := json.NewEncoder(r.out)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

func (r *Renderer) renderYAML(data any) error {
	enc := yaml.NewEncoder(r.out)
	enc.SetIndent(2)
	if err := enc.Encode(data); err != nil {
		return err
	}
	return enc.Close()
}

func (r *Renderer) renderTable(data any) error {
	v := reflect.ValueOf(data)
	if v.Kind() == reflect.Slice {
		return r.renderSliceTable(v)
	}
	return r.renderKeyValues(v)
}

func (r *Renderer) renderSliceTable(v reflect.Value) error {
	if v.Len() == 0 {
		_, err := fmt.Fprintln(r.out, "(no results)")
		return err
	}

	first := indirect(v.Index(0))
	if first.Kind() != reflect.Struct && first.Kind() != reflect.Map {
		for i := 0; i < v.Len(); i++ {
			if _, err := fmt.Fprintln(r.out, formatValue(v.Index(i))); err != nil {
				return err
			}
		}
		return nil
	}

	headers := headersOf(first)
	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, strings.Join(headers, "\t"))
	for i := 0; i < v.Len(); i++ {
		fmt.Fprintln(w, strings.Join(rowOf(v.Index(i), headers), "\t"))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	// Style the header after alignment so escape codes do not skew widths.
	header, rest, _ := strings.Cut(buf.String(), "\n")
	if _, err := fmt.Fprintln(r.out, r.style(headerStyle, strings.TrimRight(header, " "))); err != nil {
		return err
	}
	_, err := io.WriteString(r.out, rest)
	return err
}

func (r *Renderer) renderKeyValues(v reflect.Value) error {
	v = indirect(v)

	var keys, vals []string
	switch v.Kind() {
	case reflect.Struct:
		t := v.Type()
		for i := 0; i < v.NumField(); i++ {
			f := t.Field(i)
			if !f.IsExported() {
				continue
			}
			name, omitEmpty := fieldName(f)
			if name == "-" || (omitEmpty && v.Field(i).IsZero()) {
				continue
			}
			keys = append(keys, name)
			vals = append(vals, formatValue(v.Field(i)))
		}
	case reflect.Map:
		for _, k := range sortedKeys(v) {
			keys = append(keys, k.String())
			vals = append(vals, formatValue(v.MapIndex(k.value)))
		}
	default:
		_, err := fmt.Fprintln(r.out, formatValue(v))
		return err
	}

	width := 0
	for _, k := range keys {
		width = max(width, len(k)+1)
	}
	for i, k := range keys {
		label := fmt.Sprintf("%-*s", width, k+":")
		if _, err := fmt.Fprintf(r.out, "%s  %s\n", r.style(keyStyle, label), vals[i]); err != nil {
			return err
		}
	}
	return nil
}

func (r *Renderer) style(s lipgloss.Style, text string) string {
	if r.noColor {
		return text
	}
	return s.Render(text)
}

type mapKey struct {
	value reflect.Value
	text  string
}

func (k mapKey) String() string { return k.text }

func sortedKeys(v reflect.Value) []mapKey {
	keys := make([]mapKey, 0, v.Len())
	for _, k := range v.MapKeys() {
		keys = append(keys, mapKey{value: k, text: fmt.Sprint(k.Interface())})
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].text < keys[j].text })
	return keys
}

func headersOf(v reflect.Value) []string {
	var headers []string
	switch v.Kind() {
	case reflect.Struct:
		t := v.Type()
		for i := 0; i < t.NumField(); i++ {
			if !t.Field(i).IsExported() {
				continue
			}
			if name, _ := fieldName(t.Field(i)); name != "-" {
				headers = append(headers, name)
			}
		}
	case reflect.Map:
		for _, k := range sortedKeys(v) {
			headers = append(headers, k.text)
		}
	}
	return headers
}

func rowOf(v reflect.Value, headers []string) []string {
	v = indirect(v)
	var values []string
	switch v.Kind() {
	case reflect.Struct:
		t := v.Type()
		for i := 0; i < v.NumField(); i++ {
			if !t.Field(i).IsExported() {
				continue
			}
			if name, _ := fieldName(t.Field(i)); name != "-" {
				values = append(values, formatValue(v.Field(i)))
			}
		}
	case reflect.Map:
		byText := make(map[string]reflect.Value, v.Len())
		for _, k := range sortedKeys(v) {
			byText[k.text] = v.MapIndex(k.value)
		}
		for _, h := range headers {
			values = append(values, formatValue(byText[h]))
		}
	}
	return values
}

// fieldName prefers the json tag name.
func fieldName(f reflect.StructField) (string, bool) {
	if tag := f.Tag.Get("json"); tag != "" {
		name, opts, _ := strings.Cut(tag, ",")
		omit := strings.Contains(opts, "omitempty")
		if name != "" {
			return name, omit
		}
		return strings.ToLower(f.Name), omit
	}
	return strings.ToLower(f.Name), false
}

func indirect(v reflect.Value) reflect.Value {
	for v.IsValid() && (v.Kind() == reflect.Ptr || v.Kind() == reflect.Interface) {
		if v.IsNil() {
			return reflect.Value{}
		}
		v = v.Elem()
	}
	return v
}

func formatValue(v reflect.Value) string {
	if v.IsValid() && v.CanInterface() {
		if s, ok := v.Interface().(fmt.Stringer); ok && !(v.Kind() == reflect.Ptr && v.IsNil()) {
			return s.String()
		}
	}
	v = indirect(v)
	if !v.IsValid() {
		return ""
	}

	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		if v.Len() == 0 {
			return "[]"
		}
		if v.Len() <= 4 && scalarElems(v) {
			parts := make([]string, v.Len())
			for i := range parts {
				parts[i] = formatValue(v.Index(i))
			}
			return "[" + strings.Join(parts, ", ") + "]"
		}
		return fmt.Sprintf("[%d items]", v.Len())
	case reflect.Map:
		if v.Len() == 0 {
			return "{}"
		}
		return fmt.Sprintf("{%d keys}", v.Len())
	case reflect.Struct:
		return "{...}"
	default:
		return fmt.Sprintf("%v", v.Interface())
	}
}

func scalarElems(v reflect.Value) bool {
	for i := 0; i < v.Len(); i++ {
		switch indirect(v.Index(i)).Kind() {
		case reflect.Slice, reflect.Array, reflect.Map, reflect.Struct:
			return false
		}
	}
	return true
}

func isTTY(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
