package ux

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"

	"gopkg.in/yaml.v3"
)

// Output formats accepted by --format.
const (
	FormatText  = "text"
	FormatJSON  = "json"
	FormatJSONL = "jsonl"
	FormatYAML  = "yaml"
)

// Formats lists the accepted output formats.
var Formats = []string{FormatText, FormatJSON, FormatJSONL, FormatYAML}

// Formatter writes command output in one format.
type Formatter interface {
	Format(data any) error
}

// FormatterOptions configures a Formatter.
type FormatterOptions struct {
	Writer  io.Writer // defaults to os.Stdout
	NoColor bool
	Compact bool // JSON and YAML without indentation
}

// NewFormatter returns the formatter for format. An empty format is text.
func NewFormatter(format string, opts *FormatterOptions) (Formatter, error) {
	o := FormatterOptions{Writer: os.Stdout}
	if opts != nil {
		o = *opts
		if o.Writer == nil {
			o.Writer = os.Stdout
		}
	}

	switch format {
	case FormatJSON:
		return &JSONFormatter{opts: o}, nil
	case FormatJSONL:
		return &JSONLinesFormatter{opts: o}, nil
	case FormatYAML:
		return &YAMLFormatter{opts: o}, nil
	case FormatText, "":
		return &TextFormatter{opts: o}, nil
	default:
		return nil, fmt.Errorf("unknown format: %s (supported: %s)", format, strings.Join(Formats, ", "))
	}
}

// JSONFormatter writes one JSON document.
type JSONFormatter struct {
	opts FormatterOptions
}

func (f *JSONFormatter) Format(data any) error {
	enc := json.NewEncoder(f.opts.Writer)
	if !f.opts.Compact {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(unwrap(data))
}

// JSONLinesFormatter writes each element of a slice as one compact JSON
// line, for piping run history and events into line-oriented tools. Other
// values are written as a single line.
type JSONLinesFormatter struct {
	opts FormatterOptions
}

func (f *JSONLinesFormatter) Format(data any) error {
	data = unwrap(data)
	enc := json.NewEncoder(f.opts.Writer)

	rv := reflect.ValueOf(data)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return enc.Encode(data)
	}
	for i := 0; i < rv.Len(); i++ {
		if err := enc.Encode(rv.Index(i).Interface()); err != nil {
			return fmt.Errorf("encode line %d: %w", i+1, err)
		}
	}
	return nil
}

// YAMLFormatter writes one YAML document.
type YAMLFormatter struct {
	opts FormatterOptions
}

func (f *YAMLFormatter) Format(data any) error {
	enc := yaml.NewEncoder(f.opts.Writer)
	if !f.opts.Compact {
		enc.SetIndent(2)
	}
	if err := enc.Encode(unwrap(data)); err != nil {
		_ = enc.Close()
		return err
	}
	return enc.Close()
}

// TextFormatter renders views with Styles. Strings and fmt.Stringers are
// printed as is; anything else is an error.
type TextFormatter struct {
	opts FormatterOptions
}

func (f *TextFormatter) Format(data any) error {
	var text string
	switch v := data.(type) {
	case Renderer:
		text = strings.TrimRight(v.Render(NewStyles(f.opts.NoColor)), "\n")
	case string:
		text = v
	case fmt.Stringer:
		text = v.String()
	default:
		return fmt.Errorf("cannot render %T as text; use --format json or yaml", data)
	}
	_, err := fmt.Fprintln(f.opts.Writer, text)
	return err
}

// Renderer is implemented by values with a styled text form.
type Renderer interface {
	Render(s Styles) string
}

// View pairs machine-readable data with its text rendering. JSON and YAML
// formatters encode Data; the text formatter renders the view.
type View interface {
	Renderer
	Data() any
}

func unwrap(data any) any {
	if v, ok := data.(View); ok {
		return v.Data()
	}
	return data
}
